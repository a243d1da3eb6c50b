package outbox

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/beep-industries/communities/pkg/models"
)

func TestPayloadValidation(t *testing.T) {
	serverID := uuid.New()
	otherID := uuid.New()

	tests := []struct {
		name    string
		payload Payload
		wantErr bool
	}{
		{"server create complete", ServerCreatePayload{ServerID: serverID, OwnerID: otherID, Name: "x"}, false},
		{"server create without name", ServerCreatePayload{ServerID: serverID, OwnerID: otherID}, false},
		{"server create missing owner", ServerCreatePayload{ServerID: serverID}, true},
		{"server delete", ServerDeletePayload{ServerID: serverID}, false},
		{"server delete zero id", ServerDeletePayload{}, true},
		{"channel create", ChannelCreatePayload{ChannelID: otherID, ServerID: serverID, Kind: models.ChannelKindText}, false},
		{"channel create bad kind", ChannelCreatePayload{ChannelID: otherID, ServerID: serverID, Kind: "video"}, true},
		{"channel create missing server", ChannelCreatePayload{ChannelID: otherID}, true},
		{"channel delete", ChannelDeletePayload{ChannelID: otherID, ServerID: serverID}, false},
		{"role create", RoleCreatePayload{RoleID: otherID, ServerID: serverID, Name: "admin"}, false},
		{"role create missing role id", RoleCreatePayload{ServerID: serverID}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.payload.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
