package services

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/beep-industries/communities/pkg/models"
	"github.com/beep-industries/communities/pkg/outbox"
	testdb "github.com/beep-industries/communities/test/database"
)

type serviceEnv struct {
	pool        *pgxpool.Pool
	servers     *ServerService
	channels    *ChannelService
	roles       *RoleService
	members     *MemberService
	friends     *FriendshipService
	invitations *InvitationService
}

func setupServices(t *testing.T) *serviceEnv {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test in -short mode")
	}

	client := testdb.NewTestClient(t)
	pool := client.Pool()
	writer := outbox.NewWriter()
	table := outbox.DefaultTable()

	return &serviceEnv{
		pool:        pool,
		servers:     NewServerService(pool, writer, table),
		channels:    NewChannelService(pool, writer, table),
		roles:       NewRoleService(pool, writer, table),
		members:     NewMemberService(pool),
		friends:     NewFriendshipService(pool),
		invitations: NewInvitationService(pool),
	}
}

// outboxExchanges returns the exchanges of all READY outbox rows, oldest first.
func (e *serviceEnv) outboxExchanges(t *testing.T) []string {
	t.Helper()
	rows, err := e.pool.Query(context.Background(),
		`SELECT exchange_name FROM outbox_messages WHERE status = 'READY' ORDER BY created_at ASC, id ASC`)
	require.NoError(t, err)
	defer rows.Close()

	var exchanges []string
	for rows.Next() {
		var exchange string
		require.NoError(t, rows.Scan(&exchange))
		exchanges = append(exchanges, exchange)
	}
	require.NoError(t, rows.Err())
	return exchanges
}

func (e *serviceEnv) clearOutbox(t *testing.T) {
	t.Helper()
	_, err := e.pool.Exec(context.Background(), `DELETE FROM outbox_messages`)
	require.NoError(t, err)
}

func TestServerLifecycle(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	owner := uuid.New()

	server, err := env.servers.Create(ctx, owner, models.CreateServerRequest{Name: "gophers"})
	require.NoError(t, err)
	assert.Equal(t, owner, server.OwnerID)

	t.Run("create emits server.create and role.create in one commit", func(t *testing.T) {
		assert.Equal(t, []string{"server.create", "role.create"}, env.outboxExchanges(t))
	})

	t.Run("owner becomes a member with an admin role", func(t *testing.T) {
		members, err := env.members.ListByServer(ctx, server.ID)
		require.NoError(t, err)
		require.Len(t, members, 1)
		assert.Equal(t, owner, members[0].UserID)

		roles, err := env.roles.ListByServer(ctx, server.ID)
		require.NoError(t, err)
		require.Len(t, roles, 1)
		assert.Equal(t, "admin", roles[0].Name)
		assert.Equal(t, models.PermissionAdmin, roles[0].Permissions)
	})

	t.Run("only the owner can delete", func(t *testing.T) {
		err := env.servers.Delete(ctx, server.ID, uuid.New())
		assert.ErrorIs(t, err, ErrForbidden)
	})

	t.Run("delete emits server.delete", func(t *testing.T) {
		env.clearOutbox(t)
		require.NoError(t, env.servers.Delete(ctx, server.ID, owner))
		assert.Equal(t, []string{"server.delete"}, env.outboxExchanges(t))

		_, err := env.servers.Get(ctx, server.ID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestChannelLifecycle(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	owner := uuid.New()

	server, err := env.servers.Create(ctx, owner, models.CreateServerRequest{Name: "s"})
	require.NoError(t, err)
	env.clearOutbox(t)

	t.Run("non-members cannot create channels", func(t *testing.T) {
		_, err := env.channels.Create(ctx, server.ID, uuid.New(),
			models.CreateChannelRequest{Name: "general", Kind: models.ChannelKindText})
		assert.ErrorIs(t, err, ErrForbidden)
	})

	channel, err := env.channels.Create(ctx, server.ID, owner,
		models.CreateChannelRequest{Name: "general", Kind: models.ChannelKindText})
	require.NoError(t, err)

	t.Run("create emits channel.create", func(t *testing.T) {
		assert.Equal(t, []string{"channel.create"}, env.outboxExchanges(t))
	})

	t.Run("update renames without emitting", func(t *testing.T) {
		env.clearOutbox(t)
		renamed, err := env.channels.Update(ctx, channel.ID, owner,
			models.UpdateChannelRequest{Name: "welcome"})
		require.NoError(t, err)
		assert.Equal(t, "welcome", renamed.Name)
		assert.Empty(t, env.outboxExchanges(t))
	})

	t.Run("delete emits channel.delete", func(t *testing.T) {
		require.NoError(t, env.channels.Delete(ctx, channel.ID, owner))
		assert.Equal(t, []string{"channel.delete"}, env.outboxExchanges(t))
	})
}

func TestRoleService(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	owner := uuid.New()

	server, err := env.servers.Create(ctx, owner, models.CreateServerRequest{Name: "s"})
	require.NoError(t, err)
	env.clearOutbox(t)

	role, err := env.roles.Create(ctx, server.ID, owner, models.CreateRoleRequest{
		Name:        "moderator",
		Permissions: models.PermissionKickMembers,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"role.create"}, env.outboxExchanges(t))

	t.Run("duplicate role name conflicts", func(t *testing.T) {
		_, err := env.roles.Create(ctx, server.ID, owner, models.CreateRoleRequest{Name: "moderator"})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("assigns to a member of the same server", func(t *testing.T) {
		members, err := env.members.ListByServer(ctx, server.ID)
		require.NoError(t, err)
		require.NoError(t, env.roles.Assign(ctx, role.ID, members[0].ID))
		// Re-assignment is a no-op, not an error.
		require.NoError(t, env.roles.Assign(ctx, role.ID, members[0].ID))
	})
}

func TestInvitationJoinFlow(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	owner := uuid.New()
	joiner := uuid.New()

	server, err := env.servers.Create(ctx, owner, models.CreateServerRequest{Name: "s"})
	require.NoError(t, err)

	invitation, err := env.invitations.Create(ctx, server.ID, owner, models.CreateInvitationRequest{})
	require.NoError(t, err)
	assert.NotEmpty(t, invitation.Code)

	t.Run("consume joins the user", func(t *testing.T) {
		member, err := env.invitations.Consume(ctx, invitation.Code, joiner)
		require.NoError(t, err)
		assert.Equal(t, server.ID, member.ServerID)
		assert.Equal(t, joiner, member.UserID)
	})

	t.Run("joining twice conflicts", func(t *testing.T) {
		_, err := env.invitations.Consume(ctx, invitation.Code, joiner)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("expired invitations are rejected", func(t *testing.T) {
		short, err := env.invitations.Create(ctx, server.ID, owner,
			models.CreateInvitationRequest{TTLSeconds: 1})
		require.NoError(t, err)

		_, err = env.pool.Exec(ctx,
			`UPDATE server_invitations SET expires_at = now() - interval '1 minute' WHERE id = $1`,
			short.ID)
		require.NoError(t, err)

		_, err = env.invitations.Consume(ctx, short.Code, uuid.New())
		assert.ErrorIs(t, err, ErrExpired)
	})

	t.Run("members can be removed by themselves but never the owner", func(t *testing.T) {
		members, err := env.members.ListByServer(ctx, server.ID)
		require.NoError(t, err)
		require.Len(t, members, 2)

		for _, m := range members {
			if m.UserID == owner {
				err := env.members.Remove(ctx, m.ID, owner)
				assert.ErrorIs(t, err, ErrInvalid)
			} else {
				require.NoError(t, env.members.Remove(ctx, m.ID, m.UserID))
			}
		}
	})
}

func TestFriendshipFlow(t *testing.T) {
	env := setupServices(t)
	ctx := context.Background()
	alice := uuid.New()
	bob := uuid.New()

	friendship, err := env.friends.Request(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, models.FriendshipStatusPending, friendship.Status)

	t.Run("repeat request in either direction conflicts", func(t *testing.T) {
		_, err := env.friends.Request(ctx, alice, bob)
		assert.ErrorIs(t, err, ErrConflict)
		_, err = env.friends.Request(ctx, bob, alice)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("self-friendship is invalid", func(t *testing.T) {
		_, err := env.friends.Request(ctx, alice, alice)
		assert.ErrorIs(t, err, ErrInvalid)
	})

	t.Run("only the addressee can accept", func(t *testing.T) {
		_, err := env.friends.Accept(ctx, friendship.ID, alice)
		assert.ErrorIs(t, err, ErrForbidden)

		accepted, err := env.friends.Accept(ctx, friendship.ID, bob)
		require.NoError(t, err)
		assert.Equal(t, models.FriendshipStatusAccepted, accepted.Status)
	})

	t.Run("responding twice conflicts", func(t *testing.T) {
		_, err := env.friends.Decline(ctx, friendship.ID, bob)
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("both sides see the friendship", func(t *testing.T) {
		for _, user := range []uuid.UUID{alice, bob} {
			list, err := env.friends.ListForUser(ctx, user)
			require.NoError(t, err)
			require.Len(t, list, 1)
			assert.Equal(t, friendship.ID, list[0].ID)
		}
	})
}
