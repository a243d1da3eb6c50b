package outbox

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Kind identifies an event schema at compile time. The set is closed: a new
// event kind means a new constant, a new payload type, and new cases in the
// decode/encode switches below. Dispatching on open-ended string keys would
// throw away the schema guarantee.
type Kind int

const (
	KindServerCreate Kind = iota
	KindServerDelete
	KindChannelCreate
	KindChannelDelete
	KindRoleCreate

	kindCount // sentinel, keep last
)

// String returns the canonical kind name, which doubles as the config key
// and the default exchange name.
func (k Kind) String() string {
	switch k {
	case KindServerCreate:
		return "server.create"
	case KindServerDelete:
		return "server.delete"
	case KindChannelCreate:
		return "channel.create"
	case KindChannelDelete:
		return "channel.delete"
	case KindRoleCreate:
		return "role.create"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Kinds returns every member of the closed set.
func Kinds() []Kind {
	kinds := make([]Kind, kindCount)
	for i := range kinds {
		kinds[i] = Kind(i)
	}
	return kinds
}

// Descriptor carries the routing attributes stamped onto an event record.
type Descriptor struct {
	Exchange string
}

// Table is the process-wide routing table: kind → exchange for producers,
// exchange → kind for the dispatcher. Immutable after construction.
type Table struct {
	exchangeByKind [kindCount]string
	kindByExchange map[string]Kind
}

// NewTable builds a routing table from kind → exchange bindings. Kinds
// missing from bindings default to the kind name. Two kinds sharing an
// exchange is an error: the exchange is the dispatcher's discriminator.
func NewTable(bindings map[Kind]string) (*Table, error) {
	t := &Table{
		kindByExchange: make(map[string]Kind, kindCount),
	}
	for _, k := range Kinds() {
		exchange := bindings[k]
		if exchange == "" {
			exchange = k.String()
		}
		if prev, dup := t.kindByExchange[exchange]; dup {
			return nil, fmt.Errorf("exchange %q bound to both %s and %s", exchange, prev, k)
		}
		t.exchangeByKind[k] = exchange
		t.kindByExchange[exchange] = k
	}
	return t, nil
}

// NewTableFromNames builds a table from kind-name → exchange bindings, the
// shape configuration files use. Unknown kind names are an error: the kind
// set is closed and a typo in config should fail loudly at startup.
func NewTableFromNames(bindings map[string]string) (*Table, error) {
	byName := make(map[string]Kind, kindCount)
	for _, k := range Kinds() {
		byName[k.String()] = k
	}

	byKind := make(map[Kind]string, len(bindings))
	for name, exchange := range bindings {
		k, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("unknown event kind %q in routing config", name)
		}
		byKind[k] = exchange
	}
	return NewTable(byKind)
}

// DefaultTable binds every kind to an exchange of the same name.
func DefaultTable() *Table {
	t, err := NewTable(nil)
	if err != nil {
		panic(err) // unreachable: default bindings cannot collide
	}
	return t
}

// Descriptor returns the routing descriptor producers stamp onto records of
// kind k.
func (t *Table) Descriptor(k Kind) Descriptor {
	return Descriptor{Exchange: t.exchangeByKind[k]}
}

// KindOf resolves an exchange name back to its kind. ok is false for
// exchanges outside the table; such events must be quarantined, not retried.
func (t *Table) KindOf(exchange string) (Kind, bool) {
	k, ok := t.kindByExchange[exchange]
	return k, ok
}

// Decode parses a stored JSON payload into kind k's typed payload. Unknown
// fields and missing required fields are both schema violations.
func (t *Table) Decode(k Kind, payload json.RawMessage) (Payload, error) {
	var typed Payload
	switch k {
	case KindServerCreate:
		typed = &ServerCreatePayload{}
	case KindServerDelete:
		typed = &ServerDeletePayload{}
	case KindChannelCreate:
		typed = &ChannelCreatePayload{}
	case KindChannelDelete:
		typed = &ChannelDeletePayload{}
	case KindRoleCreate:
		typed = &RoleCreatePayload{}
	default:
		return nil, fmt.Errorf("no decoder for %s", k)
	}

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.DisallowUnknownFields()
	if err := dec.Decode(typed); err != nil {
		return nil, err
	}
	if err := typed.validate(); err != nil {
		return nil, err
	}
	return typed, nil
}

// EncodeWire produces the wire bytes the broker expects for kind k: the
// canonical JSON of the typed payload. The payload must be the type Decode
// returns for k.
func (t *Table) EncodeWire(k Kind, p Payload) ([]byte, error) {
	var ok bool
	switch k {
	case KindServerCreate:
		_, ok = p.(*ServerCreatePayload)
	case KindServerDelete:
		_, ok = p.(*ServerDeletePayload)
	case KindChannelCreate:
		_, ok = p.(*ChannelCreatePayload)
	case KindChannelDelete:
		_, ok = p.(*ChannelDeletePayload)
	case KindRoleCreate:
		_, ok = p.(*RoleCreatePayload)
	}
	if !ok {
		return nil, fmt.Errorf("payload %T does not belong to kind %s", p, k)
	}
	return json.Marshal(p)
}
