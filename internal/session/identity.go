package session

import (
	"github.com/google/uuid"
)

// IdentityState is the persistence state of a conversation as seen locally.
type IdentityState int

const (
	// StateVirtual is a client-side placeholder no server knows about.
	StateVirtual IdentityState = iota
	// StatePersisting is a virtual conversation whose first message is in flight.
	StatePersisting
	// StatePersisted is a conversation with a server-assigned id.
	StatePersisted
)

func (s IdentityState) String() string {
	switch s {
	case StateVirtual:
		return "virtual"
	case StatePersisting:
		return "persisting"
	case StatePersisted:
		return "persisted"
	default:
		return "unknown"
	}
}

// Identity is the tagged identity of a conversation. Virtual identities carry
// a local key that is never sent to the server; persisted identities carry
// the server id, which is also their key.
type Identity struct {
	state    IdentityState
	key      string
	serverID string
}

// NewVirtualIdentity returns a fresh client-side identity.
func NewVirtualIdentity() Identity {
	return Identity{state: StateVirtual, key: uuid.NewString()}
}

// PersistedIdentity returns the identity of a server-side conversation.
func PersistedIdentity(id string) Identity {
	return Identity{state: StatePersisted, key: id, serverID: id}
}

// State returns the persistence state.
func (i Identity) State() IdentityState { return i.state }

// Key returns the local lookup key. It is stable for the lifetime of the
// identity and changes exactly once, when a virtual identity is persisted.
func (i Identity) Key() string { return i.key }

// ServerID returns the server-assigned id when the identity is persisted.
func (i Identity) ServerID() (string, bool) {
	return i.serverID, i.state == StatePersisted
}

// IsPersisted reports whether the server knows this conversation.
func (i Identity) IsPersisted() bool { return i.state == StatePersisted }

func (i Identity) persisting() Identity {
	if i.state == StateVirtual {
		i.state = StatePersisting
	}
	return i
}

func (i Identity) reverted() Identity {
	if i.state == StatePersisting {
		i.state = StateVirtual
	}
	return i
}
