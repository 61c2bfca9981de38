package core

import "github.com/thespecialone1/sharedrop/internal/domain"

// Frame is a raw serialized payload delivered over a signal transport.
type Frame []byte

// ConnID identifies one live client connection. A returning host gets
// a fresh ConnID; identity continuity is tracked by canonical name.
type ConnID string

// SignalConnection abstracts a system messaging transport.
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// RosterEntry is what the call core sees of a connected guest.
type RosterEntry struct {
	Conn  ConnID
	Guest *domain.Guest
	Room  domain.RoomID
}

// Roster maps live connections to guests. The call core consumes it
// read-only; the session layer owns mutation.
type Roster interface {
	Lookup(conn ConnID) (RosterEntry, bool)
	Members(room domain.RoomID) []RosterEntry
}

// BanStore is the identity/ban collaborator. Session bans and temp
// kicks are process-lifetime; global bans outlive sessions.
type BanStore interface {
	IsBanned(c domain.Canonical) bool
	IsKicked(c domain.Canonical) bool
}

// Sender delivers an event to a single connection, marshaling as
// needed. Delivery failure to one target must never abort delivery
// to others; implementations drop, they do not error loudly.
type Sender interface {
	SendTo(conn ConnID, v any)
}
