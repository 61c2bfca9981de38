package app

import (
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

// Orchestrator ties the session layer (guests, bans, presence) to the
// call core (lifecycle, relay). Adapters call it; it owns no transport.
type Orchestrator struct {
	Registry *Registry
	Calls    *CallManager
	Relay    *Relay
	Bans     *Bans
	Limiter  *JoinRateLimiter
	Clock    core.Clock
}

// JoinSession registers a guest identity on a connection after the
// ban/kick/name checks. All checks run on the canonical form.
func (o *Orchestrator) JoinSession(conn core.ConnID, room domain.RoomID, name, color string) (*domain.Guest, error) {
	guest, err := domain.NewGuest(name, color, o.Clock.Now())
	if err != nil {
		return nil, err
	}
	if o.Limiter != nil && !o.Limiter.Allow(guest.Canonical) {
		return nil, ErrRateLimited
	}
	if o.Bans.IsBanned(guest.Canonical) {
		return nil, ErrBanned
	}
	if o.Bans.IsKicked(guest.Canonical) {
		return nil, ErrKicked
	}
	if err := o.Registry.SetGuest(conn, guest, room); err != nil {
		return nil, err
	}
	o.broadcastPresence(room)
	return guest, nil
}

// OnDisconnect is the transport-drop hook for one socket. The unbind
// is conditional on sig still owning the connection id: when a reload
// rebinds the id before the old socket's teardown runs, the stale
// teardown is a no-op and must not arm host grace against the live
// connection.
func (o *Orchestrator) OnDisconnect(conn core.ConnID, sig core.SignalConnection) {
	entry, ok := o.Registry.Lookup(conn)
	if !o.Registry.Unbind(conn, sig) {
		return
	}
	if ok {
		o.Calls.OnDisconnect(conn, entry.Room, entry.Guest.Canonical)
		o.broadcastPresence(entry.Room)
	}
}

// KickUser force-disconnects a connection and temp-bans its identity
// for the rest of the session. Owner-scoped moderation, not the
// in-call host kick.
func (o *Orchestrator) KickUser(conn core.ConnID, reason string) bool {
	entry, ok := o.Registry.Lookup(conn)
	if !ok {
		return false
	}
	o.Bans.MarkKicked(entry.Guest.Canonical)
	o.Registry.SendTo(conn, protocol.Kicked{Type: protocol.TypeKicked, Reason: reason, Scope: "session"})
	o.Registry.CloseConn(conn)
	log.Info().Str("module", "app.orchestrator").Str("conn", string(conn)).Str("name", entry.Guest.Name).Msg("user kicked")
	return true
}

// BanUser bans an identity for the session and disconnects every live
// connection registered under it.
func (o *Orchestrator) BanUser(identity domain.Canonical, reason string) {
	o.Bans.BanSession(identity)
	for _, conn := range o.Registry.ByIdentity(identity) {
		o.Registry.SendTo(conn, protocol.Kicked{Type: protocol.TypeKicked, Reason: reason, Scope: "session"})
		o.Registry.CloseConn(conn)
	}
}

func (o *Orchestrator) UnbanUser(identity domain.Canonical) {
	o.Bans.Unban(identity)
}

func (o *Orchestrator) broadcastPresence(room domain.RoomID) {
	members := o.Registry.Members(room)
	names := make([]string, 0, len(members))
	infos := make([]protocol.MemberInfo, 0, len(members))
	for _, m := range members {
		names = append(names, m.Guest.Name)
		infos = append(infos, protocol.MemberInfo{
			Name:     m.Guest.Name,
			Color:    m.Guest.Color,
			Conn:     string(m.Conn),
			JoinedAt: m.Guest.JoinedAt.UTC().Format("2006-01-02T15:04:05.000Z07:00"),
		})
	}
	for _, m := range members {
		o.Registry.SendTo(m.Conn, protocol.Presence{Type: protocol.TypePresence, Names: names})
		o.Registry.SendTo(m.Conn, protocol.Members{Type: protocol.TypeMembers, Members: infos})
	}
}
