package app

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
)

type regEntry struct {
	Signal core.SignalConnection
	Guest  *domain.Guest
	Room   domain.RoomID
}

// Registry owns the connection-id → transport mapping and the guest
// bound to each connection. It implements core.Roster and core.Sender
// for the call core.
type Registry struct {
	mu    sync.RWMutex
	conns map[core.ConnID]*regEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[core.ConnID]*regEntry)}
}

// Bind attaches a live transport to a connection id. The guest stays
// nil until the client registers via join-session.
func (r *Registry) Bind(conn core.ConnID, sig core.SignalConnection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[conn] = &regEntry{Signal: sig}
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("bound connection")
}

func (r *Registry) SetGuest(conn core.ConnID, guest *domain.Guest, room domain.RoomID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return ErrNotRegistered
	}
	for id, other := range r.conns {
		if id == conn || other.Guest == nil || other.Room != room {
			continue
		}
		if other.Guest.Canonical == guest.Canonical {
			return ErrNameTaken
		}
	}
	e.Guest = guest
	e.Room = room
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Str("name", guest.Name).Msg("guest registered")
	return nil
}

// Unbind removes the binding, but only while sig is still the bound
// transport. Connection ids come from a long-lived cookie, so a fast
// reload rebinds the same id before the old socket's teardown runs;
// the stale teardown must not evict the live transport. A nil sig
// unbinds unconditionally.
func (r *Registry) Unbind(conn core.ConnID, sig core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[conn]
	if !ok {
		return false
	}
	if sig != nil && e.Signal != sig {
		log.Debug().Str("module", "app.registry").Str("conn", string(conn)).Msg("stale unbind ignored, transport rebound")
		return false
	}
	delete(r.conns, conn)
	log.Info().Str("module", "app.registry").Str("conn", string(conn)).Msg("unbound connection")
	return true
}

func (r *Registry) Lookup(conn core.ConnID) (core.RosterEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.conns[conn]
	if !ok || e.Guest == nil {
		return core.RosterEntry{}, false
	}
	return core.RosterEntry{Conn: conn, Guest: e.Guest, Room: e.Room}, true
}

func (r *Registry) Members(room domain.RoomID) []core.RosterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.RosterEntry, 0, len(r.conns))
	for id, e := range r.conns {
		if e.Guest != nil && e.Room == room {
			out = append(out, core.RosterEntry{Conn: id, Guest: e.Guest, Room: e.Room})
		}
	}
	return out
}

// ByIdentity returns every live connection registered under the given
// canonical name. Used by ban enforcement.
func (r *Registry) ByIdentity(c domain.Canonical) []core.ConnID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []core.ConnID
	for id, e := range r.conns {
		if e.Guest != nil && e.Guest.Canonical == c {
			out = append(out, id)
		}
	}
	return out
}

// SendTo marshals and delivers to one connection. Missing targets and
// backpressure drops are deliberate no-ops: signaling loss is expected
// and self-heals via renegotiation.
func (r *Registry) SendTo(conn core.ConnID, v any) {
	r.mu.RLock()
	e, ok := r.conns[conn]
	r.mu.RUnlock()
	if !ok {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Str("module", "app.registry").Msg("marshal")
		return
	}
	if err := e.Signal.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "app.registry").Str("conn", string(conn)).Msg("send dropped")
	}
}

// CloseConn force-closes the transport of a connection, if any.
func (r *Registry) CloseConn(conn core.ConnID) {
	r.mu.RLock()
	e, ok := r.conns[conn]
	r.mu.RUnlock()
	if ok {
		e.Signal.Close()
	}
}
