package app

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

type callParticipant struct {
	name     string
	speaking bool
}

// callSession is the Room Session Record: one per active call, keyed
// by room id. Guarded by its own mutex so unrelated rooms never block
// each other. hostConn, when set, is always a key of participants; an
// empty participants set means the record is gone from the manager.
type callSession struct {
	mu sync.Mutex

	room         domain.RoomID
	kind         domain.MediaKind
	hostConn     core.ConnID
	hostIdentity domain.Canonical
	hostName     string
	participants map[core.ConnID]*callParticipant
	locked       bool
	mutedAll     bool
	startedAt    time.Time

	graceTimer   core.Timer
	reconnecting bool
	ended        bool
}

// CallManager drives call rooms through their lifecycle:
// Inactive → Active → HostGrace → Active (host returns) | Ended.
// It is the single writer of call state; clients observe it only
// through broadcasts.
type CallManager struct {
	mu    sync.RWMutex
	calls map[domain.RoomID]*callSession

	roster core.Roster
	sender core.Sender
	clock  core.Clock
	grace  time.Duration
}

func NewCallManager(roster core.Roster, sender core.Sender, clock core.Clock, grace time.Duration) *CallManager {
	return &CallManager{
		calls:  make(map[domain.RoomID]*callSession),
		roster: roster,
		sender: sender,
		clock:  clock,
		grace:  grace,
	}
}

// Start creates a call, or resumes one if the caller is the recognized
// host identity returning on a new connection. A start by any other
// identity while a call exists fails with ErrAlreadyActive.
func (m *CallManager) Start(conn core.ConnID, guest *domain.Guest, room domain.RoomID, kind domain.MediaKind) error {
	m.mu.Lock()
	cs, exists := m.calls[room]
	if !exists {
		cs = &callSession{
			room:         room,
			kind:         kind,
			hostConn:     conn,
			hostIdentity: guest.Canonical,
			hostName:     guest.Name,
			participants: map[core.ConnID]*callParticipant{conn: {name: guest.Name}},
			startedAt:    m.clock.Now(),
		}
		m.calls[room] = cs
		m.mu.Unlock()

		log.Info().Str("module", "app.calls").Str("room", string(room)).Str("host", guest.Name).Str("kind", string(kind)).Msg("call started")
		m.broadcast(room, protocol.RoomStarted{
			Type:             protocol.TypeRoomStarted,
			Room:             string(room),
			Kind:             string(kind),
			HostConn:         string(conn),
			HostName:         guest.Name,
			ParticipantCount: 1,
		})
		m.broadcastState(cs)
		return nil
	}
	m.mu.Unlock()

	cs.mu.Lock()
	if cs.ended {
		cs.mu.Unlock()
		// Lost a race with termination; retry as a fresh start.
		return m.Start(conn, guest, room, kind)
	}
	if cs.hostIdentity != guest.Canonical {
		cs.mu.Unlock()
		return ErrAlreadyActive
	}
	// Host returning after a reload: re-bind to the new connection and
	// keep the original start time.
	ghost := m.resumeHostLocked(cs, conn)
	count := len(cs.participants)
	kind = cs.kind
	cs.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("room", string(room)).Str("host", guest.Name).Msg("call resumed by host")
	if ghost != "" {
		m.broadcast(room, protocol.RoomLeft{Type: protocol.TypeRoomLeft, Conn: string(ghost), Name: guest.Name})
	}
	m.broadcast(room, protocol.RoomStarted{
		Type:             protocol.TypeRoomStarted,
		Room:             string(room),
		Kind:             string(kind),
		HostConn:         string(conn),
		HostName:         guest.Name,
		ParticipantCount: count,
	})
	m.broadcastState(cs)
	return nil
}

// resumeHostLocked rebinds the host to a new connection and cancels
// any pending grace timer. When the previous host connection is still
// listed (the server never saw it drop), it is evicted here so it
// cannot linger as a ghost participant; the returned id lets the
// caller broadcast its departure. Caller holds cs.mu.
func (m *CallManager) resumeHostLocked(cs *callSession, conn core.ConnID) core.ConnID {
	if cs.graceTimer != nil {
		cs.graceTimer.Stop()
		cs.graceTimer = nil
	}
	cs.reconnecting = false
	var ghost core.ConnID
	if cs.hostConn != "" && cs.hostConn != conn {
		delete(cs.participants, cs.hostConn)
		ghost = cs.hostConn
	}
	cs.hostConn = conn
	if _, ok := cs.participants[conn]; !ok {
		cs.participants[conn] = &callParticipant{name: cs.hostName}
	}
	return ghost
}

// Join adds a participant and returns the participants that were
// already in the call, so the joiner knows whom to expect offers from.
func (m *CallManager) Join(conn core.ConnID, guest *domain.Guest, room domain.RoomID) ([]protocol.ParticipantInfo, core.ConnID, error) {
	cs, ok := m.get(room)
	if !ok {
		return nil, "", ErrNoActiveCall
	}

	cs.mu.Lock()
	if cs.ended {
		cs.mu.Unlock()
		return nil, "", ErrNoActiveCall
	}
	if _, in := cs.participants[conn]; in {
		cs.mu.Unlock()
		return nil, "", ErrAlreadyInCall
	}
	isHost := cs.hostIdentity == guest.Canonical
	if cs.locked && !isHost {
		cs.mu.Unlock()
		return nil, "", ErrLocked
	}

	resumed := false
	var ghost core.ConnID
	if isHost {
		ghost = m.resumeHostLocked(cs, conn)
		resumed = true
	}
	cs.participants[conn] = &callParticipant{name: guest.Name}

	existing := make([]protocol.ParticipantInfo, 0, len(cs.participants)-1)
	for id, p := range cs.participants {
		if id == conn {
			continue
		}
		existing = append(existing, protocol.ParticipantInfo{Conn: string(id), Name: p.name, Speaking: p.speaking})
	}
	hostConn := cs.hostConn
	hostName := cs.hostName
	kind := cs.kind
	count := len(cs.participants)
	cs.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("room", string(room)).Str("conn", string(conn)).Str("name", guest.Name).Msg("call joined")
	if resumed {
		if ghost != "" {
			m.broadcast(room, protocol.RoomLeft{Type: protocol.TypeRoomLeft, Conn: string(ghost), Name: guest.Name})
		}
		m.broadcast(room, protocol.RoomStarted{
			Type:             protocol.TypeRoomStarted,
			Room:             string(room),
			Kind:             string(kind),
			HostConn:         string(hostConn),
			HostName:         hostName,
			ParticipantCount: count,
		})
	}
	m.broadcastExcept(room, conn, protocol.RoomJoined{
		Type: protocol.TypeRoomJoined,
		Conn: string(conn),
		Name: guest.Name,
	})
	m.broadcastState(cs)
	return existing, hostConn, nil
}

// Leave removes a participant. A voluntary host leave ends the call
// immediately; the grace period only covers involuntary disconnects.
func (m *CallManager) Leave(conn core.ConnID, room domain.RoomID) error {
	cs, ok := m.get(room)
	if !ok {
		return ErrNotInCall
	}

	cs.mu.Lock()
	if cs.ended {
		cs.mu.Unlock()
		return ErrNotInCall
	}
	p, in := cs.participants[conn]
	if !in {
		cs.mu.Unlock()
		return ErrNotInCall
	}
	if conn == cs.hostConn {
		m.endLocked(cs)
		cs.mu.Unlock()
		m.remove(cs)
		return nil
	}
	delete(cs.participants, conn)
	name := p.name
	cs.mu.Unlock()

	m.broadcast(room, protocol.RoomLeft{Type: protocol.TypeRoomLeft, Conn: string(conn), Name: name})
	m.broadcastState(cs)
	return nil
}

// End terminates the call. Host only.
func (m *CallManager) End(conn core.ConnID, room domain.RoomID) error {
	cs, ok := m.get(room)
	if !ok {
		return ErrNoActiveCall
	}

	cs.mu.Lock()
	if cs.ended {
		cs.mu.Unlock()
		return ErrNoActiveCall
	}
	if cs.hostConn != conn {
		cs.mu.Unlock()
		return ErrNotAuthorized
	}
	m.endLocked(cs)
	cs.mu.Unlock()
	m.remove(cs)
	return nil
}

// OnDisconnect reacts to a transport drop. Host drop arms the grace
// timer instead of ending the call; a guest drop is a plain leave.
func (m *CallManager) OnDisconnect(conn core.ConnID, room domain.RoomID, identity domain.Canonical) {
	cs, ok := m.get(room)
	if !ok {
		return
	}

	cs.mu.Lock()
	if cs.ended {
		cs.mu.Unlock()
		return
	}
	p, in := cs.participants[conn]
	if !in {
		cs.mu.Unlock()
		return
	}

	if conn == cs.hostConn {
		delete(cs.participants, conn)
		cs.hostConn = ""
		cs.reconnecting = true
		if cs.graceTimer != nil {
			cs.graceTimer.Stop()
		}
		hostIdentity := cs.hostIdentity
		cs.graceTimer = m.clock.AfterFunc(m.grace, func() {
			m.onGraceExpired(room, hostIdentity)
		})
		cs.mu.Unlock()

		log.Info().Str("module", "app.calls").Str("room", string(room)).Dur("grace", m.grace).Msg("host disconnected, grace armed")
		m.broadcastState(cs)
		return
	}

	delete(cs.participants, conn)
	name := p.name
	cs.mu.Unlock()

	log.Info().Str("module", "app.calls").Str("room", string(room)).Str("conn", string(conn)).Msg("participant disconnected")
	m.broadcast(room, protocol.RoomLeft{Type: protocol.TypeRoomLeft, Conn: string(conn), Name: name})
	m.broadcastState(cs)
}

// onGraceExpired runs when the grace timer fires. State is re-checked
// under the lock: the host may have returned, or the call may already
// be gone. At most one room-ended is ever emitted.
func (m *CallManager) onGraceExpired(room domain.RoomID, identity domain.Canonical) {
	cs, ok := m.get(room)
	if !ok {
		return
	}
	cs.mu.Lock()
	if cs.ended || cs.hostIdentity != identity || !cs.reconnecting || cs.hostConn != "" {
		cs.mu.Unlock()
		return
	}
	log.Info().Str("module", "app.calls").Str("room", string(room)).Msg("host grace expired, ending call")
	m.endLocked(cs)
	cs.mu.Unlock()
	m.remove(cs)
}

// endLocked marks the session ended and broadcasts termination.
// Caller holds cs.mu; the map entry is removed afterwards by remove.
func (m *CallManager) endLocked(cs *callSession) {
	cs.ended = true
	if cs.graceTimer != nil {
		cs.graceTimer.Stop()
		cs.graceTimer = nil
	}
	log.Info().Str("module", "app.calls").Str("room", string(cs.room)).Msg("call ended")
	m.broadcast(cs.room, protocol.RoomEnded{
		Type:    protocol.TypeRoomEnded,
		Room:    string(cs.room),
		EndedAt: m.clock.Now().UnixMilli(),
	})
	m.broadcast(cs.room, protocol.RoomState{
		Type:   protocol.TypeRoomState,
		Room:   string(cs.room),
		Active: false,
	})
}

func (m *CallManager) remove(cs *callSession) {
	m.mu.Lock()
	if m.calls[cs.room] == cs {
		delete(m.calls, cs.room)
	}
	m.mu.Unlock()
}

func (m *CallManager) get(room domain.RoomID) (*callSession, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	cs, ok := m.calls[room]
	return cs, ok
}

// SetLocked flips the lock flag. Host only; a failed precondition is
// an idempotent no-op reported as false.
func (m *CallManager) SetLocked(conn core.ConnID, room domain.RoomID, locked bool) bool {
	cs, ok := m.get(room)
	if !ok {
		return false
	}
	cs.mu.Lock()
	if cs.ended || cs.hostConn != conn {
		cs.mu.Unlock()
		return false
	}
	cs.locked = locked
	cs.mu.Unlock()
	m.broadcastState(cs)
	return true
}

// MuteAll sets the sticky mute-all instruction. It does not change
// server state beyond the flag; it only informs clients, including
// late joiners via room-state.
func (m *CallManager) MuteAll(conn core.ConnID, room domain.RoomID) bool {
	cs, ok := m.get(room)
	if !ok {
		return false
	}
	cs.mu.Lock()
	if cs.ended || cs.hostConn != conn {
		cs.mu.Unlock()
		return false
	}
	cs.mutedAll = true
	cs.mu.Unlock()
	m.broadcastState(cs)
	return true
}

// KickFromCall removes the target from the call only. Session-level
// kick/ban is the orchestrator's job.
func (m *CallManager) KickFromCall(conn core.ConnID, room domain.RoomID, target core.ConnID) bool {
	cs, ok := m.get(room)
	if !ok {
		return false
	}
	cs.mu.Lock()
	if cs.ended || cs.hostConn != conn {
		cs.mu.Unlock()
		return false
	}
	p, in := cs.participants[target]
	if !in {
		cs.mu.Unlock()
		return false
	}
	delete(cs.participants, target)
	name := p.name
	cs.mu.Unlock()

	m.sender.SendTo(target, protocol.Kicked{Type: protocol.TypeKicked, Reason: "removed from call by host", Scope: "call"})
	m.broadcast(room, protocol.RoomLeft{Type: protocol.TypeRoomLeft, Conn: string(target), Name: name})
	m.broadcastState(cs)
	return true
}

// SetSpeaking records voice activity and rebroadcasts it to the room.
func (m *CallManager) SetSpeaking(conn core.ConnID, room domain.RoomID, speaking bool) {
	cs, ok := m.get(room)
	if !ok {
		return
	}
	cs.mu.Lock()
	p, in := cs.participants[conn]
	if !in || cs.ended {
		cs.mu.Unlock()
		return
	}
	p.speaking = speaking
	cs.mu.Unlock()

	m.broadcast(room, protocol.SpeakingUpdate{Type: protocol.TypeSpeakingUpdate, Conn: string(conn), Speaking: speaking})
}

// Snapshot reports the room-state view, also valid when no call is
// active.
func (m *CallManager) Snapshot(room domain.RoomID) protocol.RoomState {
	cs, ok := m.get(room)
	if !ok {
		return protocol.RoomState{Type: protocol.TypeRoomState, Room: string(room), Active: false}
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ended {
		return protocol.RoomState{Type: protocol.TypeRoomState, Room: string(room), Active: false}
	}
	return m.stateLocked(cs)
}

// StartedAt exposes the preserved start time, mainly for status APIs.
func (m *CallManager) StartedAt(room domain.RoomID) (time.Time, bool) {
	cs, ok := m.get(room)
	if !ok {
		return time.Time{}, false
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.ended {
		return time.Time{}, false
	}
	return cs.startedAt, true
}

func (m *CallManager) stateLocked(cs *callSession) protocol.RoomState {
	parts := make([]protocol.ParticipantInfo, 0, len(cs.participants))
	for id, p := range cs.participants {
		parts = append(parts, protocol.ParticipantInfo{Conn: string(id), Name: p.name, Speaking: p.speaking})
	}
	return protocol.RoomState{
		Type:             protocol.TypeRoomState,
		Room:             string(cs.room),
		Active:           true,
		Kind:             string(cs.kind),
		HostConn:         string(cs.hostConn),
		ParticipantCount: len(cs.participants),
		Participants:     parts,
		Locked:           cs.locked,
		MutedAll:         cs.mutedAll,
		HostReconnecting: cs.reconnecting,
	}
}

func (m *CallManager) broadcastState(cs *callSession) {
	cs.mu.Lock()
	if cs.ended {
		cs.mu.Unlock()
		return
	}
	state := m.stateLocked(cs)
	cs.mu.Unlock()
	m.broadcast(cs.room, state)
}

// broadcast fans an event out to every session member of the room.
// One slow or dead connection never aborts delivery to the rest.
func (m *CallManager) broadcast(room domain.RoomID, v any) {
	for _, entry := range m.roster.Members(room) {
		m.sender.SendTo(entry.Conn, v)
	}
}

func (m *CallManager) broadcastExcept(room domain.RoomID, skip core.ConnID, v any) {
	for _, entry := range m.roster.Members(room) {
		if entry.Conn == skip {
			continue
		}
		m.sender.SendTo(entry.Conn, v)
	}
}
