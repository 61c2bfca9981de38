package client

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

var (
	ErrNotJoined  = errors.New("not joined to a session")
	ErrCallActive = errors.New("call already running locally")
	ErrNoCall     = errors.New("no call running locally")
)

// Callbacks surface call events to the embedding application. All are
// optional and invoked from the event loop goroutine.
type Callbacks struct {
	OnRoomState func(protocol.RoomState)
	OnSpeaking  func(conn string, speaking bool)
	OnMembers   func(protocol.Members)
	OnPresence  func(protocol.Presence)
	OnKicked    func(protocol.Kicked)
	OnEnded     func(protocol.RoomEnded)
}

// Orchestrator drives every peer link for one client. It reacts to
// membership deltas from the server: when someone joins the room, each
// existing participant opens the offer toward the newcomer, so the
// newcomer only ever answers. Candidates that outrun their session
// descriptions are queued and flushed in arrival order.
type Orchestrator struct {
	tr       Transport
	links    LinkFactory
	capture  CaptureFactory
	clock    core.Clock
	cooldown time.Duration
	cb       Callbacks

	mu      sync.Mutex
	you     core.ConnID
	inCall  bool
	kind    domain.MediaKind
	local   CaptureStream
	peers   map[core.ConnID]*peerLink
	holding map[core.ConnID][]protocol.ICECandidate
	// gen invalidates work started before a teardown. Anything async
	// snapshots it and bails if it moved.
	gen uint64
}

// peerLink is the per-remote negotiation state.
type peerLink struct {
	remote      core.ConnID
	name        string
	link        MediaLink
	initiator   bool
	remoteSet   bool
	queue       []protocol.ICECandidate
	lastRestart time.Time
	restarting  bool
}

func NewOrchestrator(tr Transport, links LinkFactory, capture CaptureFactory, clock core.Clock, cooldown time.Duration, cb Callbacks) *Orchestrator {
	return &Orchestrator{
		tr:       tr,
		links:    links,
		capture:  capture,
		clock:    clock,
		cooldown: cooldown,
		cb:       cb,
		peers:    make(map[core.ConnID]*peerLink),
		holding:  make(map[core.ConnID][]protocol.ICECandidate),
	}
}

// Run consumes server events until the transport closes or ctx is
// cancelled. It is the only goroutine that mutates negotiation state
// apart from the public call-control methods.
func (o *Orchestrator) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			o.teardownAll()
			return ctx.Err()
		case msg, ok := <-o.tr.Events():
			if !ok {
				o.teardownAll()
				return ErrTransportClosed
			}
			o.handle(msg)
		}
	}
}

// ---- session and call control ----

func (o *Orchestrator) JoinSession(ctx context.Context, room, name, color string) error {
	res, err := o.tr.Request(ctx, protocol.JoinSession{
		Type: protocol.TypeJoinSession, Room: room, Name: name, Color: color,
	})
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	o.mu.Lock()
	o.you = core.ConnID(res.You)
	o.mu.Unlock()
	return nil
}

// StartCall acquires local media and asks the server to open the room.
// Device acquisition runs unlocked; if the user bailed out meanwhile
// the capture is released instead of leaking.
func (o *Orchestrator) StartCall(ctx context.Context, kind domain.MediaKind) error {
	stream, gen, err := o.acquire(kind)
	if err != nil {
		return err
	}

	res, err := o.tr.Request(ctx, protocol.Start{Type: protocol.TypeStart, Kind: string(kind)})
	if err != nil || !res.Success {
		o.release(stream)
		if err != nil {
			return err
		}
		return errors.New(res.Error)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		stream.Close()
		return ErrNoCall
	}
	o.inCall = true
	o.kind = kind
	o.local = stream
	return nil
}

// JoinCall enters the running call. Existing participants will offer
// to us; we hold media ready and answer.
func (o *Orchestrator) JoinCall(ctx context.Context, kind domain.MediaKind) error {
	stream, gen, err := o.acquire(kind)
	if err != nil {
		return err
	}

	res, err := o.tr.Request(ctx, protocol.Join{Type: protocol.TypeJoin})
	if err != nil || !res.Success {
		o.release(stream)
		if err != nil {
			return err
		}
		return errors.New(res.Error)
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gen != gen {
		stream.Close()
		return ErrNoCall
	}
	o.inCall = true
	o.kind = kind
	o.local = stream
	return nil
}

func (o *Orchestrator) LeaveCall(ctx context.Context) error {
	res, err := o.tr.Request(ctx, protocol.Leave{Type: protocol.TypeLeave})
	o.teardownAll()
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	return nil
}

func (o *Orchestrator) EndCall(ctx context.Context) error {
	res, err := o.tr.Request(ctx, protocol.End{Type: protocol.TypeEnd})
	if err != nil {
		return err
	}
	if !res.Success {
		return errors.New(res.Error)
	}
	o.teardownAll()
	return nil
}

// SetMuted flips the local audio track. No renegotiation; peers keep
// receiving silence-free RTP gaps.
func (o *Orchestrator) SetMuted(muted bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.local != nil {
		o.local.SetAudioEnabled(!muted)
	}
}

// SetSpeaking pushes a voice-activity change; the server fans it out.
func (o *Orchestrator) SetSpeaking(speaking bool) {
	_ = o.tr.Send(protocol.Speaking{Type: protocol.TypeSpeaking, Speaking: speaking})
}

func (o *Orchestrator) acquire(kind domain.MediaKind) (CaptureStream, uint64, error) {
	o.mu.Lock()
	if o.inCall {
		o.mu.Unlock()
		return nil, 0, ErrCallActive
	}
	gen := o.gen
	o.mu.Unlock()

	stream, err := o.capture(kind)
	if err != nil {
		return nil, 0, err
	}
	return stream, gen, nil
}

func (o *Orchestrator) release(stream CaptureStream) {
	_ = stream.Close()
}

// ---- event handling ----

func (o *Orchestrator) handle(msg protocol.ServerMessage) {
	switch m := msg.(type) {
	case protocol.RoomStarted:
		o.onRoomStarted(m)
	case protocol.RoomJoined:
		o.onRoomJoined(m)
	case protocol.RoomLeft:
		o.onRoomLeft(m)
	case protocol.RoomEnded:
		o.teardownAll()
		if o.cb.OnEnded != nil {
			o.cb.OnEnded(m)
		}
	case protocol.RoomState:
		if o.cb.OnRoomState != nil {
			o.cb.OnRoomState(m)
		}
	case protocol.SpeakingUpdate:
		if o.cb.OnSpeaking != nil {
			o.cb.OnSpeaking(m.Conn, m.Speaking)
		}
	case protocol.Members:
		if o.cb.OnMembers != nil {
			o.cb.OnMembers(m)
		}
	case protocol.Presence:
		if o.cb.OnPresence != nil {
			o.cb.OnPresence(m)
		}
	case protocol.Kicked:
		o.teardownAll()
		if o.cb.OnKicked != nil {
			o.cb.OnKicked(m)
		}
	case protocol.RelayedOffer:
		o.onOffer(m)
	case protocol.RelayedAnswer:
		o.onAnswer(m)
	case protocol.RelayedCandidate:
		o.onCandidate(m)
	case protocol.RelayedRestart:
		o.onRestart(m)
	}
}

// onRoomStarted fires on a fresh call and again when the host resumes
// after a reload. A resumed host has lost all client state, so every
// existing participant treats the new host connection like a newcomer:
// drop whatever link pointed at it and offer fresh.
func (o *Orchestrator) onRoomStarted(m protocol.RoomStarted) {
	remote := core.ConnID(m.HostConn)

	o.mu.Lock()
	if !o.inCall || remote == "" || remote == o.you {
		o.mu.Unlock()
		return
	}
	if old, ok := o.peers[remote]; ok {
		old.link.Close()
		delete(o.peers, remote)
	}
	pl, err := o.createLinkLocked(remote, m.HostName, true)
	o.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("peer", m.HostConn).Msg("host link create failed")
		return
	}

	sdp, err := pl.link.CreateOffer(false)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("peer", m.HostConn).Msg("host offer failed")
		o.dropPeer(remote)
		return
	}
	_ = o.tr.Send(protocol.Offer{Type: protocol.TypeOffer, To: m.HostConn, SDP: sdp})
}

// onRoomJoined: a newcomer appeared. Every participant already in the
// call initiates toward them, so links form exactly once per pair.
func (o *Orchestrator) onRoomJoined(m protocol.RoomJoined) {
	remote := core.ConnID(m.Conn)

	o.mu.Lock()
	if !o.inCall || remote == o.you {
		o.mu.Unlock()
		return
	}
	pl, err := o.createLinkLocked(remote, m.Name, true)
	o.mu.Unlock()
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("peer", m.Conn).Msg("link create failed")
		return
	}

	sdp, err := pl.link.CreateOffer(false)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("peer", m.Conn).Msg("offer failed")
		o.dropPeer(remote)
		return
	}
	_ = o.tr.Send(protocol.Offer{Type: protocol.TypeOffer, To: m.Conn, SDP: sdp})
}

func (o *Orchestrator) onRoomLeft(m protocol.RoomLeft) {
	o.dropPeer(core.ConnID(m.Conn))
}

// onOffer: answer side. A second offer from the same peer means their
// old link is a zombie (reload, crash); tear it down and start clean.
func (o *Orchestrator) onOffer(m protocol.RelayedOffer) {
	remote := core.ConnID(m.From)

	o.mu.Lock()
	if !o.inCall {
		o.mu.Unlock()
		return
	}
	if old, ok := o.peers[remote]; ok {
		log.Info().Str("module", "client").Str("peer", m.From).Msg("duplicate offer, replacing stale link")
		old.link.Close()
		delete(o.peers, remote)
	}
	pl, err := o.createLinkLocked(remote, m.FromName, false)
	if err != nil {
		o.mu.Unlock()
		log.Error().Err(err).Str("module", "client").Str("peer", m.From).Msg("link create failed")
		return
	}

	answer, err := pl.link.ApplyOffer(m.SDP)
	if err != nil {
		delete(o.peers, remote)
		o.mu.Unlock()
		pl.link.Close()
		log.Error().Err(err).Str("module", "client").Str("peer", m.From).Msg("offer apply failed")
		return
	}
	pl.remoteSet = true
	o.flushQueueLocked(pl)
	o.mu.Unlock()

	_ = o.tr.Send(protocol.Answer{Type: protocol.TypeAnswer, To: m.From, SDP: answer})
}

func (o *Orchestrator) onAnswer(m protocol.RelayedAnswer) {
	remote := core.ConnID(m.From)

	o.mu.Lock()
	pl, ok := o.peers[remote]
	if !ok || !pl.initiator {
		o.mu.Unlock()
		return
	}
	if err := pl.link.ApplyAnswer(m.SDP); err != nil {
		o.mu.Unlock()
		log.Error().Err(err).Str("module", "client").Str("peer", m.From).Msg("answer apply failed")
		return
	}
	pl.remoteSet = true
	pl.restarting = false
	o.flushQueueLocked(pl)
	o.mu.Unlock()
}

// onCandidate: three destinies. Known peer with remote description →
// apply now. Known peer still negotiating → per-link queue. Unknown
// peer → holding pen until their offer arrives.
func (o *Orchestrator) onCandidate(m protocol.RelayedCandidate) {
	remote := core.ConnID(m.From)

	o.mu.Lock()
	defer o.mu.Unlock()
	pl, ok := o.peers[remote]
	if !ok {
		if o.inCall {
			o.holding[remote] = append(o.holding[remote], m.Candidate)
		}
		return
	}
	if !pl.remoteSet {
		pl.queue = append(pl.queue, m.Candidate)
		return
	}
	if err := pl.link.AddCandidate(m.Candidate); err != nil {
		log.Warn().Err(err).Str("module", "client").Str("peer", m.From).Msg("candidate rejected")
	}
}

// onRestart: the initiator pushed an ICE-restart offer over the live
// link. Answer it in place; no new link is minted.
func (o *Orchestrator) onRestart(m protocol.RelayedRestart) {
	remote := core.ConnID(m.From)

	o.mu.Lock()
	pl, ok := o.peers[remote]
	if !ok {
		o.mu.Unlock()
		// No link to restart; treat it as a fresh offer.
		o.onOffer(protocol.RelayedOffer{Type: protocol.TypeOffer, From: m.From, FromName: m.FromName, SDP: m.SDP})
		return
	}
	answer, err := pl.link.ApplyOffer(m.SDP)
	if err != nil {
		o.mu.Unlock()
		log.Error().Err(err).Str("module", "client").Str("peer", m.From).Msg("restart apply failed")
		return
	}
	o.mu.Unlock()

	_ = o.tr.Send(protocol.Answer{Type: protocol.TypeAnswer, To: m.From, SDP: answer})
}

// ---- link lifecycle ----

// createLinkLocked mints a link, attaches local media, wires candidate
// and state callbacks, and drains the holding pen into the per-link
// queue so early candidates keep their arrival order.
func (o *Orchestrator) createLinkLocked(remote core.ConnID, name string, initiator bool) (*peerLink, error) {
	l, err := o.links.NewLink()
	if err != nil {
		return nil, err
	}
	if o.local != nil {
		if err := l.AttachTracks(o.local); err != nil {
			l.Close()
			return nil, err
		}
	}

	pl := &peerLink{remote: remote, name: name, link: l, initiator: initiator}
	gen := o.gen

	l.OnCandidate(func(c protocol.ICECandidate) {
		_ = o.tr.Send(protocol.Candidate{Type: protocol.TypeCandidate, To: string(remote), Candidate: c})
	})
	l.OnStateChange(func(s LinkState) {
		o.onLinkState(remote, gen, s)
	})

	o.peers[remote] = pl
	if held, ok := o.holding[remote]; ok {
		pl.queue = append(pl.queue, held...)
		delete(o.holding, remote)
	}
	return pl, nil
}

func (o *Orchestrator) flushQueueLocked(pl *peerLink) {
	for _, c := range pl.queue {
		if err := pl.link.AddCandidate(c); err != nil {
			log.Warn().Err(err).Str("module", "client").Str("peer", string(pl.remote)).Msg("queued candidate rejected")
		}
	}
	pl.queue = nil
}

// onLinkState fires from the ICE agent's goroutine. A failed link on
// the offering side triggers an ICE restart, rate-limited per peer.
func (o *Orchestrator) onLinkState(remote core.ConnID, gen uint64, s LinkState) {
	if s != LinkFailed && s != LinkDisconnected {
		return
	}

	o.mu.Lock()
	if o.gen != gen {
		o.mu.Unlock()
		return
	}
	pl, ok := o.peers[remote]
	if !ok || !pl.initiator || pl.restarting {
		o.mu.Unlock()
		return
	}
	now := o.clock.Now()
	if now.Sub(pl.lastRestart) < o.cooldown {
		o.mu.Unlock()
		return
	}
	pl.lastRestart = now
	pl.restarting = true
	link := pl.link
	o.mu.Unlock()

	log.Info().Str("module", "client").Str("peer", string(remote)).Str("state", s.String()).Msg("attempting ice restart")
	sdp, err := link.CreateOffer(true)
	if err != nil {
		log.Error().Err(err).Str("module", "client").Str("peer", string(remote)).Msg("restart offer failed")
		return
	}
	_ = o.tr.Send(protocol.IceRestart{Type: protocol.TypeIceRestart, To: string(remote), SDP: sdp})
}

func (o *Orchestrator) dropPeer(remote core.ConnID) {
	o.mu.Lock()
	pl, ok := o.peers[remote]
	if ok {
		delete(o.peers, remote)
	}
	delete(o.holding, remote)
	o.mu.Unlock()
	if ok {
		pl.link.Close()
	}
}

// teardownAll closes every link and releases local media. Bumping gen
// strands any in-flight async work from the old call.
func (o *Orchestrator) teardownAll() {
	o.mu.Lock()
	o.gen++
	peers := o.peers
	local := o.local
	o.peers = make(map[core.ConnID]*peerLink)
	o.holding = make(map[core.ConnID][]protocol.ICECandidate)
	o.inCall = false
	o.local = nil
	o.mu.Unlock()

	for _, pl := range peers {
		pl.link.Close()
	}
	if local != nil {
		local.Close()
	}
}

// Peers reports the currently linked remotes, for UI listing.
func (o *Orchestrator) Peers() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.peers))
	for id := range o.peers {
		out = append(out, string(id))
	}
	return out
}

// InCall reports whether local media is live.
func (o *Orchestrator) InCall() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.inCall
}
