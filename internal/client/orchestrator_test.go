package client

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thespecialone1/sharedrop/internal/core"
	"github.com/thespecialone1/sharedrop/internal/domain"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

// ---- test fakes ----

type fakeTimer struct {
	clock   *fakeClock
	fireAt  time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) core.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{clock: c, fireAt: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.fireAt.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	for _, t := range due {
		t.fn()
	}
}

// fakeTransport records outbound traffic and answers requests from a
// canned result table keyed by message type.
type fakeTransport struct {
	mu      sync.Mutex
	sent    []protocol.ClientMessage
	results map[string]protocol.Result
	events  chan protocol.ServerMessage
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		results: make(map[string]protocol.Result),
		events:  make(chan protocol.ServerMessage, 16),
	}
}

func (t *fakeTransport) respond(msgType string, res protocol.Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[msgType] = res
}

func (t *fakeTransport) Request(_ context.Context, msg protocol.ClientMessage) (protocol.Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	if res, ok := t.results[messageType(msg)]; ok {
		return res, nil
	}
	return protocol.Result{Success: true}, nil
}

func (t *fakeTransport) Send(msg protocol.ClientMessage) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, msg)
	return nil
}

func (t *fakeTransport) Events() <-chan protocol.ServerMessage { return t.events }
func (t *fakeTransport) Close() error                          { return nil }

func (t *fakeTransport) sentOfType(msgType string) []protocol.ClientMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []protocol.ClientMessage
	for _, m := range t.sent {
		if messageType(m) == msgType {
			out = append(out, m)
		}
	}
	return out
}

func messageType(m protocol.ClientMessage) string {
	switch m.(type) {
	case protocol.JoinSession:
		return protocol.TypeJoinSession
	case protocol.Start:
		return protocol.TypeStart
	case protocol.Join:
		return protocol.TypeJoin
	case protocol.Leave:
		return protocol.TypeLeave
	case protocol.End:
		return protocol.TypeEnd
	case protocol.Offer:
		return protocol.TypeOffer
	case protocol.Answer:
		return protocol.TypeAnswer
	case protocol.Candidate:
		return protocol.TypeCandidate
	case protocol.IceRestart:
		return protocol.TypeIceRestart
	case protocol.Speaking:
		return protocol.TypeSpeaking
	default:
		return ""
	}
}

type fakeLink struct {
	mu         sync.Mutex
	offers     int
	restarts   int
	gotOffer   string
	gotAnswer  string
	candidates []protocol.ICECandidate
	attached   bool
	closed     bool
	onState    func(LinkState)
}

func (l *fakeLink) CreateOffer(iceRestart bool) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.offers++
	if iceRestart {
		l.restarts++
		return fmt.Sprintf("restart-offer-%d", l.restarts), nil
	}
	return fmt.Sprintf("offer-%d", l.offers), nil
}

func (l *fakeLink) ApplyOffer(sdp string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gotOffer = sdp
	return "answer-to-" + sdp, nil
}

func (l *fakeLink) ApplyAnswer(sdp string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.gotAnswer = sdp
	return nil
}

func (l *fakeLink) AddCandidate(c protocol.ICECandidate) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.candidates = append(l.candidates, c)
	return nil
}

func (l *fakeLink) AttachTracks(CaptureStream) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attached = true
	return nil
}

func (l *fakeLink) OnCandidate(func(protocol.ICECandidate)) {}

func (l *fakeLink) OnStateChange(fn func(LinkState)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onState = fn
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closed = true
	return nil
}

func (l *fakeLink) fire(s LinkState) {
	l.mu.Lock()
	fn := l.onState
	l.mu.Unlock()
	if fn != nil {
		fn(s)
	}
}

func (l *fakeLink) appliedCandidates() []protocol.ICECandidate {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]protocol.ICECandidate(nil), l.candidates...)
}

type fakeFactory struct {
	mu    sync.Mutex
	links []*fakeLink
}

func (f *fakeFactory) NewLink() (MediaLink, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	l := &fakeLink{}
	f.links = append(f.links, l)
	return l, nil
}

func (f *fakeFactory) link(i int) *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[i]
}

func (f *fakeFactory) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.links)
}

type fakeCapture struct {
	mu      sync.Mutex
	kind    domain.MediaKind
	audioOn bool
	closed  bool
}

func (c *fakeCapture) Kind() domain.MediaKind        { return c.kind }
func (c *fakeCapture) Tracks() []webrtc.TrackLocal   { return nil }
func (c *fakeCapture) SetVideoEnabled(bool)          {}
func (c *fakeCapture) SetAudioEnabled(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.audioOn = on
}
func (c *fakeCapture) AudioEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.audioOn
}
func (c *fakeCapture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *fakeTransport, *fakeFactory, *fakeCapture, *fakeClock) {
	t.Helper()
	tr := newFakeTransport()
	factory := &fakeFactory{}
	capture := &fakeCapture{kind: domain.MediaAudio, audioOn: true}
	clock := newFakeClock()
	o := NewOrchestrator(tr, factory, func(domain.MediaKind) (CaptureStream, error) {
		return capture, nil
	}, clock, 5*time.Second, Callbacks{})
	return o, tr, factory, capture, clock
}

func joinTestCall(t *testing.T, o *Orchestrator, tr *fakeTransport) {
	t.Helper()
	tr.respond(protocol.TypeJoinSession, protocol.Result{Success: true, You: "me"})
	require.NoError(t, o.JoinSession(context.Background(), "main", "Me", ""))
	require.NoError(t, o.JoinCall(context.Background(), domain.MediaAudio))
	require.True(t, o.InCall())
}

// ---- membership-driven negotiation ----

func TestExistingSideOffersToNewcomer(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RoomJoined{Type: protocol.TypeRoomJoined, Conn: "b1", Name: "Ben"})

	require.Equal(t, 1, factory.count())
	offers := tr.sentOfType(protocol.TypeOffer)
	require.Len(t, offers, 1)
	offer := offers[0].(protocol.Offer)
	assert.Equal(t, "b1", offer.To)
	assert.Equal(t, "offer-1", offer.SDP)
}

func TestOwnJoinEchoIgnored(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RoomJoined{Type: protocol.TypeRoomJoined, Conn: "me", Name: "Me"})

	assert.Equal(t, 0, factory.count())
	assert.Empty(t, tr.sentOfType(protocol.TypeOffer))
}

func TestNewcomerAnswersOffer(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "their-offer"})

	require.Equal(t, 1, factory.count())
	assert.True(t, factory.link(0).attached)
	answers := tr.sentOfType(protocol.TypeAnswer)
	require.Len(t, answers, 1)
	ans := answers[0].(protocol.Answer)
	assert.Equal(t, "a1", ans.To)
	assert.Equal(t, "answer-to-their-offer", ans.SDP)
}

// A host reload announces itself with a fresh room-started. The host
// has lost all client state, so everyone already in the call must offer
// to the new host connection as if it were a newcomer.
func TestResumedHostGetsFreshOffer(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	// Connected to the host, then the host's socket drops.
	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "h1", FromName: "Host", SDP: "x"})
	require.Equal(t, 1, factory.count())
	o.handle(protocol.RoomLeft{Type: protocol.TypeRoomLeft, Conn: "h1", Name: "Host"})

	o.handle(protocol.RoomStarted{
		Type:             protocol.TypeRoomStarted,
		Room:             "main",
		Kind:             "audio",
		HostConn:         "h2",
		HostName:         "Host",
		ParticipantCount: 2,
	})

	require.Equal(t, 2, factory.count())
	assert.True(t, factory.link(1).attached)
	offers := tr.sentOfType(protocol.TypeOffer)
	require.Len(t, offers, 1)
	offer := offers[0].(protocol.Offer)
	assert.Equal(t, "h2", offer.To)
	assert.Equal(t, "offer-1", offer.SDP)
}

// The cookie makes a fast reload come back under the same connection
// id, so room-started can name a host we still hold a link for. That
// link is dead on the host's side; replace it.
func TestResumedHostSameConnReplacesStaleLink(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "h1", FromName: "Host", SDP: "x"})
	require.Equal(t, 1, factory.count())

	o.handle(protocol.RoomStarted{
		Type:     protocol.TypeRoomStarted,
		Room:     "main",
		Kind:     "audio",
		HostConn: "h1",
		HostName: "Host",
	})

	require.Equal(t, 2, factory.count())
	assert.True(t, factory.link(0).closed, "link to the pre-reload host is gone")
	offers := tr.sentOfType(protocol.TypeOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, "h1", offers[0].(protocol.Offer).To)
}

func TestRoomStartedEchoAndIdleIgnored(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	// Our own start echoes back; no link to ourselves.
	o.handle(protocol.RoomStarted{Type: protocol.TypeRoomStarted, Room: "main", HostConn: "me"})
	assert.Equal(t, 0, factory.count())

	o.handle(protocol.RoomStarted{Type: protocol.TypeRoomStarted, Room: "main"})
	assert.Equal(t, 0, factory.count())

	// Outside a call the announcement is informational only.
	o.handle(protocol.RoomEnded{Type: protocol.TypeRoomEnded, Room: "main"})
	o.handle(protocol.RoomStarted{Type: protocol.TypeRoomStarted, Room: "main", HostConn: "h2"})
	assert.Equal(t, 0, factory.count())
	assert.Empty(t, tr.sentOfType(protocol.TypeOffer))
}

func TestCandidatesQueueUntilAnswer(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RoomJoined{Type: protocol.TypeRoomJoined, Conn: "b1", Name: "Ben"})
	link := factory.link(0)

	// Candidates outrun the answer; nothing reaches the link yet.
	o.handle(protocol.RelayedCandidate{Type: protocol.TypeCandidate, From: "b1", Candidate: protocol.ICECandidate{Candidate: "c1"}})
	o.handle(protocol.RelayedCandidate{Type: protocol.TypeCandidate, From: "b1", Candidate: protocol.ICECandidate{Candidate: "c2"}})
	assert.Empty(t, link.appliedCandidates())

	o.handle(protocol.RelayedAnswer{Type: protocol.TypeAnswer, From: "b1", SDP: "their-answer"})

	applied := link.appliedCandidates()
	require.Len(t, applied, 2)
	assert.Equal(t, "c1", applied[0].Candidate)
	assert.Equal(t, "c2", applied[1].Candidate)

	// Later candidates apply immediately.
	o.handle(protocol.RelayedCandidate{Type: protocol.TypeCandidate, From: "b1", Candidate: protocol.ICECandidate{Candidate: "c3"}})
	assert.Len(t, link.appliedCandidates(), 3)
}

func TestHoldingPenForUnknownPeer(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	// Candidates for a peer we have never heard of wait in the pen.
	o.handle(protocol.RelayedCandidate{Type: protocol.TypeCandidate, From: "x1", Candidate: protocol.ICECandidate{Candidate: "early-1"}})
	o.handle(protocol.RelayedCandidate{Type: protocol.TypeCandidate, From: "x1", Candidate: protocol.ICECandidate{Candidate: "early-2"}})
	require.Equal(t, 0, factory.count())

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "x1", FromName: "Xan", SDP: "late-offer"})

	applied := factory.link(0).appliedCandidates()
	require.Len(t, applied, 2)
	assert.Equal(t, "early-1", applied[0].Candidate)
	assert.Equal(t, "early-2", applied[1].Candidate)
}

func TestDuplicateOfferReplacesZombieLink(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "first"})
	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "second"})

	require.Equal(t, 2, factory.count())
	assert.True(t, factory.link(0).closed, "stale link from the dead tab is gone")
	assert.False(t, factory.link(1).closed)
	assert.Equal(t, "second", factory.link(1).gotOffer)
	assert.Len(t, tr.sentOfType(protocol.TypeAnswer), 2)
}

func TestRoomLeftDropsLink(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "x"})
	require.Equal(t, 1, factory.count())

	o.handle(protocol.RoomLeft{Type: protocol.TypeRoomLeft, Conn: "a1"})
	assert.True(t, factory.link(0).closed)
	assert.Empty(t, o.Peers())
}

// ---- ice restart ----

func TestFailedLinkRestartsWithCooldown(t *testing.T) {
	o, tr, factory, _, clock := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RoomJoined{Type: protocol.TypeRoomJoined, Conn: "b1", Name: "Ben"})
	link := factory.link(0)
	o.handle(protocol.RelayedAnswer{Type: protocol.TypeAnswer, From: "b1", SDP: "ok"})

	clock.Advance(10 * time.Second)
	link.fire(LinkFailed)
	require.Len(t, tr.sentOfType(protocol.TypeIceRestart), 1)

	// Flapping inside the cooldown stays quiet, even after the restart
	// answer lands.
	o.handle(protocol.RelayedAnswer{Type: protocol.TypeAnswer, From: "b1", SDP: "restart-ok"})
	clock.Advance(time.Second)
	link.fire(LinkFailed)
	assert.Len(t, tr.sentOfType(protocol.TypeIceRestart), 1)

	clock.Advance(5 * time.Second)
	link.fire(LinkFailed)
	assert.Len(t, tr.sentOfType(protocol.TypeIceRestart), 2)
}

func TestAnswerSideNeverRestarts(t *testing.T) {
	o, tr, factory, _, clock := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "x"})
	clock.Advance(time.Minute)
	factory.link(0).fire(LinkFailed)

	assert.Empty(t, tr.sentOfType(protocol.TypeIceRestart))
}

func TestRestartOfferAnsweredInPlace(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "x"})
	o.handle(protocol.RelayedRestart{Type: protocol.TypeIceRestart, From: "a1", FromName: "Ann", SDP: "restart-sdp"})

	assert.Equal(t, 1, factory.count(), "restart reuses the live link")
	assert.Equal(t, "restart-sdp", factory.link(0).gotOffer)
	assert.Len(t, tr.sentOfType(protocol.TypeAnswer), 2)
}

// ---- teardown and stale work ----

func TestRoomEndedTearsEverythingDown(t *testing.T) {
	o, tr, factory, capture, clock := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.handle(protocol.RoomJoined{Type: protocol.TypeRoomJoined, Conn: "b1", Name: "Ben"})
	link := factory.link(0)
	o.handle(protocol.RelayedAnswer{Type: protocol.TypeAnswer, From: "b1", SDP: "ok"})

	o.handle(protocol.RoomEnded{Type: protocol.TypeRoomEnded, Room: "main"})

	assert.False(t, o.InCall())
	assert.True(t, link.closed)
	assert.True(t, capture.closed)

	// A state callback from the dead call must not trigger anything.
	clock.Advance(time.Minute)
	link.fire(LinkFailed)
	assert.Empty(t, tr.sentOfType(protocol.TypeIceRestart))
}

func TestKickedTearsDown(t *testing.T) {
	o, tr, factory, capture, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)
	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "x"})

	var gotKicked bool
	o.cb.OnKicked = func(protocol.Kicked) { gotKicked = true }
	o.handle(protocol.Kicked{Type: protocol.TypeKicked, Reason: "bye", Scope: "session"})

	assert.True(t, gotKicked)
	assert.False(t, o.InCall())
	assert.True(t, factory.link(0).closed)
	assert.True(t, capture.closed)
}

func TestJoinCallFailureReleasesCapture(t *testing.T) {
	o, tr, _, capture, _ := newTestOrchestrator(t)
	tr.respond(protocol.TypeJoinSession, protocol.Result{Success: true, You: "me"})
	require.NoError(t, o.JoinSession(context.Background(), "main", "Me", ""))

	tr.respond(protocol.TypeJoin, protocol.Result{Success: false, Error: protocol.ErrLocked})
	err := o.JoinCall(context.Background(), domain.MediaAudio)

	require.Error(t, err)
	assert.Equal(t, protocol.ErrLocked, err.Error())
	assert.True(t, capture.closed)
	assert.False(t, o.InCall())
}

func TestOffersIgnoredWhenNotInCall(t *testing.T) {
	o, tr, factory, _, _ := newTestOrchestrator(t)
	tr.respond(protocol.TypeJoinSession, protocol.Result{Success: true, You: "me"})
	require.NoError(t, o.JoinSession(context.Background(), "main", "Me", ""))

	o.handle(protocol.RelayedOffer{Type: protocol.TypeOffer, From: "a1", FromName: "Ann", SDP: "x"})
	o.handle(protocol.RelayedCandidate{Type: protocol.TypeCandidate, From: "a1", Candidate: protocol.ICECandidate{Candidate: "c"}})

	assert.Equal(t, 0, factory.count())
	assert.Empty(t, tr.sentOfType(protocol.TypeAnswer))
}

func TestMuteFlipsLocalAudioOnly(t *testing.T) {
	o, tr, _, capture, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.SetMuted(true)
	assert.False(t, capture.AudioEnabled())
	o.SetMuted(false)
	assert.True(t, capture.AudioEnabled())
}

func TestSpeakingPush(t *testing.T) {
	o, tr, _, _, _ := newTestOrchestrator(t)
	joinTestCall(t, o, tr)

	o.SetSpeaking(true)
	msgs := tr.sentOfType(protocol.TypeSpeaking)
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].(protocol.Speaking).Speaking)
}
