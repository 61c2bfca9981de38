package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thespecialone1/sharedrop/internal/protocol"
)

func TestRelayTagsSender(t *testing.T) {
	hub := newFakeHub()
	hub.add(t, "a1", "main", "Alice")
	hub.add(t, "b1", "main", "Bob")
	r := NewRelay(hub, hub)

	from, ok := hub.Lookup("a1")
	require.True(t, ok)
	r.Offer(from, "b1", "sdp-offer")

	hub.mu.Lock()
	defer hub.mu.Unlock()
	require.Len(t, hub.sent, 1)
	offer, ok := hub.sent[0].msg.(protocol.RelayedOffer)
	require.True(t, ok)
	assert.Equal(t, "a1", offer.From)
	assert.Equal(t, "Alice", offer.FromName)
	assert.Equal(t, "sdp-offer", offer.SDP)
}

func TestRelayDropsMissingTarget(t *testing.T) {
	hub := newFakeHub()
	hub.add(t, "a1", "main", "Alice")
	r := NewRelay(hub, hub)

	from, _ := hub.Lookup("a1")
	r.Offer(from, "ghost", "sdp")
	r.Answer(from, "ghost", "sdp")
	r.Restart(from, "ghost", "sdp")
	r.Candidate(from, "ghost", protocol.ICECandidate{Candidate: "c"})

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Empty(t, hub.sent)
}

func TestRelayRefusesCrossRoom(t *testing.T) {
	hub := newFakeHub()
	hub.add(t, "a1", "main", "Alice")
	hub.add(t, "b1", "other", "Bob")
	r := NewRelay(hub, hub)

	from, _ := hub.Lookup("a1")
	r.Candidate(from, "b1", protocol.ICECandidate{Candidate: "c"})

	hub.mu.Lock()
	defer hub.mu.Unlock()
	assert.Empty(t, hub.sent)
}
