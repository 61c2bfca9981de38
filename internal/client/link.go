package client

import (
	"github.com/pion/webrtc/v4"

	"github.com/thespecialone1/sharedrop/internal/domain"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

// LinkState is the coarse health of one peer link.
type LinkState int

const (
	LinkNew LinkState = iota
	LinkConnected
	LinkDisconnected
	LinkFailed
	LinkClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkNew:
		return "new"
	case LinkConnected:
		return "connected"
	case LinkDisconnected:
		return "disconnected"
	case LinkFailed:
		return "failed"
	case LinkClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MediaLink is one peer connection, abstracted so the orchestrator can
// be driven in tests without a real ICE agent.
type MediaLink interface {
	// CreateOffer produces a local offer (optionally an ICE-restart
	// offer) and installs it as the local description.
	CreateOffer(iceRestart bool) (sdp string, err error)
	// ApplyOffer installs a remote offer and returns the local answer.
	ApplyOffer(sdp string) (answer string, err error)
	// ApplyAnswer installs the remote answer on an offering link.
	ApplyAnswer(sdp string) error
	AddCandidate(c protocol.ICECandidate) error
	// AttachTracks adds the local capture tracks before negotiation.
	AttachTracks(capture CaptureStream) error
	OnCandidate(fn func(protocol.ICECandidate))
	OnStateChange(fn func(LinkState))
	Close() error
}

// LinkFactory mints fresh links, one per remote peer.
type LinkFactory interface {
	NewLink() (MediaLink, error)
}

// CaptureStream is the local media being shared into every link.
// Muting flips track delivery without renegotiation.
type CaptureStream interface {
	Kind() domain.MediaKind
	Tracks() []webrtc.TrackLocal
	SetAudioEnabled(on bool)
	AudioEnabled() bool
	SetVideoEnabled(on bool)
	Close() error
}

// CaptureFactory acquires local devices for the given media kind. The
// acquisition can be slow (permission prompts), so the orchestrator
// calls it outside its lock and re-checks that the call is still
// wanted afterwards.
type CaptureFactory func(kind domain.MediaKind) (CaptureStream, error)
