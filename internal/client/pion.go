package client

import (
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/config"
	"github.com/thespecialone1/sharedrop/internal/protocol"
)

// PionFactory builds MediaLinks backed by pion peer connections.
type PionFactory struct {
	cfg     webrtc.Configuration
	onTrack func(remote *webrtc.TrackRemote)
}

func NewPionFactory(servers []config.ICEServer) *PionFactory {
	ice := make([]webrtc.ICEServer, 0, len(servers))
	for _, s := range servers {
		ice = append(ice, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return &PionFactory{cfg: webrtc.Configuration{ICEServers: ice}}
}

// OnRemoteTrack registers the consumer for inbound media. Applies to
// links created after the call.
func (f *PionFactory) OnRemoteTrack(fn func(remote *webrtc.TrackRemote)) {
	f.onTrack = fn
}

func (f *PionFactory) NewLink() (MediaLink, error) {
	pc, err := webrtc.NewPeerConnection(f.cfg)
	if err != nil {
		return nil, err
	}
	l := &pionLink{pc: pc}
	onTrack := f.onTrack
	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		log.Debug().Str("module", "client.pion").Str("kind", remote.Kind().String()).Msg("remote track")
		if onTrack != nil {
			onTrack(remote)
		}
	})
	return l, nil
}

type pionLink struct {
	pc *webrtc.PeerConnection

	mu      sync.Mutex
	onCand  func(protocol.ICECandidate)
	onState func(LinkState)
}

func (l *pionLink) CreateOffer(iceRestart bool) (string, error) {
	var opts *webrtc.OfferOptions
	if iceRestart {
		opts = &webrtc.OfferOptions{ICERestart: true}
	}
	offer, err := l.pc.CreateOffer(opts)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(offer); err != nil {
		return "", err
	}
	return offer.SDP, nil
}

func (l *pionLink) ApplyOffer(sdp string) (string, error) {
	if err := l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdp,
	}); err != nil {
		return "", err
	}
	answer, err := l.pc.CreateAnswer(nil)
	if err != nil {
		return "", err
	}
	if err := l.pc.SetLocalDescription(answer); err != nil {
		return "", err
	}
	return answer.SDP, nil
}

func (l *pionLink) ApplyAnswer(sdp string) error {
	return l.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdp,
	})
}

func (l *pionLink) AddCandidate(c protocol.ICECandidate) error {
	init := webrtc.ICECandidateInit{
		Candidate:        c.Candidate,
		SDPMid:           c.SDPMid,
		SDPMLineIndex:    c.SDPMLineIndex,
		UsernameFragment: c.UsernameFrag,
	}
	return l.pc.AddICECandidate(init)
}

func (l *pionLink) AttachTracks(capture CaptureStream) error {
	for _, track := range capture.Tracks() {
		if _, err := l.pc.AddTrack(track); err != nil {
			return err
		}
	}
	return nil
}

func (l *pionLink) OnCandidate(fn func(protocol.ICECandidate)) {
	l.mu.Lock()
	l.onCand = fn
	l.mu.Unlock()
	l.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		l.mu.Lock()
		cb := l.onCand
		l.mu.Unlock()
		if cb != nil {
			cb(protocol.ICECandidate{
				Candidate:     init.Candidate,
				SDPMid:        init.SDPMid,
				SDPMLineIndex: init.SDPMLineIndex,
				UsernameFrag:  init.UsernameFragment,
			})
		}
	})
}

func (l *pionLink) OnStateChange(fn func(LinkState)) {
	l.mu.Lock()
	l.onState = fn
	l.mu.Unlock()
	l.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		l.mu.Lock()
		cb := l.onState
		l.mu.Unlock()
		if cb != nil {
			cb(mapState(s))
		}
	})
}

func (l *pionLink) Close() error { return l.pc.Close() }

func mapState(s webrtc.PeerConnectionState) LinkState {
	switch s {
	case webrtc.PeerConnectionStateConnected:
		return LinkConnected
	case webrtc.PeerConnectionStateDisconnected:
		return LinkDisconnected
	case webrtc.PeerConnectionStateFailed:
		return LinkFailed
	case webrtc.PeerConnectionStateClosed:
		return LinkClosed
	default:
		return LinkNew
	}
}
