package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
	"github.com/rs/zerolog/log"

	"github.com/thespecialone1/sharedrop/internal/domain"
)

// MediaSource supplies encoded frames from the local devices. The
// actual device plumbing (portaudio, v4l2, a file) lives behind this
// interface; the pump below only moves samples onto tracks.
type MediaSource interface {
	// ReadAudio blocks until the next Opus frame is available.
	ReadAudio() (media.Sample, error)
	// ReadVideo blocks until the next VP8 frame is available. Only
	// called when the capture kind includes video.
	ReadVideo() (media.Sample, error)
	Close() error
}

// SampleCapture implements CaptureStream over static sample tracks.
// Disabling a track keeps the pump reading (device timing stays warm)
// but drops the frames, which is how mute works without renegotiation.
type SampleCapture struct {
	kind   domain.MediaKind
	src    MediaSource
	audio  *webrtc.TrackLocalStaticSample
	video  *webrtc.TrackLocalStaticSample
	cancel context.CancelFunc

	audioOn atomic.Bool
	videoOn atomic.Bool

	closeOnce sync.Once
}

func NewSampleCapture(ctx context.Context, kind domain.MediaKind, src MediaSource) (*SampleCapture, error) {
	if !kind.Valid() {
		return nil, errors.New("unknown media kind")
	}

	audio, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio", "sharedrop-"+uuid.NewString(),
	)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	c := &SampleCapture{kind: kind, src: src, audio: audio, cancel: cancel}
	c.audioOn.Store(true)

	if kind == domain.MediaAudioVideo {
		video, err := webrtc.NewTrackLocalStaticSample(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8},
			"video", "sharedrop-"+uuid.NewString(),
		)
		if err != nil {
			cancel()
			return nil, err
		}
		c.video = video
		c.videoOn.Store(true)
		go c.pump(ctx, "video", src.ReadVideo, video, &c.videoOn)
	}

	go c.pump(ctx, "audio", src.ReadAudio, audio, &c.audioOn)
	return c, nil
}

func (c *SampleCapture) pump(ctx context.Context, label string, read func() (media.Sample, error), track *webrtc.TrackLocalStaticSample, on *atomic.Bool) {
	for {
		sample, err := read()
		if err != nil {
			if ctx.Err() == nil {
				log.Error().Err(err).Str("module", "client.media").Str("track", label).Msg("source read failed")
			}
			return
		}
		if ctx.Err() != nil {
			return
		}
		if !on.Load() {
			continue
		}
		if err := track.WriteSample(sample); err != nil {
			log.Warn().Err(err).Str("module", "client.media").Str("track", label).Msg("sample write failed")
		}
	}
}

func (c *SampleCapture) Kind() domain.MediaKind { return c.kind }

func (c *SampleCapture) Tracks() []webrtc.TrackLocal {
	tracks := []webrtc.TrackLocal{c.audio}
	if c.video != nil {
		tracks = append(tracks, c.video)
	}
	return tracks
}

func (c *SampleCapture) SetAudioEnabled(on bool) { c.audioOn.Store(on) }
func (c *SampleCapture) AudioEnabled() bool      { return c.audioOn.Load() }
func (c *SampleCapture) SetVideoEnabled(on bool) { c.videoOn.Store(on) }

func (c *SampleCapture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.src.Close()
	})
	return err
}
