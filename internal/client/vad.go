package client

import (
	"sync"
	"time"

	"github.com/thespecialone1/sharedrop/internal/core"
)

// SpeakingDetector turns a stream of audio energy readings into clean
// speaking on/off edges. Speech starts the moment energy crosses the
// threshold; it ends only after the level has stayed below for the
// decay window and a short confirmation hold has passed, so syllable
// gaps do not flicker the indicator.
type SpeakingDetector struct {
	threshold float64
	decay     time.Duration
	hold      time.Duration
	clock     core.Clock
	onChange  func(speaking bool)

	mu        sync.Mutex
	speaking  bool
	lastAbove time.Time
	offTimer  core.Timer
	closed    bool
}

func NewSpeakingDetector(threshold float64, decay, hold time.Duration, clock core.Clock, onChange func(bool)) *SpeakingDetector {
	return &SpeakingDetector{
		threshold: threshold,
		decay:     decay,
		hold:      hold,
		clock:     clock,
		onChange:  onChange,
	}
}

// Process feeds one energy reading, normalized to 0..1. Callbacks fire
// only on actual state changes.
func (d *SpeakingDetector) Process(level float64) {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	now := d.clock.Now()

	if level > d.threshold {
		d.lastAbove = now
		if d.offTimer != nil {
			d.offTimer.Stop()
			d.offTimer = nil
		}
		if !d.speaking {
			d.speaking = true
			cb := d.onChange
			d.mu.Unlock()
			if cb != nil {
				cb(true)
			}
			return
		}
		d.mu.Unlock()
		return
	}

	if d.speaking && d.offTimer == nil && now.Sub(d.lastAbove) >= d.decay {
		d.offTimer = d.clock.AfterFunc(d.hold, d.confirmOff)
	}
	d.mu.Unlock()
}

// confirmOff fires after the hold. Any level spike in between cleared
// the timer, so reaching here means silence really settled.
func (d *SpeakingDetector) confirmOff() {
	d.mu.Lock()
	if d.closed || !d.speaking {
		d.offTimer = nil
		d.mu.Unlock()
		return
	}
	d.speaking = false
	d.offTimer = nil
	cb := d.onChange
	d.mu.Unlock()
	if cb != nil {
		cb(false)
	}
}

// Speaking reports the current state.
func (d *SpeakingDetector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

// Close stops pending timers; no callbacks fire afterwards.
func (d *SpeakingDetector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	if d.offTimer != nil {
		d.offTimer.Stop()
		d.offTimer = nil
	}
}
