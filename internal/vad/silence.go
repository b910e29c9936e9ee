package vad

import (
	"sync"
	"time"
)

// SilenceConfirmer turns raw stopped-speaking edges into a confirmed
// "answer complete" signal. A stopped-speaking edge arms a cancellable delay;
// renewed speech before the delay elapses cancels the pending confirmation.
// The confirmation only arms after speech has been heard at least once, so an
// entirely silent microphone does not immediately end a recording.
type SilenceConfirmer struct {
	window    time.Duration
	onSilence func()

	mu    sync.Mutex
	timer *time.Timer
	heard bool
}

// NewSilenceConfirmer creates a confirmer with the given silence window.
func NewSilenceConfirmer(window time.Duration, onSilence func()) *SilenceConfirmer {
	return &SilenceConfirmer{window: window, onSilence: onSilence}
}

// Speaking records renewed speech and cancels any pending confirmation.
func (c *SilenceConfirmer) Speaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heard = true
	c.stopTimerLocked()
}

// StoppedSpeaking arms the confirmation window if speech was heard before.
func (c *SilenceConfirmer) StoppedSpeaking() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.heard {
		return
	}
	c.stopTimerLocked()
	c.timer = time.AfterFunc(c.window, c.onSilence)
}

// Cancel drops any pending confirmation and resets the heard flag.
func (c *SilenceConfirmer) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.heard = false
	c.stopTimerLocked()
}

func (c *SilenceConfirmer) stopTimerLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
