package vad

import (
	"sync/atomic"
	"testing"
	"time"
)

func TestSilenceConfirmer_FiresAfterWindow(t *testing.T) {
	var fired atomic.Int32
	c := NewSilenceConfirmer(30*time.Millisecond, func() { fired.Add(1) })

	c.Speaking()
	c.StoppedSpeaking()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 1 {
		t.Fatalf("expected confirmation after window, got %d", fired.Load())
	}
}

func TestSilenceConfirmer_RenewedSpeechCancels(t *testing.T) {
	var fired atomic.Int32
	c := NewSilenceConfirmer(50*time.Millisecond, func() { fired.Add(1) })

	c.Speaking()
	c.StoppedSpeaking()
	time.Sleep(10 * time.Millisecond)
	c.Speaking() // cancels the pending confirmation
	time.Sleep(100 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("renewed speech must cancel confirmation, got %d fires", fired.Load())
	}
}

func TestSilenceConfirmer_RequiresSpeechFirst(t *testing.T) {
	var fired atomic.Int32
	c := NewSilenceConfirmer(10*time.Millisecond, func() { fired.Add(1) })

	c.StoppedSpeaking() // no speech heard yet
	time.Sleep(50 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("confirmation must only arm after speech was heard")
	}
}

func TestSilenceConfirmer_Cancel(t *testing.T) {
	var fired atomic.Int32
	c := NewSilenceConfirmer(30*time.Millisecond, func() { fired.Add(1) })

	c.Speaking()
	c.StoppedSpeaking()
	c.Cancel()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("cancel must drop the pending confirmation")
	}

	// After Cancel the heard flag resets too.
	c.StoppedSpeaking()
	time.Sleep(80 * time.Millisecond)
	if fired.Load() != 0 {
		t.Fatalf("heard flag must reset on cancel")
	}
}
