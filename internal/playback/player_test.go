package playback

import (
	"bytes"
	"math"
	"sync"
	"testing"
	"time"

	wav "github.com/youpy/go-wav"
)

type eventLog struct {
	mu        sync.Mutex
	captions  []string
	completes int
	spectra   int
}

func (e *eventLog) events() Events {
	return Events{
		OnSpectrum: func([]float64) {
			e.mu.Lock()
			e.spectra++
			e.mu.Unlock()
		},
		OnWord: func(shown string) {
			e.mu.Lock()
			e.captions = append(e.captions, shown)
			e.mu.Unlock()
		},
		OnComplete: func() {
			e.mu.Lock()
			e.completes++
			e.mu.Unlock()
		},
	}
}

func (e *eventLog) completed() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.completes
}

func (e *eventLog) lastCaption() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.captions) == 0 {
		return ""
	}
	return e.captions[len(e.captions)-1]
}

// drain pumps the output callback until the player reports idle.
func drain(t *testing.T, p *Player) {
	t.Helper()
	out := make([]int16, 1024)
	for i := 0; i < 1000; i++ {
		if !p.Playing() {
			return
		}
		p.fill(out)
	}
	t.Fatal("player never drained")
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func TestPlaybackDrainsAndCompletesOnce(t *testing.T) {
	ev := &eventLog{}
	p := NewPlayer(time.Hour, ev.events(), nil)

	p.PlayPCM(make([]int16, 3000), "hello there candidate")
	if !p.Playing() {
		t.Fatal("not playing after PlayPCM")
	}
	drain(t, p)

	if got := ev.completed(); got != 1 {
		t.Fatalf("OnComplete fired %d times, want 1", got)
	}
	if got := ev.lastCaption(); got != "hello there candidate" {
		t.Fatalf("final caption %q, want full text", got)
	}
	if p.Caption() != "hello there candidate" {
		t.Fatalf("Caption() = %q after natural end", p.Caption())
	}
}

func TestEmptyAudioCompletesImmediately(t *testing.T) {
	ev := &eventLog{}
	p := NewPlayer(time.Hour, ev.events(), nil)

	p.PlayPCM(nil, "short one")
	if got := ev.completed(); got != 1 {
		t.Fatalf("OnComplete fired %d times, want 1", got)
	}
	if p.Playing() {
		t.Fatal("still playing with no audio")
	}
}

func TestWordCadenceRevealsIncrementally(t *testing.T) {
	ev := &eventLog{}
	p := NewPlayer(10*time.Millisecond, ev.events(), nil)
	defer p.Stop()

	p.PlayPCM(make([]int16, playbackRate*10), "tell me about yourself")
	waitFor(t, func() bool { return p.Caption() != "" }, "first word never revealed")
	waitFor(t, func() bool {
		return p.Caption() == "tell me about yourself"
	}, "caption never fully revealed")
}

func TestPauseFreezesOffsetAndCaption(t *testing.T) {
	ev := &eventLog{}
	p := NewPlayer(10*time.Millisecond, ev.events(), nil)
	defer p.Stop()

	p.PlayPCM(make([]int16, 4096), "one two three four five six")
	out := make([]int16, 1024)
	p.fill(out)
	waitFor(t, func() bool { return p.Caption() != "" }, "no words before pause")

	p.Pause()
	if !p.Paused() {
		t.Fatal("not paused")
	}
	frozen := p.Caption()

	// Neither the device callback nor the ticker advances while paused.
	p.fill(out)
	p.fill(out)
	time.Sleep(50 * time.Millisecond)
	if got := p.Caption(); got != frozen {
		t.Fatalf("caption advanced while paused: %q -> %q", frozen, got)
	}
	if ev.completed() != 0 {
		t.Fatal("completed while paused")
	}

	p.Resume()
	drain(t, p)
	if got := ev.completed(); got != 1 {
		t.Fatalf("OnComplete fired %d times after resume, want 1", got)
	}
}

func TestStopResetsPosition(t *testing.T) {
	ev := &eventLog{}
	p := NewPlayer(time.Hour, ev.events(), nil)

	p.PlayPCM(make([]int16, 4096), "a b c")
	p.fill(make([]int16, 1024))
	p.Stop()

	if p.Playing() || p.Paused() {
		t.Fatal("player not idle after Stop")
	}
	if p.Caption() != "" {
		t.Fatalf("caption %q after Stop, want empty", p.Caption())
	}
	if ev.completed() != 0 {
		t.Fatal("OnComplete fired on Stop")
	}
}

func TestFillEmitsSpectrum(t *testing.T) {
	ev := &eventLog{}
	p := NewPlayer(time.Hour, ev.events(), nil)
	defer p.Stop()

	pcm := make([]int16, 2048)
	for i := range pcm {
		pcm[i] = int16(10000 * math.Sin(float64(i)*2*math.Pi*440/playbackRate))
	}
	p.PlayPCM(pcm, "")
	p.fill(make([]int16, 1024))

	ev.mu.Lock()
	defer ev.mu.Unlock()
	if ev.spectra == 0 {
		t.Fatal("no spectrum emitted while playing")
	}
}

func TestDecodeWAVRoundTrip(t *testing.T) {
	samples := make([]wav.Sample, 480)
	for i := range samples {
		samples[i].Values[0] = 1200
	}
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), 1, playbackRate, 16)
	if err := w.WriteSamples(samples); err != nil {
		t.Fatal(err)
	}

	pcm, err := DecodePCM(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != 480 {
		t.Fatalf("decoded %d samples, want 480", len(pcm))
	}
	if pcm[0] != 1200 || pcm[len(pcm)-1] != 1200 {
		t.Fatalf("decoded values wrong: first=%d last=%d", pcm[0], pcm[len(pcm)-1])
	}
}

func TestDecodeWAVResamplesToPlaybackRate(t *testing.T) {
	samples := make([]wav.Sample, 24000)
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), 1, 24000, 16)
	if err := w.WriteSamples(samples); err != nil {
		t.Fatal(err)
	}

	pcm, err := DecodePCM(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if len(pcm) != playbackRate {
		t.Fatalf("resampled length %d, want %d", len(pcm), playbackRate)
	}
}

func TestDecodeRejectsUnknownContainer(t *testing.T) {
	if _, err := DecodePCM([]byte("ID3\x04garbage")); err != ErrUnsupportedAudio {
		t.Fatalf("got %v, want ErrUnsupportedAudio", err)
	}
}

func TestComputeBars(t *testing.T) {
	silent := computeBars(make([]int16, 1024))
	for i, b := range silent {
		if b != 0 {
			t.Fatalf("bar %d = %f for silence, want 0", i, b)
		}
	}

	tone := make([]int16, 1024)
	for i := range tone {
		tone[i] = int16(20000 * math.Sin(float64(i)*2*math.Pi*440/playbackRate))
	}
	bars := computeBars(tone)
	var peak float64
	for _, b := range bars {
		if b > peak {
			peak = b
		}
	}
	if peak == 0 {
		t.Fatal("no energy reported for a 440Hz tone")
	}
}
