package playback

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"go.uber.org/zap"
)

const framesPerBuffer = 1024

// Events are the player's outbound notifications. All callbacks run off the
// audio thread's critical section but may run on its goroutine; keep them
// short.
type Events struct {
	// OnSpectrum receives bar heights for the most recent output window.
	OnSpectrum func(bars []float64)
	// OnWord receives the caption revealed so far, one word at a time.
	OnWord func(shown string)
	// OnComplete fires once per Play when the audio runs out naturally.
	OnComplete func()
}

// Player drives question and response audio to the speakers while animating
// a bar spectrum and a word-cadence caption. The output device is opened once
// and reused across questions; Play only swaps the PCM source.
type Player struct {
	wordEvery time.Duration
	events    Events
	logger    *zap.Logger

	mu       sync.Mutex
	pcm      []int16
	offset   int
	playing  bool
	paused   bool
	words    []string
	wordIdx  int
	gen      int
	tickStop chan struct{}

	paStream *portaudio.Stream
	paInit   bool
}

// NewPlayer constructs a player. The output device is not touched until
// OpenDevice.
func NewPlayer(wordEvery time.Duration, ev Events, logger *zap.Logger) *Player {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Player{wordEvery: wordEvery, events: ev, logger: logger}
}

// OpenDevice opens and starts the default output stream. The stream outputs
// silence while nothing is playing, so it stays started for the whole
// session.
func (p *Player) OpenDevice() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("initialize portaudio: %w", err)
	}
	p.paInit = true
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(playbackRate), framesPerBuffer, p.fill)
	if err != nil {
		return fmt.Errorf("open output stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fmt.Errorf("start output stream: %w", err)
	}
	p.paStream = stream
	p.logger.Info("output device opened", zap.Int("sampleRate", playbackRate))
	return nil
}

// CloseDevice stops the session's output stream and releases portaudio.
func (p *Player) CloseDevice() {
	p.Stop()
	if p.paStream != nil {
		p.paStream.Stop()
		p.paStream.Close()
		p.paStream = nil
	}
	if p.paInit {
		portaudio.Terminate()
		p.paInit = false
	}
}

// Play decodes the payload and starts it from the beginning with a fresh
// caption. Any previous playback is discarded.
func (p *Player) Play(audio []byte, caption string) error {
	pcm, err := DecodePCM(audio)
	if err != nil {
		return err
	}
	p.PlayPCM(pcm, caption)
	return nil
}

// PlayPCM starts already-decoded PCM. Split out from Play so callers holding
// raw samples skip the container sniff.
func (p *Player) PlayPCM(pcm []int16, caption string) {
	p.mu.Lock()
	p.stopTickerLocked()
	p.pcm = pcm
	p.offset = 0
	p.words = strings.Fields(caption)
	p.wordIdx = 0
	p.playing = true
	p.paused = false
	p.gen++
	gen := p.gen
	stop := make(chan struct{})
	p.tickStop = stop
	empty := len(pcm) == 0
	p.mu.Unlock()

	if empty {
		p.finish(gen)
		return
	}
	go p.runTicker(stop)
}

func (p *Player) runTicker(stop chan struct{}) {
	t := time.NewTicker(p.wordEvery)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
			p.revealNext()
		}
	}
}

func (p *Player) revealNext() {
	p.mu.Lock()
	if !p.playing || p.paused || p.wordIdx >= len(p.words) {
		p.mu.Unlock()
		return
	}
	p.wordIdx++
	shown := strings.Join(p.words[:p.wordIdx], " ")
	p.mu.Unlock()
	if p.events.OnWord != nil {
		p.events.OnWord(shown)
	}
}

// fill is the output stream callback. It copies the next slice of the source
// into the device buffer, zero-filling when idle, paused, or drained.
func (p *Player) fill(out []int16) {
	p.mu.Lock()
	if !p.playing || p.paused || p.offset >= len(p.pcm) {
		p.mu.Unlock()
		for i := range out {
			out[i] = 0
		}
		return
	}
	n := copy(out, p.pcm[p.offset:])
	p.offset += n
	for i := n; i < len(out); i++ {
		out[i] = 0
	}
	done := p.offset >= len(p.pcm)
	gen := p.gen
	window := p.pcm[p.offset-n : p.offset]
	p.mu.Unlock()

	if p.events.OnSpectrum != nil {
		p.events.OnSpectrum(computeBars(window))
	}
	if done {
		p.finish(gen)
	}
}

// finish completes playback naturally: the rest of the caption is revealed
// in one step, then OnComplete fires. The generation check drops completions
// that lost a race with a newer Play or a Stop.
func (p *Player) finish(gen int) {
	p.mu.Lock()
	if !p.playing || gen != p.gen {
		p.mu.Unlock()
		return
	}
	p.playing = false
	p.paused = false
	p.stopTickerLocked()
	p.wordIdx = len(p.words)
	shown := strings.Join(p.words, " ")
	p.mu.Unlock()

	if p.events.OnWord != nil && shown != "" {
		p.events.OnWord(shown)
	}
	if p.events.OnComplete != nil {
		p.events.OnComplete()
	}
}

// Pause freezes the sample offset and the caption ticker.
func (p *Player) Pause() {
	p.mu.Lock()
	if p.playing {
		p.paused = true
	}
	p.mu.Unlock()
}

// Resume continues from the paused offset and word index.
func (p *Player) Resume() {
	p.mu.Lock()
	p.paused = false
	p.mu.Unlock()
}

// Stop halts playback and resets the position. OnComplete does not fire.
func (p *Player) Stop() {
	p.mu.Lock()
	p.playing = false
	p.paused = false
	p.offset = 0
	p.wordIdx = 0
	p.pcm = nil
	p.words = nil
	p.gen++
	p.stopTickerLocked()
	p.mu.Unlock()
}

func (p *Player) stopTickerLocked() {
	if p.tickStop != nil {
		close(p.tickStop)
		p.tickStop = nil
	}
}

// Playing reports whether audio is loaded and not finished.
func (p *Player) Playing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Paused reports whether playback is frozen mid-question.
func (p *Player) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing && p.paused
}

// Caption returns the portion of the caption revealed so far.
func (p *Player) Caption() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return strings.Join(p.words[:p.wordIdx], " ")
}
