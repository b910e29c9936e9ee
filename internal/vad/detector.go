package vad

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dwalbeck/job-track-now-portal/internal/capture"
)

// noiseFloorDB is reported when a window contains pure digital silence.
const noiseFloorDB = -96.0

// Events receives speaking-state edges. Callbacks run on the detector's poll
// goroutine and must not block.
type Events struct {
	OnSpeaking        func()
	OnStoppedSpeaking func()
}

// Detector watches a microphone stream and emits speaking / stopped-speaking
// events when the RMS level crosses a dBFS threshold. More negative threshold
// values are more sensitive; the default of -65dB favors distant microphones
// such as webcams.
type Detector struct {
	thresholdDB  float64
	pollInterval time.Duration
	ev           Events
	logger       *zap.Logger

	mu       sync.Mutex
	cancel   func()
	done     chan struct{}
	speaking bool
	level    float64
	attached bool
}

// NewDetector creates a detector with the given threshold and poll cadence.
func NewDetector(thresholdDB float64, pollInterval time.Duration, ev Events, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Detector{
		thresholdDB:  thresholdDB,
		pollInterval: pollInterval,
		ev:           ev,
		logger:       logger,
	}
}

// Attach subscribes to the stream and starts monitoring. Attaching twice
// without Detach is a no-op.
func (d *Detector) Attach(stream *capture.Stream) {
	d.mu.Lock()
	if d.attached {
		d.mu.Unlock()
		return
	}
	frames, unsubscribe := stream.Subscribe(64)
	done := make(chan struct{})
	d.cancel = unsubscribe
	d.done = done
	d.attached = true
	d.speaking = false
	d.mu.Unlock()

	go d.poll(frames, done)
}

// Detach stops monitoring and releases the stream subscription. It does not
// stop the underlying stream. Idempotent.
func (d *Detector) Detach() {
	d.mu.Lock()
	if !d.attached {
		d.mu.Unlock()
		return
	}
	d.attached = false
	cancel := d.cancel
	done := d.done
	d.cancel = nil
	d.done = nil
	d.mu.Unlock()

	cancel()
	<-done
}

// Level returns the most recent window level normalized to 0-100 for the
// mic-test meter.
func (d *Detector) Level() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.level
}

// Speaking reports the current edge state.
func (d *Detector) Speaking() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.speaking
}

func (d *Detector) poll(frames <-chan []int16, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(d.pollInterval)
	defer ticker.Stop()

	var window []int16
	for {
		select {
		case f, ok := <-frames:
			if !ok {
				return
			}
			window = append(window, f...)
		case <-ticker.C:
			if len(window) == 0 {
				continue
			}
			db, meter := analyze(window)
			window = window[:0]

			d.mu.Lock()
			d.level = meter
			wasSpeaking := d.speaking
			nowSpeaking := db > d.thresholdDB
			d.speaking = nowSpeaking
			d.mu.Unlock()

			if nowSpeaking && !wasSpeaking {
				d.logger.Debug("speech detected", zap.Float64("db", db))
				if d.ev.OnSpeaking != nil {
					d.ev.OnSpeaking()
				}
			} else if !nowSpeaking && wasSpeaking {
				d.logger.Debug("speech stopped", zap.Float64("db", db))
				if d.ev.OnStoppedSpeaking != nil {
					d.ev.OnStoppedSpeaking()
				}
			}
		}
	}
}

// analyze returns the RMS level of the window in dBFS plus a 0-100 meter
// value. The meter is amplified x2 so quiet mics still move the bars.
func analyze(window []int16) (db float64, meter float64) {
	var sum float64
	var amp float64
	for _, s := range window {
		f := float64(s)
		sum += f * f
		amp += math.Abs(f)
	}
	rms := math.Sqrt(sum / float64(len(window)))
	if rms < 1 {
		db = noiseFloorDB
	} else {
		db = 20 * math.Log10(rms/math.MaxInt16)
	}
	meter = math.Min(100, amp/float64(len(window))/math.MaxInt16*100*2)
	return db, meter
}
