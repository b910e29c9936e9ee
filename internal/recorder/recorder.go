package recorder

import (
	"bytes"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	wav "github.com/youpy/go-wav"
	"go.uber.org/zap"

	"github.com/dwalbeck/job-track-now-portal/internal/capture"
)

// ErrNoStream indicates recording was started without a live microphone
// stream. Fatal to the recording attempt.
var ErrNoStream = errors.New("no microphone stream available")

// Segment is one finalized, self-contained span of captured audio. The WAV
// container is complete (header sizes written), so every segment is
// independently decodable by the transcription backend.
type Segment struct {
	Bout       uuid.UUID
	Seq        int
	WAV        []byte
	Samples    int
	SampleRate int
}

// SegmentFunc receives finalized segments in capture order.
type SegmentFunc func(Segment)

// Recorder captures a microphone stream into WAV segments, cutting a new
// segment at a fixed interval so each one carries its own valid container
// header. One Recorder instance handles one recording bout; the previous bout
// is fully stopped and flushed before a new one starts.
type Recorder struct {
	cutEvery  time.Duration
	ceiling   time.Duration
	onSegment SegmentFunc
	// onCeiling fires when the hard recording ceiling elapses with no natural
	// stop. The owner is expected to invoke Stop through its normal path.
	onCeiling func()
	logger    *zap.Logger

	mu          sync.Mutex
	running     bool
	stopping    bool
	bout        uuid.UUID
	seq         int
	buf         []int16
	sampleRate  int
	unsubscribe func()
	done        chan struct{}
	cutTimer    *time.Timer
	ceilTimer   *time.Timer
}

// New constructs a recorder. onSegment is required; onCeiling may be nil.
func New(cutEvery, ceiling time.Duration, onSegment SegmentFunc, onCeiling func(), logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		cutEvery:  cutEvery,
		ceiling:   ceiling,
		onSegment: onSegment,
		onCeiling: onCeiling,
		logger:    logger,
	}
}

// Start begins a new recording bout on the given stream.
func (r *Recorder) Start(stream *capture.Stream) error {
	if stream == nil || !stream.Live() {
		return ErrNoStream
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("recorder already running")
	}

	frames, unsubscribe := stream.Subscribe(256)
	done := make(chan struct{})
	r.running = true
	r.stopping = false
	r.bout = uuid.New()
	r.seq = 0
	r.buf = r.buf[:0]
	r.sampleRate = stream.SampleRate()
	r.unsubscribe = unsubscribe
	r.done = done
	r.cutTimer = time.AfterFunc(r.cutEvery, r.cut)
	if r.ceiling > 0 {
		r.ceilTimer = time.AfterFunc(r.ceiling, r.hitCeiling)
	}
	r.logger.Info("recording bout started", zap.String("bout", r.bout.String()))

	go r.collect(frames, done)
	return nil
}

func (r *Recorder) collect(frames <-chan []int16, done chan struct{}) {
	defer close(done)
	for f := range frames {
		r.mu.Lock()
		if r.running {
			r.buf = append(r.buf, f...)
		}
		r.mu.Unlock()
	}
}

// cut finalizes the current segment and immediately continues capturing into
// a fresh one. Skipped when a stop is already in progress.
func (r *Recorder) cut() {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return
	}
	seg := r.takeSegmentLocked()
	r.cutTimer = time.AfterFunc(r.cutEvery, r.cut)
	r.mu.Unlock()

	if seg.Samples > 0 {
		r.logger.Debug("segment cut",
			zap.String("bout", seg.Bout.String()),
			zap.Int("seq", seg.Seq),
			zap.Int("samples", seg.Samples))
		r.onSegment(seg)
	}
}

func (r *Recorder) hitCeiling() {
	r.mu.Lock()
	fire := r.running && !r.stopping
	r.mu.Unlock()
	if fire {
		r.logger.Warn("recording ceiling reached", zap.Duration("ceiling", r.ceiling))
		if r.onCeiling != nil {
			r.onCeiling()
		}
	}
}

// takeSegmentLocked encodes and clears the accumulated buffer. Caller holds mu.
func (r *Recorder) takeSegmentLocked() Segment {
	seg := Segment{
		Bout:       r.bout,
		Seq:        r.seq,
		Samples:    len(r.buf),
		SampleRate: r.sampleRate,
	}
	if len(r.buf) > 0 {
		seg.WAV = encodeWAV(r.buf, r.sampleRate)
	}
	r.seq++
	r.buf = r.buf[:0]
	return seg
}

// Stop performs the final cut without restarting. It waits for the frame
// subscription to drain so trailing audio lands in the last segment, then
// hands that segment off. Concurrent callers race for the stop: only the
// first performs it, the rest return immediately.
func (r *Recorder) Stop() {
	r.mu.Lock()
	if !r.running || r.stopping {
		r.mu.Unlock()
		return
	}
	r.stopping = true
	if r.cutTimer != nil {
		r.cutTimer.Stop()
	}
	if r.ceilTimer != nil {
		r.ceilTimer.Stop()
	}
	unsubscribe := r.unsubscribe
	done := r.done
	r.mu.Unlock()

	// Mandatory flush: close the subscription and wait for the collector to
	// drain every queued frame before the last segment is read.
	unsubscribe()
	<-done

	r.mu.Lock()
	seg := r.takeSegmentLocked()
	r.running = false
	r.stopping = false
	r.unsubscribe = nil
	r.done = nil
	r.mu.Unlock()

	r.logger.Info("recording bout stopped",
		zap.String("bout", seg.Bout.String()),
		zap.Int("finalSeq", seg.Seq),
		zap.Int("samples", seg.Samples))
	if seg.Samples > 0 {
		r.onSegment(seg)
	}
}

// Recording reports whether a bout is in progress.
func (r *Recorder) Recording() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// encodeWAV writes samples into a complete mono 16-bit WAV container.
func encodeWAV(samples []int16, sampleRate int) []byte {
	var buf bytes.Buffer
	w := wav.NewWriter(&buf, uint32(len(samples)), 1, uint32(sampleRate), 16)
	ss := make([]wav.Sample, len(samples))
	for i, s := range samples {
		ss[i].Values[0] = int(s)
	}
	if err := w.WriteSamples(ss); err != nil {
		return nil
	}
	return buf.Bytes()
}
