package recorder

import (
	"bytes"
	"io"
	"sync"
	"testing"
	"time"

	wav "github.com/youpy/go-wav"

	"github.com/dwalbeck/job-track-now-portal/internal/capture"
)

type segmentSink struct {
	mu       sync.Mutex
	segments []Segment
}

func (s *segmentSink) add(seg Segment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.segments = append(s.segments, seg)
}

func (s *segmentSink) all() []Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

func testFrame(n int, value int16) []int16 {
	f := make([]int16, n)
	for i := range f {
		f[i] = value
	}
	return f
}

func TestStartRequiresLiveStream(t *testing.T) {
	r := New(time.Second, 0, func(Segment) {}, nil, nil)
	if err := r.Start(nil); err != ErrNoStream {
		t.Fatalf("nil stream: got %v, want ErrNoStream", err)
	}

	s := capture.NewStream(44100)
	s.Close()
	if err := r.Start(s); err != ErrNoStream {
		t.Fatalf("closed stream: got %v, want ErrNoStream", err)
	}
}

func TestStopFlushesFinalSegment(t *testing.T) {
	sink := &segmentSink{}
	r := New(time.Hour, 0, sink.add, nil, nil)
	s := capture.NewStream(44100)
	defer s.Close()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	s.Push(testFrame(512, 1000))
	s.Push(testFrame(512, -1000))
	r.Stop()

	segs := sink.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	if segs[0].Samples != 1024 {
		t.Fatalf("got %d samples, want 1024", segs[0].Samples)
	}
	if r.Recording() {
		t.Fatal("still recording after Stop")
	}
}

func TestSegmentsAreDecodableWAV(t *testing.T) {
	sink := &segmentSink{}
	r := New(time.Hour, 0, sink.add, nil, nil)
	s := capture.NewStream(8000)
	defer s.Close()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	s.Push(testFrame(256, 7777))
	r.Stop()

	segs := sink.all()
	if len(segs) != 1 {
		t.Fatalf("got %d segments, want 1", len(segs))
	}
	reader := wav.NewReader(bytes.NewReader(segs[0].WAV))
	format, err := reader.Format()
	if err != nil {
		t.Fatal(err)
	}
	if format.SampleRate != 8000 || format.NumChannels != 1 || format.BitsPerSample != 16 {
		t.Fatalf("unexpected format: %+v", format)
	}
	var total int
	for {
		samples, err := reader.ReadSamples(128)
		total += len(samples)
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		for _, sample := range samples {
			if sample.Values[0] != 7777 {
				t.Fatalf("sample value %d, want 7777", sample.Values[0])
			}
		}
	}
	if total != 256 {
		t.Fatalf("decoded %d samples, want 256", total)
	}
}

func TestPeriodicCutProducesOrderedSegments(t *testing.T) {
	sink := &segmentSink{}
	r := New(50*time.Millisecond, 0, sink.add, nil, nil)
	s := capture.NewStream(44100)
	defer s.Close()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	s.Push(testFrame(512, 100))
	time.Sleep(120 * time.Millisecond)
	s.Push(testFrame(512, 200))
	r.Stop()

	segs := sink.all()
	if len(segs) < 2 {
		t.Fatalf("got %d segments, want at least 2", len(segs))
	}
	var total int
	prev := -1
	for _, seg := range segs {
		if seg.Bout != segs[0].Bout {
			t.Fatal("segments span multiple bouts")
		}
		if seg.Seq <= prev {
			t.Fatalf("sequence not increasing: %d after %d", seg.Seq, prev)
		}
		prev = seg.Seq
		total += seg.Samples
	}
	if total != 1024 {
		t.Fatalf("got %d total samples across segments, want 1024", total)
	}
}

func TestStopWithNoAudioEmitsNothing(t *testing.T) {
	sink := &segmentSink{}
	r := New(time.Hour, 0, sink.add, nil, nil)
	s := capture.NewStream(44100)
	defer s.Close()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	r.Stop()
	if got := len(sink.all()); got != 0 {
		t.Fatalf("got %d segments, want 0", got)
	}
}

func TestConcurrentStopRunsOnce(t *testing.T) {
	sink := &segmentSink{}
	r := New(time.Hour, 0, sink.add, nil, nil)
	s := capture.NewStream(44100)
	defer s.Close()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	s.Push(testFrame(512, 42))

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Stop()
		}()
	}
	wg.Wait()

	if got := len(sink.all()); got != 1 {
		t.Fatalf("got %d segments, want exactly 1", got)
	}
}

func TestCeilingFires(t *testing.T) {
	fired := make(chan struct{}, 1)
	r := New(time.Hour, 30*time.Millisecond, func(Segment) {}, func() {
		select {
		case fired <- struct{}{}:
		default:
		}
	}, nil)
	s := capture.NewStream(44100)
	defer s.Close()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	defer r.Stop()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatal("ceiling callback never fired")
	}
}

func TestRestartAfterStopBeginsNewBout(t *testing.T) {
	sink := &segmentSink{}
	r := New(time.Hour, 0, sink.add, nil, nil)
	s := capture.NewStream(44100)
	defer s.Close()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	s.Push(testFrame(128, 1))
	r.Stop()

	if err := r.Start(s); err != nil {
		t.Fatal(err)
	}
	s.Push(testFrame(128, 2))
	r.Stop()

	segs := sink.all()
	if len(segs) != 2 {
		t.Fatalf("got %d segments, want 2", len(segs))
	}
	if segs[0].Bout == segs[1].Bout {
		t.Fatal("bouts should differ across restarts")
	}
	if segs[1].Seq != 0 {
		t.Fatalf("new bout seq = %d, want 0", segs[1].Seq)
	}
}
