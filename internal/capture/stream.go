package capture

import "sync"

// Stream fans out microphone PCM frames (mono int16) to any number of
// subscribers. The voice activity detector, the chunked recorder and the
// mic-test meter all read from the same acquired stream; none of them may
// close it. Only the owning Microphone does, through Release.
type Stream struct {
	sampleRate int

	mu     sync.Mutex
	subs   map[int]chan []int16
	nextID int
	closed bool
}

// NewStream creates a stream carrying frames at the given sample rate.
func NewStream(sampleRate int) *Stream {
	return &Stream{
		sampleRate: sampleRate,
		subs:       make(map[int]chan []int16),
	}
}

// SampleRate returns the PCM sample rate of frames on this stream.
func (s *Stream) SampleRate() int { return s.sampleRate }

// Push delivers one frame to every subscriber. Slow subscribers drop frames
// rather than stall the audio callback.
func (s *Stream) Push(frame []int16) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for _, ch := range s.subs {
		cp := make([]int16, len(frame))
		copy(cp, frame)
		select {
		case ch <- cp:
		default:
		}
	}
}

// Subscribe registers a new frame consumer. The returned cancel function
// detaches the subscriber and closes its channel; it is safe to call twice.
func (s *Stream) Subscribe(buffer int) (<-chan []int16, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch := make(chan []int16, buffer)
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextID
	s.nextID++
	s.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			s.mu.Lock()
			if c, ok := s.subs[id]; ok {
				delete(s.subs, id)
				close(c)
			}
			s.mu.Unlock()
		})
	}
	return ch, cancel
}

// Close detaches all subscribers. Idempotent.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Live reports whether the stream is still open.
func (s *Stream) Live() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}
