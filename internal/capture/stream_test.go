package capture

import "testing"

func TestStream_FanOut(t *testing.T) {
	s := NewStream(SampleRate)
	a, cancelA := s.Subscribe(4)
	b, cancelB := s.Subscribe(4)
	defer cancelA()
	defer cancelB()

	s.Push([]int16{1, 2, 3})

	fa := <-a
	fb := <-b
	if len(fa) != 3 || len(fb) != 3 {
		t.Fatalf("expected both subscribers to receive the frame")
	}
	// Each subscriber owns its copy.
	fa[0] = 99
	if fb[0] == 99 {
		t.Fatalf("subscribers must not share frame backing arrays")
	}
}

func TestStream_SlowSubscriberDrops(t *testing.T) {
	s := NewStream(SampleRate)
	ch, cancel := s.Subscribe(1)
	defer cancel()

	s.Push([]int16{1})
	s.Push([]int16{2}) // dropped, buffer full

	if got := <-ch; got[0] != 1 {
		t.Fatalf("expected first frame, got %v", got)
	}
	select {
	case f := <-ch:
		t.Fatalf("expected second frame dropped, got %v", f)
	default:
	}
}

func TestStream_UnsubscribeClosesChannel(t *testing.T) {
	s := NewStream(SampleRate)
	ch, cancel := s.Subscribe(1)
	cancel()
	cancel() // safe to call twice
	if _, ok := <-ch; ok {
		t.Fatalf("expected closed channel after unsubscribe")
	}
	s.Push([]int16{1}) // no panic on detached subscriber
}

func TestStream_CloseIsIdempotent(t *testing.T) {
	s := NewStream(SampleRate)
	ch, _ := s.Subscribe(1)
	s.Close()
	s.Close()
	if s.Live() {
		t.Fatalf("expected stream not live after close")
	}
	if _, ok := <-ch; ok {
		t.Fatalf("expected subscriber channel closed")
	}
	if ch2, _ := s.Subscribe(1); ch2 == nil {
		t.Fatalf("subscribe after close should return a closed channel, not nil")
	}
}
