package session

import (
	"strings"
	"sync"
)

// transcriptTracker collects segment transcriptions for one answer. Slots are
// reserved in capture order before the upload starts, so results reassemble
// in order no matter how the uploads finish.
type transcriptTracker struct {
	mu    sync.Mutex
	texts []string
	wg    sync.WaitGroup
}

func newTranscriptTracker() *transcriptTracker {
	return &transcriptTracker{}
}

// reserve claims the next slot and returns its index.
func (tr *transcriptTracker) reserve() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.texts = append(tr.texts, "")
	tr.wg.Add(1)
	return len(tr.texts) - 1
}

// complete fills a reserved slot. Empty text is fine; the slot still counts
// as done.
func (tr *transcriptTracker) complete(idx int, text string) {
	tr.mu.Lock()
	if idx >= 0 && idx < len(tr.texts) {
		tr.texts[idx] = text
	}
	tr.mu.Unlock()
	tr.wg.Done()
}

// await blocks until every reserved slot is complete, then joins the texts in
// capture order with single spaces and trims the result.
func (tr *transcriptTracker) await() string {
	tr.wg.Wait()
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return strings.Join(strings.Fields(strings.Join(tr.texts, " ")), " ")
}
