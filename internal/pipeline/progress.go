package pipeline

import (
	"fmt"
	"sync"
)

// progressTracker maps receipt completion onto the 40-99 band of the
// progress scale; loading and page handling own 0-40 and the final report
// owns 100. The receipt estimate starts at two per page and grows as
// detection reveals the real counts, so the bar never jumps backwards by
// much and never reaches 100 early.
type progressTracker struct {
	mu        sync.Mutex
	report    func(percent int, message string)
	processed int
	estimate  int
}

// pageDetected refines the estimate once a page's region count is known.
func (t *progressTracker) pageDetected(regions, pagesLeft int) {
	t.mu.Lock()
	if est := t.processed + regions + pagesLeft*2; est > t.estimate {
		t.estimate = est
	}
	t.mu.Unlock()
}

// startReceipt reports that extraction of the numbered receipt is starting.
func (t *progressTracker) startReceipt(number int) {
	t.mu.Lock()
	t.processed++
	if t.processed > t.estimate {
		t.estimate = t.processed
	}
	pct := 40 + t.processed*60/t.estimate
	if pct > 99 {
		pct = 99
	}
	processed, estimate := t.processed, t.estimate
	t.mu.Unlock()

	if t.report != nil {
		t.report(pct, fmt.Sprintf("Extracting data from receipt %d (%d/%d)", number, processed, estimate))
	}
}
