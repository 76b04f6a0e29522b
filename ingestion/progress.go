package ingestion

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// progress prints a single updating line as batches finish. A nil
// *progress is valid and prints nothing.
type progress struct {
	mu        sync.Mutex
	writer    io.Writer
	total     int
	done      int
	startTime time.Time
}

func newProgress(w io.Writer, total int) *progress {
	if w == nil {
		return nil
	}
	return &progress{writer: w, total: total, startTime: time.Now()}
}

// add records n finished records and reprints the line.
func (p *progress) add(n int) {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done = min(p.done+n, p.total)
	p.report()
}

// finish prints the final line and a newline.
func (p *progress) finish() {
	if p == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report()
	fmt.Fprintln(p.writer)
}

// report must be called with the lock held.
func (p *progress) report() {
	percentage := 100.0
	if p.total > 0 {
		percentage = float64(p.done) / float64(p.total) * 100.0
	}
	rate := 0.0
	if elapsed := time.Since(p.startTime).Seconds(); elapsed > 0 {
		rate = float64(p.done) / elapsed
	}
	fmt.Fprintf(p.writer, "\rIndexed: %d/%d (%.1f%%) - %.1f records/s", p.done, p.total, percentage, rate)
}
