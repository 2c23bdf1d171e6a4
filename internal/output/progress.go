package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/crudfire/internal/loadtest"
)

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	source   func() loadtest.Progress
	stages   int
	ticker   *time.Ticker
	done     chan struct{}
	finished chan struct{}
	writer   io.Writer
	active   int32
}

// NewProgressReporter creates a progress reporter that polls source at the
// given interval. stages is the number of configured stages.
func NewProgressReporter(source func() loadtest.Progress, stages int, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		source:   source,
		stages:   stages,
		ticker:   time.NewTicker(interval),
		done:     make(chan struct{}),
		finished: make(chan struct{}),
		writer:   writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates and ends the line.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
		fmt.Fprintln(p.writer)
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			fmt.Fprint(p.writer, "\r"+FormatProgress(p.source(), p.stages))
		case <-p.done:
			return
		}
	}
}

// FormatProgress renders one progress line.
func FormatProgress(pr loadtest.Progress, stages int) string {
	stage := "draining"
	if pr.Stage >= 0 {
		stage = fmt.Sprintf("%d/%d", pr.Stage+1, stages)
	}
	return fmt.Sprintf("[%s] Stage: %s | VUs: %d/%d | Iterations: %d (%d failed) | Requests: %d | Failures: %d | IDs: %d",
		pr.Elapsed.Truncate(time.Second), stage, pr.ActiveVUs, pr.PlannedVUs,
		pr.Iterations, pr.FailedIterations, pr.Requests, pr.FailedRequests, pr.PooledIDs)
}
