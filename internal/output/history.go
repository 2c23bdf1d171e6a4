package output

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/gofrs/flock"

	"github.com/torosent/crudfire/internal/loadtest"
)

// HistoryEntry is one line of the run history file.
type HistoryEntry struct {
	RunID       string    `json:"run_id"`
	StartedAt   time.Time `json:"started_at"`
	Target      string    `json:"target"`
	DurationMs  float64   `json:"duration_ms"`
	Iterations  int64     `json:"iterations"`
	Requests    int64     `json:"requests"`
	Failures    int64     `json:"failures"`
	P95Ms       float64   `json:"p95_ms"`
	VUsMax      int       `json:"vus_max"`
	ResidualIDs int       `json:"residual_ids"`
	Pass        bool      `json:"pass"`
	Failed      []string  `json:"failed_thresholds,omitempty"`
}

// NewHistoryEntry condenses a report into one history line.
func NewHistoryEntry(r *loadtest.Report) HistoryEntry {
	e := HistoryEntry{
		RunID:       r.RunID,
		StartedAt:   r.StartedAt.UTC(),
		Target:      r.Target,
		DurationMs:  float64(r.Duration) / float64(time.Millisecond),
		Iterations:  r.Iterations,
		Requests:    r.Requests.Total,
		Failures:    r.Requests.Failures,
		P95Ms:       r.Requests.P95LatencyMs,
		VUsMax:      r.PeakVUs,
		ResidualIDs: r.ResidualIDs,
		Pass:        r.Verdict.Pass,
	}
	for _, rule := range r.Verdict.Failed {
		e.Failed = append(e.Failed, rule.String())
	}
	return e
}

// AppendHistory appends the report to path as one JSON line. Concurrent
// writers are serialized through an advisory lock on path + ".lock".
func AppendHistory(path string, r *loadtest.Report) error {
	line, err := json.Marshal(NewHistoryEntry(r))
	if err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("lock history file: %w", err)
	}
	defer lock.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open history file: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append history: %w", err)
	}
	return f.Close()
}

// ReadHistory returns every entry in path, oldest first. A missing file is an
// empty history.
func ReadHistory(path string) ([]HistoryEntry, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return nil, fmt.Errorf("lock history file: %w", err)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open history file: %w", err)
	}
	defer f.Close()

	var entries []HistoryEntry
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)
	for n := 1; scanner.Scan(); n++ {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var e HistoryEntry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("history line %d: %w", n, err)
		}
		entries = append(entries, e)
	}
	return entries, scanner.Err()
}
