package orchestrator

import (
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/seeder/seeder/internal/retry"
)

// Failure is one source that ended the run in failed.
type Failure struct {
	SourceID   string `json:"source_id"`
	URL        string `json:"url"`
	Stage      string `json:"stage"` // extract or deliver
	Error      string `json:"error"`
	RetryCount int    `json:"retry_count"`
}

// Summary reports a run.
type Summary struct {
	RunID     string        `json:"run_id"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Namespace string        `json:"namespace,omitempty"`
	Recovered int           `json:"recovered"` // stale rows requeued by reconcile
	Attempted int           `json:"attempted"`
	Succeeded int           `json:"succeeded"`
	Skipped   int           `json:"skipped"`
	Failed    int           `json:"failed"`
	Unchanged int           `json:"unchanged"`
	Extracted int           `json:"extracted"` // extract-only rows left in extracted
	Released  int           `json:"released"`  // claimed rows returned to pending on cancel
	Stopped   bool          `json:"stopped"`
	DryRun    bool          `json:"dry_run,omitempty"`
	// Planned counts, per namespace, the sources a dry run would process.
	Planned  map[string]int `json:"planned,omitempty"`
	Retry    retry.Stats    `json:"retry"`
	Failures []Failure      `json:"failures,omitempty"`
}

// tracker guards the Summary of a run shared by workers.
type tracker struct {
	mu sync.Mutex
	s  Summary
}

func (t *tracker) add(fn func(*Summary)) {
	t.mu.Lock()
	fn(&t.s)
	t.mu.Unlock()
}

func (t *tracker) snapshot() Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := &t.s
	out := *s
	out.Planned = nil
	if s.Planned != nil {
		out.Planned = make(map[string]int, len(s.Planned))
		for k, v := range s.Planned {
			out.Planned[k] = v
		}
	}
	out.Failures = append([]Failure(nil), s.Failures...)
	sort.Slice(out.Failures, func(i, j int) bool { return out.Failures[i].SourceID < out.Failures[j].SourceID })
	return out
}

// Processed counts sources that reached an outcome this run.
func (s *Summary) Processed() int {
	return s.Succeeded + s.Skipped + s.Failed + s.Unchanged + s.Extracted
}
