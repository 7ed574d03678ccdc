package retry

import (
	"sync"
	"time"
)

// RunStats accumulates retry outcomes for a single run. Safe for concurrent
// use; a nil *RunStats discards everything.
type RunStats struct {
	mu sync.Mutex
	s  Stats
}

// Stats is a point-in-time copy of RunStats.
type Stats struct {
	TotalAttempts int           `json:"total_attempts"`
	FirstTry      int           `json:"successful_first_try"`
	AfterRetry    int           `json:"successful_after_retry"`
	Exhausted     int           `json:"failed_all_retries"`
	Fatal         int           `json:"failed_fatal"`
	TotalWait     time.Duration `json:"total_wait"`
}

// Operations is the number of Do calls that finished.
func (s Stats) Operations() int {
	return s.FirstTry + s.AfterRetry + s.Exhausted + s.Fatal
}

// SuccessRate is the share of operations that eventually succeeded.
func (s Stats) SuccessRate() float64 {
	if n := s.Operations(); n > 0 {
		return float64(s.FirstTry+s.AfterRetry) / float64(n)
	}
	return 0
}

// RetryRate is the share of successes that needed at least one retry.
func (s Stats) RetryRate() float64 {
	if ok := s.FirstTry + s.AfterRetry; ok > 0 {
		return float64(s.AfterRetry) / float64(ok)
	}
	return 0
}

// Snapshot returns the current counters.
func (r *RunStats) Snapshot() Stats {
	if r == nil {
		return Stats{}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.s
}

func (r *RunStats) update(fn func(*Stats)) {
	if r == nil {
		return
	}
	r.mu.Lock()
	fn(&r.s)
	r.mu.Unlock()
}

func (r *RunStats) attempt() { r.update(func(s *Stats) { s.TotalAttempts++ }) }
func (r *RunStats) fatal()   { r.update(func(s *Stats) { s.Fatal++ }) }

func (r *RunStats) exhausted() { r.update(func(s *Stats) { s.Exhausted++ }) }

func (r *RunStats) waited(d time.Duration) { r.update(func(s *Stats) { s.TotalWait += d }) }

func (r *RunStats) success(attempt int) {
	r.update(func(s *Stats) {
		if attempt == 0 {
			s.FirstTry++
		} else {
			s.AfterRetry++
		}
	})
}
