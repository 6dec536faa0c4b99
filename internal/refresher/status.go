package refresher

import (
	"sync"
	"time"
)

// Last outcome labels reported by Status.
const (
	OutcomeNone    = ""
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Status is a point-in-time view of the refresh loop.
type Status struct {
	Fetching            bool      `json:"fetching"`
	Attempts            int       `json:"attempts"`
	LastAttemptAt       time.Time `json:"last_attempt_at,omitzero"`
	LastOutcome         string    `json:"last_outcome,omitempty"`
	LastReason          string    `json:"last_reason,omitempty"`
	LastStatusCode      int       `json:"last_status_code,omitempty"`
	LastSuccessAt       time.Time `json:"last_success_at,omitzero"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	NextAttemptAt       time.Time `json:"next_attempt_at,omitzero"`
}

type statusTracker struct {
	mu sync.RWMutex
	s  Status
}

func (t *statusTracker) snapshot() Status {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.s
}

func (t *statusTracker) begin(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Fetching = true
	t.s.Attempts++
	t.s.LastAttemptAt = at
	t.s.NextAttemptAt = time.Time{}
}

func (t *statusTracker) succeed(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Fetching = false
	t.s.LastOutcome = OutcomeSuccess
	t.s.LastReason = ""
	t.s.LastStatusCode = 200
	t.s.LastSuccessAt = at
	t.s.ConsecutiveFailures = 0
}

func (t *statusTracker) fail(reason string, statusCode int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Fetching = false
	t.s.LastOutcome = OutcomeFailure
	t.s.LastReason = reason
	t.s.LastStatusCode = statusCode
	t.s.ConsecutiveFailures++
	return t.s.ConsecutiveFailures
}

func (t *statusTracker) scheduled(next time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.NextAttemptAt = next
}
