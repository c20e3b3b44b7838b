package embedjobs

import (
	"sync"
	"time"
)

// State is the worker health classification
type State string

const (
	StateHealthy  State = "HEALTHY"
	StateDegraded State = "DEGRADED"
	StateCritical State = "CRITICAL"
)

const (
	degradedFailureThreshold = 5
	criticalFailureThreshold = 10
	degradedSuccessRate      = 0.5
	outcomeWindowSize        = 100
)

// HealthTracker classifies worker health from a rolling window of the last
// 100 job outcomes plus a consecutive-failure counter.
type HealthTracker struct {
	mu sync.Mutex

	consecutiveFailures int
	window              [outcomeWindowSize]bool
	windowLen           int
	windowPos           int
	categories          map[Category]int64
	lastSuccess         *time.Time
	halted              bool
}

// HealthSnapshot is the exported health view
type HealthSnapshot struct {
	State                State            `json:"state"`
	ConsecutiveFailures  int              `json:"consecutiveFailures"`
	SuccessRate          float64          `json:"successRate"`
	ErrorPatterns        map[string]int64 `json:"errorPatterns"`
	LastSuccessTimestamp *time.Time       `json:"lastSuccessTimestamp,omitempty"`
}

// NewHealthTracker creates a HealthTracker
func NewHealthTracker() *HealthTracker {
	return &HealthTracker{categories: make(map[Category]int64)}
}

// RecordSuccess registers a successful job outcome. It resets the
// consecutive-failure counter, which demotes a degraded state.
func (h *HealthTracker) RecordSuccess() {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures = 0
	now := time.Now()
	h.lastSuccess = &now
	h.push(true)
}

// RecordFailure registers a failed job outcome in the given category
func (h *HealthTracker) RecordFailure(cat Category) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.consecutiveFailures++
	h.categories[cat]++
	h.push(false)
}

// MarkHalted pins the state to CRITICAL after the worker stops on a
// critical error.
func (h *HealthTracker) MarkHalted() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.halted = true
}

// State returns the current classification
func (h *HealthTracker) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.stateLocked()
}

// Snapshot returns the exported health view
func (h *HealthTracker) Snapshot() HealthSnapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	patterns := make(map[string]int64, len(h.categories))
	for cat, n := range h.categories {
		patterns[string(cat)] = n
	}

	return HealthSnapshot{
		State:                h.stateLocked(),
		ConsecutiveFailures:  h.consecutiveFailures,
		SuccessRate:          h.successRateLocked(),
		ErrorPatterns:        patterns,
		LastSuccessTimestamp: h.lastSuccess,
	}
}

func (h *HealthTracker) push(success bool) {
	h.window[h.windowPos] = success
	h.windowPos = (h.windowPos + 1) % outcomeWindowSize
	if h.windowLen < outcomeWindowSize {
		h.windowLen++
	}
}

func (h *HealthTracker) successRateLocked() float64 {
	if h.windowLen == 0 {
		return 1.0
	}
	successes := 0
	for i := 0; i < h.windowLen; i++ {
		if h.window[i] {
			successes++
		}
	}
	return float64(successes) / float64(h.windowLen)
}

func (h *HealthTracker) stateLocked() State {
	if h.halted || h.consecutiveFailures >= criticalFailureThreshold {
		return StateCritical
	}
	if h.consecutiveFailures >= degradedFailureThreshold || h.successRateLocked() < degradedSuccessRate {
		return StateDegraded
	}
	return StateHealthy
}
