package monitor

import (
	"sync"
	"time"

	"github.com/nicktill/tinylens/pkg/config"
)

// GCMonitor tracks value log garbage collection health and failures.
type GCMonitor struct {
	mu                sync.RWMutex
	lastSuccess       time.Time
	lastAttempt       time.Time
	consecutiveErrors int
	lastError         string
	now               func() time.Time
}

// NewGCMonitor creates a monitor with no recorded runs.
func NewGCMonitor() *GCMonitor {
	return &GCMonitor{now: time.Now}
}

// RecordSuccess records a successful GC run.
func (gm *GCMonitor) RecordSuccess() {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	gm.lastSuccess = gm.now()
	gm.lastAttempt = gm.lastSuccess
	gm.consecutiveErrors = 0
	gm.lastError = ""
}

// RecordFailure records a failed GC attempt.
func (gm *GCMonitor) RecordFailure(err error) {
	gm.mu.Lock()
	defer gm.mu.Unlock()
	gm.lastAttempt = gm.now()
	gm.consecutiveErrors++
	if err != nil {
		gm.lastError = err.Error()
	}
}

// IsHealthy returns true if GC is keeping up.
// Unhealthy conditions:
//   - More consecutive failures than one scheduled run retries
//   - No success for three GC intervals after the first attempt
func (gm *GCMonitor) IsHealthy() bool {
	gm.mu.RLock()
	defer gm.mu.RUnlock()
	return gm.healthyLocked()
}

func (gm *GCMonitor) healthyLocked() bool {
	if gm.consecutiveErrors > config.BadgerGCRetries {
		return false
	}
	if gm.lastAttempt.IsZero() {
		return true
	}
	since := gm.lastSuccess
	if since.IsZero() {
		since = gm.lastAttempt
	}
	return gm.now().Sub(since) <= 3*config.BadgerGCInterval
}

// GCStatus is the GC section of the health response.
type GCStatus struct {
	Healthy           bool   `json:"healthy"`
	LastSuccess       string `json:"last_success,omitempty"`
	TimeSinceSuccess  string `json:"time_since_success,omitempty"`
	LastAttempt       string `json:"last_attempt,omitempty"`
	ConsecutiveErrors int    `json:"consecutive_errors,omitempty"`
	LastError         string `json:"last_error,omitempty"`
}

// Status returns current GC status for health checks.
func (gm *GCMonitor) Status() GCStatus {
	gm.mu.RLock()
	defer gm.mu.RUnlock()

	status := GCStatus{
		Healthy: gm.healthyLocked(),
	}

	if !gm.lastSuccess.IsZero() {
		status.LastSuccess = gm.lastSuccess.Format(time.RFC3339)
		status.TimeSinceSuccess = gm.now().Sub(gm.lastSuccess).String()
	}

	if !gm.lastAttempt.IsZero() {
		status.LastAttempt = gm.lastAttempt.Format(time.RFC3339)
	}

	if gm.consecutiveErrors > 0 {
		status.ConsecutiveErrors = gm.consecutiveErrors
		status.LastError = gm.lastError
	}

	return status
}
