// Package progress tracks long running transfers such as workspace uploads
// and estimates how long they have left.
package progress

import (
	"fmt"
	"sync"
	"time"
)

// Operation is the phase a tracked transfer is in
type Operation string

const (
	OperationPreparing   Operation = "preparing"
	OperationUploading   Operation = "uploading"
	OperationDownloading Operation = "downloading"
	OperationComplete    Operation = "complete"
	OperationError       Operation = "error"
)

// Transfer is a snapshot of one tracked transfer
type Transfer struct {
	Name                   string    `json:"name"`
	Operation              Operation `json:"operation"`
	Progress               float64   `json:"progress"` // 0-100
	Message                string    `json:"message"`
	EstimatedTimeRemaining string    `json:"estimated_time_remaining,omitempty"`
	StartTime              time.Time `json:"start_time"`
	LastUpdate             time.Time `json:"last_update"`
	Error                  string    `json:"error,omitempty"`
}

// Tracker manages progress for concurrent transfers keyed by name
type Tracker struct {
	mu        sync.RWMutex
	transfers map[string]*Transfer
	now       func() time.Time
}

// NewTracker creates a new progress tracker
func NewTracker() *Tracker {
	return &Tracker{
		transfers: make(map[string]*Transfer),
		now:       time.Now,
	}
}

// Start begins tracking a transfer, replacing any earlier one of that name
func (t *Tracker) Start(name string, operation Operation, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	t.transfers[name] = &Transfer{
		Name:       name,
		Operation:  operation,
		Message:    message,
		StartTime:  now,
		LastUpdate: now,
	}
}

// Update records progress as a fraction between 0 and 1
func (t *Tracker) Update(name string, operation Operation, fraction float64, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	tr, exists := t.transfers[name]
	if !exists {
		now := t.now()
		tr = &Transfer{Name: name, StartTime: now}
		t.transfers[name] = tr
	}

	switch {
	case fraction < 0:
		fraction = 0
	case fraction > 1:
		fraction = 1
	}

	tr.Operation = operation
	tr.Progress = fraction * 100
	tr.Message = message
	tr.LastUpdate = t.now()
	tr.EstimatedTimeRemaining = ""

	// Only estimate after some meaningful progress
	if tr.Progress > 5 && tr.Progress < 100 {
		elapsed := tr.LastUpdate.Sub(tr.StartTime)
		total := time.Duration(float64(elapsed) * (100.0 / tr.Progress))
		if remaining := total - elapsed; remaining > 0 {
			tr.EstimatedTimeRemaining = formatDuration(remaining)
		}
	}
}

// Callback returns a function that feeds Update for name
func (t *Tracker) Callback(name string, operation Operation) func(float64, string) {
	return func(fraction float64, message string) {
		t.Update(name, operation, fraction, message)
	}
}

// SetError marks a transfer as failed
func (t *Tracker) SetError(name, errorMsg string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr, exists := t.transfers[name]; exists {
		tr.Operation = OperationError
		tr.Error = errorMsg
		tr.Message = "Transfer failed"
		tr.EstimatedTimeRemaining = ""
		tr.LastUpdate = t.now()
	}
}

// Complete marks a transfer as finished
func (t *Tracker) Complete(name, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if tr, exists := t.transfers[name]; exists {
		tr.Operation = OperationComplete
		tr.Progress = 100
		tr.Message = message
		tr.EstimatedTimeRemaining = ""
		tr.LastUpdate = t.now()
	}
}

// Get returns a copy of the named transfer
func (t *Tracker) Get(name string) (Transfer, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	tr, exists := t.transfers[name]
	if !exists {
		return Transfer{}, false
	}
	return *tr, true
}

// Remove stops tracking a transfer
func (t *Tracker) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	delete(t.transfers, name)
}

// Cleanup removes transfers not updated within maxAge
func (t *Tracker) Cleanup(maxAge time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-maxAge)
	for name, tr := range t.transfers {
		if tr.LastUpdate.Before(cutoff) {
			delete(t.transfers, name)
		}
	}
}

// Active returns copies of all tracked transfers
func (t *Tracker) Active() map[string]Transfer {
	t.mu.RLock()
	defer t.mu.RUnlock()

	result := make(map[string]Transfer, len(t.transfers))
	for name, tr := range t.transfers {
		result[name] = *tr
	}
	return result
}

// formatDuration formats a duration for display
func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return "< 1m"
	}

	minutes := int(d.Minutes())
	if minutes < 60 {
		return fmt.Sprintf("%dm", minutes)
	}

	hours, rest := minutes/60, minutes%60
	if rest == 0 {
		return fmt.Sprintf("%dh", hours)
	}
	return fmt.Sprintf("%dh %dm", hours, rest)
}
