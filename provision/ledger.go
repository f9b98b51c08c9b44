package provision

import (
	"sync"

	"github.com/capstan-ci/capstan/cloud"
)

// LaunchAttempt is one row of the ledger: a single try of one resource
// option for one runner. Rows are never mutated after they are appended.
type LaunchAttempt struct {
	Runner string
	Option cloud.ResourceOption
	// Try is the 1-based attempt index within this option.
	Try        int
	Success    bool
	Error      string
	InstanceID string
}

// Ledger is the ordered, append-only record of every launch attempt in a
// provisioning run. It stays flat across runners and options so rendering
// preserves search order. Appends are serialized; a run holds exactly one
// ledger.
type Ledger struct {
	mu       sync.Mutex
	attempts []LaunchAttempt
}

func (l *Ledger) Append(attempt LaunchAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.attempts = append(l.attempts, attempt)
}

// Snapshot returns a copy of all attempts recorded so far, in append order.
func (l *Ledger) Snapshot() []LaunchAttempt {
	l.mu.Lock()
	defer l.mu.Unlock()
	attempts := make([]LaunchAttempt, len(l.attempts))
	copy(attempts, l.attempts)
	return attempts
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.attempts)
}
