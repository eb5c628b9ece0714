package sweep

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time view of a run, served by the status endpoint.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Phase     Phase     `json:"phase"`
	Status    Status    `json:"status,omitempty"`
	Attempt   int       `json:"attempt"`
	DryRun    bool      `json:"dry_run"`
	Scanned   int64     `json:"scanned"`
	Targets   int64     `json:"targets"`
	Deleted   int       `json:"deleted"`
	NotFound  int       `json:"not_found"`
	Batches   int       `json:"batches"`
	Reclaimed int       `json:"reclaimed"`
	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker holds the live Snapshot of a run. It is safe for concurrent use.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	now := time.Now().UTC()
	return &Tracker{snap: Snapshot{Phase: PhaseIdle, StartedAt: now, UpdatedAt: now}}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.snap
}

func (t *Tracker) update(fn func(*Snapshot)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(&t.snap)
	t.snap.UpdatedAt = time.Now().UTC()
}
