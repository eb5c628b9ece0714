// Package output provides the JSONL run report.
//
// Output is structured as typed record envelopes containing targets, batch
// outcomes, folder outcomes, errors, progress updates and a final summary.
// Each line is a self-contained JSON object that can be parsed
// independently.
package output

import (
	"encoding/json"
	"errors"
	"time"
)

// Record type constants define the envelope types for JSONL output.
// These follow the pattern: memosweep.<type>.v<version>
const (
	// TypeTarget identifies target file records.
	TypeTarget = "memosweep.target.v1"

	// TypeBatch identifies batch outcome records.
	TypeBatch = "memosweep.batch.v1"

	// TypeFolder identifies folder reclamation records.
	TypeFolder = "memosweep.folder.v1"

	// TypeError identifies error records.
	TypeError = "memosweep.error.v1"

	// TypeProgress identifies progress update records.
	TypeProgress = "memosweep.progress.v1"

	// TypeSummary identifies final summary records.
	TypeSummary = "memosweep.summary.v1"
)

// Record is the envelope for all JSONL output.
//
// Each line of JSONL output contains a Record with a type-specific
// payload in the Data field. The type field determines how to
// interpret the Data payload.
type Record struct {
	// Type identifies the record type (e.g., "memosweep.target.v1").
	Type string `json:"type"`

	// TS is the timestamp when the record was created (RFC3339Nano).
	TS time.Time `json:"ts"`

	// RunID is the correlation ID for this run.
	RunID string `json:"run_id"`

	// Backend identifies the remote backend (e.g., "dropbox", "s3").
	Backend string `json:"backend"`

	// Data contains the type-specific payload as raw JSON.
	Data json.RawMessage `json:"data"`
}

// TargetRecord is the data payload for a file selected for deletion.
type TargetRecord struct {
	// Path is the remote path of the file.
	Path string `json:"path"`

	// Attempt is the whole-run attempt that found the file.
	Attempt int `json:"attempt"`
}

// BatchRecord is the data payload for one batch delete attempt.
type BatchRecord struct {
	// Index is the batch position in the partition.
	Index int `json:"index"`

	// Pass is "concurrent" or "retry".
	Pass string `json:"pass"`

	// Size is the number of paths sent.
	Size int `json:"size"`

	Deleted  int `json:"deleted"`
	NotFound int `json:"not_found"`

	// Failed lists paths left unresolved by this attempt.
	Failed []string `json:"failed,omitempty"`

	// Error is the batch error message, if any.
	Error string `json:"error,omitempty"`

	// DryRun marks simulated deletes.
	DryRun bool `json:"dry_run,omitempty"`
}

// FolderRecord is the data payload for one reclamation candidate.
type FolderRecord struct {
	Path     string `json:"path"`
	Depth    int    `json:"depth"`
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Attempts int    `json:"attempts,omitempty"`
	Error    string `json:"error,omitempty"`
}

// ErrorRecord is the data payload for errors.
//
// Errors are emitted as records rather than failing the entire run,
// allowing partial results when some operations fail.
type ErrorRecord struct {
	// Code is a machine-readable error code.
	Code string `json:"code"`

	// Message is a human-readable error description.
	Message string `json:"message"`

	// Path is the remote path related to this error, if applicable.
	Path string `json:"path,omitempty"`

	// Phase is the run phase in which the error occurred.
	Phase string `json:"phase,omitempty"`

	// Details contains additional error context.
	Details any `json:"details,omitempty"`
}

// Error codes for ErrorRecord. Remote failures use the remote.Kind code
// (TRANSIENT_NETWORK, RATE_LIMITED, AUTH_FAILURE, NOT_FOUND,
// REMOTE_API_ERROR); the codes below cover the rest.
const (
	// ErrCodeExhausted indicates retries were exhausted.
	ErrCodeExhausted = "EXHAUSTED_RETRIES"

	// ErrCodePartial indicates a phase completed with unresolved items.
	ErrCodePartial = "PARTIAL_FAILURE"

	// ErrCodeInternal indicates an unexpected internal error.
	ErrCodeInternal = "INTERNAL"
)

// ProgressRecord is the data payload for progress updates.
type ProgressRecord struct {
	// Phase indicates the current run phase.
	Phase string `json:"phase"`

	// Scanned is the number of entries listed so far.
	Scanned int64 `json:"scanned"`

	// Targets is the number of target files found so far.
	Targets int64 `json:"targets"`

	// Deleted is the number of files deleted so far.
	Deleted int64 `json:"deleted,omitempty"`

	// Attempt is the whole-run attempt number.
	Attempt int `json:"attempt,omitempty"`
}

// Progress phase constants.
const (
	PhaseScanning     = "scanning"
	PhasePreviewing   = "previewing"
	PhaseConfirming   = "confirming"
	PhaseDeleting     = "deleting"
	PhaseReclaiming   = "reclaiming"
	PhaseReconnecting = "reconnecting"
	PhaseDone         = "done"
	PhaseFatal        = "fatal"
)

// SummaryRecord is the data payload for the final run summary.
type SummaryRecord struct {
	Status        string `json:"status"`
	Root          string `json:"root"`
	DryRun        bool   `json:"dry_run"`
	Attempts      int    `json:"attempts"`
	Scanned       int64  `json:"scanned"`
	Targets       int    `json:"targets"`
	Deleted       int    `json:"deleted"`
	NotFound      int    `json:"not_found"`
	FailedBatches int    `json:"failed_batches"`
	Abandoned     int    `json:"abandoned"`
	Reclaimed     int    `json:"reclaimed"`
	FoldersFailed int    `json:"folders_failed"`

	// Duration is the total run duration.
	Duration time.Duration `json:"duration_ns"`

	// DurationHuman is a human-readable duration string.
	DurationHuman string `json:"duration"`

	// Error is the terminal error message, if any.
	Error string `json:"error,omitempty"`
}

// Writer errors.
var (
	// ErrWriterClosed is returned when writing to a closed writer.
	ErrWriterClosed = errors.New("writer is closed")
)

// WriteError wraps errors that occur during write operations.
type WriteError struct {
	Op  string // Operation that failed (e.g., "marshal_data", "write")
	Err error  // Underlying error
}

func (e *WriteError) Error() string {
	return "output: " + e.Op + ": " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
