// Package manifest provides loading and validation of memosweep job manifests.
//
// A job manifest is a YAML or JSON file that configures a sweep: the remote
// connection, the tree root and exclusions, the deletion tuning and the
// report destination.
//
// Manifests are validated against a JSON Schema before use. The schema
// enforces strict typing and disallows unknown properties.
//
// Example manifest (YAML):
//
//	version: "1.0"
//	connection:
//	  backend: dropbox
//	  token_env: DROPBOX_ACCESS_TOKEN
//	target:
//	  root: "/$ JLR DATA MIGRATION/David"
//	  excludes:
//	    - "/$ JLR DATA MIGRATION/Archive"
//	sweep:
//	  dry_run: false
//	  workers: 4
//	output:
//	  destination: file:/tmp/sweep.jsonl
package manifest

import (
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// Manifest represents a validated job manifest.
//
// Version and Target are required. Connection, Sweep and Output are optional
// with defaults matching the interactive tool.
type Manifest struct {
	// Schema is an optional JSON Schema reference for editor support.
	Schema string `json:"$schema,omitempty" yaml:"$schema,omitempty"`

	// Version is the manifest schema version. Must be "1.0".
	Version string `json:"version" yaml:"version"`

	// Connection configures the remote backend.
	Connection ConnectionConfig `json:"connection,omitempty" yaml:"connection,omitempty"`

	// Target selects the tree to sweep.
	Target TargetConfig `json:"target" yaml:"target"`

	// Sweep tunes scanning, deletion and reclamation.
	Sweep SweepConfig `json:"sweep,omitempty" yaml:"sweep,omitempty"`

	// Output configures the JSONL report.
	Output OutputConfig `json:"output,omitempty" yaml:"output,omitempty"`
}

// ConnectionConfig configures the remote backend.
type ConnectionConfig struct {
	// Backend is one of "dropbox", "s3" or "file".
	Backend string `json:"backend,omitempty" yaml:"backend,omitempty"`

	// TokenEnv names the environment variable holding the Dropbox token.
	TokenEnv string `json:"token_env,omitempty" yaml:"token_env,omitempty"`

	// Bucket, Region, Endpoint and Profile configure the s3 backend.
	Bucket   string `json:"bucket,omitempty" yaml:"bucket,omitempty"`
	Region   string `json:"region,omitempty" yaml:"region,omitempty"`
	Endpoint string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	Profile  string `json:"profile,omitempty" yaml:"profile,omitempty"`

	// BaseDir is the local directory served by the file backend.
	BaseDir string `json:"base_dir,omitempty" yaml:"base_dir,omitempty"`
}

// TargetConfig selects the tree to sweep.
type TargetConfig struct {
	// Root is the folder to scan. Empty means the whole namespace.
	Root string `json:"root" yaml:"root"`

	// Excludes lists path prefixes or doublestar globs that are never touched.
	Excludes []string `json:"excludes,omitempty" yaml:"excludes,omitempty"`

	// Patterns overrides the default memo-style filename patterns.
	Patterns []string `json:"patterns,omitempty" yaml:"patterns,omitempty"`
}

// SweepConfig tunes the run.
type SweepConfig struct {
	// DryRun reports what would be deleted without deleting. Defaults to true.
	DryRun *bool `json:"dry_run,omitempty" yaml:"dry_run,omitempty"`

	// ReclaimFolders enables the empty-folder phase. Defaults to true.
	ReclaimFolders *bool `json:"reclaim_folders,omitempty" yaml:"reclaim_folders,omitempty"`

	BatchSize      int      `json:"batch_size,omitempty" yaml:"batch_size,omitempty"`
	Workers        int      `json:"workers,omitempty" yaml:"workers,omitempty"`
	PageLimit      int      `json:"page_limit,omitempty" yaml:"page_limit,omitempty"`
	APIDelay       Duration `json:"api_delay,omitempty" yaml:"api_delay,omitempty"`
	RateLimit      float64  `json:"rate_limit,omitempty" yaml:"rate_limit,omitempty"`
	RunRetries     int      `json:"run_retries,omitempty" yaml:"run_retries,omitempty"`
	ReconnectDelay Duration `json:"reconnect_delay,omitempty" yaml:"reconnect_delay,omitempty"`

	Retry RetryConfig `json:"retry,omitempty" yaml:"retry,omitempty"`
}

// RetryConfig tunes the retry layers.
type RetryConfig struct {
	MaxRetries     int      `json:"max_retries,omitempty" yaml:"max_retries,omitempty"`
	InitialTimeout Duration `json:"initial_timeout,omitempty" yaml:"initial_timeout,omitempty"`
	BackoffFactor  float64  `json:"backoff_factor,omitempty" yaml:"backoff_factor,omitempty"`

	// PageRetries bounds the scanner's outer page retry. -1 disables it.
	PageRetries int `json:"page_retries,omitempty" yaml:"page_retries,omitempty"`

	FolderRetries int      `json:"folder_retries,omitempty" yaml:"folder_retries,omitempty"`
	FolderMaxWait Duration `json:"folder_max_wait,omitempty" yaml:"folder_max_wait,omitempty"`
}

// OutputConfig configures the JSONL report.
type OutputConfig struct {
	// Destination is "" (no report), "stdout" or "file:/path/to/report.jsonl".
	Destination string `json:"destination,omitempty" yaml:"destination,omitempty"`
}

// Default values for optional fields.
const (
	DefaultBackend        = "dropbox"
	DefaultTokenEnv       = "DROPBOX_ACCESS_TOKEN"
	DefaultDryRun         = true
	DefaultReclaimFolders = true
	DefaultBatchSize      = 100
	DefaultWorkers        = 4
	DefaultPageLimit      = 2000
	DefaultAPIDelay       = time.Second
	DefaultRunRetries     = 3
	DefaultReconnectDelay = 10 * time.Second
	DefaultMaxRetries     = 5
	DefaultInitialTimeout = 60 * time.Second
	DefaultBackoffFactor  = 1.5
	DefaultPageRetries    = 3
	DefaultFolderRetries  = 5
	DefaultFolderMaxWait  = 30 * time.Second
)

// ApplyDefaults fills in default values for optional fields.
func (m *Manifest) ApplyDefaults() {
	if m.Connection.Backend == "" {
		m.Connection.Backend = DefaultBackend
	}
	if m.Connection.Backend == DefaultBackend && m.Connection.TokenEnv == "" {
		m.Connection.TokenEnv = DefaultTokenEnv
	}

	s := &m.Sweep
	if s.DryRun == nil {
		v := DefaultDryRun
		s.DryRun = &v
	}
	if s.ReclaimFolders == nil {
		v := DefaultReclaimFolders
		s.ReclaimFolders = &v
	}
	if s.BatchSize == 0 {
		s.BatchSize = DefaultBatchSize
	}
	if s.Workers == 0 {
		s.Workers = DefaultWorkers
	}
	if s.PageLimit == 0 {
		s.PageLimit = DefaultPageLimit
	}
	if s.APIDelay == 0 {
		s.APIDelay = Duration(DefaultAPIDelay)
	}
	// RateLimit: 0 is a valid value (unlimited)
	if s.RunRetries == 0 {
		s.RunRetries = DefaultRunRetries
	}
	if s.ReconnectDelay == 0 {
		s.ReconnectDelay = Duration(DefaultReconnectDelay)
	}

	r := &s.Retry
	if r.MaxRetries == 0 {
		r.MaxRetries = DefaultMaxRetries
	}
	if r.InitialTimeout == 0 {
		r.InitialTimeout = Duration(DefaultInitialTimeout)
	}
	if r.BackoffFactor == 0 {
		r.BackoffFactor = DefaultBackoffFactor
	}
	if r.PageRetries == 0 {
		r.PageRetries = DefaultPageRetries
	}
	if r.FolderRetries == 0 {
		r.FolderRetries = DefaultFolderRetries
	}
	if r.FolderMaxWait == 0 {
		r.FolderMaxWait = Duration(DefaultFolderMaxWait)
	}
}

// DryRunEnabled returns the configured dry-run flag, or DefaultDryRun.
func (s *SweepConfig) DryRunEnabled() bool {
	if s.DryRun == nil {
		return DefaultDryRun
	}
	return *s.DryRun
}

// ReclaimEnabled returns the configured reclaim flag, or DefaultReclaimFolders.
func (s *SweepConfig) ReclaimEnabled() bool {
	if s.ReclaimFolders == nil {
		return DefaultReclaimFolders
	}
	return *s.ReclaimFolders
}

// Duration is a time.Duration written as a Go duration string ("1s", "1m30s").
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// String returns the Go duration string.
func (d Duration) String() string { return time.Duration(d).String() }

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON decodes a duration string.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

// MarshalYAML encodes the duration as a string.
func (d Duration) MarshalYAML() (any, error) {
	return d.String(), nil
}

// UnmarshalYAML decodes a duration string.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("duration must be a string: %w", err)
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}
