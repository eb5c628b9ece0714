package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/3leaps/memosweep/pkg/manifest"
	"github.com/3leaps/memosweep/pkg/match"
	"github.com/3leaps/memosweep/pkg/output"
	"github.com/3leaps/memosweep/pkg/remote"
	"github.com/3leaps/memosweep/pkg/remote/dropbox"
	"github.com/3leaps/memosweep/pkg/remote/file"
	"github.com/3leaps/memosweep/pkg/remote/s3"
	"github.com/3leaps/memosweep/pkg/sweep"
)

// jobFlags are the flags shared by run and scan.
type jobFlags struct {
	jobPath    string
	root       string
	excludes   []string
	patterns   []string
	backend    string
	baseDir    string
	bucket     string
	region     string
	endpoint   string
	profile    string
	tokenEnv   string
	report     string
	workers    int
	batchSize  int
	statusAddr string
}

func (f *jobFlags) register(cmd *cobra.Command) {
	fl := cmd.Flags()
	fl.StringVarP(&f.jobPath, "job", "j", "", "Path to job manifest (\"-\" reads stdin)")
	fl.StringVar(&f.root, "root", "", "Folder to sweep (overrides target.root)")
	fl.StringArrayVar(&f.excludes, "exclude", nil, "Excluded path prefix or glob (repeatable)")
	fl.StringArrayVar(&f.patterns, "pattern", nil, "Target filename regex (repeatable, replaces the defaults)")
	fl.StringVar(&f.backend, "backend", "", "Remote backend (dropbox, s3, file)")
	fl.StringVar(&f.baseDir, "base-dir", "", "Local directory for the file backend")
	fl.StringVar(&f.bucket, "bucket", "", "Bucket for the s3 backend")
	fl.StringVar(&f.region, "region", "", "Region for the s3 backend")
	fl.StringVar(&f.endpoint, "endpoint", "", "Custom endpoint for S3-compatible stores")
	fl.StringVar(&f.profile, "profile", "", "AWS profile for the s3 backend")
	fl.StringVar(&f.tokenEnv, "token-env", "", "Environment variable holding the Dropbox token")
	fl.StringVar(&f.report, "report", "", "JSONL report destination (stdout or file:PATH)")
	fl.IntVar(&f.workers, "workers", 0, "Concurrent delete workers")
	fl.IntVar(&f.batchSize, "batch-size", 0, "Paths per delete request")
	fl.StringVar(&f.statusAddr, "status-addr", "", "Serve live progress on this address (host:port)")
}

// loadJob builds the manifest from --job and flag overrides, then validates
// and defaults it. Without --job, flags alone describe the job.
func (f *jobFlags) loadJob(cmd *cobra.Command) (*manifest.Manifest, error) {
	var m *manifest.Manifest
	if f.jobPath != "" {
		loaded, err := manifest.Load(f.jobPath)
		if err != nil {
			return nil, err
		}
		m = loaded
	} else {
		m = &manifest.Manifest{Version: "1.0"}
	}

	changed := cmd.Flags().Changed
	if changed("root") {
		m.Target.Root = f.root
	}
	if len(f.excludes) > 0 {
		m.Target.Excludes = append(m.Target.Excludes, f.excludes...)
	}
	if len(f.patterns) > 0 {
		m.Target.Patterns = f.patterns
	}
	if changed("backend") {
		m.Connection.Backend = f.backend
		if f.backend != manifest.DefaultBackend && m.Connection.TokenEnv == manifest.DefaultTokenEnv {
			m.Connection.TokenEnv = ""
		}
	}
	setIf := func(name string, dst *string, v string) {
		if changed(name) {
			*dst = v
		}
	}
	setIf("base-dir", &m.Connection.BaseDir, f.baseDir)
	setIf("bucket", &m.Connection.Bucket, f.bucket)
	setIf("region", &m.Connection.Region, f.region)
	setIf("endpoint", &m.Connection.Endpoint, f.endpoint)
	setIf("profile", &m.Connection.Profile, f.profile)
	setIf("token-env", &m.Connection.TokenEnv, f.tokenEnv)
	setIf("report", &m.Output.Destination, f.report)
	if changed("workers") {
		m.Sweep.Workers = f.workers
	}
	if changed("batch-size") {
		m.Sweep.BatchSize = f.batchSize
	}

	if err := manifest.Validate(m); err != nil {
		return nil, err
	}
	m.ApplyDefaults()
	return m, nil
}

// sweepConfig translates a manifest into a run configuration.
func sweepConfig(m *manifest.Manifest) (sweep.Config, error) {
	ex, err := match.NewExclusions(m.Target.Excludes)
	if err != nil {
		return sweep.Config{}, fmt.Errorf("exclusions: %w", err)
	}
	var pattern *match.Pattern
	if len(m.Target.Patterns) > 0 {
		pattern, err = match.NewPattern(m.Target.Patterns...)
		if err != nil {
			return sweep.Config{}, fmt.Errorf("patterns: %w", err)
		}
	}

	s := m.Sweep
	cfg := sweep.DefaultConfig()
	cfg.Root = m.Target.Root
	cfg.Exclusions = ex
	cfg.Pattern = pattern
	cfg.DryRun = s.DryRunEnabled()
	cfg.Reclaim = s.ReclaimEnabled()
	cfg.RateLimit = s.RateLimit
	cfg.RunRetries = s.RunRetries
	cfg.ReconnectDelay = s.ReconnectDelay.Std()

	cfg.Retry.MaxRetries = s.Retry.MaxRetries
	cfg.Retry.InitialTimeout = s.Retry.InitialTimeout.Std()
	cfg.Retry.BackoffFactor = s.Retry.BackoffFactor

	cfg.Scan.PageLimit = s.PageLimit
	cfg.Scan.PageDelay = s.APIDelay.Std()
	cfg.Scan.MaxPageRetries = s.Retry.PageRetries
	cfg.Scan.PageRetryBase = s.APIDelay.Std()

	cfg.Delete.BatchSize = s.BatchSize
	cfg.Delete.Workers = s.Workers
	cfg.Delete.BatchDelay = s.APIDelay.Std()
	cfg.Delete.RetryDelay = 2 * s.APIDelay.Std()

	cfg.Folders.MaxAttempts = s.Retry.FolderRetries
	cfg.Folders.MaxWait = s.Retry.FolderMaxWait.Std()
	cfg.Folders.PageLimit = s.PageLimit
	return cfg, nil
}

var errMissingToken = errors.New("dropbox access token not set")

// newConnector returns a connector for the manifest's backend. Credentials
// are checked up front so a missing token fails before the run starts.
func newConnector(m *manifest.Manifest) (sweep.Connector, error) {
	c := m.Connection
	switch c.Backend {
	case dropbox.BackendName:
		token := strings.TrimSpace(os.Getenv(c.TokenEnv))
		if token == "" {
			return nil, fmt.Errorf("%w: set %s", errMissingToken, c.TokenEnv)
		}
		return sweep.ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
			return dropbox.New(dropbox.Config{Token: token})
		}), nil

	case s3.BackendName:
		cfg := s3.Config{
			Bucket:   c.Bucket,
			Region:   c.Region,
			Endpoint: c.Endpoint,
			Profile:  c.Profile,
			// S3-compatible services (MinIO, moto) require path-style URLs.
			ForcePathStyle: c.Endpoint != "",
		}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return sweep.ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
			return s3.New(ctx, cfg)
		}), nil

	case file.BackendName:
		cfg := file.Config{BaseDir: c.BaseDir}
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return sweep.ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
			return file.New(cfg)
		}), nil
	}
	return nil, fmt.Errorf("unsupported backend %q", c.Backend)
}

// createWriter creates a report writer for dest ("", "stdout" or
// "file:PATH"). Returns the writer, a cleanup function, and any error.
func createWriter(dest string, stdout io.Writer, runID, backend string) (output.Writer, func(), error) {
	switch {
	case dest == "":
		return output.Discard(), func() {}, nil
	case dest == "stdout":
		w := output.NewJSONLWriter(stdout, runID, backend)
		return w, func() { _ = w.Close() }, nil
	}

	path := strings.TrimPrefix(dest, "file:")
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create report file %s: %w", path, err)
	}

	w := output.NewJSONLWriter(f, runID, backend)
	cleanup := func() {
		_ = w.Close()
		_ = f.Close()
	}
	return w, cleanup, nil
}
