// Package scanner walks a remote tree page by page and collects the files
// that are deletion targets.
//
// Scanning is strictly sequential: one outstanding page request at a time,
// following the continuation cursor until the listing reports no more
// pages. Each page fetch goes through a retry.Executor for transport
// failures, and the scanner adds its own outer retry layer for remote API
// errors (rate limiting, transient service errors).
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/memosweep/pkg/match"
	"github.com/3leaps/memosweep/pkg/remote"
	"github.com/3leaps/memosweep/pkg/retry"
)

// Config configures a scan.
type Config struct {
	// Root is the folder to scan. Empty scans the whole namespace.
	Root string

	// Exclusions lists excluded subtrees. Nil excludes nothing.
	Exclusions *match.Exclusions

	// Pattern decides which file names are targets. Nil uses match.Default().
	Pattern *match.Pattern

	// PageLimit is the page size requested from the remote.
	// Default: 2000
	PageLimit int

	// ProgressEvery controls how often progress is reported, in entries.
	// Default: 500
	ProgressEvery int

	// PageDelay is the fixed pause between successful page fetches.
	// Zero disables the pause.
	PageDelay time.Duration

	// MaxPageRetries is the outer retry ceiling per page.
	// Default: 3. Negative disables the outer retry.
	MaxPageRetries int

	// PageRetryBase seeds the outer retry wait, base * 2^attempt.
	// Default: 1s
	PageRetryBase time.Duration
}

// DefaultConfig returns the default scanner configuration.
func DefaultConfig() Config {
	return Config{
		PageLimit:      2000,
		ProgressEvery:  500,
		PageDelay:      time.Second,
		MaxPageRetries: 3,
		PageRetryBase:  time.Second,
	}
}

// Progress is a snapshot of scan counters.
type Progress struct {
	Scanned  int64
	Targets  int64
	Excluded int64
	Pages    int64
}

// ProgressFunc receives progress snapshots. It is called from the scanning
// goroutine and must not block.
type ProgressFunc func(Progress)

// Result is the outcome of a scan.
type Result struct {
	// Targets holds the paths of target files, in listing order.
	Targets []string

	// Scanned counts every entry returned by the remote.
	Scanned int64

	// Excluded counts entries skipped by exclusion rules.
	Excluded int64

	// Pages counts pages fetched.
	Pages int64

	// Partial is set when scanning stopped early after finding targets.
	Partial bool

	// FailedCursor is the cursor of the page that could not be fetched,
	// or the root when the first page failed.
	FailedCursor string

	// Err is the error that stopped a partial scan.
	Err error

	// Duration is the wall time of the scan.
	Duration time.Duration
}

// Scanner executes one scan against a remote.
//
// Scanner is safe for single use only. Create a new Scanner for each scan.
type Scanner struct {
	remote   remote.Remote
	exec     *retry.Executor
	config   Config
	logger   *zap.Logger
	progress ProgressFunc

	scanned  atomic.Int64
	targets  atomic.Int64
	excluded atomic.Int64
	pages    atomic.Int64
}

// Option configures a Scanner.
type Option func(*Scanner)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Scanner) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(s *Scanner) { s.progress = fn }
}

// New creates a scanner. Zero config values take their defaults.
func New(r remote.Remote, exec *retry.Executor, cfg Config, opts ...Option) *Scanner {
	def := DefaultConfig()
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = def.PageLimit
	}
	if cfg.ProgressEvery <= 0 {
		cfg.ProgressEvery = def.ProgressEvery
	}
	if cfg.PageDelay < 0 {
		cfg.PageDelay = 0
	}
	switch {
	case cfg.MaxPageRetries == 0:
		cfg.MaxPageRetries = def.MaxPageRetries
	case cfg.MaxPageRetries < 0:
		cfg.MaxPageRetries = 0
	}
	if cfg.PageRetryBase <= 0 {
		cfg.PageRetryBase = def.PageRetryBase
	}
	if cfg.Pattern == nil {
		cfg.Pattern = match.Default()
	}
	cfg.Root = remote.CleanPath(cfg.Root)

	s := &Scanner{
		remote: r,
		exec:   exec,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the current counters. Safe to call concurrently with Scan.
func (s *Scanner) Stats() Progress {
	return Progress{
		Scanned:  s.scanned.Load(),
		Targets:  s.targets.Load(),
		Excluded: s.excluded.Load(),
		Pages:    s.pages.Load(),
	}
}

// Scan lists the root recursively and returns the target set.
//
// When a page cannot be fetched after the outer retries, Scan returns a
// partial Result (nil error) if at least one target was found, and the
// error otherwise. Cancellation always returns the context error.
func (s *Scanner) Scan(ctx context.Context) (*Result, error) {
	start := time.Now()
	res := &Result{}
	cursor := ""

	s.logger.Info("Scan started",
		zap.String("root", displayRoot(s.config.Root)),
		zap.Int("page_limit", s.config.PageLimit))

	for {
		page, err := s.fetch(ctx, cursor)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			failedAt := cursor
			if failedAt == "" {
				failedAt = displayRoot(s.config.Root)
			}
			s.logger.Error(fmt.Sprintf("Fatal scan error after %d entries", s.scanned.Load()),
				zap.String("cursor", failedAt),
				zap.Error(err))
			if len(res.Targets) == 0 {
				return nil, err
			}
			res.Partial = true
			res.FailedCursor = failedAt
			res.Err = err
			break
		}

		s.pages.Add(1)
		res.Targets = s.process(page.Entries, res.Targets)

		if !page.HasMore {
			break
		}
		cursor = page.Cursor

		if s.config.PageDelay > 0 {
			if err := s.exec.Sleeper()(ctx, s.config.PageDelay); err != nil {
				return nil, err
			}
		}
	}

	stats := s.Stats()
	res.Scanned = stats.Scanned
	res.Excluded = stats.Excluded
	res.Pages = stats.Pages
	res.Duration = time.Since(start)

	s.logger.Info(fmt.Sprintf("Scan completed: %d entries processed", res.Scanned),
		zap.Int("targets", len(res.Targets)),
		zap.Int64("excluded", res.Excluded),
		zap.Int64("pages", res.Pages),
		zap.Bool("partial", res.Partial),
		zap.Duration("duration", res.Duration))
	return res, nil
}

// process classifies one page of entries and appends targets to out.
func (s *Scanner) process(entries []remote.Entry, out []string) []string {
	for _, e := range entries {
		n := s.scanned.Add(1)
		if n%int64(s.config.ProgressEvery) == 0 {
			s.reportProgress()
		}

		// Excluded subtrees are filtered client-side; listings are not
		// assumed to be scoped by the remote.
		if s.config.Exclusions.Excludes(e.PathLower) {
			s.excluded.Add(1)
			continue
		}
		if e.IsFile() && s.config.Pattern.IsTarget(e.Name) {
			s.targets.Add(1)
			out = append(out, e.Path)
		}
	}
	return out
}

func (s *Scanner) reportProgress() {
	p := s.Stats()
	s.logger.Info(fmt.Sprintf("Scanned %d entries...", p.Scanned),
		zap.Int64("targets", p.Targets),
		zap.Int64("pages", p.Pages))
	if s.progress != nil {
		s.progress(p)
	}
}

// fetch retrieves one page. Transport failures are retried by the
// executor; remote API failures get up to MaxPageRetries outer retries.
func (s *Scanner) fetch(ctx context.Context, cursor string) (*remote.Page, error) {
	op := "ListFolder"
	if cursor != "" {
		op = "ListFolderContinue"
	}

	for attempt := 0; ; {
		page, err := retry.Run(ctx, s.exec, op, func(ctx context.Context) (*remote.Page, error) {
			if cursor == "" {
				return s.remote.ListFolder(ctx, s.config.Root, true, s.config.PageLimit)
			}
			return s.remote.ListFolderContinue(ctx, cursor)
		})
		if err == nil {
			return page, nil
		}
		if !outerRetryable(err) || attempt >= s.config.MaxPageRetries {
			return nil, err
		}

		attempt++
		wait := s.config.PageRetryBase * time.Duration(1<<attempt)
		s.logger.Warn(fmt.Sprintf("Retry %d/%d after %.1fs", attempt, s.config.MaxPageRetries, wait.Seconds()),
			zap.String("op", op),
			zap.String("kind", remote.Classify(err).String()),
			zap.Error(err))
		if serr := s.exec.Sleeper()(ctx, wait); serr != nil {
			return nil, serr
		}
	}
}

// outerRetryable reports whether the scanner's page-level retry applies.
// Authorization failures and cancellation are final.
func outerRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return !remote.IsAuth(err)
}

func displayRoot(root string) string {
	if root == "" {
		return "/"
	}
	return root
}
