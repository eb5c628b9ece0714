// Package reclaim removes folders left holding nothing but deletion
// targets, deepest first.
//
// Candidates are the ancestors of every target path strictly below the
// root. Each candidate is listed recursively before deletion and removed
// only when every file inside it is a target and nothing inside it is
// excluded, since a folder delete removes its whole subtree.
package reclaim

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/memosweep/pkg/match"
	"github.com/3leaps/memosweep/pkg/remote"
	"github.com/3leaps/memosweep/pkg/retry"
)

// Config configures folder reclamation.
type Config struct {
	// Root bounds the candidates: only folders strictly below it qualify.
	Root string

	// Exclusions lists excluded subtrees. Nil excludes nothing.
	Exclusions *match.Exclusions

	// Pattern decides which file names are targets. Nil uses match.Default().
	Pattern *match.Pattern

	// DryRun logs intent without deleting.
	DryRun bool

	// MaxAttempts bounds attempts per candidate.
	// Default: 5
	MaxAttempts int

	// MaxWait caps the wait between attempts, min(MaxWait, 2^attempt s).
	// Default: 30s
	MaxWait time.Duration

	// PageLimit is the page size for candidate listings.
	// Default: 2000
	PageLimit int
}

// DefaultConfig returns the default reclaimer configuration.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 5,
		MaxWait:     30 * time.Second,
		PageLimit:   2000,
	}
}

// Candidate is a folder that may become empty.
type Candidate struct {
	Path  string
	Depth int
}

// Candidates returns the deduplicated ancestors of targets strictly below
// root, deepest first. Ties are ordered by path.
func Candidates(targets []string, root string) []Candidate {
	root = remote.CleanPath(root)
	seen := make(map[string]bool)
	var out []Candidate
	for _, t := range targets {
		for dir := remote.Parent(remote.CleanPath(t)); remote.IsUnder(dir, root); dir = remote.Parent(dir) {
			if seen[dir] {
				break
			}
			seen[dir] = true
			out = append(out, Candidate{Path: dir, Depth: remote.Depth(dir)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Depth != out[j].Depth {
			return out[i].Depth > out[j].Depth
		}
		return out[i].Path < out[j].Path
	})
	return out
}

// Status is the fate of one candidate.
type Status string

const (
	StatusReclaimed    Status = "reclaimed"
	StatusWouldReclaim Status = "would_reclaim"
	StatusKept         Status = "kept"
	StatusExcluded     Status = "excluded"
	StatusAlreadyGone  Status = "already_gone"
	StatusFailed       Status = "failed"
)

// Outcome reports what happened to one candidate.
type Outcome struct {
	Candidate Candidate
	Status    Status

	// Reason explains a kept folder.
	Reason string

	// Attempts is the number of evaluations made.
	Attempts int

	// Err is the final error of a failed candidate.
	Err error
}

// Observer receives every candidate outcome, in processing order.
type Observer func(Outcome)

// Result aggregates a Reclaim run.
type Result struct {
	Candidates  int
	Reclaimed   int
	Kept        int
	Excluded    int
	AlreadyGone int

	// Failed lists candidates that failed permanently.
	Failed []string

	// Order lists evaluated candidates in processing order.
	Order []string

	DryRun   bool
	Duration time.Duration
}

// Reclaimer evaluates and removes candidate folders sequentially.
type Reclaimer struct {
	remote   remote.Remote
	exec     *retry.Executor
	config   Config
	logger   *zap.Logger
	observer Observer
}

// Option configures a Reclaimer.
type Option func(*Reclaimer)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(r *Reclaimer) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver registers a candidate outcome observer.
func WithObserver(fn Observer) Option {
	return func(r *Reclaimer) { r.observer = fn }
}

// New creates a reclaimer. Zero config values take their defaults.
func New(r remote.Remote, exec *retry.Executor, cfg Config, opts ...Option) *Reclaimer {
	def := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = def.MaxWait
	}
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = def.PageLimit
	}
	if cfg.Pattern == nil {
		cfg.Pattern = match.Default()
	}
	cfg.Root = remote.CleanPath(cfg.Root)

	rc := &Reclaimer{
		remote: r,
		exec:   exec,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(rc)
	}
	return rc
}

// Reclaim processes the candidates derived from targets. Failures are
// recorded per candidate and never abort the run; only cancellation stops
// it early.
func (r *Reclaimer) Reclaim(ctx context.Context, targets []string) *Result {
	start := time.Now()
	candidates := Candidates(targets, r.config.Root)
	res := &Result{Candidates: len(candidates), DryRun: r.config.DryRun}

	r.logger.Info("Cleaning folders",
		zap.Int("candidates", len(candidates)),
		zap.Bool("dry_run", r.config.DryRun))

	for _, c := range candidates {
		if ctx.Err() != nil {
			break
		}
		res.Order = append(res.Order, c.Path)

		out := r.process(ctx, c)
		switch out.Status {
		case StatusReclaimed, StatusWouldReclaim:
			res.Reclaimed++
		case StatusKept:
			res.Kept++
		case StatusExcluded:
			res.Excluded++
		case StatusAlreadyGone:
			res.AlreadyGone++
		case StatusFailed:
			res.Failed = append(res.Failed, c.Path)
		}
		if r.observer != nil {
			r.observer(out)
		}
	}

	res.Duration = time.Since(start)
	r.logger.Info("Folder cleanup finished",
		zap.Int("reclaimed", res.Reclaimed),
		zap.Int("kept", res.Kept),
		zap.Int("excluded", res.Excluded),
		zap.Int("failed", len(res.Failed)),
		zap.Duration("duration", res.Duration))
	return res
}

// process evaluates one candidate with capped exponential retry.
func (r *Reclaimer) process(ctx context.Context, c Candidate) Outcome {
	if r.config.Exclusions.Excludes(c.Path) {
		return Outcome{Candidate: c, Status: StatusExcluded}
	}

	for attempt := 1; ; attempt++ {
		out, err := r.evaluate(ctx, c)
		out.Attempts = attempt
		if err == nil {
			return out
		}

		final := attempt >= r.config.MaxAttempts || remote.IsAuth(err) || ctx.Err() != nil
		if final {
			r.logger.Error(fmt.Sprintf("Permanently failed: %s", c.Path),
				zap.Int("attempts", attempt),
				zap.Error(err))
			return Outcome{Candidate: c, Status: StatusFailed, Attempts: attempt, Err: err}
		}

		wait := backoff(attempt, r.config.MaxWait)
		r.logger.Warn(fmt.Sprintf("Retry %d/%d for %s", attempt, r.config.MaxAttempts, c.Path),
			zap.Duration("wait", wait),
			zap.Error(err))
		if serr := r.exec.Sleeper()(ctx, wait); serr != nil {
			return Outcome{Candidate: c, Status: StatusFailed, Attempts: attempt, Err: serr}
		}
	}
}

// evaluate checks a candidate and deletes it when reclaimable.
func (r *Reclaimer) evaluate(ctx context.Context, c Candidate) (Outcome, error) {
	out := Outcome{Candidate: c}

	reason, err := r.blocker(ctx, c.Path)
	if err != nil {
		if remote.IsNotFound(err) {
			out.Status = StatusAlreadyGone
			return out, nil
		}
		return out, err
	}
	if reason != "" {
		out.Status = StatusKept
		out.Reason = reason
		r.logger.Debug("Keeping folder", zap.String("folder", c.Path), zap.String("reason", reason))
		return out, nil
	}

	if r.config.DryRun {
		r.logger.Info(fmt.Sprintf("[DRY RUN] Would delete: %s", c.Path))
		out.Status = StatusWouldReclaim
		return out, nil
	}

	err = r.exec.Do(ctx, "DeleteEntity", func(ctx context.Context) error {
		return r.remote.DeleteEntity(ctx, c.Path)
	})
	switch {
	case err == nil:
		r.logger.Info(fmt.Sprintf("Deleted folder: %s", c.Path))
		out.Status = StatusReclaimed
		return out, nil
	case remote.IsNotFound(err):
		out.Status = StatusAlreadyGone
		return out, nil
	default:
		return out, err
	}
}

// blocker lists folder recursively and returns why it must be kept, or ""
// when every file inside is a target and nothing inside is excluded.
func (r *Reclaimer) blocker(ctx context.Context, folder string) (string, error) {
	cursor := ""
	for {
		page, err := retry.Run(ctx, r.exec, "ListFolder", func(ctx context.Context) (*remote.Page, error) {
			if cursor == "" {
				return r.remote.ListFolder(ctx, folder, true, r.config.PageLimit)
			}
			return r.remote.ListFolderContinue(ctx, cursor)
		})
		if err != nil {
			return "", err
		}
		for _, e := range page.Entries {
			if r.config.Exclusions.Excludes(e.PathLower) {
				return "contains excluded path " + e.Path, nil
			}
			if e.IsFile() && !r.config.Pattern.IsTarget(e.Name) {
				return "contains non-target file " + e.Path, nil
			}
		}
		if !page.HasMore {
			return "", nil
		}
		cursor = page.Cursor
	}
}

// backoff returns min(ceiling, 2^attempt seconds).
func backoff(attempt int, ceiling time.Duration) time.Duration {
	if attempt >= 30 {
		return ceiling
	}
	return min(time.Duration(1<<attempt)*time.Second, ceiling)
}
