// Package sweep runs a complete memo sweep against one remote tree.
//
// A run moves through Scanning, Previewing, Confirming, Deleting,
// Confirming again and Reclaiming before reaching Done. Connectivity loss
// during a run drops the remote, waits, reconnects and restarts from
// Scanning; deletion tolerates already-removed files, so a restarted run
// converges on the same end state. Any other surfaced error ends the run as
// Fatal.
package sweep

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/3leaps/memosweep/pkg/deleter"
	"github.com/3leaps/memosweep/pkg/match"
	"github.com/3leaps/memosweep/pkg/output"
	"github.com/3leaps/memosweep/pkg/reclaim"
	"github.com/3leaps/memosweep/pkg/remote"
	"github.com/3leaps/memosweep/pkg/retry"
	"github.com/3leaps/memosweep/pkg/scanner"
)

// Phase is the state of a run.
type Phase string

const (
	PhaseIdle         Phase = "idle"
	PhaseScanning     Phase = output.PhaseScanning
	PhasePreviewing   Phase = output.PhasePreviewing
	PhaseConfirming   Phase = output.PhaseConfirming
	PhaseDeleting     Phase = output.PhaseDeleting
	PhaseReclaiming   Phase = output.PhaseReclaiming
	PhaseReconnecting Phase = output.PhaseReconnecting
	PhaseDone         Phase = output.PhaseDone
	PhaseFatal        Phase = output.PhaseFatal
)

// Status is the terminal outcome of a run.
type Status string

const (
	// StatusSuccess means every target and candidate was resolved.
	StatusSuccess Status = "success"

	// StatusPartial means the run finished with unresolved items.
	StatusPartial Status = "partial"

	// StatusAborted means the operator declined deletion.
	StatusAborted Status = "aborted"

	// StatusCancelled means the context was cancelled.
	StatusCancelled Status = "cancelled"

	// StatusFatal means a non-recoverable error ended the run.
	StatusFatal Status = "fatal"
)

// Connector opens a remote. It is called at the start of the run and after
// every connectivity loss.
type Connector interface {
	Connect(ctx context.Context) (remote.Remote, error)
}

// ConnectorFunc adapts a function to Connector.
type ConnectorFunc func(ctx context.Context) (remote.Remote, error)

// Connect calls f.
func (f ConnectorFunc) Connect(ctx context.Context) (remote.Remote, error) { return f(ctx) }

// Config configures a run. Root, Exclusions, Pattern and DryRun override the
// matching fields of the per-phase configs.
type Config struct {
	Root       string
	Exclusions *match.Exclusions
	Pattern    *match.Pattern
	DryRun     bool

	// Reclaim enables the folder phase.
	Reclaim bool

	Retry   retry.Policy
	Scan    scanner.Config
	Delete  deleter.Config
	Folders reclaim.Config

	// RateLimit caps remote requests per second across all workers.
	// Zero disables the limiter.
	RateLimit float64

	// RunRetries bounds whole-run reconnections. Zero means the default;
	// negative disables reconnection.
	// Default: 3
	RunRetries int

	// ReconnectDelay is multiplied by the attempt number before reconnecting.
	// Default: 10s
	ReconnectDelay time.Duration

	// PreviewCount is the number of targets listed before confirmation.
	// Default: 3
	PreviewCount int
}

// DefaultConfig returns the default run configuration.
func DefaultConfig() Config {
	return Config{
		Reclaim:        true,
		Retry:          retry.DefaultPolicy(),
		Scan:           scanner.DefaultConfig(),
		Delete:         deleter.DefaultConfig(),
		Folders:        reclaim.DefaultConfig(),
		RunRetries:     3,
		ReconnectDelay: 10 * time.Second,
		PreviewCount:   3,
	}
}

// RunResult summarises a run.
type RunResult struct {
	RunID  string
	Status Status

	// Phase is the last phase entered.
	Phase Phase

	// Attempts is the number of whole-run attempts made.
	Attempts int
	DryRun   bool

	Scanned     int64
	Targets     []string
	ScanPartial bool

	Deleted       int
	NotFound      int
	FailedBatches int
	Abandoned     int

	ReclaimSkipped bool
	Reclaimed      int
	FoldersKept    int
	FoldersFailed  int

	// Err is the error behind a fatal, cancelled or partial status.
	Err     error
	Elapsed time.Duration
}

// Sweeper runs sweeps.
type Sweeper struct {
	connector Connector
	confirmer Confirmer
	config    Config
	logger    *zap.Logger
	writer    output.Writer
	console   io.Writer
	sleep     retry.SleepFunc
	tracker   *Tracker
	runID     string
	backend   string
}

// Option configures a Sweeper.
type Option func(*Sweeper)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithWriter sets the JSONL report writer.
func WithWriter(w output.Writer) Option {
	return func(s *Sweeper) {
		if w != nil {
			s.writer = w
		}
	}
}

// WithConsole sets where the target preview is printed.
func WithConsole(w io.Writer) Option {
	return func(s *Sweeper) {
		if w != nil {
			s.console = w
		}
	}
}

// WithSleep replaces the real-clock sleep for every wait in the run.
func WithSleep(fn retry.SleepFunc) Option {
	return func(s *Sweeper) { s.sleep = fn }
}

// WithTracker publishes live progress to t.
func WithTracker(t *Tracker) Option {
	return func(s *Sweeper) { s.tracker = t }
}

// WithRunID sets the run correlation ID.
func WithRunID(id string) Option {
	return func(s *Sweeper) { s.runID = id }
}

// WithBackend names the remote backend in the summary log.
func WithBackend(name string) Option {
	return func(s *Sweeper) { s.backend = name }
}

// New creates a sweeper. A nil confirmer declines every question.
func New(connector Connector, confirmer Confirmer, cfg Config, opts ...Option) *Sweeper {
	def := DefaultConfig()
	switch {
	case cfg.RunRetries == 0:
		cfg.RunRetries = def.RunRetries
	case cfg.RunRetries < 0:
		cfg.RunRetries = 0
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.PreviewCount <= 0 {
		cfg.PreviewCount = def.PreviewCount
	}
	if cfg.Pattern == nil {
		cfg.Pattern = match.Default()
	}
	cfg.Root = remote.CleanPath(cfg.Root)
	if confirmer == nil {
		confirmer = AutoConfirm{}
	}

	s := &Sweeper{
		connector: connector,
		confirmer: confirmer,
		config:    cfg,
		logger:    zap.NewNop(),
		writer:    output.Discard(),
		console:   io.Discard,
		sleep:     retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.tracker == nil {
		s.tracker = NewTracker()
	}
	if s.runID == "" {
		s.runID = uuid.New().String()
	}
	return s
}

// RunID returns the run correlation ID.
func (s *Sweeper) RunID() string { return s.runID }

// Tracker returns the live progress tracker.
func (s *Sweeper) Tracker() *Tracker { return s.tracker }

// Run executes the sweep. It never returns a nil result; the outcome is in
// RunResult.Status.
func (s *Sweeper) Run(ctx context.Context) *RunResult {
	start := time.Now()
	res := &RunResult{RunID: s.runID, DryRun: s.config.DryRun, Phase: PhaseIdle}
	s.tracker.update(func(sn *Snapshot) {
		sn.RunID = s.runID
		sn.DryRun = s.config.DryRun
		sn.StartedAt = start.UTC()
	})

	exec := retry.New(s.config.Retry, retry.WithSleep(s.sleep), retry.WithLogger(s.logger))

	s.logger.Info("Sweep started",
		zap.String("run_id", s.runID),
		zap.String("backend", s.backend),
		zap.String("root", displayRoot(s.config.Root)),
		zap.Bool("dry_run", s.config.DryRun))

	var r remote.Remote
	defer func() {
		if r != nil {
			_ = r.Close()
		}
	}()

	for attempt := 1; ; attempt++ {
		res.Attempts = attempt
		s.tracker.update(func(sn *Snapshot) { sn.Attempt = attempt })

		if r == nil {
			conn, err := s.connector.Connect(ctx)
			if err != nil {
				if s.reconnect(ctx, res, attempt, fmt.Errorf("connect: %w", err)) {
					continue
				}
				break
			}
			r = remote.WithRateLimit(conn, s.config.RateLimit)
		}

		err := s.attempt(ctx, exec, r, attempt, res)
		if err == nil {
			break
		}
		if s.reconnect(ctx, res, attempt, err) {
			_ = r.Close()
			r = nil
			continue
		}
		break
	}

	res.Elapsed = time.Since(start)
	s.tracker.update(func(sn *Snapshot) { sn.Status = res.Status })
	s.writeSummary(ctx, res)

	s.logger.Info("Sweep finished",
		zap.String("status", string(res.Status)),
		zap.Int("attempts", res.Attempts),
		zap.Int("targets", len(res.Targets)),
		zap.Int("deleted", res.Deleted),
		zap.Int("reclaimed", res.Reclaimed),
		zap.Duration("elapsed", res.Elapsed))
	return res
}

// reconnect decides what follows a failed attempt. It returns true when the
// run should try again; otherwise res holds the terminal status.
func (s *Sweeper) reconnect(ctx context.Context, res *RunResult, attempt int, err error) bool {
	if ctx.Err() != nil {
		s.cancelled(ctx, res)
		return false
	}

	failedIn := res.Phase
	if retry.IsConnectivityLoss(err) && attempt <= s.config.RunRetries {
		wait := s.config.ReconnectDelay * time.Duration(attempt)
		s.setPhase(ctx, res, PhaseReconnecting)
		s.logger.Warn(fmt.Sprintf("Connection lost, reconnecting in %.0fs (attempt %d/%d)", wait.Seconds(), attempt, s.config.RunRetries),
			zap.Error(err))
		s.reportError(ctx, failedIn, "", err)
		if serr := s.sleep(ctx, wait); serr != nil {
			s.cancelled(ctx, res)
			return false
		}
		return true
	}

	s.logger.Error("Fatal error", zap.String("phase", string(failedIn)), zap.Error(err))
	s.reportError(ctx, failedIn, "", err)
	res.Status = StatusFatal
	res.Err = err
	s.setPhase(ctx, res, PhaseFatal)
	return false
}

func (s *Sweeper) cancelled(ctx context.Context, res *RunResult) {
	s.logger.Warn("Sweep cancelled", zap.String("phase", string(res.Phase)))
	res.Status = StatusCancelled
	res.Err = ctx.Err()
}

// attempt runs every phase once on r.
func (s *Sweeper) attempt(ctx context.Context, exec *retry.Executor, r remote.Remote, attempt int, res *RunResult) error {
	s.setPhase(ctx, res, PhaseScanning)
	scanCfg := s.config.Scan
	scanCfg.Root = s.config.Root
	scanCfg.Exclusions = s.config.Exclusions
	scanCfg.Pattern = s.config.Pattern
	sc := scanner.New(r, exec, scanCfg,
		scanner.WithLogger(s.logger),
		scanner.WithProgress(func(p scanner.Progress) {
			s.tracker.update(func(sn *Snapshot) {
				sn.Scanned = p.Scanned
				sn.Targets = p.Targets
			})
			s.emit("progress", s.writer.WriteProgress(report(ctx), &output.ProgressRecord{
				Phase:   string(PhaseScanning),
				Scanned: p.Scanned,
				Targets: p.Targets,
				Attempt: attempt,
			}))
		}))

	scan, err := sc.Scan(ctx)
	if err != nil {
		return err
	}
	res.Scanned = scan.Scanned
	res.Targets = scan.Targets
	res.ScanPartial = scan.Partial
	s.tracker.update(func(sn *Snapshot) {
		sn.Scanned = scan.Scanned
		sn.Targets = int64(len(scan.Targets))
	})
	if scan.Partial {
		res.Err = scan.Err
		s.reportError(ctx, PhaseScanning, scan.FailedCursor, scan.Err)
	}
	for _, t := range scan.Targets {
		s.emit("target", s.writer.WriteTarget(report(ctx), &output.TargetRecord{Path: t, Attempt: attempt}))
	}

	if len(scan.Targets) == 0 {
		s.logger.Info("No matching files found")
		res.Status = StatusSuccess
		s.setPhase(ctx, res, PhaseDone)
		return nil
	}

	s.setPhase(ctx, res, PhasePreviewing)
	s.preview(scan.Targets)

	if !s.config.DryRun {
		s.setPhase(ctx, res, PhaseConfirming)
		ok, err := s.confirmer.Confirm(ctx, "Proceed with deletion?")
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Info("Deletion cancelled by user")
			res.Status = StatusAborted
			s.setPhase(ctx, res, PhaseDone)
			return nil
		}
	}

	s.setPhase(ctx, res, PhaseDeleting)
	delCfg := s.config.Delete
	delCfg.DryRun = s.config.DryRun
	del := deleter.New(r, exec, delCfg,
		deleter.WithLogger(s.logger),
		deleter.WithObserver(s.onBatch(ctx))).
		DeleteAll(ctx, scan.Targets)
	if del.Err != nil {
		return del.Err
	}
	res.Deleted = del.Deleted
	res.NotFound = del.NotFound
	res.FailedBatches = del.FailedBatches
	res.Abandoned = len(del.Abandoned)
	for _, p := range del.Abandoned {
		s.emit("error", s.writer.WriteError(report(ctx), &output.ErrorRecord{
			Code:    output.ErrCodePartial,
			Message: "file unresolved after batch retry",
			Path:    p,
			Phase:   string(PhaseDeleting),
		}))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	res.ReclaimSkipped = !s.config.Reclaim
	if s.config.Reclaim && !s.config.DryRun {
		s.setPhase(ctx, res, PhaseConfirming)
		ok, err := s.confirmer.Confirm(ctx, "Clean empty folders?")
		if err != nil {
			return err
		}
		if !ok {
			s.logger.Info("Folder cleanup skipped")
			res.ReclaimSkipped = true
		}
	}

	if !res.ReclaimSkipped {
		s.setPhase(ctx, res, PhaseReclaiming)
		folderCfg := s.config.Folders
		folderCfg.Root = s.config.Root
		folderCfg.Exclusions = s.config.Exclusions
		folderCfg.Pattern = s.config.Pattern
		folderCfg.DryRun = s.config.DryRun
		rec := reclaim.New(r, exec, folderCfg,
			reclaim.WithLogger(s.logger),
			reclaim.WithObserver(s.onFolder(ctx))).
			Reclaim(ctx, scan.Targets)
		res.Reclaimed = rec.Reclaimed
		res.FoldersKept = rec.Kept
		res.FoldersFailed = len(rec.Failed)
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	res.Status = StatusSuccess
	if res.ScanPartial || res.Abandoned > 0 || res.FoldersFailed > 0 {
		res.Status = StatusPartial
	}
	s.setPhase(ctx, res, PhaseDone)
	return nil
}

// preview prints the first PreviewCount targets.
func (s *Sweeper) preview(targets []string) {
	s.logger.Info(fmt.Sprintf("Found %d matching files", len(targets)))

	n := min(s.config.PreviewCount, len(targets))
	fmt.Fprintf(s.console, "\nFound %d files to delete:\n", len(targets))
	for _, t := range targets[:n] {
		fmt.Fprintf(s.console, "  %s\n", t)
	}
	if rest := len(targets) - n; rest > 0 {
		fmt.Fprintf(s.console, "  ... Plus %d more\n", rest)
	}
}

func (s *Sweeper) onBatch(ctx context.Context) deleter.Observer {
	return func(o deleter.BatchOutcome) {
		s.tracker.update(func(sn *Snapshot) {
			sn.Deleted += len(o.Deleted)
			sn.NotFound += len(o.NotFound)
			sn.Batches++
		})
		rec := &output.BatchRecord{
			Index:    o.Batch.Index,
			Pass:     string(o.Pass),
			Size:     len(o.Batch.Paths),
			Deleted:  len(o.Deleted),
			NotFound: len(o.NotFound),
			Failed:   o.Failed,
			DryRun:   o.DryRun,
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		s.emit("batch", s.writer.WriteBatch(report(ctx), rec))
	}
}

func (s *Sweeper) onFolder(ctx context.Context) reclaim.Observer {
	return func(o reclaim.Outcome) {
		if o.Status == reclaim.StatusReclaimed || o.Status == reclaim.StatusWouldReclaim {
			s.tracker.update(func(sn *Snapshot) { sn.Reclaimed++ })
		}
		rec := &output.FolderRecord{
			Path:     o.Candidate.Path,
			Depth:    o.Candidate.Depth,
			Status:   string(o.Status),
			Reason:   o.Reason,
			Attempts: o.Attempts,
		}
		if o.Err != nil {
			rec.Error = o.Err.Error()
		}
		s.emit("folder", s.writer.WriteFolder(report(ctx), rec))
	}
}

func (s *Sweeper) setPhase(ctx context.Context, res *RunResult, p Phase) {
	res.Phase = p
	var snap Snapshot
	s.tracker.update(func(sn *Snapshot) {
		sn.Phase = p
		snap = *sn
	})
	s.emit("progress", s.writer.WriteProgress(report(ctx), &output.ProgressRecord{
		Phase:   string(p),
		Scanned: snap.Scanned,
		Targets: snap.Targets,
		Deleted: int64(snap.Deleted),
		Attempt: res.Attempts,
	}))
}

func (s *Sweeper) reportError(ctx context.Context, phase Phase, path string, err error) {
	if err == nil {
		return
	}
	code := remote.Classify(err).String()
	if retry.IsExhausted(err) {
		code = output.ErrCodeExhausted
	}
	s.emit("error", s.writer.WriteError(report(ctx), &output.ErrorRecord{
		Code:    code,
		Message: err.Error(),
		Path:    path,
		Phase:   string(phase),
	}))
}

func (s *Sweeper) writeSummary(ctx context.Context, res *RunResult) {
	sum := &output.SummaryRecord{
		Status:        string(res.Status),
		Root:          displayRoot(s.config.Root),
		DryRun:        res.DryRun,
		Attempts:      res.Attempts,
		Scanned:       res.Scanned,
		Targets:       len(res.Targets),
		Deleted:       res.Deleted,
		NotFound:      res.NotFound,
		FailedBatches: res.FailedBatches,
		Abandoned:     res.Abandoned,
		Reclaimed:     res.Reclaimed,
		FoldersFailed: res.FoldersFailed,
		Duration:      res.Elapsed,
		DurationHuman: res.Elapsed.Round(time.Millisecond).String(),
	}
	if res.Err != nil {
		sum.Error = res.Err.Error()
	}
	s.emit("summary", s.writer.WriteSummary(report(ctx), sum))
}

// emit logs report write failures; the report never fails a run.
func (s *Sweeper) emit(record string, err error) {
	if err != nil {
		s.logger.Warn("Report write failed", zap.String("record", record), zap.Error(err))
	}
}

// report returns a context for report writes that outlives cancellation of
// the run, so cancelled runs still record their summary.
func report(ctx context.Context) context.Context {
	return context.WithoutCancel(ctx)
}

func displayRoot(root string) string {
	if root == "" {
		return "/"
	}
	return root
}
