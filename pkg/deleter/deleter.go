// Package deleter removes a target set from a remote in fixed-size batches
// on a bounded worker pool.
//
// Batches flow through a bounded channel to Workers goroutines; each worker
// owns its batch and publishes a BatchOutcome to a results channel drained by
// a single collector. Batches that fail during the concurrent pass are
// retried once, serially, after the pool has finished. A batch that fails
// its retry is abandoned and reported, never raised.
package deleter

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/3leaps/memosweep/pkg/remote"
	"github.com/3leaps/memosweep/pkg/retry"
)

// Config configures batch deletion.
type Config struct {
	// BatchSize is the maximum number of paths per remote request.
	// Default: 100
	BatchSize int

	// Workers is the number of concurrent batch workers.
	// Default: 4
	Workers int

	// BatchDelay is the pause each worker takes before sending a batch.
	// Zero disables the pause.
	BatchDelay time.Duration

	// RetryDelay is the pause before each serial retry.
	// Zero disables the pause.
	RetryDelay time.Duration

	// DryRun walks every code path without issuing deletes.
	DryRun bool
}

// DefaultConfig returns the default deleter configuration.
func DefaultConfig() Config {
	return Config{
		BatchSize:  100,
		Workers:    4,
		BatchDelay: time.Second,
		RetryDelay: 2 * time.Second,
	}
}

// Batch is one remote delete request.
type Batch struct {
	// Index is the position of the batch in the partition.
	Index int

	// Paths holds at most BatchSize paths.
	Paths []string
}

// Pass identifies the attempt that produced a BatchOutcome.
type Pass string

const (
	// PassConcurrent is the first, pooled attempt.
	PassConcurrent Pass = "concurrent"

	// PassRetry is the serial retry of a failed batch.
	PassRetry Pass = "retry"
)

// BatchOutcome is the result of one attempt at one batch.
type BatchOutcome struct {
	Batch Batch
	Pass  Pass

	// Deleted lists removed paths, or would-be-removed paths under dry-run.
	Deleted []string

	// NotFound lists paths that were already gone.
	NotFound []string

	// Failed lists paths left unresolved by this attempt.
	Failed []string

	// Err is the request error, or the first per-path error.
	Err error

	DryRun bool
}

// OK reports whether every path in the batch was resolved.
func (o BatchOutcome) OK() bool { return len(o.Failed) == 0 }

// Observer receives every batch outcome. Calls are serialized.
type Observer func(BatchOutcome)

// Result aggregates a DeleteAll run.
type Result struct {
	// Batches is the number of batches in the partition.
	Batches int

	// Deleted counts removed paths (would-delete under dry-run).
	Deleted int

	// NotFound counts paths that were already gone.
	NotFound int

	// FailedBatches counts batches that failed the concurrent pass.
	FailedBatches int

	// RecoveredBatches counts failed batches fully resolved by the retry.
	RecoveredBatches int

	// Abandoned lists paths still unresolved after the retry.
	Abandoned []string

	// AbandonedBatches counts batches with abandoned paths.
	AbandonedBatches int

	// Err is set when every batch of the concurrent pass failed on lost
	// connectivity. The serial retry is then skipped and nothing is
	// abandoned; the caller is expected to reconnect and rescan.
	Err error

	DryRun   bool
	Duration time.Duration
}

// Deleter executes batch deletions against a remote.
type Deleter struct {
	remote   remote.Remote
	exec     *retry.Executor
	config   Config
	logger   *zap.Logger
	observer Observer
}

// Option configures a Deleter.
type Option func(*Deleter)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(d *Deleter) {
		if l != nil {
			d.logger = l
		}
	}
}

// WithObserver registers a batch outcome observer.
func WithObserver(fn Observer) Option {
	return func(d *Deleter) { d.observer = fn }
}

// New creates a deleter. Zero BatchSize and Workers take their defaults.
func New(r remote.Remote, exec *retry.Executor, cfg Config, opts ...Option) *Deleter {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	d := &Deleter{
		remote: r,
		exec:   exec,
		config: cfg,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Partition splits paths into batches of at most size paths.
func Partition(paths []string, size int) []Batch {
	if size <= 0 {
		size = DefaultConfig().BatchSize
	}
	batches := make([]Batch, 0, (len(paths)+size-1)/size)
	for start := 0; start < len(paths); start += size {
		end := min(start+size, len(paths))
		batches = append(batches, Batch{Index: len(batches), Paths: paths[start:end]})
	}
	return batches
}

// DeleteAll deletes paths and reports what happened. It never fails as a
// whole: request errors are recorded per batch. When ctx is cancelled,
// batches not yet resolved are reported as abandoned.
func (d *Deleter) DeleteAll(ctx context.Context, paths []string) *Result {
	start := time.Now()
	batches := Partition(paths, d.config.BatchSize)
	res := &Result{Batches: len(batches), DryRun: d.config.DryRun}

	if len(batches) == 0 {
		return res
	}

	d.logger.Info("Deleting files",
		zap.Int("files", len(paths)),
		zap.Int("batches", len(batches)),
		zap.Int("workers", d.config.Workers),
		zap.Bool("dry_run", d.config.DryRun))

	failed := d.runPool(ctx, batches, res)

	if err := connectionLost(failed, len(batches)); err != nil && ctx.Err() == nil {
		res.Err = err
		res.Duration = time.Since(start)
		d.logger.Warn("Connection lost during deletion",
			zap.Int("failed_batches", res.FailedBatches),
			zap.Error(err))
		return res
	}

	// Serial retry of failed batches, unresolved paths only.
	for i, o := range failed {
		if ctx.Err() != nil {
			for _, rest := range failed[i:] {
				d.abandon(res, rest)
			}
			break
		}
		if d.config.RetryDelay > 0 {
			if err := d.exec.Sleeper()(ctx, d.config.RetryDelay); err != nil {
				for _, rest := range failed[i:] {
					d.abandon(res, rest)
				}
				break
			}
		}

		retryBatch := Batch{Index: o.Batch.Index, Paths: o.Failed}
		out := d.deleteBatch(ctx, retryBatch, PassRetry)
		d.tally(res, out)
		d.notify(out)
		if out.OK() {
			res.RecoveredBatches++
			continue
		}
		d.abandon(res, out)
	}

	res.Duration = time.Since(start)
	d.logger.Info("Deletion finished",
		zap.Int("deleted", res.Deleted),
		zap.Int("not_found", res.NotFound),
		zap.Int("failed_batches", res.FailedBatches),
		zap.Int("recovered_batches", res.RecoveredBatches),
		zap.Int("abandoned", len(res.Abandoned)),
		zap.Duration("duration", res.Duration))
	return res
}

// runPool runs the concurrent pass and returns the failed outcomes ordered
// by batch index.
func (d *Deleter) runPool(ctx context.Context, batches []Batch, res *Result) []BatchOutcome {
	batchCh := make(chan Batch)
	resultCh := make(chan BatchOutcome, d.config.Workers)

	var wg sync.WaitGroup
	for i := 0; i < d.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for b := range batchCh {
				resultCh <- d.runBatch(ctx, b)
			}
		}()
	}

	go func() {
		defer close(batchCh)
		for _, b := range batches {
			batchCh <- b
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	// Single collector: all aggregation happens here.
	var failed []BatchOutcome
	for out := range resultCh {
		d.tally(res, out)
		d.notify(out)
		if !out.OK() {
			res.FailedBatches++
			failed = append(failed, out)
		}
	}

	sort.Slice(failed, func(i, j int) bool { return failed[i].Batch.Index < failed[j].Batch.Index })
	return failed
}

// connectionLost returns the first error when all batches failed whole on
// connectivity loss, and nil otherwise.
func connectionLost(failed []BatchOutcome, batches int) error {
	if len(failed) == 0 || len(failed) < batches {
		return nil
	}
	for _, o := range failed {
		if len(o.Deleted) > 0 || len(o.NotFound) > 0 || !retry.IsConnectivityLoss(o.Err) {
			return nil
		}
	}
	return failed[0].Err
}

// runBatch applies the per-batch delay and deletes one batch.
func (d *Deleter) runBatch(ctx context.Context, b Batch) BatchOutcome {
	if d.config.BatchDelay > 0 {
		if err := d.exec.Sleeper()(ctx, d.config.BatchDelay); err != nil {
			return BatchOutcome{Batch: b, Pass: PassConcurrent, Failed: b.Paths, Err: err, DryRun: d.config.DryRun}
		}
	}
	return d.deleteBatch(ctx, b, PassConcurrent)
}

func (d *Deleter) deleteBatch(ctx context.Context, b Batch, pass Pass) BatchOutcome {
	out := BatchOutcome{Batch: b, Pass: pass, DryRun: d.config.DryRun}

	if d.config.DryRun {
		out.Deleted = b.Paths
		d.logger.Info(fmt.Sprintf("[DRY RUN] Would delete batch (%d files)", len(b.Paths)),
			zap.Int("batch", b.Index))
		return out
	}

	br, err := retry.Run(ctx, d.exec, "DeleteBatch", func(ctx context.Context) (*remote.BatchResult, error) {
		return d.remote.DeleteBatch(ctx, b.Paths)
	})
	if err != nil {
		out.Failed = b.Paths
		out.Err = err
		d.logBatchFailure(out)
		return out
	}

	out.Deleted = br.Deleted
	out.NotFound = br.NotFound
	out.Failed = br.Unresolved(b.Paths)
	if len(out.Failed) > 0 {
		out.Err = br.Failed[out.Failed[0]]
		d.logBatchFailure(out)
		return out
	}

	d.logger.Info(fmt.Sprintf("Processed batch (%d files)", len(b.Paths)),
		zap.Int("batch", b.Index),
		zap.String("pass", string(pass)),
		zap.Int("deleted", len(out.Deleted)),
		zap.Int("not_found", len(out.NotFound)))
	return out
}

func (d *Deleter) logBatchFailure(out BatchOutcome) {
	msg := "Batch failed (retrying)"
	if out.Pass == PassRetry {
		msg = "Batch retry failed"
	}
	d.logger.Warn(msg,
		zap.Int("batch", out.Batch.Index),
		zap.Int("failed", len(out.Failed)),
		zap.String("kind", remote.Classify(out.Err).String()),
		zap.Error(out.Err))
}

func (d *Deleter) tally(res *Result, out BatchOutcome) {
	res.Deleted += len(out.Deleted)
	res.NotFound += len(out.NotFound)
}

func (d *Deleter) abandon(res *Result, out BatchOutcome) {
	res.AbandonedBatches++
	res.Abandoned = append(res.Abandoned, out.Failed...)
	d.logger.Error("Abandoned batch",
		zap.Int("batch", out.Batch.Index),
		zap.Int("paths", len(out.Failed)),
		zap.Error(out.Err))
}

func (d *Deleter) notify(out BatchOutcome) {
	if d.observer != nil {
		d.observer(out)
	}
}
