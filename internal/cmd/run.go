package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/memosweep/internal/observability"
	"github.com/3leaps/memosweep/internal/server"
	"github.com/3leaps/memosweep/internal/server/handlers"
	"github.com/3leaps/memosweep/pkg/manifest"
	"github.com/3leaps/memosweep/pkg/sweep"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Sweep memo-style PDFs and reclaim empty folders",
	Long: `Scan a remote tree for memo-style PDFs, preview them, delete them
and remove the folders left empty.

The job is described by a manifest (--job), by flags, or both; flags win.
Runs are dry-run unless --live is given or the manifest sets
sweep.dry_run: false. A live run asks for confirmation before deleting
files and again before removing folders, unless --yes is given.

Example:
  memosweep run --root "/$ JLR DATA MIGRATION/David"
  memosweep run --job sweep.yaml --live
  memosweep run --job sweep.yaml --live --yes --report file:sweep.jsonl
  memosweep run --backend file --base-dir ./mirror --root /David --exclude /David/Archive`,
	RunE: runSweep,
}

var (
	runFlags     jobFlags
	runDryRun    bool
	runLive      bool
	runYes       bool
	runNoReclaim bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runFlags.register(runCmd)
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Report what would be deleted without deleting")
	runCmd.Flags().BoolVar(&runLive, "live", false, "Delete files (overrides sweep.dry_run)")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Answer yes to every confirmation")
	runCmd.Flags().BoolVar(&runNoReclaim, "no-reclaim", false, "Skip the empty-folder phase")
	runCmd.MarkFlagsMutuallyExclusive("dry-run", "live")
}

func runSweep(cmd *cobra.Command, args []string) error {
	m, err := runFlags.loadJob(cmd)
	if err != nil {
		observability.CLILogger.Error("Invalid job", zap.String("path", runFlags.jobPath), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid job", err)
	}

	switch {
	case runLive:
		m.Sweep.DryRun = boolPtr(false)
	case runDryRun:
		m.Sweep.DryRun = boolPtr(true)
	}
	if runNoReclaim {
		m.Sweep.ReclaimFolders = boolPtr(false)
	}

	var confirmer sweep.Confirmer
	if runYes {
		confirmer = sweep.AutoConfirm{Answer: true}
	} else {
		confirmer = sweep.NewPrompt(cmd.InOrStdin(), consoleFor(cmd, m))
	}
	return executeSweep(cmd, m, confirmer, runFlags.statusAddr)
}

// executeSweep runs the job in m and converts the outcome to an exit error.
func executeSweep(cmd *cobra.Command, m *manifest.Manifest, confirmer sweep.Confirmer, statusAddr string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	runID := uuid.New().String()
	backend := m.Connection.Backend

	cfg, err := sweepConfig(m)
	if err != nil {
		observability.CLILogger.Error("Invalid target rules", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid target rules", err)
	}

	connector, err := newConnector(m)
	if err != nil {
		observability.CLILogger.Error("Invalid connection", zap.String("backend", backend), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid connection", err)
	}

	writer, cleanup, err := createWriter(m.Output.Destination, cmd.OutOrStdout(), runID, backend)
	if err != nil {
		observability.CLILogger.Error("Failed to create report", zap.Error(err))
		return exitError(foundry.ExitFileWriteError, "Failed to create report", err)
	}
	defer cleanup()

	tracker := sweep.NewTracker()
	stopStatus, err := startStatusServer(statusAddr, tracker)
	if err != nil {
		observability.CLILogger.Error("Failed to start status server", zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Failed to start status server", err)
	}
	defer stopStatus()

	console := consoleFor(cmd, m)
	s := sweep.New(connector, confirmer, cfg,
		sweep.WithLogger(observability.CLILogger),
		sweep.WithWriter(writer),
		sweep.WithConsole(console),
		sweep.WithTracker(tracker),
		sweep.WithRunID(runID),
		sweep.WithBackend(backend),
	)

	res := s.Run(ctx)
	printSummary(console, res)

	switch res.Status {
	case sweep.StatusCancelled:
		return exitError(foundry.ExitSignalInt, "Sweep cancelled", res.Err)
	case sweep.StatusFatal:
		return exitError(foundry.ExitExternalServiceUnavailable, "Sweep failed", res.Err)
	}
	return nil
}

// consoleFor returns where human output goes: stdout, or stderr when the
// JSONL report is written to stdout.
func consoleFor(cmd *cobra.Command, m *manifest.Manifest) io.Writer {
	if m.Output.Destination == "stdout" {
		return cmd.ErrOrStderr()
	}
	return cmd.OutOrStdout()
}

// startStatusServer serves tracker snapshots when addr (or status.addr) is
// set. The returned function shuts the server down.
func startStatusServer(addr string, tracker *sweep.Tracker) (func(), error) {
	readTimeout, shutdownTimeout := 10*time.Second, 5*time.Second
	if appConfig != nil {
		if addr == "" {
			addr = appConfig.Status.Addr
		}
		readTimeout = appConfig.Status.ReadTimeout
		shutdownTimeout = appConfig.Status.ShutdownTimeout
	}
	if addr == "" {
		return func() {}, nil
	}

	host, port, err := server.ParseAddr(addr)
	if err != nil {
		return nil, err
	}

	health := handlers.InitHealthManager(versionInfo.Version)
	health.RegisterChecker("run", handlers.CheckerFunc(func(ctx context.Context) error {
		if tracker.Snapshot().Status == sweep.StatusFatal {
			return errors.New("run ended with a fatal error")
		}
		return nil
	}))

	srv := server.New(host, port,
		server.WithLogger(observability.CLILogger),
		server.WithReadTimeout(readTimeout),
		server.WithVersion(versionInfo.Version, versionInfo.Commit, versionInfo.BuildDate),
		server.WithStatus(func() any { return tracker.Snapshot() }),
	)
	if err := srv.Start(); err != nil {
		return nil, err
	}
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			observability.CLILogger.Warn("Status server shutdown", zap.Error(err))
		}
	}, nil
}

func printSummary(w io.Writer, res *sweep.RunResult) {
	fmt.Fprintln(w)
	switch res.Status {
	case sweep.StatusAborted:
		fmt.Fprintln(w, "Deletion cancelled; nothing was deleted.")
		return
	case sweep.StatusCancelled:
		fmt.Fprintln(w, "Sweep interrupted.")
	case sweep.StatusFatal:
		fmt.Fprintf(w, "Sweep failed: %v\n", res.Err)
	}

	if res.DryRun {
		fmt.Fprintf(w, "Dry run: %d files would be deleted (%d entries scanned).\n", len(res.Targets), res.Scanned)
		return
	}

	fmt.Fprintf(w, "Sweep %s\n", res.Status)
	fmt.Fprintf(w, "  Scanned:   %d entries\n", res.Scanned)
	fmt.Fprintf(w, "  Targets:   %d\n", len(res.Targets))
	fmt.Fprintf(w, "  Deleted:   %d (already gone: %d)\n", res.Deleted, res.NotFound)
	if res.Abandoned > 0 {
		fmt.Fprintf(w, "  Abandoned: %d\n", res.Abandoned)
	}
	switch {
	case res.ReclaimSkipped:
		fmt.Fprintln(w, "  Folders:   skipped")
	default:
		fmt.Fprintf(w, "  Folders:   %d removed, %d failed\n", res.Reclaimed, res.FoldersFailed)
	}
	if res.Attempts > 1 {
		fmt.Fprintf(w, "  Attempts:  %d\n", res.Attempts)
	}
	fmt.Fprintf(w, "  Elapsed:   %s\n", res.Elapsed.Round(time.Millisecond))
}

func boolPtr(v bool) *bool { return &v }

