package cmd

import (
	"context"
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/memosweep/internal/observability"
	"github.com/3leaps/memosweep/pkg/sweep"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "List memo-style PDFs without deleting anything",
	Long: `Scan a remote tree and print every file a run would delete.

scan never deletes files or folders and never prompts. It accepts the same
job manifest and flags as run.

Example:
  memosweep scan --root "/$ JLR DATA MIGRATION/David"
  memosweep scan --job sweep.yaml --report file:targets.jsonl`,
	RunE: runScan,
}

var scanFlags jobFlags

func init() {
	rootCmd.AddCommand(scanCmd)
	scanFlags.register(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	m, err := scanFlags.loadJob(cmd)
	if err != nil {
		observability.CLILogger.Error("Invalid job", zap.String("path", scanFlags.jobPath), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid job", err)
	}
	m.Sweep.DryRun = boolPtr(true)
	m.Sweep.ReclaimFolders = boolPtr(false)

	cfg, err := sweepConfig(m)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid target rules", err)
	}
	connector, err := newConnector(m)
	if err != nil {
		observability.CLILogger.Error("Invalid connection", zap.String("backend", m.Connection.Backend), zap.Error(err))
		return exitError(foundry.ExitInvalidArgument, "Invalid connection", err)
	}

	runID := uuid.New().String()
	writer, cleanup, err := createWriter(m.Output.Destination, cmd.OutOrStdout(), runID, m.Connection.Backend)
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to create report", err)
	}
	defer cleanup()

	console := consoleFor(cmd, m)
	res := sweep.New(connector, sweep.AutoConfirm{}, cfg,
		sweep.WithLogger(observability.CLILogger),
		sweep.WithWriter(writer),
		sweep.WithRunID(runID),
		sweep.WithBackend(m.Connection.Backend),
	).Run(ctx)

	for _, t := range res.Targets {
		fmt.Fprintln(console, t)
	}
	fmt.Fprintf(console, "\n%d files matched (%d entries scanned).\n", len(res.Targets), res.Scanned)
	if res.ScanPartial {
		fmt.Fprintln(console, "Scan incomplete: listing stopped early, results are partial.")
	}

	switch res.Status {
	case sweep.StatusCancelled:
		return exitError(foundry.ExitSignalInt, "Scan cancelled", res.Err)
	case sweep.StatusFatal:
		return exitError(foundry.ExitExternalServiceUnavailable, "Scan failed", res.Err)
	}
	return nil
}
