// Package cmd implements the memosweep command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/3leaps/memosweep/internal/config"
	"github.com/3leaps/memosweep/internal/observability"
)

const appName = "memosweep"

var versionInfo = struct {
	Version   string
	Commit    string
	BuildDate string
}{
	Version:   "dev",
	Commit:    "unknown",
	BuildDate: "unknown",
}

// SetVersionInfo records build information injected by the linker.
func SetVersionInfo(version, commit, buildDate string) {
	versionInfo.Version = version
	versionInfo.Commit = commit
	versionInfo.BuildDate = buildDate
}

var (
	cfgFile  string
	logLevel string
	verbose  bool

	appConfig *config.Config
	logCloser = func() {}
)

var rootCmd = &cobra.Command{
	Use:   appName,
	Short: "Delete memo-style PDFs from a remote tree and reclaim empty folders",
	Long: `memosweep scans a Dropbox, S3 or local tree for memo-style PDF files,
previews them, deletes them in concurrent batches and then removes the
folders those deletions left empty.

Runs default to dry-run. Use "memosweep run --live" to delete.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: initApp,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./memosweep.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// initApp loads app config, sets up logging and reads dotenv credentials.
func initApp(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var overrides []map[string]any
	if logLevel != "" {
		overrides = append(overrides, map[string]any{"log": map[string]any{"level": logLevel}})
	}
	if verbose {
		overrides = append(overrides, map[string]any{"log": map[string]any{"level": "debug"}})
	}

	cfg, err := config.Load(ctx, cfgFile, overrides...)
	if err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid configuration", err)
	}
	appConfig = cfg

	observability.InitCLILogger(appName, false)
	if err := observability.SetLevel(cfg.Log.Level); err != nil {
		return exitError(foundry.ExitInvalidArgument, "Invalid log level", err)
	}

	closer, err := observability.AttachLogFile(appName, observability.FileConfig{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return exitError(foundry.ExitFileWriteError, "Failed to open log file", err)
	}
	logCloser = closer

	loaded, err := config.LoadDotenv(cfg.Credentials.Dotenv...)
	if err != nil {
		return exitError(foundry.ExitFileReadError, "Failed to read dotenv file", err)
	}
	if len(loaded) > 0 {
		observability.CLILogger.Debug("Loaded dotenv files", zap.Strings("paths", loaded))
	}
	return nil
}

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error { return e.Err }

// exitError creates an error that will cause the CLI to exit with the given code.
func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// exitCode returns the exit code for err, 1 when it carries none.
func exitCode(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee.Code
	}
	return 1
}

// Execute runs the root command and exits on failure. SIGINT and SIGTERM
// cancel the command context.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	logCloser()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
