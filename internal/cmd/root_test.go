package cmd

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fulmenhq/gofulmen/foundry"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetFlags restores every flag to its default so commands can be executed
// repeatedly within one test binary.
func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			_ = sv.Replace(nil)
		} else {
			_ = f.Value.Set(f.DefValue)
		}
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCLI runs the root command with args in a scratch working directory.
func executeCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetArgs(nil)
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		logCloser()
	})

	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSetVersionInfo(t *testing.T) {
	orig := versionInfo
	defer func() { versionInfo = orig }()

	tests := []struct {
		name      string
		version   string
		commit    string
		buildDate string
	}{
		{
			name:      "set all values",
			version:   "1.0.0",
			commit:    "abc123",
			buildDate: "2026-01-15",
		},
		{
			name:      "set dev version",
			version:   "dev",
			commit:    "HEAD",
			buildDate: "unknown",
		},
		{
			name:      "set empty values",
			version:   "",
			commit:    "",
			buildDate: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			SetVersionInfo(tt.version, tt.commit, tt.buildDate)

			assert.Equal(t, tt.version, versionInfo.Version)
			assert.Equal(t, tt.commit, versionInfo.Commit)
			assert.Equal(t, tt.buildDate, versionInfo.BuildDate)
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("boom")
	err := exitError(foundry.ExitInvalidArgument, "Invalid job", cause)

	assert.Equal(t, "Invalid job: boom", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, foundry.ExitInvalidArgument, exitCode(err))

	wrapped := errors.Join(errors.New("outer"), err)
	assert.Equal(t, foundry.ExitInvalidArgument, exitCode(wrapped))

	assert.Equal(t, 1, exitCode(errors.New("plain")))
	assert.Equal(t, "bare", exitError(2, "bare", nil).Error())
}

func TestVersionCommand(t *testing.T) {
	t.Chdir(t.TempDir())
	orig := versionInfo
	defer func() { versionInfo = orig }()
	SetVersionInfo("1.2.3", "abc123", "2026-10-01")

	out, err := executeCLI(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "memosweep 1.2.3")
	assert.Contains(t, out, "abc123")
}

func TestInitApp(t *testing.T) {
	t.Run("invalid log level", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, err := executeCLI(t, "", "--log-level", "chatty", "version")
		require.Error(t, err)
		assert.Equal(t, foundry.ExitInvalidArgument, exitCode(err))
	})

	t.Run("missing config file", func(t *testing.T) {
		t.Chdir(t.TempDir())
		_, err := executeCLI(t, "", "--config", "nope.yaml", "version")
		require.Error(t, err)
		assert.Equal(t, foundry.ExitInvalidArgument, exitCode(err))
	})

	t.Run("loads dotenv and config", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("MEMOSWEEP_CMD_TEST=loaded\n"), 0o600))
		t.Setenv("MEMOSWEEP_CMD_TEST", "")
		require.NoError(t, os.Unsetenv("MEMOSWEEP_CMD_TEST"))

		_, err := executeCLI(t, "", "--log-level", "warn", "version")
		require.NoError(t, err)
		assert.Equal(t, "loaded", os.Getenv("MEMOSWEEP_CMD_TEST"))
		require.NotNil(t, appConfig)
		assert.Equal(t, "warn", appConfig.Log.Level)
	})

	t.Run("flags beat env", func(t *testing.T) {
		t.Chdir(t.TempDir())
		t.Setenv("MEMOSWEEP_LOG_LEVEL", "error")

		_, err := executeCLI(t, "", "--verbose", "version")
		require.NoError(t, err)
		require.NotNil(t, appConfig)
		assert.Equal(t, "debug", appConfig.Log.Level)

		_, err = executeCLI(t, "", "--log-level", "warn", "version")
		require.NoError(t, err)
		assert.Equal(t, "warn", appConfig.Log.Level)
	})

	t.Run("log file", func(t *testing.T) {
		dir := t.TempDir()
		t.Chdir(dir)
		logPath := filepath.Join(dir, "memosweep.log")
		t.Setenv("MEMOSWEEP_LOG_FILE", logPath)

		_, err := executeCLI(t, "", "version")
		require.NoError(t, err)
		_, statErr := os.Stat(logPath)
		assert.NoError(t, statErr)
	})
}
