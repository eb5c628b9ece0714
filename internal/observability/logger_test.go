package observability

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestInitCLILogger(t *testing.T) {
	InitCLILogger("test", true)
	require.NotNil(t, CLILogger)
	assert.Equal(t, zapcore.DebugLevel, cliLevel.Level())

	InitCLILogger("test", false)
	assert.Equal(t, zapcore.InfoLevel, cliLevel.Level())
}

func TestSetLevel(t *testing.T) {
	InitCLILogger("test", false)

	require.NoError(t, SetLevel("warn"))
	assert.Equal(t, zapcore.WarnLevel, cliLevel.Level())

	err := SetLevel("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}

func TestAttachLogFile(t *testing.T) {
	InitCLILogger("test", false)

	closeFn, err := AttachLogFile("test", FileConfig{})
	require.NoError(t, err)
	closeFn()

	path := filepath.Join(t.TempDir(), "memosweep.log")
	closeFn, err = AttachLogFile("test", FileConfig{Path: path, MaxSizeMB: 1})
	require.NoError(t, err)

	CLILogger.Info("Deleted folder: /a/b")
	closeFn()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), `"msg":"Deleted folder: /a/b"`))
}
