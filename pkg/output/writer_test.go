package output

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLine(t *testing.T, line string) (Record, map[string]any) {
	t.Helper()
	var record Record
	require.NoError(t, json.Unmarshal([]byte(line), &record))
	var data map[string]any
	require.NoError(t, json.Unmarshal(record.Data, &data))
	return record, data
}

func TestNewJSONLWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	assert.NotNil(t, w)
	assert.Equal(t, "run-123", w.runID)
	assert.Equal(t, "dropbox", w.backend)
}

func TestJSONLWriter_WriteTarget(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	err := w.WriteTarget(context.Background(), &TargetRecord{
		Path:    "/clients/acme/memo style.pdf",
		Attempt: 1,
	})
	require.NoError(t, err)

	record, data := decodeLine(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, TypeTarget, record.Type)
	assert.Equal(t, "run-123", record.RunID)
	assert.Equal(t, "dropbox", record.Backend)
	assert.WithinDuration(t, time.Now().UTC(), record.TS, 5*time.Second)
	assert.Equal(t, "/clients/acme/memo style.pdf", data["path"])
	assert.EqualValues(t, 1, data["attempt"])
}

func TestJSONLWriter_WriteBatch(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	err := w.WriteBatch(context.Background(), &BatchRecord{
		Index:    2,
		Pass:     "retry",
		Size:     3,
		Deleted:  1,
		NotFound: 1,
		Failed:   []string{"/a/memo-style.pdf"},
		Error:    "too_many_write_operations",
	})
	require.NoError(t, err)

	record, data := decodeLine(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, TypeBatch, record.Type)
	assert.EqualValues(t, 2, data["index"])
	assert.Equal(t, "retry", data["pass"])
	assert.EqualValues(t, 1, data["not_found"])
	assert.Equal(t, []any{"/a/memo-style.pdf"}, data["failed"])
	assert.NotContains(t, data, "dry_run")
}

func TestJSONLWriter_WriteFolder(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "s3")

	err := w.WriteFolder(context.Background(), &FolderRecord{
		Path:   "/clients/acme",
		Depth:  2,
		Status: "kept",
		Reason: "contains non-target file /clients/acme/notes.txt",
	})
	require.NoError(t, err)

	record, data := decodeLine(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, TypeFolder, record.Type)
	assert.Equal(t, "kept", data["status"])
	assert.EqualValues(t, 2, data["depth"])
	assert.NotContains(t, data, "error")
}

func TestJSONLWriter_WriteError(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	err := w.WriteError(context.Background(), &ErrorRecord{
		Code:    "AUTH_FAILURE",
		Message: "expired_access_token",
		Phase:   PhaseScanning,
	})
	require.NoError(t, err)

	record, data := decodeLine(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, TypeError, record.Type)
	assert.Equal(t, "AUTH_FAILURE", data["code"])
	assert.Equal(t, "scanning", data["phase"])
	assert.NotContains(t, data, "path")
}

func TestJSONLWriter_WriteProgress(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	err := w.WriteProgress(context.Background(), &ProgressRecord{
		Phase:   PhaseScanning,
		Scanned: 500,
		Targets: 12,
		Attempt: 1,
	})
	require.NoError(t, err)

	record, data := decodeLine(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, TypeProgress, record.Type)
	assert.EqualValues(t, 500, data["scanned"])
	assert.EqualValues(t, 12, data["targets"])
	assert.NotContains(t, data, "deleted")
}

func TestJSONLWriter_WriteSummary(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	err := w.WriteSummary(context.Background(), &SummaryRecord{
		Status:        "success",
		Root:          "/$ JLR DATA MIGRATION/David",
		Attempts:      1,
		Scanned:       10000,
		Targets:       40,
		Deleted:       40,
		Reclaimed:     3,
		Duration:      90 * time.Second,
		DurationHuman: "1m30s",
	})
	require.NoError(t, err)

	record, data := decodeLine(t, strings.TrimSpace(buf.String()))
	assert.Equal(t, TypeSummary, record.Type)
	assert.Equal(t, "success", data["status"])
	assert.EqualValues(t, 40, data["deleted"])
	assert.EqualValues(t, 90*time.Second, data["duration_ns"])
	assert.Equal(t, "1m30s", data["duration"])
	assert.Equal(t, false, data["dry_run"])
}

func TestJSONLWriter_NewlineTerminated(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	require.NoError(t, w.WriteTarget(context.Background(), &TargetRecord{Path: "/a/memostyle.pdf"}))
	require.NoError(t, w.WriteTarget(context.Background(), &TargetRecord{Path: "/b/memostyle.pdf"}))

	output := buf.String()
	assert.True(t, strings.HasSuffix(output, "\n"))
	lines := strings.Split(strings.TrimSpace(output), "\n")
	assert.Len(t, lines, 2)
}

func TestJSONLWriter_Close(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	require.NoError(t, w.Close())

	err := w.WriteTarget(context.Background(), &TargetRecord{Path: "/memostyle.pdf"})
	assert.ErrorIs(t, err, ErrWriterClosed)
}

func TestJSONLWriter_ConcurrentWrites(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	const numWriters = 10
	const writesPerWriter = 100

	var wg sync.WaitGroup
	wg.Add(numWriters)

	for i := 0; i < numWriters; i++ {
		go func(writerID int) {
			defer wg.Done()
			for j := 0; j < writesPerWriter; j++ {
				_ = w.WriteBatch(context.Background(), &BatchRecord{
					Index:   writerID*writesPerWriter + j,
					Pass:    "concurrent",
					Size:    100,
					Deleted: 100,
				})
			}
		}(i)
	}

	wg.Wait()

	// Every line must be a complete JSON object (no interleaving)
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, numWriters*writesPerWriter)

	for i, line := range lines {
		var record Record
		err := json.Unmarshal([]byte(line), &record)
		assert.NoError(t, err, "line %d should be valid JSON: %s", i, line)
	}
}

func TestJSONLWriter_ContextCancellation(t *testing.T) {
	var buf bytes.Buffer
	w := NewJSONLWriter(&buf, "run-123", "dropbox")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.WriteTarget(ctx, &TargetRecord{Path: "/memostyle.pdf"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, buf.String())
}

func TestJSONLWriter_WriteFailure(t *testing.T) {
	failWriter := &failingWriter{err: errors.New("disk full")}
	w := NewJSONLWriter(failWriter, "run-123", "dropbox")

	err := w.WriteTarget(context.Background(), &TargetRecord{Path: "/memostyle.pdf"})
	require.Error(t, err)

	var writeErr *WriteError
	assert.True(t, errors.As(err, &writeErr))
	assert.Equal(t, "write", writeErr.Op)
}

// failingWriter is an io.Writer that always returns an error.
type failingWriter struct {
	err error
}

func (f *failingWriter) Write(p []byte) (n int, err error) {
	return 0, f.err
}

func TestJSONLWriter_ShortWrite(t *testing.T) {
	shortWriter := &shortWriteWriter{bytesPerWrite: 10}
	w := NewJSONLWriter(shortWriter, "run-123", "dropbox")

	err := w.WriteFolder(context.Background(), &FolderRecord{
		Path:   "/$ jlr data migration/david/reports",
		Depth:  3,
		Status: "reclaimed",
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(shortWriter.buf.String()), "\n")
	assert.Len(t, lines, 1)

	var record Record
	err = json.Unmarshal([]byte(lines[0]), &record)
	assert.NoError(t, err, "output should be valid JSON despite short writes")
	assert.Equal(t, TypeFolder, record.Type)
}

func TestJSONLWriter_ZeroWrite(t *testing.T) {
	w := NewJSONLWriter(&zeroWriteWriter{}, "run-123", "dropbox")

	err := w.WriteTarget(context.Background(), &TargetRecord{Path: "/memostyle.pdf"})
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrShortWrite)
}

// shortWriteWriter writes at most bytesPerWrite bytes per call, returning nil error.
type shortWriteWriter struct {
	buf           bytes.Buffer
	bytesPerWrite int
}

func (sw *shortWriteWriter) Write(p []byte) (n int, err error) {
	toWrite := len(p)
	if toWrite > sw.bytesPerWrite {
		toWrite = sw.bytesPerWrite
	}
	return sw.buf.Write(p[:toWrite])
}

// zeroWriteWriter always returns 0 bytes written with nil error.
type zeroWriteWriter struct{}

func (zw *zeroWriteWriter) Write(p []byte) (n int, err error) {
	return 0, nil
}

func TestWriteError(t *testing.T) {
	underlying := errors.New("underlying error")
	err := &WriteError{Op: "marshal", Err: underlying}

	assert.Equal(t, "output: marshal: underlying error", err.Error())
	assert.ErrorIs(t, err, underlying)
}

func TestDiscard(t *testing.T) {
	w := Discard()
	require.NoError(t, w.WriteSummary(context.Background(), &SummaryRecord{Status: "success"}))
}
