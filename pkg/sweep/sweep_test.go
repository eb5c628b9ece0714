package sweep

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/memosweep/pkg/match"
	"github.com/3leaps/memosweep/pkg/output"
	"github.com/3leaps/memosweep/pkg/remote"
	"github.com/3leaps/memosweep/pkg/remote/file"
)

// recordingSleep records requested waits without sleeping.
type recordingSleep struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.waits = append(r.waits, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *recordingSleep) contains(d time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.waits {
		if w == d {
			return true
		}
	}
	return false
}

// scriptedConfirmer answers questions in order and records them.
type scriptedConfirmer struct {
	answers []bool
	asked   []string
}

func (c *scriptedConfirmer) Confirm(ctx context.Context, question string) (bool, error) {
	c.asked = append(c.asked, question)
	if len(c.answers) == 0 {
		return false, nil
	}
	a := c.answers[0]
	c.answers = c.answers[1:]
	return a, nil
}

var treeFiles = []string{
	"David/Reports/memo style.pdf",
	"David/Reports/Q1/memo-style (1).pdf",
	"David/Notes/memostyle.pdf",
	"David/Notes/keep.txt",
	"David/Archive/memo_style.pdf",
	"David/top memo style.pdf",
}

func buildTree(t *testing.T) string {
	t.Helper()
	base := t.TempDir()
	for _, f := range treeFiles {
		full := filepath.Join(base, filepath.FromSlash(f))
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
		require.NoError(t, os.WriteFile(full, []byte("x"), 0o644))
	}
	return base
}

func exists(base, rel string) bool {
	_, err := os.Stat(filepath.Join(base, filepath.FromSlash(rel)))
	return err == nil
}

func fileConnector(base string, connects *int) Connector {
	return ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
		if connects != nil {
			*connects++
		}
		return file.New(file.Config{BaseDir: base})
	})
}

func testConfig(t *testing.T) Config {
	t.Helper()
	ex, err := match.NewExclusions([]string{"/David/Archive"})
	require.NoError(t, err)

	cfg := DefaultConfig()
	cfg.Root = "/David"
	cfg.Exclusions = ex
	cfg.Retry.MaxRetries = 1
	return cfg
}

// reportLines decodes every record written to buf.
func reportLines(t *testing.T, buf *bytes.Buffer) []output.Record {
	t.Helper()
	var out []output.Record
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var rec output.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		out = append(out, rec)
	}
	return out
}

func countType(records []output.Record, typ string) int {
	n := 0
	for _, r := range records {
		if r.Type == typ {
			n++
		}
	}
	return n
}

func TestSweeper_LiveRun(t *testing.T) {
	base := buildTree(t)
	sleeper := &recordingSleep{}
	confirmer := &scriptedConfirmer{answers: []bool{true, true}}
	var report bytes.Buffer
	var console bytes.Buffer

	s := New(fileConnector(base, nil), confirmer, testConfig(t),
		WithSleep(sleeper.sleep),
		WithWriter(output.NewJSONLWriter(&report, "run-1", file.BackendName)),
		WithConsole(&console),
		WithRunID("run-1"))

	res := s.Run(context.Background())

	require.NoError(t, res.Err)
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, PhaseDone, res.Phase)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 1, res.Attempts)
	assert.ElementsMatch(t, []string{
		"/David/Reports/memo style.pdf",
		"/David/Reports/Q1/memo-style (1).pdf",
		"/David/Notes/memostyle.pdf",
		"/David/top memo style.pdf",
	}, res.Targets)
	assert.Equal(t, 4, res.Deleted)
	assert.Zero(t, res.Abandoned)
	assert.Equal(t, 2, res.Reclaimed)
	assert.Equal(t, 1, res.FoldersKept)
	assert.Equal(t, []string{"Proceed with deletion?", "Clean empty folders?"}, confirmer.asked)

	// Targets and emptied folders are gone, everything else survives.
	assert.False(t, exists(base, "David/Reports"))
	assert.False(t, exists(base, "David/Notes/memostyle.pdf"))
	assert.False(t, exists(base, "David/top memo style.pdf"))
	assert.True(t, exists(base, "David/Notes/keep.txt"))
	assert.True(t, exists(base, "David/Archive/memo_style.pdf"))
	assert.True(t, exists(base, "David"))

	assert.Contains(t, console.String(), "Found 4 files to delete:")
	assert.Contains(t, console.String(), "... Plus 1 more")

	records := reportLines(t, &report)
	assert.Equal(t, 4, countType(records, output.TypeTarget))
	assert.Equal(t, 1, countType(records, output.TypeBatch))
	assert.Equal(t, 3, countType(records, output.TypeFolder))
	last := records[len(records)-1]
	assert.Equal(t, output.TypeSummary, last.Type)
	assert.Equal(t, "run-1", last.RunID)
	var sum output.SummaryRecord
	require.NoError(t, json.Unmarshal(last.Data, &sum))
	assert.Equal(t, "success", sum.Status)
	assert.Equal(t, "/David", sum.Root)
	assert.Equal(t, 4, sum.Deleted)
	assert.Equal(t, 2, sum.Reclaimed)

	snap := s.Tracker().Snapshot()
	assert.Equal(t, PhaseDone, snap.Phase)
	assert.Equal(t, StatusSuccess, snap.Status)
	assert.Equal(t, 4, snap.Deleted)
	assert.Equal(t, 2, snap.Reclaimed)
	assert.EqualValues(t, 4, snap.Targets)
}

func TestSweeper_DryRun(t *testing.T) {
	base := buildTree(t)
	sleeper := &recordingSleep{}
	confirmer := &scriptedConfirmer{}

	cfg := testConfig(t)
	cfg.DryRun = true
	res := New(fileConnector(base, nil), confirmer, cfg, WithSleep(sleeper.sleep)).Run(context.Background())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.DryRun)
	assert.Equal(t, 4, res.Deleted)
	assert.Equal(t, 2, res.Reclaimed)
	assert.Empty(t, confirmer.asked, "dry-run never prompts")

	for _, f := range treeFiles {
		assert.True(t, exists(base, f), "%s must survive a dry run", f)
	}
}

func TestSweeper_DeletionDeclined(t *testing.T) {
	base := buildTree(t)
	confirmer := &scriptedConfirmer{answers: []bool{false}}

	res := New(fileConnector(base, nil), confirmer, testConfig(t),
		WithSleep((&recordingSleep{}).sleep)).Run(context.Background())

	assert.Equal(t, StatusAborted, res.Status)
	assert.Len(t, res.Targets, 4)
	assert.Zero(t, res.Deleted)
	assert.Equal(t, []string{"Proceed with deletion?"}, confirmer.asked)
	for _, f := range treeFiles {
		assert.True(t, exists(base, f))
	}
}

func TestSweeper_ReclaimDeclined(t *testing.T) {
	base := buildTree(t)
	confirmer := &scriptedConfirmer{answers: []bool{true, false}}

	res := New(fileConnector(base, nil), confirmer, testConfig(t),
		WithSleep((&recordingSleep{}).sleep)).Run(context.Background())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 4, res.Deleted)
	assert.True(t, res.ReclaimSkipped)
	assert.Zero(t, res.Reclaimed)
	assert.True(t, exists(base, "David/Reports/Q1"))
}

func TestSweeper_ReclaimDisabled(t *testing.T) {
	base := buildTree(t)
	confirmer := &scriptedConfirmer{answers: []bool{true}}

	cfg := testConfig(t)
	cfg.Reclaim = false
	res := New(fileConnector(base, nil), confirmer, cfg,
		WithSleep((&recordingSleep{}).sleep)).Run(context.Background())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.True(t, res.ReclaimSkipped)
	assert.Equal(t, []string{"Proceed with deletion?"}, confirmer.asked)
}

func TestSweeper_NoTargets(t *testing.T) {
	base := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(base, "David"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(base, "David", "report.pdf"), []byte("x"), 0o644))
	confirmer := &scriptedConfirmer{}

	res := New(fileConnector(base, nil), confirmer, testConfig(t)).Run(context.Background())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Empty(t, res.Targets)
	assert.EqualValues(t, 1, res.Scanned)
	assert.Empty(t, confirmer.asked)
}

// flakyRemote fails the first failLists listings with err.
type flakyRemote struct {
	remote.Remote
	mu        sync.Mutex
	failLists int
	err       error
}

func (f *flakyRemote) ListFolder(ctx context.Context, p string, recursive bool, limit int) (*remote.Page, error) {
	f.mu.Lock()
	if f.failLists > 0 {
		f.failLists--
		f.mu.Unlock()
		return nil, f.err
	}
	f.mu.Unlock()
	return f.Remote.ListFolder(ctx, p, recursive, limit)
}

func (f *flakyRemote) Close() error {
	if f.Remote == nil {
		return nil
	}
	return f.Remote.Close()
}

func transientErr() error {
	return &remote.Error{Op: "ListFolder", Backend: "test", Kind: remote.KindTransientNetwork, Err: errors.New("connection reset by peer")}
}

func TestSweeper_ReconnectsOnConnectivityLoss(t *testing.T) {
	base := buildTree(t)
	sleeper := &recordingSleep{}
	connects := 0

	connector := ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
		connects++
		inner, err := file.New(file.Config{BaseDir: base})
		if err != nil {
			return nil, err
		}
		if connects == 1 {
			return &flakyRemote{Remote: inner, failLists: 100, err: transientErr()}, nil
		}
		return inner, nil
	})

	cfg := testConfig(t)
	cfg.Retry.MaxRetries = 0
	cfg.Scan.MaxPageRetries = -1
	var report bytes.Buffer
	res := New(connector, AutoConfirm{Answer: true}, cfg,
		WithSleep(sleeper.sleep),
		WithWriter(output.NewJSONLWriter(&report, "run-2", "file"))).Run(context.Background())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, connects)
	assert.Equal(t, 4, res.Deleted)
	assert.True(t, sleeper.contains(10*time.Second), "first reconnect waits ReconnectDelay x1")

	records := reportLines(t, &report)
	assert.Equal(t, 1, countType(records, output.TypeError))
}

// offlineDeletes fails every DeleteBatch with err.
type offlineDeletes struct {
	remote.Remote
	err error
}

func (o *offlineDeletes) DeleteBatch(ctx context.Context, paths []string) (*remote.BatchResult, error) {
	return nil, o.err
}

func TestSweeper_ReconnectsWhenDeletionLosesConnection(t *testing.T) {
	base := buildTree(t)
	sleeper := &recordingSleep{}
	connects := 0

	connector := ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
		connects++
		inner, err := file.New(file.Config{BaseDir: base})
		if err != nil {
			return nil, err
		}
		if connects == 1 {
			return &offlineDeletes{Remote: inner, err: transientErr()}, nil
		}
		return inner, nil
	})

	confirmer := &scriptedConfirmer{answers: []bool{true, true, true}}
	res := New(connector, confirmer, testConfig(t), WithSleep(sleeper.sleep)).Run(context.Background())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 2, connects)
	assert.Equal(t, 4, res.Deleted)
	assert.Zero(t, res.Abandoned)
	assert.True(t, sleeper.contains(10*time.Second))
	assert.Equal(t, []string{"Proceed with deletion?", "Proceed with deletion?", "Clean empty folders?"}, confirmer.asked)
	assert.False(t, exists(base, "David/Reports/memo style.pdf"))
}

func TestSweeper_ReconnectCeiling(t *testing.T) {
	sleeper := &recordingSleep{}
	connects := 0
	connector := ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
		connects++
		return &flakyRemote{failLists: 1 << 20, err: transientErr()}, nil
	})

	cfg := testConfig(t)
	cfg.Retry.MaxRetries = 0
	cfg.Scan.MaxPageRetries = -1
	cfg.RunRetries = 2
	res := New(connector, nil, cfg, WithSleep(sleeper.sleep)).Run(context.Background())

	assert.Equal(t, StatusFatal, res.Status)
	assert.Equal(t, PhaseFatal, res.Phase)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 3, connects)
	assert.Equal(t, []time.Duration{10 * time.Second, 20 * time.Second}, sleeper.waits)
	assert.True(t, errors.Is(res.Err, remote.ErrTransientNetwork))
}

func TestSweeper_AuthFailureIsFatal(t *testing.T) {
	connects := 0
	connector := ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
		connects++
		return &flakyRemote{failLists: 1, err: &remote.Error{
			Op: "ListFolder", Backend: "test", Kind: remote.KindAuth, Err: errors.New("expired_access_token"),
		}}, nil
	})

	res := New(connector, nil, testConfig(t), WithSleep((&recordingSleep{}).sleep)).Run(context.Background())

	assert.Equal(t, StatusFatal, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, connects)
	assert.True(t, remote.IsAuth(res.Err))
}

func TestSweeper_ConnectFailure(t *testing.T) {
	base := buildTree(t)
	sleeper := &recordingSleep{}
	connects := 0
	connector := ConnectorFunc(func(ctx context.Context) (remote.Remote, error) {
		connects++
		if connects == 1 {
			return nil, transientErr()
		}
		return file.New(file.Config{BaseDir: base})
	})

	res := New(connector, AutoConfirm{Answer: true}, testConfig(t), WithSleep(sleeper.sleep)).Run(context.Background())

	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Attempts)
	assert.True(t, sleeper.contains(10*time.Second))
}

func TestSweeper_Cancelled(t *testing.T) {
	base := buildTree(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var report bytes.Buffer
	res := New(fileConnector(base, nil), AutoConfirm{Answer: true}, testConfig(t),
		WithWriter(output.NewJSONLWriter(&report, "run-3", "file"))).Run(ctx)

	assert.Equal(t, StatusCancelled, res.Status)
	assert.ErrorIs(t, res.Err, context.Canceled)
	for _, f := range treeFiles {
		assert.True(t, exists(base, f))
	}

	// The summary is still written after cancellation.
	records := reportLines(t, &report)
	assert.Equal(t, output.TypeSummary, records[len(records)-1].Type)
}

func TestNew_Defaults(t *testing.T) {
	s := New(fileConnector(t.TempDir(), nil), nil, Config{RunRetries: -1, Root: "David/"})

	assert.Equal(t, 0, s.config.RunRetries)
	assert.Equal(t, 10*time.Second, s.config.ReconnectDelay)
	assert.Equal(t, 3, s.config.PreviewCount)
	assert.Equal(t, "/David", s.config.Root)
	assert.NotNil(t, s.config.Pattern)
	assert.NotEmpty(t, s.RunID())
	assert.NotNil(t, s.Tracker())
}
