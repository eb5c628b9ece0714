package dropbox

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/async"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/3leaps/memosweep/pkg/remote"
)

type mockClient struct {
	mu sync.Mutex

	listArgs   []*files.ListFolderArg
	listResult *files.ListFolderResult
	listErr    error

	continueResult *files.ListFolderResult

	launch    *files.DeleteBatchLaunch
	statuses  []*files.DeleteBatchJobStatus
	batchArgs []*files.DeleteBatchArg
	deleteErr error
	deletedV2 []string
}

func (m *mockClient) ListFolder(arg *files.ListFolderArg) (*files.ListFolderResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.listArgs = append(m.listArgs, arg)
	return m.listResult, m.listErr
}

func (m *mockClient) ListFolderContinue(arg *files.ListFolderContinueArg) (*files.ListFolderResult, error) {
	return m.continueResult, nil
}

func (m *mockClient) DeleteBatch(arg *files.DeleteBatchArg) (*files.DeleteBatchLaunch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batchArgs = append(m.batchArgs, arg)
	return m.launch, nil
}

func (m *mockClient) DeleteBatchCheck(arg *async.PollArg) (*files.DeleteBatchJobStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.statuses[0]
	if len(m.statuses) > 1 {
		m.statuses = m.statuses[1:]
	}
	return s, nil
}

func (m *mockClient) DeleteV2(arg *files.DeleteArg) (*files.DeleteResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return nil, m.deleteErr
	}
	m.deletedV2 = append(m.deletedV2, arg.Path)
	return &files.DeleteResult{}, nil
}

func tagged(tag string) dropbox.Tagged { return dropbox.Tagged{Tag: tag} }

func fileMD(name, lower string) *files.FileMetadata {
	return &files.FileMetadata{Metadata: files.Metadata{Name: name, PathLower: lower}}
}

func folderMD(name, lower string) *files.FolderMetadata {
	return &files.FolderMetadata{Metadata: files.Metadata{Name: name, PathLower: lower}}
}

func successEntry() *files.DeleteBatchResultEntry {
	return &files.DeleteBatchResultEntry{Tagged: tagged(files.DeleteBatchResultEntrySuccess)}
}

func notFoundEntry() *files.DeleteBatchResultEntry {
	return &files.DeleteBatchResultEntry{
		Tagged: tagged(files.DeleteBatchResultEntryFailure),
		Failure: &files.DeleteError{
			Tagged:     tagged(files.DeleteErrorPathLookup),
			PathLookup: &files.LookupError{Tagged: tagged(files.LookupErrorNotFound)},
		},
	}
}

func failureEntry(tag string) *files.DeleteBatchResultEntry {
	return &files.DeleteBatchResultEntry{
		Tagged:  tagged(files.DeleteBatchResultEntryFailure),
		Failure: &files.DeleteError{Tagged: tagged(tag)},
	}
}

func TestConfig_Validate(t *testing.T) {
	err := Config{}.Validate()
	var ce *ConfigError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "token", ce.Field)

	assert.NoError(t, Config{Token: "sl.abc"}.Validate())
}

func TestListFolder(t *testing.T) {
	mc := &mockClient{listResult: &files.ListFolderResult{
		Entries: []files.IsMetadata{
			folderMD("Reports", "/data/reports"),
			fileMD("Memo Style.pdf", "/data/reports/memo style.pdf"),
			&files.DeletedMetadata{Metadata: files.Metadata{Name: "old.pdf", PathLower: "/data/old.pdf"}},
		},
		Cursor:  "c1",
		HasMore: true,
	}}
	r := NewWithClient(mc, Config{})

	page, err := r.ListFolder(context.Background(), "/Data/", true, 5000)
	require.NoError(t, err)

	require.Len(t, mc.listArgs, 1)
	arg := mc.listArgs[0]
	assert.Equal(t, "/Data", arg.Path)
	assert.True(t, arg.Recursive)
	assert.Equal(t, uint32(2000), arg.Limit)

	assert.True(t, page.HasMore)
	assert.Equal(t, "c1", page.Cursor)
	require.Len(t, page.Entries, 2)
	assert.True(t, page.Entries[0].IsFolder())
	assert.Equal(t, "Memo Style.pdf", page.Entries[1].Name)
	assert.Equal(t, "/data/reports/memo style.pdf", page.Entries[1].Path)
	assert.Equal(t, "/data/reports/memo style.pdf", page.Entries[1].PathLower)
}

func TestListFolder_Root(t *testing.T) {
	mc := &mockClient{listResult: &files.ListFolderResult{}}
	r := NewWithClient(mc, Config{})

	_, err := r.ListFolder(context.Background(), "/", false, 10)
	require.NoError(t, err)
	assert.Equal(t, "", mc.listArgs[0].Path)
	assert.Equal(t, uint32(10), mc.listArgs[0].Limit)
}

func TestListFolder_ErrorClassification(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want remote.Kind
	}{
		{"auth", auth.AuthAPIError{APIError: dropbox.APIError{ErrorSummary: "expired_access_token/"}}, remote.KindAuth},
		{"rate limit", auth.RateLimitAPIError{APIError: dropbox.APIError{ErrorSummary: "too_many_requests/"}}, remote.KindRateLimited},
		{"not found summary", errors.New("path/not_found/.."), remote.KindNotFound},
		{"transport", io.ErrUnexpectedEOF, remote.KindTransientNetwork},
		{"other", errors.New("path/malformed_path/"), remote.KindAPI},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewWithClient(&mockClient{listErr: tt.err}, Config{})
			_, err := r.ListFolder(context.Background(), "/x", true, 0)
			require.Error(t, err)

			var re *remote.Error
			require.ErrorAs(t, err, &re)
			assert.Equal(t, tt.want, re.Kind)
			assert.Equal(t, BackendName, re.Backend)
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestListFolderContinue(t *testing.T) {
	mc := &mockClient{continueResult: &files.ListFolderResult{
		Entries: []files.IsMetadata{fileMD("a.pdf", "/a.pdf")},
	}}
	r := NewWithClient(mc, Config{})

	page, err := r.ListFolderContinue(context.Background(), "c1")
	require.NoError(t, err)
	assert.False(t, page.HasMore)
	assert.Len(t, page.Entries, 1)
}

func TestDeleteBatch_CompleteImmediately(t *testing.T) {
	mc := &mockClient{launch: &files.DeleteBatchLaunch{
		Tagged: tagged(files.DeleteBatchLaunchComplete),
		Complete: &files.DeleteBatchResult{Entries: []*files.DeleteBatchResultEntry{
			successEntry(), notFoundEntry(), failureEntry("too_many_write_operations"),
		}},
	}}
	r := NewWithClient(mc, Config{})

	paths := []string{"/a.pdf", "/b.pdf", "/c.pdf"}
	res, err := r.DeleteBatch(context.Background(), paths)
	require.NoError(t, err)

	assert.Equal(t, []string{"/a.pdf"}, res.Deleted)
	assert.Equal(t, []string{"/b.pdf"}, res.NotFound)
	require.Contains(t, res.Failed, "/c.pdf")
	assert.True(t, remote.IsRateLimited(res.Failed["/c.pdf"]))
	assert.Equal(t, []string{"/c.pdf"}, res.Unresolved(paths))

	require.Len(t, mc.batchArgs, 1)
	require.Len(t, mc.batchArgs[0].Entries, 3)
	assert.Equal(t, "/a.pdf", mc.batchArgs[0].Entries[0].Path)
}

func TestDeleteBatch_AsyncJob(t *testing.T) {
	mc := &mockClient{
		launch: &files.DeleteBatchLaunch{Tagged: tagged(files.DeleteBatchLaunchAsyncJobId), AsyncJobId: "job-1"},
		statuses: []*files.DeleteBatchJobStatus{
			{Tagged: tagged(files.DeleteBatchJobStatusInProgress)},
			{
				Tagged: tagged(files.DeleteBatchJobStatusComplete),
				Complete: &files.DeleteBatchResult{Entries: []*files.DeleteBatchResultEntry{
					successEntry(), successEntry(),
				}},
			},
		},
	}
	r := NewWithClient(mc, Config{PollInterval: time.Millisecond})

	res, err := r.DeleteBatch(context.Background(), []string{"/a.pdf", "/b.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/a.pdf", "/b.pdf"}, res.Deleted)
}

func TestDeleteBatch_AsyncJobFailed(t *testing.T) {
	mc := &mockClient{
		launch: &files.DeleteBatchLaunch{Tagged: tagged(files.DeleteBatchLaunchAsyncJobId), AsyncJobId: "job-2"},
		statuses: []*files.DeleteBatchJobStatus{{
			Tagged: tagged(files.DeleteBatchJobStatusFailed),
			Failed: &files.DeleteBatchError{Tagged: tagged("too_many_write_operations")},
		}},
	}
	r := NewWithClient(mc, Config{PollInterval: time.Millisecond})

	_, err := r.DeleteBatch(context.Background(), []string{"/a.pdf"})
	require.Error(t, err)
	assert.True(t, remote.IsRateLimited(err))
}

func TestDeleteBatch_Limits(t *testing.T) {
	r := NewWithClient(&mockClient{}, Config{})

	res, err := r.DeleteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)

	_, err = r.DeleteBatch(context.Background(), make([]string, MaxBatchSize+1))
	require.Error(t, err)
}

func TestDeleteBatch_MissingEntries(t *testing.T) {
	mc := &mockClient{launch: &files.DeleteBatchLaunch{
		Tagged:   tagged(files.DeleteBatchLaunchComplete),
		Complete: &files.DeleteBatchResult{Entries: []*files.DeleteBatchResultEntry{successEntry()}},
	}}
	r := NewWithClient(mc, Config{})

	res, err := r.DeleteBatch(context.Background(), []string{"/a.pdf", "/b.pdf"})
	require.NoError(t, err)
	assert.Equal(t, []string{"/b.pdf"}, res.Unresolved([]string{"/a.pdf", "/b.pdf"}))
}

func TestDeleteEntity(t *testing.T) {
	mc := &mockClient{}
	r := NewWithClient(mc, Config{})

	require.NoError(t, r.DeleteEntity(context.Background(), "/data/empty"))
	assert.Equal(t, []string{"/data/empty"}, mc.deletedV2)

	mc.deleteErr = errors.New("path_lookup/not_found/")
	err := r.DeleteEntity(context.Background(), "/data/gone")
	assert.True(t, remote.IsNotFound(err))
}

func TestCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewWithClient(&mockClient{}, Config{})

	_, err := r.ListFolder(ctx, "/x", true, 0)
	assert.ErrorIs(t, err, context.Canceled)
	_, err = r.DeleteBatch(ctx, []string{"/a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, r.DeleteEntity(ctx, "/a"), context.Canceled)
}
