// Package dropbox implements remote.Remote on the Dropbox HTTP API.
package dropbox

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/async"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/auth"
	"github.com/dropbox/dropbox-sdk-go-unofficial/v6/dropbox/files"

	"github.com/3leaps/memosweep/pkg/remote"
)

// BackendName identifies this backend in errors and logs.
const BackendName = "dropbox"

// MaxBatchSize is the largest batch accepted by delete_batch that memosweep
// sends in a single request.
const MaxBatchSize = 100

const (
	defaultTimeout      = 60 * time.Second
	defaultPollInterval = time.Second
	maxListLimit        = 2000
)

// Config configures the Dropbox backend.
type Config struct {
	// Token is the OAuth2 access token.
	Token string

	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout time.Duration

	// PollInterval is the wait between delete_batch/check calls. Defaults to 1s.
	PollInterval time.Duration
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if strings.TrimSpace(c.Token) == "" {
		return &ConfigError{Field: "token", Message: "access token is required"}
	}
	return nil
}

// ConfigError indicates invalid backend configuration.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dropbox config: %s: %s", e.Field, e.Message)
}

// Remote implements remote.Remote for Dropbox.
type Remote struct {
	client       Client
	pollInterval time.Duration
}

var _ remote.Remote = (*Remote)(nil)

// New creates a Dropbox remote authenticated with cfg.Token.
func New(cfg Config) (*Remote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	client := files.New(dropbox.Config{
		Token:    cfg.Token,
		LogLevel: dropbox.LogOff,
		Client:   &http.Client{Timeout: timeout},
	})
	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing client. cfg.Token is not checked.
func NewWithClient(client Client, cfg Config) *Remote {
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = defaultPollInterval
	}
	return &Remote{client: client, pollInterval: poll}
}

// Close is a no-op; the SDK holds no long-lived resources.
func (r *Remote) Close() error { return nil }

// ListFolder lists path. The Dropbox root is addressed as "".
func (r *Remote) ListFolder(ctx context.Context, p string, recursive bool, limit int) (*remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p = remote.CleanPath(p)
	arg := files.NewListFolderArg(p)
	arg.Recursive = recursive
	arg.Limit = clampLimit(limit)
	arg.IncludeNonDownloadableFiles = true

	res, err := r.client.ListFolder(arg)
	if err != nil {
		return nil, wrapError("ListFolder", p, err)
	}
	return toPage(res), nil
}

// ListFolderContinue fetches the page following cursor.
func (r *Remote) ListFolderContinue(ctx context.Context, cursor string) (*remote.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	res, err := r.client.ListFolderContinue(files.NewListFolderContinueArg(cursor))
	if err != nil {
		return nil, wrapError("ListFolderContinue", "", err)
	}
	return toPage(res), nil
}

// DeleteBatch issues one delete_batch call and waits for the async job.
// Per-entry failures land in BatchResult.Failed; a failure of the whole
// job is returned as an error.
func (r *Remote) DeleteBatch(ctx context.Context, paths []string) (*remote.BatchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return &remote.BatchResult{}, nil
	}
	if len(paths) > MaxBatchSize {
		return nil, wrapError("DeleteBatch", "", fmt.Errorf("batch of %d exceeds limit %d", len(paths), MaxBatchSize))
	}

	args := make([]*files.DeleteArg, 0, len(paths))
	for _, p := range paths {
		args = append(args, files.NewDeleteArg(p))
	}

	launch, err := r.client.DeleteBatch(files.NewDeleteBatchArg(args))
	if err != nil {
		return nil, wrapError("DeleteBatch", "", err)
	}

	var result *files.DeleteBatchResult
	switch launch.Tag {
	case files.DeleteBatchLaunchComplete:
		result = launch.Complete
	case files.DeleteBatchLaunchAsyncJobId:
		result, err = r.awaitBatch(ctx, launch.AsyncJobId)
		if err != nil {
			return nil, err
		}
	default:
		return nil, wrapError("DeleteBatch", "", fmt.Errorf("unexpected launch status %q", launch.Tag))
	}
	return toBatchResult(paths, result), nil
}

func (r *Remote) awaitBatch(ctx context.Context, jobID string) (*files.DeleteBatchResult, error) {
	timer := time.NewTimer(r.pollInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
		}

		status, err := r.client.DeleteBatchCheck(async.NewPollArg(jobID))
		if err != nil {
			return nil, wrapError("DeleteBatchCheck", jobID, err)
		}
		switch status.Tag {
		case files.DeleteBatchJobStatusInProgress:
			timer.Reset(r.pollInterval)
		case files.DeleteBatchJobStatusComplete:
			return status.Complete, nil
		case files.DeleteBatchJobStatusFailed:
			reason := "failed"
			if status.Failed != nil {
				reason = status.Failed.Tag
			}
			return nil, &remote.Error{
				Op: "DeleteBatchCheck", Backend: BackendName, Path: jobID,
				Kind: classifySummary(reason), Err: fmt.Errorf("batch job %s", reason),
			}
		default:
			return nil, wrapError("DeleteBatchCheck", jobID, fmt.Errorf("unexpected job status %q", status.Tag))
		}
	}
}

// DeleteEntity deletes a file or folder (folders recursively).
func (r *Remote) DeleteEntity(ctx context.Context, p string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := r.client.DeleteV2(files.NewDeleteArg(p)); err != nil {
		return wrapError("DeleteEntity", p, err)
	}
	return nil
}

func clampLimit(limit int) uint32 {
	if limit <= 0 || limit > maxListLimit {
		return maxListLimit
	}
	return uint32(limit)
}

func toPage(res *files.ListFolderResult) *remote.Page {
	page := &remote.Page{Cursor: res.Cursor, HasMore: res.HasMore}
	page.Entries = make([]remote.Entry, 0, len(res.Entries))
	for _, md := range res.Entries {
		switch m := md.(type) {
		case *files.FileMetadata:
			page.Entries = append(page.Entries, toEntry(remote.EntryFile, m.Name, m.PathLower))
		case *files.FolderMetadata:
			page.Entries = append(page.Entries, toEntry(remote.EntryFolder, m.Name, m.PathLower))
		}
	}
	return page
}

// toEntry addresses entries by path_lower; Dropbox paths are
// case-insensitive.
func toEntry(kind remote.EntryKind, name, pathLower string) remote.Entry {
	p := remote.NormalizePath(pathLower)
	return remote.Entry{Kind: kind, Name: name, Path: p, PathLower: p}
}

func toBatchResult(paths []string, res *files.DeleteBatchResult) *remote.BatchResult {
	out := &remote.BatchResult{}
	var entries []*files.DeleteBatchResultEntry
	if res != nil {
		entries = res.Entries
	}
	for i, p := range paths {
		if i >= len(entries) || entries[i] == nil {
			out.Fail(p, &remote.Error{Op: "DeleteBatch", Backend: BackendName, Path: p, Kind: remote.KindAPI, Err: errors.New("missing batch entry result")})
			continue
		}
		e := entries[i]
		switch e.Tag {
		case files.DeleteBatchResultEntrySuccess:
			out.Deleted = append(out.Deleted, p)
		case files.DeleteBatchResultEntryFailure:
			if isLookupNotFound(e.Failure) {
				out.NotFound = append(out.NotFound, p)
				continue
			}
			tag := "failure"
			if e.Failure != nil {
				tag = e.Failure.Tag
			}
			out.Fail(p, &remote.Error{Op: "DeleteBatch", Backend: BackendName, Path: p, Kind: classifySummary(tag), Err: errors.New(tag)})
		default:
			out.Fail(p, &remote.Error{Op: "DeleteBatch", Backend: BackendName, Path: p, Kind: remote.KindAPI, Err: fmt.Errorf("unexpected entry status %q", e.Tag)})
		}
	}
	return out
}

func isLookupNotFound(e *files.DeleteError) bool {
	return e != nil &&
		e.Tag == files.DeleteErrorPathLookup &&
		e.PathLookup != nil &&
		e.PathLookup.Tag == files.LookupErrorNotFound
}

func wrapError(op, p string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &remote.Error{Op: op, Backend: BackendName, Path: p, Kind: classify(err), Err: err}
}

func classify(err error) remote.Kind {
	var authErr auth.AuthAPIError
	if errors.As(err, &authErr) {
		return remote.KindAuth
	}
	var rateErr auth.RateLimitAPIError
	if errors.As(err, &rateErr) {
		return remote.KindRateLimited
	}
	if remote.IsTransportError(err) {
		return remote.KindTransientNetwork
	}
	return classifySummary(err.Error())
}

// classifySummary maps a Dropbox error_summary or tag to a Kind.
func classifySummary(summary string) remote.Kind {
	s := strings.ToLower(summary)
	switch {
	case strings.Contains(s, "invalid_access_token"),
		strings.Contains(s, "expired_access_token"),
		strings.Contains(s, "missing_scope"),
		strings.Contains(s, "user_suspended"):
		return remote.KindAuth
	case strings.Contains(s, "too_many_requests"),
		strings.Contains(s, "too_many_write_operations"):
		return remote.KindRateLimited
	case strings.Contains(s, "not_found"):
		return remote.KindNotFound
	default:
		return remote.KindAPI
	}
}
