package remote

import (
	"context"

	"golang.org/x/time/rate"
)

// Limited wraps a Remote with a token-bucket limiter shared by every call,
// including calls made concurrently by deletion workers.
type Limited struct {
	Remote
	limiter *rate.Limiter
}

// WithRateLimit returns r paced to at most rps requests per second.
// A non-positive rps returns r unchanged.
func WithRateLimit(r Remote, rps float64) Remote {
	if rps <= 0 {
		return r
	}
	return &Limited{
		Remote:  r,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
	}
}

// ListFolder waits for a token, then lists.
func (l *Limited) ListFolder(ctx context.Context, path string, recursive bool, limit int) (*Page, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Remote.ListFolder(ctx, path, recursive, limit)
}

// ListFolderContinue waits for a token, then continues the listing.
func (l *Limited) ListFolderContinue(ctx context.Context, cursor string) (*Page, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Remote.ListFolderContinue(ctx, cursor)
}

// DeleteBatch waits for a token, then deletes the batch.
func (l *Limited) DeleteBatch(ctx context.Context, paths []string) (*BatchResult, error) {
	if err := l.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return l.Remote.DeleteBatch(ctx, paths)
}

// DeleteEntity waits for a token, then deletes the entity.
func (l *Limited) DeleteEntity(ctx context.Context, path string) error {
	if err := l.limiter.Wait(ctx); err != nil {
		return err
	}
	return l.Remote.DeleteEntity(ctx, path)
}
