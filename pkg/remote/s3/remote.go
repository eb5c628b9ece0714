package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"

	"github.com/3leaps/memosweep/pkg/remote"
)

// BackendName identifies this backend in errors and logs.
const BackendName = "s3"

// API is the subset of the S3 client used by Remote. *s3.Client implements it.
type API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	DeleteObjects(ctx context.Context, params *s3.DeleteObjectsInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectsOutput, error)
}

// Remote implements remote.Remote for AWS S3 and S3-compatible storage.
type Remote struct {
	client API
	bucket string
}

var _ remote.Remote = (*Remote)(nil)

// New creates a new S3 remote with the given configuration.
//
// The remote uses AWS SDK v2's default credential chain unless explicit
// credentials are provided in the config.
func New(ctx context.Context, cfg Config) (*Remote, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	awsCfg, err := loadAWSConfig(ctx, cfg)
	if err != nil {
		return nil, &remote.Error{Op: "New", Backend: BackendName, Path: cfg.Bucket, Kind: remote.KindAuth, Err: err}
	}

	s3Opts := []func(*s3.Options){
		func(o *s3.Options) {
			if cfg.ForcePathStyle {
				o.UsePathStyle = true
			}
		},
	}

	// Custom endpoint for S3-compatible stores
	if cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		})
	}

	return NewWithClient(s3.NewFromConfig(awsCfg, s3Opts...), cfg.Bucket), nil
}

// NewWithClient wraps an existing S3 API client.
func NewWithClient(client API, bucket string) *Remote {
	return &Remote{client: client, bucket: bucket}
}

// loadAWSConfig builds the AWS configuration with appropriate credentials.
func loadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	var opts []func(*config.LoadOptions) error

	// Let SDK resolve from env/profile unless set explicitly.
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		staticCreds := credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, "")
		opts = append(opts, config.WithCredentialsProvider(staticCreds))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, err
	}
	awsCfg.Region = resolveRegion(cfg.Endpoint, awsCfg.Region)
	return awsCfg, nil
}

// Close releases any resources held by the remote.
func (r *Remote) Close() error {
	return nil
}

// listCursor is the state behind the opaque cursor returned to callers.
type listCursor struct {
	Prefix    string `json:"prefix"`
	Recursive bool   `json:"recursive"`
	Limit     int    `json:"limit"`
	Token     string `json:"token"`
}

// ListFolder lists the objects under path. Non-recursive listings return
// common prefixes as folders.
func (r *Remote) ListFolder(ctx context.Context, p string, recursive bool, limit int) (*remote.Page, error) {
	return r.list(ctx, listCursor{Prefix: folderPrefix(p), Recursive: recursive, Limit: limit})
}

// ListFolderContinue resumes a listing from cursor.
func (r *Remote) ListFolderContinue(ctx context.Context, cursor string) (*remote.Page, error) {
	var c listCursor
	if err := remote.DecodeCursor(cursor, &c); err != nil {
		return nil, &remote.Error{Op: "ListFolderContinue", Backend: BackendName, Kind: remote.KindAPI, Err: err}
	}
	return r.list(ctx, c)
}

func (r *Remote) list(ctx context.Context, c listCursor) (*remote.Page, error) {
	input := &s3.ListObjectsV2Input{
		Bucket:  aws.String(r.bucket),
		MaxKeys: aws.Int32(int32(clampMaxKeys(c.Limit))),
	}
	if c.Prefix != "" {
		input.Prefix = aws.String(c.Prefix)
	}
	if !c.Recursive {
		input.Delimiter = aws.String("/")
	}
	if c.Token != "" {
		input.ContinuationToken = aws.String(c.Token)
	}

	output, err := r.client.ListObjectsV2(ctx, input)
	if err != nil {
		return nil, r.wrapError("ListFolder", keyToPath(c.Prefix), err)
	}

	page := &remote.Page{}
	for _, cp := range output.CommonPrefixes {
		page.Entries = append(page.Entries, remote.NewEntry(remote.EntryFolder, keyToPath(aws.ToString(cp.Prefix))))
	}
	for _, obj := range output.Contents {
		key := aws.ToString(obj.Key)
		switch {
		case key == c.Prefix:
			// The folder marker of the listed folder itself.
		case strings.HasSuffix(key, "/"):
			page.Entries = append(page.Entries, remote.NewEntry(remote.EntryFolder, keyToPath(key)))
		default:
			page.Entries = append(page.Entries, remote.NewEntry(remote.EntryFile, keyToPath(key)))
		}
	}

	if aws.ToBool(output.IsTruncated) && output.NextContinuationToken != nil {
		c.Token = aws.ToString(output.NextContinuationToken)
		cursor, err := remote.EncodeCursor(c)
		if err != nil {
			return nil, r.wrapError("ListFolder", keyToPath(c.Prefix), err)
		}
		page.Cursor = cursor
		page.HasMore = true
	}
	return page, nil
}

// DeleteBatch removes up to MaxBatchSize objects with one DeleteObjects call.
// S3 reports missing keys as deleted, so NotFound stays empty.
func (r *Remote) DeleteBatch(ctx context.Context, paths []string) (*remote.BatchResult, error) {
	if len(paths) == 0 {
		return &remote.BatchResult{}, nil
	}
	if len(paths) > MaxBatchSize {
		return nil, r.wrapError("DeleteBatch", "", fmt.Errorf("batch of %d exceeds limit %d", len(paths), MaxBatchSize))
	}

	byKey := make(map[string]string, len(paths))
	keys := make([]string, 0, len(paths))
	for _, p := range paths {
		k := pathToKey(p)
		byKey[k] = p
		keys = append(keys, k)
	}

	output, err := r.deleteKeys(ctx, keys)
	if err != nil {
		return nil, r.wrapError("DeleteBatch", "", err)
	}

	res := &remote.BatchResult{}
	for _, d := range output.Deleted {
		if p, ok := byKey[aws.ToString(d.Key)]; ok {
			res.Deleted = append(res.Deleted, p)
		}
	}
	for _, e := range output.Errors {
		p, ok := byKey[aws.ToString(e.Key)]
		if !ok {
			continue
		}
		code := aws.ToString(e.Code)
		if code == "NoSuchKey" {
			res.NotFound = append(res.NotFound, p)
			continue
		}
		res.Fail(p, &remote.Error{
			Op: "DeleteBatch", Backend: BackendName, Path: p,
			Kind: kindForCode(code),
			Err:  fmt.Errorf("%s: %s", code, aws.ToString(e.Message)),
		})
	}
	return res, nil
}

// DeleteEntity removes the object at path, or every object below it when
// path is a folder. A path with no objects yields remote.KindNotFound.
func (r *Remote) DeleteEntity(ctx context.Context, p string) error {
	key := pathToKey(p)
	if key == "" {
		return r.wrapError("DeleteEntity", p, errors.New("refusing to delete bucket root"))
	}

	keys, err := r.keysUnder(ctx, key)
	if err != nil {
		return r.wrapError("DeleteEntity", p, err)
	}
	if len(keys) == 0 {
		return &remote.Error{Op: "DeleteEntity", Backend: BackendName, Path: p, Kind: remote.KindNotFound, Err: remote.ErrNotFound}
	}

	for start := 0; start < len(keys); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(keys))
		output, err := r.deleteKeys(ctx, keys[start:end])
		if err != nil {
			return r.wrapError("DeleteEntity", p, err)
		}
		if len(output.Errors) > 0 {
			e := output.Errors[0]
			code := aws.ToString(e.Code)
			return &remote.Error{
				Op: "DeleteEntity", Backend: BackendName, Path: p,
				Kind: kindForCode(code),
				Err:  fmt.Errorf("%d keys failed, first %s: %s", len(output.Errors), aws.ToString(e.Key), code),
			}
		}
	}
	return nil
}

// keysUnder returns key itself (when it exists as an object) followed by
// every key below key + "/".
func (r *Remote) keysUnder(ctx context.Context, key string) ([]string, error) {
	var keys []string

	// key sorts first among keys sharing it as a prefix.
	head, err := r.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(r.bucket),
		Prefix:  aws.String(key),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return nil, err
	}
	if len(head.Contents) > 0 && aws.ToString(head.Contents[0].Key) == key {
		keys = append(keys, key)
	}

	input := &s3.ListObjectsV2Input{
		Bucket: aws.String(r.bucket),
		Prefix: aws.String(key + "/"),
	}
	for {
		output, err := r.client.ListObjectsV2(ctx, input)
		if err != nil {
			return nil, err
		}
		for _, obj := range output.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if !aws.ToBool(output.IsTruncated) || output.NextContinuationToken == nil {
			return keys, nil
		}
		input.ContinuationToken = output.NextContinuationToken
	}
}

func (r *Remote) deleteKeys(ctx context.Context, keys []string) (*s3.DeleteObjectsOutput, error) {
	objects := make([]types.ObjectIdentifier, 0, len(keys))
	for _, k := range keys {
		objects = append(objects, types.ObjectIdentifier{Key: aws.String(k)})
	}
	return r.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(r.bucket),
		Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(false)},
	})
}

// wrapError converts S3 errors to remote errors with the matching Kind.
func (r *Remote) wrapError(op, p string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	wrapped := &remote.Error{Op: op, Backend: BackendName, Path: p, Kind: remote.KindAPI, Err: err}

	var notFound *types.NotFound
	var noSuchKey *types.NoSuchKey
	var noSuchBucket *types.NoSuchBucket
	switch {
	case errors.As(err, &notFound), errors.As(err, &noSuchKey), errors.As(err, &noSuchBucket):
		wrapped.Kind = remote.KindNotFound
		return wrapped
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		wrapped.Kind = kindForCode(apiErr.ErrorCode())
		return wrapped
	}

	if remote.IsTransportError(err) {
		wrapped.Kind = remote.KindTransientNetwork
		return wrapped
	}

	// Fallback: check error message for common cases
	errMsg := err.Error()
	switch {
	case strings.Contains(errMsg, "NoSuchKey") || strings.Contains(errMsg, "NotFound") || strings.Contains(errMsg, "404"):
		wrapped.Kind = remote.KindNotFound
	case strings.Contains(errMsg, "AccessDenied") || strings.Contains(errMsg, "Forbidden") || strings.Contains(errMsg, "403"):
		wrapped.Kind = remote.KindAuth
	case strings.Contains(errMsg, "SlowDown") || strings.Contains(errMsg, "Throttling") || strings.Contains(errMsg, "429"):
		wrapped.Kind = remote.KindRateLimited
	case strings.Contains(errMsg, "ServiceUnavailable") || strings.Contains(errMsg, "503"):
		wrapped.Kind = remote.KindTransientNetwork
	}
	return wrapped
}

func kindForCode(code string) remote.Kind {
	switch code {
	case "NoSuchKey", "NotFound", "NoSuchBucket":
		return remote.KindNotFound
	case "AccessDenied", "Forbidden", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
		return remote.KindAuth
	case "SlowDown", "Throttling", "RequestLimitExceeded", "TooManyRequests":
		return remote.KindRateLimited
	case "ServiceUnavailable", "InternalError", "RequestTimeout":
		return remote.KindTransientNetwork
	default:
		return remote.KindAPI
	}
}

// folderPrefix returns the key prefix for listing the folder at p.
func folderPrefix(p string) string {
	key := pathToKey(p)
	if key == "" {
		return ""
	}
	return key + "/"
}

func pathToKey(p string) string {
	return strings.TrimPrefix(remote.CleanPath(p), "/")
}

func keyToPath(key string) string {
	return remote.CleanPath(strings.TrimSuffix(key, "/"))
}

// clampMaxKeys applies the default and the S3 page size limit.
func clampMaxKeys(requested int) int {
	if requested <= 0 || requested > MaxAllowedKeys {
		return MaxAllowedKeys
	}
	return requested
}

// resolveRegion applies the us-east-1 fallback for AWS S3 after the SDK
// has resolved explicit, environment and profile regions. S3-compatible
// stores (endpoint set) get no default.
func resolveRegion(endpoint, sdkRegion string) string {
	if sdkRegion != "" {
		return sdkRegion
	}
	if endpoint == "" {
		return DefaultAWSRegion
	}
	return ""
}
