package remote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
)

// Kind classifies remote failures independently of any SDK error tree.
type Kind int

const (
	// KindAPI is a generic remote API error. Retryable a bounded number of
	// times by callers that choose to.
	KindAPI Kind = iota

	// KindTransientNetwork covers read timeouts, connection resets and
	// similar transport failures expected to resolve on retry.
	KindTransientNetwork

	// KindRateLimited indicates the service throttled the request.
	KindRateLimited

	// KindAuth indicates invalid or insufficient credentials. Never retried.
	KindAuth

	// KindNotFound indicates the path does not exist.
	KindNotFound
)

// String returns the machine-readable code for the kind.
func (k Kind) String() string {
	switch k {
	case KindTransientNetwork:
		return "TRANSIENT_NETWORK"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindAuth:
		return "AUTH_FAILURE"
	case KindNotFound:
		return "NOT_FOUND"
	default:
		return "REMOTE_API_ERROR"
	}
}

// Sentinel errors, one per Kind, for errors.Is checks.
var (
	ErrTransientNetwork = errors.New("transient network error")
	ErrRateLimited      = errors.New("request rate limited")
	ErrAuth             = errors.New("authorization failed")
	ErrNotFound         = errors.New("path not found")
	ErrAPI              = errors.New("remote api error")
)

// Error wraps a backend error with its classification and context.
type Error struct {
	// Op is the remote operation that failed (e.g., "ListFolder").
	Op string

	// Backend names the remote backend (e.g., "dropbox").
	Backend string

	// Path is the path or cursor involved, if any.
	Path string

	// Kind is the classification of the failure.
	Kind Kind

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("%s %s %s: %s: %v", e.Backend, e.Op, e.Path, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %s: %v", e.Backend, e.Op, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel error of the error's Kind.
func (e *Error) Is(target error) bool {
	return target == e.Kind.sentinel()
}

func (k Kind) sentinel() error {
	switch k {
	case KindTransientNetwork:
		return ErrTransientNetwork
	case KindRateLimited:
		return ErrRateLimited
	case KindAuth:
		return ErrAuth
	case KindNotFound:
		return ErrNotFound
	default:
		return ErrAPI
	}
}

// Classify maps any error to a Kind.
//
// Errors already wrapped in *Error keep their Kind. Raw transport errors
// (timeouts, connection resets, unexpected EOF) classify as
// KindTransientNetwork. Everything else is KindAPI.
func Classify(err error) Kind {
	if err == nil {
		return KindAPI
	}

	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}

	switch {
	case errors.Is(err, ErrTransientNetwork):
		return KindTransientNetwork
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	}

	if IsTransportError(err) {
		return KindTransientNetwork
	}
	return KindAPI
}

// IsTransportError reports whether err is a network-transport failure:
// timeout, connection reset/refused/aborted, broken pipe or truncated
// response body.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	// Caller cancellation is not a transport failure.
	if errors.Is(err, context.Canceled) {
		return false
	}

	if errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) && (dnsErr.IsTemporary || dnsErr.IsTimeout) {
		return true
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && errors.Is(urlErr.Err, io.EOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection reset") ||
		strings.Contains(msg, "read timeout") ||
		strings.Contains(msg, "i/o timeout")
}

// IsTransient reports whether err is a transient network failure.
func IsTransient(err error) bool { return err != nil && Classify(err) == KindTransientNetwork }

// IsRateLimited reports whether err indicates throttling.
func IsRateLimited(err error) bool { return err != nil && Classify(err) == KindRateLimited }

// IsAuth reports whether err is an authorization failure.
func IsAuth(err error) bool { return err != nil && Classify(err) == KindAuth }

// IsNotFound reports whether err indicates a missing path.
func IsNotFound(err error) bool { return err != nil && Classify(err) == KindNotFound }
