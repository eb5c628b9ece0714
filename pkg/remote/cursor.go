package remote

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedCursor indicates a cursor that was not produced by EncodeCursor.
var ErrMalformedCursor = errors.New("malformed cursor")

// EncodeCursor packs backend listing state into an opaque cursor string.
// Backends whose service has no native cursor use it to resume listings.
func EncodeCursor(state any) (string, error) {
	b, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeCursor unpacks a cursor produced by EncodeCursor into state.
func DecodeCursor(cursor string, state any) error {
	b, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCursor, err)
	}
	if err := json.Unmarshal(b, state); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedCursor, err)
	}
	return nil
}
