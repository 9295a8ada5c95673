package core

import "errors"

var (
	// ErrNotFound is returned by object storage for a missing key.
	ErrNotFound = errors.New("not found")
	// ErrAccessDenied is returned by object storage when the key is forbidden.
	ErrAccessDenied = errors.New("access denied")

	ErrRateLimited         = errors.New("provider rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidInput        = errors.New("invalid provider input")

	// ErrTextlessDocument marks a source whose pages carry no extractable text.
	ErrTextlessDocument = errors.New("document appears to be scanned or textless")
	ErrManifestInvalid  = errors.New("manifest invalid")
	ErrIndexWrite       = errors.New("vector index write failed")
)

// IsTransient reports whether err belongs to a class worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrProviderUnavailable)
}
