package snapshot

import "errors"

var (
	// ErrMalformedStream is returned for archives that cannot be parsed or whose records do
	// not decode into the registered component types.
	ErrMalformedStream = errors.New("malformed snapshot stream")
	// ErrUnsupportedVersion is returned for archives written by an incompatible version.
	ErrUnsupportedVersion = errors.New("unsupported snapshot version")
	// ErrUnknownComponent is returned for component names no codec is registered under.
	ErrUnknownComponent = errors.New("unknown component")
	// ErrInvalidRoot is returned when asked to save an entity that is not alive.
	ErrInvalidRoot = errors.New("invalid snapshot root")
	// ErrRegistryMismatch is returned when a session is reused against another registry.
	ErrRegistryMismatch = errors.New("session bound to a different registry")
)
