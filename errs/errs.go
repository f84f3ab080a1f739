// ABOUTME: Defines the sentinel error kinds shared across loader and analyses
// ABOUTME: Callers match these with errors.Is after wrapping adds context

// Package errs defines the sentinel error kinds shared across the loader
// and analyses. Callers match kinds with errors.Is; the sentinels here are
// never compared by string and never carry per-call-site context
// themselves — that context is added by wrapping with pkg/errors at the
// point of detection.
package errs

import "errors"

var (
	// ErrBadMagic means the dump did not start with the "PMAT" prefix.
	ErrBadMagic = errors.New("bad magic")

	// ErrTruncated means the stream ended during a fixed-size or
	// length-prefixed read.
	ErrTruncated = errors.New("truncated")

	// ErrUnknownFlag means the header flags byte had bits set outside the
	// defined range.
	ErrUnknownFlag = errors.New("unknown flag bits")

	// ErrUnknownTag means an SV, CODEx, or context tag fell outside the
	// enumerated set.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrBadVersion means the format-version major was not the supported
	// value.
	ErrBadVersion = errors.New("unsupported format version")

	// ErrNoSuchSymbol means symbol resolution failed to find a bound
	// object at some segment of the dotted name.
	ErrNoSuchSymbol = errors.New("no such symbol")

	// ErrNoSuchAddress means a lookup found no object at the given
	// address. Reported from introspection helpers as an absent result
	// rather than raised, except when a caller explicitly demands a value.
	ErrNoSuchAddress = errors.New("no such address")
)
