package tiercache

// errors.go defines the error kinds the core surfaces to callers (spec.md
// §7). Recovery policy: never cache on error — a mutation error leaves the
// slot untouched except for invalidation on a positive delete outcome; a
// read error installs neither a ghost nor a real entry.
//
// Grounded on the teacher's pkg/config.go errInvalid* sentinel-error style,
// extended to the façade's own error surface.
//
// © 2025 tiercache authors. MIT License.

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the key exists in neither L1, L2, nor L3.
	ErrNotFound = errors.New("tiercache: not found")

	// ErrOriginTransient wraps a failed L3/L2 call that is expected to
	// succeed on retry. Reads return an empty guarded view; writes report
	// affected=0 and no cache state is mutated.
	ErrOriginTransient = errors.New("tiercache: origin transient error")

	// ErrOriginPermanent wraps a failed L3/L2 call that will not succeed on
	// retry. Propagated to the caller; no cache state is mutated.
	ErrOriginPermanent = errors.New("tiercache: origin permanent error")

	// ErrReadOnlyViolation is returned by every write-path operation on a
	// cache constructed with WithReadOnly(true).
	ErrReadOnlyViolation = errors.New("tiercache: read-only cache violation")
)

// transientf builds an error wrapping ErrOriginTransient with a formatted
// context message.
func transientf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrOriginTransient}, args...)...)
}

// permanentf builds an error wrapping ErrOriginPermanent with a formatted
// context message.
func permanentf(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrOriginPermanent}, args...)...)
}

// IsTransient reports whether err (or something it wraps) is an origin
// transient error.
func IsTransient(err error) bool { return errors.Is(err, ErrOriginTransient) }

// IsPermanent reports whether err (or something it wraps) is an origin
// permanent error.
func IsPermanent(err error) bool { return errors.Is(err, ErrOriginPermanent) }

// IsNotFound reports whether err (or something it wraps) is ErrNotFound.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
