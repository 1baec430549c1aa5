package core

import "errors"

// Sentinel errors shared by the manifest core and its collaborators.
// Callers classify with errors.Is; wrapped variants carry context.
var (
	// ErrStale is reported by ordered-map reads that went through a block
	// superseded by a newer version of the structure. It is recoverable:
	// resolution retries against a freshly fetched root.
	ErrStale = errors.New("strata: stale read")

	// ErrNotFound reports the absence of an entry or item. At the manifest
	// layer this is a normal empty result, not a failure.
	ErrNotFound = errors.New("strata: not found")

	// ErrExists is returned by an insert that collided with a live entry.
	ErrExists = errors.New("strata: already exists")

	// ErrNoSpace is returned when storage for an insert or batch could not
	// be allocated. No partial state is mutated.
	ErrNoSpace = errors.New("strata: no space")

	// ErrCorrupt marks a fatal inconsistency: repeated staleness against an
	// unchanged root, or an invariant violated under the exclusive lock.
	// The enclosing filesystem instance needs an offline consistency check.
	ErrCorrupt = errors.New("strata: corruption detected")

	// ErrTooStale is returned when resolution exhausted its root-retry
	// budget while the root kept changing underneath it.
	ErrTooStale = errors.New("strata: retry budget exhausted")
)

// IsFatal reports whether err indicates a condition that must not be
// silently retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrCorrupt)
}
