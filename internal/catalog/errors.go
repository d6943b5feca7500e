package catalog

import "errors"

var (
	// ErrJobConflict reports that an active job of the same type already
	// exists for the volume. Callers treat it as already-satisfied.
	ErrJobConflict = errors.New("job already active")

	// ErrJobNotFound reports an unknown job id.
	ErrJobNotFound = errors.New("job not found")

	// ErrStoreBusy reports that the busy-retry budget was exhausted. The
	// triggering write failed; the owning job is not failed for it.
	ErrStoreBusy = errors.New("catalog store busy")
)
