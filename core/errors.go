package core

import (
	"errors"

	"github.com/mfs409/gotm/internal/logging"
)

// The externally-observable error kinds of spec.md §7. None of these ever
// escape a transaction's ordinary Execute/Commit return value. They are
// declared for diagnostics only: no core in this module returns or records
// them, and Commit reports an abort only as a false result.
var (
	ErrReadInconsistent    = errors.New("gotm: read inconsistency detected")
	ErrLockContention      = errors.New("gotm: lock contention")
	ErrRingOverflow        = errors.New("gotm: ring overflow")
	ErrDeadlockSuspected   = errors.New("gotm: deadlock suspected (bounded retries exhausted)")
	ErrIrrevocabilityBusy  = errors.New("gotm: another thread holds the irrevocability token")
	ErrAllocationPressure  = errors.New("gotm: allocation manager bound exceeded")
)

// Fatal logs msg at Error and terminates the process, matching spec.md
// §7's "Unsupported operation... Fatal termination" disposition (e.g. a
// Commit with no matching Begin, or a descriptor slot table with no free
// slot). It is never used for ordinary abort/retry paths.
func Fatal(msg string) {
	logging.Default().Errorf("%s", msg)
	panic("gotm: fatal: " + msg)
}
