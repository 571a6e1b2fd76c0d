package tiercache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupported signals an operation that has no meaning at a tier,
	// e.g. Clear against a remote store with no key enumeration. It is
	// deliberately distinct from a miss: callers must be able to tell
	// "nothing there" from "this tier cannot do that".
	ErrUnsupported = errors.New("tiercache: operation not supported by this tier")

	// ErrClosed is returned by operations on a closed pipeline.
	ErrClosed = errors.New("tiercache: cache is closed")
)

// errConfig reports an invalid construction-time configuration.
func errConfig(msg string) error {
	return fmt.Errorf("tiercache: %s", msg)
}

// unsupported wraps ErrUnsupported with the operation and tier names.
func unsupported(tier, op string) error {
	return fmt.Errorf("%s %s: %w", tier, op, ErrUnsupported)
}

// OperationError is raised by the resilient layer when an operation kept
// failing after its full retry budget. It wraps the last underlying cause.
type OperationError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("cache operation %q failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

func (e *OperationError) Unwrap() error { return e.Err }
