package registration

import (
	"github.com/pkg/errors"
)

// Failure taxonomy of the registration core. Per-descriptor and per-pair failures
// are recovered locally by the caller; only subset-level failures are surfaced.
var (
	// ErrInsufficientData means fewer points or neighbours than a model requires.
	ErrInsufficientData = errors.New("insufficient data")

	// ErrIllDefinedModel means the geometric configuration is degenerate
	// (e.g. collinear points for a rigid or affine fit).
	ErrIllDefinedModel = errors.New("ill-defined model")

	// ErrNotEnoughDataPoints means pairwise matching cannot start for a pair.
	ErrNotEnoughDataPoints = errors.New("not enough data points")

	// ErrRansacFailed means no sampled subset reached the minimum consensus.
	ErrRansacFailed = errors.New("ransac failed")

	// ErrUnderconstrainedSystem means global optimization cannot determine a
	// transform for at least one view of a subset.
	ErrUnderconstrainedSystem = errors.New("underconstrained system")
)

// IsRecoverable reports whether err is a local matching failure that callers
// treat as "no match" instead of propagating.
func IsRecoverable(err error) bool {
	return errors.Is(err, ErrInsufficientData) ||
		errors.Is(err, ErrIllDefinedModel) ||
		errors.Is(err, ErrNotEnoughDataPoints) ||
		errors.Is(err, ErrRansacFailed)
}

// SubsetError is the per-subset failure surfaced in a Report.
type SubsetError struct {
	Subset int
	Views  []ViewID
	Err    error
}

func (e *SubsetError) Error() string {
	return errors.Wrapf(e.Err, "subset %d (%d views)", e.Subset, len(e.Views)).Error()
}

func (e *SubsetError) Unwrap() error { return e.Err }
