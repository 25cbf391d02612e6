package dynamo

import (
	"errors"
	"fmt"
)

// Domain errors for optimization and simulation.
var (
	// ErrInvalidState indicates a state vector with invalid dimensions or values.
	ErrInvalidState = errors.New("dynamo: invalid state (NaN or Inf detected)")

	// ErrUnstable indicates a rollout or simulation diverged.
	ErrUnstable = errors.New("dynamo: simulation unstable (state diverged)")

	// ErrNumerical indicates a failed factorization or a non-finite
	// intermediate result inside an optimizer iteration.
	ErrNumerical = errors.New("dynamo: numerical failure")

	// ErrParameterBounds indicates a parameter value is outside valid range.
	ErrParameterBounds = errors.New("dynamo: parameter out of valid bounds")

	// ErrDimensionMismatch indicates mismatched state/control dimensions.
	ErrDimensionMismatch = errors.New("dynamo: dimension mismatch between state and system")

	// ErrConfiguration marks fatal configuration problems: zero-length
	// horizon, thread count changes, nil collaborators, unknown selectors.
	ErrConfiguration = errors.New("dynamo: invalid configuration")

	// ErrInputShape marks caller supplied trajectories or controllers whose
	// lengths do not match the horizon.
	ErrInputShape = errors.New("dynamo: input shape mismatch")

	// ErrNotInitialized is returned when a solve starts without an initial guess.
	ErrNotInitialized = errors.New("dynamo: solver not initialized")
)

// SimulationError wraps an error with simulation context.
type SimulationError struct {
	Step    int
	Time    float64
	State   State
	Wrapped error
}

func (e *SimulationError) Error() string {
	return fmt.Sprintf("step %d (t=%.4f): %v", e.Step, e.Time, e.Wrapped)
}

func (e *SimulationError) Unwrap() error {
	return e.Wrapped
}

// Configf wraps ErrConfiguration with a formatted reason.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// Shapef wraps ErrInputShape with a formatted reason.
func Shapef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInputShape, fmt.Sprintf(format, args...))
}
