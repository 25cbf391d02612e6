package gnms

import (
	"context"
	"time"
)

// Diagnostics summarizes one iteration. Costs refer to the trajectory the
// iteration linearized around, before its step was applied.
type Diagnostics struct {
	Iteration         int     `json:"iteration"`
	IntermediateCost  float64 `json:"intermediate_cost"`
	TerminalCost      float64 `json:"terminal_cost"`
	TotalCost         float64 `json:"total_cost"`
	DefectNorm        float64 `json:"defect_norm"`
	StateUpdateNorm   float64 `json:"state_update_norm"`
	ControlUpdateNorm float64 `json:"control_update_norm"`
	Rollout           bool    `json:"rollout"`
	Improved          bool    `json:"improved"`

	// Eigenvalue records are +Inf unless RecordEigenvalues is set.
	SmallestEigenvalueIteration float64 `json:"smallest_eigenvalue_iteration"`
	SmallestEigenvalue          float64 `json:"smallest_eigenvalue"`

	RolloutTime   time.Duration `json:"rollout_ns"`
	LinearizeTime time.Duration `json:"linearize_ns"`
	ShotTime      time.Duration `json:"shot_ns"`
	BackwardTime  time.Duration `json:"backward_ns"`
	ForwardTime   time.Duration `json:"forward_ns"`
	Total         time.Duration `json:"total_ns"`
}

// Observer is notified after every completed iteration.
type Observer interface {
	OnIteration(d Diagnostics)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(d Diagnostics)

func (f ObserverFunc) OnIteration(d Diagnostics) { f(d) }

// LineSearch decides how much of a computed step to take. It returns the
// step length in (0, 1] and whether the step counts as an improvement; a
// step that does not improve is not applied and ends the solve.
type LineSearch func(ctx context.Context, d Diagnostics) (alpha float64, improved bool)

// AcceptAll takes every full step.
func AcceptAll(context.Context, Diagnostics) (float64, bool) {
	return 1, true
}
