package gnms

import (
	"math"
	"runtime"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
)

// Discretization selects how continuous Jacobians become stage matrices.
type Discretization string

const (
	ForwardEuler  Discretization = "forward_euler"
	BackwardEuler Discretization = "backward_euler"
	Tustin        Discretization = "tustin"
)

// Regularization selects how the control Hessian is made invertible.
type Regularization string

const (
	// FixedCorrection adds epsilon to the diagonal and inverts by Cholesky.
	FixedCorrection Regularization = "fixed"
	// EigenClipping raises every eigenvalue to at least epsilon.
	EigenClipping Regularization = "eigen"
)

// minEpsilon is the floor below which the fixed correction is skipped.
const minEpsilon = 1e-10

type Settings struct {
	Discretization    Discretization   `yaml:"discretization" json:"discretization"`
	Integrator        integrators.Kind `yaml:"integrator" json:"integrator"`
	Dt                float64          `yaml:"dt" json:"dt"`
	DtSim             float64          `yaml:"dt_sim" json:"dt_sim"`
	Threads           int              `yaml:"threads" json:"threads"`
	MathThreads       int              `yaml:"math_threads" json:"math_threads"`
	Epsilon           float64          `yaml:"epsilon" json:"epsilon"`
	Regularization    Regularization   `yaml:"regularization" json:"regularization"`
	RecordEigenvalues bool             `yaml:"record_eigenvalues" json:"record_eigenvalues"`
	MaxIterations     int              `yaml:"max_iterations" json:"max_iterations"`

	// Tolerance stops the iteration once both the control update norm and
	// the defect norm fall below it. Zero disables the check.
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
}

func DefaultSettings() Settings {
	return Settings{
		Discretization: ForwardEuler,
		Integrator:     integrators.KindRK4,
		Dt:             0.01,
		DtSim:          0.01,
		Threads:        max(1, runtime.NumCPU()-1),
		MathThreads:    0,
		Epsilon:        1e-6,
		Regularization: FixedCorrection,
		MaxIterations:  50,
		Tolerance:      1e-6,
	}
}

// Validate checks the numeric parameters. Discretization and integrator
// selectors are resolved where they are used.
func (s Settings) Validate() error {
	switch {
	case !(s.Dt > 0) || math.IsInf(s.Dt, 0):
		return dynamo.Configf("dt must be positive, got %v", s.Dt)
	case !(s.DtSim > 0) || s.DtSim > s.Dt:
		return dynamo.Configf("dt_sim must be in (0, dt], got %v", s.DtSim)
	case s.Threads < 1:
		return dynamo.Configf("threads must be at least 1, got %d", s.Threads)
	case s.MathThreads < 0:
		return dynamo.Configf("math_threads must not be negative, got %d", s.MathThreads)
	case !(s.Epsilon >= 0) || math.IsInf(s.Epsilon, 0):
		return dynamo.Configf("epsilon must be a non-negative number, got %v", s.Epsilon)
	case s.MaxIterations < 1:
		return dynamo.Configf("max_iterations must be at least 1, got %d", s.MaxIterations)
	case !(s.Tolerance >= 0):
		return dynamo.Configf("tolerance must not be negative, got %v", s.Tolerance)
	}
	if s.Regularization != FixedCorrection && s.Regularization != EigenClipping {
		return dynamo.Configf("unknown regularization %q", s.Regularization)
	}
	return nil
}

// Stages converts a time horizon into the number of control stages.
func (s Settings) Stages(horizon float64) (int, error) {
	if horizon < 0 || math.IsNaN(horizon) || math.IsInf(horizon, 0) {
		return 0, dynamo.Configf("invalid time horizon %v", horizon)
	}
	k := int(math.Round(horizon / s.Dt))
	if k == 0 {
		return 0, dynamo.Configf("time horizon %v yields zero stages at dt=%v", horizon, s.Dt)
	}
	return k, nil
}

// Substeps is the number of integrator micro-steps per stage.
func (s Settings) Substeps() int {
	return max(1, int(math.Round(s.Dt/s.DtSim)))
}
