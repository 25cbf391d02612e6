package dynamo

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

type State []float64

func (s State) Clone() State {
	c := make(State, len(s))
	copy(c, s)
	return c
}

func (s State) IsValid() bool {
	for _, v := range s {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

func (s State) Norm() float64 {
	sum := 0.0
	for _, v := range s {
		sum += v * v
	}
	return math.Sqrt(sum)
}

func (s State) Add(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] + other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

func (s State) Scale(factor float64) State {
	result := make(State, len(s))
	for i := range s {
		result[i] = s[i] * factor
	}
	return result
}

func (s State) Sub(other State) State {
	result := make(State, len(s))
	for i := range s {
		if i < len(other) {
			result[i] = s[i] - other[i]
		} else {
			result[i] = s[i]
		}
	}
	return result
}

// Vec views the state as a gonum vector sharing the same backing array.
func (s State) Vec() *mat.VecDense {
	return mat.NewVecDense(len(s), s)
}

type Control []float64

func (u Control) Clone() Control {
	c := make(Control, len(u))
	copy(c, u)
	return c
}

func (u Control) IsValid() bool {
	return State(u).IsValid()
}

// Vec views the control as a gonum vector sharing the same backing array.
func (u Control) Vec() *mat.VecDense {
	return mat.NewVecDense(len(u), u)
}

// System is a controlled ODE. Clone must return an independent deep copy;
// the optimizer hands one clone to every worker.
type System interface {
	Derive(x State, u Control, t float64) State
	StateDim() int
	ControlDim() int
	Clone() System
}

// Symplectic is implemented by systems whose state is laid out as
// [positions, velocities] with equal halves and which can be integrated by
// the symplectic integrator family.
type Symplectic interface {
	IsSymplectic() bool
}

// IsSymplectic reports whether dyn declares a symplectic structure.
func IsSymplectic(dyn System) bool {
	s, ok := dyn.(Symplectic)
	return ok && s.IsSymplectic() && dyn.StateDim()%2 == 0
}

type Hamiltonian interface {
	Energy(x State) float64
}

// LinearSystem provides the continuous-time Jacobians of a System.
type LinearSystem interface {
	// Jacobians returns ∂f/∂x (n×n) and ∂f/∂u (n×m).
	Jacobians(x State, u Control, t float64) (dfdx, dfdu *mat.Dense)
	Clone() LinearSystem
}

// StageCost is the second order expansion of a cost term around (x, u).
// Terminal expansions leave P, Rv and R nil.
type StageCost struct {
	Value float64
	Qv    *mat.VecDense // ∂l/∂x
	Q     *mat.Dense    // ∂²l/∂x²
	P     *mat.Dense    // ∂²l/∂u∂x, control rows by state columns
	Rv    *mat.VecDense // ∂l/∂u
	R     *mat.Dense    // ∂²l/∂u²
}

type CostFunction interface {
	Intermediate(x State, u Control, t float64) float64
	Terminal(x State, t float64) float64
	Approximate(x State, u Control, t float64) StageCost
	ApproximateTerminal(x State, t float64) StageCost
	Clone() CostFunction
}

type Integrator interface {
	Step(dyn System, x State, u Control, t float64, dt float64) State
}

type Controller interface {
	Compute(x State, t float64) Control
}

type Metric interface {
	Name() string
	Observe(x State, u Control, t float64)
	Value() float64
	Reset()
}

type Observer interface {
	OnStep(x State, u Control, t float64)
}

type Configurable interface {
	GetParams() map[string]float64
	SetParam(name string, value float64) error
}

type Config struct {
	Dt            float64
	Duration      float64
	Seed          int64
	ValidateState bool
}

func DefaultConfig() Config {
	return Config{
		Dt:            0.01,
		Duration:      10.0,
		ValidateState: true,
	}
}

type Result struct {
	States      []State
	Controls    []Control
	Times       []float64
	Metrics     map[string]float64
	EnergyDrift float64
	StepsTaken  int
	Errors      []error
}
