package gnms

import (
	"math"
	"sync/atomic"
	"testing"

	"github.com/san-kum/trajopt/internal/cost"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/physics"
	"gonum.org/v1/gonum/mat"
)

// scalarSettings integrates x' = u exactly: Euler rollout and forward Euler
// linearization agree with dt = dt_sim.
func scalarSettings() Settings {
	s := DefaultSettings()
	s.Discretization = ForwardEuler
	s.Integrator = integrators.KindEuler
	s.Dt = 0.1
	s.DtSim = 0.1
	s.Threads = 2
	s.Epsilon = 0
	s.MaxIterations = 10
	s.Tolerance = 0
	return s
}

func scalarProblem() Problem {
	return Problem{
		X0:      dynamo.State{1},
		Horizon: 1.0,
		System:  physics.NewLinear(mat.NewDense(1, 1, []float64{0}), mat.NewDense(1, 1, []float64{1})),
		Cost:    cost.NewDiagonal([]float64{1}, []float64{1}, []float64{1}, nil, nil, nil),
	}
}

// pendulumProblem stabilizes the pendulum at the hanging equilibrium from a
// small deflection.
func pendulumProblem() Problem {
	return Problem{
		X0:      dynamo.State{0.5, 0},
		Horizon: 2.0,
		System:  physics.NewPendulum(),
		Cost:    cost.NewDiagonal([]float64{1, 0.1}, []float64{0.1}, []float64{10, 1}, nil, nil, nil),
	}
}

func zeroControls(k, m int) []dynamo.Control {
	out := make([]dynamo.Control, k)
	for i := range out {
		out[i] = make(dynamo.Control, m)
	}
	return out
}

func newInitializedSolver(t *testing.T, p Problem, s Settings, opts ...Option) *Solver {
	t.Helper()
	solver, err := New(p, s, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ok, err := solver.InitializeWithRollout(t.Context(), zeroControls(solver.K(), p.System.ControlDim()))
	if err != nil || !ok {
		t.Fatalf("InitializeWithRollout: ok=%v err=%v", ok, err)
	}
	return solver
}

// scalarRiccatiCost is the optimal cost of x_{k+1} = x_k + dt·u_k with
// stage cost dt·½(x² + u²) and terminal cost ½x².
func scalarRiccatiCost(x0, dt float64, K int) float64 {
	p := 1.0
	for k := 0; k < K; k++ {
		p = dt + p - dt*p*p/(1+dt*p)
	}
	return 0.5 * p * x0 * x0
}

// fragile behaves like x' = u until its state passes a threshold, then
// returns NaN.
type fragile struct{ limit float64 }

func (f *fragile) Derive(x dynamo.State, u dynamo.Control, _ float64) dynamo.State {
	if math.Abs(x[0]) > f.limit {
		return dynamo.State{math.NaN()}
	}
	return dynamo.State{u[0]}
}
func (f *fragile) StateDim() int   { return 1 }
func (f *fragile) ControlDim() int { return 1 }
func (f *fragile) Clone() dynamo.System {
	c := *f
	return &c
}

// spoiled wraps a cost and, while its flag is set, replaces the control
// Hessian with a strongly negative one so the backward pass fails. Clones
// share the flag.
type spoiled struct {
	dynamo.CostFunction
	on *atomic.Bool
}

func (c *spoiled) Approximate(x dynamo.State, u dynamo.Control, t float64) dynamo.StageCost {
	sc := c.CostFunction.Approximate(x, u, t)
	if c.on.Load() {
		sc.R.Scale(-1000, sc.R)
	}
	return sc
}

func (c *spoiled) Clone() dynamo.CostFunction {
	return &spoiled{CostFunction: c.CostFunction.Clone(), on: c.on}
}
