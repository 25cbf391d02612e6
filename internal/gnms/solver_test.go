package gnms

import (
	"context"
	"math"
	"sync/atomic"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/san-kum/trajopt/internal/compute"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/linearize"
	"github.com/san-kum/trajopt/internal/physics"
	"gonum.org/v1/gonum/mat"
)

func TestScalarLQReachesRiccatiOptimum(t *testing.T) {
	g := NewWithT(t)
	solver := newInitializedSolver(t, scalarProblem(), scalarSettings())
	g.Expect(solver.K()).To(Equal(10))

	improved, err := solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(improved).To(BeTrue())
	first := solver.Diagnostics()
	g.Expect(first.Rollout).To(BeFalse())
	g.Expect(first.TotalCost).To(BeNumerically("~", 1.0, 1e-12))
	g.Expect(first.DefectNorm).To(BeNumerically("~", 0, 1e-12))

	_, err = solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	second := solver.Diagnostics()

	optimum := scalarRiccatiCost(1, 0.1, 10)
	g.Expect(second.TotalCost).To(BeNumerically("<", first.TotalCost))
	g.Expect(second.TotalCost).To(BeNumerically("~", optimum, 1e-9))
	g.Expect(solver.Cost()).To(Equal(second.TotalCost))
	g.Expect(second.ControlUpdateNorm).To(BeNumerically("<", 1e-9))

	sol := solver.Solution()
	g.Expect(sol.Gains).To(HaveLen(10))
	g.Expect(sol.States).To(HaveLen(11))
	g.Expect(sol.Controls).To(HaveLen(10))
	g.Expect(sol.States[0][0]).To(Equal(1.0))
	for k, gain := range sol.Gains {
		// feedback must stabilize x' = u
		g.Expect(gain.At(0, 0)).To(BeNumerically("<", 0), "stage %d", k)
	}
	g.Expect(solver.BestTrajectory().States).To(HaveLen(11))
}

func TestSolveStopsAtTolerance(t *testing.T) {
	g := NewWithT(t)
	s := scalarSettings()
	s.Tolerance = 1e-8
	solver := newInitializedSolver(t, scalarProblem(), s)

	ok, err := solver.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(solver.Iteration()).To(Equal(2))
	g.Expect(solver.Diagnostics().Improved).To(BeFalse())
}

func TestZeroStageHorizonRejected(t *testing.T) {
	g := NewWithT(t)
	p := scalarProblem()
	p.Horizon = 0.01

	_, err := New(p, scalarSettings())
	g.Expect(err).To(MatchError(dynamo.ErrConfiguration))

	solver := newInitializedSolver(t, scalarProblem(), scalarSettings())
	g.Expect(solver.ChangeTimeHorizon(0)).To(MatchError(dynamo.ErrConfiguration))
	g.Expect(solver.K()).To(Equal(10))
	g.Expect(solver.Initialized()).To(BeTrue())
}

func TestNewRejectsBadProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Problem)
		want   error
	}{
		{"nil system", func(p *Problem) { p.System = nil }, dynamo.ErrConfiguration},
		{"nil cost", func(p *Problem) { p.Cost = nil }, dynamo.ErrConfiguration},
		{"short x0", func(p *Problem) { p.X0 = dynamo.State{} }, dynamo.ErrInputShape},
		{"negative horizon", func(p *Problem) { p.Horizon = -1 }, dynamo.ErrConfiguration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			p := scalarProblem()
			tt.mutate(&p)
			_, err := New(p, scalarSettings())
			g.Expect(err).To(MatchError(tt.want))
		})
	}
}

func TestSolveBeforeInitialization(t *testing.T) {
	g := NewWithT(t)
	solver, err := New(scalarProblem(), scalarSettings())
	g.Expect(err).NotTo(HaveOccurred())

	_, err = solver.Solve(t.Context())
	g.Expect(err).To(MatchError(dynamo.ErrNotInitialized))
}

func TestUnknownDiscretizationFailsAtLinearization(t *testing.T) {
	g := NewWithT(t)
	s := scalarSettings()
	s.Discretization = "zoh"
	solver := newInitializedSolver(t, scalarProblem(), s)

	ok, err := solver.Solve(t.Context())
	g.Expect(ok).To(BeFalse())
	g.Expect(err).To(MatchError(dynamo.ErrConfiguration))

	solver = newInitializedSolver(t, scalarProblem(), scalarSettings())
	s = solver.Settings()
	s.Discretization = "zoh"
	g.Expect(solver.Configure(s)).To(Succeed())
	_, err = solver.RunIteration(t.Context())
	g.Expect(err).To(MatchError(dynamo.ErrConfiguration))
}

func TestIntegratorResolvedAtRollout(t *testing.T) {
	for _, kind := range []integrators.Kind{"midpoint", integrators.KindEulerSymplectic} {
		t.Run(string(kind), func(t *testing.T) {
			g := NewWithT(t)
			s := scalarSettings()
			s.Integrator = kind
			solver, err := New(scalarProblem(), s)
			g.Expect(err).NotTo(HaveOccurred())

			ok, err := solver.InitializeWithRollout(t.Context(), zeroControls(10, 1))
			g.Expect(ok).To(BeFalse())
			g.Expect(err).To(MatchError(dynamo.ErrConfiguration))
			g.Expect(solver.Initialized()).To(BeFalse())
		})
	}
}

func TestDiscretizationSchemes(t *testing.T) {
	const dt, a = 0.1, -2.0
	tests := []struct {
		scheme Discretization
		A, B   float64
	}{
		{ForwardEuler, 1 + dt*a, dt},
		{BackwardEuler, 1 / (1 - dt*a), dt / (1 - dt*a)},
		{Tustin, (1 + dt*a/2) / (1 - dt*a/2), dt / (1 - dt*a/2)},
	}
	for _, tt := range tests {
		t.Run(string(tt.scheme), func(t *testing.T) {
			g := NewWithT(t)
			p := scalarProblem()
			p.System = physics.NewLinear(mat.NewDense(1, 1, []float64{a}), mat.NewDense(1, 1, []float64{1}))
			s := scalarSettings()
			s.Discretization = tt.scheme
			solver := newInitializedSolver(t, p, s)

			_, err := solver.RunIteration(t.Context())
			g.Expect(err).NotTo(HaveOccurred())
			A, B := solver.LinearizedModel()
			g.Expect(A).To(HaveLen(10))
			for k := range A {
				g.Expect(A[k].At(0, 0)).To(BeNumerically("~", tt.A, 1e-12))
				g.Expect(B[k].At(0, 0)).To(BeNumerically("~", tt.B, 1e-12))
			}
		})
	}
}

func TestInitialGuessSizing(t *testing.T) {
	guess := func(nx, nu int) Policy {
		p := Policy{}
		for i := 0; i < nx; i++ {
			p.States = append(p.States, dynamo.State{1})
		}
		for i := 0; i < nu; i++ {
			p.Controls = append(p.Controls, dynamo.Control{0})
		}
		return p
	}
	gains := func(n, r, c int) []*mat.Dense {
		out := make([]*mat.Dense, n)
		for i := range out {
			out[i] = mat.NewDense(r, c, nil)
		}
		return out
	}

	tests := []struct {
		name  string
		guess Policy
		ok    bool
	}{
		{"exact", guess(11, 10), true},
		{"too long", guess(13, 12), true},
		{"as many controls as states", guess(11, 11), false},
		{"too short", guess(10, 9), false},
		{"with gains", Policy{Trajectory: guess(11, 10).Trajectory, Gains: gains(10, 1, 1)}, true},
		{"short gains", Policy{Trajectory: guess(11, 10).Trajectory, Gains: gains(5, 1, 1)}, false},
		{"misshaped gains", Policy{Trajectory: guess(11, 10).Trajectory, Gains: gains(10, 2, 1)}, false},
		{"misshaped state", Policy{Trajectory: Trajectory{
			States:   append(guess(10, 0).States, dynamo.State{1, 2}),
			Controls: guess(0, 10).Controls,
		}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithT(t)
			solver, err := New(scalarProblem(), scalarSettings())
			g.Expect(err).NotTo(HaveOccurred())

			err = solver.SetInitialGuess(tt.guess)
			if !tt.ok {
				g.Expect(err).To(MatchError(dynamo.ErrInputShape))
				g.Expect(solver.Initialized()).To(BeFalse())
				return
			}
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(solver.Initialized()).To(BeTrue())
			sol := solver.Solution()
			g.Expect(sol.Controls).To(HaveLen(10))
			g.Expect(sol.States).To(HaveLen(11))
		})
	}
}

func TestInitializeWithShortControls(t *testing.T) {
	g := NewWithT(t)
	solver, err := New(scalarProblem(), scalarSettings())
	g.Expect(err).NotTo(HaveOccurred())

	_, err = solver.InitializeWithRollout(t.Context(), zeroControls(9, 1))
	g.Expect(err).To(MatchError(dynamo.ErrInputShape))

	ok, err := solver.InitializeWithRollout(t.Context(), zeroControls(15, 1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(solver.Solution().Controls).To(HaveLen(10))
}

func TestDefectsCloseAfterOneStep(t *testing.T) {
	g := NewWithT(t)
	solver, err := New(scalarProblem(), scalarSettings())
	g.Expect(err).NotTo(HaveOccurred())

	// every shot lands 0.1 above the next node
	var p Policy
	for k := 0; k <= 10; k++ {
		p.States = append(p.States, dynamo.State{1})
	}
	for k := 0; k < 10; k++ {
		p.Controls = append(p.Controls, dynamo.Control{1})
	}
	g.Expect(solver.SetInitialGuess(p)).To(Succeed())

	_, err = solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	defects := solver.Defects()
	g.Expect(defects).To(HaveLen(11))
	for k := 0; k < 10; k++ {
		g.Expect(defects[k][0]).To(BeNumerically("~", 0.1, 1e-12))
	}
	g.Expect(defects[10][0]).To(Equal(0.0))
	g.Expect(solver.Diagnostics().DefectNorm).To(BeNumerically("~", 1.0, 1e-12))

	_, err = solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	for k, d := range solver.Defects() {
		g.Expect(d[0]).To(BeNumerically("~", 0, 1e-12), "stage %d", k)
	}
	g.Expect(solver.Defects()[10][0]).To(Equal(0.0))
}

func TestDivergentRolloutKeepsTrajectory(t *testing.T) {
	g := NewWithT(t)
	solver := newInitializedSolver(t, scalarProblem(), scalarSettings())
	_, err := solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	before := solver.Solution()

	g.Expect(solver.ChangeNonlinearSystem(&fragile{limit: 0.5})).To(Succeed())
	ok, err := solver.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeFalse())

	after := solver.Solution()
	g.Expect(after.States).To(Equal(before.States))
	g.Expect(after.Controls).To(Equal(before.Controls))
}

func TestRecoversAfterFailedBackwardPass(t *testing.T) {
	g := NewWithT(t)
	broken := new(atomic.Bool)
	p := scalarProblem()
	p.Cost = &spoiled{CostFunction: p.Cost, on: broken}
	solver := newInitializedSolver(t, p, scalarSettings())

	// the first step moves every node, leaving a pending shot update
	_, err := solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	start := solver.Diagnostics().TotalCost

	broken.Store(true)
	_, err = solver.RunIteration(t.Context())
	g.Expect(err).To(MatchError(dynamo.ErrNumerical))
	before := solver.Solution()

	broken.Store(false)
	s := solver.Settings()
	s.Epsilon = 1e-3
	g.Expect(solver.Configure(s)).To(Succeed())

	_, err = solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	// x' = u is linear and the nodes have not moved, so every shot lands
	// on the next node
	for k, d := range solver.Defects() {
		g.Expect(d[0]).To(BeNumerically("~", 0, 1e-9), "stage %d", k)
	}
	d := solver.Diagnostics()
	g.Expect(d.DefectNorm).To(BeNumerically("<", 1e-9))
	optimum := scalarRiccatiCost(1, 0.1, 10)
	g.Expect(d.TotalCost).To(BeNumerically("<", start))
	g.Expect(d.TotalCost).To(BeNumerically("~", optimum, 1e-9))

	after := solver.Solution()
	for k := range before.States {
		g.Expect(after.States[k][0]).To(BeNumerically("~", before.States[k][0], 1e-9), "stage %d", k)
	}

	ok, err := solver.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(solver.Cost()).To(BeNumerically("~", optimum, 1e-9))
	g.Expect(solver.Diagnostics().DefectNorm).To(BeNumerically("<", 1e-9))
}

func TestChangeNonlinearSystemChecksDimensions(t *testing.T) {
	g := NewWithT(t)
	solver := newInitializedSolver(t, scalarProblem(), scalarSettings())
	g.Expect(solver.ChangeNonlinearSystem(physics.NewPendulum())).To(MatchError(dynamo.ErrConfiguration))
	g.Expect(solver.ChangeNonlinearSystem(nil)).To(MatchError(dynamo.ErrConfiguration))
}

func TestRollout(t *testing.T) {
	g := NewWithT(t)
	solver, err := New(scalarProblem(), scalarSettings())
	g.Expect(err).NotTo(HaveOccurred())

	controls := make([]dynamo.Control, 10)
	for k := range controls {
		controls[k] = dynamo.Control{1}
	}
	tr, ok, err := solver.Rollout(t.Context(), RolloutRequest{X0: dynamo.State{0}, Feedforward: controls})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(tr.States).To(HaveLen(11))
	g.Expect(tr.Times).To(HaveLen(11))
	for k := range tr.States {
		g.Expect(tr.States[k][0]).To(BeNumerically("~", 0.1*float64(k), 1e-12))
		g.Expect(tr.Times[k]).To(BeNumerically("~", 0.1*float64(k), 1e-12))
	}

	// feedback towards a zero reference cancels the feedforward
	gains := make([]*mat.Dense, 10)
	ref := make([]dynamo.State, 11)
	for k := range gains {
		gains[k] = mat.NewDense(1, 1, []float64{-10})
	}
	for k := range ref {
		ref[k] = dynamo.State{0}
	}
	tr, ok, err = solver.Rollout(t.Context(), RolloutRequest{X0: dynamo.State{0.1}, Feedforward: zeroControls(10, 1), Gains: gains, Reference: ref})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(tr.States[1][0]).To(BeNumerically("~", 0, 1e-12))
	g.Expect(tr.Controls[0][0]).To(BeNumerically("~", -1, 1e-12))

	controls[3] = dynamo.Control{math.NaN()}
	_, ok, err = solver.Rollout(t.Context(), RolloutRequest{X0: dynamo.State{0}, Feedforward: controls})
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeFalse())

	_, _, err = solver.Rollout(t.Context(), RolloutRequest{X0: dynamo.State{0}, Feedforward: controls[:4]})
	g.Expect(err).To(MatchError(dynamo.ErrConfiguration))

	_, _, err = solver.Rollout(t.Context(), RolloutRequest{X0: dynamo.State{0}, Feedforward: zeroControls(10, 1), Gains: gains})
	g.Expect(err).To(MatchError(dynamo.ErrConfiguration))
}

func TestThreadCountsAgree(t *testing.T) {
	g := NewWithT(t)
	solve := func(threads int) Policy {
		s := scalarSettings()
		s.Integrator = integrators.KindRK4
		s.DtSim = 0.05
		s.Threads = threads
		s.MaxIterations = 5
		solver := newInitializedSolver(t, pendulumProblem(), s)
		ok, err := solver.Solve(t.Context())
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(ok).To(BeTrue())
		return solver.Solution()
	}

	serial, parallel := solve(1), solve(4)
	g.Expect(parallel.States).To(Equal(serial.States))
	g.Expect(parallel.Controls).To(Equal(serial.Controls))
	for k := range serial.Gains {
		g.Expect(mat.Equal(parallel.Gains[k], serial.Gains[k])).To(BeTrue(), "stage %d", k)
	}
}

func TestPendulumCostDecreases(t *testing.T) {
	g := NewWithT(t)
	s := scalarSettings()
	s.Integrator = integrators.KindRK4
	s.Epsilon = 1e-6
	s.MaxIterations = 20
	s.Tolerance = 1e-8

	var costs []float64
	solver := newInitializedSolver(t, pendulumProblem(), s, WithObserver(ObserverFunc(func(d Diagnostics) {
		costs = append(costs, d.TotalCost)
	})))
	ok, err := solver.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())

	g.Expect(costs).To(HaveLen(solver.Iteration()))
	g.Expect(len(costs)).To(BeNumerically(">=", 2))
	g.Expect(solver.Cost()).To(BeNumerically("<", costs[0]))
	g.Expect(solver.Diagnostics().DefectNorm).To(BeNumerically("<", 1e-3))
}

func TestHorizonChangeResizes(t *testing.T) {
	g := NewWithT(t)
	solver := newInitializedSolver(t, scalarProblem(), scalarSettings())

	g.Expect(solver.ChangeTimeHorizon(2.0)).To(Succeed())
	g.Expect(solver.K()).To(Equal(20))
	g.Expect(solver.Initialized()).To(BeFalse())

	sol := solver.Solution()
	g.Expect(sol.States).To(HaveLen(21))
	g.Expect(sol.Controls).To(HaveLen(20))
	g.Expect(sol.Gains).To(HaveLen(20))
	g.Expect(sol.States[0]).To(Equal(dynamo.State{1}))
	A, B := solver.LinearizedModel()
	g.Expect(A).To(HaveLen(20))
	g.Expect(B).To(HaveLen(20))
	g.Expect(solver.Defects()).To(HaveLen(21))
	g.Expect(solver.RegularizedHessians()).To(HaveLen(20))

	_, err := solver.RunIteration(t.Context())
	g.Expect(err).To(MatchError(dynamo.ErrNotInitialized))

	ok, err := solver.InitializeWithRollout(t.Context(), zeroControls(20, 1))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	_, err = solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
}

func TestConfigure(t *testing.T) {
	g := NewWithT(t)
	solver := newInitializedSolver(t, scalarProblem(), scalarSettings())
	_, err := solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())

	s := solver.Settings()
	s.Threads++
	g.Expect(solver.Configure(s)).To(MatchError(dynamo.ErrConfiguration))

	s = solver.Settings()
	s.Dt = -1
	g.Expect(solver.Configure(s)).To(MatchError(dynamo.ErrConfiguration))
	g.Expect(solver.Settings().Dt).To(Equal(0.1))

	s = solver.Settings()
	s.Epsilon = 1e-4
	g.Expect(solver.Configure(s)).To(Succeed())
	g.Expect(solver.Initialized()).To(BeTrue())
	g.Expect(solver.Iteration()).To(Equal(0))
	g.Expect(math.IsInf(solver.Cost(), 1)).To(BeTrue())

	s = solver.Settings()
	s.Dt, s.DtSim = 0.05, 0.05
	g.Expect(solver.Configure(s)).To(Succeed())
	g.Expect(solver.K()).To(Equal(20))
	g.Expect(solver.Initialized()).To(BeFalse())
}

func TestCancelledSolve(t *testing.T) {
	g := NewWithT(t)
	solver := newInitializedSolver(t, scalarProblem(), scalarSettings())

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	ok, err := solver.Solve(ctx)
	g.Expect(ok).To(BeFalse())
	g.Expect(err).To(MatchError(context.Canceled))

	g.Expect(solver.ChangeInitialState(dynamo.State{2})).To(Succeed())
	_, err = solver.Solve(ctx)
	g.Expect(err).To(MatchError(context.Canceled))
}

// workerProbe records the math backend's worker count seen from inside the
// linearization phase.
type workerProbe struct {
	dynamo.LinearSystem
	backend compute.Backend
	seen    *atomic.Int64
}

func (p *workerProbe) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	p.seen.Store(int64(p.backend.Workers()))
	return p.LinearSystem.Jacobians(x, u, t)
}

func (p *workerProbe) Clone() dynamo.LinearSystem {
	return &workerProbe{LinearSystem: p.LinearSystem.Clone(), backend: p.backend, seen: p.seen}
}

func TestMathThreadsThrottledDuringStageWork(t *testing.T) {
	g := NewWithT(t)
	backend := compute.NewCPUBackendWorkers(5)
	seen := new(atomic.Int64)

	p := scalarProblem()
	p.Linear = &workerProbe{LinearSystem: linearize.For(p.System), backend: backend, seen: seen}
	solver := newInitializedSolver(t, p, scalarSettings(), WithBackend(backend))

	ok, err := solver.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(seen.Load()).To(Equal(int64(1)))
	g.Expect(backend.Workers()).To(Equal(5))

	s := solver.Settings()
	s.Discretization = "zoh"
	g.Expect(solver.Configure(s)).To(Succeed())
	_, err = solver.Solve(t.Context())
	g.Expect(err).To(HaveOccurred())
	g.Expect(backend.Workers()).To(Equal(5))
}

func TestMathThreadsStayWithSolver(t *testing.T) {
	g := NewWithT(t)
	shared := compute.GetBackend().Workers()

	s := scalarSettings()
	s.MathThreads = 3
	a := newInitializedSolver(t, scalarProblem(), s)
	b := newInitializedSolver(t, scalarProblem(), scalarSettings())
	g.Expect(a.backend.Workers()).To(Equal(3))
	g.Expect(b.backend.Workers()).To(Equal(shared))

	s.MathThreads = 2
	g.Expect(a.Configure(s)).To(Succeed())
	_, err := a.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	_, err = b.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())

	g.Expect(a.backend.Workers()).To(Equal(2))
	g.Expect(b.backend.Workers()).To(Equal(shared))
	g.Expect(compute.GetBackend().Workers()).To(Equal(shared))
}

func TestRejectedStepLeavesTrajectory(t *testing.T) {
	g := NewWithT(t)
	reject := func(context.Context, Diagnostics) (float64, bool) { return 1, false }
	solver := newInitializedSolver(t, scalarProblem(), scalarSettings(), WithLineSearch(reject))
	before := solver.Solution()

	ok, err := solver.Solve(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(ok).To(BeTrue())
	g.Expect(solver.Iteration()).To(Equal(1))
	g.Expect(solver.Solution().States).To(Equal(before.States))
	g.Expect(solver.Solution().Controls).To(Equal(before.Controls))
}

func TestEigenvalueRecording(t *testing.T) {
	g := NewWithT(t)
	s := scalarSettings()
	s.Regularization = EigenClipping
	s.Epsilon = 1e-6

	solver := newInitializedSolver(t, scalarProblem(), s)
	_, err := solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(math.IsInf(solver.Diagnostics().SmallestEigenvalue, 1)).To(BeTrue())

	s.RecordEigenvalues = true
	g.Expect(solver.Configure(s)).To(Succeed())
	_, err = solver.RunIteration(t.Context())
	g.Expect(err).NotTo(HaveOccurred())
	d := solver.Diagnostics()
	g.Expect(d.SmallestEigenvalue).To(BeNumerically(">", 0))
	g.Expect(d.SmallestEigenvalue).To(BeNumerically("<", 1))
	g.Expect(d.SmallestEigenvalueIteration).To(BeNumerically(">=", d.SmallestEigenvalue))
}
