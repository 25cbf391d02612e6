package gnms

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/san-kum/trajopt/internal/compute"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/linearize"
	"gonum.org/v1/gonum/mat"
)

// Problem is an optimal control problem over a fixed time horizon.
type Problem struct {
	X0      dynamo.State
	Horizon float64
	System  dynamo.System
	// Linear defaults to the model's own Jacobians when it has them and to
	// finite differences otherwise.
	Linear dynamo.LinearSystem
	Cost   dynamo.CostFunction
}

// Solver is a Gauss-Newton multiple shooting optimizer. A Solver is not
// safe for concurrent use; it parallelizes internally.
type Solver struct {
	settings   Settings
	logger     log.Logger
	observer   Observer
	lineSearch LineSearch
	backend    compute.Backend
	injected   bool

	pool    *dynamo.Pool
	workers []*workerContext

	horizon    float64
	autoLinear bool

	st             *stages
	initialized    bool
	needsRollout   bool
	integrateShots bool

	iteration          int
	lowestCost         float64
	best               Trajectory
	smallestEigenvalue float64
	last               Diagnostics
}

type Option func(*Solver)

func WithLogger(l log.Logger) Option {
	return func(s *Solver) { s.logger = l }
}

func WithObserver(o Observer) Option {
	return func(s *Solver) { s.observer = o }
}

func WithLineSearch(ls LineSearch) Option {
	return func(s *Solver) { s.lineSearch = ls }
}

// WithBackend sets the math backend used for the matrix-vector products of
// the forward step and the shot updates. The solver applies MathThreads to
// it, so it should not be shared with other solvers.
func WithBackend(b compute.Backend) Option {
	return func(s *Solver) {
		s.backend = b
		s.injected = b != nil
	}
}

// New validates the problem and settings and allocates the horizon. The
// solver still needs an initial guess: see SetInitialGuess and
// InitializeWithRollout.
func New(p Problem, settings Settings, opts ...Option) (*Solver, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	if p.System == nil {
		return nil, dynamo.Configf("system is nil")
	}
	if p.Cost == nil {
		return nil, dynamo.Configf("cost function is nil")
	}
	n, m := p.System.StateDim(), p.System.ControlDim()
	if n < 1 || m < 1 {
		return nil, dynamo.Configf("system must have states and controls, got %d and %d", n, m)
	}
	if len(p.X0) != n {
		return nil, dynamo.Shapef("initial state has %d entries, system has %d", len(p.X0), n)
	}
	K, err := settings.Stages(p.Horizon)
	if err != nil {
		return nil, err
	}

	s := &Solver{
		settings:           settings,
		logger:             log.NewNopLogger(),
		lineSearch:         AcceptAll,
		horizon:            p.Horizon,
		st:                 &stages{},
		lowestCost:         math.Inf(1),
		smallestEigenvalue: math.Inf(1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.useBackend(settings.MathThreads)
	s.workers = newWorkerContexts(settings.Threads + 1)

	lin := p.Linear
	if lin == nil {
		lin = linearize.For(p.System)
		s.autoLinear = true
	}
	s.cloneSystem(p.System)
	s.cloneLinear(lin)
	s.cloneCost(p.Cost)

	s.st.resize(K, n, m, settings.Dt)
	copy(s.st.x[0], p.X0)
	s.reset()

	level.Debug(s.logger).Log("msg", "solver created", "stages", K, "threads", settings.Threads, "discretization", settings.Discretization)
	return s, nil
}

// useBackend installs the math backend for threads workers, zero meaning
// the process default, and rebuilds the pool that throttles it. Unless one
// was injected the backend is private to this solver, so neither MathThreads
// nor the pool's throttling reaches the package-wide backend.
func (s *Solver) useBackend(threads int) {
	switch {
	case s.injected:
		if threads > 0 {
			s.backend.SetWorkers(threads)
		}
	case threads > 0:
		s.backend = compute.NewCPUBackendWorkers(threads)
	default:
		s.backend = compute.NewCPUBackendWorkers(compute.GetBackend().Workers())
	}
	s.pool = dynamo.NewPool(s.settings.Threads, s.backend)
}

// reset forces the next iteration to start from a fresh rollout.
func (s *Solver) reset() {
	s.needsRollout = true
	s.integrateShots = true
	s.clearHistory()
}

func (s *Solver) clearHistory() {
	s.iteration = 0
	s.lowestCost = math.Inf(1)
	s.best = Trajectory{}
	s.smallestEigenvalue = math.Inf(1)
	s.last = Diagnostics{}
}

func (s *Solver) Settings() Settings { return s.settings }

// K is the number of control stages.
func (s *Solver) K() int { return s.st.K }

func (s *Solver) Initialized() bool { return s.initialized }

func (s *Solver) Iteration() int { return s.iteration }

// Configure replaces the settings. The thread count is fixed at
// construction. Changing dt, dt_sim or the integrator forces a rollout.
func (s *Solver) Configure(settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	if settings.Threads != s.settings.Threads {
		return dynamo.Configf("thread count cannot change from %d to %d", s.settings.Threads, settings.Threads)
	}
	K, err := settings.Stages(s.horizon)
	if err != nil {
		return err
	}

	old := s.settings
	s.settings = settings
	if settings.MathThreads != old.MathThreads {
		s.useBackend(settings.MathThreads)
	}

	switch {
	case K != s.st.K:
		s.resizeHorizon(K)
	case settings.Dt != old.Dt || settings.DtSim != old.DtSim || settings.Integrator != old.Integrator:
		for k := range s.st.t {
			s.st.t[k] = float64(k) * settings.Dt
		}
		s.reset()
	default:
		s.clearHistory()
	}
	return nil
}

// ChangeTimeHorizon resizes every stage array for the horizon tf. The
// stored trajectory is discarded and must be reseeded.
func (s *Solver) ChangeTimeHorizon(tf float64) error {
	K, err := s.settings.Stages(tf)
	if err != nil {
		return err
	}
	s.horizon = tf
	s.resizeHorizon(K)
	return nil
}

func (s *Solver) resizeHorizon(K int) {
	x0 := s.st.x[0].Clone()
	s.st.resize(K, s.st.n, s.st.m, s.settings.Dt)
	copy(s.st.x[0], x0)
	s.initialized = false
	s.reset()
}

func (s *Solver) ChangeInitialState(x0 dynamo.State) error {
	if len(x0) != s.st.n {
		return dynamo.Shapef("initial state has %d entries, want %d", len(x0), s.st.n)
	}
	copy(s.st.x[0], x0)
	s.reset()
	return nil
}

func (s *Solver) ChangeCostFunction(cf dynamo.CostFunction) error {
	if cf == nil {
		return dynamo.Configf("cost function is nil")
	}
	s.cloneCost(cf)
	s.reset()
	return nil
}

// ChangeNonlinearSystem swaps the dynamics. The new system must keep the
// state and control dimensions.
func (s *Solver) ChangeNonlinearSystem(sys dynamo.System) error {
	if sys == nil {
		return dynamo.Configf("system is nil")
	}
	if sys.StateDim() != s.st.n || sys.ControlDim() != s.st.m {
		return dynamo.Configf("system dimensions %dx%d differ from %dx%d", sys.StateDim(), sys.ControlDim(), s.st.n, s.st.m)
	}
	s.cloneSystem(sys)
	if s.autoLinear {
		s.cloneLinear(linearize.For(sys))
	}
	s.reset()
	return nil
}

// ChangeLinearSystem swaps the Jacobian provider. Linearizations are
// recomputed every iteration, so no reset is needed.
func (s *Solver) ChangeLinearSystem(lin dynamo.LinearSystem) error {
	if lin == nil {
		return dynamo.Configf("linear system is nil")
	}
	s.cloneLinear(lin)
	s.autoLinear = false
	return nil
}

// SetInitialGuess installs a policy as the starting iterate. Its states are
// used as shooting nodes as given, so the guess need not be dynamically
// consistent. Longer guesses are truncated to the horizon.
func (s *Solver) SetInitialGuess(p Policy) error {
	st := s.st
	nu, nx := len(p.Controls), len(p.States)
	if nu != nx-1 {
		return dynamo.Shapef("guess has %d controls for %d states, want one fewer control than states", nu, nx)
	}
	if nu < st.K {
		return dynamo.Shapef("guess has %d controls, horizon needs %d", nu, st.K)
	}
	if p.Gains != nil && len(p.Gains) < st.K {
		return dynamo.Shapef("guess has %d feedback gains, horizon needs %d", len(p.Gains), st.K)
	}
	if nu > st.K {
		level.Warn(s.logger).Log("msg", "initial guess too long, truncating", "controls", nu, "stages", st.K)
	}

	for k := 0; k <= st.K; k++ {
		if len(p.States[k]) != st.n {
			return dynamo.Shapef("guess state %d has %d entries, want %d", k, len(p.States[k]), st.n)
		}
	}
	for k := 0; k < st.K; k++ {
		if len(p.Controls[k]) != st.m {
			return dynamo.Shapef("guess control %d has %d entries, want %d", k, len(p.Controls[k]), st.m)
		}
		if p.Gains != nil {
			if r, c := p.Gains[k].Dims(); r != st.m || c != st.n {
				return dynamo.Shapef("guess gain %d is %dx%d, want %dx%d", k, r, c, st.m, st.n)
			}
		}
	}

	for k := 0; k <= st.K; k++ {
		copy(st.x[k], p.States[k])
	}
	for k := 0; k < st.K; k++ {
		copy(st.uff[k], p.Controls[k])
		if p.Gains != nil {
			st.L[k].Copy(p.Gains[k])
		} else {
			st.L[k].Zero()
		}
	}

	s.initialized = true
	s.needsRollout = false
	s.integrateShots = true
	s.clearHistory()
	return nil
}

// InitializeWithRollout seeds the feedforward controls, clears the gains and
// simulates the system from the initial state. It reports false when the
// rollout diverges; the solver then stays uninitialized.
func (s *Solver) InitializeWithRollout(ctx context.Context, controls []dynamo.Control) (bool, error) {
	st := s.st
	if len(controls) < st.K {
		return false, dynamo.Shapef("got %d controls, horizon needs %d", len(controls), st.K)
	}
	if len(controls) > st.K {
		level.Warn(s.logger).Log("msg", "initial controls too long, truncating", "controls", len(controls), "stages", st.K)
	}

	tr, ok, err := s.rollout(ctx, s.main(), RolloutRequest{X0: st.x[0], Feedforward: controls[:st.K]})
	if err != nil || !ok {
		return false, err
	}

	st.commit(tr)
	for k := range st.L {
		st.L[k].Zero()
	}
	s.initialized = true
	s.needsRollout = false
	s.integrateShots = true
	s.clearHistory()
	return true, nil
}

func (s *Solver) checkProblem() error {
	if s.st.K == 0 {
		return dynamo.Configf("time horizon yields zero stages")
	}
	if !s.initialized {
		return dynamo.ErrNotInitialized
	}
	return nil
}

// Solve iterates until no further improvement is found or the iteration
// budget is spent. Configuration and input errors are returned. Numerical
// failures inside an iteration are logged and reported as false with a nil
// error; the last good iterate stays available. A cancelled context returns
// its error.
func (s *Solver) Solve(ctx context.Context) (bool, error) {
	if err := s.checkProblem(); err != nil {
		return false, err
	}

	for i := 0; i < s.settings.MaxIterations; i++ {
		improved, err := s.RunIteration(ctx)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return false, ctxErr
			}
			if isFatal(err) {
				return false, err
			}
			level.Warn(s.logger).Log("msg", "solve did not succeed", "iteration", s.iteration, "err", err)
			return false, nil
		}
		if !improved {
			break
		}
	}
	return true, nil
}

func isFatal(err error) bool {
	return errors.Is(err, dynamo.ErrConfiguration) ||
		errors.Is(err, dynamo.ErrInputShape) ||
		errors.Is(err, dynamo.ErrNotInitialized)
}

// RunIteration performs one Gauss-Newton multiple shooting iteration and
// reports whether it found an improvement. Unlike Solve it returns
// numerical failures as errors wrapping dynamo.ErrNumerical or
// dynamo.ErrUnstable.
func (s *Solver) RunIteration(ctx context.Context) (improved bool, err error) {
	if err := s.checkProblem(); err != nil {
		return false, err
	}
	defer func() {
		if r := recover(); r != nil {
			improved = false
			err = fmt.Errorf("%w: %v", dynamo.ErrNumerical, r)
		}
		if err != nil {
			// shots may already carry this iteration's linear update while
			// lx and du still hold the last step, so integrate them afresh
			s.integrateShots = true
		}
	}()

	st := s.st
	start := time.Now()
	diag := Diagnostics{
		Iteration:                   s.iteration,
		SmallestEigenvalueIteration: math.Inf(1),
	}

	if s.needsRollout {
		tr, ok, err := s.rolloutPolicy(ctx)
		if err != nil {
			return false, err
		}
		if !ok {
			if ctx.Err() != nil {
				return false, ctx.Err()
			}
			return false, fmt.Errorf("rollout: %w", dynamo.ErrUnstable)
		}
		st.commit(tr)
		s.needsRollout = false
		s.integrateShots = true
		diag.Rollout = true
	}
	diag.RolloutTime = time.Since(start)

	phase := time.Now()
	if err := s.pool.ForEach(ctx, st.K, func(w, k int) error {
		return s.linearizeStage(s.workers[w], k)
	}); err != nil {
		return false, err
	}
	if err := s.pool.ForEach(ctx, st.K, func(w, k int) error {
		return s.approximateStage(s.workers[w], k)
	}); err != nil {
		return false, err
	}
	if err := s.initializeCostToGo(s.main()); err != nil {
		return false, err
	}
	diag.LinearizeTime = time.Since(phase)

	for k := 0; k < st.K; k++ {
		diag.IntermediateCost += st.q[k]
	}
	diag.TerminalCost = st.q[st.K]
	diag.TotalCost = diag.IntermediateCost + diag.TerminalCost
	if diag.TotalCost < s.lowestCost {
		s.lowestCost = diag.TotalCost
		s.best = st.trajectory()
	}

	phase = time.Now()
	if err := s.pool.ForEach(ctx, st.K+1, func(w, k int) error {
		return s.updateShot(s.workers[w], k)
	}); err != nil {
		return false, err
	}
	s.integrateShots = false
	for _, d := range st.d {
		diag.DefectNorm += norm2(d)
	}
	diag.ShotTime = time.Since(phase)

	phase = time.Now()
	if err := s.backwardPass(&diag); err != nil {
		return false, err
	}
	diag.BackwardTime = time.Since(phase)

	phase = time.Now()
	s.forwardStep(&diag)
	alpha, improved := s.lineSearch(ctx, diag)
	if improved {
		s.applyStep(alpha)
	} else {
		// keep the shots consistent with the unchanged trajectory
		for k := range st.du {
			st.du[k].Zero()
			st.lx[k].Zero()
		}
		st.lx[st.K].Zero()
	}
	diag.ForwardTime = time.Since(phase)

	if s.settings.Tolerance > 0 &&
		diag.ControlUpdateNorm < s.settings.Tolerance &&
		diag.DefectNorm < s.settings.Tolerance {
		improved = false
	}

	diag.SmallestEigenvalue = s.smallestEigenvalue
	diag.Improved = improved
	diag.Total = time.Since(start)
	s.last = diag
	s.iteration++

	level.Debug(s.logger).Log(
		"msg", "iteration",
		"iteration", diag.Iteration,
		"cost", diag.TotalCost,
		"defect_norm", diag.DefectNorm,
		"dx_norm", diag.StateUpdateNorm,
		"du_norm", diag.ControlUpdateNorm,
		"took", diag.Total,
	)
	if s.observer != nil {
		s.observer.OnIteration(diag)
	}
	return improved, nil
}

// Solution returns the current iterate and its feedback gains.
func (s *Solver) Solution() Policy {
	return s.st.policy()
}

// ControlTrajectory returns the feedforward controls of the current iterate
// stamped with their stage start times.
func (s *Solver) ControlTrajectory() ControlTrajectory {
	tr := s.st.trajectory()
	return ControlTrajectory{Times: tr.Times[:len(tr.Times)-1], Controls: tr.Controls}
}

// Cost is the lowest total cost seen since the last reset, or +Inf before
// the first iteration.
func (s *Solver) Cost() float64 {
	return s.lowestCost
}

// BestTrajectory is the iterate that achieved Cost.
func (s *Solver) BestTrajectory() Trajectory {
	return s.best.Clone()
}

// Diagnostics returns the record of the last completed iteration.
func (s *Solver) Diagnostics() Diagnostics {
	return s.last
}

// LinearizedModel returns copies of the stage matrices of the last
// linearization.
func (s *Solver) LinearizedModel() (A, B []*mat.Dense) {
	A = make([]*mat.Dense, len(s.st.A))
	B = make([]*mat.Dense, len(s.st.B))
	for k := range A {
		A[k] = mat.DenseCopyOf(s.st.A[k])
		B[k] = mat.DenseCopyOf(s.st.B[k])
	}
	return A, B
}

// CostToGo returns copies of S_k and sv_k from the last backward pass.
func (s *Solver) CostToGo(k int) (*mat.Dense, *mat.VecDense) {
	return mat.DenseCopyOf(s.st.S[k]), mat.VecDenseCopyOf(s.st.sv[k])
}

// Defects returns the shooting defects of the last iteration, one per state
// stage.
func (s *Solver) Defects() []dynamo.State {
	out := make([]dynamo.State, len(s.st.d))
	for k, d := range s.st.d {
		out[k] = append(dynamo.State(nil), d.RawVector().Data...)
	}
	return out
}

// RegularizedHessians returns copies of Hi_k from the last backward pass.
func (s *Solver) RegularizedHessians() []*mat.Dense {
	out := make([]*mat.Dense, len(s.st.Hi))
	for k, h := range s.st.Hi {
		out[k] = mat.DenseCopyOf(h)
	}
	return out
}
