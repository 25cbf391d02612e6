// Package experiment wires a problem description into a solver, runs it and
// verifies the resulting policy in closed loop.
package experiment

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"math"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/san-kum/trajopt/internal/analysis"
	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/control"
	"github.com/san-kum/trajopt/internal/cost"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/gnms"
	"github.com/san-kum/trajopt/internal/sim"
)

// lyapunovOffset is the initial separation of the perturbed copy used to
// estimate the closed-loop Lyapunov exponent.
const lyapunovOffset = 1e-6

// Experiment owns one configured problem and its solver.
type Experiment struct {
	cfg      *config.Config
	registry *Registry
	logger   log.Logger

	sys       dynamo.System
	cost      dynamo.CostFunction
	x0        dynamo.State
	solver    *gnms.Solver
	observers []gnms.Observer
	history   []gnms.Diagnostics
}

type Option func(*Experiment)

func WithLogger(l log.Logger) Option {
	return func(e *Experiment) { e.logger = l }
}

// WithObserver adds an observer; every observer sees every iteration.
func WithObserver(o gnms.Observer) Option {
	return func(e *Experiment) { e.observers = append(e.observers, o) }
}

// Report summarizes a solve.
type Report struct {
	Problem    string             `json:"problem"`
	Model      string             `json:"model"`
	Stages     int                `json:"stages"`
	Succeeded  bool               `json:"succeeded"`
	Iterations int                `json:"iterations"`
	Cost       float64            `json:"cost"`
	DefectNorm float64            `json:"defect_norm"`
	Elapsed    time.Duration      `json:"elapsed_ns"`
	History    []gnms.Diagnostics `json:"history"`
	Solution   gnms.Policy        `json:"-"`
	Settings   gnms.Settings      `json:"settings"`
	Metrics    map[string]float64 `json:"metrics,omitempty"`
}

// Metric returns a named scalar of the report, used by sweeps.
func (r *Report) Metric(name string) (float64, error) {
	switch name {
	case "cost":
		return r.Cost, nil
	case "iterations":
		return float64(r.Iterations), nil
	case "defect":
		return r.DefectNorm, nil
	case "time":
		return r.Elapsed.Seconds(), nil
	}
	if v, ok := r.Metrics[name]; ok {
		return v, nil
	}
	return 0, fmt.Errorf("unknown metric %q", name)
}

// New builds the model, the cost and the solver for cfg.
func New(cfg *config.Config, reg *Registry, opts ...Option) (*Experiment, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Experiment{cfg: cfg, registry: reg, logger: log.NewNopLogger()}
	for _, opt := range opts {
		opt(e)
	}

	sys, err := reg.Model(cfg.Model, cfg.Params)
	if err != nil {
		return nil, err
	}
	e.sys = sys
	n, m := sys.StateDim(), sys.ControlDim()

	e.x0 = make(dynamo.State, n)
	if len(cfg.InitState) != 0 {
		if len(cfg.InitState) != n {
			return nil, dynamo.Configf("init_state has %d entries, %s has %d states", len(cfg.InitState), cfg.Model, n)
		}
		copy(e.x0, cfg.InitState)
	}

	if e.cost, err = buildCost(cfg.Cost, cfg.TerminalWeights(), n, m); err != nil {
		return nil, err
	}

	e.solver, err = gnms.New(gnms.Problem{
		X0:      e.x0,
		Horizon: cfg.Horizon,
		System:  sys,
		Cost:    e.cost,
	}, cfg.Solver,
		gnms.WithLogger(log.With(e.logger, "problem", e.Name())),
		gnms.WithObserver(gnms.ObserverFunc(e.onIteration)),
	)
	if err != nil {
		return nil, err
	}
	return e, nil
}

func buildCost(c config.CostConfig, qf []float64, n, m int) (dynamo.CostFunction, error) {
	check := func(name string, v []float64, want int, optional bool) error {
		if optional && len(v) == 0 {
			return nil
		}
		if len(v) != want {
			return dynamo.Configf("cost %s has %d entries, want %d", name, len(v), want)
		}
		return nil
	}
	if err := errors.Join(
		check("q", c.Q, n, false),
		check("r", c.R, m, false),
		check("qf", qf, n, false),
		check("target", c.Target, n, true),
		check("control_target", c.ControlTarget, m, true),
		check("final", c.Final, n, true),
	); err != nil {
		return nil, err
	}
	return cost.NewDiagonal(c.Q, c.R, qf, c.Target, c.ControlTarget, c.Final), nil
}

// Name is the problem name, or the model name when the config has none.
func (e *Experiment) Name() string {
	if e.cfg.Name != "" {
		return e.cfg.Name
	}
	return e.cfg.Model
}

func (e *Experiment) onIteration(d gnms.Diagnostics) {
	e.history = append(e.history, d)
	for _, o := range e.observers {
		o.OnIteration(d)
	}
}

func (e *Experiment) Config() *config.Config { return e.cfg }

func (e *Experiment) System() dynamo.System { return e.sys }

func (e *Experiment) Solver() *gnms.Solver { return e.solver }

func (e *Experiment) InitialState() dynamo.State { return e.x0.Clone() }

// History returns the diagnostics of every iteration since the last
// initialization.
func (e *Experiment) History() []gnms.Diagnostics {
	return append([]gnms.Diagnostics(nil), e.history...)
}

// Initialize seeds the solver with a rollout of the constant initial
// controls.
func (e *Experiment) Initialize(ctx context.Context) error {
	K, m := e.solver.K(), e.sys.ControlDim()
	u := make(dynamo.Control, m)
	if len(e.cfg.InitControls) != 0 {
		if len(e.cfg.InitControls) != m {
			return dynamo.Configf("init_controls has %d entries, %s has %d inputs", len(e.cfg.InitControls), e.cfg.Model, m)
		}
		copy(u, e.cfg.InitControls)
	}
	controls := make([]dynamo.Control, K)
	for k := range controls {
		controls[k] = u.Clone()
	}

	ok, err := e.solver.InitializeWithRollout(ctx, controls)
	if err != nil {
		return err
	}
	if !ok {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("initial rollout of %s: %w", e.Name(), dynamo.ErrUnstable)
	}
	e.history = e.history[:0]
	return nil
}

// WarmStart seeds the solver with a previous solution, typically of a
// neighbouring problem. When the guess starts elsewhere than this problem's
// initial state the guess policy is rolled out from it first.
func (e *Experiment) WarmStart(p gnms.Policy) error {
	if err := e.solver.SetInitialGuess(p); err != nil {
		return err
	}
	e.history = e.history[:0]
	if len(p.States) > 0 && p.States[0].Sub(e.x0).Norm() > 0 {
		return e.solver.ChangeInitialState(e.x0)
	}
	return nil
}

// Solve initializes the solver when needed and runs it to completion.
func (e *Experiment) Solve(ctx context.Context) (*Report, error) {
	if !e.solver.Initialized() {
		if err := e.Initialize(ctx); err != nil {
			return nil, err
		}
	}

	start := time.Now()
	ok, err := e.solver.Solve(ctx)
	if err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	r := e.Report()
	r.Succeeded = ok
	r.Elapsed = elapsed
	level.Info(e.logger).Log(
		"msg", "solve finished",
		"problem", r.Problem,
		"succeeded", ok,
		"iterations", r.Iterations,
		"cost", r.Cost,
		"took", elapsed,
	)
	return r, nil
}

// Report snapshots the current solver state without running anything.
func (e *Experiment) Report() *Report {
	d := e.solver.Diagnostics()
	r := &Report{
		Problem:    e.Name(),
		Model:      e.cfg.Model,
		Stages:     e.solver.K(),
		Iterations: e.solver.Iteration(),
		Cost:       e.solver.Cost(),
		DefectNorm: d.DefectNorm,
		History:    e.History(),
		Solution:   e.solver.Solution(),
		Settings:   e.solver.Settings(),
	}
	if e.solver.Iteration() > 0 {
		A, B := e.solver.LinearizedModel()
		rate, err := analysis.ContractionRate(A, B, r.Solution.Gains, r.Settings.Dt)
		if err != nil {
			level.Warn(e.logger).Log("msg", "contraction rate unavailable", "err", err)
		} else {
			r.Metrics = map[string]float64{"contraction_rate": rate}
		}
	}
	return r
}

// Verification is the closed-loop check of a solved policy.
type Verification struct {
	Nominal *dynamo.Result   `json:"-"`
	Runs    []*dynamo.Result `json:"-"`

	// FinalError is the distance of the nominal closed-loop end state from
	// the optimized end state.
	FinalError float64            `json:"final_error"`
	Metrics    map[string]float64 `json:"metrics"`

	// Ensemble statistics over the perturbed runs.
	MeanFinalError float64 `json:"mean_final_error"`
	MaxFinalError  float64 `json:"max_final_error"`
	Diverged       int     `json:"diverged"`
}

// Verify simulates the current policy on the nonlinear model with the
// solver's integrator at dt_sim, first from the nominal initial state and
// then from cfg.Verify.Runs perturbed ones.
func (e *Experiment) Verify(ctx context.Context) (*Verification, error) {
	if !e.solver.Initialized() {
		return nil, dynamo.ErrNotInitialized
	}
	pol, err := control.NewPolicy(e.solver.Solution())
	if err != nil {
		return nil, err
	}
	settings := e.solver.Settings()
	simCfg := dynamo.Config{
		Dt:            settings.DtSim,
		Duration:      float64(e.solver.K()) * settings.Dt,
		ValidateState: true,
	}
	target := pol.Final()

	newSim := func() (*sim.Simulator, error) {
		sys, integ, err := e.closedLoop()
		if err != nil {
			return nil, err
		}
		s := sim.New(sys, integ, pol)
		for _, m := range e.registry.DefaultMetrics(sys, pol) {
			s.AddMetric(m)
		}
		return s, nil
	}

	s, err := newSim()
	if err != nil {
		return nil, err
	}
	nominal, err := s.Run(ctx, e.x0, simCfg)
	if err != nil {
		return nil, err
	}
	v := &Verification{
		Nominal:    nominal,
		FinalError: finalError(nominal, target),
		Metrics:    maps.Clone(nominal.Metrics),
	}
	if v.Metrics == nil {
		v.Metrics = make(map[string]float64)
	}
	if sys, integ, err := e.closedLoop(); err == nil {
		v.Metrics["lyapunov"] = analysis.LyapunovExponent(sys, integ, pol, e.x0, settings.DtSim, simCfg.Duration, lyapunovOffset)
	}

	if e.cfg.Verify.Runs == 0 {
		return v, nil
	}
	ens := sim.NewEnsemble(newSim, e.cfg.Verify.Runs, settings.Threads)
	ens.Seed, ens.Sigma = e.cfg.Verify.Seed, e.cfg.Verify.Sigma

	if v.Runs, err = ens.Run(ctx, e.x0, simCfg); err != nil {
		return nil, err
	}
	var sum float64
	var finished int
	for _, r := range v.Runs {
		if len(r.Errors) > 0 {
			v.Diverged++
			continue
		}
		fe := finalError(r, target)
		sum += fe
		v.MaxFinalError = math.Max(v.MaxFinalError, fe)
		finished++
	}
	if finished > 0 {
		v.MeanFinalError = sum / float64(finished)
	}

	level.Info(e.logger).Log(
		"msg", "verification finished",
		"problem", e.Name(),
		"final_error", v.FinalError,
		"mean_final_error", v.MeanFinalError,
		"diverged", v.Diverged,
	)
	return v, nil
}

// closedLoop returns a private copy of the model and its integrator.
func (e *Experiment) closedLoop() (dynamo.System, dynamo.Integrator, error) {
	sys := e.sys.Clone()
	integ, err := e.registry.Integrator(e.solver.Settings().Integrator, sys)
	return sys, integ, err
}

func finalError(r *dynamo.Result, target dynamo.State) float64 {
	if len(r.Errors) > 0 || len(r.States) == 0 {
		return math.Inf(1)
	}
	return r.States[len(r.States)-1].Sub(target).Norm()
}
