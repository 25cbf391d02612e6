// Package config loads trajectory optimization problems from YAML.
package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/gnms"
	"gopkg.in/yaml.v3"
)

const (
	DefaultHorizon = 3.0
	DefaultDt      = 0.02
	DefaultRuns    = 16
	DefaultSigma   = 0.02
)

// Config describes one optimal control problem and how to solve and verify
// it.
type Config struct {
	Name    string             `yaml:"name,omitempty"`
	Model   string             `yaml:"model"`
	Params  map[string]float64 `yaml:"params,omitempty"`
	Horizon float64            `yaml:"horizon"`

	// InitState falls back to the model's resting state when empty.
	InitState []float64 `yaml:"init_state,omitempty"`

	// InitControls is the constant control used to seed the first rollout.
	// Empty means zero.
	InitControls []float64 `yaml:"init_controls,omitempty"`

	Cost   CostConfig    `yaml:"cost"`
	Solver gnms.Settings `yaml:"solver"`
	Verify VerifyConfig  `yaml:"verify"`
}

// CostConfig holds diagonal quadratic weights. Target and ControlTarget
// default to zero; Final defaults to Target.
type CostConfig struct {
	Q             []float64 `yaml:"q"`
	R             []float64 `yaml:"r"`
	Qf            []float64 `yaml:"qf"`
	Target        []float64 `yaml:"target,omitempty"`
	ControlTarget []float64 `yaml:"control_target,omitempty"`
	Final         []float64 `yaml:"final,omitempty"`
}

// VerifyConfig controls the closed-loop check of a solved policy.
type VerifyConfig struct {
	Runs  int     `yaml:"runs"`
	Sigma float64 `yaml:"sigma"`
	Seed  uint64  `yaml:"seed"`
}

func DefaultConfig() *Config {
	s := gnms.DefaultSettings()
	s.Dt, s.DtSim = DefaultDt, DefaultDt/2

	return &Config{
		Model:   "pendulum",
		Horizon: DefaultHorizon,
		Cost: CostConfig{
			Q:      []float64{1, 0.1},
			R:      []float64{0.01},
			Qf:     []float64{100, 10},
			Target: []float64{math.Pi, 0},
		},
		Solver: s,
		Verify: VerifyConfig{Runs: DefaultRuns, Sigma: DefaultSigma, Seed: 1},
	}
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var head struct {
		Model string `yaml:"model"`
	}
	if err := yaml.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if head.Model == "" {
		head.Model = DefaultConfig().Model
	}

	// weights and targets replace the preset's as whole lists
	cfg := Base(head.Model)
	cfg.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks what can be checked without building the model; state and
// control dimensions are checked against the model later.
func (c *Config) Validate() error {
	if c.Model == "" {
		return dynamo.Configf("model is required")
	}
	if !(c.Horizon > 0) {
		return dynamo.Configf("horizon must be positive, got %v", c.Horizon)
	}
	if len(c.Cost.Q) == 0 || len(c.Cost.R) == 0 {
		return dynamo.Configf("cost weights q and r are required")
	}
	if len(c.Cost.Qf) != 0 && len(c.Cost.Qf) != len(c.Cost.Q) {
		return dynamo.Configf("cost qf has %d weights, q has %d", len(c.Cost.Qf), len(c.Cost.Q))
	}
	for _, w := range [][]float64{c.Cost.Q, c.Cost.R, c.Cost.Qf} {
		for _, v := range w {
			if v < 0 || math.IsNaN(v) {
				return dynamo.Configf("cost weights must be non-negative, got %v", v)
			}
		}
	}
	if c.Verify.Runs < 0 || c.Verify.Sigma < 0 {
		return dynamo.Configf("verify runs and sigma must not be negative")
	}
	return c.Solver.Validate()
}

// TerminalWeights returns Qf, or Q when Qf is unset.
func (c *Config) TerminalWeights() []float64 {
	if len(c.Cost.Qf) == 0 {
		return c.Cost.Q
	}
	return c.Cost.Qf
}

// Clone returns a deep copy so presets can be modified safely.
func (c *Config) Clone() *Config {
	cp := *c
	cp.Params = make(map[string]float64, len(c.Params))
	for k, v := range c.Params {
		cp.Params[k] = v
	}
	cp.InitState = append([]float64(nil), c.InitState...)
	cp.InitControls = append([]float64(nil), c.InitControls...)
	cp.Cost = CostConfig{
		Q:             append([]float64(nil), c.Cost.Q...),
		R:             append([]float64(nil), c.Cost.R...),
		Qf:            append([]float64(nil), c.Cost.Qf...),
		Target:        append([]float64(nil), c.Cost.Target...),
		ControlTarget: append([]float64(nil), c.Cost.ControlTarget...),
		Final:         append([]float64(nil), c.Cost.Final...),
	}
	return &cp
}

// Set overrides a numeric setting by name. Names match the YAML keys of the
// solver section plus horizon and verify_sigma; dt keeps the dt_sim ratio.
func (c *Config) Set(name string, v float64) error {
	switch name {
	case "horizon":
		c.Horizon = v
	case "dt":
		ratio := c.Solver.DtSim / c.Solver.Dt
		c.Solver.Dt = v
		c.Solver.DtSim = v * ratio
	case "dt_sim":
		c.Solver.DtSim = v
	case "epsilon":
		c.Solver.Epsilon = v
	case "tolerance":
		c.Solver.Tolerance = v
	case "max_iterations":
		c.Solver.MaxIterations = int(v)
	case "math_threads":
		c.Solver.MathThreads = int(v)
	case "verify_sigma":
		c.Verify.Sigma = v
	default:
		return dynamo.Configf("unknown setting %q", name)
	}
	return c.Validate()
}

// Settable lists the names accepted by Set.
func Settable() []string {
	return []string{"horizon", "dt", "dt_sim", "epsilon", "tolerance", "max_iterations", "math_threads", "verify_sigma"}
}
