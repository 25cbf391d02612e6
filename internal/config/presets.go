package config

import (
	"maps"
	"math"
	"slices"

	"github.com/san-kum/trajopt/internal/gnms"
	"github.com/san-kum/trajopt/internal/integrators"
)

// hoverThrust is the per-rotor thrust that holds the default drone level.
const hoverThrust = 9.81 / 2

func solver(dt float64, iterations int) gnms.Settings {
	s := gnms.DefaultSettings()
	s.Dt = dt
	s.DtSim = dt / 2
	s.MaxIterations = iterations
	return s
}

func verify() VerifyConfig {
	return VerifyConfig{Runs: DefaultRuns, Sigma: DefaultSigma, Seed: 1}
}

var Presets = map[string]map[string]*Config{
	"pendulum": {
		"swing_up": {
			Model: "pendulum", Horizon: 3, InitState: []float64{0, 0},
			Cost: CostConfig{
				Q: []float64{1, 0.1}, R: []float64{0.01}, Qf: []float64{100, 10},
				Target: []float64{math.Pi, 0},
			},
			Solver: solver(0.02, 100), Verify: verify(),
		},
		"stabilize": {
			Model: "pendulum", Horizon: 2, InitState: []float64{0.5, 0},
			Cost:   CostConfig{Q: []float64{1, 0.1}, R: []float64{0.1}, Qf: []float64{10, 1}},
			Solver: solver(0.02, 30), Verify: verify(),
		},
	},
	"cartpole": {
		"balance": {
			Model: "cartpole", Horizon: 3, InitState: []float64{0, 0, 0.3, 0},
			Cost: CostConfig{
				Q: []float64{1, 0.1, 10, 0.1}, R: []float64{0.01}, Qf: []float64{10, 1, 100, 1},
			},
			Solver: solver(0.02, 50), Verify: verify(),
		},
		"swing_up": {
			Model: "cartpole", Horizon: 4, InitState: []float64{0, 0, math.Pi, 0},
			Cost: CostConfig{
				Q: []float64{1, 0.1, 5, 0.1}, R: []float64{0.01}, Qf: []float64{100, 10, 500, 10},
			},
			Solver: solver(0.02, 150), Verify: verify(),
		},
	},
	"drone": {
		"hover": {
			Model: "drone", Horizon: 3, InitState: []float64{0, 5, 0.3, 0, 0, 0},
			InitControls: []float64{hoverThrust, hoverThrust},
			Cost: CostConfig{
				Q: []float64{1, 1, 5, 0.1, 0.1, 0.1}, R: []float64{0.1, 0.1}, Qf: []float64{50, 50, 50, 5, 5, 5},
				Target: []float64{0, 5, 0, 0, 0, 0}, ControlTarget: []float64{hoverThrust, hoverThrust},
			},
			Solver: solver(0.02, 50), Verify: verify(),
		},
		"reposition": {
			Model: "drone", Horizon: 4, InitState: []float64{0, 5, 0, 0, 0, 0},
			InitControls: []float64{hoverThrust, hoverThrust},
			Cost: CostConfig{
				Q: []float64{1, 1, 1, 0.1, 0.1, 0.1}, R: []float64{0.1, 0.1}, Qf: []float64{100, 100, 50, 10, 10, 10},
				Target: []float64{2, 6, 0, 0, 0, 0}, ControlTarget: []float64{hoverThrust, hoverThrust},
			},
			Solver: solver(0.02, 80), Verify: verify(),
		},
	},
	"spring_mass": {
		"settle": {
			Model: "spring_mass", Horizon: 2, InitState: []float64{1, 0},
			Cost:   CostConfig{Q: []float64{10, 1}, R: []float64{0.1}, Qf: []float64{100, 10}},
			Solver: solver(0.01, 30), Verify: verify(),
		},
	},
	"double_well": {
		"hop": {
			Model: "double_well", Horizon: 5, InitState: []float64{-1, 0},
			Cost: CostConfig{
				Q: []float64{1, 0.1}, R: []float64{0.1}, Qf: []float64{100, 10},
				Target: []float64{1, 0},
			},
			Solver: solver(0.02, 80), Verify: verify(),
		},
	},
	"double_integrator": {
		"rest_to_rest": {
			Model: "double_integrator", Horizon: 2, InitState: []float64{0, 0},
			Cost: CostConfig{
				Q: []float64{0, 0}, R: []float64{1}, Qf: []float64{1000, 1000},
				Target: []float64{1, 0},
			},
			Solver: func() gnms.Settings {
				s := solver(0.05, 10)
				s.DtSim = s.Dt
				s.Integrator = integrators.KindEuler
				return s
			}(),
			Verify: verify(),
		},
	},
}

// defaultPresets names the preset Base starts from for each model.
var defaultPresets = map[string]string{
	"pendulum":          "swing_up",
	"cartpole":          "balance",
	"drone":             "hover",
	"spring_mass":       "settle",
	"double_well":       "hop",
	"double_integrator": "rest_to_rest",
}

// GetPreset returns a copy of the named preset, or nil.
func GetPreset(model, preset string) *Config {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	cfg, ok := modelPresets[preset]
	if !ok {
		return nil
	}
	c := cfg.Clone()
	c.Name = model + "/" + preset
	return c
}

func ListPresets(model string) []string {
	modelPresets, ok := Presets[model]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(modelPresets))
}

// Models lists every model that has presets.
func Models() []string {
	return slices.Sorted(maps.Keys(Presets))
}

// Base returns the defaults a problem file for model is decoded onto: the
// model's default preset, or DefaultConfig for unknown models.
func Base(model string) *Config {
	if name, ok := defaultPresets[model]; ok {
		return GetPreset(model, name)
	}
	cfg := DefaultConfig()
	cfg.Model = model
	return cfg
}
