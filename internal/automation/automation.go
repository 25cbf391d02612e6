// Package automation runs scripted sequences of problems described in
// YAML, optionally warm starting each problem from the previous solution.
package automation

import (
	"context"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/experiment"
	"gopkg.in/yaml.v3"
)

// Scenario defines a scripted sequence of solves
type Scenario struct {
	Name        string         `yaml:"name"`
	Description string         `yaml:"description"`
	Steps       []ScenarioStep `yaml:"steps"`
}

// ScenarioStep is a single problem in a scenario. Exactly one of Preset
// ("model/preset") and Config (a problem file) must be set.
type ScenarioStep struct {
	Name   string `yaml:"name"`
	Preset string `yaml:"preset"`
	Config string `yaml:"config"`

	// Set overrides settings by the names config.Config.Set accepts.
	Set map[string]float64 `yaml:"set"`

	// WarmStart seeds the solver with the previous step's solution instead
	// of a rollout of the initial controls.
	WarmStart bool `yaml:"warm_start"`
	Verify    bool `yaml:"verify"`
}

// StepResult holds the outcome of one step. Verification is nil unless the
// step asked for it.
type StepResult struct {
	Name         string
	Report       *experiment.Report
	Verification *experiment.Verification
}

// LoadScenario loads a scenario from a YAML file. Config paths are taken
// relative to the scenario file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var scenario Scenario
	if err := yaml.Unmarshal(data, &scenario); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for i := range scenario.Steps {
		if c := scenario.Steps[i].Config; c != "" && !filepath.IsAbs(c) {
			scenario.Steps[i].Config = filepath.Join(filepath.Dir(path), c)
		}
	}
	if err := scenario.Validate(); err != nil {
		return nil, err
	}
	return &scenario, nil
}

func (s *Scenario) Validate() error {
	if len(s.Steps) == 0 {
		return dynamo.Configf("scenario %q has no steps", s.Name)
	}
	for i, step := range s.Steps {
		switch {
		case (step.Preset == "") == (step.Config == ""):
			return dynamo.Configf("step %d: set exactly one of preset and config", i+1)
		case step.Preset != "" && !strings.Contains(step.Preset, "/"):
			return dynamo.Configf("step %d: preset %q must be model/preset", i+1, step.Preset)
		case i == 0 && step.WarmStart:
			return dynamo.Configf("step 1 cannot warm start")
		}
	}
	return nil
}

func (step ScenarioStep) config() (*config.Config, error) {
	var cfg *config.Config
	if step.Config != "" {
		var err error
		if cfg, err = config.Load(step.Config); err != nil {
			return nil, err
		}
	} else {
		model, name, _ := strings.Cut(step.Preset, "/")
		if cfg = config.GetPreset(model, name); cfg == nil {
			return nil, dynamo.Configf("unknown preset %q", step.Preset)
		}
	}
	for _, k := range slices.Sorted(maps.Keys(step.Set)) {
		if err := cfg.Set(k, step.Set[k]); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// RunScenario executes all steps in order. It stops at the first failing
// step and returns the results so far.
func RunScenario(ctx context.Context, scenario *Scenario, registry *experiment.Registry, logger log.Logger) ([]StepResult, error) {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	results := make([]StepResult, 0, len(scenario.Steps))

	for i, step := range scenario.Steps {
		cfg, err := step.config()
		if err != nil {
			return results, fmt.Errorf("step %d: %w", i+1, err)
		}
		name := step.Name
		if name == "" {
			name = cfg.Name
		}
		level.Info(logger).Log("msg", "running step", "step", i+1, "of", len(scenario.Steps), "name", name)

		exp, err := experiment.New(cfg, registry, experiment.WithLogger(logger))
		if err != nil {
			return results, fmt.Errorf("step %d setup: %w", i+1, err)
		}

		if step.WarmStart {
			prev := results[len(results)-1].Report.Solution
			if err := exp.WarmStart(prev); err != nil {
				return results, fmt.Errorf("step %d warm start: %w", i+1, err)
			}
		}

		report, err := exp.Solve(ctx)
		if err != nil {
			return results, fmt.Errorf("step %d solve: %w", i+1, err)
		}
		res := StepResult{Name: name, Report: report}

		if step.Verify {
			if res.Verification, err = exp.Verify(ctx); err != nil {
				return results, fmt.Errorf("step %d verify: %w", i+1, err)
			}
		}
		results = append(results, res)
	}

	return results, nil
}

// Stats counts the steps whose solve succeeded and failed.
func Stats(results []StepResult) (succeeded, failed int) {
	for _, r := range results {
		if r.Report.Succeeded {
			succeeded++
		} else {
			failed++
		}
	}
	return
}
