package experiment

import (
	"fmt"
	"maps"
	"slices"

	"github.com/san-kum/trajopt/internal/control"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/metrics"
	"github.com/san-kum/trajopt/internal/physics"
)

// stabilityBound is the state magnitude the stability metric tolerates.
const stabilityBound = 100.0

type Registry struct {
	models map[string]func() dynamo.System
}

func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]func() dynamo.System)}

	r.Register("pendulum", func() dynamo.System { return physics.NewPendulum() })
	r.Register("cartpole", func() dynamo.System { return physics.NewCartPole() })
	r.Register("drone", func() dynamo.System { return physics.NewDrone() })
	r.Register("spring_mass", func() dynamo.System { return physics.NewSpringMass() })
	r.Register("spring_chain", func() dynamo.System { return physics.NewSpringMassChain(3) })
	r.Register("double_well", func() dynamo.System { return physics.NewDoubleWell() })
	r.Register("double_integrator", func() dynamo.System { return physics.NewDoubleIntegrator() })

	return r
}

func (r *Registry) Register(name string, fn func() dynamo.System) {
	r.models[name] = fn
}

// Model builds a fresh instance of the named model with params applied.
func (r *Registry) Model(name string, params map[string]float64) (dynamo.System, error) {
	fn, ok := r.models[name]
	if !ok {
		return nil, dynamo.Configf("unknown model %q", name)
	}
	sys := fn()
	if len(params) == 0 {
		return sys, nil
	}

	c, ok := sys.(dynamo.Configurable)
	if !ok {
		return nil, dynamo.Configf("model %q has no parameters", name)
	}
	for _, k := range slices.Sorted(maps.Keys(params)) {
		if err := c.SetParam(k, params[k]); err != nil {
			return nil, fmt.Errorf("model %q: %w", name, err)
		}
	}
	return sys, nil
}

// Integrator returns an integrator of the given kind checked against sys.
func (r *Registry) Integrator(kind integrators.Kind, sys dynamo.System) (dynamo.Integrator, error) {
	return integrators.NewSet().For(kind, sys)
}

func (r *Registry) ListModels() []string {
	return slices.Sorted(maps.Keys(r.models))
}

// DefaultMetrics are the closed-loop scores every verification reports.
func (r *Registry) DefaultMetrics(sys dynamo.System, pol *control.Policy) []dynamo.Metric {
	return []dynamo.Metric{
		metrics.NewControlEffort(),
		metrics.NewEnergyDrift(sys),
		metrics.NewStability(stabilityBound),
		metrics.NewTrackingError(pol.StateAt),
	}
}
