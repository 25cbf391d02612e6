package sim

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/stat/distuv"
)

// Ensemble repeats a simulation from randomly perturbed initial states.
// Run i perturbs every component of x0 by an independent normal sample with
// standard deviation Sigma drawn from a generator seeded with Seed+i, so
// results do not depend on scheduling.
type Ensemble struct {
	newSim  func() (*Simulator, error)
	runs    int
	workers int

	Seed  uint64
	Sigma float64
}

// NewEnsemble takes a factory because simulators carry stateful metrics;
// every run gets its own. A factory error stops the ensemble.
func NewEnsemble(newSim func() (*Simulator, error), runs, workers int) *Ensemble {
	return &Ensemble{newSim: newSim, runs: runs, workers: max(1, workers)}
}

func (e *Ensemble) perturb(x0 dynamo.State, run int) dynamo.State {
	x := x0.Clone()
	if e.Sigma == 0 {
		return x
	}
	n := distuv.Normal{Mu: 0, Sigma: e.Sigma, Src: rand.NewPCG(e.Seed+uint64(run), 0)}
	for i := range x {
		x[i] += n.Rand()
	}
	return x
}

func (e *Ensemble) Run(ctx context.Context, x0 dynamo.State, cfg dynamo.Config) ([]*dynamo.Result, error) {
	if e.runs < 1 {
		return nil, dynamo.Configf("ensemble needs at least one run, got %d", e.runs)
	}
	results := make([]*dynamo.Result, e.runs)

	pool := dynamo.NewPool(e.workers, nil)
	err := pool.ForEach(ctx, e.runs, func(_, i int) error {
		c := cfg
		c.Seed = int64(e.Seed) + int64(i)
		s, err := e.newSim()
		if err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		res, err := s.Run(ctx, e.perturb(x0, i), c)
		if err != nil {
			return err
		}
		results[i] = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}
