package control

import (
	"fmt"
	"sort"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/gnms"
	"gonum.org/v1/gonum/mat"
)

// stageTolerance absorbs rounding in t when it lands on a stage boundary.
const stageTolerance = 1e-9

// Policy replays a solved horizon. At time t it looks up the stage k with
// t_k <= t < t_{k+1} and applies
//
//	u = Controls[k] + GainScale · Gains[k] · (x − States[k])
//
// Past the horizon the last stage is held.
type Policy struct {
	times    []float64
	states   []dynamo.State
	controls []dynamo.Control
	gains    []*mat.Dense

	// GainScale multiplies the feedback term. Zero replays the feedforward
	// controls open loop.
	GainScale float64
}

// NewPolicy copies p. Missing gains are treated as zero.
func NewPolicy(p gnms.Policy) (*Policy, error) {
	K := len(p.Controls)
	if K == 0 {
		return nil, dynamo.Shapef("policy has no controls")
	}
	if len(p.States) != K+1 || len(p.Times) != K+1 {
		return nil, dynamo.Shapef("policy has %d states and %d times for %d controls", len(p.States), len(p.Times), K)
	}
	if p.Gains != nil && len(p.Gains) != K {
		return nil, dynamo.Shapef("policy has %d gains for %d controls", len(p.Gains), K)
	}

	tr := p.Trajectory.Clone()
	pol := &Policy{
		times:     tr.Times,
		states:    tr.States,
		controls:  tr.Controls,
		gains:     make([]*mat.Dense, K),
		GainScale: 1,
	}
	n, m := len(tr.States[0]), len(tr.Controls[0])
	for k := range pol.gains {
		if p.Gains == nil {
			pol.gains[k] = mat.NewDense(m, n, nil)
			continue
		}
		if r, c := p.Gains[k].Dims(); r != m || c != n {
			return nil, dynamo.Shapef("gain %d is %dx%d, want %dx%d", k, r, c, m, n)
		}
		pol.gains[k] = mat.DenseCopyOf(p.Gains[k])
	}
	return pol, nil
}

// Stages is the number of control stages.
func (p *Policy) Stages() int { return len(p.controls) }

// Stage returns the index of the stage active at t.
func (p *Policy) Stage(t float64) int {
	k := sort.Search(len(p.times), func(i int) bool {
		return p.times[i] > t+stageTolerance
	}) - 1
	return max(0, min(k, len(p.controls)-1))
}

func (p *Policy) Compute(x dynamo.State, t float64) dynamo.Control {
	k := p.Stage(t)
	u := p.controls[k].Clone()
	if p.GainScale == 0 || len(x) != len(p.states[k]) {
		return u
	}

	var fb mat.VecDense
	fb.MulVec(p.gains[k], x.Sub(p.states[k]).Vec())
	for i := range u {
		u[i] += p.GainScale * fb.AtVec(i)
	}
	return u
}

// Reference returns the nominal state and feedforward control of the stage
// active at t.
func (p *Policy) Reference(t float64) (dynamo.State, dynamo.Control) {
	k := p.Stage(t)
	return p.states[k].Clone(), p.controls[k].Clone()
}

// StateAt interpolates the nominal states linearly in time, clamping to
// the ends of the horizon.
func (p *Policy) StateAt(t float64) dynamo.State {
	last := len(p.times) - 1
	switch {
	case t <= p.times[0]:
		return p.states[0].Clone()
	case t >= p.times[last]:
		return p.states[last].Clone()
	}
	k := p.Stage(t)
	span := p.times[k+1] - p.times[k]
	w := (t - p.times[k]) / span
	return p.states[k].Scale(1 - w).Add(p.states[k+1].Scale(w))
}

// Final returns the nominal terminal state.
func (p *Policy) Final() dynamo.State {
	return p.states[len(p.states)-1].Clone()
}

func (p *Policy) GetParams() map[string]float64 {
	return map[string]float64{"gain_scale": p.GainScale}
}

func (p *Policy) SetParam(name string, value float64) error {
	switch name {
	case "gain_scale":
		if value < 0 {
			return fmt.Errorf("gain_scale %v: %w", value, dynamo.ErrParameterBounds)
		}
		p.GainScale = value
		return nil
	}
	return fmt.Errorf("unknown policy parameter %q", name)
}
