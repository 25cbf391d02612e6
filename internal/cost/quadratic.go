// Package cost provides cost functions for the trajectory optimizer.
package cost

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Quadratic penalizes deviation from a constant reference:
//
//	l(x, u) = ½ (x−x*)ᵀ Q (x−x*) + ½ (u−u*)ᵀ R (u−u*)
//	φ(x)    = ½ (x−x_f)ᵀ Qf (x−x_f)
type Quadratic struct {
	Q, R, Qf *mat.Dense

	XRef   dynamo.State
	URef   dynamo.Control
	XFinal dynamo.State
}

// NewQuadratic builds a quadratic cost. A nil uRef means zero; a nil xFinal
// reuses xRef for the terminal term.
func NewQuadratic(q, r, qf *mat.Dense, xRef dynamo.State, uRef dynamo.Control, xFinal dynamo.State) *Quadratic {
	n, _ := q.Dims()
	m, _ := r.Dims()
	if xRef == nil {
		xRef = make(dynamo.State, n)
	}
	if uRef == nil {
		uRef = make(dynamo.Control, m)
	}
	if xFinal == nil {
		xFinal = xRef.Clone()
	}
	return &Quadratic{Q: q, R: r, Qf: qf, XRef: xRef, URef: uRef, XFinal: xFinal}
}

// NewDiagonal builds a quadratic cost from diagonal weights.
func NewDiagonal(q, r, qf []float64, xRef dynamo.State, uRef dynamo.Control, xFinal dynamo.State) *Quadratic {
	return NewQuadratic(diag(q), diag(r), diag(qf), xRef, uRef, xFinal)
}

func diag(w []float64) *mat.Dense {
	d := mat.NewDense(len(w), len(w), nil)
	for i, v := range w {
		d.Set(i, i, v)
	}
	return d
}

func (c *Quadratic) Intermediate(x dynamo.State, u dynamo.Control, _ float64) float64 {
	dx := x.Sub(c.XRef).Vec()
	du := dynamo.State(u).Sub(dynamo.State(c.URef)).Vec()
	return 0.5*mat.Inner(dx, c.Q, dx) + 0.5*mat.Inner(du, c.R, du)
}

func (c *Quadratic) Terminal(x dynamo.State, _ float64) float64 {
	dx := x.Sub(c.XFinal).Vec()
	return 0.5 * mat.Inner(dx, c.Qf, dx)
}

func (c *Quadratic) Approximate(x dynamo.State, u dynamo.Control, t float64) dynamo.StageCost {
	n, m := len(x), len(u)
	dx := x.Sub(c.XRef).Vec()
	du := dynamo.State(u).Sub(dynamo.State(c.URef)).Vec()

	qv := mat.NewVecDense(n, nil)
	qv.MulVec(c.Q, dx)
	rv := mat.NewVecDense(m, nil)
	rv.MulVec(c.R, du)

	return dynamo.StageCost{
		Value: c.Intermediate(x, u, t),
		Qv:    qv,
		Q:     mat.DenseCopyOf(c.Q),
		P:     mat.NewDense(m, n, nil),
		Rv:    rv,
		R:     mat.DenseCopyOf(c.R),
	}
}

func (c *Quadratic) ApproximateTerminal(x dynamo.State, t float64) dynamo.StageCost {
	dx := x.Sub(c.XFinal).Vec()
	qv := mat.NewVecDense(len(x), nil)
	qv.MulVec(c.Qf, dx)
	return dynamo.StageCost{
		Value: c.Terminal(x, t),
		Qv:    qv,
		Q:     mat.DenseCopyOf(c.Qf),
	}
}

func (c *Quadratic) Clone() dynamo.CostFunction {
	return &Quadratic{
		Q:      mat.DenseCopyOf(c.Q),
		R:      mat.DenseCopyOf(c.R),
		Qf:     mat.DenseCopyOf(c.Qf),
		XRef:   c.XRef.Clone(),
		URef:   c.URef.Clone(),
		XFinal: c.XFinal.Clone(),
	}
}
