// Package linearize provides Jacobian providers for dynamo systems.
package linearize

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
)

// Differentiable is a system that knows its own Jacobians.
type Differentiable interface {
	dynamo.System
	Jacobians(x dynamo.State, u dynamo.Control, t float64) (dfdx, dfdu *mat.Dense)
}

// Numerical differentiates a system with central finite differences.
type Numerical struct {
	sys      dynamo.System
	settings fd.JacobianSettings
}

// NewNumerical returns a finite difference provider. A step of zero selects
// the gonum default for central differences.
func NewNumerical(sys dynamo.System, step float64) *Numerical {
	return &Numerical{
		sys: sys,
		settings: fd.JacobianSettings{
			Formula: fd.Central,
			Step:    step,
		},
	}
}

func (n *Numerical) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	nx, nu := n.sys.StateDim(), n.sys.ControlDim()
	settings := n.settings

	dfdx := mat.NewDense(nx, nx, nil)
	fd.Jacobian(dfdx, func(dst, xs []float64) {
		copy(dst, n.sys.Derive(xs, u, t))
	}, x, &settings)

	if nu == 0 {
		return dfdx, &mat.Dense{}
	}
	dfdu := mat.NewDense(nx, nu, nil)
	fd.Jacobian(dfdu, func(dst, us []float64) {
		copy(dst, n.sys.Derive(x, us, t))
	}, u, &settings)

	return dfdx, dfdu
}

// Clone binds a deep copy of the wrapped system.
func (n *Numerical) Clone() dynamo.LinearSystem {
	return &Numerical{sys: n.sys.Clone(), settings: n.settings}
}

// Analytic forwards to a model's exact Jacobians.
type Analytic struct {
	sys Differentiable
}

func NewAnalytic(sys Differentiable) *Analytic {
	return &Analytic{sys: sys}
}

func (a *Analytic) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	return a.sys.Jacobians(x, u, t)
}

func (a *Analytic) Clone() dynamo.LinearSystem {
	return &Analytic{sys: a.sys.Clone().(Differentiable)}
}

// For picks the analytic provider when sys supports it and falls back to
// finite differences otherwise.
func For(sys dynamo.System) dynamo.LinearSystem {
	if d, ok := sys.(Differentiable); ok {
		return NewAnalytic(d)
	}
	return NewNumerical(sys, 0)
}
