package physics

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// DoubleWell models a forced particle in the bistable potential
// A (x² - B)², with wells at x = ±√B.
type DoubleWell struct {
	A, B, Mass, Damping float64
}

func NewDoubleWell() *DoubleWell {
	return &DoubleWell{1.0, 1.0, 1.0, 0.1}
}

func (d *DoubleWell) StateDim() int      { return 2 }
func (d *DoubleWell) ControlDim() int    { return 1 }
func (d *DoubleWell) IsSymplectic() bool { return true }

func (d *DoubleWell) Clone() dynamo.System {
	c := *d
	return &c
}

func (d *DoubleWell) Derive(s dynamo.State, u dynamo.Control, _ float64) dynamo.State {
	x, v := s[0], s[1]
	ef := 0.0
	if len(u) > 0 {
		ef = u[0]
	}
	return dynamo.State{v, (-4*d.A*x*(x*x-d.B) - d.Damping*v + ef) / d.Mass}
}

func (d *DoubleWell) Jacobians(s dynamo.State, _ dynamo.Control, _ float64) (*mat.Dense, *mat.Dense) {
	x := s[0]
	dfdx := mat.NewDense(2, 2, []float64{
		0, 1,
		-4 * d.A * (3*x*x - d.B) / d.Mass, -d.Damping / d.Mass,
	})
	dfdu := mat.NewDense(2, 1, []float64{0, 1 / d.Mass})
	return dfdx, dfdu
}

// Wells returns the two stable equilibria.
func (d *DoubleWell) Wells() (dynamo.State, dynamo.State) {
	w := math.Sqrt(d.B)
	return dynamo.State{-w, 0}, dynamo.State{w, 0}
}

func (d *DoubleWell) Energy(s dynamo.State) float64 {
	x, v := s[0], s[1]
	return 0.5*d.Mass*v*v + d.A*math.Pow(x*x-d.B, 2)
}

func (d *DoubleWell) GetParams() map[string]float64 {
	return map[string]float64{"A": d.A, "B": d.B, "mass": d.Mass, "damping": d.Damping}
}

func (d *DoubleWell) SetParam(n string, v float64) error {
	switch n {
	case "A":
		d.A = v
	case "B":
		if v < 0 {
			return fmt.Errorf("B %v: %w", v, dynamo.ErrParameterBounds)
		}
		d.B = v
	case "mass":
		d.Mass = v
	case "damping":
		d.Damping = v
	default:
		return fmt.Errorf("unknown param: %s", n)
	}
	return nil
}
