package physics

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

const (
	DefaultStiffness = 10.0
	DefaultDamping   = 0.5
)

// SpringMass is a chain of masses between two walls with state
// [positions..., velocities...]. The single input pushes the first mass.
type SpringMass struct {
	NumMasses int
	Masses    []float64
	Stiffness []float64
	Damping   []float64
}

func NewSpringMass() *SpringMass {
	return &SpringMass{
		NumMasses: 1,
		Masses:    []float64{DefaultMass},
		Stiffness: []float64{DefaultStiffness},
		Damping:   []float64{DefaultDamping},
	}
}

func NewSpringMassChain(n int) *SpringMass {
	masses := make([]float64, n)
	stiffness := make([]float64, n+1)
	damping := make([]float64, n)

	for i := 0; i < n; i++ {
		masses[i] = DefaultMass
		stiffness[i] = DefaultStiffness
		damping[i] = 0.2
	}
	stiffness[n] = DefaultStiffness

	return &SpringMass{
		NumMasses: n,
		Masses:    masses,
		Stiffness: stiffness,
		Damping:   damping,
	}
}

func (s *SpringMass) StateDim() int      { return s.NumMasses * 2 }
func (s *SpringMass) ControlDim() int    { return 1 }
func (s *SpringMass) IsSymplectic() bool { return true }

func (s *SpringMass) Clone() dynamo.System {
	return &SpringMass{
		NumMasses: s.NumMasses,
		Masses:    append([]float64(nil), s.Masses...),
		Stiffness: append([]float64(nil), s.Stiffness...),
		Damping:   append([]float64(nil), s.Damping...),
	}
}

// springs is the number of springs: one per mass, plus a right wall spring
// when Stiffness has an extra entry.
func (s *SpringMass) springs() int {
	return min(len(s.Stiffness), s.NumMasses+1)
}

// extension of spring i, which joins mass i-1 (or the left wall) to mass i.
// Spring NumMasses joins the last mass to the right wall.
func (s *SpringMass) extension(x dynamo.State, i int) float64 {
	n := s.NumMasses
	switch {
	case i == n:
		return -x[n-1]
	case i == 0:
		return x[0]
	default:
		return x[i] - x[i-1]
	}
}

func (s *SpringMass) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	n := s.NumMasses
	dx := make(dynamo.State, n*2)
	copy(dx[:n], x[n:])

	// spring i pulls mass i back and mass i-1 forward
	force := make([]float64, n)
	for i := 0; i < s.springs(); i++ {
		f := s.Stiffness[i] * s.extension(x, i)
		if i < n {
			force[i] -= f
		}
		if i > 0 {
			force[i-1] += f
		}
	}
	if len(u) > 0 {
		force[0] += u[0]
	}

	for i := 0; i < n; i++ {
		dx[n+i] = (force[i] - s.Damping[i]*x[n+i]) / s.Masses[i]
	}
	return dx
}

// Jacobians returns the constant system matrices of the chain.
func (s *SpringMass) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	n := s.NumMasses
	dfdx := mat.NewDense(2*n, 2*n, nil)
	dfdu := mat.NewDense(2*n, 1, nil)

	for i := 0; i < n; i++ {
		dfdx.Set(i, n+i, 1)

		m := s.Masses[i]
		diag := -s.Stiffness[i]
		if i > 0 {
			dfdx.Set(n+i, i-1, s.Stiffness[i]/m)
		}
		if i < n-1 {
			diag -= s.Stiffness[i+1]
			dfdx.Set(n+i, i+1, s.Stiffness[i+1]/m)
		} else if len(s.Stiffness) > n {
			diag -= s.Stiffness[n]
		}
		dfdx.Set(n+i, i, diag/m)
		dfdx.Set(n+i, n+i, -s.Damping[i]/m)
	}
	dfdu.Set(n, 0, 1/s.Masses[0])

	return dfdx, dfdu
}

func (s *SpringMass) Energy(x dynamo.State) float64 {
	n := s.NumMasses
	var energy float64
	for i := 0; i < n; i++ {
		energy += 0.5 * s.Masses[i] * x[n+i] * x[n+i]
	}
	for i := 0; i < s.springs(); i++ {
		e := s.extension(x, i)
		energy += 0.5 * s.Stiffness[i] * e * e
	}
	return energy
}

func (s *SpringMass) GetParams() map[string]float64 {
	return map[string]float64{
		"mass":      s.Masses[0],
		"stiffness": s.Stiffness[0],
		"damping":   s.Damping[0],
	}
}

// SetParam applies a value uniformly across the chain.
func (s *SpringMass) SetParam(name string, value float64) error {
	var target []float64
	switch name {
	case "mass":
		if value <= 0 {
			return fmt.Errorf("mass %v: %w", value, dynamo.ErrParameterBounds)
		}
		target = s.Masses
	case "stiffness":
		target = s.Stiffness
	case "damping":
		target = s.Damping
	default:
		return fmt.Errorf("unknown param: %s", name)
	}
	for i := range target {
		target[i] = value
	}
	return nil
}
