package integrators

import "github.com/san-kum/trajopt/internal/dynamo"

type Euler struct{}

func NewEuler() *Euler {
	return &Euler{}
}

func (e *Euler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t float64, dt float64) dynamo.State {
	dx := dyn.Derive(x, u, t)
	result := make(dynamo.State, len(x))
	for i := range x {
		result[i] = x[i] + dt*dx[i]
	}
	return result
}

// SymplecticEuler is the semi-implicit Euler scheme for states laid out as
// [positions, velocities]: velocities are advanced first and the positions
// use the updated velocities.
type SymplecticEuler struct {
	scratch dynamo.State
}

func NewSymplecticEuler() *SymplecticEuler {
	return &SymplecticEuler{}
}

func (s *SymplecticEuler) Step(dyn dynamo.System, x dynamo.State, u dynamo.Control, t, dt float64) dynamo.State {
	n := len(x)
	half := n / 2
	if len(s.scratch) != n {
		s.scratch = make(dynamo.State, n)
	}

	result := make(dynamo.State, n)
	dx := dyn.Derive(x, u, t)
	for i := 0; i < half; i++ {
		result[half+i] = x[half+i] + dt*dx[half+i]
	}

	// position rates evaluated with the new velocities
	copy(s.scratch[:half], x[:half])
	copy(s.scratch[half:], result[half:])
	dq := dyn.Derive(s.scratch, u, t)
	for i := 0; i < half; i++ {
		result[i] = x[i] + dt*dq[i]
	}

	return result
}
