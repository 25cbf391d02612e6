package integrators

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Kind selects a fixed-step integrator.
type Kind string

const (
	KindEuler           Kind = "euler"
	KindRK4             Kind = "rk4"
	KindEulerSymplectic Kind = "euler_symplectic"
	KindRKSymplectic    Kind = "rk_symplectic"
)

// Kinds lists every supported integrator kind.
func Kinds() []Kind {
	return []Kind{KindEuler, KindRK4, KindEulerSymplectic, KindRKSymplectic}
}

// Symplectic reports whether the kind requires a [positions, velocities]
// state layout.
func (k Kind) Symplectic() bool {
	return k == KindEulerSymplectic || k == KindRKSymplectic
}

func New(kind Kind) (dynamo.Integrator, error) {
	switch kind {
	case KindEuler:
		return NewEuler(), nil
	case KindRK4:
		return NewRK4(), nil
	case KindEulerSymplectic:
		return NewSymplecticEuler(), nil
	case KindRKSymplectic:
		return NewLeapfrog(), nil
	default:
		return nil, dynamo.Configf("unknown integrator %q", kind)
	}
}

// Set holds one instance of every integrator kind. Integrators carry scratch
// buffers, so each goroutine needs its own Set.
type Set struct {
	byKind map[Kind]dynamo.Integrator
}

func NewSet() *Set {
	s := &Set{byKind: make(map[Kind]dynamo.Integrator, 4)}
	for _, k := range Kinds() {
		integ, _ := New(k)
		s.byKind[k] = integ
	}
	return s
}

// For returns the integrator of the given kind, checking that dyn can be
// integrated with it.
func (s *Set) For(kind Kind, dyn dynamo.System) (dynamo.Integrator, error) {
	integ, ok := s.byKind[kind]
	if !ok {
		return nil, dynamo.Configf("unknown integrator %q", kind)
	}
	if kind.Symplectic() && !dynamo.IsSymplectic(dyn) {
		return nil, fmt.Errorf("integrator %q needs a symplectic system: %w", kind, dynamo.ErrConfiguration)
	}
	return integ, nil
}

// Integrate advances x in place by n fixed steps of size dt starting at t0
// and returns the final time. Integration stops early when the state stops
// being finite; the caller checks x.IsValid().
func Integrate(integ dynamo.Integrator, dyn dynamo.System, x dynamo.State, u dynamo.Control, t0, dt float64, n int) float64 {
	t := t0
	for i := 0; i < n; i++ {
		next := integ.Step(dyn, x, u, t, dt)
		copy(x, next)
		t = t0 + float64(i+1)*dt
		if !x.IsValid() {
			break
		}
	}
	return t
}
