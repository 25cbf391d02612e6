package integrators

import (
	"testing"

	"github.com/san-kum/trajopt/internal/dynamo"
)

func benchmarkKind(b *testing.B, kind Kind) {
	integrator, err := New(kind)
	if err != nil {
		b.Fatal(err)
	}
	dyn := &oscillator{symplectic: true}
	x := dynamo.State{1.0, 0.0}
	u := dynamo.Control{0}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		x = integrator.Step(dyn, x, u, 0, 0.01)
	}
}

func BenchmarkEuler(b *testing.B)           { benchmarkKind(b, KindEuler) }
func BenchmarkRK4(b *testing.B)             { benchmarkKind(b, KindRK4) }
func BenchmarkSymplecticEuler(b *testing.B) { benchmarkKind(b, KindEulerSymplectic) }
func BenchmarkLeapfrog(b *testing.B)        { benchmarkKind(b, KindRKSymplectic) }
