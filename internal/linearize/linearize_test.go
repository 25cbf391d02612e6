package linearize

import (
	"testing"

	. "github.com/onsi/gomega"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/physics"
	"gonum.org/v1/gonum/mat"
)

func TestNumericalMatchesAnalytic(t *testing.T) {
	g := NewWithT(t)

	tests := []struct {
		name string
		sys  Differentiable
		x    dynamo.State
		u    dynamo.Control
	}{
		{"pendulum", physics.NewPendulum(), dynamo.State{1.1, 0.4}, dynamo.Control{0.2}},
		{"double well", physics.NewDoubleWell(), dynamo.State{-0.8, 0.3}, dynamo.Control{0}},
		{"chain", physics.NewSpringMassChain(2), dynamo.State{0.1, 0.2, 0.3, 0.4}, dynamo.Control{1}},
	}

	for _, tt := range tests {
		num := NewNumerical(tt.sys, 0)
		ana := NewAnalytic(tt.sys)

		nx, nu := num.Jacobians(tt.x, tt.u, 0)
		ax, au := ana.Jacobians(tt.x, tt.u, 0)

		g.Expect(mat.EqualApprox(nx, ax, 1e-6)).To(BeTrue(), tt.name)
		g.Expect(mat.EqualApprox(nu, au, 1e-6)).To(BeTrue(), tt.name)
	}
}

func TestNumericalLeavesPointUntouched(t *testing.T) {
	g := NewWithT(t)

	num := NewNumerical(physics.NewCartPole(), 1e-6)
	x := dynamo.State{0.1, 0.2, 0.3, 0.4}
	u := dynamo.Control{1.5}
	num.Jacobians(x, u, 0)

	g.Expect(x).To(Equal(dynamo.State{0.1, 0.2, 0.3, 0.4}))
	g.Expect(u).To(Equal(dynamo.Control{1.5}))
}

func TestForSelectsProvider(t *testing.T) {
	g := NewWithT(t)

	g.Expect(For(physics.NewPendulum())).To(BeAssignableToTypeOf(&Analytic{}))
	g.Expect(For(physics.NewCartPole())).To(BeAssignableToTypeOf(&Numerical{}))
}

func TestCloneIsDeep(t *testing.T) {
	g := NewWithT(t)

	p := physics.NewPendulum()
	lin := NewAnalytic(p)
	clone := lin.Clone().(*Analytic)
	clone.sys.(*physics.Pendulum).Mass = 10

	g.Expect(p.Mass).To(Equal(physics.DefaultMass))
}
