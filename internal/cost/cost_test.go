package cost

import (
	"math"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

func TestQuadraticValues(t *testing.T) {
	g := NewWithT(t)

	c := NewDiagonal([]float64{2, 4}, []float64{1}, []float64{10, 10}, dynamo.State{1, 0}, nil, dynamo.State{0, 0})

	// ½·2·(3−1)² + ½·4·1² + ½·1·2² = 4 + 2 + 2
	g.Expect(c.Intermediate(dynamo.State{3, 1}, dynamo.Control{2}, 0)).To(BeNumerically("~", 8, 1e-12))
	g.Expect(c.Terminal(dynamo.State{1, 1}, 0)).To(BeNumerically("~", 10, 1e-12))
}

func TestQuadraticApproximationIsExact(t *testing.T) {
	g := NewWithT(t)

	c := NewDiagonal([]float64{2, 4}, []float64{3}, []float64{5, 6}, dynamo.State{1, -1}, dynamo.Control{0.5}, nil)
	x := dynamo.State{0.3, 0.7}
	u := dynamo.Control{-0.2}

	stage := c.Approximate(x, u, 0)
	g.Expect(stage.Value).To(Equal(c.Intermediate(x, u, 0)))
	g.Expect(stage.Qv.AtVec(0)).To(BeNumerically("~", 2*(0.3-1), 1e-12))
	g.Expect(stage.Qv.AtVec(1)).To(BeNumerically("~", 4*(0.7+1), 1e-12))
	g.Expect(stage.Rv.AtVec(0)).To(BeNumerically("~", 3*(-0.7), 1e-12))
	g.Expect(mat.Equal(stage.P, mat.NewDense(1, 2, nil))).To(BeTrue())

	term := c.ApproximateTerminal(x, 1)
	g.Expect(term.Value).To(Equal(c.Terminal(x, 1)))
	g.Expect(term.Qv.AtVec(0)).To(BeNumerically("~", 5*(0.3-1), 1e-12))
	g.Expect(term.R).To(BeNil())
}

func TestApproximationDoesNotAlias(t *testing.T) {
	g := NewWithT(t)

	c := NewDiagonal([]float64{1}, []float64{1}, []float64{1}, nil, nil, nil)
	stage := c.Approximate(dynamo.State{1}, dynamo.Control{1}, 0)
	stage.Q.Set(0, 0, 42)

	g.Expect(c.Q.At(0, 0)).To(Equal(1.0))
}

func TestSumAddsTerms(t *testing.T) {
	g := NewWithT(t)

	a := NewDiagonal([]float64{1}, []float64{2}, []float64{3}, nil, nil, nil)
	b := NewDiagonal([]float64{4}, []float64{5}, []float64{6}, dynamo.State{1}, nil, nil)
	s := NewSum(a, b)

	x, u := dynamo.State{2}, dynamo.Control{1}
	g.Expect(s.Intermediate(x, u, 0)).To(BeNumerically("~", a.Intermediate(x, u, 0)+b.Intermediate(x, u, 0), 1e-12))

	stage := s.Approximate(x, u, 0)
	g.Expect(stage.Q.At(0, 0)).To(Equal(5.0))
	g.Expect(stage.R.At(0, 0)).To(Equal(7.0))
	g.Expect(stage.Qv.AtVec(0)).To(BeNumerically("~", 1*2+4*1, 1e-12))

	term := s.ApproximateTerminal(x, 0)
	g.Expect(term.Q.At(0, 0)).To(Equal(9.0))
	g.Expect(term.P).To(BeNil())

	clone := s.Clone().(*Sum)
	clone.Terms[0].(*Quadratic).Q.Set(0, 0, 100)
	g.Expect(a.Q.At(0, 0)).To(Equal(1.0))
}

func TestEvaluate(t *testing.T) {
	c := NewDiagonal([]float64{2}, []float64{0}, []float64{4}, nil, nil, nil)
	states := []dynamo.State{{1}, {2}, {3}}
	controls := []dynamo.Control{{0}, {0}}
	times := []float64{0, 0.5, 1}

	got := Evaluate(c, states, controls, times, 0.5)
	want := 0.5*(1+4) + 0.5*4*9
	if math.Abs(got-want) > 1e-12 {
		t.Errorf("Evaluate = %v, want %v", got, want)
	}
}
