package physics

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Linear is the time-invariant system x' = A x + B u.
type Linear struct {
	A *mat.Dense
	B *mat.Dense
}

func NewLinear(a, b *mat.Dense) *Linear {
	return &Linear{A: a, B: b}
}

// NewDoubleIntegrator returns x'' = u with state [position, velocity].
func NewDoubleIntegrator() *Linear {
	return NewLinear(
		mat.NewDense(2, 2, []float64{0, 1, 0, 0}),
		mat.NewDense(2, 1, []float64{0, 1}),
	)
}

func (l *Linear) StateDim() int {
	r, _ := l.A.Dims()
	return r
}

func (l *Linear) ControlDim() int {
	_, c := l.B.Dims()
	return c
}

func (l *Linear) Clone() dynamo.System {
	return &Linear{A: mat.DenseCopyOf(l.A), B: mat.DenseCopyOf(l.B)}
}

func (l *Linear) Derive(x dynamo.State, u dynamo.Control, t float64) dynamo.State {
	dx := make(dynamo.State, l.StateDim())
	out := mat.NewVecDense(len(dx), dx)
	out.MulVec(l.A, x.Vec())
	if l.ControlDim() > 0 && len(u) == l.ControlDim() {
		out.AddVec(out, mulVec(l.B, u.Vec()))
	}
	return dx
}

func (l *Linear) Jacobians(x dynamo.State, u dynamo.Control, t float64) (*mat.Dense, *mat.Dense) {
	return mat.DenseCopyOf(l.A), mat.DenseCopyOf(l.B)
}

func mulVec(m mat.Matrix, v mat.Vector) *mat.VecDense {
	r, _ := m.Dims()
	out := mat.NewVecDense(r, nil)
	out.MulVec(m, v)
	return out
}
