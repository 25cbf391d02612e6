package gnms

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Trajectory is a time-stamped sequence of K+1 states and K controls.
type Trajectory struct {
	States   []dynamo.State
	Controls []dynamo.Control
	Times    []float64
}

func (t Trajectory) Len() int { return len(t.Controls) }

func (t Trajectory) Clone() Trajectory {
	c := Trajectory{
		States:   make([]dynamo.State, len(t.States)),
		Controls: make([]dynamo.Control, len(t.Controls)),
		Times:    append([]float64(nil), t.Times...),
	}
	for i, x := range t.States {
		c.States[i] = x.Clone()
	}
	for i, u := range t.Controls {
		c.Controls[i] = u.Clone()
	}
	return c
}

// Policy is a trajectory plus time-varying feedback gains. The control at
// stage k is Controls[k] + Gains[k]·(x − States[k]).
type Policy struct {
	Trajectory
	Gains []*mat.Dense
}

// ControlTrajectory is a control sequence with its time stamps.
type ControlTrajectory struct {
	Times    []float64
	Controls []dynamo.Control
}

// stages owns every stage-indexed array of the solver. Arrays indexed by
// control stage have K entries, arrays indexed by state stage K+1.
type stages struct {
	K    int
	n, m int

	x   []dynamo.State
	uff []dynamo.Control
	t   []float64
	L   []*mat.Dense

	A, B []*mat.Dense

	q     []float64
	qv    []*mat.VecDense
	Q     []*mat.Dense
	P     []*mat.Dense
	rv    []*mat.VecDense
	R     []*mat.Dense
	S     []*mat.Dense
	sv    []*mat.VecDense
	G     []*mat.Dense
	H     []*mat.Dense
	Hi    []*mat.Dense
	HiInv []*mat.Dense
	gv    []*mat.VecDense
	lv    []*mat.VecDense

	xShot []dynamo.State
	d     []*mat.VecDense
	lx    []*mat.VecDense
	du    []*mat.VecDense
}

// resize reallocates every array for a new horizon. Nothing is preserved.
func (st *stages) resize(K, n, m int, dt float64) {
	*st = stages{K: K, n: n, m: m}

	st.x = make([]dynamo.State, K+1)
	st.t = make([]float64, K+1)
	st.xShot = make([]dynamo.State, K+1)
	st.q = make([]float64, K+1)
	st.qv = make([]*mat.VecDense, K+1)
	st.Q = make([]*mat.Dense, K+1)
	st.S = make([]*mat.Dense, K+1)
	st.sv = make([]*mat.VecDense, K+1)
	st.d = make([]*mat.VecDense, K+1)
	st.lx = make([]*mat.VecDense, K+1)
	for k := 0; k <= K; k++ {
		st.x[k] = make(dynamo.State, n)
		st.t[k] = float64(k) * dt
		st.xShot[k] = make(dynamo.State, n)
		st.qv[k] = mat.NewVecDense(n, nil)
		st.Q[k] = mat.NewDense(n, n, nil)
		st.S[k] = mat.NewDense(n, n, nil)
		st.sv[k] = mat.NewVecDense(n, nil)
		st.d[k] = mat.NewVecDense(n, nil)
		st.lx[k] = mat.NewVecDense(n, nil)
	}

	st.uff = make([]dynamo.Control, K)
	st.L = make([]*mat.Dense, K)
	st.A = make([]*mat.Dense, K)
	st.B = make([]*mat.Dense, K)
	st.P = make([]*mat.Dense, K)
	st.rv = make([]*mat.VecDense, K)
	st.R = make([]*mat.Dense, K)
	st.G = make([]*mat.Dense, K)
	st.H = make([]*mat.Dense, K)
	st.Hi = make([]*mat.Dense, K)
	st.HiInv = make([]*mat.Dense, K)
	st.gv = make([]*mat.VecDense, K)
	st.lv = make([]*mat.VecDense, K)
	st.du = make([]*mat.VecDense, K)
	for k := 0; k < K; k++ {
		st.uff[k] = make(dynamo.Control, m)
		st.L[k] = mat.NewDense(m, n, nil)
		st.A[k] = mat.NewDense(n, n, nil)
		st.B[k] = mat.NewDense(n, m, nil)
		st.P[k] = mat.NewDense(m, n, nil)
		st.rv[k] = mat.NewVecDense(m, nil)
		st.R[k] = mat.NewDense(m, m, nil)
		st.G[k] = mat.NewDense(m, n, nil)
		st.H[k] = mat.NewDense(m, m, nil)
		st.Hi[k] = mat.NewDense(m, m, nil)
		st.HiInv[k] = mat.NewDense(m, m, nil)
		st.gv[k] = mat.NewVecDense(m, nil)
		st.lv[k] = mat.NewVecDense(m, nil)
		st.du[k] = mat.NewVecDense(m, nil)
	}
}

// trajectory copies out the stored states and feedforward controls.
func (st *stages) trajectory() Trajectory {
	return Trajectory{States: st.x, Controls: st.uff, Times: st.t}.Clone()
}

func (st *stages) policy() Policy {
	gains := make([]*mat.Dense, len(st.L))
	for k, l := range st.L {
		gains[k] = mat.DenseCopyOf(l)
	}
	return Policy{Trajectory: st.trajectory(), Gains: gains}
}

// commit installs a rollout result as the stored trajectory.
func (st *stages) commit(tr Trajectory) {
	for k := range st.x {
		copy(st.x[k], tr.States[k])
	}
	for k := range st.uff {
		copy(st.uff[k], tr.Controls[k])
	}
}
