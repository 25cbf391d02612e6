package gnms

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// linearizeStage computes A_k and B_k at the stored point of stage k.
func (s *Solver) linearizeStage(w *workerContext, k int) error {
	st := s.st
	dt := s.settings.Dt

	jx, ju := w.lin.Jacobians(st.x[k], st.uff[k], st.t[k])
	if r, c := jx.Dims(); r != st.n || c != st.n {
		return dynamo.Configf("state Jacobian is %dx%d, want %dx%d", r, c, st.n, st.n)
	}
	if r, c := ju.Dims(); r != st.n || c != st.m {
		return dynamo.Configf("control Jacobian is %dx%d, want %dx%d", r, c, st.n, st.m)
	}

	A, B := st.A[k], st.B[k]
	switch s.settings.Discretization {
	case ForwardEuler:
		A.Scale(dt, jx)
		A.Add(A, identity(st.n))
		B.Scale(dt, ju)

	case BackwardEuler:
		var lhs mat.Dense
		lhs.Scale(-dt, jx)
		lhs.Add(identity(st.n), &lhs)
		if err := A.Inverse(&lhs); err != nil {
			return fmt.Errorf("%w: backward euler at stage %d: %v", dynamo.ErrNumerical, k, err)
		}
		B.Mul(A, ju)
		B.Scale(dt, B)

	case Tustin:
		var lhs, rhs, inv mat.Dense
		lhs.Scale(-0.5*dt, jx)
		lhs.Add(identity(st.n), &lhs)
		rhs.Scale(0.5*dt, jx)
		rhs.Add(identity(st.n), &rhs)
		if err := inv.Inverse(&lhs); err != nil {
			return fmt.Errorf("%w: tustin at stage %d: %v", dynamo.ErrNumerical, k, err)
		}
		A.Mul(&inv, &rhs)
		B.Mul(&inv, ju)
		B.Scale(dt, B)

	default:
		return dynamo.Configf("unknown discretization %q", s.settings.Discretization)
	}

	if !finiteMat(A) || !finiteMat(B) {
		return fmt.Errorf("%w: non-finite linearization at stage %d", dynamo.ErrNumerical, k)
	}
	return nil
}

// approximateStage evaluates the dt-weighted quadratic cost model of stage k.
func (s *Solver) approximateStage(w *workerContext, k int) error {
	st := s.st
	dt := s.settings.Dt

	c := w.cost.Approximate(st.x[k], st.uff[k], st.t[k])
	if c.Qv == nil || c.Q == nil || c.Rv == nil || c.R == nil {
		return dynamo.Configf("cost approximation at stage %d is incomplete", k)
	}

	st.q[k] = dt * c.Value
	st.qv[k].ScaleVec(dt, c.Qv)
	st.Q[k].Scale(dt, c.Q)
	st.rv[k].ScaleVec(dt, c.Rv)
	st.R[k].Scale(dt, c.R)
	if c.P != nil {
		st.P[k].Scale(dt, c.P)
	} else {
		st.P[k].Zero()
	}
	return nil
}

// initializeCostToGo evaluates the terminal cost and seeds S_K and sv_K.
func (s *Solver) initializeCostToGo(w *workerContext) error {
	st := s.st
	K := st.K

	c := w.cost.ApproximateTerminal(st.x[K], st.t[K])
	if c.Qv == nil || c.Q == nil {
		return dynamo.Configf("terminal cost approximation is incomplete")
	}

	st.q[K] = c.Value
	st.qv[K].CopyVec(c.Qv)
	st.Q[K].Copy(c.Q)
	st.S[K].Copy(c.Q)
	st.sv[K].CopyVec(c.Qv)
	return nil
}
