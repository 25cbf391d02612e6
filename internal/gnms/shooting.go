package gnms

import (
	"fmt"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
)

// updateShot refreshes shot k and its defect. After a reset the shot is
// integrated for one stage from x_k itself; otherwise it follows the linear
// sensitivity of the last accepted step, A_k·lx_k + B_k·du_k, where du_k is
// the full control correction including feedback (see forwardStep). The
// terminal defect is zero.
func (s *Solver) updateShot(w *workerContext, k int) error {
	st := s.st
	if k == st.K {
		copy(st.xShot[k], st.x[k])
		st.d[k].Zero()
		return nil
	}

	shot := st.xShot[k]
	if s.integrateShots {
		integ, err := w.integ.For(s.settings.Integrator, w.sys)
		if err != nil {
			return err
		}
		copy(shot, st.x[k])
		integrators.Integrate(integ, w.sys, shot, st.uff[k], st.t[k], s.settings.DtSim, s.settings.Substeps())
	} else {
		v := shot.Vec()
		s.backend.MulVecAdd(v, st.A[k], st.lx[k])
		s.backend.MulVecAdd(v, st.B[k], st.du[k])
	}
	if !shot.IsValid() {
		return fmt.Errorf("%w: shot %d diverged", dynamo.ErrUnstable, k)
	}

	next := st.x[k+1]
	for i := range shot {
		st.d[k].SetVec(i, shot[i]-next[i])
	}
	return nil
}

// forwardStep propagates the state correction through the linearized
// model: du_k = lv_k + L_k·lx_k and lx_{k+1} = A_k·lx_k + B_k·du_k + d_k,
// starting from lx_0 = 0. The input term is B_k·du_k and not B_k·lv_k: the
// feedback part L_k·lx_k is applied to the controls in applyStep, so the
// node update must see it too or the next defects would not close.
func (s *Solver) forwardStep(diag *Diagnostics) {
	st := s.st
	st.lx[0].Zero()
	for k := 0; k < st.K; k++ {
		du, lx, next := st.du[k], st.lx[k], st.lx[k+1]

		s.backend.MulVec(du, st.L[k], lx)
		du.AddVec(du, st.lv[k])

		s.backend.MulVec(next, st.A[k], lx)
		s.backend.MulVecAdd(next, st.B[k], du)
		next.AddVec(next, st.d[k])

		diag.StateUpdateNorm += norm2(next)
	}
}

// applyStep moves the stored trajectory by alpha times the correction.
func (s *Solver) applyStep(alpha float64) {
	st := s.st
	if alpha != 1 {
		for k := range st.lx {
			st.lx[k].ScaleVec(alpha, st.lx[k])
		}
		for k := range st.du {
			st.du[k].ScaleVec(alpha, st.du[k])
		}
	}
	for k := range st.x {
		for i := range st.x[k] {
			st.x[k][i] += st.lx[k].AtVec(i)
		}
	}
	for k := range st.uff {
		for i := range st.uff[k] {
			st.uff[k][i] += st.du[k].AtVec(i)
		}
	}
}
