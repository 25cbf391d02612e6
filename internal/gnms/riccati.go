package gnms

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// regularize turns the control Hessian h into a positive definite hi and
// returns hiInv = −hi⁻¹. minEig is the smallest eigenvalue of the matrix
// the policy inspected (hi for the fixed correction, h for clipping), or NaN
// when record is false under the fixed correction.
func regularize(h *mat.Dense, policy Regularization, eps float64, record bool) (hi, hiInv *mat.Dense, minEig float64, err error) {
	m, _ := h.Dims()
	minEig = math.NaN()

	switch policy {
	case FixedCorrection:
		hi = mat.DenseCopyOf(h)
		if eps > minEpsilon {
			for i := 0; i < m; i++ {
				hi.Set(i, i, hi.At(i, i)+eps)
			}
		}

		if record {
			var es mat.EigenSym
			if es.Factorize(lowerSym(hi), false) {
				minEig = floats.Min(es.Values(nil))
			}
		}

		var chol mat.Cholesky
		if !chol.Factorize(lowerSym(hi)) {
			return nil, nil, minEig, fmt.Errorf("%w: control Hessian is not positive definite", dynamo.ErrNumerical)
		}
		var inv mat.SymDense
		if err := chol.InverseTo(&inv); err != nil {
			return nil, nil, minEig, fmt.Errorf("%w: control Hessian inverse: %v", dynamo.ErrNumerical, err)
		}
		hiInv = mat.DenseCopyOf(&inv)
		hiInv.Scale(-1, hiInv)

	case EigenClipping:
		var es mat.EigenSym
		if !es.Factorize(lowerSym(h), true) {
			return nil, nil, minEig, fmt.Errorf("%w: eigendecomposition of control Hessian failed", dynamo.ErrNumerical)
		}
		lambda := es.Values(nil)
		var v mat.Dense
		es.VectorsTo(&v)
		minEig = floats.Min(lambda)

		clipped := make([]float64, m)
		negInv := make([]float64, m)
		for i, l := range lambda {
			clipped[i] = math.Max(l, eps)
			if !(clipped[i] > 0) {
				return nil, nil, minEig, fmt.Errorf("%w: control Hessian eigenvalue %g with epsilon %g", dynamo.ErrNumerical, l, eps)
			}
			negInv[i] = -1 / clipped[i]
		}

		hi = reconstruct(&v, clipped)
		hiInv = reconstruct(&v, negInv)

	default:
		return nil, nil, minEig, dynamo.Configf("unknown regularization %q", policy)
	}

	return hi, hiInv, minEig, nil
}

// reconstruct returns V·diag(d)·Vᵀ.
func reconstruct(v *mat.Dense, d []float64) *mat.Dense {
	var vd, out mat.Dense
	vd.Mul(v, diagonal(d))
	out.Mul(&vd, v.T())
	return &out
}

// designController computes the gains of stage k from the cost-to-go of
// stage k+1.
func (s *Solver) designController(k int, diag *Diagnostics) error {
	st := s.st
	A, B := st.A[k], st.B[k]
	sNext := lowerSym(st.S[k+1])

	st.gv[k].MulVec(B.T(), st.sv[k+1])
	st.gv[k].AddVec(st.gv[k], st.rv[k])

	var bts mat.Dense
	bts.Mul(B.T(), sNext)

	st.G[k].Mul(&bts, A)
	st.G[k].Add(st.G[k], st.P[k])

	st.H[k].Mul(&bts, B)
	st.H[k].Add(st.H[k], st.R[k])

	record := s.settings.RecordEigenvalues
	hi, hiInv, minEig, err := regularize(st.H[k], s.settings.Regularization, s.settings.Epsilon, record)
	if err != nil {
		return fmt.Errorf("stage %d: %w", k, err)
	}
	if record && !math.IsNaN(minEig) {
		diag.SmallestEigenvalueIteration = math.Min(diag.SmallestEigenvalueIteration, minEig)
		s.smallestEigenvalue = math.Min(s.smallestEigenvalue, minEig)
	}
	st.Hi[k].Copy(hi)
	st.HiInv[k].Copy(hiInv)

	st.L[k].Mul(st.HiInv[k], st.G[k])
	st.lv[k].MulVec(st.HiInv[k], st.gv[k])
	if !finiteMat(st.L[k]) || !finiteVec(st.lv[k]) {
		return fmt.Errorf("%w: non-finite gains at stage %d", dynamo.ErrNumerical, k)
	}
	diag.ControlUpdateNorm += norm2(st.lv[k])
	return nil
}

// computeCostToGo updates S_k and sv_k. The A_kᵀ·S_{k+1}·d_k term carries
// the defect of stage k into the value function.
func (s *Solver) computeCostToGo(k int) {
	st := s.st
	A, L, Hi := st.A[k], st.L[k], st.Hi[k]
	sNext := st.S[k+1]

	var ats mat.Dense
	ats.Mul(A.T(), sNext)

	S := st.S[k]
	S.Mul(&ats, A)
	S.Add(S, st.Q[k])

	var hiL, ltHiL mat.Dense
	hiL.Mul(Hi, L)
	ltHiL.Mul(L.T(), &hiL)
	S.Sub(S, &ltHiL)
	symmetrize(S)

	sv := st.sv[k]
	sv.MulVec(A.T(), st.sv[k+1])
	sv.AddVec(sv, st.qv[k])

	var tmp mat.VecDense
	tmp.MulVec(&ats, st.d[k])
	sv.AddVec(sv, &tmp)

	var hiLv mat.VecDense
	hiLv.MulVec(Hi, st.lv[k])
	tmp.MulVec(L.T(), &hiLv)
	sv.AddVec(sv, &tmp)

	tmp.MulVec(L.T(), st.gv[k])
	sv.AddVec(sv, &tmp)

	tmp.MulVec(st.G[k].T(), st.lv[k])
	sv.AddVec(sv, &tmp)
}

// backwardPass runs the Riccati recursion from stage K−1 down to 0 on the
// caller goroutine.
func (s *Solver) backwardPass(diag *Diagnostics) error {
	for k := s.st.K - 1; k >= 0; k-- {
		if err := s.designController(k, diag); err != nil {
			return err
		}
		s.computeCostToGo(k)
	}
	if !finiteMat(s.st.S[0]) || !finiteVec(s.st.sv[0]) {
		return fmt.Errorf("%w: non-finite cost-to-go", dynamo.ErrNumerical)
	}
	return nil
}
