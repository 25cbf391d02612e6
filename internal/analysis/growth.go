package analysis

import (
	"fmt"
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// StageGrowth returns the spectral norm of each closed-loop stage map
// A_k + B_k·L_k, where u = u_k + L_k·(x − x_k). A value below one means
// the stage shrinks every deviation.
func StageGrowth(A, B, L []*mat.Dense) ([]float64, error) {
	if len(A) != len(B) || len(A) != len(L) {
		return nil, dynamo.Shapef("got %d state, %d input and %d gain matrices", len(A), len(B), len(L))
	}

	growth := make([]float64, len(A))
	var cl mat.Dense
	var svd mat.SVD
	for k := range A {
		n, _ := A[k].Dims()
		br, bc := B[k].Dims()
		lr, lc := L[k].Dims()
		if br != n || lr != bc || lc != n {
			return nil, dynamo.Shapef("stage %d: B is %dx%d and L is %dx%d for %d states", k, br, bc, lr, lc, n)
		}

		cl.Reset()
		cl.Mul(B[k], L[k])
		cl.Add(&cl, A[k])
		if !svd.Factorize(&cl, mat.SVDNone) {
			return nil, fmt.Errorf("stage %d: %w: singular value decomposition failed", k, dynamo.ErrNumerical)
		}
		growth[k] = svd.Values(nil)[0]
	}
	return growth, nil
}

// ContractionRate is the mean of ln StageGrowth per second of horizon. It
// bounds the closed-loop Lyapunov exponent of the linearized model from
// above.
func ContractionRate(A, B, L []*mat.Dense, dt float64) (float64, error) {
	if len(A) == 0 || dt <= 0 {
		return 0, dynamo.Configf("contraction rate needs stages and a positive dt")
	}
	growth, err := StageGrowth(A, B, L)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, g := range growth {
		sum += math.Log(g)
	}
	return sum / (float64(len(growth)) * dt), nil
}
