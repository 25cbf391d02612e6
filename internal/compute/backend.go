package compute

import "gonum.org/v1/gonum/mat"

// Backend performs the dense matrix-vector products of the optimizer.
// Its internal parallelism is adjustable so callers running their own
// worker pools can switch it off for the duration of a parallel region.
type Backend interface {
	Name() string
	Workers() int
	// SetWorkers installs n workers and returns the previous count.
	SetWorkers(n int) int
	// MulVec computes dst = a·x.
	MulVec(dst *mat.VecDense, a mat.Matrix, x mat.Vector)
	// MulVecAdd computes dst += a·x.
	MulVecAdd(dst *mat.VecDense, a mat.Matrix, x mat.Vector)
}

var activeBackend Backend = NewCPUBackend()

func SetBackend(b Backend) {
	activeBackend = b
}

func GetBackend() Backend {
	return activeBackend
}
