package compute

import (
	"runtime"
	"sync/atomic"

	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// rowsPerWorker is the smallest slice of rows worth a goroutine.
const rowsPerWorker = 32

type CPUBackend struct {
	workers atomic.Int64
}

func NewCPUBackend() *CPUBackend {
	return NewCPUBackendWorkers(runtime.NumCPU())
}

func NewCPUBackendWorkers(n int) *CPUBackend {
	c := &CPUBackend{}
	c.SetWorkers(n)
	return c
}

func (c *CPUBackend) Name() string { return "cpu" }

func (c *CPUBackend) Workers() int { return int(c.workers.Load()) }

func (c *CPUBackend) SetWorkers(n int) int {
	if n < 1 {
		n = 1
	}
	return int(c.workers.Swap(int64(n)))
}

func (c *CPUBackend) MulVec(dst *mat.VecDense, a mat.Matrix, x mat.Vector) {
	c.mulVec(dst, a, x, false)
}

func (c *CPUBackend) MulVecAdd(dst *mat.VecDense, a mat.Matrix, x mat.Vector) {
	c.mulVec(dst, a, x, true)
}

func (c *CPUBackend) mulVec(dst *mat.VecDense, a mat.Matrix, x mat.Vector, accumulate bool) {
	rows, cols := a.Dims()
	if x.Len() != cols || dst.Len() != rows {
		panic(mat.ErrShape)
	}

	dense, isDense := a.(*mat.Dense)
	xs := make([]float64, cols)
	for j := range xs {
		xs[j] = x.AtVec(j)
	}

	dynamo.ParallelFor(rows, rowsPerWorker, c.Workers(), func(start, end int) {
		for i := start; i < end; i++ {
			sum := 0.0
			if isDense {
				for j, v := range dense.RawRowView(i) {
					sum += v * xs[j]
				}
			} else {
				for j := 0; j < cols; j++ {
					sum += a.At(i, j) * xs[j]
				}
			}
			if accumulate {
				sum += dst.AtVec(i)
			}
			dst.SetVec(i, sum)
		}
	})
}
