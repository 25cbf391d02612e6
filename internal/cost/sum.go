package cost

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"gonum.org/v1/gonum/mat"
)

// Sum adds several cost terms. It needs at least one term.
type Sum struct {
	Terms []dynamo.CostFunction
}

func NewSum(terms ...dynamo.CostFunction) *Sum {
	return &Sum{Terms: terms}
}

func (s *Sum) Intermediate(x dynamo.State, u dynamo.Control, t float64) float64 {
	total := 0.0
	for _, term := range s.Terms {
		total += term.Intermediate(x, u, t)
	}
	return total
}

func (s *Sum) Terminal(x dynamo.State, t float64) float64 {
	total := 0.0
	for _, term := range s.Terms {
		total += term.Terminal(x, t)
	}
	return total
}

func (s *Sum) Approximate(x dynamo.State, u dynamo.Control, t float64) dynamo.StageCost {
	acc := s.Terms[0].Approximate(x, u, t)
	for _, term := range s.Terms[1:] {
		addStage(&acc, term.Approximate(x, u, t))
	}
	return acc
}

func (s *Sum) ApproximateTerminal(x dynamo.State, t float64) dynamo.StageCost {
	acc := s.Terms[0].ApproximateTerminal(x, t)
	for _, term := range s.Terms[1:] {
		addStage(&acc, term.ApproximateTerminal(x, t))
	}
	return acc
}

func (s *Sum) Clone() dynamo.CostFunction {
	terms := make([]dynamo.CostFunction, len(s.Terms))
	for i, term := range s.Terms {
		terms[i] = term.Clone()
	}
	return &Sum{Terms: terms}
}

func addStage(dst *dynamo.StageCost, src dynamo.StageCost) {
	dst.Value += src.Value
	addVec(&dst.Qv, src.Qv)
	addVec(&dst.Rv, src.Rv)
	addMat(&dst.Q, src.Q)
	addMat(&dst.P, src.P)
	addMat(&dst.R, src.R)
}

func addVec(dst **mat.VecDense, src *mat.VecDense) {
	if src == nil {
		return
	}
	if *dst == nil {
		*dst = mat.VecDenseCopyOf(src)
		return
	}
	(*dst).AddVec(*dst, src)
}

func addMat(dst **mat.Dense, src *mat.Dense) {
	if src == nil {
		return
	}
	if *dst == nil {
		*dst = mat.DenseCopyOf(src)
		return
	}
	(*dst).Add(*dst, src)
}
