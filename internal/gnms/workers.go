package gnms

import (
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
)

// workerContext holds the private collaborators of one execution context.
// The solver keeps Threads of them for the pool plus one for the caller
// goroutine.
type workerContext struct {
	sys   dynamo.System
	lin   dynamo.LinearSystem
	cost  dynamo.CostFunction
	integ *integrators.Set
}

func newWorkerContexts(n int) []*workerContext {
	ws := make([]*workerContext, n)
	for i := range ws {
		ws[i] = &workerContext{integ: integrators.NewSet()}
	}
	return ws
}

// main returns the context reserved for the caller goroutine.
func (s *Solver) main() *workerContext {
	return s.workers[len(s.workers)-1]
}

func (s *Solver) cloneSystem(sys dynamo.System) {
	for _, w := range s.workers {
		w.sys = sys.Clone()
		w.integ = integrators.NewSet()
	}
}

func (s *Solver) cloneLinear(lin dynamo.LinearSystem) {
	for _, w := range s.workers {
		w.lin = lin.Clone()
	}
}

func (s *Solver) cloneCost(cf dynamo.CostFunction) {
	for _, w := range s.workers {
		w.cost = cf.Clone()
	}
}
