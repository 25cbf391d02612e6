package gnms

import (
	"context"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/integrators"
	"gonum.org/v1/gonum/mat"
)

// RolloutRequest describes a forward simulation under the affine policy
// u_k = Feedforward[k] + Gains[k]·(x_k − Reference[k]). Gains and Reference
// are optional but must be given together.
type RolloutRequest struct {
	X0          dynamo.State
	Feedforward []dynamo.Control
	Gains       []*mat.Dense
	Reference   []dynamo.State
}

// Rollout simulates req on the caller's context. A false result with a nil
// error means the rollout diverged or was cancelled; the trajectory is then
// empty. The stored solver state is not touched.
func (s *Solver) Rollout(ctx context.Context, req RolloutRequest) (Trajectory, bool, error) {
	return s.rollout(ctx, s.main(), req)
}

func (s *Solver) rollout(ctx context.Context, w *workerContext, req RolloutRequest) (Trajectory, bool, error) {
	K := s.st.K
	n, m := w.sys.StateDim(), w.sys.ControlDim()

	switch {
	case len(req.X0) != n:
		return Trajectory{}, false, dynamo.Configf("rollout initial state has %d entries, want %d", len(req.X0), n)
	case len(req.Feedforward) != K:
		return Trajectory{}, false, dynamo.Configf("rollout needs %d controls, got %d", K, len(req.Feedforward))
	case req.Gains != nil && (len(req.Gains) != K || len(req.Reference) < K):
		return Trajectory{}, false, dynamo.Configf("rollout gains and reference must cover %d stages", K)
	}

	integ, err := w.integ.For(s.settings.Integrator, w.sys)
	if err != nil {
		return Trajectory{}, false, err
	}
	dt, dtSim, steps := s.settings.Dt, s.settings.DtSim, s.settings.Substeps()

	tr := Trajectory{
		States:   make([]dynamo.State, 0, K+1),
		Controls: make([]dynamo.Control, 0, K),
		Times:    make([]float64, 0, K+1),
	}
	x := req.X0.Clone()
	tr.States = append(tr.States, x.Clone())
	tr.Times = append(tr.Times, 0)

	feedback := mat.NewVecDense(m, nil)
	for k := 0; k < K; k++ {
		if ctx.Err() != nil {
			return Trajectory{}, false, nil
		}

		u := req.Feedforward[k].Clone()
		if len(u) != m {
			return Trajectory{}, false, dynamo.Configf("control %d has %d entries, want %d", k, len(u), m)
		}
		if req.Gains != nil {
			dx := x.Sub(req.Reference[k])
			feedback.MulVec(req.Gains[k], dx.Vec())
			for i := range u {
				u[i] += feedback.AtVec(i)
			}
		}
		if !u.IsValid() {
			return Trajectory{}, false, nil
		}

		integrators.Integrate(integ, w.sys, x, u, float64(k)*dt, dtSim, steps)
		if !x.IsValid() {
			return Trajectory{}, false, nil
		}

		tr.Controls = append(tr.Controls, u)
		tr.States = append(tr.States, x.Clone())
		tr.Times = append(tr.Times, float64(k+1)*dt)
	}

	if len(tr.States) != K+1 || len(tr.Controls) != K {
		return Trajectory{}, false, dynamo.Configf("rollout produced %d states and %d controls for %d stages", len(tr.States), len(tr.Controls), K)
	}
	return tr, true, nil
}

// rolloutPolicy simulates the stored policy from the initial state.
func (s *Solver) rolloutPolicy(ctx context.Context) (Trajectory, bool, error) {
	st := s.st
	return s.rollout(ctx, s.main(), RolloutRequest{
		X0:          st.x[0],
		Feedforward: st.uff,
		Gains:       st.L,
		Reference:   st.x,
	})
}
