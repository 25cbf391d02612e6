// Package dynamo provides the core primitives shared by the optimizer and
// the simulation tooling.
//
// The package defines the capabilities the trajectory optimizer consumes
// without owning their implementation:
//
//   - [State], [Control]: plain vectors
//   - [System]: ODE dynamics (dX/dt = f(X, u, t)) with deep cloning
//   - [LinearSystem]: Jacobian provider for a System
//   - [CostFunction]: intermediate and terminal cost with derivatives
//   - [Integrator]: fixed-step numerical integrator
//   - [Pool]: fixed-size worker pool for stage-parallel work
//
// # Example
//
//	dyn := physics.NewPendulum()
//	lin := linearize.NewNumerical(dyn)
//	cf := cost.NewQuadratic(q, r, qf, target, nil)
//	solver, _ := gnms.New(gnms.Problem{X0: x0, Horizon: 2, System: dyn, Linear: lin, Cost: cf}, gnms.DefaultSettings())
//
// # Thread Safety
//
// Systems, Jacobian providers and cost functions are NOT assumed to be
// thread-safe. Every worker of a [Pool] owns its own clone obtained through
// the Clone method.
package dynamo
