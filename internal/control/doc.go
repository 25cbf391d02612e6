// Package control turns optimizer output into feedback controllers for
// closed-loop simulation.
//
// Controllers implement [dynamo.Controller]:
//
//   - [Policy]: time-varying affine feedback u = u_ff + L (x − x_ref) built
//     from a solved horizon
//   - [Constant]: a fixed control vector, zero for [NewNone]
//
// # Usage
//
//	pol, err := control.NewPolicy(solver.Solution(), settings.Dt)
//	s := sim.New(sys, integ, pol)
//
// Controllers implementing [dynamo.Configurable] support live tuning.
package control
