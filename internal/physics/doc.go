// Package physics provides controlled dynamical models for trajectory
// optimization.
//
// Each model implements [dynamo.System]:
//
//   - [Pendulum]: torque-actuated damped pendulum
//   - [CartPole]: pole on a force-driven cart
//   - [Drone]: planar quadrotor with two rotors
//   - [SpringMass]: chain of masses pushed at one end
//   - [DoubleWell]: forced particle in a bistable potential
//   - [Linear]: x' = A x + B u
//
// Models whose state is laid out as [positions, velocities] implement
// [dynamo.Symplectic] and can be integrated with the symplectic integrator
// family. Most models also implement [dynamo.Configurable] and
// [dynamo.Hamiltonian].
//
// Pendulum, Drone, SpringMass, DoubleWell and Linear expose exact Jacobians via a
// Jacobians method; wrap them with linearize.NewAnalytic to skip finite
// differences.
//
// # Energy Conservation
//
// For Hamiltonian systems, use [dynamo.Hamiltonian] to monitor energy drift:
//
//	dyn := physics.NewPendulum()
//	if h, ok := dyn.(dynamo.Hamiltonian); ok {
//	    energy := h.Energy(state)
//	}
package physics
