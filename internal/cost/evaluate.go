package cost

import "github.com/san-kum/trajopt/internal/dynamo"

// Evaluate returns the total cost of a trajectory: the intermediate cost of
// every stage weighted by dt plus the terminal cost of the last state.
// times must have one entry per state.
func Evaluate(cf dynamo.CostFunction, states []dynamo.State, controls []dynamo.Control, times []float64, dt float64) float64 {
	total := 0.0
	for k, u := range controls {
		total += dt * cf.Intermediate(states[k], u, times[k])
	}
	last := len(states) - 1
	return total + cf.Terminal(states[last], times[last])
}
