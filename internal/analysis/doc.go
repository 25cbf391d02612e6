// Package analysis characterizes how a solved policy treats deviations from
// its nominal trajectory.
//
//   - [LyapunovExponent]: largest closed-loop exponent via trajectory separation
//   - [LyapunovSpectrum]: one exponent per perturbed state direction
//   - [StageGrowth]: spectral norm of each linearized closed-loop stage map
//   - [ContractionRate]: mean log growth per second along the horizon
//
// # Reading the numbers
//
// Negative exponents and rates mean the feedback gains pull perturbed
// states back toward the nominal trajectory:
//
//	lambda := analysis.LyapunovExponent(sys, integ, policy, x0, dt, horizon, 1e-6)
//	if lambda > 0 {
//	    // deviations grow despite feedback
//	}
package analysis
