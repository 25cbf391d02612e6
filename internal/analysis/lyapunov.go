package analysis

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// LyapunovExponent estimates the largest finite-time Lyapunov exponent of
// dyn in closed loop with ctrl, using the trajectory separation method:
// a copy of x0 offset by perturbation along the first state is stepped
// alongside the nominal run and renormalized to the initial separation
// after every step.
//
//	λ ≈ (1/T) Σ ln(|δx_k| / |δx_0|)
//
// It returns NaN when either run leaves the valid state space.
func LyapunovExponent(
	dyn dynamo.System,
	integ dynamo.Integrator,
	ctrl dynamo.Controller,
	x0 dynamo.State,
	dt, duration float64,
	perturbation float64,
) float64 {
	if len(x0) == 0 {
		return 0
	}
	xp := x0.Clone()
	xp[0] += perturbation
	return separation(dyn, integ, ctrl, x0, xp, dt, duration, perturbation)
}

// LyapunovSpectrum perturbs each state dimension independently and returns
// one exponent per dimension.
func LyapunovSpectrum(
	dyn dynamo.System,
	integ dynamo.Integrator,
	ctrl dynamo.Controller,
	x0 dynamo.State,
	dt, duration float64,
	perturbation float64,
) []float64 {
	spectrum := make([]float64, len(x0))
	for i := range x0 {
		xp := x0.Clone()
		xp[i] += perturbation
		spectrum[i] = separation(dyn, integ, ctrl, x0, xp, dt, duration, perturbation)
	}
	return spectrum
}

func separation(
	dyn dynamo.System,
	integ dynamo.Integrator,
	ctrl dynamo.Controller,
	x0, x0p dynamo.State,
	dt, duration, d0 float64,
) float64 {
	if d0 <= 0 || dt <= 0 {
		return 0
	}
	x, xp := x0.Clone(), x0p.Clone()

	t := 0.0
	sumLog := 0.0
	for t < duration-dt/2 {
		u, up := ctrl.Compute(x, t), ctrl.Compute(xp, t)
		x = integ.Step(dyn, x, u, t, dt)
		xp = integ.Step(dyn, xp, up, t, dt)
		t += dt
		if !x.IsValid() || !xp.IsValid() {
			return math.NaN()
		}

		sep := xp.Sub(x).Norm()
		if sep == 0 {
			// the perturbation was absorbed completely
			return math.Inf(-1)
		}
		sumLog += math.Log(sep / d0)

		// keep the offset in the linear regime
		scale := d0 / sep
		for i := range xp {
			xp[i] = x[i] + (xp[i]-x[i])*scale
		}
	}

	if t == 0 {
		return 0
	}
	return sumLog / t
}
