package metrics

import (
	"math"

	"github.com/san-kum/trajopt/internal/dynamo"
)

// Reference yields the nominal state at time t.
type Reference func(t float64) dynamo.State

// TrackingError is the root mean square distance between the observed
// states and a reference.
type TrackingError struct {
	ref     Reference
	sumSq   float64
	worst   float64
	samples int
}

func NewTrackingError(ref Reference) *TrackingError {
	return &TrackingError{ref: ref}
}

func (e *TrackingError) Name() string { return "tracking_rmse" }

func (e *TrackingError) Observe(x dynamo.State, u dynamo.Control, t float64) {
	d := x.Sub(e.ref(t)).Norm()
	e.sumSq += d * d
	e.worst = math.Max(e.worst, d)
	e.samples++
}

func (e *TrackingError) Value() float64 {
	if e.samples == 0 {
		return 0
	}
	return math.Sqrt(e.sumSq / float64(e.samples))
}

// Max is the largest distance seen.
func (e *TrackingError) Max() float64 { return e.worst }

func (e *TrackingError) Reset() {
	e.sumSq = 0
	e.worst = 0
	e.samples = 0
}
