package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/san-kum/trajopt/internal/gnms"
)

// Recorder exports per-iteration solver diagnostics. It implements
// gnms.Observer.
type Recorder struct {
	iterations prometheus.Counter
	rollouts   prometheus.Counter
	cost       prometheus.Gauge
	bestCost   prometheus.Gauge
	defect     prometheus.Gauge
	stepNorm   *prometheus.GaugeVec
	minEig     prometheus.Gauge
	phase      *prometheus.HistogramVec

	best float64
	seen bool
}

// NewRecorder registers the solver metrics on reg. problem is attached as a
// constant label so several solvers can share a registry.
func NewRecorder(reg prometheus.Registerer, problem string) *Recorder {
	f := promauto.With(reg)
	labels := prometheus.Labels{"problem": problem}

	return &Recorder{
		iterations: f.NewCounter(prometheus.CounterOpts{
			Name:        "trajopt_gnms_iterations_total",
			Help:        "Completed solver iterations",
			ConstLabels: labels,
		}),
		rollouts: f.NewCounter(prometheus.CounterOpts{
			Name:        "trajopt_gnms_rollouts_total",
			Help:        "Iterations that started from a fresh rollout",
			ConstLabels: labels,
		}),
		cost: f.NewGauge(prometheus.GaugeOpts{
			Name:        "trajopt_gnms_cost",
			Help:        "Total cost at the last linearization point",
			ConstLabels: labels,
		}),
		bestCost: f.NewGauge(prometheus.GaugeOpts{
			Name:        "trajopt_gnms_best_cost",
			Help:        "Lowest total cost seen",
			ConstLabels: labels,
		}),
		defect: f.NewGauge(prometheus.GaugeOpts{
			Name:        "trajopt_gnms_defect_norm",
			Help:        "Sum of shooting defect norms",
			ConstLabels: labels,
		}),
		stepNorm: f.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "trajopt_gnms_update_norm",
			Help:        "Norm of the last step by variable",
			ConstLabels: labels,
		}, []string{"variable"}),
		minEig: f.NewGauge(prometheus.GaugeOpts{
			Name:        "trajopt_gnms_min_hessian_eigenvalue",
			Help:        "Smallest control Hessian eigenvalue seen, when recorded",
			ConstLabels: labels,
		}),
		phase: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "trajopt_gnms_phase_duration_seconds",
			Help:        "Time spent per iteration phase",
			ConstLabels: labels,
			Buckets:     prometheus.ExponentialBuckets(1e-5, 4, 10),
		}, []string{"phase"}),
	}
}

func (r *Recorder) OnIteration(d gnms.Diagnostics) {
	r.iterations.Inc()
	if d.Rollout {
		r.rollouts.Inc()
	}
	r.cost.Set(d.TotalCost)
	if !r.seen || d.TotalCost < r.best {
		r.best, r.seen = d.TotalCost, true
		r.bestCost.Set(d.TotalCost)
	}
	r.defect.Set(d.DefectNorm)
	r.stepNorm.WithLabelValues("state").Set(d.StateUpdateNorm)
	r.stepNorm.WithLabelValues("control").Set(d.ControlUpdateNorm)
	r.minEig.Set(d.SmallestEigenvalue)

	r.phase.WithLabelValues("rollout").Observe(d.RolloutTime.Seconds())
	r.phase.WithLabelValues("linearize").Observe(d.LinearizeTime.Seconds())
	r.phase.WithLabelValues("shots").Observe(d.ShotTime.Seconds())
	r.phase.WithLabelValues("backward").Observe(d.BackwardTime.Seconds())
	r.phase.WithLabelValues("forward").Observe(d.ForwardTime.Seconds())
}
