package metrics

import (
	"math"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/gnms"
	"github.com/san-kum/trajopt/internal/physics"
)

func TestControlEffort(t *testing.T) {
	g := NewWithT(t)
	m := NewControlEffort()
	g.Expect(m.Value()).To(Equal(0.0))

	m.Observe(nil, dynamo.Control{1, -2}, 0)
	m.Observe(nil, dynamo.Control{0, 1}, 0.1)
	g.Expect(m.Value()).To(Equal(2.0))

	m.Reset()
	g.Expect(m.Value()).To(Equal(0.0))
}

func TestEnergyDrift(t *testing.T) {
	g := NewWithT(t)
	p := physics.NewPendulum()
	m := NewEnergyDrift(p)

	x := dynamo.State{math.Pi / 4, 0}
	m.Observe(x, nil, 0)
	m.Observe(x, nil, 0.1)
	g.Expect(m.Value()).To(Equal(0.0))

	e0 := p.Energy(x)
	m.Observe(dynamo.State{math.Pi / 4, 1}, nil, 0.2)
	want := math.Abs(p.Energy(dynamo.State{math.Pi / 4, 1})-e0) / math.Abs(e0)
	g.Expect(m.Value()).To(BeNumerically("~", want, 1e-12))

	m.Reset()
	g.Expect(m.Value()).To(Equal(0.0))

	// no energy function
	lin := NewEnergyDrift(physics.NewDoubleIntegrator())
	lin.Observe(dynamo.State{1, 1}, nil, 0)
	g.Expect(lin.Value()).To(Equal(0.0))
}

func TestStability(t *testing.T) {
	g := NewWithT(t)
	m := NewStability(1)
	g.Expect(m.Value()).To(Equal(1.0))

	m.Observe(dynamo.State{0.5, 0.5}, nil, 0)
	m.Observe(dynamo.State{0.5, 2}, nil, 0)
	m.Observe(dynamo.State{math.NaN(), 0}, nil, 0)
	m.Observe(dynamo.State{-1, 1}, nil, 0)
	g.Expect(m.Value()).To(Equal(0.5))
}

func TestTrackingError(t *testing.T) {
	g := NewWithT(t)
	m := NewTrackingError(func(t float64) dynamo.State { return dynamo.State{t, 0} })

	m.Observe(dynamo.State{0, 0}, nil, 0)
	m.Observe(dynamo.State{1, 1}, nil, 1)
	m.Observe(dynamo.State{2, 0}, nil, 1)
	g.Expect(m.Value()).To(BeNumerically("~", math.Sqrt(2.0/3.0), 1e-12))
	g.Expect(m.Max()).To(Equal(1.0))
	g.Expect(m.Name()).To(Equal("tracking_rmse"))
}

func TestRecorder(t *testing.T) {
	g := NewWithT(t)
	reg := prometheus.NewRegistry()
	r := NewRecorder(reg, "pendulum")

	var _ gnms.Observer = r
	r.OnIteration(gnms.Diagnostics{TotalCost: 3, DefectNorm: 0.5, Rollout: true, ControlUpdateNorm: 0.2})
	r.OnIteration(gnms.Diagnostics{TotalCost: 4, DefectNorm: 0.1, ControlUpdateNorm: 0.1})

	g.Expect(testutil.ToFloat64(r.iterations)).To(Equal(2.0))
	g.Expect(testutil.ToFloat64(r.rollouts)).To(Equal(1.0))
	g.Expect(testutil.ToFloat64(r.cost)).To(Equal(4.0))
	g.Expect(testutil.ToFloat64(r.bestCost)).To(Equal(3.0))
	g.Expect(testutil.ToFloat64(r.defect)).To(Equal(0.1))
	g.Expect(testutil.ToFloat64(r.stepNorm.WithLabelValues("control"))).To(Equal(0.1))

	n, err := testutil.GatherAndCount(reg, "trajopt_gnms_phase_duration_seconds")
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(n).To(Equal(5))

	// a second problem can share the registry
	g.Expect(func() { NewRecorder(reg, "cartpole") }).NotTo(Panic())
}
