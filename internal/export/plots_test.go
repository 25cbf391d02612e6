package export

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	. "github.com/onsi/gomega"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/gnms"
)

func sample() gnms.Trajectory {
	return gnms.Trajectory{
		States:   []dynamo.State{{0, 0}, {0.1, 1}, {0.3, 1.5}, {0.4, 0.5}},
		Controls: []dynamo.Control{{1}, {0.5}, {-1}},
		Times:    []float64{0, 0.1, 0.2, 0.3},
	}
}

func history() []gnms.Diagnostics {
	return []gnms.Diagnostics{
		{Iteration: 0, TotalCost: 100},
		{Iteration: 1, TotalCost: 1},
		{Iteration: 2, TotalCost: 0},
	}
}

func TestSaveAll(t *testing.T) {
	for _, format := range Formats {
		t.Run(format, func(t *testing.T) {
			g := NewWithT(t)
			dir := filepath.Join(t.TempDir(), "figures")
			paths, err := SaveAll(dir, format, "pendulum", sample(), history())
			g.Expect(err).NotTo(HaveOccurred())
			g.Expect(paths).To(HaveLen(3))
			for _, p := range paths {
				info, err := os.Stat(p)
				g.Expect(err).NotTo(HaveOccurred())
				g.Expect(info.Size()).To(BeNumerically(">", 0))
				g.Expect(filepath.Ext(p)).To(Equal("." + format))
			}
		})
	}
}

func TestSaveAllWithoutHistory(t *testing.T) {
	g := NewWithT(t)
	paths, err := SaveAll(t.TempDir(), "PNG", "", sample(), nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(paths).To(HaveLen(2))
}

func TestSaveAllRejectsUnknownFormat(t *testing.T) {
	g := NewWithT(t)
	_, err := SaveAll(t.TempDir(), "bmp", "", sample(), nil)
	g.Expect(err).To(MatchError(dynamo.ErrConfiguration))
}

func TestPlotErrors(t *testing.T) {
	g := NewWithT(t)

	_, err := StatePlot(gnms.Trajectory{}, "")
	g.Expect(err).To(MatchError(dynamo.ErrInputShape))

	short := sample()
	short.Times = short.Times[:2]
	_, err = ControlPlot(short, "")
	g.Expect(err).To(MatchError(dynamo.ErrInputShape))

	_, err = CostPlot([]gnms.Diagnostics{{TotalCost: 0}, {TotalCost: math.Inf(1)}})
	g.Expect(err).To(MatchError(dynamo.ErrInputShape))

	bad := sample()
	bad.States[2] = dynamo.State{math.NaN(), 0}
	_, err = StatePlot(bad, "pendulum")
	g.Expect(err).To(HaveOccurred())
}

func TestCostPlotSkipsNonPositive(t *testing.T) {
	g := NewWithT(t)
	p, err := CostPlot(history())
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(p.Title.Text).To(Equal("Cost"))
	g.Expect(p.Y.Min).To(BeNumerically("~", 1, 1e-12))
	g.Expect(p.Y.Max).To(BeNumerically("~", 100, 1e-12))
}
