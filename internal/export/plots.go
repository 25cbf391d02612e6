// Package export renders optimized trajectories and solver histories as
// PNG, SVG or PDF figures with gonum/plot.
package export

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/gnms"
	"github.com/san-kum/trajopt/internal/viz"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

const (
	figureWidth  = 8 * vg.Inch
	figureHeight = 5 * vg.Inch
	pngDPI       = 150
)

// Formats lists the accepted output formats.
var Formats = []string{"png", "svg", "pdf"}

func limitedTicker(maxLabels int, labelFmt string) plot.Ticker {
	if maxLabels < 2 {
		maxLabels = 2
	}
	return plot.TickerFunc(func(min, max float64) []plot.Tick {
		if math.IsNaN(min) || math.IsNaN(max) || math.IsInf(min, 0) || math.IsInf(max, 0) {
			return nil
		}
		if min == max {
			return []plot.Tick{{Value: min, Label: fmt.Sprintf(labelFmt, min)}}
		}
		step := (max - min) / float64(maxLabels-1)
		ticks := make([]plot.Tick, 0, maxLabels)
		for i := 0; i < maxLabels; i++ {
			v := min + float64(i)*step
			ticks = append(ticks, plot.Tick{Value: v, Label: fmt.Sprintf(labelFmt, v)})
		}
		return ticks
	})
}

func newPlot(title, xlabel, ylabel string) *plot.Plot {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = xlabel
	p.Y.Label.Text = ylabel

	p.Title.TextStyle.Font.Size = vg.Points(16)
	p.Title.Padding = vg.Points(8)
	p.X.Label.TextStyle.Font.Size = vg.Points(12)
	p.Y.Label.TextStyle.Font.Size = vg.Points(12)
	p.X.Tick.Marker = limitedTicker(8, "%.2f")
	p.Legend.Top = true
	p.Add(plotter.NewGrid())
	return p
}

// StatePlot draws every state component against time.
func StatePlot(tr gnms.Trajectory, model string) (*plot.Plot, error) {
	if len(tr.States) == 0 || len(tr.Times) != len(tr.States) {
		return nil, dynamo.Shapef("%d states for %d times", len(tr.States), len(tr.Times))
	}
	p := newPlot("States", "time (s)", "state")
	for i, name := range viz.StateLabels(model, len(tr.States[0])) {
		pts := make(plotter.XYs, len(tr.States))
		for k, x := range tr.States {
			pts[k].X, pts[k].Y = tr.Times[k], x[i]
		}
		if err := addLine(p, pts, name, i, plotter.NoStep); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// ControlPlot draws the piecewise constant controls, each held until the
// next stage.
func ControlPlot(tr gnms.Trajectory, model string) (*plot.Plot, error) {
	K := len(tr.Controls)
	if K == 0 || len(tr.Times) != K+1 {
		return nil, dynamo.Shapef("%d controls for %d times", K, len(tr.Times))
	}
	p := newPlot("Controls", "time (s)", "control")
	for i, name := range viz.ControlLabels(model, len(tr.Controls[0])) {
		pts := make(plotter.XYs, K+1)
		for k, u := range tr.Controls {
			pts[k].X, pts[k].Y = tr.Times[k], u[i]
		}
		pts[K].X, pts[K].Y = tr.Times[K], tr.Controls[K-1][i]
		if err := addLine(p, pts, name, i, plotter.PostStep); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// CostPlot draws the total cost per iteration on a log scale. Iterations
// with a non-positive cost are left out.
func CostPlot(history []gnms.Diagnostics) (*plot.Plot, error) {
	pts := make(plotter.XYs, 0, len(history))
	for _, d := range history {
		if d.TotalCost > 0 && !math.IsInf(d.TotalCost, 0) {
			pts = append(pts, plotter.XY{X: float64(d.Iteration), Y: d.TotalCost})
		}
	}
	if len(pts) == 0 {
		return nil, dynamo.Shapef("no positive costs in %d iterations", len(history))
	}
	p := newPlot("Cost", "iteration", "total cost")
	p.X.Tick.Marker = limitedTicker(min(len(pts), 10), "%.0f")
	p.Y.Scale = plot.LogScale{}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}
	if err := addLine(p, pts, "", 0, plotter.NoStep); err != nil {
		return nil, err
	}
	return p, nil
}

func addLine(p *plot.Plot, pts plotter.XYs, name string, i int, step plotter.StepKind) error {
	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	line.StepStyle = step
	line.LineStyle.Width = vg.Points(1.5)
	line.LineStyle.Color = plotutil.Color(i)
	p.Add(line)
	if name != "" {
		p.Legend.Add(name, line)
	}
	return nil
}

// Save writes p to path. The extension selects the format.
func Save(p *plot.Plot, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create directory: %w", err)
	}
	if strings.ToLower(filepath.Ext(path)) != ".png" {
		return p.Save(figureWidth, figureHeight, path)
	}

	c := vgimg.NewWith(
		vgimg.UseWH(figureWidth, figureHeight),
		vgimg.UseDPI(pngDPI),
	)
	p.Draw(draw.New(c))

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		f.Close()
		return fmt.Errorf("cannot write png: %w", err)
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// SaveAll writes states, controls and, when history is not empty, cost
// figures to dir and returns their paths.
func SaveAll(dir, format, model string, tr gnms.Trajectory, history []gnms.Diagnostics) ([]string, error) {
	format = strings.ToLower(format)
	switch format {
	case "png", "svg", "pdf":
	default:
		return nil, dynamo.Configf("unknown figure format %q, want one of %v", format, Formats)
	}

	type figure struct {
		name string
		make func() (*plot.Plot, error)
	}
	figures := []figure{
		{"states", func() (*plot.Plot, error) { return StatePlot(tr, model) }},
		{"controls", func() (*plot.Plot, error) { return ControlPlot(tr, model) }},
	}
	if len(history) > 0 {
		figures = append(figures, figure{"cost", func() (*plot.Plot, error) { return CostPlot(history) }})
	}

	paths := make([]string, 0, len(figures))
	for _, f := range figures {
		p, err := f.make()
		if err != nil {
			return paths, fmt.Errorf("%s figure: %w", f.name, err)
		}
		path := filepath.Join(dir, f.name+"."+format)
		if err := Save(p, path); err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}
