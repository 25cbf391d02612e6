package viz

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/gnms"
)

const maxCharts = 6

var stateLabels = map[string][]string{
	"pendulum":          {"theta", "omega"},
	"cartpole":          {"cart position", "cart velocity", "pole angle", "pole angular velocity"},
	"drone":             {"x", "y", "theta", "vx", "vy", "omega"},
	"double_well":       {"position", "velocity"},
	"double_integrator": {"position", "velocity"},
}

var controlLabels = map[string][]string{
	"pendulum": {"torque"},
	"cartpole": {"force"},
	"drone":    {"left thrust", "right thrust"},
}

// StateLabels names the n state components of a model, falling back to
// x0, x1, ...
func StateLabels(model string, n int) []string {
	return labels(stateLabels[model], "x", n)
}

func ControlLabels(model string, m int) []string {
	return labels(controlLabels[model], "u", m)
}

func labels(known []string, prefix string, n int) []string {
	if len(known) == n {
		return slices.Clone(known)
	}
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return out
}

// CostChart plots log10 of the total cost per iteration. It returns an
// empty string when fewer than two finite positive costs are available.
func CostChart(history []gnms.Diagnostics, width, height int) string {
	data := make([]float64, 0, len(history))
	for _, d := range history {
		if d.TotalCost > 0 && finite(d.TotalCost) {
			data = append(data, math.Log10(d.TotalCost))
		}
	}
	if len(data) < 2 {
		return ""
	}
	return asciigraph.Plot(data,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Precision(2),
		asciigraph.Caption("log10 cost per iteration"),
	)
}

// TrajectoryCharts plots every state and control component over time, at
// most six of each.
func TrajectoryCharts(tr gnms.Trajectory, model string, width, height int) string {
	var b strings.Builder
	if len(tr.States) > 0 {
		names := StateLabels(model, len(tr.States[0]))
		for i := 0; i < min(len(names), maxCharts); i++ {
			series := make([]float64, len(tr.States))
			for k, x := range tr.States {
				series[k] = x[i]
			}
			writeChart(&b, series, names[i], width, height)
		}
	}
	if len(tr.Controls) > 0 {
		names := ControlLabels(model, len(tr.Controls[0]))
		for i := 0; i < min(len(names), maxCharts); i++ {
			series := make([]float64, len(tr.Controls))
			for k, u := range tr.Controls {
				series[k] = u[i]
			}
			writeChart(&b, series, names[i], width, height)
		}
	}
	return b.String()
}

func writeChart(b *strings.Builder, series []float64, caption string, width, height int) {
	if len(series) < 2 || slices.ContainsFunc(series, func(v float64) bool { return !finite(v) }) {
		return
	}
	b.WriteString(asciigraph.Plot(series,
		asciigraph.Height(height),
		asciigraph.Width(width),
		asciigraph.Caption(caption),
	))
	b.WriteString("\n\n")
}

// Summary renders the outcome of a solve and, when ver is not nil, of its
// closed-loop verification.
func Summary(r *experiment.Report, ver *experiment.Verification) string {
	var b strings.Builder
	b.WriteString(HeaderStyle.Render(strings.ToUpper(r.Problem)) + "\n")

	status := StatusRunning.Render("converged")
	if !r.Succeeded {
		status = StatusFailed.Render("failed")
	}
	rows := []string{
		Row("status", status),
		Row("stages", r.Stages),
		Row("iterations", r.Iterations),
		Row("cost", r.Cost),
		Row("defect norm", r.DefectNorm),
		Row("elapsed", r.Elapsed.Round(time.Microsecond)),
	}
	keys := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		rows = append(rows, Row(k, r.Metrics[k]))
	}
	b.WriteString(Panel.Render(strings.Join(rows, "\n")) + "\n")

	if chart := CostChart(r.History, 60, 8); chart != "" {
		b.WriteString(GraphStyle.Render(chart) + "\n")
	}

	if ver != nil {
		vrows := []string{
			Row("final error", ver.FinalError),
			Row("runs", len(ver.Runs)),
			Row("mean final error", ver.MeanFinalError),
			Row("max final error", ver.MaxFinalError),
			Row("diverged", ver.Diverged),
		}
		keys = keys[:0]
		for k := range ver.Metrics {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			vrows = append(vrows, Row(k, ver.Metrics[k]))
		}
		b.WriteString(Subtle.Render("closed loop") + "\n")
		b.WriteString(Panel.Render(strings.Join(vrows, "\n")) + "\n")
	}
	return b.String()
}
