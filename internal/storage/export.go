package storage

import (
	"encoding/json"
	"io"
	"math"

	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/gnms"
	"gonum.org/v1/gonum/mat"
)

// Float is a float64 that encodes non-finite values as JSON null and
// decodes null as NaN.
type Float float64

func (f Float) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

func (f *Float) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = Float(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Float(v)
	return nil
}

func floats(m map[string]float64) map[string]Float {
	if m == nil {
		return nil
	}
	out := make(map[string]Float, len(m))
	for k, v := range m {
		out[k] = Float(v)
	}
	return out
}

type ExportIteration struct {
	Iteration          int   `json:"iteration"`
	TotalCost          Float `json:"total_cost"`
	IntermediateCost   Float `json:"intermediate_cost"`
	TerminalCost       Float `json:"terminal_cost"`
	DefectNorm         Float `json:"defect_norm"`
	StateUpdateNorm    Float `json:"state_update_norm"`
	ControlUpdateNorm  Float `json:"control_update_norm"`
	SmallestEigenvalue Float `json:"smallest_eigenvalue"`
	Rollout            bool  `json:"rollout"`
	Seconds            Float `json:"seconds"`
}

type ExportData struct {
	Problem    string        `json:"problem"`
	Model      string        `json:"model"`
	Settings   gnms.Settings `json:"settings"`
	Stages     int           `json:"stages"`
	Iterations int           `json:"iterations"`
	Succeeded  bool          `json:"succeeded"`
	Cost       Float         `json:"cost"`

	Times    []float64     `json:"times"`
	States   [][]float64   `json:"states"`
	Controls [][]float64   `json:"controls"`
	Gains    [][][]float64 `json:"gains"`

	History      []ExportIteration    `json:"history"`
	Metrics      map[string]Float     `json:"metrics,omitempty"`
	Verification *VerificationSummary `json:"verification,omitempty"`
}

// NewExportData flattens a report into plain slices. ver may be nil.
func NewExportData(report *experiment.Report, ver *experiment.Verification) ExportData {
	sol := report.Solution
	data := ExportData{
		Problem:      report.Problem,
		Model:        report.Model,
		Settings:     report.Settings,
		Stages:       report.Stages,
		Iterations:   report.Iterations,
		Succeeded:    report.Succeeded,
		Cost:         Float(report.Cost),
		Times:        append([]float64(nil), sol.Times...),
		States:       make([][]float64, len(sol.States)),
		Controls:     make([][]float64, len(sol.Controls)),
		Gains:        make([][][]float64, len(sol.Gains)),
		History:      make([]ExportIteration, len(report.History)),
		Metrics:      floats(report.Metrics),
		Verification: summarize(ver),
	}

	for i, s := range sol.States {
		data.States[i] = append([]float64(nil), s...)
	}
	for i, c := range sol.Controls {
		data.Controls[i] = append([]float64(nil), c...)
	}
	for i, g := range sol.Gains {
		data.Gains[i] = rows(g)
	}
	for i, d := range report.History {
		data.History[i] = ExportIteration{
			Iteration:          d.Iteration,
			TotalCost:          Float(d.TotalCost),
			IntermediateCost:   Float(d.IntermediateCost),
			TerminalCost:       Float(d.TerminalCost),
			DefectNorm:         Float(d.DefectNorm),
			StateUpdateNorm:    Float(d.StateUpdateNorm),
			ControlUpdateNorm:  Float(d.ControlUpdateNorm),
			SmallestEigenvalue: Float(d.SmallestEigenvalueIteration),
			Rollout:            d.Rollout,
			Seconds:            Float(d.Total.Seconds()),
		}
	}
	return data
}

func rows(m *mat.Dense) [][]float64 {
	if m == nil {
		return nil
	}
	r, _ := m.Dims()
	out := make([][]float64, r)
	for i := range out {
		out[i] = mat.Row(nil, i, m)
	}
	return out
}

func ExportJSON(w io.Writer, report *experiment.Report, ver *experiment.Verification) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(NewExportData(report, ver))
}
