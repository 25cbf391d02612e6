package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/gnms"
	"gonum.org/v1/gonum/mat"
)

func sampleReport() *experiment.Report {
	return &experiment.Report{
		Problem:    "test/sample",
		Model:      "test",
		Stages:     2,
		Succeeded:  true,
		Iterations: 2,
		Cost:       1.5,
		Elapsed:    time.Millisecond,
		History: []gnms.Diagnostics{
			{Iteration: 0, TotalCost: 3, Rollout: true, SmallestEigenvalueIteration: math.Inf(1), Total: time.Second},
			{Iteration: 1, TotalCost: 1.5, DefectNorm: 0.25, SmallestEigenvalueIteration: math.Inf(1)},
		},
		Solution: gnms.Policy{
			Trajectory: gnms.Trajectory{
				States:   []dynamo.State{{1, 0}, {0.9, -0.1}, {0.8, -0.1}},
				Controls: []dynamo.Control{{0.5}, {-0.25}},
				Times:    []float64{0, 0.1, 0.2},
			},
			Gains: []*mat.Dense{
				mat.NewDense(1, 2, []float64{-1, -2}),
				mat.NewDense(1, 2, []float64{-3, -4}),
			},
		},
		Settings: gnms.DefaultSettings(),
		Metrics:  map[string]float64{"control_effort": 0.375},
	}
}

func TestStoreSaveLoad(t *testing.T) {
	st := New(t.TempDir())
	if err := st.Init(); err != nil {
		t.Fatalf("init failed: %v", err)
	}

	ver := &experiment.Verification{FinalError: math.Inf(1), Diverged: 1, Runs: make([]*dynamo.Result, 3)}
	runID, err := st.Save(sampleReport(), ver)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	meta, err := st.Load(runID)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if meta.Problem != "test/sample" || meta.Stages != 2 || float64(meta.Cost) != 1.5 {
		t.Errorf("unexpected metadata %+v", meta)
	}
	if meta.Metrics["control_effort"] != 0.375 {
		t.Errorf("expected control_effort 0.375, got %v", meta.Metrics["control_effort"])
	}
	if meta.Verification == nil || meta.Verification.Runs != 3 || meta.Verification.Diverged != 1 {
		t.Fatalf("unexpected verification %+v", meta.Verification)
	}
	if !math.IsNaN(float64(meta.Verification.FinalError)) {
		t.Errorf("infinite final error should load as NaN, got %v", meta.Verification.FinalError)
	}

	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		t.Fatalf("load trajectory failed: %v", err)
	}
	if len(tr.States) != 3 || len(tr.Controls) != 2 || len(tr.Times) != 3 {
		t.Fatalf("expected 3 states and 2 controls, got %d and %d", len(tr.States), len(tr.Controls))
	}
	if tr.States[1][1] != -0.1 || tr.Controls[1][0] != -0.25 || tr.Times[2] != 0.2 {
		t.Errorf("trajectory values changed: %+v", tr)
	}

	history, err := st.LoadIterations(runID)
	if err != nil {
		t.Fatalf("load iterations failed: %v", err)
	}
	if len(history) != 2 || !history[0].Rollout || history[1].DefectNorm != 0.25 || history[0].Total != time.Second {
		t.Errorf("unexpected history %+v", history)
	}
}

func TestStoreFileStructure(t *testing.T) {
	st := New(t.TempDir())
	runID, err := st.Save(sampleReport(), nil)
	if err != nil {
		t.Fatalf("save failed: %v", err)
	}

	for _, name := range []string{"metadata.json", "trajectory.csv", "iterations.csv", "solution.json"} {
		if _, err := os.Stat(filepath.Join(st.Dir(), runID, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}

	data, err := os.ReadFile(filepath.Join(st.Dir(), runID, "trajectory.csv"))
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if lines[0] != "time,x0,x1,u0" {
		t.Errorf("unexpected header %q", lines[0])
	}
	if lines[3] != "0.2,0.8,-0.1,0" {
		t.Errorf("final row should carry a zero control, got %q", lines[3])
	}
}

func TestStoreList(t *testing.T) {
	g := NewWithT(t)
	st := New(filepath.Join(t.TempDir(), "runs"))

	runs, err := st.List()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(runs).To(BeEmpty())

	first, err := st.Save(sampleReport(), nil)
	g.Expect(err).NotTo(HaveOccurred())
	time.Sleep(5 * time.Millisecond)
	second, err := st.Save(sampleReport(), nil)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(os.Mkdir(filepath.Join(st.Dir(), "not-a-run"), 0755)).To(Succeed())

	runs, err = st.List()
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(runs).To(HaveLen(2))
	g.Expect(runs[0].ID).To(Equal(second))
	g.Expect(runs[1].ID).To(Equal(first))
}

func TestStoreRejectsUnknownRuns(t *testing.T) {
	g := NewWithT(t)
	st := New(t.TempDir())

	_, err := st.Load("../../etc")
	g.Expect(err).To(MatchError(ErrRunNotFound))
	_, err = st.Load("4f1c2a4e-8d2b-4a8e-9f10-0c6d1e2b3a4f")
	g.Expect(err).To(MatchError(ErrRunNotFound))
	_, err = st.LoadTrajectory("nope")
	g.Expect(err).To(MatchError(ErrRunNotFound))
	_, err = st.Save(nil, nil)
	g.Expect(err).To(MatchError(dynamo.ErrNotInitialized))
}

func TestReadTrajectoryCSVRejectsBadInput(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad header", "t,x0\n0,1\n1,2\n"},
		{"short row", "time,x0,u0\n0,1,2\n1,2\n"},
		{"not a number", "time,x0,u0\n0,abc,2\n1,2,0\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadTrajectoryCSV(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestCopySolution(t *testing.T) {
	g := NewWithT(t)
	st := New(t.TempDir())
	runID, err := st.Save(sampleReport(), nil)
	g.Expect(err).NotTo(HaveOccurred())

	var buf bytes.Buffer
	g.Expect(st.CopySolution(runID, &buf)).To(Succeed())
	var data ExportData
	g.Expect(json.Unmarshal(buf.Bytes(), &data)).To(Succeed())
	g.Expect(data.Gains).To(HaveLen(2))
	g.Expect(data.Controls).To(Equal([][]float64{{0.5}, {-0.25}}))

	g.Expect(st.CopySolution("4f1c2a4e-8d2b-4a8e-9f10-0c6d1e2b3a4f", &buf)).To(MatchError(ErrRunNotFound))
}

func TestExportJSON(t *testing.T) {
	g := NewWithT(t)
	var buf bytes.Buffer
	g.Expect(ExportJSON(&buf, sampleReport(), nil)).To(Succeed())

	var out map[string]any
	g.Expect(json.Unmarshal(buf.Bytes(), &out)).To(Succeed())
	g.Expect(out).To(HaveKeyWithValue("problem", "test/sample"))
	g.Expect(out["gains"]).To(Equal([]any{
		[]any{[]any{-1.0, -2.0}},
		[]any{[]any{-3.0, -4.0}},
	}))
	history := out["history"].([]any)
	g.Expect(history).To(HaveLen(2))
	g.Expect(history[0]).To(HaveKeyWithValue("smallest_eigenvalue", BeNil()))
	g.Expect(out).NotTo(HaveKey("verification"))
}

func TestSaveSolvedExperiment(t *testing.T) {
	g := NewWithT(t)
	cfg := config.GetPreset("double_integrator", "rest_to_rest")
	cfg.Verify.Runs = 2
	exp, err := experiment.New(cfg, experiment.NewRegistry())
	g.Expect(err).NotTo(HaveOccurred())
	report, err := exp.Solve(context.Background())
	g.Expect(err).NotTo(HaveOccurred())
	ver, err := exp.Verify(context.Background())
	g.Expect(err).NotTo(HaveOccurred())

	st := New(t.TempDir())
	runID, err := st.Save(report, ver)
	g.Expect(err).NotTo(HaveOccurred())

	tr, err := st.LoadTrajectory(runID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(tr.States).To(HaveLen(report.Stages + 1))
	g.Expect(tr.Controls).To(HaveLen(report.Stages))

	history, err := st.LoadIterations(runID)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(history).To(HaveLen(len(report.History)))
}
