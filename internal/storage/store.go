// Package storage persists solved problems as run directories holding a
// metadata.json, the optimized trajectory and the per-iteration history as
// CSV, and a full JSON export with the feedback gains.
package storage

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/san-kum/trajopt/internal/dynamo"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/gnms"
)

const (
	metadataFile   = "metadata.json"
	trajectoryFile = "trajectory.csv"
	iterationsFile = "iterations.csv"
	solutionFile   = "solution.json"
)

// ErrRunNotFound is returned when no run directory exists for an id.
var ErrRunNotFound = errors.New("run not found")

type Store struct {
	baseDir string
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

func (s *Store) Init() error {
	return os.MkdirAll(s.baseDir, 0755)
}

func (s *Store) Dir() string { return s.baseDir }

type RunMetadata struct {
	ID         string           `json:"id"`
	Problem    string           `json:"problem"`
	Model      string           `json:"model"`
	Timestamp  time.Time        `json:"timestamp"`
	Stages     int              `json:"stages"`
	Iterations int              `json:"iterations"`
	Succeeded  bool             `json:"succeeded"`
	Cost       Float            `json:"cost"`
	DefectNorm Float            `json:"defect_norm"`
	Elapsed    time.Duration    `json:"elapsed_ns"`
	Settings   gnms.Settings    `json:"settings"`
	Metrics    map[string]Float `json:"metrics,omitempty"`

	Verification *VerificationSummary `json:"verification,omitempty"`
}

// VerificationSummary is the stored part of an experiment.Verification.
type VerificationSummary struct {
	FinalError     Float            `json:"final_error"`
	MeanFinalError Float            `json:"mean_final_error"`
	MaxFinalError  Float            `json:"max_final_error"`
	Runs           int              `json:"runs"`
	Diverged       int              `json:"diverged"`
	Metrics        map[string]Float `json:"metrics,omitempty"`
}

func summarize(v *experiment.Verification) *VerificationSummary {
	if v == nil {
		return nil
	}
	return &VerificationSummary{
		FinalError:     Float(v.FinalError),
		MeanFinalError: Float(v.MeanFinalError),
		MaxFinalError:  Float(v.MaxFinalError),
		Runs:           len(v.Runs),
		Diverged:       v.Diverged,
		Metrics:        floats(v.Metrics),
	}
}

// Save writes a new run and returns its id. ver may be nil.
func (s *Store) Save(report *experiment.Report, ver *experiment.Verification) (string, error) {
	if report == nil {
		return "", fmt.Errorf("save: %w", dynamo.ErrNotInitialized)
	}
	runID := uuid.NewString()
	runDir := filepath.Join(s.baseDir, runID)
	if err := os.MkdirAll(runDir, 0755); err != nil {
		return "", err
	}

	meta := RunMetadata{
		ID:           runID,
		Problem:      report.Problem,
		Model:        report.Model,
		Timestamp:    time.Now().UTC(),
		Stages:       report.Stages,
		Iterations:   report.Iterations,
		Succeeded:    report.Succeeded,
		Cost:         Float(report.Cost),
		DefectNorm:   Float(report.DefectNorm),
		Elapsed:      report.Elapsed,
		Settings:     report.Settings,
		Metrics:      floats(report.Metrics),
		Verification: summarize(ver),
	}
	if err := writeFile(filepath.Join(runDir, metadataFile), func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(meta)
	}); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(runDir, trajectoryFile), func(w io.Writer) error {
		return WriteTrajectoryCSV(w, report.Solution.Trajectory)
	}); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(runDir, iterationsFile), func(w io.Writer) error {
		return WriteIterationsCSV(w, report.History)
	}); err != nil {
		return "", err
	}

	if err := writeFile(filepath.Join(runDir, solutionFile), func(w io.Writer) error {
		return ExportJSON(w, report, ver)
	}); err != nil {
		return "", err
	}

	return runID, nil
}

func writeFile(path string, fn func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// List returns every readable run, newest first.
func (s *Store) List() ([]RunMetadata, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunMetadata{}, nil
		}
		return nil, err
	}

	runs := make([]RunMetadata, 0)
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		meta, err := s.Load(entry.Name())
		if err != nil {
			continue
		}
		runs = append(runs, *meta)
	}

	slices.SortFunc(runs, func(a, b RunMetadata) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return runs, nil
}

// runDir validates the id so that it cannot escape the base directory.
func (s *Store) runDir(runID string) (string, error) {
	if _, err := uuid.Parse(runID); err != nil {
		return "", fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
	}
	return filepath.Join(s.baseDir, runID), nil
}

func (s *Store) Load(runID string) (*RunMetadata, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
		}
		return nil, err
	}

	var meta RunMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("run %q metadata: %w", runID, err)
	}
	return &meta, nil
}

// LoadTrajectory reads the stored trajectory back. The control row of the
// final state is dropped, so the result has one control fewer than states.
func (s *Store) LoadTrajectory(runID string) (gnms.Trajectory, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return gnms.Trajectory{}, err
	}
	file, err := os.Open(filepath.Join(dir, trajectoryFile))
	if err != nil {
		return gnms.Trajectory{}, err
	}
	defer file.Close()
	return ReadTrajectoryCSV(file)
}

// CopySolution writes the stored JSON export of a run, gains included, to w.
func (s *Store) CopySolution(runID string, w io.Writer) error {
	dir, err := s.runDir(runID)
	if err != nil {
		return err
	}
	file, err := os.Open(filepath.Join(dir, solutionFile))
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("run %q: %w", runID, ErrRunNotFound)
		}
		return err
	}
	defer file.Close()
	_, err = io.Copy(w, file)
	return err
}

// LoadIterations reads the per-iteration history back. Only the columns
// written by WriteIterationsCSV are restored.
func (s *Store) LoadIterations(runID string) ([]gnms.Diagnostics, error) {
	dir, err := s.runDir(runID)
	if err != nil {
		return nil, err
	}
	file, err := os.Open(filepath.Join(dir, iterationsFile))
	if err != nil {
		return nil, err
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) < 2 {
		return []gnms.Diagnostics{}, nil
	}

	history := make([]gnms.Diagnostics, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(iterationHeader) {
			return nil, fmt.Errorf("iterations row %d: %w", i+1, dynamo.ErrInputShape)
		}
		f := make([]float64, len(rec))
		for j, v := range rec {
			if f[j], err = strconv.ParseFloat(v, 64); err != nil {
				return nil, fmt.Errorf("iterations row %d: %w", i+1, err)
			}
		}
		history = append(history, gnms.Diagnostics{
			Iteration:         int(f[0]),
			TotalCost:         f[1],
			IntermediateCost:  f[2],
			TerminalCost:      f[3],
			DefectNorm:        f[4],
			StateUpdateNorm:   f[5],
			ControlUpdateNorm: f[6],
			Rollout:           f[7] != 0,
			Total:             time.Duration(f[8] * float64(time.Second)),
		})
	}
	return history, nil
}

var iterationHeader = []string{
	"iteration", "total_cost", "intermediate_cost", "terminal_cost",
	"defect_norm", "state_update_norm", "control_update_norm", "rollout", "seconds",
}

func WriteIterationsCSV(w io.Writer, history []gnms.Diagnostics) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(iterationHeader); err != nil {
		return err
	}
	for _, d := range history {
		rollout := "0"
		if d.Rollout {
			rollout = "1"
		}
		row := []string{
			strconv.Itoa(d.Iteration),
			formatFloat(d.TotalCost),
			formatFloat(d.IntermediateCost),
			formatFloat(d.TerminalCost),
			formatFloat(d.DefectNorm),
			formatFloat(d.StateUpdateNorm),
			formatFloat(d.ControlUpdateNorm),
			rollout,
			formatFloat(d.Total.Seconds()),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteTrajectoryCSV writes one row per state. The final row repeats no
// control and carries zeros in the control columns.
func WriteTrajectoryCSV(w io.Writer, tr gnms.Trajectory) error {
	cw := csv.NewWriter(w)
	if len(tr.States) == 0 {
		cw.Flush()
		return cw.Error()
	}
	if len(tr.Times) != len(tr.States) {
		return fmt.Errorf("%d times for %d states: %w", len(tr.Times), len(tr.States), dynamo.ErrInputShape)
	}

	header := []string{"time"}
	for i := range tr.States[0] {
		header = append(header, fmt.Sprintf("x%d", i))
	}
	numControls := 0
	if len(tr.Controls) > 0 {
		numControls = len(tr.Controls[0])
	}
	for i := 0; i < numControls; i++ {
		header = append(header, fmt.Sprintf("u%d", i))
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	for i, x := range tr.States {
		row := []string{formatFloat(tr.Times[i])}
		for _, val := range x {
			row = append(row, formatFloat(val))
		}
		if i < len(tr.Controls) {
			for _, val := range tr.Controls[i] {
				row = append(row, formatFloat(val))
			}
		} else {
			for j := 0; j < numControls; j++ {
				row = append(row, "0")
			}
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func ReadTrajectoryCSV(r io.Reader) (gnms.Trajectory, error) {
	records, err := csv.NewReader(r).ReadAll()
	if err != nil {
		return gnms.Trajectory{}, err
	}
	if len(records) < 2 {
		return gnms.Trajectory{}, nil
	}

	n, m := 0, 0
	for _, col := range records[0][1:] {
		switch {
		case strings.HasPrefix(col, "x"):
			n++
		case strings.HasPrefix(col, "u"):
			m++
		}
	}
	if records[0][0] != "time" || n+m != len(records[0])-1 {
		return gnms.Trajectory{}, fmt.Errorf("trajectory header %v: %w", records[0], dynamo.ErrInputShape)
	}

	rows := records[1:]
	tr := gnms.Trajectory{
		States:   make([]dynamo.State, len(rows)),
		Controls: make([]dynamo.Control, 0, len(rows)-1),
		Times:    make([]float64, len(rows)),
	}
	for i, rec := range rows {
		if len(rec) != 1+n+m {
			return gnms.Trajectory{}, fmt.Errorf("trajectory row %d: %w", i+1, dynamo.ErrInputShape)
		}
		vals := make([]float64, len(rec))
		for j, v := range rec {
			if vals[j], err = strconv.ParseFloat(v, 64); err != nil {
				return gnms.Trajectory{}, fmt.Errorf("trajectory row %d: %w", i+1, err)
			}
		}
		tr.Times[i] = vals[0]
		tr.States[i] = dynamo.State(vals[1 : 1+n])
		if i < len(rows)-1 {
			tr.Controls = append(tr.Controls, dynamo.Control(vals[1+n:]))
		}
	}
	return tr, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
