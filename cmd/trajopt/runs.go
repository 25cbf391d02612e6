package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/san-kum/trajopt/internal/export"
	"github.com/san-kum/trajopt/internal/storage"
	"github.com/san-kum/trajopt/internal/viz"
	"github.com/spf13/cobra"
)

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROBLEM\tTIME\tSTAGES\tITERS\tCOST\tOK")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.6g\t%t\n",
			run.ID,
			run.Problem,
			run.Timestamp.Local().Format("2006-01-02 15:04:05"),
			run.Stages,
			run.Iterations,
			float64(run.Cost),
			run.Succeeded,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	if len(tr.States) == 0 {
		return fmt.Errorf("no data to plot")
	}
	history, err := st.LoadIterations(runID)
	if err != nil {
		return err
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("problem: %s\n", meta.Problem)
	fmt.Printf("stages: %d\n\n", meta.Stages)

	if chart := viz.CostChart(history, 80, 10); chart != "" {
		fmt.Println(chart)
		fmt.Println()
	}
	fmt.Print(viz.TrajectoryCharts(tr, meta.Model, 80, 10))
	return nil
}

// output opens path for writing, or stdout when path is empty.
func output(path string) (io.WriteCloser, error) {
	if path == "" {
		return nopCloser{os.Stdout}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}
	return os.Create(path)
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func exportJSON(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	w, err := output(outPath)
	if err != nil {
		return err
	}
	if err := st.CopySolution(args[0], w); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func exportCSV(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	tr, err := st.LoadTrajectory(args[0])
	if err != nil {
		return err
	}
	w, err := output(outPath)
	if err != nil {
		return err
	}
	if err := storage.WriteTrajectoryCSV(w, tr); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

func exportFigures(cmd *cobra.Command, args []string) error {
	runID := args[0]

	st := storage.New(dataDir)
	meta, err := st.Load(runID)
	if err != nil {
		return err
	}
	tr, err := st.LoadTrajectory(runID)
	if err != nil {
		return err
	}
	history, err := st.LoadIterations(runID)
	if err != nil {
		return err
	}

	dir := outPath
	if dir == "" {
		dir = filepath.Join(st.Dir(), meta.ID, "figures")
	}
	paths, err := export.SaveAll(dir, format, meta.Model, tr, history)
	for _, p := range paths {
		fmt.Printf("wrote %s\n", p)
	}
	return err
}
