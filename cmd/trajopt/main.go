package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/san-kum/trajopt/internal/automation"
	"github.com/san-kum/trajopt/internal/config"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/gnms"
	"github.com/san-kum/trajopt/internal/integrators"
	"github.com/san-kum/trajopt/internal/metrics"
	"github.com/san-kum/trajopt/internal/optim"
	"github.com/san-kum/trajopt/internal/storage"
	"github.com/san-kum/trajopt/internal/viz"
	"github.com/spf13/cobra"
)

var (
	dataDir     string
	logLevel    string
	logFormat   string
	metricsAddr string
	theme       string

	configFile     string
	preset         string
	horizon        float64
	dt             float64
	maxIterations  int
	epsilon        float64
	tolerance      float64
	threads        int
	regularization string
	integrator     string
	discretization string

	noSave     bool
	withVerify bool
	showPlots  bool

	runs  int
	sigma float64
	seed  uint64

	sweepParams []string
	sweepMetric string

	outPath string
	format  string

	logger = log.NewNopLogger()
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "trajopt",
		Short:         "multiple shooting trajectory optimization",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if logger, err = newLogger(logLevel, logFormat); err != nil {
				return err
			}
			viz.SetTheme(theme)
			return nil
		},
	}

	rootCmd.PersistentFlags().StringVar(&dataDir, "data", ".trajopt", "data directory")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "logfmt", "log format (logfmt, json)")
	rootCmd.PersistentFlags().StringVar(&theme, "theme", viz.ThemeCyberpunk.Name, "color theme: "+strings.Join(viz.ThemeNames(), ", "))

	solveCmd := &cobra.Command{
		Use:   "solve [model]",
		Short: "solve an optimal control problem",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSolve,
	}
	problemFlags(solveCmd)
	solveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")
	solveCmd.Flags().BoolVar(&withVerify, "verify", false, "simulate the policy in closed loop after solving")
	solveCmd.Flags().BoolVar(&showPlots, "plot", false, "print trajectory charts")
	solveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while solving")

	liveCmd := &cobra.Command{
		Use:   "live [model]",
		Short: "watch the solver iterate",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runLive,
	}
	problemFlags(liveCmd)
	liveCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	verifyCmd := &cobra.Command{
		Use:   "verify [model]",
		Short: "solve and check the policy on perturbed closed-loop simulations",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runVerify,
	}
	problemFlags(verifyCmd)
	verifyCmd.Flags().IntVar(&runs, "runs", config.DefaultRuns, "number of perturbed runs")
	verifyCmd.Flags().Float64Var(&sigma, "sigma", config.DefaultSigma, "initial state perturbation")
	verifyCmd.Flags().Uint64Var(&seed, "seed", 1, "random seed")
	verifyCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the run")

	sweepCmd := &cobra.Command{
		Use:   "sweep [model]",
		Short: "grid search over solver settings",
		Long:  "grid search over solver settings; settable names: " + strings.Join(config.Settable(), ", "),
		Args:  cobra.MaximumNArgs(1),
		RunE:  runSweep,
	}
	problemFlags(sweepCmd)
	sweepCmd.Flags().StringArrayVar(&sweepParams, "param", nil, "setting and values, e.g. epsilon=1e-6,1e-3 (repeatable)")
	sweepCmd.Flags().StringVar(&sweepMetric, "metric", "cost", "metric to minimize")

	batchCmd := &cobra.Command{
		Use:   "batch [scenario.yaml]",
		Short: "solve a scripted sequence of problems",
		Args:  cobra.ExactArgs(1),
		RunE:  runBatch,
	}
	batchCmd.Flags().BoolVar(&noSave, "no-save", false, "do not store the runs")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "list runs",
		RunE:  listRuns,
	}

	plotCmd := &cobra.Command{
		Use:   "plot [run_id]",
		Short: "plot a stored run in the terminal",
		Args:  cobra.ExactArgs(1),
		RunE:  plotRun,
	}

	exportJSONCmd := &cobra.Command{
		Use:   "export-json [run_id]",
		Short: "export a run with its feedback gains as JSON",
		Args:  cobra.ExactArgs(1),
		RunE:  exportJSON,
	}
	exportJSONCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")

	exportCSVCmd := &cobra.Command{
		Use:   "export-csv [run_id]",
		Short: "export a run's trajectory as CSV",
		Args:  cobra.ExactArgs(1),
		RunE:  exportCSV,
	}
	exportCSVCmd.Flags().StringVarP(&outPath, "out", "o", "", "output file (default stdout)")

	exportPNGCmd := &cobra.Command{
		Use:   "export-png [run_id]",
		Short: "render a run's states, controls and cost as figures",
		Args:  cobra.ExactArgs(1),
		RunE:  exportFigures,
	}
	exportPNGCmd.Flags().StringVarP(&outPath, "out", "o", "", "output directory (default the run directory)")
	exportPNGCmd.Flags().StringVar(&format, "format", "png", "figure format: png, svg or pdf")

	presetsCmd := &cobra.Command{
		Use:   "presets [model]",
		Short: "list available presets",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			models := config.Models()
			if len(args) > 0 {
				models = args
			}
			for _, m := range models {
				presets := config.ListPresets(m)
				if len(presets) == 0 {
					fmt.Printf("no presets for model: %s\n", m)
					continue
				}
				fmt.Printf("presets for %s:\n", m)
				for _, p := range presets {
					fmt.Printf("  %s\n", p)
				}
			}
			return nil
		},
	}

	rootCmd.AddCommand(solveCmd, liveCmd, verifyCmd, sweepCmd, batchCmd, listCmd, plotCmd, exportJSONCmd, exportCSVCmd, exportPNGCmd, presetsCmd)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		stop()
		os.Exit(1)
	}
}

func newLogger(lvl, format string) (log.Logger, error) {
	var l log.Logger
	switch format {
	case "logfmt":
		l = log.NewLogfmtLogger(log.NewSyncWriter(os.Stderr))
	case "json":
		l = log.NewJSONLogger(log.NewSyncWriter(os.Stderr))
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}

	var opt level.Option
	switch lvl {
	case "debug":
		opt = level.AllowDebug()
	case "info":
		opt = level.AllowInfo()
	case "warn":
		opt = level.AllowWarn()
	case "error":
		opt = level.AllowError()
	default:
		return nil, fmt.Errorf("unknown log level %q", lvl)
	}
	l = level.NewFilter(l, opt)
	return log.With(l, "ts", log.DefaultTimestampUTC, "caller", log.DefaultCaller), nil
}

func problemFlags(cmd *cobra.Command) {
	d := config.DefaultConfig()
	cmd.Flags().StringVar(&configFile, "config", "", "problem file path (yaml)")
	cmd.Flags().StringVar(&preset, "preset", "", "use a preset problem")
	cmd.Flags().Float64Var(&horizon, "horizon", d.Horizon, "time horizon in seconds")
	cmd.Flags().Float64Var(&dt, "dt", d.Solver.Dt, "stage length")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", d.Solver.MaxIterations, "iteration budget")
	cmd.Flags().Float64Var(&epsilon, "epsilon", d.Solver.Epsilon, "control hessian regularization")
	cmd.Flags().Float64Var(&tolerance, "tolerance", d.Solver.Tolerance, "stop once update and defect norms fall below")
	cmd.Flags().IntVar(&threads, "threads", d.Solver.Threads, "worker threads")
	cmd.Flags().StringVar(&regularization, "regularization", string(d.Solver.Regularization), "fixed or eigen")
	cmd.Flags().StringVar(&integrator, "integrator", string(d.Solver.Integrator), "euler, rk4, euler_symplectic or rk_symplectic")
	cmd.Flags().StringVar(&discretization, "discretization", string(d.Solver.Discretization), "forward_euler, backward_euler or tustin")
}

// problemConfig resolves the problem in order: model defaults or preset,
// then the config file, then flags the user set explicitly.
func problemConfig(cmd *cobra.Command, args []string) (*config.Config, error) {
	model := config.DefaultConfig().Model
	if len(args) > 0 {
		model = args[0]
	}

	var cfg *config.Config
	switch {
	case configFile != "":
		var err error
		if cfg, err = config.Load(configFile); err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
	case preset != "":
		if cfg = config.GetPreset(model, preset); cfg == nil {
			return nil, fmt.Errorf("unknown preset: %s (available: %v)", preset, config.ListPresets(model))
		}
	default:
		cfg = config.Base(model)
	}

	flags := cmd.Flags()
	if flags.Changed("horizon") {
		cfg.Horizon = horizon
	}
	if flags.Changed("dt") {
		if err := cfg.Set("dt", dt); err != nil {
			return nil, err
		}
	}
	if flags.Changed("max-iterations") {
		cfg.Solver.MaxIterations = maxIterations
	}
	if flags.Changed("epsilon") {
		cfg.Solver.Epsilon = epsilon
	}
	if flags.Changed("tolerance") {
		cfg.Solver.Tolerance = tolerance
	}
	if flags.Changed("threads") {
		cfg.Solver.Threads = threads
	}
	if flags.Changed("regularization") {
		cfg.Solver.Regularization = gnms.Regularization(regularization)
	}
	if flags.Changed("integrator") {
		cfg.Solver.Integrator = integrators.Kind(integrator)
	}
	if flags.Changed("discretization") {
		cfg.Solver.Discretization = gnms.Discretization(discretization)
	}
	if f := flags.Lookup("runs"); f != nil && f.Changed {
		cfg.Verify.Runs = runs
	}
	if f := flags.Lookup("sigma"); f != nil && f.Changed {
		cfg.Verify.Sigma = sigma
	}
	if f := flags.Lookup("seed"); f != nil && f.Changed {
		cfg.Verify.Seed = seed
	}
	return cfg, cfg.Validate()
}

func newExperiment(cfg *config.Config, opts ...experiment.Option) (*experiment.Experiment, error) {
	opts = append([]experiment.Option{experiment.WithLogger(logger)}, opts...)
	return experiment.New(cfg, experiment.NewRegistry(), opts...)
}

// serveMetrics starts a /metrics endpoint and returns its shutdown func.
func serveMetrics(addr string, reg *prometheus.Registry) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		level.Info(logger).Log("msg", "serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			level.Error(logger).Log("msg", "metrics server failed", "err", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func runSolve(cmd *cobra.Command, args []string) error {
	cfg, err := problemConfig(cmd, args)
	if err != nil {
		return err
	}

	var opts []experiment.Option
	if metricsAddr != "" {
		reg := prometheus.NewRegistry()
		name := cfg.Name
		if name == "" {
			name = cfg.Model
		}
		opts = append(opts, experiment.WithObserver(metrics.NewRecorder(reg, name)))
		defer serveMetrics(metricsAddr, reg)()
	}

	exp, err := newExperiment(cfg, opts...)
	if err != nil {
		return err
	}

	fmt.Printf("solving %s (%d stages)...\n", exp.Name(), exp.Solver().K())
	report, err := exp.Solve(cmd.Context())
	if err != nil {
		return err
	}

	var ver *experiment.Verification
	if withVerify {
		if ver, err = exp.Verify(cmd.Context()); err != nil {
			return err
		}
	}
	return finish(report, ver)
}

func runVerify(cmd *cobra.Command, args []string) error {
	cfg, err := problemConfig(cmd, args)
	if err != nil {
		return err
	}
	exp, err := newExperiment(cfg)
	if err != nil {
		return err
	}

	fmt.Printf("solving %s (%d stages)...\n", exp.Name(), exp.Solver().K())
	report, err := exp.Solve(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Printf("simulating %d perturbed runs...\n", cfg.Verify.Runs)
	ver, err := exp.Verify(cmd.Context())
	if err != nil {
		return err
	}
	return finish(report, ver)
}

// finish prints the outcome and stores the run unless --no-save is set.
func finish(report *experiment.Report, ver *experiment.Verification) error {
	fmt.Println(viz.Summary(report, ver))
	if showPlots {
		fmt.Println(viz.TrajectoryCharts(report.Solution.Trajectory, report.Model, 80, 10))
	}
	if noSave {
		return nil
	}

	st := storage.New(dataDir)
	if err := st.Init(); err != nil {
		return err
	}
	runID, err := st.Save(report, ver)
	if err != nil {
		return err
	}
	fmt.Printf("run id: %s\n", runID)
	return nil
}

func runLive(cmd *cobra.Command, args []string) error {
	cfg, err := problemConfig(cmd, args)
	if err != nil {
		return err
	}
	// the TUI owns the terminal
	logger = level.NewFilter(logger, level.AllowError())
	exp, err := newExperiment(cfg)
	if err != nil {
		return err
	}

	p := tea.NewProgram(viz.NewLive(cmd.Context(), exp), tea.WithAltScreen(), tea.WithContext(cmd.Context()))
	final, err := p.Run()
	if err != nil {
		return err
	}
	m := final.(viz.Live)
	if m.Err() != nil {
		return m.Err()
	}
	if !m.Done() {
		return nil
	}
	report := exp.Report()
	report.Succeeded = true
	return finish(report, nil)
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := problemConfig(cmd, args)
	if err != nil {
		return err
	}
	if len(sweepParams) == 0 {
		return fmt.Errorf("at least one --param is required (settable: %v)", config.Settable())
	}

	names := make([]string, len(sweepParams))
	ranges := make([][]float64, len(sweepParams))
	for i, p := range sweepParams {
		if names[i], ranges[i], err = parseParam(p); err != nil {
			return err
		}
	}

	gs := optim.NewGridSearch(names, ranges)
	fmt.Printf("sweeping %d settings of %s...\n", gs.Size(), cfg.Model)
	best, score, trials, err := gs.Search(cmd.Context(), func(params map[string]float64) (*experiment.Experiment, error) {
		c := cfg.Clone()
		for _, name := range names {
			if err := c.Set(name, params[name]); err != nil {
				return nil, err
			}
		}
		return newExperiment(c)
	}, sweepMetric)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "%s\t%s\tITERS\tOK\tERROR\n", strings.ToUpper(strings.Join(names, "\t")), strings.ToUpper(sweepMetric))
	for _, t := range trials {
		vals := make([]string, len(names))
		for i, n := range names {
			vals[i] = strconv.FormatFloat(t.Params[n], 'g', -1, 64)
		}
		iters, ok, msg := 0, false, ""
		if t.Report != nil {
			iters, ok = t.Report.Iterations, t.Report.Succeeded
		}
		if t.Err != nil {
			msg = t.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%.6g\t%d\t%t\t%s\n", strings.Join(vals, "\t"), t.Score, iters, ok, msg)
	}
	if err := w.Flush(); err != nil {
		return err
	}

	if best == nil {
		return fmt.Errorf("no setting succeeded")
	}
	fmt.Printf("\nbest %s: %.6g with %v\n", sweepMetric, score, best)
	return nil
}

func runBatch(cmd *cobra.Command, args []string) error {
	sc, err := automation.LoadScenario(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("running scenario %s (%d steps)...\n", sc.Name, len(sc.Steps))

	results, err := automation.RunScenario(cmd.Context(), sc, experiment.NewRegistry(), logger)
	for _, r := range results {
		if ferr := finish(r.Report, r.Verification); ferr != nil {
			return ferr
		}
	}
	if err != nil {
		return err
	}
	ok, failed := automation.Stats(results)
	fmt.Printf("%d steps converged, %d failed\n", ok, failed)
	return nil
}

// parseParam reads name=v1,v2,...
func parseParam(s string) (string, []float64, error) {
	name, list, ok := strings.Cut(s, "=")
	if !ok || name == "" || list == "" {
		return "", nil, fmt.Errorf("invalid --param %q, want name=v1,v2", s)
	}
	fields := strings.Split(list, ",")
	vals := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return "", nil, fmt.Errorf("invalid value in --param %q: %w", s, err)
		}
		vals[i] = v
	}
	return name, vals, nil
}
