package viz

import (
	"context"
	"fmt"
	"math"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/san-kum/trajopt/internal/experiment"
	"github.com/san-kum/trajopt/internal/gnms"
)

const (
	canvasWidth  = 40
	canvasHeight = 12
)

// initMsg reports the end of an initial rollout.
type initMsg struct {
	tr  gnms.Trajectory
	err error
}

// iterationMsg reports the end of one solver iteration.
type iterationMsg struct {
	diag     gnms.Diagnostics
	improved bool
	tr       gnms.Trajectory
	err      error
}

// Live steps an experiment's solver one iteration per update. At most one
// command touches the solver at a time.
type Live struct {
	ctx     context.Context
	exp     *experiment.Experiment
	maxIter int

	running bool
	busy    bool
	done    bool
	phase   bool
	err     error

	costs []float64
	last  gnms.Diagnostics
	tr    gnms.Trajectory
}

func NewLive(ctx context.Context, exp *experiment.Experiment) Live {
	return Live{
		ctx:     ctx,
		exp:     exp,
		maxIter: exp.Solver().Settings().MaxIterations,
		running: true,
		busy:    true,
		phase:   exp.System().StateDim() >= 2,
	}
}

func (m Live) Init() tea.Cmd {
	return m.initialize()
}

func (m Live) initialize() tea.Cmd {
	exp, ctx := m.exp, m.ctx
	return func() tea.Msg {
		if err := exp.Initialize(ctx); err != nil {
			return initMsg{err: err}
		}
		return initMsg{tr: exp.Solver().Solution().Trajectory}
	}
}

func (m Live) iterate() tea.Cmd {
	s, ctx := m.exp.Solver(), m.ctx
	return func() tea.Msg {
		improved, err := s.RunIteration(ctx)
		return iterationMsg{
			diag:     s.Diagnostics(),
			improved: improved,
			tr:       s.Solution().Trajectory,
			err:      err,
		}
	}
}

func (m Live) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case " ":
			m.running = !m.running
			if m.running && !m.busy && !m.done {
				m.busy = true
				return m, m.iterate()
			}
		case "n":
			if !m.running && !m.busy && !m.done {
				m.busy = true
				return m, m.iterate()
			}
		case "r":
			if !m.busy {
				m.busy, m.done, m.err = true, false, nil
				m.costs = m.costs[:0]
				return m, m.initialize()
			}
		case "t":
			NextTheme()
		case "p":
			m.phase = !m.phase && m.exp.System().StateDim() >= 2
		}

	case initMsg:
		m.busy = false
		if msg.err != nil {
			m.err, m.done = msg.err, true
			return m, nil
		}
		m.tr = msg.tr
		if m.running {
			m.busy = true
			return m, m.iterate()
		}

	case iterationMsg:
		m.busy = false
		if msg.err != nil {
			m.err, m.done = msg.err, true
			return m, nil
		}
		m.last, m.tr = msg.diag, msg.tr
		m.costs = append(m.costs, msg.diag.TotalCost)
		if !msg.improved || msg.diag.Iteration+1 >= m.maxIter {
			m.done = true
			return m, nil
		}
		if m.running {
			m.busy = true
			return m, m.iterate()
		}
	}
	return m, nil
}

// Done reports whether the solver has stopped.
func (m Live) Done() bool { return m.done }

// Err is the error that stopped the solver, if any.
func (m Live) Err() error { return m.err }

func (m Live) status() string {
	switch {
	case m.err != nil:
		return StatusFailed.Render("FAILED: " + m.err.Error())
	case m.done:
		return StatusRunning.Render("DONE")
	case !m.running:
		return StatusPaused.Render("PAUSED")
	default:
		return StatusRunning.Render("ITERATING")
	}
}

func (m Live) View() string {
	var s strings.Builder
	s.WriteString(HeaderStyle.Render(strings.ToUpper(m.exp.Name())) + "\n")
	s.WriteString(m.status() + "\n\n")

	iterations := len(m.costs)
	s.WriteString(Row("iteration", fmt.Sprintf("%d / %d", iterations, m.maxIter)) + "\n")
	s.WriteString(MetricLabel.Render("") + ProgressBar(float64(iterations)/float64(m.maxIter), 30) + "\n")
	if iterations > 0 {
		s.WriteString(Row("cost", m.last.TotalCost) + "\n")
		s.WriteString(Row("defect norm", m.last.DefectNorm) + "\n")
		s.WriteString(Row("du norm", m.last.ControlUpdateNorm) + "\n")
		s.WriteString(Row("dx norm", m.last.StateUpdateNorm) + "\n")
		if !math.IsInf(m.last.SmallestEigenvalueIteration, 1) {
			s.WriteString(Row("min eigenvalue", m.last.SmallestEigenvalueIteration) + "\n")
		}
		s.WriteString(Row("took", m.last.Total) + "\n")
		s.WriteString(MetricLabel.Render("cost trend") + Sparkline(m.costs, 30) + "\n")
	}
	stats := Panel.Render(s.String())

	view := lipgloss.JoinHorizontal(lipgloss.Top, stats, m.plot())
	return view + "\n" + KeyHint.Render("SP:Pause N:Step R:Restart T:Theme P:Phase Q:Quit")
}

// plot draws the current trajectory as a phase portrait of the first two
// states, or as one small chart per component.
func (m Live) plot() string {
	if len(m.tr.States) == 0 {
		return ""
	}
	model := m.exp.Config().Model
	if m.phase {
		xs := make([]float64, len(m.tr.States))
		ys := make([]float64, len(m.tr.States))
		for k, x := range m.tr.States {
			xs[k], ys[k] = x[0], x[1]
		}
		c := NewCanvas(canvasWidth, canvasHeight)
		c.Polyline(xs, ys)
		names := StateLabels(model, len(m.tr.States[0]))
		caption := Subtle.Render(fmt.Sprintf("%s vs %s", names[1], names[0]))
		return Panel.Render(GraphStyle.Render(c.String()) + caption)
	}
	return GraphStyle.Render(TrajectoryCharts(m.tr, model, canvasWidth*2, 4))
}
