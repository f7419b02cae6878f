// ABOUTME: Bubble Tea model for the remote monitoring console: live screen view, trial log, and gaze parameter editing.
// ABOUTME: Polls the client queues on a tick and stages parameter edits for the experiment's next pull.
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/2389-research/visigoth/clientserver"
	"github.com/2389-research/visigoth/experiment"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

// Queues is the console side of the client queue set.
type Queues interface {
	TakeScreen() ([]byte, bool)
	TakeTrial() ([]byte, bool)
	TakeParams() ([]byte, bool)
	SubmitEdits(b []byte)
	FetchParams()
}

// Config configures the console model.
type Config struct {
	Addr string
	// Step is the increment for offset and window edits, in degrees.
	Step float64
	// Tick is the queue polling interval.
	Tick time.Duration
	// MaxTrials bounds the trial log.
	MaxTrials int
}

// Model is the console's top-level tea.Model.
type Model struct {
	cfg    Config
	q      Queues
	runner Runner
	ctx    context.Context

	screen     clientserver.ScreenState
	haveScreen bool
	params     clientserver.GazeParams
	haveParams bool
	edited     clientserver.GazeParams
	dirty      bool

	trials  []*experiment.TrialRecord
	scored  int
	correct int
	log     viewport.Model

	notice string
	done   bool
	err    error
	width  int
	height int
}

// NewModel creates a console model. runner may be nil when the caller runs
// the client itself.
func NewModel(ctx context.Context, cfg Config, q Queues, runner Runner) Model {
	if cfg.Step <= 0 {
		cfg.Step = 0.1
	}
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	if cfg.MaxTrials <= 0 {
		cfg.MaxTrials = 1000
	}
	return Model{
		cfg:    cfg,
		q:      q,
		runner: runner,
		ctx:    ctx,
		screen: clientserver.ScreenState{Gaze: clientserver.MissingCoord()},
		log:    viewport.New(80, 8),
	}
}

// Init implements tea.Model. It starts the client, asks for the current
// gaze parameters, and begins polling.
func (m Model) Init() tea.Cmd {
	m.q.FetchParams()
	cmds := []tea.Cmd{TickCmd(m.cfg.Tick)}
	if m.runner != nil {
		cmds = append(cmds, RunClientCmd(m.ctx, m.runner))
	}
	return tea.Batch(cmds...)
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.log.Width = max(msg.Width-2, 10)
		m.log.Height = max(msg.Height/3, 3)
		m.syncLog()
		return m, nil

	case TickMsg:
		m.poll()
		return m, TickCmd(m.cfg.Tick)

	case ClientDoneMsg:
		m.done = true
		m.err = msg.Err
		m.poll()
		return m, nil

	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m *Model) poll() {
	if b, ok := m.q.TakeScreen(); ok {
		if s, err := clientserver.DecodeScreen(b); err == nil {
			m.screen, m.haveScreen = s, true
		} else {
			log.Printf("component=remote action=bad_screen err=%v", err)
		}
	}
	if b, ok := m.q.TakeParams(); ok {
		if p, err := clientserver.DecodeGazeParams(b); err == nil {
			m.params, m.haveParams = p, true
			if !m.dirty {
				m.edited = p
			}
		} else {
			log.Printf("component=remote action=bad_params err=%v", err)
		}
	}
	added := false
	for {
		b, ok := m.q.TakeTrial()
		if !ok {
			break
		}
		t := &experiment.TrialRecord{}
		if err := json.Unmarshal(b, t); err != nil {
			log.Printf("component=remote action=bad_trial err=%v", err)
			continue
		}
		m.addTrial(t)
		added = true
	}
	if added {
		m.syncLog()
	}
}

func (m *Model) addTrial(t *experiment.TrialRecord) {
	if len(m.trials) >= m.cfg.MaxTrials {
		m.trials = m.trials[1:]
	}
	m.trials = append(m.trials, t)
	if c, ok := t.Correct.Get(); ok {
		m.scored++
		if c {
			m.correct++
		}
	}
}

func (m *Model) syncLog() {
	lines := make([]string, len(m.trials))
	for i, t := range m.trials {
		lines[i] = trialLine(t)
	}
	m.log.SetContent(strings.Join(lines, "\n"))
	m.log.GotoBottom()
}

func trialLine(t *experiment.TrialRecord) string {
	result := t.Result.String()
	label := result
	if label == "" {
		label = "-"
	}
	rt := "-"
	if v, ok := t.RT.Get(); ok {
		rt = fmt.Sprintf("%.3f", v)
	}
	resp := t.Response.String()
	if resp == "" {
		resp = "-"
	}
	return fmt.Sprintf("%4d  %s  rt=%s  response=%s",
		t.Trial, StyleForResult(result).Render(fmt.Sprintf("%-9s", label)), rt, resp)
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	step := m.cfg.Step
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "p":
		m.q.FetchParams()
		m.notice = "requested parameters"
	case "left":
		m.edit(func(p *clientserver.GazeParams) { p.XOffset -= step })
	case "right":
		m.edit(func(p *clientserver.GazeParams) { p.XOffset += step })
	case "up":
		m.edit(func(p *clientserver.GazeParams) { p.YOffset += step })
	case "down":
		m.edit(func(p *clientserver.GazeParams) { p.YOffset -= step })
	case "+", "=":
		m.edit(func(p *clientserver.GazeParams) { p.FixWindow += step })
	case "-":
		m.edit(func(p *clientserver.GazeParams) { p.FixWindow = max(p.FixWindow-step, step) })
	case "enter":
		if !m.dirty {
			m.notice = "no edits to send"
			break
		}
		b, err := clientserver.EncodeGazeParams(m.edited)
		if err != nil {
			m.notice = fmt.Sprintf("encode failed: %v", err)
			break
		}
		m.q.SubmitEdits(b)
		m.params, m.dirty = m.edited, false
		m.notice = "edits staged for next trial"
	case "esc", "r":
		m.edited, m.dirty = m.params, false
		m.notice = "edits reverted"
	default:
		var cmd tea.Cmd
		m.log, cmd = m.log.Update(msg)
		return m, cmd
	}
	return m, nil
}

func (m *Model) edit(f func(*clientserver.GazeParams)) {
	if !m.haveParams {
		m.notice = "no parameters yet, press p"
		return
	}
	f(&m.edited)
	m.dirty = m.edited != m.params
	m.notice = ""
}

// View implements tea.Model.
func (m Model) View() string {
	if m.width == 0 || m.height == 0 {
		return "Initializing..."
	}
	if m.width < 40 || m.height < 12 {
		return fmt.Sprintf("Terminal too small (%dx%d). Minimum: 40x12.", m.width, m.height)
	}

	logHeight := m.log.Height + 3
	topHeight := max(m.height-logHeight-1, 5)
	sideWidth := 30
	fieldWidth := max(m.width-sideWidth-4, 10)

	var screen string
	if m.haveScreen {
		screen = renderField(fieldWidth, topHeight-3, m.screen, m.params)
	} else {
		screen = MissStyle.Render("waiting for screen...")
	}
	left := BorderStyle.Width(fieldWidth).Height(topHeight - 2).
		Render(TitleStyle.Render("Screen") + "\n" + screen)
	right := BorderStyle.Width(sideWidth - 2).Height(topHeight - 2).
		Render(m.sideView())
	top := lipgloss.JoinHorizontal(lipgloss.Top, left, right)

	trials := BorderStyle.Width(m.width - 2).
		Render(TitleStyle.Render("Trials") + "\n" + m.log.View())

	return top + "\n" + trials + "\n" + m.statusView()
}

func (m Model) sideView() string {
	var b strings.Builder
	b.WriteString(TitleStyle.Render("Gaze parameters") + "\n")
	if !m.haveParams {
		b.WriteString(MissStyle.Render("unknown (p to fetch)") + "\n")
	} else {
		row := func(label string, cur, ed float64) {
			v := ValueStyle.Render(fmt.Sprintf("%.2f", cur))
			if ed != cur {
				v += " → " + EditedStyle.Render(fmt.Sprintf("%.2f", ed))
			}
			b.WriteString(LabelStyle.Render(label) + v + "\n")
		}
		row("x offset", m.params.XOffset, m.edited.XOffset)
		row("y offset", m.params.YOffset, m.edited.YOffset)
		row("fix window", m.params.FixWindow, m.edited.FixWindow)
	}

	b.WriteString("\n" + TitleStyle.Render("Performance") + "\n")
	b.WriteString(LabelStyle.Render("trials") + ValueStyle.Render(fmt.Sprint(len(m.trials))) + "\n")
	acc := "-"
	if m.scored > 0 {
		acc = fmt.Sprintf("%.0f%%", 100*float64(m.correct)/float64(m.scored))
	}
	b.WriteString(LabelStyle.Render("accuracy") + ValueStyle.Render(acc) + "\n")

	b.WriteString("\n" + MissStyle.Render("arrows offset  +/- window\nenter send  r revert\np fetch  q quit"))
	return b.String()
}

func (m Model) statusView() string {
	state := CorrectStyle.Render("connected")
	switch {
	case m.done && m.err != nil:
		state = WrongStyle.Render(fmt.Sprintf("disconnected: %v", m.err))
	case m.done:
		state = MissStyle.Render("disconnected")
	}
	s := fmt.Sprintf("%s  %s", m.cfg.Addr, state)
	if m.notice != "" {
		s += "  " + m.notice
	}
	return StatusBarStyle.Width(m.width).Render(s)
}

// Trials returns the trial log.
func (m Model) Trials() []*experiment.TrialRecord { return m.trials }

// Err is the connection error once the client has stopped.
func (m Model) Err() error { return m.err }
