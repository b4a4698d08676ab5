// Package tui is the terminal dashboard: one table of pipeline rows per
// watched branch, with selection, schedule triggering, and live transition
// notices.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/lucasnoah/glwatch/internal/orchestrator"
	"github.com/lucasnoah/glwatch/internal/pipeline"
	"github.com/lucasnoah/glwatch/internal/tracker"
)

// Backend is what the dashboard drives.
type Backend interface {
	Branches() []string
	Poll(ctx context.Context, branch string) (*orchestrator.PollResult, error)
	RunSelected(ctx context.Context, rows []pipeline.Row) (*orchestrator.RunResult, error)
	Active() *orchestrator.ActiveSet
}

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	tabStyle       = lipgloss.NewStyle().Padding(0, 1).Faint(true)
	activeTabStyle = lipgloss.NewStyle().Padding(0, 1).Bold(true).Underline(true)

	dimStyle  = lipgloss.NewStyle().Faint(true)
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("214"))
	helpStyle = lipgloss.NewStyle().PaddingLeft(1)
)

func statusStyle(s pipeline.Status) lipgloss.Style {
	switch s {
	case pipeline.StatusSuccess:
		return okStyle
	case pipeline.StatusFailed:
		return errStyle
	case pipeline.StatusRunning, pipeline.StatusPending, pipeline.StatusCreated:
		return warnStyle
	}
	return dimStyle
}

type rowsLoadedMsg struct {
	branch string
	rows   []pipeline.Row
	err    error
}

type runDoneMsg struct {
	res *orchestrator.RunResult
	err error
}

type noteMsg struct {
	n tracker.Notification
}

type refreshTickMsg struct{}

// Model is the bubbletea model of the dashboard.
type Model struct {
	ctx      context.Context
	backend  Backend
	notes    <-chan tracker.Notification
	interval time.Duration

	branches []string
	current  int
	rows     map[string][]pipeline.Row
	selected map[string]bool

	table   table.Model
	spinner spinner.Model
	help    help.Model
	keys    KeyMap

	loading bool
	status  string
	err     error
	width   int
	height  int
}

// Options configures a Model.
type Options struct {
	// Branch is the initially shown branch; empty means the first one.
	Branch string

	// Refresh is the auto-refresh period. Zero disables it.
	Refresh time.Duration

	// Notes, if set, feeds transition notices into the status line.
	Notes <-chan tracker.Notification
}

// New creates a dashboard Model.
func New(ctx context.Context, backend Backend, opts Options) Model {
	branches := backend.Branches()
	current := 0
	for i, b := range branches {
		if b == opts.Branch {
			current = i
		}
	}

	t := table.New(
		table.WithColumns(columns()),
		table.WithFocused(true),
		table.WithHeight(15),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.Bold(true).BorderStyle(lipgloss.NormalBorder()).BorderBottom(true)
	styles.Selected = styles.Selected.Foreground(lipgloss.Color("229")).Background(lipgloss.Color("57"))
	t.SetStyles(styles)

	sp := spinner.New()
	sp.Spinner = spinner.Line

	return Model{
		ctx:      ctx,
		backend:  backend,
		notes:    opts.Notes,
		interval: opts.Refresh,
		branches: branches,
		current:  current,
		rows:     make(map[string][]pipeline.Row),
		selected: make(map[string]bool),
		table:    t,
		spinner:  sp,
		help:     help.New(),
		keys:     DefaultKeyMap,
		loading:  true,
	}
}

func columns() []table.Column {
	return []table.Column{
		{Title: " ", Width: 2},
		{Title: "Project", Width: 26},
		{Title: "Type", Width: 6},
		{Title: "Status", Width: 9},
		{Title: "Triggered by", Width: 16},
		{Title: "Total", Width: 20},
		{Title: "Run", Width: 20},
		{Title: "MRs", Width: 4},
		{Title: "Behind", Width: 6},
	}
}

// Branch returns the branch currently shown.
func (m Model) Branch() string {
	if len(m.branches) == 0 {
		return ""
	}
	return m.branches[m.current]
}

func (m Model) pollCmd(branch string) tea.Cmd {
	ctx, backend := m.ctx, m.backend
	return func() tea.Msg {
		res, err := backend.Poll(ctx, branch)
		if res == nil {
			return rowsLoadedMsg{branch: branch, err: err}
		}
		return rowsLoadedMsg{branch: branch, rows: res.Rows, err: err}
	}
}

func (m Model) runCmd(rows []pipeline.Row) tea.Cmd {
	ctx, backend := m.ctx, m.backend
	return func() tea.Msg {
		res, err := backend.RunSelected(ctx, rows)
		return runDoneMsg{res: res, err: err}
	}
}

func waitForNote(ch <-chan tracker.Notification) tea.Cmd {
	if ch == nil {
		return nil
	}
	return func() tea.Msg {
		n, ok := <-ch
		if !ok {
			return nil
		}
		return noteMsg{n: n}
	}
}

func refreshCmd(d time.Duration) tea.Cmd {
	if d <= 0 {
		return nil
	}
	return tea.Tick(d, func(time.Time) tea.Msg { return refreshTickMsg{} })
}

func (m Model) Init() tea.Cmd {
	if len(m.branches) == 0 {
		return nil
	}
	return tea.Batch(m.pollCmd(m.Branch()), m.spinner.Tick, waitForNote(m.notes), refreshCmd(m.interval))
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		if h := msg.Height - 7; h > 3 {
			m.table.SetHeight(h)
		}
		return m, nil

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case rowsLoadedMsg:
		if msg.rows != nil {
			m.rows[msg.branch] = msg.rows
		}
		if msg.branch == m.Branch() {
			m.loading = false
			m.err = msg.err
			m.buildRows()
		}
		return m, nil

	case runDoneMsg:
		m.selected = make(map[string]bool)
		m.err = msg.err
		if msg.res != nil {
			m.status = msg.res.Summary()
		}
		m.loading = true
		return m, m.pollCmd(m.Branch())

	case noteMsg:
		m.status = msg.n.Title + " " + msg.n.Body
		cmds := []tea.Cmd{waitForNote(m.notes)}
		if msg.n.Branch == m.Branch() {
			cmds = append(cmds, m.pollCmd(m.Branch()))
		}
		return m, tea.Batch(cmds...)

	case refreshTickMsg:
		return m, tea.Batch(m.pollCmd(m.Branch()), refreshCmd(m.interval))

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			return m, tea.Quit
		case key.Matches(msg, m.keys.NextBranch):
			return m.switchBranch(1)
		case key.Matches(msg, m.keys.PrevBranch):
			return m.switchBranch(-1)
		case key.Matches(msg, m.keys.Refresh):
			m.loading = true
			return m, m.pollCmd(m.Branch())
		case key.Matches(msg, m.keys.Toggle):
			if r, ok := m.cursorRow(); ok {
				m.selected[r.Project] = !m.selected[r.Project]
				m.buildRows()
			}
			return m, nil
		case key.Matches(msg, m.keys.SelectAll):
			for _, r := range m.rows[m.Branch()] {
				if runnable(r) {
					m.selected[r.Project] = true
				}
			}
			m.buildRows()
			return m, nil
		case key.Matches(msg, m.keys.Run):
			rows := m.selectedRows()
			if len(rows) == 0 {
				if r, ok := m.cursorRow(); ok {
					rows = []pipeline.Row{r}
				}
			}
			if len(rows) == 0 {
				return m, nil
			}
			m.status = fmt.Sprintf("triggering %d pipeline(s)…", len(rows))
			return m, m.runCmd(rows)
		}
	}

	var cmd tea.Cmd
	m.table, cmd = m.table.Update(msg)
	return m, cmd
}

func (m Model) switchBranch(delta int) (tea.Model, tea.Cmd) {
	if len(m.branches) < 2 {
		return m, nil
	}
	m.current = (m.current + delta + len(m.branches)) % len(m.branches)
	m.selected = make(map[string]bool)
	m.err = nil
	m.buildRows()
	m.table.SetCursor(0)
	if _, cached := m.rows[m.Branch()]; cached {
		return m, nil
	}
	m.loading = true
	return m, m.pollCmd(m.Branch())
}

func runnable(r pipeline.Row) bool {
	return r.Schedule != nil && !r.Stale && !r.Status.InFlight()
}

func (m Model) cursorRow() (pipeline.Row, bool) {
	rows := m.rows[m.Branch()]
	i := m.table.Cursor()
	if i < 0 || i >= len(rows) {
		return pipeline.Row{}, false
	}
	return rows[i], true
}

func (m Model) selectedRows() []pipeline.Row {
	var out []pipeline.Row
	for _, r := range m.rows[m.Branch()] {
		if m.selected[r.Project] {
			out = append(out, r)
		}
	}
	return out
}

// buildRows rebuilds the table rows for the current branch.
func (m *Model) buildRows() {
	now := time.Now()
	rows := m.rows[m.Branch()]
	out := make([]table.Row, len(rows))
	for i, r := range rows {
		mark := " "
		switch {
		case m.selected[r.Project]:
			mark = "●"
		case m.backend.Active().Has(r.Project):
			mark = "…"
		}
		user, total, run := "", "-", "-"
		if r.Latest != nil {
			user = r.Latest.User
			total = r.Latest.TotalDuration(now)
			run = r.Latest.RunDuration(now)
		}
		project := r.Project
		if r.Error != "" {
			project += " !"
		}
		out[i] = table.Row{
			mark,
			project,
			r.Type,
			string(r.Status),
			user,
			total,
			run,
			r.Lag.OpenMRs.String(),
			r.Lag.SinceDeploy.String(),
		}
	}
	m.table.SetRows(out)
}

func (m Model) View() string {
	if len(m.branches) == 0 {
		return errStyle.Render("no branches configured") + "\n"
	}

	var tabs []string
	for i, b := range m.branches {
		if i == m.current {
			tabs = append(tabs, activeTabStyle.Render(b))
		} else {
			tabs = append(tabs, tabStyle.Render(b))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Top, titleStyle.Render("glwatch "), strings.Join(tabs, ""))

	var status string
	switch {
	case m.loading:
		status = m.spinner.View() + " loading " + m.Branch()
	case m.err != nil:
		status = errStyle.Render(m.err.Error())
	case m.status != "":
		status = m.status
	default:
		status = dimStyle.Render(m.summary())
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		m.table.View(),
		status,
		helpStyle.Render(m.help.View(m.keys)),
	)
}

// summary counts rows by status, e.g. "3 SUCCESS · 1 RUNNING".
func (m Model) summary() string {
	counts := make(map[pipeline.Status]int)
	var order []pipeline.Status
	for _, r := range m.rows[m.Branch()] {
		if counts[r.Status] == 0 {
			order = append(order, r.Status)
		}
		counts[r.Status]++
	}
	parts := make([]string, 0, len(order))
	for _, s := range order {
		parts = append(parts, statusStyle(s).Render(fmt.Sprintf("%d %s", counts[s], s)))
	}
	if active := m.backend.Active().Len(); active > 0 {
		parts = append(parts, warnStyle.Render(fmt.Sprintf("%d tracked", active)))
	}
	return strings.Join(parts, " · ")
}
