package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/afero"

	"slurm-dashboard/internal/config"
	"slurm-dashboard/internal/logging"
	"slurm-dashboard/internal/logwatch"
	"slurm-dashboard/internal/slurm"
)

type mode int

const (
	modeLive mode = iota
	modeHistory
)

type statusFilter int

const (
	filterAll statusFilter = iota
	filterRunning
	filterPending
)

func (s statusFilter) String() string {
	switch s {
	case filterRunning:
		return "Running"
	case filterPending:
		return "Pending"
	default:
		return "All"
	}
}

// KeyMap defines the keybindings
type KeyMap struct {
	Quit         key.Binding
	CancelJob    key.Binding
	InspectJob   key.Binding
	TailLogs     key.Binding
	TailStdout   key.Binding
	TailStderr   key.Binding
	Filter       key.Binding
	Pause        key.Binding
	Refresh      key.Binding
	History      key.Binding
	StatusFilter key.Binding
	CopyValue    key.Binding
	ViewValue    key.Binding
	Up           key.Binding
	Down         key.Binding
	SwitchFocus  key.Binding
	ToggleMouse  key.Binding
	ToggleHelp   key.Binding
}

var keys = KeyMap{
	Quit:         key.NewBinding(key.WithKeys("q", "ctrl+c"), key.WithHelp("q", "quit")),
	CancelJob:    key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "cancel")),
	InspectJob:   key.NewBinding(key.WithKeys("i", "enter"), key.WithHelp("i/ent", "inspect")),
	TailLogs:     key.NewBinding(key.WithKeys("l", "L"), key.WithHelp("l", "logs")),
	TailStdout:   key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "stdout")),
	TailStderr:   key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "stderr")),
	Filter:       key.NewBinding(key.WithKeys("f", "/"), key.WithHelp("f", "filter")),
	Pause:        key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	Refresh:      key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "refresh")),
	History:      key.NewBinding(key.WithKeys("h"), key.WithHelp("h", "history")),
	StatusFilter: key.NewBinding(key.WithKeys("g"), key.WithHelp("g", "status filter")),
	CopyValue:    key.NewBinding(key.WithKeys("ctrl+y"), key.WithHelp("^y", "copy detail")),
	ViewValue:    key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "view value")),
	Up:           key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
	Down:         key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
	SwitchFocus:  key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch focus")),
	ToggleMouse:  key.NewBinding(key.WithKeys("m"), key.WithHelp("m", "toggle mouse")),
	ToggleHelp:   key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
}

func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Quit, k.Filter, k.Refresh, k.InspectJob, k.TailLogs, k.TailStderr, k.SwitchFocus, k.ToggleHelp}
}

func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Up, k.Down, k.InspectJob, k.CancelJob},
		{k.Filter, k.StatusFilter, k.History, k.Refresh, k.Pause},
		{k.TailLogs, k.TailStdout, k.TailStderr, k.CopyValue, k.ViewValue},
		{k.SwitchFocus, k.ToggleMouse, k.ToggleHelp, k.Quit},
	}
}

// jobService is what the dashboard needs from Slurm.
type jobService interface {
	Jobs(ctx context.Context) ([]slurm.Job, error)
	History(ctx context.Context, days int) ([]slurm.Job, error)
	Cancel(ctx context.Context, jobID string) error
	Details(ctx context.Context, jobID string, finished bool) (string, error)
	LogPaths(ctx context.Context, jobID string) (slurm.LogPaths, error)
}

type tickMsg time.Time

type jobsMsg struct {
	mode mode
	jobs []slurm.Job
}

type detailsMsg struct {
	jobID string
	text  string
}

type errMsg error

type refreshNowMsg struct{}

// ModelOptions wires the dashboard to its collaborators. Zero values fall
// back to the real Slurm tools, an idle log target and default settings.
type ModelOptions struct {
	Context context.Context
	Jobs    jobService
	Logs    logTarget
	Fs      afero.Fs
	Config  config.Config
	Logger  *slog.Logger
}

// Model is the main application model
type Model struct {
	ctx    context.Context
	svc    jobService
	logger *slog.Logger

	refreshInterval time.Duration

	table        table.Model
	detailsTable table.Model
	filterInput  textinput.Model
	help         help.Model
	logView      LogView

	// Full-screen details view, used when the details panel is hidden.
	inDetailsOverlay bool
	// Full-screen view of one long detail value.
	inValueOverlay bool
	valueView      viewport.Model
	valueKey       string
	valueValue     string

	jobs       []slurm.Job
	filtered   []slurm.Job
	selectedID string

	confirmingCancel bool
	cancelCandidate  *slurm.Job

	appMode     mode
	paused      bool
	sFilter     statusFilter
	loadingJobs bool
	historyDays int

	width  int
	height int

	tablePanelHeight    int
	detailsPanelHeight  int
	detailsContentWidth int
	tableBlockWidth     int
	detailsBlockWidth   int
	stackPanels         bool
	stackGapHeight      int
	hideDetails         bool

	lastRefresh time.Time
	err         error

	rawDetails   string // kept for re-wrapping on resize
	inputMode    bool   // filter input has focus
	mouseEnabled bool

	copyFeedback       string
	copyFeedbackExpiry time.Time
}

type idleLogTarget struct{}

func (idleLogTarget) SetTarget(string) {}

func (idleLogTarget) Drain() []logwatch.Update { return nil }

func NewModel(opts ModelOptions) Model {
	if opts.Context == nil {
		opts.Context = context.Background()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Discard()
	}
	if opts.Jobs == nil {
		opts.Jobs = slurm.NewClient(slurm.Options{
			ArchiveDir: opts.Config.LogArchiveDir,
			Fs:         opts.Fs,
			Logger:     opts.Logger,
		})
	}
	if opts.Logs == nil {
		opts.Logs = idleLogTarget{}
	}
	cfg := opts.Config
	if cfg.RefreshInterval <= 0 {
		cfg.RefreshInterval = 2 * time.Second
	}
	if cfg.HistoryDays <= 0 {
		cfg.HistoryDays = config.DefaultHistoryDays
	}

	columns := []table.Column{
		{Title: colJobID, Width: 8},
		{Title: colName, Width: 16},
		{Title: colStatus, Width: 10},
		{Title: colTime, Width: 10},
		{Title: colNodes, Width: 6},
		{Title: colPartition, Width: 10},
		{Title: colNodeList, Width: 15},
	}
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = tableHeaderStyle
	s.Selected = tableSelectedStyle
	t.SetStyles(s)

	dt := table.New(
		table.WithColumns([]table.Column{
			{Title: "Key", Width: 20},
			{Title: "Value", Width: 30},
		}),
		table.WithFocused(false),
		table.WithHeight(10),
	)
	dt.SetStyles(s)

	ti := textinput.New()
	ti.Placeholder = "Filter"
	ti.CharLimit = 50
	ti.Width = 20
	ti.Prompt = ""
	ti.PromptStyle = lipgloss.NewStyle().Foreground(subtle)
	ti.TextStyle = lipgloss.NewStyle().Foreground(textStrong)
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(subtle)
	ti.Cursor.Style = lipgloss.NewStyle().Foreground(highlight)

	m := Model{
		ctx:             opts.Context,
		svc:             opts.Jobs,
		logger:          opts.Logger.With("component", "ui"),
		refreshInterval: cfg.RefreshInterval,
		table:           t,
		detailsTable:    dt,
		filterInput:     ti,
		help:            help.New(),
		logView: NewLogView(opts.Logs, logViewOptions{
			Fs:           opts.Fs,
			MaxLines:     cfg.MaxLogLines,
			TickInterval: cfg.TickInterval,
			ArchiveDir:   cfg.LogArchiveDir,
		}),
		appMode:     modeLive,
		sFilter:     filterAll,
		historyDays: cfg.HistoryDays,
	}

	width, height := detectTerminalSize()
	m.applyWindowSize(width, height)
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchJobsCmd(),
		m.tickCmd(),
		tea.DisableMouse,
		initialWindowSizeCmd(),
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.copyFeedback != "" && time.Now().After(m.copyFeedbackExpiry) {
		m.copyFeedback = ""
	}

	// Background results are applied whatever is on screen.
	switch msg := msg.(type) {
	case tickMsg:
		cmds := []tea.Cmd{m.tickCmd()}
		if !m.paused && !m.logView.IsOpen() {
			cmds = append(cmds, m.fetchJobsCmd())
		}
		return m, tea.Batch(cmds...)

	case logTickMsg:
		return m, m.logView.Tick(msg)

	case logBacklogMsg:
		m.logView.Backlog(msg)
		return m, nil

	case logPathsMsg:
		if msg.err != nil {
			m.logger.Warn("resolving log paths", "job", msg.jobID, "error", msg.err)
		}
		return m, m.logView.SetPaths(msg)

	case tea.WindowSizeMsg:
		m.applyWindowSize(m.resolveSize(msg.Width, msg.Height))
		if m.inValueOverlay {
			m.configureValueViewport()
		}
		return m, nil

	case jobsMsg:
		if msg.mode != m.appMode {
			return m, nil
		}
		m.jobs = msg.jobs
		m.lastRefresh = time.Now()
		m.loadingJobs = false
		m.err = nil
		m.updateTable()
		return m, m.syncSelection()

	case detailsMsg:
		if msg.jobID != m.selectedID {
			return m, nil
		}
		m.rawDetails = msg.text
		m.updateDetailsTable(m.rawDetails)
		m.applyPanelHeights()
		return m, nil

	case errMsg:
		m.err = msg
		m.loadingJobs = false
		return m, nil

	case refreshNowMsg:
		return m, m.fetchJobsCmd()
	}

	var cmd tea.Cmd
	switch {
	case m.confirmingCancel:
		cmd = m.updateCancelConfirm(msg)
	case m.logView.IsOpen():
		cmd = m.updateLogView(msg)
	case m.inValueOverlay:
		cmd = m.updateValueOverlay(msg)
	case m.inDetailsOverlay:
		cmd = m.updateDetailsOverlay(msg)
	default:
		cmd = m.updateMain(msg)
	}
	return m, cmd
}

func (m *Model) updateCancelConfirm(msg tea.Msg) tea.Cmd {
	keyMsg, ok := msg.(tea.KeyMsg)
	if !ok {
		return nil
	}
	switch keyMsg.String() {
	case "y", "Y":
		m.confirmingCancel = false
		if m.cancelCandidate != nil {
			id := m.cancelCandidate.JobID
			m.cancelCandidate = nil
			return m.cancelJobCmd(id)
		}
	case "n", "N", "esc", "q":
		m.confirmingCancel = false
		m.cancelCandidate = nil
	}
	return nil
}

func (m *Model) updateLogView(msg tea.Msg) tea.Cmd {
	if keyMsg, ok := msg.(tea.KeyMsg); ok && !m.logView.Searching() {
		switch {
		case keyMsg.String() == "ctrl+c":
			return tea.Quit
		case key.Matches(keyMsg, logKeys.ToggleHelp):
			m.help.ShowAll = !m.help.ShowAll
			m.sizeLogView()
			return nil
		case key.Matches(keyMsg, logKeys.Back):
			m.logView.Close()
			m.help.ShowAll = false
			m.applyWindowSize(m.width, m.height)
			cmds := []tea.Cmd{m.fetchJobsCmd()}
			if m.selectedID != "" && !m.hideDetails {
				cmds = append(cmds, m.fetchDetailsCmd(m.selectedID))
			}
			return tea.Batch(cmds...)
		}
	}
	return m.logView.Update(msg)
}

func (m *Model) updateValueOverlay(msg tea.Msg) tea.Cmd {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(keyMsg, keys.CopyValue):
			m.setFeedback("Value copied")
			return osc52CopyCmd(m.valueValue)
		case key.Matches(keyMsg, keys.ToggleHelp):
			m.help.ShowAll = !m.help.ShowAll
			m.applyWindowSize(m.width, m.height)
			m.configureValueViewport()
			return nil
		}
		switch keyMsg.String() {
		case "esc", "q", "v":
			m.inValueOverlay = false
			m.applyWindowSize(m.width, m.height)
			return nil
		}
	}
	var cmd tea.Cmd
	m.valueView, cmd = m.valueView.Update(msg)
	return cmd
}

func (m *Model) updateDetailsOverlay(msg tea.Msg) tea.Cmd {
	if keyMsg, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(keyMsg, keys.ToggleHelp):
			m.help.ShowAll = !m.help.ShowAll
			m.applyWindowSize(m.width, m.height)
			return nil
		case key.Matches(keyMsg, keys.CopyValue):
			return m.copySelectedDetailCmd()
		case key.Matches(keyMsg, keys.ViewValue):
			m.openValueOverlay()
			return nil
		}
		switch keyMsg.String() {
		case "esc", "q", "i":
			m.inDetailsOverlay = false
			m.detailsTable.Blur()
			m.table.Focus()
			m.applyWindowSize(m.width, m.height)
			return nil
		}
	}
	var cmd tea.Cmd
	m.detailsTable, cmd = m.detailsTable.Update(msg)
	return cmd
}

func (m *Model) updateMain(msg tea.Msg) tea.Cmd {
	var cmds []tea.Cmd

	switch msg := msg.(type) {
	case tea.MouseMsg:
		if msg.Action == tea.MouseActionPress && msg.Button == tea.MouseButtonLeft {
			m.inputMode = false
			m.filterInput.Blur()
			// The table sits on the left unless details are hidden.
			if m.hideDetails || msg.X < m.tableBlockWidth {
				m.table.Focus()
				m.detailsTable.Blur()
			} else {
				m.table.Blur()
				m.detailsTable.Focus()
			}
		}

	case tea.KeyMsg:
		if m.inputMode {
			switch msg.String() {
			case "enter", "esc":
				m.inputMode = false
				m.table.Focus()
				m.filterInput.Blur()
			default:
				var cmd tea.Cmd
				m.filterInput, cmd = m.filterInput.Update(msg)
				m.updateTable()
				return tea.Batch(cmd, m.syncSelection())
			}
			return nil
		}

		switch {
		case key.Matches(msg, keys.ToggleHelp):
			m.help.ShowAll = !m.help.ShowAll
			m.applyWindowSize(m.width, m.height)
			return nil
		case key.Matches(msg, keys.Quit):
			return tea.Quit
		case key.Matches(msg, keys.Filter):
			m.inputMode = true
			m.table.Blur()
			return m.filterInput.Focus()
		case key.Matches(msg, keys.Pause):
			m.paused = !m.paused
			m.applyWindowSize(m.width, m.height)
		case key.Matches(msg, keys.Refresh):
			cmds = append(cmds, m.fetchJobsCmd())
		case key.Matches(msg, keys.History):
			if m.appMode == modeLive {
				m.appMode = modeHistory
			} else {
				m.appMode = modeLive
			}
			m.loadingJobs = true
			m.selectedID = ""
			m.rawDetails = ""
			m.detailsTable.SetRows(nil)
			m.applyWindowSize(m.width, m.height)
			cmds = append(cmds, m.fetchJobsCmd())
		case key.Matches(msg, keys.StatusFilter):
			m.sFilter = (m.sFilter + 1) % 3
			m.updateTable()
			cmds = append(cmds, m.syncSelection())
		case key.Matches(msg, keys.InspectJob):
			if job := m.getSelectedJob(); job != nil {
				if m.hideDetails {
					m.inDetailsOverlay = true
					m.detailsTable.Focus()
					m.table.Blur()
				}
				m.selectedID = job.JobID
				return m.fetchDetailsCmd(job.JobID)
			}
		case key.Matches(msg, keys.CancelJob):
			if job := m.getSelectedJob(); job != nil {
				m.cancelCandidate = job
				m.confirmingCancel = true
			}
			return nil
		case key.Matches(msg, keys.TailLogs), key.Matches(msg, keys.TailStdout):
			return m.openLogs(slurm.Stdout)
		case key.Matches(msg, keys.TailStderr):
			return m.openLogs(slurm.Stderr)
		case key.Matches(msg, keys.SwitchFocus):
			if m.hideDetails || !m.table.Focused() {
				m.detailsTable.Blur()
				m.table.Focus()
			} else {
				m.table.Blur()
				m.detailsTable.Focus()
			}
			return nil
		case key.Matches(msg, keys.ToggleMouse):
			m.mouseEnabled = !m.mouseEnabled
			m.applyWindowSize(m.width, m.height)
			if m.mouseEnabled {
				return tea.EnableMouseCellMotion
			}
			return tea.DisableMouse
		case key.Matches(msg, keys.CopyValue):
			if m.hideDetails {
				m.setFeedback("Open details ('i') to copy values")
				return nil
			}
			return m.copySelectedDetailCmd()
		case key.Matches(msg, keys.ViewValue):
			m.openValueOverlay()
			return nil
		}
	}

	if !m.inputMode {
		var cmd tea.Cmd
		if m.detailsTable.Focused() {
			m.detailsTable, cmd = m.detailsTable.Update(msg)
		} else {
			m.table, cmd = m.table.Update(msg)
		}
		cmds = append(cmds, cmd, m.syncSelection())
	}
	m.applyPanelHeights()
	return tea.Batch(cmds...)
}

// syncSelection follows the table cursor and loads details for a newly
// selected job. Details are not fetched while the panel is hidden.
func (m *Model) syncSelection() tea.Cmd {
	sel := m.table.SelectedRow()
	if len(sel) == 0 {
		return nil
	}
	id := sel[0]
	if id == m.selectedID {
		return nil
	}
	m.selectedID = id
	m.rawDetails = ""
	m.detailsTable.SetRows(nil)
	if m.hideDetails {
		return nil
	}
	return m.fetchDetailsCmd(id)
}

func (m *Model) openLogs(stream slurm.Stream) tea.Cmd {
	job := m.getSelectedJob()
	if job == nil {
		return nil
	}
	m.selectedID = job.JobID
	m.help.ShowAll = false
	open := m.logView.Open(job.JobID, stream)
	m.sizeLogView()
	return tea.Batch(open, m.resolveLogPathsCmd(job.JobID))
}

func (m Model) View() string {
	switch {
	case m.logView.IsOpen():
		return m.frame(lipgloss.JoinVertical(lipgloss.Left, m.logView.View(), m.help.View(logKeys)))
	case m.inValueOverlay:
		return m.viewValueOverlay()
	case m.inDetailsOverlay:
		return m.viewDetailsOverlay()
	case m.confirmingCancel && m.cancelCandidate != nil:
		msg := fmt.Sprintf("Are you sure you want to cancel job?\n\n%s (%s)\n\n[y/N]", m.cancelCandidate.JobID, m.cancelCandidate.Name)
		return lipgloss.Place(m.width, m.height, lipgloss.Center, lipgloss.Center, dialogStyle.Render(msg))
	}

	tablePanel := m.renderTablePanel()
	mainView := tablePanel
	if !m.hideDetails {
		mainView = m.renderMainContent(tablePanel, m.renderDetailsPanel())
	}

	sections := []string{m.renderHeaderArea(), mainView, m.help.View(keys)}
	if hint := m.filterHint(); hint != "" {
		sections = append(sections, hint)
	}
	if hint := m.detailsHiddenHint(); hint != "" {
		sections = append(sections, hint)
	}
	return m.frame(lipgloss.JoinVertical(lipgloss.Left, sections...))
}

func (m *Model) getSelectedJob() *slurm.Job {
	sel := m.table.SelectedRow()
	if len(sel) == 0 {
		return nil
	}
	for i := range m.jobs {
		if m.jobs[i].JobID == sel[0] {
			return &m.jobs[i]
		}
	}
	return nil
}

func (m Model) jobByID(id string) (slurm.Job, bool) {
	if id == "" {
		return slurm.Job{}, false
	}
	for _, j := range m.jobs {
		if j.JobID == id {
			return j, true
		}
	}
	return slurm.Job{}, false
}

// --- Commands ---

func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) fetchJobsCmd() tea.Cmd {
	ctx, svc, current, days, logger := m.ctx, m.svc, m.appMode, m.historyDays, m.logger
	return func() tea.Msg {
		var (
			jobs []slurm.Job
			err  error
		)
		if current == modeHistory {
			jobs, err = svc.History(ctx, days)
		} else {
			jobs, err = svc.Jobs(ctx)
		}
		if err != nil {
			logger.Warn("refreshing jobs", "error", err)
			return errMsg(err)
		}
		return jobsMsg{mode: current, jobs: jobs}
	}
}

func (m Model) fetchDetailsCmd(id string) tea.Cmd {
	ctx, svc, finished := m.ctx, m.svc, m.appMode == modeHistory
	return func() tea.Msg {
		det, err := svc.Details(ctx, id, finished)
		if err != nil {
			return detailsMsg{jobID: id, text: fmt.Sprintf("Error fetching details: %v", err)}
		}
		return detailsMsg{jobID: id, text: det}
	}
}

func (m Model) cancelJobCmd(id string) tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		if err := svc.Cancel(ctx, id); err != nil {
			return errMsg(err)
		}
		return refreshNowMsg{}
	}
}

func (m Model) resolveLogPathsCmd(id string) tea.Cmd {
	ctx, svc := m.ctx, m.svc
	return func() tea.Msg {
		paths, err := svc.LogPaths(ctx, id)
		return logPathsMsg{jobID: id, paths: paths, err: err}
	}
}
