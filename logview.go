package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/reflow/truncate"
	"github.com/muesli/reflow/wordwrap"
	"github.com/spf13/afero"

	"slurm-dashboard/internal/logwatch"
	"slurm-dashboard/internal/slurm"
)

// backlogWindow bounds how much of an existing file is read to fill the view
// when a target is opened.
const backlogWindow = 1 << 20

// LogKeyMap defines keybindings for the log view
type LogKeyMap struct {
	Back       key.Binding
	Stdout     key.Binding
	Stderr     key.Binding
	Switch     key.Binding
	Follow     key.Binding
	Pause      key.Binding
	Clear      key.Binding
	Top        key.Binding
	Bottom     key.Binding
	Search     key.Binding
	FindNext   key.Binding
	FindPrev   key.Binding
	CopyAll    key.Binding
	ViewPager  key.Binding
	ToggleHelp key.Binding
}

func (k LogKeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Back, k.Switch, k.Follow, k.Pause, k.Search, k.FindNext, k.CopyAll, k.ToggleHelp}
}

func (k LogKeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Stdout, k.Stderr, k.Switch, k.ViewPager, k.CopyAll, k.ToggleHelp},
		{k.Follow, k.Pause, k.Clear, k.Top, k.Bottom},
		{k.Search, k.FindNext, k.FindPrev, k.Back},
	}
}

var logKeys = LogKeyMap{
	Back:       key.NewBinding(key.WithKeys("q", "esc"), key.WithHelp("q/esc", "back")),
	Stdout:     key.NewBinding(key.WithKeys("o"), key.WithHelp("o", "stdout")),
	Stderr:     key.NewBinding(key.WithKeys("e"), key.WithHelp("e", "stderr")),
	Switch:     key.NewBinding(key.WithKeys("tab"), key.WithHelp("tab", "switch stream")),
	Follow:     key.NewBinding(key.WithKeys("f"), key.WithHelp("f", "follow")),
	Pause:      key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause")),
	Clear:      key.NewBinding(key.WithKeys("c"), key.WithHelp("c", "clear")),
	Top:        key.NewBinding(key.WithKeys("t", "g", "home"), key.WithHelp("t/g", "top")),
	Bottom:     key.NewBinding(key.WithKeys("b", "G", "end"), key.WithHelp("b/G", "bottom")),
	Search:     key.NewBinding(key.WithKeys("/"), key.WithHelp("/", "search")),
	FindNext:   key.NewBinding(key.WithKeys("n"), key.WithHelp("n", "next match")),
	FindPrev:   key.NewBinding(key.WithKeys("N"), key.WithHelp("N", "prev match")),
	CopyAll:    key.NewBinding(key.WithKeys("Y"), key.WithHelp("Y", "copy pane")),
	ViewPager:  key.NewBinding(key.WithKeys("v"), key.WithHelp("v", "open in pager")),
	ToggleHelp: key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "more keys")),
}

// logTarget is the part of the log engine the view talks to.
type logTarget interface {
	SetTarget(path string)
	Drain() []logwatch.Update
}

type logFileStatus int

const (
	logNoPath logFileStatus = iota
	logWaiting
	logLoaded
	logFailed
)

type logTickMsg struct {
	session int
}

type logBacklogMsg struct {
	seq     int
	path    string
	lines   []string
	partial bool
	err     error
}

type logPathsMsg struct {
	jobID string
	paths slurm.LogPaths
	err   error
}

type logViewOptions struct {
	Fs           afero.Fs
	MaxLines     int
	TickInterval time.Duration
	ArchiveDir   string
}

// LogView shows one output stream of one job and feeds the log engine its
// target. Updates are drained on every tick of its own tick loop, which only
// runs while the view is open.
type LogView struct {
	target     logTarget
	fs         afero.Fs
	tick       time.Duration
	maxLines   int
	archiveDir string

	open      bool
	session   int
	seq       int
	jobID     string
	stream    slurm.Stream
	paths     slurm.LogPaths
	pathErr   error
	resolving bool
	current   string

	buf         *logBuffer
	status      logFileStatus
	lastErr     error
	notice      string
	truncations int

	viewport  viewport.Model
	visual    []string
	following bool
	paused    bool
	stale     bool

	searchInput textinput.Model
	searching   bool
	query       string

	width  int
	height int

	feedback       string
	feedbackExpiry time.Time
}

func NewLogView(target logTarget, opts logViewOptions) LogView {
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.TickInterval <= 0 {
		opts.TickInterval = 100 * time.Millisecond
	}

	ti := textinput.New()
	ti.Placeholder = "Search"
	ti.Prompt = "/"
	ti.CharLimit = 120
	ti.PromptStyle = lipgloss.NewStyle().Foreground(highlight)
	ti.TextStyle = lipgloss.NewStyle().Foreground(textStrong)
	ti.PlaceholderStyle = lipgloss.NewStyle().Foreground(subtle)

	return LogView{
		target:      target,
		fs:          opts.Fs,
		tick:        opts.TickInterval,
		maxLines:    opts.MaxLines,
		archiveDir:  opts.ArchiveDir,
		buf:         newLogBuffer(opts.MaxLines),
		viewport:    viewport.New(80, 20),
		following:   true,
		searchInput: ti,
	}
}

func (v *LogView) IsOpen() bool {
	return v.open
}

func (v *LogView) Searching() bool {
	return v.searching
}

func (v *LogView) JobID() string {
	return v.jobID
}

func (v *LogView) CurrentPath() string {
	return v.current
}

// Open switches the view to jobID. The previous target is released right
// away; the new one is set once its paths are resolved.
func (v *LogView) Open(jobID string, stream slurm.Stream) tea.Cmd {
	v.open = true
	v.session++
	v.seq++
	v.jobID = jobID
	v.stream = stream
	v.paths = slurm.LogPaths{}
	v.pathErr = nil
	v.resolving = true
	v.current = ""
	v.status = logNoPath
	v.lastErr = nil
	v.following = true
	v.paused = false
	v.clear()
	v.target.SetTarget("")
	return v.tickCmd()
}

// SetPaths applies the resolved paths of the job being opened.
func (v *LogView) SetPaths(msg logPathsMsg) tea.Cmd {
	if !v.open || msg.jobID != v.jobID {
		return nil
	}
	v.resolving = false
	v.paths = msg.paths
	v.pathErr = msg.err
	return v.retarget()
}

// ShowStream switches between stdout and stderr. Merged streams share one
// file, so the buffer is kept.
func (v *LogView) ShowStream(s slurm.Stream) tea.Cmd {
	if s == v.stream {
		return nil
	}
	prev := v.paths.For(v.stream)
	v.stream = s
	if v.resolving {
		return nil
	}
	if prev != "" && prev == v.paths.For(s) {
		return nil
	}
	return v.retarget()
}

func (v *LogView) Close() {
	v.open = false
	v.session++
	v.seq++
	v.current = ""
	v.searching = false
	v.searchInput.Blur()
	v.clear()
	v.target.SetTarget("")
}

func (v *LogView) retarget() tea.Cmd {
	path := v.paths.For(v.stream)
	v.seq++
	v.clear()
	v.current = path
	v.lastErr = nil
	v.following = true
	if path == "" {
		v.status = logNoPath
	} else {
		v.status = logWaiting
	}
	v.target.SetTarget(path)
	v.refresh()
	if path == "" {
		return nil
	}
	return readBacklogCmd(v.fs, v.seq, path, v.maxLines)
}

func (v *LogView) clear() {
	v.buf.Reset()
	v.truncations = 0
	v.refresh()
}

func (v *LogView) tickCmd() tea.Cmd {
	session := v.session
	return tea.Tick(v.tick, func(time.Time) tea.Msg {
		return logTickMsg{session: session}
	})
}

// Tick drains pending engine updates and schedules the next tick while the
// view stays open.
func (v *LogView) Tick(msg logTickMsg) tea.Cmd {
	if !v.open || msg.session != v.session {
		return nil
	}
	v.drain()
	return v.tickCmd()
}

func (v *LogView) drain() {
	changed := false
	for _, u := range v.target.Drain() {
		if v.apply(u) {
			changed = true
		}
	}
	if changed {
		v.refresh()
	}
}

// apply folds one update into the view. Updates for a path other than the
// current target were in flight during a switch and are dropped.
func (v *LogView) apply(u logwatch.Update) bool {
	if u.Err != nil && u.Path == "" {
		v.notice = u.Err.Error()
		return true
	}
	if u.Path != v.current || v.current == "" {
		return false
	}
	if u.Err != nil {
		var werr *logwatch.Error
		if errors.As(u.Err, &werr) && werr.Kind == logwatch.KindIO && errors.Is(werr, fs.ErrNotExist) {
			v.status = logWaiting
			v.lastErr = nil
			return true
		}
		v.status = logFailed
		v.lastErr = u.Err
		return true
	}

	v.status = logLoaded
	v.lastErr = nil
	if u.Content.Truncated {
		v.truncations++
		v.buf.Mark(fmt.Sprintf("--- %s truncated, reading from the start ---", v.stream))
	}
	v.buf.Append(u.Content.Text)
	return true
}

// Backlog prepends the tail of the file as it was when the target was set.
func (v *LogView) Backlog(msg logBacklogMsg) {
	if msg.seq != v.seq || msg.path != v.current {
		return
	}
	if msg.err != nil {
		if !errors.Is(msg.err, fs.ErrNotExist) {
			v.status = logFailed
			v.lastErr = msg.err
			v.refresh()
		}
		return
	}
	if v.status != logFailed {
		v.status = logLoaded
	}
	v.buf.Prepend(msg.lines, msg.partial)
	v.refresh()
}

func readBacklogCmd(fsys afero.Fs, seq int, path string, maxLines int) tea.Cmd {
	return func() tea.Msg {
		lines, partial, err := readBacklog(fsys, path, maxLines)
		return logBacklogMsg{seq: seq, path: path, lines: lines, partial: partial, err: err}
	}
}

// readBacklog returns up to maxLines of the last backlogWindow bytes of path.
func readBacklog(fsys afero.Fs, path string, maxLines int) ([]string, bool, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, false, err
	}
	start := info.Size() - backlogWindow
	if start < 0 {
		start = 0
	}
	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, false, err
	}
	data, err := io.ReadAll(io.LimitReader(f, info.Size()-start))
	if err != nil {
		return nil, false, err
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	if start > 0 {
		// The window starts mid-line.
		if i := strings.IndexByte(text, '\n'); i >= 0 {
			text = text[i+1:]
		} else {
			text = ""
		}
	}
	text = logwatch.NormalizeLines(text)
	if text == "" {
		return nil, false, nil
	}

	partial := !strings.HasSuffix(text, "\n")
	lines := strings.Split(strings.TrimSuffix(text, "\n"), "\n")
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines, partial, nil
}

func (v *LogView) SetSize(width, height int) {
	v.width = width
	v.height = height

	frameX, frameY := logPaneStyle.GetFrameSize()
	w := width - frameX
	if w < 10 {
		w = 10
	}
	// Header, path and status lines.
	h := height - frameY - 3
	if h < 3 {
		h = 3
	}
	v.viewport.Width = w
	v.viewport.Height = h
	v.searchInput.Width = w - 2
	v.refresh()
}

// refresh rebuilds the viewport content from the buffer. While paused the
// screen stays frozen and the rebuild happens on resume.
func (v *LogView) refresh() {
	if v.paused {
		v.stale = true
		return
	}
	v.stale = false

	if v.buf.Len() == 0 {
		v.visual = v.visual[:0]
		v.viewport.SetContent(placeholderStyle.Render(v.placeholder()))
		v.viewport.GotoTop()
		return
	}

	needle := strings.ToLower(strings.TrimSpace(v.query))
	width := v.viewport.Width
	v.visual = v.visual[:0]
	rendered := make([]string, 0, v.buf.Len())
	for i := 0; i < v.buf.Len(); i++ {
		text, marker := v.buf.Line(i)
		for _, line := range strings.Split(wrapLine(text, width), "\n") {
			v.visual = append(v.visual, strings.ToLower(line))
			if marker {
				rendered = append(rendered, logMarkerStyle.Render(line))
			} else {
				rendered = append(rendered, highlightMatches(line, needle))
			}
		}
	}
	v.viewport.SetContent(strings.Join(rendered, "\n"))
	if v.following {
		v.viewport.GotoBottom()
	}
}

func (v *LogView) placeholder() string {
	switch {
	case v.resolving:
		return "Resolving log paths..."
	case v.status == logNoPath:
		archive := "  • No archived log found in the convention directory"
		if v.archiveDir != "" {
			archive = fmt.Sprintf("  • No archived log found in %s", v.archiveDir)
		}
		lines := []string{
			fmt.Sprintf("No %s path available", v.stream),
			"",
			"This can happen when:",
			"  • Job is too old (purged from sacct)",
			"  • scontrol/sacct couldn't resolve paths",
			archive,
			"  • Job was submitted without output files",
			"",
			"Convention for finished jobs:",
			"  • <archive dir>/<jobid>.out",
			"  • <archive dir>/<jobid>.err",
			"  • Override dir with SLURM_DASHBOARD_LOG_ARCHIVE_DIR",
		}
		return strings.Join(lines, "\n")
	case v.status == logWaiting:
		return "Waiting for the file to appear..."
	case v.status == logFailed:
		return "Cannot read the file (see status line)"
	default:
		return "No output yet"
	}
}

func wrapLine(line string, width int) string {
	if line == "" || width <= 0 {
		return line
	}
	return wordwrap.String(line, width)
}

func highlightMatches(line, needle string) string {
	if needle == "" || strings.TrimSpace(line) == "" {
		return line
	}
	lowerLine := strings.ToLower(line)
	if len(lowerLine) != len(line) {
		// Case folding changed byte offsets; leave the line alone.
		return line
	}

	var b strings.Builder
	i := 0
	for i < len(line) {
		idx := strings.Index(lowerLine[i:], needle)
		if idx == -1 {
			b.WriteString(line[i:])
			break
		}
		start := i + idx
		end := start + len(needle)
		b.WriteString(line[i:start])
		b.WriteString(searchHighlightStyle.Render(line[start:end]))
		i = end
	}
	return b.String()
}

// findMatch moves the viewport to the next visual line containing the query,
// wrapping around at either end.
func (v *LogView) findMatch(forward bool) bool {
	needle := strings.ToLower(strings.TrimSpace(v.query))
	n := len(v.visual)
	if needle == "" || n == 0 {
		return false
	}
	step := 1
	if !forward {
		step = -1
	}
	current := v.viewport.YOffset
	for k := 1; k <= n; k++ {
		i := ((current+step*k)%n + n) % n
		if strings.Contains(v.visual[i], needle) {
			v.following = false
			v.viewport.SetYOffset(i)
			return true
		}
	}
	return false
}

func (v *LogView) setFeedback(text string) {
	v.feedback = text
	v.feedbackExpiry = time.Now().Add(2 * time.Second)
}

// Update handles input while the view is open. Leaving the view is up to the
// caller.
func (v *LogView) Update(msg tea.Msg) tea.Cmd {
	if v.feedback != "" && time.Now().After(v.feedbackExpiry) {
		v.feedback = ""
	}

	if v.searching {
		if msg, ok := msg.(tea.KeyMsg); ok {
			switch msg.String() {
			case "enter":
				v.searching = false
				v.searchInput.Blur()
				v.query = strings.TrimSpace(v.searchInput.Value())
				v.refresh()
				if v.query != "" && !v.findMatch(true) {
					v.setFeedback("No match for " + v.query)
				}
				return nil
			case "esc":
				v.searching = false
				v.searchInput.Blur()
				return nil
			}
		}
		var cmd tea.Cmd
		v.searchInput, cmd = v.searchInput.Update(msg)
		return cmd
	}

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, logKeys.Stdout):
			return v.ShowStream(slurm.Stdout)
		case key.Matches(msg, logKeys.Stderr):
			return v.ShowStream(slurm.Stderr)
		case key.Matches(msg, logKeys.Switch):
			if v.stream == slurm.Stdout {
				return v.ShowStream(slurm.Stderr)
			}
			return v.ShowStream(slurm.Stdout)
		case key.Matches(msg, logKeys.Follow):
			v.following = !v.following
			if v.following {
				v.viewport.GotoBottom()
			}
			return nil
		case key.Matches(msg, logKeys.Pause):
			v.paused = !v.paused
			if !v.paused && v.stale {
				v.refresh()
			}
			return nil
		case key.Matches(msg, logKeys.Clear):
			v.clear()
			return nil
		case key.Matches(msg, logKeys.Top):
			v.following = false
			v.viewport.GotoTop()
			return nil
		case key.Matches(msg, logKeys.Bottom):
			v.following = true
			v.viewport.GotoBottom()
			return nil
		case key.Matches(msg, logKeys.Search):
			v.searching = true
			v.searchInput.SetValue(v.query)
			v.searchInput.CursorEnd()
			return v.searchInput.Focus()
		case key.Matches(msg, logKeys.FindNext):
			v.findMatch(true)
			return nil
		case key.Matches(msg, logKeys.FindPrev):
			v.findMatch(false)
			return nil
		case key.Matches(msg, logKeys.CopyAll):
			text := v.buf.Text()
			if strings.TrimSpace(text) == "" {
				v.setFeedback("Nothing to copy")
				return nil
			}
			v.setFeedback(fmt.Sprintf("Copied %d lines", strings.Count(text, "\n")+1))
			return osc52CopyCmd(text)
		case key.Matches(msg, logKeys.ViewPager):
			return openInPagerCmd(v.current)
		}

		switch msg.String() {
		case "up", "k", "pgup", "ctrl+u":
			v.following = false
		}
	case tea.MouseMsg:
		if msg.Button == tea.MouseButtonWheelUp {
			v.following = false
		}
	}

	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	if v.viewport.AtBottom() && !v.paused {
		if k, ok := msg.(tea.KeyMsg); ok && (k.String() == "down" || k.String() == "j" || k.String() == "pgdown") {
			v.following = true
		}
	}
	return cmd
}

func (v LogView) View() string {
	tabs := make([]string, 0, 2)
	for _, s := range []slurm.Stream{slurm.Stdout, slurm.Stderr} {
		label := s.String()
		if v.paths.Merged() {
			label += "+merged"
		}
		if s == v.stream {
			tabs = append(tabs, logTabActiveStyle.Render(label))
		} else {
			tabs = append(tabs, logTabStyle.Render(label))
		}
	}
	header := lipgloss.JoinHorizontal(lipgloss.Left,
		append([]string{panelTitleStyle.Render("Logs " + v.jobID + " ")}, tabs...)...,
	)
	header = clampViewWidth(header, v.width)

	path := v.current
	if path == "" {
		path = "(no file)"
	}
	pathLine := truncate.StringWithTail(path, uint(max(v.width, 1)), "…")
	pathLine = placeholderStyle.Render(pathLine)

	body := logPaneStyle.Width(v.viewport.Width + 2).Render(v.viewport.View())

	footer := v.statusLine()
	if v.searching {
		footer = v.searchInput.View()
	}
	footer = clampViewWidth(footer, v.width)

	return lipgloss.JoinVertical(lipgloss.Left, header, pathLine, body, footer)
}

func (v LogView) statusLine() string {
	var parts []string
	switch {
	case v.resolving:
		parts = append(parts, logStatusStyle.Render("resolving"))
	case v.status == logNoPath:
		text := "no log path"
		if v.pathErr != nil {
			text = v.pathErr.Error()
		}
		parts = append(parts, logErrorStyle.Render(text))
	case v.status == logWaiting:
		parts = append(parts, logStatusStyle.Render("waiting for file"))
	case v.status == logFailed:
		parts = append(parts, logErrorStyle.Render(v.lastErr.Error()))
	default:
		parts = append(parts, logStatusStyle.Render(fmt.Sprintf("%d lines", v.buf.Len())))
	}

	if v.truncations > 0 {
		parts = append(parts, logMarkerStyle.Render(fmt.Sprintf("truncated ×%d", v.truncations)))
	}
	if v.buf.dropped > 0 {
		parts = append(parts, logStatusStyle.Render(fmt.Sprintf("%d older lines dropped", v.buf.dropped)))
	}
	switch {
	case v.paused:
		parts = append(parts, logMarkerStyle.Render("paused"))
	case v.following:
		parts = append(parts, logStatusStyle.Render("following"))
	}
	if v.query != "" {
		parts = append(parts, logStatusStyle.Render("search: "+v.query))
	}
	if v.notice != "" {
		parts = append(parts, logErrorStyle.Render(v.notice))
	}
	if v.feedback != "" {
		parts = append(parts, copyStatusStyle.Render(v.feedback))
	}
	return strings.Join(parts, logStatusStyle.Render("  •  "))
}
