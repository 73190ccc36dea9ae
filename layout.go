package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/term"
	"github.com/muesli/reflow/truncate"

	"slurm-dashboard/internal/slurm"
)

const (
	panelGap         = 2
	panelChromeWidth = 8

	minTablePanelWidth   = 30
	minDetailsPanelWidth = 20
	maxDetailsPanelWidth = 50
)

// Job table column titles. Job ID always comes first; the selection logic
// reads it from cell 0.
const (
	colJobID     = "Job ID"
	colName      = "Name"
	colStatus    = "Status"
	colTime      = "Time"
	colNodes     = "Nodes"
	colPartition = "Partition"
	colNodeList  = "Nodelist"
)

func initialWindowSizeCmd() tea.Cmd {
	return func() tea.Msg {
		width, height := detectTerminalSize()
		return tea.WindowSizeMsg{Width: width, Height: height}
	}
}

func detectTerminalSize() (int, int) {
	width, height, err := term.GetSize(os.Stdout.Fd())
	if err != nil || width <= 0 || height <= 0 {
		return 80, 24
	}
	return width, height
}

// resolveSize replaces the zero sizes some terminals report during font or
// window changes with the last known size.
func (m Model) resolveSize(width, height int) (int, int) {
	if width <= 0 {
		if m.width > 0 {
			width = m.width
		} else {
			width, _ = detectTerminalSize()
		}
	}
	if height <= 0 {
		if m.height > 0 {
			height = m.height
		} else {
			_, height = detectTerminalSize()
		}
	}
	return width, height
}

func (m *Model) applyWindowSize(width, height int) {
	if width <= 0 {
		width = 80
	}
	if height <= 0 {
		height = 24
	}
	m.width = width
	m.height = height
	m.help.Width = width - 2

	switch {
	case width >= 110:
		m.filterInput.Width = 20
	case width >= 80:
		m.filterInput.Width = 12
	default:
		m.filterInput.Width = 10
	}

	headerHeight := lipgloss.Height(m.renderHeaderArea())
	helpHeight := lipgloss.Height(m.help.View(keys))
	hintHeight := 0
	if hint := m.filterHint(); hint != "" {
		hintHeight = lipgloss.Height(hint)
	}
	availableHeight := max(height-headerHeight-helpHeight-hintHeight, 0)

	// Keep the rightmost border inside the screen.
	usable := max(width-panelGap-6, 1)

	m.stackPanels = width < minTablePanelWidth+minDetailsPanelWidth+panelGap
	// Small windows show the jobs table only; details open as an overlay.
	m.hideDetails = m.stackPanels || availableHeight < 14

	var tableBlockWidth, detailsBlockWidth int
	switch {
	case m.hideDetails:
		tableBlockWidth = max(width-2, 1)
		detailsBlockWidth = tableBlockWidth
		m.tablePanelHeight = availableHeight
		m.detailsPanelHeight = 0
		m.stackGapHeight = 0
	case m.stackPanels:
		tableBlockWidth = width - 2
		detailsBlockWidth = width - 2
		m.tablePanelHeight = availableHeight / 2
		m.detailsPanelHeight = availableHeight - m.tablePanelHeight
		m.stackGapHeight = 1
	default:
		tableBlockWidth = max(usable*60/100, minTablePanelWidth)
		detailsBlockWidth = usable - tableBlockWidth
		if detailsBlockWidth < minDetailsPanelWidth {
			detailsBlockWidth = minDetailsPanelWidth
			tableBlockWidth = usable - detailsBlockWidth
		}
		if detailsBlockWidth > maxDetailsPanelWidth {
			detailsBlockWidth = maxDetailsPanelWidth
			tableBlockWidth = usable - detailsBlockWidth
			if tableBlockWidth < minTablePanelWidth {
				tableBlockWidth = minTablePanelWidth
				detailsBlockWidth = usable - tableBlockWidth
			}
		}
		m.tablePanelHeight = availableHeight
		m.detailsPanelHeight = availableHeight
		m.stackGapHeight = 0
	}
	m.tableBlockWidth = tableBlockWidth
	m.detailsBlockWidth = detailsBlockWidth

	tableFrameX, _ := m.tableBoxStyle().GetFrameSize()
	detailsFrameX, _ := m.detailsBoxStyle().GetFrameSize()
	tableContentWidth := max(tableBlockWidth-tableFrameX, 1)
	m.detailsContentWidth = max(detailsBlockWidth-detailsFrameX, 1)

	// The bubbles table indexes columns by cell position while rendering, so
	// rows must be cleared before the column set changes.
	m.table.SetRows([]table.Row{})
	m.table.SetColumns(m.responsiveTableColumns(tableContentWidth))
	m.table.SetWidth(tableContentWidth)
	m.updateTable()

	m.detailsTable.SetWidth(m.detailsContentWidth)
	keyWidth := max(m.detailsContentWidth*30/100, 8)
	valWidth := max(m.detailsContentWidth-keyWidth-1, 1)
	m.detailsTable.SetRows([]table.Row{})
	m.detailsTable.SetColumns([]table.Column{
		{Title: "Key", Width: keyWidth},
		{Title: "Value", Width: valWidth},
	})
	if m.rawDetails != "" {
		m.updateDetailsTable(m.rawDetails)
	}

	m.applyPanelHeights()
	m.sizeLogView()
}

func (m *Model) sizeLogView() {
	helpHeight := lipgloss.Height(m.help.View(logKeys))
	m.logView.SetSize(m.width, m.height-helpHeight)
}

func (m *Model) applyPanelHeights() {
	tableHeight := max(m.tablePanelHeight, 0)
	detailsHeight := max(m.detailsPanelHeight, 0)

	_, tableFrameHeight := m.tableBoxStyle().GetFrameSize()
	tableContent := tableHeight - lipgloss.Height(m.tablePanelTitle()) - tableFrameHeight
	m.table.SetHeight(max(tableContent, 0))

	_, detailsFrameHeight := m.detailsBoxStyle().GetFrameSize()
	detailsContent := detailsHeight - lipgloss.Height(m.detailsPanelTitle()) - detailsFrameHeight
	if hint := m.detailHint(); hint != "" {
		detailsContent -= lipgloss.Height(hint)
	}
	m.detailsTable.SetHeight(max(detailsContent, 0))
}

func (m Model) panelPadding() (padY, padX int) {
	if m.width < 90 || m.height < 26 || m.stackPanels {
		return 0, 1
	}
	return 1, 2
}

func (m Model) tableBoxStyle() lipgloss.Style {
	padY, padX := m.panelPadding()
	return listStyle.Copy().Padding(padY, padX)
}

func (m Model) detailsBoxStyle() lipgloss.Style {
	padY, padX := m.panelPadding()
	return detailsStyle.Copy().Padding(padY, padX)
}

// responsiveTableColumns keeps Job ID, Name and Status and adds optional
// columns while Name keeps its minimum width. Name absorbs the rest.
func (m Model) responsiveTableColumns(contentWidth int) []table.Column {
	usable := max(contentWidth-2, 1)

	const (
		idW     = 8
		statusW = 6
		nameMin = 12
	)
	optionals := []table.Column{
		{Title: colTime, Width: 10},
		{Title: colNodes, Width: 6},
		{Title: colPartition, Width: 10},
		{Title: colNodeList, Width: 15},
	}

	used := idW + statusW
	var chosen []table.Column
	for _, c := range optionals {
		if usable-(used+c.Width) >= nameMin {
			chosen = append(chosen, c)
			used += c.Width
		}
	}

	cols := []table.Column{
		{Title: colJobID, Width: idW},
		{Title: colName, Width: max(usable-used, nameMin)},
		{Title: colStatus, Width: statusW},
	}
	return append(cols, chosen...)
}

// jobCell renders the cell of j under the column titled title.
func jobCell(j slurm.Job, title string) string {
	switch title {
	case colJobID:
		return j.JobID
	case colName:
		return j.Name
	case colStatus:
		return shortenText(j.State(), 12)
	case colTime:
		return shortenText(j.Time, 12)
	case colNodes:
		return shortenText(j.Nodes, 8)
	case colPartition:
		return shortenText(j.Partition, 12)
	case colNodeList:
		return shortenText(j.NodeList, 20)
	}
	return ""
}

func (m *Model) updateTable() {
	if m.loadingJobs {
		// Keep the current rows while a new listing is on its way.
		return
	}

	m.filtered = make([]slurm.Job, 0, len(m.jobs))
	query := strings.ToLower(m.filterInput.Value())
	for _, j := range m.jobs {
		if m.appMode == modeHistory && !j.IsFinished() {
			continue
		}
		if m.sFilter == filterRunning && !j.IsRunning() {
			continue
		}
		if m.sFilter == filterPending && !j.IsPending() {
			continue
		}
		if query != "" &&
			!strings.Contains(strings.ToLower(j.Name), query) &&
			!strings.Contains(j.JobID, query) {
			continue
		}
		m.filtered = append(m.filtered, j)
	}

	// Rows are built per column so hidden columns never shift cells.
	cols := m.table.Columns()
	rows := make([]table.Row, 0, len(m.filtered))
	for _, j := range m.filtered {
		row := make(table.Row, len(cols))
		for i, c := range cols {
			row[i] = jobCell(j, c.Title)
		}
		rows = append(rows, row)
	}
	m.table.SetRows(rows)
}

func clampViewWidth(view string, width int) string {
	if width <= 0 {
		return view
	}
	lines := strings.Split(strings.ReplaceAll(view, "\r\n", "\n"), "\n")
	for i, line := range lines {
		if lipgloss.Width(line) > width {
			lines[i] = truncate.String(line, uint(width))
		}
	}
	return strings.Join(lines, "\n")
}

func clampViewHeight(view string, height int) string {
	if height <= 0 {
		return ""
	}
	lines := strings.Split(strings.ReplaceAll(view, "\r\n", "\n"), "\n")
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}

// frame clamps a full-screen view to the window.
func (m Model) frame(view string) string {
	view = clampViewHeight(view, m.height)
	view = clampViewWidth(view, m.width)
	return lipgloss.Place(m.width, m.height, lipgloss.Left, lipgloss.Top, view)
}

func joinWithGap(parts []string, gap int) string {
	filtered := make([]string, 0, len(parts))
	for _, part := range parts {
		if strings.TrimSpace(part) != "" {
			filtered = append(filtered, part)
		}
	}
	switch len(filtered) {
	case 0:
		return ""
	case 1:
		return filtered[0]
	}
	if gap <= 0 {
		return lipgloss.JoinHorizontal(lipgloss.Left, filtered...)
	}
	spacer := lipgloss.NewStyle().Width(gap).Render(" ")
	row := filtered[0]
	for _, part := range filtered[1:] {
		row = lipgloss.JoinHorizontal(lipgloss.Left, row, spacer, part)
	}
	return row
}

func shortenText(s string, limit int) string {
	if limit <= 0 || len(s) <= limit {
		return s
	}
	if limit <= 3 {
		return s[:limit]
	}
	return s[:limit-3] + "..."
}

func (m Model) renderHeaderArea() string {
	modeStr := "Live"
	if m.appMode == modeHistory {
		modeStr = fmt.Sprintf("History %dd", m.historyDays)
	}

	required := []string{
		filterBoxStyle.Render(m.filterInput.View()),
		metaMutedPillStyle.Render("Status " + m.sFilter.String()),
		metaPillStyle.Render("Mode " + modeStr),
	}
	if m.paused {
		required = append(required, metaMutedPillStyle.Copy().Background(accentOrange).Render("Paused"))
	}
	if m.err != nil {
		required = append(required, metaAlertPillStyle.Render("Error "+shortenText(m.err.Error(), 32)))
	}

	var optional []string
	if m.width >= 120 {
		optional = append(optional, joinWithGap(m.jobStatChips(), 0))
	} else if m.width >= 90 {
		if compact := m.jobStatsCompactPill(); compact != "" {
			optional = append(optional, compact)
		}
	}
	if !m.lastRefresh.IsZero() {
		optional = append(optional, metaMutedPillStyle.Render("Updated "+m.lastRefresh.Format("15:04:05")))
	}
	mouseState := "Mouse Off"
	if m.mouseEnabled {
		mouseState = "Mouse On"
	}
	optional = append(optional, metaMutedPillStyle.Render(mouseState))

	// One line only: drop the lowest priority items until it fits.
	parts := append(required, optional...)
	for len(parts) > 0 && lipgloss.Width(joinWithGap(parts, 1)) > m.width {
		parts = parts[:len(parts)-1]
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(joinWithGap(parts, 1))
}

func (m Model) filterHint() string {
	if m.inputMode || m.filterInput.Value() != "" {
		return ""
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(filterHintStyle.Render("Press '/' to focus the filter"))
}

func (m Model) detailsHiddenHint() string {
	if !m.hideDetails || m.inDetailsOverlay {
		return ""
	}
	return lipgloss.NewStyle().MaxWidth(m.width).Render(
		filterHintStyle.Render("Details hidden in small window - press 'i' or Enter to open"),
	)
}

func (m Model) tablePanelTitle() string {
	title := panelTitleStyle.Render(fmt.Sprintf("Jobs (%d)", len(m.filtered)))
	if m.table.Focused() && !m.inputMode {
		title = lipgloss.JoinHorizontal(lipgloss.Left, title, focusTagStyle.Render("Jobs Focused"))
	}
	return title
}

func (m Model) renderTablePanel() string {
	style := m.tableBoxStyle()
	if m.tableBlockWidth > 0 {
		style = style.Width(m.tableBlockWidth)
	}
	if m.table.Focused() && !m.inputMode {
		style = style.BorderForeground(highlight).Background(panelBg)
	}
	return lipgloss.JoinVertical(lipgloss.Left, m.tablePanelTitle(), style.Render(m.table.View()))
}

func (m Model) renderMainContent(tablePanel, detailsPanel string) string {
	if m.stackPanels {
		if m.stackGapHeight > 0 {
			gap := lipgloss.NewStyle().Height(m.stackGapHeight).Render(" ")
			return lipgloss.JoinVertical(lipgloss.Left, tablePanel, gap, detailsPanel)
		}
		return lipgloss.JoinVertical(lipgloss.Left, tablePanel, detailsPanel)
	}
	gap := lipgloss.NewStyle().Width(panelGap).Render(" ")
	return lipgloss.JoinHorizontal(lipgloss.Top, tablePanel, gap, detailsPanel)
}

type jobStats struct {
	Running   int
	Pending   int
	Completed int
	Failed    int
	Other     int
}

func (m Model) collectJobStats() jobStats {
	var stats jobStats
	for _, j := range m.filtered {
		switch {
		case j.IsRunning():
			stats.Running++
		case j.IsPending():
			stats.Pending++
		}
		switch j.State() {
		case "CD":
			stats.Completed++
		case "F", "TO", "NF", "OOM", "CA":
			stats.Failed++
		default:
			if j.IsFinished() {
				stats.Other++
			}
		}
	}
	return stats
}

func (m Model) jobStatsCompactPill() string {
	stats := m.collectJobStats()
	var parts []string
	for _, s := range []struct {
		prefix string
		n      int
	}{
		{"R", stats.Running},
		{"P", stats.Pending},
		{"F", stats.Failed},
		{"C", stats.Completed},
		{"O", stats.Other},
	} {
		if s.n > 0 {
			parts = append(parts, fmt.Sprintf("%s%d", s.prefix, s.n))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return metaMutedPillStyle.Render(strings.Join(parts, " "))
}

func (m Model) jobStatChips() []string {
	stats := m.collectJobStats()
	metrics := []struct {
		short string
		icon  string
		value int
		color lipgloss.TerminalColor
	}{
		{"R", "▶", stats.Running, accentGreen},
		{"P", "…", stats.Pending, accentOrange},
		{"C", "✓", stats.Completed, accentBlue},
		{"F", "!", stats.Failed, accentPink},
		{"O", "?", stats.Other, accentCyan},
	}

	var chips []string
	for _, metric := range metrics {
		if metric.short == "O" && metric.value == 0 {
			continue
		}
		value := summaryValueStyle.Copy().Foreground(metric.color).Render(fmt.Sprintf("%s %d", metric.icon, metric.value))
		content := lipgloss.JoinHorizontal(lipgloss.Left,
			summaryLabelStyle.Render(metric.short),
			lipgloss.NewStyle().MarginLeft(1).Render(value),
		)
		chips = append(chips, summaryChipStyle.Copy().BorderForeground(metric.color).Render(content))
	}
	return chips
}

func renderStateBadge(state, label string) string {
	code := strings.ToUpper(strings.TrimSpace(state))
	if code == "" && label != "" {
		code = slurm.StateCode(label)
	}
	caption := strings.ToUpper(strings.TrimSpace(label))
	switch {
	case caption == "" && code == "":
		caption = "UNKNOWN"
	case caption == "":
		caption = code
	case code != "" && code != caption:
		caption = fmt.Sprintf("%s (%s)", caption, code)
	}
	return statusBadgeStyle.Copy().Background(statusColor(code)).Render(caption)
}
