package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-runewidth"
	"github.com/muesli/reflow/wordwrap"

	"slurm-dashboard/internal/slurm"
)

// historyDetailLabels names the sacct columns requested by Client.Details.
var historyDetailLabels = []string{
	"JobID",
	"JobName",
	"User",
	"State",
	"Partition",
	"Elapsed",
	"AllocNodes",
	"NodeList",
	"Start",
	"End",
	"ExitCode",
}

func (m *Model) updateDetailsTable(text string) {
	var rows []table.Row
	if m.appMode == modeHistory {
		rows = parseHistoryDetailsToRows(text)
	} else {
		rows = parseDetailsToRows(text)
	}
	m.detailsTable.SetRows(rows)
}

// parseDetailsToRows turns `scontrol show job` output into key/value rows.
// Tokens without '=' continue the previous value (Command= paths with
// spaces, for example).
func parseDetailsToRows(text string) []table.Row {
	if strings.HasPrefix(text, "Error") {
		return []table.Row{{"Error", sanitizeDetailValue(text)}}
	}

	var rows []table.Row
	for _, line := range strings.Split(text, "\n") {
		for _, field := range strings.Fields(line) {
			k, val, ok := strings.Cut(field, "=")
			if !ok || k == "" {
				if n := len(rows); n > 0 {
					rows[n-1][1] = strings.TrimSpace(rows[n-1][1] + " " + field)
				}
				continue
			}
			if val == "" {
				val = "(empty)"
			}
			rows = append(rows, table.Row{k, val})
		}
	}
	return rows
}

// parseHistoryDetailsToRows labels one sacct -P line, preferring the job
// allocation line over its steps.
func parseHistoryDetailsToRows(text string) []table.Row {
	text = strings.TrimSpace(text)
	if text == "" {
		return []table.Row{{"Info", "No history details available"}}
	}
	if strings.HasPrefix(text, "Error") {
		return []table.Row{{"Error", sanitizeDetailValue(text)}}
	}

	var fields []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		parts := strings.Split(line, "|")
		if len(parts) < 2 {
			return parseDetailsToRows(text)
		}
		jobID := strings.TrimSpace(parts[0])
		if jobID == "" {
			continue
		}
		if !strings.Contains(jobID, ".") {
			fields = parts
			break
		}
		if fields == nil {
			fields = parts
		}
	}
	if fields == nil {
		return []table.Row{{"Info", "No history details found"}}
	}

	var rows []table.Row
	for i, label := range historyDetailLabels {
		if i >= len(fields) {
			break
		}
		val := strings.TrimSpace(fields[i])
		if val == "" {
			continue
		}
		rows = append(rows, table.Row{label, val})
		if label == "State" {
			if code := slurm.StateCode(val); code != "" && code != val {
				rows = append(rows, table.Row{"StateCode", code})
			}
		}
	}
	if len(rows) == 0 {
		return []table.Row{{"Info", "No history details found"}}
	}
	return rows
}

func sanitizeDetailValue(value string) string {
	value = strings.ReplaceAll(value, "\r\n", " ")
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\t", " ")
	return strings.TrimSpace(value)
}

func trimDetailValueToWidth(value string, width int) string {
	if width <= 0 || lipgloss.Width(value) <= width {
		return value
	}
	if width == 1 {
		return runewidth.Truncate(value, 1, "")
	}
	return runewidth.Truncate(value, width, "…")
}

func (m Model) selectedDetailEntry() (string, string, bool) {
	row := m.detailsTable.SelectedRow()
	if len(row) < 2 {
		return "", "", false
	}
	k := strings.TrimSpace(row[0])
	value := strings.TrimSpace(row[1])
	if value == "" {
		return "", "", false
	}
	return k, value, true
}

func (m *Model) setFeedback(text string) {
	m.copyFeedback = text
	m.copyFeedbackExpiry = time.Now().Add(2 * time.Second)
}

func (m *Model) copySelectedDetailCmd() tea.Cmd {
	_, value, ok := m.selectedDetailEntry()
	if !ok {
		m.setFeedback("No value to copy")
		return nil
	}
	m.setFeedback("Value copied")
	return osc52CopyCmd(value)
}

// detailHint is the one-line footer of the details panel: copy feedback when
// there is some, key hints otherwise.
func (m Model) detailHint() string {
	if _, _, ok := m.selectedDetailEntry(); !ok {
		return ""
	}
	width := m.detailsContentWidth
	text := detailHintText(width)
	style := placeholderStyle
	if m.copyFeedback != "" {
		text = m.copyFeedback
		style = copyStatusStyle
	}
	return style.Render(trimDetailValueToWidth(text, width))
}

func detailHintText(width int) string {
	switch {
	case width >= 42:
		return "Press v to view full value  •  Ctrl+Y to copy"
	case width >= 28:
		return "v view value  •  Ctrl+Y copy"
	case width >= 16:
		return "v view  •  ^Y copy"
	default:
		return "v/^Y"
	}
}

func detailsOverlayHintText(width int) string {
	switch {
	case width >= 56:
		return "Esc/q/i close  •  v view full value  •  Ctrl+Y copy"
	case width >= 34:
		return "Esc/q/i close  •  v view  •  ^Y copy"
	default:
		return "Esc/q/i  •  v/^Y"
	}
}

func valueOverlayHintText(width int) string {
	switch {
	case width >= 42:
		return "Esc/q/v close  •  Ctrl+Y copy"
	case width >= 24:
		return "Esc/q/v  •  ^Y copy"
	default:
		return "Esc/q/v  •  ^Y"
	}
}

func (m Model) detailsPanelTitle() string {
	title := panelTitleStyle.Render("Details")
	if job, ok := m.jobByID(m.selectedID); ok {
		title = lipgloss.JoinHorizontal(lipgloss.Left, title, " ", renderStateBadge(job.State(), job.Status))
	}
	if m.detailsTable.Focused() {
		return lipgloss.JoinHorizontal(lipgloss.Left, title, focusTagStyle.Render("Details Focused"))
	}
	hint := placeholderStyle.Copy().MarginLeft(1).Render("Press TAB to scroll")
	return lipgloss.JoinHorizontal(lipgloss.Left, title, hint)
}

func (m Model) renderDetailsPanel() string {
	panelStyle := m.detailsBoxStyle().Width(m.detailsBlockWidth)
	if m.detailsTable.Focused() {
		panelStyle = panelStyle.BorderForeground(highlight).Background(panelBg)
	}

	content := m.detailsTable.View()
	if len(m.detailsTable.Rows()) == 0 {
		content = placeholderStyle.Render("Details will appear here once a job is selected.")
	}
	if hint := m.detailHint(); hint != "" {
		content = lipgloss.JoinVertical(lipgloss.Left, content, hint)
	}

	return lipgloss.JoinVertical(lipgloss.Left, m.detailsPanelTitle(), panelStyle.Render(content))
}

func (m Model) viewDetailsOverlay() string {
	header := metaPillStyle.Copy().
		Foreground(textStrong).
		Render(fmt.Sprintf("Details %s", m.selectedID))
	hint := metaMutedPillStyle.Render(detailsOverlayHintText(m.width))

	var top string
	if m.width < 90 {
		top = lipgloss.JoinVertical(lipgloss.Left, header, hint)
	} else {
		top = joinWithGap([]string{header, hint}, 1)
	}
	top = lipgloss.NewStyle().MaxWidth(m.width).Render(top)

	helpView := m.help.View(keys)
	bodyH := m.height - lipgloss.Height(top) - lipgloss.Height(helpView)
	if bodyH < 5 {
		bodyH = 5
	}

	w := m.width - panelChromeWidth
	if w < 10 {
		w = 10
	}
	keyW := max(w/4, 8)
	valW := max(w-keyW-1, 1)

	// The table is a value; resizing this copy leaves the model untouched.
	dt := m.detailsTable
	dt.SetWidth(w)
	dt.SetColumns([]table.Column{
		{Title: "Key", Width: keyW},
		{Title: "Value", Width: valW},
	})
	dt.SetHeight(bodyH - 3)

	panel := m.detailsBoxStyle().Width(m.width - 2).Render(dt.View())
	return m.frame(lipgloss.JoinVertical(lipgloss.Left, top, panel, helpView))
}

func (m *Model) openValueOverlay() {
	k, value, ok := m.selectedDetailEntry()
	if !ok {
		m.setFeedback("Select a detail row to view")
		return
	}
	m.inValueOverlay = true
	m.valueKey = k
	m.valueValue = value
	m.configureValueViewport()
}

func (m *Model) configureValueViewport() {
	helpH := lipgloss.Height(m.help.View(keys))
	h := max(m.height-helpH-4, 5)
	w := max(m.width-panelChromeWidth, 10)

	m.valueView = viewport.New(w, h)
	content := m.valueValue
	if strings.TrimSpace(content) == "" {
		content = "(empty)"
	}
	m.valueView.SetContent(wordwrap.String(content, w))
	m.valueView.GotoTop()
}

func (m Model) viewValueOverlay() string {
	title := metaPillStyle.Copy().Foreground(textStrong).Render(m.valueKey)
	hint := metaMutedPillStyle.Render(valueOverlayHintText(m.width))
	var top string
	if m.width < 70 {
		top = lipgloss.JoinVertical(lipgloss.Left, title, hint)
	} else {
		top = joinWithGap([]string{title, hint}, 1)
	}
	top = lipgloss.NewStyle().MaxWidth(m.width).Render(top)

	panel := m.detailsBoxStyle().Width(m.width - 2).Render(m.valueView.View())
	return m.frame(lipgloss.JoinVertical(lipgloss.Left, top, panel, m.help.View(keys)))
}
