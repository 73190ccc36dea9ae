package main

import "github.com/charmbracelet/lipgloss"

// Colors and styles below are derived from the active theme and rebuilt by
// buildStyles whenever applyTheme runs.
var (
	subtle        lipgloss.TerminalColor
	highlight     lipgloss.TerminalColor
	panelBorder   lipgloss.TerminalColor
	panelBg       lipgloss.TerminalColor
	panelBgAccent lipgloss.TerminalColor
	accentPink    lipgloss.TerminalColor
	accentCyan    lipgloss.TerminalColor
	accentOrange  lipgloss.TerminalColor
	accentGreen   lipgloss.TerminalColor
	accentBlue    lipgloss.TerminalColor
	danger        lipgloss.TerminalColor
	textStrong    lipgloss.TerminalColor
	textOnAccent  lipgloss.TerminalColor
	selectionBg   lipgloss.TerminalColor
	selectionFg   lipgloss.TerminalColor

	metaPillStyle      lipgloss.Style
	metaMutedPillStyle lipgloss.Style
	metaAlertPillStyle lipgloss.Style
	filterBoxStyle     lipgloss.Style
	filterHintStyle    lipgloss.Style
	focusTagStyle      lipgloss.Style
	summaryChipStyle   lipgloss.Style
	summaryLabelStyle  lipgloss.Style
	summaryValueStyle  lipgloss.Style

	listStyle            lipgloss.Style
	detailsStyle         lipgloss.Style
	panelTitleStyle      lipgloss.Style
	detailKeyStyle       lipgloss.Style
	detailValueStyle     lipgloss.Style
	copyStatusStyle      lipgloss.Style
	placeholderStyle     lipgloss.Style
	dialogStyle          lipgloss.Style
	tableHeaderStyle     lipgloss.Style
	tableSelectedStyle   lipgloss.Style
	statusBadgeStyle     lipgloss.Style
	logPaneStyle         lipgloss.Style
	logTabStyle          lipgloss.Style
	logTabActiveStyle    lipgloss.Style
	logStatusStyle       lipgloss.Style
	logErrorStyle        lipgloss.Style
	logMarkerStyle       lipgloss.Style
	searchHighlightStyle lipgloss.Style

	statusColorMap map[string]lipgloss.TerminalColor
)

func buildStyles() {
	subtle = theme.TextMuted
	highlight = theme.Accent
	panelBorder = theme.Border
	panelBg = theme.Surface
	panelBgAccent = theme.SurfaceAlt
	accentPink = theme.AccentPink
	accentCyan = theme.AccentCyan
	accentOrange = theme.AccentOrange
	accentGreen = theme.AccentGreen
	accentBlue = theme.AccentBlue
	danger = theme.Danger
	textStrong = theme.TextStrong
	textOnAccent = theme.TextOnAccent
	selectionBg = theme.SelectionBg
	selectionFg = theme.SelectionFg

	// Header
	metaPillStyle = lipgloss.NewStyle().
		Foreground(highlight).
		Border(lipgloss.RoundedBorder()).
		BorderForeground(panelBorder).
		Padding(0, 1).
		Bold(true).
		Align(lipgloss.Center)
	metaMutedPillStyle = metaPillStyle.Copy().Foreground(subtle)
	metaAlertPillStyle = metaPillStyle.Copy().
		Background(accentPink).
		Foreground(textOnAccent).
		BorderForeground(accentPink)

	filterBoxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(panelBorder).
		Background(panelBg).
		Padding(0, 1)
	filterHintStyle = lipgloss.NewStyle().Foreground(subtle)
	focusTagStyle = lipgloss.NewStyle().
		Foreground(textOnAccent).
		Background(highlight).
		Padding(0, 1).
		Bold(true).
		MarginLeft(1)

	summaryChipStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(panelBorder).
		Padding(0, 1).
		MarginRight(1)
	summaryLabelStyle = lipgloss.NewStyle().Foreground(subtle).Bold(true)
	summaryValueStyle = lipgloss.NewStyle().Foreground(textStrong).Bold(true)

	// Panels
	listStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(panelBorder).
		Background(panelBgAccent).
		Padding(0, 1)
	detailsStyle = listStyle.Copy()
	panelTitleStyle = lipgloss.NewStyle().Foreground(subtle).Bold(true)
	detailKeyStyle = lipgloss.NewStyle().Foreground(subtle)
	detailValueStyle = lipgloss.NewStyle().Foreground(textStrong)
	copyStatusStyle = lipgloss.NewStyle().Foreground(accentGreen).Bold(true)
	placeholderStyle = lipgloss.NewStyle().Foreground(subtle).Italic(true)
	dialogStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(accentPink).
		Background(panelBg).
		Padding(1, 3).
		Align(lipgloss.Center).
		Width(50)

	// Table
	tableHeaderStyle = lipgloss.NewStyle().
		Foreground(subtle).
		Bold(true).
		Padding(0, 1)
	tableSelectedStyle = lipgloss.NewStyle().
		Foreground(selectionFg).
		Background(selectionBg).
		Padding(0, 1)
	statusBadgeStyle = lipgloss.NewStyle().
		Padding(0, 1).
		Bold(true).
		Foreground(textOnAccent)

	// Log view
	logPaneStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(panelBorder).
		Padding(0, 1)
	logTabStyle = lipgloss.NewStyle().Foreground(subtle).Padding(0, 1)
	logTabActiveStyle = lipgloss.NewStyle().
		Foreground(textOnAccent).
		Background(highlight).
		Bold(true).
		Padding(0, 1)
	logStatusStyle = lipgloss.NewStyle().Foreground(subtle)
	logErrorStyle = lipgloss.NewStyle().Foreground(danger).Bold(true)
	logMarkerStyle = lipgloss.NewStyle().Foreground(accentOrange).Italic(true)
	searchHighlightStyle = lipgloss.NewStyle().
		Background(theme.SearchBg).
		Foreground(theme.SearchFg).
		Bold(true)

	statusColorMap = map[string]lipgloss.TerminalColor{
		"R":   accentGreen,
		"CG":  accentGreen,
		"PD":  accentOrange,
		"CF":  accentOrange,
		"PR":  accentOrange,
		"RQ":  accentOrange,
		"RS":  accentOrange,
		"S":   accentOrange,
		"ST":  accentOrange,
		"RH":  accentOrange,
		"RF":  accentOrange,
		"CD":  accentBlue,
		"CA":  accentPink,
		"F":   danger,
		"TO":  danger,
		"NF":  danger,
		"OOM": danger,
	}
}

func statusColor(state string) lipgloss.TerminalColor {
	if c, ok := statusColorMap[state]; ok {
		return c
	}
	return theme.TextDim
}
