package main

import (
	"os"
	"os/exec"
	"strings"

	osc52 "github.com/aymanbagabas/go-osc52/v2"
	tea "github.com/charmbracelet/bubbletea"
)

// osc52CopyCmd puts text on the terminal's clipboard. It works over SSH as
// long as the terminal honours OSC 52.
func osc52CopyCmd(text string) tea.Cmd {
	return func() tea.Msg {
		seq := osc52.New(text).Limit(100 * 1024)

		term := strings.ToLower(os.Getenv("TERM"))
		if os.Getenv("TMUX") != "" || strings.HasPrefix(term, "tmux") {
			seq = seq.Tmux()
		} else if strings.HasPrefix(term, "screen") {
			seq = seq.Screen()
		}

		_, _ = seq.WriteTo(os.Stdout)
		return nil
	}
}

// pagerCommand builds the command that shows path: $PAGER when set, vim in
// read-only mode otherwise.
func pagerCommand(pager, path string) *exec.Cmd {
	if fields := strings.Fields(pager); len(fields) > 0 {
		args := append(fields[1:len(fields):len(fields)], path)
		return exec.Command(fields[0], args...)
	}
	return exec.Command("vim", "-R", path)
}

func openInPagerCmd(path string) tea.Cmd {
	if path == "" {
		return nil
	}
	return tea.ExecProcess(pagerCommand(os.Getenv("PAGER"), path), nil)
}
