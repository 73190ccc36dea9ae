package logwatch

import "strings"

// NormalizeLines collapses in-place overwrites (progress bars and the like)
// so only the final state of each line survives. A single trailing CR is
// treated as part of a CRLF line ending and kept out of the decision.
func NormalizeLines(s string) string {
	if !strings.Contains(s, "\r") {
		return s
	}
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = lastOverwrite(line)
	}
	return strings.Join(lines, "\n")
}

func lastOverwrite(line string) string {
	line = strings.TrimSuffix(line, "\r")
	if idx := strings.LastIndexByte(line, '\r'); idx != -1 {
		return line[idx+1:]
	}
	return line
}
