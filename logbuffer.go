package main

import (
	"regexp"
	"strings"
)

var ansiCursorRegexp = regexp.MustCompile(`\x1b\[[0-9;]*[A-KSTf]`)

// cleanLogLine drops ANSI cursor movement codes. Carriage returns have
// already been resolved by the log engine.
func cleanLogLine(line string) string {
	return ansiCursorRegexp.ReplaceAllString(line, "")
}

type logLine struct {
	text   string
	marker bool
}

// logBuffer holds the lines of one log stream. Content arrives in arbitrary
// chunks; a chunk that does not end in a newline leaves a partial last line
// which the next chunk continues.
type logBuffer struct {
	lines   []logLine
	partial bool
	max     int
	// dropped counts lines trimmed from the front since the last Reset.
	dropped int
}

func newLogBuffer(max int) *logBuffer {
	return &logBuffer{max: max}
}

func (b *logBuffer) Reset() {
	b.lines = nil
	b.partial = false
	b.dropped = 0
}

// Append adds a chunk of text and returns the number of new lines it started.
func (b *logBuffer) Append(text string) int {
	if text == "" {
		return 0
	}
	added := 0
	parts := strings.Split(text, "\n")
	for i, part := range parts {
		if i == len(parts)-1 && part == "" {
			break
		}
		part = cleanLogLine(part)
		if i == 0 && b.partial && len(b.lines) > 0 {
			b.lines[len(b.lines)-1].text += part
			continue
		}
		b.lines = append(b.lines, logLine{text: part})
		added++
	}
	b.partial = !strings.HasSuffix(text, "\n")
	b.trim()
	return added
}

// Mark adds a standalone notice line. A pending partial line is closed first.
func (b *logBuffer) Mark(text string) {
	b.lines = append(b.lines, logLine{text: text, marker: true})
	b.partial = false
	b.trim()
}

// Prepend inserts older lines in front of the buffer. partial reports
// whether the last of them is unterminated; it only matters while the buffer
// is still empty.
func (b *logBuffer) Prepend(lines []string, partial bool) {
	if len(lines) == 0 {
		return
	}
	empty := len(b.lines) == 0
	merged := make([]logLine, 0, len(lines)+len(b.lines))
	for _, l := range lines {
		merged = append(merged, logLine{text: cleanLogLine(l)})
	}
	b.lines = append(merged, b.lines...)
	if empty {
		b.partial = partial
	}
	b.trim()
}

func (b *logBuffer) trim() {
	if b.max <= 0 || len(b.lines) <= b.max {
		return
	}
	n := len(b.lines) - b.max
	b.lines = b.lines[n:]
	b.dropped += n
}

func (b *logBuffer) Len() int {
	return len(b.lines)
}

func (b *logBuffer) Line(i int) (string, bool) {
	l := b.lines[i]
	return l.text, l.marker
}

// Text returns the log content without notice lines.
func (b *logBuffer) Text() string {
	var sb strings.Builder
	first := true
	for _, l := range b.lines {
		if l.marker {
			continue
		}
		if !first {
			sb.WriteByte('\n')
		}
		sb.WriteString(l.text)
		first = false
	}
	return sb.String()
}
