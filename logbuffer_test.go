package main

import (
	"strings"
	"testing"
)

func TestLogBufferJoinsPartialLines(t *testing.T) {
	b := newLogBuffer(0)
	if n := b.Append("Epoch 1/3 "); n != 1 {
		t.Fatalf("expected one new line, got %d", n)
	}
	if n := b.Append("done\nEpoch 2/3"); n != 1 {
		t.Fatalf("expected the continuation to start one line, got %d", n)
	}
	b.Append(" done\n")

	if got := b.Text(); got != "Epoch 1/3 done\nEpoch 2/3 done" {
		t.Fatalf("unexpected text %q", got)
	}
	if b.partial {
		t.Fatalf("expected no partial line after a trailing newline")
	}
}

func TestLogBufferDropsOldestLines(t *testing.T) {
	b := newLogBuffer(3)
	b.Append("1\n2\n3\n4\n5\n")

	if b.Len() != 3 || b.dropped != 2 {
		t.Fatalf("expected 3 lines and 2 dropped, got %d and %d", b.Len(), b.dropped)
	}
	if got := b.Text(); got != "3\n4\n5" {
		t.Fatalf("unexpected text %q", got)
	}

	b.Reset()
	if b.Len() != 0 || b.dropped != 0 {
		t.Fatalf("expected reset buffer, got %d lines and %d dropped", b.Len(), b.dropped)
	}
}

func TestLogBufferMarkersAreNotCopied(t *testing.T) {
	b := newLogBuffer(0)
	b.Append("before\npart")
	b.Mark("--- truncated ---")
	b.Append("after\n")

	if b.Len() != 4 {
		t.Fatalf("expected 4 lines, got %d", b.Len())
	}
	if text, marker := b.Line(2); !marker || text != "--- truncated ---" {
		t.Fatalf("expected marker at line 2, got %q %v", text, marker)
	}
	if got := b.Text(); got != "before\npart\nafter" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestLogBufferPrependKeepsLiveLinesLast(t *testing.T) {
	b := newLogBuffer(4)
	b.Append("live 1\n")
	b.Prepend([]string{"old 1", "old 2", "old 3", "old 4"}, false)

	if got := b.Text(); got != "old 2\nold 3\nold 4\nlive 1" {
		t.Fatalf("unexpected text %q", got)
	}

	empty := newLogBuffer(0)
	empty.Prepend([]string{"old", "unterminated"}, true)
	empty.Append(" tail\n")
	if got := empty.Text(); got != "old\nunterminated tail" {
		t.Fatalf("expected partial backlog line to be continued, got %q", got)
	}
}

func TestLogBufferStripsCursorCodes(t *testing.T) {
	b := newLogBuffer(0)
	b.Append("\x1b[2Kprogress \x1b[32m50%\x1b[0m\n")

	got := b.Text()
	if strings.Contains(got, "\x1b[2K") {
		t.Fatalf("cursor code survived: %q", got)
	}
	if !strings.Contains(got, "\x1b[32m") {
		t.Fatalf("colour code was stripped: %q", got)
	}
}
