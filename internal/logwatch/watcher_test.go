package logwatch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

const waitTimeout = 3 * time.Second

type fakeNotifier struct {
	mu      sync.Mutex
	added   []string
	removed []string
	addErr  error
	closed  bool

	// When set, Remove reports its path on removing and then waits for
	// removeGate to close.
	removing   chan string
	removeGate chan struct{}

	events chan fsnotify.Event
	errs   chan error
}

func newFakeNotifier() *fakeNotifier {
	return &fakeNotifier{
		events: make(chan fsnotify.Event, 8),
		errs:   make(chan error, 8),
	}
}

func (n *fakeNotifier) Add(path string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.addErr != nil {
		return n.addErr
	}
	n.added = append(n.added, path)
	return nil
}

func (n *fakeNotifier) Remove(path string) error {
	n.mu.Lock()
	removing, gate := n.removing, n.removeGate
	n.mu.Unlock()
	if gate != nil {
		select {
		case removing <- path:
		default:
		}
		<-gate
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	n.removed = append(n.removed, path)
	return nil
}

func (n *fakeNotifier) Events() <-chan fsnotify.Event { return n.events }

func (n *fakeNotifier) Errors() <-chan error { return n.errs }

func (n *fakeNotifier) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.closed = true
	return nil
}

func (n *fakeNotifier) snapshot() (added, removed []string, closed bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.added...), append([]string(nil), n.removed...), n.closed
}

// startTracked starts an engine whose reader lifecycle is observable.
func startTracked(opts Options) (h *Handle, started, exited <-chan string) {
	s := make(chan string, 8)
	e := make(chan string, 8)
	h = start(context.Background(), opts, func(w *watcher) {
		w.hooks.started = func(path string) { s <- path }
		w.hooks.exited = func(path string) { e <- path }
	})
	return h, s, e
}

func waitPath(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected reader for %s, got %s", want, got)
		}
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for reader of %s", want)
	}
}

func nextUpdate(t *testing.T, h *Handle) Update {
	t.Helper()
	select {
	case u, ok := <-h.Updates():
		if !ok {
			t.Fatalf("update stream closed unexpectedly")
		}
		return u
	case <-time.After(waitTimeout):
		t.Fatalf("timed out waiting for an update")
	}
	return Update{}
}

// collectText appends delta text until cond holds. When fromTruncation is set,
// text before the first truncated delta is discarded.
func collectText(t *testing.T, h *Handle, fromTruncation bool, cond func(string) bool) string {
	t.Helper()
	var b strings.Builder
	started := !fromTruncation
	deadline := time.After(waitTimeout)
	for {
		select {
		case u, ok := <-h.Updates():
			if !ok {
				t.Fatalf("update stream closed, collected %q", b.String())
			}
			if u.Err != nil {
				continue
			}
			if u.Content.Truncated && !started {
				started = true
			}
			if started {
				b.WriteString(u.Content.Text)
			}
			if started && cond(b.String()) {
				return b.String()
			}
		case <-deadline:
			t.Fatalf("timed out, collected %q", b.String())
		}
	}
}

func writeFile(t *testing.T, path, text string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(text), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func appendOS(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		t.Fatalf("open %s: %v", path, err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatalf("append %s: %v", path, err)
	}
}

func fsNotifierOrSkip(t *testing.T) *FSNotifier {
	t.Helper()
	n, err := NewFSNotifier()
	if err != nil {
		t.Skipf("fsnotify unavailable: %v", err)
	}
	return n
}

func TestEmptyTargetYieldsEmptyContent(t *testing.T) {
	h := Start(context.Background(), Options{Notifier: newFakeNotifier(), PollInterval: time.Hour})
	defer h.Close()

	h.SetTarget("")
	u := nextUpdate(t, h)
	if u.Err != nil || u.Content != (Content{}) {
		t.Fatalf("expected empty non-truncated content, got %+v", u)
	}
}

func TestSetTargetIsIdempotent(t *testing.T) {
	n := newFakeNotifier()
	h := Start(context.Background(), Options{Notifier: n, PollInterval: time.Hour})
	defer h.Close()

	path := filepath.Join(t.TempDir(), "job.out")
	writeFile(t, path, "existing\n")

	h.SetTarget(path)
	h.SetTarget(path)
	h.SetTarget("")
	if u := nextUpdate(t, h); u.Err != nil || u.Content != (Content{}) {
		t.Fatalf("expected empty content after clearing, got %+v", u)
	}

	added, removed, _ := n.snapshot()
	if len(added) != 1 || added[0] != path {
		t.Fatalf("expected a single subscription for %s, got %v", path, added)
	}
	if len(removed) != 1 || removed[0] != path {
		t.Fatalf("expected a single unsubscription for %s, got %v", path, removed)
	}
	if h.Target() != "" {
		t.Fatalf("expected empty target, got %q", h.Target())
	}
}

func TestSwitchingTargetRetiresPreviousReader(t *testing.T) {
	h, _, exited := startTracked(Options{Notifier: newFakeNotifier(), PollInterval: time.Hour})

	dir := t.TempDir()
	a := filepath.Join(dir, "a.out")
	b := filepath.Join(dir, "b.out")

	h.SetTarget(a)
	h.SetTarget(b)
	waitPath(t, exited, a)

	select {
	case p := <-exited:
		t.Fatalf("reader for %s exited while still active", p)
	case <-time.After(50 * time.Millisecond):
	}

	h.Close()
	select {
	case p := <-exited:
		if p != b {
			t.Fatalf("expected reader for %s to exit on close, got %s", b, p)
		}
	default:
		t.Fatalf("Close returned before the active reader exited")
	}
}

func TestRetiredReaderDeliversNothing(t *testing.T) {
	n := newFakeNotifier()
	gate := make(chan struct{})
	n.removing = make(chan string, 4)
	n.removeGate = gate
	h, started, exited := startTracked(Options{Notifier: n, PollInterval: 20 * time.Millisecond})
	defer h.Close()

	dir := t.TempDir()
	a := filepath.Join(dir, "a.out")
	b := filepath.Join(dir, "b.out")
	writeFile(t, a, "old\n")

	h.SetTarget(a)
	waitPath(t, started, a)

	// Hold the watcher in the middle of the switch while A's reader picks up
	// new content and waits to hand it over.
	h.SetTarget(b)
	waitPath(t, n.removing, a)
	appendOS(t, a, "late\n")
	time.Sleep(150 * time.Millisecond)
	close(gate)
	waitPath(t, exited, a)

	appendOS(t, a, "later\n")
	deadline := time.After(300 * time.Millisecond)
	for {
		select {
		case u := <-h.Updates():
			if u.Path == a || strings.Contains(u.Content.Text, "late") {
				t.Fatalf("update from retired reader: %+v", u)
			}
		case <-deadline:
			return
		}
	}
}

func TestUpdatesKeepRequestedPath(t *testing.T) {
	n := newFakeNotifier()
	h, started, _ := startTracked(Options{Notifier: n, PollInterval: time.Hour})
	defer h.Close()

	dir := t.TempDir()
	clean := filepath.Join(dir, "job.out")
	requested := dir + "/./job.out"
	writeFile(t, clean, "existing\n")

	h.SetTarget(requested)
	waitPath(t, started, requested)

	appendOS(t, clean, "new\n")
	n.events <- fsnotify.Event{Name: clean, Op: fsnotify.Write}

	u := nextUpdate(t, h)
	if u.Err != nil || u.Path != requested || u.Content.Text != "new\n" {
		t.Fatalf("expected new content for %s, got %+v", requested, u)
	}
}

func TestSubscriptionFailureIsReported(t *testing.T) {
	n := newFakeNotifier()
	n.addErr = errors.New("too many watches")
	h := Start(context.Background(), Options{Notifier: n, PollInterval: time.Hour})
	defer h.Close()

	path := filepath.Join(t.TempDir(), "job.out")
	h.SetTarget(path)

	u := nextUpdate(t, h)
	var werr *Error
	if !errors.As(u.Err, &werr) || werr.Kind != KindSubscription {
		t.Fatalf("expected subscription error, got %+v", u)
	}
	if werr.Path != path {
		t.Fatalf("expected error for %s, got %s", path, werr.Path)
	}
	if !strings.HasPrefix(werr.Error(), "watcher error: ") {
		t.Fatalf("unexpected error text %q", werr.Error())
	}

	// The engine stays usable after a failed subscription.
	h.SetTarget("")
	if u := nextUpdate(t, h); u.Err != nil || u.Content != (Content{}) {
		t.Fatalf("expected empty content, got %+v", u)
	}
}

func TestPollingFindsAppendsWithoutEvents(t *testing.T) {
	h, started, _ := startTracked(Options{Notifier: NewPollNotifier(), PollInterval: 50 * time.Millisecond})
	defer h.Close()

	path := filepath.Join(t.TempDir(), "job.out")
	writeFile(t, path, "before\n")
	h.SetTarget(path)
	waitPath(t, started, path)

	appendOS(t, path, "hello\n")
	got := collectText(t, h, false, func(s string) bool { return strings.Contains(s, "hello\n") })
	if got != "hello\n" {
		t.Fatalf("expected only the appended line, got %q", got)
	}
}

func TestNotifierEventWakesReader(t *testing.T) {
	n := fsNotifierOrSkip(t)
	h, started, _ := startTracked(Options{Notifier: n, PollInterval: time.Hour})
	defer h.Close()

	path := filepath.Join(t.TempDir(), "job.out")
	writeFile(t, path, "")
	h.SetTarget(path)
	waitPath(t, started, path)
	appendOS(t, path, "event driven\n")
	got := collectText(t, h, false, func(s string) bool { return strings.Contains(s, "event driven\n") })
	if got != "event driven\n" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestNotifierErrorWakesReader(t *testing.T) {
	n := newFakeNotifier()
	h, started, _ := startTracked(Options{Notifier: n, PollInterval: time.Hour})
	defer h.Close()

	path := filepath.Join(t.TempDir(), "job.out")
	writeFile(t, path, "")
	h.SetTarget(path)
	waitPath(t, started, path)
	appendOS(t, path, "after overflow\n")

	n.errs <- fsnotify.ErrEventOverflow
	got := collectText(t, h, false, func(s string) bool { return s != "" })
	if got != "after overflow\n" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestEventsForOtherFilesAreIgnored(t *testing.T) {
	n := newFakeNotifier()
	h, started, _ := startTracked(Options{Notifier: n, PollInterval: time.Hour})
	defer h.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "job.out")
	writeFile(t, path, "")
	h.SetTarget(path)
	waitPath(t, started, path)
	appendOS(t, path, "quiet\n")

	n.events <- fsnotify.Event{Name: filepath.Join(dir, "other.out"), Op: fsnotify.Write}
	n.events <- fsnotify.Event{Name: path, Op: fsnotify.Chmod}
	select {
	case u := <-h.Updates():
		t.Fatalf("unexpected update %+v", u)
	case <-time.After(100 * time.Millisecond):
	}

	n.events <- fsnotify.Event{Name: path, Op: fsnotify.Write}
	if got := collectText(t, h, false, func(s string) bool { return s != "" }); got != "quiet\n" {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestMissingFileIsReadOnceCreated(t *testing.T) {
	n := fsNotifierOrSkip(t)
	h := Start(context.Background(), Options{Notifier: n, PollInterval: 100 * time.Millisecond})
	defer h.Close()

	path := filepath.Join(t.TempDir(), "later.out")
	h.SetTarget(path)

	u := nextUpdate(t, h)
	var werr *Error
	if !errors.As(u.Err, &werr) || werr.Kind != KindIO || !errors.Is(u.Err, fs.ErrNotExist) {
		t.Fatalf("expected a read error for the missing file, got %+v", u)
	}

	writeFile(t, path, "hello\n")
	if got := collectText(t, h, false, func(s string) bool { return s != "" }); got != "hello\n" {
		t.Fatalf("expected %q, got %q", "hello\n", got)
	}
}

func TestTruncationRestartsFromBeginning(t *testing.T) {
	initial := strings.Repeat("0123456789", 9) + "012345678\n"

	tests := []struct {
		name string
		size int64
		want string
	}{
		{"truncated to empty", 0, "abc\n"},
		{"truncated to ten bytes", 10, "0123456789abc\n"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h, started, _ := startTracked(Options{Notifier: NewPollNotifier(), PollInterval: 50 * time.Millisecond})
			defer h.Close()

			path := filepath.Join(t.TempDir(), "job.out")
			writeFile(t, path, initial)
			h.SetTarget(path)
			waitPath(t, started, path)

			if err := os.Truncate(path, tc.size); err != nil {
				t.Fatalf("truncate: %v", err)
			}
			appendOS(t, path, "abc\n")

			got := collectText(t, h, true, func(s string) bool { return len(s) >= len(tc.want) })
			if got != tc.want {
				t.Fatalf("expected %q after truncation, got %q", tc.want, got)
			}
		})
	}
}

func TestCloseShutsDownEngine(t *testing.T) {
	n := newFakeNotifier()
	h := Start(context.Background(), Options{Notifier: n, PollInterval: time.Hour})

	path := filepath.Join(t.TempDir(), "job.out")
	h.SetTarget(path)
	h.Close()
	h.Close()

	for range h.Updates() {
	}
	added, removed, closed := n.snapshot()
	if !closed {
		t.Fatalf("expected notifier to be closed")
	}
	if len(added) != 1 || len(removed) != 1 {
		t.Fatalf("expected subscribe and unsubscribe once, got added=%v removed=%v", added, removed)
	}
}

func TestContextCancellationClosesUpdates(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := Start(ctx, Options{Notifier: newFakeNotifier(), PollInterval: time.Hour})
	h.SetTarget(filepath.Join(t.TempDir(), "job.out"))
	cancel()

	deadline := time.After(waitTimeout)
	for {
		select {
		case _, ok := <-h.Updates():
			if !ok {
				h.Close()
				return
			}
		case <-deadline:
			t.Fatalf("update stream not closed after cancellation")
		}
	}
}
