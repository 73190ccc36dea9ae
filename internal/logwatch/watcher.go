package logwatch

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/afero"
)

// watcher is the long-lived coordinator. All of its fields are owned by the
// goroutine running run; other goroutines talk to it through channels only.
type watcher struct {
	fs       afero.Fs
	notifier Notifier
	interval time.Duration
	logger   *slog.Logger

	requests *requestQueue
	out      chan<- Update
	// queue holds updates the consumer has not picked up yet, so a slow UI
	// never stalls the loop.
	queue []Update

	path    string
	wake    chan struct{}
	reports chan Update
	readers sync.WaitGroup

	hooks readerHooks
}

// readerHooks observe reader goroutines. They run on the reader goroutine and
// are left nil outside tests.
type readerHooks struct {
	// started runs once the cursor is set, before the first wait.
	started func(path string)
	// exited runs after the reader loop has returned.
	exited func(path string)
}

func (w *watcher) run(ctx context.Context) {
	defer w.shutdown()

	events := w.notifier.Events()
	errs := w.notifier.Errors()

	for {
		var out chan<- Update
		var next Update
		if len(w.queue) > 0 {
			out = w.out
			next = w.queue[0]
		}

		select {
		case <-ctx.Done():
			return

		case <-w.requests.ready:
			for _, req := range w.requests.take() {
				w.setTarget(req.path)
			}

		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			w.handleEvent(ev)

		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			// Events may have been dropped (queue overflow); make sure the
			// reader takes another look.
			w.logger.Warn("notifier error", "path", w.path, "error", err)
			w.signal()

		case u := <-w.reports:
			w.enqueue(u)

		case out <- next:
			w.queue[0] = Update{}
			w.queue = w.queue[1:]
		}
	}
}

// setTarget keeps path exactly as requested: it is what the reader stamps on
// every Update, and consumers compare against their own copy.
func (w *watcher) setTarget(path string) {
	if w.path != "" {
		if err := w.notifier.Remove(w.path); err != nil {
			w.logger.Warn("unsubscribe failed", "path", w.path, "error", err)
			w.enqueue(Update{Path: w.path, Err: &Error{Kind: KindSubscription, Path: w.path, Err: err}})
		}
		w.path = ""
	}

	// Closing the wake channel is what retires the previous reader.
	w.retire()

	if path == "" {
		w.logger.Debug("watch target cleared")
		w.enqueue(Update{})
		return
	}

	if err := w.notifier.Add(path); err != nil {
		w.logger.Warn("subscribe failed", "path", path, "error", err)
		w.enqueue(Update{Path: path, Err: &Error{Kind: KindSubscription, Path: path, Err: err}})
		return
	}

	w.path = path
	w.wake = make(chan struct{}, 1)
	w.reports = make(chan Update)
	r := newReader(w.fs, path, w.interval, w.wake, w.reports, w.logger)
	w.logger.Info("watching file", "path", path, "offset", r.offset, "interval", w.interval)

	w.readers.Add(1)
	go func() {
		defer w.readers.Done()
		if w.hooks.started != nil {
			w.hooks.started(path)
		}
		r.run()
		if w.hooks.exited != nil {
			w.hooks.exited(path)
		}
	}()
}

func (w *watcher) handleEvent(ev fsnotify.Event) {
	if w.path == "" || ev.Op == fsnotify.Chmod {
		return
	}
	if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
		return
	}
	w.signal()
}

// signal wakes the active reader. The wake channel holds at most one token, so
// bursts of events collapse into a single extra pass.
func (w *watcher) signal() {
	if w.wake == nil {
		return
	}
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

func (w *watcher) retire() {
	if w.wake == nil {
		return
	}
	close(w.wake)
	w.wake = nil
	w.reports = nil
}

func (w *watcher) enqueue(u Update) {
	w.queue = append(w.queue, u)
}

func (w *watcher) shutdown() {
	if w.path != "" {
		if err := w.notifier.Remove(w.path); err != nil {
			w.logger.Debug("unsubscribe on shutdown failed", "path", w.path, "error", err)
		}
		w.path = ""
	}
	w.retire()
	w.readers.Wait()
	if err := w.notifier.Close(); err != nil {
		w.logger.Debug("closing notifier", "error", err)
	}
	close(w.out)
}
