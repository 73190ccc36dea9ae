// Package logwatch tails a single log file whose identity can change at any
// time. A Handle forwards target changes to a background watcher goroutine,
// which keeps at most one reader goroutine alive and streams content deltas
// and errors back on Updates.
package logwatch

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/spf13/afero"
)

const (
	DefaultPollInterval = time.Second

	outputBuffer = 256
)

// Options configures the engine. Zero values pick sensible defaults.
type Options struct {
	// PollInterval bounds how long new content can go unnoticed when no
	// change event arrives.
	PollInterval time.Duration
	// Notifier delivers change events. Defaults to an fsnotify backend,
	// falling back to pure polling when that cannot be created.
	Notifier Notifier
	// Fs is where files are read from. Defaults to the OS filesystem.
	Fs     afero.Fs
	Logger *slog.Logger
}

// Handle is the client side of the engine. SetTarget is meant to be called
// from a single goroutine (the UI).
type Handle struct {
	requests *requestQueue
	updates  <-chan Update
	done     <-chan struct{}
	cancel   context.CancelFunc
	once     sync.Once

	target    string
	forwarded bool
}

// Start launches the watcher goroutine. It runs until ctx is cancelled or
// Close is called.
func Start(ctx context.Context, opts Options) *Handle {
	return start(ctx, opts, nil)
}

func start(ctx context.Context, opts Options, configure func(*watcher)) *Handle {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	logger = logger.With("component", "logwatch")

	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	fs := opts.Fs
	if fs == nil {
		fs = afero.NewOsFs()
	}

	var queue []Update
	notifier := opts.Notifier
	if notifier == nil {
		n, err := NewFSNotifier()
		if err != nil {
			logger.Warn("file notifications unavailable, polling only", "error", err)
			queue = append(queue, Update{Err: &Error{Kind: KindSubscription, Err: err}})
			notifier = NewPollNotifier()
		} else {
			notifier = n
		}
	}

	requests := newRequestQueue()
	updates := make(chan Update, outputBuffer)
	done := make(chan struct{})
	ctx, cancel := context.WithCancel(ctx)

	w := &watcher{
		fs:       fs,
		notifier: notifier,
		interval: interval,
		logger:   logger,
		requests: requests,
		out:      updates,
		queue:    queue,
	}
	if configure != nil {
		configure(w)
	}
	go func() {
		defer close(done)
		w.run(ctx)
	}()

	return &Handle{
		requests: requests,
		updates:  updates,
		done:     done,
		cancel:   cancel,
	}
}

// SetTarget asks the engine to tail path instead of the current target. An
// empty path stops tailing and yields one empty Content so the consumer can
// clear its view. Repeating the current target is a no-op. SetTarget never
// blocks: requests are queued and the watcher handles them in order.
func (h *Handle) SetTarget(path string) {
	if h.forwarded && h.target == path {
		return
	}
	h.target = path
	h.forwarded = true

	select {
	case <-h.done:
		return
	default:
	}
	h.requests.push(request{path: path})
}

// Target returns the last path passed to SetTarget.
func (h *Handle) Target() string {
	return h.target
}

// Updates is closed after the watcher goroutine exits.
func (h *Handle) Updates() <-chan Update {
	return h.updates
}

// Drain returns every update that is ready without waiting for more.
func (h *Handle) Drain() []Update {
	var out []Update
	for {
		select {
		case u, ok := <-h.updates:
			if !ok {
				return out
			}
			out = append(out, u)
		default:
			return out
		}
	}
}

// Close stops the watcher and its reader and waits for both to exit.
func (h *Handle) Close() {
	h.once.Do(h.cancel)
	<-h.done
}
