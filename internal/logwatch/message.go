package logwatch

import (
	"fmt"
	"sync"
)

// Content is an incremental read of the watched file. Text only holds bytes
// appended since the previous successful read of the same target.
type Content struct {
	Text      string
	Truncated bool
}

// ErrorKind classifies engine failures.
type ErrorKind int

const (
	// KindSubscription means registering or removing the change-notification
	// subscription failed.
	KindSubscription ErrorKind = iota + 1
	// KindIO means opening, seeking or reading the active file failed.
	KindIO
)

func (k ErrorKind) String() string {
	switch k {
	case KindSubscription:
		return "subscription"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// Error is delivered on the update stream instead of content. Both kinds are
// recoverable.
type Error struct {
	Kind ErrorKind
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindSubscription:
		return fmt.Sprintf("watcher error: %v", e.Err)
	case KindIO:
		return fmt.Sprintf("read error: %v", e.Err)
	default:
		return e.Err.Error()
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Update is one element of the output stream. Err is non-nil for error values,
// in which case Content is zero. Path is the target the update belongs to,
// which lets a consumer drop updates that were in flight when it switched.
type Update struct {
	Path    string
	Content Content
	Err     error
}

type request struct {
	path string
}

// requestQueue is an unbounded FIFO between the Handle and the watcher. ready
// holds at most one token; the watcher takes the whole backlog per token.
type requestQueue struct {
	mu    sync.Mutex
	items []request
	ready chan struct{}
}

func newRequestQueue() *requestQueue {
	return &requestQueue{ready: make(chan struct{}, 1)}
}

func (q *requestQueue) push(r request) {
	q.mu.Lock()
	q.items = append(q.items, r)
	q.mu.Unlock()
	select {
	case q.ready <- struct{}{}:
	default:
	}
}

func (q *requestQueue) take() []request {
	q.mu.Lock()
	defer q.mu.Unlock()
	items := q.items
	q.items = nil
	return items
}
