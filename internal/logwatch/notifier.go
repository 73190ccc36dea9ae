package logwatch

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Notifier is the change-notification capability the Watcher subscribes
// through. Any backend works as long as it delivers at least one event per
// data modification of a subscribed path; extra events are coalesced.
//
// A Notifier is driven from the Watcher goroutine only.
type Notifier interface {
	Add(path string) error
	Remove(path string) error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
	Close() error
}

// FSNotifier subscribes to the parent directory of each path so that files
// which do not exist yet, or which get rotated away and recreated, still
// produce events. Directories are reference counted.
type FSNotifier struct {
	watcher *fsnotify.Watcher
	dirs    map[string]int
}

var _ Notifier = (*FSNotifier)(nil)

func NewFSNotifier() (*FSNotifier, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	return &FSNotifier{watcher: w, dirs: make(map[string]int)}, nil
}

func (n *FSNotifier) Add(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	if n.dirs[dir] == 0 {
		if err := n.watcher.Add(dir); err != nil {
			return fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	n.dirs[dir]++
	return nil
}

func (n *FSNotifier) Remove(path string) error {
	dir := filepath.Dir(filepath.Clean(path))
	refs, ok := n.dirs[dir]
	if !ok {
		return fmt.Errorf("unwatching %s: %w", dir, fsnotify.ErrNonExistentWatch)
	}
	if refs > 1 {
		n.dirs[dir] = refs - 1
		return nil
	}
	delete(n.dirs, dir)
	// The kernel drops the watch by itself when the directory is deleted.
	if err := n.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
		return fmt.Errorf("unwatching %s: %w", dir, err)
	}
	return nil
}

func (n *FSNotifier) Events() <-chan fsnotify.Event { return n.watcher.Events }

func (n *FSNotifier) Errors() <-chan error { return n.watcher.Errors }

func (n *FSNotifier) Close() error { return n.watcher.Close() }

// PollNotifier never delivers events. With it the engine falls back to the
// poll interval alone, which is what network filesystems get anyway.
type PollNotifier struct{}

var _ Notifier = PollNotifier{}

func NewPollNotifier() PollNotifier { return PollNotifier{} }

func (PollNotifier) Add(string) error { return nil }

func (PollNotifier) Remove(string) error { return nil }

func (PollNotifier) Events() <-chan fsnotify.Event { return nil }

func (PollNotifier) Errors() <-chan error { return nil }

func (PollNotifier) Close() error { return nil }
