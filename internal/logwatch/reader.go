package logwatch

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// reader owns the read cursor of one target. It lives until the Watcher
// closes its wake channel and is never reused afterwards.
type reader struct {
	fs       afero.Fs
	path     string
	interval time.Duration
	offset   int64

	wake    <-chan struct{}
	reports chan<- Update
	// pending records a wake that arrived while a report was being handed
	// over, so the next pass starts without waiting.
	pending bool

	logger *slog.Logger
}

func newReader(fs afero.Fs, path string, interval time.Duration, wake <-chan struct{}, reports chan<- Update, logger *slog.Logger) *reader {
	r := &reader{
		fs:       fs,
		path:     path,
		interval: interval,
		wake:     wake,
		reports:  reports,
		logger:   logger,
	}
	// Start from the current end so existing content is never replayed.
	if info, err := fs.Stat(path); err == nil {
		r.offset = info.Size()
	}
	return r
}

func (r *reader) run() {
	timer := time.NewTimer(r.interval)
	defer timer.Stop()

	for {
		if !r.pending {
			select {
			case _, ok := <-r.wake:
				if !ok {
					return
				}
			// Fallback for filesystems that never deliver change events
			// (network mounts).
			case <-timer.C:
			}
		}
		r.pending = false

		if !r.emit(r.update()) {
			return
		}
		timer.Reset(r.interval)
	}
}

// emit hands u to the Watcher. It reports false once the reader has been
// retired, in which case nobody is listening on reports anymore.
func (r *reader) emit(u Update) bool {
	for {
		select {
		case r.reports <- u:
			return true
		case _, ok := <-r.wake:
			if !ok {
				return false
			}
			r.pending = true
		}
	}
}

// update runs one pass: everything appended since the last successful read,
// or everything from the start when the file shrank underneath us.
func (r *reader) update() Update {
	f, err := r.fs.Open(r.path)
	if err != nil {
		return r.ioError(err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return r.ioError(err)
	}

	offset := r.offset
	truncated := info.Size() < offset
	if truncated {
		r.logger.Info("file truncated, rewinding", "path", r.path, "size", info.Size(), "offset", offset)
		offset = 0
	}

	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return r.ioError(err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return r.ioError(err)
	}
	r.offset = offset + int64(len(data))

	if len(data) > 0 {
		r.logger.Debug("read new content", "path", r.path, "bytes", len(data), "offset", r.offset)
	}

	text := strings.ToValidUTF8(string(data), "\uFFFD")
	return Update{Path: r.path, Content: Content{Text: NormalizeLines(text), Truncated: truncated}}
}

func (r *reader) ioError(err error) Update {
	return Update{Path: r.path, Err: &Error{Kind: KindIO, Path: r.path, Err: err}}
}
