package transcript

import (
	"os"
	"sync"

	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/metrics"
)

// Sink receives the output of one execution.
type Sink interface {
	OnChunk(p []byte)
	OnComplete()
}

// Source pushes output to a single subscribed Sink, in order.
type Source interface {
	Subscribe(s Sink)
}

// State is the lifecycle state of a Writer.
type State int

const (
	StateUnopened State = iota
	StateOpen
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnopened:
		return "unopened"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// Writer streams one execution's output into its transcript file.
//
// Every I/O failure is logged and swallowed: a broken transcript must never
// break the execution it records. After a failed open all writes are no-ops.
type Writer struct {
	path    string
	source  Source
	onClose func()

	log     *logging.Logger
	metrics *metrics.Registry

	mu    sync.Mutex
	state State
	file  *os.File

	closeOnce sync.Once
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) WriterOption {
	return func(w *Writer) { w.log = l }
}

// WithMetrics sets the registry that counts write failures.
func WithMetrics(r *metrics.Registry) WriterOption {
	return func(w *Writer) { w.metrics = r }
}

// NewWriter creates a Writer for path. onClose, if set, runs once after the
// file is closed.
func NewWriter(path string, source Source, onClose func(), opts ...WriterOption) *Writer {
	w := &Writer{
		path:    path,
		source:  source,
		onClose: onClose,
		log:     logging.Global(),
		metrics: metrics.Default(),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.log = w.log.WithFields(map[string]any{"component": "transcript", "path": path})
	return w
}

// Path returns the transcript file path.
func (w *Writer) Path() string {
	return w.path
}

// State returns the current lifecycle state.
func (w *Writer) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start opens the file if needed and subscribes to the output source.
func (w *Writer) Start() {
	w.mu.Lock()
	w.ensureOpenLocked()
	w.mu.Unlock()

	if w.source != nil {
		w.source.Subscribe(w)
	}
}

// WriteLine appends text and a line separator, opening the file on first use.
func (w *Writer) WriteLine(text string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ensureOpenLocked()
	w.writeLocked([]byte(text + LineSeparator))
}

// WriteField appends one header field.
func (w *Writer) WriteField(key, value string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.ensureOpenLocked()
	w.writeLocked([]byte(EncodeField(key, value)))
}

// OnChunk appends raw output bytes.
func (w *Writer) OnChunk(p []byte) {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.state {
	case StateUnopened:
		w.log.Error("output received before the transcript was opened")
		return
	case StateClosed:
		w.log.Warn("output received after the transcript was closed", map[string]any{"bytes": len(p)})
		return
	}
	w.writeLocked(p)
}

// OnComplete closes the file, then runs the close callback. Repeated calls
// are ignored.
func (w *Writer) OnComplete() {
	w.closeOnce.Do(func() {
		w.mu.Lock()
		if w.file != nil {
			if err := w.file.Close(); err != nil {
				w.metrics.RecordWriteFailure()
				w.log.ErrorErr("close transcript", err)
			}
			w.file = nil
		}
		w.state = StateClosed
		w.mu.Unlock()

		if w.onClose != nil {
			w.onClose()
		}
	})
}

func (w *Writer) ensureOpenLocked() {
	if w.state != StateUnopened {
		return
	}

	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		w.metrics.RecordWriteFailure()
		w.log.ErrorErr("create transcript", err)
	} else {
		w.file = f
	}
	w.state = StateOpen
}

// writeLocked writes p straight to the file. os.File is unbuffered, so the
// data reaches the kernel before this returns.
func (w *Writer) writeLocked(p []byte) {
	if w.file == nil || len(p) == 0 {
		return
	}
	if _, err := w.file.Write(p); err != nil {
		w.metrics.RecordWriteFailure()
		w.log.ErrorErr("write transcript", err)
	}
}
