// Package history stores execution transcripts in a directory and answers
// lookups through an incrementally synchronized in-memory index.
package history

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/runlog-project/runlog/internal/audit"
	"github.com/runlog-project/runlog/internal/filename"
	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/fsutil"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/metrics"
	"github.com/runlog-project/runlog/pkg/model"
)

// OutputSource pushes an execution's output to one subscriber.
type OutputSource = transcript.Source

// ExitCodeProvider reports the exit code of a finished execution.
type ExitCodeProvider interface {
	ExitCode(executionID string) (int, bool)
}

// Start describes a new execution to record.
type Start struct {
	ExecutionID string
	UserName    string
	UserID      string
	ScriptName  string
	Command     string
	Output      OutputSource
	ExitCodes   ExitCodeProvider
	AuditNames  audit.Names
	// StartTime defaults to the current time when zero.
	StartTime time.Time
}

// Transcript is a handle on a transcript being written by this process.
type Transcript struct {
	ExecutionID string
	Path        string
	done        chan struct{}
}

// Done is closed once output is complete and the exit code, if any, has
// been written into the header.
func (t *Transcript) Done() <-chan struct{} {
	return t.done
}

// Wait blocks until Done is closed.
func (t *Transcript) Wait() {
	<-t.done
}

// Service is the entry point for recording and reading transcripts. All
// methods are safe for concurrent use.
type Service struct {
	dir       string
	generator *filename.Generator
	log       *logging.Logger
	metrics   *metrics.Registry
	now       func() time.Time

	mu    sync.Mutex
	index *index
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the diagnostic logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithMetrics sets the counter registry.
func WithMetrics(r *metrics.Registry) Option {
	return func(s *Service) { s.metrics = r }
}

// WithClock overrides the time source used for default start times.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates dir if needed and indexes the transcripts already in it.
func NewService(dir string, generator *filename.Generator, opts ...Option) (*Service, error) {
	if generator == nil {
		generator = filename.New("", "")
	}
	s := &Service{
		dir:       dir,
		generator: generator,
		log:       logging.Global(),
		metrics:   metrics.Default(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.Named("history")

	if err := fsutil.PrepareDir(dir); err != nil {
		return nil, fmt.Errorf("transcript dir: %w", err)
	}

	s.index = newIndex(dir, s.log, s.metrics)
	s.index.sync()
	return s, nil
}

// Dir returns the transcript directory.
func (s *Service) Dir() string {
	return s.dir
}

// StartLogging creates the transcript for st, writes its header and
// subscribes to st.Output. The new id is visible to lookups right away.
//
// Only failing to pick a file name is returned as an error. Failures while
// writing are logged and leave the execution unaffected.
func (s *Service) StartLogging(st Start) (*Transcript, error) {
	startTime := st.StartTime
	if startTime.IsZero() {
		startTime = s.now()
	}
	startMillis := model.Millis(startTime)

	s.mu.Lock()

	name := s.generator.Filename(st.ExecutionID, st.AuditNames, st.ScriptName, startMillis)
	path, err := fsutil.UniquePath(filepath.Join(s.dir, name))
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("allocate transcript path: %w", err)
	}

	t := &Transcript{
		ExecutionID: st.ExecutionID,
		Path:        path,
		done:        make(chan struct{}),
	}
	onClose := func() {
		defer close(t.done)
		s.writeExitCode(st.ExecutionID, path, st.ExitCodes)
	}

	w := transcript.NewWriter(path, st.Output, onClose,
		transcript.WithLogger(s.log.WithFields(map[string]any{"execution_id": st.ExecutionID})),
		transcript.WithMetrics(s.metrics))
	w.WriteField(model.FieldID, st.ExecutionID)
	w.WriteField(model.FieldUserName, st.UserName)
	w.WriteField(model.FieldUserID, st.UserID)
	w.WriteField(model.FieldScript, st.ScriptName)
	w.WriteField(model.FieldStartTime, strconv.FormatInt(startMillis, 10))
	w.WriteField(model.FieldCommand, st.Command)
	w.WriteLine(transcript.Marker)

	s.index.put(st.ExecutionID, filepath.Base(path))
	s.metrics.RecordTranscript()
	s.mu.Unlock()

	s.log.Debug("transcript started", map[string]any{"execution_id": st.ExecutionID, "path": path})
	w.Start()
	return t, nil
}

// writeExitCode runs after the writer closed the file.
func (s *Service) writeExitCode(executionID, path string, provider ExitCodeProvider) {
	if provider == nil {
		return
	}
	code, ok := provider.ExitCode(executionID)
	if !ok {
		return
	}

	start := time.Now()
	err := patchExitCode(path, code)
	s.metrics.RecordPatch(err == nil, time.Since(start))
	if err != nil {
		s.log.ErrorErr("write exit code", err, map[string]any{"execution_id": executionID, "path": path})
	}
}

// patchExitCode inserts exit_code as the last header field. The file is
// replaced through a temporary file, so readers see either the old or the
// new content.
func patchExitCode(path string, code int) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat transcript: %w", err)
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read transcript: %w", err)
	}
	patched, err := transcript.InsertField(content, model.FieldExitCode, strconv.Itoa(code))
	if err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, patched, info.Mode().Perm())
}

// Sync reconciles the index with the directory and reports the ids that
// appeared and disappeared.
func (s *Service) Sync() (added, removed []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.sync()
}

// FindLog returns the raw output recorded for executionID.
func (s *Service) FindLog(executionID string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.sync()

	file, ok := s.index.lookup(executionID)
	if !ok {
		s.log.Warn("find log: no transcript", map[string]any{"execution_id": executionID})
		return nil, false
	}

	content, err := os.ReadFile(s.index.path(file))
	if err != nil {
		s.log.Warn("find log: cannot read transcript", map[string]any{"execution_id": executionID, "error": err.Error()})
		return nil, false
	}
	body, ok := transcript.SplitBody(content)
	if !ok {
		s.log.Warn("find log: no output marker", map[string]any{"execution_id": executionID, "file": file})
		return nil, false
	}
	return body, true
}

// FindHistoryEntry returns the header of executionID's transcript.
func (s *Service) FindHistoryEntry(executionID string) (*model.HistoryEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.sync()

	file, ok := s.index.lookup(executionID)
	if !ok {
		s.log.Warn("find history entry: no transcript", map[string]any{"execution_id": executionID})
		return nil, false
	}

	entry, err := s.index.read(file)
	if err != nil {
		s.log.Warn("find history entry: cannot parse transcript", map[string]any{"execution_id": executionID, "error": err.Error()})
		return nil, false
	}
	return entry, true
}

// HistoryEntries returns every readable entry, ordered by execution id.
func (s *Service) HistoryEntries() []*model.HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.sync()

	var entries []*model.HistoryEntry
	for _, file := range s.index.files() {
		entry, err := s.index.read(file)
		if err != nil {
			continue
		}
		entries = append(entries, entry)
	}
	return entries
}

// Path returns the transcript file path for executionID.
func (s *Service) Path(executionID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.index.sync()

	file, ok := s.index.lookup(executionID)
	if !ok {
		return "", false
	}
	return s.index.path(file), true
}
