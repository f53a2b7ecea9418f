package history

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/runlog-project/runlog/internal/filename"
	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/metrics"
	"github.com/runlog-project/runlog/pkg/model"
)

// index maps execution ids to transcript file names inside dir. It is not
// safe for concurrent use; Service serializes access.
type index struct {
	dir     string
	ids     map[string]string   // id -> file name
	visited map[string]struct{} // every file name ever inspected
	log     *logging.Logger
	metrics *metrics.Registry
}

func newIndex(dir string, log *logging.Logger, reg *metrics.Registry) *index {
	return &index{
		dir:     dir,
		ids:     make(map[string]string),
		visited: make(map[string]struct{}),
		log:     log,
		metrics: reg,
	}
}

// put records a transcript this process has just created.
func (ix *index) put(id, file string) {
	ix.visited[file] = struct{}{}
	ix.ids[id] = file
}

func (ix *index) lookup(id string) (string, bool) {
	file, ok := ix.ids[id]
	return file, ok
}

// files returns the indexed file names ordered by execution id.
func (ix *index) files() []string {
	ids := make([]string, 0, len(ix.ids))
	for id := range ix.ids {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	files := make([]string, len(ids))
	for i, id := range ids {
		files[i] = ix.ids[id]
	}
	return files
}

func (ix *index) path(file string) string {
	return filepath.Join(ix.dir, file)
}

// sync drops ids whose file vanished, then indexes .log files not seen
// before. A file that fails to parse stays visited and is never retried.
func (ix *index) sync() (added, removed []string) {
	for id, file := range ix.ids {
		if _, err := os.Stat(ix.path(file)); errors.Is(err, fs.ErrNotExist) {
			ix.log.Info("transcript was deleted", map[string]any{"execution_id": id, "file": file})
			delete(ix.ids, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		ix.metrics.RecordPrune(len(removed))
	}

	entries, err := os.ReadDir(ix.dir)
	if err != nil {
		ix.log.ErrorErr("list transcript dir", err, map[string]any{"dir": ix.dir})
		return added, removed
	}

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), filename.Extension) {
			continue
		}
		if _, seen := ix.visited[name]; seen {
			continue
		}
		ix.visited[name] = struct{}{}

		entry, err := ix.scan(name)
		if err != nil {
			ix.log.Debug("skipping file", map[string]any{"file": name, "reason": err.Error()})
			continue
		}
		ix.ids[entry.ID] = name
		added = append(added, entry.ID)
	}

	sort.Strings(added)
	sort.Strings(removed)
	return added, removed
}

func (ix *index) scan(file string) (*model.HistoryEntry, error) {
	entry, err := transcript.ReadEntry(ix.path(file))
	ix.metrics.RecordScan(err == nil)
	return entry, err
}

func (ix *index) read(file string) (*model.HistoryEntry, error) {
	ix.metrics.RecordRead()
	return transcript.ReadEntry(ix.path(file))
}
