// Package doctor inspects a transcript directory for files the index
// silently skips and for leftovers of interrupted writes.
package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/runlog-project/runlog/internal/archive"
	"github.com/runlog-project/runlog/internal/filename"
	"github.com/runlog-project/runlog/internal/lock"
	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/fsutil"
)

// Severity levels, from least to most serious.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityError    = "error"
	SeverityCritical = "critical"
)

// DefaultStaleAfter is how long a transcript may lack an exit code before it
// is reported as stale.
const DefaultStaleAfter = 24 * time.Hour

// Finding represents a detected issue.
type Finding struct {
	Category    string `json:"category"`
	Description string `json:"description"`
	Severity    string `json:"severity"`
	Path        string `json:"path,omitempty"`
}

// Result contains doctor check results.
type Result struct {
	Healthy     bool      `json:"healthy"`
	Transcripts int       `json:"transcripts"`
	Findings    []Finding `json:"findings"`
}

func (r *Result) add(f Finding) {
	r.Findings = append(r.Findings, f)
	if f.Severity == SeverityCritical {
		r.Healthy = false
	}
}

// Doctor checks one transcript directory and, optionally, its archive.
type Doctor struct {
	dir        string
	archiveDir string
	staleAfter time.Duration
	now        func() time.Time
}

// NewDoctor creates a doctor for dir. archiveDir may be empty.
func NewDoctor(dir, archiveDir string) *Doctor {
	return &Doctor{
		dir:        dir,
		archiveDir: archiveDir,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

// WithStaleAfter changes the stale threshold for unfinished transcripts.
func (d *Doctor) WithStaleAfter(age time.Duration) *Doctor {
	d.staleAfter = age
	return d
}

// WithClock overrides the time source.
func (d *Doctor) WithClock(now func() time.Time) *Doctor {
	d.now = now
	return d
}

// Check runs all diagnostic checks. strict also decompresses every archive.
func (d *Doctor) Check(strict bool) (*Result, error) {
	result := &Result{Healthy: true}

	entries, ok := d.checkDir(result)
	if !ok {
		return result, nil
	}

	d.checkTranscripts(entries, result)
	d.checkOrphanTmp(entries, result)
	d.checkLock(result)

	if strict && d.archiveDir != "" {
		d.checkArchives(result)
	}
	return result, nil
}

func (d *Doctor) checkDir(result *Result) ([]os.DirEntry, bool) {
	info, err := os.Stat(d.dir)
	if err != nil || !info.IsDir() {
		desc := "transcript directory is not a directory"
		if err != nil {
			desc = fmt.Sprintf("transcript directory unavailable: %v", err)
		}
		result.add(Finding{Category: "dir", Description: desc, Severity: SeverityCritical, Path: d.dir})
		return nil, false
	}

	probe, err := os.CreateTemp(d.dir, fsutil.TempPrefix+"probe-*")
	if err != nil {
		result.add(Finding{
			Category:    "dir",
			Description: fmt.Sprintf("transcript directory is not writable: %v", err),
			Severity:    SeverityCritical,
			Path:        d.dir,
		})
	} else {
		probe.Close()
		os.Remove(probe.Name())
	}

	entries, err := os.ReadDir(d.dir)
	if err != nil {
		result.add(Finding{
			Category:    "dir",
			Description: fmt.Sprintf("cannot list transcript directory: %v", err),
			Severity:    SeverityCritical,
			Path:        d.dir,
		})
		return nil, false
	}
	return entries, true
}

func (d *Doctor) checkTranscripts(entries []os.DirEntry, result *Result) {
	files := make(map[string][]string) // id -> file names

	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), filename.Extension) {
			continue
		}
		path := filepath.Join(d.dir, name)

		entry, err := transcript.ReadEntry(path)
		if err != nil {
			result.add(Finding{
				Category:    "transcript",
				Description: fmt.Sprintf("%s is not listed in history: %v", name, err),
				Severity:    SeverityWarning,
				Path:        path,
			})
			continue
		}
		result.Transcripts++
		files[entry.ID] = append(files[entry.ID], name)

		if !entry.Finished() && !entry.StartTime.IsZero() && d.now().Sub(entry.StartTime) > d.staleAfter {
			result.add(Finding{
				Category:    "transcript",
				Description: fmt.Sprintf("%s started %s ago and has no exit code", entry.ID, d.now().Sub(entry.StartTime).Round(time.Minute)),
				Severity:    SeverityInfo,
				Path:        path,
			})
		}
	}

	ids := make([]string, 0, len(files))
	for id := range files {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		if names := files[id]; len(names) > 1 {
			sort.Strings(names)
			result.add(Finding{
				Category:    "duplicate",
				Description: fmt.Sprintf("execution %s is recorded in %d files: %s", id, len(names), strings.Join(names, ", ")),
				Severity:    SeverityWarning,
			})
		}
	}
}

func (d *Doctor) checkOrphanTmp(entries []os.DirEntry, result *Result) {
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), fsutil.TempPrefix) {
			result.add(Finding{
				Category:    "tmp",
				Description: fmt.Sprintf("orphan temp file: %s", e.Name()),
				Severity:    SeverityInfo,
				Path:        filepath.Join(d.dir, e.Name()),
			})
		}
	}
}

func (d *Doctor) checkArchives(result *Result) {
	names, err := archive.List(d.archiveDir)
	if err != nil {
		result.add(Finding{
			Category:    "archive",
			Description: fmt.Sprintf("cannot list archives: %v", err),
			Severity:    SeverityError,
			Path:        d.archiveDir,
		})
		return
	}
	for _, name := range names {
		path := filepath.Join(d.archiveDir, name)
		content, err := archive.Read(path)
		if err != nil {
			result.add(Finding{
				Category:    "archive",
				Description: fmt.Sprintf("%s cannot be decompressed: %v", name, err),
				Severity:    SeverityCritical,
				Path:        path,
			})
			continue
		}
		if _, ok := transcript.SplitBody(content); !ok {
			result.add(Finding{
				Category:    "archive",
				Description: fmt.Sprintf("%s does not contain a transcript", name),
				Severity:    SeverityWarning,
				Path:        path,
			})
		}
	}
}

func (d *Doctor) checkLock(result *Result) {
	mgr := lock.NewManager(d.dir, 0)
	state, rec, err := mgr.Status()
	switch {
	case err != nil:
		result.add(Finding{
			Category:    "lock",
			Description: fmt.Sprintf("unreadable maintenance lock: %v", err),
			Severity:    SeverityWarning,
			Path:        mgr.Path(),
		})
	case state == lock.StateExpired:
		result.add(Finding{
			Category:    "lock",
			Description: fmt.Sprintf("expired %s lock held by pid %d; the next gc or archive takes it over", rec.Purpose, rec.PID),
			Severity:    SeverityInfo,
			Path:        mgr.Path(),
		})
	}
}

// RemoveOrphans deletes the temp files reported by Check and returns how
// many were removed.
func RemoveOrphans(result *Result) (int, error) {
	removed := 0
	for _, f := range result.Findings {
		if f.Category != "tmp" || f.Path == "" {
			continue
		}
		if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("remove %s: %w", f.Path, err)
		}
		removed++
	}
	return removed, nil
}
