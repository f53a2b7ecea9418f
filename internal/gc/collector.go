// Package gc removes old transcripts according to a retention policy.
package gc

import (
	"errors"
	"io/fs"
	"os"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/runlog-project/runlog/internal/archive"
	"github.com/runlog-project/runlog/internal/history"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/model"
	"github.com/runlog-project/runlog/pkg/progress"
)

// Policy decides which transcripts are kept. Unfinished transcripts are
// always kept.
type Policy struct {
	// KeepMinAge protects transcripts that started less than this long ago.
	KeepMinAge time.Duration `json:"keep_min_age"`
	// KeepMin protects this many of the newest finished transcripts.
	KeepMin int `json:"keep_min"`
	// Archive compresses each transcript into the archive directory before
	// deleting it.
	Archive bool `json:"archive"`
}

// Candidate is a transcript selected for removal.
type Candidate struct {
	ExecutionID string    `json:"execution_id"`
	Path        string    `json:"path"`
	StartTime   time.Time `json:"start_time"`
}

// Plan lists what a Run will remove.
type Plan struct {
	PlanID    string      `json:"plan_id"`
	CreatedAt time.Time   `json:"created_at"`
	Policy    Policy      `json:"policy"`
	Protected int         `json:"protected"`
	ToDelete  []Candidate `json:"to_delete"`
}

// Result reports what a Run did.
type Result struct {
	PlanID   string   `json:"plan_id"`
	Deleted  []string `json:"deleted"`
	Archived []string `json:"archived,omitempty"`
	Skipped  []string `json:"skipped,omitempty"`
}

// Collector plans and runs retention over one transcript store.
type Collector struct {
	store      *history.Service
	archiveDir string
	log        *logging.Logger
	now        func() time.Time
	progress   progress.Callback
}

// NewCollector creates a collector. archiveDir is only used by policies
// that archive.
func NewCollector(store *history.Service, archiveDir string) *Collector {
	return &Collector{
		store:      store,
		archiveDir: archiveDir,
		log:        logging.Global().Named("gc"),
		now:        time.Now,
	}
}

// WithProgress reports each processed candidate of Run to cb.
func (c *Collector) WithProgress(cb progress.Callback) *Collector {
	c.progress = cb
	return c
}

// WithClock overrides the time source.
func (c *Collector) WithClock(now func() time.Time) *Collector {
	c.now = now
	return c
}

// Plan selects the transcripts policy does not protect.
func (c *Collector) Plan(policy Policy) (*Plan, error) {
	if policy.KeepMin < 0 || policy.KeepMinAge < 0 {
		return nil, errors.New("gc policy: negative retention")
	}

	entries := c.store.HistoryEntries()
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].StartTime.After(entries[j].StartTime)
	})

	plan := &Plan{
		PlanID:    uuid.NewString(),
		CreatedAt: c.now().UTC(),
		Policy:    policy,
	}

	kept := 0
	for _, e := range entries {
		if c.protected(e, policy, &kept) {
			plan.Protected++
			continue
		}
		path, ok := c.store.Path(e.ID)
		if !ok {
			continue
		}
		plan.ToDelete = append(plan.ToDelete, Candidate{ExecutionID: e.ID, Path: path, StartTime: e.StartTime})
	}
	return plan, nil
}

func (c *Collector) protected(e *model.HistoryEntry, policy Policy, kept *int) bool {
	if !e.Finished() {
		return true
	}
	if c.now().Sub(e.StartTime) < policy.KeepMinAge {
		*kept++
		return true
	}
	if *kept < policy.KeepMin {
		*kept++
		return true
	}
	return false
}

// Run removes the transcripts in plan. Candidates that changed since the
// plan was made are skipped. Failures on one transcript do not stop the
// others.
func (c *Collector) Run(plan *Plan) (*Result, error) {
	if plan.Policy.Archive && c.archiveDir == "" {
		return nil, errors.New("gc: archiving requested without an archive directory")
	}

	result := &Result{PlanID: plan.PlanID}
	p := progress.New("gc", len(plan.ToDelete), c.progress)
	for _, cand := range plan.ToDelete {
		p.Step(cand.ExecutionID)
		path, ok := c.store.Path(cand.ExecutionID)
		if !ok || path != cand.Path {
			result.Skipped = append(result.Skipped, cand.ExecutionID)
			continue
		}

		if plan.Policy.Archive {
			if _, err := archive.Archive(path, c.archiveDir); err != nil {
				c.log.ErrorErr("archive before delete", err, map[string]any{"execution_id": cand.ExecutionID})
				result.Skipped = append(result.Skipped, cand.ExecutionID)
				continue
			}
			result.Archived = append(result.Archived, cand.ExecutionID)
		}

		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.log.ErrorErr("delete transcript", err, map[string]any{"execution_id": cand.ExecutionID})
			result.Skipped = append(result.Skipped, cand.ExecutionID)
			continue
		}
		result.Deleted = append(result.Deleted, cand.ExecutionID)
	}

	c.store.Sync()
	c.log.Info("gc finished", map[string]any{
		"plan_id":  plan.PlanID,
		"deleted":  len(result.Deleted),
		"archived": len(result.Archived),
		"skipped":  len(result.Skipped),
	})
	return result, nil
}
