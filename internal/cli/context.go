package cli

import (
	"os"
	"sort"
	"strings"

	"github.com/runlog-project/runlog/internal/filename"
	"github.com/runlog-project/runlog/internal/history"
	"github.com/runlog-project/runlog/internal/lock"
	"github.com/runlog-project/runlog/pkg/config"
	"github.com/runlog-project/runlog/pkg/logging"
	"github.com/runlog-project/runlog/pkg/model"
	"github.com/runlog-project/runlog/pkg/webhook"
)

// requireConfig loads the effective configuration and installs its logger,
// or exits with error.
func requireConfig() *config.Config {
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		fmtErr("load config: %v", err)
		os.Exit(1)
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	logging.SetGlobal(cfg.NewLogger())
	return cfg
}

// requireStore opens the transcript directory, or exits with error.
func requireStore(cfg *config.Config) *history.Service {
	store, err := history.NewService(cfg.OutputDir, filename.FromConfig(cfg))
	if err != nil {
		fmtErr("open transcript dir: %v", err)
		os.Exit(1)
	}
	return store
}

// requireMaintenanceLock takes the directory's maintenance lock for purpose,
// or exits with error. The returned func releases it.
func requireMaintenanceLock(cfg *config.Config, purpose string) func() {
	mgr := lock.NewManager(cfg.OutputDir, lock.DefaultLeaseTTL)
	rec, err := mgr.Acquire(purpose)
	if err != nil {
		fmtErr("%v", err)
		os.Exit(1)
	}
	return func() {
		if err := mgr.Release(rec.HolderNonce); err != nil {
			logging.Warn("release maintenance lock", map[string]any{"error": err.Error()})
		}
	}
}

// newNotifier returns a webhook client for the configured hooks. Callers
// must Close it before exiting so queued events are delivered.
func newNotifier(cfg *config.Config) *webhook.Client {
	return webhook.NewClient(cfg.Webhooks, nil)
}

// requireEntry resolves query to exactly one history entry, or exits with
// error. query may be a full execution id or a unique prefix of one.
func requireEntry(store *history.Service, query string) *model.HistoryEntry {
	if entry, ok := store.FindHistoryEntry(query); ok {
		return entry
	}

	matches := matchPrefix(store.HistoryEntries(), query)
	switch len(matches) {
	case 1:
		return matches[0]
	case 0:
		fmtErr("no execution %q. %s", query, suggestExecutions(query, store))
	default:
		ids := make([]string, len(matches))
		for i, m := range matches {
			ids[i] = m.ID
		}
		fmtErr("execution id %q is ambiguous: %s", query, strings.Join(ids, ", "))
	}
	os.Exit(1)
	return nil
}

func matchPrefix(entries []*model.HistoryEntry, prefix string) []*model.HistoryEntry {
	if prefix == "" {
		return nil
	}
	var out []*model.HistoryEntry
	for _, e := range entries {
		if strings.HasPrefix(e.ID, prefix) {
			out = append(out, e)
		}
	}
	return out
}

// byStartTime orders entries newest first, ties broken by id.
func byStartTime(entries []*model.HistoryEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.StartTime.Equal(b.StartTime) {
			return a.StartTime.After(b.StartTime)
		}
		return a.ID < b.ID
	})
}
