package cli

import (
	"fmt"
	"strings"

	"github.com/runlog-project/runlog/internal/history"
	"github.com/runlog-project/runlog/pkg/color"
)

const maxSuggestions = 3

// suggestExecutions builds a hint for an execution id that was not found.
func suggestExecutions(query string, store *history.Service) string {
	entries := store.HistoryEntries()
	if len(entries) == 0 {
		return fmt.Sprintf("No transcripts in %s yet.", store.Dir())
	}

	q := strings.ToLower(query)
	var suggestions []string
	for _, e := range entries {
		if len(suggestions) == maxSuggestions {
			break
		}
		if strings.Contains(strings.ToLower(e.ID), q) || strings.EqualFold(e.ScriptName, query) {
			suggestions = append(suggestions,
				fmt.Sprintf("%s (%s)", color.ExecutionID(e.ID), color.Dim(e.ScriptName)))
		}
	}

	if len(suggestions) == 0 {
		return fmt.Sprintf("Run %s to see recorded executions.", color.Code("runlog history"))
	}
	hint := "Did you mean"
	if len(suggestions) > 1 {
		hint += " one of"
	}
	return fmt.Sprintf("%s: %s?", hint, strings.Join(suggestions, ", "))
}
