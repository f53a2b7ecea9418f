package cli

import (
	"fmt"
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/pkg/color"
	"github.com/runlog-project/runlog/pkg/model"
)

var (
	historyLimit  int
	historyScript string
	historyUser   string
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded executions",
	Long: `List recorded executions, newest first.

Examples:
  runlog history                 # Show all executions
  runlog history -n 10           # Show the last 10
  runlog history --script build  # Only runs of scripts named "build"
  runlog history --user alice    # Only runs by alice`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		store := requireStore(cfg)

		entries := filterEntries(store.HistoryEntries())
		byStartTime(entries)
		if historyLimit > 0 && len(entries) > historyLimit {
			entries = entries[:historyLimit]
		}

		if jsonOutput {
			if entries == nil {
				entries = []*model.HistoryEntry{}
			}
			outputJSON(entries)
			return
		}

		if len(entries) == 0 {
			fmt.Println("No executions recorded.")
			return
		}
		renderEntries(entries)
	},
}

func filterEntries(entries []*model.HistoryEntry) []*model.HistoryEntry {
	var out []*model.HistoryEntry
	for _, e := range entries {
		if historyScript != "" && e.ScriptName != historyScript {
			continue
		}
		if historyUser != "" && e.UserName != historyUser {
			continue
		}
		out = append(out, e)
	}
	return out
}

func renderEntries(entries []*model.HistoryEntry) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"ID", "STARTED", "SCRIPT", "USER", "EXIT"})
	for _, e := range entries {
		started := "-"
		if !e.StartTime.IsZero() {
			started = e.StartTime.Local().Format("2006-01-02 15:04:05")
		}
		user := e.UserName
		if user == "" {
			user = "-"
		}
		t.AppendRow(table.Row{
			color.ExecutionID(e.ID),
			color.Dim(started),
			color.Script(e.ScriptName),
			user,
			color.ExitCode(e.ExitCode),
		})
	}
	t.Render()
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 0, "limit number of entries (0 = all)")
	historyCmd.Flags().StringVar(&historyScript, "script", "", "filter by script name")
	historyCmd.Flags().StringVar(&historyUser, "user", "", "filter by user name")
	rootCmd.AddCommand(historyCmd)
}
