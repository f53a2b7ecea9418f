package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/internal/gc"
	"github.com/runlog-project/runlog/pkg/color"
	"github.com/runlog-project/runlog/pkg/progress"
)

var (
	gcOlderThan time.Duration
	gcKeep      int
	gcArchive   bool
	gcDryRun    bool
)

type gcOutput struct {
	Plan   *gc.Plan   `json:"plan"`
	Result *gc.Result `json:"result,omitempty"`
}

var gcCmd = &cobra.Command{
	Use:   "gc",
	Short: "Remove old transcripts",
	Long: `Remove finished transcripts according to a retention policy.

Transcripts without an exit code are never removed.

Examples:
  runlog gc --older-than 720h             # Drop runs older than 30 days
  runlog gc --older-than 168h --keep 50   # ...but keep the newest 50
  runlog gc --older-than 720h --archive   # Compress before deleting
  runlog gc --older-than 720h --dry-run   # Only show what would go`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		store := requireStore(cfg)
		release := requireMaintenanceLock(cfg, "gc")
		defer release()
		bar := progress.NewTerminal(os.Stderr, !jsonOutput && color.Enabled())
		collector := gc.NewCollector(store, cfg.ArchiveDir).WithProgress(bar.Callback())

		plan, err := collector.Plan(gc.Policy{KeepMinAge: gcOlderThan, KeepMin: gcKeep, Archive: gcArchive})
		if err != nil {
			fmtErr("plan: %v", err)
			release()
			os.Exit(1)
		}

		out := gcOutput{Plan: plan}
		if !gcDryRun {
			out.Result, err = collector.Run(plan)
			bar.Done()
			if err != nil {
				fmtErr("gc: %v", err)
				release()
				os.Exit(1)
			}
			notifier := newNotifier(cfg)
			notifier.GCComplete(len(out.Result.Deleted), len(out.Result.Archived))
			notifier.Close()
		}

		if jsonOutput {
			outputJSON(out)
			return
		}

		if len(plan.ToDelete) == 0 {
			fmt.Println("Nothing to remove.")
			return
		}
		verb := "Removed"
		if gcDryRun {
			verb = "Would remove"
		}
		for _, c := range plan.ToDelete {
			fmt.Printf("%s %s  %s\n", verb, color.ExecutionID(c.ExecutionID), color.Dim(c.StartTime.Local().Format("2006-01-02 15:04")))
		}
		if out.Result != nil && len(out.Result.Skipped) > 0 {
			fmt.Printf("%s %d transcripts changed and were kept\n", color.Warning("Skipped:"), len(out.Result.Skipped))
		}
	},
}

func init() {
	gcCmd.Flags().DurationVar(&gcOlderThan, "older-than", 30*24*time.Hour, "keep transcripts younger than this")
	gcCmd.Flags().IntVar(&gcKeep, "keep", 0, "always keep this many newest finished transcripts")
	gcCmd.Flags().BoolVar(&gcArchive, "archive", false, "archive transcripts before deleting them")
	gcCmd.Flags().BoolVar(&gcDryRun, "dry-run", false, "show the plan without deleting")
	rootCmd.AddCommand(gcCmd)
}
