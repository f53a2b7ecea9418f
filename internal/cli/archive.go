package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/internal/archive"
	"github.com/runlog-project/runlog/pkg/color"
)

var archiveRemove bool

type archiveResult struct {
	ExecutionID string `json:"execution_id"`
	Archive     string `json:"archive"`
	Removed     bool   `json:"removed"`
}

var archiveCmd = &cobra.Command{
	Use:   "archive <execution-id>",
	Short: "Compress a transcript into the archive directory",
	Long: `Compress a transcript with zstd into archive_dir.

With --remove the original transcript is deleted afterwards and the
execution disappears from history. "runlog log" still finds it in the
archive.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeExecutionIDs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		store := requireStore(cfg)
		entry := requireEntry(store, args[0])
		release := requireMaintenanceLock(cfg, "archive")

		if !entry.Finished() {
			fmtErr("%s has no exit code yet; archive it after it finishes", entry.ID)
			release()
			os.Exit(1)
		}

		path, ok := store.Path(entry.ID)
		if !ok {
			fmtErr("transcript of %s disappeared", entry.ID)
			release()
			os.Exit(1)
		}
		dest, err := archive.Archive(path, cfg.ArchiveDir)
		if err != nil {
			fmtErr("archive %s: %v", entry.ID, err)
			release()
			os.Exit(1)
		}

		result := archiveResult{ExecutionID: entry.ID, Archive: dest}
		if archiveRemove {
			if err := os.Remove(path); err != nil {
				fmtErr("remove %s: %v", path, err)
				release()
				os.Exit(1)
			}
			store.Sync()
			result.Removed = true
		}
		release()

		notifier := newNotifier(cfg)
		notifier.Archived(entry.ID, dest)
		notifier.Close()

		if jsonOutput {
			outputJSON(result)
			return
		}
		fmt.Printf("Archived %s to %s\n", color.ExecutionID(entry.ID), dest)
	},
}

func init() {
	archiveCmd.Flags().BoolVar(&archiveRemove, "remove", false, "delete the transcript after archiving")
	rootCmd.AddCommand(archiveCmd)
}
