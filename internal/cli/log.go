package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/internal/archive"
	"github.com/runlog-project/runlog/internal/transcript"
	"github.com/runlog-project/runlog/pkg/config"
)

var logCmd = &cobra.Command{
	Use:   "log <execution-id>",
	Short: "Print the recorded output of an execution",
	Long: `Print the recorded output of an execution, byte for byte.

Archived transcripts are searched when the id is not in the transcript
directory.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeExecutionIDs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		store := requireStore(cfg)
		query := args[0]

		if body, ok := store.FindLog(query); ok {
			os.Stdout.Write(body)
			return
		}
		if body, ok := findArchivedLog(cfg, query); ok {
			os.Stdout.Write(body)
			return
		}

		entry := requireEntry(store, query)
		body, ok := store.FindLog(entry.ID)
		if !ok {
			fmtErr("output of %s is not available", entry.ID)
			os.Exit(1)
		}
		os.Stdout.Write(body)
	},
}

// findArchivedLog returns the body of query's transcript from the archive
// directory. Only the matching archive is decompressed in full.
func findArchivedLog(cfg *config.Config, query string) ([]byte, bool) {
	path, ok := archive.Find(cfg.ArchiveDir, query)
	if !ok {
		return nil, false
	}
	content, err := archive.Read(path)
	if err != nil {
		return nil, false
	}
	return transcript.SplitBody(content)
}

func init() {
	rootCmd.AddCommand(logCmd)
}
