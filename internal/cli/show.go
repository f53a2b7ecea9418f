package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/pkg/color"
)

var showCmd = &cobra.Command{
	Use:   "show <execution-id>",
	Short: "Show the header of a transcript",
	Long: `Show who ran an execution, when, the command and its exit code.

The id may be abbreviated to any unique prefix.`,
	Args:              cobra.ExactArgs(1),
	ValidArgsFunction: completeExecutionIDs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		store := requireStore(cfg)
		entry := requireEntry(store, args[0])

		if jsonOutput {
			outputJSON(entry)
			return
		}

		path, _ := store.Path(entry.ID)
		started := "-"
		if !entry.StartTime.IsZero() {
			started = entry.StartTime.Local().Format("2006-01-02 15:04:05.000 MST")
		}

		fmt.Printf("%s  %s\n", color.Header("Execution:"), color.ExecutionID(entry.ID))
		fmt.Printf("%s     %s\n", color.Header("Script:"), color.Script(entry.ScriptName))
		fmt.Printf("%s    %s\n", color.Header("Command:"), color.Code(entry.Command))
		fmt.Printf("%s       %s (%s)\n", color.Header("User:"), entry.UserName, color.Dim(entry.UserID))
		fmt.Printf("%s    %s\n", color.Header("Started:"), started)
		fmt.Printf("%s  %s\n", color.Header("Exit code:"), color.ExitCode(entry.ExitCode))
		fmt.Printf("%s       %s\n", color.Header("File:"), color.Dim(path))
	},
}

func init() {
	rootCmd.AddCommand(showCmd)
}
