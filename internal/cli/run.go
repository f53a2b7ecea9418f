package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/internal/audit"
	"github.com/runlog-project/runlog/internal/execution"
	"github.com/runlog-project/runlog/internal/history"
	"github.com/runlog-project/runlog/pkg/color"
)

var (
	runName  string
	runTTY   bool
	runQuiet bool
)

type runResult struct {
	ExecutionID string `json:"execution_id"`
	ExitCode    int    `json:"exit_code"`
	Transcript  string `json:"transcript"`
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- <command> [args...]",
	Short: "Run a command and record its transcript",
	Long: `Run a command and record its transcript.

Output is shown as it is produced and written to a new transcript file.
When the command exits, its exit code is added to the transcript header
and runlog exits with the same code.

Examples:
  runlog run -- make test
  runlog run --name deploy -- ./deploy.sh prod
  runlog run --tty -- top -n 1`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		store := requireStore(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		notifier := newNotifier(cfg)
		executions := execution.NewService(nil)
		initiator := history.NewInitiator(executions, store)
		initiator.Start()
		executions.AddStartListener(func(id string) {
			notifier.ExecutionStarted(id, executions.ScriptName(id), executions.AuditName(id))
		})

		var echo io.Writer = os.Stdout
		if runQuiet || jsonOutput {
			echo = nil
		}
		names := audit.Local()
		id, err := executions.Start(ctx, execution.Config{
			Name:    runName,
			Command: args,
			TTY:     runTTY,
			Echo:    echo,
		}, names.Username(), names)
		if err != nil {
			notifier.Close()
			fmtErr("%v", err)
			os.Exit(1)
		}

		code, err := executions.Wait(ctx, id)
		if err != nil {
			notifier.Close()
			fmtErr("run %s: %v", id, err)
			os.Exit(1)
		}

		result := runResult{ExecutionID: id, ExitCode: code}
		if t, ok := initiator.Transcript(id); ok {
			t.Wait()
			result.Transcript = t.Path
			initiator.Forget(id)
		}
		notifier.ExecutionFinished(id, executions.ScriptName(id), executions.AuditName(id), code, result.Transcript)
		notifier.Close()

		if jsonOutput {
			outputJSON(result)
		} else if !runQuiet {
			fmt.Fprintf(os.Stderr, "%s %s exited with %s, transcript %s\n",
				color.Dim("runlog:"), color.ExecutionID(id), color.ExitCode(&code), result.Transcript)
		}

		if code != 0 {
			stop()
			os.Exit(code)
		}
	},
}

func init() {
	runCmd.Flags().StringVar(&runName, "name", "", "script name to record (default: executable name)")
	runCmd.Flags().BoolVar(&runTTY, "tty", false, "run the command in a pseudo-terminal")
	runCmd.Flags().BoolVarP(&runQuiet, "quiet", "q", false, "do not echo output")
	rootCmd.AddCommand(runCmd)
}
