package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/runlog-project/runlog/internal/watch"
	"github.com/runlog-project/runlog/pkg/color"
)

var watchDebounce time.Duration

type watchEvent struct {
	Event       string `json:"event"`
	ExecutionID string `json:"execution_id"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Report transcripts as they appear and disappear",
	Long: `Watch the transcript directory and print every execution that is added
or removed, until interrupted.`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()
		store := requireStore(cfg)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		w := watch.New(store.Dir(), store, watch.WithDebounce(watchDebounce))
		if !jsonOutput {
			fmt.Fprintf(os.Stderr, "Watching %s (%d executions)\n", store.Dir(), len(store.HistoryEntries()))
		}

		g, ctx := errgroup.WithContext(ctx)
		g.Go(func() error { return w.Run(ctx) })
		g.Go(func() error {
			for change := range w.Events() {
				for _, id := range change.Added {
					printWatchEvent("added", id)
				}
				for _, id := range change.Removed {
					printWatchEvent("removed", id)
				}
			}
			return nil
		})

		if err := g.Wait(); err != nil {
			fmtErr("watch: %v", err)
			os.Exit(1)
		}
	},
}

func printWatchEvent(event, id string) {
	if jsonOutput {
		outputJSONLine(watchEvent{Event: event, ExecutionID: id})
		return
	}
	mark := color.Success("+")
	if event == "removed" {
		mark = color.Error("-")
	}
	fmt.Printf("%s %s\n", mark, color.ExecutionID(id))
}

func init() {
	watchCmd.Flags().DurationVar(&watchDebounce, "debounce", 200*time.Millisecond, "quiet period before re-reading the directory")
	rootCmd.AddCommand(watchCmd)
}
