package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/pkg/color"
)

var (
	jsonOutput bool
	configPath string
	outputDir  string
	noColor    bool

	rootCmd = &cobra.Command{
		Use:   "runlog",
		Short: "runlog - execution transcripts you can search later",
		Long: `runlog runs commands and records each execution as a transcript file:
who ran what, when, the exit code, and every byte of output.

Transcripts are plain files in one directory. Any file that appears there,
written by this process or copied in from elsewhere, shows up in history.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			color.Init(noColor)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	addGlobalFlags(rootCmd)
}

func addGlobalFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	cmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default $RUNLOG_CONFIG or ~/.runlog/config.yaml)")
	cmd.PersistentFlags().StringVar(&outputDir, "dir", "", "transcript directory (overrides output_dir)")
	cmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmtErr("%v", err)
		os.Exit(1)
	}
}

// outputJSON prints v as JSON if --json flag is set, otherwise does nothing.
func outputJSON(v any) error {
	if !jsonOutput {
		return nil
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJSONLine prints v as a single line of JSON.
func outputJSONLine(v any) error {
	return json.NewEncoder(os.Stdout).Encode(v)
}

func fmtErr(format string, args ...any) {
	prefix := "runlog: "
	if color.Enabled() {
		prefix = color.Error("runlog:") + " "
	}
	fmt.Fprintf(os.Stderr, prefix+format+"\n", args...)
}
