package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/internal/filename"
	"github.com/runlog-project/runlog/internal/history"
	"github.com/runlog-project/runlog/pkg/config"
	"github.com/runlog-project/runlog/pkg/logging"
)

var completionCmd = &cobra.Command{
	Use:   "completion [bash|zsh|fish|powershell]",
	Short: "Generate shell completion script",
	Long: `Generate shell completion script for runlog.

Bash:
  source <(runlog completion bash)

Zsh:
  runlog completion zsh > "${fpath[1]}/_runlog"

Fish:
  runlog completion fish | source

PowerShell:
  runlog completion powershell | Out-String | Invoke-Expression`,
	DisableFlagsInUseLine: true,
	ValidArgs:             []string{"bash", "zsh", "fish", "powershell"},
	Args:                  cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	Run: func(cmd *cobra.Command, args []string) {
		shell := args[0]

		var err error
		switch shell {
		case "bash":
			err = cmd.Root().GenBashCompletion(os.Stdout)
		case "zsh":
			err = cmd.Root().GenZshCompletion(os.Stdout)
		case "fish":
			err = cmd.Root().GenFishCompletion(os.Stdout, true)
		case "powershell":
			err = cmd.Root().GenPowerShellCompletionWithDesc(os.Stdout)
		default:
			err = fmt.Errorf("unsupported shell type: %s", shell)
		}

		if err != nil {
			fmtErr("failed to generate completion for %s: %v", shell, err)
			os.Exit(1)
		}
	},
}

// completeExecutionIDs offers the ids of recorded executions, described by
// their script name. Errors yield no suggestions.
func completeExecutionIDs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	cfg, err := config.Load(config.ResolvePath(configPath))
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	if outputDir != "" {
		cfg.OutputDir = outputDir
	}
	store, err := history.NewService(cfg.OutputDir, filename.FromConfig(cfg), history.WithLogger(logging.Discard()))
	if err != nil {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}

	var out []string
	for _, e := range store.HistoryEntries() {
		if strings.HasPrefix(e.ID, toComplete) {
			out = append(out, e.ID+"\t"+e.ScriptName)
		}
	}
	return out, cobra.ShellCompDirectiveNoFileComp
}

func init() {
	rootCmd.AddCommand(completionCmd)
}
