package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/runlog-project/runlog/pkg/config"
	"github.com/runlog-project/runlog/pkg/fsutil"
)

var configInitForce bool

var configCmd = &cobra.Command{
	Use:   "config <command>",
	Short: "Manage runlog configuration",
	Long: `Manage runlog configuration.

The file is looked up at --config, then $RUNLOG_CONFIG, then
~/.runlog/config.yaml.

Configuration options:
  output_dir        - Directory holding transcripts
  filename_pattern  - Transcript file name template, using ${SCRIPT},
                      ${AUDIT_NAME}, ${USERNAME}, ${HOSTNAME}, ${IP},
                      ${ID} and ${DATE}
  date_format       - Go time layout for ${DATE}
  archive_dir       - Directory for compressed transcripts
  logging.level     - debug, info, warn or error
  logging.format    - json or text`,
	DisableFlagsInUseLine: true,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the effective configuration",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()

		if jsonOutput {
			outputJSON(cfg)
			return
		}

		data, err := yaml.Marshal(cfg)
		if err != nil {
			fmtErr("marshal config: %v", err)
			os.Exit(1)
		}
		fmt.Printf("# %s\n", config.ResolvePath(configPath))
		os.Stdout.Write(data)
	},
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file with the default settings",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		path := config.ResolvePath(configPath)
		if fsutil.Exists(path) && !configInitForce {
			fmtErr("%s already exists (use --force to overwrite)", path)
			os.Exit(1)
		}
		if err := config.Save(path, config.Default()); err != nil {
			fmtErr("%v", err)
			os.Exit(1)
		}
		fmt.Printf("Wrote %s\n", path)
	},
}

func init() {
	configInitCmd.Flags().BoolVar(&configInitForce, "force", false, "overwrite an existing file")
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}
