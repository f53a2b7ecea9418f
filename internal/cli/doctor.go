package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/runlog-project/runlog/internal/doctor"
	"github.com/runlog-project/runlog/pkg/color"
)

var (
	doctorStrict     bool
	doctorRepair     bool
	doctorStaleAfter = doctor.DefaultStaleAfter
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check the transcript directory for problems",
	Long: `Check the transcript directory for problems.

Reports .log files that history skips (no output marker, no id, bad
fields), execution ids recorded in more than one file, transcripts that
never received an exit code, and temp files left by interrupted writes.

Examples:
  runlog doctor             # Quick check
  runlog doctor --strict    # Also decompress every archive
  runlog doctor --repair    # Remove orphan temp files`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := requireConfig()

		doc := doctor.NewDoctor(cfg.OutputDir, cfg.ArchiveDir).WithStaleAfter(doctorStaleAfter)
		result, err := doc.Check(doctorStrict)
		if err != nil {
			fmtErr("doctor: %v", err)
			os.Exit(1)
		}

		repaired := 0
		if doctorRepair {
			repaired, err = doctor.RemoveOrphans(result)
			if err != nil {
				fmtErr("repair: %v", err)
				os.Exit(1)
			}
		}

		if jsonOutput {
			outputJSON(result)
		} else {
			printDoctorResult(result, repaired)
		}
		if !result.Healthy {
			os.Exit(1)
		}
	},
}

func printDoctorResult(result *doctor.Result, repaired int) {
	if result.Healthy {
		fmt.Printf("%s %d transcripts\n", color.Success("Healthy:"), result.Transcripts)
	} else {
		fmt.Printf("%s %d transcripts\n", color.Error("Unhealthy:"), result.Transcripts)
	}
	for _, f := range result.Findings {
		severity := f.Severity
		switch f.Severity {
		case doctor.SeverityCritical, doctor.SeverityError:
			severity = color.Error(severity)
		case doctor.SeverityWarning:
			severity = color.Warning(severity)
		default:
			severity = color.Dim(severity)
		}
		fmt.Printf("  [%s] %s: %s\n", severity, f.Category, f.Description)
	}
	if repaired > 0 {
		fmt.Printf("Removed %d orphan temp files.\n", repaired)
	}
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorStrict, "strict", false, "also verify archives")
	doctorCmd.Flags().BoolVar(&doctorRepair, "repair", false, "remove orphan temp files")
	doctorCmd.Flags().DurationVar(&doctorStaleAfter, "stale-after", doctor.DefaultStaleAfter, "report transcripts without exit code older than this")
	rootCmd.AddCommand(doctorCmd)
}
