package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/cameronsjo/rigger/internal/report"
	"github.com/cameronsjo/rigger/internal/ui"
)

var reportsLimit int

var reportsCmd = &cobra.Command{
	Use:     "reports",
	Aliases: []string{"log"},
	Short:   "List archived run reports",
	Long: `List the run reports archived in the reports directory, newest first.

Examples:
  rigger reports        # Last 10 runs
  rigger reports -n 50  # Last 50 runs`,
	Args: cobra.NoArgs,
	RunE: runReports,
}

func init() {
	reportsCmd.Flags().IntVarP(&reportsLimit, "limit", "n", 10, "Number of reports to show")

	rootCmd.AddCommand(reportsCmd)
}

func runReports(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	infos, err := report.NewArchive(cfg.ReportsDir(), cfg.Reports.Keep).List()
	if err != nil {
		return err
	}
	if len(infos) == 0 {
		ui.Info("No reports in %s", cfg.ReportsDir())
		return nil
	}
	if reportsLimit > 0 && len(infos) > reportsLimit {
		infos = infos[:reportsLimit]
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tLAYER\tOUTCOME\tRUN")
	for _, info := range infos {
		r, err := report.Read(info.Path)
		if err != nil {
			fmt.Fprintf(w, "%s\t?\tunreadable\t%s\n", info.Created.Format("2006-01-02 15:04:05"), info.Name)
			continue
		}
		outcome := string(r.Outcome)
		if r.FailedStep != "" {
			outcome += " (" + r.FailedStep + ")"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Started.Local().Format("2006-01-02 15:04:05"), r.Layer, outcome, r.RunID)
	}
	return w.Flush()
}
