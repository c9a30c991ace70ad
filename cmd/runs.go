package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KilnWorks/datascope-cli/internal/runlog"
)

var runsLimit int

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List past pipeline runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		l, err := runlog.Open(filepath.Join(home, ".datascope"))
		if err != nil {
			return err
		}
		entries := l.Recent(runsLimit)
		if len(entries) == 0 {
			fmt.Println("No runs recorded yet")
			return nil
		}
		for _, e := range entries {
			synth := "synthesized"
			if !e.Synthesized {
				synth = "raw only"
			}
			color.Cyan("%s  %s", e.StartedAt.Local().Format(time.DateTime), e.Dataset)
			fmt.Printf("  run %s  %d rows  %s  %dms\n", e.ID, e.Rows, synth, e.DurationMs)
			for agentKind, status := range e.Statuses {
				fmt.Printf("    %s: %s\n", agentKind, status)
			}
			fmt.Printf("  report: %s\n", e.ReportPath)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runsCmd)
	runsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 10, "number of runs to show (0 = all)")
}
