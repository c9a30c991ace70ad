package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

var (
	insOutputPath string
	insDelimiter  string
	insSampleRows int
	insMaxRows    int
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <dataset>",
	Short: "Describe a CSV/TSV dataset without running any agents",
	Long: `Streams the dataset once and prints the schema summary the agents would
see in their prompts: inferred column kinds, basic statistics, and sample
rows. Useful for checking what the pipeline will work with before spending
model calls.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		opt := dataset.DefaultOptions()
		if insSampleRows > 0 {
			opt.SampleRows = insSampleRows
		}
		if insMaxRows > 0 {
			opt.MaxRows = insMaxRows
		}
		if insDelimiter != "" {
			switch insDelimiter {
			case ",":
				opt.Delimiter = ','
			case "\t", "tab":
				opt.Delimiter = '\t'
			case ";":
				opt.Delimiter = ';'
			default:
				return fmt.Errorf("unsupported --delimiter: %s", insDelimiter)
			}
		}

		d, err := dataset.Describe(args[0], opt)
		if err != nil {
			return err
		}
		summary := d.Summary()
		if insOutputPath != "" {
			if err := os.WriteFile(insOutputPath, []byte(summary), 0o644); err != nil {
				return fmt.Errorf("write output: %w", err)
			}
			fmt.Printf("✓ Wrote summary to %s\n", insOutputPath)
			return nil
		}
		fmt.Println(summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
	inspectCmd.Flags().StringVarP(&insOutputPath, "output", "o", "", "optional path to write the summary")
	inspectCmd.Flags().StringVar(&insDelimiter, "delimiter", "", "CSV delimiter: ',' | ';' | 'tab'")
	inspectCmd.Flags().IntVar(&insSampleRows, "sample-rows", 5, "number of sample rows to include")
	inspectCmd.Flags().IntVar(&insMaxRows, "max-rows", 100000, "maximum rows to process (0 = unlimited)")
}
