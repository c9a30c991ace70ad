package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/KilnWorks/datascope-cli/internal/agent"
	"github.com/KilnWorks/datascope-cli/internal/ai"
	cfgpkg "github.com/KilnWorks/datascope-cli/internal/config"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
	"github.com/KilnWorks/datascope-cli/internal/pipeline"
	"github.com/KilnWorks/datascope-cli/internal/report"
	"github.com/KilnWorks/datascope-cli/internal/runlog"
	"github.com/KilnWorks/datascope-cli/internal/sandbox"
)

var (
	runOutputDir     string
	runCodegenModel  string
	runSynthModel    string
	runMaxRows       int
	runSampleRows    int
	runMinCharts     int
	runTaskTimeout   int
	runMaxAttempts   int
	runSkipSynthesis bool
)

var runCmd = &cobra.Command{
	Use:   "run <dataset>",
	Short: "Run the full analysis pipeline over a CSV/TSV dataset",
	Long: `Runs statistical and anomaly agents concurrently in the sandbox, renders
charts locally, synthesizes the combined findings, and writes an HTML report
plus the raw results into the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg == nil {
			c, err := cfgpkg.Load(cfgFile)
			if err != nil {
				return err
			}
			cfg = c
		}
		applyRunOverrides(cmd)

		if cfg.APIKey == "" {
			return fmt.Errorf("no API key configured: set api_key via 'datascope config set' or DATASCOPE_API_KEY")
		}
		if cfg.SandboxBaseURL == "" {
			return fmt.Errorf("no sandbox configured: set sandbox_base_url via 'datascope config set' or DATASCOPE_SANDBOX_BASE_URL")
		}

		path := args[0]
		d, err := dataset.Describe(path, dataset.Options{
			MaxRows:    cfg.MaxRows,
			SampleRows: cfg.SampleRows,
		})
		if err != nil {
			return err
		}
		color.Cyan("Dataset %s: %d rows, %d columns", d.Name, d.Rows, len(d.Columns))

		client := ai.NewClientWithBaseURL(
			cfg.APIKey,
			time.Duration(cfg.HTTPTimeoutSec)*time.Second,
			cfg.RetryMaxAttempts,
			time.Duration(cfg.RetryBaseDelayMs)*time.Millisecond,
			time.Duration(cfg.RetryMaxDelayMs)*time.Millisecond,
			cfg.APIBaseURL,
		)
		sbx := sandbox.NewClient(cfg.SandboxBaseURL, cfg.SandboxAPIKey, time.Duration(cfg.SandboxTimeoutSec)*time.Second)

		p := &pipeline.Pipeline{
			Orchestrator: &pipeline.Orchestrator{
				Runner: &agent.Runner{
					Gen:       client,
					Exec:      &sandbox.Runner{Client: sbx, DatasetPath: path},
					Model:     cfg.CodegenModel,
					MaxTokens: cfg.MaxTokens,
				},
				TaskTimeout: time.Duration(cfg.TaskTimeoutSec) * time.Second,
			},
		}
		if !runSkipSynthesis {
			p.Synthesis = &pipeline.SynthesisEngine{
				Gen:       client,
				Model:     cfg.SynthesisModel,
				MaxTokens: cfg.MaxTokens,
			}
		}

		tasks := []agent.Task{
			&agent.StatisticalTask{Attempts: cfg.MaxAttempts},
			&agent.AnomalyTask{Attempts: cfg.MaxAttempts},
			&agent.VisualizationTask{MinCharts: cfg.MinCharts, Attempts: cfg.MaxAttempts},
		}
		color.Cyan("Running %d agents (%s codegen, sandbox %s)...", len(tasks), cfg.CodegenModel, cfg.SandboxBaseURL)
		started := time.Now()
		out := p.Execute(cmd.Context(), d, tasks)

		for _, task := range tasks {
			printAgentStatus(out.Results[task.Kind()])
		}
		if out.Insights == nil && !runSkipSynthesis {
			color.Yellow("⚠ Synthesis unavailable; report will show raw agent findings")
		}

		reportPath, err := report.NewWriter(cfg.OutputDir).Write(out)
		if err != nil {
			return err
		}
		recordRun(out, d, reportPath, started)
		color.Green("✓ Report written to %s", reportPath)
		return nil
	},
}

// recordRun appends the run to the local history. Best-effort: a broken run
// log never fails a completed analysis.
func recordRun(out *pipeline.Output, d *dataset.Descriptor, reportPath string, started time.Time) {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}
	l, err := runlog.Open(filepath.Join(home, ".datascope"))
	if err != nil {
		return
	}
	statuses := make(map[string]string, len(out.Results))
	for kind, res := range out.Results {
		statuses[string(kind)] = string(res.Status)
	}
	if err := l.Append(runlog.Entry{
		ID:          out.RunID,
		Dataset:     d.Name,
		Rows:        d.Rows,
		ReportPath:  reportPath,
		Statuses:    statuses,
		Synthesized: out.Insights != nil,
		StartedAt:   started.UTC(),
		DurationMs:  time.Since(started).Milliseconds(),
	}); err != nil && debug {
		fmt.Fprintf(os.Stderr, "⚠ Warning: failed to record run: %v\n", err)
	}
}

func printAgentStatus(res agent.Result) {
	label := fmt.Sprintf("%s agent: %s (attempts: %d)", res.Kind, res.Status, res.Attempts)
	switch res.Status {
	case agent.StatusParsed:
		color.Green("✓ %s", label)
	case agent.StatusParsedWithFallback:
		color.Yellow("⚠ %s", label)
	default:
		reason, _ := res.Payload[agent.PayloadReason].(string)
		color.Red("✗ %s: %s", label, reason)
	}
}

func applyRunOverrides(cmd *cobra.Command) {
	f := cmd.Flags()
	if f.Changed("output") {
		cfg.OutputDir = runOutputDir
	}
	if f.Changed("model") {
		cfg.CodegenModel = runCodegenModel
	}
	if f.Changed("synthesis-model") {
		cfg.SynthesisModel = runSynthModel
	}
	if f.Changed("max-rows") {
		cfg.MaxRows = runMaxRows
	}
	if f.Changed("sample-rows") {
		cfg.SampleRows = runSampleRows
	}
	if f.Changed("min-charts") {
		cfg.MinCharts = runMinCharts
	}
	if f.Changed("task-timeout") && runTaskTimeout > 0 {
		cfg.TaskTimeoutSec = runTaskTimeout
	}
	if f.Changed("max-attempts") && runMaxAttempts > 0 {
		cfg.MaxAttempts = runMaxAttempts
	}
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runOutputDir, "output", "o", "", "output directory for the report (overrides config)")
	runCmd.Flags().StringVar(&runCodegenModel, "model", "", "model for agent code generation (overrides config)")
	runCmd.Flags().StringVar(&runSynthModel, "synthesis-model", "", "model for report synthesis (overrides config)")
	runCmd.Flags().IntVar(&runMaxRows, "max-rows", 0, "maximum rows to profile (0 = config default)")
	runCmd.Flags().IntVar(&runSampleRows, "sample-rows", 0, "sample rows included in agent prompts")
	runCmd.Flags().IntVar(&runMinCharts, "min-charts", 0, "minimum charts for visualization to count as success")
	runCmd.Flags().IntVar(&runTaskTimeout, "task-timeout", 0, "per-agent timeout in seconds")
	runCmd.Flags().IntVar(&runMaxAttempts, "max-attempts", 0, "generation attempts per sandboxed agent")
	runCmd.Flags().BoolVar(&runSkipSynthesis, "skip-synthesis", false, "skip the synthesis model call")
}
