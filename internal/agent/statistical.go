package agent

import (
	"fmt"
	"strings"

	"github.com/KilnWorks/datascope-cli/internal/ai"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

// StatisticalTask asks the model for Python that profiles the dataset:
// distributions, aggregates, and correlations, emitted as a single JSON
// object on stdout.
type StatisticalTask struct {
	// RemotePath is where the sandbox runner uploads the dataset.
	RemotePath string
	Attempts   int
}

func (t *StatisticalTask) Kind() Kind       { return KindStatistical }
func (t *StatisticalTask) Mode() Mode       { return ModeSandbox }
func (t *StatisticalTask) MaxAttempts() int { return attemptsOrDefault(t.Attempts) }

func (t *StatisticalTask) Tool() ai.ToolSpec {
	return ai.ToolSpec{
		Name:        "execute_python",
		Description: "Execute Python code in the analysis sandbox. The dataset is already uploaded.",
	}
}

func (t *StatisticalTask) Requirements() []Rule {
	return []Rule{
		{
			ID:          "loads-dataset",
			Description: "load the uploaded CSV with pandas (pd.read_csv)",
			AnyOf:       []string{"read_csv"},
		},
		{
			ID:          "aggregates",
			Description: "compute summary statistics (describe, mean, std, or corr)",
			AnyOf:       []string{".describe(", ".mean(", ".std(", ".corr(", ".median("},
		},
		{
			ID:          "emits-json",
			Description: "print the findings as a single JSON object (json.dumps)",
			AnyOf:       []string{"json.dumps", "to_json"},
		},
	}
}

func (t *StatisticalTask) BuildPrompt(d *dataset.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A CSV dataset has been uploaded to the sandbox at %q.\n\n", remoteOrDefault(t.RemotePath))
	b.WriteString(d.Summary())
	b.WriteString(`
Write Python (pandas is available) that:
1. Loads the dataset.
2. Computes descriptive statistics for every numeric column (count, mean, std, min, max, quartiles).
3. Computes pairwise correlations between numeric columns, reporting every pair with |r| > 0.3 and naming the strongest.
4. Checks each numeric column for approximate normality (skewness and kurtosis are enough).
5. Summarizes categorical columns: distinct counts and the dominant value of each.
6. Prints exactly one JSON object to stdout with keys "numeric_summary", "correlations", "distribution_shape", "categorical_summary", and "notable" (a list of short plain-English observations).

Print nothing else to stdout. Call the execute_python tool with the complete program.`)
	return b.String()
}

func attemptsOrDefault(n int) int {
	if n <= 0 {
		return 2
	}
	return n
}

func remoteOrDefault(p string) string {
	if p == "" {
		return "data.csv"
	}
	return p
}
