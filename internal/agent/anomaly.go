package agent

import (
	"fmt"
	"strings"

	"github.com/KilnWorks/datascope-cli/internal/ai"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

// AnomalyTask asks the model for Python that hunts for outliers and data
// quality problems, emitted as a single JSON object on stdout.
type AnomalyTask struct {
	RemotePath string
	Attempts   int
}

func (t *AnomalyTask) Kind() Kind       { return KindAnomaly }
func (t *AnomalyTask) Mode() Mode       { return ModeSandbox }
func (t *AnomalyTask) MaxAttempts() int { return attemptsOrDefault(t.Attempts) }

func (t *AnomalyTask) Tool() ai.ToolSpec {
	return ai.ToolSpec{
		Name:        "execute_python",
		Description: "Execute Python code in the analysis sandbox. The dataset is already uploaded.",
	}
}

func (t *AnomalyTask) Requirements() []Rule {
	return []Rule{
		{
			ID:          "loads-dataset",
			Description: "load the uploaded CSV with pandas (pd.read_csv)",
			AnyOf:       []string{"read_csv"},
		},
		{
			ID:          "outlier-checks",
			Description: "detect outliers statistically (z-scores, IQR via quantile, or abs deviations)",
			AnyOf:       []string{"zscore", "z_score", "quantile(", "abs("},
		},
		{
			ID:          "quality-checks",
			Description: "check data quality (isnull/isna for gaps, duplicated for repeats)",
			AnyOf:       []string{"isnull", "isna", "duplicated"},
		},
		{
			ID:          "emits-json",
			Description: "print the findings as a single JSON object (json.dumps)",
			AnyOf:       []string{"json.dumps", "to_json"},
		},
	}
}

func (t *AnomalyTask) BuildPrompt(d *dataset.Descriptor) string {
	var b strings.Builder
	fmt.Fprintf(&b, "A CSV dataset has been uploaded to the sandbox at %q.\n\n", remoteOrDefault(t.RemotePath))
	b.WriteString(d.Summary())
	b.WriteString(`
Write Python (pandas and numpy are available) that:
1. Loads the dataset.
2. Flags numeric outliers per column using z-scores (|z| > 3) or the IQR rule, reporting how many rows each column flags.
3. Flags impossible values: negatives in columns that look like counts or amounts, and datetimes in the future.
4. Reports missing-value counts per column and the count of fully duplicated rows.
5. Checks categorical columns for suspiciously rare values (frequency below 1%).
6. Prints exactly one JSON object to stdout with keys "outliers", "impossible_values", "missing", "duplicates", "rare_categories", and "severity" (one of "low", "medium", "high").

Print nothing else to stdout. Call the execute_python tool with the complete program.`)
	return b.String()
}
