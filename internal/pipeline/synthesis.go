package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/KilnWorks/datascope-cli/internal/agent"
	"github.com/KilnWorks/datascope-cli/internal/ai"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
	"github.com/KilnWorks/datascope-cli/internal/parser"
	"github.com/KilnWorks/datascope-cli/internal/utils"
)

// TextGenerator produces a plain-text model response.
type TextGenerator interface {
	GenerateText(ctx context.Context, req ai.TextRequest) (string, error)
}

// Insights is the synthesized report, split into titled markdown sections.
type Insights struct {
	Sections []parser.Section `json:"sections"`
}

// SynthesisEngine turns the collected agent results into a readable report
// via one plain-text model call. Synthesis is strictly best-effort: any
// failure yields nil and the caller falls back to raw results.
type SynthesisEngine struct {
	Gen   TextGenerator
	Model string
	// MaxTokens caps the synthesized response.
	MaxTokens int
	// FindingsBudget caps the serialized findings embedded in the prompt,
	// in estimated tokens. Defaults to 6000.
	FindingsBudget int
}

// Synthesize builds the report prompt from every agent result, including the
// failed ones (a failed agent is itself a finding worth reporting), and
// splits the response into sections. Returns nil if the model call fails or
// produces nothing.
func (e *SynthesisEngine) Synthesize(ctx context.Context, d *dataset.Descriptor, results map[agent.Kind]agent.Result) *Insights {
	text, err := e.Gen.GenerateText(ctx, ai.TextRequest{
		Model:     e.Model,
		Prompt:    e.buildPrompt(d, results),
		MaxTokens: e.MaxTokens,
	})
	if err != nil {
		return nil
	}
	sections := parser.Sections(text)
	if len(sections) == 0 {
		return nil
	}
	return &Insights{Sections: sections}
}

func (e *SynthesisEngine) buildPrompt(d *dataset.Descriptor, results map[agent.Kind]agent.Result) string {
	budget := e.FindingsBudget
	if budget <= 0 {
		budget = 6000
	}

	var b strings.Builder
	b.WriteString("You are a senior data analyst. Below are the findings three automated agents produced for a dataset, serialized as JSON. Some agents may have failed or returned raw output; treat that as signal about the analysis itself.\n\n")
	b.WriteString(d.Summary())
	b.WriteString("\n[FINDINGS]\n")
	for _, kind := range []agent.Kind{agent.KindStatistical, agent.KindAnomaly, agent.KindVisualization} {
		res, ok := results[kind]
		if !ok {
			continue
		}
		fmt.Fprintf(&b, "\n### %s agent (status: %s, attempts: %d)\n", kind, res.Status, res.Attempts)
		blob, err := utils.PrettyJSON(res.Payload)
		if err != nil {
			fmt.Fprintf(&b, "(unserializable payload: %v)\n", err)
			continue
		}
		b.WriteString(utils.TruncateToTokenLimit(string(blob), budget/3))
		b.WriteString("\n")
	}
	b.WriteString(`
Write a markdown report with exactly these level-2 sections, in this order:

## Executive Summary
## Key Findings
## Recommendations
## Risk Assessment
## Data Quality Notes

Be concrete: cite the numbers from the findings. If an agent failed, say so in Data Quality Notes and qualify conclusions accordingly. Respond with the markdown only.`)
	return b.String()
}
