package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/KilnWorks/datascope-cli/internal/ai"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
	"github.com/KilnWorks/datascope-cli/internal/parser"
	"github.com/KilnWorks/datascope-cli/internal/sandbox"
)

// CodeGenerator produces source code for a prompt and tool spec.
type CodeGenerator interface {
	GenerateCode(ctx context.Context, req ai.CodeRequest) (string, error)
}

// Executor runs source against the dataset and returns its outputs.
type Executor interface {
	Run(ctx context.Context, source string) (*sandbox.ExecutionResult, error)
}

// Runner drives one task through its generate, validate, execute, parse
// cycle. Every call to Run returns exactly one Result; no failure mode
// escapes as a Go error.
type Runner struct {
	Gen       CodeGenerator
	Exec      Executor
	Model     string
	MaxTokens int
}

// Run executes the task to completion. Sandboxed tasks loop over a bounded
// number of attempts: a validation failure consumes an attempt and retries
// with a reinforced prompt, while generation and transport failures end the
// run immediately. Local tasks render in-process with the same attempt bound.
func (r *Runner) Run(ctx context.Context, task Task, d *dataset.Descriptor) Result {
	if task.Mode() == ModeLocal {
		return r.runLocal(task, d)
	}

	max := task.MaxAttempts()
	rules := task.Requirements()
	var lastMissing []string
	for attempt := 1; attempt <= max; attempt++ {
		if err := ctx.Err(); err != nil {
			return Failed(task.Kind(), attempt, timeoutReason(err))
		}

		prompt := task.BuildPrompt(d)
		if attempt > 1 {
			prompt += reinforcement(rules, lastMissing)
		}
		code, err := r.Gen.GenerateCode(ctx, ai.CodeRequest{
			Model:     r.Model,
			Prompt:    prompt,
			Tool:      task.Tool(),
			MaxTokens: r.MaxTokens,
		})
		if err != nil {
			if isCtxErr(err) {
				return Failed(task.Kind(), attempt, timeoutReason(err))
			}
			return Failed(task.Kind(), attempt, fmt.Sprintf("code generation: %v", err))
		}

		v := Validate(code, rules)
		if !v.OK {
			lastMissing = v.Missing
			if attempt < max {
				continue
			}
			res := Failed(task.Kind(), attempt, "generated code failed validation")
			res.Payload[PayloadMissing] = v.Missing
			return res
		}

		exec, err := r.Exec.Run(ctx, code)
		if err != nil {
			if isCtxErr(err) {
				return Failed(task.Kind(), attempt, timeoutReason(err))
			}
			return Failed(task.Kind(), attempt, fmt.Sprintf("sandbox: %v", err))
		}
		return interpret(task.Kind(), attempt, exec)
	}
	// Unreachable: the loop always returns by the final attempt.
	return Failed(task.Kind(), max, "no attempts executed")
}

// interpret folds a completed execution into a Result. Runtime errors and
// unparsable output both keep what the run produced; neither counts as a
// hard failure.
func interpret(kind Kind, attempt int, exec *sandbox.ExecutionResult) Result {
	stdout := strings.Join(exec.Stdout, "\n")
	if exec.Err != nil {
		return Result{
			Kind:   kind,
			Status: StatusParsedWithFallback,
			Payload: map[string]any{
				PayloadError:     exec.Err.String(),
				PayloadTraceback: exec.Err.Traceback,
				PayloadRawOutput: stdout,
			},
			Raw:       stdout,
			Artifacts: exec.Artifacts,
			Attempts:  attempt,
		}
	}
	payload, err := parser.ExtractJSON(stdout)
	if err != nil {
		return Result{
			Kind:   kind,
			Status: StatusParsedWithFallback,
			Payload: map[string]any{
				PayloadRawOutput:    stdout,
				PayloadParsingError: err.Error(),
			},
			Raw:       stdout,
			Artifacts: exec.Artifacts,
			Attempts:  attempt,
		}
	}
	return Result{
		Kind:      kind,
		Status:    StatusParsed,
		Payload:   payload,
		Raw:       stdout,
		Artifacts: exec.Artifacts,
		Attempts:  attempt,
	}
}

func (r *Runner) runLocal(task Task, d *dataset.Descriptor) Result {
	lr, ok := task.(LocalRenderer)
	if !ok {
		return Failed(task.Kind(), 1, "local task does not implement rendering")
	}
	min := 1
	if mt, ok := task.(interface{ MinArtifacts() int }); ok {
		min = mt.MinArtifacts()
	}

	max := task.MaxAttempts()
	if max < 1 {
		max = 1
	}
	var last *RenderResult
	for attempt := 1; attempt <= max; attempt++ {
		last = lr.Render(d)
		if len(last.Artifacts) < min {
			continue
		}
		return renderedResult(task.Kind(), attempt, last)
	}
	res := Failed(task.Kind(), max, fmt.Sprintf("rendered %d charts, need at least %d", len(last.Artifacts), min))
	if len(last.Notes) > 0 {
		res.Payload[PayloadError] = strings.Join(last.Notes, "; ")
	}
	res.Artifacts = localArtifacts(last)
	return res
}

func renderedResult(kind Kind, attempt int, rr *RenderResult) Result {
	names := make([]string, len(rr.Artifacts))
	for i, a := range rr.Artifacts {
		names[i] = a.Name
	}
	payload := map[string]any{
		PayloadChartCount: len(rr.Artifacts),
		PayloadCharts:     names,
	}
	if len(rr.Notes) > 0 {
		payload["skipped"] = rr.Notes
	}
	return Result{
		Kind:      kind,
		Status:    StatusParsed,
		Payload:   payload,
		Artifacts: localArtifacts(rr),
		Attempts:  attempt,
	}
}

func localArtifacts(rr *RenderResult) []sandbox.Artifact {
	out := make([]sandbox.Artifact, len(rr.Artifacts))
	for i, a := range rr.Artifacts {
		out[i] = sandbox.Artifact{Kind: a.Kind, Name: a.Name, Data: a.Data}
	}
	return out
}

func reinforcement(rules []Rule, missing []string) string {
	var b strings.Builder
	b.WriteString("\n\nYour previous attempt did not satisfy these requirements:\n")
	for _, r := range describeRules(rules, missing) {
		fmt.Fprintf(&b, "- %s\n", r.Description)
	}
	b.WriteString(`Regenerate the complete program and make sure every requirement above is met. A working skeleton:

    import json
    import pandas as pd
    df = pd.read_csv("data.csv")
    results = {}
    # ... analysis that fills results ...
    print(json.dumps(results, default=str))
`)
	return b.String()
}

func isCtxErr(err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

func timeoutReason(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "timed out"
	}
	return fmt.Sprintf("cancelled: %v", err)
}
