package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/KilnWorks/datascope-cli/internal/ai"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
	"github.com/KilnWorks/datascope-cli/internal/sandbox"
)

const validStatCode = `import json
import pandas as pd
df = pd.read_csv("data.csv")
summary = df.describe().to_dict()
print(json.dumps({"numeric_summary": summary}))
`

type fakeGen struct {
	codes   []string
	err     error
	calls   int
	prompts []string
}

func (g *fakeGen) GenerateCode(_ context.Context, req ai.CodeRequest) (string, error) {
	g.calls++
	g.prompts = append(g.prompts, req.Prompt)
	if g.err != nil {
		return "", g.err
	}
	i := g.calls - 1
	if i >= len(g.codes) {
		i = len(g.codes) - 1
	}
	return g.codes[i], nil
}

type fakeExec struct {
	res   *sandbox.ExecutionResult
	err   error
	calls int
}

func (e *fakeExec) Run(context.Context, string) (*sandbox.ExecutionResult, error) {
	e.calls++
	return e.res, e.err
}

func descriptor() *dataset.Descriptor {
	return &dataset.Descriptor{
		Name: "data.csv",
		Rows: 3,
		Columns: []dataset.Column{
			{Name: "amount", Kind: dataset.KindNumeric},
			{Name: "region", Kind: dataset.KindCategorical},
		},
	}
}

func TestRunParsesStructuredOutput(t *testing.T) {
	gen := &fakeGen{codes: []string{validStatCode}}
	exec := &fakeExec{res: &sandbox.ExecutionResult{
		Stdout: []string{`Analysis complete: {"numeric_summary": {"amount": {"mean": 4.5}}}`},
	}}
	r := &Runner{Gen: gen, Exec: exec, Model: "test-model"}

	res := r.Run(context.Background(), &StatisticalTask{}, descriptor())
	if res.Status != StatusParsed {
		t.Fatalf("status: %s, payload: %v", res.Status, res.Payload)
	}
	if res.Kind != KindStatistical || res.Attempts != 1 {
		t.Fatalf("kind %s attempts %d", res.Kind, res.Attempts)
	}
	if _, ok := res.Payload["numeric_summary"]; !ok {
		t.Fatalf("payload lost structure: %v", res.Payload)
	}
}

func TestRunRetriesValidationWithReinforcedPrompt(t *testing.T) {
	gen := &fakeGen{codes: []string{"print('no analysis here')", validStatCode}}
	exec := &fakeExec{res: &sandbox.ExecutionResult{Stdout: []string{`{"ok": true}`}}}
	r := &Runner{Gen: gen, Exec: exec}

	res := r.Run(context.Background(), &StatisticalTask{Attempts: 2}, descriptor())
	if res.Status != StatusParsed {
		t.Fatalf("status: %s, payload: %v", res.Status, res.Payload)
	}
	if gen.calls != 2 {
		t.Fatalf("generator calls: %d", gen.calls)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts: %d", res.Attempts)
	}
	second := gen.prompts[1]
	if !strings.Contains(second, "did not satisfy") {
		t.Fatalf("second prompt not reinforced: %q", second)
	}
	if !strings.Contains(second, "pd.read_csv") {
		t.Fatalf("reinforcement should restate the unmet requirement: %q", second)
	}
}

func TestRunValidationExhaustionFails(t *testing.T) {
	gen := &fakeGen{codes: []string{"print('still nothing')"}}
	exec := &fakeExec{}
	r := &Runner{Gen: gen, Exec: exec}

	res := r.Run(context.Background(), &AnomalyTask{Attempts: 3}, descriptor())
	if res.Status != StatusFailed {
		t.Fatalf("status: %s", res.Status)
	}
	if gen.calls != 3 || res.Attempts != 3 {
		t.Fatalf("calls %d attempts %d", gen.calls, res.Attempts)
	}
	if exec.calls != 0 {
		t.Fatalf("invalid code must never execute, exec calls: %d", exec.calls)
	}
	missing, ok := res.Payload[PayloadMissing].([]string)
	if !ok || len(missing) == 0 {
		t.Fatalf("missing requirement IDs absent: %v", res.Payload)
	}
}

func TestRunGenerationErrorFailsWithoutRetry(t *testing.T) {
	gen := &fakeGen{err: &ai.NoToolCallError{Model: "test-model"}}
	r := &Runner{Gen: gen, Exec: &fakeExec{}}

	res := r.Run(context.Background(), &StatisticalTask{Attempts: 3}, descriptor())
	if res.Status != StatusFailed {
		t.Fatalf("status: %s", res.Status)
	}
	if gen.calls != 1 {
		t.Fatalf("generation errors must not retry, calls: %d", gen.calls)
	}
	reason, _ := res.Payload[PayloadReason].(string)
	if !strings.Contains(reason, "code generation") {
		t.Fatalf("reason: %q", reason)
	}
}

func TestRunTransportErrorFails(t *testing.T) {
	exec := &fakeExec{err: &sandbox.TransportError{Op: "create", Err: errors.New("connection refused")}}
	r := &Runner{Gen: &fakeGen{codes: []string{validStatCode}}, Exec: exec}

	res := r.Run(context.Background(), &StatisticalTask{}, descriptor())
	if res.Status != StatusFailed {
		t.Fatalf("status: %s", res.Status)
	}
	reason, _ := res.Payload[PayloadReason].(string)
	if !strings.Contains(reason, "sandbox") {
		t.Fatalf("reason: %q", reason)
	}
}

func TestRunRuntimeErrorFallsBack(t *testing.T) {
	exec := &fakeExec{res: &sandbox.ExecutionResult{
		Stdout: []string{"partial output"},
		Err:    &sandbox.RunError{Name: "KeyError", Message: "'region'", Traceback: "Traceback..."},
	}}
	r := &Runner{Gen: &fakeGen{codes: []string{validStatCode}}, Exec: exec}

	res := r.Run(context.Background(), &StatisticalTask{}, descriptor())
	if res.Status != StatusParsedWithFallback {
		t.Fatalf("status: %s", res.Status)
	}
	if res.Payload[PayloadRawOutput] != "partial output" {
		t.Fatalf("raw output lost: %v", res.Payload)
	}
	errText, _ := res.Payload[PayloadError].(string)
	if !strings.Contains(errText, "KeyError") {
		t.Fatalf("error detail lost: %v", res.Payload)
	}
}

func TestRunUnparsableOutputFallsBack(t *testing.T) {
	exec := &fakeExec{res: &sandbox.ExecutionResult{Stdout: []string{"no structured data here"}}}
	r := &Runner{Gen: &fakeGen{codes: []string{validStatCode}}, Exec: exec}

	res := r.Run(context.Background(), &StatisticalTask{}, descriptor())
	if res.Status != StatusParsedWithFallback {
		t.Fatalf("status: %s", res.Status)
	}
	if res.Payload[PayloadRawOutput] != "no structured data here" {
		t.Fatalf("raw output lost: %v", res.Payload)
	}
	if _, ok := res.Payload[PayloadParsingError]; !ok {
		t.Fatalf("parsing error absent: %v", res.Payload)
	}
}

func TestRunExpiredContextFailsAsTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), -1)
	defer cancel()

	gen := &fakeGen{codes: []string{validStatCode}}
	r := &Runner{Gen: gen, Exec: &fakeExec{}}
	res := r.Run(ctx, &StatisticalTask{}, descriptor())
	if res.Status != StatusFailed {
		t.Fatalf("status: %s", res.Status)
	}
	reason, _ := res.Payload[PayloadReason].(string)
	if !strings.Contains(reason, "timed out") {
		t.Fatalf("reason: %q", reason)
	}
	if gen.calls != 0 {
		t.Fatalf("no generation should happen after expiry, calls: %d", gen.calls)
	}
}
