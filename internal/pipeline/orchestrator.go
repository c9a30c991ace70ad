package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/KilnWorks/datascope-cli/internal/agent"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

const defaultTaskTimeout = 2 * time.Minute

// TaskRunner runs one task to a terminal result.
type TaskRunner interface {
	Run(ctx context.Context, task agent.Task, d *dataset.Descriptor) agent.Result
}

// Orchestrator fans the sandboxed tasks out concurrently, then runs local
// tasks in-process. Each task gets its own timeout; one slow or failing task
// never blocks or poisons the others.
type Orchestrator struct {
	Runner TaskRunner
	// TaskTimeout bounds each individual task. Defaults to two minutes.
	TaskTimeout time.Duration
}

// Run executes every task and returns exactly one result per task kind.
// Failures arrive as failed results, never as an error or a missing entry.
func (o *Orchestrator) Run(ctx context.Context, d *dataset.Descriptor, tasks []agent.Task) map[agent.Kind]agent.Result {
	results := make(map[agent.Kind]agent.Result, len(tasks))
	var mu sync.Mutex
	var wg sync.WaitGroup

	for _, task := range tasks {
		if task.Mode() != agent.ModeSandbox {
			continue
		}
		wg.Add(1)
		go func(task agent.Task) {
			defer wg.Done()
			res := o.runOne(ctx, task, d)
			mu.Lock()
			results[task.Kind()] = res
			mu.Unlock()
		}(task)
	}
	wg.Wait()

	// Local tasks run after the sandboxed pair so chart rendering never
	// competes with network-bound work for the deadline.
	for _, task := range tasks {
		if task.Mode() == agent.ModeSandbox {
			continue
		}
		results[task.Kind()] = o.runOne(ctx, task, d)
	}
	return results
}

func (o *Orchestrator) runOne(ctx context.Context, task agent.Task, d *dataset.Descriptor) agent.Result {
	timeout := o.TaskTimeout
	if timeout <= 0 {
		timeout = defaultTaskTimeout
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return o.Runner.Run(tctx, task, d)
}

// Output bundles everything one pipeline run produced.
type Output struct {
	RunID    string                      `json:"run_id"`
	Dataset  *dataset.Descriptor         `json:"dataset"`
	Results  map[agent.Kind]agent.Result `json:"results"`
	Insights *Insights                   `json:"insights,omitempty"`
}

// Pipeline is the full dataset-to-report flow: orchestrated agents followed
// by synthesis. Synthesis failure leaves Insights nil; the run still returns
// its agent results.
type Pipeline struct {
	Orchestrator *Orchestrator
	Synthesis    *SynthesisEngine
}

// Execute runs all tasks and synthesizes their findings.
func (p *Pipeline) Execute(ctx context.Context, d *dataset.Descriptor, tasks []agent.Task) *Output {
	out := &Output{
		RunID:   uuid.NewString(),
		Dataset: d,
		Results: p.Orchestrator.Run(ctx, d, tasks),
	}
	if p.Synthesis != nil {
		out.Insights = p.Synthesis.Synthesize(ctx, d, out.Results)
	}
	return out
}
