package pipeline

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/KilnWorks/datascope-cli/internal/agent"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

// fakeRunner returns canned results after a per-kind delay, honoring context
// cancellation the way the real runner does.
type fakeRunner struct {
	delays   map[agent.Kind]time.Duration
	inFlight int32
	peak     int32
}

func (f *fakeRunner) Run(ctx context.Context, task agent.Task, _ *dataset.Descriptor) agent.Result {
	cur := atomic.AddInt32(&f.inFlight, 1)
	for {
		p := atomic.LoadInt32(&f.peak)
		if cur <= p || atomic.CompareAndSwapInt32(&f.peak, p, cur) {
			break
		}
	}
	defer atomic.AddInt32(&f.inFlight, -1)

	select {
	case <-time.After(f.delays[task.Kind()]):
		return agent.Result{Kind: task.Kind(), Status: agent.StatusParsed, Attempts: 1}
	case <-ctx.Done():
		return agent.Failed(task.Kind(), 1, "timed out")
	}
}

func allTasks() []agent.Task {
	return []agent.Task{
		&agent.StatisticalTask{},
		&agent.AnomalyTask{},
		&agent.VisualizationTask{},
	}
}

func TestOrchestratorRunsSandboxedTasksConcurrently(t *testing.T) {
	runner := &fakeRunner{delays: map[agent.Kind]time.Duration{
		agent.KindStatistical: 150 * time.Millisecond,
		agent.KindAnomaly:     150 * time.Millisecond,
	}}
	o := &Orchestrator{Runner: runner, TaskTimeout: time.Second}

	start := time.Now()
	results := o.Run(context.Background(), &dataset.Descriptor{}, allTasks())
	elapsed := time.Since(start)

	if len(results) != 3 {
		t.Fatalf("results: %d", len(results))
	}
	// Serial execution of the sandboxed pair would take at least 300ms.
	if elapsed >= 280*time.Millisecond {
		t.Fatalf("sandboxed tasks did not overlap: %v", elapsed)
	}
	if runner.peak < 2 {
		t.Fatalf("peak concurrency: %d", runner.peak)
	}
}

func TestOrchestratorOneResultPerKind(t *testing.T) {
	runner := &fakeRunner{delays: map[agent.Kind]time.Duration{}}
	o := &Orchestrator{Runner: runner, TaskTimeout: time.Second}

	results := o.Run(context.Background(), &dataset.Descriptor{}, allTasks())
	for _, kind := range []agent.Kind{agent.KindStatistical, agent.KindAnomaly, agent.KindVisualization} {
		res, ok := results[kind]
		if !ok {
			t.Fatalf("no result for %s", kind)
		}
		if res.Kind != kind {
			t.Fatalf("result kind mismatch: %s vs %s", res.Kind, kind)
		}
	}
}

func TestOrchestratorTimeoutIsIsolated(t *testing.T) {
	runner := &fakeRunner{delays: map[agent.Kind]time.Duration{
		agent.KindStatistical: time.Second, // exceeds the task timeout
		agent.KindAnomaly:     time.Millisecond,
	}}
	o := &Orchestrator{Runner: runner, TaskTimeout: 50 * time.Millisecond}

	results := o.Run(context.Background(), &dataset.Descriptor{}, []agent.Task{
		&agent.StatisticalTask{}, &agent.AnomalyTask{},
	})
	if results[agent.KindStatistical].Status != agent.StatusFailed {
		t.Fatalf("slow task should time out: %+v", results[agent.KindStatistical])
	}
	if results[agent.KindAnomaly].Status != agent.StatusParsed {
		t.Fatalf("fast task must be unaffected: %+v", results[agent.KindAnomaly])
	}
}

func TestPipelineExecuteAssignsRunID(t *testing.T) {
	p := &Pipeline{Orchestrator: &Orchestrator{
		Runner:      &fakeRunner{delays: map[agent.Kind]time.Duration{}},
		TaskTimeout: time.Second,
	}}
	out := p.Execute(context.Background(), &dataset.Descriptor{}, allTasks())
	if out.RunID == "" {
		t.Fatal("run ID missing")
	}
	if out.Insights != nil {
		t.Fatal("no synthesis engine configured, insights should be nil")
	}
	if len(out.Results) != 3 {
		t.Fatalf("results: %d", len(out.Results))
	}
}
