package agent

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

var pngMagic = []byte{0x89, 'P', 'N', 'G'}

func describeCSV(t *testing.T, content string) *dataset.Descriptor {
	t.Helper()
	p := filepath.Join(t.TempDir(), "data.csv")
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	d, err := dataset.Describe(p, dataset.DefaultOptions())
	if err != nil {
		t.Fatalf("Describe: %v", err)
	}
	return d
}

const richCSV = `date,region,amount,quantity
2024-01-01,north,100.5,3
2024-01-01,south,50.0,1
2024-01-02,north,75.25,2
2024-01-02,east,20.0,5
2024-01-03,south,130.0,4
2024-01-03,north,60.0,2
`

func TestRenderProducesOrderedCharts(t *testing.T) {
	d := describeCSV(t, richCSV)
	task := &VisualizationTask{}

	rr := task.Render(d)
	if len(rr.Artifacts) != 4 {
		t.Fatalf("artifacts: %d, notes: %v", len(rr.Artifacts), rr.Notes)
	}
	wantOrder := []string{"category_totals", "trend", "scatter", "top_categories"}
	for i, a := range rr.Artifacts {
		if !strings.Contains(a.Name, wantOrder[i]) {
			t.Fatalf("artifact %d = %s, want %s", i, a.Name, wantOrder[i])
		}
		if !bytes.HasPrefix(a.Data, pngMagic) {
			t.Fatalf("artifact %s is not a PNG", a.Name)
		}
	}
}

func TestRenderFallsBackWithoutCategoricalColumns(t *testing.T) {
	d := describeCSV(t, "x,y\n1,10\n2,20\n3,15\n4,40\n5,25\n")
	task := &VisualizationTask{}

	rr := task.Render(d)
	if len(rr.Artifacts) < 1 {
		t.Fatalf("fallback must still yield charts, notes: %v", rr.Notes)
	}
	for _, a := range rr.Artifacts {
		if !bytes.HasPrefix(a.Data, pngMagic) {
			t.Fatalf("artifact %s is not a PNG", a.Name)
		}
	}
}

func TestRunnerLocalModeSkipsModelAndSandbox(t *testing.T) {
	d := describeCSV(t, richCSV)
	gen := &fakeGen{codes: []string{"unused"}}
	exec := &fakeExec{}
	r := &Runner{Gen: gen, Exec: exec}

	res := r.Run(context.Background(), &VisualizationTask{MinCharts: 4}, d)
	if res.Status != StatusParsed {
		t.Fatalf("status: %s, payload: %v", res.Status, res.Payload)
	}
	if gen.calls != 0 || exec.calls != 0 {
		t.Fatalf("local task touched model or sandbox: gen=%d exec=%d", gen.calls, exec.calls)
	}
	if res.Payload[PayloadChartCount] != 4 {
		t.Fatalf("chart count: %v", res.Payload[PayloadChartCount])
	}
	if len(res.Artifacts) != 4 {
		t.Fatalf("artifacts: %d", len(res.Artifacts))
	}
}

func TestRunnerLocalModeFailsBelowMinimum(t *testing.T) {
	// Free-text dataset: no chart can be drawn from it.
	long := strings.Repeat("lorem ipsum ", 8)
	d := describeCSV(t, "note,body\n"+long+"A,"+long+"B\n"+long+"C,"+long+"D\n")
	r := &Runner{}

	res := r.Run(context.Background(), &VisualizationTask{MinCharts: 1, Attempts: 2}, d)
	if res.Status != StatusFailed {
		t.Fatalf("status: %s, payload: %v", res.Status, res.Payload)
	}
	if res.Attempts != 2 {
		t.Fatalf("attempts: %d", res.Attempts)
	}
	reason, _ := res.Payload[PayloadReason].(string)
	if !strings.Contains(reason, "need at least 1") {
		t.Fatalf("reason: %q", reason)
	}
}
