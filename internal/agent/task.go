package agent

import (
	"github.com/KilnWorks/datascope-cli/internal/ai"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

// Mode selects where a task's analysis happens.
type Mode int

const (
	// ModeSandbox: model-generated code executed in an isolated environment.
	ModeSandbox Mode = iota
	// ModeLocal: analysis runs in this process; no model call, no sandbox.
	ModeLocal
)

// Task is one self-contained analysis concern. The set of implementations is
// closed: Statistical, Anomaly, Visualization. Local tasks never use their
// prompt or tool spec.
type Task interface {
	Kind() Kind
	BuildPrompt(d *dataset.Descriptor) string
	Tool() ai.ToolSpec
	Requirements() []Rule
	Mode() Mode
	MaxAttempts() int
}

// LocalRenderer is implemented by ModeLocal tasks; Render performs the
// analysis in-process and reports its outputs in the same shape sandboxed
// execution does.
type LocalRenderer interface {
	Render(d *dataset.Descriptor) *RenderResult
}

// RenderResult mirrors a sandbox execution for local tasks.
type RenderResult struct {
	Notes     []string // diagnostic lines, stderr-equivalent
	Artifacts []RenderedArtifact
}

// RenderedArtifact is one locally produced binary output, in emission order.
type RenderedArtifact struct {
	Kind string
	Name string
	Data []byte
}
