package agent

import (
	"github.com/KilnWorks/datascope-cli/internal/sandbox"
)

// Kind identifies one of the closed set of analysis agents.
type Kind string

const (
	KindStatistical   Kind = "statistical"
	KindAnomaly       Kind = "anomaly"
	KindVisualization Kind = "visualization"
)

// Status is the terminal outcome of one agent run.
type Status string

const (
	// StatusParsed: code ran and its output parsed into a structured payload.
	StatusParsed Status = "parsed"
	// StatusParsedWithFallback: code ran but its output could not be parsed
	// (or it failed at runtime); the payload carries the raw output and the
	// reason. Execution failures never escalate past this status once code
	// passed validation and ran.
	StatusParsedWithFallback Status = "parsed_with_fallback"
	// StatusFailed: no usable execution happened: generation failed,
	// validation was exhausted, the sandbox transport failed, or the task
	// timed out. The payload carries the reason.
	StatusFailed Status = "failed"
)

// Payload keys shared across agents.
const (
	PayloadReason       = "reason"
	PayloadMissing      = "missing_requirements"
	PayloadRawOutput    = "raw_output"
	PayloadParsingError = "parsing_error"
	PayloadError        = "error"
	PayloadTraceback    = "traceback"
	PayloadChartCount   = "chart_count"
	PayloadCharts       = "charts"
)

// Result is the one value every agent run produces, whatever happened.
// Failure is represented here as data; nothing escalates past the task
// boundary as a Go error.
type Result struct {
	Kind      Kind               `json:"kind"`
	Status    Status             `json:"status"`
	Payload   map[string]any     `json:"payload"`
	Raw       string             `json:"raw,omitempty"`
	Artifacts []sandbox.Artifact `json:"-"`
	Attempts  int                `json:"attempts"`
}

// Failed builds a terminal failure result with a reason.
func Failed(kind Kind, attempts int, reason string) Result {
	return Result{
		Kind:     kind,
		Status:   StatusFailed,
		Payload:  map[string]any{PayloadReason: reason},
		Attempts: attempts,
	}
}
