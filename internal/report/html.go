package report

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/yuin/goldmark"

	"github.com/KilnWorks/datascope-cli/internal/agent"
	"github.com/KilnWorks/datascope-cli/internal/pipeline"
	"github.com/KilnWorks/datascope-cli/internal/utils"
)

// Writer renders a pipeline run into an output directory: the HTML report,
// the chart PNGs, and the raw results JSON for anyone who wants the
// unsynthesized data.
type Writer struct {
	OutDir   string
	markdown goldmark.Markdown
}

func NewWriter(outDir string) *Writer {
	return &Writer{OutDir: outDir, markdown: goldmark.New()}
}

type chartRef struct {
	Name string
	Src  string
}

type agentRow struct {
	Kind     agent.Kind
	Status   agent.Status
	Attempts int
	Payload  string
}

type sectionView struct {
	Title string
	Body  template.HTML
}

type reportView struct {
	Dataset     string
	Rows        int
	ColumnCount int
	RunID       string
	Generated   string
	Degraded    bool
	Sections    []sectionView
	Charts      []chartRef
	Agents      []agentRow
}

// Write persists the full run. It returns the path of the HTML report. The
// report degrades rather than fails: missing insights or failed agents still
// produce a page around whatever data exists.
func (w *Writer) Write(out *pipeline.Output) (string, error) {
	if err := utils.EnsureDir(w.OutDir); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	chartDir := filepath.Join(w.OutDir, "charts")
	if err := utils.EnsureDir(chartDir); err != nil {
		return "", fmt.Errorf("create charts dir: %w", err)
	}

	view := reportView{
		RunID:     out.RunID,
		Generated: time.Now().Format(time.RFC1123),
		Degraded:  out.Insights == nil,
	}
	if out.Dataset != nil {
		view.Dataset = out.Dataset.Name
		view.Rows = out.Dataset.Rows
		view.ColumnCount = len(out.Dataset.Columns)
	}

	for _, kind := range []agent.Kind{agent.KindStatistical, agent.KindAnomaly, agent.KindVisualization} {
		res, ok := out.Results[kind]
		if !ok {
			continue
		}
		blob, err := utils.PrettyJSON(res.Payload)
		if err != nil {
			blob = []byte(fmt.Sprintf("unserializable: %v", err))
		}
		view.Agents = append(view.Agents, agentRow{
			Kind:     kind,
			Status:   res.Status,
			Attempts: res.Attempts,
			Payload:  string(blob),
		})
		for _, a := range res.Artifacts {
			if a.Kind != "png" {
				continue
			}
			p := filepath.Join(chartDir, filepath.Base(a.Name))
			if err := utils.SafeWriteFile(p, a.Data); err != nil {
				return "", fmt.Errorf("write chart %s: %w", a.Name, err)
			}
			view.Charts = append(view.Charts, chartRef{
				Name: a.Name,
				Src:  filepath.Join("charts", filepath.Base(a.Name)),
			})
		}
	}

	if out.Insights != nil {
		for _, s := range out.Insights.Sections {
			body, err := w.renderMarkdown(strings.Join(s.Lines, "\n\n"))
			if err != nil {
				return "", fmt.Errorf("render section %q: %w", s.Title, err)
			}
			view.Sections = append(view.Sections, sectionView{Title: s.Title, Body: body})
		}
	}

	raw, err := utils.PrettyJSON(out)
	if err != nil {
		return "", fmt.Errorf("serialize results: %w", err)
	}
	if err := utils.SafeWriteFile(filepath.Join(w.OutDir, "raw_results.json"), raw); err != nil {
		return "", fmt.Errorf("write raw results: %w", err)
	}

	var buf bytes.Buffer
	if err := reportTmpl.Execute(&buf, view); err != nil {
		return "", fmt.Errorf("render report: %w", err)
	}
	path := filepath.Join(w.OutDir, "report.html")
	if err := utils.SafeWriteFile(path, buf.Bytes()); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}

func (w *Writer) renderMarkdown(src string) (template.HTML, error) {
	var buf bytes.Buffer
	if err := w.markdown.Convert([]byte(src), &buf); err != nil {
		return "", err
	}
	// goldmark output is trusted here: it renders our own synthesized text
	// for a local, file-scheme report.
	return template.HTML(buf.String()), nil
}

var reportTmpl = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Analysis Report — {{.Dataset}}</title>
<style>
  body { font-family: Georgia, serif; max-width: 920px; margin: 2rem auto; padding: 0 1rem; color: #222; }
  header { border-bottom: 2px solid #444; margin-bottom: 1.5rem; }
  h1 { margin-bottom: 0.2rem; }
  .meta { color: #666; font-size: 0.9rem; }
  .notice { background: #fff3cd; border: 1px solid #ccaa44; padding: 0.8rem; margin: 1rem 0; }
  section { margin-bottom: 1.8rem; }
  h2 { border-bottom: 1px solid #ccc; padding-bottom: 0.2rem; }
  figure { margin: 1rem 0; text-align: center; }
  figure img { max-width: 100%; border: 1px solid #ddd; }
  figcaption { color: #666; font-size: 0.85rem; }
  table.agents { border-collapse: collapse; width: 100%; }
  table.agents th, table.agents td { border: 1px solid #ccc; padding: 0.4rem 0.6rem; text-align: left; }
  details pre { background: #f6f6f6; padding: 0.8rem; overflow-x: auto; font-size: 0.8rem; }
</style>
</head>
<body>
<header>
  <h1>Analysis Report</h1>
  <p class="meta">{{.Dataset}} &middot; {{.Rows}} rows &middot; {{.ColumnCount}} columns &middot; run {{.RunID}} &middot; {{.Generated}}</p>
</header>

{{if .Degraded}}
<div class="notice">Synthesis was unavailable for this run. The sections below show each agent's raw findings instead.</div>
{{end}}

{{range .Sections}}
<section>
  <h2>{{.Title}}</h2>
  {{.Body}}
</section>
{{end}}

{{if .Charts}}
<section>
  <h2>Charts</h2>
  {{range .Charts}}
  <figure>
    <img src="{{.Src}}" alt="{{.Name}}">
    <figcaption>{{.Name}}</figcaption>
  </figure>
  {{end}}
</section>
{{end}}

<section>
  <h2>Agent Results</h2>
  <table class="agents">
    <tr><th>Agent</th><th>Status</th><th>Attempts</th></tr>
    {{range .Agents}}
    <tr><td>{{.Kind}}</td><td>{{.Status}}</td><td>{{.Attempts}}</td></tr>
    {{end}}
  </table>
  {{range .Agents}}
  <details>
    <summary>{{.Kind}} payload</summary>
    <pre>{{.Payload}}</pre>
  </details>
  {{end}}
</section>
</body>
</html>
`))
