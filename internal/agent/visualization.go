package agent

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"github.com/KilnWorks/datascope-cli/internal/ai"
	"github.com/KilnWorks/datascope-cli/internal/dataset"
)

// VisualizationTask renders charts from the dataset in-process. Unlike the
// sandboxed tasks it never calls a model: the chart set is fixed and each
// chart degrades independently when the columns it wants are absent.
type VisualizationTask struct {
	// MinCharts is the smallest artifact count that counts as success.
	MinCharts int
	// MaxPoints caps the rows loaded for plotting. Defaults to 2000.
	MaxPoints int
	Attempts  int
}

func (t *VisualizationTask) Kind() Kind       { return KindVisualization }
func (t *VisualizationTask) Mode() Mode       { return ModeLocal }
func (t *VisualizationTask) MaxAttempts() int { return attemptsOrDefault(t.Attempts) }

// BuildPrompt and Tool exist only to satisfy Task; local mode never uses them.
func (t *VisualizationTask) BuildPrompt(*dataset.Descriptor) string { return "" }
func (t *VisualizationTask) Tool() ai.ToolSpec                      { return ai.ToolSpec{} }

func (t *VisualizationTask) Requirements() []Rule { return nil }

// MinArtifacts is the success threshold applied after rendering.
func (t *VisualizationTask) MinArtifacts() int {
	if t.MinCharts <= 0 {
		return 1
	}
	return t.MinCharts
}

const (
	chartWidth  = 900
	chartHeight = 450
	maxBarLabel = 14
)

// Render produces up to four charts in a fixed order: category totals, trend,
// scatter, and top categories. A chart that cannot be drawn from the available
// columns falls back to a simpler form or is skipped with a note; one bad
// chart never aborts the rest.
func (t *VisualizationTask) Render(d *dataset.Descriptor) *RenderResult {
	res := &RenderResult{}
	frame, err := loadFrame(d, t.maxPoints())
	if err != nil {
		res.Notes = append(res.Notes, fmt.Sprintf("load dataset: %v", err))
		return res
	}

	type chartFn struct {
		name string
		fn   func(*dataset.Descriptor, *frameData) ([]byte, error)
	}
	for i, c := range []chartFn{
		{"category_totals", categoryTotalsChart},
		{"trend", trendChart},
		{"scatter", scatterChart},
		{"top_categories", topCategoriesChart},
	} {
		png, err := c.fn(d, frame)
		if err != nil {
			res.Notes = append(res.Notes, fmt.Sprintf("%s: %v", c.name, err))
			continue
		}
		res.Artifacts = append(res.Artifacts, RenderedArtifact{
			Kind: "png",
			Name: fmt.Sprintf("chart_%d_%s.png", i+1, c.name),
			Data: png,
		})
	}
	return res
}

func (t *VisualizationTask) maxPoints() int {
	if t.MaxPoints <= 0 {
		return 2000
	}
	return t.MaxPoints
}

// frameData holds the plotted slice of the dataset, column-indexed by name.
type frameData struct {
	header []string
	rows   [][]string
}

func (f *frameData) index(name string) int {
	for i, h := range f.header {
		if h == name {
			return i
		}
	}
	return -1
}

func (f *frameData) numeric(name string) []float64 {
	idx := f.index(name)
	if idx < 0 {
		return nil
	}
	out := make([]float64, 0, len(f.rows))
	for _, row := range f.rows {
		if idx >= len(row) {
			continue
		}
		if v, ok := parseFloat(row[idx]); ok {
			out = append(out, v)
		}
	}
	return out
}

func loadFrame(d *dataset.Descriptor, maxRows int) (*frameData, error) {
	f, err := os.Open(d.Path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	if strings.HasSuffix(strings.ToLower(d.Path), ".tsv") {
		r.Comma = '\t'
	}
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}
	fd := &frameData{header: header}
	for len(fd.rows) < maxRows {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, err
		}
		row := make([]string, len(rec))
		for i, v := range rec {
			row[i] = strings.TrimSpace(v)
		}
		fd.rows = append(fd.rows, row)
	}
	if len(fd.rows) == 0 {
		return nil, errors.New("no data rows")
	}
	return fd, nil
}

// categoryTotalsChart sums the first numeric column per value of the first
// categorical column. Without a categorical column it falls back to a
// histogram of the first numeric column.
func categoryTotalsChart(d *dataset.Descriptor, f *frameData) ([]byte, error) {
	nums := d.ColumnsOfKind(dataset.KindNumeric)
	if len(nums) == 0 {
		return nil, errors.New("no numeric column")
	}
	numCol := nums[0].Name

	cats := d.ColumnsOfKind(dataset.KindCategorical)
	if len(cats) == 0 {
		return histogramChart(fmt.Sprintf("Distribution of %s", numCol), f.numeric(numCol))
	}
	catIdx, numIdx := f.index(cats[0].Name), f.index(numCol)
	if catIdx < 0 || numIdx < 0 {
		return nil, errors.New("columns not present in data rows")
	}

	totals := map[string]float64{}
	for _, row := range f.rows {
		if catIdx >= len(row) || numIdx >= len(row) {
			continue
		}
		v, ok := parseFloat(row[numIdx])
		if !ok {
			continue
		}
		totals[row[catIdx]] += v
	}
	bars := rankedBars(totals, 10)
	if len(bars) == 0 {
		return nil, errors.New("no plottable category totals")
	}
	bc := chart.BarChart{
		Title:    fmt.Sprintf("Total %s by %s", numCol, cats[0].Name),
		Width:    chartWidth,
		Height:   chartHeight,
		BarWidth: 50,
		Bars:     bars,
	}
	return renderPNG(bc.Render)
}

// trendChart plots the first numeric column over the first datetime column as
// per-day totals, or over row order when no datetime column exists.
func trendChart(d *dataset.Descriptor, f *frameData) ([]byte, error) {
	nums := d.ColumnsOfKind(dataset.KindNumeric)
	if len(nums) == 0 {
		return nil, errors.New("no numeric column")
	}
	numCol := nums[0].Name

	if dts := d.ColumnsOfKind(dataset.KindDatetime); len(dts) > 0 {
		png, err := dailyTotalsChart(f, dts[0].Name, numCol)
		if err == nil {
			return png, nil
		}
	}
	ys := f.numeric(numCol)
	if len(ys) < 2 {
		return nil, errors.New("not enough numeric points")
	}
	xs := make([]float64, len(ys))
	for i := range xs {
		xs[i] = float64(i)
	}
	c := chart.Chart{
		Title:  fmt.Sprintf("%s over records", numCol),
		Width:  chartWidth,
		Height: chartHeight,
		Series: []chart.Series{chart.ContinuousSeries{Name: numCol, XValues: xs, YValues: ys}},
	}
	return renderPNG(c.Render)
}

func dailyTotalsChart(f *frameData, dtCol, numCol string) ([]byte, error) {
	dtIdx, numIdx := f.index(dtCol), f.index(numCol)
	if dtIdx < 0 || numIdx < 0 {
		return nil, errors.New("columns not present in data rows")
	}
	totals := map[time.Time]float64{}
	for _, row := range f.rows {
		if dtIdx >= len(row) || numIdx >= len(row) {
			continue
		}
		ts, ok := parseDate(row[dtIdx])
		if !ok {
			continue
		}
		v, ok := parseFloat(row[numIdx])
		if !ok {
			continue
		}
		totals[ts.Truncate(24*time.Hour)] += v
	}
	if len(totals) < 2 {
		return nil, errors.New("not enough dated points")
	}
	days := make([]time.Time, 0, len(totals))
	for day := range totals {
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	ys := make([]float64, len(days))
	for i, day := range days {
		ys[i] = totals[day]
	}
	c := chart.Chart{
		Title:  fmt.Sprintf("Daily %s (%s)", numCol, dtCol),
		Width:  chartWidth,
		Height: chartHeight,
		Series: []chart.Series{chart.TimeSeries{Name: numCol, XValues: days, YValues: ys}},
	}
	return renderPNG(c.Render)
}

// scatterChart plots the first two numeric columns against each other.
func scatterChart(d *dataset.Descriptor, f *frameData) ([]byte, error) {
	nums := d.ColumnsOfKind(dataset.KindNumeric)
	if len(nums) < 2 {
		return nil, errors.New("fewer than two numeric columns")
	}
	xIdx, yIdx := f.index(nums[0].Name), f.index(nums[1].Name)
	if xIdx < 0 || yIdx < 0 {
		return nil, errors.New("columns not present in data rows")
	}
	var xs, ys []float64
	for _, row := range f.rows {
		if xIdx >= len(row) || yIdx >= len(row) {
			continue
		}
		x, okX := parseFloat(row[xIdx])
		y, okY := parseFloat(row[yIdx])
		if okX && okY {
			xs = append(xs, x)
			ys = append(ys, y)
		}
	}
	if len(xs) < 2 {
		return nil, errors.New("not enough paired numeric points")
	}
	c := chart.Chart{
		Title:  fmt.Sprintf("%s vs %s", nums[1].Name, nums[0].Name),
		Width:  chartWidth,
		Height: chartHeight,
		Series: []chart.Series{chart.ContinuousSeries{
			Name:    nums[1].Name,
			XValues: xs,
			YValues: ys,
			Style:   chart.Style{StrokeWidth: chart.Disabled, DotWidth: 4},
		}},
	}
	return renderPNG(c.Render)
}

// topCategoriesChart shows occurrence counts of the first categorical column.
// Without one it falls back to quartile buckets of the first numeric column.
func topCategoriesChart(d *dataset.Descriptor, f *frameData) ([]byte, error) {
	if cats := d.ColumnsOfKind(dataset.KindCategorical); len(cats) > 0 {
		counts := map[string]float64{}
		for _, vc := range cats[0].TopValues {
			counts[vc.Value] = float64(vc.Count)
		}
		bars := rankedBars(counts, 10)
		if len(bars) > 0 {
			bc := chart.BarChart{
				Title:    fmt.Sprintf("Most frequent %s values", cats[0].Name),
				Width:    chartWidth,
				Height:   chartHeight,
				BarWidth: 50,
				Bars:     bars,
			}
			return renderPNG(bc.Render)
		}
	}
	nums := d.ColumnsOfKind(dataset.KindNumeric)
	if len(nums) == 0 {
		return nil, errors.New("no categorical or numeric column")
	}
	return histogramChart(fmt.Sprintf("Value buckets of %s", nums[0].Name), f.numeric(nums[0].Name))
}

// histogramChart buckets values into a fixed-width bar chart.
func histogramChart(title string, vals []float64) ([]byte, error) {
	if len(vals) < 2 {
		return nil, errors.New("not enough values to bucket")
	}
	lo, hi := vals[0], vals[0]
	for _, v := range vals {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	const bins = 8
	counts := make([]int, bins)
	width := (hi - lo) / bins
	if width == 0 {
		return nil, errors.New("all values identical")
	}
	for _, v := range vals {
		b := int((v - lo) / width)
		if b >= bins {
			b = bins - 1
		}
		counts[b]++
	}
	bars := make([]chart.Value, bins)
	for i, n := range counts {
		bars[i] = chart.Value{
			Label: fmt.Sprintf("%.3g", lo+width*(float64(i)+0.5)),
			Value: float64(n),
		}
	}
	bc := chart.BarChart{
		Title:    title,
		Width:    chartWidth,
		Height:   chartHeight,
		BarWidth: 50,
		Bars:     bars,
	}
	return renderPNG(bc.Render)
}

func rankedBars(totals map[string]float64, limit int) []chart.Value {
	keys := make([]string, 0, len(totals))
	for k := range totals {
		if k == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if totals[keys[i]] == totals[keys[j]] {
			return keys[i] < keys[j]
		}
		return totals[keys[i]] > totals[keys[j]]
	})
	if len(keys) > limit {
		keys = keys[:limit]
	}
	bars := make([]chart.Value, 0, len(keys))
	for _, k := range keys {
		label := k
		if len(label) > maxBarLabel {
			label = label[:maxBarLabel-1] + "…"
		}
		bars = append(bars, chart.Value{Label: label, Value: totals[k]})
	}
	return bars
}

func renderPNG(render func(chart.RendererProvider, io.Writer) error) ([]byte, error) {
	var buf bytes.Buffer
	if err := render(chart.PNG, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func parseFloat(s string) (float64, bool) {
	s = strings.TrimSpace(strings.TrimSuffix(s, "%"))
	if strings.Count(s, ",") > 0 && strings.Count(s, ".") <= 1 {
		s = strings.ReplaceAll(s, ",", "")
	}
	f, err := strconv.ParseFloat(s, 64)
	return f, err == nil
}

func parseDate(s string) (time.Time, bool) {
	for _, l := range []string{
		time.RFC3339, "2006-01-02", "2006/01/02", "2006-01-02 15:04:05", "2006-01-02 15:04",
	} {
		if ts, err := time.Parse(l, s); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}
