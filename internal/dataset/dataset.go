package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Options controls descriptor construction.
type Options struct {
	// MaxRows limits rows processed; 0 means unlimited.
	MaxRows int
	// SampleRows determines how many example rows the descriptor keeps.
	SampleRows int
	// Delimiter for CSV. If 0, inferred from the file extension.
	Delimiter rune
}

// DefaultOptions returns reasonable defaults for dataset description.
func DefaultOptions() Options {
	return Options{MaxRows: 100000, SampleRows: 5}
}

// Column kinds inferred from cell values.
const (
	KindNumeric     = "numeric"
	KindDatetime    = "datetime"
	KindCategorical = "categorical"
	KindText        = "text"
	KindUnknown     = "unknown"
)

// Column captures the inferred type and basic statistics for one column.
type Column struct {
	Name    string
	Kind    string
	NonNull int
	Missing int
	Unique  int
	// Numeric stats
	Min  float64
	Max  float64
	Mean float64
	Std  float64
	// Categorical top values
	TopValues []ValueCount
}

// ValueCount pairs a categorical value with its occurrence count.
type ValueCount struct {
	Value string
	Count int
}

// Descriptor is an immutable description of one tabular dataset: the on-disk
// handle plus the inferred schema. It is created once per run and shared
// read-only by every agent.
type Descriptor struct {
	Path      string
	Name      string
	Rows      int
	Processed int
	Columns   []Column
	Samples   [][]string
}

// Describe streams the CSV once and builds a Descriptor. Statistics here are
// only schema hints for prompts; the generated analysis code recomputes its
// own numbers inside the sandbox.
func Describe(path string, opt Options) (*Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	delim := opt.Delimiter
	if delim == 0 {
		delim = sniffDelimiter(path)
	}
	r := csv.NewReader(f)
	r.ReuseRecord = true
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true
	r.Comma = delim

	header, err := r.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty dataset: %s", path)
		}
		return nil, fmt.Errorf("read header: %w", err)
	}
	ncol := len(header)
	if ncol == 0 {
		return nil, fmt.Errorf("empty header: %s", path)
	}

	type colAcc struct {
		name   string
		nonNil int
		miss   int
		// numeric stats via Welford
		n      int
		mean   float64
		m2     float64
		min    float64
		max    float64
		numCnt int
		dtCnt  int
		txtCnt int
		cats   map[string]int
	}
	cols := make([]*colAcc, ncol)
	for i := range header {
		cols[i] = &colAcc{
			name: strings.TrimSpace(header[i]),
			min:  math.Inf(1),
			max:  math.Inf(-1),
			cats: make(map[string]int),
		}
	}

	d := &Descriptor{Path: path, Name: filepath.Base(path)}
	maxRows := opt.MaxRows
	if maxRows <= 0 {
		maxRows = math.MaxInt
	}
	sampleRows := opt.SampleRows
	if sampleRows <= 0 {
		sampleRows = 5
	}

	for {
		rec, err := r.Read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("read row %d: %w", d.Rows+1, err)
		}
		d.Rows++
		if len(rec) < ncol {
			tmp := make([]string, ncol)
			copy(tmp, rec)
			rec = tmp
		}
		if d.Processed >= maxRows {
			continue
		}
		d.Processed++

		if len(d.Samples) < sampleRows {
			rowCopy := make([]string, ncol)
			copy(rowCopy, rec)
			d.Samples = append(d.Samples, rowCopy)
		}

		for j := 0; j < ncol; j++ {
			v := strings.TrimSpace(rec[j])
			c := cols[j]
			if v == "" {
				c.miss++
				continue
			}
			c.nonNil++
			if x, ok := parseNumeric(v); ok {
				c.numCnt++
				c.n++
				if x < c.min {
					c.min = x
				}
				if x > c.max {
					c.max = x
				}
				delta := x - c.mean
				c.mean += delta / float64(c.n)
				c.m2 += delta * (x - c.mean)
				continue
			}
			if parseTimeMaybe(v) {
				c.dtCnt++
				continue
			}
			c.txtCnt++
			if len(c.cats) <= 10000 && len(v) <= 64 { // guard memory; long values are free text
				c.cats[v]++
			}
		}
	}

	d.Columns = make([]Column, 0, ncol)
	for _, c := range cols {
		s := Column{Name: c.name, NonNull: c.nonNil, Missing: c.miss}
		switch {
		case c.numCnt >= c.dtCnt && c.numCnt >= c.txtCnt && c.numCnt > 0:
			s.Kind = KindNumeric
			s.Min = c.min
			s.Max = c.max
			s.Mean = c.mean
			if c.n > 1 {
				s.Std = math.Sqrt(c.m2 / float64(c.n-1))
			}
		case c.dtCnt >= c.txtCnt && c.dtCnt > 0:
			s.Kind = KindDatetime
		case len(c.cats) > 0:
			s.Kind = KindCategorical
			tops := make([]ValueCount, 0, len(c.cats))
			for k, v := range c.cats {
				tops = append(tops, ValueCount{Value: k, Count: v})
			}
			sort.Slice(tops, func(i, j int) bool {
				if tops[i].Count == tops[j].Count {
					return tops[i].Value < tops[j].Value
				}
				return tops[i].Count > tops[j].Count
			})
			s.Unique = len(tops)
			if len(tops) > 8 {
				tops = tops[:8]
			}
			s.TopValues = tops
		case c.txtCnt > 0:
			s.Kind = KindText
		default:
			s.Kind = KindUnknown
		}
		d.Columns = append(d.Columns, s)
	}
	return d, nil
}

// ColumnsOfKind returns the columns of the given kind in schema order.
func (d *Descriptor) ColumnsOfKind(kind string) []Column {
	var out []Column
	for _, c := range d.Columns {
		if c.Kind == kind {
			out = append(out, c)
		}
	}
	return out
}

// Summary renders a compact schema description suitable for embedding in
// model prompts.
func (d *Descriptor) Summary() string {
	var b strings.Builder
	b.WriteString("[DATASET]\n")
	fmt.Fprintf(&b, "File: %s\n", d.Name)
	if d.Processed > 0 && d.Processed < d.Rows {
		fmt.Fprintf(&b, "Rows: %d (described from first %d)\n", d.Rows, d.Processed)
	} else {
		fmt.Fprintf(&b, "Rows: %d\n", d.Rows)
	}
	fmt.Fprintf(&b, "Columns: %d\n\n[SCHEMA]\n", len(d.Columns))
	for _, c := range d.Columns {
		total := c.NonNull + c.Missing
		missPct := 0.0
		if total > 0 {
			missPct = float64(c.Missing) * 100.0 / float64(total)
		}
		fmt.Fprintf(&b, "- %s: %s (non-null %d, missing %.1f%%)", safeName(c.Name), c.Kind, c.NonNull, missPct)
		switch c.Kind {
		case KindNumeric:
			fmt.Fprintf(&b, " — min %.4g, max %.4g, mean %.4g, std %.4g", c.Min, c.Max, c.Mean, c.Std)
		case KindCategorical:
			if len(c.TopValues) > 0 {
				b.WriteString(" — top: ")
				for i, kv := range c.TopValues {
					if i > 0 {
						b.WriteString(", ")
					}
					fmt.Fprintf(&b, "%s(%d)", safeVal(kv.Value), kv.Count)
				}
				if c.Unique > len(c.TopValues) {
					fmt.Fprintf(&b, "; unique=%d", c.Unique)
				}
			}
		}
		b.WriteString("\n")
	}
	if len(d.Samples) > 0 {
		b.WriteString("\n[SAMPLE ROWS]\n")
		for _, row := range d.Samples {
			vals := make([]string, len(row))
			for i, v := range row {
				vals[i] = safeVal(v)
			}
			fmt.Fprintf(&b, "- %s\n", strings.Join(vals, " | "))
		}
	}
	return b.String()
}

func sniffDelimiter(path string) rune {
	if strings.HasSuffix(strings.ToLower(path), ".tsv") {
		return '\t'
	}
	return ','
}

func parseTimeMaybe(s string) bool {
	layouts := []string{
		time.RFC3339, "2006-01-02", "2006/01/02", "02/01/2006", "01/02/2006",
		"2006-01-02 15:04", "2006-01-02 15:04:05",
	}
	for _, l := range layouts {
		if _, err := time.Parse(l, s); err == nil {
			return true
		}
	}
	return false
}

func parseNumeric(s string) (float64, bool) {
	raw := strings.TrimSpace(strings.TrimSuffix(s, "%"))
	// Strip common thousands separators before parsing.
	if strings.Count(raw, ",") > 0 && strings.Count(raw, ".") <= 1 {
		raw = strings.ReplaceAll(raw, ",", "")
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func safeName(s string) string { return strings.ReplaceAll(s, "|", "/") }

func safeVal(s string) string {
	return strings.ReplaceAll(strings.ReplaceAll(s, "\n", " "), "|", "/")
}
