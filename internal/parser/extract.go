package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON indicates the text contains no candidate JSON object span.
var ErrNoJSON = errors.New("no JSON object found in output")

// ExtractJSON locates the first '{' and the last '}' in text and parses the
// substring between them as a single JSON object.
//
// Known limitation, kept deliberately: when the text contains multiple
// independent JSON objects, or literal brace characters inside string values
// after the true block, the span is misidentified and parsing either fails or
// yields a corrupted object. A stricter replacement would scan forward from
// the first '{' counting nesting depth; callers only depend on this function's
// signature, so it can be swapped without touching them.
func ExtractJSON(text string) (map[string]any, error) {
	start := strings.IndexByte(text, '{')
	end := strings.LastIndexByte(text, '}')
	if start < 0 || end <= start {
		return nil, ErrNoJSON
	}
	span := text[start : end+1]
	var out map[string]any
	if err := json.Unmarshal([]byte(span), &out); err != nil {
		return nil, fmt.Errorf("parse JSON span: %w", err)
	}
	return out, nil
}

// DefaultSectionTitle is used when markdown text carries content before any
// level-2 header, or no headers at all.
const DefaultSectionTitle = "Report"

// Section is one titled block of a synthesized markdown report. Lines are
// preserved verbatim (blank lines dropped) in document order.
type Section struct {
	Title string   `json:"title"`
	Lines []string `json:"lines"`
}

// Sections splits markdown text into sections at level-2 header lines.
// Content before the first header, or a document without headers, forms a
// single section under DefaultSectionTitle. Never returns an error: arbitrary
// model output degrades to a catch-all section rather than failing.
func Sections(text string) []Section {
	var out []Section
	cur := -1
	for _, line := range strings.Split(text, "\n") {
		if title, ok := headerTitle(line); ok {
			out = append(out, Section{Title: title})
			cur = len(out) - 1
			continue
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if cur < 0 {
			out = append(out, Section{Title: DefaultSectionTitle})
			cur = 0
		}
		out[cur].Lines = append(out[cur].Lines, strings.TrimSpace(line))
	}
	return out
}

func headerTitle(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, "## ") {
		return "", false
	}
	// "### " and deeper are body content, not section boundaries.
	if strings.HasPrefix(trimmed, "###") {
		return "", false
	}
	return strings.TrimSpace(strings.TrimPrefix(trimmed, "## ")), true
}
