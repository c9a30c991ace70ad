package agent

import (
	"sort"
	"strings"
)

// Rule is one structural requirement checked against generated source before
// it is allowed to execute. A rule is satisfied when the code contains at
// least one of AnyOf, or, when MinCount is set, at least MinCount
// occurrences of Token.
type Rule struct {
	ID          string
	Description string
	AnyOf       []string
	Token       string
	MinCount    int
}

func (r Rule) satisfied(code string) bool {
	if r.MinCount > 0 {
		return strings.Count(code, r.Token) >= r.MinCount
	}
	for _, tok := range r.AnyOf {
		if strings.Contains(code, tok) {
			return true
		}
	}
	return false
}

// ValidationResult reports which requirement IDs the code failed to meet.
type ValidationResult struct {
	OK      bool
	Missing []string
}

// Validate statically checks generated source against the rules. Pure and
// deterministic: identical input always yields an identical result, so retry
// decisions never need a sandbox round trip. An empty rule set waives the
// gate.
func Validate(code string, rules []Rule) ValidationResult {
	var missing []string
	for _, r := range rules {
		if !r.satisfied(code) {
			missing = append(missing, r.ID)
		}
	}
	sort.Strings(missing)
	return ValidationResult{OK: len(missing) == 0, Missing: missing}
}

func describeRules(rules []Rule, missing []string) []Rule {
	if len(missing) == 0 {
		return rules
	}
	want := make(map[string]bool, len(missing))
	for _, id := range missing {
		want[id] = true
	}
	var out []Rule
	for _, r := range rules {
		if want[r.ID] {
			out = append(out, r)
		}
	}
	return out
}
