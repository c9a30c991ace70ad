package agent

import (
	"reflect"
	"testing"
)

func TestValidateReportsMissingSorted(t *testing.T) {
	rules := []Rule{
		{ID: "z-rule", AnyOf: []string{"zzz"}},
		{ID: "a-rule", AnyOf: []string{"aaa"}},
		{ID: "m-rule", AnyOf: []string{"present"}},
	}
	v := Validate("only present here", rules)
	if v.OK {
		t.Fatal("expected validation failure")
	}
	if !reflect.DeepEqual(v.Missing, []string{"a-rule", "z-rule"}) {
		t.Fatalf("missing: %v", v.Missing)
	}
}

func TestValidateAnyOfAcceptsAlternatives(t *testing.T) {
	rules := []Rule{{ID: "emits-json", AnyOf: []string{"json.dumps", "to_json"}}}
	for _, code := range []string{
		"print(json.dumps(out))",
		"df.to_json()",
	} {
		if v := Validate(code, rules); !v.OK {
			t.Fatalf("code %q should satisfy either alternative: %v", code, v.Missing)
		}
	}
}

func TestValidateMinCount(t *testing.T) {
	rules := []Rule{{ID: "two-prints", Token: "print(", MinCount: 2}}
	if v := Validate("print(1)", rules); v.OK {
		t.Fatal("one occurrence should not satisfy MinCount=2")
	}
	if v := Validate("print(1)\nprint(2)", rules); !v.OK {
		t.Fatalf("two occurrences should satisfy MinCount=2: %v", v.Missing)
	}
}

func TestValidateIsDeterministic(t *testing.T) {
	rules := (&AnomalyTask{}).Requirements()
	code := "import pandas as pd\ndf = pd.read_csv('data.csv')"
	first := Validate(code, rules)
	for i := 0; i < 10; i++ {
		if got := Validate(code, rules); !reflect.DeepEqual(got, first) {
			t.Fatalf("run %d diverged: %v vs %v", i, got, first)
		}
	}
}

func TestValidateEmptyRulesWaivesGate(t *testing.T) {
	if v := Validate("anything at all", nil); !v.OK {
		t.Fatalf("no rules means pass: %v", v.Missing)
	}
}
