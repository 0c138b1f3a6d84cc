package condition

import (
	"errors"
	"testing"

	"github.com/wrenchchatrepo/wrenchai-sub000/playbook"
)

func mustEval(t *testing.T, expr string, vars map[string]any) bool {
	t.Helper()
	e := New()
	got, err := e.Evaluate(expr, vars)
	if err != nil {
		t.Fatalf("Evaluate(%q): %v", expr, err)
	}
	return got
}

func TestEvaluate_Literals(t *testing.T) {
	cases := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"not false", true},
		{"not true", false},
		{"1", true},
		{"0", false},
		{"-1", true},
		{`""`, false},
		{`"x"`, true},
		{"", true},
		{"   ", true},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := mustEval(t, tc.expr, nil); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	vars := map[string]any{"n": int64(5), "f": 2.5, "s": "beta"}
	cases := []struct {
		expr string
		want bool
	}{
		{"n == 5", true},
		{"n != 5", false},
		{"n > 4", true},
		{"n >= 5", true},
		{"n < 5", false},
		{"n <= 4", false},
		{"f > 2", true},
		{`s == "beta"`, true},
		{`s > "alpha"`, true},
		{"n == f", false},
		{"missing == 5", false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := mustEval(t, tc.expr, vars); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}

	t.Run("incomparable operands raise EvalError", func(t *testing.T) {
		e := New()
		_, err := e.Evaluate(`s > 3`, vars)
		var ee *EvalError
		if !errors.As(err, &ee) {
			t.Errorf("expected EvalError, got %v", err)
		}
	})
}

func TestEvaluate_LeftToRight(t *testing.T) {
	// No precedence: a and b or c is ((a and b) or c).
	vars := map[string]any{"a": false, "b": true, "c": true}
	if got := mustEval(t, "a and b or c", vars); got != true {
		t.Errorf("a and b or c = %v, want true", got)
	}
	// With conventional precedence `true or false and false` would be
	// true; strict left-to-right yields false.
	if got := mustEval(t, "true or false and false", nil); got != false {
		t.Errorf("true or false and false = %v, want false (left-to-right)", got)
	}
	// Parentheses restore grouping.
	if got := mustEval(t, "true or (false and false)", nil); got != true {
		t.Errorf("parenthesized = %v, want true", got)
	}
}

func TestEvaluate_Functions(t *testing.T) {
	vars := map[string]any{
		"tags":    []any{"urgent", "new"},
		"items":   []any{int64(1), int64(2)},
		"empty":   []any{},
		"name":    "wrench",
		"nums":    []any{int64(1), 2.0, int64(3)},
		"mapping": map[string]any{"k": "v"},
	}
	cases := []struct {
		expr string
		want bool
	}{
		{`contains(tags, "urgent") and length(items) > 0`, true},
		{`contains(tags, "urgent") and length(empty) > 0`, false},
		{`exists(name)`, true},
		{`exists(missing)`, false},
		{`is_empty(empty)`, true},
		{`is_empty(items)`, false},
		{`starts_with(name, "wr")`, true},
		{`ends_with(name, "ch")`, true},
		{`contains_string(name, "enc")`, true},
		{`matches_regex(name, "^wr.*h$")`, true},
		{`matches_regex(name, "[")`, false},
		{`has_item(items, 2)`, true},
		{`has_item(items, 9)`, false},
		{`count_items(items) == 2`, true},
		{`is_string(name)`, true},
		{`is_number(name)`, false},
		{`is_boolean(true)`, true},
		{`is_array(items)`, true},
		{`is_object(mapping)`, true},
		{`is_greater(3, 2)`, true},
		{`is_less(3, 2)`, false},
		{`sum(nums) == 6`, true},
		{`average(nums) == 2`, true},
		{`sum(empty) == 0`, true},
		{`any_match(nums, "is_number")`, true},
		{`all_match(items, "is_number")`, true},
		{`all_match(tags, "is_number")`, false},
	}
	for _, tc := range cases {
		t.Run(tc.expr, func(t *testing.T) {
			if got := mustEval(t, tc.expr, vars); got != tc.want {
				t.Errorf("Evaluate(%q) = %v, want %v", tc.expr, got, tc.want)
			}
		})
	}
}

func TestEvaluate_SyntaxErrors(t *testing.T) {
	e := New()
	cases := []string{
		"a ==",
		"(a == 1",
		"a == 1)",
		"length items",
		"a @ b",
		`"unterminated`,
		"a = 1",
		"exists(",
	}
	for _, expr := range cases {
		t.Run(expr, func(t *testing.T) {
			_, err := e.Evaluate(expr, map[string]any{"a": int64(1)})
			var se *SyntaxError
			if !errors.As(err, &se) {
				t.Errorf("Evaluate(%q) err = %v, want SyntaxError", expr, err)
			}
		})
	}

	t.Run("unknown function suggests neighbors", func(t *testing.T) {
		_, err := e.Evaluate("lenght(items)", map[string]any{"items": []any{}})
		var se *SyntaxError
		if !errors.As(err, &se) {
			t.Fatalf("expected SyntaxError, got %v", err)
		}
		if se.Suggestion == "" {
			t.Error("expected a did-you-mean suggestion")
		}
	})

	t.Run("wrong arity is an EvalError with usage help", func(t *testing.T) {
		_, err := e.Evaluate("length()", nil)
		var ee *EvalError
		if !errors.As(err, &ee) {
			t.Fatalf("expected EvalError, got %v", err)
		}
		if ee.Suggestion == "" {
			t.Error("expected usage help")
		}
	})
}

func TestValidateSyntax(t *testing.T) {
	e := New()
	valid := []string{
		"true",
		"not false",
		"a == 1 and b == 2",
		`contains(tags, "x") or length(items) > 0`,
		"",
	}
	for _, expr := range valid {
		if ok, msg := e.ValidateSyntax(expr); !ok {
			t.Errorf("ValidateSyntax(%q) = false: %s", expr, msg)
		}
	}
	invalid := []string{"a ==", "(a", "a $ b", "nope_fn(x)"}
	for _, expr := range invalid {
		if ok, _ := e.ValidateSyntax(expr); ok {
			t.Errorf("ValidateSyntax(%q) = true, want false", expr)
		}
	}
}

func TestReferencedVariables(t *testing.T) {
	e := New()
	refs, err := e.ReferencedVariables(`contains(tags, "urgent") and status == "open" and not done`)
	if err != nil {
		t.Fatalf("refs: %v", err)
	}
	for _, want := range []string{"tags", "status", "done"} {
		if _, ok := refs[want]; !ok {
			t.Errorf("missing variable %q in %v", want, refs)
		}
	}
	if _, ok := refs["contains"]; ok {
		t.Error("function name classified as variable")
	}
	if _, ok := refs["urgent"]; ok {
		t.Error("string literal classified as variable")
	}
}

func TestEvaluator_DebugTrace(t *testing.T) {
	e := New(WithDebug())
	if _, err := e.Evaluate("x == 1", map[string]any{"x": int64(1)}); err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(e.Trace()) == 0 {
		t.Error("expected a trace in debug mode")
	}
}

func TestScanPlaybook(t *testing.T) {
	pb := &playbook.Playbook{
		Metadata: playbook.Metadata{Name: "demo"},
		Steps: []playbook.Step{
			{
				StepID: "gather",
				Type:   playbook.StepProcess,
				Input:  &playbook.ProcessPhase{Condition: `exists(source_url)`},
				Process: []playbook.ProcessPhase{
					{Condition: `length(records) > 0`},
					{Condition: `is_valid ==`}, // syntax error
				},
			},
			{
				StepID: "route",
				Type:   playbook.StepHandoff,
				HandoffConditions: []playbook.HandoffCondition{
					{Condition: `contains(tags, "escalate")`, TargetAgent: "supervisor"},
				},
			},
			{
				StepID: "refine",
				Type:   playbook.StepPartnerFeedbackLoop,
				Operations: []playbook.Operation{
					{Role: "reviewer", Name: "review", Condition: `iteration < 3`},
				},
			},
			{
				StepID: "plain",
				Type:   playbook.StepStandard,
			},
		},
	}

	report := New().ScanPlaybook(pb)
	if len(report.Conditions) != 5 {
		t.Errorf("conditions = %d, want 5", len(report.Conditions))
	}
	if len(report.SyntaxErrors) != 1 || report.SyntaxErrors[0].StepID != "gather" {
		t.Errorf("syntax errors = %+v", report.SyntaxErrors)
	}
	for _, want := range []string{"source_url", "records", "tags", "iteration"} {
		found := false
		for _, v := range report.Variables {
			if v == want {
				found = true
			}
		}
		if !found {
			t.Errorf("variable %q missing from %v", want, report.Variables)
		}
	}
}
