package main

import (
	"testing"
)

// ==================== EvalBool Tests ====================

func TestEvalBool_Literals(t *testing.T) {
	e := NewExprEvaluator()

	cases := []struct {
		expr string
		want bool
	}{
		{"true", true},
		{"false", false},
		{"1 + 1 === 2", true},
		{"'a' === 'b'", false},
		{"undefined", false},
		{"null", false},
	}
	for _, c := range cases {
		got, err := e.EvalBool(c.expr, nil)
		if err != nil {
			t.Errorf("EvalBool(%q) failed: %v", c.expr, err)
			continue
		}
		if got != c.want {
			t.Errorf("EvalBool(%q) = %v, want %v", c.expr, got, c.want)
		}
	}
}

func TestEvalBool_VariableBinding(t *testing.T) {
	e := NewExprEvaluator()

	got, err := e.EvalBool("retries < 3 && !done", map[string]interface{}{
		"retries": 1,
		"done":    false,
	})
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if !got {
		t.Error("Expected true for retries=1, done=false")
	}

	got, err = e.EvalBool("retries < 3 && !done", map[string]interface{}{
		"retries": 5,
		"done":    false,
	})
	if err != nil {
		t.Fatalf("EvalBool failed: %v", err)
	}
	if got {
		t.Error("Expected false for retries=5")
	}
}

func TestEvalBool_StaleGlobalsCleared(t *testing.T) {
	e := NewExprEvaluator()

	if _, err := e.EvalBool("x > 0", map[string]interface{}{"x": 1}); err != nil {
		t.Fatalf("First evaluation failed: %v", err)
	}

	// x is no longer bound; referencing it must fail rather than reuse the
	// previous value.
	if _, err := e.EvalBool("x > 0", nil); err == nil {
		t.Error("Expected an error referencing an unbound variable")
	}
}

func TestEvalBool_InvalidExpression(t *testing.T) {
	e := NewExprEvaluator()
	if _, err := e.EvalBool("((", nil); err == nil {
		t.Error("Expected syntax error")
	}
}

// ==================== ExpandVariables Tests ====================

func TestExpandVariables_Basic(t *testing.T) {
	vars := map[string]interface{}{
		"name":  "alice",
		"count": 7,
	}

	got := ExpandVariables("hello {{name}}, {{count}} items", vars)
	if got != "hello alice, 7 items" {
		t.Errorf("Unexpected expansion: %q", got)
	}
}

func TestExpandVariables_WhitespaceInsidePlaceholder(t *testing.T) {
	got := ExpandVariables("{{ name }}", map[string]interface{}{"name": "bob"})
	if got != "bob" {
		t.Errorf("Expected 'bob', got %q", got)
	}
}

func TestExpandVariables_UnknownLeftUntouched(t *testing.T) {
	got := ExpandVariables("value: {{missing}}", map[string]interface{}{"other": 1})
	if got != "value: {{missing}}" {
		t.Errorf("Unknown placeholder must stay literal, got %q", got)
	}
}

func TestExpandVariables_NoVariables(t *testing.T) {
	if got := ExpandVariables("plain text", nil); got != "plain text" {
		t.Errorf("Expected passthrough, got %q", got)
	}
	if got := ExpandVariables("", map[string]interface{}{"a": 1}); got != "" {
		t.Errorf("Expected empty passthrough, got %q", got)
	}
}
