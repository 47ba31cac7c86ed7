package engine

import (
	"context"
	"testing"
	"time"
)

func TestInterpolation_Basic(t *testing.T) {
	state := NewExecutionState(context.Background())
	state.Set("device", "/dev/kmod_fcntl")

	result := Interpolate("open {{ device }}", state)
	if result != "open /dev/kmod_fcntl" {
		t.Errorf("Interpolate() = %q", result)
	}
}

func TestInterpolation_UndefinedVariable(t *testing.T) {
	state := NewExecutionState(context.Background())
	state.Set("defined", "value")

	result := Interpolate("{{ defined }} and {{ undefined }}", state)
	if result != "value and {{ undefined }}" {
		t.Errorf("Interpolate() = %q", result)
	}
}

func TestInterpolation_WhitespaceVariants(t *testing.T) {
	state := NewExecutionState(context.Background())
	state.Set("value", "test")

	for _, input := range []string{"{{value}}", "{{ value }}", "{{  value  }}", "{{ value}}", "{{value }}"} {
		if result := Interpolate(input, state); result != "test" {
			t.Errorf("Interpolate(%q) = %q, want %q", input, result, "test")
		}
	}
}

func TestInterpolation_Values(t *testing.T) {
	state := NewExecutionState(context.Background())
	state.Set("count", 5)
	state.Set("interval_ms", float64(2000))
	state.Set("spacing", 0.5)
	state.Set("paused", true)
	state.Set("wait", 1500*time.Millisecond)

	tests := []struct {
		input    string
		expected string
	}{
		{"reads={{ count }}", "reads=5"},
		{"interval={{ interval_ms }}ms", "interval=2000ms"},
		{"spacing={{ spacing }}", "spacing=0.5"},
		{"paused={{ paused }}", "paused=true"},
		{"wait={{ wait }}", "wait=1.5s"},
	}
	for _, tt := range tests {
		if result := Interpolate(tt.input, state); result != tt.expected {
			t.Errorf("Interpolate(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestInterpolateParams_PreservesTypes(t *testing.T) {
	state := NewExecutionState(context.Background())
	state.Set("reads", 5)
	state.Set("mode", "non_blocking")

	params := map[string]any{
		"count":  "{{ reads }}",
		"label":  "{{ reads }} reads",
		"fixed":  3,
		"nested": map[string]any{"mode": "{{ mode }}"},
		"list":   []any{"{{ reads }}", "x"},
	}

	result := InterpolateParams(params, state)

	if v, ok := result["count"].(int); !ok || v != 5 {
		t.Errorf("count = %#v, want int 5", result["count"])
	}
	if result["label"] != "5 reads" {
		t.Errorf("label = %#v", result["label"])
	}
	if result["fixed"] != 3 {
		t.Errorf("fixed = %#v", result["fixed"])
	}
	if nested := result["nested"].(map[string]any); nested["mode"] != "non_blocking" {
		t.Errorf("nested.mode = %#v", nested["mode"])
	}
	if list := result["list"].([]any); list[0] != 5 || list[1] != "x" {
		t.Errorf("list = %#v", list)
	}

	// The input is left untouched.
	if params["count"] != "{{ reads }}" {
		t.Error("InterpolateParams modified its input")
	}
}

func TestInterpolateParams_NilState(t *testing.T) {
	params := map[string]any{"key": "{{ var }}"}
	result := InterpolateParams(params, nil)
	if result["key"] != "{{ var }}" {
		t.Errorf("key = %v", result["key"])
	}
	if InterpolateParams(nil, nil) != nil {
		t.Error("nil params should stay nil")
	}
}
