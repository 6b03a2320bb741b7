package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/user/llmgate/internal/llmtypes"
)

type weatherArgs struct {
	City  string `json:"city" jsonschema_description:"City name"`
	Units string `json:"units,omitempty" jsonschema:"enum=metric,enum=imperial"`
}

func newWeatherTool() *FuncTool[weatherArgs] {
	return NewFuncTool("get_weather", "Current weather for a city",
		func(ctx context.Context, args weatherArgs) (interface{}, error) {
			if args.City == "" {
				return nil, errors.New("city is required")
			}
			return map[string]interface{}{"city": args.City, "temp": 21, "units": args.Units}, nil
		})
}

func TestFuncTool_SchemaReflection(t *testing.T) {
	tool := newWeatherTool()
	params := tool.Parameters()

	if params["type"] != "object" {
		t.Errorf("Expected type object, got %v", params["type"])
	}
	if _, ok := params["$schema"]; ok {
		t.Error("Expected $schema to be stripped")
	}

	props, ok := params["properties"].(map[string]interface{})
	if !ok {
		t.Fatalf("Expected properties map, got %T", params["properties"])
	}
	city, ok := props["city"].(map[string]interface{})
	if !ok {
		t.Fatal("Expected 'city' property")
	}
	if city["description"] != "City name" {
		t.Errorf("Expected description 'City name', got %v", city["description"])
	}
	units, _ := props["units"].(map[string]interface{})
	if enum, _ := units["enum"].([]interface{}); len(enum) != 2 {
		t.Errorf("Expected 2 enum values for units, got %v", units["enum"])
	}

	required, _ := params["required"].([]interface{})
	if len(required) != 1 || required[0] != "city" {
		t.Errorf("Expected required [city], got %v", params["required"])
	}
}

func TestFuncTool_Execute(t *testing.T) {
	tool := newWeatherTool()
	result, err := tool.Execute(context.Background(), map[string]interface{}{"city": "Oslo", "units": "metric"})
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	m := result.(map[string]interface{})
	if m["city"] != "Oslo" {
		t.Errorf("Expected city Oslo, got %v", m["city"])
	}
}

func TestFuncTool_InvalidArguments(t *testing.T) {
	tool := newWeatherTool()
	_, err := tool.Execute(context.Background(), map[string]interface{}{"city": 42})
	if err == nil || !strings.Contains(err.Error(), "invalid arguments") {
		t.Errorf("Expected invalid arguments error, got %v", err)
	}
}

func TestFuncTool_RetriesModelRetryError(t *testing.T) {
	calls := 0
	tool := NewFuncTool("flaky", "fails once", func(ctx context.Context, args struct{}) (interface{}, error) {
		calls++
		if calls == 1 {
			return nil, &ModelRetryError{Message: "try again"}
		}
		return "ok", nil
	}).WithRetries(3)

	result, err := tool.Execute(context.Background(), nil)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if result != "ok" || calls != 2 {
		t.Errorf("Expected ok after 2 calls, got %v after %d", result, calls)
	}
}

func TestFuncTool_DoesNotRetryOtherErrors(t *testing.T) {
	calls := 0
	tool := NewFuncTool("broken", "always fails", func(ctx context.Context, args struct{}) (interface{}, error) {
		calls++
		return nil, errors.New("fatal")
	}).WithRetries(3)

	if _, err := tool.Execute(context.Background(), nil); err == nil {
		t.Fatal("Expected error")
	}
	if calls != 1 {
		t.Errorf("Expected 1 call, got %d", calls)
	}
}

func TestRegistry_ToolsAndExecute(t *testing.T) {
	reg, err := NewRegistry(newWeatherTool())
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	if err := reg.Register(newWeatherTool()); err == nil {
		t.Error("Expected duplicate registration to fail")
	}

	defs := reg.Tools("any-session")
	if len(defs) != 1 || defs[0].Name != "get_weather" {
		t.Fatalf("Expected one get_weather definition, got %+v", defs)
	}

	out, err := reg.Execute(context.Background(), llmtypes.ToolCall{
		ID:        "call_1",
		Name:      "get_weather",
		Arguments: json.RawMessage(`{"city":"Lima"}`),
	})
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal([]byte(out), &decoded); err != nil {
		t.Fatalf("Expected JSON result, got %q", out)
	}
	if decoded["city"] != "Lima" {
		t.Errorf("Expected city Lima, got %v", decoded["city"])
	}
}

func TestRegistry_ExecuteErrors(t *testing.T) {
	reg, _ := NewRegistry(newWeatherTool())

	if _, err := reg.Execute(context.Background(), llmtypes.ToolCall{Name: "nope"}); err == nil {
		t.Error("Expected unknown tool error")
	}
	_, err := reg.Execute(context.Background(), llmtypes.ToolCall{Name: "get_weather", Arguments: json.RawMessage(`{not json`)})
	if err == nil {
		t.Error("Expected malformed arguments error")
	}
}

func TestFormatResult(t *testing.T) {
	tests := []struct {
		name   string
		input  interface{}
		expect string
	}{
		{"nil", nil, ""},
		{"string", "plain", "plain"},
		{"struct", struct {
			A int `json:"a"`
		}{1}, `{"a":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatResult(tt.input)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.expect {
				t.Errorf("Expected %q, got %q", tt.expect, got)
			}
		})
	}

	long := strings.Repeat("x", MaxToolResponseSize+10)
	got, _ := FormatResult(long)
	if !strings.Contains(got, "[TRUNCATED") || len(got) < MaxToolResponseSize {
		t.Error("Expected long result to be truncated with a notice")
	}
}
