package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// FuncTool is a tool backed by a typed Go function. Its parameter schema is
// reflected from the argument struct T.
type FuncTool[T any] struct {
	BaseTool
	name        string
	description string
	schema      map[string]interface{}
	fn          func(ctx context.Context, args T) (interface{}, error)
}

// NewFuncTool builds a tool from fn. Struct fields of T without omitempty are required.
func NewFuncTool[T any](name, description string, fn func(ctx context.Context, args T) (interface{}, error)) *FuncTool[T] {
	return &FuncTool[T]{
		BaseTool:    NewBaseTool(1),
		name:        name,
		description: description,
		schema:      ReflectSchema(new(T)),
		fn:          fn,
	}
}

// WithRetries sets how many times a ModelRetryError is retried
func (f *FuncTool[T]) WithRetries(n int) *FuncTool[T] {
	f.BaseTool = NewBaseTool(n)
	return f
}

func (f *FuncTool[T]) Name() string                       { return f.name }
func (f *FuncTool[T]) Description() string                { return f.description }
func (f *FuncTool[T]) Parameters() map[string]interface{} { return f.schema }

// Execute decodes params into T and calls the function
func (f *FuncTool[T]) Execute(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("encode arguments for %s: %w", f.name, err)
	}
	var args T
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, fmt.Errorf("invalid arguments for %s: %w", f.name, err)
	}
	return f.RetryableExecute(ctx, func() (interface{}, error) {
		return f.fn(ctx, args)
	})
}

// ReflectSchema returns the inline JSON schema of v, which should be a pointer to a struct
func ReflectSchema(v any) map[string]interface{} {
	r := &jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	schema := r.Reflect(v)
	b, err := json.Marshal(schema)
	if err != nil {
		return map[string]interface{}{"type": "object"}
	}
	out := map[string]interface{}{}
	if err := json.Unmarshal(b, &out); err != nil {
		return map[string]interface{}{"type": "object"}
	}
	delete(out, "$schema")
	delete(out, "$id")
	return out
}
