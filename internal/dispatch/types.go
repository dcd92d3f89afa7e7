// Package dispatch routes parsed function calls to registered handlers.
// It validates arguments before a handler runs, bounds execution time, and
// keeps per-function metrics so hot or failing functions are visible.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// ErrorKind classifies dispatch failures for callers that branch on them.
type ErrorKind string

const (
	ErrKindNone            ErrorKind = ""
	ErrKindUnknownFunction ErrorKind = "unknown_function"
	ErrKindInvalidArgument ErrorKind = "invalid_argument"
	ErrKindExecutionFailed ErrorKind = "execution_failed"
)

// UnknownFunctionError is returned when the requested function is not
// registered. The dispatcher itself never degrades; the caller decides
// whether to fall back to direct generation.
type UnknownFunctionError struct {
	Name string
}

func (e *UnknownFunctionError) Error() string {
	return fmt.Sprintf("unknown function: %s", e.Name)
}

// InvalidArgumentError reports a single offending argument so the caller
// can surface a precise correction to the model.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %q: %s", e.Field, e.Reason)
}

// ExecutionError wraps a handler failure, including timeouts.
type ExecutionError struct {
	Function string
	Err      error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("function %s failed: %v", e.Function, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Handler executes one registered function with validated arguments.
// The caller context carries the acting user's identity.
type Handler func(ctx context.Context, call CallerContext, args Args) (string, error)

// CallerContext identifies who is invoking a function and in which
// conversation, so handlers can enforce per-user scoping.
type CallerContext struct {
	UserID         string
	ConversationID string
}

// ParameterSpec describes one declared parameter for schema serialization.
type ParameterSpec struct {
	Name        string   `json:"name"`
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// FunctionDefinition binds a name and parameter schema to a handler.
type FunctionDefinition struct {
	Name        string
	Description string
	Parameters  []ParameterSpec
	Handler     Handler
}

// ExecutionResult is the outcome of one dispatch.
type ExecutionResult struct {
	FunctionName string        `json:"function_name"`
	Success      bool          `json:"success"`
	Payload      string        `json:"payload,omitempty"`
	ErrorKind    ErrorKind     `json:"error_kind,omitempty"`
	Error        string        `json:"error,omitempty"`
	Duration     time.Duration `json:"duration"`
}

// FunctionStats tracks per-function dispatch counters. Returned by copy.
type FunctionStats struct {
	Calls           int64         `json:"calls"`
	Successes       int64         `json:"successes"`
	Failures        int64         `json:"failures"`
	InvalidArgs     int64         `json:"invalid_args"`
	TotalDuration   time.Duration `json:"total_duration"`
	LastError       string        `json:"last_error,omitempty"`
	LastInvokedUnix int64         `json:"last_invoked_unix,omitempty"`
}

// schemaProperty is the JSON Schema fragment emitted for one parameter.
type schemaProperty struct {
	Type        string   `json:"type"`
	Description string   `json:"description,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

// Schema serializes the definition as a JSON Schema object suitable for
// provider tool declarations.
func (d *FunctionDefinition) Schema() json.RawMessage {
	props := make(map[string]schemaProperty, len(d.Parameters))
	var required []string
	for _, p := range d.Parameters {
		props[p.Name] = schemaProperty{Type: p.Type, Description: p.Description, Enum: p.Enum}
		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]any{
		"type":       "object",
		"properties": props,
	}
	if len(required) > 0 {
		schema["required"] = required
	}

	raw, _ := json.Marshal(schema)
	return raw
}

// validate checks presence and type of every declared parameter.
func (d *FunctionDefinition) validate(args Args) *InvalidArgumentError {
	for _, p := range d.Parameters {
		v, ok := args[p.Name]
		if !ok || v.Kind() == KindNull {
			if p.Required {
				return &InvalidArgumentError{Field: p.Name, Reason: "required"}
			}
			continue
		}

		switch p.Type {
		case "string":
			if _, ok := v.String(); !ok {
				return &InvalidArgumentError{Field: p.Name, Reason: fmt.Sprintf("expected string, got %s", v.Kind())}
			}
			if len(p.Enum) > 0 {
				if _, err := args.EnumField(p.Name, p.Enum...); err != nil {
					return err
				}
			}
		case "integer":
			if _, ok := v.Int(); !ok {
				return &InvalidArgumentError{Field: p.Name, Reason: fmt.Sprintf("expected integer, got %s", v.Kind())}
			}
		case "number":
			if _, ok := v.Float(); !ok {
				return &InvalidArgumentError{Field: p.Name, Reason: fmt.Sprintf("expected number, got %s", v.Kind())}
			}
		case "boolean":
			if _, ok := v.Bool(); !ok {
				return &InvalidArgumentError{Field: p.Name, Reason: fmt.Sprintf("expected boolean, got %s", v.Kind())}
			}
		case "object":
			if _, ok := v.Object(); !ok {
				return &InvalidArgumentError{Field: p.Name, Reason: fmt.Sprintf("expected object, got %s", v.Kind())}
			}
		case "array":
			if _, ok := v.Array(); !ok {
				return &InvalidArgumentError{Field: p.Name, Reason: fmt.Sprintf("expected array, got %s", v.Kind())}
			}
		}
	}
	return nil
}
