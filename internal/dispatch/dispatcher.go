package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher holds the function registry and executes calls against it.
// Lookup is a map read, so dispatch cost does not grow with registry size.
type Dispatcher struct {
	mu        sync.RWMutex
	functions map[string]*FunctionDefinition
	stats     map[string]*FunctionStats

	maxTimeout time.Duration
	log        zerolog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithLogger sets the dispatcher logger.
func WithLogger(log zerolog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// New creates a dispatcher. maxTimeout bounds every handler execution;
// a zero value falls back to 30 seconds.
func New(maxTimeout time.Duration, opts ...Option) *Dispatcher {
	if maxTimeout <= 0 {
		maxTimeout = 30 * time.Second
	}
	d := &Dispatcher{
		functions:  make(map[string]*FunctionDefinition),
		stats:      make(map[string]*FunctionStats),
		maxTimeout: maxTimeout,
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds a function definition. Re-registering a name is an error.
func (d *Dispatcher) Register(def *FunctionDefinition) error {
	if def == nil || def.Name == "" {
		return fmt.Errorf("function definition requires a name")
	}
	if def.Handler == nil {
		return fmt.Errorf("function %s has no handler", def.Name)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.functions[def.Name]; exists {
		return fmt.Errorf("function %s already registered", def.Name)
	}
	d.functions[def.Name] = def
	d.stats[def.Name] = &FunctionStats{}
	return nil
}

// MustRegister registers a definition and panics on conflict. Intended for
// wiring at startup where a duplicate name is a programming error.
func (d *Dispatcher) MustRegister(def *FunctionDefinition) {
	if err := d.Register(def); err != nil {
		panic(err)
	}
}

// Lookup returns a registered definition by name.
func (d *Dispatcher) Lookup(name string) (*FunctionDefinition, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	def, ok := d.functions[name]
	return def, ok
}

// Names returns the registered function names, sorted.
func (d *Dispatcher) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.functions))
	for name := range d.functions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ManifestEntry is the compact form used in hybrid prompts: name and
// description only, no parameter schemas.
type ManifestEntry struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Manifest returns the compact function listing, sorted by name.
func (d *Dispatcher) Manifest() []ManifestEntry {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries := make([]ManifestEntry, 0, len(d.functions))
	for _, def := range d.functions {
		entries = append(entries, ManifestEntry{Name: def.Name, Description: def.Description})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}

// ToolSchema pairs a function name with its full JSON Schema declaration,
// for providers that accept native tool definitions.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Schemas returns full tool declarations for every registered function,
// sorted by name.
func (d *Dispatcher) Schemas() []ToolSchema {
	d.mu.RLock()
	defer d.mu.RUnlock()

	schemas := make([]ToolSchema, 0, len(d.functions))
	for _, def := range d.functions {
		schemas = append(schemas, ToolSchema{
			Name:        def.Name,
			Description: def.Description,
			Parameters:  def.Schema(),
		})
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Dispatch validates and executes one function call. Arguments arrive as
// raw JSON from the model. The returned ExecutionResult always describes
// the outcome; the error mirrors it for callers that use errors.As.
func (d *Dispatcher) Dispatch(ctx context.Context, name string, rawArgs json.RawMessage, call CallerContext) (*ExecutionResult, error) {
	start := time.Now()

	def, ok := d.Lookup(name)
	if !ok {
		err := &UnknownFunctionError{Name: name}
		return &ExecutionResult{
			FunctionName: name,
			ErrorKind:    ErrKindUnknownFunction,
			Error:        err.Error(),
			Duration:     time.Since(start),
		}, err
	}

	args, decodeErr := FromJSON(rawArgs)
	if decodeErr != nil {
		err := &InvalidArgumentError{Field: "", Reason: decodeErr.Error()}
		d.record(name, start, err)
		return &ExecutionResult{
			FunctionName: name,
			ErrorKind:    ErrKindInvalidArgument,
			Error:        err.Error(),
			Duration:     time.Since(start),
		}, err
	}

	if err := def.validate(Args(args)); err != nil {
		d.record(name, start, err)
		return &ExecutionResult{
			FunctionName: name,
			ErrorKind:    ErrKindInvalidArgument,
			Error:        err.Error(),
			Duration:     time.Since(start),
		}, err
	}

	execCtx, cancel := context.WithTimeout(ctx, d.maxTimeout)
	defer cancel()

	payload, handlerErr := def.Handler(execCtx, call, Args(args))
	duration := time.Since(start)
	d.record(name, start, handlerErr)

	if handlerErr != nil {
		// Handlers may reject values the declared schema cannot express,
		// such as range violations.
		var invalid *InvalidArgumentError
		if errors.As(handlerErr, &invalid) {
			return &ExecutionResult{
				FunctionName: name,
				ErrorKind:    ErrKindInvalidArgument,
				Error:        invalid.Error(),
				Duration:     duration,
			}, invalid
		}
		if errors.Is(handlerErr, context.DeadlineExceeded) {
			handlerErr = fmt.Errorf("timed out after %s: %w", d.maxTimeout, handlerErr)
		}
		err := &ExecutionError{Function: name, Err: handlerErr}
		d.log.Warn().Str("function", name).Err(handlerErr).Dur("duration", duration).
			Msg("function execution failed")
		return &ExecutionResult{
			FunctionName: name,
			ErrorKind:    ErrKindExecutionFailed,
			Error:        err.Error(),
			Duration:     duration,
		}, err
	}

	d.log.Debug().Str("function", name).Dur("duration", duration).Msg("function dispatched")
	return &ExecutionResult{
		FunctionName: name,
		Success:      true,
		Payload:      payload,
		Duration:     duration,
	}, nil
}

// record updates per-function counters under the write lock.
func (d *Dispatcher) record(name string, start time.Time, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	st, ok := d.stats[name]
	if !ok {
		return
	}
	st.Calls++
	st.TotalDuration += time.Since(start)
	st.LastInvokedUnix = time.Now().Unix()
	switch {
	case err == nil:
		st.Successes++
	default:
		var invalid *InvalidArgumentError
		if errors.As(err, &invalid) {
			st.InvalidArgs++
		} else {
			st.Failures++
		}
		st.LastError = err.Error()
	}
}

// Stats returns a snapshot of per-function counters.
func (d *Dispatcher) Stats() map[string]FunctionStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]FunctionStats, len(d.stats))
	for name, st := range d.stats {
		out[name] = *st
	}
	return out
}
