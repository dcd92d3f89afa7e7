package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) *Dispatcher {
	t.Helper()

	d := New(time.Second)
	d.MustRegister(&FunctionDefinition{
		Name:        "log_nutrition",
		Description: "Record a food entry",
		Parameters: []ParameterSpec{
			{Name: "description", Type: "string", Required: true},
			{Name: "calories", Type: "integer"},
			{Name: "meal", Type: "string", Enum: []string{"breakfast", "lunch", "dinner", "snack"}},
		},
		Handler: func(ctx context.Context, call CallerContext, args Args) (string, error) {
			desc, argErr := args.StringField("description")
			if argErr != nil {
				return "", argErr
			}
			return "logged: " + desc, nil
		},
	})
	return d
}

func TestDispatchSuccess(t *testing.T) {
	d := newTestDispatcher(t)

	res, err := d.Dispatch(context.Background(), "log_nutrition",
		json.RawMessage(`{"description": "2 eggs", "calories": 140}`),
		CallerContext{UserID: "u1"})
	require.NoError(t, err)

	assert.True(t, res.Success)
	assert.Equal(t, "logged: 2 eggs", res.Payload)
	assert.Equal(t, ErrKindNone, res.ErrorKind)
}

func TestDispatchUnknownFunction(t *testing.T) {
	d := newTestDispatcher(t)

	res, err := d.Dispatch(context.Background(), "no_such_fn", nil, CallerContext{})

	var unknown *UnknownFunctionError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "no_such_fn", unknown.Name)
	assert.False(t, res.Success)
	assert.Equal(t, ErrKindUnknownFunction, res.ErrorKind)
}

func TestDispatchMissingRequiredField(t *testing.T) {
	d := newTestDispatcher(t)

	res, err := d.Dispatch(context.Background(), "log_nutrition",
		json.RawMessage(`{"calories": 140}`), CallerContext{})

	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "description", invalid.Field)
	assert.Equal(t, ErrKindInvalidArgument, res.ErrorKind)
}

func TestDispatchTypeMismatch(t *testing.T) {
	d := newTestDispatcher(t)

	tests := []struct {
		name string
		args string
		want string
	}{
		{"integer gets string", `{"description": "x", "calories": "many"}`, "calories"},
		{"integer gets fraction", `{"description": "x", "calories": 1.5}`, "calories"},
		{"string gets number", `{"description": 42}`, "description"},
		{"enum violation", `{"description": "x", "meal": "brunch"}`, "meal"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := d.Dispatch(context.Background(), "log_nutrition",
				json.RawMessage(tt.args), CallerContext{})
			var invalid *InvalidArgumentError
			require.ErrorAs(t, err, &invalid)
			assert.Equal(t, tt.want, invalid.Field)
		})
	}
}

func TestDispatchMalformedJSON(t *testing.T) {
	d := newTestDispatcher(t)

	_, err := d.Dispatch(context.Background(), "log_nutrition",
		json.RawMessage(`{"description":`), CallerContext{})

	var invalid *InvalidArgumentError
	require.ErrorAs(t, err, &invalid)
}

func TestDispatchHandlerError(t *testing.T) {
	d := New(time.Second)
	boom := errors.New("db unavailable")
	d.MustRegister(&FunctionDefinition{
		Name: "failing",
		Handler: func(ctx context.Context, call CallerContext, args Args) (string, error) {
			return "", boom
		},
	})

	res, err := d.Dispatch(context.Background(), "failing", nil, CallerContext{})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, ErrKindExecutionFailed, res.ErrorKind)
}

func TestDispatchTimeout(t *testing.T) {
	d := New(20 * time.Millisecond)
	d.MustRegister(&FunctionDefinition{
		Name: "slow",
		Handler: func(ctx context.Context, call CallerContext, args Args) (string, error) {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(time.Second):
				return "too late", nil
			}
		},
	})

	res, err := d.Dispatch(context.Background(), "slow", nil, CallerContext{})

	var execErr *ExecutionError
	require.ErrorAs(t, err, &execErr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, ErrKindExecutionFailed, res.ErrorKind)
}

func TestRegisterDuplicate(t *testing.T) {
	d := newTestDispatcher(t)
	err := d.Register(&FunctionDefinition{
		Name:    "log_nutrition",
		Handler: func(context.Context, CallerContext, Args) (string, error) { return "", nil },
	})
	assert.Error(t, err)
}

func TestManifestAndSchemas(t *testing.T) {
	d := newTestDispatcher(t)
	d.MustRegister(&FunctionDefinition{
		Name:        "query_workouts",
		Description: "List recent workouts",
		Parameters:  []ParameterSpec{{Name: "days", Type: "integer"}},
		Handler:     func(context.Context, CallerContext, Args) (string, error) { return "", nil },
	})

	manifest := d.Manifest()
	require.Len(t, manifest, 2)
	assert.Equal(t, "log_nutrition", manifest[0].Name)
	assert.Equal(t, "query_workouts", manifest[1].Name)

	schemas := d.Schemas()
	require.Len(t, schemas, 2)

	var schema map[string]any
	require.NoError(t, json.Unmarshal(schemas[0].Parameters, &schema))
	assert.Equal(t, "object", schema["type"])
	assert.Contains(t, schema["required"], "description")
}

func TestStatsTracking(t *testing.T) {
	d := newTestDispatcher(t)
	ctx := context.Background()

	_, _ = d.Dispatch(ctx, "log_nutrition", json.RawMessage(`{"description": "apple"}`), CallerContext{})
	_, _ = d.Dispatch(ctx, "log_nutrition", json.RawMessage(`{}`), CallerContext{})

	stats := d.Stats()
	st := stats["log_nutrition"]
	assert.Equal(t, int64(2), st.Calls)
	assert.Equal(t, int64(1), st.Successes)
	assert.Equal(t, int64(1), st.InvalidArgs)
}

func TestArgsAccessors(t *testing.T) {
	args, err := FromJSON(json.RawMessage(`{
		"name": "bench press",
		"sets": 3,
		"weight": 82.5,
		"done": true,
		"meta": {"unit": "kg"},
		"reps": [8, 8, 6]
	}`))
	require.NoError(t, err)
	a := Args(args)

	name, argErr := a.StringField("name")
	require.Nil(t, argErr)
	assert.Equal(t, "bench press", name)

	sets, argErr := a.IntField("sets")
	require.Nil(t, argErr)
	assert.Equal(t, 3, sets)

	weight, argErr := a.FloatField("weight")
	require.Nil(t, argErr)
	assert.InDelta(t, 82.5, weight, 1e-9)

	meta, argErr := a.ObjectField("meta")
	require.Nil(t, argErr)
	unit, argErr := meta.StringField("unit")
	require.Nil(t, argErr)
	assert.Equal(t, "kg", unit)

	reps, ok := a["reps"].Array()
	require.True(t, ok)
	assert.Len(t, reps, 3)

	fallback, argErr := a.OptionalInt("days", 7)
	require.Nil(t, argErr)
	assert.Equal(t, 7, fallback)

	assert.Equal(t, 90, ClampInt(400, 1, 90))
	assert.Equal(t, 1, ClampInt(-2, 1, 90))
}
