package engine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/stride/internal/cache"
	"github.com/normanking/stride/internal/config"
	"github.com/normanking/stride/internal/dispatch"
	"github.com/normanking/stride/internal/domain"
	"github.com/normanking/stride/internal/llm"
	"github.com/normanking/stride/internal/persona"
	"github.com/normanking/stride/internal/router"
	"github.com/normanking/stride/internal/store"
)

var engineNow = time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC)

// scripted is one canned generator response.
type scripted struct {
	resp *llm.ChatResponse
	err  error
}

// fakeGenerator replays scripted responses and records every request.
type fakeGenerator struct {
	script     []scripted
	calls      int
	categories []llm.TaskCategory
	requests   []*llm.ChatRequest
}

func (f *fakeGenerator) Execute(ctx context.Context, category llm.TaskCategory, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	f.categories = append(f.categories, category)
	f.requests = append(f.requests, req)
	if f.calls >= len(f.script) {
		return nil, &llm.ProviderExhaustedError{Attempts: []llm.AttemptError{}}
	}
	s := f.script[f.calls]
	f.calls++
	return s.resp, s.err
}

type fixture struct {
	engine *Engine
	gen    *fakeGenerator
	store  *store.Store
	router *router.Router
	domain *domain.Service
}

func newFixture(t *testing.T, script ...scripted) *fixture {
	t.Helper()

	cfg := config.Default()
	cfg.Persona.DefinitionsDir = ""

	st, err := store.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	rt := router.New(cfg.Routing)
	pe, err := persona.NewEngine(cfg.Persona)
	require.NoError(t, err)
	rc, err := cache.New(16, time.Minute, nil)
	require.NoError(t, err)

	svc := domain.NewService(st, domain.WithClock(func() time.Time { return engineNow }))
	d := dispatch.New(5 * time.Second)
	require.NoError(t, domain.RegisterFunctions(d, svc))

	gen := &fakeGenerator{script: script}
	e := New(cfg, rt, pe, rc, d, gen, st, svc,
		WithClock(func() time.Time { return engineNow }))

	return &fixture{engine: e, gen: gen, store: st, router: rt, domain: svc}
}

func textResponse(content string) scripted {
	return scripted{resp: &llm.ChatResponse{
		Content: content, Provider: "anthropic",
		TokensUsed: 50, PromptTokens: 40, CompletionTokens: 10,
	}}
}

func TestDirectTurnEndToEnd(t *testing.T) {
	f := newFixture(t, textResponse("Logged 2 eggs, about 140 kcal."))
	ctx := context.Background()

	result, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1", Message: "log 2 eggs",
	})
	require.NoError(t, err)
	assert.Equal(t, router.RouteDirectAI, result.Route)
	assert.Equal(t, "Logged 2 eggs, about 140 kcal.", result.Reply)
	assert.Equal(t, "anthropic", result.Provider)
	assert.False(t, result.Cached)
	assert.Contains(t, result.Topics, router.TopicNutrition)

	// Quick commands ride the cheap parsing chain without tools.
	require.Len(t, f.gen.categories, 1)
	assert.Equal(t, llm.TaskParsing, f.gen.categories[0])
	assert.Empty(t, f.gen.requests[0].Tools)

	msgs, err := f.store.RecentMessages(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
	assert.Equal(t, store.RoleAssistant, msgs[1].Role)
	assert.Equal(t, 50, msgs[1].TokenCount)
	assert.Greater(t, msgs[1].EstimatedCost, 0.0)
}

func TestIdenticalTurnServedFromCache(t *testing.T) {
	f := newFixture(t, textResponse("Here's a thought on creatine."))
	ctx := context.Background()

	message := "what do you think about creatine supplementation for recovery purposes"
	first, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1", Message: message,
	})
	require.NoError(t, err)
	assert.False(t, first.Cached)

	// Same question in a fresh conversation hits the cache.
	second, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c2", Message: message,
	})
	require.NoError(t, err)
	assert.True(t, second.Cached)
	assert.Equal(t, first.Reply, second.Reply)
	assert.Equal(t, "anthropic", second.Provider)
	assert.Equal(t, 1, f.gen.calls)
}

func TestFunctionCallingTurnExecutesAndFollowsUp(t *testing.T) {
	args, _ := json.Marshal(map[string]any{
		"description": "bench 100kg", "target": "100kg bench", "phase": "bulk",
	})
	toolTurn := scripted{resp: &llm.ChatResponse{
		Provider:     "anthropic",
		TokensUsed:   80,
		ToolCalls:    []llm.ToolCall{{Name: "update_goal", Arguments: args}},
		FinishReason: "tool_use",
	}}
	f := newFixture(t, toolTurn, textResponse("Goal locked in: bench 100kg."))
	ctx := context.Background()

	result, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1",
		Message: "help me plan my next block and adjust my goal to a 100kg bench",
	})
	require.NoError(t, err)
	assert.Equal(t, router.RouteFunctionCalling, result.Route)
	assert.Equal(t, "Goal locked in: bench 100kg.", result.Reply)
	require.Len(t, result.Functions, 1)
	assert.True(t, result.Functions[0].Success)
	assert.Equal(t, "update_goal", result.Functions[0].Name)

	// Tools offered on the first call, results in context on the second.
	require.Equal(t, 2, f.gen.calls)
	assert.NotEmpty(t, f.gen.requests[0].Tools)
	assert.Empty(t, f.gen.requests[1].Tools)
	followUp := f.gen.requests[1].Messages
	assert.Contains(t, followUp[len(followUp)-1].Content, "update_goal")

	// The function actually ran.
	goal, err := f.domain.ActiveGoal(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, goal)
	assert.Equal(t, "bench 100kg", goal.Description)

	// Chain state reflects the executed call.
	chain := f.router.Chain("c1")
	assert.True(t, chain.WorkflowActive)
	assert.Contains(t, chain.RecentFunctionNames, "update_goal")

	msgs, err := f.store.RecentMessages(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, store.TypeCommand, msgs[0].MessageType)
	assert.Equal(t, store.RoleFunction, msgs[1].Role)
	assert.Equal(t, "update_goal", msgs[1].FunctionCall)
	assert.Equal(t, store.RoleAssistant, msgs[2].Role)
}

func TestFunctionCallingTurnBypassesCache(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"name": "protein shake", "calories": 200})
	toolTurn := func() scripted {
		return scripted{resp: &llm.ChatResponse{
			Provider:  "anthropic",
			ToolCalls: []llm.ToolCall{{Name: "log_nutrition", Arguments: args}},
		}}
	}
	f := newFixture(t,
		toolTurn(), textResponse("Logged."),
		toolTurn(), textResponse("Logged again."))
	ctx := context.Background()

	message := "plan my shake intake and log a protein shake"
	_, err := f.engine.ProcessTurn(ctx, TurnInput{UserID: "u1", ConversationID: "c1", Message: message})
	require.NoError(t, err)
	_, err = f.engine.ProcessTurn(ctx, TurnInput{UserID: "u1", ConversationID: "c2", Message: message})
	require.NoError(t, err)

	// Both turns ran their side effects; nothing was served from cache.
	assert.Equal(t, 4, f.gen.calls)
	report, err := f.domain.QueryNutrition(ctx, "u1", 1, true)
	require.NoError(t, err)
	assert.Len(t, report.DailyData, 1)
	assert.Equal(t, 400.0, report.DailyData[0].Calories)
}

func TestHybridRouteCarriesManifestAndTools(t *testing.T) {
	f := newFixture(t, textResponse("Let's look at your week."))
	ctx := context.Background()

	result, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1",
		Message: "I have been feeling kind of off about everything lately you know",
	})
	require.NoError(t, err)
	assert.Equal(t, router.RouteHybrid, result.Route)

	// Hybrid turns list the functions in the prompt and declare them as
	// tools, so the model can still call one if the turn warrants it.
	assert.Contains(t, f.gen.requests[0].SystemPrompt, "query_workouts")
	assert.NotEmpty(t, f.gen.requests[0].Tools)
}

func TestHybridTurnDispatchesFunctionAndSkipsCache(t *testing.T) {
	args, _ := json.Marshal(map[string]any{"name": "protein shake", "calories": 200})
	toolTurn := func() scripted {
		return scripted{resp: &llm.ChatResponse{
			Provider:  "anthropic",
			ToolCalls: []llm.ToolCall{{Name: "log_nutrition", Arguments: args}},
		}}
	}
	f := newFixture(t,
		toolTurn(), textResponse("Logged it."),
		toolTurn(), textResponse("Logged it again."))
	ctx := context.Background()

	message := "I have been feeling kind of off about my eating lately you know"
	first, err := f.engine.ProcessTurn(ctx, TurnInput{UserID: "u1", ConversationID: "c1", Message: message})
	require.NoError(t, err)
	assert.Equal(t, router.RouteHybrid, first.Route)
	require.Len(t, first.Functions, 1)
	assert.Equal(t, "log_nutrition", first.Functions[0].Name)

	// A tool-calling response is never cached: the identical turn in a
	// fresh conversation dispatches again instead of replaying content.
	second, err := f.engine.ProcessTurn(ctx, TurnInput{UserID: "u1", ConversationID: "c2", Message: message})
	require.NoError(t, err)
	assert.False(t, second.Cached)
	require.Len(t, second.Functions, 1)
	assert.Equal(t, 4, f.gen.calls)

	report, err := f.domain.QueryNutrition(ctx, "u1", 1, true)
	require.NoError(t, err)
	require.Len(t, report.DailyData, 1)
	assert.Equal(t, 400.0, report.DailyData[0].Calories)
}

func TestProviderExhaustionDegradesGracefully(t *testing.T) {
	f := newFixture(t) // empty script: every call exhausts
	ctx := context.Background()

	result, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1", Message: "log 2 eggs",
	})
	require.NoError(t, err)
	assert.True(t, result.Degraded)
	assert.Equal(t, degradedReply, result.Reply)

	// The user message survives the failed generation.
	msgs, err := f.store.RecentMessages(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, store.RoleUser, msgs[0].Role)
}

func TestCancelledTurnKeepsUserMessage(t *testing.T) {
	f := newFixture(t, scripted{err: context.Canceled})
	ctx := context.Background()

	_, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1", Message: "log 2 eggs",
	})
	require.Error(t, err)

	msgs, err := f.store.RecentMessages(ctx, "u1", "c1", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "log 2 eggs", msgs[0].Content)
}

func TestGoalAppearsInPrompt(t *testing.T) {
	f := newFixture(t, textResponse("On track."))
	ctx := context.Background()

	_, err := f.domain.UpdateGoal(ctx, "u1", "bench 100kg", "100kg", "bulk")
	require.NoError(t, err)

	_, err = f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1",
		Message: "how is my progress toward my goal looking these days overall",
	})
	require.NoError(t, err)
	assert.Contains(t, f.gen.requests[0].SystemPrompt, "bench 100kg")
}

func TestStatsSnapshot(t *testing.T) {
	f := newFixture(t, textResponse("ok"))
	ctx := context.Background()

	_, err := f.engine.ProcessTurn(ctx, TurnInput{
		UserID: "u1", ConversationID: "c1", Message: "log 2 eggs",
	})
	require.NoError(t, err)

	stats := f.engine.Stats()
	assert.Equal(t, int64(1), stats.Router.TotalTurns)

	out, err := f.engine.MarshalStats()
	require.NoError(t, err)
	assert.Contains(t, out, "router")
}
