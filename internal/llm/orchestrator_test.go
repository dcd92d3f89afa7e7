package llm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/stride/internal/config"
)

// fakeProvider is a scriptable in-memory provider.
type fakeProvider struct {
	name      string
	available bool
	err       error
	content   string
	calls     int
	lastReq   *ChatRequest
}

func (f *fakeProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &ChatResponse{Content: f.content, Provider: f.name, TokensUsed: 10}, nil
}

func (f *fakeProvider) Name() string    { return f.name }
func (f *fakeProvider) Available() bool { return f.available }

func testLLMConfig(chain ...string) config.LLMConfig {
	return config.LLMConfig{
		DefaultProvider:    chain[0],
		Fallback:           map[string][]string{"conversation": chain},
		ErrorRateThreshold: 0.5,
		HealthWindow:       10,
		RequestTimeout:     time.Second,
	}
}

func TestExecuteFirstProviderWins(t *testing.T) {
	first := &fakeProvider{name: "anthropic", available: true, content: "hi"}
	second := &fakeProvider{name: "gemini", available: true, content: "fallback"}
	o := NewOrchestrator(testLLMConfig("anthropic", "gemini"), map[string]Provider{
		"anthropic": first, "gemini": second,
	})

	resp, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, 1, first.calls)
	assert.Zero(t, second.calls)
}

func TestExecuteFallsBackOnFailure(t *testing.T) {
	first := &fakeProvider{name: "anthropic", available: true, err: errors.New("rate limited")}
	second := &fakeProvider{name: "gemini", available: true, content: "fallback"}
	o := NewOrchestrator(testLLMConfig("anthropic", "gemini"), map[string]Provider{
		"anthropic": first, "gemini": second,
	})

	resp, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "fallback", resp.Content)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 1, second.calls)
}

func TestExecuteSkipsUnavailableProvider(t *testing.T) {
	first := &fakeProvider{name: "anthropic", available: false}
	second := &fakeProvider{name: "gemini", available: true, content: "ok"}
	o := NewOrchestrator(testLLMConfig("anthropic", "gemini"), map[string]Provider{
		"anthropic": first, "gemini": second,
	})

	resp, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Zero(t, first.calls)
}

func TestExecuteExhaustionListsAttempts(t *testing.T) {
	first := &fakeProvider{name: "anthropic", available: true, err: errors.New("overloaded")}
	second := &fakeProvider{name: "gemini", available: true, err: errors.New("quota exceeded")}
	o := NewOrchestrator(testLLMConfig("anthropic", "gemini"), map[string]Provider{
		"anthropic": first, "gemini": second,
	})

	resp, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	assert.Nil(t, resp)

	var exhausted *ProviderExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Len(t, exhausted.Attempts, 2)
	assert.Equal(t, "all providers failed: anthropic: overloaded; gemini: quota exceeded", err.Error())
}

func TestExecuteRoutesAroundUnhealthyProvider(t *testing.T) {
	flaky := &fakeProvider{name: "anthropic", available: true, err: errors.New("boom")}
	steady := &fakeProvider{name: "gemini", available: true, content: "ok"}
	o := NewOrchestrator(testLLMConfig("anthropic", "gemini"), map[string]Provider{
		"anthropic": flaky, "gemini": steady,
	})

	// Drive the flaky provider's rolling error rate over the threshold.
	for i := 0; i < 5; i++ {
		_, _ = o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	}
	callsBefore := flaky.calls

	_, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, callsBefore, flaky.calls, "unhealthy provider should be skipped")
}

func TestExecuteLastCandidateIgnoresHealthSkip(t *testing.T) {
	only := &fakeProvider{name: "anthropic", available: true, err: errors.New("down")}
	o := NewOrchestrator(testLLMConfig("anthropic"), map[string]Provider{"anthropic": only})

	for i := 0; i < 5; i++ {
		_, _ = o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	}

	// Even at 100% error rate the sole candidate is still attempted.
	before := only.calls
	_, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{})
	assert.Error(t, err)
	assert.Equal(t, before+1, only.calls)
}

func TestExecuteCostCeilingSkipsExpensiveProvider(t *testing.T) {
	cfg := testLLMConfig("anthropic", "ollama")
	cfg.CostCeilingUSD = 0.001
	expensive := &fakeProvider{name: "anthropic", available: true, content: "pricey"}
	free := &fakeProvider{name: "ollama", available: true, content: "local"}
	o := NewOrchestrator(cfg, map[string]Provider{"anthropic": expensive, "ollama": free})

	resp, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{
		SystemPrompt: "a very long prompt that costs real money on cloud providers",
		MaxTokens:    4096,
	})
	require.NoError(t, err)
	assert.Equal(t, "local", resp.Content)
	assert.Zero(t, expensive.calls)
}

func TestExecuteStaleSessionRetriedOnce(t *testing.T) {
	p := &staleSessionProvider{fakeProvider: fakeProvider{name: "gemini", available: true, content: "fresh"}}
	o := NewOrchestrator(testLLMConfig("gemini"), map[string]Provider{"gemini": p})

	resp, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{SessionID: "stale-session"})
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Content)
	assert.Equal(t, 2, p.calls)
	assert.Empty(t, p.lastReq.SessionID)
}

// staleSessionProvider rejects any request carrying a session id.
type staleSessionProvider struct {
	fakeProvider
}

func (p *staleSessionProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	p.calls++
	p.lastReq = req
	if req.SessionID != "" {
		return nil, &StatusError{Provider: p.name, Code: 404, Body: "session not found"}
	}
	return &ChatResponse{Content: p.content, Provider: p.name}, nil
}

func TestExecuteServerFaultNotRetriedWithoutSession(t *testing.T) {
	p := &fakeProvider{name: "gemini", available: true,
		err: &StatusError{Provider: "gemini", Code: 500, Body: "overloaded"}}
	o := NewOrchestrator(testLLMConfig("gemini"), map[string]Provider{"gemini": p})

	_, err := o.Execute(context.Background(), TaskConversation, &ChatRequest{SessionID: "live-session"})
	assert.Error(t, err)

	// Only session rejections warrant a session-less retry.
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, "live-session", p.lastReq.SessionID)
}

func TestExecuteCancelledContextStopsChain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	first := &fakeProvider{name: "anthropic", available: true, err: context.Canceled}
	second := &fakeProvider{name: "gemini", available: true, content: "never"}
	o := NewOrchestrator(testLLMConfig("anthropic", "gemini"), map[string]Provider{
		"anthropic": first, "gemini": second,
	})

	cancel()
	_, err := o.Execute(ctx, TaskConversation, &ChatRequest{})
	assert.Error(t, err)
	assert.Zero(t, second.calls, "cancelled request should not fall through the chain")
}

func TestCandidatesFallsBackToDefaultProvider(t *testing.T) {
	cfg := testLLMConfig("anthropic")
	p := &fakeProvider{name: "anthropic", available: true, content: "ok"}
	o := NewOrchestrator(cfg, map[string]Provider{"anthropic": p})

	// Category with no explicit chain uses the default provider.
	resp, err := o.Execute(context.Background(), TaskParsing, &ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
}

func TestMetricsProviderTracksCalls(t *testing.T) {
	inner := &fakeProvider{name: "anthropic", available: true, content: "ok"}
	mp := NewMetricsProvider(inner, zerolog.Nop())

	_, err := mp.Chat(context.Background(), &ChatRequest{})
	require.NoError(t, err)

	inner.err = errors.New("boom")
	_, err = mp.Chat(context.Background(), &ChatRequest{})
	require.Error(t, err)

	m := mp.Metrics()
	assert.Equal(t, int64(2), m.TotalCalls)
	assert.Equal(t, int64(1), m.TotalErrors)
	assert.InDelta(t, 0.5, m.ErrorRate, 1e-9)
	assert.Equal(t, int64(10), m.TotalTokens)
}

func TestEstimateCallCost(t *testing.T) {
	assert.Zero(t, EstimateCallCost("ollama", 1_000_000, 1_000_000))
	assert.InDelta(t, 18.0, EstimateCallCost("anthropic", 1_000_000, 1_000_000), 1e-9)
}
