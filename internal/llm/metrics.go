package llm

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ProviderCostRates is cost per million tokens. Input and output differ
// for most cloud providers.
type ProviderCostRates struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// CostRates maps provider names to token costs in USD per million tokens.
// Local inference is free.
var CostRates = map[string]ProviderCostRates{
	"ollama":    {0.0, 0.0},
	"openai":    {2.50, 10.00},
	"anthropic": {3.00, 15.00},
	"gemini":    {0.075, 0.30},
}

// GetCostRate returns the cost rate for a provider. Unknown providers are
// assumed to carry moderate cloud pricing.
func GetCostRate(provider string) ProviderCostRates {
	if rate, ok := CostRates[provider]; ok {
		return rate
	}
	return ProviderCostRates{1.0, 2.0}
}

// IsLocalProvider returns true for free local inference.
func IsLocalProvider(provider string) bool {
	return provider == "ollama"
}

// EstimateCallCost estimates the USD cost of one call from token counts.
func EstimateCallCost(provider string, promptTokens, completionTokens int) float64 {
	rates := GetCostRate(provider)
	return float64(promptTokens)/1_000_000.0*rates.InputPerMillion +
		float64(completionTokens)/1_000_000.0*rates.OutputPerMillion
}

// MetricsProvider wraps a provider with timing, token, and cost tracking.
type MetricsProvider struct {
	provider Provider
	name     string
	log      zerolog.Logger

	totalCalls        int64
	totalErrors       int64
	totalTokens       int64
	totalInputTokens  int64
	totalOutputTokens int64

	mu               sync.RWMutex
	totalLatency     time.Duration
	minLatency       time.Duration
	maxLatency       time.Duration
	latencyBuckets   [6]int64 // <100ms, <500ms, <1s, <2s, <5s, 5s+
	estimatedCostUSD float64
}

// ProviderMetrics is a snapshot of one provider's counters.
type ProviderMetrics struct {
	Provider         string           `json:"provider"`
	IsLocal          bool             `json:"is_local"`
	TotalCalls       int64            `json:"total_calls"`
	TotalErrors      int64            `json:"total_errors"`
	ErrorRate        float64          `json:"error_rate"`
	TotalTokens      int64            `json:"total_tokens"`
	InputTokens      int64            `json:"input_tokens"`
	OutputTokens     int64            `json:"output_tokens"`
	EstimatedCostUSD float64          `json:"estimated_cost_usd"`
	AvgLatencyMs     int64            `json:"avg_latency_ms"`
	MinLatencyMs     int64            `json:"min_latency_ms"`
	MaxLatencyMs     int64            `json:"max_latency_ms"`
	LatencyHistogram map[string]int64 `json:"latency_histogram"`
}

// NewMetricsProvider wraps a provider with metrics collection.
func NewMetricsProvider(provider Provider, log zerolog.Logger) *MetricsProvider {
	return &MetricsProvider{
		provider:   provider,
		name:       provider.Name(),
		log:        log,
		minLatency: time.Hour, // replaced on first call
	}
}

// Chat implements Provider with metrics.
func (m *MetricsProvider) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	resp, err := m.provider.Chat(ctx, req)
	latency := time.Since(start)

	atomic.AddInt64(&m.totalCalls, 1)
	if err != nil {
		atomic.AddInt64(&m.totalErrors, 1)
	}

	m.mu.Lock()
	m.totalLatency += latency
	if latency < m.minLatency {
		m.minLatency = latency
	}
	if latency > m.maxLatency {
		m.maxLatency = latency
	}
	m.latencyBuckets[bucketFor(latency)]++
	m.mu.Unlock()

	var callCost float64
	if resp != nil && resp.TokensUsed > 0 {
		atomic.AddInt64(&m.totalTokens, int64(resp.TokensUsed))
		atomic.AddInt64(&m.totalInputTokens, int64(resp.PromptTokens))
		atomic.AddInt64(&m.totalOutputTokens, int64(resp.CompletionTokens))

		callCost = EstimateCallCost(m.name, resp.PromptTokens, resp.CompletionTokens)
		m.mu.Lock()
		m.estimatedCostUSD += callCost
		m.mu.Unlock()
	}

	if err != nil {
		m.log.Warn().Str("provider", m.name).Dur("latency", latency).Err(err).
			Msg("provider call failed")
	} else {
		tokens := 0
		if resp != nil {
			tokens = resp.TokensUsed
		}
		m.log.Debug().Str("provider", m.name).Dur("latency", latency).
			Int("tokens", tokens).Float64("cost_usd", callCost).
			Msg("provider call completed")
	}

	return resp, err
}

func bucketFor(latency time.Duration) int {
	switch {
	case latency < 100*time.Millisecond:
		return 0
	case latency < 500*time.Millisecond:
		return 1
	case latency < time.Second:
		return 2
	case latency < 2*time.Second:
		return 3
	case latency < 5*time.Second:
		return 4
	default:
		return 5
	}
}

// Name implements Provider.
func (m *MetricsProvider) Name() string {
	return m.name
}

// Available implements Provider.
func (m *MetricsProvider) Available() bool {
	return m.provider.Available()
}

// Unwrap returns the underlying provider.
func (m *MetricsProvider) Unwrap() Provider {
	return m.provider
}

// Metrics returns a snapshot of current counters.
func (m *MetricsProvider) Metrics() ProviderMetrics {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := atomic.LoadInt64(&m.totalCalls)
	errs := atomic.LoadInt64(&m.totalErrors)

	avgLatency := time.Duration(0)
	if calls > 0 {
		avgLatency = m.totalLatency / time.Duration(calls)
	}
	errorRate := float64(0)
	if calls > 0 {
		errorRate = float64(errs) / float64(calls)
	}
	minLatency := m.minLatency
	if calls == 0 {
		minLatency = 0
	}

	return ProviderMetrics{
		Provider:         m.name,
		IsLocal:          IsLocalProvider(m.name),
		TotalCalls:       calls,
		TotalErrors:      errs,
		ErrorRate:        errorRate,
		TotalTokens:      atomic.LoadInt64(&m.totalTokens),
		InputTokens:      atomic.LoadInt64(&m.totalInputTokens),
		OutputTokens:     atomic.LoadInt64(&m.totalOutputTokens),
		EstimatedCostUSD: m.estimatedCostUSD,
		AvgLatencyMs:     avgLatency.Milliseconds(),
		MinLatencyMs:     minLatency.Milliseconds(),
		MaxLatencyMs:     m.maxLatency.Milliseconds(),
		LatencyHistogram: map[string]int64{
			"<100ms": m.latencyBuckets[0],
			"<500ms": m.latencyBuckets[1],
			"<1s":    m.latencyBuckets[2],
			"<2s":    m.latencyBuckets[3],
			"<5s":    m.latencyBuckets[4],
			"5s+":    m.latencyBuckets[5],
		},
	}
}
