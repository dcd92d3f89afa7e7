package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/stride/internal/config"
)

// TaskCategory classifies what a request needs from a model. Cheaper,
// faster models serve parsing and classification; conversation goes to the
// strongest available provider.
type TaskCategory string

const (
	TaskParsing        TaskCategory = "parsing"
	TaskConversation   TaskCategory = "conversation"
	TaskClassification TaskCategory = "classification"
)

// String returns the category name.
func (t TaskCategory) String() string {
	return string(t)
}

// Orchestrator selects a provider per request and executes with fallback.
// Per request the flow is select, call, and on retryable failure move to
// the next candidate until the chain is exhausted.
type Orchestrator struct {
	cfg       config.LLMConfig
	providers map[string]Provider
	health    *healthTracker
	log       zerolog.Logger
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the orchestrator logger.
func WithLogger(log zerolog.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		o.log = log
	}
}

// NewOrchestrator creates an orchestrator over the given providers.
func NewOrchestrator(cfg config.LLMConfig, providers map[string]Provider, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		cfg:       cfg,
		providers: providers,
		health:    newHealthTracker(cfg.HealthWindow),
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// candidates returns the ordered provider names for a task category.
func (o *Orchestrator) candidates(category TaskCategory) []string {
	if chain, ok := o.cfg.Fallback[category.String()]; ok && len(chain) > 0 {
		return chain
	}
	if o.cfg.DefaultProvider != "" {
		return []string{o.cfg.DefaultProvider}
	}
	names := make([]string, 0, len(o.providers))
	for name := range o.providers {
		names = append(names, name)
	}
	return names
}

// Execute runs the request against the category's fallback chain. Every
// provider failure is recorded and the next candidate tried; on exhaustion
// the caller gets a ProviderExhaustedError listing each attempt, never a
// silent empty result.
func (o *Orchestrator) Execute(ctx context.Context, category TaskCategory, req *ChatRequest) (*ChatResponse, error) {
	chain := o.candidates(category)
	var attempts []AttemptError

	for i, name := range chain {
		last := i == len(chain)-1

		provider, ok := o.providers[name]
		if !ok {
			attempts = append(attempts, AttemptError{Provider: name, Err: fmt.Errorf("not configured: %w", ErrProviderUnavailable)})
			continue
		}
		if !provider.Available() {
			attempts = append(attempts, AttemptError{Provider: name, Err: ErrProviderUnavailable})
			continue
		}

		// Route around an unhealthy provider unless it is the only
		// remaining option.
		if rate := o.health.errorRate(name); !last && rate > o.cfg.ErrorRateThreshold {
			o.log.Debug().Str("provider", name).Float64("error_rate", rate).
				Msg("skipping unhealthy provider")
			attempts = append(attempts, AttemptError{Provider: name,
				Err: fmt.Errorf("error rate %.0f%% over threshold: %w", rate*100, ErrProviderUnavailable)})
			continue
		}

		// Apply the cost ceiling, again keeping the last candidate
		// eligible so cost never causes an empty answer.
		if cost := o.estimateCost(name, req); !last && o.cfg.CostCeilingUSD > 0 && cost > o.cfg.CostCeilingUSD {
			o.log.Debug().Str("provider", name).Float64("estimated_cost", cost).
				Msg("skipping provider over cost ceiling")
			attempts = append(attempts, AttemptError{Provider: name,
				Err: fmt.Errorf("estimated cost $%.4f over ceiling: %w", cost, ErrProviderUnavailable)})
			continue
		}

		resp, err := o.call(ctx, provider, req)
		if err == nil {
			o.health.record(name, true)
			return resp, nil
		}
		o.health.record(name, false)
		attempts = append(attempts, AttemptError{Provider: name, Err: err})

		if ctx.Err() != nil {
			// The caller cancelled; do not burn through the rest of
			// the chain.
			break
		}
		o.log.Warn().Str("provider", name).Str("category", category.String()).Err(err).
			Msg("provider failed, trying next")
	}

	return nil, &ProviderExhaustedError{Attempts: attempts}
}

// call runs one provider attempt under the configured timeout. A request
// rejected while carrying a provider session is retried once without it;
// other failures (timeouts, server faults) go straight to fallback.
func (o *Orchestrator) call(ctx context.Context, provider Provider, req *ChatRequest) (*ChatResponse, error) {
	timeout := o.cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := provider.Chat(callCtx, req)
	if err != nil && req.SessionID != "" && ctx.Err() == nil && sessionRejected(err) {
		o.log.Debug().Str("provider", provider.Name()).
			Msg("retrying without provider session")
		fresh := *req
		fresh.SessionID = ""
		retryCtx, retryCancel := context.WithTimeout(ctx, timeout)
		defer retryCancel()
		return provider.Chat(retryCtx, &fresh)
	}
	return resp, err
}

// estimateCost projects the worst-case cost of one call: the prompt at its
// actual size plus a full MaxTokens completion.
func (o *Orchestrator) estimateCost(provider string, req *ChatRequest) float64 {
	promptChars := len(req.SystemPrompt)
	for _, msg := range req.Messages {
		promptChars += len(msg.Content)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}
	return EstimateCallCost(provider, promptChars/4, maxTokens)
}

// ProviderMetrics returns metric snapshots for every wrapped provider.
func (o *Orchestrator) ProviderMetrics() map[string]ProviderMetrics {
	out := make(map[string]ProviderMetrics)
	for name, provider := range o.providers {
		if mp, ok := provider.(*MetricsProvider); ok {
			out[name] = mp.Metrics()
		}
	}
	return out
}
