package router

import (
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/stride/internal/config"
)

// Router chooses a Route per turn and maintains chain state per
// conversation. Concurrent turns of the same conversation should not
// happen, but chain access is serialized anyway.
type Router struct {
	cfg              config.RoutingConfig
	workflowPatterns []*regexp.Regexp
	topics           *topicDetector
	log              zerolog.Logger

	mu     sync.Mutex
	chains map[string]*ChainContext
	stats  Stats
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the router logger.
func WithLogger(log zerolog.Logger) Option {
	return func(r *Router) {
		r.log = log
	}
}

// New creates a router from config. Invalid workflow patterns are skipped.
func New(cfg config.RoutingConfig, opts ...Option) *Router {
	r := &Router{
		cfg:    cfg,
		topics: newTopicDetector(),
		log:    zerolog.Nop(),
		chains: make(map[string]*ChainContext),
		stats:  Stats{RouteDistribution: make(map[Route]int64)},
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, pattern := range cfg.WorkflowPatterns {
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			r.log.Warn().Str("pattern", pattern).Err(err).Msg("skipping workflow pattern")
			continue
		}
		r.workflowPatterns = append(r.workflowPatterns, re)
	}
	return r
}

// Route decides the processing strategy for one turn of a conversation.
// It never fails: every message gets a route, with ambiguity reported as
// the advisory ErrRoutingAmbiguous alongside a hybrid decision.
func (r *Router) Route(conversationID, message string) (Decision, error) {
	r.mu.Lock()
	chain := r.chain(conversationID).clone()
	prevTopics := r.topics.previous(conversationID)
	r.mu.Unlock()

	decision, ambiguous := r.Decide(message, chain, prevTopics)

	r.mu.Lock()
	r.topics.remember(conversationID, decision.Topics)
	r.stats.TotalTurns++
	r.stats.RouteDistribution[decision.Route]++
	switch decision.Reason {
	case reasonChainActive:
		r.stats.ChainContinuations++
	case reasonWorkflowSignal:
		r.stats.WorkflowHits++
	case reasonSimpleSignal:
		r.stats.SimpleHits++
	}
	if ambiguous {
		r.stats.AmbiguousTurns++
	}
	r.mu.Unlock()

	r.log.Debug().
		Str("conversation", conversationID).
		Str("route", decision.Route.String()).
		Str("reason", decision.Reason).
		Float64("chain_probability", chain.ChainProbability).
		Msg("turn routed")

	if ambiguous {
		return decision, ErrRoutingAmbiguous
	}
	return decision, nil
}

const (
	reasonChainActive    = "active_chain"
	reasonWorkflowSignal = "workflow_signal"
	reasonSimpleSignal   = "simple_signal"
	reasonFallthrough    = "no_signal"
)

// Decide is the pure routing core: same (message, chain) in, same decision
// out. Priority order, first match wins.
func (r *Router) Decide(message string, chain ChainContext, prevTopics []Topic) (Decision, bool) {
	start := time.Now()
	trimmed := strings.TrimSpace(message)
	lower := strings.ToLower(trimmed)
	topics := r.topics.detect(lower, prevTopics)

	build := func(route Route, reason string) Decision {
		return Decision{
			Route:     route,
			Reason:    reason,
			Topics:    topics,
			Chain:     chain,
			DecidedAt: time.Now().UTC(),
			Duration:  time.Since(start),
		}
	}

	// 1. Preserve an in-progress multi-step workflow.
	if chain.WorkflowActive && chain.ChainProbability > r.cfg.ChainThreshold {
		return build(RouteFunctionCalling, reasonChainActive), false
	}

	// 2. Complex-workflow signals, any message length.
	if r.matchesWorkflow(lower) {
		return build(RouteFunctionCalling, reasonWorkflowSignal), false
	}

	// 3. Short action-verb messages parse fine without tools.
	if len(trimmed) <= r.cfg.SimpleMaxChars && r.hasSimpleVerbPrefix(lower) {
		return build(RouteDirectAI, reasonSimpleSignal), false
	}

	// 4. Nothing claimed the turn: hybrid, flagged ambiguous.
	return build(RouteHybrid, reasonFallthrough), true
}

func (r *Router) matchesWorkflow(lower string) bool {
	for _, kw := range r.cfg.WorkflowKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	for _, re := range r.workflowPatterns {
		if re.MatchString(lower) {
			return true
		}
	}
	return false
}

func (r *Router) hasSimpleVerbPrefix(lower string) bool {
	for _, verb := range r.cfg.SimpleVerbs {
		if strings.HasPrefix(lower, verb+" ") || lower == verb {
			return true
		}
	}
	return false
}

// RecordFunctionCall notes that a function executed this turn: the name is
// pushed onto the bounded recent list and chain probability rises toward 1.
func (r *Router) RecordFunctionCall(conversationID, functionName string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.chain(conversationID)
	chain.RecentFunctionNames = append(chain.RecentFunctionNames, functionName)
	if limit := r.cfg.RecentFunctionLimit; limit > 0 && len(chain.RecentFunctionNames) > limit {
		chain.RecentFunctionNames = chain.RecentFunctionNames[len(chain.RecentFunctionNames)-limit:]
	}
	chain.ChainProbability = min(1.0, chain.ChainProbability+r.cfg.ChainIncrement)
	chain.WorkflowActive = true
	chain.IdleTurns = 0
}

// RecordIdleTurn notes a turn that completed without a function call.
// After the configured number of consecutive idle turns the probability
// decays; once it drains, the workflow is considered over.
func (r *Router) RecordIdleTurn(conversationID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	chain := r.chain(conversationID)
	chain.IdleTurns++
	if chain.IdleTurns < r.cfg.ChainIdleTurns {
		return
	}
	chain.ChainProbability = max(0, chain.ChainProbability-r.cfg.ChainDecay)
	if chain.ChainProbability == 0 {
		chain.WorkflowActive = false
		chain.RecentFunctionNames = nil
	}
}

// Chain returns a snapshot of a conversation's chain state.
func (r *Router) Chain(conversationID string) ChainContext {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.chain(conversationID).clone()
}

// chain returns the mutable chain for a conversation, creating it on first
// use. Callers must hold r.mu.
func (r *Router) chain(conversationID string) *ChainContext {
	c, ok := r.chains[conversationID]
	if !ok {
		c = &ChainContext{}
		r.chains[conversationID] = c
	}
	return c
}

// Stats returns a snapshot of routing counters.
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	dist := make(map[Route]int64, len(r.stats.RouteDistribution))
	for k, v := range r.stats.RouteDistribution {
		dist[k] = v
	}
	out := r.stats
	out.RouteDistribution = dist
	return out
}
