// Package router decides how each user turn is processed: straight to the
// model, through the function-calling pipeline, or a hybrid of both. It
// also tracks per-conversation chain state so multi-step workflows are not
// broken mid-stream by a cheaper route.
package router

import (
	"errors"
	"time"
)

// Route is the processing strategy for one user turn. It is recomputed on
// every turn and never persisted.
type Route string

const (
	// RouteFunctionCalling sends the turn through tool declaration and
	// dispatch. Used for planning, analysis, and active workflows.
	RouteFunctionCalling Route = "function_calling"
	// RouteDirectAI sends a lean prompt with no function manifest.
	// Used for short, clearly bounded requests.
	RouteDirectAI Route = "direct_ai"
	// RouteHybrid attempts direct generation but keeps the compact
	// function manifest available so the model can still escalate.
	RouteHybrid Route = "hybrid"
)

// String returns the route name.
func (r Route) String() string {
	return string(r)
}

// ErrRoutingAmbiguous marks a turn no heuristic claimed. It is advisory:
// the decision still carries RouteHybrid and callers may ignore it.
var ErrRoutingAmbiguous = errors.New("routing ambiguous, defaulting to hybrid")

// ChainContext is the short-lived per-conversation workflow state. The
// router owns all mutation; callers read snapshots.
type ChainContext struct {
	// RecentFunctionNames holds the most recent executed function names,
	// oldest first, bounded by the configured limit.
	RecentFunctionNames []string `json:"recent_function_names"`

	// ChainProbability estimates how likely the next turn continues the
	// workflow, in [0, 1].
	ChainProbability float64 `json:"chain_probability"`

	// WorkflowActive is set once a function executes and cleared after
	// the idle decay empties the chain.
	WorkflowActive bool `json:"workflow_active"`

	// IdleTurns counts consecutive turns without a function call.
	IdleTurns int `json:"idle_turns"`
}

// clone returns a deep copy so callers cannot alias internal state.
func (c *ChainContext) clone() ChainContext {
	out := *c
	out.RecentFunctionNames = append([]string(nil), c.RecentFunctionNames...)
	return out
}

// Decision is the outcome of routing one turn.
type Decision struct {
	// Route is the chosen processing strategy.
	Route Route `json:"route"`

	// Reason names the heuristic that fired, for logging and tuning.
	Reason string `json:"reason"`

	// Topics are the detected subject areas of the message, most
	// relevant first, at most two.
	Topics []Topic `json:"topics,omitempty"`

	// Chain is a snapshot of the conversation's chain state at decision
	// time.
	Chain ChainContext `json:"chain"`

	// DecidedAt is when the decision was made.
	DecidedAt time.Time `json:"decided_at"`

	// Duration is how long the decision took.
	Duration time.Duration `json:"duration"`
}

// Stats tracks routing outcomes for monitoring and threshold tuning.
type Stats struct {
	TotalTurns         int64           `json:"total_turns"`
	ChainContinuations int64           `json:"chain_continuations"`
	WorkflowHits       int64           `json:"workflow_hits"`
	SimpleHits         int64           `json:"simple_hits"`
	AmbiguousTurns     int64           `json:"ambiguous_turns"`
	RouteDistribution  map[Route]int64 `json:"route_distribution"`
}

// HybridShare returns the percentage of turns that fell through to hybrid.
func (s *Stats) HybridShare() float64 {
	if s.TotalTurns == 0 {
		return 0
	}
	return float64(s.RouteDistribution[RouteHybrid]) / float64(s.TotalTurns) * 100
}
