// Package engine runs the coaching turn pipeline: persist the user message,
// route it, build the persona prompt, generate a response with caching and
// provider fallback, execute any requested functions, and persist the reply.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/stride/internal/cache"
	"github.com/normanking/stride/internal/config"
	"github.com/normanking/stride/internal/dispatch"
	"github.com/normanking/stride/internal/domain"
	"github.com/normanking/stride/internal/fingerprint"
	"github.com/normanking/stride/internal/llm"
	"github.com/normanking/stride/internal/persona"
	"github.com/normanking/stride/internal/router"
	"github.com/normanking/stride/internal/store"
)

// degradedReply is returned when every provider in the fallback chain fails.
const degradedReply = "I'm having trouble reaching my coaching models right now. Your message is saved; please try again in a moment."

// Generator produces model responses with fallback. *llm.Orchestrator
// satisfies it.
type Generator interface {
	Execute(ctx context.Context, category llm.TaskCategory, req *llm.ChatRequest) (*llm.ChatResponse, error)
}

// TurnInput is one user turn.
type TurnInput struct {
	UserID         string
	ConversationID string
	Message        string

	// Mode selects the persona; empty uses the configured default.
	Mode persona.Mode

	// Health is the latest device snapshot, if any.
	Health *persona.HealthSnapshot
}

// FunctionOutcome records one dispatched call within a turn.
type FunctionOutcome struct {
	Name     string `json:"name"`
	Success  bool   `json:"success"`
	Error    string `json:"error,omitempty"`
	Duration time.Duration
}

// TurnResult is the outcome of one processed turn.
type TurnResult struct {
	Reply     string            `json:"reply"`
	Route     router.Route      `json:"route"`
	Topics    []router.Topic    `json:"topics,omitempty"`
	Provider  string            `json:"provider,omitempty"`
	Tokens    int               `json:"tokens,omitempty"`
	CostUSD   float64           `json:"cost_usd,omitempty"`
	Cached    bool              `json:"cached,omitempty"`
	Degraded  bool              `json:"degraded,omitempty"`
	Functions []FunctionOutcome `json:"functions,omitempty"`
}

// Engine is the turn pipeline. All collaborators are injected.
type Engine struct {
	cfg        *config.Config
	router     *router.Router
	persona    *persona.Engine
	cache      *cache.ResponseCache
	dispatcher *dispatch.Dispatcher
	generator  Generator
	store      *store.Store
	domain     *domain.Service
	log        zerolog.Logger
	now        func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(log zerolog.Logger) Option {
	return func(e *Engine) {
		e.log = log
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		e.now = now
	}
}

// New wires the turn pipeline.
func New(cfg *config.Config, rt *router.Router, pe *persona.Engine, rc *cache.ResponseCache,
	d *dispatch.Dispatcher, gen Generator, st *store.Store, svc *domain.Service, opts ...Option) *Engine {
	e := &Engine{
		cfg:        cfg,
		router:     rt,
		persona:    pe,
		cache:      rc,
		dispatcher: d,
		generator:  gen,
		store:      st,
		domain:     svc,
		log:        zerolog.Nop(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ProcessTurn runs one user turn end to end. The user message is persisted
// before generation and survives any later failure or cancellation.
func (e *Engine) ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if in.UserID == "" || in.ConversationID == "" {
		return nil, fmt.Errorf("user id and conversation id are required")
	}
	if strings.TrimSpace(in.Message) == "" {
		return nil, fmt.Errorf("message is empty")
	}

	userMsg := &store.Message{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Role:           store.RoleUser,
		Content:        in.Message,
	}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return nil, fmt.Errorf("persist user message: %w", err)
	}

	decision, routeErr := e.router.Route(in.ConversationID, in.Message)
	if routeErr != nil && errors.Is(routeErr, router.ErrRoutingAmbiguous) {
		e.log.Debug().Str("conversation_id", in.ConversationID).Msg("ambiguous turn, using hybrid")
	}
	e.log.Debug().Str("route", decision.Route.String()).Str("reason", decision.Reason).
		Str("conversation_id", in.ConversationID).Msg("turn routed")

	history, err := e.history(ctx, in, userMsg.ID)
	if err != nil {
		return nil, err
	}

	prompt := e.persona.BuildPrompt(persona.PromptInput{
		Mode:          in.Mode,
		Goal:          e.goal(ctx, in.UserID),
		Health:        in.Health,
		History:       history,
		Functions:     e.manifest(decision.Route),
		ContextBlocks: e.contextBlocks(ctx, in, decision.Topics),
		Now:           e.now(),
	})

	req := &llm.ChatRequest{
		SystemPrompt: prompt,
		Messages:     e.chatMessages(history, in.Message),
	}
	if decision.Route == router.RouteFunctionCalling ||
		(decision.Route == router.RouteHybrid && e.cfg.Routing.HybridManifest) {
		req.Tools = e.toolSpecs()
	}

	tags := []string{"responses", "user:" + in.UserID}
	resp, cached, err := e.generate(ctx, decision.Route, req, tags)
	if err != nil {
		var exhausted *llm.ProviderExhaustedError
		if errors.As(err, &exhausted) {
			e.log.Error().Err(exhausted).Msg("all providers failed, degrading")
			return &TurnResult{
				Reply:    degradedReply,
				Route:    decision.Route,
				Topics:   decision.Topics,
				Degraded: true,
			}, nil
		}
		return nil, err
	}

	result := &TurnResult{
		Route:    decision.Route,
		Topics:   decision.Topics,
		Provider: resp.Provider,
		Tokens:   resp.TokensUsed,
		Cached:   cached,
	}

	if len(resp.ToolCalls) > 0 {
		resp, err = e.runFunctions(ctx, in, req, resp, result)
		if err != nil {
			return nil, err
		}
		if err := e.store.ClassifyMessage(ctx, in.UserID, userMsg.ID, store.TypeCommand); err != nil {
			e.log.Warn().Err(err).Msg("classify user message failed")
		}
	} else {
		e.router.RecordIdleTurn(in.ConversationID)
	}

	result.Reply = resp.Content
	result.Provider = resp.Provider
	result.Tokens += respTokens(resp, result)
	result.CostUSD = llm.EstimateCallCost(resp.Provider, resp.PromptTokens, resp.CompletionTokens)

	assistantMsg := &store.Message{
		ConversationID: in.ConversationID,
		UserID:         in.UserID,
		Role:           store.RoleAssistant,
		Content:        result.Reply,
		TokenCount:     result.Tokens,
		EstimatedCost:  result.CostUSD,
	}
	if err := e.store.AppendMessage(ctx, assistantMsg); err != nil {
		return nil, fmt.Errorf("persist assistant message: %w", err)
	}

	return result, nil
}

// cachedEntry is the JSON envelope stored in the response cache, so a
// replayed reply keeps its provider attribution.
type cachedEntry struct {
	Content  string `json:"content"`
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

// errUncacheable marks a response that must not be stored: replaying it
// would skip the function dispatch it asked for.
var errUncacheable = errors.New("response requests function calls")

// generate runs the model call, through the response cache except on
// function-calling turns, whose side effects must always execute. Hybrid
// turns use the cache, but a hybrid response that requests function calls
// is never stored, so repeating the turn dispatches again.
func (e *Engine) generate(ctx context.Context, route router.Route, req *llm.ChatRequest, tags []string) (*llm.ChatResponse, bool, error) {
	category := llm.TaskConversation
	if route == router.RouteDirectAI {
		category = llm.TaskParsing
	}

	if route == router.RouteFunctionCalling || e.cache == nil {
		resp, err := e.generator.Execute(ctx, category, req)
		return resp, false, err
	}

	key := e.fingerprintKey(req)
	var fresh *llm.ChatResponse
	payload, err := e.cache.GetOrCompute(ctx, key, e.cfg.Cache.DefaultTTL, tags, func(cctx context.Context) (string, error) {
		resp, err := e.generator.Execute(cctx, category, req)
		if err != nil {
			return "", err
		}
		fresh = resp
		if len(resp.ToolCalls) > 0 {
			return "", errUncacheable
		}
		raw, err := json.Marshal(cachedEntry{Content: resp.Content, Provider: resp.Provider, Model: resp.Model})
		if err != nil {
			return "", fmt.Errorf("encode cache entry: %w", err)
		}
		return string(raw), nil
	})
	if err != nil {
		if errors.Is(err, errUncacheable) {
			if fresh != nil {
				return fresh, false, nil
			}
			// A concurrent identical turn computed the uncacheable
			// response; run our own so the dispatch still happens.
			resp, execErr := e.generator.Execute(ctx, category, req)
			return resp, false, execErr
		}
		var compute *cache.ComputeError
		if errors.As(err, &compute) {
			return nil, false, compute.Err
		}
		return nil, false, err
	}
	if fresh != nil {
		return fresh, false, nil
	}
	var entry cachedEntry
	if unmarshalErr := json.Unmarshal([]byte(payload), &entry); unmarshalErr != nil {
		return &llm.ChatResponse{Content: payload}, true, nil
	}
	return &llm.ChatResponse{Content: entry.Content, Provider: entry.Provider, Model: entry.Model}, true, nil
}

// runFunctions dispatches every requested call, persists their results as
// function-role messages, and issues one follow-up generation so the model
// can phrase the outcome.
func (e *Engine) runFunctions(ctx context.Context, in TurnInput, req *llm.ChatRequest, resp *llm.ChatResponse, result *TurnResult) (*llm.ChatResponse, error) {
	call := dispatch.CallerContext{UserID: in.UserID, ConversationID: in.ConversationID}

	var resultLines []string
	for _, tc := range resp.ToolCalls {
		res, dispatchErr := e.dispatcher.Dispatch(ctx, tc.Name, tc.Arguments, call)

		outcome := FunctionOutcome{Name: tc.Name, Success: res.Success, Duration: res.Duration}
		content := res.Payload
		if dispatchErr != nil {
			outcome.Error = res.Error
			content = res.Error
		} else {
			e.router.RecordFunctionCall(in.ConversationID, tc.Name)
		}
		result.Functions = append(result.Functions, outcome)

		fnMsg := &store.Message{
			ConversationID: in.ConversationID,
			UserID:         in.UserID,
			Role:           store.RoleFunction,
			Content:        content,
			FunctionCall:   tc.Name,
			MessageType:    store.TypeCommand,
		}
		if err := e.store.AppendMessage(ctx, fnMsg); err != nil {
			return nil, fmt.Errorf("persist function result: %w", err)
		}

		resultLines = append(resultLines, fmt.Sprintf("%s: %s", tc.Name, content))
	}

	// Follow-up generation with results in context, no tools offered.
	followUp := &llm.ChatRequest{
		SystemPrompt: req.SystemPrompt,
		SessionID:    resp.SessionID,
		Messages: append(append([]llm.Message{}, req.Messages...), llm.Message{
			Role: "user",
			Content: "Function results:\n" + strings.Join(resultLines, "\n") +
				"\nSummarize the outcome for the user in your coaching voice.",
		}),
	}
	final, err := e.generator.Execute(ctx, llm.TaskConversation, followUp)
	if err != nil {
		var exhausted *llm.ProviderExhaustedError
		if errors.As(err, &exhausted) {
			// The functions already ran; report their outcome plainly.
			return &llm.ChatResponse{
				Content:  "Done. " + strings.Join(resultLines, " "),
				Provider: resp.Provider,
			}, nil
		}
		return nil, err
	}
	return final, nil
}

// history returns the compacted prior turns, excluding the message being
// processed.
func (e *Engine) history(ctx context.Context, in TurnInput, currentMsgID string) ([]persona.Turn, error) {
	limit := e.cfg.Persona.HistoryTurns*2 + 1
	msgs, err := e.store.RecentMessages(ctx, in.UserID, in.ConversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}

	turns := make([]persona.Turn, 0, len(msgs))
	for _, m := range msgs {
		if m.ID == currentMsgID || m.Role == store.RoleFunction {
			continue
		}
		turns = append(turns, persona.Turn{Role: string(m.Role), Content: m.Content})
	}
	return turns, nil
}

// goal returns the user's active goal description, if one is set.
func (e *Engine) goal(ctx context.Context, userID string) string {
	if e.domain == nil {
		return ""
	}
	g, err := e.domain.ActiveGoal(ctx, userID)
	if err != nil {
		e.log.Warn().Err(err).Msg("load active goal failed")
		return ""
	}
	if g == nil {
		return ""
	}
	goal := g.Description
	if g.Target != "" {
		goal += " (target: " + g.Target + ")"
	}
	if g.Phase != "" {
		goal += ", current phase: " + g.Phase
	}
	return goal
}

// manifest returns the compact function list for prompts that should carry
// one: always for function-calling turns, for hybrid turns when configured.
func (e *Engine) manifest(route router.Route) []persona.FunctionSummary {
	if e.dispatcher == nil {
		return nil
	}
	include := route == router.RouteFunctionCalling ||
		(route == router.RouteHybrid && e.cfg.Routing.HybridManifest)
	if !include {
		return nil
	}

	entries := e.dispatcher.Manifest()
	out := make([]persona.FunctionSummary, 0, len(entries))
	for _, entry := range entries {
		out = append(out, persona.FunctionSummary{Name: entry.Name, Description: entry.Description})
	}
	return out
}

// contextBlocks builds topic-scoped data blocks for the routed topics. A
// block that cannot be built is skipped; prompts degrade, never fail.
func (e *Engine) contextBlocks(ctx context.Context, in TurnInput, topics []router.Topic) []string {
	var blocks []string

	if in.Health != nil && !in.Health.MeasuredAt.IsZero() {
		age := persona.FormatDataAge(in.Health.MeasuredAt, e.now())
		if age != "" && age != "today" {
			blocks = append(blocks, "Health metrics last synced "+age+".")
		}
	}
	if e.domain == nil {
		return blocks
	}

	for _, topic := range topics {
		block, err := e.topicBlock(ctx, in.UserID, topic)
		if err != nil {
			e.log.Warn().Err(err).Str("topic", string(topic)).Msg("context block failed")
			continue
		}
		if block != "" {
			blocks = append(blocks, block)
		}
	}
	return blocks
}

func (e *Engine) topicBlock(ctx context.Context, userID string, topic router.Topic) (string, error) {
	switch topic {
	case router.TopicTraining:
		report, err := e.domain.QueryWorkouts(ctx, userID, "", "", 7)
		if err != nil {
			return "", err
		}
		if report.Count == 0 {
			return "", nil
		}
		return fmt.Sprintf("Training this week: %d sessions logged.", report.Count), nil
	case router.TopicNutrition:
		report, err := e.domain.QueryNutrition(ctx, userID, 7, false)
		if err != nil {
			return "", err
		}
		if report.Averages == nil {
			return "", nil
		}
		return fmt.Sprintf("Nutrition last 7 days: averaging %.0f kcal and %.0fg protein (%s of protein target).",
			report.Averages.Calories, report.Averages.Protein, report.ProteinCompliance), nil
	case router.TopicRecovery:
		report, err := e.domain.QueryRecovery(ctx, userID, 7)
		if err != nil {
			return "", err
		}
		if report.Sleep == nil {
			return "", nil
		}
		return fmt.Sprintf("Recovery last 7 days: averaging %.1fh sleep across %d nights.",
			report.Sleep.Average, report.Sleep.Readings), nil
	case router.TopicProgress:
		report, err := e.domain.QueryBodyComp(ctx, userID, 90)
		if err != nil {
			return "", err
		}
		if report.Weight == nil {
			return "", nil
		}
		return fmt.Sprintf("Weight trend: %.1fkg now, %+.1fkg over %s.",
			report.Weight.Current, report.Weight.Change, report.Period), nil
	default:
		return "", nil
	}
}

// chatMessages flattens history plus the current message for the provider.
func (e *Engine) chatMessages(history []persona.Turn, message string) []llm.Message {
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		msgs = append(msgs, llm.Message{Role: t.Role, Content: t.Content})
	}
	return append(msgs, llm.Message{Role: "user", Content: message})
}

func (e *Engine) toolSpecs() []llm.ToolSpec {
	if e.dispatcher == nil {
		return nil
	}
	schemas := e.dispatcher.Schemas()
	specs := make([]llm.ToolSpec, 0, len(schemas))
	for _, s := range schemas {
		specs = append(specs, llm.ToolSpec{Name: s.Name, Description: s.Description, Parameters: s.Parameters})
	}
	return specs
}

// fingerprintKey derives the cache key from everything that shapes the
// response: provider, prompt, and flattened conversation.
func (e *Engine) fingerprintKey(req *llm.ChatRequest) string {
	var user strings.Builder
	for _, m := range req.Messages {
		user.WriteString(m.Role)
		user.WriteString(": ")
		user.WriteString(m.Content)
		user.WriteString("\n")
	}
	return fingerprint.Compute(fingerprint.Request{
		Provider:     e.cfg.LLM.DefaultProvider,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		UserPrompt:   user.String(),
		Params: fingerprint.Params{
			MaxTokens:   req.MaxTokens,
			Temperature: req.Temperature,
		},
	})
}

// respTokens counts only the follow-up tokens not already attributed.
func respTokens(resp *llm.ChatResponse, result *TurnResult) int {
	if len(result.Functions) == 0 {
		return 0
	}
	return resp.TokensUsed
}

// Stats aggregates component counters for the stats command.
type Stats struct {
	Router   router.Stats                      `json:"router"`
	Cache    cache.Stats                       `json:"cache"`
	Dispatch map[string]dispatch.FunctionStats `json:"dispatch"`
}

// Stats returns a snapshot of pipeline counters.
func (e *Engine) Stats() Stats {
	s := Stats{Router: e.router.Stats()}
	if e.cache != nil {
		s.Cache = e.cache.Stats()
	}
	if e.dispatcher != nil {
		s.Dispatch = e.dispatcher.Stats()
	}
	return s
}

// MarshalStats renders stats as indented JSON.
func (e *Engine) MarshalStats() (string, error) {
	raw, err := json.MarshalIndent(e.Stats(), "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode stats: %w", err)
	}
	return string(raw), nil
}
