package persona

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/stride/internal/config"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()

	e, err := NewEngine(config.Default().Persona)
	require.NoError(t, err)
	return e
}

func TestBuildPromptContainsIdentityAndRules(t *testing.T) {
	e := newTestEngine(t)

	prompt := e.BuildPrompt(PromptInput{
		Mode: ModeTrainer,
		Goal: "Cut to 180lb by December",
		Now:  time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	})

	assert.Contains(t, prompt, "Trainer")
	assert.Contains(t, prompt, "Cut to 180lb by December")
	assert.Contains(t, prompt, "Never break character")
	assert.Contains(t, prompt, "Sunday, Aug 30 2026 09:00")
}

func TestBuildPromptIsPure(t *testing.T) {
	e := newTestEngine(t)
	in := PromptInput{
		Mode:   ModeAnalyst,
		Goal:   "maintain",
		Health: &HealthSnapshot{Energy: 0.2, SleepHours: 5},
		History: []Turn{
			{Role: "user", Content: "how am i doing"},
			{Role: "assistant", Content: "trending well"},
		},
		Now: time.Date(2026, 8, 30, 9, 0, 0, 0, time.UTC),
	}

	first := e.BuildPrompt(in)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, e.BuildPrompt(in))
	}
}

func TestAdaptationRules(t *testing.T) {
	e := newTestEngine(t)

	tests := []struct {
		name   string
		health *HealthSnapshot
		expect []string
		absent []string
	}{
		{
			name:   "no signals",
			health: nil,
		},
		{
			name:   "low energy",
			health: &HealthSnapshot{Energy: 0.2},
			expect: []string{"Energy is low"},
			absent: []string{"Stress is high"},
		},
		{
			name:   "high stress",
			health: &HealthSnapshot{Stress: 0.9},
			expect: []string{"Stress is high"},
		},
		{
			name:   "poor sleep",
			health: &HealthSnapshot{SleepHours: 4.5},
			expect: []string{"4.5h of sleep"},
		},
		{
			name:   "low recovery",
			health: &HealthSnapshot{RecoveryScore: 0.3},
			expect: []string{"Recovery score is poor"},
		},
		{
			name:   "multiple rules fire together",
			health: &HealthSnapshot{Energy: 0.1, Stress: 0.95, SleepHours: 5},
			expect: []string{"Energy is low", "Stress is high", "5.0h of sleep"},
		},
		{
			name:   "healthy signals fire nothing",
			health: &HealthSnapshot{Energy: 0.8, Stress: 0.2, SleepHours: 8, RecoveryScore: 0.9},
			absent: []string{"Energy is low", "Stress is high", "Recovery score"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			prompt := e.BuildPrompt(PromptInput{Mode: ModeSupporter, Health: tt.health})
			for _, want := range tt.expect {
				assert.Contains(t, prompt, want)
			}
			for _, not := range tt.absent {
				assert.NotContains(t, prompt, not)
			}
		})
	}
}

func TestAdaptationOrderStable(t *testing.T) {
	e := newTestEngine(t)
	h := &HealthSnapshot{Energy: 0.1, Stress: 0.95}

	prompt := e.BuildPrompt(PromptInput{Mode: ModeSupporter, Health: h})
	energyIdx := strings.Index(prompt, "Energy is low")
	stressIdx := strings.Index(prompt, "Stress is high")
	require.Positive(t, energyIdx)
	require.Positive(t, stressIdx)
	assert.Less(t, energyIdx, stressIdx)
}

func TestHistoryCompaction(t *testing.T) {
	cfg := config.Default().Persona
	cfg.HistoryTurns = 3
	cfg.TurnMaxChars = 20
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	var history []Turn
	for i := 0; i < 10; i++ {
		history = append(history, Turn{
			Role:    "user",
			Content: fmt.Sprintf("turn %d %s", i, strings.Repeat("x", 100)),
		})
	}

	prompt := e.BuildPrompt(PromptInput{Mode: ModeMinimalist, History: history})

	assert.NotContains(t, prompt, "turn 6")
	assert.Contains(t, prompt, "turn 7")
	assert.Contains(t, prompt, "turn 9")
	// Each turn truncated with ellipsis.
	assert.Contains(t, prompt, "...")
	assert.NotContains(t, prompt, strings.Repeat("x", 50))
}

func TestFunctionManifestCompact(t *testing.T) {
	e := newTestEngine(t)

	prompt := e.BuildPrompt(PromptInput{
		Mode: ModeTrainer,
		Functions: []FunctionSummary{
			{Name: "query_workouts", Description: "List recent workouts"},
			{Name: "log_nutrition", Description: "Record a food entry"},
		},
	})
	assert.Contains(t, prompt, "query_workouts: List recent workouts")
	assert.Contains(t, prompt, "log_nutrition: Record a food entry")

	// No manifest section on direct routes.
	lean := e.BuildPrompt(PromptInput{Mode: ModeTrainer})
	assert.NotContains(t, lean, "Available functions")
}

func TestUnknownModeFallsBack(t *testing.T) {
	e := newTestEngine(t)

	prompt := e.BuildPrompt(PromptInput{Mode: Mode("drill_sergeant")})
	assert.Contains(t, prompt, "Supporter")
}

func TestTokenCeilingUnderRepresentativeInputs(t *testing.T) {
	e := newTestEngine(t)
	ceiling := config.Default().Persona.TokenCeiling

	health := &HealthSnapshot{Energy: 0.1, Stress: 0.95, SleepHours: 4, RecoveryScore: 0.2}
	history := make([]Turn, 8)
	for i := range history {
		history[i] = Turn{Role: "user", Content: strings.Repeat("long message ", 40)}
	}
	functions := []FunctionSummary{
		{Name: "generate_workout_plan", Description: "Build a multi-week training plan"},
		{Name: "query_workouts", Description: "List recent workouts"},
		{Name: "query_nutrition", Description: "Summarize nutrition logs"},
		{Name: "query_recovery", Description: "Summarize sleep and recovery"},
	}

	for _, mode := range AllModes() {
		prompt := e.BuildPrompt(PromptInput{
			Mode: mode, Goal: "recomp", Health: health,
			History: history, Functions: functions,
		})
		assert.LessOrEqual(t, EstimateTokens(prompt), ceiling,
			"mode %s blew the token budget", mode)
	}
}

func TestConcurrentBuildsSafe(t *testing.T) {
	e := newTestEngine(t)

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		mode := AllModes()[i%len(AllModes())]
		wg.Add(1)
		go func(m Mode) {
			defer wg.Done()
			prompt := e.BuildPrompt(PromptInput{Mode: m})
			assert.NotEmpty(t, prompt)
		}(mode)
	}
	wg.Wait()
}

func TestLoadOverrides(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, SaveDefinition(dir, &Definition{
		ID:               ModeTrainer,
		DisplayName:      "Coach Iron",
		CoreInstructions: "Be relentless.",
	}))

	cfg := config.Default().Persona
	cfg.DefinitionsDir = dir
	e, err := NewEngine(cfg)
	require.NoError(t, err)

	prompt := e.BuildPrompt(PromptInput{Mode: ModeTrainer})
	assert.Contains(t, prompt, "Coach Iron")
	assert.Contains(t, prompt, "Be relentless.")

	// Other built-ins untouched.
	assert.Contains(t, e.BuildPrompt(PromptInput{Mode: ModeAnalyst}), "data-driven")
}

func TestLoadOverridesRejectsBadDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("id: mystery\ndisplay_name: X\ncore_instructions: y\n"), 0o644))

	cfg := config.Default().Persona
	cfg.DefinitionsDir = dir
	_, err := NewEngine(cfg)
	assert.Error(t, err)
}

func TestFormatDataAge(t *testing.T) {
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		t    time.Time
		want string
	}{
		{"today", now.Add(-2 * time.Hour), "today"},
		{"yesterday", now.AddDate(0, 0, -1), "yesterday"},
		{"days", now.AddDate(0, 0, -3), "3 days ago"},
		{"one week", now.AddDate(0, 0, -8), "1 week ago"},
		{"weeks", now.AddDate(0, 0, -20), "2 weeks ago"},
		{"old shows date", now.AddDate(0, 0, -45), "Jul 16"},
		{"zero time", time.Time{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FormatDataAge(tt.t, now))
		})
	}
}
