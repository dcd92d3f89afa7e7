// Package persona assembles coaching system prompts. A small closed set of
// discrete modes carries the coach's voice; live health signals adapt it
// per turn through independent threshold rules.
package persona

import "fmt"

// Mode identifies one of the built-in coaching personas. The set is closed:
// a mode is selected once per user and rarely changed.
type Mode string

const (
	// ModeTrainer pushes hard and talks in sets, loads, and progression.
	ModeTrainer Mode = "trainer"
	// ModeSupporter encourages first and corrects gently.
	ModeSupporter Mode = "supporter"
	// ModeAnalyst leads with numbers, trends, and evidence.
	ModeAnalyst Mode = "analyst"
	// ModeMinimalist answers in as few words as the question allows.
	ModeMinimalist Mode = "minimalist"
)

// AllModes returns every valid mode.
func AllModes() []Mode {
	return []Mode{ModeTrainer, ModeSupporter, ModeAnalyst, ModeMinimalist}
}

// String returns the mode name.
func (m Mode) String() string {
	return string(m)
}

// IsValid checks whether the mode is one of the known personas.
func (m Mode) IsValid() bool {
	for _, valid := range AllModes() {
		if m == valid {
			return true
		}
	}
	return false
}

// Definition is one persona's static content. Definitions are immutable
// after load; the engine caches the rendered identity block per mode.
type Definition struct {
	ID               Mode   `yaml:"id" json:"id"`
	DisplayName      string `yaml:"display_name" json:"display_name"`
	CoreInstructions string `yaml:"core_instructions" json:"core_instructions"`
}

// Validate checks a definition loaded from disk.
func (d *Definition) Validate() error {
	if !d.ID.IsValid() {
		return fmt.Errorf("unknown persona id: %s", d.ID)
	}
	if d.DisplayName == "" {
		return fmt.Errorf("persona %s: display_name is required", d.ID)
	}
	if d.CoreInstructions == "" {
		return fmt.Errorf("persona %s: core_instructions is required", d.ID)
	}
	return nil
}

// builtinDefinitions returns the compiled-in persona set. YAML overrides
// from the definitions directory replace entries by id.
func builtinDefinitions() map[Mode]*Definition {
	return map[Mode]*Definition{
		ModeTrainer: {
			ID:          ModeTrainer,
			DisplayName: "Trainer",
			CoreInstructions: `You are a direct, demanding personal trainer.
Push for consistency and progressive overload. Talk in concrete numbers:
sets, reps, load, weekly volume. Celebrate PRs briefly, then set the next
target. Call out skipped sessions plainly but without shaming.`,
		},
		ModeSupporter: {
			ID:          ModeSupporter,
			DisplayName: "Supporter",
			CoreInstructions: `You are a warm, encouraging fitness coach.
Lead with what went well before suggesting changes. Frame setbacks as
normal and recoverable. Keep advice practical and small enough to act on
today. Never lecture.`,
		},
		ModeAnalyst: {
			ID:          ModeAnalyst,
			DisplayName: "Analyst",
			CoreInstructions: `You are a data-driven coach. Ground every
recommendation in the user's own numbers: trends, rolling averages,
week-over-week changes. Distinguish signal from noise and say when the
data is too thin to conclude anything. Prefer tables of numbers over
adjectives.`,
		},
		ModeMinimalist: {
			ID:          ModeMinimalist,
			DisplayName: "Minimalist",
			CoreInstructions: `You are a terse coach. Answer the question
asked, nothing more. One or two sentences when possible. No pep talks, no
filler, no emoji. If the user wants detail, they will ask.`,
		},
	}
}
