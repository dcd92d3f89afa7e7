package domain

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// PlanFocus selects the programming emphasis of a generated plan.
const (
	FocusStrength    = "strength"
	FocusHypertrophy = "hypertrophy"
	FocusEndurance   = "endurance"
	FocusGeneral     = "general"
)

// PlanFocuses lists the accepted focus values.
var PlanFocuses = []string{FocusStrength, FocusHypertrophy, FocusEndurance, FocusGeneral}

// PlanDay is one training day in a generated plan.
type PlanDay struct {
	Day          int      `json:"day"`
	Emphasis     string   `json:"emphasis"`
	MuscleGroups []string `json:"muscle_groups"`
	SetsPerGroup int      `json:"sets_per_group"`
	RepRange     string   `json:"rep_range"`
}

// WorkoutPlan is a generated training block.
type WorkoutPlan struct {
	Weeks       int       `json:"weeks"`
	DaysPerWeek int       `json:"days_per_week"`
	Focus       string    `json:"focus"`
	Days        []PlanDay `json:"days"`
	Progression string    `json:"progression"`
	Notes       []string  `json:"notes,omitempty"`
}

// splitTemplates maps training frequency to day emphases.
var splitTemplates = map[int][]planTemplate{
	2: {
		{"full body", []string{"legs", "chest", "back"}},
		{"full body", []string{"legs", "shoulders", "arms"}},
	},
	3: {
		{"push", []string{"chest", "shoulders", "triceps"}},
		{"pull", []string{"back", "biceps"}},
		{"legs", []string{"quads", "hamstrings", "calves"}},
	},
	4: {
		{"upper", []string{"chest", "back", "shoulders"}},
		{"lower", []string{"quads", "hamstrings", "calves"}},
		{"upper", []string{"chest", "back", "arms"}},
		{"lower", []string{"quads", "hamstrings", "glutes"}},
	},
	5: {
		{"push", []string{"chest", "shoulders", "triceps"}},
		{"pull", []string{"back", "biceps"}},
		{"legs", []string{"quads", "hamstrings", "calves"}},
		{"upper", []string{"chest", "back", "shoulders"}},
		{"lower", []string{"quads", "hamstrings", "glutes"}},
	},
	6: {
		{"push", []string{"chest", "shoulders", "triceps"}},
		{"pull", []string{"back", "biceps"}},
		{"legs", []string{"quads", "hamstrings", "calves"}},
		{"push", []string{"chest", "shoulders", "triceps"}},
		{"pull", []string{"back", "biceps"}},
		{"legs", []string{"quads", "hamstrings", "glutes"}},
	},
}

type planTemplate struct {
	emphasis string
	groups   []string
}

// focusParams maps focus to per-group set count and rep range.
var focusParams = map[string]struct {
	sets     int
	repRange string
}{
	FocusStrength:    {4, "3-5"},
	FocusHypertrophy: {4, "8-12"},
	FocusEndurance:   {3, "15-20"},
	FocusGeneral:     {3, "8-12"},
}

// GenerateWorkoutPlan builds a training block sized to the requested weeks
// and frequency. Recent training volume informs the notes: muscle groups
// with little or no recent work are called out for priority.
func (s *Service) GenerateWorkoutPlan(ctx context.Context, userID, focus string, weeks, daysPerWeek int) (*WorkoutPlan, error) {
	if _, ok := focusParams[focus]; !ok {
		focus = FocusGeneral
	}

	template, ok := splitTemplates[daysPerWeek]
	if !ok {
		template = splitTemplates[4]
		daysPerWeek = 4
	}
	params := focusParams[focus]

	days := make([]PlanDay, 0, len(template))
	for i, t := range template {
		days = append(days, PlanDay{
			Day:          i + 1,
			Emphasis:     t.emphasis,
			MuscleGroups: t.groups,
			SetsPerGroup: params.sets,
			RepRange:     params.repRange,
		})
	}

	plan := &WorkoutPlan{
		Weeks:       weeks,
		DaysPerWeek: daysPerWeek,
		Focus:       focus,
		Days:        days,
		Progression: progressionFor(focus, weeks),
	}

	// Flag neglected muscle groups from the last two weeks of logged work.
	counts, err := s.store.MuscleGroupSetCounts(ctx, userID, s.now().UTC().AddDate(0, 0, -14))
	if err != nil {
		return nil, err
	}
	if neglected := neglectedGroups(days, counts); len(neglected) > 0 {
		plan.Notes = append(plan.Notes, fmt.Sprintf(
			"Low recent volume for %s; prioritize these early in each session.",
			strings.Join(neglected, ", ")))
	}

	return plan, nil
}

func progressionFor(focus string, weeks int) string {
	deloadWeek := weeks
	if weeks >= 4 {
		return fmt.Sprintf(
			"Add one rep or 2.5%% load each week; deload at 60%% volume on week %d.",
			deloadWeek)
	}
	if focus == FocusStrength {
		return "Add 2.5% load whenever all prescribed reps are completed."
	}
	return "Add one rep per set each week until the top of the rep range."
}

// neglectedGroups returns the planned muscle groups with fewer than 6
// logged sets in the lookback window, sorted for stable output.
func neglectedGroups(days []PlanDay, counts map[string]int) []string {
	seen := make(map[string]bool)
	var out []string
	for _, d := range days {
		for _, g := range d.MuscleGroups {
			if seen[g] {
				continue
			}
			seen[g] = true
			if counts[g] < 6 {
				out = append(out, g)
			}
		}
	}
	sort.Strings(out)
	return out
}
