package domain

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/normanking/stride/internal/dispatch"
	"github.com/normanking/stride/internal/store"
)

// InsightCategories lists the accepted insight category filter values.
var InsightCategories = []string{"correlation", "trend", "anomaly", "milestone", "nudge"}

// RegisterFunctions registers every coaching function on the dispatcher.
func RegisterFunctions(d *dispatch.Dispatcher, svc *Service) error {
	defs := []dispatch.FunctionDefinition{
		{
			Name:        "query_workouts",
			Description: "Query workout history. Use when the user asks about specific exercises, training history, volume, or PRs.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "exercise", Type: "string", Description: "Filter by exercise name (e.g., 'bench press', 'squat')"},
				{Name: "muscle_group", Type: "string", Description: "Filter by muscle group (e.g., 'chest', 'back', 'legs')"},
				{Name: "days", Type: "integer", Description: "Number of days to query (1-90, default 14)"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				exercise, argErr := args.OptionalString("exercise", "")
				if argErr != nil {
					return "", argErr
				}
				group, argErr := args.OptionalString("muscle_group", "")
				if argErr != nil {
					return "", argErr
				}
				days, argErr := args.OptionalInt("days", 14)
				if argErr != nil {
					return "", argErr
				}
				report, err := svc.QueryWorkouts(ctx, call.UserID, exercise, group, dispatch.ClampInt(days, 1, 90))
				if err != nil {
					return "", err
				}
				return marshalPayload(report)
			},
		},
		{
			Name:        "query_nutrition",
			Description: "Query nutrition history. Use when the user asks about eating patterns, macro trends, or compliance.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "days", Type: "integer", Description: "Number of days to query (1-30, default 7)"},
				{Name: "include_meals", Type: "boolean", Description: "Include individual daily entries (default false)"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				days, argErr := args.OptionalInt("days", 7)
				if argErr != nil {
					return "", argErr
				}
				includeMeals := false
				if v, ok := args["include_meals"]; ok {
					b, okb := v.Bool()
					if !okb {
						return "", &dispatch.InvalidArgumentError{Field: "include_meals", Reason: "expected boolean"}
					}
					includeMeals = b
				}
				report, err := svc.QueryNutrition(ctx, call.UserID, dispatch.ClampInt(days, 1, 30), includeMeals)
				if err != nil {
					return "", err
				}
				return marshalPayload(report)
			},
		},
		{
			Name:        "log_nutrition",
			Description: "Log a meal or food item the user just reported eating.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "name", Type: "string", Description: "What was eaten (e.g., '2 eggs and toast')", Required: true},
				{Name: "calories", Type: "number", Description: "Estimated calories", Required: true},
				{Name: "protein_g", Type: "number", Description: "Protein in grams"},
				{Name: "carbs_g", Type: "number", Description: "Carbohydrates in grams"},
				{Name: "fat_g", Type: "number", Description: "Fat in grams"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				name, argErr := args.StringField("name")
				if argErr != nil {
					return "", argErr
				}
				calories, argErr := args.FloatField("calories")
				if argErr != nil {
					return "", argErr
				}
				if calories < 0 {
					return "", &dispatch.InvalidArgumentError{Field: "calories", Reason: "must not be negative"}
				}
				protein, argErr := args.OptionalFloat("protein_g", 0)
				if argErr != nil {
					return "", argErr
				}
				carbs, argErr := args.OptionalFloat("carbs_g", 0)
				if argErr != nil {
					return "", argErr
				}
				fat, argErr := args.OptionalFloat("fat_g", 0)
				if argErr != nil {
					return "", argErr
				}
				entry, err := svc.LogNutrition(ctx, call.UserID, store.NutritionEntry{
					Name:     name,
					Calories: calories,
					ProteinG: protein,
					CarbsG:   carbs,
					FatG:     fat,
				})
				if err != nil {
					return "", err
				}
				return marshalPayload(map[string]any{"logged": entry})
			},
		},
		{
			Name:        "query_body_comp",
			Description: "Query body composition trends. Use when the user asks about weight, body fat, or lean mass progress.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "days", Type: "integer", Description: "Number of days to query (30-365, default 90)"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				days, argErr := args.OptionalInt("days", 90)
				if argErr != nil {
					return "", argErr
				}
				report, err := svc.QueryBodyComp(ctx, call.UserID, dispatch.ClampInt(days, 30, 365))
				if err != nil {
					return "", err
				}
				return marshalPayload(report)
			},
		},
		{
			Name:        "query_recovery",
			Description: "Query recovery metrics. Use when the user mentions sleep, HRV, fatigue, or readiness.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "days", Type: "integer", Description: "Number of days to query (7-30, default 14)"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				days, argErr := args.OptionalInt("days", 14)
				if argErr != nil {
					return "", argErr
				}
				report, err := svc.QueryRecovery(ctx, call.UserID, dispatch.ClampInt(days, 7, 30))
				if err != nil {
					return "", err
				}
				return marshalPayload(report)
			},
		},
		{
			Name:        "query_insights",
			Description: "Query generated insights. Use when the user asks about patterns, correlations, or 'what have you noticed'.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "category", Type: "string", Description: "Filter by insight category", Enum: InsightCategories},
				{Name: "limit", Type: "integer", Description: "Max insights to return (1-10, default 5)"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				category, argErr := args.OptionalString("category", "")
				if argErr != nil {
					return "", argErr
				}
				limit, argErr := args.OptionalInt("limit", 5)
				if argErr != nil {
					return "", argErr
				}
				report, err := svc.QueryInsights(ctx, call.UserID, category, dispatch.ClampInt(limit, 1, 10))
				if err != nil {
					return "", err
				}
				return marshalPayload(report)
			},
		},
		{
			Name:        "generate_workout_plan",
			Description: "Generate a multi-week training plan. Use when the user asks for a program, plan, or training block.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "focus", Type: "string", Description: "Programming emphasis", Enum: PlanFocuses},
				{Name: "weeks", Type: "integer", Description: "Plan length in weeks (1-16, default 8)"},
				{Name: "days_per_week", Type: "integer", Description: "Training days per week (2-6, default 4)"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				focus, argErr := args.OptionalString("focus", FocusGeneral)
				if argErr != nil {
					return "", argErr
				}
				weeks, argErr := args.OptionalInt("weeks", 8)
				if argErr != nil {
					return "", argErr
				}
				daysPerWeek, argErr := args.OptionalInt("days_per_week", 4)
				if argErr != nil {
					return "", argErr
				}
				plan, err := svc.GenerateWorkoutPlan(ctx, call.UserID, focus,
					dispatch.ClampInt(weeks, 1, 16), dispatch.ClampInt(daysPerWeek, 2, 6))
				if err != nil {
					return "", err
				}
				return marshalPayload(plan)
			},
		},
		{
			Name:        "update_goal",
			Description: "Record or revise the user's training goal.",
			Parameters: []dispatch.ParameterSpec{
				{Name: "description", Type: "string", Description: "The goal in the user's words", Required: true},
				{Name: "target", Type: "string", Description: "Measurable target (e.g., '100kg bench', '12% body fat')"},
				{Name: "phase", Type: "string", Description: "Current training phase (e.g., 'cut', 'bulk', 'maintenance')"},
			},
			Handler: func(ctx context.Context, call dispatch.CallerContext, args dispatch.Args) (string, error) {
				description, argErr := args.StringField("description")
				if argErr != nil {
					return "", argErr
				}
				target, argErr := args.OptionalString("target", "")
				if argErr != nil {
					return "", argErr
				}
				phase, argErr := args.OptionalString("phase", "")
				if argErr != nil {
					return "", argErr
				}
				goal, err := svc.UpdateGoal(ctx, call.UserID, description, target, phase)
				if err != nil {
					return "", err
				}
				return marshalPayload(map[string]any{"goal": goal})
			},
		},
	}

	for i := range defs {
		if err := d.Register(&defs[i]); err != nil {
			return fmt.Errorf("register %s: %w", defs[i].Name, err)
		}
	}
	return nil
}

func marshalPayload(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(raw), nil
}
