package domain

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/normanking/stride/internal/dispatch"
	"github.com/normanking/stride/internal/store"
)

var testNow = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	st, err := store.NewDB(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	svc := NewService(st, WithClock(func() time.Time { return testNow }))
	return svc, st
}

func daysAgo(n int) time.Time {
	return testNow.AddDate(0, 0, -n)
}

func TestQueryWorkoutsSummaryAndFilters(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.InsertWorkout(ctx, &store.Workout{
		UserID: "u1", Title: "Push Day", Exercise: "Bench Press",
		MuscleGroup: "chest", Sets: 4, Reps: 8, WeightKG: 80, PerformedAt: daysAgo(2),
	}))
	require.NoError(t, st.InsertWorkout(ctx, &store.Workout{
		UserID: "u1", Title: "Leg Day", Exercise: "Squat",
		MuscleGroup: "legs", Sets: 5, Reps: 5, WeightKG: 120, PerformedAt: daysAgo(4),
	}))
	require.NoError(t, st.InsertWorkout(ctx, &store.Workout{
		UserID: "other", Title: "Pull Day", Exercise: "Deadlift",
		MuscleGroup: "back", Sets: 3, Reps: 5, PerformedAt: daysAgo(1),
	}))

	t.Run("summary scoped to user", func(t *testing.T) {
		report, err := svc.QueryWorkouts(ctx, "u1", "", "", 14)
		require.NoError(t, err)
		assert.Equal(t, 2, report.Count)
		assert.Len(t, report.Workouts, 2)
		assert.Equal(t, "Push Day", report.Workouts[0].Title)
	})

	t.Run("exercise filter", func(t *testing.T) {
		report, err := svc.QueryWorkouts(ctx, "u1", "bench", "", 14)
		require.NoError(t, err)
		require.Equal(t, 1, report.Count)
		assert.Equal(t, 4, report.Workouts[0].Sets)
		assert.Equal(t, 80.0, report.Workouts[0].WeightKG)
	})

	t.Run("exercise filter no match", func(t *testing.T) {
		report, err := svc.QueryWorkouts(ctx, "u1", "curl", "", 14)
		require.NoError(t, err)
		assert.Contains(t, report.Message, "curl")
	})

	t.Run("muscle group volume", func(t *testing.T) {
		report, err := svc.QueryWorkouts(ctx, "u1", "", "Chest", 14)
		require.NoError(t, err)
		assert.Equal(t, "chest", report.MuscleGroup)
		assert.Equal(t, 4, report.Sets)
		assert.Equal(t, "14 days", report.Period)
	})

	t.Run("window excludes old sessions", func(t *testing.T) {
		report, err := svc.QueryWorkouts(ctx, "u1", "", "", 3)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Count)
	})

	t.Run("empty history", func(t *testing.T) {
		report, err := svc.QueryWorkouts(ctx, "nobody", "", "", 14)
		require.NoError(t, err)
		assert.Equal(t, "No workouts found in the specified period", report.Message)
	})
}

func TestQueryNutritionAveragesAndCompliance(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	meals := []store.NutritionEntry{
		{UserID: "u1", Name: "breakfast", Calories: 600, ProteinG: 40, CarbsG: 60, FatG: 20, LoggedAt: daysAgo(1)},
		{UserID: "u1", Name: "dinner", Calories: 1000, ProteinG: 60, CarbsG: 80, FatG: 40, LoggedAt: daysAgo(1).Add(8 * time.Hour)},
		{UserID: "u1", Name: "lunch", Calories: 800, ProteinG: 75, CarbsG: 70, FatG: 30, LoggedAt: daysAgo(2)},
	}
	for i := range meals {
		require.NoError(t, st.InsertNutritionEntry(ctx, &meals[i]))
	}

	report, err := svc.QueryNutrition(ctx, "u1", 7, true)
	require.NoError(t, err)
	assert.Equal(t, 2, report.TrackedDays)
	// Day 1: 1600 kcal / 100g protein, day 2: 800 kcal / 75g protein.
	assert.Equal(t, 1200.0, report.Averages.Calories)
	assert.Equal(t, 88.0, report.Averages.Protein)
	assert.Equal(t, "50%", report.ProteinCompliance)
	assert.Len(t, report.DailyData, 2)

	empty, err := svc.QueryNutrition(ctx, "other", 7, false)
	require.NoError(t, err)
	assert.Equal(t, "No nutrition data found", empty.Message)
}

func TestLogNutritionPersists(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	entry, err := svc.LogNutrition(ctx, "u1", store.NutritionEntry{
		Name: "2 eggs", Calories: 140, ProteinG: 12,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, entry.ID)
	assert.Equal(t, "u1", entry.UserID)

	report, err := svc.QueryNutrition(ctx, "u1", 7, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.TrackedDays)
}

func TestQueryBodyCompTrend(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.InsertBodyComp(ctx, &store.BodyCompReading{
		UserID: "u1", WeightKG: 84.2, BodyFat: 18.5, MeasuredAt: daysAgo(60),
	}))
	require.NoError(t, st.InsertBodyComp(ctx, &store.BodyCompReading{
		UserID: "u1", WeightKG: 82.6, MeasuredAt: daysAgo(10),
	}))

	report, err := svc.QueryBodyComp(ctx, "u1", 90)
	require.NoError(t, err)
	require.NotNil(t, report.Weight)
	assert.Equal(t, 82.6, report.Weight.Current)
	assert.Equal(t, -1.6, report.Weight.Change)
	assert.Equal(t, 2, report.Weight.Readings)
	require.NotNil(t, report.BodyFat)
	assert.Equal(t, 1, report.BodyFat.Readings)
}

func TestQueryRecoveryAverages(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.InsertHealthMetric(ctx, &store.HealthMetric{
		UserID: "u1", SleepHours: 7.5, HRVMs: 60, RestingHR: 52, MeasuredAt: daysAgo(2),
	}))
	require.NoError(t, st.InsertHealthMetric(ctx, &store.HealthMetric{
		UserID: "u1", SleepHours: 6.0, RestingHR: 56, MeasuredAt: daysAgo(1),
	}))

	report, err := svc.QueryRecovery(ctx, "u1", 14)
	require.NoError(t, err)
	require.NotNil(t, report.Sleep)
	assert.Equal(t, 6.8, report.Sleep.Average)
	assert.Equal(t, 2, report.Sleep.Readings)
	require.NotNil(t, report.HRV)
	assert.Equal(t, 60.0, report.HRV.Average)
	assert.Equal(t, 1, report.HRV.Readings)
	require.NotNil(t, report.RestingHR)
	assert.Equal(t, 54.0, report.RestingHR.Average)
}

func TestQueryInsightsCategoryFilter(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.InsertInsight(ctx, &store.Insight{
		UserID: "u1", Category: "trend", Headline: "Bench volume up 20%", CreatedAt: daysAgo(3),
	}))
	require.NoError(t, st.InsertInsight(ctx, &store.Insight{
		UserID: "u1", Category: "correlation", Headline: "Sleep under 6h precedes weak sessions", CreatedAt: daysAgo(1),
	}))

	all, err := svc.QueryInsights(ctx, "u1", "", 5)
	require.NoError(t, err)
	require.Equal(t, 2, all.Count)
	assert.Equal(t, "Sleep under 6h precedes weak sessions", all.Insights[0].Headline)
	assert.Equal(t, "yesterday", all.Insights[0].Age)

	trends, err := svc.QueryInsights(ctx, "u1", "trend", 5)
	require.NoError(t, err)
	require.Equal(t, 1, trends.Count)
	assert.Equal(t, "trend", trends.Insights[0].Category)

	none, err := svc.QueryInsights(ctx, "u1", "anomaly", 5)
	require.NoError(t, err)
	assert.Contains(t, none.Message, "anomaly")
}

func TestUpdateGoalLatestRevisionWins(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	require.NoError(t, st.SaveGoal(ctx, &store.Goal{
		UserID: "u1", Description: "lose fat", Phase: "cut", UpdatedAt: daysAgo(30),
	}))
	_, err := svc.UpdateGoal(ctx, "u1", "bench 100kg", "100kg bench", "bulk")
	require.NoError(t, err)

	active, err := svc.ActiveGoal(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, "bench 100kg", active.Description)
	assert.Equal(t, "bulk", active.Phase)

	missing, err := svc.ActiveGoal(ctx, "other")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestGenerateWorkoutPlan(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	// Recent chest volume keeps chest off the priority note.
	require.NoError(t, st.InsertWorkout(ctx, &store.Workout{
		UserID: "u1", Title: "Push", MuscleGroup: "chest", Sets: 12, Reps: 8, PerformedAt: daysAgo(3),
	}))

	plan, err := svc.GenerateWorkoutPlan(ctx, "u1", FocusStrength, 8, 4)
	require.NoError(t, err)
	assert.Equal(t, 8, plan.Weeks)
	assert.Equal(t, 4, plan.DaysPerWeek)
	assert.Len(t, plan.Days, 4)
	assert.Equal(t, "3-5", plan.Days[0].RepRange)
	assert.Contains(t, plan.Progression, "deload")
	require.NotEmpty(t, plan.Notes)
	assert.NotContains(t, plan.Notes[0], "chest")
	assert.Contains(t, plan.Notes[0], "quads")
}

func TestGenerateWorkoutPlanDefaultsUnknownInputs(t *testing.T) {
	svc, _ := newTestService(t)

	plan, err := svc.GenerateWorkoutPlan(context.Background(), "u1", "bogus", 8, 7)
	require.NoError(t, err)
	assert.Equal(t, FocusGeneral, plan.Focus)
	assert.Equal(t, 4, plan.DaysPerWeek)
}

func TestRegisteredFunctionsDispatch(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	d := dispatch.New(5 * time.Second)
	require.NoError(t, RegisterFunctions(d, svc))
	assert.Len(t, d.Names(), 8)

	call := dispatch.CallerContext{UserID: "u1", ConversationID: "c1"}

	t.Run("log then query nutrition", func(t *testing.T) {
		res, err := d.Dispatch(ctx, "log_nutrition",
			json.RawMessage(`{"name": "2 eggs", "calories": 140, "protein_g": 12}`), call)
		require.NoError(t, err)
		require.True(t, res.Success)
		assert.Contains(t, res.Payload, "2 eggs")

		res, err = d.Dispatch(ctx, "query_nutrition", json.RawMessage(`{"days": 7}`), call)
		require.NoError(t, err)
		var report NutritionReport
		require.NoError(t, json.Unmarshal([]byte(res.Payload), &report))
		assert.Equal(t, 1, report.TrackedDays)
	})

	t.Run("negative calories rejected", func(t *testing.T) {
		res, err := d.Dispatch(ctx, "log_nutrition",
			json.RawMessage(`{"name": "mystery", "calories": -5}`), call)
		var invalid *dispatch.InvalidArgumentError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "calories", invalid.Field)
		assert.Equal(t, dispatch.ErrKindInvalidArgument, res.ErrorKind)
	})

	t.Run("insight category enum enforced", func(t *testing.T) {
		_, err := d.Dispatch(ctx, "query_insights",
			json.RawMessage(`{"category": "gossip"}`), call)
		var invalid *dispatch.InvalidArgumentError
		require.ErrorAs(t, err, &invalid)
		assert.Equal(t, "category", invalid.Field)
	})

	t.Run("days clamped not rejected", func(t *testing.T) {
		require.NoError(t, st.InsertWorkout(ctx, &store.Workout{
			UserID: "u1", Title: "Push", MuscleGroup: "chest", Sets: 3, Reps: 10, PerformedAt: daysAgo(1),
		}))
		res, err := d.Dispatch(ctx, "query_workouts",
			json.RawMessage(`{"days": 400}`), call)
		require.NoError(t, err)
		assert.True(t, res.Success)
	})

	t.Run("plan generation", func(t *testing.T) {
		res, err := d.Dispatch(ctx, "generate_workout_plan",
			json.RawMessage(`{"focus": "hypertrophy", "weeks": 6, "days_per_week": 3}`), call)
		require.NoError(t, err)
		var plan WorkoutPlan
		require.NoError(t, json.Unmarshal([]byte(res.Payload), &plan))
		assert.Equal(t, 3, plan.DaysPerWeek)
		assert.Equal(t, "8-12", plan.Days[0].RepRange)
	})

	t.Run("goal update", func(t *testing.T) {
		res, err := d.Dispatch(ctx, "update_goal",
			json.RawMessage(`{"description": "run a 5k", "phase": "base"}`), call)
		require.NoError(t, err)
		assert.Contains(t, res.Payload, "run a 5k")

		goal, err := svc.ActiveGoal(ctx, "u1")
		require.NoError(t, err)
		require.NotNil(t, goal)
		assert.Equal(t, "run a 5k", goal.Description)
	})
}
