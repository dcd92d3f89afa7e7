// Package domain implements the coaching data services behind the
// dispatched functions: workout history, nutrition tracking, body
// composition and recovery trends, goals, and precomputed insights.
// All reads and writes are scoped to the acting user.
package domain

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/normanking/stride/internal/store"
)

// Targets are the daily intake targets used for compliance reporting.
type Targets struct {
	Calories float64
	ProteinG float64
}

// DefaultTargets cover a typical strength-training intake.
var DefaultTargets = Targets{Calories: 2400, ProteinG: 175}

// Service answers coaching queries against the persisted domain records.
type Service struct {
	store   *store.Store
	targets Targets
	log     zerolog.Logger
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithTargets overrides the intake targets.
func WithTargets(t Targets) Option {
	return func(s *Service) {
		s.targets = t
	}
}

// WithLogger sets the service logger.
func WithLogger(log zerolog.Logger) Option {
	return func(s *Service) {
		s.log = log
	}
}

// WithClock overrides the time source for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a domain service over the store.
func NewService(st *store.Store, opts ...Option) *Service {
	s := &Service{
		store:   st,
		targets: DefaultTargets,
		log:     zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// WorkoutEntry is one session in a workout report.
type WorkoutEntry struct {
	Date      string   `json:"date"`
	Title     string   `json:"title"`
	Exercises []string `json:"exercises,omitempty"`
	Sets      int      `json:"sets,omitempty"`
	Reps      int      `json:"reps,omitempty"`
	WeightKG  float64  `json:"weight_kg,omitempty"`
}

// WorkoutReport summarizes recent training.
type WorkoutReport struct {
	Message     string         `json:"message,omitempty"`
	Workouts    []WorkoutEntry `json:"workouts,omitempty"`
	Count       int            `json:"count,omitempty"`
	MuscleGroup string         `json:"muscle_group,omitempty"`
	Sets        int            `json:"sets,omitempty"`
	Period      string         `json:"period,omitempty"`
}

// QueryWorkouts reports a user's training history, optionally filtered by
// exercise name or muscle group. Days is clamped by the caller.
func (s *Service) QueryWorkouts(ctx context.Context, userID, exercise, muscleGroup string, days int) (*WorkoutReport, error) {
	since := s.now().UTC().AddDate(0, 0, -days)

	if muscleGroup != "" {
		counts, err := s.store.MuscleGroupSetCounts(ctx, userID, since)
		if err != nil {
			return nil, err
		}
		group := strings.ToLower(muscleGroup)
		if sets, ok := counts[group]; ok {
			return &WorkoutReport{
				MuscleGroup: group,
				Sets:        sets,
				Period:      fmt.Sprintf("%d days", days),
			}, nil
		}
		return &WorkoutReport{
			Message: fmt.Sprintf("No %s training in the last %d days", group, days),
		}, nil
	}

	workouts, err := s.store.WorkoutsSince(ctx, userID, since, 20)
	if err != nil {
		return nil, err
	}
	if len(workouts) == 0 {
		return &WorkoutReport{Message: "No workouts found in the specified period"}, nil
	}

	if exercise != "" {
		needle := strings.ToLower(exercise)
		var matched []WorkoutEntry
		for _, w := range workouts {
			if !strings.Contains(strings.ToLower(w.Exercise), needle) &&
				!strings.Contains(strings.ToLower(w.Title), needle) {
				continue
			}
			matched = append(matched, WorkoutEntry{
				Date:     w.PerformedAt.Format("2006-01-02"),
				Title:    w.Title,
				Sets:     w.Sets,
				Reps:     w.Reps,
				WeightKG: w.WeightKG,
			})
		}
		if len(matched) == 0 {
			return &WorkoutReport{
				Message: fmt.Sprintf("No workouts with %q in the last %d days", exercise, days),
			}, nil
		}
		return &WorkoutReport{Workouts: matched, Count: len(matched)}, nil
	}

	summary := make([]WorkoutEntry, 0, 10)
	for _, w := range workouts {
		if len(summary) == 10 {
			break
		}
		entry := WorkoutEntry{
			Date:  w.PerformedAt.Format("2006-01-02"),
			Title: w.Title,
		}
		if w.Exercise != "" {
			entry.Exercises = []string{w.Exercise}
		}
		summary = append(summary, entry)
	}
	return &WorkoutReport{Workouts: summary, Count: len(workouts)}, nil
}

// DailyNutrition is one tracked day in a nutrition report.
type DailyNutrition struct {
	Date     string  `json:"date"`
	Calories float64 `json:"calories"`
	Protein  float64 `json:"protein"`
	Carbs    float64 `json:"carbs"`
	Fat      float64 `json:"fat"`
}

// NutritionReport summarizes tracked intake against targets.
type NutritionReport struct {
	Message           string           `json:"message,omitempty"`
	Period            string           `json:"period,omitempty"`
	TrackedDays       int              `json:"tracked_days,omitempty"`
	Averages          *DailyNutrition  `json:"averages,omitempty"`
	TargetCalories    float64          `json:"target_calories,omitempty"`
	TargetProtein     float64          `json:"target_protein,omitempty"`
	ProteinCompliance string           `json:"protein_compliance,omitempty"`
	DailyData         []DailyNutrition `json:"daily_data,omitempty"`
}

// QueryNutrition reports average intake and protein compliance over the
// period, optionally including per-day rows.
func (s *Service) QueryNutrition(ctx context.Context, userID string, days int, includeMeals bool) (*NutritionReport, error) {
	since := s.now().UTC().AddDate(0, 0, -days)
	entries, err := s.store.NutritionSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return &NutritionReport{Message: "No nutrition data found"}, nil
	}

	byDay := make(map[string]*DailyNutrition)
	var order []string
	for _, e := range entries {
		day := e.LoggedAt.Format("2006-01-02")
		d, ok := byDay[day]
		if !ok {
			d = &DailyNutrition{Date: day}
			byDay[day] = d
			order = append(order, day)
		}
		d.Calories += e.Calories
		d.Protein += e.ProteinG
		d.Carbs += e.CarbsG
		d.Fat += e.FatG
	}

	var totals DailyNutrition
	tracked := 0
	var daily []DailyNutrition
	for _, day := range order {
		d := byDay[day]
		if d.Calories <= 0 {
			continue
		}
		tracked++
		totals.Calories += d.Calories
		totals.Protein += d.Protein
		totals.Carbs += d.Carbs
		totals.Fat += d.Fat
		if includeMeals {
			daily = append(daily, *d)
		}
	}
	if tracked == 0 {
		return &NutritionReport{Message: "No nutrition data tracked in this period"}, nil
	}

	avg := &DailyNutrition{
		Calories: math.Round(totals.Calories / float64(tracked)),
		Protein:  math.Round(totals.Protein / float64(tracked)),
		Carbs:    math.Round(totals.Carbs / float64(tracked)),
		Fat:      math.Round(totals.Fat / float64(tracked)),
	}

	report := &NutritionReport{
		Period:         fmt.Sprintf("%d days", days),
		TrackedDays:    tracked,
		Averages:       avg,
		TargetCalories: s.targets.Calories,
		TargetProtein:  s.targets.ProteinG,
		DailyData:      daily,
	}
	if s.targets.ProteinG > 0 {
		report.ProteinCompliance = fmt.Sprintf("%d%%",
			int(math.Round(avg.Protein/s.targets.ProteinG*100)))
	}
	return report, nil
}

// LogNutrition persists one meal entry and returns the stored row.
func (s *Service) LogNutrition(ctx context.Context, userID string, e store.NutritionEntry) (*store.NutritionEntry, error) {
	e.UserID = userID
	if err := s.store.InsertNutritionEntry(ctx, &e); err != nil {
		return nil, err
	}
	s.log.Debug().Str("user_id", userID).Str("name", e.Name).
		Float64("calories", e.Calories).Msg("nutrition entry logged")
	return &e, nil
}

// TrendStat describes the change of one measurement over a period.
type TrendStat struct {
	Current  float64 `json:"current"`
	Start    float64 `json:"start"`
	Change   float64 `json:"change"`
	Readings int     `json:"readings"`
}

// BodyCompReport summarizes weight and body fat trends.
type BodyCompReport struct {
	Message string     `json:"message,omitempty"`
	Period  string     `json:"period,omitempty"`
	Weight  *TrendStat `json:"weight,omitempty"`
	BodyFat *TrendStat `json:"body_fat,omitempty"`
}

// QueryBodyComp reports weight and body fat change over the period.
func (s *Service) QueryBodyComp(ctx context.Context, userID string, days int) (*BodyCompReport, error) {
	since := s.now().UTC().AddDate(0, 0, -days)
	readings, err := s.store.BodyCompSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(readings) == 0 {
		return &BodyCompReport{Message: "No body composition data found"}, nil
	}

	report := &BodyCompReport{Period: fmt.Sprintf("%d days", days)}
	report.Weight = trendOf(readings, func(r store.BodyCompReading) float64 { return r.WeightKG })
	report.BodyFat = trendOf(readings, func(r store.BodyCompReading) float64 { return r.BodyFat })
	return report, nil
}

// trendOf computes first-to-last change over the non-zero values of one
// measurement. Readings must be in chronological order.
func trendOf(readings []store.BodyCompReading, pick func(store.BodyCompReading) float64) *TrendStat {
	var values []float64
	for _, r := range readings {
		if v := pick(r); v > 0 {
			values = append(values, v)
		}
	}
	if len(values) == 0 {
		return nil
	}
	first, last := values[0], values[len(values)-1]
	return &TrendStat{
		Current:  round1(last),
		Start:    round1(first),
		Change:   round1(last - first),
		Readings: len(values),
	}
}

// RecoveryReport summarizes sleep, HRV, and resting heart rate.
type RecoveryReport struct {
	Message   string        `json:"message,omitempty"`
	Period    string        `json:"period,omitempty"`
	Sleep     *MetricReport `json:"sleep,omitempty"`
	HRV       *MetricReport `json:"hrv,omitempty"`
	RestingHR *MetricReport `json:"resting_hr,omitempty"`
}

// MetricReport is the average of one recovery metric over a period.
type MetricReport struct {
	Average  float64 `json:"average"`
	Readings int     `json:"readings"`
}

// QueryRecovery reports average recovery metrics over the period.
func (s *Service) QueryRecovery(ctx context.Context, userID string, days int) (*RecoveryReport, error) {
	since := s.now().UTC().AddDate(0, 0, -days)
	metrics, err := s.store.HealthMetricsSince(ctx, userID, since)
	if err != nil {
		return nil, err
	}
	if len(metrics) == 0 {
		return &RecoveryReport{Message: "No recovery data found"}, nil
	}

	report := &RecoveryReport{Period: fmt.Sprintf("%d days", days)}
	report.Sleep = averageOf(metrics, func(m store.HealthMetric) float64 { return m.SleepHours }, 1)
	report.HRV = averageOf(metrics, func(m store.HealthMetric) float64 { return m.HRVMs }, 0)
	report.RestingHR = averageOf(metrics, func(m store.HealthMetric) float64 { return m.RestingHR }, 0)
	return report, nil
}

func averageOf(metrics []store.HealthMetric, pick func(store.HealthMetric) float64, decimals int) *MetricReport {
	var sum float64
	n := 0
	for _, m := range metrics {
		if v := pick(m); v > 0 {
			sum += v
			n++
		}
	}
	if n == 0 {
		return nil
	}
	avg := sum / float64(n)
	if decimals == 1 {
		avg = round1(avg)
	} else {
		avg = math.Round(avg)
	}
	return &MetricReport{Average: avg, Readings: n}
}

// InsightView is one insight formatted for model consumption.
type InsightView struct {
	Category string `json:"category"`
	Headline string `json:"headline"`
	Body     string `json:"body,omitempty"`
	Age      string `json:"age,omitempty"`
}

// InsightReport lists recent insights.
type InsightReport struct {
	Message  string        `json:"message,omitempty"`
	Insights []InsightView `json:"insights,omitempty"`
	Count    int           `json:"count,omitempty"`
}

// QueryInsights returns recent insights, optionally filtered by category.
func (s *Service) QueryInsights(ctx context.Context, userID, category string, limit int) (*InsightReport, error) {
	insights, err := s.store.Insights(ctx, userID, category, limit)
	if err != nil {
		return nil, err
	}
	if len(insights) == 0 {
		if category != "" {
			return &InsightReport{Message: fmt.Sprintf("No insights in category %q", category)}, nil
		}
		return &InsightReport{Message: "No insights generated yet"}, nil
	}

	now := s.now()
	views := make([]InsightView, 0, len(insights))
	for _, i := range insights {
		views = append(views, InsightView{
			Category: i.Category,
			Headline: i.Headline,
			Body:     i.Body,
			Age:      ageString(i.CreatedAt, now),
		})
	}
	return &InsightReport{Insights: views, Count: len(views)}, nil
}

// UpdateGoal records a goal revision and returns the active goal.
func (s *Service) UpdateGoal(ctx context.Context, userID, description, target, phase string) (*store.Goal, error) {
	g := &store.Goal{
		UserID:      userID,
		Description: description,
		Target:      target,
		Phase:       phase,
	}
	if err := s.store.SaveGoal(ctx, g); err != nil {
		return nil, err
	}
	s.log.Info().Str("user_id", userID).Str("goal", description).Msg("goal updated")
	return g, nil
}

// ActiveGoal returns the user's current goal, or nil when unset.
func (s *Service) ActiveGoal(ctx context.Context, userID string) (*store.Goal, error) {
	return s.store.ActiveGoal(ctx, userID)
}

func round1(f float64) float64 {
	return math.Round(f*10) / 10
}

func ageString(t, now time.Time) string {
	days := int(now.Sub(t).Hours() / 24)
	switch {
	case days <= 0:
		return "today"
	case days == 1:
		return "yesterday"
	default:
		return fmt.Sprintf("%d days ago", days)
	}
}
