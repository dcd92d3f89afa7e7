package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Workout is one logged training session row.
type Workout struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Title       string    `json:"title"`
	Exercise    string    `json:"exercise,omitempty"`
	MuscleGroup string    `json:"muscle_group,omitempty"`
	Sets        int       `json:"sets"`
	Reps        int       `json:"reps"`
	WeightKG    float64   `json:"weight_kg,omitempty"`
	PerformedAt time.Time `json:"performed_at"`
}

// NutritionEntry is one logged meal or food item.
type NutritionEntry struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Calories float64   `json:"calories"`
	ProteinG float64   `json:"protein_g"`
	CarbsG   float64   `json:"carbs_g"`
	FatG     float64   `json:"fat_g"`
	LoggedAt time.Time `json:"logged_at"`
}

// BodyCompReading is one body composition measurement.
type BodyCompReading struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	WeightKG   float64   `json:"weight_kg,omitempty"`
	BodyFat    float64   `json:"body_fat,omitempty"`
	MeasuredAt time.Time `json:"measured_at"`
}

// Goal is a user's stated objective. Each save appends a new row; the most
// recently updated row is the active goal.
type Goal struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Description string    `json:"description"`
	Target      string    `json:"target,omitempty"`
	Phase       string    `json:"phase,omitempty"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Insight is a precomputed observation surfaced on demand.
type Insight struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Category  string    `json:"category"`
	Headline  string    `json:"headline"`
	Body      string    `json:"body,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// HealthMetric is one day's recovery readings.
type HealthMetric struct {
	ID            string    `json:"id"`
	UserID        string    `json:"user_id"`
	SleepHours    float64   `json:"sleep_hours,omitempty"`
	HRVMs         float64   `json:"hrv_ms,omitempty"`
	RestingHR     float64   `json:"resting_hr,omitempty"`
	RecoveryScore float64   `json:"recovery_score,omitempty"`
	MeasuredAt    time.Time `json:"measured_at"`
}

// InsertWorkout persists one workout row, assigning id and timestamp if unset.
func (s *Store) InsertWorkout(ctx context.Context, w *Workout) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	if w.PerformedAt.IsZero() {
		w.PerformedAt = time.Now().UTC()
	}
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO workouts
				(id, user_id, title, exercise, muscle_group, sets, reps, weight_kg, performed_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.UserID, w.Title, nullString(w.Exercise), nullString(w.MuscleGroup),
			w.Sets, w.Reps, nullFloat(w.WeightKG), w.PerformedAt,
		)
		return err
	})
	return queryErr("insert workout", err)
}

// WorkoutsSince returns a user's workouts performed at or after since,
// newest first, capped at limit.
func (s *Store) WorkoutsSince(ctx context.Context, userID string, since time.Time, limit int) ([]Workout, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Workout
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, title, exercise, muscle_group, sets, reps, weight_kg, performed_at
			FROM workouts
			WHERE user_id = ? AND performed_at >= ?
			ORDER BY performed_at DESC
			LIMIT ?`,
			userID, since, limit)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				w        Workout
				exercise sql.NullString
				group    sql.NullString
				weight   sql.NullFloat64
			)
			if err := rows.Scan(&w.ID, &w.UserID, &w.Title, &exercise, &group,
				&w.Sets, &w.Reps, &weight, &w.PerformedAt); err != nil {
				return err
			}
			w.Exercise = exercise.String
			w.MuscleGroup = group.String
			w.WeightKG = weight.Float64
			out = append(out, w)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("workouts since", err)
	}
	return out, nil
}

// MuscleGroupSetCounts aggregates weekly training volume per muscle group
// over the period starting at since.
func (s *Store) MuscleGroupSetCounts(ctx context.Context, userID string, since time.Time) (map[string]int, error) {
	counts := make(map[string]int)
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT LOWER(muscle_group), COALESCE(SUM(sets), 0)
			FROM workouts
			WHERE user_id = ? AND performed_at >= ? AND muscle_group IS NOT NULL
			GROUP BY LOWER(muscle_group)`,
			userID, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		clear(counts)
		for rows.Next() {
			var group string
			var sets int
			if err := rows.Scan(&group, &sets); err != nil {
				return err
			}
			counts[group] = sets
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("muscle group set counts", err)
	}
	return counts, nil
}

// InsertNutritionEntry persists one meal row.
func (s *Store) InsertNutritionEntry(ctx context.Context, e *NutritionEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.LoggedAt.IsZero() {
		e.LoggedAt = time.Now().UTC()
	}
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO nutrition_entries
				(id, user_id, name, calories, protein_g, carbs_g, fat_g, logged_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.UserID, e.Name, e.Calories, e.ProteinG, e.CarbsG, e.FatG, e.LoggedAt,
		)
		return err
	})
	return queryErr("insert nutrition entry", err)
}

// NutritionSince returns a user's meals logged at or after since, oldest first.
func (s *Store) NutritionSince(ctx context.Context, userID string, since time.Time) ([]NutritionEntry, error) {
	var out []NutritionEntry
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, name, calories, protein_g, carbs_g, fat_g, logged_at
			FROM nutrition_entries
			WHERE user_id = ? AND logged_at >= ?
			ORDER BY logged_at ASC`,
			userID, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var e NutritionEntry
			if err := rows.Scan(&e.ID, &e.UserID, &e.Name, &e.Calories,
				&e.ProteinG, &e.CarbsG, &e.FatG, &e.LoggedAt); err != nil {
				return err
			}
			out = append(out, e)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("nutrition since", err)
	}
	return out, nil
}

// InsertBodyComp persists one body composition reading.
func (s *Store) InsertBodyComp(ctx context.Context, r *BodyCompReading) error {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.MeasuredAt.IsZero() {
		r.MeasuredAt = time.Now().UTC()
	}
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO body_comp (id, user_id, weight_kg, body_fat, measured_at)
			VALUES (?, ?, ?, ?, ?)`,
			r.ID, r.UserID, nullFloat(r.WeightKG), nullFloat(r.BodyFat), r.MeasuredAt,
		)
		return err
	})
	return queryErr("insert body comp", err)
}

// BodyCompSince returns readings at or after since, oldest first.
func (s *Store) BodyCompSince(ctx context.Context, userID string, since time.Time) ([]BodyCompReading, error) {
	var out []BodyCompReading
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, weight_kg, body_fat, measured_at
			FROM body_comp
			WHERE user_id = ? AND measured_at >= ?
			ORDER BY measured_at ASC`,
			userID, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				r      BodyCompReading
				weight sql.NullFloat64
				fat    sql.NullFloat64
			)
			if err := rows.Scan(&r.ID, &r.UserID, &weight, &fat, &r.MeasuredAt); err != nil {
				return err
			}
			r.WeightKG = weight.Float64
			r.BodyFat = fat.Float64
			out = append(out, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("body comp since", err)
	}
	return out, nil
}

// SaveGoal appends a goal revision. The newest revision is the active goal.
func (s *Store) SaveGoal(ctx context.Context, g *Goal) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	if g.UpdatedAt.IsZero() {
		g.UpdatedAt = time.Now().UTC()
	}
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO goals (id, user_id, description, target, phase, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			g.ID, g.UserID, g.Description, nullString(g.Target), nullString(g.Phase), g.UpdatedAt,
		)
		return err
	})
	return queryErr("save goal", err)
}

// ActiveGoal returns the user's most recently updated goal, or nil when the
// user has never set one.
func (s *Store) ActiveGoal(ctx context.Context, userID string) (*Goal, error) {
	var g Goal
	err := withRetry(func() error {
		var target, phase sql.NullString
		err := s.db.QueryRowContext(ctx, `
			SELECT id, user_id, description, target, phase, updated_at
			FROM goals
			WHERE user_id = ?
			ORDER BY updated_at DESC
			LIMIT 1`,
			userID).Scan(&g.ID, &g.UserID, &g.Description, &target, &phase, &g.UpdatedAt)
		if err != nil {
			return err
		}
		g.Target = target.String
		g.Phase = phase.String
		return nil
	})
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, queryErr("active goal", err)
	}
	return &g, nil
}

// InsertInsight persists one precomputed insight.
func (s *Store) InsertInsight(ctx context.Context, i *Insight) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now().UTC()
	}
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO insights (id, user_id, category, headline, body, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			i.ID, i.UserID, i.Category, i.Headline, nullString(i.Body), i.CreatedAt,
		)
		return err
	})
	return queryErr("insert insight", err)
}

// Insights returns a user's insights newest first, optionally filtered by
// category, capped at limit.
func (s *Store) Insights(ctx context.Context, userID, category string, limit int) ([]Insight, error) {
	if limit <= 0 {
		limit = 5
	}

	query := `
		SELECT id, user_id, category, headline, body, created_at
		FROM insights
		WHERE user_id = ?`
	args := []any{userID}
	if category != "" {
		query += ` AND category = ?`
		args = append(args, category)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	var out []Insight
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				i    Insight
				body sql.NullString
			)
			if err := rows.Scan(&i.ID, &i.UserID, &i.Category, &i.Headline, &body, &i.CreatedAt); err != nil {
				return err
			}
			i.Body = body.String
			out = append(out, i)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("insights", err)
	}
	return out, nil
}

// InsertHealthMetric persists one day's recovery readings.
func (s *Store) InsertHealthMetric(ctx context.Context, m *HealthMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.MeasuredAt.IsZero() {
		m.MeasuredAt = time.Now().UTC()
	}
	err := withRetry(func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO health_metrics
				(id, user_id, sleep_hours, hrv_ms, resting_hr, recovery_score, measured_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			m.ID, m.UserID, nullFloat(m.SleepHours), nullFloat(m.HRVMs),
			nullFloat(m.RestingHR), nullFloat(m.RecoveryScore), m.MeasuredAt,
		)
		return err
	})
	return queryErr("insert health metric", err)
}

// HealthMetricsSince returns recovery readings at or after since, oldest first.
func (s *Store) HealthMetricsSince(ctx context.Context, userID string, since time.Time) ([]HealthMetric, error) {
	var out []HealthMetric
	err := withRetry(func() error {
		rows, err := s.db.QueryContext(ctx, `
			SELECT id, user_id, sleep_hours, hrv_ms, resting_hr, recovery_score, measured_at
			FROM health_metrics
			WHERE user_id = ? AND measured_at >= ?
			ORDER BY measured_at ASC`,
			userID, since)
		if err != nil {
			return err
		}
		defer rows.Close()

		out = out[:0]
		for rows.Next() {
			var (
				m                        HealthMetric
				sleep, hrv, rhr, recover sql.NullFloat64
			)
			if err := rows.Scan(&m.ID, &m.UserID, &sleep, &hrv, &rhr, &recover, &m.MeasuredAt); err != nil {
				return err
			}
			m.SleepHours = sleep.Float64
			m.HRVMs = hrv.Float64
			m.RestingHR = rhr.Float64
			m.RecoveryScore = recover.Float64
			out = append(out, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, queryErr("health metrics since", err)
	}
	return out, nil
}

// nullFloat converts zero to NULL for optional measurements.
func nullFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}
