package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/capsulemarket/capsule/internal/domain"
)

// ─── Trust Score Store ──────────────────────────────────────────────────────

const defaultTrustScore = 50

// GetTrustScore returns the user's trust record, creating the default
// (score 50) on first sight.
func (q *queries) GetTrustScore(ctx context.Context, userID string) (*domain.TrustScore, error) {
	ts, err := q.readTrustScore(ctx, userID)
	if err == nil {
		return ts, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	now := time.Now().UTC()
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO trust_scores (user_id, score, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO NOTHING`,
		userID, defaultTrustScore, formatTime(now))
	if err != nil {
		return nil, fmt.Errorf("create trust score: %w", err)
	}
	return q.readTrustScore(ctx, userID)
}

// PutTrustScore upserts the full trust record.
func (q *queries) PutTrustScore(ctx context.Context, ts domain.TrustScore) error {
	_, err := q.q.ExecContext(ctx, `
		INSERT INTO trust_scores (user_id, score, cooldown_until, total_capsules_earned,
			total_capsules_slashed, total_tasks_completed, total_tasks_rejected,
			last_task_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			score = excluded.score,
			cooldown_until = excluded.cooldown_until,
			total_capsules_earned = excluded.total_capsules_earned,
			total_capsules_slashed = excluded.total_capsules_slashed,
			total_tasks_completed = excluded.total_tasks_completed,
			total_tasks_rejected = excluded.total_tasks_rejected,
			last_task_at = excluded.last_task_at,
			updated_at = excluded.updated_at`,
		ts.UserID, ts.Score, formatNullTime(ts.CooldownUntil),
		ts.TotalCapsulesEarned, ts.TotalCapsulesSlashed,
		ts.TotalTasksCompleted, ts.TotalTasksRejected,
		formatNullTime(ts.LastTaskAt), formatTime(ts.UpdatedAt))
	if err != nil {
		return fmt.Errorf("put trust score: %w", err)
	}
	return nil
}

func (q *queries) readTrustScore(ctx context.Context, userID string) (*domain.TrustScore, error) {
	var (
		ts                        domain.TrustScore
		cooldownUntil, lastTaskAt sql.NullString
		updatedAt                 string
	)
	err := q.q.QueryRowContext(ctx, `
		SELECT user_id, score, cooldown_until, total_capsules_earned,
			total_capsules_slashed, total_tasks_completed, total_tasks_rejected,
			last_task_at, updated_at
		FROM trust_scores WHERE user_id = ?`, userID).
		Scan(&ts.UserID, &ts.Score, &cooldownUntil, &ts.TotalCapsulesEarned,
			&ts.TotalCapsulesSlashed, &ts.TotalTasksCompleted, &ts.TotalTasksRejected,
			&lastTaskAt, &updatedAt)
	if err != nil {
		return nil, err
	}
	ts.CooldownUntil = parseNullTime(cooldownUntil)
	ts.LastTaskAt = parseNullTime(lastTaskAt)
	ts.UpdatedAt = parseTime(updatedAt)
	return &ts, nil
}
