package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/capsulemarket/capsule/internal/domain"
)

// ─── Submission Store ───────────────────────────────────────────────────────

const submissionCols = `id, task_id, user_id, platform, task_type, policy_json,
	platform_username, username_verified, comment_text, content_question,
	content_answer, screenshot_ref, timer_seconds, capsules_earned, status,
	flagged, flag_reason, review_notes, created_at, submitted_at, verified_at, released_at`

// InsertSubmission stores a new submission row.
func (q *queries) InsertSubmission(ctx context.Context, s domain.TaskSubmission) error {
	policy, err := json.Marshal(s.Policy)
	if err != nil {
		return fmt.Errorf("marshal policy: %w", err)
	}
	_, err = q.q.ExecContext(ctx, `
		INSERT INTO submissions (`+submissionCols+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.TaskID, s.UserID, string(s.Platform), string(s.TaskType), string(policy),
		s.PlatformUsername, nullBool(s.UsernameVerified), s.CommentText, s.ContentQuestion,
		s.ContentAnswer, s.ScreenshotRef, s.TimerSeconds, s.CapsulesEarned, string(s.Status),
		boolInt(s.Flagged), s.FlagReason, s.ReviewNotes,
		formatTime(s.CreatedAt), formatNullTime(s.SubmittedAt),
		formatNullTime(s.VerifiedAt), formatNullTime(s.ReleasedAt))
	if err != nil {
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

// GetSubmission fetches one submission by ID.
func (q *queries) GetSubmission(ctx context.Context, id string) (*domain.TaskSubmission, error) {
	row := q.q.QueryRowContext(ctx, `SELECT `+submissionCols+` FROM submissions WHERE id = ?`, id)
	s, err := scanSubmission(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSubmissionNotFound
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}

// UpdateSubmission rewrites the mutable fields of an existing submission.
func (q *queries) UpdateSubmission(ctx context.Context, s domain.TaskSubmission) error {
	res, err := q.q.ExecContext(ctx, `
		UPDATE submissions SET
			platform_username = ?, username_verified = ?, comment_text = ?,
			content_answer = ?, screenshot_ref = ?, timer_seconds = ?,
			status = ?, flagged = ?, flag_reason = ?, review_notes = ?,
			submitted_at = ?, verified_at = ?, released_at = ?
		WHERE id = ?`,
		s.PlatformUsername, nullBool(s.UsernameVerified), s.CommentText,
		s.ContentAnswer, s.ScreenshotRef, s.TimerSeconds,
		string(s.Status), boolInt(s.Flagged), s.FlagReason, s.ReviewNotes,
		formatNullTime(s.SubmittedAt), formatNullTime(s.VerifiedAt), formatNullTime(s.ReleasedAt),
		s.ID)
	if err != nil {
		return fmt.Errorf("update submission: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

// TransitionStatus flips status only if the row currently holds from.
func (q *queries) TransitionStatus(ctx context.Context, id string, from, to domain.SubmissionStatus) (bool, error) {
	res, err := q.q.ExecContext(ctx,
		`UPDATE submissions SET status = ? WHERE id = ? AND status = ?`,
		string(to), id, string(from))
	if err != nil {
		return false, fmt.Errorf("transition status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetSubmissionFlag sets or clears the review flag. The narrow UPDATE
// leaves every other column alone.
func (q *queries) SetSubmissionFlag(ctx context.Context, id string, flagged bool, reason string) error {
	res, err := q.q.ExecContext(ctx,
		`UPDATE submissions SET flagged = ?, flag_reason = ? WHERE id = ?`,
		boolInt(flagged), reason, id)
	if err != nil {
		return fmt.Errorf("set submission flag: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrSubmissionNotFound
	}
	return nil
}

// CapsulesCommittedSince sums locked-in rewards created at or after since,
// skipping rejected and reversed submissions.
func (q *queries) CapsulesCommittedSince(ctx context.Context, userID string, since time.Time) (int64, error) {
	var sum int64
	err := q.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(capsules_earned), 0) FROM submissions
		WHERE user_id = ? AND created_at >= ? AND status NOT IN ('rejected', 'reversed')`,
		userID, formatTime(since)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum committed capsules: %w", err)
	}
	return sum, nil
}

// ListSubmissionsByUser returns the user's submissions newest first.
// limit <= 0 returns all.
func (q *queries) ListSubmissionsByUser(ctx context.Context, userID string, limit int) ([]domain.TaskSubmission, error) {
	if limit <= 0 {
		limit = -1 // SQLite: no limit
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT `+submissionCols+` FROM submissions
		WHERE user_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list submissions: %w", err)
	}
	defer rows.Close()

	var out []domain.TaskSubmission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

// ─── Scanning ───────────────────────────────────────────────────────────────

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSubmission(r rowScanner) (*domain.TaskSubmission, error) {
	var (
		s                                   domain.TaskSubmission
		platform, taskType, status, policy  string
		verified                            sql.NullInt64
		flagged                             int
		createdAt                           string
		submittedAt, verifiedAt, releasedAt sql.NullString
	)
	err := r.Scan(&s.ID, &s.TaskID, &s.UserID, &platform, &taskType, &policy,
		&s.PlatformUsername, &verified, &s.CommentText, &s.ContentQuestion,
		&s.ContentAnswer, &s.ScreenshotRef, &s.TimerSeconds, &s.CapsulesEarned, &status,
		&flagged, &s.FlagReason, &s.ReviewNotes,
		&createdAt, &submittedAt, &verifiedAt, &releasedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(policy), &s.Policy); err != nil {
		return nil, fmt.Errorf("unmarshal policy: %w", err)
	}
	s.Platform = domain.Platform(platform)
	s.TaskType = domain.TaskType(taskType)
	s.Status = domain.SubmissionStatus(status)
	s.Flagged = flagged != 0
	if verified.Valid {
		v := verified.Int64 != 0
		s.UsernameVerified = &v
	}
	s.CreatedAt = parseTime(createdAt)
	s.SubmittedAt = parseNullTime(submittedAt)
	s.VerifiedAt = parseNullTime(verifiedAt)
	s.ReleasedAt = parseNullTime(releasedAt)
	return &s, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}
