// Package domain contains pure business types with ZERO infrastructure imports.
// This is the innermost ring of clean architecture; it depends on nothing.
package domain

import "time"

// ─── Platforms & Task Types ─────────────────────────────────────────────────

// Platform identifies the social network a task targets.
type Platform string

const (
	PlatformInstagram Platform = "instagram"
	PlatformTikTok    Platform = "tiktok"
	PlatformYouTube   Platform = "youtube"
	PlatformTwitter   Platform = "twitter"
	PlatformWeb       Platform = "web"
)

// TaskType categorizes the engagement action a task asks for.
type TaskType string

const (
	TaskLike    TaskType = "like"
	TaskComment TaskType = "comment"
	TaskFollow  TaskType = "follow"
	TaskWatch   TaskType = "watch"
	TaskVisit   TaskType = "visit"
)

// AllTaskTypes lists every known task type, in a stable order.
func AllTaskTypes() []TaskType {
	return []TaskType{TaskLike, TaskComment, TaskFollow, TaskWatch, TaskVisit}
}

// ─── Trust Score ────────────────────────────────────────────────────────────

// TrustScore is a user's accumulated trust state. The score itself is an
// integer clamped to [0,100]; the tier is always derived from it, never
// stored, so the two cannot drift apart.
type TrustScore struct {
	UserID               string    `json:"user_id"`
	Score                int       `json:"score"`
	CooldownUntil        time.Time `json:"cooldown_until,omitempty"` // zero = no cooldown
	TotalCapsulesEarned  int64     `json:"total_capsules_earned"`
	TotalCapsulesSlashed int64     `json:"total_capsules_slashed"`
	TotalTasksCompleted  int64     `json:"total_tasks_completed"`
	TotalTasksRejected   int64     `json:"total_tasks_rejected"`
	LastTaskAt           time.Time `json:"last_task_at,omitempty"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// InCooldown reports whether the user is blocked from starting tasks at now.
func (ts TrustScore) InCooldown(now time.Time) bool {
	return !ts.CooldownUntil.IsZero() && now.Before(ts.CooldownUntil)
}

// ClampScore restricts a raw score to the valid [0,100] range.
func ClampScore(score int) int {
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}

// ─── Trust Tier ─────────────────────────────────────────────────────────────

// TierName is one of the four trust tiers derived from score.
type TierName string

const (
	TierTrusted    TierName = "trusted"
	TierNormal     TierName = "normal"
	TierRestricted TierName = "restricted"
	TierSuspended  TierName = "suspended"
)

// TierConfig is the derived per-tier policy. It is never persisted; callers
// resolve it from the score on demand and snapshot the pieces they need.
type TierConfig struct {
	Name               TierName      `json:"name" yaml:"name"`
	MinScore           int           `json:"min_score" yaml:"min_score"` // inclusive
	MaxScore           int           `json:"max_score" yaml:"max_score"` // exclusive, except the top tier
	DailyEarningCap    int64         `json:"daily_earning_cap" yaml:"daily_earning_cap"` // 0 = uncapped
	PendingDuration    time.Duration `json:"pending_duration" yaml:"pending_duration"`
	TimerMultiplier    float64       `json:"timer_multiplier" yaml:"timer_multiplier"`
	ScreenshotRequired bool          `json:"screenshot_required" yaml:"screenshot_required"`
	AllowTaskStart     bool          `json:"allow_task_start" yaml:"allow_task_start"`
}

// ─── Validation ─────────────────────────────────────────────────────────────

// ValidationRule is the immutable per-task-type evidence requirement set.
type ValidationRule struct {
	MinTimerSeconds         int  `json:"min_timer_seconds" yaml:"min_timer_seconds"`
	MaxTimerSeconds         int  `json:"max_timer_seconds" yaml:"max_timer_seconds"`
	RequiresComment         bool `json:"requires_comment" yaml:"requires_comment"`
	RequiresUsername        bool `json:"requires_username" yaml:"requires_username"`
	RequiresContentQuestion bool `json:"requires_content_question" yaml:"requires_content_question"`
}

// SubmissionPolicy is the effective validation policy for one submission,
// computed from (task type, tier) at start time and frozen into the
// submission. A later tier change never re-opens a started submission.
type SubmissionPolicy struct {
	RequiredSeconds    int           `json:"required_seconds"`
	MaxTimerSeconds    int           `json:"max_timer_seconds"`
	RequiresUsername   bool          `json:"requires_username"`
	RequiresComment    bool          `json:"requires_comment"`
	ScreenshotRequired bool          `json:"screenshot_required"`
	Tier               TierName      `json:"tier"`
	PendingDuration    time.Duration `json:"pending_duration"`
}

// ─── Task Submission ────────────────────────────────────────────────────────

// SubmissionStatus tracks the submission lifecycle.
type SubmissionStatus string

const (
	SubmissionStarted  SubmissionStatus = "started"
	SubmissionPending  SubmissionStatus = "pending"
	SubmissionVerified SubmissionStatus = "verified"
	SubmissionReleased SubmissionStatus = "released"
	SubmissionRejected SubmissionStatus = "rejected"
	SubmissionReversed SubmissionStatus = "reversed"
)

// Evidence is what a user hands over when trying to move started → pending.
type Evidence struct {
	TimerSeconds     int    `json:"timer_seconds"`
	PlatformUsername string `json:"platform_username,omitempty"`
	CommentText      string `json:"comment_text,omitempty"`
	ContentAnswer    string `json:"content_answer"`
	ScreenshotRef    string `json:"screenshot_ref"`
	Attested         bool   `json:"attested"`
}

// TaskSubmission is one user's attempt at one task. The policy and content
// question are frozen at creation; the timer is frozen once submitted.
type TaskSubmission struct {
	ID               string           `json:"id"`
	TaskID           string           `json:"task_id"`
	UserID           string           `json:"user_id"`
	Platform         Platform         `json:"platform"`
	TaskType         TaskType         `json:"task_type"`
	Policy           SubmissionPolicy `json:"policy"`
	PlatformUsername string           `json:"platform_username,omitempty"`
	UsernameVerified *bool            `json:"username_verified,omitempty"` // advisory oracle verdict
	CommentText      string           `json:"comment_text,omitempty"`
	ContentQuestion  string           `json:"content_question"`
	ContentAnswer    string           `json:"content_answer,omitempty"`
	ScreenshotRef    string           `json:"screenshot_ref,omitempty"`
	TimerSeconds     int              `json:"timer_seconds"`
	CapsulesEarned   int64            `json:"capsules_earned"`
	Status           SubmissionStatus `json:"status"`
	Flagged          bool             `json:"flagged"`
	FlagReason       string           `json:"flag_reason,omitempty"`
	ReviewNotes      string           `json:"review_notes,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	SubmittedAt      time.Time        `json:"submitted_at,omitempty"`
	VerifiedAt       time.Time        `json:"verified_at,omitempty"`
	ReleasedAt       time.Time        `json:"released_at,omitempty"`
}

// IsTerminal reports whether the submission has reached a final state.
func (s *TaskSubmission) IsTerminal() bool {
	return s.Status == SubmissionReleased ||
		s.Status == SubmissionRejected ||
		s.Status == SubmissionReversed
}

// ReleaseAt returns when the held reward becomes eligible for release.
// Advisory: release itself is moderator-triggered, not timer-driven.
func (s *TaskSubmission) ReleaseAt() time.Time {
	if s.VerifiedAt.IsZero() {
		return time.Time{}
	}
	return s.VerifiedAt.Add(s.Policy.PendingDuration)
}

// ─── Capsule Ledger ─────────────────────────────────────────────────────────

// LedgerEntryType is the business reason for a ledger mutation.
type LedgerEntryType string

const (
	EntryEarned      LedgerEntryType = "earned"
	EntrySpent       LedgerEntryType = "spent"
	EntryAdminCredit LedgerEntryType = "admin_credit"
	EntryAdminDebit  LedgerEntryType = "admin_debit"
	EntryPurchased   LedgerEntryType = "purchased"
)

// LedgerEntry is a single immutable row in the capsule ledger. BalanceAfter
// must equal the running sum of all prior amounts for the user; that chain
// is the audit trail and is never rewritten.
type LedgerEntry struct {
	ID           int64           `json:"id"`
	UserID       string          `json:"user_id"`
	Type         LedgerEntryType `json:"type"`
	Amount       int64           `json:"amount"` // signed: credits positive, debits negative
	BalanceAfter int64           `json:"balance_after"`
	Description  string          `json:"description,omitempty"`
	ReferenceID  string          `json:"reference_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// RewardCapsules computes the reward locked in at submission time:
// floor(base × multiplier). Integer capsules only; 5 × 1.5 pays 7.
func RewardCapsules(base int64, multiplier float64) int64 {
	return int64(float64(base) * multiplier)
}
