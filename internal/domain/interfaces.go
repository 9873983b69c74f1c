package domain

import (
	"context"
	"time"
)

// ─── Store Interfaces ───────────────────────────────────────────────────────
// These interfaces define boundaries between layers.
// Infrastructure implements them; application services depend on them.

// SubmissionStore persists task submissions.
type SubmissionStore interface {
	InsertSubmission(ctx context.Context, s TaskSubmission) error
	GetSubmission(ctx context.Context, id string) (*TaskSubmission, error)
	UpdateSubmission(ctx context.Context, s TaskSubmission) error

	// TransitionStatus flips status only if the current status matches
	// from (optimistic check). Returns false when the row was in a
	// different status; the caller lost the race or the graph forbids it.
	TransitionStatus(ctx context.Context, id string, from, to SubmissionStatus) (bool, error)

	// SetSubmissionFlag sets or clears the manual-review flag without
	// touching any other column, so a flag can never revert a concurrent
	// status transition.
	SetSubmissionFlag(ctx context.Context, id string, flagged bool, reason string) error

	// CapsulesCommittedSince sums CapsulesEarned over the user's
	// submissions created at or after since, excluding rejected and
	// reversed ones. Feeds the daily earning cap check.
	CapsulesCommittedSince(ctx context.Context, userID string, since time.Time) (int64, error)

	ListSubmissionsByUser(ctx context.Context, userID string, limit int) ([]TaskSubmission, error)
}

// LedgerStore persists the append-only capsule ledger.
type LedgerStore interface {
	// AppendEntry atomically adjusts the user's materialized balance by
	// delta (signed) and appends the ledger row carrying the resulting
	// BalanceAfter. A negative delta that would take the balance below
	// zero returns ErrInsufficientBalance with no effect; the update and
	// the append are one unit, so concurrent mutations never lose a write.
	AppendEntry(ctx context.Context, userID string, delta int64, typ LedgerEntryType, description, referenceID string, at time.Time) (LedgerEntry, error)
	Balance(ctx context.Context, userID string) (int64, error)
	LastEntry(ctx context.Context, userID string) (*LedgerEntry, error)
	ListEntries(ctx context.Context, userID string, limit int) ([]LedgerEntry, error)
}

// TrustStore persists per-user trust scores.
type TrustStore interface {
	// GetTrustScore returns the user's trust record, creating the default
	// (score 50, normal tier) on first sight.
	GetTrustScore(ctx context.Context, userID string) (*TrustScore, error)
	PutTrustScore(ctx context.Context, ts TrustScore) error
}

// Stores bundles the three stores plus a transaction boundary. A released
// submission and its ledger credit must never be observable half-done, so
// the submission service runs those mutations inside WithinTx.
type Stores interface {
	Submissions() SubmissionStore
	Ledger() LedgerStore
	Trust() TrustStore

	// WithinTx runs fn against transaction-bound stores. fn returning an
	// error rolls everything back.
	WithinTx(ctx context.Context, fn func(Stores) error) error
}

// ─── External Oracles ───────────────────────────────────────────────────────

// UsernameOracle checks username ownership on a platform. Best-effort and
// advisory: a false verdict is surfaced to the user but never blocks a
// submission, and an unreachable oracle is treated as no verdict.
type UsernameOracle interface {
	Verify(ctx context.Context, platform Platform, username string) (bool, error)
}
