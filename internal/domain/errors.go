package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ─── Sentinel Errors ────────────────────────────────────────────────────────
// Domain errors are pure; no infrastructure dependency. Everything except
// ErrLedgerCorrupted is locally recoverable: fix the input and retry.

var (
	// Submission lifecycle errors
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrInvalidTransition  = errors.New("submission status transition not allowed")
	ErrMissingReviewNotes = errors.New("rejection requires non-empty review notes")
	ErrSubmissionFlagged  = errors.New("submission is flagged for manual review")

	// Task start gating errors
	ErrCooldownActive  = errors.New("user is in cooldown and cannot start tasks")
	ErrDailyCapReached = errors.New("daily earning cap reached for trust tier")
	ErrTierBlocked     = errors.New("trust tier does not allow starting tasks")
	ErrUnknownTaskType = errors.New("unknown task type")

	// Ledger errors
	ErrInsufficientBalance = errors.New("debit amount exceeds current balance")
	ErrInvalidAmount       = errors.New("ledger amount must be positive")
	// ErrLedgerCorrupted is the one fatal-class condition: the entry chain
	// no longer matches the materialized balance. Debits for the user halt
	// pending manual audit; money is never silently recomputed.
	ErrLedgerCorrupted = errors.New("ledger balance does not match entry chain")
)

// ─── Validation Incomplete ──────────────────────────────────────────────────

// ValidationIncompleteError reports every evidence requirement a submission
// still fails. Non-fatal: the submission stays in started and the user
// retries with corrected evidence.
type ValidationIncompleteError struct {
	Missing []string
}

func (e *ValidationIncompleteError) Error() string {
	return fmt.Sprintf("submission evidence incomplete: %s", strings.Join(e.Missing, ", "))
}

// IsValidationIncomplete reports whether err is a ValidationIncompleteError.
func IsValidationIncomplete(err error) bool {
	var vi *ValidationIncompleteError
	return errors.As(err, &vi)
}
