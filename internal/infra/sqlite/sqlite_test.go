package sqlite

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/capsulemarket/capsule/internal/domain"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSubmission(id, userID string) domain.TaskSubmission {
	return domain.TaskSubmission{
		ID:       id,
		TaskID:   "task-1",
		UserID:   userID,
		Platform: domain.PlatformInstagram,
		TaskType: domain.TaskComment,
		Policy: domain.SubmissionPolicy{
			RequiredSeconds:    30,
			MaxTimerSeconds:    600,
			RequiresUsername:   true,
			RequiresComment:    true,
			ScreenshotRequired: true,
			Tier:               domain.TierNormal,
			PendingDuration:    30 * time.Minute,
		},
		ContentQuestion: "What did your comment say?",
		CapsulesEarned:  10,
		Status:          domain.SubmissionStarted,
		CreatedAt:       time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC),
	}
}

func TestSubmissionRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	want := testSubmission("sub-1", "u1")
	if err := db.Submissions().InsertSubmission(ctx, want); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := db.Submissions().GetSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Policy != want.Policy {
		t.Errorf("policy snapshot = %+v, want %+v", got.Policy, want.Policy)
	}
	if got.ContentQuestion != want.ContentQuestion {
		t.Errorf("ContentQuestion = %q, want %q", got.ContentQuestion, want.ContentQuestion)
	}
	if got.Status != domain.SubmissionStarted {
		t.Errorf("Status = %s, want started", got.Status)
	}
	if !got.CreatedAt.Equal(want.CreatedAt) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, want.CreatedAt)
	}
	if !got.SubmittedAt.IsZero() || got.UsernameVerified != nil {
		t.Error("unset fields should come back zero")
	}

	verified := true
	got.Status = domain.SubmissionPending
	got.SubmittedAt = want.CreatedAt.Add(45 * time.Second)
	got.TimerSeconds = 31
	got.UsernameVerified = &verified
	if err := db.Submissions().UpdateSubmission(ctx, *got); err != nil {
		t.Fatalf("update: %v", err)
	}

	again, err := db.Submissions().GetSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if again.Status != domain.SubmissionPending || again.TimerSeconds != 31 {
		t.Errorf("update not persisted: %+v", again)
	}
	if again.UsernameVerified == nil || !*again.UsernameVerified {
		t.Error("UsernameVerified should round-trip as true")
	}

	if _, err := db.Submissions().GetSubmission(ctx, "nope"); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Errorf("missing submission error = %v, want ErrSubmissionNotFound", err)
	}
}

func TestTransitionStatusOptimistic(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sub := testSubmission("sub-1", "u1")
	sub.Status = domain.SubmissionPending
	if err := db.Submissions().InsertSubmission(ctx, sub); err != nil {
		t.Fatal(err)
	}

	applied, err := db.Submissions().TransitionStatus(ctx, "sub-1", domain.SubmissionPending, domain.SubmissionVerified)
	if err != nil {
		t.Fatal(err)
	}
	if !applied {
		t.Fatal("first transition should apply")
	}

	// Second attempt from the stale status loses.
	applied, err = db.Submissions().TransitionStatus(ctx, "sub-1", domain.SubmissionPending, domain.SubmissionVerified)
	if err != nil {
		t.Fatal(err)
	}
	if applied {
		t.Error("transition from stale status should not apply")
	}

	got, _ := db.Submissions().GetSubmission(ctx, "sub-1")
	if got.Status != domain.SubmissionVerified {
		t.Errorf("Status = %s, want verified", got.Status)
	}
}

func TestSetSubmissionFlagTouchesOnlyFlagColumns(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sub := testSubmission("sub-1", "u1")
	sub.Status = domain.SubmissionVerified
	sub.ReviewNotes = "checked"
	if err := db.Submissions().InsertSubmission(ctx, sub); err != nil {
		t.Fatal(err)
	}

	if err := db.Submissions().SetSubmissionFlag(ctx, "sub-1", true, "abuse report"); err != nil {
		t.Fatalf("set flag: %v", err)
	}
	got, err := db.Submissions().GetSubmission(ctx, "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if !got.Flagged || got.FlagReason != "abuse report" {
		t.Errorf("flag not set: %+v", got)
	}
	if got.Status != domain.SubmissionVerified || got.ReviewNotes != "checked" {
		t.Errorf("flag write touched other columns: %+v", got)
	}

	if err := db.Submissions().SetSubmissionFlag(ctx, "sub-1", false, ""); err != nil {
		t.Fatalf("clear flag: %v", err)
	}
	got, _ = db.Submissions().GetSubmission(ctx, "sub-1")
	if got.Flagged || got.FlagReason != "" {
		t.Errorf("flag not cleared: %+v", got)
	}

	if err := db.Submissions().SetSubmissionFlag(ctx, "ghost", true, "x"); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Errorf("missing submission error = %v, want ErrSubmissionNotFound", err)
	}
}

func TestCapsulesCommittedSince(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mk := func(id string, earned int64, status domain.SubmissionStatus, at time.Time) {
		s := testSubmission(id, "u1")
		s.CapsulesEarned = earned
		s.Status = status
		s.CreatedAt = at
		if err := db.Submissions().InsertSubmission(ctx, s); err != nil {
			t.Fatal(err)
		}
	}
	mk("a", 10, domain.SubmissionStarted, dayStart.Add(1*time.Hour))
	mk("b", 5, domain.SubmissionReleased, dayStart.Add(2*time.Hour))
	mk("c", 8, domain.SubmissionRejected, dayStart.Add(3*time.Hour)) // excluded
	mk("d", 7, domain.SubmissionReversed, dayStart.Add(4*time.Hour)) // excluded
	mk("e", 9, domain.SubmissionPending, dayStart.Add(-2*time.Hour)) // yesterday

	got, err := db.Submissions().CapsulesCommittedSince(ctx, "u1", dayStart)
	if err != nil {
		t.Fatal(err)
	}
	if got != 15 {
		t.Errorf("CapsulesCommittedSince = %d, want 15", got)
	}
}

func TestAppendEntryChain(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	e1, err := db.Ledger().AppendEntry(ctx, "u1", 10, domain.EntryEarned, "reward", "sub-1", at)
	if err != nil {
		t.Fatal(err)
	}
	if e1.BalanceAfter != 10 {
		t.Errorf("BalanceAfter = %d, want 10", e1.BalanceAfter)
	}

	e2, err := db.Ledger().AppendEntry(ctx, "u1", -4, domain.EntrySpent, "spend", "", at.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if e2.BalanceAfter != 6 {
		t.Errorf("BalanceAfter = %d, want 6", e2.BalanceAfter)
	}

	balance, err := db.Ledger().Balance(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 6 {
		t.Errorf("Balance = %d, want 6", balance)
	}

	last, err := db.Ledger().LastEntry(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if last == nil || last.Amount != -4 || last.BalanceAfter != 6 {
		t.Errorf("LastEntry = %+v", last)
	}

	entries, err := db.Ledger().ListEntries(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].ID < entries[1].ID {
		t.Errorf("entries should be newest first, got %+v", entries)
	}
}

func TestAppendEntryRefusesOverdraw(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()
	at := time.Now()

	if _, err := db.Ledger().AppendEntry(ctx, "u1", 5, domain.EntryEarned, "", "", at); err != nil {
		t.Fatal(err)
	}

	_, err := db.Ledger().AppendEntry(ctx, "u1", -6, domain.EntrySpent, "", "", at)
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("overdraw error = %v, want ErrInsufficientBalance", err)
	}

	// The refused debit must leave no trace.
	balance, _ := db.Ledger().Balance(ctx, "u1")
	if balance != 5 {
		t.Errorf("Balance after refused debit = %d, want 5", balance)
	}
	entries, _ := db.Ledger().ListEntries(ctx, "u1", 0)
	if len(entries) != 1 {
		t.Errorf("refused debit appended an entry: %+v", entries)
	}
}

func TestAppendEntryFreshUserDebit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	_, err := db.Ledger().AppendEntry(ctx, "new-user", -1, domain.EntrySpent, "", "", time.Now())
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("fresh-user debit error = %v, want ErrInsufficientBalance", err)
	}
	balance, _ := db.Ledger().Balance(ctx, "new-user")
	if balance != 0 {
		t.Errorf("Balance = %d, want 0", balance)
	}
}

func TestTrustScoreDefaultOnFirstSight(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	ts, err := db.Trust().GetTrustScore(ctx, "newcomer")
	if err != nil {
		t.Fatal(err)
	}
	if ts.Score != 50 {
		t.Errorf("default score = %d, want 50", ts.Score)
	}
	if ts.UserID != "newcomer" {
		t.Errorf("UserID = %q", ts.UserID)
	}

	ts.Score = 72
	ts.TotalTasksCompleted = 3
	ts.CooldownUntil = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	ts.UpdatedAt = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := db.Trust().PutTrustScore(ctx, *ts); err != nil {
		t.Fatal(err)
	}

	again, err := db.Trust().GetTrustScore(ctx, "newcomer")
	if err != nil {
		t.Fatal(err)
	}
	if again.Score != 72 || again.TotalTasksCompleted != 3 {
		t.Errorf("trust record not persisted: %+v", again)
	}
	if !again.CooldownUntil.Equal(ts.CooldownUntil) {
		t.Errorf("CooldownUntil = %v, want %v", again.CooldownUntil, ts.CooldownUntil)
	}
}

func TestWithinTxRollback(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	sentinel := fmt.Errorf("boom")
	err := db.WithinTx(ctx, func(tx domain.Stores) error {
		if err := tx.Submissions().InsertSubmission(ctx, testSubmission("sub-1", "u1")); err != nil {
			return err
		}
		if _, err := tx.Ledger().AppendEntry(ctx, "u1", 10, domain.EntryEarned, "", "", time.Now()); err != nil {
			return err
		}
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("WithinTx error = %v, want sentinel", err)
	}

	if _, err := db.Submissions().GetSubmission(ctx, "sub-1"); !errors.Is(err, domain.ErrSubmissionNotFound) {
		t.Error("rolled-back submission should not exist")
	}
	balance, _ := db.Ledger().Balance(ctx, "u1")
	if balance != 0 {
		t.Errorf("rolled-back credit left balance %d", balance)
	}
}

func TestWithinTxCommit(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	err := db.WithinTx(ctx, func(tx domain.Stores) error {
		if err := tx.Submissions().InsertSubmission(ctx, testSubmission("sub-1", "u1")); err != nil {
			return err
		}
		// Nested WithinTx joins the open transaction.
		return tx.WithinTx(ctx, func(inner domain.Stores) error {
			_, err := inner.Ledger().AppendEntry(ctx, "u1", 10, domain.EntryEarned, "", "", time.Now())
			return err
		})
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := db.Submissions().GetSubmission(ctx, "sub-1"); err != nil {
		t.Errorf("committed submission missing: %v", err)
	}
	balance, _ := db.Ledger().Balance(ctx, "u1")
	if balance != 10 {
		t.Errorf("Balance = %d, want 10", balance)
	}
}
