package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/capsulemarket/capsule/internal/domain"
	"github.com/capsulemarket/capsule/internal/infra/sqlite"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := sqlite.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return New(db, zerolog.Nop())
}

func TestCreditDebitRoundTrip(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	balance, err := s.Credit(ctx, "u1", 100, domain.EntryAdminCredit, "grant", "")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 100 {
		t.Errorf("balance after credit = %d, want 100", balance)
	}

	balance, err = s.Debit(ctx, "u1", 40, domain.EntrySpent, "boost order", "order-7")
	if err != nil {
		t.Fatal(err)
	}
	if balance != 60 {
		t.Errorf("balance after debit = %d, want 60", balance)
	}

	entries, err := s.Entries(ctx, "u1", 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	// Newest first: the debit carries the final balance.
	if entries[0].Amount != -40 || entries[0].BalanceAfter != 60 {
		t.Errorf("debit entry = %+v", entries[0])
	}
	if entries[1].Amount != 100 || entries[1].BalanceAfter != 100 {
		t.Errorf("credit entry = %+v", entries[1])
	}
}

func TestDebitInsufficientBalance(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Credit(ctx, "u1", 10, domain.EntryEarned, "", ""); err != nil {
		t.Fatal(err)
	}

	_, err := s.Debit(ctx, "u1", 11, domain.EntrySpent, "", "")
	if !errors.Is(err, domain.ErrInsufficientBalance) {
		t.Fatalf("error = %v, want ErrInsufficientBalance", err)
	}

	// Hard fail: nothing moved, nothing appended.
	balance, _ := s.Balance(ctx, "u1")
	if balance != 10 {
		t.Errorf("balance = %d, want 10", balance)
	}
	entries, _ := s.Entries(ctx, "u1", 0)
	if len(entries) != 1 {
		t.Errorf("entries = %d, want 1", len(entries))
	}
}

func TestInvalidAmounts(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Credit(ctx, "u1", 0, domain.EntryEarned, "", ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero credit error = %v, want ErrInvalidAmount", err)
	}
	if _, err := s.Credit(ctx, "u1", -5, domain.EntryEarned, "", ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("negative credit error = %v, want ErrInvalidAmount", err)
	}
	if _, err := s.Debit(ctx, "u1", 0, domain.EntrySpent, "", ""); !errors.Is(err, domain.ErrInvalidAmount) {
		t.Errorf("zero debit error = %v, want ErrInvalidAmount", err)
	}
}

func TestDebitUpToClamps(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	if _, err := s.Credit(ctx, "u1", 10, domain.EntryEarned, "", ""); err != nil {
		t.Fatal(err)
	}

	debited, balance, err := s.DebitUpTo(ctx, "u1", 15, domain.EntryAdminDebit, "slash", "sub-1")
	if err != nil {
		t.Fatal(err)
	}
	if debited != 10 || balance != 0 {
		t.Errorf("DebitUpTo = (%d, %d), want (10, 0)", debited, balance)
	}

	// A zero balance debits nothing and appends nothing.
	debited, balance, err = s.DebitUpTo(ctx, "u1", 5, domain.EntryAdminDebit, "slash", "sub-2")
	if err != nil {
		t.Fatal(err)
	}
	if debited != 0 || balance != 0 {
		t.Errorf("DebitUpTo on empty = (%d, %d), want (0, 0)", debited, balance)
	}
	entries, _ := s.Entries(ctx, "u1", 0)
	if len(entries) != 2 {
		t.Errorf("entries = %d, want 2", len(entries))
	}
}

func TestAuditHealthyChain(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	s.Credit(ctx, "u1", 10, domain.EntryEarned, "", "")
	s.Credit(ctx, "u1", 5, domain.EntryEarned, "", "")
	s.Debit(ctx, "u1", 3, domain.EntrySpent, "", "")

	report, err := s.Audit(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if !report.OK {
		t.Fatalf("audit failed: %+v", report)
	}
	if report.Entries != 3 || report.Balance != 12 || report.ChainSum != 12 {
		t.Errorf("report = %+v", report)
	}
	if s.Frozen("u1") {
		t.Error("healthy audit must not freeze")
	}
}

// ─── Corruption Handling ────────────────────────────────────────────────────
// The tamperable in-memory store lets tests break the chain invariant in
// ways the SQLite store makes impossible.

type fakeLedger struct {
	entries []domain.LedgerEntry // newest first
	balance int64
}

func (f *fakeLedger) AppendEntry(ctx context.Context, userID string, delta int64, typ domain.LedgerEntryType, description, referenceID string, at time.Time) (domain.LedgerEntry, error) {
	if f.balance+delta < 0 {
		return domain.LedgerEntry{}, domain.ErrInsufficientBalance
	}
	f.balance += delta
	e := domain.LedgerEntry{
		ID:           int64(len(f.entries) + 1),
		UserID:       userID,
		Type:         typ,
		Amount:       delta,
		BalanceAfter: f.balance,
		Description:  description,
		ReferenceID:  referenceID,
		CreatedAt:    at,
	}
	f.entries = append([]domain.LedgerEntry{e}, f.entries...)
	return e, nil
}

func (f *fakeLedger) Balance(ctx context.Context, userID string) (int64, error) {
	return f.balance, nil
}

func (f *fakeLedger) LastEntry(ctx context.Context, userID string) (*domain.LedgerEntry, error) {
	if len(f.entries) == 0 {
		return nil, nil
	}
	e := f.entries[0]
	return &e, nil
}

func (f *fakeLedger) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	out := make([]domain.LedgerEntry, len(f.entries))
	copy(out, f.entries)
	return out, nil
}

type fakeStores struct {
	ledger *fakeLedger
}

func (f *fakeStores) Submissions() domain.SubmissionStore { return nil }
func (f *fakeStores) Ledger() domain.LedgerStore          { return f.ledger }
func (f *fakeStores) Trust() domain.TrustStore            { return nil }
func (f *fakeStores) WithinTx(ctx context.Context, fn func(domain.Stores) error) error {
	return fn(f)
}

func TestAuditDetectsTamperedChain(t *testing.T) {
	fake := &fakeStores{ledger: &fakeLedger{}}
	s := New(fake, zerolog.Nop())
	ctx := context.Background()

	s.Credit(ctx, "u1", 10, domain.EntryEarned, "", "")
	s.Credit(ctx, "u1", 5, domain.EntryEarned, "", "")

	// Tamper with the older entry's amount: the chain no longer sums.
	fake.ledger.entries[1].Amount = 8

	report, err := s.Audit(ctx, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if report.OK {
		t.Fatal("audit should fail on a tampered chain")
	}
	if report.BadEntryID != 1 {
		t.Errorf("BadEntryID = %d, want 1", report.BadEntryID)
	}
	if !s.Frozen("u1") {
		t.Error("failed audit must freeze the user's debits")
	}

	// Frozen user: debits refused outright.
	if _, err := s.Debit(ctx, "u1", 1, domain.EntrySpent, "", ""); !errors.Is(err, domain.ErrLedgerCorrupted) {
		t.Errorf("debit after freeze error = %v, want ErrLedgerCorrupted", err)
	}
	if _, _, err := s.DebitUpTo(ctx, "u1", 1, domain.EntryAdminDebit, "", ""); !errors.Is(err, domain.ErrLedgerCorrupted) {
		t.Errorf("DebitUpTo after freeze error = %v, want ErrLedgerCorrupted", err)
	}
}

func TestVerifyChainMismatchHaltsMutation(t *testing.T) {
	fake := &fakeStores{ledger: &fakeLedger{}}
	s := New(fake, zerolog.Nop())
	ctx := context.Background()

	s.Credit(ctx, "u1", 10, domain.EntryEarned, "", "")

	// Materialized balance drifts from the newest entry.
	fake.ledger.balance = 99

	if _, err := s.Credit(ctx, "u1", 5, domain.EntryEarned, "", ""); !errors.Is(err, domain.ErrLedgerCorrupted) {
		t.Fatalf("credit over broken chain error = %v, want ErrLedgerCorrupted", err)
	}
	if !s.Frozen("u1") {
		t.Error("chain mismatch must freeze the user")
	}
}
