// Package ledger implements the capsule ledger service: atomic per-user
// credit and debit with an append-only audit trail.
//
// Every mutation appends exactly one entry whose BalanceAfter equals the
// post-operation balance. The chain of BalanceAfter values is the audit
// trail and is never rewritten. A mismatch between the chain and the
// materialized balance is the one fatal-class condition: the user's debits
// are halted pending manual audit; auto-"correcting" money is itself a
// security risk, so the service never recomputes a balance on its own.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/capsulemarket/capsule/internal/domain"
	"github.com/capsulemarket/capsule/internal/infra/observability"
)

// Service is the capsule ledger. Operations on the same user are serialized
// by a per-user lock; operations on different users proceed independently.
type Service struct {
	stores domain.Stores
	log    zerolog.Logger

	// Injectable clock for testing.
	now func() time.Time

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
	frozen map[string]bool // users whose debits are halted after a chain mismatch
}

// New creates a ledger service.
func New(stores domain.Stores, log zerolog.Logger) *Service {
	return &Service{
		stores: stores,
		log:    log.With().Str("component", "ledger").Logger(),
		now:    time.Now,
		locks:  make(map[string]*sync.Mutex),
		frozen: make(map[string]bool),
	}
}

// lockUser serializes ledger mutations for one user. Returns the unlock func.
func (s *Service) lockUser(userID string) func() {
	s.mu.Lock()
	l, ok := s.locks[userID]
	if !ok {
		l = &sync.Mutex{}
		s.locks[userID] = l
	}
	s.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// ─── Credit / Debit ─────────────────────────────────────────────────────────

// Credit adds amount capsules to the user's balance. Admin credits have no
// upper bound. Returns the new balance.
func (s *Service) Credit(ctx context.Context, userID string, amount int64, typ domain.LedgerEntryType, description, referenceID string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}

	unlock := s.lockUser(userID)
	defer unlock()

	var entry domain.LedgerEntry
	err := s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		if err := s.verifyChain(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		entry, err = tx.Ledger().AppendEntry(ctx, userID, amount, typ, description, referenceID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}

	observability.CapsulesCredited.WithLabelValues(string(typ)).Add(float64(amount))
	s.log.Info().Str("user", userID).Int64("amount", amount).
		Str("type", string(typ)).Int64("balance", entry.BalanceAfter).Msg("capsules credited")
	return entry.BalanceAfter, nil
}

// Debit removes amount capsules. Fails hard with ErrInsufficientBalance when
// amount exceeds the balance; no partial debit. Returns the new balance.
func (s *Service) Debit(ctx context.Context, userID string, amount int64, typ domain.LedgerEntryType, description, referenceID string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}

	unlock := s.lockUser(userID)
	defer unlock()

	if s.isFrozen(userID) {
		return 0, domain.ErrLedgerCorrupted
	}

	var entry domain.LedgerEntry
	err := s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		if err := s.verifyChain(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		entry, err = tx.Ledger().AppendEntry(ctx, userID, -amount, typ, description, referenceID, s.now())
		return err
	})
	if err != nil {
		return 0, err
	}

	observability.CapsulesDebited.WithLabelValues(string(typ)).Add(float64(amount))
	s.log.Info().Str("user", userID).Int64("amount", amount).
		Str("type", string(typ)).Int64("balance", entry.BalanceAfter).Msg("capsules debited")
	return entry.BalanceAfter, nil
}

// DebitUpTo debits min(amount, balance); the admin-debit and slashing
// semantics, where the debit is capped at the current balance. Returns the
// amount actually debited and the new balance. A zero balance debits nothing.
func (s *Service) DebitUpTo(ctx context.Context, userID string, amount int64, typ domain.LedgerEntryType, description, referenceID string) (debited, balance int64, err error) {
	if amount <= 0 {
		return 0, 0, domain.ErrInvalidAmount
	}

	unlock := s.lockUser(userID)
	defer unlock()

	if s.isFrozen(userID) {
		return 0, 0, domain.ErrLedgerCorrupted
	}

	err = s.stores.WithinTx(ctx, func(tx domain.Stores) error {
		return s.debitUpToTx(ctx, tx, userID, amount, typ, description, referenceID, &debited, &balance)
	})
	if err != nil {
		return 0, 0, err
	}

	if debited > 0 {
		observability.CapsulesDebited.WithLabelValues(string(typ)).Add(float64(debited))
	}
	return debited, balance, nil
}

// ─── Transactional Variants ─────────────────────────────────────────────────
// Used by the submission service to make a status transition and its ledger
// effect one atomic unit. The caller owns the transaction and per-user
// serialization; these only enforce the chain invariant and append.

// CreditTx credits within the caller's transaction.
func (s *Service) CreditTx(ctx context.Context, tx domain.Stores, userID string, amount int64, typ domain.LedgerEntryType, description, referenceID string) (int64, error) {
	if amount <= 0 {
		return 0, domain.ErrInvalidAmount
	}
	if err := s.verifyChain(ctx, tx, userID); err != nil {
		return 0, err
	}
	entry, err := tx.Ledger().AppendEntry(ctx, userID, amount, typ, description, referenceID, s.now())
	if err != nil {
		return 0, err
	}
	observability.CapsulesCredited.WithLabelValues(string(typ)).Add(float64(amount))
	return entry.BalanceAfter, nil
}

// DebitUpToTx debits min(amount, balance) within the caller's transaction.
func (s *Service) DebitUpToTx(ctx context.Context, tx domain.Stores, userID string, amount int64, typ domain.LedgerEntryType, description, referenceID string) (debited, balance int64, err error) {
	if amount <= 0 {
		return 0, 0, domain.ErrInvalidAmount
	}
	if s.isFrozen(userID) {
		return 0, 0, domain.ErrLedgerCorrupted
	}
	err = s.debitUpToTx(ctx, tx, userID, amount, typ, description, referenceID, &debited, &balance)
	if err != nil {
		return 0, 0, err
	}
	if debited > 0 {
		observability.CapsulesDebited.WithLabelValues(string(typ)).Add(float64(debited))
	}
	return debited, balance, nil
}

func (s *Service) debitUpToTx(ctx context.Context, tx domain.Stores, userID string, amount int64, typ domain.LedgerEntryType, description, referenceID string, debited, balance *int64) error {
	if err := s.verifyChain(ctx, tx, userID); err != nil {
		return err
	}
	bal, err := tx.Ledger().Balance(ctx, userID)
	if err != nil {
		return err
	}
	take := amount
	if take > bal {
		take = bal
	}
	if take == 0 {
		*debited, *balance = 0, bal
		return nil
	}
	entry, err := tx.Ledger().AppendEntry(ctx, userID, -take, typ, description, referenceID, s.now())
	if err != nil {
		return err
	}
	*debited, *balance = take, entry.BalanceAfter
	return nil
}

// ─── Queries ────────────────────────────────────────────────────────────────

// Balance returns the user's current capsule balance.
func (s *Service) Balance(ctx context.Context, userID string) (int64, error) {
	return s.stores.Ledger().Balance(ctx, userID)
}

// Entries returns the user's most recent ledger entries, newest first.
func (s *Service) Entries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	return s.stores.Ledger().ListEntries(ctx, userID, limit)
}

// ─── Audit ──────────────────────────────────────────────────────────────────

// AuditReport is the result of replaying a user's full ledger chain.
type AuditReport struct {
	UserID     string `json:"user_id"`
	Entries    int    `json:"entries"`
	Balance    int64  `json:"balance"`
	ChainSum   int64  `json:"chain_sum"`
	OK         bool   `json:"ok"`
	BadEntryID int64  `json:"bad_entry_id,omitempty"`
}

// Audit replays the chain oldest-first: each BalanceAfter must equal the
// running sum of amounts, and the final sum must equal the materialized
// balance. A failed audit freezes the user's debits.
func (s *Service) Audit(ctx context.Context, userID string) (AuditReport, error) {
	unlock := s.lockUser(userID)
	defer unlock()

	entries, err := s.stores.Ledger().ListEntries(ctx, userID, 0)
	if err != nil {
		return AuditReport{}, err
	}
	balance, err := s.stores.Ledger().Balance(ctx, userID)
	if err != nil {
		return AuditReport{}, err
	}

	report := AuditReport{UserID: userID, Entries: len(entries), Balance: balance, OK: true}

	// ListEntries returns newest first; replay oldest first.
	var sum int64
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		sum += e.Amount
		if e.BalanceAfter != sum {
			report.OK = false
			report.BadEntryID = e.ID
			break
		}
	}
	report.ChainSum = sum
	if report.OK && sum != balance {
		report.OK = false
	}

	if !report.OK {
		s.freeze(userID)
		s.log.Error().Str("user", userID).Int64("balance", balance).
			Int64("chain_sum", sum).Int64("bad_entry", report.BadEntryID).
			Msg("ledger audit failed, debits halted")
	}
	return report, nil
}

// Frozen reports whether the user's debits are halted pending manual audit.
func (s *Service) Frozen(userID string) bool {
	return s.isFrozen(userID)
}

// verifyChain is the cheap per-operation invariant check: the newest
// entry's BalanceAfter must match the materialized balance.
func (s *Service) verifyChain(ctx context.Context, tx domain.Stores, userID string) error {
	last, err := tx.Ledger().LastEntry(ctx, userID)
	if err != nil {
		return err
	}
	if last == nil {
		return nil
	}
	balance, err := tx.Ledger().Balance(ctx, userID)
	if err != nil {
		return err
	}
	if last.BalanceAfter != balance {
		s.freeze(userID)
		s.log.Error().Str("user", userID).Int64("balance", balance).
			Int64("last_entry_balance", last.BalanceAfter).
			Msg("ledger chain mismatch, debits halted")
		return fmt.Errorf("user %s: %w", userID, domain.ErrLedgerCorrupted)
	}
	return nil
}

func (s *Service) isFrozen(userID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frozen[userID]
}

func (s *Service) freeze(userID string) {
	s.mu.Lock()
	s.frozen[userID] = true
	s.mu.Unlock()
	observability.LedgerFreezes.Inc()
}
