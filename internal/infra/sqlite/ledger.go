package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/capsulemarket/capsule/internal/domain"
)

// ─── Ledger Store ───────────────────────────────────────────────────────────

// AppendEntry adjusts the materialized balance by delta and appends the
// ledger row in one unit. The balance update is conditional: a debit that
// would go negative changes nothing and returns ErrInsufficientBalance.
func (q *queries) AppendEntry(ctx context.Context, userID string, delta int64, typ domain.LedgerEntryType, description, referenceID string, at time.Time) (domain.LedgerEntry, error) {
	// The conditional upsert is the whole concurrency story: the WHERE
	// clause makes overdraw impossible even under racing debits.
	res, err := q.q.ExecContext(ctx, `
		INSERT INTO ledger_balances (user_id, balance) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance
		WHERE balance + excluded.balance >= 0`,
		userID, delta)
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("adjust balance: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	if n == 0 {
		return domain.LedgerEntry{}, domain.ErrInsufficientBalance
	}
	// A fresh insert with a negative delta slips past the upsert condition;
	// catch it and undo.
	if delta < 0 {
		var bal int64
		if err := q.q.QueryRowContext(ctx,
			`SELECT balance FROM ledger_balances WHERE user_id = ?`, userID).Scan(&bal); err != nil {
			return domain.LedgerEntry{}, err
		}
		if bal < 0 {
			if _, err := q.q.ExecContext(ctx,
				`UPDATE ledger_balances SET balance = balance - ? WHERE user_id = ?`, delta, userID); err != nil {
				return domain.LedgerEntry{}, err
			}
			return domain.LedgerEntry{}, domain.ErrInsufficientBalance
		}
	}

	var balance int64
	if err := q.q.QueryRowContext(ctx,
		`SELECT balance FROM ledger_balances WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("read balance: %w", err)
	}

	entry := domain.LedgerEntry{
		UserID:       userID,
		Type:         typ,
		Amount:       delta,
		BalanceAfter: balance,
		Description:  description,
		ReferenceID:  referenceID,
		CreatedAt:    at,
	}
	r, err := q.q.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, type, amount, balance_after, description, reference_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, string(typ), delta, balance, description, referenceID, formatTime(at))
	if err != nil {
		return domain.LedgerEntry{}, fmt.Errorf("append entry: %w", err)
	}
	entry.ID, err = r.LastInsertId()
	if err != nil {
		return domain.LedgerEntry{}, err
	}
	return entry, nil
}

// Balance returns the user's materialized balance; unknown users hold zero.
func (q *queries) Balance(ctx context.Context, userID string) (int64, error) {
	var balance int64
	err := q.q.QueryRowContext(ctx,
		`SELECT balance FROM ledger_balances WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read balance: %w", err)
	}
	return balance, nil
}

// LastEntry returns the user's newest ledger entry, or nil when none exist.
func (q *queries) LastEntry(ctx context.Context, userID string) (*domain.LedgerEntry, error) {
	row := q.q.QueryRowContext(ctx, `
		SELECT id, user_id, type, amount, balance_after, description, reference_id, created_at
		FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT 1`, userID)
	e, err := scanLedgerEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// ListEntries returns the user's entries newest first. limit <= 0 returns all.
func (q *queries) ListEntries(ctx context.Context, userID string, limit int) ([]domain.LedgerEntry, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := q.q.QueryContext(ctx, `
		SELECT id, user_id, type, amount, balance_after, description, reference_id, created_at
		FROM ledger_entries WHERE user_id = ? ORDER BY id DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entries: %w", err)
	}
	defer rows.Close()

	var out []domain.LedgerEntry
	for rows.Next() {
		e, err := scanLedgerEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func scanLedgerEntry(r rowScanner) (*domain.LedgerEntry, error) {
	var (
		e         domain.LedgerEntry
		typ       string
		createdAt string
	)
	err := r.Scan(&e.ID, &e.UserID, &typ, &e.Amount, &e.BalanceAfter,
		&e.Description, &e.ReferenceID, &createdAt)
	if err != nil {
		return nil, err
	}
	e.Type = domain.LedgerEntryType(typ)
	e.CreatedAt = parseTime(createdAt)
	return &e, nil
}
