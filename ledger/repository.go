package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

var (
	// ErrInsufficientBalance signals a debit larger than the account balance.
	ErrInsufficientBalance = errors.New("ledger: insufficient balance")
	// ErrAccountNotFound is returned when no account row exists for (owner, asset).
	ErrAccountNotFound = errors.New("ledger: account not found")
	// ErrInvalidAmount signals a non-positive quantity.
	ErrInvalidAmount = errors.New("ledger: invalid amount")
)

// Querier is satisfied by *pgxpool.Pool and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository mutates asset holding accounts. All mutations run inside the
// caller's transaction so they commit or roll back with the triggering
// operation.
type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// Open ensures an account row exists for (owner, asset) and returns it.
func (r *Repository) Open(ctx context.Context, tx pgx.Tx, ownerID, assetType string) (Account, error) {
	const q = `
INSERT INTO accounts (owner_id, asset_type)
VALUES ($1, $2)
ON CONFLICT (owner_id, asset_type) DO UPDATE SET updated_at = accounts.updated_at
RETURNING id, owner_id, asset_type, balance, created_at, updated_at
`
	var acct Account
	if err := tx.QueryRow(ctx, q, ownerID, assetType).Scan(
		&acct.ID, &acct.OwnerID, &acct.AssetType, &acct.Balance, &acct.CreatedAt, &acct.UpdatedAt,
	); err != nil {
		return Account{}, fmt.Errorf("ledger: open account: %w", err)
	}
	return acct, nil
}

// Credit adds amount to the (owner, asset) balance, creating the account row
// when absent.
func (r *Repository) Credit(ctx context.Context, tx pgx.Tx, ownerID, assetType string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	const q = `
INSERT INTO accounts (owner_id, asset_type, balance)
VALUES ($1, $2, $3)
ON CONFLICT (owner_id, asset_type)
DO UPDATE SET balance = accounts.balance + EXCLUDED.balance, updated_at = now()
`
	if _, err := tx.Exec(ctx, q, ownerID, assetType, amount); err != nil {
		return fmt.Errorf("ledger: credit account: %w", err)
	}
	return nil
}

// Debit subtracts amount from the (owner, asset) balance. The balance check
// and the subtraction are one conditional statement, so two concurrent debits
// can never jointly overdraw the account.
func (r *Repository) Debit(ctx context.Context, tx pgx.Tx, ownerID, assetType string, amount int64) error {
	if amount <= 0 {
		return ErrInvalidAmount
	}

	const q = `
UPDATE accounts
SET balance = balance - $3, updated_at = now()
WHERE owner_id = $1 AND asset_type = $2 AND balance >= $3
`
	tag, err := tx.Exec(ctx, q, ownerID, assetType, amount)
	if err != nil {
		return fmt.Errorf("ledger: debit account: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM accounts WHERE owner_id = $1 AND asset_type = $2)`,
			ownerID, assetType,
		).Scan(&exists); err != nil {
			return fmt.Errorf("ledger: classify failed debit: %w", err)
		}
		if !exists {
			return ErrAccountNotFound
		}
		return ErrInsufficientBalance
	}
	return nil
}

// Move debits fromOwner and credits toOwner for the same asset within the
// transaction.
func (r *Repository) Move(ctx context.Context, tx pgx.Tx, fromOwner, toOwner, assetType string, amount int64) error {
	if err := r.Debit(ctx, tx, fromOwner, assetType, amount); err != nil {
		return err
	}
	return r.Credit(ctx, tx, toOwner, assetType, amount)
}

// Balance reads the current balance for (owner, asset).
func (r *Repository) Balance(ctx context.Context, q Querier, ownerID, assetType string) (int64, error) {
	var balance int64
	err := q.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE owner_id = $1 AND asset_type = $2`,
		ownerID, assetType,
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrAccountNotFound
		}
		return 0, fmt.Errorf("ledger: read balance: %w", err)
	}
	return balance, nil
}
