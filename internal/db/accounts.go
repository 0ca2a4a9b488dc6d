package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/bobarin/slnpart/internal/models"
	"github.com/google/uuid"
)

const accountColumns = `id, username, email, password_hash, tokens, created_at`

// CreateAccount inserts a new account. CreatedAt is set here.
func (db *DB) CreateAccount(ctx context.Context, account *models.Account) error {
	account.CreatedAt = now()
	query := `
		INSERT INTO accounts (id, username, email, password_hash, tokens, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := db.ExecContext(
		ctx, query,
		account.ID, account.Username, account.Email, account.PasswordHash,
		account.Tokens, account.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// GetAccount retrieves an account by ID.
func (db *DB) GetAccount(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE id = $1`
	return db.scanAccount(db.QueryRowContext(ctx, query, id))
}

// GetAccountByEmail retrieves an account by its contact address.
func (db *DB) GetAccountByEmail(ctx context.Context, email string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE email = $1`
	return db.scanAccount(db.QueryRowContext(ctx, query, email))
}

// GetAccountByUsername retrieves an account by its handle.
func (db *DB) GetAccountByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := `SELECT ` + accountColumns + ` FROM accounts WHERE username = $1`
	return db.scanAccount(db.QueryRowContext(ctx, query, username))
}

func (db *DB) scanAccount(row *sql.Row) (*models.Account, error) {
	account := &models.Account{}
	err := row.Scan(
		&account.ID, &account.Username, &account.Email, &account.PasswordHash,
		&account.Tokens, &account.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return account, nil
}

// AccountTokens returns the current balance.
func (db *DB) AccountTokens(ctx context.Context, id uuid.UUID) (int, error) {
	var tokens int
	err := db.QueryRowContext(ctx, `SELECT tokens FROM accounts WHERE id = $1`, id).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %w", models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get account tokens: %w", err)
	}
	return tokens, nil
}

// DebitAccountTokens atomically subtracts amount when the balance covers it.
// On ErrInsufficientFunds the returned balance is the unchanged current one.
func (db *DB) DebitAccountTokens(ctx context.Context, id uuid.UUID, amount int) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin debit: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE accounts SET tokens = tokens - $1 WHERE id = $2 AND tokens >= $1`,
		amount, id,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to debit account: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check rows affected: %w", err)
	}

	var tokens int
	err = tx.QueryRowContext(ctx, `SELECT tokens FROM accounts WHERE id = $1`, id).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("account %w", models.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read balance: %w", err)
	}

	if rows == 0 {
		return tokens, models.ErrInsufficientFunds
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit debit: %w", err)
	}
	return tokens, nil
}

// CreditAccountTokens adds amount once per settlementID. A repeated settlement
// leaves the balance unchanged and reports applied=false.
func (db *DB) CreditAccountTokens(ctx context.Context, id uuid.UUID, amount int, settlementID string) (int, bool, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, false, fmt.Errorf("failed to begin credit: %w", err)
	}
	defer tx.Rollback()

	var tokens int
	err = tx.QueryRowContext(ctx, `SELECT tokens FROM accounts WHERE id = $1`, id).Scan(&tokens)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, fmt.Errorf("account %w", models.ErrNotFound)
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to read balance: %w", err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO settlements (id, account_id, tokens, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO NOTHING
	`, settlementID, id, amount, now())
	if err != nil {
		return 0, false, fmt.Errorf("failed to record settlement: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return 0, false, fmt.Errorf("failed to check rows affected: %w", err)
	}
	if inserted == 0 {
		return tokens, false, nil
	}

	if _, err := tx.ExecContext(ctx, `UPDATE accounts SET tokens = tokens + $1 WHERE id = $2`, amount, id); err != nil {
		return 0, false, fmt.Errorf("failed to credit account: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, false, fmt.Errorf("failed to commit credit: %w", err)
	}
	return tokens + amount, true, nil
}

// GetSettlement retrieves a recorded settlement by its provider-issued id.
func (db *DB) GetSettlement(ctx context.Context, id string) (*models.Settlement, error) {
	s := &models.Settlement{}
	err := db.QueryRowContext(ctx,
		`SELECT id, account_id, tokens, created_at FROM settlements WHERE id = $1`, id,
	).Scan(&s.ID, &s.AccountID, &s.Tokens, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("settlement %w", models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settlement: %w", err)
	}
	return s, nil
}
