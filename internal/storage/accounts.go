package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/wellsight-ai/wellsight/internal/model"
)

// CreateAccount inserts a new account and returns it.
func (db *DB) CreateAccount(ctx context.Context, acct model.Account) (model.Account, error) {
	if acct.ID == uuid.Nil {
		acct.ID = uuid.New()
	}
	now := time.Now().UTC()
	acct.CreatedAt = now
	acct.UpdatedAt = now

	_, err := db.pool.Exec(ctx,
		`INSERT INTO accounts (id, account_id, name, role, api_key_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		acct.ID, acct.AccountID, acct.Name, string(acct.Role), acct.APIKeyHash,
		acct.CreatedAt, acct.UpdatedAt,
	)
	if err != nil {
		return model.Account{}, fmt.Errorf("storage: create account: %w", err)
	}
	return acct, nil
}

// GetAccountByAccountID retrieves an account by its external identifier.
func (db *DB) GetAccountByAccountID(ctx context.Context, accountID string) (model.Account, error) {
	var acct model.Account
	err := db.pool.QueryRow(ctx,
		`SELECT id, account_id, name, role, api_key_hash, created_at, updated_at
		 FROM accounts WHERE account_id = $1`, accountID,
	).Scan(
		&acct.ID, &acct.AccountID, &acct.Name, &acct.Role, &acct.APIKeyHash,
		&acct.CreatedAt, &acct.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Account{}, ErrNotFound
		}
		return model.Account{}, fmt.Errorf("storage: get account: %w", err)
	}
	return acct, nil
}

// CountAccounts returns the total number of accounts. Used by the admin
// seed to decide whether bootstrap is needed.
func (db *DB) CountAccounts(ctx context.Context) (int, error) {
	var count int
	if err := db.pool.QueryRow(ctx, `SELECT COUNT(*) FROM accounts`).Scan(&count); err != nil {
		return 0, fmt.Errorf("storage: count accounts: %w", err)
	}
	return count, nil
}
