package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/domain/repositories"
)

// Ensure AccountRepo implements AccountRepository
var _ repositories.AccountRepository = (*AccountRepo)(nil)

// AccountRepo implements AccountRepository using PostgreSQL
type AccountRepo struct {
	db *sqlx.DB
}

// NewAccountRepo creates a new account repository
func NewAccountRepo(db *sqlx.DB) *AccountRepo {
	return &AccountRepo{db: db}
}

// GetAccounts retrieves the stored addresses for a chain
func (r *AccountRepo) GetAccounts(ctx context.Context, chain entities.Chain) ([]string, error) {
	var addresses []string
	query := `SELECT address FROM blockchain_accounts WHERE chain = $1 ORDER BY created_at`

	if err := r.db.SelectContext(ctx, &addresses, query, string(chain)); err != nil {
		return nil, fmt.Errorf("failed to get %s accounts: %w", chain, err)
	}

	return addresses, nil
}

// AddAccounts persists new addresses for a chain
func (r *AccountRepo) AddAccounts(ctx context.Context, chain entities.Chain, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `INSERT INTO blockchain_accounts (chain, address) VALUES ($1, $2)`
	for _, address := range addresses {
		if _, err := tx.ExecContext(ctx, query, string(chain), address); err != nil {
			return fmt.Errorf("failed to add account %s: %w", address, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit account additions: %w", err)
	}

	return nil
}

// RemoveAccounts deletes addresses of a chain
func (r *AccountRepo) RemoveAccounts(ctx context.Context, chain entities.Chain, addresses []string) error {
	if len(addresses) == 0 {
		return nil
	}

	query, args, err := sqlx.In(
		`DELETE FROM blockchain_accounts WHERE chain = ? AND address IN (?)`,
		string(chain), addresses,
	)
	if err != nil {
		return fmt.Errorf("failed to build account removal query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to remove %s accounts: %w", chain, err)
	}

	return nil
}
