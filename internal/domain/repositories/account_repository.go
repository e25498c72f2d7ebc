package repositories

import (
	"context"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// AccountRepository defines the persistence interface for tracked accounts.
// Eth2 validators are stored as accounts of the ETH2 chain, keyed by
// validator public key.
type AccountRepository interface {
	// GetAccounts retrieves the stored addresses for a chain.
	GetAccounts(ctx context.Context, chain entities.Chain) ([]string, error)

	// AddAccounts persists new addresses for a chain.
	AddAccounts(ctx context.Context, chain entities.Chain, addresses []string) error

	// RemoveAccounts deletes addresses of a chain.
	RemoveAccounts(ctx context.Context, chain entities.Chain, addresses []string) error
}
