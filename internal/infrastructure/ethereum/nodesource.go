package ethereum

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// NodeSource bundles the native balance access of a client with the token
// scanner of the same chain into one balance source.
type NodeSource struct {
	client  *Client
	scanner *TokenScanner
}

// NewNodeSource creates a node source from a client and its token scanner.
func NewNodeSource(client *Client, scanner *TokenScanner) *NodeSource {
	return &NodeSource{
		client:  client,
		scanner: scanner,
	}
}

func (s *NodeSource) NativeBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	return s.client.NativeBalances(ctx, addresses)
}

func (s *NodeSource) TokenBalances(ctx context.Context, addresses []string) (map[string]map[entities.Asset]decimal.Decimal, map[entities.Asset]decimal.Decimal, error) {
	return s.scanner.TokenBalances(ctx, addresses)
}
