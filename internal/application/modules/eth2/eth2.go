package eth2

import (
	"context"

	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// Eth2 reports beacon chain validator balances. The tracked accounts of the
// beacon chain are validator public keys, not addresses, so the balance
// sheets come back keyed by public key.
type Eth2 struct {
	source datasources.Eth2Source
	oracle datasources.PriceOracle
	logger *zap.Logger
}

// New creates the eth2 staking reader.
func New(deps modules.Deps) (*Eth2, error) {
	return &Eth2{
		source: deps.Eth2,
		oracle: deps.Oracle,
		logger: deps.Logger,
	}, nil
}

// Name implements ProtocolReader.
func (e *Eth2) Name() string {
	return modules.ModuleEth2
}

// Balances fetches the balance of every validator public key.
func (e *Eth2) Balances(ctx context.Context, pubkeys []string) (map[string]*entities.BalanceSheet, error) {
	if len(pubkeys) == 0 {
		return map[string]*entities.BalanceSheet{}, nil
	}

	balances, err := e.source.ValidatorBalances(ctx, pubkeys)
	if err != nil {
		return nil, err
	}

	price, err := e.oracle.USDPrice(ctx, entities.AssetETH2)
	if err != nil {
		return nil, err
	}

	sheets := make(map[string]*entities.BalanceSheet, len(balances))
	for pubkey, amount := range balances {
		sheet := entities.NewBalanceSheet()
		sheet.SetAsset(entities.AssetETH2, entities.NewBalance(amount, price))
		sheets[pubkey] = sheet
	}
	return sheets, nil
}

// OnAccountAddition implements ProtocolReader.
func (e *Eth2) OnAccountAddition(ctx context.Context, address string) error {
	return nil
}

// OnAccountRemoval implements ProtocolReader.
func (e *Eth2) OnAccountRemoval(address string) {}

// Deactivate implements ProtocolReader.
func (e *Eth2) Deactivate() {}

var _ modules.ProtocolReader = (*Eth2)(nil)
