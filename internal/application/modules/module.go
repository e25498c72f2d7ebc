package modules

import (
	"context"

	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// Known module names.
const (
	ModuleMakerdaoVaults = "makerdao_vaults"
	ModuleLiquity        = "liquity"
	ModuleYearnVaults    = "yearn_vaults"
	ModuleEth2           = "eth2"
)

// ProtocolReader is one activatable protocol integration. Readers are
// created by the registry and contribute per-address balance sheets that
// get layered on top of the plain chain balances.
type ProtocolReader interface {
	// Name returns the module name the reader was registered under.
	Name() string

	// Balances returns the protocol's balance sheets keyed by tracked
	// address. For the eth2 reader the addresses are validator public keys.
	Balances(ctx context.Context, addresses []string) (map[string]*entities.BalanceSheet, error)

	// OnAccountAddition lets the reader warm its per-address state when an
	// account starts being tracked.
	OnAccountAddition(ctx context.Context, address string) error

	// OnAccountRemoval lets the reader drop per-address state.
	OnAccountRemoval(address string)

	// Deactivate releases any resources held by the reader.
	Deactivate()
}

// PremiumAware is implemented by readers whose extended queries are gated
// behind an active premium subscription.
type PremiumAware interface {
	SetPremium(active bool)
}

// Deps bundles the collaborators handed to every reader factory.
type Deps struct {
	Caller  datasources.EvmCaller
	Oracle  datasources.PriceOracle
	Proxies *ProxyResolver
	Eth2    datasources.Eth2Source
	Logger  *zap.Logger
}
