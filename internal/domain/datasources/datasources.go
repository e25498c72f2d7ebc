package datasources

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// PriceOracle returns current USD unit prices for assets. Implementations
// may serve stale values; the caller decides the fallback policy when a
// lookup fails.
type PriceOracle interface {
	// USDPrice returns the current USD price for the asset.
	USDPrice(ctx context.Context, asset entities.Asset) (decimal.Decimal, error)
}

// BitcoinSource returns raw native balances for bitcoin-style addresses
// through an explorer API.
type BitcoinSource interface {
	// AddressBalances fetches the balances of all addresses in one
	// batched remote call.
	AddressBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error)
}

// SubstrateSource provides balances for a substrate chain. Balance queries
// need an active node connection rather than a stateless explorer API.
type SubstrateSource interface {
	// HasConnectedNode reports whether any node connection is usable.
	HasConnectedNode() bool

	// AttemptConnections starts connecting to the configured nodes.
	AttemptConnections()

	// WaitUntilNodeAvailable blocks until a node becomes reachable or the
	// timeout elapses, in which case it returns a RemoteError.
	WaitUntilNodeAvailable(ctx context.Context, timeout time.Duration) error

	// AccountsBalance fetches the native balances of all addresses.
	AccountsBalance(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error)
}

// EvmNodeSource returns native and token balances for EVM addresses.
type EvmNodeSource interface {
	// NativeBalances fetches the gas-token balances for all addresses in
	// one batched call.
	NativeBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error)

	// TokenBalances enumerates ERC20-style token balances for the
	// addresses and returns them together with one USD price per token
	// found. Returns an EthSyncError when a read-only contract call
	// yields the well-known empty sentinel of an unsynced node.
	TokenBalances(ctx context.Context, addresses []string) (map[string]map[entities.Asset]decimal.Decimal, map[entities.Asset]decimal.Decimal, error)
}

// DefiSource scans a DeFi adapter contract for protocol positions held by
// the given addresses.
type DefiSource interface {
	DefiBalances(ctx context.Context, addresses []string) (map[string][]entities.ProtocolPosition, error)
}

// Eth2Source returns beacon chain balances keyed by validator public key.
type Eth2Source interface {
	ValidatorBalances(ctx context.Context, pubkeys []string) (map[string]decimal.Decimal, error)
}

// ContractCall is one read-only call destined for an EVM contract.
type ContractCall struct {
	To   common.Address
	Data []byte
}

// MulticallResult is the outcome of one call inside a tolerant multicall.
type MulticallResult struct {
	Success    bool
	ReturnData []byte
}

// EvmCaller is the low-level contract access used by the protocol readers.
type EvmCaller interface {
	// Call executes one read-only contract call.
	Call(ctx context.Context, to common.Address, data []byte) ([]byte, error)

	// Multicall batches the calls into one round trip and fails if any
	// individual call fails.
	Multicall(ctx context.Context, calls []ContractCall) ([][]byte, error)

	// TryMulticall batches the calls into one round trip, tolerating
	// individual call failures.
	TryMulticall(ctx context.Context, calls []ContractCall) ([]MulticallResult, error)

	// FilterLogs retrieves logs matching the filter query.
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)

	// BlockTimestamp returns the timestamp of a block.
	BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error)

	// CodeAt returns the deployed code at an address.
	CodeAt(ctx context.Context, address common.Address) ([]byte, error)
}
