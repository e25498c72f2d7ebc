package liquity

import (
	"context"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// Mainnet Liquity protocol contracts.
var (
	troveManagerAddr  = common.HexToAddress("0xA39739EF8b0231DbFA0DcdA07d7e29faAbCf4bb2")
	stabilityPoolAddr = common.HexToAddress("0x66017D22b0f8556afDd19FC67041899Eb65a21bb")
	stakingAddr       = common.HexToAddress("0x4f9Fbb3f1E99B56e0Fe2892e623Ed36A76Fc605d")
)

// minCollateralRatio is the protocol's minimum collateral ratio of 110%.
var minCollateralRatio = decimal.RequireFromString("1.1")

const troveManagerABIJSON = `[
	{
		"inputs": [{"internalType": "address", "name": "", "type": "address"}],
		"name": "Troves",
		"outputs": [
			{"internalType": "uint256", "name": "debt", "type": "uint256"},
			{"internalType": "uint256", "name": "coll", "type": "uint256"},
			{"internalType": "uint256", "name": "stake", "type": "uint256"},
			{"internalType": "uint8", "name": "status", "type": "uint8"},
			{"internalType": "uint128", "name": "arrayIndex", "type": "uint128"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

const stabilityPoolABIJSON = `[
	{
		"inputs": [{"internalType": "address", "name": "_depositor", "type": "address"}],
		"name": "getDepositorETHGain",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "_depositor", "type": "address"}],
		"name": "getDepositorLQTYGain",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "_depositor", "type": "address"}],
		"name": "getCompoundedLUSDDeposit",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

const stakingABIJSON = `[
	{
		"inputs": [{"internalType": "address", "name": "", "type": "address"}],
		"name": "stakes",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "_user", "type": "address"}],
		"name": "getPendingLUSDGain",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [{"internalType": "address", "name": "_user", "type": "address"}],
		"name": "getPendingETHGain",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var (
	troveManagerABI  = mustParseABI(troveManagerABIJSON)
	stabilityPoolABI = mustParseABI(stabilityPoolABIJSON)
	stakingABI       = mustParseABI(stakingABIJSON)
)

func mustParseABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Trove is one open Liquity position: ETH collateral against LUSD debt.
type Trove struct {
	Collateral entities.Balance `json:"collateral"`
	Debt       entities.Balance `json:"debt"`

	// CollateralizationRatio is a percentage; nil when nothing is owed.
	CollateralizationRatio *decimal.Decimal `json:"collateralization_ratio"`
	// LiquidationPrice is nil when nothing is locked in.
	LiquidationPrice *decimal.Decimal `json:"liquidation_price"`
	Active           bool             `json:"active"`
	TroveID          int64            `json:"trove_id"`
}

// Liquity reads troves, stability pool deposits and LQTY stakes. Positions
// opened through a DSProxy are attributed back to the proxy's owner.
type Liquity struct {
	caller  datasources.EvmCaller
	oracle  datasources.PriceOracle
	proxies *modules.ProxyResolver
	logger  *zap.Logger

	mu      sync.Mutex
	premium bool
}

// New creates the liquity reader.
func New(deps modules.Deps) (*Liquity, error) {
	return &Liquity{
		caller:  deps.Caller,
		oracle:  deps.Oracle,
		proxies: deps.Proxies,
		logger:  deps.Logger,
	}, nil
}

// Name implements ProtocolReader.
func (l *Liquity) Name() string {
	return modules.ModuleLiquity
}

// SetPremium implements PremiumAware.
func (l *Liquity) SetPremium(active bool) {
	l.mu.Lock()
	l.premium = active
	l.mu.Unlock()
}

// Balances merges trove, stability pool and staking positions into one
// sheet per tracked address.
func (l *Liquity) Balances(ctx context.Context, addresses []string) (map[string]*entities.BalanceSheet, error) {
	sheets := make(map[string]*entities.BalanceSheet)
	sheetFor := func(address string) *entities.BalanceSheet {
		sheet, ok := sheets[address]
		if !ok {
			sheet = entities.NewBalanceSheet()
			sheets[address] = sheet
		}
		return sheet
	}

	troves, err := l.Troves(ctx, addresses)
	if err != nil {
		return nil, err
	}
	for address, trove := range troves {
		if !trove.Active {
			continue
		}
		sheet := sheetFor(address)
		if !trove.Collateral.Amount.IsZero() {
			sheet.AddAsset(entities.AssetETH, trove.Collateral)
		}
		if !trove.Debt.Amount.IsZero() {
			sheet.AddLiability(entities.AssetLUSD, trove.Debt)
		}
	}

	pool, err := l.StabilityPoolBalances(ctx, addresses)
	if err != nil {
		return nil, err
	}
	for address, positions := range pool {
		sheet := sheetFor(address)
		for asset, balance := range positions {
			if !balance.Amount.IsZero() {
				sheet.AddAsset(asset, balance)
			}
		}
	}

	stakes, err := l.StakingBalances(ctx, addresses)
	if err != nil {
		return nil, err
	}
	for address, positions := range stakes {
		sheet := sheetFor(address)
		for asset, balance := range positions {
			if !balance.Amount.IsZero() {
				sheet.AddAsset(asset, balance)
			}
		}
	}

	for address, sheet := range sheets {
		if sheet.IsEmpty() {
			delete(sheets, address)
		}
	}
	return sheets, nil
}

// Troves detects open troves for the addresses and their proxies in one
// multicall, keyed by the tracked address.
func (l *Liquity) Troves(ctx context.Context, addresses []string) (map[string]Trove, error) {
	queried, ownersByProxy, err := l.addressesWithProxies(ctx, addresses)
	if err != nil {
		return nil, err
	}

	calls := make([]datasources.ContractCall, len(queried))
	for i, address := range queried {
		input, err := troveManagerABI.Pack("Troves", common.HexToAddress(address))
		if err != nil {
			return nil, entities.NewRemoteError("failed to encode trove query", err)
		}
		calls[i] = datasources.ContractCall{To: troveManagerAddr, Data: input}
	}

	outputs, err := l.caller.TryMulticall(ctx, calls)
	if err != nil {
		return nil, err
	}

	ethPrice := l.priceOrZero(ctx, entities.AssetETH)
	lusdPrice := l.priceOrZero(ctx, entities.AssetLUSD)

	troves := make(map[string]Trove)
	for i, output := range outputs {
		if !output.Success {
			continue
		}
		unpacked, err := troveManagerABI.Unpack("Troves", output.ReturnData)
		if err != nil {
			l.logger.Warn("Ignoring undecodable trove information",
				zap.String("address", queried[i]),
				zap.Error(err),
			)
			continue
		}
		debtWei := *abi.ConvertType(unpacked[0], new(*big.Int)).(**big.Int)
		collWei := *abi.ConvertType(unpacked[1], new(*big.Int)).(**big.Int)
		status := *abi.ConvertType(unpacked[3], new(uint8)).(*uint8)
		arrayIndex := *abi.ConvertType(unpacked[4], new(*big.Int)).(**big.Int)

		if status != 1 {
			continue
		}
		collateral := decimal.NewFromBigInt(collWei, -18)
		debt := decimal.NewFromBigInt(debtWei, -18)

		var collateralization, liquidationPrice *decimal.Decimal
		if debt.IsPositive() {
			ratio := ethPrice.Mul(collateral).Div(debt).Mul(decimal.NewFromInt(100))
			collateralization = &ratio
		}
		if collateral.IsPositive() {
			lp := debt.Mul(lusdPrice).Mul(minCollateralRatio).Div(collateral)
			liquidationPrice = &lp
		}

		owner := queried[i]
		if tracked, ok := ownersByProxy[common.HexToAddress(owner)]; ok {
			owner = tracked
		}
		troves[owner] = Trove{
			Collateral:             entities.NewBalance(collateral, ethPrice),
			Debt:                   entities.NewBalance(debt, lusdPrice),
			CollateralizationRatio: collateralization,
			LiquidationPrice:       liquidationPrice,
			Active:                 true,
			TroveID:                arrayIndex.Int64(),
		}
	}
	return troves, nil
}

// stakingQuery describes one staking-style contract: one staked asset and
// two reward assets, each read by its own method for every address.
type stakingQuery struct {
	contract common.Address
	abi      abi.ABI
	methods  [3]string
	assets   [3]entities.Asset
}

// StabilityPoolBalances returns compounded LUSD deposits plus pending ETH
// and LQTY gains from the stability pool.
func (l *Liquity) StabilityPoolBalances(ctx context.Context, addresses []string) (map[string]map[entities.Asset]entities.Balance, error) {
	return l.queryDepositsAndRewards(ctx, addresses, stakingQuery{
		contract: stabilityPoolAddr,
		abi:      stabilityPoolABI,
		methods:  [3]string{"getDepositorETHGain", "getDepositorLQTYGain", "getCompoundedLUSDDeposit"},
		assets:   [3]entities.Asset{entities.AssetETH, entities.AssetLQTY, entities.AssetLUSD},
	})
}

// StakingBalances returns LQTY stakes plus pending LUSD and ETH gains.
func (l *Liquity) StakingBalances(ctx context.Context, addresses []string) (map[string]map[entities.Asset]entities.Balance, error) {
	return l.queryDepositsAndRewards(ctx, addresses, stakingQuery{
		contract: stakingAddr,
		abi:      stakingABI,
		methods:  [3]string{"stakes", "getPendingLUSDGain", "getPendingETHGain"},
		assets:   [3]entities.Asset{entities.AssetLQTY, entities.AssetLUSD, entities.AssetETH},
	})
}

// queryDepositsAndRewards batches three calls per address into one
// multicall. The outputs interleave as staked, reward one, reward two per
// address, so output index i belongs to address i/3 and method i%3.
func (l *Liquity) queryDepositsAndRewards(
	ctx context.Context,
	addresses []string,
	query stakingQuery,
) (map[string]map[entities.Asset]entities.Balance, error) {
	queried, ownersByProxy, err := l.addressesWithProxies(ctx, addresses)
	if err != nil {
		return nil, err
	}

	var calls []datasources.ContractCall
	for _, address := range queried {
		for _, method := range query.methods {
			input, err := query.abi.Pack(method, common.HexToAddress(address))
			if err != nil {
				return nil, entities.NewRemoteError("failed to encode staking query", err)
			}
			calls = append(calls, datasources.ContractCall{To: query.contract, Data: input})
		}
	}

	outputs, err := l.caller.TryMulticall(ctx, calls)
	if err != nil {
		return nil, err
	}

	prices := make(map[entities.Asset]decimal.Decimal, 3)
	for _, asset := range query.assets {
		prices[asset] = l.priceOrZero(ctx, asset)
	}

	data := make(map[string]map[entities.Asset]entities.Balance)
	for idx, output := range outputs {
		if !output.Success {
			continue
		}
		address := queried[idx/3]
		method := query.methods[idx%3]
		asset := query.assets[idx%3]

		unpacked, err := query.abi.Unpack(method, output.ReturnData)
		if err != nil {
			l.logger.Warn("Ignoring undecodable staking information",
				zap.String("address", address),
				zap.String("method", method),
				zap.Error(err),
			)
			continue
		}
		raw := *abi.ConvertType(unpacked[0], new(*big.Int)).(**big.Int)
		amount := decimal.NewFromBigInt(raw, -18)

		owner := address
		if tracked, ok := ownersByProxy[common.HexToAddress(address)]; ok {
			owner = tracked
		}
		if _, ok := data[owner]; !ok {
			data[owner] = make(map[entities.Asset]entities.Balance)
		}
		existing := data[owner][asset]
		data[owner][asset] = existing.Add(entities.NewBalance(amount, prices[asset]))
	}
	return data, nil
}

// addressesWithProxies extends the tracked addresses with their proxies and
// returns the proxy-to-owner mapping for attribution.
func (l *Liquity) addressesWithProxies(ctx context.Context, addresses []string) ([]string, map[common.Address]string, error) {
	proxyMapping, err := l.proxies.ProxyMapping(ctx, addresses)
	if err != nil {
		return nil, nil, err
	}

	queried := make([]string, 0, len(addresses)+len(proxyMapping))
	queried = append(queried, addresses...)
	ownersByProxy := make(map[common.Address]string, len(proxyMapping))
	for owner, proxy := range proxyMapping {
		queried = append(queried, proxy.Hex())
		ownersByProxy[proxy] = owner
	}
	return queried, ownersByProxy, nil
}

// priceOrZero degrades a failed price lookup to zero so a position still
// shows up as inactive amounts instead of failing the whole query.
func (l *Liquity) priceOrZero(ctx context.Context, asset entities.Asset) decimal.Decimal {
	price, err := l.oracle.USDPrice(ctx, asset)
	if err != nil {
		l.logger.Warn("Failed to query USD price",
			zap.String("asset", asset.Symbol),
			zap.Error(err),
		)
		return decimal.Zero
	}
	return price
}

// OnAccountAddition implements ProtocolReader.
func (l *Liquity) OnAccountAddition(ctx context.Context, address string) error {
	return l.proxies.OnAccountAddition(ctx, address)
}

// OnAccountRemoval implements ProtocolReader.
func (l *Liquity) OnAccountRemoval(address string) {
	l.proxies.OnAccountRemoval(address)
}

// Deactivate implements ProtocolReader.
func (l *Liquity) Deactivate() {}

var _ modules.ProtocolReader = (*Liquity)(nil)
var _ modules.PremiumAware = (*Liquity)(nil)
