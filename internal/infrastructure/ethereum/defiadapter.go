package ethereum

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

const defiAdapterABIJSON = `[
	{
		"inputs": [{"internalType": "address", "name": "account", "type": "address"}],
		"name": "getBalances",
		"outputs": [
			{
				"components": [
					{"internalType": "string", "name": "protocol", "type": "string"},
					{
						"components": [
							{"internalType": "address", "name": "token", "type": "address"},
							{"internalType": "string", "name": "symbol", "type": "string"},
							{"internalType": "uint256", "name": "amount", "type": "uint256"},
							{"internalType": "bool", "name": "isDebt", "type": "bool"}
						],
						"internalType": "struct AdapterRegistry.TokenBalance[]",
						"name": "positions",
						"type": "tuple[]"
					}
				],
				"internalType": "struct AdapterRegistry.ProtocolBalance[]",
				"name": "",
				"type": "tuple[]"
			}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

var defiAdapterABI = mustParseABI(defiAdapterABIJSON)

// DefaultAdapterAddress is the mainnet deployment of the adapter registry.
const DefaultAdapterAddress = "0x06FE76B2f432fdfEcAEf1a7d4f6C3d41B5861672"

type adapterProtocolBalance struct {
	Protocol  string
	Positions []struct {
		Token  common.Address
		Symbol string
		Amount *big.Int
		IsDebt bool
	}
}

// DefiAdapter reads protocol positions for addresses from an on-chain
// adapter registry contract, one batched multicall per scan.
type DefiAdapter struct {
	caller   datasources.EvmCaller
	oracle   datasources.PriceOracle
	contract common.Address
	logger   *zap.Logger
}

// NewDefiAdapter creates a new DeFi adapter source
func NewDefiAdapter(
	caller datasources.EvmCaller,
	oracle datasources.PriceOracle,
	contract common.Address,
	logger *zap.Logger,
) *DefiAdapter {
	return &DefiAdapter{
		caller:   caller,
		oracle:   oracle,
		contract: contract,
		logger:   logger,
	}
}

// DefiBalances scans the adapter registry for every address and returns the
// typed positions it reports. Individual address scan failures are tolerated
// and logged; the address is simply absent from the result.
func (a *DefiAdapter) DefiBalances(
	ctx context.Context,
	addresses []string,
) (map[string][]entities.ProtocolPosition, error) {
	result := make(map[string][]entities.ProtocolPosition, len(addresses))
	if len(addresses) == 0 {
		return result, nil
	}

	calls := make([]datasources.ContractCall, len(addresses))
	for i, address := range addresses {
		input, err := defiAdapterABI.Pack("getBalances", common.HexToAddress(address))
		if err != nil {
			return nil, entities.NewRemoteError("failed to encode adapter call", err)
		}
		calls[i] = datasources.ContractCall{To: a.contract, Data: input}
	}

	outputs, err := a.caller.TryMulticall(ctx, calls)
	if err != nil {
		return nil, err
	}

	for i, output := range outputs {
		address := addresses[i]
		if !output.Success {
			a.logger.Warn("DeFi adapter scan failed for address",
				zap.String("address", address),
			)
			continue
		}

		unpacked, err := defiAdapterABI.Unpack("getBalances", output.ReturnData)
		if err != nil {
			a.logger.Warn("Failed to decode DeFi adapter response",
				zap.String("address", address),
				zap.Error(err),
			)
			continue
		}
		protocols := *abi.ConvertType(unpacked[0], new([]adapterProtocolBalance)).(*[]adapterProtocolBalance)

		for _, protocol := range protocols {
			for _, position := range protocol.Positions {
				result[address] = append(result[address], a.buildPosition(ctx, protocol.Protocol, position))
			}
		}
	}

	return result, nil
}

func (a *DefiAdapter) buildPosition(
	ctx context.Context,
	protocol string,
	position struct {
		Token  common.Address
		Symbol string
		Amount *big.Int
		IsDebt bool
	},
) entities.ProtocolPosition {
	decimals := 18
	priceAsset := entities.Asset{}
	if token, ok := entities.TokenByAddress(position.Token.Hex()); ok {
		decimals = token.Decimals
		priceAsset = token
	}

	amount := decimal.NewFromBigInt(position.Amount, -int32(decimals))
	price := decimal.Zero
	if priceAsset.Identifier != "" {
		found, err := a.oracle.USDPrice(ctx, priceAsset)
		if err == nil {
			price = found
		}
	}

	balanceType := entities.BalanceTypeAsset
	if position.IsDebt {
		balanceType = entities.BalanceTypeDebt
	}
	return entities.ProtocolPosition{
		Protocol:     protocol,
		BalanceType:  balanceType,
		TokenSymbol:  position.Symbol,
		TokenAddress: position.Token.Hex(),
		Balance:      entities.NewBalance(amount, price),
	}
}
