package ethereum

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// balanceOf(address) selector
var balanceOfSelector = []byte{0x70, 0xa0, 0x82, 0x31}

// TokenScanner enumerates ERC20-style token balances for addresses by
// multicalling balanceOf over the known token set and pricing the hits
// through the oracle.
type TokenScanner struct {
	caller datasources.EvmCaller
	oracle datasources.PriceOracle
	logger *zap.Logger
	chain  entities.Chain
}

// NewTokenScanner creates a new token scanner
func NewTokenScanner(
	caller datasources.EvmCaller,
	oracle datasources.PriceOracle,
	chain entities.Chain,
	logger *zap.Logger,
) *TokenScanner {
	return &TokenScanner{
		caller: caller,
		oracle: oracle,
		logger: logger,
		chain:  chain,
	}
}

// TokenBalances fetches every known token's balance for the addresses in a
// single multicall round trip. An empty return from a balanceOf call is the
// well-known sentinel of an unsynced node and is classified as EthSyncError
// rather than a generic remote failure.
func (s *TokenScanner) TokenBalances(
	ctx context.Context,
	addresses []string,
) (map[string]map[entities.Asset]decimal.Decimal, map[entities.Asset]decimal.Decimal, error) {
	balances := make(map[string]map[entities.Asset]decimal.Decimal, len(addresses))
	prices := make(map[entities.Asset]decimal.Decimal)
	if len(addresses) == 0 {
		return balances, prices, nil
	}

	tokens := entities.KnownTokens()
	calls := make([]datasources.ContractCall, 0, len(addresses)*len(tokens))
	for _, address := range addresses {
		holder := common.HexToAddress(address)
		for _, token := range tokens {
			calls = append(calls, datasources.ContractCall{
				To:   common.HexToAddress(token.EvmAddress),
				Data: packBalanceOf(holder),
			})
		}
	}

	outputs, err := s.caller.Multicall(ctx, calls)
	if err != nil {
		return nil, nil, err
	}

	for i, output := range outputs {
		if len(output) == 0 {
			// A deployed ERC20 never returns empty data for balanceOf;
			// the node is serving state it does not have yet.
			return nil, nil, entities.NewEthSyncError(
				"tried to query token balances but the chain is not synced",
			)
		}

		address := addresses[i/len(tokens)]
		token := tokens[i%len(tokens)]
		amount := decimal.NewFromBigInt(new(big.Int).SetBytes(output), -int32(token.Decimals))
		if amount.IsZero() {
			continue
		}

		if balances[address] == nil {
			balances[address] = make(map[entities.Asset]decimal.Decimal)
		}
		balances[address][token] = amount

		if _, ok := prices[token]; !ok {
			price, err := s.oracle.USDPrice(ctx, token)
			if err != nil {
				s.logger.Warn("Failed to find token USD price, using zero",
					zap.String("token", token.Symbol),
					zap.Error(err),
				)
				price = decimal.Zero
			}
			prices[token] = price
		}
	}

	return balances, prices, nil
}

func packBalanceOf(holder common.Address) []byte {
	data := make([]byte, 0, 36)
	data = append(data, balanceOfSelector...)
	data = append(data, common.LeftPadBytes(holder.Bytes(), 32)...)
	return data
}
