package ethereum

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

func newTestScanner(caller *testutil.MockEvmCaller, oracle *testutil.MockPriceOracle) *TokenScanner {
	return NewTokenScanner(caller, oracle, entities.ChainEthereum, zap.NewNop())
}

func TestTokenBalances(t *testing.T) {
	daiAddr := common.HexToAddress(entities.AssetDAI.EvmAddress)
	caller := testutil.NewMockEvmCaller()
	caller.MulticallFunc = func(ctx context.Context, calls []datasources.ContractCall) ([][]byte, error) {
		outputs := make([][]byte, len(calls))
		// 2.5 DAI in wei
		daiBalance := new(big.Int).Mul(big.NewInt(25),
			new(big.Int).Exp(big.NewInt(10), big.NewInt(17), nil))
		for i, call := range calls {
			amount := []byte(nil)
			if call.To == daiAddr {
				amount = daiBalance.Bytes()
			}
			outputs[i] = common.LeftPadBytes(amount, 32)
		}
		return outputs, nil
	}
	oracle := testutil.NewMockPriceOracle()
	oracle.SetPrice(entities.AssetDAI, testutil.Dec("1"))
	scanner := newTestScanner(caller, oracle)

	balances, prices, err := scanner.TokenBalances(context.Background(),
		[]string{testutil.AliceAddress})
	require.NoError(t, err)

	require.Contains(t, balances, testutil.AliceAddress)
	require.Len(t, balances[testutil.AliceAddress], 1)
	assert.True(t, balances[testutil.AliceAddress][entities.AssetDAI].Equal(testutil.Dec("2.5")))
	assert.True(t, prices[entities.AssetDAI].Equal(testutil.Dec("1")))
	// the whole token set is scanned in one round trip
	assert.Equal(t, 1, caller.CallCount("Multicall"))
}

func TestTokenBalancesUnsyncedNode(t *testing.T) {
	caller := testutil.NewMockEvmCaller()
	caller.MulticallFunc = func(ctx context.Context, calls []datasources.ContractCall) ([][]byte, error) {
		outputs := make([][]byte, len(calls))
		for i := range outputs {
			outputs[i] = common.LeftPadBytes(nil, 32)
		}
		// a node still syncing answers balanceOf with empty return data
		outputs[0] = nil
		return outputs, nil
	}
	scanner := newTestScanner(caller, testutil.NewMockPriceOracle())

	_, _, err := scanner.TokenBalances(context.Background(),
		[]string{testutil.AliceAddress})
	var syncErr *entities.EthSyncError
	assert.True(t, errors.As(err, &syncErr))
}

func TestTokenBalancesNoAddresses(t *testing.T) {
	caller := testutil.NewMockEvmCaller()
	scanner := newTestScanner(caller, testutil.NewMockPriceOracle())

	balances, prices, err := scanner.TokenBalances(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, balances)
	assert.Empty(t, prices)
	assert.Equal(t, 0, caller.CallCount("Multicall"))
}
