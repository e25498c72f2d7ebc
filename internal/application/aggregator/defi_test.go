package aggregator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

func TestAddDefiPositionSuppression(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name     string
		position entities.ProtocolPosition
		counted  bool
	}{
		{
			name: "plain protocol asset is counted",
			position: testutil.NewTestPosition(
				"Uniswap V2", "DAI", entities.AssetDAI.EvmAddress,
				entities.BalanceTypeAsset, "100"),
			counted: true,
		},
		{
			name: "aave assets duplicate the token scan",
			position: testutil.NewTestPosition(
				"Aave", "DAI", entities.AssetDAI.EvmAddress,
				entities.BalanceTypeAsset, "100"),
			counted: false,
		},
		{
			name: "compound debt comes from the lending module",
			position: testutil.NewTestPosition(
				"Compound", "DAI", entities.AssetDAI.EvmAddress,
				entities.BalanceTypeDebt, "100"),
			counted: false,
		},
		{
			name: "synthetix suppression is symbol scoped",
			position: testutil.NewTestPosition(
				"Synthetix", "DAI", entities.AssetDAI.EvmAddress,
				entities.BalanceTypeAsset, "100"),
			counted: true,
		},
		{
			name: "vault debt comes from the makerdao module",
			position: testutil.NewTestPosition(
				"Multi-Collateral Dai", "DAI", entities.AssetDAI.EvmAddress,
				entities.BalanceTypeDebt, "100"),
			counted: false,
		},
		{
			name: "reported ETH would double count the native balance",
			position: testutil.NewTestPosition(
				"Uniswap V2", "ETH", "0x0000000000000000000000000000000000000000",
				entities.BalanceTypeAsset, "1"),
			counted: false,
		},
		{
			name: "unknown token is dropped",
			position: testutil.NewTestPosition(
				"Uniswap V2", "WEIRD", "0x000000000000000000000000000000000000dead",
				entities.BalanceTypeAsset, "100"),
			counted: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sheet := entities.NewBalanceSheet()
			env.agg.addDefiPosition(testutil.AliceAddress, tc.position, sheet)
			assert.Equal(t, tc.counted, !sheet.IsEmpty())
		})
	}
}

func TestQueryDefiBalancesRequeryInterval(t *testing.T) {
	env := newTestEnv(t)
	env.repo.SeedAccounts(entities.ChainEthereum, testutil.AliceAddress)
	env.loadAccounts(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := env.agg.QueryDefiBalances(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, env.defi.CallCount("DefiBalances"))
}

func TestDefiBalancesLayerOntoEthereumSheets(t *testing.T) {
	env := newTestEnv(t)
	env.repo.SeedAccounts(entities.ChainEthereum, testutil.AliceAddress)
	env.loadAccounts(t)
	env.eth.SetNativeBalance(testutil.AliceAddress, testutil.Dec("1"))
	env.oracle.SetPrice(entities.AssetETH, testutil.Dec("2000"))
	env.defi.SetPositions(testutil.AliceAddress, []entities.ProtocolPosition{
		testutil.NewTestPosition("Uniswap V2", "DAI", entities.AssetDAI.EvmAddress,
			entities.BalanceTypeAsset, "100"),
	})

	chain := entities.ChainEthereum
	snapshot, err := env.agg.QueryBalances(context.Background(), &chain, false)
	require.NoError(t, err)

	sheet := snapshot.PerAccount[chain][testutil.AliceAddress]
	assert.True(t, sheet.Assets[entities.AssetETH].Amount.Equal(testutil.Dec("1")))
	assert.True(t, sheet.Assets[entities.AssetDAI].Amount.Equal(testutil.Dec("100")))
}

func TestDropDefiCacheEntry(t *testing.T) {
	env := newTestEnv(t)
	env.repo.SeedAccounts(entities.ChainEthereum, testutil.AliceAddress, testutil.BobAddress)
	env.loadAccounts(t)
	env.defi.SetPositions(testutil.AliceAddress, []entities.ProtocolPosition{
		testutil.NewTestPosition("Uniswap V2", "DAI", entities.AssetDAI.EvmAddress,
			entities.BalanceTypeAsset, "100"),
	})
	ctx := context.Background()

	positions, err := env.agg.QueryDefiBalances(ctx)
	require.NoError(t, err)
	require.Contains(t, positions, testutil.AliceAddress)

	env.agg.dropDefiCacheEntry(testutil.AliceAddress)

	positions, err = env.agg.QueryDefiBalances(ctx)
	require.NoError(t, err)
	assert.NotContains(t, positions, testutil.AliceAddress)
	assert.Equal(t, 1, env.defi.CallCount("DefiBalances"))
}
