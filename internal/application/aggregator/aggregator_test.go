package aggregator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/config"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

type testEnv struct {
	agg      *Aggregator
	registry *Registry
	repo     *testutil.MockAccountRepository
	btc      *testutil.MockBitcoinSource
	bch      *testutil.MockBitcoinSource
	ksm      *testutil.MockSubstrateSource
	eth      *testutil.MockEvmNodeSource
	defi     *testutil.MockDefiSource
	oracle   *testutil.MockPriceOracle
	caller   *testutil.MockEvmCaller
	eth2     *testutil.MockEth2Source
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	env := &testEnv{
		repo:   testutil.NewMockAccountRepository(),
		btc:    testutil.NewMockBitcoinSource(),
		bch:    testutil.NewMockBitcoinSource(),
		ksm:    testutil.NewMockSubstrateSource(true),
		eth:    testutil.NewMockEvmNodeSource(),
		defi:   testutil.NewMockDefiSource(),
		oracle: testutil.NewMockPriceOracle(),
		caller: testutil.NewMockEvmCaller(),
		eth2:   testutil.NewMockEth2Source(),
	}

	logger := zap.NewNop()
	proxies := modules.NewProxyResolver(
		env.caller,
		common.HexToAddress(modules.ProxyRegistryAddress),
		time.Hour,
		logger,
	)
	env.registry = NewRegistry(modules.Deps{
		Caller:  env.caller,
		Oracle:  env.oracle,
		Proxies: proxies,
		Eth2:    env.eth2,
		Logger:  logger,
	}, logger)

	cfg := config.AggregatorConfig{
		BalanceCacheTTL:     time.Minute,
		DefiRequeryInterval: time.Minute,
		ProxyRequeryWindow:  time.Hour,
		NodeConnectTimeout:  time.Second,
	}
	env.agg = New(
		cfg,
		env.repo,
		Sources{
			Bitcoin: map[entities.Chain]datasources.BitcoinSource{
				entities.ChainBitcoin:     env.btc,
				entities.ChainBitcoinCash: env.bch,
			},
			Substrate: map[entities.Chain]datasources.SubstrateSource{
				entities.ChainKusama:   env.ksm,
				entities.ChainPolkadot: env.ksm,
			},
			Evm: map[entities.Chain]datasources.EvmNodeSource{
				entities.ChainEthereum:  env.eth,
				entities.ChainOptimism:  env.eth,
				entities.ChainAvalanche: env.eth,
			},
			Defi:   env.defi,
			Oracle: env.oracle,
			Caller: env.caller,
		},
		env.registry,
		logger,
	)
	return env
}

func (e *testEnv) loadAccounts(t *testing.T) {
	t.Helper()
	require.NoError(t, e.agg.LoadAccounts(context.Background()))
}

func TestQueryBalancesTotals(t *testing.T) {
	env := newTestEnv(t)

	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.repo.SeedAccounts(entities.ChainEthereum, testutil.AliceAddress)
	env.loadAccounts(t)

	env.btc.SetBalance(testutil.BtcAddress, testutil.Dec("1"))
	env.eth.SetNativeBalance(testutil.AliceAddress, testutil.Dec("2"))
	env.oracle.SetPrice(entities.AssetBTC, testutil.Dec("50000"))
	env.oracle.SetPrice(entities.AssetETH, testutil.Dec("2000"))

	snapshot, err := env.agg.QueryBalances(context.Background(), nil, false)
	require.NoError(t, err)

	assert.True(t, snapshot.Totals.TotalUSDValue().Equal(testutil.Dec("54000")))
	assert.True(t, snapshot.PerAccount[entities.ChainBitcoin][testutil.BtcAddress].
		Assets[entities.AssetBTC].Amount.Equal(testutil.Dec("1")))
	assert.True(t, snapshot.PerAccount[entities.ChainEthereum][testutil.AliceAddress].
		Assets[entities.AssetETH].USDValue.Equal(testutil.Dec("4000")))
}

func TestQueryBalancesCacheTTL(t *testing.T) {
	env := newTestEnv(t)

	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.loadAccounts(t)
	env.btc.SetBalance(testutil.BtcAddress, testutil.Dec("1"))
	env.oracle.SetPrice(entities.AssetBTC, testutil.Dec("50000"))

	chain := entities.ChainBitcoin
	for i := 0; i < 3; i++ {
		_, err := env.agg.QueryBalances(context.Background(), &chain, false)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, env.btc.CallCount("AddressBalances"))

	// ignore_cache forces a fresh remote query
	_, err := env.agg.QueryBalances(context.Background(), &chain, true)
	require.NoError(t, err)
	assert.Equal(t, 2, env.btc.CallCount("AddressBalances"))
}

func TestQueryBalancesSingleflight(t *testing.T) {
	env := newTestEnv(t)

	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.loadAccounts(t)
	env.oracle.SetPrice(entities.AssetBTC, testutil.Dec("50000"))
	env.btc.AddressBalancesFunc = func(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]decimal.Decimal{testutil.BtcAddress: testutil.Dec("1")}, nil
	}

	chain := entities.ChainBitcoin
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.agg.QueryBalances(context.Background(), &chain, false)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, env.btc.CallCount("AddressBalances"))
}

func TestQueryBalancesUnknownChain(t *testing.T) {
	env := newTestEnv(t)

	chain := entities.Chain("DOGE")
	_, err := env.agg.QueryBalances(context.Background(), &chain, false)

	var inputErr *entities.InputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestQueryBalancesAllSkipsFailingChain(t *testing.T) {
	env := newTestEnv(t)

	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.repo.SeedAccounts(entities.ChainEthereum, testutil.AliceAddress)
	env.loadAccounts(t)

	env.btc.AddressBalancesFunc = func(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
		return nil, entities.NewRemoteError("explorer down", nil)
	}
	env.eth.SetNativeBalance(testutil.AliceAddress, testutil.Dec("2"))
	env.oracle.SetPrice(entities.AssetETH, testutil.Dec("2000"))

	snapshot, err := env.agg.QueryBalances(context.Background(), nil, false)
	require.NoError(t, err)

	assert.NotContains(t, snapshot.PerAccount, entities.ChainBitcoin)
	assert.True(t, snapshot.Totals.TotalUSDValue().Equal(testutil.Dec("4000")))
}

func TestQueryBalancesEth2NeedsActiveModule(t *testing.T) {
	env := newTestEnv(t)

	env.repo.SeedAccounts(entities.ChainEth2, "0xa1d1ad0714035353258038e964ae9675dc0252ee22cea896825c01458e1807bfad2f9969338798548d9858a571f7425c")
	env.loadAccounts(t)

	chain := entities.ChainEth2
	_, err := env.agg.QueryBalances(context.Background(), &chain, false)

	var inactiveErr *entities.ModuleInactiveError
	assert.True(t, errors.As(err, &inactiveErr))
}

func TestQueryBalancesSubstrate(t *testing.T) {
	env := newTestEnv(t)

	env.repo.SeedAccounts(entities.ChainKusama, testutil.KsmAddress)
	env.loadAccounts(t)
	env.ksm.SetBalance(testutil.KsmAddress, testutil.Dec("10"))
	env.oracle.SetPrice(entities.AssetKSM, testutil.Dec("30"))

	chain := entities.ChainKusama
	snapshot, err := env.agg.QueryBalances(context.Background(), &chain, false)
	require.NoError(t, err)

	sheet := snapshot.PerAccount[entities.ChainKusama][testutil.KsmAddress]
	assert.True(t, sheet.Assets[entities.AssetKSM].USDValue.Equal(testutil.Dec("300")))
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	env := newTestEnv(t)

	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.loadAccounts(t)
	env.btc.SetBalance(testutil.BtcAddress, testutil.Dec("1"))
	env.oracle.SetPrice(entities.AssetBTC, testutil.Dec("50000"))

	chain := entities.ChainBitcoin
	first, err := env.agg.QueryBalances(context.Background(), &chain, false)
	require.NoError(t, err)

	// mutating the snapshot must not leak into the stored balances
	first.PerAccount[entities.ChainBitcoin][testutil.BtcAddress].
		AddAsset(entities.AssetBTC, testutil.NewTestBalance("100", "50000"))

	second, err := env.agg.QueryBalances(context.Background(), &chain, false)
	require.NoError(t, err)
	assert.True(t, second.PerAccount[entities.ChainBitcoin][testutil.BtcAddress].
		Assets[entities.AssetBTC].Amount.Equal(testutil.Dec("1")))
}
