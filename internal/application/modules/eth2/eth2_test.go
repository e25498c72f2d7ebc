package eth2

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

const validatorPubkey = "0x" +
	"a1d1ad0714035353258038e964ae9675dc0252ee22cea896825c01458e1807bf" +
	"ad2f9969338798548d9858a571f7425c"

func newTestEth2(t *testing.T, source *testutil.MockEth2Source, oracle *testutil.MockPriceOracle) *Eth2 {
	t.Helper()
	reader, err := New(modules.Deps{
		Eth2:   source,
		Oracle: oracle,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return reader
}

func TestBalances(t *testing.T) {
	source := testutil.NewMockEth2Source()
	source.SetBalance(validatorPubkey, testutil.Dec("32.5"))
	oracle := testutil.NewMockPriceOracle()
	oracle.SetPrice(entities.AssetETH2, decimal.NewFromInt(2000))
	reader := newTestEth2(t, source, oracle)

	sheets, err := reader.Balances(context.Background(), []string{validatorPubkey})
	require.NoError(t, err)

	sheet := sheets[validatorPubkey]
	require.NotNil(t, sheet)
	balance := sheet.Assets[entities.AssetETH2]
	assert.True(t, balance.Amount.Equal(testutil.Dec("32.5")))
	assert.True(t, balance.USDValue.Equal(testutil.Dec("65000")))
}

func TestBalancesNoValidators(t *testing.T) {
	source := testutil.NewMockEth2Source()
	reader := newTestEth2(t, source, testutil.NewMockPriceOracle())

	sheets, err := reader.Balances(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, sheets)
	assert.Equal(t, 0, source.CallCount("ValidatorBalances"))
}

func TestBalancesPriceFailure(t *testing.T) {
	source := testutil.NewMockEth2Source()
	source.SetBalance(validatorPubkey, testutil.Dec("32"))
	reader := newTestEth2(t, source, testutil.NewMockPriceOracle())

	_, err := reader.Balances(context.Background(), []string{validatorPubkey})
	assert.Error(t, err)
}
