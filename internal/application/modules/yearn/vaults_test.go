package yearn

import (
	"bytes"
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

func bigUnits(coefficient int64, exponent int64) *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(exponent), nil)
	return new(big.Int).Mul(big.NewInt(coefficient), scale)
}

func packedUint(value *big.Int) []byte {
	return common.LeftPadBytes(value.Bytes(), 32)
}

// vaultChainState answers pricePerShare and balanceOf queries from static
// tables. Vaults absent from pricePerShare fail their pps call.
type vaultChainState struct {
	pricePerShare map[common.Address]*big.Int
	shares        map[common.Address]map[common.Address]*big.Int // vault -> holder -> shares
}

func (s vaultChainState) caller() *testutil.MockEvmCaller {
	ppsID := vaultABI.Methods["pricePerShare"].ID
	caller := testutil.NewMockEvmCaller()
	caller.TryMulticallFunc = func(ctx context.Context, calls []datasources.ContractCall) ([]datasources.MulticallResult, error) {
		outputs := make([]datasources.MulticallResult, len(calls))
		for i, call := range calls {
			if bytes.Equal(call.Data[:4], ppsID) {
				pps, ok := s.pricePerShare[call.To]
				if !ok {
					outputs[i] = datasources.MulticallResult{Success: false}
					continue
				}
				outputs[i] = datasources.MulticallResult{Success: true, ReturnData: packedUint(pps)}
				continue
			}
			holder := common.BytesToAddress(call.Data[len(call.Data)-20:])
			shares := big.NewInt(0)
			if held, ok := s.shares[call.To][holder]; ok {
				shares = held
			}
			outputs[i] = datasources.MulticallResult{Success: true, ReturnData: packedUint(shares)}
		}
		return outputs, nil
	}
	return caller
}

func newTestVaults(t *testing.T, caller *testutil.MockEvmCaller, oracle *testutil.MockPriceOracle) *Vaults {
	t.Helper()
	vaults, err := New(modules.Deps{
		Caller: caller,
		Oracle: oracle,
		Logger: zap.NewNop(),
	})
	require.NoError(t, err)
	return vaults
}

func allVaultsAtParity() map[common.Address]*big.Int {
	pps := make(map[common.Address]*big.Int, len(supportedVaults))
	for _, vault := range supportedVaults {
		pps[vault.address] = bigUnits(1, int64(vault.underlying.Decimals))
	}
	return pps
}

func TestBalancesValuesSharesInUnderlying(t *testing.T) {
	daiVault := supportedVaults[0].address
	usdcVault := supportedVaults[1].address

	state := vaultChainState{
		pricePerShare: allVaultsAtParity(),
		shares: map[common.Address]map[common.Address]*big.Int{
			daiVault: {
				common.HexToAddress(testutil.AliceAddress): bigUnits(2, 18),
			},
			usdcVault: {
				common.HexToAddress(testutil.AliceAddress): bigUnits(3, 18),
			},
		},
	}
	// the DAI vault has appreciated 10%, the USDC vault 5%
	state.pricePerShare[daiVault] = bigUnits(11, 17)
	state.pricePerShare[usdcVault] = bigUnits(105, 4)

	oracle := testutil.NewMockPriceOracle()
	oracle.SetPrice(entities.AssetDAI, decimal.NewFromInt(1))
	oracle.SetPrice(entities.AssetUSDC, decimal.NewFromInt(1))
	vaults := newTestVaults(t, state.caller(), oracle)

	sheets, err := vaults.Balances(context.Background(), []string{testutil.AliceAddress})
	require.NoError(t, err)

	sheet := sheets[testutil.AliceAddress]
	require.NotNil(t, sheet)
	assert.True(t, sheet.Assets[entities.AssetDAI].Amount.Equal(testutil.Dec("2.2")))
	assert.True(t, sheet.Assets[entities.AssetDAI].USDValue.Equal(testutil.Dec("2.2")))
	assert.True(t, sheet.Assets[entities.AssetUSDC].Amount.Equal(testutil.Dec("3.15")))
}

func TestBalancesSkipsVaultWithFailedPricePerShare(t *testing.T) {
	daiVault := supportedVaults[0].address
	usdcVault := supportedVaults[1].address

	pps := allVaultsAtParity()
	delete(pps, daiVault)
	state := vaultChainState{
		pricePerShare: pps,
		shares: map[common.Address]map[common.Address]*big.Int{
			daiVault: {
				common.HexToAddress(testutil.AliceAddress): bigUnits(2, 18),
			},
			usdcVault: {
				common.HexToAddress(testutil.AliceAddress): bigUnits(1, 18),
			},
		},
	}

	oracle := testutil.NewMockPriceOracle()
	oracle.SetPrice(entities.AssetUSDC, decimal.NewFromInt(1))
	vaults := newTestVaults(t, state.caller(), oracle)

	sheets, err := vaults.Balances(context.Background(), []string{testutil.AliceAddress})
	require.NoError(t, err)

	sheet := sheets[testutil.AliceAddress]
	require.NotNil(t, sheet)
	_, hasDAI := sheet.Assets[entities.AssetDAI]
	assert.False(t, hasDAI)
	assert.True(t, sheet.Assets[entities.AssetUSDC].Amount.Equal(testutil.Dec("1")))
}

func TestBalancesSkipsZeroShareHolders(t *testing.T) {
	state := vaultChainState{pricePerShare: allVaultsAtParity()}

	vaults := newTestVaults(t, state.caller(), testutil.NewMockPriceOracle())

	sheets, err := vaults.Balances(context.Background(),
		[]string{testutil.AliceAddress, testutil.BobAddress})
	require.NoError(t, err)
	assert.Empty(t, sheets)
}

func TestBalancesNoAddresses(t *testing.T) {
	caller := testutil.NewMockEvmCaller()
	vaults := newTestVaults(t, caller, testutil.NewMockPriceOracle())

	sheets, err := vaults.Balances(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, sheets)
	assert.Equal(t, 0, caller.CallCount("TryMulticall"))
}

func TestBalancesDegradesMissingPriceToZeroValue(t *testing.T) {
	daiVault := supportedVaults[0].address
	state := vaultChainState{
		pricePerShare: allVaultsAtParity(),
		shares: map[common.Address]map[common.Address]*big.Int{
			daiVault: {
				common.HexToAddress(testutil.AliceAddress): bigUnits(2, 18),
			},
		},
	}
	vaults := newTestVaults(t, state.caller(), testutil.NewMockPriceOracle())

	sheets, err := vaults.Balances(context.Background(), []string{testutil.AliceAddress})
	require.NoError(t, err)

	balance := sheets[testutil.AliceAddress].Assets[entities.AssetDAI]
	assert.True(t, balance.Amount.Equal(testutil.Dec("2")))
	assert.True(t, balance.USDValue.IsZero())
}
