package makerdao

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

var (
	detailsUrn   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	detailsProxy = common.HexToAddress("0x00000000000000000000000000000000000000bb")
)

func txHash(n byte) common.Hash {
	return common.Hash{31: n}
}

// vaultHistory holds the log streams of one ETH-A vault's lifetime. The
// caller answers each filter query with the matching stream and serves the
// vault's creation event at block 100.
type vaultHistory struct {
	frob       []types.Log
	urnJoins   []types.Log
	proxyJoins []types.Log
	exits      []types.Log
	moves      []types.Log
	daiJoins   []types.Log
	bites      []types.Log
}

func (h vaultHistory) caller(t *testing.T) *testutil.MockEvmCaller {
	t.Helper()
	caller := testutil.NewMockEvmCaller()
	caller.MulticallFunc = func(ctx context.Context, calls []datasources.ContractCall) ([][]byte, error) {
		outputs := make([][]byte, len(calls))
		for i := range outputs {
			outputs[i] = common.LeftPadBytes(detailsProxy.Bytes(), 32)
		}
		return outputs, nil
	}

	ethJoin := gemJoins["ETH-A"]
	caller.FilterLogsFunc = func(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
		contract := query.Addresses[0]
		selector := query.Topics[0][0]
		switch {
		case contract == cdpManagerAddr && selector == newCdpTopic:
			return []types.Log{{BlockNumber: 100, TxHash: txHash(1)}}, nil
		case contract == vatAddr && selector == frobSelector:
			return h.frob, nil
		case contract == ethJoin && selector == joinSelector && len(query.Topics) == 3:
			return h.urnJoins, nil
		case contract == ethJoin && selector == joinSelector:
			return h.proxyJoins, nil
		case contract == ethJoin && selector == exitSelector:
			return h.exits, nil
		case contract == vatAddr && selector == moveSelector:
			return h.moves, nil
		case contract == daiJoinAddr && selector == joinSelector:
			return h.daiJoins, nil
		case contract == catAddr && selector == biteTopic:
			return h.bites, nil
		}
		t.Fatalf("unexpected log query for contract %s", contract)
		return nil, nil
	}
	return caller
}

func newDetailsVaults(t *testing.T, history vaultHistory, debt string) (*Vaults, *testutil.MockEvmCaller) {
	t.Helper()
	oracle := testutil.NewMockPriceOracle()
	oracle.SetPrice(entities.AssetETH, decimal.NewFromInt(2000))
	oracle.SetPrice(entities.AssetDAI, decimal.NewFromInt(1))

	caller := history.caller(t)
	vaults := newTestVaults(t, caller, oracle)
	vaults.SetPremium(true)
	vaults.vaultsByOwner = map[string][]*Vault{
		testutil.AliceAddress: {{
			ID:              7,
			CollateralType:  "ETH-A",
			Owner:           testutil.AliceAddress,
			CollateralAsset: entities.AssetETH,
			Debt:            testutil.NewTestBalance(debt, "1"),
			urn:             detailsUrn,
			ilk:             ilkOf("ETH-A"),
		}},
	}
	vaults.lastVaultQuery = time.Now()
	return vaults, caller
}

func TestVaultDetails(t *testing.T) {
	urnTopic := addressTopic(detailsUrn)
	proxyTopic := addressTopic(detailsProxy)

	depositLog := types.Log{
		Topics:      []common.Hash{joinSelector, proxyTopic, urnTopic, common.BigToHash(bigUnits(2, 18))},
		TxHash:      txHash(2),
		BlockNumber: 110,
	}
	history := vaultHistory{
		frob: []types.Log{{TxHash: txHash(2)}, {TxHash: txHash(3)}},
		// the same deposit shows up in both the urn and the proxy stream
		// and must be counted once
		urnJoins:   []types.Log{depositLog},
		proxyJoins: []types.Log{depositLog},
		exits: []types.Log{{
			Topics:      []common.Hash{exitSelector, proxyTopic, urnTopic, common.BigToHash(bigUnits(1, 18))},
			TxHash:      txHash(3),
			BlockNumber: 130,
		}},
		moves: []types.Log{{
			Topics:      []common.Hash{moveSelector, urnTopic, proxyTopic, common.BigToHash(bigUnits(1000, 45))},
			TxHash:      txHash(4),
			BlockNumber: 120,
		}},
		daiJoins: []types.Log{{
			Topics:      []common.Hash{joinSelector, proxyTopic, urnTopic, common.BigToHash(bigUnits(400, 18))},
			TxHash:      txHash(5),
			BlockNumber: 140,
		}},
		bites: []types.Log{{
			Topics:      []common.Hash{biteTopic, common.Hash(ilkOf("ETH-A")), urnTopic},
			Data:        common.LeftPadBytes(bigUnits(2, 18).Bytes(), 32),
			TxHash:      txHash(6),
			BlockNumber: 150,
		}},
	}
	vaults, _ := newDetailsVaults(t, history, "650")

	details, err := vaults.VaultDetails(context.Background(), []string{testutil.AliceAddress})
	require.NoError(t, err)
	require.Len(t, details, 1)

	detail := details[0]
	assert.Equal(t, int64(7), detail.ID)
	assert.Equal(t, time.Unix(100, 0).UTC(), detail.CreationTime.UTC())
	// 1000 DAI drawn, 400 paid back, 650 owed: 50 DAI of accrued interest
	assert.True(t, detail.TotalInterestOwed.Equal(decimal.NewFromInt(50)))
	assert.True(t, detail.TotalLiquidated.Amount.Equal(decimal.NewFromInt(2)))
	assert.True(t, detail.TotalLiquidated.USDValue.Equal(decimal.NewFromInt(4000)))

	require.Len(t, detail.Events, 5)
	wantTypes := []VaultEventType{
		VaultEventDeposit, VaultEventGenerate, VaultEventWithdraw,
		VaultEventPayback, VaultEventLiquidation,
	}
	for i, event := range detail.Events {
		assert.Equal(t, wantTypes[i], event.Type)
	}
	assert.True(t, detail.Events[0].Value.Amount.Equal(decimal.NewFromInt(2)))
	assert.True(t, detail.Events[0].Value.USDValue.Equal(decimal.NewFromInt(4000)))
	assert.True(t, detail.Events[1].Value.Amount.Equal(decimal.NewFromInt(1000)))
	assert.True(t, detail.Events[2].Value.Amount.Equal(decimal.NewFromInt(1)))
	assert.True(t, detail.Events[3].Value.Amount.Equal(decimal.NewFromInt(400)))
}

func TestVaultDetailsRequiresMatchingStateChange(t *testing.T) {
	urnTopic := addressTopic(detailsUrn)
	proxyTopic := addressTopic(detailsProxy)

	// adapter movements whose transactions never touched vat.frob belong to
	// some other vault sharing the proxy and must not show up here
	history := vaultHistory{
		urnJoins: []types.Log{{
			Topics:      []common.Hash{joinSelector, proxyTopic, urnTopic, common.BigToHash(bigUnits(5, 18))},
			TxHash:      txHash(8),
			BlockNumber: 110,
		}},
		exits: []types.Log{{
			Topics:      []common.Hash{exitSelector, proxyTopic, urnTopic, common.BigToHash(bigUnits(3, 18))},
			TxHash:      txHash(9),
			BlockNumber: 120,
		}},
	}
	vaults, _ := newDetailsVaults(t, history, "0")

	details, err := vaults.VaultDetails(context.Background(), []string{testutil.AliceAddress})
	require.NoError(t, err)
	require.Len(t, details, 1)

	assert.Empty(t, details[0].Events)
	assert.True(t, details[0].TotalInterestOwed.IsZero())
}

func TestVaultDetailsZeroValueEntries(t *testing.T) {
	urnTopic := addressTopic(detailsUrn)
	proxyTopic := addressTopic(detailsProxy)

	history := vaultHistory{
		// withdrawing collateral routes a zero DAI join through the urn,
		// which is not a payback
		daiJoins: []types.Log{{
			Topics:      []common.Hash{joinSelector, proxyTopic, urnTopic, common.BigToHash(big.NewInt(0))},
			TxHash:      txHash(5),
			BlockNumber: 140,
		}},
		// a bite log with a truncated payload carries no collateral amount
		bites: []types.Log{{
			Topics:      []common.Hash{biteTopic, common.Hash(ilkOf("ETH-A")), urnTopic},
			TxHash:      txHash(6),
			BlockNumber: 150,
		}},
	}
	vaults, _ := newDetailsVaults(t, history, "0")

	details, err := vaults.VaultDetails(context.Background(), []string{testutil.AliceAddress})
	require.NoError(t, err)
	require.Len(t, details, 1)

	assert.Empty(t, details[0].Events)
	assert.True(t, details[0].TotalLiquidated.Amount.IsZero())
}

func TestVaultDetailsNeedsPremium(t *testing.T) {
	vaults := newTestVaults(t, testutil.NewMockEvmCaller(), testutil.NewMockPriceOracle())

	_, err := vaults.VaultDetails(context.Background(), []string{testutil.AliceAddress})
	var inputErr *entities.InputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestVaultDetailsCached(t *testing.T) {
	vaults, caller := newDetailsVaults(t, vaultHistory{}, "0")
	ctx := context.Background()

	_, err := vaults.VaultDetails(ctx, []string{testutil.AliceAddress})
	require.NoError(t, err)
	queried := caller.CallCount("FilterLogs")
	require.NotZero(t, queried)

	_, err = vaults.VaultDetails(ctx, []string{testutil.AliceAddress})
	require.NoError(t, err)
	assert.Equal(t, queried, caller.CallCount("FilterLogs"))
}
