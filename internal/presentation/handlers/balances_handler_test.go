package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

func TestGetBalances(t *testing.T) {
	env := newAPIEnv(t)
	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.loadAccounts(t)
	env.btc.SetBalance(testutil.BtcAddress, testutil.Dec("1"))
	env.oracle.SetPrice(entities.AssetBTC, testutil.Dec("50000"))

	rec := env.request(http.MethodGet, "/api/v1/balances", "")
	assertStatus(t, rec, http.StatusOK)

	var snapshot entities.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := snapshot.PerAccount[entities.ChainBitcoin]; !ok {
		t.Error("expected bitcoin balances in snapshot")
	}
}

func TestGetBalancesChainFilter(t *testing.T) {
	env := newAPIEnv(t)
	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.repo.SeedAccounts(entities.ChainEthereum, testutil.AliceAddress)
	env.loadAccounts(t)
	env.btc.SetBalance(testutil.BtcAddress, testutil.Dec("1"))
	env.oracle.SetPrice(entities.AssetBTC, testutil.Dec("50000"))

	// the chain parameter is case insensitive
	rec := env.request(http.MethodGet, "/api/v1/balances?chain=btc", "")
	assertStatus(t, rec, http.StatusOK)

	var snapshot entities.Snapshot
	if err := json.NewDecoder(rec.Body).Decode(&snapshot); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if _, ok := snapshot.PerAccount[entities.ChainEthereum]; ok {
		t.Error("ethereum balances should not be in a bitcoin-only snapshot")
	}
}

func TestGetBalancesUnknownChain(t *testing.T) {
	env := newAPIEnv(t)

	rec := env.request(http.MethodGet, "/api/v1/balances?chain=DOGE", "")
	assertStatus(t, rec, http.StatusBadRequest)
}

func TestGetBalancesRemoteFailure(t *testing.T) {
	env := newAPIEnv(t)
	env.repo.SeedAccounts(entities.ChainBitcoin, testutil.BtcAddress)
	env.loadAccounts(t)
	env.btc.AddressBalancesFunc = func(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
		return nil, entities.NewRemoteError("explorer is down", nil)
	}

	rec := env.request(http.MethodGet, "/api/v1/balances?chain=BTC", "")
	assertStatus(t, rec, http.StatusBadGateway)
}

func TestGetBalancesInactiveModule(t *testing.T) {
	env := newAPIEnv(t)
	env.repo.SeedAccounts(entities.ChainEth2,
		"0x"+"a1d1ad0714035353258038e964ae9675dc0252ee22cea896825c01458e1807bfad2f9969338798548d9858a571f7425c")
	env.loadAccounts(t)

	// the eth2 module is not active, so validator balances cannot be served
	rec := env.request(http.MethodGet, "/api/v1/balances?chain=ETH2", "")
	assertStatus(t, rec, http.StatusConflict)
}
