package bitcoin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

func newTestExplorer(t *testing.T, handler http.HandlerFunc) *Explorer {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewExplorer(server.URL, 5*time.Second, entities.ChainBitcoin, zap.NewNop())
}

func balanceResponse(w http.ResponseWriter, satoshis map[string]int64) {
	entries := make(map[string]balanceEntry, len(satoshis))
	for address, balance := range satoshis {
		entries[address] = balanceEntry{FinalBalance: balance}
	}
	_ = json.NewEncoder(w).Encode(entries)
}

func TestAddressBalances(t *testing.T) {
	explorer := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		active := r.URL.Query().Get("active")
		assert.Equal(t, testutil.BtcAddress+"|"+testutil.BchLegacyAddress, active)
		balanceResponse(w, map[string]int64{
			testutil.BtcAddress:       150000000,
			testutil.BchLegacyAddress: 25000000,
		})
	})

	balances, err := explorer.AddressBalances(context.Background(),
		[]string{testutil.BtcAddress, testutil.BchLegacyAddress})
	require.NoError(t, err)

	assert.True(t, balances[testutil.BtcAddress].Equal(testutil.Dec("1.5")))
	assert.True(t, balances[testutil.BchLegacyAddress].Equal(testutil.Dec("0.25")))
}

func TestAddressBalancesChunking(t *testing.T) {
	var requests atomic.Int64
	explorer := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		chunk := strings.Split(r.URL.Query().Get("active"), "|")
		assert.LessOrEqual(t, len(chunk), chunkSize)

		satoshis := make(map[string]int64, len(chunk))
		for _, address := range chunk {
			satoshis[address] = 100000000
		}
		balanceResponse(w, satoshis)
	})

	addresses := make([]string, 0, 130)
	for i := 0; i < 130; i++ {
		addresses = append(addresses, fmt.Sprintf("addr%03d", i))
	}

	balances, err := explorer.AddressBalances(context.Background(), addresses)
	require.NoError(t, err)

	assert.Len(t, balances, 130)
	assert.Equal(t, int64(2), requests.Load())
}

func TestAddressBalancesNoAddresses(t *testing.T) {
	explorer := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request expected for an empty address list")
	})

	balances, err := explorer.AddressBalances(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, balances)
}

func TestAddressBalancesExplorerError(t *testing.T) {
	explorer := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := explorer.AddressBalances(context.Background(), []string{testutil.BtcAddress})
	var remoteErr *entities.RemoteError
	assert.True(t, errors.As(err, &remoteErr))
}

func TestAddressBalancesMissingAddress(t *testing.T) {
	explorer := newTestExplorer(t, func(w http.ResponseWriter, r *http.Request) {
		balanceResponse(w, map[string]int64{})
	})

	_, err := explorer.AddressBalances(context.Background(), []string{testutil.BtcAddress})
	var remoteErr *entities.RemoteError
	assert.True(t, errors.As(err, &remoteErr))
}
