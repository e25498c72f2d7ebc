package handlers

import (
	"context"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/aggregator"
	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/config"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

// apiEnv wires the handlers onto a router backed by a real aggregator and
// registry over mocked data sources.
type apiEnv struct {
	router    chi.Router
	agg       *aggregator.Aggregator
	registry  *aggregator.Registry
	repo      *testutil.MockAccountRepository
	btc       *testutil.MockBitcoinSource
	eth       *testutil.MockEvmNodeSource
	oracle    *testutil.MockPriceOracle
	caller    *testutil.MockEvmCaller
	respCache *testutil.MockResponseCache
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()

	env := &apiEnv{
		repo:      testutil.NewMockAccountRepository(),
		btc:       testutil.NewMockBitcoinSource(),
		eth:       testutil.NewMockEvmNodeSource(),
		oracle:    testutil.NewMockPriceOracle(),
		caller:    testutil.NewMockEvmCaller(),
		respCache: testutil.NewMockResponseCache(),
	}

	logger := zap.NewNop()
	proxies := modules.NewProxyResolver(
		env.caller,
		common.HexToAddress(modules.ProxyRegistryAddress),
		time.Hour,
		logger,
	)
	env.registry = aggregator.NewRegistry(modules.Deps{
		Caller:  env.caller,
		Oracle:  env.oracle,
		Proxies: proxies,
		Eth2:    testutil.NewMockEth2Source(),
		Logger:  logger,
	}, logger)

	env.agg = aggregator.New(
		config.AggregatorConfig{
			BalanceCacheTTL:     time.Minute,
			DefiRequeryInterval: time.Minute,
			ProxyRequeryWindow:  time.Hour,
			NodeConnectTimeout:  time.Second,
		},
		env.repo,
		aggregator.Sources{
			Bitcoin: map[entities.Chain]datasources.BitcoinSource{
				entities.ChainBitcoin: env.btc,
			},
			Evm: map[entities.Chain]datasources.EvmNodeSource{
				entities.ChainEthereum:  env.eth,
				entities.ChainOptimism:  env.eth,
				entities.ChainAvalanche: env.eth,
			},
			Defi:   testutil.NewMockDefiSource(),
			Oracle: env.oracle,
			Caller: env.caller,
		},
		env.registry,
		logger,
	)

	env.router = chi.NewRouter()
	env.router.Route("/api/v1", func(r chi.Router) {
		NewBalancesHandler(env.agg, env.respCache, logger).RegisterRoutes(r)
		NewAccountsHandler(env.agg, env.respCache, logger).RegisterRoutes(r)
		NewModulesHandler(env.registry, env.agg, logger).RegisterRoutes(r)
	})
	return env
}

func (e *apiEnv) loadAccounts(t *testing.T) {
	t.Helper()
	if err := e.agg.LoadAccounts(context.Background()); err != nil {
		t.Fatalf("failed to load accounts: %v", err)
	}
}

func (e *apiEnv) request(method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func assertStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected status %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}
