package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/chainsheet/chainsheet/internal/application/aggregator"
	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/config"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/infrastructure/beacon"
	"github.com/chainsheet/chainsheet/internal/infrastructure/bitcoin"
	"github.com/chainsheet/chainsheet/internal/infrastructure/database"
	"github.com/chainsheet/chainsheet/internal/infrastructure/ethereum"
	"github.com/chainsheet/chainsheet/internal/infrastructure/oracle"
	"github.com/chainsheet/chainsheet/internal/infrastructure/substrate"
	"github.com/chainsheet/chainsheet/internal/presentation/middleware"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger := setupLogger(cfg.Log.Level)
	defer logger.Sync()

	logger.Info("Starting chainsheet refresher",
		zap.Duration("interval", cfg.Refresher.Interval),
	)

	// Setup context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Connect to database
	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	accountRepo := database.NewAccountRepo(db.DB())

	// Price oracle shared by every source
	priceOracle := oracle.NewClient(
		cfg.Oracle.APIURL,
		cfg.Oracle.RequestTimeout,
		cfg.Oracle.PriceCacheTTL,
		logger,
	)

	// EVM chain clients
	evmConfigs := map[entities.Chain]config.EvmConfig{
		entities.ChainEthereum:  cfg.Ethereum,
		entities.ChainOptimism:  cfg.Optimism,
		entities.ChainAvalanche: cfg.Avalanche,
	}
	evmSources := make(map[entities.Chain]datasources.EvmNodeSource, len(evmConfigs))
	var ethClient *ethereum.Client
	for chain, evmCfg := range evmConfigs {
		client, err := ethereum.NewClient(evmCfg, logger)
		if err != nil {
			logger.Fatal("Failed to connect to EVM node",
				zap.String("chain", string(chain)),
				zap.Error(err),
			)
		}
		defer client.Close()

		scanner := ethereum.NewTokenScanner(client, priceOracle, chain, logger)
		evmSources[chain] = ethereum.NewNodeSource(client, scanner)
		if chain == entities.ChainEthereum {
			ethClient = client
		}
	}

	// Bitcoin-style explorers
	bitcoinSources := map[entities.Chain]datasources.BitcoinSource{
		entities.ChainBitcoin: bitcoin.NewExplorer(
			cfg.Bitcoin.ExplorerURL, cfg.Bitcoin.RequestTimeout, entities.ChainBitcoin, logger),
		entities.ChainBitcoinCash: bitcoin.NewExplorer(
			cfg.Bitcoin.BCHExplorerURL, cfg.Bitcoin.RequestTimeout, entities.ChainBitcoinCash, logger),
	}

	// Substrate node managers
	substrateSources := map[entities.Chain]datasources.SubstrateSource{
		entities.ChainKusama:   substrate.NewManager(cfg.Kusama, entities.ChainKusama, logger),
		entities.ChainPolkadot: substrate.NewManager(cfg.Polkadot, entities.ChainPolkadot, logger),
	}

	// Beacon chain explorer
	beaconClient := beacon.NewClient(cfg.Beacon.APIURL, cfg.Beacon.RequestTimeout, logger)

	// DeFi adapter registry scan on mainnet
	defiAdapter := ethereum.NewDefiAdapter(
		ethClient,
		priceOracle,
		common.HexToAddress(ethereum.DefaultAdapterAddress),
		logger,
	)

	// Protocol reader modules
	proxies := modules.NewProxyResolver(
		ethClient,
		common.HexToAddress(modules.ProxyRegistryAddress),
		cfg.Aggregator.ProxyRequeryWindow,
		logger,
	)
	registry := aggregator.NewRegistry(modules.Deps{
		Caller:  ethClient,
		Oracle:  priceOracle,
		Proxies: proxies,
		Eth2:    beaconClient,
		Logger:  logger,
	}, logger)
	registry.ActivateAll(cfg.Aggregator.ActiveModules)

	agg := aggregator.New(
		cfg.Aggregator,
		accountRepo,
		aggregator.Sources{
			Bitcoin:   bitcoinSources,
			Substrate: substrateSources,
			Evm:       evmSources,
			Defi:      defiAdapter,
			Oracle:    priceOracle,
			Caller:    ethClient,
		},
		registry,
		logger,
	)
	if err := agg.LoadAccounts(ctx); err != nil {
		logger.Fatal("Failed to load tracked accounts", zap.Error(err))
	}

	metrics := middleware.NewRefresherMetrics()

	// Start metrics server
	go startMetricsServer(cfg.Refresher.MetricsPort, logger)

	// Refresh loop
	done := make(chan struct{})
	go func() {
		defer close(done)

		refresh(ctx, agg, metrics, logger)

		ticker := time.NewTicker(cfg.Refresher.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				refresh(ctx, agg, metrics, logger)
			}
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, stopping refresher...")

	cancel()
	<-done

	logger.Info("Refresher stopped")
}

// refresh runs one full balance query across every chain with tracked
// accounts, bypassing the balance cache.
func refresh(
	ctx context.Context,
	agg *aggregator.Aggregator,
	metrics *middleware.RefresherMetrics,
	logger *zap.Logger,
) {
	start := time.Now()
	metrics.RefreshesTotal.Inc()

	snapshot, err := agg.QueryBalances(ctx, nil, true)
	if err != nil {
		metrics.RefreshErrors.Inc()
		logger.Error("Balance refresh failed", zap.Error(err))
		return
	}

	elapsed := time.Since(start)
	metrics.RefreshDuration.Observe(elapsed.Seconds())
	metrics.LastRefreshTime.SetToCurrentTime()

	netValue := snapshot.Totals.TotalUSDValue()
	netValueFloat, _ := netValue.Float64()
	metrics.TotalNetUSDValue.Set(netValueFloat)

	logger.Info("Balance refresh complete",
		zap.Duration("elapsed", elapsed),
		zap.String("net_usd_value", netValue.StringFixed(2)),
	)
}

func setupLogger(level string) *zap.Logger {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      false,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, _ := config.Build()
	return logger
}

func startMetricsServer(port int, logger *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	logger.Info("Starting metrics server", zap.String("addr", addr))

	server := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Metrics server error", zap.Error(err))
	}
}
