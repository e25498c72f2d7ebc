package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
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
	"github.com/chainsheet/chainsheet/internal/infrastructure/cache"
	"github.com/chainsheet/chainsheet/internal/infrastructure/database"
	"github.com/chainsheet/chainsheet/internal/infrastructure/ethereum"
	"github.com/chainsheet/chainsheet/internal/infrastructure/oracle"
	"github.com/chainsheet/chainsheet/internal/infrastructure/substrate"
	"github.com/chainsheet/chainsheet/internal/presentation/handlers"
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

	logger.Info("Starting chainsheet API",
		zap.Int("port", cfg.API.Port),
	)

	// Connect to database
	db, err := database.NewPostgresDB(cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	// Connect to Redis cache (optional)
	var redisCache *cache.RedisCache
	redisCache, err = cache.NewRedisCache(cfg.Redis, cfg.API.CacheTTL, logger)
	if err != nil {
		logger.Warn("Failed to connect to Redis, running without cache", zap.Error(err))
		redisCache = nil
	} else {
		defer redisCache.Close()
	}

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
	if err := agg.LoadAccounts(context.Background()); err != nil {
		logger.Fatal("Failed to load tracked accounts", zap.Error(err))
	}

	// Create handlers
	var responseCache handlers.ResponseCache
	if redisCache != nil {
		responseCache = redisCache
	}
	balancesHandler := handlers.NewBalancesHandler(agg, responseCache, logger)
	accountsHandler := handlers.NewAccountsHandler(agg, responseCache, logger)
	modulesHandler := handlers.NewModulesHandler(registry, agg, logger)

	var cacheChecker handlers.HealthChecker
	if redisCache != nil {
		cacheChecker = redisCache
	}
	healthHandler := handlers.NewHealthHandler(db, cacheChecker)

	// Setup router
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.RateLimiter(cfg.API.RateLimitRPS))

	// Health endpoints (no rate limiting)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)
	r.Get("/live", healthHandler.Live)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		balancesHandler.RegisterRoutes(r)
		accountsHandler.RegisterRoutes(r)
		modulesHandler.RegisterRoutes(r)
	})

	// Start server
	addr := fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
	}

	// Run server in goroutine
	go func() {
		logger.Info("API server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server error", zap.Error(err))
		}
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("Received shutdown signal, shutting down server...")

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), cfg.API.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", zap.Error(err))
	}

	logger.Info("Server stopped")
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
