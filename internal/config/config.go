package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application
type Config struct {
	// Chain data source configuration
	Ethereum  EvmConfig `envconfig:"ETH"`
	Optimism  EvmConfig `envconfig:"OPT"`
	Avalanche EvmConfig `envconfig:"AVAX"`
	Bitcoin   BitcoinConfig
	Kusama    SubstrateConfig `envconfig:"KSM"`
	Polkadot  SubstrateConfig `envconfig:"DOT"`
	Beacon    BeaconConfig

	// Price oracle configuration
	Oracle OracleConfig

	// Aggregator configuration
	Aggregator AggregatorConfig

	// Database configuration
	Database DatabaseConfig

	// Redis configuration
	Redis RedisConfig

	// API server configuration
	API APIConfig

	// Refresher configuration
	Refresher RefresherConfig

	// Logging configuration
	Log LogConfig
}

// EvmConfig holds connection settings for one EVM chain node
type EvmConfig struct {
	RPCURL         string        `envconfig:"RPC_URL" default:"http://localhost:8545"`
	ChainID        int64         `envconfig:"CHAIN_ID" default:"1"`
	MulticallAddr  string        `envconfig:"MULTICALL_ADDR" default:"0x5BA1e12693Dc8F9c48aAD8770482f4739bEeD696"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"MAX_RETRIES" default:"3"`
	RetryDelay     time.Duration `envconfig:"RETRY_DELAY" default:"1s"`
}

// BitcoinConfig holds explorer API settings for the UTXO chains
type BitcoinConfig struct {
	ExplorerURL    string        `envconfig:"BTC_EXPLORER_URL" default:"https://blockchain.info"`
	BCHExplorerURL string        `envconfig:"BCH_EXPLORER_URL" default:"https://api.haskoin.com/bch"`
	RequestTimeout time.Duration `envconfig:"BTC_REQUEST_TIMEOUT" default:"30s"`
}

// SubstrateConfig holds node settings for one substrate chain
type SubstrateConfig struct {
	NodeURLs       []string      `envconfig:"NODE_URLS" default:""`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"30s"`
}

// BeaconConfig holds beacon chain explorer settings
type BeaconConfig struct {
	APIURL         string        `envconfig:"BEACON_API_URL" default:"https://beaconcha.in/api/v1"`
	RequestTimeout time.Duration `envconfig:"BEACON_REQUEST_TIMEOUT" default:"30s"`
}

// OracleConfig holds price oracle settings
type OracleConfig struct {
	APIURL         string        `envconfig:"ORACLE_API_URL" default:"https://api.coingecko.com/api/v3"`
	RequestTimeout time.Duration `envconfig:"ORACLE_REQUEST_TIMEOUT" default:"15s"`
	PriceCacheTTL  time.Duration `envconfig:"ORACLE_PRICE_CACHE_TTL" default:"3m"`
}

// AggregatorConfig holds the balance aggregation engine settings
type AggregatorConfig struct {
	BalanceCacheTTL     time.Duration `envconfig:"AGG_BALANCE_CACHE_TTL" default:"30s"`
	DefiRequeryInterval time.Duration `envconfig:"AGG_DEFI_REQUERY_INTERVAL" default:"10m"`
	ProxyRequeryWindow  time.Duration `envconfig:"AGG_PROXY_REQUERY_WINDOW" default:"2h"`
	NodeConnectTimeout  time.Duration `envconfig:"AGG_NODE_CONNECT_TIMEOUT" default:"60s"`

	// Protocol reader modules to activate at startup (comma-separated)
	ActiveModules []string `envconfig:"AGG_ACTIVE_MODULES" default:"makerdao_vaults,liquity,yearn_vaults,eth2"`
}

// DatabaseConfig holds PostgreSQL connection settings
type DatabaseConfig struct {
	Host            string        `envconfig:"DB_HOST" default:"localhost"`
	Port            int           `envconfig:"DB_PORT" default:"5432"`
	User            string        `envconfig:"DB_USER" default:"chainsheet"`
	Password        string        `envconfig:"DB_PASSWORD" default:"chainsheet"`
	Name            string        `envconfig:"DB_NAME" default:"chainsheet"`
	SSLMode         string        `envconfig:"DB_SSL_MODE" default:"disable"`
	MaxOpenConns    int           `envconfig:"DB_MAX_OPEN_CONNS" default:"25"`
	MaxIdleConns    int           `envconfig:"DB_MAX_IDLE_CONNS" default:"5"`
	ConnMaxLifetime time.Duration `envconfig:"DB_CONN_MAX_LIFETIME" default:"5m"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host     string `envconfig:"REDIS_HOST" default:"localhost"`
	Port     int    `envconfig:"REDIS_PORT" default:"6379"`
	Password string `envconfig:"REDIS_PASSWORD" default:""`
	DB       int    `envconfig:"REDIS_DB" default:"0"`
}

// APIConfig holds API server settings
type APIConfig struct {
	Host            string        `envconfig:"API_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"API_PORT" default:"8081"`
	ReadTimeout     time.Duration `envconfig:"API_READ_TIMEOUT" default:"10s"`
	WriteTimeout    time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"120s"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"30s"`
	RateLimitRPS    int           `envconfig:"API_RATE_LIMIT_RPS" default:"100"`
	CacheTTL        time.Duration `envconfig:"API_CACHE_TTL" default:"30s"`
}

// RefresherConfig holds background refresher settings
type RefresherConfig struct {
	Interval    time.Duration `envconfig:"REFRESHER_INTERVAL" default:"5m"`
	MetricsPort int           `envconfig:"REFRESHER_METRICS_PORT" default:"8080"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Format string `envconfig:"LOG_FORMAT" default:"json"`
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
