package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// coinIDs maps asset symbols to the oracle's coin identifiers.
var coinIDs = map[string]string{
	"ETH":  "ethereum",
	"ETH2": "ethereum",
	"BTC":  "bitcoin",
	"BCH":  "bitcoin-cash",
	"KSM":  "kusama",
	"DOT":  "polkadot",
	"AVAX": "avalanche-2",
	"DAI":  "dai",
	"LUSD": "liquity-usd",
	"LQTY": "liquity",
	"WBTC": "wrapped-bitcoin",
	"USDC": "usd-coin",
	"USDT": "tether",
	"LINK": "chainlink",
	"YFI":  "yearn-finance",
	"BAT":  "basic-attention-token",
	"UNI":  "uniswap",
	"GUSD": "gemini-dollar",
	"AAVE": "aave",
	"MANA": "decentraland",
}

// Client looks up current USD prices from a coingecko-style API and caches
// them for a configured TTL so repeated valuations within one aggregation
// pass hit the remote only once per asset.
type Client struct {
	baseURL string
	client  *http.Client
	cache   *gocache.Cache
	logger  *zap.Logger
}

// NewClient creates a new price oracle client
func NewClient(baseURL string, timeout, cacheTTL time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		cache:   gocache.New(cacheTTL, 10*time.Minute),
		logger:  logger,
	}
}

// USDPrice returns the current USD price for the asset.
func (c *Client) USDPrice(ctx context.Context, asset entities.Asset) (decimal.Decimal, error) {
	if cached, ok := c.cache.Get(asset.Identifier); ok {
		return cached.(decimal.Decimal), nil
	}

	coinID, ok := coinIDs[asset.Symbol]
	if !ok {
		return decimal.Zero, entities.NewRemoteError(
			fmt.Sprintf("no oracle coin id known for asset %s", asset.Symbol),
			nil,
		)
	}

	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=usd", c.baseURL, coinID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return decimal.Zero, entities.NewRemoteError("failed to build oracle request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return decimal.Zero, entities.NewRemoteError(
			fmt.Sprintf("oracle price query for %s failed", asset.Symbol),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, entities.NewRemoteError(
			fmt.Sprintf("oracle returned status %d for %s", resp.StatusCode, asset.Symbol),
			nil,
		)
	}

	var decoded map[string]map[string]decimal.Decimal
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return decimal.Zero, entities.NewRemoteError("failed to decode oracle response", err)
	}

	price, ok := decoded[coinID]["usd"]
	if !ok {
		return decimal.Zero, entities.NewRemoteError(
			fmt.Sprintf("oracle response is missing a USD price for %s", asset.Symbol),
			nil,
		)
	}

	c.cache.SetDefault(asset.Identifier, price)
	c.logger.Debug("Fetched USD price",
		zap.String("asset", asset.Symbol),
		zap.String("price", price.String()),
	)
	return price, nil
}
