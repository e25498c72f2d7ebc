package beacon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// validatorChunkSize is the maximum validators per explorer request.
const validatorChunkSize = 100

// gweiPerEth is the fixed-point scale of beacon chain balances.
var gweiPerEth = decimal.New(1, 9)

// Client fetches validator balances from a beaconcha.in style explorer.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewClient creates a new beacon chain explorer client
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type validatorEntry struct {
	PublicKey string `json:"pubkey"`
	Balance   int64  `json:"balance"`
}

type validatorResponse struct {
	Status string           `json:"status"`
	Data   []validatorEntry `json:"data"`
}

// ValidatorBalances returns balances keyed by validator public key.
func (c *Client) ValidatorBalances(ctx context.Context, pubkeys []string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal, len(pubkeys))
	for start := 0; start < len(pubkeys); start += validatorChunkSize {
		end := start + validatorChunkSize
		if end > len(pubkeys) {
			end = len(pubkeys)
		}
		if err := c.fetchChunk(ctx, pubkeys[start:end], balances); err != nil {
			return nil, err
		}
	}
	return balances, nil
}

func (c *Client) fetchChunk(ctx context.Context, pubkeys []string, balances map[string]decimal.Decimal) error {
	endpoint := fmt.Sprintf("%s/validator/%s", c.baseURL, strings.Join(pubkeys, ","))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return entities.NewRemoteError("failed to build beacon explorer request", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return entities.NewRemoteError("beacon explorer query failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return entities.NewRemoteError(
			fmt.Sprintf("beacon explorer returned status %d", resp.StatusCode),
			nil,
		)
	}

	var decoded validatorResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return entities.NewRemoteError("failed to decode beacon explorer response", err)
	}
	if decoded.Status != "OK" {
		return entities.NewRemoteError(
			fmt.Sprintf("beacon explorer returned status %q", decoded.Status),
			nil,
		)
	}

	for _, entry := range decoded.Data {
		balances[entry.PublicKey] = decimal.NewFromInt(entry.Balance).Div(gweiPerEth)
	}
	return nil
}
