package bitcoin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// satoshisPerCoin is the fixed-point scale of explorer balance responses.
var satoshisPerCoin = decimal.New(1, 8)

// chunkSize is the maximum addresses per explorer request; longer batches
// overflow the query string limit of blockchain.info style APIs.
const chunkSize = 80

// Explorer fetches UTXO-chain address balances through a blockchain.info
// style explorer API. One instance serves one chain.
type Explorer struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
	chain   entities.Chain
}

// NewExplorer creates an explorer client for a UTXO chain
func NewExplorer(baseURL string, timeout time.Duration, chain entities.Chain, logger *zap.Logger) *Explorer {
	return &Explorer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
		chain:   chain,
	}
}

type balanceEntry struct {
	FinalBalance int64 `json:"final_balance"`
}

// AddressBalances fetches the balances of all addresses, fanning the
// explorer requests out per address chunk.
func (e *Explorer) AddressBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	balances := make(map[string]decimal.Decimal, len(addresses))
	if len(addresses) == 0 {
		return balances, nil
	}

	var mu sync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	for start := 0; start < len(addresses); start += chunkSize {
		end := start + chunkSize
		if end > len(addresses) {
			end = len(addresses)
		}
		chunk := addresses[start:end]
		group.Go(func() error {
			fetched, err := e.fetchChunk(ctx, chunk)
			if err != nil {
				return err
			}
			mu.Lock()
			for address, balance := range fetched {
				balances[address] = balance
			}
			mu.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	e.logger.Debug("Fetched explorer balances",
		zap.String("chain", string(e.chain)),
		zap.Int("address_count", len(addresses)),
	)
	return balances, nil
}

func (e *Explorer) fetchChunk(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	endpoint := fmt.Sprintf(
		"%s/balance?active=%s",
		e.baseURL,
		url.QueryEscape(strings.Join(addresses, "|")),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, entities.NewRemoteError("failed to build explorer request", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, entities.NewRemoteError(
			fmt.Sprintf("%s explorer query failed", e.chain),
			err,
		)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, entities.NewRemoteError(
			fmt.Sprintf("%s explorer returned status %d", e.chain, resp.StatusCode),
			nil,
		)
	}

	var decoded map[string]balanceEntry
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, entities.NewRemoteError("failed to decode explorer response", err)
	}

	balances := make(map[string]decimal.Decimal, len(addresses))
	for _, address := range addresses {
		entry, ok := decoded[address]
		if !ok {
			return nil, entities.NewRemoteError(
				fmt.Sprintf("explorer response is missing address %s", address),
				nil,
			)
		}
		balances[address] = decimal.NewFromInt(entry.FinalBalance).Div(satoshisPerCoin)
	}
	return balances, nil
}
