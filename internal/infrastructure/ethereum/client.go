package ethereum

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/config"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// Client wraps an EVM node connection with retry logic and the batched
// read operations the aggregator and the protocol readers need.
type Client struct {
	rpc       *rpc.Client
	client    *ethclient.Client
	config    config.EvmConfig
	logger    *zap.Logger
	chainID   *big.Int
	multicall common.Address
}

// NewClient creates a new EVM node client
func NewClient(cfg config.EvmConfig, logger *zap.Logger) (*Client, error) {
	rpcClient, err := rpc.Dial(cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to EVM node: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.RequestTimeout)
	defer cancel()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get chain ID: %w", err)
	}
	if chainID.Int64() != cfg.ChainID {
		return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", cfg.ChainID, chainID.Int64())
	}

	logger.Info("Connected to EVM node",
		zap.String("rpc_url", cfg.RPCURL),
		zap.Int64("chain_id", chainID.Int64()),
	)

	return &Client{
		rpc:       rpcClient,
		client:    client,
		config:    cfg,
		logger:    logger,
		chainID:   chainID,
		multicall: common.HexToAddress(cfg.MulticallAddr),
	}, nil
}

// Close closes the node connection
func (c *Client) Close() {
	c.client.Close()
}

// ChainID returns the chain ID
func (c *Client) ChainID() *big.Int {
	return c.chainID
}

// Call executes one read-only contract call
func (c *Client) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}

	var output []byte
	var err error
	for i := 0; i <= c.config.MaxRetries; i++ {
		output, err = c.client.CallContract(ctx, msg, nil)
		if err == nil {
			return output, nil
		}

		c.logger.Warn("Contract call failed, retrying",
			zap.String("to", to.Hex()),
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		if i < c.config.MaxRetries {
			time.Sleep(c.config.RetryDelay)
		}
	}

	return nil, entities.NewRemoteError(
		fmt.Sprintf("contract call to %s failed after %d retries", to.Hex(), c.config.MaxRetries),
		err,
	)
}

// FilterLogs retrieves logs matching the filter query
func (c *Client) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	var logs []types.Log
	var err error
	for i := 0; i <= c.config.MaxRetries; i++ {
		logs, err = c.client.FilterLogs(ctx, query)
		if err == nil {
			return logs, nil
		}

		c.logger.Warn("Failed to get logs, retrying",
			zap.Int("attempt", i+1),
			zap.Error(err),
		)
		if i < c.config.MaxRetries {
			time.Sleep(c.config.RetryDelay)
		}
	}

	return nil, entities.NewRemoteError(
		fmt.Sprintf("failed to get logs after %d retries", c.config.MaxRetries),
		err,
	)
}

// BlockTimestamp returns the timestamp of a block
func (c *Client) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	header, err := c.client.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, entities.NewRemoteError(
			fmt.Sprintf("failed to get header for block %d", blockNumber),
			err,
		)
	}
	return time.Unix(int64(header.Time), 0), nil
}

// CodeAt returns the deployed code at an address
func (c *Client) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	code, err := c.client.CodeAt(ctx, address, nil)
	if err != nil {
		return nil, entities.NewRemoteError(
			fmt.Sprintf("failed to get code at %s", address.Hex()),
			err,
		)
	}
	return code, nil
}

// NativeBalances fetches the gas-token balances of all addresses with a
// single batched RPC round trip.
func (c *Client) NativeBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	if len(addresses) == 0 {
		return map[string]decimal.Decimal{}, nil
	}

	results := make([]hexutil.Big, len(addresses))
	batch := make([]rpc.BatchElem, len(addresses))
	for i, address := range addresses {
		batch[i] = rpc.BatchElem{
			Method: "eth_getBalance",
			Args:   []interface{}{common.HexToAddress(address), "latest"},
			Result: &results[i],
		}
	}

	if err := c.rpc.BatchCallContext(ctx, batch); err != nil {
		return nil, entities.NewRemoteError("batched balance query failed", err)
	}

	balances := make(map[string]decimal.Decimal, len(addresses))
	for i, elem := range batch {
		if elem.Error != nil {
			return nil, entities.NewRemoteError(
				fmt.Sprintf("balance query for %s failed", addresses[i]),
				elem.Error,
			)
		}
		balances[addresses[i]] = decimal.NewFromBigInt(results[i].ToInt(), -18)
	}

	c.logger.Debug("Fetched native balances",
		zap.Int64("chain_id", c.chainID.Int64()),
		zap.Int("address_count", len(addresses)),
	)
	return balances, nil
}

var _ datasources.EvmCaller = (*Client)(nil)
