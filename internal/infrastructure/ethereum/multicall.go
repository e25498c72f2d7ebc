package ethereum

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

const multicallABIJSON = `[
	{
		"inputs": [
			{"internalType": "bool", "name": "requireSuccess", "type": "bool"},
			{
				"components": [
					{"internalType": "address", "name": "target", "type": "address"},
					{"internalType": "bytes", "name": "callData", "type": "bytes"}
				],
				"internalType": "struct Multicall2.Call[]",
				"name": "calls",
				"type": "tuple[]"
			}
		],
		"name": "tryAggregate",
		"outputs": [
			{
				"components": [
					{"internalType": "bool", "name": "success", "type": "bool"},
					{"internalType": "bytes", "name": "returnData", "type": "bytes"}
				],
				"internalType": "struct Multicall2.Result[]",
				"name": "returnData",
				"type": "tuple[]"
			}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	}
]`

var multicallABI = mustParseABI(multicallABIJSON)

func mustParseABI(definition string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(definition))
	if err != nil {
		panic(err)
	}
	return parsed
}

type multicallCall struct {
	Target   common.Address
	CallData []byte
}

type multicallResult struct {
	Success    bool
	ReturnData []byte
}

// TryMulticall batches the calls into one round trip through the Multicall2
// contract, tolerating individual call failures.
func (c *Client) TryMulticall(ctx context.Context, calls []datasources.ContractCall) ([]datasources.MulticallResult, error) {
	return c.aggregate(ctx, false, calls)
}

// Multicall batches the calls into one round trip and fails if any
// individual call fails.
func (c *Client) Multicall(ctx context.Context, calls []datasources.ContractCall) ([][]byte, error) {
	results, err := c.aggregate(ctx, true, calls)
	if err != nil {
		return nil, err
	}
	output := make([][]byte, len(results))
	for i, result := range results {
		output[i] = result.ReturnData
	}
	return output, nil
}

func (c *Client) aggregate(ctx context.Context, requireSuccess bool, calls []datasources.ContractCall) ([]datasources.MulticallResult, error) {
	if len(calls) == 0 {
		return nil, nil
	}

	packed := make([]multicallCall, len(calls))
	for i, call := range calls {
		packed[i] = multicallCall{Target: call.To, CallData: call.Data}
	}

	input, err := multicallABI.Pack("tryAggregate", requireSuccess, packed)
	if err != nil {
		return nil, entities.NewRemoteError("failed to encode multicall", err)
	}

	output, err := c.Call(ctx, c.multicall, input)
	if err != nil {
		return nil, err
	}

	unpacked, err := multicallABI.Unpack("tryAggregate", output)
	if err != nil {
		return nil, entities.NewRemoteError("failed to decode multicall response", err)
	}
	raw := *abi.ConvertType(unpacked[0], new([]multicallResult)).(*[]multicallResult)

	results := make([]datasources.MulticallResult, len(raw))
	for i, entry := range raw {
		results[i] = datasources.MulticallResult{
			Success:    entry.Success,
			ReturnData: entry.ReturnData,
		}
	}
	return results, nil
}
