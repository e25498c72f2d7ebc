package yearn

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

const vaultABIJSON = `[
	{
		"inputs": [{"internalType": "address", "name": "", "type": "address"}],
		"name": "balanceOf",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "pricePerShare",
		"outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var vaultABI = mustParseABI(vaultABIJSON)

func mustParseABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}

// vaultInfo describes one supported vault contract and its underlying asset.
type vaultInfo struct {
	address    common.Address
	underlying entities.Asset
}

// Mainnet v2 vaults we can value. The share price is denominated in the
// underlying asset's own decimals.
var supportedVaults = []vaultInfo{
	{common.HexToAddress("0xdA816459F1AB5631232FE5e97a05BBBb94970c95"), entities.AssetDAI},
	{common.HexToAddress("0xa354F35829aE975e850e23e9615b11Da1B3dC4DE"), entities.AssetUSDC},
	{common.HexToAddress("0xa258C4606Ca8206D8aA700cE2143D7db854D168c"), entities.AssetETH},
	{common.HexToAddress("0xdb25cA703181E7484a155DD612b06f57E12Be5F0"), entities.AssetYFI},
	{common.HexToAddress("0x671a912C10bba0CFA74Cfc2d6Fba9BA1ed9530B2"), entities.AssetLINK},
}

// Vaults values yearn vault shares as exposure to the vault's underlying
// asset: shares times the vault's current price per share.
type Vaults struct {
	caller datasources.EvmCaller
	oracle datasources.PriceOracle
	logger *zap.Logger
}

// New creates the yearn vaults reader.
func New(deps modules.Deps) (*Vaults, error) {
	return &Vaults{
		caller: deps.Caller,
		oracle: deps.Oracle,
		logger: deps.Logger,
	}, nil
}

// Name implements ProtocolReader.
func (v *Vaults) Name() string {
	return modules.ModuleYearnVaults
}

// Balances reads every supported vault's share balance for every address,
// plus one price-per-share call per vault, all in a single multicall.
func (v *Vaults) Balances(ctx context.Context, addresses []string) (map[string]*entities.BalanceSheet, error) {
	if len(addresses) == 0 {
		return map[string]*entities.BalanceSheet{}, nil
	}

	ppsInput, err := vaultABI.Pack("pricePerShare")
	if err != nil {
		return nil, entities.NewRemoteError("failed to encode price per share query", err)
	}

	// per vault: one pricePerShare call followed by a balanceOf per address
	var calls []datasources.ContractCall
	for _, vault := range supportedVaults {
		calls = append(calls, datasources.ContractCall{To: vault.address, Data: ppsInput})
		for _, address := range addresses {
			input, err := vaultABI.Pack("balanceOf", common.HexToAddress(address))
			if err != nil {
				return nil, entities.NewRemoteError("failed to encode share balance query", err)
			}
			calls = append(calls, datasources.ContractCall{To: vault.address, Data: input})
		}
	}

	outputs, err := v.caller.TryMulticall(ctx, calls)
	if err != nil {
		return nil, err
	}

	sheets := make(map[string]*entities.BalanceSheet)
	stride := len(addresses) + 1
	for i, vault := range supportedVaults {
		base := i * stride
		ppsOutput := outputs[base]
		if !ppsOutput.Success {
			v.logger.Warn("Vault price per share query failed, skipping vault",
				zap.String("vault", vault.address.Hex()),
			)
			continue
		}
		pps, err := unpackUint(vaultABI, "pricePerShare", ppsOutput.ReturnData)
		if err != nil {
			return nil, err
		}
		pricePerShare := decimal.NewFromBigInt(pps, -int32(vault.underlying.Decimals))

		price := decimal.Zero
		if found, err := v.oracle.USDPrice(ctx, vault.underlying); err == nil {
			price = found
		} else {
			v.logger.Warn("Failed to query USD price for vault underlying",
				zap.String("asset", vault.underlying.Symbol),
				zap.Error(err),
			)
		}

		for j, address := range addresses {
			output := outputs[base+1+j]
			if !output.Success {
				continue
			}
			shares, err := unpackUint(vaultABI, "balanceOf", output.ReturnData)
			if err != nil {
				return nil, err
			}
			if shares.Sign() == 0 {
				continue
			}

			// vault shares always use 18 decimals regardless of underlying
			amount := decimal.NewFromBigInt(shares, -18).Mul(pricePerShare)
			sheet, ok := sheets[address]
			if !ok {
				sheet = entities.NewBalanceSheet()
				sheets[address] = sheet
			}
			sheet.AddAsset(vault.underlying, entities.NewBalance(amount, price))
		}
	}
	return sheets, nil
}

func unpackUint(contractABI abi.ABI, method string, data []byte) (*big.Int, error) {
	unpacked, err := contractABI.Unpack(method, data)
	if err != nil {
		return nil, entities.NewRemoteError("failed to decode vault response", err)
	}
	return *abi.ConvertType(unpacked[0], new(*big.Int)).(**big.Int), nil
}

// OnAccountAddition implements ProtocolReader.
func (v *Vaults) OnAccountAddition(ctx context.Context, address string) error {
	return nil
}

// OnAccountRemoval implements ProtocolReader.
func (v *Vaults) OnAccountRemoval(address string) {}

// Deactivate implements ProtocolReader.
func (v *Vaults) Deactivate() {}

var _ modules.ProtocolReader = (*Vaults)(nil)
