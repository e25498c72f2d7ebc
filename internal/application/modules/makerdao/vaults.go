package makerdao

import (
	"context"
	"math"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// ray is the 27-decimal fixed-point scale of the multi-collateral DAI
// system contracts. Plain token amounts use the usual 18 decimals (wad).
var ray = decimal.New(1, 27)

const secondsPerYear = 31536000

// requeryPeriod is how long cached vault data stays valid.
const requeryPeriod = 2 * time.Hour

// Vault is one open collateralized debt position.
type Vault struct {
	ID              int64            `json:"identifier"`
	CollateralType  string           `json:"collateral_type"`
	Owner           string           `json:"owner"`
	CollateralAsset entities.Asset   `json:"-"`
	Collateral      entities.Balance `json:"collateral"`
	Debt            entities.Balance `json:"debt"`

	// CollateralizationRatio is a percentage; nil when nothing is owed.
	CollateralizationRatio *decimal.Decimal `json:"collateralization_ratio"`
	LiquidationRatio       decimal.Decimal  `json:"liquidation_ratio"`
	// LiquidationPrice is nil when nothing is locked in.
	LiquidationPrice *decimal.Decimal `json:"liquidation_price"`
	StabilityFee     decimal.Decimal  `json:"stability_fee"`

	urn common.Address
	ilk [32]byte
}

// Vaults reads open MakerDAO vaults through the owners' DSProxy contracts
// and reports locked collateral as assets and drawn DAI as a liability.
type Vaults struct {
	caller  datasources.EvmCaller
	oracle  datasources.PriceOracle
	proxies *modules.ProxyResolver
	logger  *zap.Logger

	mu             sync.Mutex
	premium        bool
	vaultsByOwner  map[string][]*Vault
	lastVaultQuery time.Time
	stabilityFees  map[string]decimal.Decimal

	detailsMu        sync.Mutex
	details          []VaultDetails
	lastDetailsQuery time.Time
}

// New creates the makerdao vaults reader.
func New(deps modules.Deps) (*Vaults, error) {
	return &Vaults{
		caller:        deps.Caller,
		oracle:        deps.Oracle,
		proxies:       deps.Proxies,
		logger:        deps.Logger,
		vaultsByOwner: make(map[string][]*Vault),
		stabilityFees: make(map[string]decimal.Decimal),
	}, nil
}

// Name implements ProtocolReader.
func (v *Vaults) Name() string {
	return modules.ModuleMakerdaoVaults
}

// SetPremium implements PremiumAware. Vault details are premium-gated.
func (v *Vaults) SetPremium(active bool) {
	v.mu.Lock()
	v.premium = active
	v.mu.Unlock()
}

// Balances returns collateral and debt sheets keyed by vault owner.
func (v *Vaults) Balances(ctx context.Context, addresses []string) (map[string]*entities.BalanceSheet, error) {
	vaults, err := v.Vaults(ctx, addresses)
	if err != nil {
		return nil, err
	}

	sheets := make(map[string]*entities.BalanceSheet)
	for _, vault := range vaults {
		sheet, ok := sheets[vault.Owner]
		if !ok {
			sheet = entities.NewBalanceSheet()
			sheets[vault.Owner] = sheet
		}
		if !vault.Collateral.Amount.IsZero() {
			sheet.AddAsset(vault.CollateralAsset, vault.Collateral)
		}
		if !vault.Debt.Amount.IsZero() {
			sheet.AddLiability(entities.AssetDAI, vault.Debt)
		}
	}
	return sheets, nil
}

// Vaults detects the vaults owned by the addresses' proxies. Results are
// cached for the requery period and returned sorted by vault identifier.
func (v *Vaults) Vaults(ctx context.Context, addresses []string) ([]*Vault, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if time.Since(v.lastVaultQuery) < requeryPeriod {
		return v.flattenedVaultsLocked(), nil
	}

	proxyMapping, err := v.proxies.ProxyMapping(ctx, addresses)
	if err != nil {
		return nil, err
	}

	v.vaultsByOwner = make(map[string][]*Vault)
	for owner, proxy := range proxyMapping {
		vaults, err := v.vaultsOfProxy(ctx, owner, proxy)
		if err != nil {
			return nil, err
		}
		v.vaultsByOwner[owner] = vaults
	}
	v.lastVaultQuery = time.Now()

	return v.flattenedVaultsLocked(), nil
}

func (v *Vaults) flattenedVaultsLocked() []*Vault {
	var vaults []*Vault
	for _, owned := range v.vaultsByOwner {
		vaults = append(vaults, owned...)
	}
	sort.Slice(vaults, func(i, j int) bool { return vaults[i].ID < vaults[j].ID })
	return vaults
}

func (v *Vaults) vaultsOfProxy(ctx context.Context, owner string, proxy common.Address) ([]*Vault, error) {
	input, err := getCdpsABI.Pack("getCdpsAsc", cdpManagerAddr, proxy)
	if err != nil {
		return nil, entities.NewRemoteError("failed to encode cdp enumeration", err)
	}
	output, err := v.caller.Call(ctx, getCdpsAddr, input)
	if err != nil {
		return nil, err
	}
	unpacked, err := getCdpsABI.Unpack("getCdpsAsc", output)
	if err != nil {
		return nil, entities.NewRemoteError("failed to decode cdp enumeration", err)
	}
	ids := *abi.ConvertType(unpacked[0], new([]*big.Int)).(*[]*big.Int)
	urns := *abi.ConvertType(unpacked[1], new([]common.Address)).(*[]common.Address)
	ilks := *abi.ConvertType(unpacked[2], new([][32]byte)).(*[][32]byte)

	var vaults []*Vault
	for i, id := range ids {
		vault, err := v.queryVaultData(ctx, id.Int64(), owner, urns[i], ilks[i])
		if err != nil {
			return nil, err
		}
		if vault != nil {
			vaults = append(vaults, vault)
		}
	}
	return vaults, nil
}

func (v *Vaults) queryVaultData(
	ctx context.Context,
	id int64,
	owner string,
	urn common.Address,
	ilk [32]byte,
) (*Vault, error) {
	collateralType := ilkToCollateralType(ilk)
	asset, ok := collateralTypes[collateralType]
	if !ok {
		v.logger.Warn("Detected vault with unsupported collateral type, skipping",
			zap.String("collateral_type", collateralType),
		)
		return nil, nil
	}

	ink, art, err := v.vatUrn(ctx, ilk, urn)
	if err != nil {
		return nil, err
	}
	collateralAmount := decimal.NewFromBigInt(ink, -18)

	rate, spot, err := v.vatIlk(ctx, ilk)
	if err != nil {
		return nil, err
	}
	// art is normalized debt; the accumulated rate scales it to real debt
	debtAmount := decimal.NewFromBigInt(art, -18).
		Mul(decimal.NewFromBigInt(rate, 0)).Div(ray)

	mat, err := v.spotIlk(ctx, ilk)
	if err != nil {
		return nil, err
	}
	liquidationRatio := decimal.NewFromBigInt(mat, -27)

	// spot is the collateral price with the safety margin already divided
	// out, so multiplying it back by the liquidation ratio recovers the
	// oracle price the system operates with
	price := decimal.NewFromBigInt(spot, -27).Mul(liquidationRatio)
	collateralValue := price.Mul(collateralAmount)

	var collateralization *decimal.Decimal
	if !debtAmount.IsZero() {
		ratio := collateralValue.Div(debtAmount).Mul(decimal.NewFromInt(100))
		collateralization = &ratio
	}
	var liquidationPrice *decimal.Decimal
	if !collateralAmount.IsZero() {
		lp := debtAmount.Mul(liquidationRatio).Div(collateralAmount)
		liquidationPrice = &lp
	}

	daiPrice, err := v.oracle.USDPrice(ctx, entities.AssetDAI)
	if err != nil {
		v.logger.Warn("Failed to query DAI price, using 1", zap.Error(err))
		daiPrice = decimal.NewFromInt(1)
	}

	fee, err := v.stabilityFee(ctx, collateralType, ilk)
	if err != nil {
		return nil, err
	}

	return &Vault{
		ID:                     id,
		CollateralType:         collateralType,
		Owner:                  owner,
		CollateralAsset:        asset,
		Collateral:             entities.Balance{Amount: collateralAmount, USDValue: collateralValue},
		Debt:                   entities.NewBalance(debtAmount, daiPrice),
		CollateralizationRatio: collateralization,
		LiquidationRatio:       liquidationRatio,
		LiquidationPrice:       liquidationPrice,
		StabilityFee:           fee,
		urn:                    urn,
		ilk:                    ilk,
	}, nil
}

// stabilityFee returns the annualized stability fee of a collateral type,
// cached after the first query.
func (v *Vaults) stabilityFee(ctx context.Context, collateralType string, ilk [32]byte) (decimal.Decimal, error) {
	if fee, ok := v.stabilityFees[collateralType]; ok {
		return fee, nil
	}

	input, err := jugABI.Pack("ilks", ilk)
	if err != nil {
		return decimal.Zero, entities.NewRemoteError("failed to encode stability fee query", err)
	}
	output, err := v.caller.Call(ctx, jugAddr, input)
	if err != nil {
		return decimal.Zero, err
	}
	unpacked, err := jugABI.Unpack("ilks", output)
	if err != nil {
		return decimal.Zero, entities.NewRemoteError("failed to decode stability fee query", err)
	}
	duty := *abi.ConvertType(unpacked[0], new(*big.Int)).(**big.Int)

	// duty is a per-second rate in ray; compounding over a year gives the
	// annualized fee. This is a display value so float math is fine.
	perSecond, _ := decimal.NewFromBigInt(duty, -27).Float64()
	fee := decimal.NewFromFloat(math.Pow(perSecond, secondsPerYear) - 1)
	v.stabilityFees[collateralType] = fee
	return fee, nil
}

func (v *Vaults) vatUrn(ctx context.Context, ilk [32]byte, urn common.Address) (ink, art *big.Int, err error) {
	input, err := vatABI.Pack("urns", ilk, urn)
	if err != nil {
		return nil, nil, entities.NewRemoteError("failed to encode urn query", err)
	}
	output, err := v.caller.Call(ctx, vatAddr, input)
	if err != nil {
		return nil, nil, err
	}
	unpacked, err := vatABI.Unpack("urns", output)
	if err != nil {
		return nil, nil, entities.NewRemoteError("failed to decode urn query", err)
	}
	ink = *abi.ConvertType(unpacked[0], new(*big.Int)).(**big.Int)
	art = *abi.ConvertType(unpacked[1], new(*big.Int)).(**big.Int)
	return ink, art, nil
}

func (v *Vaults) vatIlk(ctx context.Context, ilk [32]byte) (rate, spot *big.Int, err error) {
	input, err := vatABI.Pack("ilks", ilk)
	if err != nil {
		return nil, nil, entities.NewRemoteError("failed to encode ilk query", err)
	}
	output, err := v.caller.Call(ctx, vatAddr, input)
	if err != nil {
		return nil, nil, err
	}
	unpacked, err := vatABI.Unpack("ilks", output)
	if err != nil {
		return nil, nil, entities.NewRemoteError("failed to decode ilk query", err)
	}
	rate = *abi.ConvertType(unpacked[1], new(*big.Int)).(**big.Int)
	spot = *abi.ConvertType(unpacked[2], new(*big.Int)).(**big.Int)
	return rate, spot, nil
}

func (v *Vaults) spotIlk(ctx context.Context, ilk [32]byte) (mat *big.Int, err error) {
	input, err := spotABI.Pack("ilks", ilk)
	if err != nil {
		return nil, entities.NewRemoteError("failed to encode spot query", err)
	}
	output, err := v.caller.Call(ctx, spotAddr, input)
	if err != nil {
		return nil, err
	}
	unpacked, err := spotABI.Unpack("ilks", output)
	if err != nil {
		return nil, entities.NewRemoteError("failed to decode spot query", err)
	}
	return *abi.ConvertType(unpacked[1], new(*big.Int)).(**big.Int), nil
}

func ilkToCollateralType(ilk [32]byte) string {
	end := len(ilk)
	for i, b := range ilk {
		if b == 0 {
			end = i
			break
		}
	}
	return string(ilk[:end])
}

// OnAccountAddition resolves the new address' proxy and, when one exists,
// immediately detects its vaults.
func (v *Vaults) OnAccountAddition(ctx context.Context, address string) error {
	if err := v.proxies.OnAccountAddition(ctx, address); err != nil {
		return err
	}
	proxy, ok, err := v.proxies.ResolveProxy(ctx, address)
	if err != nil || !ok {
		return err
	}

	vaults, err := v.vaultsOfProxy(ctx, address, proxy)
	if err != nil {
		return err
	}

	v.mu.Lock()
	v.vaultsByOwner[address] = vaults
	v.mu.Unlock()
	return nil
}

// OnAccountRemoval drops the address' cached vaults.
func (v *Vaults) OnAccountRemoval(address string) {
	v.proxies.OnAccountRemoval(address)
	v.mu.Lock()
	delete(v.vaultsByOwner, address)
	v.mu.Unlock()
}

// Deactivate implements ProtocolReader.
func (v *Vaults) Deactivate() {
	v.mu.Lock()
	v.vaultsByOwner = make(map[string][]*Vault)
	v.stabilityFees = make(map[string]decimal.Decimal)
	v.lastVaultQuery = time.Time{}
	v.mu.Unlock()
}

var _ modules.ProtocolReader = (*Vaults)(nil)
var _ modules.PremiumAware = (*Vaults)(nil)
