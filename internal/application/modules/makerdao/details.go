package makerdao

import (
	"context"
	"math/big"
	"sort"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// VaultEventType names one kind of vault history entry.
type VaultEventType string

const (
	VaultEventDeposit     VaultEventType = "deposit"
	VaultEventWithdraw    VaultEventType = "withdraw"
	VaultEventGenerate    VaultEventType = "generate"
	VaultEventPayback     VaultEventType = "payback"
	VaultEventLiquidation VaultEventType = "liquidation"
)

// VaultEvent is one entry of a vault's history.
type VaultEvent struct {
	Type      VaultEventType   `json:"event_type"`
	Value     entities.Balance `json:"value"`
	Timestamp time.Time        `json:"timestamp"`
	TxHash    common.Hash      `json:"tx_hash"`
}

// VaultDetails is the full history of one vault.
type VaultDetails struct {
	ID              int64          `json:"identifier"`
	CollateralAsset entities.Asset `json:"-"`
	CreationTime    time.Time      `json:"creation_time"`

	// TotalInterestOwed is the vault's current debt minus the DAI actually
	// drawn net of paybacks. Negative after a liquidation, in which case it
	// is the DAI the owner kept.
	TotalInterestOwed decimal.Decimal  `json:"total_interest_owed"`
	TotalLiquidated   entities.Balance `json:"total_liquidated"`
	Events            []VaultEvent     `json:"events"`
}

// Log selectors and event topics of the vault history queries. The system
// contracts log through anonymous LogNote events whose first topic is the
// method selector right-padded to 32 bytes.
var (
	frobSelector = selectorTopic(0x76, 0x08, 0x87, 0x03)
	joinSelector = selectorTopic(0x3b, 0x4d, 0xa6, 0x9f)
	exitSelector = selectorTopic(0xef, 0x69, 0x3b, 0xed)
	moveSelector = selectorTopic(0xbb, 0x35, 0x78, 0x3b)

	newCdpTopic = crypto.Keccak256Hash([]byte("NewCdp(address,address,uint256)"))
	biteTopic   = crypto.Keccak256Hash([]byte("Bite(bytes32,address,uint256,uint256,uint256,address,uint256)"))
)

func selectorTopic(a, b, c, d byte) common.Hash {
	return common.BytesToHash(common.RightPadBytes([]byte{a, b, c, d}, 32))
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(common.LeftPadBytes(addr.Bytes(), 32))
}

// VaultDetails queries the full event history of the detected vaults. This
// needs an active premium subscription. Results are cached for the requery
// period.
func (v *Vaults) VaultDetails(ctx context.Context, addresses []string) ([]VaultDetails, error) {
	v.mu.Lock()
	premium := v.premium
	v.mu.Unlock()
	if !premium {
		return nil, entities.NewInputError("vault details need an active premium subscription")
	}

	v.detailsMu.Lock()
	defer v.detailsMu.Unlock()
	if time.Since(v.lastDetailsQuery) < requeryPeriod {
		return v.details, nil
	}

	proxyMapping, err := v.proxies.ProxyMapping(ctx, addresses)
	if err != nil {
		return nil, err
	}
	vaults, err := v.Vaults(ctx, addresses)
	if err != nil {
		return nil, err
	}

	details := make([]VaultDetails, 0, len(vaults))
	for _, vault := range vaults {
		proxy, ok := proxyMapping[vault.Owner]
		if !ok {
			continue
		}
		detail, err := v.queryVaultDetails(ctx, vault, proxy)
		if err != nil {
			return nil, err
		}
		if detail != nil {
			details = append(details, *detail)
		}
	}
	sort.Slice(details, func(i, j int) bool { return details[i].ID < details[j].ID })

	v.details = details
	v.lastDetailsQuery = time.Now()
	return details, nil
}

func (v *Vaults) queryVaultDetails(ctx context.Context, vault *Vault, proxy common.Address) (*VaultDetails, error) {
	gemJoin, ok := gemJoins[vault.CollateralType]
	if !ok {
		v.logger.Warn("No collateral adapter known for vault, skipping details",
			zap.String("collateral_type", vault.CollateralType),
		)
		return nil, nil
	}

	creationTime, err := v.vaultCreationTime(ctx, vault.ID)
	if err != nil {
		return nil, err
	}

	ilkTopic := common.Hash(vault.ilk)
	urnTopic := addressTopic(vault.urn)
	proxyTopic := addressTopic(proxy)

	// All state changes go through vat.frob, so its log stream is the
	// ground truth the adapter events are cross-checked against.
	frobLogs, err := v.filterLogs(ctx, vatAddr, [][]common.Hash{
		{frobSelector}, {ilkTopic}, {urnTopic},
	})
	if err != nil {
		return nil, err
	}
	frobTxHashes := make(map[common.Hash]struct{}, len(frobLogs))
	for _, l := range frobLogs {
		frobTxHashes[l.TxHash] = struct{}{}
	}

	var events []VaultEvent

	deposits, err := v.collateralDeposits(ctx, vault, gemJoin, urnTopic, proxyTopic, frobTxHashes)
	if err != nil {
		return nil, err
	}
	events = append(events, deposits...)

	withdrawals, err := v.collateralWithdrawals(ctx, vault, gemJoin, proxyTopic, frobTxHashes)
	if err != nil {
		return nil, err
	}
	events = append(events, withdrawals...)

	generated, totalGeneratedWei, err := v.debtGenerations(ctx, urnTopic)
	if err != nil {
		return nil, err
	}
	events = append(events, generated...)

	paybacks, totalPaidWei, err := v.debtPaybacks(ctx, urnTopic, proxyTopic)
	if err != nil {
		return nil, err
	}
	events = append(events, paybacks...)

	liquidations, totalLiquidated, err := v.liquidations(ctx, vault, urnTopic)
	if err != nil {
		return nil, err
	}
	events = append(events, liquidations...)

	netDrawn := decimal.NewFromBigInt(new(big.Int).Sub(totalGeneratedWei, totalPaidWei), -18)
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.Before(events[j].Timestamp) })

	return &VaultDetails{
		ID:                vault.ID,
		CollateralAsset:   vault.CollateralAsset,
		CreationTime:      creationTime,
		TotalInterestOwed: vault.Debt.Amount.Sub(netDrawn),
		TotalLiquidated:   totalLiquidated,
		Events:            events,
	}, nil
}

func (v *Vaults) vaultCreationTime(ctx context.Context, id int64) (time.Time, error) {
	logs, err := v.filterLogs(ctx, cdpManagerAddr, [][]common.Hash{
		{newCdpTopic}, nil, nil, {common.BigToHash(big.NewInt(id))},
	})
	if err != nil {
		return time.Time{}, err
	}
	if len(logs) == 0 {
		return time.Time{}, entities.NewRemoteError("no creation event found for vault", nil)
	}
	return v.caller.BlockTimestamp(ctx, logs[0].BlockNumber)
}

func (v *Vaults) collateralDeposits(
	ctx context.Context,
	vault *Vault,
	gemJoin common.Address,
	urnTopic, proxyTopic common.Hash,
	frobTxHashes map[common.Hash]struct{},
) ([]VaultEvent, error) {
	// A vault migrated from the old single-collateral system has its first
	// deposit under the old owner, so the urn filter catches it; all later
	// deposits carry the proxy. The union double counts non-migrated first
	// deposits, hence the tx hash dedup below.
	urnLogs, err := v.filterLogs(ctx, gemJoin, [][]common.Hash{
		{joinSelector}, nil, {urnTopic},
	})
	if err != nil {
		return nil, err
	}
	proxyLogs, err := v.filterLogs(ctx, gemJoin, [][]common.Hash{
		{joinSelector}, {proxyTopic},
	})
	if err != nil {
		return nil, err
	}

	price := v.currentPriceOrZero(ctx, vault.CollateralAsset)
	seen := make(map[common.Hash]struct{})
	var events []VaultEvent
	for _, l := range append(urnLogs, proxyLogs...) {
		if _, dup := seen[l.TxHash]; dup {
			continue
		}
		if _, ok := frobTxHashes[l.TxHash]; !ok {
			continue
		}
		seen[l.TxHash] = struct{}{}

		event, err := v.collateralEvent(ctx, VaultEventDeposit, vault, price, l.Topics[3], l.TxHash, l.BlockNumber)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (v *Vaults) collateralWithdrawals(
	ctx context.Context,
	vault *Vault,
	gemJoin common.Address,
	proxyTopic common.Hash,
	frobTxHashes map[common.Hash]struct{},
) ([]VaultEvent, error) {
	logs, err := v.filterLogs(ctx, gemJoin, [][]common.Hash{
		{exitSelector}, {proxyTopic},
	})
	if err != nil {
		return nil, err
	}

	price := v.currentPriceOrZero(ctx, vault.CollateralAsset)
	var events []VaultEvent
	for _, l := range logs {
		if _, ok := frobTxHashes[l.TxHash]; !ok {
			continue
		}
		event, err := v.collateralEvent(ctx, VaultEventWithdraw, vault, price, l.Topics[3], l.TxHash, l.BlockNumber)
		if err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	return events, nil
}

func (v *Vaults) collateralEvent(
	ctx context.Context,
	eventType VaultEventType,
	vault *Vault,
	price decimal.Decimal,
	amountTopic common.Hash,
	txHash common.Hash,
	blockNumber uint64,
) (VaultEvent, error) {
	amount := decimal.NewFromBigInt(
		new(big.Int).SetBytes(amountTopic.Bytes()),
		-int32(vault.CollateralAsset.Decimals),
	)
	timestamp, err := v.caller.BlockTimestamp(ctx, blockNumber)
	if err != nil {
		return VaultEvent{}, err
	}
	return VaultEvent{
		Type:      eventType,
		Value:     entities.NewBalance(amount, price),
		Timestamp: timestamp,
		TxHash:    txHash,
	}, nil
}

func (v *Vaults) debtGenerations(ctx context.Context, urnTopic common.Hash) ([]VaultEvent, *big.Int, error) {
	logs, err := v.filterLogs(ctx, vatAddr, [][]common.Hash{
		{moveSelector}, {urnTopic},
	})
	if err != nil {
		return nil, nil, err
	}

	daiPrice := v.currentPriceOrOne(ctx, entities.AssetDAI)
	total := new(big.Int)
	var events []VaultEvent
	for _, l := range logs {
		// vat amounts are in rad (45 decimals); drop the ray part
		amountWei := new(big.Int).Div(
			new(big.Int).SetBytes(l.Topics[3].Bytes()),
			new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil),
		)
		total.Add(total, amountWei)

		amount := decimal.NewFromBigInt(amountWei, -18)
		timestamp, err := v.caller.BlockTimestamp(ctx, l.BlockNumber)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, VaultEvent{
			Type:      VaultEventGenerate,
			Value:     entities.NewBalance(amount, daiPrice),
			Timestamp: timestamp,
			TxHash:    l.TxHash,
		})
	}
	return events, total, nil
}

func (v *Vaults) debtPaybacks(ctx context.Context, urnTopic, proxyTopic common.Hash) ([]VaultEvent, *big.Int, error) {
	logs, err := v.filterLogs(ctx, daiJoinAddr, [][]common.Hash{
		{joinSelector}, {proxyTopic}, {urnTopic},
	})
	if err != nil {
		return nil, nil, err
	}

	daiPrice := v.currentPriceOrOne(ctx, entities.AssetDAI)
	total := new(big.Int)
	var events []VaultEvent
	for _, l := range logs {
		amountWei := new(big.Int).SetBytes(l.Topics[3].Bytes())
		total.Add(total, amountWei)
		if amountWei.Sign() == 0 {
			// withdrawing collateral emits a zero DAI join from the urn
			continue
		}

		amount := decimal.NewFromBigInt(amountWei, -18)
		timestamp, err := v.caller.BlockTimestamp(ctx, l.BlockNumber)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, VaultEvent{
			Type:      VaultEventPayback,
			Value:     entities.NewBalance(amount, daiPrice),
			Timestamp: timestamp,
			TxHash:    l.TxHash,
		})
	}
	return events, total, nil
}

func (v *Vaults) liquidations(ctx context.Context, vault *Vault, urnTopic common.Hash) ([]VaultEvent, entities.Balance, error) {
	logs, err := v.filterLogs(ctx, catAddr, [][]common.Hash{
		{biteTopic}, nil, {urnTopic},
	})
	if err != nil {
		return nil, entities.Balance{}, err
	}

	price := v.currentPriceOrZero(ctx, vault.CollateralAsset)
	var total entities.Balance
	var events []VaultEvent
	for _, l := range logs {
		if len(l.Data) < 32 {
			continue
		}
		amount := decimal.NewFromBigInt(
			new(big.Int).SetBytes(l.Data[:32]),
			-int32(vault.CollateralAsset.Decimals),
		)
		timestamp, err := v.caller.BlockTimestamp(ctx, l.BlockNumber)
		if err != nil {
			return nil, entities.Balance{}, err
		}
		value := entities.NewBalance(amount, price)
		total = total.Add(value)
		events = append(events, VaultEvent{
			Type:      VaultEventLiquidation,
			Value:     value,
			Timestamp: timestamp,
			TxHash:    l.TxHash,
		})
	}
	return events, total, nil
}

func (v *Vaults) filterLogs(ctx context.Context, contract common.Address, topics [][]common.Hash) ([]types.Log, error) {
	return v.caller.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(mcdDeployedBlock),
		Addresses: []common.Address{contract},
		Topics:    topics,
	})
}

func (v *Vaults) currentPriceOrZero(ctx context.Context, asset entities.Asset) decimal.Decimal {
	price, err := v.oracle.USDPrice(ctx, asset)
	if err != nil {
		return decimal.Zero
	}
	return price
}

func (v *Vaults) currentPriceOrOne(ctx context.Context, asset entities.Asset) decimal.Decimal {
	price, err := v.oracle.USDPrice(ctx, asset)
	if err != nil {
		return decimal.NewFromInt(1)
	}
	return price
}
