package aggregator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// defiProtocolsToSkipAssets lists adapter protocols whose asset positions
// duplicate balances we already detect elsewhere. A nil value suppresses
// every asset of the protocol; a non-nil value suppresses only the listed
// token symbols.
var defiProtocolsToSkipAssets = map[string][]string{
	// aTokens and cTokens already show up in the token balance scan
	"Aave":     nil,
	"Aave V2":  nil,
	"Compound": nil,
	// curve LP tokens are plain ERC20s the token scan finds
	"Curve":                  nil,
	"Chi Gastoken by 1inch":  nil,
	"yearn.finance • Vaults": nil,
	"Yearn Token Vaults":     nil,
	// vault collateral comes from the makerdao module
	"Multi-Collateral Dai": nil,
	"Synthetix":            {"SNX"},
	"Ampleforth":           {"AMPL"},
	"PieDAO":               {"BCP", "BTC++", "DEFI++", "DEFI+S", "DEFI+L", "YPIE"},
}

// defiProtocolsToSkipLiabilities is the debt-side counterpart; vault and
// lending debt is tracked by the dedicated modules.
var defiProtocolsToSkipLiabilities = map[string][]string{
	"Multi-Collateral Dai": nil,
	"Aave":                 nil,
	"Aave V2":              nil,
	"Compound":             nil,
}

// QueryDefiBalances scans the DeFi adapter for the tracked Ethereum
// accounts. Results are reused within the requery interval.
func (a *Aggregator) QueryDefiBalances(ctx context.Context) (map[string][]entities.ProtocolPosition, error) {
	a.defiMu.Lock()
	defer a.defiMu.Unlock()

	if a.defiPositions != nil && time.Since(a.defiQueriedAt) < a.cfg.DefiRequeryInterval {
		return a.defiPositions, nil
	}

	addresses := a.Accounts(entities.ChainEthereum)
	positions, err := a.sources.Defi.DefiBalances(ctx, addresses)
	if err != nil {
		return nil, err
	}

	a.defiPositions = positions
	a.defiQueriedAt = time.Now()
	return positions, nil
}

// dropDefiCacheEntry removes a removed account's positions from the cached
// scan so they stop contributing until the next requery.
func (a *Aggregator) dropDefiCacheEntry(address string) {
	a.defiMu.Lock()
	delete(a.defiPositions, address)
	a.defiMu.Unlock()
}

// addDefiBalances merges the adapter positions into the Ethereum sheets,
// applying the suppression tables so protocols covered by the token scan or
// the dedicated modules are not counted twice.
func (a *Aggregator) addDefiBalances(ctx context.Context, sheets map[string]*entities.BalanceSheet) error {
	positions, err := a.QueryDefiBalances(ctx)
	if err != nil {
		return err
	}

	for address, accountPositions := range positions {
		sheet, ok := sheets[address]
		if !ok {
			sheet = entities.NewBalanceSheet()
			sheets[address] = sheet
		}
		for _, position := range accountPositions {
			a.addDefiPosition(address, position, sheet)
		}
	}
	return nil
}

func (a *Aggregator) addDefiPosition(address string, position entities.ProtocolPosition, sheet *entities.BalanceSheet) {
	var skipTable map[string][]string
	switch position.BalanceType {
	case entities.BalanceTypeAsset:
		skipTable = defiProtocolsToSkipAssets
	case entities.BalanceTypeDebt:
		skipTable = defiProtocolsToSkipLiabilities
	default:
		a.logger.Warn("DeFi adapter returned unknown balance type, skipping",
			zap.String("balance_type", string(position.BalanceType)),
		)
		return
	}

	if symbols, found := skipTable[position.Protocol]; found {
		if symbols == nil {
			return
		}
		for _, symbol := range symbols {
			if position.TokenSymbol == symbol {
				return
			}
		}
	}

	if position.BalanceType == entities.BalanceTypeAsset && position.TokenSymbol == "ETH" {
		// the adapter occasionally reports plain ETH as a protocol asset;
		// that would double count the native balance
		a.logger.Warn("Found ETH in DeFi balances, ignoring",
			zap.String("address", address),
			zap.String("protocol", position.Protocol),
		)
		return
	}

	token, ok := entities.TokenByAddress(position.TokenAddress)
	if !ok {
		a.logger.Warn("Found unknown asset in DeFi balances, ignoring",
			zap.String("address", address),
			zap.String("protocol", position.Protocol),
			zap.String("token", position.TokenSymbol),
		)
		return
	}

	if position.BalanceType == entities.BalanceTypeAsset {
		sheet.AddAsset(token, position.Balance)
	} else {
		sheet.AddLiability(token, position.Balance)
	}
}
