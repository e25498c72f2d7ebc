package aggregator

import (
	"context"
	"fmt"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// queryChainBalances runs the actual remote balance query of one chain and
// replaces that chain's slice of the balance store. The caller holds the
// chain lock.
func (a *Aggregator) queryChainBalances(ctx context.Context, chain entities.Chain) error {
	switch {
	case chain.IsBitcoin():
		return a.queryBitcoinBalances(ctx, chain)
	case chain.IsSubstrate():
		return a.querySubstrateBalances(ctx, chain)
	case chain == entities.ChainEth2:
		return a.queryEth2Balances(ctx)
	case chain.IsEvm():
		return a.queryEvmBalances(ctx, chain)
	}
	return entities.NewInputError(fmt.Sprintf("unknown chain %q", chain))
}

// queryBitcoinBalances fetches native balances of a UTXO chain in one
// batched explorer call. Each account's sheet is fully replaced, never
// merged, since the chain has exactly one asset.
func (a *Aggregator) queryBitcoinBalances(ctx context.Context, chain entities.Chain) error {
	addresses := a.Accounts(chain)
	if len(addresses) == 0 {
		a.setChainSheets(chain, map[string]*entities.BalanceSheet{})
		return nil
	}

	source, ok := a.sources.Bitcoin[chain]
	if !ok {
		return entities.NewRemoteError(fmt.Sprintf("no data source configured for %s", chain), nil)
	}
	balances, err := source.AddressBalances(ctx, addresses)
	if err != nil {
		return err
	}

	native := chain.NativeAsset()
	price, err := a.sources.Oracle.USDPrice(ctx, native)
	if err != nil {
		return err
	}

	sheets := make(map[string]*entities.BalanceSheet, len(balances))
	for address, amount := range balances {
		sheet := entities.NewBalanceSheet()
		sheet.SetAsset(native, entities.NewBalance(amount, price))
		sheets[address] = sheet
	}
	a.setChainSheets(chain, sheets)
	return nil
}

// querySubstrateBalances waits for a usable node, then fetches native
// balances for all accounts of the chain.
func (a *Aggregator) querySubstrateBalances(ctx context.Context, chain entities.Chain) error {
	addresses := a.Accounts(chain)
	if len(addresses) == 0 {
		a.setChainSheets(chain, map[string]*entities.BalanceSheet{})
		return nil
	}

	source, ok := a.sources.Substrate[chain]
	if !ok {
		return entities.NewRemoteError(fmt.Sprintf("no data source configured for %s", chain), nil)
	}
	if !source.HasConnectedNode() {
		source.AttemptConnections()
		if err := source.WaitUntilNodeAvailable(ctx, a.cfg.NodeConnectTimeout); err != nil {
			return err
		}
	}

	balances, err := source.AccountsBalance(ctx, addresses)
	if err != nil {
		return err
	}

	native := chain.NativeAsset()
	price, err := a.sources.Oracle.USDPrice(ctx, native)
	if err != nil {
		return err
	}

	sheets := make(map[string]*entities.BalanceSheet, len(balances))
	for address, amount := range balances {
		sheet := entities.NewBalanceSheet()
		sheet.SetAsset(native, entities.NewBalance(amount, price))
		sheets[address] = sheet
	}
	a.setChainSheets(chain, sheets)
	return nil
}

// queryEvmBalances fetches native and token balances of an EVM chain. On
// the main Ethereum chain the DeFi adapter positions and the active
// protocol reader balances are layered on top, accumulating into the
// existing entries instead of overwriting them.
func (a *Aggregator) queryEvmBalances(ctx context.Context, chain entities.Chain) error {
	addresses := a.Accounts(chain)
	if len(addresses) == 0 {
		a.setChainSheets(chain, map[string]*entities.BalanceSheet{})
		return nil
	}

	source, ok := a.sources.Evm[chain]
	if !ok {
		return entities.NewRemoteError(fmt.Sprintf("no data source configured for %s", chain), nil)
	}

	nativeBalances, err := source.NativeBalances(ctx, addresses)
	if err != nil {
		return err
	}
	tokenBalances, tokenPrices, err := source.TokenBalances(ctx, addresses)
	if err != nil {
		return err
	}

	native := chain.NativeAsset()
	nativePrice, err := a.sources.Oracle.USDPrice(ctx, native)
	if err != nil {
		return err
	}

	sheets := make(map[string]*entities.BalanceSheet, len(addresses))
	for _, address := range addresses {
		sheet := entities.NewBalanceSheet()
		if amount, ok := nativeBalances[address]; ok {
			sheet.SetAsset(native, entities.NewBalance(amount, nativePrice))
		}
		for token, amount := range tokenBalances[address] {
			sheet.AddAsset(token, entities.NewBalance(amount, tokenPrices[token]))
		}
		sheets[address] = sheet
	}

	if chain == entities.ChainEthereum {
		if err := a.addDefiBalances(ctx, sheets); err != nil {
			return err
		}
		if err := a.addModuleBalances(ctx, addresses, sheets); err != nil {
			return err
		}
	}

	a.setChainSheets(chain, sheets)
	return nil
}

// addModuleBalances layers the active protocol readers' balances on top of
// the plain Ethereum sheets. The eth2 reader is excluded here; it serves
// the beacon chain.
func (a *Aggregator) addModuleBalances(
	ctx context.Context,
	addresses []string,
	sheets map[string]*entities.BalanceSheet,
) error {
	for _, reader := range a.registry.ActiveReaders() {
		if reader.Name() == modules.ModuleEth2 {
			continue
		}
		moduleSheets, err := reader.Balances(ctx, addresses)
		if err != nil {
			return fmt.Errorf("failed to query %s balances: %w", reader.Name(), err)
		}
		for address, moduleSheet := range moduleSheets {
			sheet, ok := sheets[address]
			if !ok {
				sheet = entities.NewBalanceSheet()
				sheets[address] = sheet
			}
			sheet.AddSheet(moduleSheet)
		}
	}
	return nil
}

// queryEth2Balances fetches beacon chain validator balances through the
// eth2 module. The module must be active.
func (a *Aggregator) queryEth2Balances(ctx context.Context) error {
	reader, ok := a.registry.Get(modules.ModuleEth2)
	if !ok {
		return entities.NewModuleInactiveError(modules.ModuleEth2)
	}

	pubkeys := a.Accounts(entities.ChainEth2)
	if len(pubkeys) == 0 {
		a.setChainSheets(entities.ChainEth2, map[string]*entities.BalanceSheet{})
		return nil
	}

	sheets, err := reader.Balances(ctx, pubkeys)
	if err != nil {
		return err
	}
	a.setChainSheets(entities.ChainEth2, sheets)
	return nil
}
