package aggregator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// CheckExistence validates a whole batch of addresses against the tracked
// list of a chain before anything is mutated. With shouldExist false it
// rejects batches containing an already tracked address; with true it
// rejects batches containing an unknown one. Comparison happens on the
// normalized form, so a Bitcoin Cash address is matched regardless of
// which of its two encodings either side uses.
func (a *Aggregator) CheckExistence(chain entities.Chain, addresses []string, shouldExist bool) error {
	tracked := make(map[string]struct{})
	for _, existing := range a.Accounts(chain) {
		normalized, err := chain.NormalizedAddress(existing)
		if err != nil {
			normalized = existing
		}
		tracked[normalized] = struct{}{}
	}

	var offending []string
	for _, address := range addresses {
		normalized, err := chain.NormalizedAddress(address)
		if err != nil {
			return err
		}
		_, exists := tracked[normalized]
		if exists != shouldExist {
			offending = append(offending, address)
		}
		if !shouldExist {
			// a repeat within the batch itself counts as already tracked
			tracked[normalized] = struct{}{}
		}
	}
	if len(offending) == 0 {
		return nil
	}

	verb := "already tracked"
	if shouldExist {
		verb = "not tracked"
	}
	return entities.NewInputError(fmt.Sprintf(
		"%s accounts %s for %s", verb, strings.Join(offending, ", "), chain,
	))
}

// AddAccounts starts tracking new accounts on a chain. The batch is
// validated as a whole first; nothing is persisted when any address is
// invalid or already tracked.
func (a *Aggregator) AddAccounts(ctx context.Context, chain entities.Chain, addresses []string) error {
	if !chain.IsValid() {
		return entities.NewInputError(fmt.Sprintf("unknown chain %q", chain))
	}
	if len(addresses) == 0 {
		return entities.NewInputError("empty list of accounts given")
	}

	canonical := make([]string, len(addresses))
	for i, address := range addresses {
		c, err := chain.CanonicalAddress(address)
		if err != nil {
			return err
		}
		canonical[i] = c
	}
	if err := a.CheckExistence(chain, canonical, false); err != nil {
		return err
	}

	lock := a.chainLocks[chain]
	lock.Lock()
	defer lock.Unlock()
	a.cache.flush(balanceCacheKey(chain))

	if chain.IsSubstrate() {
		if err := a.connectSubstrateNode(ctx, chain); err != nil {
			return err
		}
	}

	if err := a.repo.AddAccounts(ctx, chain, canonical); err != nil {
		return fmt.Errorf("failed to persist new %s accounts: %w", chain, err)
	}

	a.mu.Lock()
	a.accounts[chain] = append(a.accounts[chain], canonical...)
	a.mu.Unlock()

	if chain == entities.ChainEthereum {
		for _, address := range canonical {
			a.notifyModulesOfAddition(ctx, address)
		}
	}

	a.cache.flush(balanceCacheKey(chain))
	return nil
}

// connectSubstrateNode kicks off node connections for a substrate chain and
// waits until one is usable, so the first account addition fails loudly
// when no node can be reached.
func (a *Aggregator) connectSubstrateNode(ctx context.Context, chain entities.Chain) error {
	source, ok := a.sources.Substrate[chain]
	if !ok {
		return entities.NewRemoteError(fmt.Sprintf("no data source configured for %s", chain), nil)
	}
	if source.HasConnectedNode() {
		return nil
	}
	source.AttemptConnections()
	return source.WaitUntilNodeAvailable(ctx, a.cfg.NodeConnectTimeout)
}

// notifyModulesOfAddition runs the per-address hook of every active module.
// A failing hook only costs that module its warm state, so it is logged and
// skipped rather than aborting the addition.
func (a *Aggregator) notifyModulesOfAddition(ctx context.Context, address string) {
	for _, reader := range a.registry.ActiveReaders() {
		if err := reader.OnAccountAddition(ctx, address); err != nil {
			a.logger.Warn("Module failed to process account addition",
				zap.String("module", reader.Name()),
				zap.String("address", address),
				zap.Error(err),
			)
		}
	}
}

// RemoveAccounts stops tracking accounts on a chain and drops their stored
// balances. The batch is validated as a whole first.
func (a *Aggregator) RemoveAccounts(ctx context.Context, chain entities.Chain, addresses []string) error {
	if !chain.IsValid() {
		return entities.NewInputError(fmt.Sprintf("unknown chain %q", chain))
	}
	if len(addresses) == 0 {
		return entities.NewInputError("empty list of accounts given")
	}

	canonical := make([]string, len(addresses))
	for i, address := range addresses {
		c, err := chain.CanonicalAddress(address)
		if err != nil {
			return err
		}
		canonical[i] = c
	}
	if err := a.CheckExistence(chain, canonical, true); err != nil {
		return err
	}

	lock := a.chainLocks[chain]
	lock.Lock()
	defer lock.Unlock()
	a.cache.flush(balanceCacheKey(chain))

	if err := a.repo.RemoveAccounts(ctx, chain, canonical); err != nil {
		return fmt.Errorf("failed to remove %s accounts: %w", chain, err)
	}

	removed := make(map[string]struct{}, len(canonical))
	for _, address := range canonical {
		normalized, err := chain.NormalizedAddress(address)
		if err != nil {
			normalized = address
		}
		removed[normalized] = struct{}{}
	}

	a.mu.Lock()
	var kept []string
	for _, existing := range a.accounts[chain] {
		normalized, err := chain.NormalizedAddress(existing)
		if err != nil {
			normalized = existing
		}
		if _, drop := removed[normalized]; drop {
			delete(a.sheets[chain], existing)
			continue
		}
		kept = append(kept, existing)
	}
	a.accounts[chain] = kept
	a.recomputeTotalsLocked()
	a.mu.Unlock()

	if chain == entities.ChainEthereum {
		for _, address := range canonical {
			a.dropDefiCacheEntry(address)
			for _, reader := range a.registry.ActiveReaders() {
				reader.OnAccountRemoval(address)
			}
		}
	}

	a.cache.flush(balanceCacheKey(chain))
	return nil
}

// EvmAccountStatus describes what happened to an address on one chain
// during an all-EVM addition.
type EvmAccountStatus string

const (
	EvmAccountAdded           EvmAccountStatus = "added"
	EvmAccountAlreadyTracked  EvmAccountStatus = "already_tracked"
	EvmAccountSkippedContract EvmAccountStatus = "skipped_contract"
)

// AddAccountsToAllEvm adds an address to every EVM chain. A contract
// deployed on mainnet is almost never a user account on the other chains,
// so for contracts only the mainnet entry is created.
func (a *Aggregator) AddAccountsToAllEvm(ctx context.Context, address string) (map[entities.Chain]EvmAccountStatus, error) {
	canonical, err := entities.ChainEthereum.CanonicalAddress(address)
	if err != nil {
		return nil, err
	}

	isContract := false
	if a.sources.Caller != nil {
		code, err := a.sources.Caller.CodeAt(ctx, common.HexToAddress(canonical))
		if err != nil {
			return nil, err
		}
		isContract = len(code) > 0
	}

	statuses := make(map[entities.Chain]EvmAccountStatus, len(entities.EvmChains))
	for _, chain := range entities.EvmChains {
		if isContract && chain != entities.ChainEthereum {
			statuses[chain] = EvmAccountSkippedContract
			continue
		}
		err := a.AddAccounts(ctx, chain, []string{canonical})
		if err == nil {
			statuses[chain] = EvmAccountAdded
			continue
		}
		var inputErr *entities.InputError
		if errors.As(err, &inputErr) {
			statuses[chain] = EvmAccountAlreadyTracked
			continue
		}
		return nil, err
	}
	return statuses, nil
}
