package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/chainsheet/chainsheet/internal/config"
	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/domain/repositories"
)

// Sources bundles the chain data sources the aggregator pulls from. Caller
// is the mainnet contract access used for contract detection during
// all-EVM account additions.
type Sources struct {
	Bitcoin   map[entities.Chain]datasources.BitcoinSource
	Substrate map[entities.Chain]datasources.SubstrateSource
	Evm       map[entities.Chain]datasources.EvmNodeSource
	Defi      datasources.DefiSource
	Oracle    datasources.PriceOracle
	Caller    datasources.EvmCaller
}

// Aggregator owns the tracked account lists and the balance store, and
// coordinates the per-chain queries that fill them. Concurrent queries of
// the same chain are collapsed to one remote query; results are cached for
// a TTL that account modifications flush.
type Aggregator struct {
	cfg      config.AggregatorConfig
	logger   *zap.Logger
	repo     repositories.AccountRepository
	sources  Sources
	registry *Registry

	// chainLocks serialize the balance query of each chain.
	chainLocks map[entities.Chain]*sync.Mutex
	group      singleflight.Group
	cache      *queryCache

	mu       sync.RWMutex
	accounts map[entities.Chain][]string
	sheets   map[entities.Chain]map[string]*entities.BalanceSheet
	totals   *entities.BalanceSheet

	defiMu        sync.Mutex
	defiPositions map[string][]entities.ProtocolPosition
	defiQueriedAt time.Time
}

// New creates an aggregator. Call LoadAccounts before the first query to
// populate the tracked account lists from storage.
func New(
	cfg config.AggregatorConfig,
	repo repositories.AccountRepository,
	sources Sources,
	registry *Registry,
	logger *zap.Logger,
) *Aggregator {
	chainLocks := make(map[entities.Chain]*sync.Mutex, len(entities.AllChains))
	accounts := make(map[entities.Chain][]string, len(entities.AllChains))
	sheets := make(map[entities.Chain]map[string]*entities.BalanceSheet, len(entities.AllChains))
	for _, chain := range entities.AllChains {
		chainLocks[chain] = &sync.Mutex{}
		accounts[chain] = nil
		sheets[chain] = make(map[string]*entities.BalanceSheet)
	}

	return &Aggregator{
		cfg:        cfg,
		logger:     logger,
		repo:       repo,
		sources:    sources,
		registry:   registry,
		chainLocks: chainLocks,
		cache:      newQueryCache(cfg.BalanceCacheTTL),
		accounts:   accounts,
		sheets:     sheets,
		totals:     entities.NewBalanceSheet(),
	}
}

// Registry returns the module registry.
func (a *Aggregator) Registry() *Registry {
	return a.registry
}

// LoadAccounts populates the tracked account lists from the repository.
func (a *Aggregator) LoadAccounts(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, chain := range entities.AllChains {
		addresses, err := a.repo.GetAccounts(ctx, chain)
		if err != nil {
			return fmt.Errorf("failed to load %s accounts: %w", chain, err)
		}
		a.accounts[chain] = addresses
	}
	return nil
}

// Accounts returns a copy of the tracked accounts of a chain.
func (a *Aggregator) Accounts(chain entities.Chain) []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]string(nil), a.accounts[chain]...)
}

// QueryBalances queries balances of one chain, or of every chain with
// tracked accounts when chain is nil, and returns a consolidated snapshot.
// In the all-chains case a failing chain is logged and skipped so one dead
// data source cannot take down the whole snapshot.
func (a *Aggregator) QueryBalances(ctx context.Context, chain *entities.Chain, ignoreCache bool) (*entities.Snapshot, error) {
	if chain != nil {
		if !chain.IsValid() {
			return nil, entities.NewInputError(fmt.Sprintf("unknown chain %q", *chain))
		}
		if err := a.queryChain(ctx, *chain, ignoreCache); err != nil {
			return nil, err
		}
		return a.snapshot(chain), nil
	}

	for _, c := range entities.AllChains {
		if len(a.Accounts(c)) == 0 {
			continue
		}
		if c == entities.ChainEth2 && !a.registry.IsActive("eth2") {
			continue
		}
		if err := a.queryChain(ctx, c, ignoreCache); err != nil {
			a.logger.Warn("Failed to query chain balances, skipping chain",
				zap.String("chain", string(c)),
				zap.Error(err),
			)
		}
	}
	return a.snapshot(nil), nil
}

// queryChain runs the balance query of one chain unless a fresh cached
// result exists. Identical concurrent calls share one execution.
func (a *Aggregator) queryChain(ctx context.Context, chain entities.Chain, ignoreCache bool) error {
	key := balanceCacheKey(chain)
	if !ignoreCache && a.cache.fresh(key) {
		return nil
	}

	flightKey := fmt.Sprintf("%s|ignore_cache=%t", key, ignoreCache)
	_, err, _ := a.group.Do(flightKey, func() (interface{}, error) {
		lock := a.chainLocks[chain]
		lock.Lock()
		defer lock.Unlock()

		// the query that held the lock first may have refreshed the cache
		if !ignoreCache && a.cache.fresh(key) {
			return nil, nil
		}

		if err := a.queryChainBalances(ctx, chain); err != nil {
			return nil, err
		}
		a.cache.mark(key)
		a.recomputeTotals()
		return nil, nil
	})
	return err
}

func balanceCacheKey(chain entities.Chain) string {
	return "balances/" + string(chain)
}

// setChainSheets replaces the balance store of a chain wholesale.
func (a *Aggregator) setChainSheets(chain entities.Chain, sheets map[string]*entities.BalanceSheet) {
	a.mu.Lock()
	a.sheets[chain] = sheets
	a.mu.Unlock()
}

// recomputeTotals rebuilds the cross-chain totals from the per-account
// sheets. Totals are always derived, never incrementally patched.
func (a *Aggregator) recomputeTotals() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recomputeTotalsLocked()
}

func (a *Aggregator) recomputeTotalsLocked() {
	totals := entities.NewBalanceSheet()
	for _, chainSheets := range a.sheets {
		for _, sheet := range chainSheets {
			totals.AddSheet(sheet)
		}
	}
	a.totals = totals
}

// snapshot builds a deep copy of the balance store, limited to one chain
// when given.
func (a *Aggregator) snapshot(chain *entities.Chain) *entities.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	perAccount := make(map[entities.Chain]map[string]*entities.BalanceSheet)
	for c, chainSheets := range a.sheets {
		if chain != nil && c != *chain {
			continue
		}
		if len(chainSheets) == 0 {
			continue
		}
		copied := make(map[string]*entities.BalanceSheet, len(chainSheets))
		for address, sheet := range chainSheets {
			copied[address] = sheet.Copy()
		}
		perAccount[c] = copied
	}

	return &entities.Snapshot{
		GivenChain: chain,
		PerAccount: perAccount,
		Totals:     a.totals.Copy(),
	}
}

// SetPremium propagates premium status to the module registry.
func (a *Aggregator) SetPremium(active bool) {
	a.registry.SetPremium(active)
}
