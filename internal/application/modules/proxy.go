package modules

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// ProxyRegistryAddress is the mainnet DSProxy registry.
const ProxyRegistryAddress = "0x4678f0a6958e4D2Bc4F1BAF7Bc52E8F3564f3fE4"

const proxyRegistryABIJSON = `[
	{
		"inputs": [{"internalType": "address", "name": "owner", "type": "address"}],
		"name": "proxies",
		"outputs": [{"internalType": "address", "name": "", "type": "address"}],
		"stateMutability": "view",
		"type": "function"
	}
]`

var proxyRegistryABI = mustParseABI(proxyRegistryABIJSON)

func mustParseABI(abiJSON string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(abiJSON))
	if err != nil {
		panic(err)
	}
	return parsed
}

// ProxyResolver resolves the DSProxy contracts owned by tracked addresses.
// Several protocols route user positions through these proxies, so the
// proxy of an address has to be consulted whenever the address itself is.
// The owner-to-proxy mapping is cached and requeried in full once it is
// older than the requery window.
type ProxyResolver struct {
	caller   datasources.EvmCaller
	registry common.Address
	window   time.Duration
	logger   *zap.Logger

	mu        sync.Mutex
	proxies   map[string]common.Address // owner -> proxy
	lastQuery time.Time
}

// NewProxyResolver creates a proxy resolver against the given registry.
func NewProxyResolver(
	caller datasources.EvmCaller,
	registry common.Address,
	window time.Duration,
	logger *zap.Logger,
) *ProxyResolver {
	return &ProxyResolver{
		caller:   caller,
		registry: registry,
		window:   window,
		logger:   logger,
		proxies:  make(map[string]common.Address),
	}
}

// ResolveProxy looks up the proxy of a single owner. The second return is
// false when the owner has no proxy.
func (r *ProxyResolver) ResolveProxy(ctx context.Context, owner string) (common.Address, bool, error) {
	input, err := proxyRegistryABI.Pack("proxies", common.HexToAddress(owner))
	if err != nil {
		return common.Address{}, false, entities.NewRemoteError("failed to encode proxy lookup", err)
	}
	output, err := r.caller.Call(ctx, r.registry, input)
	if err != nil {
		return common.Address{}, false, err
	}
	proxy, err := unpackProxy(output)
	if err != nil {
		return common.Address{}, false, err
	}
	if proxy == (common.Address{}) {
		return common.Address{}, false, nil
	}
	return proxy, true, nil
}

func unpackProxy(output []byte) (common.Address, error) {
	unpacked, err := proxyRegistryABI.Unpack("proxies", output)
	if err != nil {
		return common.Address{}, entities.NewRemoteError("failed to decode proxy lookup", err)
	}
	return *abi.ConvertType(unpacked[0], new(common.Address)).(*common.Address), nil
}

// ProxyMapping returns the owner-to-proxy mapping for the given addresses,
// requerying the registry in one multicall when the cached mapping is stale.
// Owners without a proxy are absent from the result.
func (r *ProxyResolver) ProxyMapping(ctx context.Context, owners []string) (map[string]common.Address, error) {
	r.mu.Lock()
	fresh := time.Since(r.lastQuery) < r.window
	if fresh {
		mapping := r.mappingForLocked(owners)
		r.mu.Unlock()
		return mapping, nil
	}
	r.mu.Unlock()

	calls := make([]datasources.ContractCall, len(owners))
	for i, owner := range owners {
		input, err := proxyRegistryABI.Pack("proxies", common.HexToAddress(owner))
		if err != nil {
			return nil, entities.NewRemoteError("failed to encode proxy lookup", err)
		}
		calls[i] = datasources.ContractCall{To: r.registry, Data: input}
	}

	outputs, err := r.caller.Multicall(ctx, calls)
	if err != nil {
		return nil, err
	}

	resolved := make(map[string]common.Address)
	for i, output := range outputs {
		proxy, err := unpackProxy(output)
		if err != nil {
			return nil, err
		}
		if proxy != (common.Address{}) {
			resolved[owners[i]] = proxy
		}
	}

	r.mu.Lock()
	r.proxies = resolved
	r.lastQuery = time.Now()
	mapping := r.mappingForLocked(owners)
	r.mu.Unlock()

	r.logger.Debug("Refreshed proxy mapping", zap.Int("proxies", len(resolved)))
	return mapping, nil
}

func (r *ProxyResolver) mappingForLocked(owners []string) map[string]common.Address {
	mapping := make(map[string]common.Address)
	for _, owner := range owners {
		if proxy, ok := r.proxies[owner]; ok {
			mapping[owner] = proxy
		}
	}
	return mapping
}

// OwnersByProxy returns the reverse of ProxyMapping.
func (r *ProxyResolver) OwnersByProxy(ctx context.Context, owners []string) (map[common.Address]string, error) {
	mapping, err := r.ProxyMapping(ctx, owners)
	if err != nil {
		return nil, err
	}
	reverse := make(map[common.Address]string, len(mapping))
	for owner, proxy := range mapping {
		reverse[proxy] = owner
	}
	return reverse, nil
}

// OnAccountAddition resolves the proxy of the new address and merges it into
// the cached mapping, then invalidates the mapping timestamp so the next
// batch query sees a consistent view.
func (r *ProxyResolver) OnAccountAddition(ctx context.Context, address string) error {
	proxy, ok, err := r.ResolveProxy(ctx, address)
	if err != nil {
		return err
	}

	r.mu.Lock()
	if ok {
		r.proxies[address] = proxy
	}
	r.lastQuery = time.Time{}
	r.mu.Unlock()
	return nil
}

// OnAccountRemoval invalidates the mapping timestamp; the stale entry is
// dropped on the next full requery.
func (r *ProxyResolver) OnAccountRemoval(address string) {
	r.mu.Lock()
	delete(r.proxies, address)
	r.lastQuery = time.Time{}
	r.mu.Unlock()
}
