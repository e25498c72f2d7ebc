package testutil

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/chainsheet/chainsheet/internal/domain/datasources"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

type MockCall struct {
	Method string
	Args   []interface{}
}

// MockPriceOracle is a mock implementation of PriceOracle
type MockPriceOracle struct {
	mu     sync.RWMutex
	prices map[entities.Asset]decimal.Decimal

	// Function hooks for custom behavior
	USDPriceFunc func(ctx context.Context, asset entities.Asset) (decimal.Decimal, error)

	// Call tracking
	Calls []MockCall
}

func NewMockPriceOracle() *MockPriceOracle {
	return &MockPriceOracle{
		prices: make(map[entities.Asset]decimal.Decimal),
		Calls:  make([]MockCall, 0),
	}
}

// SetPrice sets the USD price the mock returns for an asset.
func (m *MockPriceOracle) SetPrice(asset entities.Asset, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[asset] = price
}

func (m *MockPriceOracle) USDPrice(ctx context.Context, asset entities.Asset) (decimal.Decimal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "USDPrice", Args: []interface{}{asset}})
	m.mu.Unlock()

	if m.USDPriceFunc != nil {
		return m.USDPriceFunc(ctx, asset)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if price, ok := m.prices[asset]; ok {
		return price, nil
	}
	return decimal.Zero, errors.New("no price for " + asset.Identifier)
}

// CallCount returns how many calls were recorded for a method.
func (m *MockPriceOracle) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockBitcoinSource is a mock implementation of BitcoinSource
type MockBitcoinSource struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal

	AddressBalancesFunc func(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error)

	Calls []MockCall
}

func NewMockBitcoinSource() *MockBitcoinSource {
	return &MockBitcoinSource{
		balances: make(map[string]decimal.Decimal),
		Calls:    make([]MockCall, 0),
	}
}

// SetBalance sets the balance the mock returns for an address.
func (m *MockBitcoinSource) SetBalance(address string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[address] = balance
}

func (m *MockBitcoinSource) AddressBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "AddressBalances", Args: []interface{}{addresses}})
	m.mu.Unlock()

	if m.AddressBalancesFunc != nil {
		return m.AddressBalancesFunc(ctx, addresses)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]decimal.Decimal, len(addresses))
	for _, address := range addresses {
		if balance, ok := m.balances[address]; ok {
			result[address] = balance
		} else {
			result[address] = decimal.Zero
		}
	}
	return result, nil
}

func (m *MockBitcoinSource) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockSubstrateSource is a mock implementation of SubstrateSource
type MockSubstrateSource struct {
	mu        sync.RWMutex
	connected bool
	balances  map[string]decimal.Decimal

	HasConnectedNodeFunc       func() bool
	AttemptConnectionsFunc     func()
	WaitUntilNodeAvailableFunc func(ctx context.Context, timeout time.Duration) error
	AccountsBalanceFunc        func(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error)

	Calls []MockCall
}

func NewMockSubstrateSource(connected bool) *MockSubstrateSource {
	return &MockSubstrateSource{
		connected: connected,
		balances:  make(map[string]decimal.Decimal),
		Calls:     make([]MockCall, 0),
	}
}

func (m *MockSubstrateSource) SetBalance(address string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[address] = balance
}

func (m *MockSubstrateSource) HasConnectedNode() bool {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "HasConnectedNode", Args: nil})
	m.mu.Unlock()

	if m.HasConnectedNodeFunc != nil {
		return m.HasConnectedNodeFunc()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

func (m *MockSubstrateSource) AttemptConnections() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "AttemptConnections", Args: nil})

	if m.AttemptConnectionsFunc != nil {
		m.AttemptConnectionsFunc()
		return
	}
	m.connected = true
}

func (m *MockSubstrateSource) WaitUntilNodeAvailable(ctx context.Context, timeout time.Duration) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "WaitUntilNodeAvailable", Args: []interface{}{timeout}})
	m.mu.Unlock()

	if m.WaitUntilNodeAvailableFunc != nil {
		return m.WaitUntilNodeAvailableFunc(ctx, timeout)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.connected {
		return entities.NewRemoteError("no node available", nil)
	}
	return nil
}

func (m *MockSubstrateSource) AccountsBalance(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "AccountsBalance", Args: []interface{}{addresses}})
	m.mu.Unlock()

	if m.AccountsBalanceFunc != nil {
		return m.AccountsBalanceFunc(ctx, addresses)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]decimal.Decimal, len(addresses))
	for _, address := range addresses {
		result[address] = m.balances[address]
	}
	return result, nil
}

func (m *MockSubstrateSource) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockEvmNodeSource is a mock implementation of EvmNodeSource
type MockEvmNodeSource struct {
	mu          sync.RWMutex
	native      map[string]decimal.Decimal
	tokens      map[string]map[entities.Asset]decimal.Decimal
	tokenPrices map[entities.Asset]decimal.Decimal

	NativeBalancesFunc func(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error)
	TokenBalancesFunc  func(ctx context.Context, addresses []string) (map[string]map[entities.Asset]decimal.Decimal, map[entities.Asset]decimal.Decimal, error)

	Calls []MockCall
}

func NewMockEvmNodeSource() *MockEvmNodeSource {
	return &MockEvmNodeSource{
		native:      make(map[string]decimal.Decimal),
		tokens:      make(map[string]map[entities.Asset]decimal.Decimal),
		tokenPrices: make(map[entities.Asset]decimal.Decimal),
		Calls:       make([]MockCall, 0),
	}
}

func (m *MockEvmNodeSource) SetNativeBalance(address string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.native[address] = balance
}

func (m *MockEvmNodeSource) SetTokenBalance(address string, asset entities.Asset, balance, price decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tokens[address] == nil {
		m.tokens[address] = make(map[entities.Asset]decimal.Decimal)
	}
	m.tokens[address][asset] = balance
	m.tokenPrices[asset] = price
}

func (m *MockEvmNodeSource) NativeBalances(ctx context.Context, addresses []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "NativeBalances", Args: []interface{}{addresses}})
	m.mu.Unlock()

	if m.NativeBalancesFunc != nil {
		return m.NativeBalancesFunc(ctx, addresses)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]decimal.Decimal, len(addresses))
	for _, address := range addresses {
		result[address] = m.native[address]
	}
	return result, nil
}

func (m *MockEvmNodeSource) TokenBalances(ctx context.Context, addresses []string) (map[string]map[entities.Asset]decimal.Decimal, map[entities.Asset]decimal.Decimal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "TokenBalances", Args: []interface{}{addresses}})
	m.mu.Unlock()

	if m.TokenBalancesFunc != nil {
		return m.TokenBalancesFunc(ctx, addresses)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	balances := make(map[string]map[entities.Asset]decimal.Decimal)
	prices := make(map[entities.Asset]decimal.Decimal)
	for _, address := range addresses {
		held, ok := m.tokens[address]
		if !ok {
			continue
		}
		copied := make(map[entities.Asset]decimal.Decimal, len(held))
		for asset, balance := range held {
			copied[asset] = balance
			prices[asset] = m.tokenPrices[asset]
		}
		balances[address] = copied
	}
	return balances, prices, nil
}

func (m *MockEvmNodeSource) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockDefiSource is a mock implementation of DefiSource
type MockDefiSource struct {
	mu        sync.RWMutex
	positions map[string][]entities.ProtocolPosition

	DefiBalancesFunc func(ctx context.Context, addresses []string) (map[string][]entities.ProtocolPosition, error)

	Calls []MockCall
}

func NewMockDefiSource() *MockDefiSource {
	return &MockDefiSource{
		positions: make(map[string][]entities.ProtocolPosition),
		Calls:     make([]MockCall, 0),
	}
}

func (m *MockDefiSource) SetPositions(address string, positions []entities.ProtocolPosition) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions[address] = positions
}

func (m *MockDefiSource) DefiBalances(ctx context.Context, addresses []string) (map[string][]entities.ProtocolPosition, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "DefiBalances", Args: []interface{}{addresses}})
	m.mu.Unlock()

	if m.DefiBalancesFunc != nil {
		return m.DefiBalancesFunc(ctx, addresses)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]entities.ProtocolPosition)
	for _, address := range addresses {
		if positions, ok := m.positions[address]; ok {
			result[address] = append([]entities.ProtocolPosition(nil), positions...)
		}
	}
	return result, nil
}

func (m *MockDefiSource) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockEth2Source is a mock implementation of Eth2Source
type MockEth2Source struct {
	mu       sync.RWMutex
	balances map[string]decimal.Decimal

	ValidatorBalancesFunc func(ctx context.Context, pubkeys []string) (map[string]decimal.Decimal, error)

	Calls []MockCall
}

func NewMockEth2Source() *MockEth2Source {
	return &MockEth2Source{
		balances: make(map[string]decimal.Decimal),
		Calls:    make([]MockCall, 0),
	}
}

func (m *MockEth2Source) SetBalance(pubkey string, balance decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[pubkey] = balance
}

func (m *MockEth2Source) ValidatorBalances(ctx context.Context, pubkeys []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "ValidatorBalances", Args: []interface{}{pubkeys}})
	m.mu.Unlock()

	if m.ValidatorBalancesFunc != nil {
		return m.ValidatorBalancesFunc(ctx, pubkeys)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]decimal.Decimal, len(pubkeys))
	for _, pubkey := range pubkeys {
		result[pubkey] = m.balances[pubkey]
	}
	return result, nil
}

func (m *MockEth2Source) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockEvmCaller is a mock implementation of EvmCaller. Contract responses
// are configured per call via the function hooks; the defaults return empty
// data so readers see "nothing on chain".
type MockEvmCaller struct {
	mu sync.RWMutex

	CallFunc           func(ctx context.Context, to common.Address, data []byte) ([]byte, error)
	MulticallFunc      func(ctx context.Context, calls []datasources.ContractCall) ([][]byte, error)
	TryMulticallFunc   func(ctx context.Context, calls []datasources.ContractCall) ([]datasources.MulticallResult, error)
	FilterLogsFunc     func(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	BlockTimestampFunc func(ctx context.Context, blockNumber uint64) (time.Time, error)
	CodeAtFunc         func(ctx context.Context, address common.Address) ([]byte, error)

	Calls []MockCall
}

func NewMockEvmCaller() *MockEvmCaller {
	return &MockEvmCaller{
		Calls: make([]MockCall, 0),
	}
}

func (m *MockEvmCaller) Call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Call", Args: []interface{}{to, data}})
	m.mu.Unlock()

	if m.CallFunc != nil {
		return m.CallFunc(ctx, to, data)
	}
	return nil, nil
}

func (m *MockEvmCaller) Multicall(ctx context.Context, calls []datasources.ContractCall) ([][]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Multicall", Args: []interface{}{calls}})
	m.mu.Unlock()

	if m.MulticallFunc != nil {
		return m.MulticallFunc(ctx, calls)
	}
	return make([][]byte, len(calls)), nil
}

func (m *MockEvmCaller) TryMulticall(ctx context.Context, calls []datasources.ContractCall) ([]datasources.MulticallResult, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "TryMulticall", Args: []interface{}{calls}})
	m.mu.Unlock()

	if m.TryMulticallFunc != nil {
		return m.TryMulticallFunc(ctx, calls)
	}
	return make([]datasources.MulticallResult, len(calls)), nil
}

func (m *MockEvmCaller) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "FilterLogs", Args: []interface{}{query}})
	m.mu.Unlock()

	if m.FilterLogsFunc != nil {
		return m.FilterLogsFunc(ctx, query)
	}
	return nil, nil
}

func (m *MockEvmCaller) BlockTimestamp(ctx context.Context, blockNumber uint64) (time.Time, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "BlockTimestamp", Args: []interface{}{blockNumber}})
	m.mu.Unlock()

	if m.BlockTimestampFunc != nil {
		return m.BlockTimestampFunc(ctx, blockNumber)
	}
	return time.Unix(int64(blockNumber), 0), nil
}

func (m *MockEvmCaller) CodeAt(ctx context.Context, address common.Address) ([]byte, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "CodeAt", Args: []interface{}{address}})
	m.mu.Unlock()

	if m.CodeAtFunc != nil {
		return m.CodeAtFunc(ctx, address)
	}
	return nil, nil
}

func (m *MockEvmCaller) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockAccountRepository is an in-memory mock of AccountRepository
type MockAccountRepository struct {
	mu       sync.RWMutex
	accounts map[entities.Chain][]string

	GetAccountsFunc    func(ctx context.Context, chain entities.Chain) ([]string, error)
	AddAccountsFunc    func(ctx context.Context, chain entities.Chain, addresses []string) error
	RemoveAccountsFunc func(ctx context.Context, chain entities.Chain, addresses []string) error

	Calls []MockCall
}

func NewMockAccountRepository() *MockAccountRepository {
	return &MockAccountRepository{
		accounts: make(map[entities.Chain][]string),
		Calls:    make([]MockCall, 0),
	}
}

// SeedAccounts pre-populates the mock store without recording a call.
func (m *MockAccountRepository) SeedAccounts(chain entities.Chain, addresses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[chain] = append(m.accounts[chain], addresses...)
}

func (m *MockAccountRepository) GetAccounts(ctx context.Context, chain entities.Chain) ([]string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "GetAccounts", Args: []interface{}{chain}})
	m.mu.Unlock()

	if m.GetAccountsFunc != nil {
		return m.GetAccountsFunc(ctx, chain)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.accounts[chain]...), nil
}

func (m *MockAccountRepository) AddAccounts(ctx context.Context, chain entities.Chain, addresses []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "AddAccounts", Args: []interface{}{chain, addresses}})

	if m.AddAccountsFunc != nil {
		return m.AddAccountsFunc(ctx, chain, addresses)
	}

	m.accounts[chain] = append(m.accounts[chain], addresses...)
	return nil
}

func (m *MockAccountRepository) RemoveAccounts(ctx context.Context, chain entities.Chain, addresses []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Method: "RemoveAccounts", Args: []interface{}{chain, addresses}})

	if m.RemoveAccountsFunc != nil {
		return m.RemoveAccountsFunc(ctx, chain, addresses)
	}

	remove := make(map[string]bool, len(addresses))
	for _, address := range addresses {
		remove[address] = true
	}
	kept := m.accounts[chain][:0]
	for _, address := range m.accounts[chain] {
		if !remove[address] {
			kept = append(kept, address)
		}
	}
	m.accounts[chain] = kept
	return nil
}

func (m *MockAccountRepository) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}

// MockHealthChecker is a mock implementation of HealthChecker
type MockHealthChecker struct {
	mu sync.RWMutex

	Healthy bool
	Error   error
	Calls   []MockCall
}

func NewMockHealthChecker(healthy bool) *MockHealthChecker {
	var err error
	if !healthy {
		err = errors.New("health check failed")
	}
	return &MockHealthChecker{
		Healthy: healthy,
		Error:   err,
		Calls:   make([]MockCall, 0),
	}
}

func (m *MockHealthChecker) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "HealthCheck", Args: nil})
	m.mu.Unlock()

	return m.Error
}

func (m *MockHealthChecker) SetHealthy(healthy bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Healthy = healthy
	if healthy {
		m.Error = nil
	} else {
		m.Error = errors.New("health check failed")
	}
}

func countCalls(calls []MockCall, method string) int {
	n := 0
	for _, call := range calls {
		if call.Method == method {
			n++
		}
	}
	return n
}

// MockResponseCache is an in-memory ResponseCache for handler tests. Values
// round-trip through JSON exactly like the Redis-backed implementation.
type MockResponseCache struct {
	mu      sync.RWMutex
	entries map[string][]byte

	Calls []MockCall
}

func NewMockResponseCache() *MockResponseCache {
	return &MockResponseCache{
		entries: make(map[string][]byte),
	}
}

func (m *MockResponseCache) Get(ctx context.Context, key string, dest interface{}) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Get", Args: []interface{}{key}})
	data, ok := m.entries[key]
	m.mu.Unlock()

	if !ok {
		return errors.New("cache miss")
	}
	return json.Unmarshal(data, dest)
}

func (m *MockResponseCache) Set(ctx context.Context, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}

	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Set", Args: []interface{}{key}})
	m.entries[key] = data
	m.mu.Unlock()
	return nil
}

func (m *MockResponseCache) Delete(ctx context.Context, key string) error {
	m.mu.Lock()
	m.Calls = append(m.Calls, MockCall{Method: "Delete", Args: []interface{}{key}})
	delete(m.entries, key)
	m.mu.Unlock()
	return nil
}

func (m *MockResponseCache) Contains(key string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok
}

func (m *MockResponseCache) CallCount(method string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return countCalls(m.Calls, method)
}
