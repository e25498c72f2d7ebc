package aggregator

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
	"github.com/chainsheet/chainsheet/internal/testutil"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	logger := zap.NewNop()
	caller := testutil.NewMockEvmCaller()
	return NewRegistry(modules.Deps{
		Caller: caller,
		Oracle: testutil.NewMockPriceOracle(),
		Proxies: modules.NewProxyResolver(caller,
			common.HexToAddress(modules.ProxyRegistryAddress), time.Hour, logger),
		Eth2:   testutil.NewMockEth2Source(),
		Logger: logger,
	}, logger)
}

func TestRegistryActivate(t *testing.T) {
	registry := newTestRegistry(t)

	require.NoError(t, registry.Activate(modules.ModuleLiquity))
	assert.True(t, registry.IsActive(modules.ModuleLiquity))

	// idempotent
	require.NoError(t, registry.Activate(modules.ModuleLiquity))
	assert.Equal(t, []string{modules.ModuleLiquity}, registry.ActiveNames())
}

func TestRegistryActivateUnknown(t *testing.T) {
	registry := newTestRegistry(t)

	err := registry.Activate("frobnicator")
	var inputErr *entities.InputError
	assert.True(t, errors.As(err, &inputErr))
}

func TestRegistryDeactivate(t *testing.T) {
	registry := newTestRegistry(t)
	require.NoError(t, registry.Activate(modules.ModuleYearnVaults))

	registry.Deactivate(modules.ModuleYearnVaults)
	assert.False(t, registry.IsActive(modules.ModuleYearnVaults))

	// deactivating an inactive module is a no-op
	registry.Deactivate(modules.ModuleYearnVaults)
}

func TestRegistryProcessNewModulesList(t *testing.T) {
	registry := newTestRegistry(t)
	registry.ActivateAll([]string{modules.ModuleLiquity, modules.ModuleMakerdaoVaults})

	require.NoError(t, registry.ProcessNewModulesList(
		[]string{modules.ModuleMakerdaoVaults, modules.ModuleEth2}))

	assert.Equal(t,
		[]string{modules.ModuleEth2, modules.ModuleMakerdaoVaults},
		registry.ActiveNames())
}

func TestRegistryProcessNewModulesListRejectsUnknown(t *testing.T) {
	registry := newTestRegistry(t)
	registry.ActivateAll([]string{modules.ModuleLiquity})

	err := registry.ProcessNewModulesList([]string{modules.ModuleEth2, "frobnicator"})
	var inputErr *entities.InputError
	require.True(t, errors.As(err, &inputErr))

	// the active set is untouched when validation fails
	assert.Equal(t, []string{modules.ModuleLiquity}, registry.ActiveNames())
}

func TestRegistryAvailableNames(t *testing.T) {
	registry := newTestRegistry(t)
	assert.Equal(t, []string{
		modules.ModuleEth2,
		modules.ModuleLiquity,
		modules.ModuleMakerdaoVaults,
		modules.ModuleYearnVaults,
	}, registry.AvailableNames())
}
