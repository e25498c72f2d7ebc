package aggregator

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/chainsheet/chainsheet/internal/application/modules"
	"github.com/chainsheet/chainsheet/internal/application/modules/eth2"
	"github.com/chainsheet/chainsheet/internal/application/modules/liquity"
	"github.com/chainsheet/chainsheet/internal/application/modules/makerdao"
	"github.com/chainsheet/chainsheet/internal/application/modules/yearn"
	"github.com/chainsheet/chainsheet/internal/domain/entities"
)

// moduleFactory builds a protocol reader from the shared dependencies.
type moduleFactory func(modules.Deps) (modules.ProtocolReader, error)

func defaultFactories() map[string]moduleFactory {
	return map[string]moduleFactory{
		modules.ModuleMakerdaoVaults: func(deps modules.Deps) (modules.ProtocolReader, error) {
			return makerdao.New(deps)
		},
		modules.ModuleLiquity: func(deps modules.Deps) (modules.ProtocolReader, error) {
			return liquity.New(deps)
		},
		modules.ModuleYearnVaults: func(deps modules.Deps) (modules.ProtocolReader, error) {
			return yearn.New(deps)
		},
		modules.ModuleEth2: func(deps modules.Deps) (modules.ProtocolReader, error) {
			return eth2.New(deps)
		},
	}
}

// Registry holds the activatable protocol readers. The set of known module
// names is static; what varies at runtime is which of them are active.
type Registry struct {
	deps      modules.Deps
	logger    *zap.Logger
	factories map[string]moduleFactory

	mu      sync.RWMutex
	active  map[string]modules.ProtocolReader
	premium bool
}

// NewRegistry creates a registry with the built-in module set.
func NewRegistry(deps modules.Deps, logger *zap.Logger) *Registry {
	return &Registry{
		deps:      deps,
		logger:    logger,
		factories: defaultFactories(),
		active:    make(map[string]modules.ProtocolReader),
	}
}

// Activate instantiates and activates a module. Activating an already
// active module is a no-op.
func (r *Registry) Activate(name string) error {
	factory, ok := r.factories[name]
	if !ok {
		return entities.NewInputError(fmt.Sprintf("unknown module name %q", name))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[name]; ok {
		return nil
	}

	reader, err := factory(r.deps)
	if err != nil {
		return fmt.Errorf("failed to activate module %s: %w", name, err)
	}
	if aware, ok := reader.(modules.PremiumAware); ok {
		aware.SetPremium(r.premium)
	}
	r.active[name] = reader
	r.logger.Info("Activated module", zap.String("module", name))
	return nil
}

// ActivateAll activates the named modules, reporting failures without
// aborting the rest.
func (r *Registry) ActivateAll(names []string) {
	for _, name := range names {
		if err := r.Activate(name); err != nil {
			r.logger.Error("Failed to activate module",
				zap.String("module", name),
				zap.Error(err),
			)
		}
	}
}

// Deactivate deactivates a module if it is active.
func (r *Registry) Deactivate(name string) {
	r.mu.Lock()
	reader, ok := r.active[name]
	if ok {
		delete(r.active, name)
	}
	r.mu.Unlock()

	if ok {
		reader.Deactivate()
		r.logger.Info("Deactivated module", zap.String("module", name))
	}
}

// ProcessNewModulesList diffs the desired module list against the active
// set, deactivating the removed modules and activating the added ones.
func (r *Registry) ProcessNewModulesList(names []string) error {
	wanted := make(map[string]struct{}, len(names))
	for _, name := range names {
		if _, ok := r.factories[name]; !ok {
			return entities.NewInputError(fmt.Sprintf("unknown module name %q", name))
		}
		wanted[name] = struct{}{}
	}

	for _, name := range r.ActiveNames() {
		if _, keep := wanted[name]; !keep {
			r.Deactivate(name)
		}
	}
	for _, name := range names {
		if err := r.Activate(name); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the active reader with the given name.
func (r *Registry) Get(name string) (modules.ProtocolReader, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reader, ok := r.active[name]
	return reader, ok
}

// IsActive reports whether the named module is active.
func (r *Registry) IsActive(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// ActiveReaders returns the active readers sorted by name for deterministic
// iteration.
func (r *Registry) ActiveReaders() []modules.ProtocolReader {
	r.mu.RLock()
	readers := make([]modules.ProtocolReader, 0, len(r.active))
	for _, reader := range r.active {
		readers = append(readers, reader)
	}
	r.mu.RUnlock()

	sort.Slice(readers, func(i, j int) bool { return readers[i].Name() < readers[j].Name() })
	return readers
}

// ActiveNames returns the names of the active modules, sorted.
func (r *Registry) ActiveNames() []string {
	readers := r.ActiveReaders()
	names := make([]string, len(readers))
	for i, reader := range readers {
		names[i] = reader.Name()
	}
	return names
}

// AvailableNames returns every module name the registry knows, sorted.
func (r *Registry) AvailableNames() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// SetPremium propagates premium status to all premium-aware active readers
// and remembers it for readers activated later.
func (r *Registry) SetPremium(active bool) {
	r.mu.Lock()
	r.premium = active
	readers := make([]modules.ProtocolReader, 0, len(r.active))
	for _, reader := range r.active {
		readers = append(readers, reader)
	}
	r.mu.Unlock()

	for _, reader := range readers {
		if aware, ok := reader.(modules.PremiumAware); ok {
			aware.SetPremium(active)
		}
	}
}
