package registry

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"seerlord/internal/domain"
)

// entry pairs a plugin with the directory it was loaded from. The directory
// is kept so sibling config files can be resolved later.
type entry struct {
	plugin domain.AgentPlugin
	dir    string
}

// Registry holds every registered plugin and provides name-keyed lookup.
// It is populated during the single-threaded startup phase and read-mostly
// afterwards; the lock exists for the re-registration case.
type Registry struct {
	mu      sync.RWMutex
	plugins map[string]entry
	bus     domain.EventBus
	logger  *slog.Logger
}

// New creates an empty plugin registry.
func New(bus domain.EventBus, logger *slog.Logger) *Registry {
	if bus == nil {
		bus = domain.NopBus{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		plugins: make(map[string]entry),
		bus:     bus,
		logger:  logger,
	}
}

// Register upserts a plugin keyed by its name. Registering a name that
// already exists overwrites the prior entry; the latest registration wins.
func (r *Registry) Register(ctx context.Context, plugin domain.AgentPlugin, dir string) error {
	name := plugin.Name()
	if name == "" {
		return domain.NewDomainError("Registry.Register", domain.ErrInvalidInput, "plugin name is empty")
	}

	r.mu.Lock()
	_, replaced := r.plugins[name]
	r.plugins[name] = entry{plugin: plugin, dir: dir}
	r.mu.Unlock()

	r.logger.Info("plugin registered",
		"name", name,
		"dir", dir,
		"system", domain.IsSystemPlugin(name),
		"replaced", replaced,
	)
	r.bus.Publish(ctx, domain.NewEvent(domain.EventPluginRegistered, map[string]string{
		"name": name,
		"dir":  dir,
	}))
	return nil
}

// Get returns the plugin registered under name.
func (r *Registry) Get(name string) (domain.AgentPlugin, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plugins[name]
	if !ok {
		return nil, domain.NewDomainError("Registry.Get", domain.ErrPluginNotFound, name)
	}
	return e.plugin, nil
}

// Dir returns the directory a plugin was registered from.
func (r *Registry) Dir(name string) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.plugins[name]
	if !ok {
		return "", domain.NewDomainError("Registry.Dir", domain.ErrPluginNotFound, name)
	}
	return e.dir, nil
}

// List returns every non-system plugin sorted by name. System plugins stay
// invokable through Get but never appear in user-facing listings or planner
// prompts.
func (r *Registry) List() []domain.AgentPlugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]domain.AgentPlugin, 0, len(r.plugins))
	for name, e := range r.plugins {
		if domain.IsSystemPlugin(name) {
			continue
		}
		out = append(out, e.plugin)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name() < out[j].Name() })
	return out
}

// Len returns the total number of registered plugins, system ones included.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.plugins)
}
