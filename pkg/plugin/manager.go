package plugin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"ExtractBridge/pkg/logger"
)

// Manager loads the plugins described by a manifest into a set of registries
// and unloads them again on shutdown.
type Manager struct {
	mu        sync.Mutex
	cfg       ManifestConfig
	regs      *Registries
	factories map[Kind]Factory
	loaded    []loadedPlugin
	log       *slog.Logger
}

type loadedPlugin struct {
	name       string
	capability Capability
}

// Option modifies the behaviour of a plugin manager instance.
type Option func(*Manager)

// WithFactory registers the factory used for entries of the given kind.
func WithFactory(kind Kind, f Factory) Option {
	return func(m *Manager) {
		if f != nil {
			m.factories[kind] = f
		}
	}
}

// WithLoader overrides the loader used by the built-in Go factory.
func WithLoader(loader Loader) Option {
	return func(m *Manager) {
		if loader != nil {
			m.factories[KindGo] = GoFactory{Loader: loader, PluginDir: m.cfg.PluginDir}
		}
	}
}

// NewManager validates cfg and prepares a manager targeting regs. A nil regs
// uses Default().
func NewManager(cfg ManifestConfig, regs *Registries, opts ...Option) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if regs == nil {
		regs = Default()
	}
	m := &Manager{
		cfg:       cfg,
		regs:      regs,
		factories: map[Kind]Factory{KindGo: GoFactory{PluginDir: cfg.PluginDir}},
		log:       logger.Named("plugin-manager"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m, nil
}

// LoadAll builds and registers every enabled entry in name order. It stops at
// the first failure; plugins registered before it stay registered.
func (m *Manager) LoadAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.cfg.Plugins))
	for name := range m.cfg.Plugins {
		names = append(names, name)
	}
	slices.Sort(names)

	for _, name := range names {
		pc := m.cfg.Plugins[name]
		if !pc.Enabled {
			continue
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		capability, err := m.load(ctx, name, pc)
		if err != nil {
			return fmt.Errorf("plugin %s: %w", name, err)
		}
		m.loaded = append(m.loaded, loadedPlugin{name: name, capability: capability})
		m.log.Info("plugin loaded",
			slog.String("plugin", name),
			slog.String("kind", string(pc.kind())),
			slog.String("capability", string(capability)))
	}
	return nil
}

func (m *Manager) load(ctx context.Context, name string, pc PluginConfig) (Capability, error) {
	factory, ok := m.factories[pc.kind()]
	if !ok {
		return "", fmt.Errorf("no factory for kind %q", pc.kind())
	}
	p, err := factory.Build(ctx, name, pc)
	if err != nil {
		return "", err
	}
	capability := pc.Capability
	if capability == "" {
		if capability, ok = CapabilityOf(p); !ok {
			return "", fmt.Errorf("plugin implements none of the capability contracts")
		}
	} else if capability, err = ParseCapability(string(capability)); err != nil {
		return "", err
	}
	if err := MergePolicies(m.cfg.Defaults, pc.Policy).Permits(capability); err != nil {
		return "", err
	}
	if err := m.regs.RegisterAs(capability, p); err != nil {
		return "", err
	}
	return capability, nil
}

// Loaded returns the names registered by LoadAll, in load order.
func (m *Manager) Loaded() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.loaded))
	for _, lp := range m.loaded {
		out = append(out, lp.name)
	}
	return out
}

// UnloadAll unregisters every plugin loaded by this manager in reverse
// order. Errors are joined.
func (m *Manager) UnloadAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for i := len(m.loaded) - 1; i >= 0; i-- {
		lp := m.loaded[i]
		if err := m.regs.Unregister(lp.capability, lp.name); err != nil && !errors.Is(err, ErrNotFound) {
			errs = append(errs, err)
		}
	}
	m.loaded = nil
	return errors.Join(errs...)
}
