package plugin

import (
	"context"
	"errors"
	"fmt"
	goplugin "plugin"
)

// Loader resolves plugin binaries into Plugin implementations.
type Loader interface {
	Load(path string) (Plugin, error)
}

// GoPluginLoader opens Go plugin shared objects built with -buildmode=plugin.
type GoPluginLoader struct{}

// Load opens the shared object and resolves its exported `Plugin` symbol,
// which may be a value, a pointer to a value or a constructor.
func (GoPluginLoader) Load(path string) (Plugin, error) {
	if path == "" {
		return nil, errors.New("plugin path cannot be empty")
	}
	so, err := goplugin.Open(path)
	if err != nil {
		return nil, err
	}
	symbol, err := so.Lookup("Plugin")
	if err != nil {
		return nil, err
	}
	switch p := symbol.(type) {
	case Plugin:
		return p, nil
	case *Plugin:
		if p == nil || *p == nil {
			return nil, errors.New("plugin symbol is nil")
		}
		return *p, nil
	case func() Plugin:
		return p(), nil
	default:
		return nil, fmt.Errorf("plugin symbol in %s must implement plugin.Plugin, got %T", path, symbol)
	}
}

// Configurable is implemented by Go plugins that accept the options of their
// manifest entry. Configure runs before the plugin is registered.
type Configurable interface {
	Configure(options map[string]any) error
}

// Factory materializes one manifest entry into a plugin.
type Factory interface {
	Build(ctx context.Context, name string, cfg PluginConfig) (Plugin, error)
}

// FactoryFunc adapts a function to Factory.
type FactoryFunc func(ctx context.Context, name string, cfg PluginConfig) (Plugin, error)

// Build implements Factory.
func (f FactoryFunc) Build(ctx context.Context, name string, cfg PluginConfig) (Plugin, error) {
	return f(ctx, name, cfg)
}

// GoFactory builds KindGo entries through a Loader.
type GoFactory struct {
	Loader    Loader
	PluginDir string
}

// Build implements Factory. The loaded plugin must report the manifest name.
func (f GoFactory) Build(_ context.Context, name string, cfg PluginConfig) (Plugin, error) {
	loader := f.Loader
	if loader == nil {
		loader = GoPluginLoader{}
	}
	p, err := loader.Load(cfg.ResolvePath(f.PluginDir))
	if err != nil {
		return nil, fmt.Errorf("load plugin %s: %w", name, err)
	}
	if p.Name() != name {
		return nil, fmt.Errorf("plugin name mismatch: %s != %s", p.Name(), name)
	}
	if c, ok := p.(Configurable); ok && len(cfg.Options) > 0 {
		if err := c.Configure(cfg.Options); err != nil {
			return nil, fmt.Errorf("configure plugin %s: %w", name, err)
		}
	}
	return p, nil
}
