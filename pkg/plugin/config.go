package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Kind selects the factory that materializes a manifest entry.
type Kind string

const (
	// KindGo loads a Go plugin shared object exporting a Plugin symbol.
	KindGo Kind = "go"
	// KindPython instantiates a class inside the embedded Python host.
	KindPython Kind = "python"
	// KindScript evaluates a JavaScript file on a script loop.
	KindScript Kind = "script"
)

// ManifestConfig describes the plugins to load at startup.
type ManifestConfig struct {
	PluginDir string                  `yaml:"pluginDir"`
	Defaults  Policy                  `yaml:"defaults"`
	Plugins   map[string]PluginConfig `yaml:"plugins"`
}

// PluginConfig is the manifest block for one plugin. The map key is the
// registry name.
type PluginConfig struct {
	Enabled    bool           `yaml:"enabled"`
	Kind       Kind           `yaml:"kind"`
	Path       string         `yaml:"path"`
	Capability Capability     `yaml:"capability"`
	Module     string         `yaml:"module"`
	Class      string         `yaml:"class"`
	Export     string         `yaml:"export"`
	Priority   *int           `yaml:"priority"`
	Stage      string         `yaml:"stage"`
	MimeTypes  []string       `yaml:"mimeTypes"`
	Languages  []string       `yaml:"languages"`
	Options    map[string]any `yaml:"options"`
	Policy     *Policy        `yaml:"policy"`
}

// LoadManifest reads a YAML manifest.
func LoadManifest(path string) (ManifestConfig, error) {
	var cfg ManifestConfig
	if path == "" {
		return cfg, errors.New("manifest path cannot be empty")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read plugin manifest: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("unmarshal plugin manifest: %w", err)
	}
	if cfg.Plugins == nil {
		cfg.Plugins = map[string]PluginConfig{}
	}
	if cfg.PluginDir != "" && !filepath.IsAbs(cfg.PluginDir) {
		cfg.PluginDir = filepath.Join(filepath.Dir(path), cfg.PluginDir)
	}
	return cfg, nil
}

// Validate checks every enabled entry for the fields its kind needs.
func (c ManifestConfig) Validate() error {
	for name, p := range c.Plugins {
		if err := ValidateName(name); err != nil {
			return err
		}
		if !p.Enabled {
			continue
		}
		if p.Stage != "" {
			if _, err := ParseStage(p.Stage); err != nil {
				return fmt.Errorf("plugin %s: %w", name, err)
			}
		}
		if p.Capability != "" {
			if _, err := ParseCapability(string(p.Capability)); err != nil {
				return fmt.Errorf("plugin %s: %w", name, err)
			}
		}
		switch p.kind() {
		case KindGo, KindScript:
			if p.Path == "" {
				return fmt.Errorf("plugin %s path cannot be empty when enabled", name)
			}
		case KindPython:
			if p.Module == "" || p.Class == "" {
				return fmt.Errorf("plugin %s needs module and class", name)
			}
		default:
			return fmt.Errorf("plugin %s has unknown kind %q", name, p.Kind)
		}
		if p.kind() != KindGo && p.Capability == "" {
			return fmt.Errorf("plugin %s needs a capability", name)
		}
	}
	return nil
}

func (p PluginConfig) kind() Kind {
	if p.Kind == "" {
		return KindGo
	}
	return p.Kind
}

// ResolvePath joins relative plugin paths onto dir.
func (p PluginConfig) ResolvePath(dir string) string {
	if p.Path == "" || filepath.IsAbs(p.Path) || dir == "" {
		return p.Path
	}
	return filepath.Join(dir, p.Path)
}

// StageOrDefault parses the configured stage, falling back to DefaultStage.
func (p PluginConfig) StageOrDefault() Stage {
	s, err := ParseStage(p.Stage)
	if err != nil {
		return DefaultStage
	}
	return s
}

// PriorityOr returns the configured priority or fallback.
func (p PluginConfig) PriorityOr(fallback int) int {
	if p.Priority == nil {
		return fallback
	}
	return *p.Priority
}
