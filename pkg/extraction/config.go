package extraction

import (
	"encoding/json"
	"fmt"
	"slices"
)

// Config controls one extraction request. Pointer fields distinguish
// "unset" from the zero value.
type Config struct {
	UseCache                 bool                 `json:"use_cache"`
	ForceOCR                 *bool                `json:"force_ocr,omitempty"`
	OCR                      *OcrConfig           `json:"ocr,omitempty"`
	Postprocessor            *PostProcessorConfig `json:"postprocessor,omitempty"`
	Validation               *ValidationConfig    `json:"validation,omitempty"`
	MaxConcurrentExtractions *int                 `json:"max_concurrent_extractions,omitempty"`
}

// OcrConfig selects and tunes an OCR backend.
type OcrConfig struct {
	Backend   string           `json:"backend"`
	Language  string           `json:"language"`
	Tesseract *TesseractConfig `json:"tesseract_config,omitempty"`
}

// TesseractConfig holds engine specific knobs.
type TesseractConfig struct {
	PSM                  int    `json:"psm"`
	OEM                  int    `json:"oem"`
	CharWhitelist        string `json:"tessedit_char_whitelist,omitempty"`
	EnableTableDetection bool   `json:"enable_table_detection"`
}

// PostProcessorConfig filters which post-processors run.
//
// EnabledProcessors is a whitelist (nil means all). DisabledProcessors is a
// blacklist applied after the whitelist.
type PostProcessorConfig struct {
	Enabled            bool     `json:"enabled"`
	EnabledProcessors  []string `json:"enabled_processors,omitempty"`
	DisabledProcessors []string `json:"disabled_processors,omitempty"`
}

// ValidationConfig toggles the validator chain.
type ValidationConfig struct {
	Enabled bool `json:"enabled"`
}

// DefaultConfig returns a config with post-processing and validation on.
func DefaultConfig() *Config {
	return &Config{
		UseCache:      true,
		Postprocessor: &PostProcessorConfig{Enabled: true},
		Validation:    &ValidationConfig{Enabled: true},
	}
}

// DecodeConfig parses a serialized config. An empty payload yields
// DefaultConfig.
func DecodeConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if len(data) == 0 {
		return cfg, nil
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("decode extraction config: %w", err)
	}
	return cfg, nil
}

// Encode serializes the config. A nil config encodes DefaultConfig.
func (c *Config) Encode() ([]byte, error) {
	if c == nil {
		c = DefaultConfig()
	}
	return json.Marshal(c)
}

// PostProcessingEnabled reports whether the post-processor chain should run.
func (c *Config) PostProcessingEnabled() bool {
	if c == nil || c.Postprocessor == nil {
		return true
	}
	return c.Postprocessor.Enabled
}

// ValidationEnabled reports whether the validator chain should run.
func (c *Config) ValidationEnabled() bool {
	if c == nil || c.Validation == nil {
		return true
	}
	return c.Validation.Enabled
}

// Allows reports whether the named processor passes the whitelist and
// blacklist. A nil config allows everything.
func (p *PostProcessorConfig) Allows(name string) bool {
	if p == nil {
		return true
	}
	if p.EnabledProcessors != nil && !slices.Contains(p.EnabledProcessors, name) {
		return false
	}
	return !slices.Contains(p.DisabledProcessors, name)
}

// UnmarshalJSON defaults Enabled to true when the key is absent.
func (p *PostProcessorConfig) UnmarshalJSON(data []byte) error {
	type raw PostProcessorConfig
	out := raw{Enabled: true}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*p = PostProcessorConfig(out)
	return nil
}

// UnmarshalJSON defaults Enabled to true when the key is absent.
func (v *ValidationConfig) UnmarshalJSON(data []byte) error {
	type raw ValidationConfig
	out := raw{Enabled: true}
	if err := json.Unmarshal(data, &out); err != nil {
		return err
	}
	*v = ValidationConfig(out)
	return nil
}
