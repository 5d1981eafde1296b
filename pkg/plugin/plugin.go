// Package plugin defines the four capability contracts of the extraction
// bridge, the thread-safe registries that hold their implementations and the
// selection rules the extraction pipeline uses to pick and run them.
package plugin

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"ExtractBridge/pkg/extraction"
)

// Defaults applied when a plugin does not state its own value.
const (
	DefaultVersion           = "1.0.0"
	DefaultValidatorPriority = 50
	DefaultProcessorPriority = 0
	DefaultStage             = StageMiddle
)

// Plugin is the identity and lifecycle contract shared by every capability.
type Plugin interface {
	// Name must be non-empty and contain no whitespace. It is the registry key.
	Name() string
	Version() string
	// Initialize is called exactly once while the plugin is being registered.
	Initialize() error
	// Shutdown is called exactly once when the plugin leaves its registry.
	Shutdown() error
}

// DocumentExtractor turns raw document bytes into an extraction result.
type DocumentExtractor interface {
	Plugin
	ExtractBytes(ctx context.Context, content []byte, mimeType string, cfg *extraction.Config) (*extraction.Result, error)
	// SupportedMimeTypes may contain wildcard entries such as "text/*".
	SupportedMimeTypes() []string
	Priority() int
}

// FileExtractor is implemented by extractors that can read from a path
// directly instead of being handed the bytes.
type FileExtractor interface {
	ExtractFile(ctx context.Context, path, mimeType string, cfg *extraction.Config) (*extraction.Result, error)
}

// OcrBackend recognizes text in images.
type OcrBackend interface {
	Plugin
	ProcessImage(ctx context.Context, image []byte, cfg *extraction.OcrConfig) (*extraction.Result, error)
	BackendKind() BackendKind
	// SupportedLanguages returns language codes. An empty list means every
	// language is accepted.
	SupportedLanguages() []string
	SupportsTableDetection() bool
	Priority() int
}

// PostProcessor mutates a result in place after extraction.
type PostProcessor interface {
	Plugin
	Process(ctx context.Context, result *extraction.Result, cfg *extraction.Config) error
	Stage() Stage
	Priority() int
}

// ProcessGate lets a post-processor opt out for a particular result.
type ProcessGate interface {
	ShouldProcess(result *extraction.Result, cfg *extraction.Config) bool
}

// Validator inspects a finished result and rejects it by returning an error.
type Validator interface {
	Plugin
	Validate(ctx context.Context, result *extraction.Result, cfg *extraction.Config) error
	ShouldValidate(result *extraction.Result, cfg *extraction.Config) bool
	Priority() int
}

// Capability names one of the four extension points.
type Capability string

const (
	CapabilityDocumentExtractor Capability = "document_extractor"
	CapabilityOcrBackend        Capability = "ocr_backend"
	CapabilityPostProcessor     Capability = "post_processor"
	CapabilityValidator         Capability = "validator"
)

// Capabilities lists every capability in pipeline order.
var Capabilities = []Capability{
	CapabilityDocumentExtractor,
	CapabilityOcrBackend,
	CapabilityPostProcessor,
	CapabilityValidator,
}

func (c Capability) String() string { return string(c) }

// ParseCapability accepts the canonical names plus a few short aliases.
func ParseCapability(s string) (Capability, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "document_extractor", "extractor":
		return CapabilityDocumentExtractor, nil
	case "ocr_backend", "ocr":
		return CapabilityOcrBackend, nil
	case "post_processor", "postprocessor", "processor":
		return CapabilityPostProcessor, nil
	case "validator":
		return CapabilityValidator, nil
	}
	return "", fmt.Errorf("unknown capability %q", s)
}

// CapabilityOf reports which contract p implements, checking in pipeline order.
func CapabilityOf(p Plugin) (Capability, bool) {
	switch p.(type) {
	case DocumentExtractor:
		return CapabilityDocumentExtractor, true
	case OcrBackend:
		return CapabilityOcrBackend, true
	case PostProcessor:
		return CapabilityPostProcessor, true
	case Validator:
		return CapabilityValidator, true
	}
	return "", false
}

// Stage partitions post-processors. Stages run in ascending order.
type Stage int

const (
	StageEarly Stage = iota
	StageMiddle
	StageLate
)

func (s Stage) String() string {
	switch s {
	case StageEarly:
		return "early"
	case StageMiddle:
		return "middle"
	case StageLate:
		return "late"
	}
	return fmt.Sprintf("stage(%d)", int(s))
}

// ParseStage parses "early", "middle" or "late" case-insensitively.
func ParseStage(s string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "early":
		return StageEarly, nil
	case "middle":
		return StageMiddle, nil
	case "late":
		return StageLate, nil
	}
	return DefaultStage, fmt.Errorf("invalid processing stage %q", s)
}

// BackendKind identifies the OCR engine family.
type BackendKind string

const (
	BackendTesseract BackendKind = "tesseract"
	BackendPaddle    BackendKind = "paddle"
	BackendCustom    BackendKind = "custom"
)

// ParseBackendKind parses an engine family name case-insensitively.
func ParseBackendKind(s string) (BackendKind, error) {
	switch k := BackendKind(strings.ToLower(strings.TrimSpace(s))); k {
	case BackendTesseract, BackendPaddle, BackendCustom:
		return k, nil
	}
	return BackendCustom, fmt.Errorf("invalid OCR backend type %q", s)
}

// ValidateName enforces the registry key rule: non-empty, no whitespace.
func ValidateName(name string) error {
	if name == "" {
		return wrapInvalidName(name, "plugin name cannot be empty")
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return wrapInvalidName(name, fmt.Sprintf("plugin name %q cannot contain whitespace", name))
	}
	return nil
}

// SupportsLanguage reports whether backend accepts lang. Comparison is
// ASCII case-insensitive and an empty language list accepts everything. A
// backend whose SupportedLanguages panics supports nothing.
func SupportsLanguage(backend OcrBackend, lang string) bool {
	langs, ok := guardValue(backend.SupportedLanguages)
	if !ok {
		return false
	}
	if len(langs) == 0 {
		return true
	}
	for _, l := range langs {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// Identity is an embeddable Plugin implementation with no-op lifecycle hooks.
type Identity struct {
	PluginName    string
	PluginVersion string
}

// Name implements Plugin.
func (i Identity) Name() string { return i.PluginName }

// Version implements Plugin. Empty versions report DefaultVersion.
func (i Identity) Version() string {
	if i.PluginVersion == "" {
		return DefaultVersion
	}
	return i.PluginVersion
}

// Initialize implements Plugin.
func (Identity) Initialize() error { return nil }

// Shutdown implements Plugin.
func (Identity) Shutdown() error { return nil }
