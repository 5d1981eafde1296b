// Package native adapts plain callbacks, typically C function pointers
// trampolined through pkg/boundary, into capability implementations. Every
// call is offloaded to a bridge.Executor because the callee may block.
package native

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/plugin"
)

// Version reported by every callback-backed plugin.
const Version = "ffi-1.0.0"

// Callback shapes. The bool reports a non-null return. Byte slices handed to a
// callback are only valid for the duration of the call.
type (
	ExtractorFunc func(content []byte, mimeType string, configJSON string) ([]byte, bool)
	OcrFunc       func(image []byte, configJSON string) ([]byte, bool)
	ProcessorFunc func(resultJSON string) ([]byte, bool)
	// ValidatorFunc returns no value on success and an error message on
	// rejection.
	ValidatorFunc func(resultJSON string) ([]byte, bool)
)

// Option customizes an adapter.
type Option func(*base)

// WithExecutor runs calls on e instead of bridge.DefaultExecutor().
func WithExecutor(e *bridge.Executor) Option {
	return func(b *base) {
		if e != nil {
			b.exec = e
		}
	}
}

type base struct {
	name string
	exec *bridge.Executor
}

func newBase(name string, opts []Option) base {
	b := base{name: name, exec: bridge.DefaultExecutor()}
	for _, opt := range opts {
		if opt != nil {
			opt(&b)
		}
	}
	return b
}

func (b *base) Name() string              { return b.name }
func (b *base) Version() string           { return Version }
func (b *base) Initialize() error         { return nil }
func (b *base) Shutdown() error           { return nil }
func (b *base) Affinity() bridge.Affinity { return bridge.Unconstrained }

func (b *base) spec(method string) bridge.CallSpec {
	return bridge.CallSpec{Plugin: b.name, Method: method, Affinity: bridge.Unconstrained, Executor: b.exec}
}

func rawBytes(out []byte, ok bool) any {
	if !ok {
		return nil
	}
	return out
}

// Extractor is a DocumentExtractor backed by an ExtractorFunc.
type Extractor struct {
	base
	fn        ExtractorFunc
	mimeTypes []string
	priority  int
}

// NewExtractor wraps fn. mimeTypes may include "type/*" wildcards.
func NewExtractor(name string, fn ExtractorFunc, mimeTypes []string, priority int, opts ...Option) (*Extractor, error) {
	if fn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "callback cannot be nil", xerrors.WithPlugin(name))
	}
	return &Extractor{base: newBase(name, opts), fn: fn, mimeTypes: mimeTypes, priority: priority}, nil
}

// ExtractBytes implements plugin.DocumentExtractor.
func (e *Extractor) ExtractBytes(ctx context.Context, content []byte, mimeType string, cfg *extraction.Config) (*extraction.Result, error) {
	return bridge.Call(ctx, e.spec("extract_bytes"),
		func() (string, error) { return bridge.EncodeConfig(cfg) },
		func(_ context.Context, configJSON string) (any, error) {
			return rawBytes(e.fn(content, mimeType, configJSON)), nil
		},
		func(raw any) (*extraction.Result, error) { return bridge.ResultFromRaw(raw) })
}

// SupportedMimeTypes implements plugin.DocumentExtractor.
func (e *Extractor) SupportedMimeTypes() []string { return e.mimeTypes }

// Priority implements plugin.DocumentExtractor.
func (e *Extractor) Priority() int { return e.priority }

// OcrBackend is an OcrBackend backed by an OcrFunc. It reports recognized
// text as a text/plain result.
type OcrBackend struct {
	base
	fn        OcrFunc
	languages []string
}

// NewOcrBackend wraps fn. A nil languages list accepts every language.
func NewOcrBackend(name string, fn OcrFunc, languages []string, opts ...Option) (*OcrBackend, error) {
	if fn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "callback cannot be nil", xerrors.WithPlugin(name))
	}
	return &OcrBackend{base: newBase(name, opts), fn: fn, languages: languages}, nil
}

// ProcessImage implements plugin.OcrBackend.
func (o *OcrBackend) ProcessImage(ctx context.Context, image []byte, cfg *extraction.OcrConfig) (*extraction.Result, error) {
	return bridge.Call(ctx, o.spec("process_image"),
		func() (string, error) {
			raw, err := json.Marshal(cfg)
			return string(raw), err
		},
		func(_ context.Context, configJSON string) (any, error) {
			return rawBytes(o.fn(image, configJSON)), nil
		},
		func(raw any) (*extraction.Result, error) {
			return &extraction.Result{Content: string(raw.([]byte)), MimeType: "text/plain"}, nil
		})
}

// BackendKind implements plugin.OcrBackend.
func (o *OcrBackend) BackendKind() plugin.BackendKind { return plugin.BackendCustom }

// SupportedLanguages implements plugin.OcrBackend.
func (o *OcrBackend) SupportedLanguages() []string { return o.languages }

// SupportsTableDetection implements plugin.OcrBackend.
func (o *OcrBackend) SupportsTableDetection() bool { return false }

// Priority implements plugin.OcrBackend.
func (o *OcrBackend) Priority() int { return 0 }

// PostProcessor is a PostProcessor backed by a ProcessorFunc. The callback
// returns the whole processed result, which replaces the input in place.
type PostProcessor struct {
	base
	fn       ProcessorFunc
	stage    plugin.Stage
	priority int
}

// NewPostProcessor wraps fn.
func NewPostProcessor(name string, fn ProcessorFunc, stage plugin.Stage, priority int, opts ...Option) (*PostProcessor, error) {
	if fn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "callback cannot be nil", xerrors.WithPlugin(name))
	}
	return &PostProcessor{base: newBase(name, opts), fn: fn, stage: stage, priority: priority}, nil
}

// Process implements plugin.PostProcessor.
func (p *PostProcessor) Process(ctx context.Context, result *extraction.Result, _ *extraction.Config) error {
	processed, err := bridge.Call(ctx, p.spec("process"),
		func() (string, error) { return bridge.EncodeResult(result) },
		func(_ context.Context, resultJSON string) (any, error) {
			return rawBytes(p.fn(resultJSON)), nil
		},
		func(raw any) (*extraction.Result, error) { return bridge.ResultFromRaw(raw) })
	if err != nil {
		return err
	}
	result.ReplaceWith(processed)
	return nil
}

// Stage implements plugin.PostProcessor.
func (p *PostProcessor) Stage() plugin.Stage { return p.stage }

// Priority implements plugin.PostProcessor.
func (p *PostProcessor) Priority() int { return p.priority }

// Validator is a Validator backed by a ValidatorFunc.
type Validator struct {
	base
	fn       ValidatorFunc
	priority int
}

// NewValidator wraps fn.
func NewValidator(name string, fn ValidatorFunc, priority int, opts ...Option) (*Validator, error) {
	if fn == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "callback cannot be nil", xerrors.WithPlugin(name))
	}
	return &Validator{base: newBase(name, opts), fn: fn, priority: priority}, nil
}

// Validate implements plugin.Validator. A returned message rejects the result.
func (v *Validator) Validate(ctx context.Context, result *extraction.Result, _ *extraction.Config) error {
	spec := v.spec("validate")
	spec.AllowNull = true
	msg, err := bridge.Call(ctx, spec,
		func() (string, error) { return bridge.EncodeResult(result) },
		func(_ context.Context, resultJSON string) (any, error) {
			return rawBytes(v.fn(resultJSON)), nil
		},
		func(raw any) (string, error) {
			if raw == nil {
				return "", nil
			}
			return string(raw.([]byte)), nil
		})
	if err != nil {
		return err
	}
	if msg != "" {
		return &plugin.ValidationFailure{Validator: v.name, Message: msg}
	}
	return nil
}

// ShouldValidate implements plugin.Validator.
func (v *Validator) ShouldValidate(*extraction.Result, *extraction.Config) bool { return true }

// Priority implements plugin.Validator.
func (v *Validator) Priority() int { return v.priority }

// ParseMimeList splits a comma separated MIME list, dropping blanks.
func ParseMimeList(csv string) []string {
	var out []string
	for _, part := range strings.Split(csv, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// ParseLanguageList decodes a JSON array of language codes. An empty input
// yields nil, meaning every language.
func ParseLanguageList(languagesJSON string) ([]string, error) {
	if strings.TrimSpace(languagesJSON) == "" {
		return nil, nil
	}
	var langs []string
	if err := json.Unmarshal([]byte(languagesJSON), &langs); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "languages must be a JSON array of strings")
	}
	for i, l := range langs {
		langs[i] = strings.TrimSpace(l)
		if langs[i] == "" {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("language #%d is empty", i))
		}
	}
	return langs, nil
}

var (
	_ plugin.DocumentExtractor = (*Extractor)(nil)
	_ plugin.OcrBackend        = (*OcrBackend)(nil)
	_ plugin.PostProcessor     = (*PostProcessor)(nil)
	_ plugin.Validator         = (*Validator)(nil)
	_ bridge.Bridged           = (*Validator)(nil)
)
