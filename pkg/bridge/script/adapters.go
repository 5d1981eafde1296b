package script

import (
	"context"
	"errors"
	"log/slog"

	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/plugin"
)

func resultArgs(result *extraction.Result) func() ([]any, error) {
	return func() ([]any, error) {
		c, err := bridge.ToContainer(result)
		if err != nil {
			return nil, err
		}
		return []any{c}, nil
	}
}

// Extractor adapts a script object with name, supported_mime_types and
// extract_bytes(content, mimeType, config).
type Extractor struct {
	*handle
	mimeTypes []string
	priority  int
}

func NewExtractor(ctx context.Context, obj *Value) (*Extractor, error) {
	e := &Extractor{}
	h, err := newHandle(ctx, obj, "DocumentExtractor", []string{"name", "supported_mime_types", "extract_bytes"}, nil,
		func(a attrs, _ *handle) error {
			var err error
			if e.mimeTypes, err = a.strings("supported_mime_types"); err != nil {
				return err
			}
			e.priority = a.optionalInt("priority", 0)
			return nil
		})
	if err != nil {
		return nil, err
	}
	e.handle = h
	return e, nil
}

func (e *Extractor) ExtractBytes(ctx context.Context, content []byte, mimeType string, cfg *extraction.Config) (*extraction.Result, error) {
	raw, err := e.call(ctx, "extract_bytes", false, func() ([]any, error) {
		c, err := bridge.ToContainer(cfg)
		if err != nil {
			return nil, err
		}
		return []any{content, mimeType, c}, nil
	})
	if err != nil {
		return nil, err
	}
	res, err := bridge.ResultFromRaw(raw)
	if err != nil {
		return nil, err
	}
	if res.MimeType == "" {
		res.MimeType = mimeType
	}
	return res, nil
}

func (e *Extractor) SupportedMimeTypes() []string { return e.mimeTypes }
func (e *Extractor) Priority() int                { return e.priority }

// OcrBackend adapts a script object with name, supported_languages and
// process_image(image, language). process_image may return text or a result.
type OcrBackend struct {
	*handle
	languages []string
	kind      plugin.BackendKind
	priority  int
}

func NewOcrBackend(ctx context.Context, obj *Value) (*OcrBackend, error) {
	o := &OcrBackend{kind: plugin.BackendCustom}
	h, err := newHandle(ctx, obj, "OcrBackend", []string{"name", "supported_languages", "process_image"}, nil,
		func(a attrs, _ *handle) error {
			var err error
			if o.languages, err = a.strings("supported_languages"); err != nil {
				return err
			}
			if kind, ok := a.optionalString("backend_type"); ok {
				o.kind, _ = plugin.ParseBackendKind(kind)
			}
			o.priority = a.optionalInt("priority", 0)
			return nil
		})
	if err != nil {
		return nil, err
	}
	o.handle = h
	return o, nil
}

func (o *OcrBackend) ProcessImage(ctx context.Context, image []byte, cfg *extraction.OcrConfig) (*extraction.Result, error) {
	lang := ""
	if cfg != nil {
		lang = cfg.Language
	}
	raw, err := o.call(ctx, "process_image", false, func() ([]any, error) { return []any{image, lang}, nil })
	if err != nil {
		return nil, err
	}
	if text, ok := raw.(string); ok {
		return &extraction.Result{Content: text, MimeType: "text/plain"}, nil
	}
	res, err := bridge.ResultFromRaw(raw)
	if err != nil {
		return nil, err
	}
	if res.MimeType == "" {
		res.MimeType = "text/plain"
	}
	return res, nil
}

func (o *OcrBackend) BackendKind() plugin.BackendKind { return o.kind }
func (o *OcrBackend) SupportedLanguages() []string    { return o.languages }
func (o *OcrBackend) SupportsTableDetection() bool    { return false }
func (o *OcrBackend) Priority() int                   { return o.priority }

// PostProcessor adapts a script object with name and process(result). The
// returned object is overlaid onto the result; a string is parsed as a
// serialized result and replaces it.
type PostProcessor struct {
	*handle
	stage    plugin.Stage
	priority int
}

func NewPostProcessor(ctx context.Context, obj *Value) (*PostProcessor, error) {
	p := &PostProcessor{stage: plugin.DefaultStage}
	h, err := newHandle(ctx, obj, "PostProcessor", []string{"name", "process"}, []string{"should_process"},
		func(a attrs, h *handle) error {
			if stage, ok := a.optionalString("processing_stage"); ok {
				parsed, err := plugin.ParseStage(stage)
				if err != nil {
					h.log.Warn("invalid processing stage, using default", slog.String("stage", stage))
				}
				p.stage = parsed
			}
			p.priority = a.optionalInt("priority", plugin.DefaultProcessorPriority)
			return nil
		})
	if err != nil {
		return nil, err
	}
	p.handle = h
	return p, nil
}

func (p *PostProcessor) Process(ctx context.Context, result *extraction.Result, _ *extraction.Config) error {
	raw, err := p.call(ctx, "process", false, resultArgs(result))
	if err != nil {
		return err
	}
	if text, ok := raw.(string); ok {
		replaced, err := bridge.DecodeResult([]byte(text))
		if err != nil {
			return err
		}
		result.ReplaceWith(replaced)
		return nil
	}
	return bridge.MergeContainer(raw, result)
}

// ShouldProcess implements plugin.ProcessGate. Errors default to true.
func (p *PostProcessor) ShouldProcess(result *extraction.Result, _ *extraction.Config) bool {
	if !p.optional["should_process"] {
		return true
	}
	return p.predicate(context.Background(), "should_process", resultArgs(result))
}

func (p *PostProcessor) Stage() plugin.Stage { return p.stage }
func (p *PostProcessor) Priority() int       { return p.priority }

// Validator adapts a script object with name and validate(result). validate
// rejects by throwing a ValidationError or by returning or resolving to a
// non-empty message.
type Validator struct {
	*handle
	priority int
}

func NewValidator(ctx context.Context, obj *Value) (*Validator, error) {
	v := &Validator{}
	h, err := newHandle(ctx, obj, "Validator", []string{"name", "validate"}, []string{"should_validate"},
		func(a attrs, _ *handle) error {
			v.priority = a.optionalInt("priority", plugin.DefaultValidatorPriority)
			return nil
		})
	if err != nil {
		return nil, err
	}
	v.handle = h
	return v, nil
}

func (v *Validator) Validate(ctx context.Context, result *extraction.Result, _ *extraction.Config) error {
	raw, err := v.call(ctx, "validate", true, resultArgs(result))
	var exc *Exception
	if errors.As(err, &exc) && exc.IsValidationError() {
		return &plugin.ValidationFailure{Validator: v.name, Message: exc.Message, Err: err}
	}
	if err != nil {
		return err
	}
	if msg, ok := raw.(string); ok && msg != "" {
		return &plugin.ValidationFailure{Validator: v.name, Message: msg}
	}
	return nil
}

// ShouldValidate implements plugin.Validator. Errors default to true.
func (v *Validator) ShouldValidate(result *extraction.Result, _ *extraction.Config) bool {
	if !v.optional["should_validate"] {
		return true
	}
	return v.predicate(context.Background(), "should_validate", resultArgs(result))
}

func (v *Validator) Priority() int { return v.priority }

var (
	_ plugin.DocumentExtractor = (*Extractor)(nil)
	_ plugin.OcrBackend        = (*OcrBackend)(nil)
	_ plugin.PostProcessor     = (*PostProcessor)(nil)
	_ plugin.ProcessGate       = (*PostProcessor)(nil)
	_ plugin.Validator         = (*Validator)(nil)
)
