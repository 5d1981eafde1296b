package interp

import (
	"context"
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

// Extractor wraps an object with name, supported_mime_types and
// extract_bytes(content, mime_type) methods.
type Extractor struct {
	*handle
	mimeTypes []string
	priority  int
}

// NewExtractor validates obj and caches its metadata.
func NewExtractor(ctx context.Context, in Interpreter, obj Object, opts ...Option) (*Extractor, error) {
	e := &Extractor{}
	h, err := newHandle(ctx, in, obj, "DocumentExtractor",
		[]string{"name", "supported_mime_types", "extract_bytes"}, nil,
		func(s Session, h *handle) error {
			var err error
			if e.mimeTypes, err = requiredStrings(s, h, "supported_mime_types"); err != nil {
				return err
			}
			e.priority = optionalInt(s, h, "priority", 0)
			return nil
		}, opts)
	if err != nil {
		return nil, err
	}
	e.handle = h
	return e, nil
}

// ExtractBytes implements plugin.DocumentExtractor.
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

// SupportedMimeTypes implements plugin.DocumentExtractor.
func (e *Extractor) SupportedMimeTypes() []string { return e.mimeTypes }

// Priority implements plugin.DocumentExtractor.
func (e *Extractor) Priority() int { return e.priority }

// OcrBackend wraps an object with name, supported_languages and
// process_image(image, language) methods.
type OcrBackend struct {
	*handle
	languages []string
	kind      plugin.BackendKind
	tables    bool
	priority  int
}

// NewOcrBackend validates obj and caches its metadata.
func NewOcrBackend(ctx context.Context, in Interpreter, obj Object, opts ...Option) (*OcrBackend, error) {
	o := &OcrBackend{kind: plugin.BackendCustom}
	h, err := newHandle(ctx, in, obj, "OcrBackend",
		[]string{"name", "supported_languages", "process_image"}, nil,
		func(s Session, h *handle) error {
			var err error
			if o.languages, err = requiredStrings(s, h, "supported_languages"); err != nil {
				return err
			}
			if kind, ok := optionalString(s, h, "backend_type"); ok {
				o.kind, _ = plugin.ParseBackendKind(kind)
			}
			if ok, _ := s.HasAttr(h.obj, "supports_table_detection"); ok {
				if raw, err := s.Call(h.obj, "supports_table_detection"); err == nil {
					o.tables, _ = toBool(raw)
				}
			}
			o.priority = optionalInt(s, h, "priority", 0)
			return nil
		}, opts)
	if err != nil {
		return nil, err
	}
	o.handle = h
	return o, nil
}

// ProcessImage implements plugin.OcrBackend. The object may return plain
// text or a result dictionary.
func (o *OcrBackend) ProcessImage(ctx context.Context, image []byte, cfg *extraction.OcrConfig) (*extraction.Result, error) {
	lang := ""
	if cfg != nil {
		lang = cfg.Language
	}
	raw, err := o.call(ctx, "process_image", false, func() ([]any, error) {
		return []any{image, lang}, nil
	})
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

// BackendKind implements plugin.OcrBackend.
func (o *OcrBackend) BackendKind() plugin.BackendKind { return o.kind }

// SupportedLanguages implements plugin.OcrBackend.
func (o *OcrBackend) SupportedLanguages() []string { return o.languages }

// SupportsTableDetection implements plugin.OcrBackend.
func (o *OcrBackend) SupportsTableDetection() bool { return o.tables }

// Priority implements plugin.OcrBackend.
func (o *OcrBackend) Priority() int { return o.priority }

// PostProcessor wraps an object with name and process(result) methods.
// process returns a dictionary whose keys overwrite the result's.
type PostProcessor struct {
	*handle
	stage    plugin.Stage
	priority int
}

// NewPostProcessor validates obj and caches its metadata.
func NewPostProcessor(ctx context.Context, in Interpreter, obj Object, opts ...Option) (*PostProcessor, error) {
	p := &PostProcessor{stage: plugin.DefaultStage}
	h, err := newHandle(ctx, in, obj, "PostProcessor",
		[]string{"name", "process"}, []string{"should_process"},
		func(s Session, h *handle) error {
			if stage, ok := optionalString(s, h, "processing_stage"); ok {
				parsed, err := plugin.ParseStage(stage)
				if err != nil {
					h.log.Warn("invalid processing stage, using default", slog.String("stage", stage))
				}
				p.stage = parsed
			}
			p.priority = optionalInt(s, h, "priority", plugin.DefaultProcessorPriority)
			return nil
		}, opts)
	if err != nil {
		return nil, err
	}
	p.handle = h
	return p, nil
}

// Process implements plugin.PostProcessor.
func (p *PostProcessor) Process(ctx context.Context, result *extraction.Result, _ *extraction.Config) error {
	raw, err := p.call(ctx, "process", false, resultArgs(result))
	if err != nil {
		return err
	}
	return bridge.MergeContainer(raw, result)
}

// ShouldProcess implements plugin.ProcessGate. Errors default to true.
func (p *PostProcessor) ShouldProcess(result *extraction.Result, _ *extraction.Config) bool {
	if !p.optional["should_process"] {
		return true
	}
	return p.predicate(context.Background(), "should_process", result)
}

// Stage implements plugin.PostProcessor.
func (p *PostProcessor) Stage() plugin.Stage { return p.stage }

// Priority implements plugin.PostProcessor.
func (p *PostProcessor) Priority() int { return p.priority }

// Validator wraps an object with name and validate(result) methods. validate
// rejects by raising ValueError or a *ValidationError, or by returning a
// non-empty message.
type Validator struct {
	*handle
	priority int
}

// NewValidator validates obj and caches its metadata.
func NewValidator(ctx context.Context, in Interpreter, obj Object, opts ...Option) (*Validator, error) {
	v := &Validator{}
	h, err := newHandle(ctx, in, obj, "Validator",
		[]string{"name", "validate"}, []string{"should_validate"},
		func(s Session, h *handle) error {
			v.priority = optionalInt(s, h, "priority", plugin.DefaultValidatorPriority)
			return nil
		}, opts)
	if err != nil {
		return nil, err
	}
	v.handle = h
	return v, nil
}

// Validate implements plugin.Validator.
func (v *Validator) Validate(ctx context.Context, result *extraction.Result, _ *extraction.Config) error {
	raw, err := v.call(ctx, "validate", true, resultArgs(result))
	if exc, ok := asException(err); ok && exc.IsValidationError() {
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
	return v.predicate(context.Background(), "should_validate", result)
}

// Priority implements plugin.Validator.
func (v *Validator) Priority() int { return v.priority }

func (h *handle) predicate(ctx context.Context, method string, result *extraction.Result) bool {
	raw, err := h.call(ctx, method, false, resultArgs(result))
	if err != nil {
		h.log.Warn("predicate failed, defaulting to true", slog.String("method", method), slog.Any("error", err))
		return true
	}
	b, err := toBool(raw)
	if err != nil {
		h.log.Warn("predicate returned non-bool, defaulting to true", slog.String("method", method))
		return true
	}
	return b
}

var (
	_ plugin.DocumentExtractor = (*Extractor)(nil)
	_ plugin.OcrBackend        = (*OcrBackend)(nil)
	_ plugin.PostProcessor     = (*PostProcessor)(nil)
	_ plugin.ProcessGate       = (*PostProcessor)(nil)
	_ plugin.Validator         = (*Validator)(nil)
)
