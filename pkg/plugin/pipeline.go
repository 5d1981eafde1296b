package plugin

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"slices"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/extraction"
)

// OrderedProcessors returns the post-processors in execution order: stage
// ascending, then priority descending, then name.
// A processor whose Stage or Priority panics sorts with the defaults.
func (r *Registries) OrderedProcessors() []PostProcessor {
	type keyed struct {
		p        PostProcessor
		name     string
		stage    Stage
		priority int
	}
	procs := r.Processors.Snapshot()
	keys := make([]keyed, len(procs))
	for i, p := range procs {
		stage, ok := guardValue(p.Stage)
		if !ok {
			stage = DefaultStage
		}
		priority, _ := guardValue(p.Priority)
		keys[i] = keyed{p: p, name: p.Name(), stage: stage, priority: priority}
	}
	slices.SortStableFunc(keys, func(a, b keyed) int {
		if c := cmp.Compare(a.stage, b.stage); c != 0 {
			return c
		}
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	for i, k := range keys {
		procs[i] = k.p
	}
	return procs
}

// RunPostProcessors runs every enabled post-processor sequentially, each one
// seeing the mutations of the previous. The first failure aborts the chain.
func (r *Registries) RunPostProcessors(ctx context.Context, result *extraction.Result, cfg *extraction.Config) error {
	if result == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "result cannot be nil")
	}
	if !cfg.PostProcessingEnabled() {
		return nil
	}
	var filter *extraction.PostProcessorConfig
	if cfg != nil {
		filter = cfg.Postprocessor
	}
	for _, p := range r.OrderedProcessors() {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := p.Name()
		if !filter.Allows(name) {
			continue
		}
		if gate, ok := p.(ProcessGate); ok {
			run, err := shouldRun(func() bool { return gate.ShouldProcess(result, cfg) })
			if err != nil {
				return &PluginError{Capability: CapabilityPostProcessor, Plugin: name, Err: err}
			}
			if !run {
				continue
			}
		}
		if err := r.invoke(CapabilityPostProcessor, name, func() error { return p.Process(ctx, result, cfg) }); err != nil {
			return &PluginError{Capability: CapabilityPostProcessor, Plugin: name, Err: err}
		}
	}
	return nil
}

// OrderedValidators returns validators by priority descending, then name.
func (r *Registries) OrderedValidators() []Validator {
	return ranked(r.Validators.Snapshot())
}

// RunValidators runs validators in priority order and stops at the first
// failure. Validators whose ShouldValidate reports false are skipped. A
// semantic rejection surfaces as *ValidationFailure; a broken bridge surfaces
// as *PluginError. Both name the validator.
func (r *Registries) RunValidators(ctx context.Context, result *extraction.Result, cfg *extraction.Config) error {
	if result == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "result cannot be nil")
	}
	if !cfg.ValidationEnabled() {
		return nil
	}
	for _, v := range r.OrderedValidators() {
		if err := ctx.Err(); err != nil {
			return err
		}
		name := v.Name()
		run, err := shouldRun(func() bool { return v.ShouldValidate(result, cfg) })
		if err != nil {
			return &PluginError{Capability: CapabilityValidator, Plugin: name, Err: err}
		}
		if !run {
			continue
		}
		err = r.invoke(CapabilityValidator, name, func() error { return v.Validate(ctx, result, cfg) })
		if err == nil {
			continue
		}
		var failure *ValidationFailure
		switch {
		case errors.As(err, &failure):
			if failure.Validator == "" {
				failure.Validator = name
			}
			return failure
		case isInvocationError(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return &PluginError{Capability: CapabilityValidator, Plugin: name, Err: err}
		default:
			return &ValidationFailure{Validator: name, Message: err.Error(), Err: err}
		}
	}
	return nil
}

// ExtractBytes selects an extractor for mimeType, runs it and then runs the
// post-processor and validator chains over the result.
func (r *Registries) ExtractBytes(ctx context.Context, content []byte, mimeType string, cfg *extraction.Config) (*extraction.Result, error) {
	if cfg == nil {
		cfg = extraction.DefaultConfig()
	}
	extractor, err := r.SelectExtractor(mimeType)
	if err != nil {
		return nil, err
	}
	var result *extraction.Result
	err = r.invoke(CapabilityDocumentExtractor, extractor.Name(), func() error {
		var callErr error
		result, callErr = extractor.ExtractBytes(ctx, content, mimeType, cfg)
		return callErr
	})
	if err == nil && result == nil {
		err = xerrors.New(xerrors.CodeNullResult, "extractor returned no result")
	}
	if err != nil {
		return nil, &PluginError{Capability: CapabilityDocumentExtractor, Plugin: extractor.Name(), Err: err}
	}
	return r.finish(ctx, result, mimeType, cfg)
}

// ExtractFile extracts the document at path. Extractors implementing
// FileExtractor read the file themselves; others receive its bytes. An empty
// mimeType is guessed from the file extension.
func (r *Registries) ExtractFile(ctx context.Context, path, mimeType string, cfg *extraction.Config) (*extraction.Result, error) {
	if mimeType == "" {
		mimeType = mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			return nil, xerrors.New(xerrors.CodeUnsupportedFormat,
				fmt.Sprintf("cannot determine MIME type of %s", path))
		}
	}
	if cfg == nil {
		cfg = extraction.DefaultConfig()
	}
	extractor, err := r.SelectExtractor(mimeType)
	if err != nil {
		return nil, err
	}
	fe, ok := extractor.(FileExtractor)
	if !ok {
		content, err := os.ReadFile(path)
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "read "+path)
		}
		return r.ExtractBytes(ctx, content, mimeType, cfg)
	}
	var result *extraction.Result
	err = r.invoke(CapabilityDocumentExtractor, extractor.Name(), func() error {
		var callErr error
		result, callErr = fe.ExtractFile(ctx, path, mimeType, cfg)
		return callErr
	})
	if err == nil && result == nil {
		err = xerrors.New(xerrors.CodeNullResult, "extractor returned no result")
	}
	if err != nil {
		return nil, &PluginError{Capability: CapabilityDocumentExtractor, Plugin: extractor.Name(), Err: err}
	}
	return r.finish(ctx, result, mimeType, cfg)
}

func (r *Registries) finish(ctx context.Context, result *extraction.Result, mimeType string, cfg *extraction.Config) (*extraction.Result, error) {
	if result.MimeType == "" {
		result.MimeType = NormalizeMimeType(mimeType)
	}
	if err := r.RunPostProcessors(ctx, result, cfg); err != nil {
		return nil, err
	}
	if err := r.RunValidators(ctx, result, cfg); err != nil {
		return nil, err
	}
	return result, nil
}

// guardCall runs a plugin method, turning a panic into a FOREIGN_PANIC error.
func guardCall(fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = panicError("plugin call", rec)
		}
	}()
	return fn()
}

// shouldRun evaluates a ShouldProcess or ShouldValidate gate. A panic is
// reported as a FOREIGN_PANIC error.
func shouldRun(gate func() bool) (bool, error) {
	var run bool
	err := guardCall(func() error {
		run = gate()
		return nil
	})
	return run, err
}

// guardValue reads a plugin accessor such as Priority or Stage. ok is false
// when the accessor panicked.
func guardValue[T any](fn func() T) (v T, ok bool) {
	defer func() {
		if recover() != nil {
			var zero T
			v, ok = zero, false
		}
	}()
	return fn(), true
}
