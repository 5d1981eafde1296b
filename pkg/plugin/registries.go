package plugin

import (
	"errors"
	"log/slog"
	"sync"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/logger"
)

// Registries bundles one registry per capability.
type Registries struct {
	Extractors *Registry[DocumentExtractor]
	OCR        *Registry[OcrBackend]
	Processors *Registry[PostProcessor]
	Validators *Registry[Validator]

	calls []func(CallStat)
}

type registryOptions struct {
	observers []func(Event)
	calls     []func(CallStat)
	logger    *slog.Logger
}

// RegistryOption customizes registries created by NewRegistries or NewRegistry.
type RegistryOption func(*registryOptions)

// WithObserver subscribes fn to mutation events. Observers run synchronously
// after the registry lock is released.
func WithObserver(fn func(Event)) RegistryOption {
	return func(o *registryOptions) {
		if fn != nil {
			o.observers = append(o.observers, fn)
		}
	}
}

// WithLogger overrides the logger used for registry warnings.
func WithLogger(l *slog.Logger) RegistryOption {
	return func(o *registryOptions) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []RegistryOption) registryOptions {
	var o registryOptions
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.logger == nil {
		o.logger = logger.Named("registry")
	}
	return o
}

// NewRegistries returns an isolated set of empty registries.
func NewRegistries(opts ...RegistryOption) *Registries {
	return &Registries{
		Extractors: NewRegistry[DocumentExtractor](CapabilityDocumentExtractor, opts...),
		OCR:        NewRegistry[OcrBackend](CapabilityOcrBackend, opts...),
		Processors: NewRegistry[PostProcessor](CapabilityPostProcessor, opts...),
		Validators: NewRegistry[Validator](CapabilityValidator, opts...),
		calls:      buildOptions(opts).calls,
	}
}

var defaultRegistries = sync.OnceValue(func() *Registries { return NewRegistries() })

// Default returns the process-wide registries, created on first use.
func Default() *Registries { return defaultRegistries() }

// Register inserts p into the registry matching the contract it implements.
func (r *Registries) Register(p Plugin) (Capability, error) {
	if p == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "plugin cannot be nil")
	}
	capability, ok := CapabilityOf(p)
	if !ok {
		return "", xerrors.New(xerrors.CodeMissingCapability,
			"plugin implements none of the capability contracts", xerrors.WithPlugin(p.Name()))
	}
	return capability, r.RegisterAs(capability, p)
}

// RegisterAs inserts p into the registry for capability. It fails when p does
// not implement that contract.
func (r *Registries) RegisterAs(capability Capability, p Plugin) error {
	mismatch := func() error {
		return xerrors.New(xerrors.CodeMissingCapability,
			"plugin does not implement "+string(capability), xerrors.WithPlugin(p.Name()))
	}
	switch capability {
	case CapabilityDocumentExtractor:
		e, ok := p.(DocumentExtractor)
		if !ok {
			return mismatch()
		}
		return r.Extractors.Register(e)
	case CapabilityOcrBackend:
		b, ok := p.(OcrBackend)
		if !ok {
			return mismatch()
		}
		return r.OCR.Register(b)
	case CapabilityPostProcessor:
		pp, ok := p.(PostProcessor)
		if !ok {
			return mismatch()
		}
		return r.Processors.Register(pp)
	case CapabilityValidator:
		v, ok := p.(Validator)
		if !ok {
			return mismatch()
		}
		return r.Validators.Register(v)
	}
	return xerrors.New(xerrors.CodeInvalidArgument, "unknown capability "+string(capability))
}

// Unregister removes name from the registry for capability.
func (r *Registries) Unregister(capability Capability, name string) error {
	switch capability {
	case CapabilityDocumentExtractor:
		return r.Extractors.Unregister(name)
	case CapabilityOcrBackend:
		return r.OCR.Unregister(name)
	case CapabilityPostProcessor:
		return r.Processors.Unregister(name)
	case CapabilityValidator:
		return r.Validators.Unregister(name)
	}
	return xerrors.New(xerrors.CodeInvalidArgument, "unknown capability "+string(capability))
}

// List returns the sorted names registered for capability.
func (r *Registries) List(capability Capability) ([]string, error) {
	switch capability {
	case CapabilityDocumentExtractor:
		return r.Extractors.List(), nil
	case CapabilityOcrBackend:
		return r.OCR.List(), nil
	case CapabilityPostProcessor:
		return r.Processors.List(), nil
	case CapabilityValidator:
		return r.Validators.List(), nil
	}
	return nil, xerrors.New(xerrors.CodeInvalidArgument, "unknown capability "+string(capability))
}

// Clear empties the registry for capability.
func (r *Registries) Clear(capability Capability) error {
	switch capability {
	case CapabilityDocumentExtractor:
		return r.Extractors.ClearAll()
	case CapabilityOcrBackend:
		return r.OCR.ClearAll()
	case CapabilityPostProcessor:
		return r.Processors.ClearAll()
	case CapabilityValidator:
		return r.Validators.ClearAll()
	}
	return xerrors.New(xerrors.CodeInvalidArgument, "unknown capability "+string(capability))
}

// ClearAll empties every registry, joining shutdown errors.
func (r *Registries) ClearAll() error {
	var errs []error
	for _, c := range Capabilities {
		errs = append(errs, r.Clear(c))
	}
	return errors.Join(errs...)
}
