package plugin

import (
	"context"
	"errors"
	"time"
)

// Outcomes reported by CallStat.Outcome.
const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// CallStat describes one plugin invocation made by the extraction pipeline.
type CallStat struct {
	Capability Capability
	Plugin     string
	Duration   time.Duration
	Err        error
}

// Outcome classifies the call. A validator returning an ordinary error has
// rejected the result; any other failure is an error.
func (s CallStat) Outcome() string {
	if s.Err == nil {
		return OutcomeOK
	}
	if s.Capability == CapabilityValidator {
		var failure *ValidationFailure
		if errors.As(s.Err, &failure) {
			return OutcomeRejected
		}
		if !isInvocationError(s.Err) && !errors.Is(s.Err, context.Canceled) && !errors.Is(s.Err, context.DeadlineExceeded) {
			return OutcomeRejected
		}
	}
	return OutcomeError
}

// WithCallObserver subscribes fn to every plugin invocation the pipeline
// makes. fn runs on the calling goroutine and must not block.
func WithCallObserver(fn func(CallStat)) RegistryOption {
	return func(o *registryOptions) {
		if fn != nil {
			o.calls = append(o.calls, fn)
		}
	}
}

// invoke runs a plugin method under guardCall and reports its timing.
func (r *Registries) invoke(capability Capability, name string, fn func() error) error {
	start := time.Now()
	err := guardCall(fn)
	if len(r.calls) > 0 {
		stat := CallStat{Capability: capability, Plugin: name, Duration: time.Since(start), Err: err}
		for _, observe := range r.calls {
			observe(stat)
		}
	}
	return err
}
