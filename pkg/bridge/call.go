package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/logger"
)

// CallSpec identifies one foreign invocation for error context and logging.
type CallSpec struct {
	Plugin   string
	Method   string
	Affinity Affinity
	// Executor runs the invoke step. Nil runs it on the calling goroutine,
	// which thread-confined bridges use because they schedule onto their own
	// loop.
	Executor *Executor
	// AllowNull accepts a nil or empty raw value and hands it to decode.
	// Validators use it: no message means success.
	AllowNull bool
}

// Call is the single serialize, invoke, decode pipeline every adapter uses,
// so the error taxonomy is identical for every bridge kind.
//
// encode failures become ENCODING_ERROR. A panic in invoke or decode becomes
// FOREIGN_PANIC. A nil or empty raw value becomes NULL_OR_EMPTY_RESULT unless
// AllowNull is set. A string or []byte raw value that is not valid UTF-8
// becomes ENCODING_ERROR. decode failures without their own code become
// DESERIALIZATION_ERROR. Errors returned by invoke are passed through with
// the plugin attached.
func Call[In, Out any](
	ctx context.Context,
	cs CallSpec,
	encode func() (In, error),
	invoke func(ctx context.Context, in In) (any, error),
	decode func(raw any) (Out, error),
) (Out, error) {
	var zero Out
	id := uuid.NewString()
	log := logger.Named("bridge").With(
		slog.String("invocation", id),
		slog.String("plugin", cs.Plugin),
		slog.String("method", cs.Method),
		slog.String("affinity", cs.Affinity.String()))
	started := time.Now()
	opts := []xerrors.Option{xerrors.WithPlugin(cs.Plugin), xerrors.WithMetadata("invocation", id)}

	in, err := encode()
	if err != nil {
		log.Debug("encode failed", slog.Any("error", err))
		return zero, xerrors.Wrap(xerrors.CodeEncoding, err, cs.describe("encode input for"), opts...)
	}

	var raw any
	run := func() error {
		return runRecovered(func() error {
			var callErr error
			raw, callErr = invoke(ctx, in)
			return callErr
		})
	}
	if cs.Executor != nil {
		err = cs.Executor.Do(ctx, run)
	} else {
		err = run()
	}
	if err != nil {
		log.Debug("invoke failed", slog.Any("error", err), slog.Duration("elapsed", time.Since(started)))
		if _, ok := xerrors.From(err); ok {
			return zero, err
		}
		return zero, fmt.Errorf("%s: %w", cs.describe("call"), err)
	}

	if isNull(raw) {
		if !cs.AllowNull {
			return zero, xerrors.New(xerrors.CodeNullResult, cs.describe("null or empty result from"), opts...)
		}
		raw = nil
	}
	if !validUTF8(raw) {
		return zero, xerrors.New(xerrors.CodeEncoding, cs.describe("invalid UTF-8 returned by"), opts...)
	}

	var out Out
	err = runRecovered(func() error {
		var decErr error
		out, decErr = decode(raw)
		return decErr
	})
	if err != nil {
		log.Debug("decode failed", slog.Any("error", err))
		if _, ok := xerrors.From(err); ok {
			return zero, err
		}
		return zero, xerrors.Wrap(xerrors.CodeDeserialization, err, cs.describe("decode result of"), opts...)
	}
	log.Debug("foreign call finished", slog.Duration("elapsed", time.Since(started)))
	return out, nil
}

func (s CallSpec) describe(verb string) string {
	return fmt.Sprintf("%s %s.%s", verb, s.Plugin, s.Method)
}

func isNull(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return true
	case []byte:
		return len(v) == 0
	case string:
		return v == ""
	}
	return false
}

func validUTF8(raw any) bool {
	switch v := raw.(type) {
	case []byte:
		return utf8.Valid(v)
	case string:
		return utf8.ValidString(v)
	}
	return true
}
