package bridge

import (
	"context"
	"errors"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"ExtractBridge/pkg/extraction"
)

func identity() (string, error) { return "in", nil }

func TestCallClassifiesFailures(t *testing.T) {
	ctx := context.Background()
	spec := CallSpec{Plugin: "p", Method: "m"}
	passthrough := func(raw any) (any, error) { return raw, nil }

	cases := []struct {
		name   string
		encode func() (string, error)
		invoke func(context.Context, string) (any, error)
		decode func(any) (any, error)
		want   error
	}{
		{"encode", func() (string, error) { return "", errors.New("bad input") },
			func(context.Context, string) (any, error) { return "x", nil }, passthrough, ErrEncoding},
		{"panic", identity,
			func(context.Context, string) (any, error) { panic("segfault-ish") }, passthrough, ErrForeignPanic},
		{"null", identity,
			func(context.Context, string) (any, error) { return nil, nil }, passthrough, ErrNullResult},
		{"empty", identity,
			func(context.Context, string) (any, error) { return []byte{}, nil }, passthrough, ErrNullResult},
		{"utf8", identity,
			func(context.Context, string) (any, error) { return []byte{0xc3, 0x28}, nil }, passthrough, ErrEncoding},
		{"decode", identity,
			func(context.Context, string) (any, error) { return "{", nil },
			func(any) (any, error) { return nil, errors.New("syntax") }, ErrDeserialization},
	}
	for _, tc := range cases {
		_, err := Call(ctx, spec, tc.encode, tc.invoke, tc.decode)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestCallAllowNullAndExecutor(t *testing.T) {
	exec := NewExecutor(1)
	spec := CallSpec{Plugin: "v", Method: "validate", AllowNull: true, Executor: exec}
	got, err := Call(context.Background(), spec, identity,
		func(context.Context, string) (any, error) { return nil, nil },
		func(raw any) (bool, error) { return raw == nil, nil })
	if err != nil || !got {
		t.Fatalf("null must reach decode when allowed: %v %v", got, err)
	}
}

func TestCallPassesPluginErrorsThrough(t *testing.T) {
	cause := errors.New("python raised ValueError")
	_, err := Call(context.Background(), CallSpec{Plugin: "py", Method: "process"}, identity,
		func(context.Context, string) (any, error) { return nil, cause },
		func(any) (any, error) { return nil, nil })
	if !errors.Is(err, cause) {
		t.Fatalf("invoke error lost: %v", err)
	}
	if errors.Is(err, ErrNullResult) || errors.Is(err, ErrForeignPanic) {
		t.Fatalf("plugin errors must not be reclassified: %v", err)
	}
}

func TestExecutorBoundsConcurrency(t *testing.T) {
	exec := NewExecutor(2)
	var running, peak atomic.Int32
	done := make(chan struct{})
	for i := 0; i < 6; i++ {
		go func() {
			_ = exec.Do(context.Background(), func() error {
				n := running.Add(1)
				for {
					p := peak.Load()
					if n <= p || peak.CompareAndSwap(p, n) {
						break
					}
				}
				time.Sleep(10 * time.Millisecond)
				running.Add(-1)
				return nil
			})
			done <- struct{}{}
		}()
	}
	for i := 0; i < 6; i++ {
		<-done
	}
	if peak.Load() > 2 {
		t.Fatalf("peak concurrency %d exceeds limit", peak.Load())
	}
}

func TestExecutorCancelReturnsButCallCompletes(t *testing.T) {
	exec := NewExecutor(1)
	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	started := make(chan struct{})
	var finished atomic.Bool

	errCh := make(chan error, 1)
	go func() {
		errCh <- exec.Do(ctx, func() error {
			close(started)
			<-release
			finished.Store(true)
			return nil
		})
	}()
	<-started
	cancel()
	if err := <-errCh; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	close(release)

	// The slot is only released once the abandoned call finishes.
	if err := exec.Do(context.Background(), func() error { return nil }); err != nil {
		t.Fatalf("follow-up call: %v", err)
	}
	if !finished.Load() {
		t.Fatalf("abandoned call should have run to completion")
	}
}

type methods map[string]bool

func (m methods) HasMethod(name string) (bool, error) { return m[name], nil }

func TestRequireMethodsListsExactlyTheMissing(t *testing.T) {
	err := RequireMethods("OCR backend", methods{"name": true}, "name", "supported_languages", "process_image")
	var missing *MissingMethodsError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingMethodsError, got %v", err)
	}
	if !slices.Equal(missing.Missing, []string{"process_image", "supported_languages"}) {
		t.Fatalf("missing = %v", missing.Missing)
	}
	if !errors.Is(err, ErrMissingCapability) {
		t.Fatalf("must match ErrMissingCapability")
	}
	if err := RequireMethods("validator", methods{"name": true, "validate": true}, "name", "validate"); err != nil {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestContainerRoundTrip(t *testing.T) {
	in := &extraction.Result{Content: "text", MimeType: "text/plain", DetectedLanguages: []string{"en"}}
	c, err := ToContainer(in)
	if err != nil {
		t.Fatalf("to container: %v", err)
	}
	if c["content"] != "text" {
		t.Fatalf("container = %v", c)
	}
	c["content"] = "changed"
	out, err := ResultFromRaw(c)
	if err != nil || out.Content != "changed" || out.DetectedLanguages[0] != "en" {
		t.Fatalf("from container: %+v %v", out, err)
	}
	if nilMap, err := ToContainer(nil); err != nil || nilMap != nil {
		t.Fatalf("nil input should give nil map")
	}
	if _, err := DecodeResult([]byte{'"', 0xff, '"'}); !errors.Is(err, ErrEncoding) {
		t.Fatalf("expected ErrEncoding, got %v", err)
	}
}
