package plugin

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"ExtractBridge/pkg/extraction"
)

type fakeExtractor struct {
	Identity
	mimes    []string
	priority int
	initErr  error
	initHook func()
	content  string
	inits    atomic.Int32
	shutdown atomic.Int32
}

func (f *fakeExtractor) Initialize() error {
	f.inits.Add(1)
	if f.initHook != nil {
		f.initHook()
	}
	return f.initErr
}

func (f *fakeExtractor) Shutdown() error {
	f.shutdown.Add(1)
	return nil
}

func (f *fakeExtractor) ExtractBytes(_ context.Context, content []byte, mimeType string, _ *extraction.Config) (*extraction.Result, error) {
	text := f.content
	if text == "" {
		text = string(content)
	}
	return &extraction.Result{Content: text, MimeType: mimeType}, nil
}

func (f *fakeExtractor) SupportedMimeTypes() []string { return f.mimes }
func (f *fakeExtractor) Priority() int                { return f.priority }

func newExtractor(name string, priority int, mimes ...string) *fakeExtractor {
	return &fakeExtractor{Identity: Identity{PluginName: name}, mimes: mimes, priority: priority}
}

type fakeOCR struct {
	Identity
	langs    []string
	priority int
}

func (f *fakeOCR) ProcessImage(context.Context, []byte, *extraction.OcrConfig) (*extraction.Result, error) {
	return &extraction.Result{Content: f.PluginName, MimeType: "text/plain"}, nil
}
func (f *fakeOCR) BackendKind() BackendKind     { return BackendCustom }
func (f *fakeOCR) SupportedLanguages() []string { return f.langs }
func (f *fakeOCR) SupportsTableDetection() bool { return false }
func (f *fakeOCR) Priority() int                { return f.priority }

// recorder collects the order in which pipeline plugins ran.
type recorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	r.calls = append(r.calls, name)
	r.mu.Unlock()
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

type fakeProcessor struct {
	Identity
	stage    Stage
	priority int
	rec      *recorder
	err      error
	skip     bool
}

func (f *fakeProcessor) Process(_ context.Context, res *extraction.Result, _ *extraction.Config) error {
	f.rec.add(f.PluginName)
	if f.err != nil {
		return f.err
	}
	res.Content += "|" + f.PluginName
	return nil
}
func (f *fakeProcessor) Stage() Stage  { return f.stage }
func (f *fakeProcessor) Priority() int { return f.priority }
func (f *fakeProcessor) ShouldProcess(*extraction.Result, *extraction.Config) bool {
	return !f.skip
}

type fakeValidator struct {
	Identity
	priority int
	rec      *recorder
	err      error
	skip     bool
}

func (f *fakeValidator) Validate(context.Context, *extraction.Result, *extraction.Config) error {
	f.rec.add(f.PluginName)
	return f.err
}
func (f *fakeValidator) ShouldValidate(*extraction.Result, *extraction.Config) bool { return !f.skip }
func (f *fakeValidator) Priority() int                                             { return f.priority }

type failingShutdown struct {
	*fakeExtractor
}

func (f failingShutdown) Shutdown() error {
	f.fakeExtractor.shutdown.Add(1)
	return errors.New("disk busy")
}

type panickingInit struct {
	*fakeExtractor
}

func (panickingInit) Initialize() error { panic("init exploded") }

type panickingGate struct {
	*fakeValidator
}

func (panickingGate) ShouldValidate(*extraction.Result, *extraction.Config) bool {
	panic("should_validate exploded")
}

type panickingMimes struct {
	*fakeExtractor
}

func (panickingMimes) SupportedMimeTypes() []string { panic("mime list exploded") }
func (panickingMimes) Priority() int                { panic("priority exploded") }
