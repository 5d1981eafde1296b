package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/extraction"
)

func TestPostProcessorsRunByStageThenPriority(t *testing.T) {
	regs := NewRegistries()
	rec := &recorder{}
	for _, p := range []*fakeProcessor{
		{Identity: Identity{PluginName: "late"}, stage: StageLate, priority: 1, rec: rec},
		{Identity: Identity{PluginName: "early"}, stage: StageEarly, priority: 1, rec: rec},
		{Identity: Identity{PluginName: "middle"}, stage: StageMiddle, priority: 1, rec: rec},
	} {
		if err := regs.Processors.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}

	res := &extraction.Result{Content: "doc"}
	if err := regs.RunPostProcessors(context.Background(), res, extraction.DefaultConfig()); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rec.list(); !slices.Equal(got, []string{"early", "middle", "late"}) {
		t.Fatalf("order = %v", got)
	}
	if res.Content != "doc|early|middle|late" {
		t.Fatalf("each processor must see the previous mutation, got %q", res.Content)
	}
}

func TestPostProcessorsPriorityWithinStageAndFilters(t *testing.T) {
	regs := NewRegistries()
	rec := &recorder{}
	for _, p := range []*fakeProcessor{
		{Identity: Identity{PluginName: "low"}, stage: StageMiddle, priority: 1, rec: rec},
		{Identity: Identity{PluginName: "high"}, stage: StageMiddle, priority: 9, rec: rec},
		{Identity: Identity{PluginName: "blocked"}, stage: StageMiddle, priority: 5, rec: rec},
		{Identity: Identity{PluginName: "gated"}, stage: StageMiddle, priority: 4, rec: rec, skip: true},
	} {
		if err := regs.Processors.Register(p); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	cfg := extraction.DefaultConfig()
	cfg.Postprocessor.DisabledProcessors = []string{"blocked"}
	if err := regs.RunPostProcessors(context.Background(), &extraction.Result{}, cfg); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rec.list(); !slices.Equal(got, []string{"high", "low"}) {
		t.Fatalf("order = %v", got)
	}

	cfg.Postprocessor.Enabled = false
	rec.calls = nil
	if err := regs.RunPostProcessors(context.Background(), &extraction.Result{}, cfg); err != nil || len(rec.list()) != 0 {
		t.Fatalf("disabled post-processing must be a no-op, err=%v calls=%v", err, rec.list())
	}
}

func TestPostProcessorFailureNamesPlugin(t *testing.T) {
	regs := NewRegistries()
	rec := &recorder{}
	cause := xerrors.New(xerrors.CodeNullResult, "callback returned NULL")
	_ = regs.Processors.Register(&fakeProcessor{Identity: Identity{PluginName: "first"}, stage: StageEarly, rec: rec, err: cause})
	_ = regs.Processors.Register(&fakeProcessor{Identity: Identity{PluginName: "second"}, stage: StageLate, rec: rec})

	err := regs.RunPostProcessors(context.Background(), &extraction.Result{}, nil)
	var perr *PluginError
	if !errors.As(err, &perr) || perr.Plugin != "first" || perr.Capability != CapabilityPostProcessor {
		t.Fatalf("expected PluginError naming first, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause lost: %v", err)
	}
	if got := rec.list(); !slices.Equal(got, []string{"first"}) {
		t.Fatalf("chain must abort, ran %v", got)
	}
}

func TestValidatorsFailFast(t *testing.T) {
	regs := NewRegistries()
	rec := &recorder{}
	_ = regs.Validators.Register(&fakeValidator{Identity: Identity{PluginName: "strict"}, priority: 100, rec: rec, err: errors.New("content too short")})
	_ = regs.Validators.Register(&fakeValidator{Identity: Identity{PluginName: "lenient"}, priority: 50, rec: rec})

	err := regs.RunValidators(context.Background(), &extraction.Result{}, nil)
	var failure *ValidationFailure
	if !errors.As(err, &failure) {
		t.Fatalf("expected ValidationFailure, got %v", err)
	}
	if failure.Validator != "strict" || failure.Message != "content too short" {
		t.Fatalf("unexpected failure %+v", failure)
	}
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("ValidationFailure must match ErrValidationFailed")
	}
	if got := rec.list(); !slices.Equal(got, []string{"strict"}) {
		t.Fatalf("lower priority validator ran: %v", got)
	}
}

func TestValidatorSkippedWhenShouldValidateFalse(t *testing.T) {
	regs := NewRegistries()
	rec := &recorder{}
	_ = regs.Validators.Register(&fakeValidator{Identity: Identity{PluginName: "skipped"}, priority: 1000, rec: rec, err: errors.New("never"), skip: true})
	_ = regs.Validators.Register(&fakeValidator{Identity: Identity{PluginName: "runs"}, priority: 1, rec: rec})

	if err := regs.RunValidators(context.Background(), &extraction.Result{}, nil); err != nil {
		t.Fatalf("run: %v", err)
	}
	if got := rec.list(); !slices.Equal(got, []string{"runs"}) {
		t.Fatalf("calls = %v", got)
	}
}

func TestValidatorInvocationErrorStaysPluginError(t *testing.T) {
	regs := NewRegistries()
	_ = regs.Validators.Register(&fakeValidator{Identity: Identity{PluginName: "bridged"}, priority: 1, rec: &recorder{},
		err: xerrors.New(xerrors.CodeDeserialization, "bad payload")})

	err := regs.RunValidators(context.Background(), &extraction.Result{}, nil)
	var perr *PluginError
	if !errors.As(err, &perr) || perr.Plugin != "bridged" {
		t.Fatalf("expected PluginError, got %v", err)
	}
	var failure *ValidationFailure
	if errors.As(err, &failure) {
		t.Fatalf("bridge malfunctions must not be reported as validation failures")
	}
}

func TestSelectExtractorPrefersExactThenPriorityThenName(t *testing.T) {
	regs := NewRegistries()
	for _, e := range []*fakeExtractor{
		newExtractor("wild-high", 100, "text/*"),
		newExtractor("exact-b", 10, "text/markdown"),
		newExtractor("exact-a", 10, "text/markdown"),
		newExtractor("exact-low", 1, "text/markdown"),
	} {
		if err := regs.Extractors.Register(e); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	got, err := regs.SelectExtractor("Text/Markdown; charset=utf-8")
	if err != nil || got.Name() != "exact-a" {
		t.Fatalf("selected %v, err %v", got, err)
	}
	got, err = regs.SelectExtractor("text/csv")
	if err != nil || got.Name() != "wild-high" {
		t.Fatalf("wildcard fallback failed: %v, %v", got, err)
	}
	_, err = regs.SelectExtractor("application/pdf")
	if !errors.Is(err, ErrNotFound) || !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected not found / unsupported format, got %v", err)
	}
}

func TestSelectOcrBackendDeterministic(t *testing.T) {
	regs := NewRegistries()
	for _, b := range []*fakeOCR{
		{Identity: Identity{PluginName: "zz"}, langs: []string{"eng"}, priority: 5},
		{Identity: Identity{PluginName: "aa"}, langs: []string{"ENG", "deu"}, priority: 5},
		{Identity: Identity{PluginName: "any"}, priority: 1},
	} {
		if err := regs.OCR.Register(b); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	for i := 0; i < 20; i++ {
		got, err := regs.SelectOcrBackend("eng")
		if err != nil || got.Name() != "aa" {
			t.Fatalf("selected %v, err %v", got, err)
		}
	}
	got, err := regs.SelectOcrBackend("jpn")
	if err != nil || got.Name() != "any" {
		t.Fatalf("backend with no language list accepts everything: %v, %v", got, err)
	}
	if ok, _ := regs.IsLanguageSupported("aa", "Deu"); !ok {
		t.Fatalf("language comparison must be case-insensitive")
	}
	if langs := regs.OcrBackendsWithLanguages(); len(langs) != 3 || langs["any"] != nil {
		t.Fatalf("unexpected languages map %v", langs)
	}
}

func TestExtractBytesRunsWholeChain(t *testing.T) {
	regs := NewRegistries()
	rec := &recorder{}
	_ = regs.Extractors.Register(newExtractor("plain", 0, "text/plain"))
	_ = regs.Processors.Register(&fakeProcessor{Identity: Identity{PluginName: "tag"}, rec: rec})
	_ = regs.Validators.Register(&fakeValidator{Identity: Identity{PluginName: "check"}, priority: 50, rec: rec})

	res, err := regs.ExtractBytes(context.Background(), []byte("hello"), "text/plain", nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "hello|tag" || res.MimeType != "text/plain" {
		t.Fatalf("unexpected result %+v", res)
	}
	if got := rec.list(); !slices.Equal(got, []string{"tag", "check"}) {
		t.Fatalf("calls = %v", got)
	}
}

func TestExtractFileFallsBackToBytes(t *testing.T) {
	regs := NewRegistries()
	_ = regs.Extractors.Register(newExtractor("plain", 0, "text/plain"))
	path := filepath.Join(t.TempDir(), "note.txt")
	if err := os.WriteFile(path, []byte("from disk"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := regs.ExtractFile(context.Background(), path, "", nil)
	if err != nil {
		t.Fatalf("extract file: %v", err)
	}
	if res.Content != "from disk" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestHealthWarnsOnEmptyRegistries(t *testing.T) {
	regs := NewRegistries()
	h := regs.Health()
	if len(h.Warnings) != 2 || h.Healthy {
		t.Fatalf("expected two warnings on empty registries, got %+v", h)
	}
	_ = regs.Extractors.Register(newExtractor("plain", 0, "text/plain"))
	_ = regs.OCR.Register(&fakeOCR{Identity: Identity{PluginName: "ocr"}})
	h = regs.Health()
	if len(h.Warnings) != 0 || !h.Healthy || h.ExtractorCount != 1 || h.OcrBackends[0] != "ocr" {
		t.Fatalf("unexpected health %+v", h)
	}
}

func TestValidatorGatePanicBecomesPluginError(t *testing.T) {
	regs := NewRegistries()
	gate := panickingGate{&fakeValidator{Identity: Identity{PluginName: "gate"}, rec: &recorder{}}}
	if err := regs.Validators.Register(gate); err != nil {
		t.Fatalf("register: %v", err)
	}

	var err error
	func() {
		defer func() {
			if rec := recover(); rec != nil {
				t.Fatalf("panic escaped RunValidators: %v", rec)
			}
		}()
		err = regs.RunValidators(context.Background(), &extraction.Result{}, nil)
	}()
	var perr *PluginError
	if !errors.As(err, &perr) || perr.Plugin != "gate" {
		t.Fatalf("expected PluginError naming gate, got %v", err)
	}
	if xerrors.CodeOf(err) != xerrors.CodeForeignPanic {
		t.Fatalf("expected FOREIGN_PANIC, got %s", xerrors.CodeOf(err))
	}
}

func TestExtractorWithPanickingAccessorsIsSkipped(t *testing.T) {
	regs := NewRegistries()
	broken := panickingMimes{newExtractor("broken", 0, "text/plain")}
	if err := regs.Extractors.Register(broken); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := regs.Extractors.Register(newExtractor("text", 0, "text/plain")); err != nil {
		t.Fatalf("register: %v", err)
	}

	got, err := regs.SelectExtractor("text/plain")
	if err != nil {
		t.Fatalf("select: %v", err)
	}
	if got.Name() != "text" {
		t.Fatalf("selected %q", got.Name())
	}
}
