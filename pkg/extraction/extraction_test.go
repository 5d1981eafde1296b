package extraction

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestMetadataAdditionalSurvivesRoundTrip(t *testing.T) {
	raw := []byte(`{"content":"hi","mime_type":"text/plain","metadata":{"title":"Doc","word_count":2,"tags":["a"]}}`)
	res, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.Metadata.Title == nil || *res.Metadata.Title != "Doc" {
		t.Fatalf("title not decoded: %+v", res.Metadata)
	}
	var count int
	if ok, err := res.Additional("word_count", &count); !ok || err != nil || count != 2 {
		t.Fatalf("word_count = %d ok=%v err=%v", count, ok, err)
	}
	if _, ok := res.Metadata.Additional["title"]; ok {
		t.Fatalf("typed keys must not leak into Additional")
	}

	encoded, err := res.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if !strings.Contains(string(encoded), `"word_count":2`) || !strings.Contains(string(encoded), `"title":"Doc"`) {
		t.Fatalf("flattened metadata lost: %s", encoded)
	}
}

func TestDecodeRejectsInvalidInput(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Fatalf("expected error on empty payload")
	}
	if _, err := Decode([]byte{'"', 0xff, '"'}); !errors.Is(err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", err)
	}
	var syntax *json.SyntaxError
	if _, err := Decode([]byte(`{"content":`)); !errors.As(err, &syntax) {
		t.Fatalf("expected syntax error, got %v", err)
	}
}

func TestCloneDoesNotAlias(t *testing.T) {
	orig := &Result{Content: "a", DetectedLanguages: []string{"en"}}
	if err := orig.SetAdditional("k", "v"); err != nil {
		t.Fatalf("set additional: %v", err)
	}
	cp, err := orig.Clone()
	if err != nil {
		t.Fatalf("clone: %v", err)
	}
	cp.DetectedLanguages[0] = "de"
	_ = cp.SetAdditional("k", "changed")
	if orig.DetectedLanguages[0] != "en" {
		t.Fatalf("clone aliased languages")
	}
	var v string
	_, _ = orig.Additional("k", &v)
	if v != "v" {
		t.Fatalf("clone aliased metadata, got %q", v)
	}
}

func TestPostProcessorConfigFilters(t *testing.T) {
	var nilCfg *PostProcessorConfig
	if !nilCfg.Allows("any") {
		t.Fatalf("nil config must allow everything")
	}
	cfg := &PostProcessorConfig{Enabled: true, EnabledProcessors: []string{"a", "b"}, DisabledProcessors: []string{"b"}}
	if !cfg.Allows("a") || cfg.Allows("b") || cfg.Allows("c") {
		t.Fatalf("whitelist/blacklist misapplied")
	}
}

func TestDecodeConfigDefaults(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`{"postprocessor":{"disabled_processors":["x"]}}`))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if !cfg.PostProcessingEnabled() {
		t.Fatalf("enabled must default to true when omitted")
	}
	if cfg.Postprocessor.Allows("x") {
		t.Fatalf("blacklist ignored")
	}
	cfg, err = DecodeConfig(nil)
	if err != nil || !cfg.ValidationEnabled() {
		t.Fatalf("empty payload should yield defaults, err=%v", err)
	}
}

func TestValidationConfigDefaultsToEnabled(t *testing.T) {
	cfg, err := DecodeConfig([]byte(`{"validation":{}}`))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	if !cfg.ValidationEnabled() {
		t.Fatalf("an empty validation section must keep validation on")
	}
	cfg, err = DecodeConfig([]byte(`{"validation":{"enabled":false}}`))
	if err != nil || cfg.ValidationEnabled() {
		t.Fatalf("explicit false ignored, err=%v", err)
	}
}

func TestMergeKeepsAbsentFields(t *testing.T) {
	title := "Report"
	res := &Result{Content: "body", MimeType: "text/plain", DetectedLanguages: []string{"en"},
		Metadata: Metadata{Title: &title}}
	if err := res.SetAdditional("source", "scanner"); err != nil {
		t.Fatalf("set additional: %v", err)
	}

	if err := res.Merge([]byte(`{"content":null,"metadata":{"word_count":1,"language":"en"}}`)); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if res.Content != "body" || res.MimeType != "text/plain" || len(res.DetectedLanguages) != 1 {
		t.Fatalf("top-level fields lost: %+v", res)
	}
	if res.Metadata.Title == nil || *res.Metadata.Title != "Report" {
		t.Fatalf("title lost: %+v", res.Metadata)
	}
	if res.Metadata.Language == nil || *res.Metadata.Language != "en" {
		t.Fatalf("typed key not merged: %+v", res.Metadata)
	}
	var source string
	var count int
	if ok, _ := res.Additional("source", &source); !ok || source != "scanner" {
		t.Fatalf("source = %q", source)
	}
	if ok, _ := res.Additional("word_count", &count); !ok || count != 1 {
		t.Fatalf("word_count = %d", count)
	}

	if err := res.Merge([]byte(`{"content":"rewritten"}`)); err != nil || res.Content != "rewritten" {
		t.Fatalf("content not replaced: %q %v", res.Content, err)
	}
	if err := res.Merge([]byte(`["not","an","object"]`)); err == nil {
		t.Fatalf("expected error for non-object patch")
	}
	if res.Content != "rewritten" {
		t.Fatalf("failed merge mutated the result")
	}
}
