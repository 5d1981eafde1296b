package plaintext

import (
	"context"
	"testing"

	"ExtractBridge/pkg/plugin"
)

func TestExtractCounts(t *testing.T) {
	res, err := New().ExtractBytes(context.Background(), []byte("\xEF\xBB\xBFone two\nthree\n"), "text/plain; charset=utf-8", nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "one two\nthree\n" || res.MimeType != "text/plain" {
		t.Fatalf("unexpected result %+v", res)
	}
	var lines, words int
	_, _ = res.Additional("line_count", &lines)
	_, _ = res.Additional("word_count", &words)
	if lines != 2 || words != 3 {
		t.Fatalf("lines=%d words=%d", lines, words)
	}
}

func TestInvalidUTF8Replaced(t *testing.T) {
	res, err := New().ExtractBytes(context.Background(), []byte{'a', 0xff, 'b'}, "text/plain", nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if res.Content != "a�b" {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestWildcardFallback(t *testing.T) {
	regs := plugin.NewRegistries()
	if err := regs.Extractors.Register(New()); err != nil {
		t.Fatalf("register: %v", err)
	}
	ex, err := regs.SelectExtractor("text/csv")
	if err != nil || ex.Name() != Name {
		t.Fatalf("wildcard selection failed: %v", err)
	}
	if _, err := regs.SelectExtractor("image/png"); err == nil {
		t.Fatalf("expected unsupported format")
	}
}
