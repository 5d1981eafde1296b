package docconv

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/plugin"
)

func TestExtractHTML(t *testing.T) {
	e := New(WithExecutor(bridge.NewExecutor(2)))
	html := `<html><head><title>Quarterly</title></head><body><p>Revenue grew steadily.</p></body></html>`
	res, err := e.ExtractBytes(context.Background(), []byte(html), "text/html; charset=utf-8", nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(res.Content, "Revenue grew steadily.") {
		t.Fatalf("content = %q", res.Content)
	}
	if res.MimeType != "text/html" {
		t.Fatalf("mime type not normalized: %s", res.MimeType)
	}
}

func TestExtractXMLThroughRegistry(t *testing.T) {
	regs := plugin.NewRegistries()
	if err := regs.Extractors.Register(New()); err != nil {
		t.Fatalf("register: %v", err)
	}
	res, err := regs.ExtractBytes(context.Background(), []byte(`<doc><item>alpha</item><item>beta</item></doc>`), "application/xml", nil)
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if !strings.Contains(res.Content, "alpha") || !strings.Contains(res.Content, "beta") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestExtractFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "page.html")
	if err := os.WriteFile(path, []byte(`<html><body><p>from disk</p></body></html>`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	res, err := New().ExtractFile(context.Background(), path, "text/html", nil)
	if err != nil {
		t.Fatalf("extract file: %v", err)
	}
	if !strings.Contains(res.Content, "from disk") {
		t.Fatalf("content = %q", res.Content)
	}
}

func TestOptions(t *testing.T) {
	e := New(WithPriority(4), WithMimeTypes("text/html"), WithReadability(true))
	if e.Priority() != 4 || len(e.SupportedMimeTypes()) != 1 || !e.readability || e.Name() != Name {
		t.Fatalf("options not applied")
	}
}
