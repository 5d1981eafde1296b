// Package plaintext provides the fallback extractor for text formats.
package plaintext

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/plugin"
)

// Name is the registry name of the extractor.
const Name = "plaintext"

// Priority is below every other built-in so dedicated extractors win.
const Priority = -10

var bom = []byte{0xEF, 0xBB, 0xBF}

// Extractor implements plugin.DocumentExtractor for text/*.
type Extractor struct {
	plugin.Identity
}

func New() *Extractor { return &Extractor{Identity: plugin.Identity{PluginName: Name}} }

// ExtractBytes decodes content as UTF-8. Invalid sequences become U+FFFD.
func (e *Extractor) ExtractBytes(_ context.Context, content []byte, mimeType string, _ *extraction.Config) (*extraction.Result, error) {
	content = bytes.TrimPrefix(content, bom)
	text := string(content)
	if !utf8.Valid(content) {
		text = strings.ToValidUTF8(text, "�")
	}
	res := &extraction.Result{Content: text, MimeType: plugin.NormalizeMimeType(mimeType)}
	lines := 0
	if text != "" {
		lines = strings.Count(text, "\n")
		if !strings.HasSuffix(text, "\n") {
			lines++
		}
	}
	_ = res.SetAdditional("line_count", lines)
	_ = res.SetAdditional("word_count", len(strings.Fields(text)))
	return res, nil
}

func (e *Extractor) SupportedMimeTypes() []string {
	return []string{"text/plain", "text/markdown", "text/*"}
}

func (e *Extractor) Priority() int { return Priority }

var _ plugin.DocumentExtractor = (*Extractor)(nil)
