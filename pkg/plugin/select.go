package plugin

import (
	"cmp"
	"fmt"
	"slices"
	"strings"

	xerrors "ExtractBridge/internal/errors"
)

// ranked orders candidates by priority descending, then name ascending, so
// selection never depends on map iteration order. A panicking Priority ranks
// as zero.
func ranked[T interface {
	Plugin
	Priority() int
}](candidates []T) []T {
	type keyed struct {
		p        T
		name     string
		priority int
	}
	keys := make([]keyed, len(candidates))
	for i, c := range candidates {
		priority, _ := guardValue(c.Priority)
		keys[i] = keyed{p: c, name: c.Name(), priority: priority}
	}
	slices.SortStableFunc(keys, func(a, b keyed) int {
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.name, b.name)
	})
	for i, k := range keys {
		candidates[i] = k.p
	}
	return candidates
}

// NormalizeMimeType lower-cases a MIME type and strips parameters.
func NormalizeMimeType(mimeType string) string {
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	return strings.ToLower(strings.TrimSpace(mimeType))
}

// matchMime reports an exact match, or a wildcard match for entries of the
// form "type/*".
func matchMime(supported, target string) (exact, wildcard bool) {
	s := NormalizeMimeType(supported)
	if s == target {
		return true, false
	}
	if prefix, ok := strings.CutSuffix(s, "/*"); ok && strings.HasPrefix(target, prefix+"/") {
		return false, true
	}
	return false, false
}

// ExtractorsFor returns the extractors able to handle mimeType in selection
// order. Exact matches always precede wildcard matches.
func (r *Registries) ExtractorsFor(mimeType string) []DocumentExtractor {
	target := NormalizeMimeType(mimeType)
	var exact, wildcard []DocumentExtractor
	for _, e := range r.Extractors.Snapshot() {
		mimes, ok := guardValue(e.SupportedMimeTypes)
		if !ok {
			continue
		}
		var isExact, isWildcard bool
		for _, s := range mimes {
			ex, wc := matchMime(s, target)
			isExact = isExact || ex
			isWildcard = isWildcard || wc
		}
		switch {
		case isExact:
			exact = append(exact, e)
		case isWildcard:
			wildcard = append(wildcard, e)
		}
	}
	return append(ranked(exact), ranked(wildcard)...)
}

// SelectExtractor picks the extractor for mimeType: the highest priority exact
// match, falling back to wildcard entries, ties broken by name.
func (r *Registries) SelectExtractor(mimeType string) (DocumentExtractor, error) {
	candidates := r.ExtractorsFor(mimeType)
	if len(candidates) == 0 {
		return nil, xerrors.Wrap(xerrors.CodeNotFound,
			xerrors.New(xerrors.CodeUnsupportedFormat, mimeType),
			fmt.Sprintf("no document extractor for %q", mimeType))
	}
	return candidates[0], nil
}

// SelectOcrBackend picks the backend for language with the same ranking as
// extractors.
func (r *Registries) SelectOcrBackend(language string) (OcrBackend, error) {
	var candidates []OcrBackend
	for _, b := range r.OCR.Snapshot() {
		if SupportsLanguage(b, language) {
			candidates = append(candidates, b)
		}
	}
	if len(candidates) == 0 {
		return nil, xerrors.New(xerrors.CodeNotFound,
			fmt.Sprintf("no OCR backend supports language %q", language))
	}
	return ranked(candidates)[0], nil
}

// OcrBackendsWithLanguages maps each backend name to its declared languages.
// A nil slice means the backend accepts every language.
func (r *Registries) OcrBackendsWithLanguages() map[string][]string {
	out := make(map[string][]string)
	for _, b := range r.OCR.Snapshot() {
		out[b.Name()] = slices.Clone(b.SupportedLanguages())
	}
	return out
}

// OcrLanguages returns the languages declared by the named backend.
func (r *Registries) OcrLanguages(name string) ([]string, error) {
	b, err := r.OCR.Get(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(b.SupportedLanguages()), nil
}

// IsLanguageSupported reports whether the named backend accepts lang.
func (r *Registries) IsLanguageSupported(name, lang string) (bool, error) {
	b, err := r.OCR.Get(name)
	if err != nil {
		return false, err
	}
	return SupportsLanguage(b, lang), nil
}
