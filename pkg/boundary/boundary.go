// Package boundary owns every allocation that crosses the C ABI: result and
// batch structs handed to foreign callers, the strings inside them and the
// process-wide last-error slot. Everything allocated here is released with
// the paired Free function and never with anything else.
package boundary

/*
#cgo CFLAGS: -I${SRCDIR}/include
#include <stdlib.h>
#include <string.h>
#include "extractbridge.h"
*/
import "C"

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unsafe"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/extraction"
)

// CResult mirrors eb_result.
type CResult C.eb_result

// CBatch mirrors eb_batch_result.
type CBatch C.eb_batch_result

// CBytesWithMime mirrors eb_bytes_with_mime.
type CBytesWithMime C.eb_bytes_with_mime

// CString allocates a NUL-terminated copy of s with malloc. Interior NUL
// bytes become U+FFFD so the string is never silently truncated.
func CString(s string) unsafe.Pointer {
	return unsafe.Pointer(C.CString(sanitize(s)))
}

// GoString copies a C string. NULL yields "".
func GoString(p unsafe.Pointer) string {
	if p == nil {
		return ""
	}
	return C.GoString((*C.char)(p))
}

// FreeString frees a string allocated by this package. NULL is a no-op.
func FreeString(p unsafe.Pointer) {
	if p != nil {
		C.free(p)
	}
}

// CloneString returns an independently owned copy of p. NULL yields NULL.
func CloneString(p unsafe.Pointer) unsafe.Pointer {
	if p == nil {
		return nil
	}
	return unsafe.Pointer(C.strdup((*C.char)(p)))
}

func sanitize(s string) string {
	if strings.IndexByte(s, 0) < 0 {
		return s
	}
	return strings.ReplaceAll(s, "\x00", "�")
}

func optionalString(s *string) *C.char {
	if s == nil {
		return nil
	}
	return C.CString(sanitize(*s))
}

func jsonString(v any) (*C.char, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return C.CString(string(raw)), nil
}

// NewResult copies r into a freshly allocated CResult. Absent optional fields
// stay NULL. On error nothing is leaked.
func NewResult(r *extraction.Result) (res *CResult, err error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "result cannot be nil")
	}
	res = (*CResult)(C.calloc(1, C.size_t(unsafe.Sizeof(CResult{}))))
	defer func() {
		if err != nil {
			FreeResult(res)
			res = nil
		}
	}()

	res.content = C.CString(sanitize(r.Content))
	res.mime_type = C.CString(sanitize(r.MimeType))
	res.language = optionalString(r.Metadata.Language)
	res.date = optionalString(r.Metadata.CreatedAt)
	res.subject = optionalString(r.Metadata.Subject)

	fields := []struct {
		dst   **C.char
		value any
		set   bool
		name  string
	}{
		{&res.tables_json, r.Tables, len(r.Tables) > 0, "tables"},
		{&res.detected_languages_json, r.DetectedLanguages, len(r.DetectedLanguages) > 0, "detected languages"},
		{&res.metadata_json, &r.Metadata, true, "metadata"},
		{&res.chunks_json, r.Chunks, len(r.Chunks) > 0, "chunks"},
		{&res.images_json, r.Images, len(r.Images) > 0, "images"},
		{&res.page_structure_json, r.Metadata.Pages, r.Metadata.Pages != nil, "page structure"},
		{&res.pages_json, r.Pages, len(r.Pages) > 0, "pages"},
	}
	for _, f := range fields {
		if !f.set {
			continue
		}
		if *f.dst, err = jsonString(f.value); err != nil {
			return res, xerrors.Wrap(xerrors.CodeEncoding, err, fmt.Sprintf("serialize %s", f.name))
		}
	}
	res.success = true
	return res, nil
}

// FreeResult frees every owned string and then the struct. NULL is a no-op.
func FreeResult(r *CResult) {
	if r == nil {
		return
	}
	for _, p := range []*C.char{
		r.content, r.mime_type, r.language, r.date, r.subject,
		r.tables_json, r.detected_languages_json, r.metadata_json, r.chunks_json,
		r.images_json, r.page_structure_json, r.pages_json, r.elements_json, r.ocr_elements_json,
	} {
		if p != nil {
			C.free(unsafe.Pointer(p))
		}
	}
	C.free(unsafe.Pointer(r))
}

// NewBatch allocates one contiguous array of len(results) pointers. A nil
// entry, an extraction that failed, stays NULL. An empty batch has a NULL
// array and count 0.
func NewBatch(results []*extraction.Result) (b *CBatch, err error) {
	b = (*CBatch)(C.calloc(1, C.size_t(unsafe.Sizeof(CBatch{}))))
	defer func() {
		if err != nil {
			FreeBatch(b)
			b = nil
		}
	}()
	if len(results) > 0 {
		arr := C.calloc(C.size_t(len(results)), C.size_t(unsafe.Sizeof(uintptr(0))))
		b.results = (**C.eb_result)(arr)
		b.count = C.size_t(len(results))
		slots := unsafe.Slice((**CResult)(arr), len(results))
		for i, r := range results {
			if r == nil {
				continue
			}
			if slots[i], err = NewResult(r); err != nil {
				return b, fmt.Errorf("batch item %d: %w", i, err)
			}
		}
	}
	b.success = true
	return b, nil
}

// Results exposes the batch slots without copying. The slice is only valid
// until FreeBatch.
func (b *CBatch) Results() []*CResult {
	if b == nil || b.results == nil || b.count == 0 {
		return nil
	}
	return unsafe.Slice((**CResult)(unsafe.Pointer(b.results)), int(b.count))
}

// FreeBatch frees each non-NULL element, then the array with one free, then
// the struct. NULL is a no-op.
func FreeBatch(b *CBatch) {
	if b == nil {
		return
	}
	for _, r := range b.Results() {
		FreeResult(r)
	}
	if b.results != nil {
		C.free(unsafe.Pointer(b.results))
	}
	C.free(unsafe.Pointer(b))
}

// CopyBytes copies n bytes starting at p into Go memory. A zero length yields
// nil. Lengths beyond the int range are rejected rather than truncated.
func CopyBytes(p unsafe.Pointer, n uint64) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	if p == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "data cannot be NULL")
	}
	if n > math.MaxInt {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("data length %d is too large", n))
	}
	return bytes.Clone(unsafe.Slice((*byte)(p), int(n))), nil
}

// Item is one input of a batch extraction.
type Item struct {
	Data     []byte
	MimeType string
}

// CopyItems copies count eb_bytes_with_mime entries starting at p into Go
// memory.
func CopyItems(p unsafe.Pointer, count int) ([]Item, error) {
	if count == 0 {
		return nil, nil
	}
	if p == nil || count < 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "invalid batch items")
	}
	src := unsafe.Slice((*CBytesWithMime)(p), count)
	out := make([]Item, count)
	for i, it := range src {
		if it.data == nil && it.data_len > 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("batch item %d has NULL data", i))
		}
		if it.mime_type == nil {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, fmt.Sprintf("batch item %d has NULL mime type", i))
		}
		data, err := CopyBytes(unsafe.Pointer(it.data), uint64(it.data_len))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, fmt.Sprintf("batch item %d", i))
		}
		out[i].Data = data
		out[i].MimeType = C.GoString(it.mime_type)
	}
	return out, nil
}

// Field accessors for callers in other packages, which cannot name this
// package's C types.

func (r *CResult) Content() string  { return C.GoString(r.content) }
func (r *CResult) MimeType() string { return C.GoString(r.mime_type) }
func (r *CResult) Success() bool    { return bool(r.success) }

// JSONField returns the named *_json field, or "" when it is NULL.
func (r *CResult) JSONField(name string) (string, bool) {
	var p *C.char
	switch name {
	case "tables_json":
		p = r.tables_json
	case "detected_languages_json":
		p = r.detected_languages_json
	case "metadata_json":
		p = r.metadata_json
	case "chunks_json":
		p = r.chunks_json
	case "images_json":
		p = r.images_json
	case "page_structure_json":
		p = r.page_structure_json
	case "pages_json":
		p = r.pages_json
	case "elements_json":
		p = r.elements_json
	case "ocr_elements_json":
		p = r.ocr_elements_json
	}
	if p == nil {
		return "", false
	}
	return C.GoString(p), true
}

func (b *CBatch) Count() int    { return int(b.count) }
func (b *CBatch) Success() bool { return bool(b.success) }
