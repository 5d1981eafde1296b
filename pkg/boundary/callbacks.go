package boundary

/*
#cgo CFLAGS: -I${SRCDIR}/include
#include <stdlib.h>
#include <string.h>
#include "extractbridge.h"

static char *eb_call_document_extractor(eb_document_extractor_cb cb, const uint8_t *content, size_t len,
                                        const char *mime_type, const char *config_json) {
    return cb(content, len, mime_type, config_json);
}

static char *eb_call_ocr_backend(eb_ocr_backend_cb cb, const uint8_t *image, size_t len, const char *config_json) {
    return cb(image, len, config_json);
}

static char *eb_call_result_cb(eb_post_processor_cb cb, const char *result_json) {
    return cb(result_json);
}
*/
import "C"

import (
	"unsafe"

	"ExtractBridge/pkg/bridge/native"
)

// takeString copies and frees a string returned by a callback.
func takeString(p *C.char) ([]byte, bool) {
	if p == nil {
		return nil, false
	}
	defer C.free(unsafe.Pointer(p))
	data, err := CopyBytes(unsafe.Pointer(p), uint64(C.strlen(p)))
	if err != nil {
		return nil, false
	}
	return data, true
}

// byteArg lends a Go byte slice to C for the duration of one call. The slice
// holds no Go pointers, so passing it is permitted as long as C does not keep
// it.
func byteArg(b []byte) (*C.uint8_t, C.size_t) {
	if len(b) == 0 {
		return nil, 0
	}
	return (*C.uint8_t)(unsafe.Pointer(unsafe.SliceData(b))), C.size_t(len(b))
}

// ExtractorCallback wraps an eb_document_extractor_cb function pointer.
func ExtractorCallback(fn unsafe.Pointer) native.ExtractorFunc {
	if fn == nil {
		return nil
	}
	cb := C.eb_document_extractor_cb(fn)
	return func(content []byte, mimeType, configJSON string) ([]byte, bool) {
		mime := C.CString(mimeType)
		defer C.free(unsafe.Pointer(mime))
		cfg := C.CString(configJSON)
		defer C.free(unsafe.Pointer(cfg))
		data, n := byteArg(content)
		return takeString(C.eb_call_document_extractor(cb, data, n, mime, cfg))
	}
}

// OcrCallback wraps an eb_ocr_backend_cb function pointer.
func OcrCallback(fn unsafe.Pointer) native.OcrFunc {
	if fn == nil {
		return nil
	}
	cb := C.eb_ocr_backend_cb(fn)
	return func(image []byte, configJSON string) ([]byte, bool) {
		cfg := C.CString(configJSON)
		defer C.free(unsafe.Pointer(cfg))
		data, n := byteArg(image)
		return takeString(C.eb_call_ocr_backend(cb, data, n, cfg))
	}
}

// ProcessorCallback wraps an eb_post_processor_cb function pointer.
func ProcessorCallback(fn unsafe.Pointer) native.ProcessorFunc {
	if fn == nil {
		return nil
	}
	return native.ProcessorFunc(resultCallback(fn))
}

// ValidatorCallback wraps an eb_validator_cb function pointer. NULL from the
// callback means the result is valid.
func ValidatorCallback(fn unsafe.Pointer) native.ValidatorFunc {
	if fn == nil {
		return nil
	}
	return native.ValidatorFunc(resultCallback(fn))
}

func resultCallback(fn unsafe.Pointer) func(string) ([]byte, bool) {
	cb := C.eb_post_processor_cb(fn)
	return func(resultJSON string) ([]byte, bool) {
		in := C.CString(resultJSON)
		defer C.free(unsafe.Pointer(in))
		return takeString(C.eb_call_result_cb(cb, in))
	}
}
