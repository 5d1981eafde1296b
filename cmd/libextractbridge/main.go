// Command libextractbridge builds the C shared library through which foreign
// hosts register callback plugins and run extractions:
//
//	go build -buildmode=c-shared -o libextractbridge.so ./cmd/libextractbridge
//
// Every exported function clears the last error on entry. Functions returning
// bool report failure with false and functions returning pointers with NULL;
// eb_last_error then describes the failure.
package main

/*
#cgo CFLAGS: -I${SRCDIR}/../../pkg/boundary/include
#include <stdlib.h>
#include "extractbridge.h"
*/
import "C"

import (
	"context"
	"encoding/json"
	"strings"
	"unsafe"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/boundary"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/bridge/native"
	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/plugin"
)

func main() {}

func registries() *plugin.Registries { return plugin.Default() }

func requireString(p *C.char, what string) (string, error) {
	if p == nil {
		return "", xerrors.New(xerrors.CodeInvalidArgument, what+" cannot be NULL")
	}
	return C.GoString(p), nil
}

func requireCallback(p unsafe.Pointer) error {
	if p == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "callback cannot be NULL")
	}
	return nil
}

func decodeConfig(p *C.char) (*extraction.Config, error) {
	if p == nil {
		return extraction.DefaultConfig(), nil
	}
	raw := strings.TrimSpace(C.GoString(p))
	if raw == "" {
		return extraction.DefaultConfig(), nil
	}
	cfg, err := extraction.DecodeConfig([]byte(raw))
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse config json")
	}
	return cfg, nil
}

func cbool(b bool) C.bool { return C.bool(b) }

//export eb_register_document_extractor
func eb_register_document_extractor(name *C.char, cb C.eb_document_extractor_cb, mimeTypes *C.char, priority C.int32_t) C.bool {
	return cbool(boundary.Guard("register_document_extractor", func() error {
		n, err := requireString(name, "name")
		if err != nil {
			return err
		}
		mimes, err := requireString(mimeTypes, "mime types")
		if err != nil {
			return err
		}
		if err := requireCallback(unsafe.Pointer(cb)); err != nil {
			return err
		}
		e, err := native.NewExtractor(n, boundary.ExtractorCallback(unsafe.Pointer(cb)), native.ParseMimeList(mimes), int(priority))
		if err != nil {
			return err
		}
		return registries().Extractors.Register(e)
	}))
}

//export eb_register_ocr_backend
func eb_register_ocr_backend(name *C.char, cb C.eb_ocr_backend_cb) C.bool {
	return eb_register_ocr_backend_with_languages(name, cb, nil)
}

// A NULL or empty languages_json accepts every language.
//
//export eb_register_ocr_backend_with_languages
func eb_register_ocr_backend_with_languages(name *C.char, cb C.eb_ocr_backend_cb, languagesJSON *C.char) C.bool {
	return cbool(boundary.Guard("register_ocr_backend", func() error {
		n, err := requireString(name, "name")
		if err != nil {
			return err
		}
		if err := requireCallback(unsafe.Pointer(cb)); err != nil {
			return err
		}
		var langs []string
		if languagesJSON != nil {
			if langs, err = native.ParseLanguageList(C.GoString(languagesJSON)); err != nil {
				return err
			}
		}
		b, err := native.NewOcrBackend(n, boundary.OcrCallback(unsafe.Pointer(cb)), langs)
		if err != nil {
			return err
		}
		return registries().OCR.Register(b)
	}))
}

//export eb_register_post_processor
func eb_register_post_processor(name *C.char, cb C.eb_post_processor_cb, priority C.int32_t) C.bool {
	return eb_register_post_processor_with_stage(name, cb, priority, nil)
}

// stage is "early", "middle" or "late". NULL selects middle.
//
//export eb_register_post_processor_with_stage
func eb_register_post_processor_with_stage(name *C.char, cb C.eb_post_processor_cb, priority C.int32_t, stage *C.char) C.bool {
	return cbool(boundary.Guard("register_post_processor", func() error {
		n, err := requireString(name, "name")
		if err != nil {
			return err
		}
		if err := requireCallback(unsafe.Pointer(cb)); err != nil {
			return err
		}
		st := plugin.DefaultStage
		if stage != nil {
			if st, err = plugin.ParseStage(C.GoString(stage)); err != nil {
				return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "parse stage")
			}
		}
		p, err := native.NewPostProcessor(n, boundary.ProcessorCallback(unsafe.Pointer(cb)), st, int(priority))
		if err != nil {
			return err
		}
		return registries().Processors.Register(p)
	}))
}

//export eb_register_validator
func eb_register_validator(name *C.char, cb C.eb_validator_cb, priority C.int32_t) C.bool {
	return cbool(boundary.Guard("register_validator", func() error {
		n, err := requireString(name, "name")
		if err != nil {
			return err
		}
		if err := requireCallback(unsafe.Pointer(cb)); err != nil {
			return err
		}
		v, err := native.NewValidator(n, boundary.ValidatorCallback(unsafe.Pointer(cb)), int(priority))
		if err != nil {
			return err
		}
		return registries().Validators.Register(v)
	}))
}

func unregister(capability plugin.Capability, name *C.char) C.bool {
	return cbool(boundary.Guard("unregister_"+string(capability), func() error {
		n, err := requireString(name, "name")
		if err != nil {
			return err
		}
		return registries().Unregister(capability, n)
	}))
}

func clearCapability(capability plugin.Capability) C.bool {
	return cbool(boundary.Guard("clear_"+string(capability), func() error {
		return registries().Clear(capability)
	}))
}

func listCapability(capability plugin.Capability) *C.char {
	var out unsafe.Pointer
	boundary.Guard("list_"+string(capability), func() error {
		names, err := registries().List(capability)
		if err != nil {
			return err
		}
		if names == nil {
			names = []string{}
		}
		raw, err := json.Marshal(names)
		if err != nil {
			return xerrors.Wrap(xerrors.CodeEncoding, err, "encode plugin list")
		}
		out = boundary.CString(string(raw))
		return nil
	})
	return (*C.char)(out)
}

//export eb_unregister_document_extractor
func eb_unregister_document_extractor(name *C.char) C.bool {
	return unregister(plugin.CapabilityDocumentExtractor, name)
}

//export eb_unregister_ocr_backend
func eb_unregister_ocr_backend(name *C.char) C.bool {
	return unregister(plugin.CapabilityOcrBackend, name)
}

//export eb_unregister_post_processor
func eb_unregister_post_processor(name *C.char) C.bool {
	return unregister(plugin.CapabilityPostProcessor, name)
}

//export eb_unregister_validator
func eb_unregister_validator(name *C.char) C.bool {
	return unregister(plugin.CapabilityValidator, name)
}

//export eb_clear_document_extractors
func eb_clear_document_extractors() C.bool { return clearCapability(plugin.CapabilityDocumentExtractor) }

//export eb_clear_ocr_backends
func eb_clear_ocr_backends() C.bool { return clearCapability(plugin.CapabilityOcrBackend) }

//export eb_clear_post_processors
func eb_clear_post_processors() C.bool { return clearCapability(plugin.CapabilityPostProcessor) }

//export eb_clear_validators
func eb_clear_validators() C.bool { return clearCapability(plugin.CapabilityValidator) }

//export eb_list_document_extractors
func eb_list_document_extractors() *C.char { return listCapability(plugin.CapabilityDocumentExtractor) }

//export eb_list_ocr_backends
func eb_list_ocr_backends() *C.char { return listCapability(plugin.CapabilityOcrBackend) }

//export eb_list_post_processors
func eb_list_post_processors() *C.char { return listCapability(plugin.CapabilityPostProcessor) }

//export eb_list_validators
func eb_list_validators() *C.char { return listCapability(plugin.CapabilityValidator) }

// Extracts one document through the registered plugins. The returned result
// is freed with eb_free_result.
//
//export eb_extract_bytes_sync
func eb_extract_bytes_sync(data *C.uint8_t, dataLen C.size_t, mimeType *C.char, configJSON *C.char) *C.eb_result {
	res := boundary.GuardPointer("extract_bytes_sync", func() (*boundary.CResult, error) {
		if data == nil && dataLen > 0 {
			return nil, xerrors.New(xerrors.CodeInvalidArgument, "data cannot be NULL")
		}
		mime, err := requireString(mimeType, "mime type")
		if err != nil {
			return nil, err
		}
		cfg, err := decodeConfig(configJSON)
		if err != nil {
			return nil, err
		}
		content, err := boundary.CopyBytes(unsafe.Pointer(data), uint64(dataLen))
		if err != nil {
			return nil, err
		}
		result, err := registries().ExtractBytes(context.Background(), content, mime, cfg)
		if err != nil {
			return nil, err
		}
		return boundary.NewResult(result)
	})
	return (*C.eb_result)(unsafe.Pointer(res))
}

// Extracts count documents concurrently. A document that fails yields a
// result whose metadata carries the error. Freed with eb_free_batch_result.
//
//export eb_batch_extract_bytes_sync
func eb_batch_extract_bytes_sync(items *C.eb_bytes_with_mime, count C.size_t, configJSON *C.char) *C.eb_batch_result {
	batch := boundary.GuardPointer("batch_extract_bytes_sync", func() (*boundary.CBatch, error) {
		copied, err := boundary.CopyItems(unsafe.Pointer(items), int(count))
		if err != nil {
			return nil, err
		}
		cfg, err := decodeConfig(configJSON)
		if err != nil {
			return nil, err
		}
		batchItems := make([]plugin.BatchItem, len(copied))
		for i, it := range copied {
			batchItems[i] = plugin.BatchItem{Content: it.Data, MimeType: it.MimeType}
		}
		results, err := registries().BatchExtractBytes(context.Background(), batchItems, cfg)
		if err != nil {
			return nil, err
		}
		return boundary.NewBatch(results)
	})
	return (*C.eb_batch_result)(unsafe.Pointer(batch))
}

//export eb_free_string
func eb_free_string(s *C.char) { boundary.FreeString(unsafe.Pointer(s)) }

//export eb_clone_string
func eb_clone_string(s *C.char) *C.char {
	return (*C.char)(boundary.CloneString(unsafe.Pointer(s)))
}

//export eb_free_result
func eb_free_result(r *C.eb_result) { boundary.FreeResult((*boundary.CResult)(unsafe.Pointer(r))) }

//export eb_free_batch_result
func eb_free_batch_result(b *C.eb_batch_result) {
	boundary.FreeBatch((*boundary.CBatch)(unsafe.Pointer(b)))
}

// Returns a copy of the last error message, or NULL when the last call
// succeeded. Freed with eb_free_string. Does not clear the slot.
//
//export eb_last_error
func eb_last_error() *C.char { return (*C.char)(boundary.LastErrorCString()) }

//export eb_last_error_code
func eb_last_error_code() C.int32_t { return C.int32_t(boundary.LastErrorCode()) }

// Returns the registry health snapshot as JSON. Freed with eb_free_string.
//
//export eb_health_json
func eb_health_json() *C.char {
	var out unsafe.Pointer
	boundary.Guard("health_json", func() error {
		raw, err := json.Marshal(registries().Health())
		if err != nil {
			return xerrors.Wrap(xerrors.CodeEncoding, err, "encode health status")
		}
		out = boundary.CString(string(raw))
		return nil
	})
	return (*C.char)(out)
}

// Sets how many foreign callbacks may block at once.
//
//export eb_set_max_blocking_calls
func eb_set_max_blocking_calls(limit C.int32_t) C.bool {
	return cbool(boundary.Guard("set_max_blocking_calls", func() error {
		if limit <= 0 {
			return xerrors.New(xerrors.CodeInvalidArgument, "limit must be positive")
		}
		bridge.SetDefaultExecutor(bridge.NewExecutor(int(limit)))
		return nil
	}))
}
