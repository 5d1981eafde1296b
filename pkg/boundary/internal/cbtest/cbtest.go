// Package cbtest provides C callbacks with known behavior for exercising the
// boundary trampolines from Go tests, which cannot contain C code themselves.
package cbtest

/*
#include <stdint.h>
#include <stdio.h>
#include <stdlib.h>
#include <string.h>

char *cbtest_extract(const uint8_t *content, size_t len, const char *mime, const char *cfg) {
    char buf[256];
    snprintf(buf, sizeof buf, "{\"content\":\"%zu bytes\",\"mime_type\":\"%s\",\"metadata\":{}}", len, mime);
    return strdup(buf);
}

char *cbtest_ocr(const uint8_t *image, size_t len, const char *cfg) {
    char buf[128];
    snprintf(buf, sizeof buf, "{\"content\":\"image of %zu bytes\",\"mime_type\":\"text/plain\",\"metadata\":{}}", len);
    return strdup(buf);
}

char *cbtest_echo(const char *result_json) {
    return strdup(result_json);
}

char *cbtest_reject(const char *result_json) {
    return strdup("content too short");
}

char *cbtest_null_result(const char *result_json) {
    return NULL;
}

char *cbtest_null_extract(const uint8_t *content, size_t len, const char *mime, const char *cfg) {
    return NULL;
}
*/
import "C"

import "unsafe"

// Extractor reports the input length and echoes the MIME type.
func Extractor() unsafe.Pointer { return unsafe.Pointer(C.cbtest_extract) }

// NullExtractor always returns NULL.
func NullExtractor() unsafe.Pointer { return unsafe.Pointer(C.cbtest_null_extract) }

// Ocr reports the image length.
func Ocr() unsafe.Pointer { return unsafe.Pointer(C.cbtest_ocr) }

// Echo returns its input unchanged.
func Echo() unsafe.Pointer { return unsafe.Pointer(C.cbtest_echo) }

// Reject returns a fixed rejection message.
func Reject() unsafe.Pointer { return unsafe.Pointer(C.cbtest_reject) }

// NullResult returns NULL for any result.
func NullResult() unsafe.Pointer { return unsafe.Pointer(C.cbtest_null_result) }
