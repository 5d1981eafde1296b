//go:build amd64 || arm64 || ppc64le || riscv64 || s390x || loong64 || mips64 || mips64le

package boundary

import "unsafe"

// Sizes and offsets other-language bindings hard-code. Each pair of array
// declarations only compiles when the two sides are equal.
const (
	resultSize    = 120
	resultAlign   = 8
	successOffset = 112
	batchSize     = 24
	bytesSize     = 24
)

var (
	_ [resultSize - unsafe.Sizeof(CResult{})]byte
	_ [unsafe.Sizeof(CResult{}) - resultSize]byte
	_ [resultAlign - unsafe.Alignof(CResult{})]byte
	_ [unsafe.Alignof(CResult{}) - resultAlign]byte
	_ [successOffset - unsafe.Offsetof(CResult{}.success)]byte
	_ [unsafe.Offsetof(CResult{}.success) - successOffset]byte
	_ [unsafe.Offsetof(CResult{}.ocr_elements_json) - 104]byte
	_ [104 - unsafe.Offsetof(CResult{}.ocr_elements_json)]byte

	_ [batchSize - unsafe.Sizeof(CBatch{})]byte
	_ [unsafe.Sizeof(CBatch{}) - batchSize]byte
	_ [unsafe.Offsetof(CBatch{}.success) - 16]byte
	_ [16 - unsafe.Offsetof(CBatch{}.success)]byte

	_ [bytesSize - unsafe.Sizeof(CBytesWithMime{})]byte
	_ [unsafe.Sizeof(CBytesWithMime{}) - bytesSize]byte
)
