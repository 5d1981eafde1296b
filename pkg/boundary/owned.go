package boundary

import (
	"sync"

	"ExtractBridge/pkg/extraction"
)

// owned pairs an allocation with its free function and runs it exactly once.
type owned[T any] struct {
	once sync.Once
	ptr  *T
	free func(*T)
}

func (o *owned[T]) get() *T {
	if o == nil {
		return nil
	}
	return o.ptr
}

func (o *owned[T]) close() {
	if o == nil {
		return
	}
	o.once.Do(func() {
		o.free(o.ptr)
		o.ptr = nil
	})
}

// release hands ownership to the caller. Close becomes a no-op.
func (o *owned[T]) release() *T {
	if o == nil {
		return nil
	}
	var p *T
	o.once.Do(func() {
		p, o.ptr = o.ptr, nil
	})
	return p
}

// OwnedResult frees its CResult on Close.
type OwnedResult struct{ o owned[CResult] }

// NewOwnedResult allocates r through NewResult.
func NewOwnedResult(r *extraction.Result) (*OwnedResult, error) {
	p, err := NewResult(r)
	if err != nil {
		return nil, err
	}
	return &OwnedResult{o: owned[CResult]{ptr: p, free: FreeResult}}, nil
}

// Get returns the result, or nil after Close or Release.
func (r *OwnedResult) Get() *CResult { return r.o.get() }

// Close frees the result. Further calls are no-ops.
func (r *OwnedResult) Close() { r.o.close() }

// Release transfers ownership to the caller, who must call FreeResult.
func (r *OwnedResult) Release() *CResult { return r.o.release() }

// OwnedBatch frees its CBatch on Close.
type OwnedBatch struct{ o owned[CBatch] }

// NewOwnedBatch allocates results through NewBatch.
func NewOwnedBatch(results []*extraction.Result) (*OwnedBatch, error) {
	p, err := NewBatch(results)
	if err != nil {
		return nil, err
	}
	return &OwnedBatch{o: owned[CBatch]{ptr: p, free: FreeBatch}}, nil
}

func (b *OwnedBatch) Get() *CBatch     { return b.o.get() }
func (b *OwnedBatch) Close()           { b.o.close() }
func (b *OwnedBatch) Release() *CBatch { return b.o.release() }
