package plugin

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/extraction"
)

// BatchItem is one document of a batch extraction.
type BatchItem struct {
	Content  []byte
	MimeType string
}

// BatchExtractBytes extracts every item concurrently and returns one result
// per item, in input order. A failed item does not fail the batch: its slot
// holds an empty result whose metadata carries the error. Only context
// cancellation aborts the batch.
func (r *Registries) BatchExtractBytes(ctx context.Context, items []BatchItem, cfg *extraction.Config) ([]*extraction.Result, error) {
	if cfg == nil {
		cfg = extraction.DefaultConfig()
	}
	out := make([]*extraction.Result, len(items))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, item := range items {
		g.Go(func() (err error) {
			defer func() {
				if rec := recover(); rec != nil {
					out[i] = failedResult(item.MimeType, panicError("batch item", rec))
					err = nil
				}
			}()
			if err := gctx.Err(); err != nil {
				return err
			}
			res, err := r.ExtractBytes(gctx, item.Content, item.MimeType, cfg)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				res = failedResult(item.MimeType, err)
			}
			out[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func failedResult(mimeType string, err error) *extraction.Result {
	return &extraction.Result{
		MimeType: NormalizeMimeType(mimeType),
		Metadata: extraction.Metadata{Error: &extraction.ErrorMetadata{
			ErrorType: string(xerrors.CodeOf(err)),
			Message:   err.Error(),
		}},
	}
}
