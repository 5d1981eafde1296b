// Package docconv provides a document extractor for office, PDF and markup
// formats backed by code.sajari.com/docconv.
package docconv

import (
	"bytes"
	"context"
	"log/slog"
	"strings"

	"code.sajari.com/docconv"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// Name is the registry name of the extractor.
const Name = "docconv"

// DefaultMimeTypes are the formats docconv converts.
var DefaultMimeTypes = []string{
	"application/pdf",
	"application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation",
	"application/vnd.oasis.opendocument.text",
	"application/vnd.apple.pages",
	"application/rtf",
	"text/rtf",
	"text/html",
	"application/xhtml+xml",
	"application/xml",
	"text/xml",
}

// Extractor implements plugin.DocumentExtractor and plugin.FileExtractor.
// Several docconv converters shell out to external tools, so conversions run
// on the executor.
type Extractor struct {
	plugin.Identity
	mimeTypes   []string
	priority    int
	readability bool
	exec        *bridge.Executor
	log         *slog.Logger
}

type Option func(*Extractor)

// WithReadability enables docconv's readability filter for HTML.
func WithReadability(on bool) Option { return func(e *Extractor) { e.readability = on } }

func WithPriority(p int) Option { return func(e *Extractor) { e.priority = p } }

func WithMimeTypes(types ...string) Option {
	return func(e *Extractor) {
		if len(types) > 0 {
			e.mimeTypes = append([]string(nil), types...)
		}
	}
}

func WithExecutor(ex *bridge.Executor) Option {
	return func(e *Extractor) {
		if ex != nil {
			e.exec = ex
		}
	}
}

func New(opts ...Option) *Extractor {
	e := &Extractor{
		Identity:  plugin.Identity{PluginName: Name},
		mimeTypes: DefaultMimeTypes,
		exec:      bridge.DefaultExecutor(),
		log:       logger.Named("docconv"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

func (e *Extractor) ExtractBytes(ctx context.Context, content []byte, mimeType string, _ *extraction.Config) (*extraction.Result, error) {
	mimeType = plugin.NormalizeMimeType(mimeType)
	var resp *docconv.Response
	err := e.exec.Do(ctx, func() error {
		var err error
		resp, err = docconv.Convert(bytes.NewReader(content), mimeType, e.readability)
		return err
	})
	if err != nil {
		return nil, e.convertError(err, mimeType)
	}
	return e.toResult(resp, mimeType), nil
}

// ExtractFile lets docconv detect the type from the file extension.
func (e *Extractor) ExtractFile(ctx context.Context, path, mimeType string, _ *extraction.Config) (*extraction.Result, error) {
	var resp *docconv.Response
	err := e.exec.Do(ctx, func() error {
		var err error
		resp, err = docconv.ConvertPath(path)
		return err
	})
	if err != nil {
		return nil, e.convertError(err, mimeType)
	}
	return e.toResult(resp, plugin.NormalizeMimeType(mimeType)), nil
}

func (e *Extractor) convertError(err error, mimeType string) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	e.log.Warn("conversion failed", slog.String("mime_type", mimeType), slog.Any("error", err))
	return xerrors.Wrap(xerrors.CodeUnsupportedFormat, err, "docconv conversion failed for "+mimeType, xerrors.WithPlugin(Name))
}

func (e *Extractor) toResult(resp *docconv.Response, mimeType string) *extraction.Result {
	res := &extraction.Result{Content: strings.TrimSpace(resp.Body), MimeType: mimeType}
	for key, value := range resp.Meta {
		if value == "" {
			continue
		}
		v := value
		switch strings.ToLower(key) {
		case "title":
			res.Metadata.Title = &v
		case "subject":
			res.Metadata.Subject = &v
		case "author", "creator":
			res.Metadata.Authors = append(res.Metadata.Authors, v)
		case "keywords":
			for _, kw := range strings.Split(v, ",") {
				if kw = strings.TrimSpace(kw); kw != "" {
					res.Metadata.Keywords = append(res.Metadata.Keywords, kw)
				}
			}
		case "createddate", "creationdate":
			res.Metadata.CreatedAt = &v
		case "modifieddate", "moddate":
			res.Metadata.ModifiedAt = &v
		default:
			_ = res.SetAdditional(strings.ToLower(key), v)
		}
	}
	return res
}

func (e *Extractor) SupportedMimeTypes() []string { return e.mimeTypes }
func (e *Extractor) Priority() int                { return e.priority }

var (
	_ plugin.DocumentExtractor = (*Extractor)(nil)
	_ plugin.FileExtractor     = (*Extractor)(nil)
)
