// Package tesseract provides an OCR backend backed by libtesseract through
// gosseract.
package tesseract

import (
	"context"
	"log/slog"
	"strings"

	"github.com/otiai10/gosseract/v2"

	xerrors "ExtractBridge/internal/errors"
	"ExtractBridge/pkg/bridge"
	"ExtractBridge/pkg/extraction"
	"ExtractBridge/pkg/logger"
	"ExtractBridge/pkg/plugin"
)

// Name is the registry name of the backend.
const Name = "tesseract"

// Backend implements plugin.OcrBackend. gosseract clients are not safe for
// concurrent use, so every call gets its own client.
type Backend struct {
	plugin.Identity
	languages     []string
	priority      int
	exec          *bridge.Executor
	clientFactory func() *gosseract.Client
	log           *slog.Logger
}

// Option customizes a Backend.
type Option func(*Backend)

// WithLanguages sets the advertised languages. The first one is used when a
// request does not name a language.
func WithLanguages(langs ...string) Option {
	return func(b *Backend) {
		if len(langs) > 0 {
			b.languages = append([]string(nil), langs...)
		}
	}
}

// WithPriority sets the selection priority.
func WithPriority(p int) Option { return func(b *Backend) { b.priority = p } }

// WithExecutor runs recognition on e instead of bridge.DefaultExecutor().
func WithExecutor(e *bridge.Executor) Option {
	return func(b *Backend) {
		if e != nil {
			b.exec = e
		}
	}
}

// New returns a backend advertising English unless configured otherwise.
func New(opts ...Option) *Backend {
	b := &Backend{
		Identity:      plugin.Identity{PluginName: Name},
		languages:     []string{"eng"},
		exec:          bridge.DefaultExecutor(),
		clientFactory: gosseract.NewClient,
		log:           logger.Named("tesseract"),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Version reports the linked libtesseract version.
func (b *Backend) Version() string {
	c := b.clientFactory()
	defer c.Close()
	if v := c.Version(); v != "" {
		return v
	}
	return plugin.DefaultVersion
}

// ProcessImage recognizes the text in an encoded image.
func (b *Backend) ProcessImage(ctx context.Context, image []byte, cfg *extraction.OcrConfig) (*extraction.Result, error) {
	if len(image) == 0 {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "image is empty", xerrors.WithPlugin(Name))
	}
	langs := b.requestLanguages(cfg)
	var text string
	err := b.exec.Do(ctx, func() error {
		c := b.clientFactory()
		defer c.Close()
		if err := c.SetImageFromBytes(image); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "set image", xerrors.WithPlugin(Name))
		}
		if err := c.SetLanguage(langs...); err != nil {
			return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "set languages", xerrors.WithPlugin(Name))
		}
		if cfg != nil && cfg.Tesseract != nil {
			if cfg.Tesseract.PSM > 0 {
				if err := c.SetPageSegMode(gosseract.PageSegMode(cfg.Tesseract.PSM)); err != nil {
					return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "set page segmentation mode", xerrors.WithPlugin(Name))
				}
			}
			if cfg.Tesseract.CharWhitelist != "" {
				if err := c.SetWhitelist(cfg.Tesseract.CharWhitelist); err != nil {
					return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "set whitelist", xerrors.WithPlugin(Name))
				}
			}
		}
		out, err := c.Text()
		if err != nil {
			return xerrors.Wrap(xerrors.CodeUnknown, err, "recognize text", xerrors.WithPlugin(Name))
		}
		text = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	lang := strings.Join(langs, "+")
	res := &extraction.Result{Content: strings.TrimSpace(text), MimeType: "text/plain", DetectedLanguages: langs}
	res.Metadata.Language = &lang
	b.log.Debug("image recognized", slog.String("languages", lang), slog.Int("chars", len(res.Content)))
	return res, nil
}

func (b *Backend) requestLanguages(cfg *extraction.OcrConfig) []string {
	if cfg != nil && cfg.Language != "" {
		return strings.Split(cfg.Language, "+")
	}
	return b.languages[:1]
}

func (b *Backend) BackendKind() plugin.BackendKind { return plugin.BackendTesseract }
func (b *Backend) SupportedLanguages() []string    { return b.languages }
func (b *Backend) SupportsTableDetection() bool    { return false }
func (b *Backend) Priority() int                   { return b.priority }

var _ plugin.OcrBackend = (*Backend)(nil)
