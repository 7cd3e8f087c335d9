// Package fallback renders a single thumbnail synchronously in the request
// path when the background worker is unhealthy or too slow. It trades the
// normal path's durability bookkeeping for strict latency bounds: every
// stage has its own timeout and oversized sources are rejected outright.
package fallback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docstash/thumbnailer/internal/hash"
	"github.com/docstash/thumbnailer/internal/render"
	"github.com/docstash/thumbnailer/internal/storage"
	"github.com/docstash/thumbnailer/internal/store"
	"github.com/docstash/thumbnailer/internal/thumbnail"
	"github.com/docstash/thumbnailer/internal/urlcache"
	"github.com/docstash/thumbnailer/internal/variant"
)

// ErrSourceTooLarge rejects sources above the inline ceiling. Only this
// path enforces a ceiling; the normal path has none.
var ErrSourceTooLarge = errors.New("source too large for inline rendering")

// Limits bounds each stage of the inline pipeline. The request can never
// block longer than roughly their sum.
type Limits struct {
	MaxSourceBytes  int64
	DownloadTimeout time.Duration
	RenderTimeout   time.Duration
	UploadTimeout   time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxSourceBytes:  20 * 1024 * 1024,
		DownloadTimeout: 2 * time.Second,
		RenderTimeout:   3 * time.Second,
		UploadTimeout:   2 * time.Second,
	}
}

// Result is the single variant the fallback produced, with a signed URL
// already minted.
type Result struct {
	Variant     thumbnail.VariantInfo
	ContentHash string
	URL         string
}

// Renderer is the inline emergency path. Unlike the orchestrator it has no
// job row to record into, so every stage failure comes back as an error.
type Renderer struct {
	objects storage.ObjectStore
	store   *store.Store
	catalog thumbnail.DocumentCatalog
	urls    *urlcache.Cache
	runner  render.CommandRunner
	spec    variant.Spec
	limits  Limits
	urlTTL  time.Duration
	logger  *slog.Logger
}

type RendererOptions struct {
	Objects      storage.ObjectStore
	Store        *store.Store
	Catalog      thumbnail.DocumentCatalog
	URLCache     *urlcache.Cache
	Runner       render.CommandRunner
	Spec         variant.Spec // the single size to render, normally the smallest tier
	Limits       Limits
	SignedURLTTL time.Duration
	Logger       *slog.Logger
}

func NewRenderer(opts RendererOptions) *Renderer {
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Renderer{
		objects: opts.Objects,
		store:   opts.Store,
		catalog: opts.Catalog,
		urls:    opts.URLCache,
		runner:  opts.Runner,
		spec:    opts.Spec,
		limits:  opts.Limits,
		urlTTL:  opts.SignedURLTTL,
		logger:  opts.Logger,
	}
}

// RenderInline downloads, rasterizes, encodes, and uploads one variant on
// the calling goroutine. The output lands at the same content-addressed
// path a normal render would use, and the variant row is written, so later
// lookups hit the persisted fast path instead of re-invoking the fallback.
func (r *Renderer) RenderInline(ctx context.Context, documentID, userID string) (*Result, error) {
	start := time.Now()
	logger := r.logger.With("document_id", documentID, "variant", r.spec.Name)

	doc, err := r.catalog.GetDocument(ctx, documentID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve document: %w", err)
	}
	if doc == nil {
		return nil, fmt.Errorf("document %s not found", documentID)
	}
	if doc.FileSize > r.limits.MaxSourceBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrSourceTooLarge, doc.FileSize, r.limits.MaxSourceBytes)
	}

	src, err := r.download(ctx, doc.StoragePath)
	if err != nil {
		return nil, err
	}
	// The catalog's size can be stale; re-check the real payload.
	if int64(len(src)) > r.limits.MaxSourceBytes {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrSourceTooLarge, len(src), r.limits.MaxSourceBytes)
	}

	contentHash := hash.Content(src)

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = storage.DetectMime(src)
	}

	out, err := r.rasterizeAndEncode(ctx, src, mimeType, logger)
	if err != nil {
		return nil, err
	}

	key := storage.ThumbnailKey(documentID, r.spec.Name, contentHash, out.Format)
	if err := r.upload(ctx, key, out.Data, storage.ContentTypeFor(out.Format)); err != nil {
		return nil, err
	}

	if err := r.store.UpsertVariant(ctx, store.Variant{
		DocumentID:       documentID,
		Name:             r.spec.Name,
		ContentHash:      contentHash,
		StoragePath:      key,
		Format:           out.Format,
		Width:            out.Width,
		Height:           out.Height,
		FileSizeBytes:    int64(len(out.Data)),
		GenerationTimeMs: out.GenerationTime.Milliseconds(),
	}); err != nil {
		return nil, fmt.Errorf("persist variant: %w", err)
	}

	url, err := r.objects.SignedURL(ctx, key, r.urlTTL)
	if err != nil {
		return nil, fmt.Errorf("sign url: %w", err)
	}
	r.urls.Set(documentID, contentHash, r.spec.Name, url, r.urlTTL)

	logger.Info("inline render completed",
		"content_hash", contentHash,
		"total_ms", time.Since(start).Milliseconds())

	return &Result{
		Variant: thumbnail.VariantInfo{
			Name:          r.spec.Name,
			StoragePath:   key,
			Format:        out.Format,
			Width:         out.Width,
			Height:        out.Height,
			FileSizeBytes: int64(len(out.Data)),
		},
		ContentHash: contentHash,
		URL:         url,
	}, nil
}

func (r *Renderer) download(ctx context.Context, path string) ([]byte, error) {
	dlCtx, cancel := context.WithTimeout(ctx, r.limits.DownloadTimeout)
	defer cancel()

	src, err := r.objects.Download(dlCtx, path)
	if err != nil {
		return nil, fmt.Errorf("download source: %w", err)
	}
	return src, nil
}

func (r *Renderer) rasterizeAndEncode(ctx context.Context, src []byte, mimeType string, logger *slog.Logger) (variant.Output, error) {
	kind, err := render.KindFor(mimeType)
	if err != nil {
		return variant.Output{}, err
	}

	// The fallback's render budget caps the external tools too, overriding
	// the roomier normal-path timeouts.
	timeouts := render.Timeouts{PDF: r.limits.RenderTimeout, Office: r.limits.RenderTimeout}
	strategy := render.ForKind(kind, mimeType, r.runner, timeouts)

	renderCtx, cancel := context.WithTimeout(ctx, r.limits.RenderTimeout)
	defer cancel()

	base, err := strategy.Rasterize(renderCtx, src)
	if err != nil {
		return variant.Output{}, err
	}
	return variant.Render(base, r.spec, logger)
}

func (r *Renderer) upload(ctx context.Context, key string, data []byte, contentType string) error {
	upCtx, cancel := context.WithTimeout(ctx, r.limits.UploadTimeout)
	defer cancel()

	if err := r.objects.Upload(upCtx, key, data, contentType); err != nil {
		return fmt.Errorf("%w: %s: %v", thumbnail.ErrUploadFailure, key, err)
	}
	return nil
}
