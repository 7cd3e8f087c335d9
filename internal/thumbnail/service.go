package thumbnail

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/docstash/thumbnailer/internal/hash"
	"github.com/docstash/thumbnailer/internal/render"
	"github.com/docstash/thumbnailer/internal/storage"
	"github.com/docstash/thumbnailer/internal/store"
	"github.com/docstash/thumbnailer/internal/urlcache"
	"github.com/docstash/thumbnailer/internal/variant"
)

// Service drives the normal generation path. All collaborators are
// injected; the composition root in cmd/worker owns construction.
type Service struct {
	store    *store.Store
	objects  storage.ObjectStore
	catalog  DocumentCatalog
	urls     *urlcache.Cache
	runner   render.CommandRunner
	timeouts render.Timeouts
	specs    []variant.Spec
	urlTTL   time.Duration
	sem      *semaphore.Weighted
	logger   *slog.Logger
}

// ServiceOptions collects the orchestrator's dependencies and tuning.
type ServiceOptions struct {
	Store             *store.Store
	Objects           storage.ObjectStore
	Catalog           DocumentCatalog
	URLCache          *urlcache.Cache
	Runner            render.CommandRunner
	Timeouts          render.Timeouts
	Specs             []variant.Spec
	SignedURLTTL      time.Duration
	MaxConcurrentJobs int
	Logger            *slog.Logger
}

func NewService(opts ServiceOptions) *Service {
	if opts.MaxConcurrentJobs <= 0 {
		opts.MaxConcurrentJobs = 4
	}
	if opts.SignedURLTTL <= 0 {
		opts.SignedURLTTL = time.Hour
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Timeouts == (render.Timeouts{}) {
		opts.Timeouts = render.DefaultTimeouts()
	}
	return &Service{
		store:    opts.Store,
		objects:  opts.Objects,
		catalog:  opts.Catalog,
		urls:     opts.URLCache,
		runner:   opts.Runner,
		timeouts: opts.Timeouts,
		specs:    opts.Specs,
		urlTTL:   opts.SignedURLTTL,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrentJobs)),
		logger:   opts.Logger,
	}
}

// RequestThumbnails resolves the document, checks the persisted-variant
// fast path, and otherwise claims (or attaches to) the job for this
// content version and renders the requested sizes. Pipeline failures are
// recorded on the job and surfaced through the result, never panicked or
// returned as errors.
func (s *Service) RequestThumbnails(ctx context.Context, documentID, userID string, opts Options) GenerationResult {
	start := time.Now()
	logger := s.logger.With("document_id", documentID)

	doc, err := s.catalog.GetDocument(ctx, documentID, userID)
	if err != nil {
		return failResult("", 0, fmt.Errorf("resolve document: %w", err))
	}
	if doc == nil {
		return failResult("", 0, fmt.Errorf("document %s not found", documentID))
	}

	src, err := s.objects.Download(ctx, doc.StoragePath)
	if err != nil {
		return failResult("", 0, fmt.Errorf("download source: %w", err))
	}
	contentHash := hash.Content(src)
	logger = logger.With("content_hash", contentHash)

	requested := opts.Variants
	if len(requested) == 0 {
		requested = specNames(s.specs)
	}
	specs, err := variant.ByName(s.specs, requested)
	if err != nil {
		return failResult(contentHash, 0, err)
	}

	// Fast path: identical content renders to identical storage paths, so
	// existing rows fully answer the request. Checked before any job
	// bookkeeping to avoid redundant renders.
	var existing []store.Variant
	if !opts.ForceRegenerate {
		existing, err = s.store.VariantsFor(ctx, documentID, contentHash)
		if err != nil {
			return failResult(contentHash, 0, fmt.Errorf("check persisted variants: %w", err))
		}
		if covered, infos, jobID := coverage(existing, requested); covered {
			logger.Info("served from persisted variants", "count", len(infos))
			return GenerationResult{
				JobID:            jobID,
				ContentHash:      contentHash,
				Variants:         infos,
				ProcessingTimeMs: time.Since(start).Milliseconds(),
				Success:          true,
			}
		}
	}

	mimeType := doc.MimeType
	if mimeType == "" {
		mimeType = storage.DetectMime(src)
	}

	job, claimed, err := s.store.CreateOrAttachJob(ctx, store.Job{
		DocumentID:     documentID,
		UserID:         userID,
		ContentHash:    contentHash,
		MimeType:       mimeType,
		Variants:       requested,
		IdempotencyKey: hash.IdempotencyKey(documentID, contentHash),
	})
	if err != nil {
		return failResult(contentHash, 0, fmt.Errorf("create job: %w", err))
	}

	// A completed job only covers the labels it rendered. Reaching this
	// point without ForceRegenerate means the fast path found a gap, so a
	// terminal job is reclaimed and only the missing sizes rendered.
	renderSpecs := specs
	if !claimed && (opts.ForceRegenerate || job.Status == store.StatusCompleted) {
		job, claimed, err = s.store.ReclaimJob(ctx, job.IdempotencyKey)
		if err != nil {
			return failResult(contentHash, job.ID, fmt.Errorf("reclaim job: %w", err))
		}
		if claimed && !opts.ForceRegenerate {
			renderSpecs = missingSpecs(specs, existing)
		}
	}

	if !claimed {
		// A live job already covers this content; attach to it.
		logger.Info("attached to existing job", "job_id", job.ID, "status", job.Status)
		persisted, _ := s.store.VariantsFor(ctx, documentID, contentHash)
		infos, _, _ := variantInfos(persisted)
		res := GenerationResult{
			JobID:            job.ID,
			ContentHash:      contentHash,
			Variants:         infos,
			ProcessingTimeMs: time.Since(start).Milliseconds(),
			Success:          job.Status != store.StatusFailed,
		}
		if job.Status == store.StatusFailed {
			res.Errors = []string{job.ErrorMessage}
		}
		return res
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		s.failJob(ctx, logger, job.ID, fmt.Errorf("acquire render slot: %w", err))
		return failResult(contentHash, job.ID, err)
	}
	defer s.sem.Release(1)

	if err := s.store.MarkProcessing(ctx, job.ID); err != nil {
		// The row we claimed must not sit in queued forever.
		s.failJob(ctx, logger, job.ID, fmt.Errorf("mark processing: %w", err))
		return failResult(contentHash, job.ID, err)
	}
	logger = logger.With("job_id", job.ID)

	infos, renderErr := s.renderAll(ctx, logger, job, src, mimeType, renderSpecs)
	if renderErr != nil {
		s.failJob(ctx, logger, job.ID, renderErr)
		res := failResult(contentHash, job.ID, renderErr)
		res.Variants = infos // partial progress is durable, not rolled back
		res.ProcessingTimeMs = time.Since(start).Milliseconds()
		return res
	}

	if err := s.store.MarkCompleted(ctx, job.ID); err != nil {
		logger.Error("mark completed failed", "err", err)
	}

	// A gap-filling pass only rendered the missing sizes; answer with the
	// full requested set from the store.
	if len(renderSpecs) != len(specs) {
		if rows, err := s.store.VariantsFor(ctx, documentID, contentHash); err == nil {
			if covered, all, _ := coverage(rows, requested); covered {
				infos = all
			}
		}
	}

	elapsed := time.Since(start)
	logger.Info("job completed", "variants", len(infos), "processing_time_ms", elapsed.Milliseconds())
	return GenerationResult{
		JobID:            job.ID,
		ContentHash:      contentHash,
		Variants:         infos,
		ProcessingTimeMs: elapsed.Milliseconds(),
		Success:          true,
	}
}

// renderAll rasterizes once and renders, uploads, and persists each
// requested size. The first failure aborts the pass; variants persisted
// before it are kept.
func (s *Service) renderAll(ctx context.Context, logger *slog.Logger, job store.Job, src []byte, mimeType string, specs []variant.Spec) ([]VariantInfo, error) {
	kind, err := render.KindFor(mimeType)
	if err != nil {
		return nil, err
	}
	strategy := render.ForKind(kind, mimeType, s.runner, s.timeouts)
	logger.Info("rendering", "strategy", strategy.Name(), "mime_type", mimeType)

	base, err := strategy.Rasterize(ctx, src)
	if err != nil {
		return nil, err
	}

	var infos []VariantInfo
	for _, sp := range specs {
		out, err := variant.Render(base, sp, logger)
		if err != nil {
			return infos, err
		}

		key := storage.ThumbnailKey(job.DocumentID, sp.Name, job.ContentHash, out.Format)
		if err := s.objects.Upload(ctx, key, out.Data, storage.ContentTypeFor(out.Format)); err != nil {
			return infos, fmt.Errorf("%w: %s: %v", ErrUploadFailure, key, err)
		}

		if err := s.store.UpsertVariant(ctx, store.Variant{
			DocumentID:       job.DocumentID,
			JobID:            job.ID,
			Name:             sp.Name,
			ContentHash:      job.ContentHash,
			StoragePath:      key,
			Format:           out.Format,
			Width:            out.Width,
			Height:           out.Height,
			FileSizeBytes:    int64(len(out.Data)),
			GenerationTimeMs: out.GenerationTime.Milliseconds(),
		}); err != nil {
			return infos, err
		}

		infos = append(infos, VariantInfo{
			Name:          sp.Name,
			StoragePath:   key,
			Format:        out.Format,
			Width:         out.Width,
			Height:        out.Height,
			FileSizeBytes: int64(len(out.Data)),
		})
	}
	return infos, nil
}

// GetThumbnails returns the newest persisted variants with signed URLs, or
// (nil, nil) when none exist yet. "No thumbnail yet" is a normal state,
// not an error.
func (s *Service) GetThumbnails(ctx context.Context, documentID, userID string) (*ThumbnailSet, error) {
	doc, err := s.catalog.GetDocument(ctx, documentID, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve document: %w", err)
	}
	if doc == nil {
		return nil, nil
	}

	variants, err := s.store.LatestVariants(ctx, documentID)
	if err != nil {
		return nil, fmt.Errorf("load variants: %w", err)
	}
	if len(variants) == 0 {
		return nil, nil
	}

	set := &ThumbnailSet{
		DocumentID: documentID,
		Variants:   make(map[string]VariantURL, len(variants)),
	}
	for _, v := range variants {
		url, _, ok := s.urls.Get(documentID, v.ContentHash, v.Name)
		if !ok {
			url, err = s.objects.SignedURL(ctx, v.StoragePath, s.urlTTL)
			if err != nil {
				return nil, fmt.Errorf("sign url for %s: %w", v.StoragePath, err)
			}
			s.urls.Set(documentID, v.ContentHash, v.Name, url, s.urlTTL)
		}

		set.Variants[v.Name] = VariantURL{
			URL:      url,
			Width:    v.Width,
			Height:   v.Height,
			FileSize: v.FileSizeBytes,
			Format:   v.Format,
		}
		if v.CreatedAt.After(set.GeneratedAt) {
			set.GeneratedAt = v.CreatedAt
		}
		set.JobID = v.JobID
	}
	return set, nil
}

func (s *Service) failJob(ctx context.Context, logger *slog.Logger, jobID int64, cause error) {
	logger.Error("job failed", "job_id", jobID, "err", cause)
	if err := s.store.MarkFailed(ctx, jobID, cause); err != nil {
		logger.Error("mark failed errored", "job_id", jobID, "err", err)
	}
}

// missingSpecs filters out the tiers already persisted for this content.
func missingSpecs(specs []variant.Spec, rows []store.Variant) []variant.Spec {
	have := make(map[string]bool, len(rows))
	for _, v := range rows {
		have[v.Name] = true
	}
	missing := make([]variant.Spec, 0, len(specs))
	for _, sp := range specs {
		if !have[sp.Name] {
			missing = append(missing, sp)
		}
	}
	return missing
}

func specNames(specs []variant.Spec) []string {
	names := make([]string, len(specs))
	for i, sp := range specs {
		names[i] = sp.Name
	}
	return names
}

// coverage reports whether the persisted rows answer every requested
// label, along with their infos and owning job.
func coverage(rows []store.Variant, requested []string) (bool, []VariantInfo, int64) {
	infos, byName, jobID := variantInfos(rows)
	for _, name := range requested {
		if !byName[name] {
			return false, nil, 0
		}
	}
	// Keep only the requested labels, in request order.
	selected := make([]VariantInfo, 0, len(requested))
	for _, name := range requested {
		for _, info := range infos {
			if info.Name == name {
				selected = append(selected, info)
				break
			}
		}
	}
	return true, selected, jobID
}

func variantInfos(rows []store.Variant) ([]VariantInfo, map[string]bool, int64) {
	infos := make([]VariantInfo, 0, len(rows))
	byName := make(map[string]bool, len(rows))
	var jobID int64
	for _, v := range rows {
		infos = append(infos, VariantInfo{
			Name:          v.Name,
			StoragePath:   v.StoragePath,
			Format:        v.Format,
			Width:         v.Width,
			Height:        v.Height,
			FileSizeBytes: v.FileSizeBytes,
		})
		byName[v.Name] = true
		jobID = v.JobID
	}
	return infos, byName, jobID
}

func failResult(contentHash string, jobID int64, err error) GenerationResult {
	return GenerationResult{
		JobID:       jobID,
		ContentHash: contentHash,
		Success:     false,
		Errors:      []string{err.Error()},
	}
}

