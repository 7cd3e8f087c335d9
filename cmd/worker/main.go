// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/docstash/thumbnailer/internal/bus"
	"github.com/docstash/thumbnailer/internal/config"
	"github.com/docstash/thumbnailer/internal/fallback"
	"github.com/docstash/thumbnailer/internal/health"
	"github.com/docstash/thumbnailer/internal/render"
	"github.com/docstash/thumbnailer/internal/storage"
	"github.com/docstash/thumbnailer/internal/store"
	"github.com/docstash/thumbnailer/internal/thumbnail"
	"github.com/docstash/thumbnailer/internal/urlcache"
	"github.com/docstash/thumbnailer/internal/variant"
	"github.com/docstash/thumbnailer/pkg/schema"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load()
	if err != nil {
		fatal(logger, "load config", err)
	}
	logger.Info("worker starting",
		"nats_url", cfg.NATSURL,
		"job_subject", cfg.JobSubject,
		"queue", cfg.WorkerQueue,
		"db_path", cfg.DBPath,
		"inline_fallback", cfg.InlineFallbackEnabled)

	jobs, err := store.Open(cfg.DBPath)
	if err != nil {
		fatal(logger, "open job store", err, "db_path", cfg.DBPath)
	}
	defer jobs.Close()

	ctx := context.Background()
	objects, err := storage.NewS3Store(ctx, storage.S3Options{
		Region:    cfg.S3Region,
		Bucket:    cfg.S3Bucket,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		Endpoint:  cfg.S3Endpoint,
	})
	if err != nil {
		fatal(logger, "connect object storage", err, "bucket", cfg.S3Bucket)
	}
	logger.Info("object storage ready", "bucket", cfg.S3Bucket, "region", cfg.S3Region)

	urls, err := urlcache.New(cfg.SignedURLCacheSize)
	if err != nil {
		fatal(logger, "build signed-url cache", err)
	}

	nc, err := bus.Connect(cfg.NATSURL)
	if err != nil {
		fatal(logger, "connect to NATS", err, "nats_url", cfg.NATSURL)
	}
	logger.Info("connected to NATS", "nats_url", cfg.NATSURL)
	defer nc.Close()

	catalog, err := newMessageCatalog(catalogCapacity)
	if err != nil {
		fatal(logger, "build document catalog", err)
	}
	svc := thumbnail.NewService(thumbnail.ServiceOptions{
		Store:             jobs,
		Objects:           objects,
		Catalog:           catalog,
		URLCache:          urls,
		Runner:            render.ExecRunner{},
		Timeouts:          render.DefaultTimeouts(),
		Specs:             cfg.Variants,
		SignedURLTTL:      cfg.SignedURLTTL,
		MaxConcurrentJobs: cfg.MaxConcurrentJobs,
		Logger:            logger,
	})

	smallest, err := variant.Smallest(cfg.Variants)
	if err != nil {
		fatal(logger, "resolve fallback variant", err)
	}
	limits := fallback.DefaultLimits()
	limits.MaxSourceBytes = cfg.MaxInlineSourceBytes
	inline := fallback.NewRenderer(fallback.RendererOptions{
		Objects:      objects,
		Store:        jobs,
		Catalog:      catalog,
		URLCache:     urls,
		Runner:       render.ExecRunner{},
		Spec:         smallest,
		Limits:       limits,
		SignedURLTTL: cfg.SignedURLTTL,
		Logger:       logger,
	})

	monitor := health.NewMonitor(nc.Conn(), jobs, cfg.InlineFallbackEnabled, cfg.StaleJobThreshold)

	_, err = nc.QueueSubscribeJSON(cfg.JobSubject, cfg.WorkerQueue, func(jobCtx context.Context, msg *nats.Msg) {
		handleGenerate(jobCtx, msg.Data, cfg.ResultSubject, catalog, svc, nc, logger)
	})
	if err != nil {
		fatal(logger, "subscribe worker", err, "job_subject", cfg.JobSubject, "queue", cfg.WorkerQueue)
	}
	logger.Info("listening for jobs", "subject", cfg.JobSubject, "queue", cfg.WorkerQueue)

	lookupSubject := cfg.JobSubject + ".lookup"
	_, err = nc.SubscribeJSON(lookupSubject, func(reqCtx context.Context, msg *nats.Msg) {
		handleLookup(reqCtx, msg, svc, inline, monitor, jobs, logger)
	})
	if err != nil {
		fatal(logger, "subscribe lookup", err, "subject", lookupSubject)
	}
	logger.Info("listening for lookups", "subject", lookupSubject)

	go logHealth(ctx, monitor, logger)

	select {}
}

// handleGenerate drives one generation request end to end and publishes
// the outcome. Pipeline failures surface through the done event, never as
// a handler crash.
func handleGenerate(ctx context.Context, data []byte, resultSubject string, catalog *messageCatalog, svc *thumbnail.Service, nc *bus.Client, logger *slog.Logger) {
	var req schema.ThumbnailRequested
	if err := json.Unmarshal(data, &req); err != nil {
		logger.Warn("drop malformed request", "err", err)
		return
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	reqLogger := logger.With("request_id", req.RequestID, "document_id", req.DocumentID)
	reqLogger.Info("received generation request", "variants", req.Variants, "force", req.ForceRegenerate)

	catalog.Put(req.DocumentID, &thumbnail.Document{
		MimeType:    req.MimeType,
		StoragePath: req.StoragePath,
		FileSize:    req.FileSize,
	})

	res := svc.RequestThumbnails(ctx, req.DocumentID, req.UserID, thumbnail.Options{
		Variants:        req.Variants,
		ForceRegenerate: req.ForceRegenerate,
	})

	done := schema.ThumbnailDone{
		RequestID:        req.RequestID,
		JobID:            res.JobID,
		DocumentID:       req.DocumentID,
		ContentHash:      res.ContentHash,
		Success:          res.Success,
		Errors:           res.Errors,
		ProcessingTimeMs: res.ProcessingTimeMs,
		HappenedAt:       time.Now().Unix(),
	}
	for _, v := range res.Variants {
		done.Variants = append(done.Variants, schema.VariantResult{
			Name:          v.Name,
			StoragePath:   v.StoragePath,
			Format:        v.Format,
			Width:         v.Width,
			Height:        v.Height,
			FileSizeBytes: v.FileSizeBytes,
		})
	}

	if err := nc.PublishJSON(resultSubject, done); err != nil {
		reqLogger.Error("publish result failed", "subject", resultSubject, "err", err)
	}
	reqLogger.Info("request finished", "success", res.Success, "variants", len(res.Variants), "processing_time_ms", res.ProcessingTimeMs)
}

// handleLookup answers a request-reply lookup. When nothing is persisted
// yet and the background path is unhealthy or stale, it renders one
// variant inline so the caller gets a thumbnail within the fallback's
// latency budget.
func handleLookup(ctx context.Context, msg *nats.Msg, svc *thumbnail.Service, inline *fallback.Renderer, monitor *health.Monitor, jobs *store.Store, logger *slog.Logger) {
	var req schema.LookupRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		logger.Warn("drop malformed lookup", "err", err)
		return
	}
	resp := schema.LookupResponse{DocumentID: req.DocumentID}

	set, err := svc.GetThumbnails(ctx, req.DocumentID, req.UserID)
	if err != nil {
		resp.Error = err.Error()
		reply(msg, resp, logger)
		return
	}
	if set != nil {
		resp.Variants = toVariantURLs(set.Variants)
		reply(msg, resp, logger)
		return
	}

	age, known, err := jobs.OldestQueuedAge(ctx)
	if err != nil {
		known = false
	}
	if !monitor.ShouldUseInlineFallback(age, known) {
		reply(msg, resp, logger) // nothing yet; caller polls or shows a placeholder
		return
	}

	logger.Info("queue unhealthy, rendering inline", "document_id", req.DocumentID, "oldest_job_age", age)
	res, err := inline.RenderInline(ctx, req.DocumentID, req.UserID)
	if err != nil {
		resp.Error = err.Error()
		reply(msg, resp, logger)
		return
	}

	resp.FromInline = true
	resp.Variants = map[string]schema.VariantURL{
		res.Variant.Name: {
			URL:      res.URL,
			Width:    res.Variant.Width,
			Height:   res.Variant.Height,
			FileSize: res.Variant.FileSizeBytes,
			Format:   res.Variant.Format,
		},
	}
	reply(msg, resp, logger)
}

func reply(msg *nats.Msg, resp schema.LookupResponse, logger *slog.Logger) {
	if msg.Reply == "" {
		return
	}
	b, err := json.Marshal(resp)
	if err != nil {
		logger.Error("marshal lookup response", "err", err)
		return
	}
	if err := msg.Respond(b); err != nil {
		logger.Error("respond to lookup", "err", err)
	}
}

func toVariantURLs(in map[string]thumbnail.VariantURL) map[string]schema.VariantURL {
	out := make(map[string]schema.VariantURL, len(in))
	for name, v := range in {
		out[name] = schema.VariantURL{
			URL:      v.URL,
			Width:    v.Width,
			Height:   v.Height,
			FileSize: v.FileSize,
			Format:   v.Format,
		}
	}
	return out
}

func logHealth(ctx context.Context, monitor *health.Monitor, logger *slog.Logger) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		st := monitor.Check(ctx)
		if st.Healthy {
			logger.Debug("worker healthy", "queue_depth", st.QueueDepth, "oldest_job_age_ms", st.OldestJobAgeMs)
		} else {
			logger.Warn("worker unhealthy", "queue_depth", st.QueueDepth, "oldest_job_age_ms", st.OldestJobAgeMs)
		}
	}
}

// catalogCapacity bounds the worker's view of recently requested
// documents; lookups for anything older fall through to "not found".
const catalogCapacity = 4096

// messageCatalog implements thumbnail.DocumentCatalog from the catalog
// fields carried on generation requests. Upstream services own the real
// catalog; the worker only remembers the documents it was asked about,
// with the oldest evicted first.
type messageCatalog struct {
	docs *lru.Cache[string, *thumbnail.Document]
}

func newMessageCatalog(capacity int) (*messageCatalog, error) {
	docs, err := lru.New[string, *thumbnail.Document](capacity)
	if err != nil {
		return nil, err
	}
	return &messageCatalog{docs: docs}, nil
}

func (c *messageCatalog) Put(documentID string, doc *thumbnail.Document) {
	c.docs.Add(documentID, doc)
}

func (c *messageCatalog) GetDocument(ctx context.Context, documentID, userID string) (*thumbnail.Document, error) {
	doc, _ := c.docs.Get(documentID)
	return doc, nil
}

func fatal(logger *slog.Logger, msg string, err error, attrs ...any) {
	attrs = append(attrs, "err", err)
	logger.Error(msg, attrs...)
	os.Exit(1)
}
