// Package thumbnail orchestrates thumbnail generation jobs: idempotent job
// creation, rendering, upload, and signed-URL lookups.
package thumbnail

import (
	"context"
	"errors"
	"time"
)

// ErrUploadFailure marks a storage write rejection. Retryable; already
// uploaded sibling variants are left intact.
var ErrUploadFailure = errors.New("upload failed")

// Document is the catalog's view of a source document.
type Document struct {
	MimeType    string
	StoragePath string
	FileSize    int64
}

// DocumentCatalog resolves documents with ownership checks. Returns
// (nil, nil) when the document does not exist or the user cannot see it.
type DocumentCatalog interface {
	GetDocument(ctx context.Context, documentID, userID string) (*Document, error)
}

// Options controls one generation request.
type Options struct {
	// Variants selects size labels; empty means every configured size.
	Variants []string
	// ForceRegenerate skips the persisted-variant fast path and re-renders
	// even when thumbnails for this content already exist.
	ForceRegenerate bool
}

// VariantInfo describes one persisted variant.
type VariantInfo struct {
	Name          string `json:"name"`
	StoragePath   string `json:"storage_path"`
	Format        string `json:"format"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// GenerationResult is what RequestThumbnails hands back. Pipeline failures
// are reported through Success and Errors, not as Go errors; callers are
// expected to check Success.
type GenerationResult struct {
	JobID            int64         `json:"job_id"`
	ContentHash      string        `json:"content_hash"`
	Variants         []VariantInfo `json:"variants,omitempty"`
	ProcessingTimeMs int64         `json:"processing_time_ms"`
	Success          bool          `json:"success"`
	Errors           []string      `json:"errors,omitempty"`
}

// VariantURL is one servable thumbnail with its signed URL.
type VariantURL struct {
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
	Format   string `json:"format"`
}

// ThumbnailSet is the response of GetThumbnails.
type ThumbnailSet struct {
	DocumentID  string                `json:"document_id"`
	Variants    map[string]VariantURL `json:"variants"`
	GeneratedAt time.Time             `json:"generated_at"`
	JobID       int64                 `json:"job_id"`
}
