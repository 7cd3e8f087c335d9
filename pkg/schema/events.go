// Package schema defines the event payloads exchanged with other services
// over the bus.
package schema

// ThumbnailRequested asks the worker to generate thumbnails for one
// document. The publisher owns the document catalog, so the message
// carries the catalog fields the pipeline needs.
type ThumbnailRequested struct {
	RequestID       string   `json:"request_id"`
	DocumentID      string   `json:"document_id"`
	UserID          string   `json:"user_id"`
	MimeType        string   `json:"mime_type"`
	StoragePath     string   `json:"storage_path"`
	FileSize        int64    `json:"file_size"`
	Variants        []string `json:"variants,omitempty"`
	ForceRegenerate bool     `json:"force_regenerate,omitempty"`
	HappenedAt      int64    `json:"happened_at"`
}

// VariantResult describes one persisted thumbnail in a done event.
type VariantResult struct {
	Name          string `json:"name"`
	StoragePath   string `json:"storage_path"`
	Format        string `json:"format"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	FileSizeBytes int64  `json:"file_size_bytes"`
}

// ThumbnailDone reports the outcome of one generation request.
type ThumbnailDone struct {
	RequestID        string          `json:"request_id"`
	JobID            int64           `json:"job_id"`
	DocumentID       string          `json:"document_id"`
	ContentHash      string          `json:"content_hash"`
	Success          bool            `json:"success"`
	Errors           []string        `json:"errors,omitempty"`
	ProcessingTimeMs int64           `json:"processing_time_ms"`
	Variants         []VariantResult `json:"variants,omitempty"`
	HappenedAt       int64           `json:"happened_at"`
}

// LookupRequest asks for the current thumbnails of a document, allowing
// the worker to fall back to an inline render when the queue is unhealthy.
type LookupRequest struct {
	DocumentID string `json:"document_id"`
	UserID     string `json:"user_id"`
}

// LookupResponse answers a LookupRequest. Variants is empty when nothing
// has been rendered yet and the fallback did not run.
type LookupResponse struct {
	DocumentID string                `json:"document_id"`
	Variants   map[string]VariantURL `json:"variants,omitempty"`
	FromInline bool                  `json:"from_inline,omitempty"`
	Error      string                `json:"error,omitempty"`
}

// VariantURL is one servable thumbnail inside a LookupResponse.
type VariantURL struct {
	URL      string `json:"url"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
	FileSize int64  `json:"file_size"`
	Format   string `json:"format"`
}
