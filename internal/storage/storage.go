// Package storage abstracts the object store holding source documents and
// rendered thumbnails.
package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// ObjectStore is the raw storage collaborator. Thumbnail rows in the
// database are the source of truth for what exists; the store only holds
// bytes at deterministic keys.
type ObjectStore interface {
	Upload(ctx context.Context, key string, data []byte, contentType string) error
	Download(ctx context.Context, key string) ([]byte, error)
	SignedURL(ctx context.Context, key string, ttl time.Duration) (string, error)
}

// ThumbnailKey builds the content-addressed path for one rendered variant:
// thumbnails/{documentID}/{variant}/v{contentHash}.{ext}. Identical source
// bytes always resolve to the identical key, which is what makes a
// persisted-variant lookup a correct cache check.
func ThumbnailKey(documentID, variantName, contentHash, format string) string {
	return fmt.Sprintf("thumbnails/%s/%s/v%s.%s", documentID, variantName, contentHash, format)
}

// ContentTypeFor maps the variant encoder's format label to a MIME type.
func ContentTypeFor(format string) string {
	if format == "png" {
		return "image/png"
	}
	return "image/jpeg"
}

// DetectMime sniffs a MIME type from the first bytes of a file, for sources
// whose catalog entry carries none.
func DetectMime(data []byte) string {
	if len(data) > 512 {
		data = data[:512]
	}
	return http.DetectContentType(data)
}
