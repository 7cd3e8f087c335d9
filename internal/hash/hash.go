// Package hash derives the content keys used throughout the pipeline.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Content returns the hex-encoded sha256 digest of the given bytes. The
// digest doubles as a version key: identical source bytes always map to the
// same persisted thumbnails and storage paths.
func Content(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IdempotencyKey combines document identity and content hash into the key
// that makes duplicate generation requests collapse onto one job.
func IdempotencyKey(documentID, contentHash string) string {
	return fmt.Sprintf("%s:%s", documentID, contentHash)
}
