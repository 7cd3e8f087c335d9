package storage

import (
	"context"
	"strings"
	"testing"
	"time"
)

func TestThumbnailKeyDeterministic(t *testing.T) {
	a := ThumbnailKey("doc-1", "small", "abc123", "jpg")
	b := ThumbnailKey("doc-1", "small", "abc123", "jpg")
	if a != b {
		t.Fatalf("same inputs produced different keys: %s vs %s", a, b)
	}
	if a != "thumbnails/doc-1/small/vabc123.jpg" {
		t.Fatalf("unexpected key layout: %s", a)
	}
}

func TestThumbnailKeyVariesByInput(t *testing.T) {
	base := ThumbnailKey("doc-1", "small", "abc123", "jpg")
	if base == ThumbnailKey("doc-2", "small", "abc123", "jpg") {
		t.Fatal("different documents share a key")
	}
	if base == ThumbnailKey("doc-1", "medium", "abc123", "jpg") {
		t.Fatal("different variants share a key")
	}
	if base == ThumbnailKey("doc-1", "small", "def456", "jpg") {
		t.Fatal("different content hashes share a key")
	}
}

func TestContentTypeFor(t *testing.T) {
	if got := ContentTypeFor("png"); got != "image/png" {
		t.Fatalf("png content type: %s", got)
	}
	if got := ContentTypeFor("jpg"); got != "image/jpeg" {
		t.Fatalf("jpg content type: %s", got)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if err := store.Upload(ctx, "thumbnails/d/small/vx.jpg", []byte("bytes"), "image/jpeg"); err != nil {
		t.Fatalf("Upload returned error: %v", err)
	}

	data, err := store.Download(ctx, "thumbnails/d/small/vx.jpg")
	if err != nil {
		t.Fatalf("Download returned error: %v", err)
	}
	if string(data) != "bytes" {
		t.Fatalf("unexpected payload: %q", data)
	}

	url, err := store.SignedURL(ctx, "thumbnails/d/small/vx.jpg", time.Hour)
	if err != nil {
		t.Fatalf("SignedURL returned error: %v", err)
	}
	if !strings.HasPrefix(url, "memory://thumbnails/d/small/vx.jpg") {
		t.Fatalf("unexpected URL: %s", url)
	}
	if store.SignCalls != 1 {
		t.Fatalf("expected one signing call, got %d", store.SignCalls)
	}
}

func TestMemoryStoreMissingKey(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	if _, err := store.Download(ctx, "nope"); err == nil {
		t.Fatal("expected error for missing object")
	}
	if _, err := store.SignedURL(ctx, "nope", time.Hour); err == nil {
		t.Fatal("expected error signing a missing object")
	}
}

func TestDetectMime(t *testing.T) {
	pngHeader := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0}
	if got := DetectMime(pngHeader); got != "image/png" {
		t.Fatalf("png not detected: %s", got)
	}
}
