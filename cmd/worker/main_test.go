package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/docstash/thumbnailer/internal/thumbnail"
)

func TestMessageCatalogEvictsOldestEntries(t *testing.T) {
	c, err := newMessageCatalog(2)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}

	for i := 1; i <= 3; i++ {
		id := fmt.Sprintf("doc-%d", i)
		c.Put(id, &thumbnail.Document{MimeType: "image/png", StoragePath: "documents/" + id})
	}

	evicted, err := c.GetDocument(context.Background(), "doc-1", "user-1")
	if err != nil {
		t.Fatalf("get evicted document: %v", err)
	}
	if evicted != nil {
		t.Fatalf("doc-1 should have been evicted at capacity 2, got %+v", evicted)
	}

	kept, err := c.GetDocument(context.Background(), "doc-3", "user-1")
	if err != nil {
		t.Fatalf("get kept document: %v", err)
	}
	if kept == nil || kept.StoragePath != "documents/doc-3" {
		t.Fatalf("doc-3 missing after eviction pass: %+v", kept)
	}
}

func TestMessageCatalogUnknownDocumentIsNil(t *testing.T) {
	c, err := newMessageCatalog(8)
	if err != nil {
		t.Fatalf("new catalog: %v", err)
	}
	doc, err := c.GetDocument(context.Background(), "ghost", "user-1")
	if err != nil || doc != nil {
		t.Fatalf("expected (nil, nil) for unknown document, got %+v, %v", doc, err)
	}
}
