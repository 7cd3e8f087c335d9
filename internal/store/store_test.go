package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testJob() Job {
	return Job{
		DocumentID:     "doc-1",
		UserID:         "user-1",
		ContentHash:    "hash-a",
		MimeType:       "image/png",
		Variants:       []string{"small", "medium"},
		IdempotencyKey: "doc-1:hash-a",
	}
}

func TestCreateOrAttachJobCreatesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first, claimed, err := s.CreateOrAttachJob(ctx, testJob())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if !claimed {
		t.Fatal("first caller should claim the job")
	}
	if first.Status != StatusQueued {
		t.Fatalf("unexpected status %s", first.Status)
	}

	second, claimed, err := s.CreateOrAttachJob(ctx, testJob())
	if err != nil {
		t.Fatalf("second create: %v", err)
	}
	if claimed {
		t.Fatal("second caller must attach, not claim")
	}
	if second.ID != first.ID {
		t.Fatalf("duplicate request created job %d alongside %d", second.ID, first.ID)
	}
}

func TestCreateOrAttachJobReclaimsFailed(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, _, err := s.CreateOrAttachJob(ctx, testJob())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if err := s.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := s.MarkFailed(ctx, job.ID, errors.New("boom")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	retried, claimed, err := s.CreateOrAttachJob(ctx, testJob())
	if err != nil {
		t.Fatalf("retry create: %v", err)
	}
	if !claimed {
		t.Fatal("retry of a failed job should reclaim it")
	}
	if retried.ID != job.ID {
		t.Fatalf("retry spawned a new job %d instead of reusing %d", retried.ID, job.ID)
	}
	if retried.RetryCount != 1 {
		t.Fatalf("retry count = %d, want 1", retried.RetryCount)
	}
	if retried.Status != StatusQueued {
		t.Fatalf("reclaimed job status %s, want queued", retried.Status)
	}
	if retried.ErrorMessage != "" {
		t.Fatalf("error message not cleared: %q", retried.ErrorMessage)
	}
}

func TestReclaimJob(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, _, _ := s.CreateOrAttachJob(ctx, testJob())

	// A queued job is live and must not be reclaimed.
	if _, claimed, err := s.ReclaimJob(ctx, job.IdempotencyKey); err != nil || claimed {
		t.Fatalf("reclaim of live job: claimed=%v err=%v", claimed, err)
	}

	_ = s.MarkProcessing(ctx, job.ID)
	_ = s.MarkCompleted(ctx, job.ID)

	reclaimed, claimed, err := s.ReclaimJob(ctx, job.IdempotencyKey)
	if err != nil {
		t.Fatalf("reclaim completed job: %v", err)
	}
	if !claimed {
		t.Fatal("completed job should be reclaimable for regeneration")
	}
	if reclaimed.Status != StatusQueued || reclaimed.CompletedAt != nil {
		t.Fatalf("reclaimed job not reset: %+v", reclaimed)
	}
}

func TestMarkProcessingIsExclusive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, _, err := s.CreateOrAttachJob(ctx, testJob())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}

	if err := s.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if err := s.MarkProcessing(ctx, job.ID); err == nil {
		t.Fatal("second claim of the same job should fail")
	}
}

func TestJobLifecycleTimestamps(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, _, _ := s.CreateOrAttachJob(ctx, testJob())
	if err := s.MarkProcessing(ctx, job.ID); err != nil {
		t.Fatalf("mark processing: %v", err)
	}
	if err := s.MarkCompleted(ctx, job.ID); err != nil {
		t.Fatalf("mark completed: %v", err)
	}

	got, err := s.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != StatusCompleted {
		t.Fatalf("status %s, want completed", got.Status)
	}
	if got.ProcessingStartedAt == nil || got.CompletedAt == nil {
		t.Fatal("lifecycle timestamps not recorded")
	}
}

func TestUpsertVariantNeverDuplicates(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	v := Variant{
		DocumentID:    "doc-1",
		JobID:         1,
		Name:          "small",
		ContentHash:   "hash-a",
		StoragePath:   "thumbnails/doc-1/small/vhash-a.jpg",
		Format:        "jpg",
		Width:         100,
		Height:        80,
		FileSizeBytes: 1234,
	}
	if err := s.UpsertVariant(ctx, v); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	v.Width = 120
	v.JobID = 2
	if err := s.UpsertVariant(ctx, v); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.VariantsFor(ctx, "doc-1", "hash-a")
	if err != nil {
		t.Fatalf("query variants: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 variant row, got %d", len(got))
	}
	if got[0].Width != 120 || got[0].JobID != 2 {
		t.Fatalf("upsert did not update in place: %+v", got[0])
	}
}

func TestLatestVariantsFollowsNewestContent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	now := time.Now()
	s.now = func() time.Time { return now }

	old := Variant{DocumentID: "doc-1", JobID: 1, Name: "small", ContentHash: "hash-old",
		StoragePath: "p1", Format: "jpg", Width: 10, Height: 10}
	if err := s.UpsertVariant(ctx, old); err != nil {
		t.Fatalf("upsert old: %v", err)
	}

	s.now = func() time.Time { return now.Add(time.Minute) }
	fresh := Variant{DocumentID: "doc-1", JobID: 2, Name: "small", ContentHash: "hash-new",
		StoragePath: "p2", Format: "jpg", Width: 20, Height: 20}
	if err := s.UpsertVariant(ctx, fresh); err != nil {
		t.Fatalf("upsert fresh: %v", err)
	}

	got, err := s.LatestVariants(ctx, "doc-1")
	if err != nil {
		t.Fatalf("latest variants: %v", err)
	}
	if len(got) != 1 || got[0].ContentHash != "hash-new" {
		t.Fatalf("expected only the newest content version, got %+v", got)
	}

	none, err := s.LatestVariants(ctx, "doc-unknown")
	if err != nil {
		t.Fatalf("latest variants for unknown doc: %v", err)
	}
	if none != nil {
		t.Fatalf("expected nil for unknown document, got %+v", none)
	}
}

func TestOldestQueuedAgeAndQueueDepth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, known, err := s.OldestQueuedAge(ctx); err != nil || known {
		t.Fatalf("empty queue: age known=%v err=%v", known, err)
	}

	created := time.Now().Add(-10 * time.Second)
	s.now = func() time.Time { return created }
	if _, _, err := s.CreateOrAttachJob(ctx, testJob()); err != nil {
		t.Fatalf("create job: %v", err)
	}

	s.now = time.Now
	age, known, err := s.OldestQueuedAge(ctx)
	if err != nil {
		t.Fatalf("oldest queued age: %v", err)
	}
	if !known {
		t.Fatal("expected a known age with one queued job")
	}
	if age < 9*time.Second {
		t.Fatalf("age %v, want about 10s", age)
	}

	depth, err := s.QueueDepth(ctx)
	if err != nil {
		t.Fatalf("queue depth: %v", err)
	}
	if depth != 1 {
		t.Fatalf("queue depth %d, want 1", depth)
	}
}

func TestMarkFailedClearsQueuedBacklog(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job, _, err := s.CreateOrAttachJob(ctx, testJob())
	if err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, known, _ := s.OldestQueuedAge(ctx); !known {
		t.Fatal("queued job not visible in backlog")
	}

	// Failing a job straight from queued must work: a claimant that cannot
	// transition to processing falls back to this, and the row must not
	// keep tripping the staleness check.
	if err := s.MarkFailed(ctx, job.ID, errors.New("claim lost")); err != nil {
		t.Fatalf("mark failed from queued: %v", err)
	}

	if _, known, _ := s.OldestQueuedAge(ctx); known {
		t.Fatal("failed job still counted as queued backlog")
	}
	got, err := s.JobByID(ctx, job.ID)
	if err != nil {
		t.Fatalf("load job: %v", err)
	}
	if got.Status != StatusFailed || got.ErrorMessage == "" {
		t.Fatalf("failure not recorded: %+v", got)
	}
}

func TestJobByIDNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.JobByID(context.Background(), 42); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
