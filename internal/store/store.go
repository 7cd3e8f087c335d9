// Package store persists thumbnail jobs and rendered variants in SQLite.
// Uniqueness is enforced by the schema, not application locks: the unique
// idempotency key makes duplicate generation requests collapse onto one
// job, and the variant natural key makes re-renders upserts.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS thumbnail_jobs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	user_id TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	mime_type TEXT NOT NULL,
	variants TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'queued',
	idempotency_key TEXT NOT NULL UNIQUE,
	retry_count INTEGER NOT NULL DEFAULT 0,
	error_message TEXT,
	created_at TEXT NOT NULL,
	processing_started_at TEXT,
	completed_at TEXT,
	failed_at TEXT
);

CREATE TABLE IF NOT EXISTS thumbnail_variants (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	document_id TEXT NOT NULL,
	job_id INTEGER NOT NULL,
	variant TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	format TEXT NOT NULL,
	width INTEGER NOT NULL,
	height INTEGER NOT NULL,
	file_size_bytes INTEGER NOT NULL,
	generation_time_ms INTEGER NOT NULL,
	created_at TEXT NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS thumbnail_variants_key
	ON thumbnail_variants (document_id, variant, content_hash);
CREATE INDEX IF NOT EXISTS thumbnail_variants_document
	ON thumbnail_variants (document_id, created_at);
`

type JobStatus string

const (
	StatusQueued     JobStatus = "queued"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

type Job struct {
	ID                  int64
	DocumentID          string
	UserID              string
	ContentHash         string
	MimeType            string
	Variants            []string
	Status              JobStatus
	IdempotencyKey      string
	RetryCount          int
	ErrorMessage        string
	CreatedAt           time.Time
	ProcessingStartedAt *time.Time
	CompletedAt         *time.Time
	FailedAt            *time.Time
}

type Variant struct {
	ID               int64
	DocumentID       string
	JobID            int64
	Name             string
	ContentHash      string
	StoragePath      string
	Format           string
	Width            int
	Height           int
	FileSizeBytes    int64
	GenerationTimeMs int64
	CreatedAt        time.Time
}

var ErrNotFound = errors.New("not found")

type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating if needed) the SQLite database at path. Use
// ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from silently splitting per connection.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;`); err != nil {
		db.Close()
		return nil, fmt.Errorf("set pragmas: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// CreateOrAttachJob inserts a new job for the idempotency key, or resolves
// to the existing one. The boolean reports whether the caller now owns the
// render: true for a fresh insert and for reclaiming a failed job (which
// bumps the retry counter), false when a live job already covers the key
// and the caller should attach to its result.
func (s *Store) CreateOrAttachJob(ctx context.Context, job Job) (Job, bool, error) {
	nowStr := s.now().UTC().Format(time.RFC3339Nano)

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO thumbnail_jobs (document_id, user_id, content_hash, mime_type, variants, status, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(idempotency_key) DO NOTHING`,
		job.DocumentID, job.UserID, job.ContentHash, job.MimeType,
		strings.Join(job.Variants, ","), StatusQueued, job.IdempotencyKey, nowStr,
	)
	if err != nil {
		return Job{}, false, fmt.Errorf("insert job: %w", err)
	}

	if n, err := res.RowsAffected(); err == nil && n == 1 {
		created, err := s.JobByIdempotencyKey(ctx, job.IdempotencyKey)
		if err != nil {
			return Job{}, false, err
		}
		return created, true, nil
	}

	// A row already exists. A failed job is reclaimed for retry; anything
	// else is a live job the caller attaches to.
	res, err = s.db.ExecContext(ctx, `
		UPDATE thumbnail_jobs
		SET status = ?, retry_count = retry_count + 1, error_message = NULL,
		    processing_started_at = NULL, completed_at = NULL, failed_at = NULL,
		    variants = ?, user_id = ?
		WHERE idempotency_key = ? AND status = ?`,
		StatusQueued, strings.Join(job.Variants, ","), job.UserID,
		job.IdempotencyKey, StatusFailed,
	)
	if err != nil {
		return Job{}, false, fmt.Errorf("reclaim failed job: %w", err)
	}
	reclaimed, _ := res.RowsAffected()

	existing, err := s.JobByIdempotencyKey(ctx, job.IdempotencyKey)
	if err != nil {
		return Job{}, false, err
	}
	return existing, reclaimed == 1, nil
}

// ReclaimJob returns a terminal job to the queue so its content can be
// re-rendered (forced regeneration). Live jobs are left alone; the boolean
// reports whether the caller now owns the render.
func (s *Store) ReclaimJob(ctx context.Context, key string) (Job, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE thumbnail_jobs
		SET status = ?, error_message = NULL, processing_started_at = NULL,
		    completed_at = NULL, failed_at = NULL
		WHERE idempotency_key = ? AND status IN (?, ?)`,
		StatusQueued, key, StatusCompleted, StatusFailed)
	if err != nil {
		return Job{}, false, fmt.Errorf("reclaim job: %w", err)
	}
	n, _ := res.RowsAffected()

	job, err := s.JobByIdempotencyKey(ctx, key)
	if err != nil {
		return Job{}, false, err
	}
	return job, n == 1, nil
}

func (s *Store) JobByIdempotencyKey(ctx context.Context, key string) (Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, content_hash, mime_type, variants, status,
		       idempotency_key, retry_count, COALESCE(error_message, ''),
		       created_at, processing_started_at, completed_at, failed_at
		FROM thumbnail_jobs WHERE idempotency_key = ?`, key))
}

func (s *Store) JobByID(ctx context.Context, id int64) (Job, error) {
	return s.scanJob(s.db.QueryRowContext(ctx, `
		SELECT id, document_id, user_id, content_hash, mime_type, variants, status,
		       idempotency_key, retry_count, COALESCE(error_message, ''),
		       created_at, processing_started_at, completed_at, failed_at
		FROM thumbnail_jobs WHERE id = ?`, id))
}

func (s *Store) scanJob(row *sql.Row) (Job, error) {
	var j Job
	var variants, createdAt string
	var started, completed, failed sql.NullString

	err := row.Scan(&j.ID, &j.DocumentID, &j.UserID, &j.ContentHash, &j.MimeType,
		&variants, &j.Status, &j.IdempotencyKey, &j.RetryCount, &j.ErrorMessage,
		&createdAt, &started, &completed, &failed)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("scan job: %w", err)
	}

	if variants != "" {
		j.Variants = strings.Split(variants, ",")
	}
	j.CreatedAt = parseTime(createdAt)
	j.ProcessingStartedAt = parseNullTime(started)
	j.CompletedAt = parseNullTime(completed)
	j.FailedAt = parseNullTime(failed)
	return j, nil
}

// MarkProcessing records the processing start. Only a queued job
// transitions; the affected-rows check keeps a second claimer out.
func (s *Store) MarkProcessing(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE thumbnail_jobs SET status = ?, processing_started_at = ?
		WHERE id = ? AND status = ?`,
		StatusProcessing, s.now().UTC().Format(time.RFC3339Nano), id, StatusQueued)
	if err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("job %d not claimable: %w", id, ErrNotFound)
	}
	return nil
}

func (s *Store) MarkCompleted(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE thumbnail_jobs SET status = ?, completed_at = ? WHERE id = ?`,
		StatusCompleted, s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark completed: %w", err)
	}
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, id int64, cause error) error {
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE thumbnail_jobs SET status = ?, error_message = ?, failed_at = ? WHERE id = ?`,
		StatusFailed, msg, s.now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

// UpsertVariant persists one rendered variant. Re-rendering the same
// content and size overwrites the row rather than duplicating it.
func (s *Store) UpsertVariant(ctx context.Context, v Variant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO thumbnail_variants (document_id, job_id, variant, content_hash, storage_path,
			format, width, height, file_size_bytes, generation_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, variant, content_hash) DO UPDATE SET
			job_id = excluded.job_id,
			storage_path = excluded.storage_path,
			format = excluded.format,
			width = excluded.width,
			height = excluded.height,
			file_size_bytes = excluded.file_size_bytes,
			generation_time_ms = excluded.generation_time_ms,
			created_at = excluded.created_at`,
		v.DocumentID, v.JobID, v.Name, v.ContentHash, v.StoragePath,
		v.Format, v.Width, v.Height, v.FileSizeBytes, v.GenerationTimeMs,
		s.now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upsert variant: %w", err)
	}
	return nil
}

// VariantsFor returns the persisted variants for one document at one
// content version.
func (s *Store) VariantsFor(ctx context.Context, documentID, contentHash string) ([]Variant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, job_id, variant, content_hash, storage_path,
		       format, width, height, file_size_bytes, generation_time_ms, created_at
		FROM thumbnail_variants
		WHERE document_id = ? AND content_hash = ?
		ORDER BY id`, documentID, contentHash)
	if err != nil {
		return nil, fmt.Errorf("query variants: %w", err)
	}
	defer rows.Close()
	return scanVariants(rows)
}

// LatestVariants returns the variants belonging to the newest rendered
// content version of a document, or nil when none exist.
func (s *Store) LatestVariants(ctx context.Context, documentID string) ([]Variant, error) {
	var latest string
	err := s.db.QueryRowContext(ctx, `
		SELECT content_hash FROM thumbnail_variants
		WHERE document_id = ?
		ORDER BY created_at DESC, id DESC LIMIT 1`, documentID).Scan(&latest)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query latest content hash: %w", err)
	}
	return s.VariantsFor(ctx, documentID, latest)
}

// OldestQueuedAge reports how long the oldest queued job has been waiting.
// The boolean is false when the queue is empty.
func (s *Store) OldestQueuedAge(ctx context.Context) (time.Duration, bool, error) {
	var createdAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT created_at FROM thumbnail_jobs
		WHERE status = ? ORDER BY created_at LIMIT 1`, StatusQueued).Scan(&createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("query oldest queued job: %w", err)
	}
	return s.now().Sub(parseTime(createdAt)), true, nil
}

// QueueDepth counts jobs not yet in a terminal state.
func (s *Store) QueueDepth(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM thumbnail_jobs WHERE status IN (?, ?)`,
		StatusQueued, StatusProcessing).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("query queue depth: %w", err)
	}
	return n, nil
}

func scanVariants(rows *sql.Rows) ([]Variant, error) {
	var out []Variant
	for rows.Next() {
		var v Variant
		var createdAt string
		if err := rows.Scan(&v.ID, &v.DocumentID, &v.JobID, &v.Name, &v.ContentHash,
			&v.StoragePath, &v.Format, &v.Width, &v.Height, &v.FileSizeBytes,
			&v.GenerationTimeMs, &createdAt); err != nil {
			return nil, fmt.Errorf("scan variant: %w", err)
		}
		v.CreatedAt = parseTime(createdAt)
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate variants: %w", err)
	}
	return out, nil
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}
