package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"mediaconvert/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversion_jobs (
	id                     TEXT PRIMARY KEY,
	original_file_name     TEXT        NOT NULL,
	original_format        TEXT        NOT NULL,
	target_format          TEXT        NOT NULL,
	file_size_bytes        BIGINT      NOT NULL DEFAULT 0,
	owner_user_id          TEXT        NULL,
	owner_ip_address       TEXT        NOT NULL DEFAULT '',
	status                 TEXT        NOT NULL,
	progress               INTEGER     NOT NULL DEFAULT 0,
	failure_reason         TEXT        NOT NULL DEFAULT '',
	download_count         INTEGER     NOT NULL DEFAULT 0,
	created_at             TIMESTAMPTZ NOT NULL,
	updated_at             TIMESTAMPTZ NOT NULL,
	expires_at             TIMESTAMPTZ NOT NULL,
	original_artifact_ref  TEXT        NOT NULL,
	converted_artifact_ref TEXT        NULL,
	converted_mime_type    TEXT        NOT NULL DEFAULT '',
	thumbnail_artifact_ref TEXT        NULL,
	retention_cleaned_up   BOOLEAN     NOT NULL DEFAULT FALSE
);
CREATE INDEX IF NOT EXISTS conversion_jobs_anon_idx ON conversion_jobs (owner_ip_address, created_at) WHERE owner_user_id IS NULL;
CREATE INDEX IF NOT EXISTS conversion_jobs_user_idx ON conversion_jobs (owner_user_id, created_at);
CREATE INDEX IF NOT EXISTS conversion_jobs_status_idx ON conversion_jobs (status, created_at);
CREATE INDEX IF NOT EXISTS conversion_jobs_expires_idx ON conversion_jobs (expires_at);
`

const jobColumns = `id, original_file_name, original_format, target_format, file_size_bytes,
	owner_user_id, owner_ip_address, status, progress, failure_reason, download_count,
	created_at, updated_at, expires_at, original_artifact_ref, converted_artifact_ref,
	converted_mime_type, thumbnail_artifact_ref, retention_cleaned_up`

// PostgresStore keeps jobs in a conversion_jobs table. Terminal transitions are
// conditional UPDATEs on status = 'processing'.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to databaseURL and makes sure the schema exists.
func OpenPostgres(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to reach postgres: %w", err)
	}

	s := NewPostgresStore(pool)
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, job *models.ConversionJob) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = job.CreatedAt
	}
	q := `INSERT INTO conversion_jobs (` + jobColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19);`

	_, err := s.pool.Exec(ctx, q,
		job.ID,
		job.OriginalFileName,
		job.OriginalFormat,
		job.TargetFormat,
		job.FileSizeBytes,
		job.OwnerUserID,
		job.OwnerIPAddress,
		string(job.Status),
		job.Progress,
		job.FailureReason,
		job.DownloadCount,
		job.CreatedAt,
		job.UpdatedAt,
		job.ExpiresAt,
		job.OriginalArtifactRef,
		job.ConvertedArtifactRef,
		job.ConvertedMimeType,
		job.ThumbnailArtifactRef,
		job.RetentionCleanedUp,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.ConversionJob, error) {
	q := `SELECT ` + jobColumns + ` FROM conversion_jobs WHERE id = $1;`

	job, err := scanJob(s.pool.QueryRow(ctx, q, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

func scanJob(row pgx.Row) (*models.ConversionJob, error) {
	var (
		job    models.ConversionJob
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.OriginalFileName,
		&job.OriginalFormat,
		&job.TargetFormat,
		&job.FileSizeBytes,
		&job.OwnerUserID, // NULL => nil
		&job.OwnerIPAddress,
		&status,
		&job.Progress,
		&job.FailureReason,
		&job.DownloadCount,
		&job.CreatedAt,
		&job.UpdatedAt,
		&job.ExpiresAt,
		&job.OriginalArtifactRef,
		&job.ConvertedArtifactRef,
		&job.ConvertedMimeType,
		&job.ThumbnailArtifactRef,
		&job.RetentionCleanedUp,
	); err != nil {
		return nil, err
	}
	job.Status = models.JobStatus(status)
	return &job, nil
}

func (s *PostgresStore) exec(ctx context.Context, q string, args ...any) (bool, error) {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) UpdateProgress(ctx context.Context, id string, progress int) (bool, error) {
	const q = `
UPDATE conversion_jobs SET progress = $2, updated_at = $3
WHERE id = $1 AND status = 'processing' AND progress < $2;`
	return s.exec(ctx, q, id, min(progress, 100), time.Now())
}

func (s *PostgresStore) Complete(ctx context.Context, id string, c models.Completion) (bool, error) {
	if c.ConvertedArtifactRef == "" {
		return false, fmt.Errorf("completion of %s requires a converted artifact", id)
	}
	var thumb *string
	if c.ThumbnailArtifactRef != "" {
		thumb = &c.ThumbnailArtifactRef
	}
	const q = `
UPDATE conversion_jobs
SET status = 'completed', progress = 100, failure_reason = '',
	converted_artifact_ref = $2, converted_mime_type = $3,
	thumbnail_artifact_ref = COALESCE($4, thumbnail_artifact_ref), updated_at = $5
WHERE id = $1 AND status = 'processing';`
	return s.exec(ctx, q, id, c.ConvertedArtifactRef, c.ConvertedMimeType, thumb, time.Now())
}

func (s *PostgresStore) Fail(ctx context.Context, id string, reason string) (bool, error) {
	const q = `
UPDATE conversion_jobs
SET status = 'failed', progress = 0, failure_reason = $2, converted_artifact_ref = NULL, updated_at = $3
WHERE id = $1 AND status = 'processing';`
	return s.exec(ctx, q, id, reason, time.Now())
}

func (s *PostgresStore) IncrementDownloads(ctx context.Context, id string) (int, error) {
	const q = `
UPDATE conversion_jobs SET download_count = download_count + 1, updated_at = $2
WHERE id = $1
RETURNING download_count;`

	var count int
	if err := s.pool.QueryRow(ctx, q, id, time.Now()).Scan(&count); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) MarkCleanedUp(ctx context.Context, id string) error {
	const q = `UPDATE conversion_jobs SET retention_cleaned_up = TRUE, updated_at = $2 WHERE id = $1;`
	applied, err := s.exec(ctx, q, id, time.Now())
	if err != nil {
		return err
	}
	if !applied {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM conversion_jobs WHERE id = $1;`, id)
	return err
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*models.ConversionJob, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}

	var (
		where []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}

	if f.UserID != "" {
		add("owner_user_id = $%d", f.UserID)
	}
	if f.IPAddress != "" {
		add("owner_user_id IS NULL AND owner_ip_address = $%d", f.IPAddress)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		add("status = ANY($%d)", statuses)
	}
	if !f.CreatedBefore.IsZero() {
		add("created_at < $%d", f.CreatedBefore)
	}
	if !f.CreatedSince.IsZero() {
		add("created_at >= $%d", f.CreatedSince)
	}
	if !f.ExpiredBy.IsZero() {
		add("expires_at <= $%d", f.ExpiredBy)
	}

	var sb strings.Builder
	sb.WriteString(`SELECT ` + jobColumns + ` FROM conversion_jobs`)
	if len(where) > 0 {
		sb.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	sb.WriteString(" ORDER BY created_at DESC")
	if f.Limit > 0 {
		args = append(args, f.Limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*models.ConversionJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) CountAnonymousSince(ctx context.Context, ip string, since time.Time) (int, error) {
	const q = `
SELECT COUNT(*) FROM conversion_jobs
WHERE owner_user_id IS NULL AND owner_ip_address = $1 AND created_at >= $2;`

	var count int
	if err := s.pool.QueryRow(ctx, q, ip, since).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
