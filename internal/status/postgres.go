package status

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/brunohmelo/docpipe-back/internal/domain"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is the durable backend used when Redis is not configured.
// Expiry is lazy: reads filter on expires_at, writes push it forward.
type PostgresStore struct {
	pool *pgxpool.Pool
	ttl  time.Duration
}

func NewPostgresStore(ctx context.Context, databaseURL string, ttl time.Duration) (*PostgresStore, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}

	store := &PostgresStore{pool: pool, ttl: ttl}
	if err := store.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS job_status (
			job_id        TEXT PRIMARY KEY,
			status        TEXT NOT NULL,
			progress_pct  DOUBLE PRECISION NOT NULL DEFAULT 0,
			current_phase TEXT NOT NULL DEFAULT '',
			error_message TEXT NOT NULL DEFAULT '',
			namespace     TEXT NOT NULL DEFAULT '',
			domain        TEXT NOT NULL DEFAULT '',
			created_at    TIMESTAMPTZ NOT NULL,
			updated_at    TIMESTAMPTZ NOT NULL,
			expires_at    TIMESTAMPTZ NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("ensure job_status table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Set(ctx context.Context, record domain.JobStatusRecord) error {
	now := time.Now().UTC()
	prepared, _ := prepareWrite(nil, record, now)

	// The conflict branch keeps created_at and refuses terminal rewrites, so
	// the guard rules hold atomically without a prior read. An expired row
	// is gone as far as readers are concerned, so it is overwritten like a
	// fresh insert regardless of its old status, created_at included.
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_status (
			job_id, status, progress_pct, current_phase, error_message,
			namespace, domain, created_at, updated_at, expires_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (job_id) DO UPDATE SET
			status = EXCLUDED.status,
			progress_pct = EXCLUDED.progress_pct,
			current_phase = EXCLUDED.current_phase,
			error_message = EXCLUDED.error_message,
			namespace = EXCLUDED.namespace,
			domain = EXCLUDED.domain,
			created_at = CASE
				WHEN job_status.expires_at <= now() THEN EXCLUDED.created_at
				ELSE job_status.created_at
			END,
			updated_at = EXCLUDED.updated_at,
			expires_at = EXCLUDED.expires_at
		WHERE job_status.status NOT IN ('ready', 'failed')
			OR job_status.expires_at <= now()
	`,
		prepared.JobID,
		string(prepared.Status),
		prepared.ProgressPct,
		prepared.CurrentPhase,
		prepared.ErrorMessage,
		prepared.Namespace,
		prepared.Domain,
		prepared.CreatedAt,
		prepared.UpdatedAt,
		now.Add(s.ttl),
	)
	if err != nil {
		return fmt.Errorf("upsert status record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, jobID string) (domain.JobStatusRecord, bool, error) {
	var (
		record domain.JobStatusRecord
		status string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT job_id, status, progress_pct, current_phase, error_message,
			namespace, domain, created_at, updated_at
		FROM job_status
		WHERE job_id = $1 AND expires_at > now()
	`, jobID).Scan(
		&record.JobID,
		&status,
		&record.ProgressPct,
		&record.CurrentPhase,
		&record.ErrorMessage,
		&record.Namespace,
		&record.Domain,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.JobStatusRecord{}, false, nil
		}
		return domain.JobStatusRecord{}, false, fmt.Errorf("query status record: %w", err)
	}
	record.Status = domain.JobStatus(status)
	return record, true, nil
}

func (s *PostgresStore) Delete(ctx context.Context, jobID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM job_status WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("delete status record: %w", err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context, namespaceFilter string) ([]domain.JobStatusRecord, error) {
	query := `
		SELECT job_id, status, progress_pct, current_phase, error_message,
			namespace, domain, created_at, updated_at
		FROM job_status
		WHERE expires_at > now()
	`
	args := make([]any, 0, 1)
	if namespaceFilter != "" {
		query += " AND namespace = $1"
		args = append(args, namespaceFilter)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list status records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.JobStatusRecord, 0)
	for rows.Next() {
		var (
			record domain.JobStatusRecord
			status string
		)
		if err := rows.Scan(
			&record.JobID,
			&status,
			&record.ProgressPct,
			&record.CurrentPhase,
			&record.ErrorMessage,
			&record.Namespace,
			&record.Domain,
			&record.CreatedAt,
			&record.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan status record: %w", err)
		}
		record.Status = domain.JobStatus(status)
		records = append(records, record)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate status records: %w", rows.Err())
	}
	return records, nil
}
