package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel/attribute"

	"github.com/prohmpiriya/ticket-monitor/internal/domain"
	"github.com/prohmpiriya/ticket-monitor/pkg/database"
	"github.com/prohmpiriya/ticket-monitor/pkg/telemetry"
)

const jobColumns = `
	id, platform, event_id, criteria, status, attempt, created_at, available_at,
	started_at, completed_at, last_error, failure_kind, retry_after_ms,
	cancel_requested, previous_job_id, proxy_url, tickets_seen`

// PostgresJobRepository implements JobRepository using PostgreSQL. The
// scraping_jobs_active_key partial index keeps one active job per slot.
type PostgresJobRepository struct {
	db DB
}

// NewPostgresJobRepository creates a new PostgresJobRepository
func NewPostgresJobRepository(db DB) *PostgresJobRepository {
	return &PostgresJobRepository{db: db}
}

func (r *PostgresJobRepository) CreateIfNoActive(ctx context.Context, job *domain.ScrapingJob) (*domain.ScrapingJob, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.create")
	defer span.End()

	span.SetAttributes(
		attribute.String("platform", string(job.Platform)),
		attribute.String("event_id", string(job.EventID)),
	)

	criteria, err := json.Marshal(job.Criteria)
	if err != nil {
		return nil, false, fmt.Errorf("failed to marshal criteria: %w", err)
	}

	// The insert and the lookup race with workers completing the active job,
	// so retry a few times until one of them sees a consistent slot.
	for i := 0; i < 3; i++ {
		tag, err := r.db.Exec(ctx, `
			INSERT INTO scraping_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (platform, event_id) WHERE status IN ('pending', 'processing') DO NOTHING`,
			jobArgs(job, criteria)...,
		)
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, false, fmt.Errorf("failed to create job: %w", err)
		}
		if tag.RowsAffected() == 1 {
			return cloneJob(job), false, nil
		}

		row := r.db.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM scraping_jobs
			WHERE platform = $1 AND event_id = $2 AND status IN ('pending', 'processing')`,
			string(job.Platform), string(job.EventID),
		)
		active, err := scanJob(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			telemetry.RecordError(span, err)
			return nil, false, fmt.Errorf("failed to get active job: %w", err)
		}
		span.SetAttributes(attribute.Bool("coalesced", true))
		return active, true, nil
	}
	return nil, false, fmt.Errorf("failed to create job: active slot for %s kept changing", job.Key())
}

func (r *PostgresJobRepository) GetByID(ctx context.Context, id domain.JobID) (*domain.ScrapingJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.get_by_id")
	defer span.End()

	job, err := scanJob(r.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM scraping_jobs WHERE id = $1`, string(id)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrJobNotFound
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobRepository) ClaimNext(ctx context.Context, platform domain.Platform, now time.Time) (*domain.ScrapingJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.claim_next")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	row := r.db.QueryRow(ctx, `
		UPDATE scraping_jobs
		SET status = 'processing', started_at = $2
		WHERE id = (
			SELECT id FROM scraping_jobs
			WHERE platform = $1 AND status = 'pending' AND available_at <= $2
			ORDER BY available_at ASC, created_at ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		string(platform), now,
	)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (r *PostgresJobRepository) Update(ctx context.Context, job *domain.ScrapingJob) error {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.update")
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", string(job.ID)),
		attribute.String("status", string(job.Status)),
	)

	err := updateJob(ctx, r.db, job, "status IN ('pending', 'processing')")
	if errors.Is(err, pgx.ErrNoRows) {
		if _, getErr := r.GetByID(ctx, job.ID); getErr != nil {
			return getErr
		}
		return domain.ErrJobTerminal
	}
	if err != nil {
		telemetry.RecordError(span, err)
		return fmt.Errorf("failed to update job: %w", err)
	}
	return nil
}

func (r *PostgresJobRepository) FailAndRetry(ctx context.Context, job, next *domain.ScrapingJob) (*domain.ScrapingJob, bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.fail_and_retry")
	defer span.End()
	span.SetAttributes(attribute.String("job_id", string(job.ID)))

	var criteria []byte
	if next != nil {
		var err error
		if criteria, err = json.Marshal(next.Criteria); err != nil {
			return nil, false, fmt.Errorf("failed to marshal criteria: %w", err)
		}
	}

	var (
		active    *domain.ScrapingJob
		coalesced bool
		terminal  bool
	)
	err := database.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		err := updateJob(ctx, tx, job, "status = 'processing'")
		if errors.Is(err, pgx.ErrNoRows) {
			terminal = true
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to record job failure: %w", err)
		}
		if next == nil || job.CancelRequested {
			return nil
		}

		// the failed row left the active index above, so only a job
		// enqueued before this transaction can hold the slot
		tag, err := tx.Exec(ctx, `
			INSERT INTO scraping_jobs (`+jobColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
			ON CONFLICT (platform, event_id) WHERE status IN ('pending', 'processing') DO NOTHING`,
			jobArgs(next, criteria)...,
		)
		if err != nil {
			return fmt.Errorf("failed to schedule retry: %w", err)
		}
		if tag.RowsAffected() == 1 {
			active = cloneJob(next)
			return nil
		}

		active, err = scanJob(tx.QueryRow(ctx, `
			SELECT `+jobColumns+`
			FROM scraping_jobs
			WHERE platform = $1 AND event_id = $2 AND status IN ('pending', 'processing')`,
			string(next.Platform), string(next.EventID),
		))
		if err != nil {
			return fmt.Errorf("failed to get active job: %w", err)
		}
		coalesced = true
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}
	if terminal {
		if _, err := r.GetByID(ctx, job.ID); err != nil {
			return nil, false, err
		}
		return nil, false, domain.ErrJobTerminal
	}
	return active, coalesced, nil
}

func (r *PostgresJobRepository) ListExpired(ctx context.Context, platform domain.Platform, startedBefore time.Time, limit int) ([]*domain.ScrapingJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.list_expired")
	defer span.End()
	span.SetAttributes(attribute.String("platform", string(platform)))

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM scraping_jobs
		WHERE platform = $1 AND status = 'processing' AND started_at < $2
		ORDER BY started_at ASC
		LIMIT $3`, string(platform), startedBefore, limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return collect(rows, scanJob)
}

// updateJob writes job's mutable columns when the stored row matches
// statusFilter and refreshes job.CancelRequested. pgx.ErrNoRows means the
// row is missing or no longer matches.
func updateJob(ctx context.Context, q queryer, job *domain.ScrapingJob, statusFilter string) error {
	var cancelRequested bool
	err := q.QueryRow(ctx, `
		UPDATE scraping_jobs SET
			status           = $2,
			started_at       = $3,
			completed_at     = $4,
			last_error       = $5,
			failure_kind     = $6,
			retry_after_ms   = $7,
			cancel_requested = cancel_requested OR $8,
			proxy_url        = $9,
			tickets_seen     = $10
		WHERE id = $1 AND `+statusFilter+`
		RETURNING cancel_requested`,
		string(job.ID), string(job.Status), job.StartedAt, job.CompletedAt,
		job.LastError, string(job.FailureKind), job.RetryAfter.Milliseconds(),
		job.CancelRequested, job.ProxyURL, job.TicketsSeen,
	).Scan(&cancelRequested)
	if err != nil {
		return err
	}
	job.CancelRequested = cancelRequested
	return nil
}

func (r *PostgresJobRepository) DeletePending(ctx context.Context, id domain.JobID) (bool, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.delete_pending")
	defer span.End()

	tag, err := r.db.Exec(ctx, `DELETE FROM scraping_jobs WHERE id = $1 AND status = 'pending'`, string(id))
	if err != nil {
		telemetry.RecordError(span, err)
		return false, fmt.Errorf("failed to delete job: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := r.GetByID(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

func (r *PostgresJobRepository) ListByStatus(ctx context.Context, status domain.JobStatus, limit int) ([]*domain.ScrapingJob, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.list")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+jobColumns+`
		FROM scraping_jobs
		WHERE $1 = '' OR status = $1
		ORDER BY created_at DESC
		LIMIT $2`, string(status), limit)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	return collect(rows, scanJob)
}

func (r *PostgresJobRepository) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	ctx, span := telemetry.StartSpan(ctx, "repo.postgres.job.count")
	defer span.End()

	counts := make(map[domain.JobStatus]int, 4)
	for _, s := range domain.JobStatuses() {
		counts[s] = 0
	}

	rows, err := r.db.Query(ctx, `SELECT status, COUNT(*) FROM scraping_jobs GROUP BY status`)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan job count: %w", err)
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

func jobArgs(job *domain.ScrapingJob, criteria []byte) []any {
	return []any{
		string(job.ID), string(job.Platform), string(job.EventID), criteria,
		string(job.Status), job.Attempt, job.CreatedAt, job.AvailableAt,
		job.StartedAt, job.CompletedAt, job.LastError, string(job.FailureKind),
		job.RetryAfter.Milliseconds(), job.CancelRequested, string(job.PreviousJobID),
		job.ProxyURL, job.TicketsSeen,
	}
}

func scanJob(row pgx.Row) (*domain.ScrapingJob, error) {
	var (
		job                           domain.ScrapingJob
		id, platform, eventID, status string
		failureKind, previousJobID    string
		criteria                      []byte
		retryAfterMs                  int64
	)
	if err := row.Scan(
		&id, &platform, &eventID, &criteria, &status, &job.Attempt, &job.CreatedAt, &job.AvailableAt,
		&job.StartedAt, &job.CompletedAt, &job.LastError, &failureKind, &retryAfterMs,
		&job.CancelRequested, &previousJobID, &job.ProxyURL, &job.TicketsSeen,
	); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(criteria, &job.Criteria); err != nil {
		return nil, fmt.Errorf("failed to unmarshal criteria: %w", err)
	}
	job.ID = domain.JobID(id)
	job.Platform = domain.Platform(platform)
	job.EventID = domain.EventID(eventID)
	job.Status = domain.JobStatus(status)
	job.FailureKind = domain.FailureKind(failureKind)
	job.PreviousJobID = domain.JobID(previousJobID)
	job.RetryAfter = time.Duration(retryAfterMs) * time.Millisecond
	return &job, nil
}
