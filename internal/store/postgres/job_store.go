package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/store"
)

const jobColumns = `id, owner_id, query, max_results, status, results_found, created_at, completed_at`

// JobStore implements store.JobStore over Postgres.
type JobStore struct {
	db DB
}

// NewJobStore builds a JobStore over the given pool.
func NewJobStore(db DB) *JobStore {
	return &JobStore{db: db}
}

// Create inserts a new PENDING scrape job.
func (s *JobStore) Create(ctx context.Context, job lead.ScrapeJob) error {
	if job.OwnerID == "" {
		return lead.ErrMissingOwner
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO scrape_jobs (id, owner_id, query, max_results, status, results_found)
		VALUES ($1, $2, $3, $4, $5, 0)`,
		job.ID, job.OwnerID, job.Query, job.MaxResults, lead.StatusPending,
	)
	if err != nil {
		return fmt.Errorf("insert scrape job: %w", err)
	}
	return nil
}

// Get returns the job by id or store.ErrNotFound.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (lead.ScrapeJob, error) {
	query := fmt.Sprintf(`SELECT %s FROM scrape_jobs WHERE id = $1`, jobColumns)
	job, err := scanJob(s.db.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return lead.ScrapeJob{}, store.ErrNotFound
	}
	if err != nil {
		return lead.ScrapeJob{}, fmt.Errorf("get scrape job: %w", err)
	}
	return job, nil
}

// NextPending returns the oldest PENDING job, or (nil, nil) when the queue is
// empty. The poller's sequential loop is the only claimer, so no row lock is
// needed here; exclusivity for leads is the queue's concern, not the job's.
func (s *JobStore) NextPending(ctx context.Context) (*lead.ScrapeJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scrape_jobs
		WHERE status = 'PENDING'
		ORDER BY created_at ASC
		LIMIT 1`, jobColumns)
	job, err := scanJob(s.db.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next pending job: %w", err)
	}
	return &job, nil
}

// MarkProcessing transitions the job to PROCESSING.
func (s *JobStore) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	return s.setStatus(ctx, id, lead.StatusProcessing)
}

// SetResultsFound records how many result links the search discovered.
func (s *JobStore) SetResultsFound(ctx context.Context, id uuid.UUID, n int) error {
	tag, err := s.db.Exec(ctx, `UPDATE scrape_jobs SET results_found = $2 WHERE id = $1`, id, n)
	if err != nil {
		return fmt.Errorf("set results found: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// Finish moves the job to a terminal status and stamps completion time.
func (s *JobStore) Finish(ctx context.Context, id uuid.UUID, status lead.Status) error {
	if !status.Terminal() {
		return fmt.Errorf("finish requires a terminal status, got %s", status)
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE scrape_jobs SET status = $2, completed_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("finish scrape job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ListResumable returns PROCESSING and FAILED jobs, newest first.
func (s *JobStore) ListResumable(ctx context.Context) ([]lead.ScrapeJob, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM scrape_jobs
		WHERE status IN ('PROCESSING', 'FAILED')
		ORDER BY created_at DESC`, jobColumns)
	rows, err := s.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list resumable jobs: %w", err)
	}
	defer rows.Close()

	var jobs []lead.ScrapeJob
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job row: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (s *JobStore) setStatus(ctx context.Context, id uuid.UUID, status lead.Status) error {
	tag, err := s.db.Exec(ctx, `UPDATE scrape_jobs SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanJob(row pgx.Row) (lead.ScrapeJob, error) {
	var j lead.ScrapeJob
	err := row.Scan(
		&j.ID,
		&j.OwnerID,
		&j.Query,
		&j.MaxResults,
		&j.Status,
		&j.ResultsFound,
		&j.CreatedAt,
		&j.CompletedAt,
	)
	if err != nil {
		return lead.ScrapeJob{}, err
	}
	return j, nil
}
