package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/store"
)

const leadColumns = `id, owner_id, job_id, name, phone, website, address, emails,
	source, status, worker_id, locked_at, retries, created_at, email_scraped_at`

// LeadStore implements store.LeadQueue and store.LeadStore over Postgres.
// The claim path relies on FOR UPDATE SKIP LOCKED so concurrent workers
// never block on, or receive, the same row.
type LeadStore struct {
	db DB
}

// NewLeadStore builds a LeadStore over the given pool.
func NewLeadStore(db DB) *LeadStore {
	return &LeadStore{db: db}
}

// ClaimNext atomically claims the oldest PENDING lead for workerID. The inner
// select skips rows locked by concurrent claimers, so under contention each
// caller either gets a distinct lead or nil, never a duplicate. The retries
// counter is incremented at claim time, counting attempts rather than failures.
func (s *LeadStore) ClaimNext(ctx context.Context, workerID string) (*lead.Lead, error) {
	if workerID == "" {
		return nil, fmt.Errorf("worker id is required")
	}
	query := fmt.Sprintf(`
		UPDATE leads SET
			status = 'PROCESSING',
			worker_id = $1,
			locked_at = NOW(),
			retries = retries + 1
		WHERE id = (
			SELECT id FROM leads
			WHERE status = 'PENDING'
			ORDER BY created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		RETURNING %s`, leadColumns)

	row := s.db.QueryRow(ctx, query, workerID)
	claimed, err := scanLead(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next lead: %w", err)
	}
	return &claimed, nil
}

// ReleaseStalled reclaims leads abandoned by dead workers: any PROCESSING row
// whose lock predates the timeout goes back to PENDING with worker and lock
// cleared. Fresher in-flight claims are untouched.
func (s *LeadStore) ReleaseStalled(ctx context.Context, timeout time.Duration) (int64, error) {
	cutoff := time.Now().Add(-timeout)
	tag, err := s.db.Exec(ctx, `
		UPDATE leads SET
			status = 'PENDING',
			worker_id = NULL,
			locked_at = NULL
		WHERE status = 'PROCESSING' AND locked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("release stalled leads: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Complete moves a lead to its terminal status and clears the claim.
func (s *LeadStore) Complete(ctx context.Context, leadID uuid.UUID, success bool) error {
	status := lead.StatusCompleted
	if !success {
		status = lead.StatusFailed
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE leads SET
			status = $2,
			worker_id = NULL,
			locked_at = NULL
		WHERE id = $1`, leadID, status)
	if err != nil {
		return fmt.Errorf("complete lead: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FailOrRetry hard-fails the lead once currentRetries has reached the budget,
// otherwise releases it back to PENDING for another claim.
func (s *LeadStore) FailOrRetry(
	ctx context.Context,
	leadID uuid.UUID,
	currentRetries int,
) (lead.Status, error) {
	if currentRetries >= lead.MaxRetries {
		if err := s.Complete(ctx, leadID, false); err != nil {
			return "", err
		}
		return lead.StatusFailed, nil
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE leads SET
			status = 'PENDING',
			worker_id = NULL,
			locked_at = NULL
		WHERE id = $1`, leadID)
	if err != nil {
		return "", fmt.Errorf("release lead for retry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return "", store.ErrNotFound
	}
	return lead.StatusPending, nil
}

// CreateIfAbsent inserts the lead unless one with the same name and address
// already exists for the tenant. Returns false when skipped as a duplicate.
func (s *LeadStore) CreateIfAbsent(ctx context.Context, l lead.Lead) (bool, error) {
	if l.OwnerID == "" {
		return false, lead.ErrMissingOwner
	}
	var exists bool
	err := s.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM leads WHERE owner_id = $1 AND name = $2 AND address = $3
		)`, l.OwnerID, l.Name, l.Address).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check duplicate lead: %w", err)
	}
	if exists {
		return false, nil
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO leads (id, owner_id, job_id, name, phone, website, address, source, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		l.ID, l.OwnerID, l.JobID, l.Name, l.Phone, l.Website, l.Address, l.Source, lead.StatusPending,
	)
	if err != nil {
		return false, fmt.Errorf("insert lead: %w", err)
	}
	return true, nil
}

// SetEmails records the extracted email list and stamps the scrape time.
func (s *LeadStore) SetEmails(ctx context.Context, leadID uuid.UUID, emails []string) error {
	if emails == nil {
		emails = []string{}
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE leads SET
			emails = $2,
			email_scraped_at = NOW()
		WHERE id = $1`, leadID, emails)
	if err != nil {
		return fmt.Errorf("set lead emails: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// FailPendingForJob flips a job's still-PENDING leads to FAILED. Claimed
// leads are left to drain via natural completion or stall recovery.
func (s *LeadStore) FailPendingForJob(ctx context.Context, jobID uuid.UUID) (int64, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE leads SET status = 'FAILED'
		WHERE job_id = $1 AND status = 'PENDING'`, jobID)
	if err != nil {
		return 0, fmt.Errorf("fail pending leads: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLead(row pgx.Row) (lead.Lead, error) {
	var l lead.Lead
	err := row.Scan(
		&l.ID,
		&l.OwnerID,
		&l.JobID,
		&l.Name,
		&l.Phone,
		&l.Website,
		&l.Address,
		&l.Emails,
		&l.Source,
		&l.Status,
		&l.WorkerID,
		&l.LockedAt,
		&l.Retries,
		&l.CreatedAt,
		&l.EmailScrapedAt,
	)
	if err != nil {
		return lead.Lead{}, err
	}
	return l, nil
}
