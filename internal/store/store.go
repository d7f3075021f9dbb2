// Package store defines the persistence interfaces for jobs, leads, contacts,
// and credit accounts. By depending on these interfaces rather than a concrete
// database, the orchestrator and workers can be tested with fakes while
// production wires in the Postgres implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/swarmleads/leadengine/internal/lead"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrInsufficientCredits is returned by Deduct when the conditional decrement
// matched no row, meaning the balance was below the requested amount. No
// mutation has occurred when this error is returned.
var ErrInsufficientCredits = errors.New("insufficient credits")

// LeadQueue exposes the row-claiming operations over the shared leads table.
// All implementations must guarantee that no two concurrent ClaimNext callers
// ever receive the same lead.
type LeadQueue interface {
	// ClaimNext atomically claims the oldest PENDING lead for workerID,
	// transitioning it to PROCESSING with worker/lock stamped and retries
	// incremented. Returns (nil, nil) when no lead qualifies.
	ClaimNext(ctx context.Context, workerID string) (*lead.Lead, error)

	// ReleaseStalled resets PROCESSING leads whose lock predates the timeout
	// back to PENDING with worker/lock cleared. Returns the number reclaimed.
	ReleaseStalled(ctx context.Context, timeout time.Duration) (int64, error)

	// Complete moves a lead to its terminal status.
	Complete(ctx context.Context, leadID uuid.UUID, success bool) error

	// FailOrRetry hard-fails the lead when currentRetries has reached the
	// retry budget, otherwise releases it back to PENDING for re-claim.
	// It returns the status the lead was moved to.
	FailOrRetry(ctx context.Context, leadID uuid.UUID, currentRetries int) (lead.Status, error)
}

// LeadStore persists discovered leads and their enrichment results.
type LeadStore interface {
	// CreateIfAbsent inserts the lead unless one with the same name and
	// address already exists. Returns false when skipped as a duplicate.
	CreateIfAbsent(ctx context.Context, l lead.Lead) (bool, error)

	// SetEmails records the extracted email list and stamps the scrape time.
	SetEmails(ctx context.Context, leadID uuid.UUID, emails []string) error

	// FailPendingForJob flips still-PENDING leads of a job to FAILED. Used
	// when a job is cancelled externally; claimed leads drain naturally.
	FailPendingForJob(ctx context.Context, jobID uuid.UUID) (int64, error)
}

// JobStore persists scrape jobs and their lifecycle transitions.
type JobStore interface {
	Create(ctx context.Context, job lead.ScrapeJob) error
	Get(ctx context.Context, id uuid.UUID) (lead.ScrapeJob, error)

	// NextPending returns the oldest PENDING job, or (nil, nil) if none.
	NextPending(ctx context.Context) (*lead.ScrapeJob, error)

	MarkProcessing(ctx context.Context, id uuid.UUID) error
	SetResultsFound(ctx context.Context, id uuid.UUID, n int) error

	// Finish moves the job to COMPLETED or FAILED and stamps completion.
	Finish(ctx context.Context, id uuid.UUID, status lead.Status) error

	// ListResumable returns PROCESSING and FAILED jobs, newest first.
	ListResumable(ctx context.Context) ([]lead.ScrapeJob, error)
}

// Account is a tenant's credit balance. Metered tenants are debited per
// accepted lead; unmetered (internal) tenants scrape without deduction.
type Account struct {
	OwnerID string
	Credits int
	Metered bool
}

// CreditLedger exposes race-safe credit operations. Deduct is the only
// gate that matters under concurrency; Account is a plain read used for
// upfront fail-fast checks only.
type CreditLedger interface {
	// Deduct decrements the balance by amount in a single conditional
	// statement and returns the updated balance. Returns
	// ErrInsufficientCredits without mutating when the balance is short.
	Deduct(ctx context.Context, ownerID string, amount int) (int, error)

	// Account returns the current account state.
	Account(ctx context.Context, ownerID string) (Account, error)

	// EnsureAccount creates the account with the signup grant if missing.
	EnsureAccount(ctx context.Context, ownerID string, metered bool) error
}

// ContactStore persists extracted contact records.
type ContactStore interface {
	Insert(ctx context.Context, contacts []lead.Contact) error
}
