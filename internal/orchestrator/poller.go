// Package orchestrator runs the job poller: a single sequential loop that
// claims the oldest pending scrape job, discovers leads on the map, meters
// credits, and optionally enriches leads inline.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/events"
	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/maps"
	"github.com/swarmleads/leadengine/internal/metrics"
	"github.com/swarmleads/leadengine/internal/store"
)

// errCreditsExhausted stops discovery mid-job. The job still completes with
// the results accepted so far.
var errCreditsExhausted = errors.New("credits exhausted")

// MapSource streams discovered leads for a job. Discovery stops when emit
// returns false (Discover then returns nil) or errors (Discover returns
// that error).
type MapSource interface {
	Discover(ctx context.Context, job lead.ScrapeJob, emit func(lead.Lead) (bool, error)) error
}

// Enricher completes a lead inline. Optional: when absent, created leads
// stay PENDING for the worker fleet.
type Enricher interface {
	Enrich(ctx context.Context, l lead.Lead) (emails []string, contacts []lead.Contact, err error)
}

// Config tunes the poll loop.
type Config struct {
	PollInterval     time.Duration
	FailureThreshold int
	Cooldown         time.Duration
	StallTimeout     time.Duration
}

// Poller drives jobs from PENDING to a terminal state, one at a time.
type Poller struct {
	cfg      Config
	jobs     store.JobStore
	leads    store.LeadStore
	queue    store.LeadQueue
	credits  store.CreditLedger
	contacts store.ContactStore
	source   MapSource
	enricher Enricher
	events   events.Publisher
	logger   *zap.Logger
}

// NewPoller wires the poller. enricher may be nil.
func NewPoller(
	cfg Config,
	jobs store.JobStore,
	leads store.LeadStore,
	queue store.LeadQueue,
	credits store.CreditLedger,
	contacts store.ContactStore,
	source MapSource,
	enricher Enricher,
	publisher events.Publisher,
	logger *zap.Logger,
) *Poller {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 10 * time.Minute
	}
	if publisher == nil {
		publisher = events.NoOpPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		cfg:      cfg,
		jobs:     jobs,
		leads:    leads,
		queue:    queue,
		credits:  credits,
		contacts: contacts,
		source:   source,
		enricher: enricher,
		events:   publisher,
		logger:   logger,
	}
}

// Run polls until ctx is canceled. After FailureThreshold consecutive job
// failures the loop cools down before polling again.
func (p *Poller) Run(ctx context.Context) error {
	// Jobs stuck in PROCESSING or FAILED from a previous run need an
	// operator to requeue them; surface them once at startup.
	if resumable, err := p.jobs.ListResumable(ctx); err != nil {
		p.logger.Warn("listing resumable jobs failed", zap.Error(err))
	} else if len(resumable) > 0 {
		p.logger.Info("jobs left over from a previous run", zap.Int("count", len(resumable)))
	}

	ticker := time.NewTicker(p.cfg.PollInterval)
	defer ticker.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		if released, err := p.queue.ReleaseStalled(ctx, p.cfg.StallTimeout); err != nil {
			p.logger.Warn("stalled release failed", zap.Error(err))
		} else if released > 0 {
			metrics.ObserveStalledReleased(released)
			p.logger.Info("released stalled leads", zap.Int64("count", released))
		}

		job, err := p.jobs.NextPending(ctx)
		if err != nil {
			p.logger.Error("job poll failed", zap.Error(err))
			continue
		}
		if job == nil {
			continue
		}

		if err := p.ProcessJob(ctx, *job); err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			failures++
			p.logger.Error("job processing failed",
				zap.String("job_id", job.ID.String()),
				zap.Int("consecutive_failures", failures),
				zap.Error(err),
			)
			if failures >= p.cfg.FailureThreshold {
				metrics.ObservePollerCooldown()
				p.logger.Warn("failure threshold reached, cooling down",
					zap.Duration("cooldown", p.cfg.Cooldown))
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(p.cfg.Cooldown):
				}
				failures = 0
			}
			continue
		}
		failures = 0
	}
}

// ProcessJob runs one job to a terminal state. An error return means the
// job failed unexpectedly and counts against the circuit breaker; handled
// outcomes (no credits up front, credit exhaustion mid-run) return nil.
func (p *Poller) ProcessJob(ctx context.Context, job lead.ScrapeJob) error {
	start := time.Now()

	if err := p.jobs.MarkProcessing(ctx, job.ID); err != nil {
		return fmt.Errorf("mark processing: %w", err)
	}

	metered, err := p.checkCredits(ctx, job)
	if err != nil {
		return err
	}
	if metered != nil && metered.Credits <= 0 {
		p.finishJob(ctx, job, lead.StatusFailed, 0, start)
		p.logger.Warn("job rejected, no credits",
			zap.String("job_id", job.ID.String()),
			zap.String("owner_id", job.OwnerID))
		return nil
	}

	p.publish(ctx, events.Event{Type: events.TypeJobStarted, OwnerID: job.OwnerID, JobID: job.ID.String()})

	accepted := 0
	discoverErr := p.source.Discover(ctx, job, func(l lead.Lead) (bool, error) {
		ok, err := p.acceptLead(ctx, job, metered != nil, l)
		if ok {
			accepted++
		}
		if err != nil {
			return false, err
		}
		if !ok {
			return true, nil
		}
		return accepted < job.MaxResults, nil
	})

	if discoverErr != nil && !errors.Is(discoverErr, errCreditsExhausted) {
		p.finishJob(ctx, job, lead.StatusFailed, accepted, start)
		p.publish(ctx, events.Event{Type: events.TypeJobFailed, OwnerID: job.OwnerID, JobID: job.ID.String()})
		return fmt.Errorf("discover leads: %w", discoverErr)
	}

	p.finishJob(ctx, job, lead.StatusCompleted, accepted, start)
	p.publish(ctx, events.Event{Type: events.TypeJobCompleted, OwnerID: job.OwnerID, JobID: job.ID.String()})
	p.logger.Info("job completed",
		zap.String("job_id", job.ID.String()),
		zap.Int("results", accepted),
		zap.Bool("partial", errors.Is(discoverErr, errCreditsExhausted)),
	)
	return nil
}

// acceptLead persists one discovered lead and debits the tenant. Returns
// false with no error for duplicates. Returns errCreditsExhausted to stop
// discovery when the balance runs out.
func (p *Poller) acceptLead(ctx context.Context, job lead.ScrapeJob, metered bool, l lead.Lead) (bool, error) {
	if l.Name == maps.UnknownName {
		// Sentinel-named leads are failed extractions. Never persisted,
		// never debited.
		metrics.ObserveLeadDiscovered("unnamed")
		return false, nil
	}

	created, err := p.leads.CreateIfAbsent(ctx, l)
	if err != nil {
		return false, fmt.Errorf("persist lead: %w", err)
	}
	if !created {
		metrics.ObserveLeadDiscovered("duplicate")
		return false, nil
	}
	metrics.ObserveLeadDiscovered("new")
	p.publish(ctx, events.Event{
		Type: events.TypeLeadCreated, OwnerID: l.OwnerID,
		JobID: job.ID.String(), LeadID: l.ID.String(),
	})

	remaining := -1
	if metered {
		remaining, err = p.credits.Deduct(ctx, job.OwnerID, 1)
		if errors.Is(err, store.ErrInsufficientCredits) {
			// The lead was created but cannot be paid for; take it back out
			// of the queue and settle the job with what was accepted so far.
			metrics.ObserveCreditDenial()
			if completeErr := p.queue.Complete(ctx, l.ID, false); completeErr != nil {
				p.logger.Warn("failed to retire unpaid lead", zap.Error(completeErr))
			}
			return false, errCreditsExhausted
		}
		if err != nil {
			return false, fmt.Errorf("deduct credit: %w", err)
		}
	}

	p.enrichInline(ctx, l)

	if remaining == 0 {
		// The balance hit zero on this deduction. The lead is paid for and
		// kept; discovery stops here.
		return true, errCreditsExhausted
	}
	return true, nil
}

// enrichInline completes the lead in-process when an enricher is wired.
// Failures leave the lead PENDING for the worker fleet to retry.
func (p *Poller) enrichInline(ctx context.Context, l lead.Lead) {
	if p.enricher == nil {
		return
	}

	emails, contacts, err := p.enricher.Enrich(ctx, l)
	if err != nil {
		p.logger.Warn("inline enrichment failed, leaving lead queued",
			zap.String("lead_id", l.ID.String()), zap.Error(err))
		return
	}

	if len(emails) > 0 {
		if err := p.leads.SetEmails(ctx, l.ID, emails); err != nil {
			p.logger.Warn("failed to store emails", zap.Error(err))
			return
		}
	}
	if len(contacts) > 0 {
		if err := p.contacts.Insert(ctx, contacts); err != nil {
			p.logger.Warn("failed to store contacts", zap.Error(err))
			return
		}
	}
	if err := p.queue.Complete(ctx, l.ID, l.Website != ""); err != nil {
		p.logger.Warn("failed to complete lead", zap.Error(err))
		return
	}
	p.publish(ctx, events.Event{
		Type: events.TypeLeadEnriched, OwnerID: l.OwnerID, LeadID: l.ID.String(),
	})
}

// checkCredits returns the account for metered tenants, nil for unmetered
// or unknown tenants.
func (p *Poller) checkCredits(ctx context.Context, job lead.ScrapeJob) (*store.Account, error) {
	acct, err := p.credits.Account(ctx, job.OwnerID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("credit check: %w", err)
	}
	if !acct.Metered {
		return nil, nil
	}
	return &acct, nil
}

func (p *Poller) finishJob(ctx context.Context, job lead.ScrapeJob, status lead.Status, results int, start time.Time) {
	if err := p.jobs.SetResultsFound(ctx, job.ID, results); err != nil {
		p.logger.Warn("failed to record result count", zap.Error(err))
	}
	if err := p.jobs.Finish(ctx, job.ID, status); err != nil {
		p.logger.Error("failed to finish job",
			zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	metrics.ObserveJob(string(status), time.Since(start))
}

func (p *Poller) publish(ctx context.Context, e events.Event) {
	if err := p.events.Publish(ctx, e); err != nil {
		p.logger.Warn("event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}
