// Package worker drains the lead enrichment queue. Each worker claims one
// lead at a time, crawls its website for contacts, and settles the claim.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/browser"
	"github.com/swarmleads/leadengine/internal/events"
	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/metrics"
	"github.com/swarmleads/leadengine/internal/store"
)

// Enricher produces the email list and contact records for a claimed lead.
type Enricher interface {
	Enrich(ctx context.Context, l lead.Lead) (emails []string, contacts []lead.Contact, err error)
}

// Rotator is the browser-session lifecycle seam.
type Rotator interface {
	RecordLead()
	ShouldRotate() bool
	Rotate()
}

// noopRotator serves fast-mode workers that hold no browser.
type noopRotator struct{}

func (noopRotator) RecordLead()        {}
func (noopRotator) ShouldRotate() bool { return false }
func (noopRotator) Rotate()            {}

// Config tunes the claim loop.
type Config struct {
	PollInterval time.Duration
	StallTimeout time.Duration
}

// Worker runs the claim-enrich-settle loop.
type Worker struct {
	id       string
	cfg      Config
	queue    store.LeadQueue
	leads    store.LeadStore
	contacts store.ContactStore
	enricher Enricher
	rotator  Rotator
	events   events.Publisher
	logger   *zap.Logger
}

// New builds a Worker with a unique identity. rotator may be nil for
// workers that do not own a browser.
func New(
	cfg Config,
	queue store.LeadQueue,
	leads store.LeadStore,
	contacts store.ContactStore,
	enricher Enricher,
	rotator Rotator,
	publisher events.Publisher,
	logger *zap.Logger,
) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.StallTimeout <= 0 {
		cfg.StallTimeout = 10 * time.Minute
	}
	if rotator == nil {
		rotator = noopRotator{}
	}
	if publisher == nil {
		publisher = events.NoOpPublisher{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	id := "worker-" + uuid.NewString()[:8]
	return &Worker{
		id:       id,
		cfg:      cfg,
		queue:    queue,
		leads:    leads,
		contacts: contacts,
		enricher: enricher,
		rotator:  rotator,
		events:   publisher,
		logger:   logger.With(zap.String("worker_id", id)),
	}
}

// ID returns the worker's queue identity.
func (w *Worker) ID() string {
	return w.id
}

// Run claims and processes leads until ctx is canceled. Claims abandoned by
// crashed workers are released once at startup; the poller sweeps them
// continuously afterwards.
func (w *Worker) Run(ctx context.Context) error {
	if released, err := w.queue.ReleaseStalled(ctx, w.cfg.StallTimeout); err != nil {
		w.logger.Warn("startup stalled release failed", zap.Error(err))
	} else if released > 0 {
		metrics.ObserveStalledReleased(released)
		w.logger.Info("released stalled leads at startup", zap.Int64("count", released))
	}

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		claimed, err := w.queue.ClaimNext(ctx, w.id)
		if err != nil {
			w.logger.Error("claim failed", zap.Error(err))
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}
		if claimed == nil {
			if !w.sleep(ctx) {
				return ctx.Err()
			}
			continue
		}

		w.Process(ctx, *claimed)
	}
}

// Process enriches one claimed lead and settles its claim. Every path
// settles: success and no-website leads complete, enrichment failures go
// back through the retry budget.
func (w *Worker) Process(ctx context.Context, l lead.Lead) {
	metrics.ObserveLeadClaimed()
	logger := w.logger.With(
		zap.String("lead_id", l.ID.String()),
		zap.String("name", l.Name),
	)

	if w.rotator.ShouldRotate() {
		w.rotator.Rotate()
		metrics.ObserveBrowserRotation()
		logger.Info("browser session rotated")
	}

	if l.Website == "" {
		if err := w.queue.Complete(ctx, l.ID, false); err != nil {
			logger.Error("failed to settle websiteless lead", zap.Error(err))
		}
		return
	}

	emails, contacts, err := w.enricher.Enrich(ctx, l)
	if err != nil {
		if errors.Is(err, browser.ErrSessionFailure) {
			// The engine died under this lead. A fresh session keeps the
			// failure from cascading into every later claim.
			w.rotator.Rotate()
			metrics.ObserveBrowserRotation()
			logger.Warn("browser session lost, rotated")
		}
		status, settleErr := w.queue.FailOrRetry(ctx, l.ID, l.Retries)
		if settleErr != nil {
			logger.Error("failed to settle lead after enrichment error",
				zap.Error(settleErr), zap.NamedError("enrich_error", err))
			return
		}
		logger.Warn("enrichment failed",
			zap.String("settled_as", string(status)),
			zap.Int("retries", l.Retries),
			zap.Error(err),
		)
		return
	}

	if err := w.persist(ctx, l, emails, contacts); err != nil {
		logger.Error("failed to persist enrichment", zap.Error(err))
		if _, settleErr := w.queue.FailOrRetry(ctx, l.ID, l.Retries); settleErr != nil {
			logger.Error("failed to settle lead after persist error", zap.Error(settleErr))
		}
		return
	}

	w.rotator.RecordLead()
	w.publish(ctx, events.Event{
		Type: events.TypeLeadEnriched, OwnerID: l.OwnerID,
		JobID: l.JobID.String(), LeadID: l.ID.String(),
	})
	logger.Info("lead enriched", zap.Int("emails", len(emails)))
}

func (w *Worker) persist(ctx context.Context, l lead.Lead, emails []string, contacts []lead.Contact) error {
	if len(emails) > 0 {
		if err := w.leads.SetEmails(ctx, l.ID, emails); err != nil {
			return fmt.Errorf("store emails: %w", err)
		}
	}
	if len(contacts) > 0 {
		if err := w.contacts.Insert(ctx, contacts); err != nil {
			return fmt.Errorf("store contacts: %w", err)
		}
	}
	if err := w.queue.Complete(ctx, l.ID, true); err != nil {
		return fmt.Errorf("complete lead: %w", err)
	}
	return nil
}

func (w *Worker) sleep(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(w.cfg.PollInterval):
		return true
	}
}

func (w *Worker) publish(ctx context.Context, e events.Event) {
	if err := w.events.Publish(ctx, e); err != nil {
		w.logger.Warn("event publish failed", zap.String("type", e.Type), zap.Error(err))
	}
}
