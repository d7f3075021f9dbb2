// Package enrich turns a discovered lead into verified contact records by
// crawling its website, extracting emails, and checking MX deliverability.
package enrich

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/metrics"
	"github.com/swarmleads/leadengine/internal/sitecrawl"
	"github.com/swarmleads/leadengine/internal/snapshot"
	"github.com/swarmleads/leadengine/internal/verify"
)

// DomainVerifier is the MX-check seam. *verify.Verifier satisfies it.
type DomainVerifier interface {
	VerifyEmail(ctx context.Context, email string) verify.Result
}

// FetcherFactory opens a page fetcher for one lead's crawl. The returned
// closer releases whatever the fetcher holds (a browser tab, usually).
type FetcherFactory func(ctx context.Context) (sitecrawl.Fetcher, func(), error)

// Enricher runs the crawl-extract-verify sequence for one lead.
type Enricher struct {
	crawler       *sitecrawl.Crawler
	newFetcher    FetcherFactory
	verifier      DomainVerifier
	allowModel    bool
	archive       snapshot.Archive
	archivePrefix string
	logger        *zap.Logger
}

// New builds an Enricher.
func New(
	crawler *sitecrawl.Crawler,
	newFetcher FetcherFactory,
	verifier DomainVerifier,
	allowModel bool,
	logger *zap.Logger,
) *Enricher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Enricher{
		crawler:    crawler,
		newFetcher: newFetcher,
		verifier:   verifier,
		allowModel: allowModel,
		logger:     logger,
	}
}

// WithSnapshots archives each lead's homepage markup under prefix. Archive
// failures never fail the crawl.
func (e *Enricher) WithSnapshots(archive snapshot.Archive, prefix string) *Enricher {
	e.archive = archive
	e.archivePrefix = prefix
	return e
}

// Enrich crawls the lead's website and returns the extracted email list and
// the contact records to persist. A lead without a website yields empty
// results and no error. Verification never blocks a contact: an unreachable
// DNS check records UNKNOWN.
func (e *Enricher) Enrich(ctx context.Context, l lead.Lead) ([]string, []lead.Contact, error) {
	if l.Website == "" {
		return nil, nil, nil
	}

	fetcher, closeFetcher, err := e.newFetcher(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich %s: %w", l.Name, err)
	}
	defer closeFetcher()

	if e.archive != nil {
		fetcher = &archivingFetcher{inner: fetcher, archive: e.archive, prefix: e.archivePrefix, lead: l, logger: e.logger}
	}

	results, err := e.crawler.Crawl(ctx, fetcher, l.Website, e.allowModel)
	if err != nil {
		return nil, nil, fmt.Errorf("enrich %s: %w", l.Name, err)
	}
	if len(results) == 0 {
		return nil, nil, nil
	}

	emails := make([]string, 0, len(results))
	contacts := make([]lead.Contact, 0, len(results))
	for _, r := range results {
		metrics.ObserveEmailExtracted(string(r.Source))
		emails = append(emails, r.Email)

		verdict := verify.Result{Status: lead.VerifyUnknown}
		if e.verifier != nil {
			verdict = e.verifier.VerifyEmail(ctx, r.Email)
		}
		contacts = append(contacts, lead.Contact{
			LeadID:             l.ID,
			OwnerID:            l.OwnerID,
			Email:              r.Email,
			ConfidenceScore:    r.Confidence,
			Source:             r.Source,
			EmailType:          r.Type,
			VerificationStatus: verdict.Status,
			MXProvider:         verdict.Provider,
		})
	}
	return emails, contacts, nil
}

// archivingFetcher saves the first page fetched for a lead, which is the
// homepage. One object per lead per day keeps the archive bounded.
type archivingFetcher struct {
	inner   sitecrawl.Fetcher
	archive snapshot.Archive
	prefix  string
	lead    lead.Lead
	logger  *zap.Logger
	saved   bool
}

func (f *archivingFetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	html, err := f.inner.FetchPage(ctx, pageURL)
	if err != nil || f.saved {
		return html, err
	}
	f.saved = true
	name := snapshot.ObjectName(f.prefix, f.lead.OwnerID, f.lead.ID.String(), time.Now())
	if saveErr := f.archive.Save(ctx, name, []byte(html)); saveErr != nil {
		f.logger.Warn("archiving page snapshot failed",
			zap.String("object", name),
			zap.Error(saveErr),
		)
	}
	return html, nil
}
