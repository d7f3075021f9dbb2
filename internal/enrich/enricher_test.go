package enrich

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/swarmleads/leadengine/internal/extract"
	"github.com/swarmleads/leadengine/internal/lead"
	"github.com/swarmleads/leadengine/internal/sitecrawl"
	"github.com/swarmleads/leadengine/internal/verify"
)

type staticFetcher struct {
	pages map[string]string
}

func (s *staticFetcher) FetchPage(_ context.Context, url string) (string, error) {
	html, ok := s.pages[url]
	if !ok {
		return "", errors.New("404")
	}
	return html, nil
}

type staticVerifier struct {
	results map[string]verify.Result
}

func (s *staticVerifier) VerifyEmail(_ context.Context, email string) verify.Result {
	if r, ok := s.results[email]; ok {
		return r
	}
	return verify.Result{Status: lead.VerifyUnknown}
}

func testEnricher(fetcher sitecrawl.Fetcher, verifier DomainVerifier) *Enricher {
	crawler := sitecrawl.NewCrawler(sitecrawl.Config{MaxPages: 3}, extract.NewPipeline(nil, nil), nil)
	factory := func(_ context.Context) (sitecrawl.Fetcher, func(), error) {
		return fetcher, func() {}, nil
	}
	return New(crawler, factory, verifier, false, nil)
}

func testLead(t *testing.T, website string) lead.Lead {
	t.Helper()
	l, err := lead.NewLead("tenant-1", uuid.New(), "Old Town Bakery")
	require.NoError(t, err)
	l.Website = website
	return l
}

func TestEnrichNoWebsite(t *testing.T) {
	t.Parallel()

	e := testEnricher(&staticFetcher{}, nil)
	emails, contacts, err := e.Enrich(context.Background(), testLead(t, ""))
	require.NoError(t, err)
	require.Empty(t, emails)
	require.Empty(t, contacts)
}

func TestEnrichBuildsVerifiedContacts(t *testing.T) {
	t.Parallel()

	fetcher := &staticFetcher{pages: map[string]string{
		"https://oldtownbakery.ge": `<html><body>
			<a href="mailto:info@oldtownbakery.ge">mail us</a>
		</body></html>`,
	}}
	verifier := &staticVerifier{results: map[string]verify.Result{
		"info@oldtownbakery.ge": {Status: lead.VerifyValid, Provider: "Google"},
	}}
	e := testEnricher(fetcher, verifier)

	l := testLead(t, "https://oldtownbakery.ge")
	emails, contacts, err := e.Enrich(context.Background(), l)
	require.NoError(t, err)
	require.Equal(t, []string{"info@oldtownbakery.ge"}, emails)
	require.Len(t, contacts, 1)

	c := contacts[0]
	require.Equal(t, l.ID, c.LeadID)
	require.Equal(t, "tenant-1", c.OwnerID)
	require.Equal(t, lead.VerifyValid, c.VerificationStatus)
	require.Equal(t, "Google", c.MXProvider)
	require.Equal(t, 100, c.ConfidenceScore)
	require.Equal(t, lead.SourceMailto, c.Source)
}

func TestEnrichWithoutVerifierRecordsUnknown(t *testing.T) {
	t.Parallel()

	fetcher := &staticFetcher{pages: map[string]string{
		"https://firm.ge": `<p>sales@firm.ge</p>`,
	}}
	e := testEnricher(fetcher, nil)

	_, contacts, err := e.Enrich(context.Background(), testLead(t, "https://firm.ge"))
	require.NoError(t, err)
	require.Len(t, contacts, 1)
	require.Equal(t, lead.VerifyUnknown, contacts[0].VerificationStatus)
}

func TestEnrichCrawlFailure(t *testing.T) {
	t.Parallel()

	e := testEnricher(&staticFetcher{}, nil)
	_, _, err := e.Enrich(context.Background(), testLead(t, "https://dead.ge"))
	require.Error(t, err)
}

type recordingArchive struct {
	objects map[string][]byte
}

func (r *recordingArchive) Save(_ context.Context, name string, data []byte) error {
	if r.objects == nil {
		r.objects = map[string][]byte{}
	}
	r.objects[name] = data
	return nil
}

func TestEnrichArchivesHomepageSnapshot(t *testing.T) {
	t.Parallel()

	fetcher := &staticFetcher{pages: map[string]string{
		"https://firm.ge": `<p>sales@firm.ge</p>`,
	}}
	archive := &recordingArchive{}
	e := testEnricher(fetcher, nil).WithSnapshots(archive, "pages")

	l := testLead(t, "https://firm.ge")
	_, _, err := e.Enrich(context.Background(), l)
	require.NoError(t, err)
	require.Len(t, archive.objects, 1)
	for name, data := range archive.objects {
		require.Contains(t, name, "pages/tenant-1/")
		require.Contains(t, name, l.ID.String()+".html")
		require.Contains(t, string(data), "sales@firm.ge")
	}
}

func TestEnrichFetcherFactoryFailure(t *testing.T) {
	t.Parallel()

	crawler := sitecrawl.NewCrawler(sitecrawl.Config{}, extract.NewPipeline(nil, nil), nil)
	factory := func(_ context.Context) (sitecrawl.Fetcher, func(), error) {
		return nil, nil, errors.New("browser gone")
	}
	e := New(crawler, factory, nil, false, nil)

	_, _, err := e.Enrich(context.Background(), testLead(t, "https://firm.ge"))
	require.Error(t, err)
}
