package sitecrawl

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/swarmleads/leadengine/internal/extract"
	"github.com/swarmleads/leadengine/internal/lead"
)

type fakeFetcher struct {
	pages   map[string]string
	fetched []string
	errOn   map[string]error
}

func (f *fakeFetcher) FetchPage(_ context.Context, pageURL string) (string, error) {
	f.fetched = append(f.fetched, pageURL)
	if err := f.errOn[pageURL]; err != nil {
		return "", err
	}
	html, ok := f.pages[pageURL]
	if !ok {
		return "", errors.New("404")
	}
	return html, nil
}

func newCrawler(maxPages int) *Crawler {
	return NewCrawler(Config{MaxPages: maxPages}, extract.NewPipeline(nil, nil), nil)
}

func TestCrawlRejectsUnusableURL(t *testing.T) {
	t.Parallel()

	c := newCrawler(3)
	for _, bad := range []string{"", "not a url", "ftp://x.ge", "//nohost"} {
		_, err := c.Crawl(context.Background(), &fakeFetcher{}, bad, false)
		require.Error(t, err, "url %q", bad)
	}
}

func TestCrawlFindsEmailOnHomepage(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"https://firm.ge": `<html><body><p>write to info@firm.ge</p></body></html>`,
	}}
	c := newCrawler(3)

	results, err := c.Crawl(context.Background(), f, "https://firm.ge", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "info@firm.ge", results[0].Email)
}

func TestCrawlFollowsHarvestedContactLinkFirst(t *testing.T) {
	t.Parallel()

	home := `<html><body>
		<a href="/pricing">Pricing</a>
		<a href="/get-in-touch">Contact us</a>
		<a href="https://other.example/contact">elsewhere</a>
	</body></html>`
	f := &fakeFetcher{pages: map[string]string{
		"https://firm.ge":              home,
		"https://firm.ge/get-in-touch": `<p>sales@firm.ge</p>`,
	}}
	c := newCrawler(2)

	results, err := c.Crawl(context.Background(), f, "https://firm.ge", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "sales@firm.ge", results[0].Email)

	// The harvested link beats every seeded path, and the off-host contact
	// link is never followed.
	require.Equal(t, []string{"https://firm.ge", "https://firm.ge/get-in-touch"}, f.fetched)
}

func TestCrawlFollowsSubdomainContactLink(t *testing.T) {
	t.Parallel()

	home := `<html><body>
		<a href="https://www.firm.ge/contact">Contact</a>
		<a href="https://notfirm.ge/contact">lookalike</a>
	</body></html>`
	f := &fakeFetcher{pages: map[string]string{
		"https://firm.ge":             home,
		"https://www.firm.ge/contact": `<p>hello@firm.ge</p>`,
	}}
	c := newCrawler(2)

	results, err := c.Crawl(context.Background(), f, "https://firm.ge", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "hello@firm.ge", results[0].Email)

	// The www link counts as the same site; the lookalike host does not.
	require.Equal(t, []string{"https://firm.ge", "https://www.firm.ge/contact"}, f.fetched)
}

func TestSameSite(t *testing.T) {
	t.Parallel()

	cases := []struct {
		host, base string
		want       bool
	}{
		{"firm.ge", "firm.ge", true},
		{"www.firm.ge", "firm.ge", true},
		{"shop.firm.ge", "firm.ge", true},
		{"firm.ge", "www.firm.ge", true},
		{"FIRM.ge", "firm.GE", true},
		{"notfirm.ge", "firm.ge", false},
		{"firm.ge.evil.io", "firm.ge", false},
	}
	for _, tc := range cases {
		require.Equal(t, tc.want, sameSite(tc.host, tc.base), "%s vs %s", tc.host, tc.base)
	}
}

func TestCrawlFallsBackToSeededPaths(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"https://firm.ge":         `<html><body><a href="/pricing">Pricing</a></body></html>`,
		"https://firm.ge/contact": `<p>office@firm.ge</p>`,
	}}
	c := newCrawler(2)

	results, err := c.Crawl(context.Background(), f, "https://firm.ge", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "office@firm.ge", results[0].Email)
}

func TestCrawlRespectsPageBudget(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"https://firm.ge": `<html><body>no mail here</body></html>`,
	}}
	c := newCrawler(3)

	_, err := c.Crawl(context.Background(), f, "https://firm.ge", false)
	require.NoError(t, err)
	// Homepage plus two of the seeded paths: failed fetches do not count
	// against the budget, but the seeded list is finite.
	require.LessOrEqual(t, countSuccessful(f), 3)
}

func countSuccessful(f *fakeFetcher) int {
	n := 0
	for _, u := range f.fetched {
		if _, ok := f.pages[u]; ok {
			n++
		}
	}
	return n
}

func TestCrawlPageFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		pages: map[string]string{
			"https://firm.ge":         `<html><body><a href="/kontakt">Kontakt</a></body></html>`,
			"https://firm.ge/contact": `<p>team@firm.ge</p>`,
		},
		errOn: map[string]error{
			"https://firm.ge/kontakt": errors.New("503"),
		},
	}
	c := newCrawler(2)

	results, err := c.Crawl(context.Background(), f, "https://firm.ge", false)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, "team@firm.ge", results[0].Email)
}

func TestCrawlAllPagesFailing(t *testing.T) {
	t.Parallel()

	c := newCrawler(3)
	_, err := c.Crawl(context.Background(), &fakeFetcher{}, "https://dead.ge", false)
	require.Error(t, err)
}

func TestCrawlDoesNotRevisitNormalizedDuplicates(t *testing.T) {
	t.Parallel()

	home := `<html><body>
		<a href="/contact/">Contact</a>
		<a href="/contact#form">Contact form</a>
	</body></html>`
	f := &fakeFetcher{pages: map[string]string{
		"https://firm.ge":          home,
		"https://firm.ge/contact/": `<p>hi@firm.ge</p>`,
	}}
	c := newCrawler(5)

	_, err := c.Crawl(context.Background(), f, "https://firm.ge", false)
	require.NoError(t, err)

	visits := 0
	for _, u := range f.fetched {
		if normalizeURL(u) == "https://firm.ge/contact" {
			visits++
		}
	}
	require.Equal(t, 1, visits)
}

func TestMergeKeepsBestPerAddress(t *testing.T) {
	t.Parallel()

	merged := Merge([]lead.ExtractionResult{
		{Email: "a@firm.ge", Confidence: 80, Source: lead.SourceRegexText},
		{Email: "A@firm.ge", Confidence: 100, Source: lead.SourceMailto},
		{Email: "b@firm.ge", Confidence: 60, Source: lead.SourceRegexObfuscated},
	})
	require.Len(t, merged, 2)
	require.Equal(t, 100, merged[0].Confidence)
	require.Equal(t, lead.SourceMailto, merged[0].Source)
}
