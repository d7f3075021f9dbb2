// Package sitecrawl walks a company website looking for contact emails. The
// walk is a bounded breadth-first pass: the homepage first, then any
// contact-looking links found on it, then a fixed set of well-known paths.
package sitecrawl

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/extract"
	"github.com/swarmleads/leadengine/internal/lead"
)

// seededPaths are tried after links harvested from the homepage.
var seededPaths = []string{
	"/contact", "/contact-us", "/kontakt",
	"/about", "/about-us",
	"/imprint", "/impressum",
}

// contactKeywords mark homepage links worth following.
var contactKeywords = []string{
	"contact", "kontakt", "about", "imprint", "impressum", "team",
}

// Fetcher retrieves one page of a site as markup.
type Fetcher interface {
	FetchPage(ctx context.Context, pageURL string) (string, error)
}

// Config bounds the crawl.
type Config struct {
	MaxPages int
}

// Crawler drives the walk and feeds each page through the extraction
// pipeline.
type Crawler struct {
	cfg      Config
	pipeline *extract.Pipeline
	logger   *zap.Logger
}

// NewCrawler builds a Crawler. MaxPages defaults to 3.
func NewCrawler(cfg Config, pipeline *extract.Pipeline, logger *zap.Logger) *Crawler {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 3
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Crawler{cfg: cfg, pipeline: pipeline, logger: logger}
}

// Crawl visits up to MaxPages pages of the site and returns the merged
// email findings. Individual page failures are logged and skipped; Crawl
// errors only when the site URL is unusable or no page could be fetched.
func (c *Crawler) Crawl(
	ctx context.Context,
	fetcher Fetcher,
	siteURL string,
	allowModel bool,
) ([]lead.ExtractionResult, error) {
	base, err := url.Parse(strings.TrimSpace(siteURL))
	if err != nil || base.Host == "" || (base.Scheme != "http" && base.Scheme != "https") {
		return nil, fmt.Errorf("sitecrawl: unusable site url %q", siteURL)
	}

	queue := []string{base.String()}
	visited := make(map[string]bool)
	var merged []lead.ExtractionResult
	fetched := 0

	for len(queue) > 0 && fetched < c.cfg.MaxPages {
		if err := ctx.Err(); err != nil {
			return merged, err
		}

		pageURL := queue[0]
		queue = queue[1:]
		key := normalizeURL(pageURL)
		if visited[key] {
			continue
		}
		visited[key] = true

		html, err := fetcher.FetchPage(ctx, pageURL)
		if err != nil {
			c.logger.Warn("page fetch failed", zap.String("url", pageURL), zap.Error(err))
			continue
		}
		fetched++

		results, err := c.pipeline.Extract(ctx, html, allowModel)
		if err != nil {
			c.logger.Warn("page extraction failed", zap.String("url", pageURL), zap.Error(err))
		} else {
			merged = append(merged, results...)
		}

		// Only the homepage contributes discovered links; every later hop
		// comes from the harvested or seeded list.
		if fetched == 1 {
			harvested := harvestContactLinks(html, base)
			queue = append(queue, harvested...)
			for _, p := range seededPaths {
				queue = append(queue, base.ResolveReference(&url.URL{Path: p}).String())
			}
		}
	}

	if fetched == 0 {
		return nil, fmt.Errorf("sitecrawl: no page of %s could be fetched", base.Host)
	}
	return Merge(merged), nil
}

// Merge collapses duplicate findings across pages, keeping the best per
// address.
func Merge(results []lead.ExtractionResult) []lead.ExtractionResult {
	if len(results) == 0 {
		return nil
	}
	best := make(map[string]lead.ExtractionResult, len(results))
	order := make([]string, 0, len(results))
	for _, r := range results {
		key := strings.ToLower(r.Email)
		current, seen := best[key]
		if !seen {
			order = append(order, key)
			best[key] = r
			continue
		}
		if r.Confidence > current.Confidence ||
			(r.Confidence == current.Confidence && r.Source.Priority() < current.Source.Priority()) {
			best[key] = r
		}
	}
	out := make([]lead.ExtractionResult, 0, len(order))
	for _, key := range order {
		out = append(out, best[key])
	}
	return out
}

// harvestContactLinks pulls same-host links whose text or target suggests a
// contact page, in document order.
func harvestContactLinks(html string, base *url.URL) []string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil
	}

	var out []string
	seen := make(map[string]bool)
	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "mailto:") || strings.HasPrefix(href, "#") {
			return
		}
		resolved, err := base.Parse(href)
		if err != nil || !sameSite(resolved.Host, base.Host) {
			return
		}
		haystack := strings.ToLower(resolved.Path + " " + sel.Text())
		if !containsAny(haystack, contactKeywords) {
			return
		}
		link := resolved.String()
		if key := normalizeURL(link); !seen[key] {
			seen[key] = true
			out = append(out, link)
		}
	})
	return out
}

// sameSite accepts the base host, its subdomains, and the apex when the
// base is itself a subdomain (the www cases in both directions).
func sameSite(host, baseHost string) bool {
	host = strings.ToLower(host)
	baseHost = strings.ToLower(baseHost)
	return host == baseHost ||
		strings.HasSuffix(host, "."+baseHost) ||
		strings.HasSuffix(baseHost, "."+host)
}

func containsAny(s string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(s, k) {
			return true
		}
	}
	return false
}

// normalizeURL makes trailing-slash and fragment variants compare equal.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")
	return strings.ToLower(u.String())
}
