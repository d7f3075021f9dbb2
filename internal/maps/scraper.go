// Package maps scrapes business listings from map search results with a
// rendered browser page.
package maps

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/lead"
)

// UnknownName marks listings whose title could not be read. Such results
// still count toward the requested total.
const UnknownName = "Unknown Name"

const (
	searchURLFormat = "https://www.google.com/maps/search/%s"
	feedSelector    = `div[role="feed"]`
	titleSelector   = "h1.DUwDvf"

	// unchangedScrollLimit stops the scroll loop once the result count has
	// not grown for this many consecutive attempts.
	unchangedScrollLimit = 3
)

// Page is the rendered-browser seam the scraper drives.
type Page interface {
	Navigate(ctx context.Context, url string) error
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error
	Evaluate(ctx context.Context, expression string, res any) error
	Sleep(ctx context.Context, d time.Duration) error
}

// Config tunes the scroll loop and waits.
type Config struct {
	ScrollDelay  time.Duration
	MaxScrolls   int
	FeedTimeout  time.Duration
	TitleTimeout time.Duration
}

// Scraper walks a map search feed and reads listing details.
type Scraper struct {
	cfg    Config
	logger *zap.Logger
}

// NewScraper builds a Scraper with defaults filled in.
func NewScraper(cfg Config, logger *zap.Logger) *Scraper {
	if cfg.ScrollDelay <= 0 {
		cfg.ScrollDelay = 1200 * time.Millisecond
	}
	if cfg.MaxScrolls <= 0 {
		cfg.MaxScrolls = 30
	}
	if cfg.FeedTimeout <= 0 {
		cfg.FeedTimeout = 60 * time.Second
	}
	if cfg.TitleTimeout <= 0 {
		cfg.TitleTimeout = 15 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scraper{cfg: cfg, logger: logger}
}

// Search opens the results feed for the query.
func (s *Scraper) Search(ctx context.Context, page Page, query string) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("maps: query is empty")
	}
	target := fmt.Sprintf(searchURLFormat, url.PathEscape(query))
	if err := page.Navigate(ctx, target); err != nil {
		return err
	}
	if err := page.WaitVisible(ctx, feedSelector, s.cfg.FeedTimeout); err != nil {
		return fmt.Errorf("maps: results feed never appeared: %w", err)
	}
	return nil
}

const collectLinksJS = `Array.from(
	document.querySelectorAll('div[role="feed"] a[href*="/maps/place/"]')
).map(a => a.href)`

const scrollFeedJS = `(() => {
	const feed = document.querySelector('div[role="feed"]');
	if (feed) { feed.scrollTop = feed.scrollHeight; }
})()`

// CollectResultLinks scrolls the feed until maxResults links are visible,
// the feed stops growing, or the scroll budget runs out. The returned slice
// is deduplicated in feed order and capped at maxResults.
func (s *Scraper) CollectResultLinks(ctx context.Context, page Page, maxResults int) ([]string, error) {
	if maxResults <= 0 {
		return nil, fmt.Errorf("maps: max results must be positive")
	}

	var links []string
	unchanged := 0
	for attempt := 0; attempt < s.cfg.MaxScrolls; attempt++ {
		var raw []string
		if err := page.Evaluate(ctx, collectLinksJS, &raw); err != nil {
			return nil, err
		}
		links = dedupeLinks(raw)
		if len(links) >= maxResults {
			break
		}

		before := len(links)
		if err := page.Evaluate(ctx, scrollFeedJS, nil); err != nil {
			return nil, err
		}
		if err := page.Sleep(ctx, s.cfg.ScrollDelay); err != nil {
			return nil, err
		}

		if err := page.Evaluate(ctx, collectLinksJS, &raw); err != nil {
			return nil, err
		}
		links = dedupeLinks(raw)
		if len(links) == before {
			unchanged++
			if unchanged >= unchangedScrollLimit {
				s.logger.Debug("feed stopped growing",
					zap.Int("links", len(links)), zap.Int("attempts", attempt+1))
				break
			}
		} else {
			unchanged = 0
		}
	}

	if len(links) > maxResults {
		links = links[:maxResults]
	}
	return links, nil
}

// detailsJS reads the listing panel. Missing fields come back empty.
const detailsJS = `(() => {
	const text = sel => {
		const el = document.querySelector(sel);
		return el ? el.textContent.trim() : '';
	};
	const aria = prefix => {
		const el = document.querySelector('button[aria-label^="' + prefix + '"]');
		if (!el) { return ''; }
		return el.getAttribute('aria-label').slice(prefix.length).trim();
	};
	const site = document.querySelector('a[data-item-id="authority"]');
	return {
		name: text('h1.DUwDvf') || text('h1'),
		phone: aria('Phone: '),
		address: aria('Address: '),
		website: site ? site.href : ''
	};
})()`

type listingDetails struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Website string `json:"website"`
}

// ExtractDetails opens a listing URL and reads its business fields into a
// lead. A listing with no readable title gets the UnknownName sentinel
// rather than an error.
func (s *Scraper) ExtractDetails(
	ctx context.Context,
	page Page,
	ownerID string,
	jobID uuid.UUID,
	listingURL string,
) (lead.Lead, error) {
	if err := page.Navigate(ctx, listingURL); err != nil {
		return lead.Lead{}, err
	}
	if err := page.WaitVisible(ctx, titleSelector, s.cfg.TitleTimeout); err != nil {
		// The redesigned panel sometimes drops the class; the fallback h1
		// read below still works, so a missing title selector is not fatal.
		s.logger.Debug("title selector timed out", zap.String("url", listingURL))
	}

	var details listingDetails
	if err := page.Evaluate(ctx, detailsJS, &details); err != nil {
		return lead.Lead{}, err
	}

	name := strings.TrimSpace(details.Name)
	if name == "" {
		name = UnknownName
	}

	l, err := lead.NewLead(ownerID, jobID, name)
	if err != nil {
		return lead.Lead{}, err
	}
	l.Phone = strings.TrimSpace(details.Phone)
	l.Address = strings.TrimSpace(details.Address)
	l.Website = strings.TrimSpace(details.Website)
	return l, nil
}

func dedupeLinks(raw []string) []string {
	seen := make(map[string]bool, len(raw))
	out := make([]string, 0, len(raw))
	for _, link := range raw {
		if link == "" || seen[link] {
			continue
		}
		seen[link] = true
		out = append(out, link)
	}
	return out
}
