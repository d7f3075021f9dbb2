package sitecrawl

import (
	"context"
	"fmt"
	"time"

	"github.com/gocolly/colly/v2"
)

// RenderedPage is the browser seam used when sites need JavaScript to show
// their contact details.
type RenderedPage interface {
	Navigate(ctx context.Context, url string) error
	Content(ctx context.Context) (string, error)
}

// BrowserFetcher fetches pages through a rendered browser tab. Pause, when
// set, runs between navigations to keep request pacing human-shaped.
type BrowserFetcher struct {
	Page  RenderedPage
	Pause func(ctx context.Context)
}

// FetchPage navigates the tab and returns the rendered markup.
func (f *BrowserFetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	if f.Pause != nil {
		f.Pause(ctx)
	}
	if err := f.Page.Navigate(ctx, pageURL); err != nil {
		return "", err
	}
	return f.Page.Content(ctx)
}

// CollyFetcher fetches pages over plain HTTP without rendering. It is the
// fast mode for sites that serve their contact details statically.
type CollyFetcher struct {
	UserAgent string
	Timeout   time.Duration
}

// FetchPage downloads one page body.
func (f *CollyFetcher) FetchPage(ctx context.Context, pageURL string) (string, error) {
	collector := colly.NewCollector(
		colly.UserAgent(f.userAgent()),
		colly.MaxDepth(1),
	)
	collector.SetRequestTimeout(f.timeout())

	var body []byte
	collector.OnResponse(func(r *colly.Response) {
		body = r.Body
	})

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(pageURL)
	}()

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("sitecrawl: fetch %s canceled: %w", pageURL, ctx.Err())
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("sitecrawl: fetch %s: %w", pageURL, err)
		}
	}

	if len(body) == 0 {
		return "", fmt.Errorf("sitecrawl: empty response from %s", pageURL)
	}
	return string(body), nil
}

func (f *CollyFetcher) userAgent() string {
	if f.UserAgent != "" {
		return f.UserAgent
	}
	return "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
}

func (f *CollyFetcher) timeout() time.Duration {
	if f.Timeout > 0 {
		return f.Timeout
	}
	return 20 * time.Second
}
