package cmd

import (
	"context"
	"fmt"

	"github.com/swarmleads/leadengine/internal/app"
	"github.com/swarmleads/leadengine/internal/browser"
	"github.com/swarmleads/leadengine/internal/enrich"
	"github.com/swarmleads/leadengine/internal/extract"
	"github.com/swarmleads/leadengine/internal/sitecrawl"
	"github.com/swarmleads/leadengine/internal/snapshot"
	"github.com/swarmleads/leadengine/internal/verify"
)

// buildEnricher assembles the crawl-extract-verify chain from config.
// browsers must be non-nil unless crawl.fast_mode is enabled.
func buildEnricher(a *app.App, browsers *browser.Manager) (*enrich.Enricher, error) {
	var model extract.ModelExtractor
	if a.Cfg.Extract.AllowModel {
		client, err := extract.NewModelClient(extract.ModelClientConfig{
			Endpoint: a.Cfg.Extract.ModelEndpoint,
			APIKey:   a.Cfg.Extract.ModelAPIKey,
			Model:    a.Cfg.Extract.Model,
		})
		if err != nil {
			return nil, fmt.Errorf("init model extractor: %w", err)
		}
		model = client
	}

	pipeline := extract.NewPipeline(model, a.Logger)
	crawler := sitecrawl.NewCrawler(sitecrawl.Config{MaxPages: a.Cfg.Crawl.MaxPages}, pipeline, a.Logger)
	verifier := verify.NewVerifier(a.Cfg.Verify.Resolvers, a.Logger)

	var factory enrich.FetcherFactory
	if a.Cfg.Crawl.FastMode {
		factory = func(context.Context) (sitecrawl.Fetcher, func(), error) {
			return &sitecrawl.CollyFetcher{}, func() {}, nil
		}
	} else {
		if browsers == nil {
			return nil, fmt.Errorf("rendered crawling requires a browser session")
		}
		factory = func(context.Context) (sitecrawl.Fetcher, func(), error) {
			page, err := browsers.NewPage()
			if err != nil {
				return nil, nil, err
			}
			return &sitecrawl.BrowserFetcher{Page: page, Pause: page.SimulateHuman}, page.Close, nil
		}
	}

	e := enrich.New(crawler, factory, verifier, a.Cfg.Extract.AllowModel, a.Logger)
	if _, noop := a.Snapshots.(snapshot.NoOpArchive); !noop && a.Snapshots != nil {
		e = e.WithSnapshots(a.Snapshots, a.Cfg.Snapshot.Prefix)
	}
	return e, nil
}
