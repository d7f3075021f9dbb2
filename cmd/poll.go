package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/browser"
	"github.com/swarmleads/leadengine/internal/maps"
	"github.com/swarmleads/leadengine/internal/orchestrator"
)

func newPollCmd() *cobra.Command {
	var inline bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Run the job poller: claim pending jobs, discover leads on the map, meter credits.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newAppFromCmd(cmd)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			browsers, err := browser.NewManager(browser.Config{
				Headless:          a.Cfg.Browser.Headless,
				NavigationTimeout: a.Cfg.NavTimeout(),
				LeadsPerSession:   a.Cfg.Worker.LeadsPerSession,
			}, a.Logger)
			if err != nil {
				return fmt.Errorf("start browser session: %w", err)
			}
			defer browsers.Close()

			scraper := maps.NewScraper(maps.Config{
				ScrollDelay:  time.Duration(a.Cfg.Maps.ScrollDelayMs) * time.Millisecond,
				MaxScrolls:   a.Cfg.Maps.MaxScrolls,
				FeedTimeout:  time.Duration(a.Cfg.Maps.FeedTimeoutSec) * time.Second,
				TitleTimeout: time.Duration(a.Cfg.Maps.TitleTimeoutSec) * time.Second,
			}, a.Logger)
			source := orchestrator.NewMapsSource(browsers, scraper, a.Logger)

			var enricher orchestrator.Enricher
			if inline {
				e, err := buildEnricher(a, browsers)
				if err != nil {
					return err
				}
				enricher = e
			}

			poller := orchestrator.NewPoller(orchestrator.Config{
				PollInterval:     a.Cfg.PollInterval(),
				FailureThreshold: a.Cfg.Poller.FailureThreshold,
				Cooldown:         a.Cfg.Cooldown(),
				StallTimeout:     time.Duration(a.Cfg.Poller.StallTimeoutMinutes) * time.Minute,
			}, a.Jobs, a.Leads, a.Queue, a.Credits, a.Contacts, source, enricher, a.Events, a.Logger)

			a.Logger.Info("poller started", zap.Bool("inline_enrichment", inline))
			if err := poller.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&inline, "inline", false, "enrich discovered leads inline instead of leaving them for workers")

	return cmd
}
