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
	"golang.org/x/sync/errgroup"

	"github.com/swarmleads/leadengine/internal/browser"
	"github.com/swarmleads/leadengine/internal/worker"
)

func newWorkCmd() *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "work",
		Short: "Run enrichment workers that drain the pending lead queue.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newAppFromCmd(cmd)
			if err != nil {
				return err
			}
			if count <= 0 {
				return fmt.Errorf("--workers must be > 0")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			// Fast mode crawls over plain HTTP and needs no browser.
			var (
				browsers *browser.Manager
				rotator  worker.Rotator
			)
			if !a.Cfg.Crawl.FastMode {
				browsers, err = browser.NewManager(browser.Config{
					Headless:          a.Cfg.Browser.Headless,
					NavigationTimeout: a.Cfg.NavTimeout(),
					LeadsPerSession:   a.Cfg.Worker.LeadsPerSession,
				}, a.Logger)
				if err != nil {
					return fmt.Errorf("start browser session: %w", err)
				}
				defer browsers.Close()
				rotator = browsers
			}

			enricher, err := buildEnricher(a, browsers)
			if err != nil {
				return err
			}

			cfg := worker.Config{
				PollInterval: time.Duration(a.Cfg.Worker.PollIntervalSeconds) * time.Second,
				StallTimeout: time.Duration(a.Cfg.Worker.StallTimeoutMinutes) * time.Minute,
			}

			group, ctx := errgroup.WithContext(ctx)
			for i := 0; i < count; i++ {
				w := worker.New(cfg, a.Queue, a.Leads, a.Contacts, enricher, rotator, a.Events, a.Logger)
				a.Logger.Info("worker started", zap.String("worker_id", w.ID()))
				group.Go(func() error {
					return w.Run(ctx)
				})
			}

			if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&count, "workers", 1, "number of concurrent workers")

	return cmd
}
