package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/swarmleads/leadengine/internal/lead"
)

func newEnqueueCmd() *cobra.Command {
	var (
		ownerID    string
		query      string
		maxResults int
		metered    bool
	)

	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Submit a scrape job for the poller to pick up.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newAppFromCmd(cmd)
			if err != nil {
				return err
			}
			ctx := cmd.Context()

			job, err := lead.NewScrapeJob(ownerID, query, maxResults)
			if err != nil {
				return err
			}

			if err := a.Credits.EnsureAccount(ctx, ownerID, metered); err != nil {
				return fmt.Errorf("ensure credit account: %w", err)
			}
			if err := a.Jobs.Create(ctx, job); err != nil {
				return fmt.Errorf("create job: %w", err)
			}

			a.Logger.Info("job enqueued",
				zap.String("job_id", job.ID.String()),
				zap.String("owner_id", ownerID),
				zap.String("query", query),
				zap.Int("max_results", maxResults),
			)
			fmt.Fprintln(cmd.OutOrStdout(), job.ID.String())
			return nil
		},
	}

	cmd.Flags().StringVar(&ownerID, "owner", "", "tenant that owns the job (required)")
	cmd.Flags().StringVar(&query, "query", "", "map search query, e.g. \"dentists in tbilisi\" (required)")
	cmd.Flags().IntVar(&maxResults, "max-results", 20, "maximum leads to accept")
	cmd.Flags().BoolVar(&metered, "metered", true, "debit the tenant per accepted lead")
	_ = cmd.MarkFlagRequired("owner")
	_ = cmd.MarkFlagRequired("query")

	return cmd
}
