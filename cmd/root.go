// Package cmd wires the command-line interface: job submission, the HTTP
// server, the job poller, and the enrichment worker.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/swarmleads/leadengine/internal/app"
)

var cfgFile string

type appKeyType struct{}

var appKey appKeyType

// newAppFromCmd retrieves the container injected by PersistentPreRunE.
func newAppFromCmd(cmd *cobra.Command) (*app.App, error) {
	a, ok := cmd.Context().Value(appKey).(*app.App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application container not initialized")
	}
	return a, nil
}

// newApp is a variable so tests can substitute a factory.
var newApp = func(ctx context.Context, cfgPath string) (*app.App, error) {
	return app.New(ctx, cfgPath)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leadengine",
		Short: "Credit-metered business lead scraping engine.",
		Long: `leadengine discovers businesses on map search, crawls their websites
for contact emails, verifies deliverability over DNS, and meters every
accepted lead against the tenant's credit balance.`,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(*app.App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")

	cmd.AddCommand(newEnqueueCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newPollCmd())
	cmd.AddCommand(newWorkCmd())

	return cmd
}

// Execute is the CLI entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
