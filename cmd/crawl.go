package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/actuary-jobs-crawler/internal/crawl"
	"github.com/JakeFAU/actuary-jobs-crawler/internal/server"
)

// newCrawlCmd creates the 'crawl' subcommand, which performs one crawl run.
func newCrawlCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Runs one crawl of the job board",
		Long: `Visits the site root, walks the listing pages up to crawler.max_pages
and stores every extracted posting. SIGINT or SIGTERM stops the crawl after
the current step; resources are still released and the run is recorded.`,
		RunE: runCrawlCommand,
	}
}

func runCrawlCommand(cmd *cobra.Command, _ []string) error {
	e, err := resolveEnv(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := server.Build(ctx, e.cfg, e.logger)
	if err != nil {
		return fmt.Errorf("build crawl: %w", err)
	}

	res, err := app.Run(ctx)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled) && res.StopReason == crawl.StopCanceled:
		e.logger.Warn("crawl interrupted", zap.String("run_id", res.RunID))
		return nil
	default:
		return fmt.Errorf("run crawl: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %s (%s) pages=%d inserted=%d duplicates=%d failed=%d skipped=%d\n",
		res.RunID, res.FinalState, res.StopReason, res.Pages, res.Inserted, res.Duplicates, res.Failed, res.Skipped)
	return nil
}
