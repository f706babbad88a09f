package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/sites"
)

// Polling defaults for status --wait.
const (
	defaultPollInterval = 5 * time.Second
	defaultPollAttempts = 360
)

func newStatusCmd() *cobra.Command {
	var (
		wait     bool
		interval time.Duration
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "status <url>",
		Short: "Show the crawl status of a site",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if wait && interval <= 0 {
				return fmt.Errorf("--interval must be positive, got %s", interval)
			}
			if wait && attempts <= 0 {
				return fmt.Errorf("--attempts must be positive, got %d", attempts)
			}
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			admin := appInstance.Admin()
			view, err := admin.Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if wait {
				view, err = pollStatus(cmd, appInstance.Logger(), admin, args[0], view, interval, attempts)
				if err != nil {
					return err
				}
			}
			return printJSON(cmd, view)
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", false, "poll until the crawl completes or fails")
	cmd.Flags().DurationVar(&interval, "interval", defaultPollInterval, "poll interval with --wait")
	cmd.Flags().IntVar(&attempts, "attempts", defaultPollAttempts, "maximum polls with --wait")
	return cmd
}

func pollStatus(
	cmd *cobra.Command,
	logger *zap.Logger,
	admin SiteAdmin,
	seed string,
	view sites.StatusView,
	interval time.Duration,
	attempts int,
) (sites.StatusView, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for i := 0; i < attempts; i++ {
		if view.Status.Terminal() {
			return view, nil
		}
		logger.Info("waiting for crawl",
			zap.String("seed", seed),
			zap.String("status", string(view.Status)),
			zap.Int("total_pages", view.TotalPages),
			zap.Int("new_pages_indexed", view.NewPagesIndexed),
		)
		select {
		case <-cmd.Context().Done():
			return view, fmt.Errorf("wait for %s: %w", seed, cmd.Context().Err())
		case <-ticker.C:
		}
		next, err := admin.Status(cmd.Context(), seed)
		if err != nil {
			return view, err
		}
		view = next
	}
	if view.Status.Terminal() {
		return view, nil
	}
	return view, fmt.Errorf("crawl of %s still %s after %d polls", seed, view.Status, attempts)
}
