package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/crawler"
	"github.com/JakeFAU/site-indexer/internal/orchestrator"
)

type crawlFlags struct {
	sessionID     string
	maxDepth      int
	maxPages      int
	delay         time.Duration
	timeout       time.Duration
	useJavaScript bool
}

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl job in the
// foreground and prints the final status.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <url>",
		Short: "Crawl and index a site in the foreground",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawlCommand(cmd, args[0], flags)
		},
	}
	cmd.Flags().StringVar(&flags.sessionID, "session", "", "session id (derived from the url when empty)")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", crawler.DefaultMaxDepth, "maximum link depth from the seed")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", crawler.DefaultMaxPages, "maximum pages to crawl")
	cmd.Flags().DurationVar(&flags.delay, "delay", 0, "minimum interval between fetch tasks (default depends on --js)")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "per-page fetch timeout (default depends on --js)")
	cmd.Flags().BoolVar(&flags.useJavaScript, "js", false, "render pages in headless Chrome")
	return cmd
}

func runCrawlCommand(cmd *cobra.Command, seed string, flags crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := crawler.ParseSeed(seed); err != nil {
		return err
	}
	sessionID := flags.sessionID
	if sessionID == "" {
		sessionID = crawler.SessionID(seed)
	}
	job := orchestrator.Job{
		SeedURL:   seed,
		SessionID: sessionID,
		Options: crawler.CrawlOptions{
			MaxDepth:       flags.maxDepth,
			MaxPages:       flags.maxPages,
			Delay:          flags.delay,
			Timeout:        flags.timeout,
			SameDomainOnly: true,
			UseJavaScript:  flags.useJavaScript,
		},
	}
	if err := appInstance.Jobs().Run(cmd.Context(), job); err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	view, err := appInstance.Admin().Status(cmd.Context(), seed)
	if err != nil {
		return fmt.Errorf("read status: %w", err)
	}
	appInstance.Logger().Info("crawl command finished",
		zap.String("seed", seed),
		zap.Int("total_pages", view.TotalPages),
		zap.Int("new_pages_indexed", view.NewPagesIndexed),
	)
	return printJSON(cmd, view)
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}
