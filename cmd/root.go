// Package cmd defines and implements the CLI commands for the siteindexer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/site-indexer/internal/app"
	"github.com/JakeFAU/site-indexer/internal/config"
	"github.com/JakeFAU/site-indexer/internal/logging"
	"github.com/JakeFAU/site-indexer/internal/orchestrator"
	"github.com/JakeFAU/site-indexer/internal/quickindex"
	"github.com/JakeFAU/site-indexer/internal/sites"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// JobRunner runs one crawl job to completion.
type JobRunner interface {
	Run(ctx context.Context, job orchestrator.Job) error
}

// PageIndexer indexes a single page.
type PageIndexer interface {
	QuickIndex(ctx context.Context, pageURL string, useJavaScript bool) quickindex.Result
}

// SiteAdmin reads crawl status and clears stored context.
type SiteAdmin interface {
	Status(ctx context.Context, seedURL string) (sites.StatusView, error)
	Clear(ctx context.Context) (int, error)
}

// App defines the application interface that commands will use.
// This allows us to inject a fake app during tests.
type App interface {
	Close()
	Logger() *zap.Logger
	Serve(ctx context.Context) error
	Jobs() JobRunner
	Indexer() PageIndexer
	Admin() SiteAdmin
}

type builtApp struct {
	*app.App
}

func (b builtApp) Jobs() JobRunner      { return b.Orchestrator() }
func (b builtApp) Indexer() PageIndexer { return b.QuickIndex() }
func (b builtApp) Admin() SiteAdmin     { return b.Sites() }

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return builtApp{a}, nil
}

// newRootCmd creates and configures the root command.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "siteindexer",
		Short: "Crawl websites and answer questions about them.",
		Long: `siteindexer crawls a website, extracts readable text from every page,
embeds it into a vector store and serves a chat API that answers questions
grounded in the indexed content.`,
		SilenceUsage: true,

		// Build the application once config is known, before the subcommand runs.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Config{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close()
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML, TOML or JSON)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newQuickIndexCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newClearCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
