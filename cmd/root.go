// Package cmd defines the pricecrawler CLI.
//
// Work flows through two durable lanes. Discovery cycles walk the search
// results for every keyword and enqueue one fetch job per product URL. Fetch
// workers crawl detail pages, upsert product documents and enqueue a review
// job. Review workers compare remote review totals with the stored counts
// and page through only the gap. Failed jobs stay in the lane's failed
// registry until an operator requeues them.
package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pricecompare-crawler/internal/app"
	"github.com/JakeFAU/pricecompare-crawler/internal/config"
	"github.com/JakeFAU/pricecompare-crawler/internal/crawler"
	"github.com/JakeFAU/pricecompare-crawler/internal/discovery"
	"github.com/JakeFAU/pricecompare-crawler/internal/dispatcher"
	"github.com/JakeFAU/pricecompare-crawler/internal/logging"
	"github.com/JakeFAU/pricecompare-crawler/internal/schedule"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the surface commands use. Tests inject a fake through newApp.
type App interface {
	Logger() *zap.Logger
	Config() config.Config
	Lanes() []crawler.Lane
	Lane(name string) (crawler.Lane, error)
	DiscoveryRunner() *discovery.Runner
	Scheduler() *schedule.Scheduler
	Dispatcher() *dispatcher.Dispatcher
	OpsServer() *http.Server
	Close(ctx context.Context)
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, configPath string) (App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pricecrawler",
		Short: "Crawls price-comparison listings, product details and reviews.",
		Long: `pricecrawler discovers products by keyword, crawls their detail pages into
product documents, and keeps each product's stored reviews in step with the
site's review totals. Work moves through durable fetch and review lanes.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				appInstance.Close(context.WithoutCancel(cmd.Context()))
				_ = appInstance.Logger().Sync()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); env vars use the PRICECRAWLER_ prefix")

	cmd.AddCommand(
		newDiscoverCmd(),
		newScheduleCmd(),
		newWorkCmd(),
		newRequeueCmd(),
		newLanesCmd(),
	)
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

// Execute is the main entry point.
func Execute() {
	ctx, stop := signalContext()
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
