package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/contentcollector/collector/internal/clock/system"
	"github.com/contentcollector/collector/internal/config"
	"github.com/contentcollector/collector/internal/crawler"
	"github.com/contentcollector/collector/internal/engine"
	"github.com/contentcollector/collector/internal/fetch"
	"github.com/contentcollector/collector/internal/fetch/detector"
	"github.com/contentcollector/collector/internal/fetch/headless"
	"github.com/contentcollector/collector/internal/id/uuid"
	"github.com/contentcollector/collector/internal/input"
	"github.com/contentcollector/collector/internal/logging"
	"github.com/contentcollector/collector/internal/metrics"
	"github.com/contentcollector/collector/internal/parser"
	"github.com/contentcollector/collector/internal/ratelimit"
	"github.com/contentcollector/collector/internal/retry"
	"github.com/contentcollector/collector/internal/storage/local"
	"github.com/contentcollector/collector/internal/storage/postgres"
)

type collectFlags struct {
	inputFile   string
	mode        string
	maxDepth    int
	maxPages    int
	crossDomain bool
}

// newCollectCmd creates the 'collect' subcommand, which runs one crawl from a
// CSV of seed URLs to completion.
func newCollectCmd() *cobra.Command {
	flags := &collectFlags{}

	cmd := &cobra.Command{
		Use:   "collect",
		Short: "Crawl a batch of seed URLs",
		Long: `Reads seed URLs from a CSV file, crawls them and their outbound links
up to the configured depth, and records pages and artifacts.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCollect(cmd.Context(), flags)
		},
	}

	cmd.Flags().StringVarP(&flags.inputFile, "input", "i", "", "CSV file of seed URLs (required)")
	cmd.Flags().StringVar(&flags.mode, "mode", "", "performance mode: conservative, balanced, aggressive, maximum")
	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", -1, "override configured link-follow depth")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", -1, "override configured page cap")
	cmd.Flags().BoolVar(&flags.crossDomain, "cross-domain", false, "follow links onto other domains")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func runCollect(parent context.Context, flags *collectFlags) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	applyFlagOverrides(&cfg, flags)

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	seeds, err := input.LoadSeeds(flags.inputFile, logger)
	if err != nil {
		return err
	}
	seeds = input.NewSitemapExpander(nil, cfg.Crawl.UserAgent, logger).Expand(ctx, seeds)
	if len(seeds) == 0 {
		return fmt.Errorf("no usable seed URLs in %s", flags.inputFile)
	}

	store, err := postgres.NewPageStore(ctx, postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	artifacts, err := local.New(local.Config{BaseDir: cfg.Storage.ArtifactDir})
	if err != nil {
		return err
	}

	settings := crawler.SettingsForMode(cfg.Mode())
	pool := fetch.NewPool(fetch.Config{
		ClientCount:    settings.ClientCount,
		MaxConnections: settings.Connections,
		Timeout:        settings.RequestTimeout,
		UserAgent:      cfg.Crawl.UserAgent,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
	}, logger)
	defer pool.Close()

	deps := engine.Deps{
		Store:     store,
		Artifacts: artifacts,
		Fetcher:   pool,
		Parser:    parser.New(),
		Clock:     system.New(),
		IDs:       uuid.New(),
		Logger:    logger,
	}
	if cfg.Headless.Enabled {
		browser := headless.New(headless.Config{
			MaxTabs:    cfg.Headless.MaxTabs,
			UserAgent:  cfg.Crawl.UserAgent,
			NavTimeout: cfg.NavTimeout(),
		}, logger)
		defer browser.Close()
		deps.Headless = browser
		deps.Detector = detector.NewHeuristic(detector.WithMinBodyBytes(cfg.Headless.MinBodyBytes))
	}

	eng, err := engine.New(engine.Config{
		Mode:             cfg.Mode(),
		MaxDepth:         cfg.Crawl.MaxDepth,
		MaxPages:         cfg.Crawl.MaxPages,
		AllowCrossDomain: cfg.Crawl.AllowCrossDomain,
		InputFile:        flags.inputFile,
		Retry: retry.Config{
			MaxAttempts:  cfg.HTTP.MaxRetries,
			BaseDelay:    cfg.BackoffInitial(),
			MaxDelay:     cfg.BackoffMax(),
			JitterWindow: cfg.Jitter(),
		},
		RateLimit: ratelimit.Config{Delay: settings.RateDelay},
	}, deps)
	if err != nil {
		return err
	}

	if cfg.Metrics.Enabled {
		startMetricsServer(cfg.Metrics.Port, logger)
	}

	snap, err := eng.Run(ctx, seeds)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run collect: %w", err)
	}

	logger.Info("collect finished",
		zap.Int64("succeeded", snap.Succeeded),
		zap.Int64("failed", snap.Failed),
		zap.Int64("bytes", snap.Bytes),
	)
	return nil
}

func applyFlagOverrides(cfg *config.Config, flags *collectFlags) {
	if flags.mode != "" {
		cfg.Crawl.Mode = flags.mode
	}
	if flags.maxDepth >= 0 {
		cfg.Crawl.MaxDepth = flags.maxDepth
	}
	if flags.maxPages >= 0 {
		cfg.Crawl.MaxPages = flags.maxPages
	}
	if flags.crossDomain {
		cfg.Crawl.AllowCrossDomain = true
	}
}

func startMetricsServer(port int, logger *zap.Logger) {
	metrics.Init()
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
}
