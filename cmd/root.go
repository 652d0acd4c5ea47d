// Package cmd defines and implements the CLI commands for the agora executable.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agoralabs/agora-crawler/internal/clock"
	"github.com/agoralabs/agora-crawler/internal/config"
	"github.com/agoralabs/agora-crawler/internal/engine"
	"github.com/agoralabs/agora-crawler/internal/fetch"
	"github.com/agoralabs/agora-crawler/internal/logging"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "agora",
		Short: "A depth-bounded, domain-scoped recursive web crawler.",
		Long: `agora crawls a website starting from a seed URL, following in-domain
links breadth-first up to a configured depth and page budget while honoring
robots.txt. It produces a single JSON report with the extracted text of every
page it visited.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is built-in defaults plus AGORA_* env)")

	cmd.AddCommand(newCrawlCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func buildLogger(cfg config.Config) (*zap.Logger, error) {
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	return logger, nil
}

func buildEngine(cfg config.Config, logger *zap.Logger) (*engine.Engine, error) {
	fetchCfg := fetch.HTTPConfig{
		UserAgent:    cfg.Crawler.UserAgent,
		Timeout:      cfg.RequestTimeout(),
		MaxRedirects: cfg.HTTP.MaxRedirects,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
		Concurrency:  cfg.Crawler.Workers,
	}

	var fetcher fetch.Fetcher
	switch cfg.Crawler.Fetcher {
	case "colly":
		cf, err := fetch.NewCollyFetcher(fetchCfg, logger)
		if err != nil {
			return nil, fmt.Errorf("init colly fetcher: %w", err)
		}
		fetcher = cf
	default:
		fetcher = fetch.NewHTTPFetcher(fetchCfg, logger)
	}

	eng := engine.New(engine.Config{
		UserAgent:      cfg.Crawler.UserAgent,
		Workers:        cfg.Crawler.Workers,
		RequestTimeout: cfg.RequestTimeout(),
		MaxRetries:     cfg.HTTP.MaxRetries,
		BackoffInitial: cfg.BackoffInitial(),
		BackoffMax:     cfg.BackoffMax(),
		DefaultDelay:   cfg.DefaultDelay(),
	}, fetcher, clock.New(), logger)
	return eng, nil
}
