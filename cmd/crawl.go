package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agoralabs/agora-crawler/internal/engine"
)

type crawlFlags struct {
	maxDepth          int
	maxPages          int
	includeSubdomains bool
	includePatterns   []string
	excludePatterns   []string
	crawlDelay        time.Duration
	retainHTML        bool
	output            string
}

// newCrawlCmd creates the 'crawl' subcommand, which runs a single crawl
// job in the foreground and prints the JSON report.
func newCrawlCmd() *cobra.Command {
	var flags crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl <seed-url>",
		Short: "Crawl a site once and print the JSON report",
		Long: `Runs one crawl job to completion. The seed URL's domain bounds the
crawl; links leaving it are never followed. The report is written to stdout
unless --output names a file.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCrawl(cmd, args[0], flags)
		},
	}

	cmd.Flags().IntVar(&flags.maxDepth, "max-depth", -1, "maximum link depth from the seed (default from config)")
	cmd.Flags().IntVar(&flags.maxPages, "max-pages", -1, "maximum pages to fetch, 0 for unlimited (default from config)")
	cmd.Flags().BoolVar(&flags.includeSubdomains, "include-subdomains", false, "treat subdomains of the seed host as in scope")
	cmd.Flags().StringSliceVar(&flags.includePatterns, "include-path", nil, "path patterns to include (glob); repeatable")
	cmd.Flags().StringSliceVar(&flags.excludePatterns, "exclude-path", nil, "path patterns to exclude (glob); repeatable")
	cmd.Flags().DurationVar(&flags.crawlDelay, "crawl-delay", 0, "per-origin delay override, e.g. 500ms (0 defers to robots.txt)")
	cmd.Flags().BoolVar(&flags.retainHTML, "retain-html", false, "keep raw HTML snapshots in the report")
	cmd.Flags().StringVarP(&flags.output, "output", "o", "", "write the report to this file instead of stdout")

	return cmd
}

func runCrawl(cmd *cobra.Command, seed string, flags crawlFlags) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger, err := buildLogger(cfg)
	if err != nil {
		return err
	}
	defer func() {
		_ = logger.Sync()
	}()

	eng, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}

	job := engine.Job{
		SeedURL:           seed,
		MaxDepth:          cfg.Crawler.MaxDepthDefault,
		MaxPages:          cfg.Crawler.MaxPagesDefault,
		IncludeSubdomains: flags.includeSubdomains,
		IncludePatterns:   flags.includePatterns,
		ExcludePatterns:   flags.excludePatterns,
		CrawlDelay:        flags.crawlDelay,
		RetainHTML:        flags.retainHTML,
	}
	if flags.maxDepth >= 0 {
		job.MaxDepth = flags.maxDepth
	}
	if flags.maxPages >= 0 {
		job.MaxPages = flags.maxPages
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := eng.Run(ctx, job)
	if err != nil {
		if errors.Is(err, engine.ErrInvalidSeed) {
			return fmt.Errorf("seed %q is not a valid absolute http(s) URL", seed)
		}
		return fmt.Errorf("run crawl: %w", err)
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}
	out = append(out, '\n')

	if flags.output != "" {
		if err := os.WriteFile(flags.output, out, 0o644); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		logger.Info("report written",
			zap.String("path", flags.output),
			zap.Int("total_pages", report.TotalPages),
			zap.String("status", string(report.Status)),
		)
		return nil
	}

	if _, err := os.Stdout.Write(out); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
