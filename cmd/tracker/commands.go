package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vitos/coin_listing_tracker/internal/domain"
	"github.com/vitos/coin_listing_tracker/internal/export"
	"github.com/vitos/coin_listing_tracker/internal/infrastructure/storage"
	"github.com/vitos/coin_listing_tracker/internal/usecase"
	"github.com/vitos/coin_listing_tracker/internal/web"
)

const shutdownTimeout = 10 * time.Second

// --- Scrape Command ---

var scrapeCmd = &cobra.Command{
	Use:   "scrape",
	Short: "Run one ingestion pass and store it",
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		if flags.Changed("pages") {
			cfg.Scrape.Pages, _ = flags.GetInt("pages")
		}
		if flags.Changed("mode") {
			cfg.Scrape.Mode, _ = flags.GetString("mode")
		}
		if flags.Changed("batch-size") {
			cfg.Scrape.BatchSize, _ = flags.GetInt("batch-size")
		}
		if flags.Changed("pause") {
			pause, _ := flags.GetDuration("pause")
			cfg.Scrape.Pause = &pause
		}
		if flags.Changed("csv") {
			cfg.Export.CSVPath, _ = flags.GetString("csv")
			if cfg.Export.CSVPath == "auto" {
				cfg.Export.CSVPath = export.GenerateFilename(time.Now())
			}
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repo, err := storage.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		ingest, err := newIngestService(ctx, cfg, repo, log)
		if err != nil {
			return err
		}

		result, err := ingest.RunOnce(ctx, scrapeOptions(cfg))
		if err != nil {
			return err
		}

		fmt.Printf("Stored %d coins from %d pages in %s (run %s)\n",
			len(result.Observations), result.Pages, result.Duration.Round(time.Millisecond), result.RunID)
		for _, f := range result.Failures {
			fmt.Printf("  page %d failed: %v\n", f.Page, f.Err)
		}
		if cfg.Export.CSVPath != "" {
			fmt.Printf("CSV: %s\n", cfg.Export.CSVPath)
		}

		if show, _ := flags.GetBool("print"); show {
			printListing(os.Stdout, result.Observations)
		}
		return nil
	},
}

func init() {
	scrapeCmd.Flags().Int("pages", 10, "number of listing pages to fetch")
	scrapeCmd.Flags().String("mode", "fast", "scrape mode (sequential, fast, safe)")
	scrapeCmd.Flags().Int("batch-size", 0, "pages fetched concurrently (0 = mode preset)")
	scrapeCmd.Flags().Duration("pause", 0, "pause between batches (default: mode preset, 0 disables)")
	scrapeCmd.Flags().String("csv", "", "also write the pass to this CSV file (\"auto\" for a timestamped name)")
	scrapeCmd.Flags().Bool("print", false, "print the ranked listing")
}

// --- Serve Command ---

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the read API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repo, err := storage.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		srv := web.NewServer(cfg.Server.Port, cfg.Server.CORSOrigins, repo, nil, log.Named("web"))
		return serveUntilDone(ctx, srv)
	},
}

func init() {
	serveCmd.Flags().Int("port", 3000, "HTTP port")
}

// --- Run Command ---

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Ingest on a schedule and serve the read API with a live feed",
	RunE: func(cmd *cobra.Command, args []string) error {
		if cmd.Flags().Changed("port") {
			cfg.Server.Port, _ = cmd.Flags().GetInt("port")
		}
		if cmd.Flags().Changed("interval") {
			cfg.Schedule.Interval, _ = cmd.Flags().GetDuration("interval")
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		repo, err := storage.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		ingest, err := newIngestService(ctx, cfg, repo, log)
		if err != nil {
			return err
		}

		hub := web.NewHub(log.Named("ws"))
		go hub.Run(ctx)
		ingest.SetPublisher(hub)

		scheduler := usecase.NewScheduler(ingest, scrapeOptions(cfg), cfg.Schedule.Interval, log.Named("scheduler"))
		if err := scheduler.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := scheduler.Stop(stopCtx); err != nil {
				log.Error("Scheduler did not stop in time", zap.Error(err))
			}
		}()

		srv := web.NewServer(cfg.Server.Port, cfg.Server.CORSOrigins, repo, hub, log.Named("web"))
		return serveUntilDone(ctx, srv)
	},
}

func init() {
	runCmd.Flags().Int("port", 3000, "HTTP port")
	runCmd.Flags().Duration("interval", 15*time.Minute, "time between passes")
}

func serveUntilDone(ctx context.Context, srv *web.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return nil
}

// --- Stats Command ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show snapshot count and the latest pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		repo, err := storage.Open(ctx, cfg.Store)
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		defer repo.Close()

		n, err := repo.Count(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Snapshots: %d\n", n)

		top, err := repo.LatestRanked(ctx, 500)
		if err != nil {
			return err
		}
		if len(top) == 0 {
			fmt.Println("Latest pass: none")
			return nil
		}
		fmt.Printf("Latest pass: %s (%d ranked coins)\n", top[0].ObservedAt.Format(time.RFC3339), len(top))
		return nil
	},
}

// --- Config Command ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out, err := cfg.YAML()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(out)
		return err
	},
}

func printListing(w io.Writer, rows []domain.CoinObservation) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "Rank\tName\tSymbol\tPrice\tMktCap\t24h%\t")
	for _, r := range rows {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t\n",
			optInt(r.Rank),
			r.Name,
			r.Symbol,
			optFloat(r.PriceUSD, 6),
			optFloat(r.MarketCapUSD, 0),
			optFloat(r.Change24hPct, 2),
		)
	}
	tw.Flush()
}

func optInt(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func optFloat(v *float64, prec int) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatFloat(*v, 'f', prec, 64)
}
