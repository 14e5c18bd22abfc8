package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/vitos/coin_listing_tracker/internal/config"
	"github.com/vitos/coin_listing_tracker/internal/domain"
	"github.com/vitos/coin_listing_tracker/internal/export"
	"github.com/vitos/coin_listing_tracker/internal/infrastructure/extractor"
	"github.com/vitos/coin_listing_tracker/internal/infrastructure/fetcher"
	"github.com/vitos/coin_listing_tracker/internal/usecase"
)

func scrapeOptions(c *config.Config) usecase.ScrapeOptions {
	return usecase.ScrapeOptions{
		Pages:     c.Scrape.Pages,
		Mode:      usecase.ScrapeMode(c.Scrape.Mode),
		BatchSize: c.Scrape.BatchSize,
		Pause:     c.Scrape.Pause,
	}
}

func newScrapeService(c *config.Config, log *zap.Logger) (*usecase.ScrapeService, error) {
	f, err := fetcher.NewHTTPFetcher(fetcher.Options{
		BaseURL:           c.Scrape.BaseURL,
		UserAgent:         c.Scrape.UserAgent,
		Timeout:           c.Scrape.Timeout,
		MaxRedirects:      c.Scrape.MaxRedirects,
		RequestsPerSecond: c.Scrape.RequestsPerSecond,
		Burst:             c.Scrape.Burst,
	})
	if err != nil {
		return nil, fmt.Errorf("init fetcher: %w", err)
	}
	return usecase.NewScrapeService(f, extractor.NewNextDataExtractor(), log.Named("scrape")), nil
}

// newIngestService wires the pass pipeline with every configured export sink.
func newIngestService(ctx context.Context, c *config.Config, repo domain.SnapshotRepository, log *zap.Logger) (*usecase.IngestService, error) {
	scraper, err := newScrapeService(c, log)
	if err != nil {
		return nil, err
	}
	ingest := usecase.NewIngestService(scraper, repo, log.Named("ingest"))

	if c.Export.CSVPath != "" {
		ingest.AddSink(export.NewCSVSink(c.Export.CSVPath, c.Export.CSVAppend))
	}

	var uploader export.ObjectUploader
	if c.Export.S3.Enabled {
		u, err := export.NewS3Uploader(ctx, c.Export.S3)
		if err != nil {
			return nil, fmt.Errorf("init s3: %w", err)
		}
		uploader = u
	}
	if c.Export.ParquetDir != "" || uploader != nil {
		ingest.AddSink(export.NewParquetSink(
			c.Export.ParquetDir,
			c.Export.ParquetCompression,
			uploader,
			c.Export.S3.Prefix,
			log.Named("parquet"),
		))
	}
	return ingest, nil
}
