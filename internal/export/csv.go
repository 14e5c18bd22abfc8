// Package export writes committed passes to files and object storage.
package export

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

var csvHeader = []string{"id", "rank", "name", "symbol", "price_usd", "market_cap_usd", "chg24h_pct", "scraped_at"}

// GenerateFilename returns a timestamped CSV file name.
func GenerateFilename(t time.Time) string {
	return fmt.Sprintf("listing_data_%s.csv", t.UTC().Format("20060102_150405"))
}

// SaveCSV creates or truncates path and writes the header followed by rows.
func SaveCSV(path string, rows []domain.CoinObservation) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	if err := writeCSV(f, rows, true); err != nil {
		return err
	}
	return f.Close()
}

// AppendCSV appends rows to path. The header is written only when the file
// is new or empty.
func AppendCSV(path string, rows []domain.CoinObservation) error {
	withHeader := false
	info, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		withHeader = true
	case err != nil:
		return fmt.Errorf("stat csv: %w", err)
	default:
		withHeader = info.Size() == 0
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open csv: %w", err)
	}
	defer f.Close()

	if err := writeCSV(f, rows, withHeader); err != nil {
		return err
	}
	return f.Close()
}

func writeCSV(w io.Writer, rows []domain.CoinObservation, withHeader bool) error {
	cw := csv.NewWriter(w)
	if withHeader {
		if err := cw.Write(csvHeader); err != nil {
			return fmt.Errorf("write csv header: %w", err)
		}
	}
	for _, r := range rows {
		if err := cw.Write(csvRecord(r)); err != nil {
			return fmt.Errorf("write csv row %d: %w", r.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func csvRecord(r domain.CoinObservation) []string {
	rank := ""
	if r.Rank != nil {
		rank = strconv.Itoa(*r.Rank)
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		rank,
		r.Name,
		r.Symbol,
		formatOptFloat(r.PriceUSD),
		formatOptFloat(r.MarketCapUSD),
		formatOptFloat(r.Change24hPct),
		r.ObservedAt.UTC().Format(time.RFC3339),
	}
}

func formatOptFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

// CSVSink writes every pass to one CSV file, appending or overwriting.
type CSVSink struct {
	path   string
	append bool
}

func NewCSVSink(path string, appendMode bool) *CSVSink {
	return &CSVSink{path: path, append: appendMode}
}

func (s *CSVSink) Name() string { return "csv" }

func (s *CSVSink) WritePass(ctx context.Context, result *domain.ScrapeResult) error {
	if s.append {
		return AppendCSV(s.path, result.Observations)
	}
	return SaveCSV(s.path, result.Observations)
}
