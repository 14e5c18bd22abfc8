package export

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
	"go.uber.org/zap"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

type listingParquetRecord struct {
	RunID        string   `parquet:"name=run_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ObservedAt   int64    `parquet:"name=observed_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	ID           int64    `parquet:"name=id, type=INT64"`
	Rank         *int32   `parquet:"name=rank, type=INT32, repetitiontype=OPTIONAL"`
	Name         string   `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol       string   `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	PriceUSD     *float64 `parquet:"name=price_usd, type=DOUBLE, repetitiontype=OPTIONAL"`
	MarketCapUSD *float64 `parquet:"name=market_cap_usd, type=DOUBLE, repetitiontype=OPTIONAL"`
	Change24hPct *float64 `parquet:"name=chg24h_pct, type=DOUBLE, repetitiontype=OPTIONAL"`
}

// memFile is a write-only in-memory parquet target.
type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

func compressionCodec(name string) parquet.CompressionCodec {
	switch strings.ToLower(name) {
	case "snappy":
		return parquet.CompressionCodec_SNAPPY
	case "gzip":
		return parquet.CompressionCodec_GZIP
	default:
		return parquet.CompressionCodec_UNCOMPRESSED
	}
}

func toParquetRecords(result *domain.ScrapeResult) []listingParquetRecord {
	records := make([]listingParquetRecord, 0, len(result.Observations))
	for _, o := range result.Observations {
		rec := listingParquetRecord{
			RunID:        result.RunID,
			ObservedAt:   o.ObservedAt.UnixMilli(),
			ID:           o.ID,
			Name:         o.Name,
			Symbol:       o.Symbol,
			PriceUSD:     o.PriceUSD,
			MarketCapUSD: o.MarketCapUSD,
			Change24hPct: o.Change24hPct,
		}
		if o.Rank != nil {
			r := int32(*o.Rank)
			rec.Rank = &r
		}
		records = append(records, rec)
	}
	return records
}

func writeParquet(fw source.ParquetFile, result *domain.ScrapeResult, compression string) error {
	pw, err := writer.NewParquetWriter(fw, new(listingParquetRecord), 1)
	if err != nil {
		return fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = compressionCodec(compression)

	for _, rec := range toParquetRecords(result) {
		if err := pw.Write(rec); err != nil {
			pw.WriteStop()
			return fmt.Errorf("write listing record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize listing parquet: %w", err)
	}
	return nil
}

// EncodeParquet renders one pass as a parquet file held in memory.
func EncodeParquet(result *domain.ScrapeResult, compression string) ([]byte, error) {
	mem := newMemFile()
	if err := writeParquet(mem, result, compression); err != nil {
		return nil, err
	}
	return mem.Bytes(), nil
}

// ObjectUploader stores an object under key.
type ObjectUploader interface {
	Upload(ctx context.Context, key string, data []byte) error
}

// ParquetSink archives every pass as one parquet file, on local disk and/or
// in object storage.
type ParquetSink struct {
	dir         string
	compression string
	uploader    ObjectUploader
	prefix      string
	logger      *zap.Logger
}

func NewParquetSink(dir, compression string, uploader ObjectUploader, prefix string, logger *zap.Logger) *ParquetSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ParquetSink{
		dir:         dir,
		compression: compression,
		uploader:    uploader,
		prefix:      prefix,
		logger:      logger,
	}
}

func (s *ParquetSink) Name() string { return "parquet" }

// FileName is the archive name of a pass.
func FileName(result *domain.ScrapeResult) string {
	return fmt.Sprintf("listing_%s_%s.parquet", result.ObservedAt.UTC().Format("20060102T150405Z"), result.RunID)
}

// ObjectKey is the date-partitioned object key of a pass.
func ObjectKey(prefix string, result *domain.ScrapeResult) string {
	return path.Join(prefix, "date="+result.ObservedAt.UTC().Format("2006-01-02"), FileName(result))
}

func (s *ParquetSink) WritePass(ctx context.Context, result *domain.ScrapeResult) error {
	name := FileName(result)

	if s.dir != "" {
		if err := os.MkdirAll(s.dir, 0o755); err != nil {
			return fmt.Errorf("create parquet dir: %w", err)
		}
		target := filepath.Join(s.dir, name)
		fw, err := local.NewLocalFileWriter(target)
		if err != nil {
			return fmt.Errorf("create parquet file: %w", err)
		}
		err = writeParquet(fw, result, s.compression)
		if cerr := fw.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return err
		}
		s.logger.Debug("parquet written", zap.String("path", target), zap.Int("rows", len(result.Observations)))
	}

	if s.uploader != nil {
		data, err := EncodeParquet(result, s.compression)
		if err != nil {
			return err
		}
		key := ObjectKey(s.prefix, result)
		if err := s.uploader.Upload(ctx, key, data); err != nil {
			return fmt.Errorf("upload %s: %w", key, err)
		}
		s.logger.Info("parquet uploaded", zap.String("key", key), zap.Int("bytes", len(data)))
	}
	return nil
}
