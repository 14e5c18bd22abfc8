package export

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"github.com/vitos/coin_listing_tracker/internal/config"
	"github.com/vitos/coin_listing_tracker/internal/domain"
)

func samplePass() *domain.ScrapeResult {
	return &domain.ScrapeResult{
		RunID:        "7f9c2a4e-0000-4000-8000-000000000001",
		ObservedAt:   scrapedAt,
		Pages:        1,
		Observations: sampleRows(),
	}
}

type recordingUploader struct {
	mu   sync.Mutex
	keys []string
	data [][]byte
	err  error
}

func (u *recordingUploader) Upload(ctx context.Context, key string, data []byte) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.keys = append(u.keys, key)
	u.data = append(u.data, data)
	return u.err
}

func TestEncodeParquet_MagicBytes(t *testing.T) {
	for _, codec := range []string{"snappy", "gzip", "none"} {
		t.Run(codec, func(t *testing.T) {
			data, err := EncodeParquet(samplePass(), codec)
			require.NoError(t, err)
			require.Greater(t, len(data), 8)
			assert.True(t, bytes.HasPrefix(data, []byte("PAR1")))
			assert.True(t, bytes.HasSuffix(data, []byte("PAR1")))
		})
	}
}

func TestParquetSink_LocalRoundTrip(t *testing.T) {
	dir := t.TempDir()
	sink := NewParquetSink(dir, "snappy", nil, "", nil)
	assert.Equal(t, "parquet", sink.Name())

	pass := samplePass()
	require.NoError(t, sink.WritePass(context.Background(), pass))

	fr, err := local.NewLocalFileReader(filepath.Join(dir, FileName(pass)))
	require.NoError(t, err)
	defer fr.Close()

	pr, err := reader.NewParquetReader(fr, new(listingParquetRecord), 1)
	require.NoError(t, err)
	defer pr.ReadStop()

	n := int(pr.GetNumRows())
	require.Equal(t, 2, n)
	rows := make([]listingParquetRecord, n)
	require.NoError(t, pr.Read(&rows))

	assert.Equal(t, int64(1), rows[0].ID)
	require.NotNil(t, rows[0].Rank)
	assert.Equal(t, int32(1), *rows[0].Rank)
	require.NotNil(t, rows[0].PriceUSD)
	assert.InDelta(t, 64000.5, *rows[0].PriceUSD, 1e-9)
	assert.Equal(t, pass.RunID, rows[0].RunID)
	assert.Equal(t, scrapedAt.UnixMilli(), rows[0].ObservedAt)

	assert.Equal(t, "CMA", rows[1].Symbol)
	assert.Nil(t, rows[1].Rank)
	assert.Nil(t, rows[1].PriceUSD)
}

func TestParquetSink_UploadsUnderDatePartition(t *testing.T) {
	up := &recordingUploader{}
	sink := NewParquetSink("", "gzip", up, "listing", nil)

	require.NoError(t, sink.WritePass(context.Background(), samplePass()))
	require.Len(t, up.keys, 1)
	assert.Equal(t, "listing/date=2025-06-07/listing_20250607T080910Z_7f9c2a4e-0000-4000-8000-000000000001.parquet", up.keys[0])
	assert.True(t, bytes.HasPrefix(up.data[0], []byte("PAR1")))
}

func TestParquetSink_UploadError(t *testing.T) {
	up := &recordingUploader{err: errors.New("denied")}
	sink := NewParquetSink("", "none", up, "", nil)

	err := sink.WritePass(context.Background(), samplePass())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "denied")
}

func TestS3Uploader_PutObject(t *testing.T) {
	var (
		mu      sync.Mutex
		gotPath string
		gotBody []byte
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		if r.Method == http.MethodPut {
			gotPath = r.URL.Path
			gotBody = body
		}
		mu.Unlock()
		w.Header().Set("ETag", `"abc"`)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	up, err := NewS3Uploader(context.Background(), config.S3Config{
		Bucket:          "archive",
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		PathStyle:       true,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
	})
	require.NoError(t, err)

	require.NoError(t, up.Upload(context.Background(), "listing/date=2025-06-07/x.parquet", []byte("PAR1data")))

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, strings.HasPrefix(gotPath, "/archive/listing/"), gotPath)
	assert.Contains(t, string(gotBody), "PAR1data")
}

func TestNewS3Uploader_RequiresBucket(t *testing.T) {
	_, err := NewS3Uploader(context.Background(), config.S3Config{Region: "us-east-1"})
	require.Error(t, err)
}
