package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

var fixedNow = time.Date(2025, 2, 3, 4, 5, 6, 0, time.UTC)

func newTestScrapeService(f domain.PageFetcher, e domain.ListingExtractor, s *noSleep) *ScrapeService {
	svc := NewScrapeService(f, e, nil)
	svc.timeNow = func() time.Time { return fixedNow }
	svc.sleep = s.sleep
	return svc
}

func TestScrapeOptions_Plan(t *testing.T) {
	tests := []struct {
		name      string
		opts      ScrapeOptions
		wantBatch int
		wantPause time.Duration
		wantErr   bool
	}{
		{name: "default mode is fast", opts: ScrapeOptions{Pages: 10}, wantBatch: 10, wantPause: 300 * time.Millisecond},
		{name: "sequential", opts: ScrapeOptions{Pages: 3, Mode: ModeSequential}, wantBatch: 1, wantPause: 0},
		{name: "safe", opts: ScrapeOptions{Pages: 3, Mode: ModeSafe}, wantBatch: 5, wantPause: 500 * time.Millisecond},
		{name: "explicit overrides", opts: ScrapeOptions{Pages: 3, Mode: ModeSafe, BatchSize: 2, Pause: durationPtr(time.Second)}, wantBatch: 2, wantPause: time.Second},
		{name: "explicit zero pause overrides preset", opts: ScrapeOptions{Pages: 20, Mode: ModeFast, BatchSize: 5, Pause: durationPtr(0)}, wantBatch: 5, wantPause: 0},
		{name: "negative pause", opts: ScrapeOptions{Pages: 3, Pause: durationPtr(-time.Second)}, wantErr: true},
		{name: "zero pages", opts: ScrapeOptions{Pages: 0}, wantErr: true},
		{name: "unknown mode", opts: ScrapeOptions{Pages: 1, Mode: "turbo"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			batch, pause, err := tt.opts.Plan()
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBatch, batch)
			assert.Equal(t, tt.wantPause, pause)
		})
	}
}

func TestMergeObservations_OrdersByRankUnrankedLast(t *testing.T) {
	merged := MergeObservations([][]domain.CoinObservation{{
		coin(30, "C", intPtr(3)),
		coin(91, "N1", nil),
		coin(10, "A", intPtr(1)),
		coin(92, "N2", nil),
		coin(20, "B", intPtr(2)),
	}})

	ids := make([]int64, 0, len(merged))
	for _, o := range merged {
		ids = append(ids, o.ID)
	}
	assert.Equal(t, []int64{10, 20, 30, 91, 92}, ids)
}

func TestMergeObservations_KeepsFirstSeen(t *testing.T) {
	first := coin(1, "BTC", intPtr(1))
	first.Name = "first"
	second := coin(1, "BTC", intPtr(1))
	second.Name = "second"

	merged := MergeObservations([][]domain.CoinObservation{{first}, {coin(2, "ETH", intPtr(2)), second}})
	require.Len(t, merged, 2)
	assert.Equal(t, "first", merged[0].Name)
}

func TestMergeObservations_Empty(t *testing.T) {
	merged := MergeObservations(nil)
	assert.NotNil(t, merged)
	assert.Empty(t, merged)
}

func TestScrape_BoundsConcurrencyPerBatch(t *testing.T) {
	f := newFakeFetcher()
	f.delay = 20 * time.Millisecond
	e := &fakeExtractor{rows: map[int][]domain.CoinObservation{}}
	for p := 1; p <= 7; p++ {
		e.rows[p] = []domain.CoinObservation{coin(int64(p), "C", intPtr(p))}
	}
	pauses := &noSleep{}

	res, err := newTestScrapeService(f, e, pauses).Scrape(context.Background(), ScrapeOptions{Pages: 7, BatchSize: 3, Pause: durationPtr(50 * time.Millisecond)})
	require.NoError(t, err)
	require.Len(t, res.Observations, 7)

	assert.LessOrEqual(t, f.maxInFlight.Load(), int32(3))

	// no page of a batch starts before every page of the previous batch ended
	chunks := [][]int{{1, 2, 3}, {4, 5, 6}, {7}}
	for k := 1; k < len(chunks); k++ {
		for _, p := range chunks[k] {
			for _, q := range chunks[k-1] {
				assert.Greater(t, f.startSeq[p], f.endSeq[q], "page %d started before page %d finished", p, q)
			}
		}
	}

	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, pauses.pauses)
}

func TestScrape_ExplicitZeroPauseNeverSleeps(t *testing.T) {
	f := newFakeFetcher()
	e := &fakeExtractor{}
	pauses := &noSleep{}

	_, err := newTestScrapeService(f, e, pauses).Scrape(context.Background(), ScrapeOptions{Pages: 20, Mode: ModeFast, BatchSize: 5, Pause: durationPtr(0)})
	require.NoError(t, err)
	assert.Empty(t, pauses.pauses)
}

func TestScrape_NoPauseAfterLastBatch(t *testing.T) {
	f := newFakeFetcher()
	e := &fakeExtractor{rows: map[int][]domain.CoinObservation{1: {coin(1, "A", intPtr(1))}}}
	pauses := &noSleep{}

	_, err := newTestScrapeService(f, e, pauses).Scrape(context.Background(), ScrapeOptions{Pages: 6, BatchSize: 3, Pause: durationPtr(time.Second)})
	require.NoError(t, err)
	assert.Len(t, pauses.pauses, 1)

	pauses = &noSleep{}
	_, err = newTestScrapeService(f, e, pauses).Scrape(context.Background(), ScrapeOptions{Pages: 4, Mode: ModeSequential})
	require.NoError(t, err)
	assert.Empty(t, pauses.pauses)
}

func TestScrape_SharedObservedAtAndDedup(t *testing.T) {
	f := newFakeFetcher()
	e := &fakeExtractor{rows: map[int][]domain.CoinObservation{
		1: {coin(1, "BTC", intPtr(1)), coin(2, "ETH", intPtr(2))},
		2: {coin(2, "ETH", intPtr(2)), coin(3, "USDT", intPtr(3))},
	}}

	res, err := newTestScrapeService(f, e, &noSleep{}).Scrape(context.Background(), ScrapeOptions{Pages: 2, BatchSize: 2})
	require.NoError(t, err)
	require.Len(t, res.Observations, 3)
	assert.NotEmpty(t, res.RunID)
	assert.True(t, res.ObservedAt.Equal(fixedNow))
	for _, o := range res.Observations {
		assert.True(t, o.ObservedAt.Equal(fixedNow))
	}
	assert.Equal(t, []int64{1, 2, 3}, []int64{res.Observations[0].ID, res.Observations[1].ID, res.Observations[2].ID})
}

func TestScrape_PartialFailuresDoNotAbort(t *testing.T) {
	f := newFakeFetcher()
	f.errs[2] = &domain.TransportError{URL: "https://example.test/?page=2", StatusCode: 503}
	e := &fakeExtractor{
		rows: map[int][]domain.CoinObservation{
			1: {coin(1, "BTC", intPtr(1))},
			4: {coin(4, "XRP", intPtr(4))},
		},
		errs: map[int]error{3: &domain.ParseError{Page: 3, Reason: "listing not found"}},
	}

	res, err := newTestScrapeService(f, e, &noSleep{}).Scrape(context.Background(), ScrapeOptions{Pages: 4, BatchSize: 4})
	require.NoError(t, err)
	require.Len(t, res.Observations, 2)
	require.Len(t, res.Failures, 2)
	assert.Equal(t, 2, res.Failures[0].Page)
	assert.Equal(t, 3, res.Failures[1].Page)

	var te *domain.TransportError
	assert.True(t, errors.As(res.Err(), &te))
	var pe *domain.ParseError
	assert.True(t, errors.As(res.Err(), &pe))
}

func TestScrape_CancelledDuringPause(t *testing.T) {
	f := newFakeFetcher()
	e := &fakeExtractor{rows: map[int][]domain.CoinObservation{}}
	ctx, cancel := context.WithCancel(context.Background())

	svc := NewScrapeService(f, e, nil)
	svc.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, err := svc.Scrape(ctx, ScrapeOptions{Pages: 2, BatchSize: 1, Pause: durationPtr(time.Hour)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestScrape_InvalidOptions(t *testing.T) {
	svc := NewScrapeService(newFakeFetcher(), &fakeExtractor{}, nil)
	_, err := svc.Scrape(context.Background(), ScrapeOptions{Pages: 0})
	require.Error(t, err)
}

func TestSleepCtx(t *testing.T) {
	require.NoError(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, sleepCtx(ctx, time.Hour), context.Canceled)
}
