package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

type ScrapeMode string

const (
	ModeSequential ScrapeMode = "sequential"
	ModeFast       ScrapeMode = "fast"
	ModeSafe       ScrapeMode = "safe"
)

type modePreset struct {
	batchSize int
	pause     time.Duration
}

var modePresets = map[ScrapeMode]modePreset{
	ModeSequential: {batchSize: 1, pause: 0},
	ModeFast:       {batchSize: 10, pause: 300 * time.Millisecond},
	ModeSafe:       {batchSize: 5, pause: 500 * time.Millisecond},
}

// ScrapeOptions describes one pass. A zero BatchSize or a nil Pause takes the
// mode preset; an explicit zero Pause disables pausing.
type ScrapeOptions struct {
	Pages     int
	Mode      ScrapeMode
	BatchSize int
	Pause     *time.Duration
}

// Plan resolves the effective batch size and pause.
func (o ScrapeOptions) Plan() (batchSize int, pause time.Duration, err error) {
	if o.Pages < 1 {
		return 0, 0, fmt.Errorf("pages must be >= 1, got %d", o.Pages)
	}
	mode := o.Mode
	if mode == "" {
		mode = ModeFast
	}
	preset, ok := modePresets[mode]
	if !ok {
		return 0, 0, fmt.Errorf("unknown scrape mode %q", o.Mode)
	}

	batchSize, pause = preset.batchSize, preset.pause
	if o.BatchSize > 0 {
		batchSize = o.BatchSize
	}
	if o.Pause != nil {
		if *o.Pause < 0 {
			return 0, 0, fmt.Errorf("pause must be >= 0, got %s", *o.Pause)
		}
		pause = *o.Pause
	}
	return batchSize, pause, nil
}

// ScrapeService fetches and extracts listing pages in paced batches and
// merges them into one ranked pass.
type ScrapeService struct {
	fetcher   domain.PageFetcher
	extractor domain.ListingExtractor
	logger    *zap.Logger

	timeNow func() time.Time                                 // For testing
	sleep   func(ctx context.Context, d time.Duration) error // For testing
}

func NewScrapeService(fetcher domain.PageFetcher, extractor domain.ListingExtractor, logger *zap.Logger) *ScrapeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScrapeService{
		fetcher:   fetcher,
		extractor: extractor,
		logger:    logger,
		timeNow:   time.Now,
		sleep:     sleepCtx,
	}
}

// Scrape runs one pass. Page failures are recorded in the result and never
// abort the pass. An error is returned only for invalid options or when ctx
// is cancelled.
func (s *ScrapeService) Scrape(ctx context.Context, opts ScrapeOptions) (*domain.ScrapeResult, error) {
	batchSize, pause, err := opts.Plan()
	if err != nil {
		return nil, err
	}

	start := s.timeNow()
	result := &domain.ScrapeResult{
		RunID:      uuid.NewString(),
		ObservedAt: start.UTC(),
		Pages:      opts.Pages,
	}

	perPage := make([][]domain.CoinObservation, opts.Pages)
	var mu sync.Mutex

	for first := 1; first <= opts.Pages; first += batchSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		last := min(first+batchSize-1, opts.Pages)

		g, gctx := errgroup.WithContext(ctx)
		for page := first; page <= last; page++ {
			g.Go(func() error {
				rows, err := s.scrapePage(gctx, page, result.ObservedAt)
				if err != nil {
					fields := []zap.Field{zap.Int("page", page), zap.Error(err)}
					var te *domain.TransportError
					if errors.As(err, &te) {
						fields = append(fields, zap.String("url", te.URL))
					}
					s.logger.Warn("page skipped", fields...)
					mu.Lock()
					result.Failures = append(result.Failures, domain.PageFailure{Page: page, Err: err})
					mu.Unlock()
					return nil
				}
				perPage[page-1] = rows
				return nil
			})
		}
		_ = g.Wait()

		if last < opts.Pages && pause > 0 {
			if err := s.sleep(ctx, pause); err != nil {
				return nil, err
			}
		}
	}

	sort.Slice(result.Failures, func(i, j int) bool {
		return result.Failures[i].Page < result.Failures[j].Page
	})
	result.Observations = MergeObservations(perPage)
	result.Duration = s.timeNow().Sub(start)
	return result, nil
}

func (s *ScrapeService) scrapePage(ctx context.Context, page int, observedAt time.Time) ([]domain.CoinObservation, error) {
	html, err := s.fetcher.FetchPage(ctx, page)
	if err != nil {
		return nil, err
	}
	return s.extractor.Extract(page, html, observedAt)
}

// MergeObservations flattens per-page results in page order, keeps the first
// occurrence of every id and orders by rank with unranked entries last.
func MergeObservations(pages [][]domain.CoinObservation) []domain.CoinObservation {
	seen := make(map[int64]struct{})
	merged := make([]domain.CoinObservation, 0)
	for _, rows := range pages {
		for _, o := range rows {
			if _, dup := seen[o.ID]; dup {
				continue
			}
			seen[o.ID] = struct{}{}
			merged = append(merged, o)
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		ri, rj := merged[i].Rank, merged[j].Rank
		switch {
		case ri == nil:
			return false
		case rj == nil:
			return true
		default:
			return *ri < *rj
		}
	})
	return merged
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
