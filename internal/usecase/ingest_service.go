package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

// ErrEmptyPass is returned when no page of a pass produced any row. Nothing
// is saved in that case so the previous pass stays the latest one.
var ErrEmptyPass = errors.New("pass produced no observations")

// IngestService runs a pass end to end: scrape, save, export, notify.
type IngestService struct {
	scraper   *ScrapeService
	repo      domain.SnapshotRepository
	sinks     []domain.PassSink
	publisher domain.PassPublisher
	logger    *zap.Logger
}

func NewIngestService(scraper *ScrapeService, repo domain.SnapshotRepository, logger *zap.Logger) *IngestService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{
		scraper: scraper,
		repo:    repo,
		logger:  logger,
	}
}

// AddSink registers an export target written after every committed pass.
func (s *IngestService) AddSink(sink domain.PassSink) {
	s.sinks = append(s.sinks, sink)
}

// SetPublisher registers the live feed notified after every committed pass.
func (s *IngestService) SetPublisher(p domain.PassPublisher) {
	s.publisher = p
}

// RunOnce executes a single pass. The returned result is non-nil whenever the
// scrape itself ran, including when saving failed.
func (s *IngestService) RunOnce(ctx context.Context, opts ScrapeOptions) (*domain.ScrapeResult, error) {
	result, err := s.scraper.Scrape(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("scrape: %w", err)
	}

	failed := make([]int, 0, len(result.Failures))
	for _, f := range result.Failures {
		failed = append(failed, f.Page)
	}

	if len(result.Observations) == 0 {
		s.logger.Error("pass produced no rows",
			zap.String("run_id", result.RunID),
			zap.Int("pages", result.Pages),
			zap.Ints("failed_pages", failed),
			zap.Error(result.Err()),
		)
		return result, errors.Join(ErrEmptyPass, result.Err())
	}

	if err := s.repo.Save(ctx, result.Observations); err != nil {
		return result, fmt.Errorf("save pass %s: %w", result.RunID, err)
	}

	s.logger.Info("pass committed",
		zap.String("run_id", result.RunID),
		zap.Time("observed_at", result.ObservedAt),
		zap.Int("pages", result.Pages),
		zap.Ints("failed_pages", failed),
		zap.Int("observations", len(result.Observations)),
		zap.Duration("duration", result.Duration),
	)

	for _, sink := range s.sinks {
		if err := sink.WritePass(ctx, result); err != nil {
			s.logger.Error("export failed",
				zap.String("sink", sink.Name()),
				zap.String("run_id", result.RunID),
				zap.Error(err),
			)
		}
	}

	if s.publisher != nil {
		s.publisher.Publish(domain.NewPassEvent(result))
	}
	return result, nil
}
