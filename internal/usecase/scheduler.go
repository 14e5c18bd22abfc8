package usecase

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

const DefaultInterval = 15 * time.Minute

// PassRunner executes one ingestion pass.
type PassRunner interface {
	RunOnce(ctx context.Context, opts ScrapeOptions) (*domain.ScrapeResult, error)
}

// Scheduler runs a pass on start and then on every tick. Passes never overlap.
type Scheduler struct {
	runner   PassRunner
	opts     ScrapeOptions
	interval time.Duration
	logger   *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewScheduler(runner PassRunner, opts ScrapeOptions, interval time.Duration, logger *zap.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		runner:   runner,
		opts:     opts,
		interval: interval,
		logger:   logger,
	}
}

// Start begins the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.run()

	s.logger.Info("scheduler started",
		zap.Duration("interval", s.interval),
		zap.Int("pages", s.opts.Pages),
		zap.String("mode", string(s.opts.Mode)),
	)
	return nil
}

// Stop cancels the loop and waits for an in-flight pass to finish, or for ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runPass()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.runPass()
		}
	}
}

func (s *Scheduler) runPass() {
	if _, err := s.runner.RunOnce(s.ctx, s.opts); err != nil {
		if s.ctx.Err() != nil {
			return
		}
		s.logger.Error("scheduled pass failed", zap.Error(err))
	}
}
