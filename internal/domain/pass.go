package domain

import (
	"errors"
	"fmt"
	"time"
)

// PageFailure records a page that yielded no rows during a pass.
type PageFailure struct {
	Page int
	Err  error
}

func (f PageFailure) Error() string {
	return fmt.Sprintf("page %d: %v", f.Page, f.Err)
}

func (f PageFailure) Unwrap() error { return f.Err }

// ScrapeResult is the merged output of one ingestion pass.
type ScrapeResult struct {
	RunID        string
	ObservedAt   time.Time
	Pages        int
	Observations []CoinObservation
	Failures     []PageFailure
	Duration     time.Duration
}

// Err joins all page failures, or returns nil when every page succeeded.
func (r *ScrapeResult) Err() error {
	if r == nil || len(r.Failures) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		errs = append(errs, f)
	}
	return errors.Join(errs...)
}

// PassEvent is published after a pass has been committed.
type PassEvent struct {
	RunID       string    `json:"run_id"`
	ObservedAt  time.Time `json:"observed_at"`
	Coins       int       `json:"coins"`
	Pages       int       `json:"pages"`
	FailedPages []int     `json:"failed_pages"`
}

// NewPassEvent summarises a committed pass.
func NewPassEvent(r *ScrapeResult) PassEvent {
	failed := make([]int, 0, len(r.Failures))
	for _, f := range r.Failures {
		failed = append(failed, f.Page)
	}
	return PassEvent{
		RunID:       r.RunID,
		ObservedAt:  r.ObservedAt,
		Coins:       len(r.Observations),
		Pages:       r.Pages,
		FailedPages: failed,
	}
}
