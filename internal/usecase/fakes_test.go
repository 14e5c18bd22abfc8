package usecase

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

// fakeFetcher returns the page number as the page body and records how many
// fetches overlap.
type fakeFetcher struct {
	delay time.Duration
	errs  map[int]error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	seq         atomic.Int64

	mu       sync.Mutex
	startSeq map[int]int64
	endSeq   map[int]int64
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		errs:     map[int]error{},
		startSeq: map[int]int64{},
		endSeq:   map[int]int64{},
	}
}

func (f *fakeFetcher) FetchPage(ctx context.Context, page int) (string, error) {
	n := f.inFlight.Add(1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	f.mu.Lock()
	f.startSeq[page] = f.seq.Add(1)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}

	f.mu.Lock()
	f.endSeq[page] = f.seq.Add(1)
	f.mu.Unlock()
	f.inFlight.Add(-1)

	if err, ok := f.errs[page]; ok {
		return "", err
	}
	return strconv.Itoa(page), nil
}

// fakeExtractor maps the page body produced by fakeFetcher to canned rows.
type fakeExtractor struct {
	rows map[int][]domain.CoinObservation
	errs map[int]error
}

func (e *fakeExtractor) Extract(page int, html string, observedAt time.Time) ([]domain.CoinObservation, error) {
	if html != strconv.Itoa(page) {
		return nil, fmt.Errorf("unexpected body %q for page %d", html, page)
	}
	if err, ok := e.errs[page]; ok {
		return nil, err
	}
	out := make([]domain.CoinObservation, 0, len(e.rows[page]))
	for _, o := range e.rows[page] {
		o.ObservedAt = observedAt
		out = append(out, o)
	}
	return out, nil
}

type fakeRepo struct {
	domain.SnapshotRepository

	mu      sync.Mutex
	saved   [][]domain.CoinObservation
	saveErr error
}

func (r *fakeRepo) Save(ctx context.Context, observations []domain.CoinObservation) error {
	if r.saveErr != nil {
		return r.saveErr
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, observations)
	return nil
}

type fakeSink struct {
	name   string
	err    error
	passes []*domain.ScrapeResult
}

func (s *fakeSink) Name() string { return s.name }

func (s *fakeSink) WritePass(ctx context.Context, result *domain.ScrapeResult) error {
	s.passes = append(s.passes, result)
	return s.err
}

type fakePublisher struct {
	events []domain.PassEvent
}

func (p *fakePublisher) Publish(e domain.PassEvent) {
	p.events = append(p.events, e)
}

func intPtr(v int) *int { return &v }

func durationPtr(d time.Duration) *time.Duration { return &d }

func coin(id int64, symbol string, rank *int) domain.CoinObservation {
	return domain.CoinObservation{ID: id, Name: symbol + " coin", Symbol: symbol, Rank: rank}
}

// noSleep records requested pauses without waiting.
type noSleep struct {
	mu     sync.Mutex
	pauses []time.Duration
}

func (n *noSleep) sleep(ctx context.Context, d time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.pauses = append(n.pauses, d)
	return ctx.Err()
}
