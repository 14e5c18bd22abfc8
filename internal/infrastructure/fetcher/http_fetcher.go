// Package fetcher downloads listing pages with a browser-like request identity.
package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

const (
	DefaultBaseURL   = "https://coinmarketcap.com/"
	DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/127.0.0.0 Safari/537.36"

	acceptHTML     = "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"
	acceptLanguage = "en-US,en;q=0.9"
)

// ErrTooManyRedirects is wrapped in the TransportError returned when the
// redirect limit is exhausted.
var ErrTooManyRedirects = errors.New("too many redirects")

// Options configures an HTTPFetcher. Zero values fall back to defaults.
type Options struct {
	BaseURL           string
	UserAgent         string
	Timeout           time.Duration
	MaxRedirects      int
	RequestsPerSecond float64 // 0 disables pacing
	Burst             int
}

// HTTPFetcher implements domain.PageFetcher. One instance is shared by all
// pages of a pass so connections are reused.
type HTTPFetcher struct {
	baseURL   *url.URL
	userAgent string
	client    *http.Client
	limiter   *rate.Limiter
}

// NewHTTPFetcher builds a fetcher. A negative MaxRedirects disables redirects.
func NewHTTPFetcher(opts Options) (*HTTPFetcher, error) {
	raw := opts.BaseURL
	if raw == "" {
		raw = DefaultBaseURL
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q is not absolute", raw)
	}

	ua := opts.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	maxRedirects := opts.MaxRedirects
	if maxRedirects == 0 {
		maxRedirects = 5
	}

	f := &HTTPFetcher{
		baseURL:   base,
		userAgent: ua,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
	}

	if opts.RequestsPerSecond > 0 {
		burst := opts.Burst
		if burst <= 0 {
			burst = 1
		}
		f.limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), burst)
	}
	return f, nil
}

// PageURL maps a 1-based page index to its listing URL. Page 1 is the bare
// base URL.
func (f *HTTPFetcher) PageURL(page int) string {
	if page <= 1 {
		return f.baseURL.String()
	}
	u := *f.baseURL
	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}

// FetchPage downloads one listing page.
func (f *HTTPFetcher) FetchPage(ctx context.Context, page int) (string, error) {
	if page < 1 {
		return "", fmt.Errorf("invalid page index %d", page)
	}
	target := f.PageURL(page)

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", &domain.TransportError{URL: target, Err: err}
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", acceptHTML)
	req.Header.Set("Accept-Language", acceptLanguage)

	resp, err := f.client.Do(req)
	if err != nil {
		return "", &domain.TransportError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", &domain.TransportError{
			URL:        target,
			StatusCode: resp.StatusCode,
			Body:       string(body),
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &domain.TransportError{URL: target, Err: fmt.Errorf("read body: %w", err)}
	}
	return string(body), nil
}
