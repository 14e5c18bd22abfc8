package fetcher

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

func TestPageURL(t *testing.T) {
	f, err := NewHTTPFetcher(Options{BaseURL: "https://coinmarketcap.com/"})
	require.NoError(t, err)

	assert.Equal(t, "https://coinmarketcap.com/", f.PageURL(1))
	assert.Equal(t, "https://coinmarketcap.com/?page=2", f.PageURL(2))
	assert.Equal(t, "https://coinmarketcap.com/?page=17", f.PageURL(17))
}

func TestNewHTTPFetcher_RejectsRelativeBase(t *testing.T) {
	_, err := NewHTTPFetcher(Options{BaseURL: "/listing"})
	require.Error(t, err)
}

func TestFetchPage_SendsBrowserHeaders(t *testing.T) {
	var gotUA, gotAccept, gotLang, gotPage string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotAccept = r.Header.Get("Accept")
		gotLang = r.Header.Get("Accept-Language")
		gotPage = r.URL.Query().Get("page")
		_, _ = w.Write([]byte("<html>ok</html>"))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Options{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	body, err := f.FetchPage(context.Background(), 3)
	require.NoError(t, err)
	assert.Equal(t, "<html>ok</html>", body)
	assert.Equal(t, DefaultUserAgent, gotUA)
	assert.Contains(t, gotAccept, "text/html")
	assert.Equal(t, "en-US,en;q=0.9", gotLang)
	assert.Equal(t, "3", gotPage)
}

func TestFetchPage_Non2xxIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Options{BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), 1)
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusTooManyRequests, te.StatusCode)
	assert.Contains(t, te.Body, "slow down")
}

func TestFetchPage_RedirectLoopIsTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, r.URL.String(), http.StatusFound)
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Options{BaseURL: srv.URL + "/", MaxRedirects: 2})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), 1)
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
	assert.True(t, errors.Is(err, ErrTooManyRedirects))
}

func TestFetchPage_FollowsRedirectsWithinLimit(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/old", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("listing"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f, err := NewHTTPFetcher(Options{BaseURL: srv.URL + "/old"})
	require.NoError(t, err)

	body, err := f.FetchPage(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, "listing", body)
}

func TestFetchPage_InvalidPage(t *testing.T) {
	f, err := NewHTTPFetcher(Options{})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), 0)
	require.Error(t, err)
}

func TestFetchPage_RateLimiterHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f, err := NewHTTPFetcher(Options{BaseURL: srv.URL + "/", RequestsPerSecond: 0.001, Burst: 1})
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), 1)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = f.FetchPage(ctx, 2)
	var te *domain.TransportError
	require.True(t, errors.As(err, &te))
}
