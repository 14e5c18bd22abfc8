package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

const (
	defaultCoinsLimit   = 100
	maxCoinsLimit       = 500
	defaultHistoryLimit = 500
	maxHistoryLimit     = 2000
)

type errorResponse struct {
	Error string `json:"error"`
}

type historyResponse struct {
	Symbol string  `json:"symbol"`
	Series [][]any `json:"series"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	n, err := s.repo.Count(r.Context())
	if err != nil {
		s.internalError(w, "Failed to count snapshots", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"snapshots": n})
}

func (s *Server) handleCoins(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, defaultCoinsLimit, maxCoinsLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	coins, err := s.repo.LatestRanked(r.Context(), limit)
	if err != nil {
		s.internalError(w, "Failed to get latest coins", err)
		return
	}
	if coins == nil {
		coins = []domain.CoinSnapshot{}
	}
	writeJSON(w, http.StatusOK, coins)
}

func (s *Server) handleCoinLatest(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	coin, err := s.repo.Latest(r.Context(), symbol)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Symbol not found")
		return
	}
	if err != nil {
		s.internalError(w, "Failed to get coin", err, zap.String("symbol", symbol))
		return
	}
	writeJSON(w, http.StatusOK, coin)
}

func (s *Server) handleCoinHistory(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")

	limit, err := queryLimit(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	since, err := parseSince(r.URL.Query().Get("since"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.repo.History(r.Context(), symbol, since)
	if errors.Is(err, domain.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Symbol not found")
		return
	}
	if err != nil {
		s.internalError(w, "Failed to get history", err, zap.String("symbol", symbol))
		return
	}

	if len(points) > limit {
		points = points[:limit]
	}
	series := make([][]any, 0, len(points))
	for _, p := range points {
		series = append(series, []any{p.Timestamp, p.PriceUSD})
	}
	writeJSON(w, http.StatusOK, historyResponse{
		Symbol: strings.ToUpper(symbol),
		Series: series,
	})
}

func (s *Server) internalError(w http.ResponseWriter, msg string, err error, fields ...zap.Field) {
	s.logger.Error(msg, append(fields, zap.Error(err))...)
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

// queryLimit reads ?limit, applying def when absent and clamping to ceiling.
func queryLimit(r *http.Request, def, ceiling int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return min(n, ceiling), nil
}

// parseSince accepts RFC3339 or unix seconds. Empty means no lower bound.
func parseSince(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	if secs, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("invalid since %q", raw)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
