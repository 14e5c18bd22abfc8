package domain

import "time"

// CoinObservation is one coin row harvested from the listing during a pass.
// Metric fields are nil when the source omitted them.
type CoinObservation struct {
	ID           int64
	Rank         *int
	Name         string
	Symbol       string
	PriceUSD     *float64
	MarketCapUSD *float64
	Change24hPct *float64
	ObservedAt   time.Time
}

// CoinSnapshot joins a coin with one of its snapshots.
type CoinSnapshot struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Symbol       string    `json:"symbol"`
	Rank         *int      `json:"rank"`
	PriceUSD     *float64  `json:"price_usd"`
	MarketCapUSD *float64  `json:"market_cap_usd"`
	Change24hPct *float64  `json:"change_24h"`
	ObservedAt   time.Time `json:"ts_utc"`
}

// HistoryPoint is a single entry of a coin's history.
type HistoryPoint struct {
	Timestamp    time.Time
	PriceUSD     *float64
	MarketCapUSD *float64
}
