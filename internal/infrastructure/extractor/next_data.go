// Package extractor turns a listing page into coin observations by decoding
// the client-side state the page embeds for hydration.
package extractor

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	simplejson "github.com/bitly/go-simplejson"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

const payloadSelector = "script#__NEXT_DATA__"

var (
	queriesPath = []string{"props", "dehydratedState", "queries"}
	listingPath = []string{"state", "data", "data", "listing", "cryptoCurrencyList"}
)

// NextDataExtractor implements domain.ListingExtractor.
type NextDataExtractor struct{}

func NewNextDataExtractor() *NextDataExtractor {
	return &NextDataExtractor{}
}

// Extract fails when the payload or the listing inside it is missing, but
// tolerates entries with missing metrics. Entries without id, name or symbol
// are dropped.
func (e *NextDataExtractor) Extract(page int, html string, observedAt time.Time) ([]domain.CoinObservation, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, &domain.ParseError{Page: page, Reason: "read markup", Err: err}
	}

	raw := strings.TrimSpace(doc.Find(payloadSelector).First().Text())
	if raw == "" {
		return nil, &domain.ParseError{Page: page, Reason: "embedded payload not found"}
	}

	root, err := simplejson.NewJson([]byte(raw))
	if err != nil {
		return nil, &domain.ParseError{Page: page, Reason: "decode embedded payload", Err: err}
	}

	list, ok := locateListing(root)
	if !ok {
		return nil, &domain.ParseError{Page: page, Reason: "listing not found"}
	}

	n := len(asArray(list))
	out := make([]domain.CoinObservation, 0, n)
	for i := 0; i < n; i++ {
		if obs, ok := parseCoin(list.GetIndex(i), observedAt); ok {
			out = append(out, obs)
		}
	}
	return out, nil
}

// locateListing returns the first query whose listing resolves to a
// non-empty array.
func locateListing(root *simplejson.Json) (*simplejson.Json, bool) {
	queries := root.GetPath(queriesPath...)
	n := len(asArray(queries))
	for i := 0; i < n; i++ {
		list := queries.GetIndex(i).GetPath(listingPath...)
		if len(asArray(list)) > 0 {
			return list, true
		}
	}
	return nil, false
}

func parseCoin(v *simplejson.Json, observedAt time.Time) (domain.CoinObservation, bool) {
	if _, err := v.Map(); err != nil {
		return domain.CoinObservation{}, false
	}

	id, err := v.Get("id").Int64()
	if err != nil || id < 0 {
		return domain.CoinObservation{}, false
	}
	name, err := v.Get("name").String()
	if err != nil {
		return domain.CoinObservation{}, false
	}
	symbol, err := v.Get("symbol").String()
	if err != nil {
		return domain.CoinObservation{}, false
	}

	obs := domain.CoinObservation{
		ID:         id,
		Rank:       optRank(v, "cmcRank", "rank"),
		Name:       name,
		Symbol:     symbol,
		ObservedAt: observedAt,
	}

	if usd, ok := v.Get("quote").CheckGet("USD"); ok {
		readQuote(&obs, usd)
	}
	if obs.PriceUSD == nil {
		if usd, ok := findQuote(v.Get("quotes"), "USD"); ok {
			readQuote(&obs, usd)
		}
	}
	return obs, true
}

func readQuote(obs *domain.CoinObservation, q *simplejson.Json) {
	obs.PriceUSD = optFloat(q, "price")
	obs.MarketCapUSD = optFloat(q, "marketCap")
	obs.Change24hPct = optFloat(q, "percentChange24h")
}

func findQuote(quotes *simplejson.Json, currency string) (*simplejson.Json, bool) {
	n := len(asArray(quotes))
	for i := 0; i < n; i++ {
		q := quotes.GetIndex(i)
		if name, err := q.Get("name").String(); err == nil && name == currency {
			return q, true
		}
	}
	return nil, false
}

func optRank(v *simplejson.Json, keys ...string) *int {
	for _, k := range keys {
		node, ok := v.CheckGet(k)
		if !ok {
			continue
		}
		r, err := node.Int64()
		if err != nil || r < 0 {
			continue
		}
		rank := int(r)
		return &rank
	}
	return nil
}

func optFloat(v *simplejson.Json, key string) *float64 {
	node, ok := v.CheckGet(key)
	if !ok {
		return nil
	}
	f, err := node.Float64()
	if err != nil {
		return nil
	}
	return &f
}

func asArray(v *simplejson.Json) []interface{} {
	arr, err := v.Array()
	if err != nil {
		return nil
	}
	return arr
}
