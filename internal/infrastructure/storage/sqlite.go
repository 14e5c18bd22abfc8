package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/vitos/coin_listing_tracker/internal/domain"
)

// tsLayout is fixed width so that lexical order on the TEXT column matches
// chronological order.
const tsLayout = "2006-01-02T15:04:05.000000Z07:00"

type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", sqliteDSN(dbPath))
	if err != nil {
		return nil, err
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.EnsureSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func sqliteDSN(path string) string {
	if path == ":memory:" {
		return "file::memory:?_foreign_keys=on"
	}
	return fmt.Sprintf("file:%s?_busy_timeout=5000&_foreign_keys=on&_journal_mode=WAL&_txlock=immediate", path)
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS coins (
			id INTEGER PRIMARY KEY,
			name TEXT NOT NULL,
			symbol TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			coin_id INTEGER NOT NULL REFERENCES coins(id),
			ts_utc TEXT NOT NULL,
			cmc_rank INTEGER,
			price_usd REAL,
			market_cap_usd REAL,
			change_24h REAL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_coin_id ON snapshots(coin_id);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts_utc ON snapshots(ts_utc);`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_coin_ts ON snapshots(coin_id, ts_utc);`,
		`CREATE INDEX IF NOT EXISTS idx_coins_symbol ON coins(UPPER(symbol));`,
	}

	for _, q := range queries {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return &domain.StorageError{Op: "ensure schema", Err: fmt.Errorf("failed to exec query %s: %w", q, err)}
		}
	}
	return nil
}

// Save writes one pass in a single transaction. Existing coin identities are
// never updated.
func (s *SQLiteStore) Save(ctx context.Context, observations []domain.CoinObservation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback()

	coinStmt, err := tx.PrepareContext(ctx, `INSERT OR IGNORE INTO coins (id, name, symbol) VALUES (?, ?, ?)`)
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	defer coinStmt.Close()

	snapStmt, err := tx.PrepareContext(ctx, `INSERT INTO snapshots (coin_id, ts_utc, cmc_rank, price_usd, market_cap_usd, change_24h)
			  VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}
	defer snapStmt.Close()

	for _, o := range observations {
		if _, err := coinStmt.ExecContext(ctx, o.ID, o.Name, o.Symbol); err != nil {
			return &domain.StorageError{Op: "save coin", Err: fmt.Errorf("coin %d: %w", o.ID, err)}
		}
		if _, err := snapStmt.ExecContext(ctx,
			o.ID, formatTS(o.ObservedAt), nullInt(o.Rank),
			nullFloat(o.PriceUSD), nullFloat(o.MarketCapUSD), nullFloat(o.Change24hPct)); err != nil {
			return &domain.StorageError{Op: "save snapshot", Err: fmt.Errorf("coin %d: %w", o.ID, err)}
		}
	}

	if err := tx.Commit(); err != nil {
		return &domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

func (s *SQLiteStore) LatestRanked(ctx context.Context, limit int) ([]domain.CoinSnapshot, error) {
	out := []domain.CoinSnapshot{}
	if limit <= 0 {
		return out, nil
	}

	query := `SELECT c.id, c.name, c.symbol, s.cmc_rank, s.price_usd, s.market_cap_usd, s.change_24h, s.ts_utc
			  FROM snapshots s
			  JOIN coins c ON s.coin_id = c.id
			  WHERE s.ts_utc = (SELECT MAX(ts_utc) FROM snapshots)
			  AND s.cmc_rank IS NOT NULL
			  ORDER BY s.cmc_rank ASC, c.id ASC
			  LIMIT ?`
	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "latest ranked", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		cs, err := scanCoinSnapshot(rows)
		if err != nil {
			return nil, &domain.StorageError{Op: "latest ranked", Err: err}
		}
		out = append(out, *cs)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "latest ranked", Err: err}
	}
	return out, nil
}

func (s *SQLiteStore) Latest(ctx context.Context, symbol string) (*domain.CoinSnapshot, error) {
	coinID, err := s.resolveCoinID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	query := `SELECT c.id, c.name, c.symbol, s.cmc_rank, s.price_usd, s.market_cap_usd, s.change_24h, s.ts_utc
			  FROM snapshots s
			  JOIN coins c ON s.coin_id = c.id
			  WHERE s.coin_id = ?
			  ORDER BY s.ts_utc DESC, s.id DESC
			  LIMIT 1`
	cs, err := scanCoinSnapshot(s.db.QueryRowContext(ctx, query, coinID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "latest", Err: err}
	}
	return cs, nil
}

func (s *SQLiteStore) History(ctx context.Context, symbol string, since time.Time) ([]domain.HistoryPoint, error) {
	coinID, err := s.resolveCoinID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	query := `SELECT ts_utc, price_usd, market_cap_usd FROM snapshots WHERE coin_id = ?`
	args := []any{coinID}
	if !since.IsZero() {
		query += ` AND ts_utc >= ?`
		args = append(args, formatTS(ceilMicro(since)))
	}
	query += ` ORDER BY ts_utc ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "history", Err: err}
	}
	defer rows.Close()

	points := []domain.HistoryPoint{}
	for rows.Next() {
		var (
			ts          string
			price, mcap sql.NullFloat64
		)
		if err := rows.Scan(&ts, &price, &mcap); err != nil {
			return nil, &domain.StorageError{Op: "history", Err: err}
		}
		t, err := parseTS(ts)
		if err != nil {
			return nil, &domain.StorageError{Op: "history", Err: err}
		}
		points = append(points, domain.HistoryPoint{
			Timestamp:    t,
			PriceUSD:     floatPtr(price),
			MarketCapUSD: floatPtr(mcap),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "history", Err: err}
	}
	return points, nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, &domain.StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// resolveCoinID matches symbol case-insensitively. When several coins share a
// symbol the one observed most recently wins, then the better ranked one.
func (s *SQLiteStore) resolveCoinID(ctx context.Context, symbol string) (int64, error) {
	query := `SELECT c.id
			  FROM coins c
			  LEFT JOIN snapshots s ON s.coin_id = c.id
			  AND s.ts_utc = (SELECT MAX(ts_utc) FROM snapshots WHERE coin_id = c.id)
			  WHERE UPPER(c.symbol) = UPPER(?)
			  ORDER BY s.ts_utc IS NULL, s.ts_utc DESC, s.cmc_rank IS NULL, s.cmc_rank ASC, c.id ASC
			  LIMIT 1`
	var id int64
	err := s.db.QueryRowContext(ctx, query, symbol).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, &domain.StorageError{Op: "resolve symbol", Err: err}
	}
	return id, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCoinSnapshot(r rowScanner) (*domain.CoinSnapshot, error) {
	var (
		cs                  domain.CoinSnapshot
		rank                sql.NullInt64
		price, mcap, change sql.NullFloat64
		ts                  string
	)
	if err := r.Scan(&cs.ID, &cs.Name, &cs.Symbol, &rank, &price, &mcap, &change, &ts); err != nil {
		return nil, err
	}
	t, err := parseTS(ts)
	if err != nil {
		return nil, err
	}
	if rank.Valid {
		v := int(rank.Int64)
		cs.Rank = &v
	}
	cs.PriceUSD = floatPtr(price)
	cs.MarketCapUSD = floatPtr(mcap)
	cs.Change24hPct = floatPtr(change)
	cs.ObservedAt = t
	return &cs, nil
}

func formatTS(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

// ceilMicro rounds t up to the microsecond precision timestamps are stored
// with, so a lower bound never admits an earlier row.
func ceilMicro(t time.Time) time.Time {
	c := t.Truncate(time.Microsecond)
	if c.Before(t) {
		c = c.Add(time.Microsecond)
	}
	return c
}

func parseTS(s string) (time.Time, error) {
	t, err := time.Parse(tsLayout, s)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
		}
	}
	return t.UTC(), nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func floatPtr(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
