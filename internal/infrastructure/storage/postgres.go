package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vitos/coin_listing_tracker/internal/config"
	"github.com/vitos/coin_listing_tracker/internal/domain"
)

// PostgresStore keeps the same two-table model as SQLiteStore with native
// timestamps.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.PostgresConfig) (*PostgresStore, error) {
	return NewPostgresStoreFromDSN(ctx, BuildConnString(cfg), cfg.MinConns, cfg.MaxConns)
}

func NewPostgresStoreFromDSN(ctx context.Context, dsn string, minConns, maxConns int) (*PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	if maxConns > 0 {
		poolConfig.MaxConns = int32(maxConns)
	}
	if minConns > 0 {
		poolConfig.MinConns = int32(minConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS coins (
			id BIGINT PRIMARY KEY,
			name TEXT NOT NULL,
			symbol TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS snapshots (
			id BIGSERIAL PRIMARY KEY,
			coin_id BIGINT NOT NULL REFERENCES coins(id),
			ts_utc TIMESTAMPTZ NOT NULL,
			cmc_rank INTEGER,
			price_usd DOUBLE PRECISION,
			market_cap_usd DOUBLE PRECISION,
			change_24h DOUBLE PRECISION
		)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_coin_id ON snapshots(coin_id)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_ts_utc ON snapshots(ts_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_snapshots_coin_ts ON snapshots(coin_id, ts_utc)`,
		`CREATE INDEX IF NOT EXISTS idx_coins_symbol ON coins(UPPER(symbol))`,
	}

	for _, q := range queries {
		if _, err := s.pool.Exec(ctx, q); err != nil {
			return &domain.StorageError{Op: "ensure schema", Err: fmt.Errorf("failed to exec query %s: %w", q, err)}
		}
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, observations []domain.CoinObservation) error {
	if len(observations) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &domain.StorageError{Op: "begin", Err: err}
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	for _, o := range observations {
		batch.Queue(`INSERT INTO coins (id, name, symbol) VALUES ($1, $2, $3) ON CONFLICT (id) DO NOTHING`,
			o.ID, o.Name, o.Symbol)
		batch.Queue(`INSERT INTO snapshots (coin_id, ts_utc, cmc_rank, price_usd, market_cap_usd, change_24h)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			o.ID, o.ObservedAt.UTC(), o.Rank, o.PriceUSD, o.MarketCapUSD, o.Change24hPct)
	}

	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return &domain.StorageError{Op: "save", Err: fmt.Errorf("coin %d: %w", observations[i/2].ID, err)}
		}
	}
	if err := br.Close(); err != nil {
		return &domain.StorageError{Op: "save", Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &domain.StorageError{Op: "commit", Err: err}
	}
	return nil
}

func (s *PostgresStore) LatestRanked(ctx context.Context, limit int) ([]domain.CoinSnapshot, error) {
	out := []domain.CoinSnapshot{}
	if limit <= 0 {
		return out, nil
	}

	rows, err := s.pool.Query(ctx, `SELECT c.id, c.name, c.symbol, s.cmc_rank, s.price_usd, s.market_cap_usd, s.change_24h, s.ts_utc
		FROM snapshots s
		JOIN coins c ON s.coin_id = c.id
		WHERE s.ts_utc = (SELECT MAX(ts_utc) FROM snapshots)
		AND s.cmc_rank IS NOT NULL
		ORDER BY s.cmc_rank ASC, c.id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, &domain.StorageError{Op: "latest ranked", Err: err}
	}
	defer rows.Close()

	for rows.Next() {
		cs, err := scanPgCoinSnapshot(rows)
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

func (s *PostgresStore) Latest(ctx context.Context, symbol string) (*domain.CoinSnapshot, error) {
	coinID, err := s.resolveCoinID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	row := s.pool.QueryRow(ctx, `SELECT c.id, c.name, c.symbol, s.cmc_rank, s.price_usd, s.market_cap_usd, s.change_24h, s.ts_utc
		FROM snapshots s
		JOIN coins c ON s.coin_id = c.id
		WHERE s.coin_id = $1
		ORDER BY s.ts_utc DESC, s.id DESC
		LIMIT 1`, coinID)
	cs, err := scanPgCoinSnapshot(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, &domain.StorageError{Op: "latest", Err: err}
	}
	return cs, nil
}

func (s *PostgresStore) History(ctx context.Context, symbol string, since time.Time) ([]domain.HistoryPoint, error) {
	coinID, err := s.resolveCoinID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	query := `SELECT ts_utc, price_usd, market_cap_usd FROM snapshots WHERE coin_id = $1`
	args := []any{coinID}
	if !since.IsZero() {
		query += ` AND ts_utc >= $2`
		args = append(args, ceilMicro(since).UTC())
	}
	query += ` ORDER BY ts_utc ASC, id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, &domain.StorageError{Op: "history", Err: err}
	}
	defer rows.Close()

	points := []domain.HistoryPoint{}
	for rows.Next() {
		var p domain.HistoryPoint
		if err := rows.Scan(&p.Timestamp, &p.PriceUSD, &p.MarketCapUSD); err != nil {
			return nil, &domain.StorageError{Op: "history", Err: err}
		}
		p.Timestamp = p.Timestamp.UTC()
		points = append(points, p)
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.StorageError{Op: "history", Err: err}
	}
	return points, nil
}

func (s *PostgresStore) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM snapshots`).Scan(&n); err != nil {
		return 0, &domain.StorageError{Op: "count", Err: err}
	}
	return n, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) resolveCoinID(ctx context.Context, symbol string) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `SELECT c.id
		FROM coins c
		LEFT JOIN snapshots s ON s.coin_id = c.id
		AND s.ts_utc = (SELECT MAX(ts_utc) FROM snapshots WHERE coin_id = c.id)
		WHERE UPPER(c.symbol) = UPPER($1)
		ORDER BY s.ts_utc IS NULL, s.ts_utc DESC, s.cmc_rank IS NULL, s.cmc_rank ASC, c.id ASC
		LIMIT 1`, symbol).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, domain.ErrNotFound
	}
	if err != nil {
		return 0, &domain.StorageError{Op: "resolve symbol", Err: err}
	}
	return id, nil
}

func scanPgCoinSnapshot(r pgx.Row) (*domain.CoinSnapshot, error) {
	var (
		cs   domain.CoinSnapshot
		rank *int32
	)
	if err := r.Scan(&cs.ID, &cs.Name, &cs.Symbol, &rank, &cs.PriceUSD, &cs.MarketCapUSD, &cs.Change24hPct, &cs.ObservedAt); err != nil {
		return nil, err
	}
	if rank != nil {
		v := int(*rank)
		cs.Rank = &v
	}
	cs.ObservedAt = cs.ObservedAt.UTC()
	return &cs, nil
}
