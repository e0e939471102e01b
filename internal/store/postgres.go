package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/paper-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All prices and amounts are stored as NUMERIC for exact decimal precision.
// Each save replaces its table inside one transaction, so a failed save
// leaves the previous collection intact.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS narrative_overrides (
		   market_slug TEXT PRIMARY KEY,
		   narrative   TEXT NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS paper_trades (
		   seq         BIGINT NOT NULL,
		   id          TEXT PRIMARY KEY,
		   side        TEXT NOT NULL,
		   market_slug TEXT NOT NULL,
		   question    TEXT NOT NULL,
		   outcome     TEXT NOT NULL,
		   entry_price NUMERIC NOT NULL,
		   amount      NUMERIC NOT NULL,
		   shares      BIGINT NOT NULL,
		   rationale   TEXT NOT NULL,
		   confidence  TEXT NOT NULL,
		   opened_at   TIMESTAMPTZ NOT NULL,
		   status      TEXT NOT NULL,
		   test        BOOLEAN NOT NULL,
		   exit_price  NUMERIC,
		   pnl         NUMERIC,
		   won         BOOLEAN,
		   closed_at   TIMESTAMPTZ
		 )`,
		`CREATE TABLE IF NOT EXISTS positions (
		   seq         BIGINT NOT NULL,
		   id          TEXT PRIMARY KEY,
		   market_name TEXT NOT NULL,
		   market_slug TEXT NOT NULL,
		   shares      BIGINT NOT NULL,
		   entry_price NUMERIC NOT NULL,
		   status      TEXT NOT NULL
		 )`,
		`CREATE TABLE IF NOT EXISTS rejected_records (
		   doc         TEXT NOT NULL,
		   id          TEXT NOT NULL,
		   payload     JSONB NOT NULL,
		   rejected_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		   PRIMARY KEY (doc, id)
		 )`,
		`CREATE TABLE IF NOT EXISTS news_events (
		   id           TEXT PRIMARY KEY,
		   headline     TEXT NOT NULL,
		   source       TEXT NOT NULL,
		   market_slug  TEXT NOT NULL,
		   ts           TIMESTAMPTZ NOT NULL,
		   price_before NUMERIC,
		   price_after  NUMERIC
		 )`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) LoadOverrides(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT market_slug, narrative FROM narrative_overrides`)
	if err != nil {
		return nil, fmt.Errorf("load overrides: %w", err)
	}
	defer rows.Close()

	overrides := make(map[string]string)
	for rows.Next() {
		var slug, narrative string
		if err := rows.Scan(&slug, &narrative); err != nil {
			return nil, err
		}
		overrides[slug] = narrative
	}
	return overrides, rows.Err()
}

func (s *PostgresStore) SaveOverrides(ctx context.Context, overrides map[string]string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM narrative_overrides`); err != nil {
			return err
		}
		for slug, narrative := range overrides {
			if _, err := tx.Exec(ctx,
				`INSERT INTO narrative_overrides (market_slug, narrative) VALUES ($1, $2)`,
				slug, narrative); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadTrades(ctx context.Context) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, side, market_slug, question, outcome,
		        entry_price::TEXT, amount::TEXT, shares, rationale, confidence,
		        opened_at, status, test,
		        exit_price::TEXT, pnl::TEXT, won, closed_at
		 FROM paper_trades ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var entryS, amountS string
		var exitS, pnlS *string

		if err := rows.Scan(&t.ID, &t.Side, &t.MarketSlug, &t.Question, &t.Outcome,
			&entryS, &amountS, &t.Shares, &t.Rationale, &t.Confidence,
			&t.OpenedAt, &t.Status, &t.Test,
			&exitS, &pnlS, &t.Won, &t.ClosedAt); err != nil {
			return nil, err
		}

		t.EntryPriceCents, _ = decimal.NewFromString(entryS)
		t.Amount, _ = decimal.NewFromString(amountS)
		t.ExitPriceCents = parseNullable(exitS)
		t.PnL = parseNullable(pnlS)
		trades = append(trades, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	valid, rejected := keepValid(trades, DocTrades)
	if err := keepRejectedRows(ctx, s.pool, DocTrades, rejected, func(t model.Trade) string { return t.ID }); err != nil {
		return nil, err
	}
	return valid, nil
}

func (s *PostgresStore) SaveTrades(ctx context.Context, trades []model.Trade) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM paper_trades`); err != nil {
			return err
		}
		for i, t := range trades {
			_, err := tx.Exec(ctx,
				`INSERT INTO paper_trades (seq, id, side, market_slug, question, outcome,
				   entry_price, amount, shares, rationale, confidence, opened_at, status, test,
				   exit_price, pnl, won, closed_at)
				 VALUES ($1, $2, $3, $4, $5, $6, $7::NUMERIC, $8::NUMERIC, $9, $10, $11, $12, $13, $14,
				   $15::NUMERIC, $16::NUMERIC, $17, $18)`,
				i, t.ID, t.Side, t.MarketSlug, t.Question, t.Outcome,
				t.EntryPriceCents.String(), t.Amount.String(), t.Shares, t.Rationale, t.Confidence,
				t.OpenedAt, t.Status, t.Test,
				formatNullable(t.ExitPriceCents), formatNullable(t.PnL), t.Won, t.ClosedAt,
			)
			if err != nil {
				return fmt.Errorf("insert trade %s: %w", t.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadPositions(ctx context.Context) ([]model.Position, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, market_name, market_slug, shares, entry_price::TEXT, status
		 FROM positions ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("load positions: %w", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var entryS string
		if err := rows.Scan(&p.ID, &p.MarketName, &p.MarketSlug, &p.Shares, &entryS, &p.Status); err != nil {
			return nil, err
		}
		p.EntryPriceCents, _ = decimal.NewFromString(entryS)
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	valid, rejected := keepValid(positions, DocPositions)
	if err := keepRejectedRows(ctx, s.pool, DocPositions, rejected, func(p model.Position) string { return p.ID }); err != nil {
		return nil, err
	}
	return valid, nil
}

func (s *PostgresStore) SavePositions(ctx context.Context, positions []model.Position) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM positions`); err != nil {
			return err
		}
		for i, p := range positions {
			_, err := tx.Exec(ctx,
				`INSERT INTO positions (seq, id, market_name, market_slug, shares, entry_price, status)
				 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7)`,
				i, p.ID, p.MarketName, p.MarketSlug, p.Shares, p.EntryPriceCents.String(), p.Status,
			)
			if err != nil {
				return fmt.Errorf("insert position %s: %w", p.ID, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) LoadNews(ctx context.Context) ([]model.NewsEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, headline, source, market_slug, ts, price_before::TEXT, price_after::TEXT
		 FROM news_events ORDER BY ts`)
	if err != nil {
		return nil, fmt.Errorf("load news: %w", err)
	}
	defer rows.Close()

	var events []model.NewsEvent
	for rows.Next() {
		var n model.NewsEvent
		var beforeS, afterS *string
		var ts time.Time
		if err := rows.Scan(&n.ID, &n.Headline, &n.Source, &n.MarketSlug, &ts, &beforeS, &afterS); err != nil {
			return nil, err
		}
		n.Timestamp = ts.UTC()
		n.PriceBefore = parseNullable(beforeS)
		n.PriceAfter = parseNullable(afterS)
		events = append(events, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	valid, rejected := keepValid(events, DocNews)
	if err := keepRejectedRows(ctx, s.pool, DocNews, rejected, func(n model.NewsEvent) string { return n.ID }); err != nil {
		return nil, err
	}
	return valid, nil
}

func (s *PostgresStore) SaveNews(ctx context.Context, events []model.NewsEvent) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM news_events`); err != nil {
			return err
		}
		for _, n := range events {
			_, err := tx.Exec(ctx,
				`INSERT INTO news_events (id, headline, source, market_slug, ts, price_before, price_after)
				 VALUES ($1, $2, $3, $4, $5, $6::NUMERIC, $7::NUMERIC)`,
				n.ID, n.Headline, n.Source, n.MarketSlug, n.Timestamp,
				formatNullable(n.PriceBefore), formatNullable(n.PriceAfter),
			)
			if err != nil {
				return fmt.Errorf("insert news %s: %w", n.ID, err)
			}
		}
		return nil
	})
}

// keepRejectedRows copies rows that failed validation into rejected_records
// before the next save of doc deletes them.
func keepRejectedRows[T any](ctx context.Context, pool *pgxpool.Pool, doc string, rejected []T, idOf func(T) string) error {
	for _, r := range rejected {
		payload, err := json.Marshal(r)
		if err != nil {
			return err
		}
		if _, err := pool.Exec(ctx,
			`INSERT INTO rejected_records (doc, id, payload) VALUES ($1, $2, $3::JSONB)
			 ON CONFLICT (doc, id) DO UPDATE SET payload = EXCLUDED.payload`,
			doc, idOf(r), string(payload)); err != nil {
			return fmt.Errorf("keep rejected %s %s: %w", doc, idOf(r), err)
		}
	}
	if len(rejected) > 0 {
		slog.Warn("rejected records kept aside", "doc", doc, "count", len(rejected), "table", "rejected_records")
	}
	return nil
}

func parseNullable(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	v, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &v
}

func formatNullable(v *decimal.Decimal) *string {
	if v == nil {
		return nil
	}
	s := v.String()
	return &s
}
