package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"barflow/align"
)

const fundamentalsSchema = `
CREATE TABLE IF NOT EXISTS fundamentals (
	date  TIMESTAMPTZ NOT NULL,
	sid   BIGINT NOT NULL,
	name  TEXT NOT NULL,
	value DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (name, date, sid)
);
CREATE INDEX IF NOT EXISTS fundamentals_name_idx ON fundamentals (name);
`

// FundamentalStore persists per-security fundamental observations keyed by
// field name, and serves them back as alignment-cache columns.
type FundamentalStore struct {
	db *pgxpool.Pool
}

var _ align.ColumnSource = (*FundamentalStore)(nil)

func NewFundamentalStore(db *pgxpool.Pool) *FundamentalStore {
	return &FundamentalStore{db: db}
}

// EnsureSchema creates the fundamentals table if it does not exist.
func (s *FundamentalStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, fundamentalsSchema); err != nil {
		return fmt.Errorf("store: ensure fundamentals schema: %w", err)
	}
	return nil
}

// Write upserts observations for one named column.
func (s *FundamentalStore) Write(ctx context.Context, name string, obs []align.Observation) error {
	if len(obs) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, o := range obs {
		batch.Queue(`
			INSERT INTO fundamentals (date, sid, name, value)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (name, date, sid) DO UPDATE SET value = EXCLUDED.value
		`, o.Date, o.Sid, name, o.Value)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range obs {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store: write fundamentals %s: %w", name, err)
		}
	}
	return nil
}

// LoadColumn returns every observation for one column ordered by date then
// sid. An unknown column maps to align.ErrMissingColumn.
func (s *FundamentalStore) LoadColumn(ctx context.Context, name string) ([]align.Observation, error) {
	rows, err := s.db.Query(ctx, `
		SELECT date, sid, value FROM fundamentals
		WHERE name = $1
		ORDER BY date, sid
	`, name)
	if err != nil {
		return nil, fmt.Errorf("store: load column %s: %w", name, err)
	}
	defer rows.Close()

	var obs []align.Observation
	for rows.Next() {
		var o align.Observation
		if err := rows.Scan(&o.Date, &o.Sid, &o.Value); err != nil {
			return nil, fmt.Errorf("store: scan %s observation: %w", name, err)
		}
		obs = append(obs, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: load column %s: %w", name, err)
	}
	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: %s", align.ErrMissingColumn, name)
	}
	return obs, nil
}
