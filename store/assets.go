package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"barflow/identity"
	"barflow/models"
)

const assetsSchema = `
CREATE TABLE IF NOT EXISTS equities (
	sid             BIGINT NOT NULL,
	symbol          TEXT NOT NULL,
	exchange        TEXT NOT NULL DEFAULT '',
	start_date      TIMESTAMPTZ NOT NULL,
	end_date        TIMESTAMPTZ NOT NULL,
	first_traded    TIMESTAMPTZ NOT NULL,
	auto_close_date TIMESTAMPTZ NOT NULL,
	is_primary      BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (sid, symbol, start_date)
);
CREATE INDEX IF NOT EXISTS equities_symbol_idx ON equities (symbol);
`

// AssetStore reads and writes the equities identity table. It doubles as the
// identity.Registry consulted on incremental runs.
type AssetStore struct {
	db *pgxpool.Pool
}

var _ identity.Registry = (*AssetStore)(nil)

func NewAssetStore(db *pgxpool.Pool) *AssetStore {
	return &AssetStore{db: db}
}

// EnsureSchema creates the equities table if it does not exist.
func (s *AssetStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, assetsSchema); err != nil {
		return fmt.Errorf("store: ensure equities schema: %w", err)
	}
	return nil
}

// WriteIdentities upserts the run's identity rows.
func (s *AssetStore) WriteIdentities(ctx context.Context, rows []models.SecurityIdentity) error {
	if len(rows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, r := range rows {
		batch.Queue(`
			INSERT INTO equities (sid, symbol, exchange, start_date, end_date, first_traded, auto_close_date, is_primary)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (sid, symbol, start_date) DO UPDATE
			SET exchange = EXCLUDED.exchange,
			    end_date = EXCLUDED.end_date,
			    auto_close_date = EXCLUDED.auto_close_date,
			    is_primary = EXCLUDED.is_primary
		`, r.Sid, r.Symbol, r.Exchange, r.StartDate, r.EndDate, r.FirstTraded, r.AutoCloseDate, r.Primary)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range rows {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store: write identities: %w", err)
		}
	}
	return nil
}

// Lookup resolves symbol to its sid as of the given date. When no listing
// window covers asOf, the most recently listed occurrence of the symbol wins.
func (s *AssetStore) Lookup(ctx context.Context, symbol string, asOf time.Time) (int64, error) {
	var sid int64
	err := s.db.QueryRow(ctx, `
		SELECT sid FROM equities
		WHERE symbol = $1 AND start_date <= $2 AND end_date >= $2
		ORDER BY end_date DESC
		LIMIT 1
	`, symbol, asOf).Scan(&sid)
	if errors.Is(err, pgx.ErrNoRows) {
		err = s.db.QueryRow(ctx, `
			SELECT sid FROM equities
			WHERE symbol = $1
			ORDER BY end_date DESC
			LIMIT 1
		`, symbol).Scan(&sid)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, identity.ErrSymbolNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("store: lookup %s: %w", symbol, err)
	}
	return sid, nil
}

// MaxAssignedSid returns the highest stored sid, or -1 when the table is
// empty.
func (s *AssetStore) MaxAssignedSid(ctx context.Context) (int64, error) {
	var maxSid int64
	err := s.db.QueryRow(ctx, `SELECT COALESCE(MAX(sid), -1) FROM equities`).Scan(&maxSid)
	if err != nil {
		return 0, fmt.Errorf("store: max assigned sid: %w", err)
	}
	return maxSid, nil
}
