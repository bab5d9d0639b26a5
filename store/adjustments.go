package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"barflow/models"
)

const adjustmentsSchema = `
CREATE TABLE IF NOT EXISTS splits (
	sid            BIGINT NOT NULL,
	effective_date TIMESTAMPTZ NOT NULL,
	ratio          DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (sid, effective_date)
);
CREATE TABLE IF NOT EXISTS dividends (
	sid           BIGINT NOT NULL,
	ex_date       TIMESTAMPTZ NOT NULL,
	record_date   TIMESTAMPTZ NOT NULL,
	declared_date TIMESTAMPTZ NOT NULL,
	pay_date      TIMESTAMPTZ NOT NULL,
	amount        DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (sid, ex_date)
);
`

// AdjustmentStore persists the corporate-action tables produced by a run.
type AdjustmentStore struct {
	db *pgxpool.Pool
}

func NewAdjustmentStore(db *pgxpool.Pool) *AdjustmentStore {
	return &AdjustmentStore{db: db}
}

// EnsureSchema creates the splits and dividends tables if they do not exist.
func (s *AdjustmentStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, adjustmentsSchema); err != nil {
		return fmt.Errorf("store: ensure adjustments schema: %w", err)
	}
	return nil
}

// WriteSplits upserts split events.
func (s *AdjustmentStore) WriteSplits(ctx context.Context, events []models.SplitEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO splits (sid, effective_date, ratio)
			VALUES ($1, $2, $3)
			ON CONFLICT (sid, effective_date) DO UPDATE SET ratio = EXCLUDED.ratio
		`, e.Sid, e.EffectiveDate, e.Ratio)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store: write splits: %w", err)
		}
	}
	return nil
}

// WriteDividends upserts dividend events.
func (s *AdjustmentStore) WriteDividends(ctx context.Context, events []models.DividendEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(`
			INSERT INTO dividends (sid, ex_date, record_date, declared_date, pay_date, amount)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (sid, ex_date) DO UPDATE
			SET record_date = EXCLUDED.record_date,
			    declared_date = EXCLUDED.declared_date,
			    pay_date = EXCLUDED.pay_date,
			    amount = EXCLUDED.amount
		`, e.Sid, e.ExDate, e.RecordDate, e.DeclaredDate, e.PayDate, e.Amount)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("store: write dividends: %w", err)
		}
	}
	return nil
}
