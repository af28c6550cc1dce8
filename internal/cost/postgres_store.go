package cost

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type DB interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore persists cost records so cost history survives
// restarts. The in-memory Tracker remains the source of truth for
// Summary(); this store only backs the usage query surface.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) LogRecord(ctx context.Context, rec *Record) error {
	query := `
		INSERT INTO cost_records (id, query_id, tier, cache_status, input_tokens, output_tokens, cost_usd, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := s.db.Exec(ctx, query,
		rec.ID, rec.QueryID, rec.Tier, string(rec.Status),
		rec.InputTokens, rec.OutputTokens, rec.CostUSD, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to log cost record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Records(ctx context.Context, from, to time.Time) ([]*Record, error) {
	query := `
		SELECT id, query_id, tier, cache_status, input_tokens, output_tokens, cost_usd, created_at
		FROM cost_records
		WHERE created_at BETWEEN $1 AND $2
		ORDER BY created_at DESC
	`
	rows, err := s.db.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query cost records: %w", err)
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		var rec Record
		var status string
		err := rows.Scan(
			&rec.ID, &rec.QueryID, &rec.Tier, &status,
			&rec.InputTokens, &rec.OutputTokens, &rec.CostUSD, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cost record: %w", err)
		}
		rec.Status = Status(status)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cost records: %w", err)
	}

	return records, nil
}

func (s *PostgresStore) TotalCost(ctx context.Context, from, to time.Time) (float64, error) {
	query := `
		SELECT COALESCE(SUM(cost_usd), 0)
		FROM cost_records
		WHERE created_at BETWEEN $1 AND $2
	`
	var total float64
	err := s.db.QueryRow(ctx, query, from, to).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("failed to get total cost: %w", err)
	}
	return total, nil
}
