package db

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rawblock/wallet-investigator/internal/heuristics"
	"github.com/rawblock/wallet-investigator/pkg/models"
	"github.com/rs/zerolog/log"
)

// schemaSQL is compiled into the binary at build time so schema init works
// inside a runtime image that does not ship internal/db/schema.sql.
//
//go:embed schema.sql
var schemaSQL string

type PostgresStore struct {
	pool *pgxpool.Pool
}

// Connect initializes the connection pool to PostgreSQL using pgx
func Connect(ctx context.Context, connStr string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")
	return &PostgresStore{pool: pool}, nil
}

// Close gracefully closes the connection pool
func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// InitSchema executes the embedded schema.sql DDL statements.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema migrations: %w", err)
	}
	log.Info().Msg("Investigation schema initialized")
	return nil
}

// Persist stores an opinion and its signals in one transaction. Re-persisting
// the same investigation replaces its signal rows.
func (s *PostgresStore) Persist(ctx context.Context, investigationID string, opinion models.RiskOpinion) error {
	payload, err := json.Marshal(opinion)
	if err != nil {
		return fmt.Errorf("encode opinion: %w", err)
	}

	// 1. Begin Transaction
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// 2. Upsert the investigation row
	upsertSQL := `
		INSERT INTO investigations
			(id, seed_chain, seed_address, risk_score, risk_level, complete, failed_branches, path_count, opinion)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			risk_score = EXCLUDED.risk_score,
			risk_level = EXCLUDED.risk_level,
			complete = EXCLUDED.complete,
			failed_branches = EXCLUDED.failed_branches,
			path_count = EXCLUDED.path_count,
			opinion = EXCLUDED.opinion,
			updated_at = NOW();
	`
	_, err = tx.Exec(ctx, upsertSQL, investigationID, string(opinion.Seed.Chain), opinion.Seed.Value,
		opinion.Score, string(opinion.Level), opinion.Complete, opinion.FailedBranches, opinion.PathCount, payload)
	if err != nil {
		return fmt.Errorf("failed to upsert investigation: %w", err)
	}

	// 3. Replace the signal rows
	if _, err := tx.Exec(ctx, `DELETE FROM risk_signals WHERE investigation_id = $1`, investigationID); err != nil {
		return fmt.Errorf("failed to clear risk signals: %w", err)
	}
	insertSignalSQL := `
		INSERT INTO risk_signals (investigation_id, kind, subject, severity, evidence)
		VALUES ($1, $2, $3, $4, $5);
	`
	for _, sig := range opinion.Signals {
		if _, err := tx.Exec(ctx, insertSignalSQL, investigationID, string(sig.Kind), sig.Subject(), sig.Severity, sig.Evidence); err != nil {
			return fmt.Errorf("failed to insert risk signal: %w", err)
		}
	}

	// 4. Commit transaction
	return tx.Commit(ctx)
}

// InvestigationRow is the summary stored for a persisted investigation
type InvestigationRow struct {
	ID             string           `json:"id"`
	Seed           models.Address   `json:"seed"`
	Score          float64          `json:"score"`
	Level          models.RiskLevel `json:"level"`
	Complete       bool             `json:"complete"`
	FailedBranches int              `json:"failedBranches"`
	PathCount      int              `json:"pathCount"`
	CreatedAt      time.Time        `json:"createdAt"`
}

// ListInvestigations pages persisted investigations, newest first
func (s *PostgresStore) ListInvestigations(ctx context.Context, page int, limit int) ([]InvestigationRow, int, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * limit

	// Get total count first
	var totalCount int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM investigations`).Scan(&totalCount); err != nil {
		return nil, 0, err
	}

	dataSQL := `
		SELECT id::text, seed_chain, seed_address, risk_score, risk_level, complete, failed_branches, path_count, created_at
		FROM investigations
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.pool.Query(ctx, dataSQL, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []InvestigationRow{}
	for rows.Next() {
		var r InvestigationRow
		var chain, level string
		if err := rows.Scan(&r.ID, &chain, &r.Seed.Value, &r.Score, &level, &r.Complete, &r.FailedBranches, &r.PathCount, &r.CreatedAt); err != nil {
			return nil, 0, err
		}
		r.Seed.Chain = models.ChainID(chain)
		r.Level = models.RiskLevel(level)
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	return out, totalCount, nil
}

// SaveKnownRisk upserts a known-risk reference address.
func (s *PostgresStore) SaveKnownRisk(ctx context.Context, entry heuristics.WatchedAddress) error {
	sql := `
		INSERT INTO known_risk_addresses (chain, address, category, label, severity, source)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chain, address) DO UPDATE SET
			category = EXCLUDED.category,
			label = EXCLUDED.label,
			severity = EXCLUDED.severity,
			source = EXCLUDED.source,
			added_at = NOW();
	`
	_, err := s.pool.Exec(ctx, sql, string(entry.Address.Chain), entry.Address.Value,
		entry.Category, entry.Label, entry.Severity, entry.Source)
	return err
}

// LoadKnownRiskAddresses loads every stored reference address for
// warm-starting the watchlist on process boot.
func (s *PostgresStore) LoadKnownRiskAddresses(ctx context.Context) ([]heuristics.WatchedAddress, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT chain, address, category, label, severity, source, added_at
		FROM known_risk_addresses;
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := make([]heuristics.WatchedAddress, 0)
	for rows.Next() {
		var e heuristics.WatchedAddress
		var chain, address string
		if err := rows.Scan(&chain, &address, &e.Category, &e.Label, &e.Severity, &e.Source, &e.AddedAt); err != nil {
			return nil, err
		}
		e.Address = models.NewAddress(models.ChainID(chain), address)
		entries = append(entries, e)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}
