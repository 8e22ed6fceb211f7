// Package store is the durable persistence collaborator. The pipeline only
// ever writes into it: completed runs, constraint violations and approval
// decisions land here for offline querying. Failures are surfaced to the
// caller but treated as best-effort by the orchestrator.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/xkilldash9x/tether-cli/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests can substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	CopyFrom(ctx context.Context, tableName pgx.Identifier, columnNames []string, rowSrc pgx.CopyFromSource) (int64, error)
}

// Store provides a PostgreSQL implementation of the schemas.Persister
// contract.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

// New creates a store instance and verifies the connection.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{
		pool: pool,
		log:  logger.Named("store"),
	}, nil
}

// EnsureSchema creates the tables if they do not exist yet.
func (s *Store) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id BIGSERIAL PRIMARY KEY,
			plan_id TEXT NOT NULL,
			status TEXT NOT NULL,
			result JSONB NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS constraint_violations (
			id BIGSERIAL PRIMARY KEY,
			plan_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			hard BOOLEAN NOT NULL,
			message TEXT NOT NULL,
			recorded_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS approval_decisions (
			id BIGSERIAL PRIMARY KEY,
			request_id TEXT NOT NULL,
			approved BOOLEAN NOT NULL,
			resolution TEXT NOT NULL,
			approver TEXT,
			reason TEXT,
			decided_at TIMESTAMPTZ NOT NULL
		)`,
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	return nil
}

// SaveRun records the final result of a pipeline run.
func (s *Store) SaveRun(ctx context.Context, planID string, status schemas.PipelineStatus, result []byte) error {
	if len(result) == 0 {
		result = []byte("{}")
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (plan_id, status, result, recorded_at) VALUES ($1, $2, $3, $4)`,
		planID, string(status), result, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist run for plan %s: %w", planID, err)
	}
	return nil
}

// SaveViolations records every constraint violation of a rejected plan using
// a single batched copy.
func (s *Store) SaveViolations(ctx context.Context, planID string, violations []schemas.ConstraintViolation) error {
	if len(violations) == 0 {
		return nil
	}

	now := time.Now().UTC()
	rows := make([][]any, len(violations))
	for i, v := range violations {
		rows[i] = []any{planID, string(v.Kind), v.Hard, v.Message, now}
	}

	copyCount, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"constraint_violations"},
		[]string{"plan_id", "kind", "hard", "message", "recorded_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to copy violations for plan %s: %w", planID, err)
	}
	if int(copyCount) != len(violations) {
		return fmt.Errorf("mismatch in copied violation count: expected %d, got %d", len(violations), copyCount)
	}
	return nil
}

// SaveDecision records a single approval decision.
func (s *Store) SaveDecision(ctx context.Context, decision schemas.ApprovalDecision) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO approval_decisions (request_id, approved, resolution, approver, reason, decided_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		decision.RequestID, decision.Approved, string(decision.Resolution),
		decision.Approver, decision.Reason, decision.DecidedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to persist approval decision %s: %w", decision.RequestID, err)
	}
	return nil
}

// MarshalResult serializes any result payload for SaveRun.
func MarshalResult(v any) []byte {
	data, err := json.Marshal(v)
	if err != nil {
		return []byte("{}")
	}
	return data
}
