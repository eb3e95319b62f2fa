// Package postgres is the single storage layer of the pipeline: every table
// read or write goes through Store, which implements the persistence
// interfaces the processing packages declare.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"pnl-pipeline/internal/logger"
	"pnl-pipeline/internal/types"
)

// Store wraps a pgx connection pool over the pipeline's tables.
type Store struct {
	pool *pgxpool.Pool
}

// New connects and pings the database.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres.New: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	s.pool.Close()
}

// Beat updates the step's dashboard heartbeat row. Heartbeat failures are
// logged and swallowed; a dead dashboard must never fail a run.
func (s *Store) Beat(ctx context.Context, step string, state types.HeartbeatState, msg string) {
	_, err := s.pool.Exec(ctx, `
		UPDATE engine_heartbeat
		SET status = $2, last_msg = $3, updated_at = now()
		WHERE step_id = $1`,
		step, state.String(), msg)
	if err != nil {
		logger.Warn(ctx, "Heartbeat update failed", "step", step, "error", err)
	}
}

// AccessToken returns the freshest broker session token.
func (s *Store) AccessToken(ctx context.Context) (apiKey, token string, err error) {
	err = s.pool.QueryRow(ctx, `
		SELECT api_key, access_token
		FROM broker_tokens
		ORDER BY updated_at DESC
		LIMIT 1`).Scan(&apiKey, &token)
	if err != nil {
		return "", "", fmt.Errorf("Store.AccessToken: %w", err)
	}
	return apiKey, token, nil
}

// Strategies returns every strategy row.
func (s *Store) Strategies(ctx context.Context) ([]types.StrategyMeta, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT strategy_id, strategy_name, index_name, user_name,
		       strategy_grouping, status, deployment_type, capital
		FROM strategies`)
	if err != nil {
		return nil, fmt.Errorf("Store.Strategies: %w", err)
	}
	defer rows.Close()

	var out []types.StrategyMeta
	for rows.Next() {
		var m types.StrategyMeta
		if err := rows.Scan(&m.ID, &m.Name, &m.IndexName, &m.UserName,
			&m.Grouping, &m.Status, &m.DeploymentType, &m.Capital); err != nil {
			return nil, fmt.Errorf("Store.Strategies: scan: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
