package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// ConsensusAuditStore implements domain.ConsensusAuditStore using PostgreSQL.
// Per-model votes are stored as a JSONB column alongside the aggregated
// result so a single row carries the whole trail for one request.
type ConsensusAuditStore struct {
	pool *pgxpool.Pool
}

var _ domain.ConsensusAuditStore = (*ConsensusAuditStore)(nil)

// NewConsensusAuditStore creates a new ConsensusAuditStore backed by the given
// connection pool.
func NewConsensusAuditStore(pool *pgxpool.Pool) *ConsensusAuditStore {
	return &ConsensusAuditStore{pool: pool}
}

// Record stores the consensus result for a request. Re-recording the same
// request overwrites the previous row; retries after a relay failure produce a
// fresh consensus run whose trail supersedes the old one.
func (s *ConsensusAuditStore) Record(ctx context.Context, requestID string, result domain.ConsensusResult) error {
	votesJSON, err := json.Marshal(result.Votes)
	if err != nil {
		return fmt.Errorf("postgres: marshal consensus votes: %w", err)
	}

	createdAt := result.Timestamp
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO consensus_audit (
			request_id, market_id, outcome, confidence,
			yes_votes, no_votes, invalid_votes, votes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (request_id) DO UPDATE SET
			market_id     = EXCLUDED.market_id,
			outcome       = EXCLUDED.outcome,
			confidence    = EXCLUDED.confidence,
			yes_votes     = EXCLUDED.yes_votes,
			no_votes      = EXCLUDED.no_votes,
			invalid_votes = EXCLUDED.invalid_votes,
			votes         = EXCLUDED.votes,
			created_at    = EXCLUDED.created_at`

	_, err = s.pool.Exec(ctx, query,
		requestID, result.MarketID, string(result.Outcome), result.Confidence,
		result.YesVotes, result.NoVotes, result.InvalidVotes, votesJSON, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: record consensus audit %s: %w", requestID, err)
	}
	return nil
}

// GetByRequest retrieves the consensus result recorded for a request.
func (s *ConsensusAuditStore) GetByRequest(ctx context.Context, requestID string) (domain.ConsensusResult, error) {
	const query = `
		SELECT market_id, outcome, confidence, yes_votes, no_votes, invalid_votes, votes, created_at
		FROM consensus_audit WHERE request_id = $1`

	var r domain.ConsensusResult
	var outcome string
	var votesJSON []byte
	err := s.pool.QueryRow(ctx, query, requestID).Scan(
		&r.MarketID, &outcome, &r.Confidence,
		&r.YesVotes, &r.NoVotes, &r.InvalidVotes, &votesJSON, &r.Timestamp)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ConsensusResult{}, domain.ErrNotFound
		}
		return domain.ConsensusResult{}, fmt.Errorf("postgres: get consensus audit %s: %w", requestID, err)
	}
	r.Outcome = domain.Outcome(outcome)

	if len(votesJSON) > 0 {
		if err := json.Unmarshal(votesJSON, &r.Votes); err != nil {
			return domain.ConsensusResult{}, fmt.Errorf("postgres: unmarshal consensus votes: %w", err)
		}
	}
	return r, nil
}

// ListBefore returns request IDs whose audit rows are older than cutoff,
// oldest first, up to limit.
func (s *ConsensusAuditStore) ListBefore(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	const query = `
		SELECT request_id FROM consensus_audit
		WHERE created_at < $1 ORDER BY created_at ASC LIMIT $2`

	rows, err := s.pool.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list consensus audit before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("postgres: scan consensus audit id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list consensus audit rows: %w", err)
	}
	return ids, nil
}

// DeleteByRequest removes archived rows from the hot store.
func (s *ConsensusAuditStore) DeleteByRequest(ctx context.Context, requestIDs []string) error {
	if len(requestIDs) == 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		"DELETE FROM consensus_audit WHERE request_id = ANY($1)", requestIDs)
	if err != nil {
		return fmt.Errorf("postgres: delete %d consensus audit rows: %w", len(requestIDs), err)
	}
	return nil
}
