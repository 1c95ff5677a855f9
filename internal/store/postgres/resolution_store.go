package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// ResolutionStore implements domain.ResolutionStore using PostgreSQL.
type ResolutionStore struct {
	pool *pgxpool.Pool
}

var _ domain.ResolutionStore = (*ResolutionStore)(nil)

// NewResolutionStore creates a new ResolutionStore backed by the given
// connection pool.
func NewResolutionStore(pool *pgxpool.Pool) *ResolutionStore {
	return &ResolutionStore{pool: pool}
}

const requestCols = `id, market_id, question, fulfilled, created_at, fulfilled_at`

// Create inserts a new resolution request.
func (s *ResolutionStore) Create(ctx context.Context, req domain.ResolutionRequest) error {
	createdAt := req.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO resolution_requests (id, market_id, question, fulfilled, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := s.pool.Exec(ctx, query,
		req.ID, req.MarketID, req.Question, req.Fulfilled, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: create resolution request %s: %w", req.ID, err)
	}
	return nil
}

func scanRequest(row pgx.Row) (domain.ResolutionRequest, error) {
	var r domain.ResolutionRequest
	err := row.Scan(&r.ID, &r.MarketID, &r.Question, &r.Fulfilled, &r.CreatedAt, &r.FulfilledAt)
	if err != nil {
		return domain.ResolutionRequest{}, err
	}
	return r, nil
}

// GetByID retrieves a resolution request by its ID.
func (s *ResolutionStore) GetByID(ctx context.Context, id string) (domain.ResolutionRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestCols+` FROM resolution_requests WHERE id = $1`, id)
	r, err := scanRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ResolutionRequest{}, domain.ErrNotFound
		}
		return domain.ResolutionRequest{}, fmt.Errorf("postgres: get resolution request %s: %w", id, err)
	}
	return r, nil
}

// GetByMarket retrieves the most recent resolution request for a market.
func (s *ResolutionStore) GetByMarket(ctx context.Context, marketID int64) (domain.ResolutionRequest, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+requestCols+` FROM resolution_requests
		 WHERE market_id = $1 ORDER BY created_at DESC LIMIT 1`, marketID)
	r, err := scanRequest(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.ResolutionRequest{}, domain.ErrNotFound
		}
		return domain.ResolutionRequest{}, fmt.Errorf("postgres: get resolution request for market %d: %w", marketID, err)
	}
	return r, nil
}

// ListUnfulfilled returns unfulfilled requests created at or after since,
// oldest first.
func (s *ResolutionStore) ListUnfulfilled(ctx context.Context, since time.Time, opts domain.ListOpts) ([]domain.ResolutionRequest, error) {
	query := `SELECT ` + requestCols + ` FROM resolution_requests
		WHERE fulfilled = FALSE AND created_at >= $1
		ORDER BY created_at ASC`
	args := []any{since}
	argIdx := 2

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list unfulfilled requests: %w", err)
	}
	defer rows.Close()

	var reqs []domain.ResolutionRequest
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan resolution request: %w", err)
		}
		reqs = append(reqs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list unfulfilled requests rows: %w", err)
	}
	return reqs, nil
}

// MarkFulfilled atomically flips the fulfilled flag. The conditional WHERE
// clause makes the flip succeed for exactly one caller per request; every
// other caller observes rowsAffected == 0 and gets false back.
func (s *ResolutionStore) MarkFulfilled(ctx context.Context, id string) (bool, error) {
	const query = `
		UPDATE resolution_requests
		SET fulfilled = TRUE, fulfilled_at = NOW()
		WHERE id = $1 AND fulfilled = FALSE`

	tag, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("postgres: mark request %s fulfilled: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		// Distinguish "already fulfilled" from "no such request".
		var exists bool
		if err := s.pool.QueryRow(ctx,
			"SELECT EXISTS(SELECT 1 FROM resolution_requests WHERE id = $1)", id,
		).Scan(&exists); err != nil {
			return false, fmt.Errorf("postgres: check request %s: %w", id, err)
		}
		if !exists {
			return false, domain.ErrNotFound
		}
		return false, nil
	}
	return true, nil
}
