package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// MarketStore implements domain.MarketStore using PostgreSQL.
type MarketStore struct {
	pool *pgxpool.Pool
}

var _ domain.MarketStore = (*MarketStore)(nil)

// NewMarketStore creates a new MarketStore backed by the given connection pool.
func NewMarketStore(pool *pgxpool.Pool) *MarketStore {
	return &MarketStore{pool: pool}
}

const marketCols = `id, question, category, state, outcome, confidence,
	resolution_time, disputed_at, resolved_at, created_at, updated_at`

// Upsert inserts or updates a single market.
func (s *MarketStore) Upsert(ctx context.Context, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			id, question, category, state, outcome, confidence,
			resolution_time, disputed_at, resolved_at, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, NOW()
		)
		ON CONFLICT (id) DO UPDATE SET
			question        = EXCLUDED.question,
			category        = EXCLUDED.category,
			state           = EXCLUDED.state,
			outcome         = EXCLUDED.outcome,
			confidence      = EXCLUDED.confidence,
			resolution_time = EXCLUDED.resolution_time,
			disputed_at     = EXCLUDED.disputed_at,
			resolved_at     = EXCLUDED.resolved_at,
			updated_at      = NOW()`

	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx, query,
		m.ID, m.Question, m.Category,
		string(m.State), string(m.Outcome), m.Confidence,
		m.ResolutionTime, m.DisputedAt, m.ResolvedAt, createdAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert market %d: %w", m.ID, err)
	}
	return nil
}

// scanMarket scans a single market row into a domain.Market.
func scanMarket(row pgx.Row) (domain.Market, error) {
	var m domain.Market
	var state, outcome string
	err := row.Scan(
		&m.ID, &m.Question, &m.Category,
		&state, &outcome, &m.Confidence,
		&m.ResolutionTime, &m.DisputedAt, &m.ResolvedAt,
		&m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return domain.Market{}, err
	}
	m.State = domain.MarketState(state)
	m.Outcome = domain.Outcome(outcome)
	return m, nil
}

// GetByID retrieves a market by its primary key.
func (s *MarketStore) GetByID(ctx context.Context, id int64) (domain.Market, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+marketCols+` FROM markets WHERE id = $1`, id)
	m, err := scanMarket(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Market{}, domain.ErrNotFound
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %d: %w", id, err)
	}
	return m, nil
}

// ListDue returns markets whose resolution time has passed and that are still
// active or resolving, oldest deadline first.
func (s *MarketStore) ListDue(ctx context.Context, now time.Time, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets
		WHERE resolution_time <= $1 AND state IN ('active', 'resolving')
		ORDER BY resolution_time ASC`
	args := []any{now}
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

	return s.queryMarkets(ctx, "list due markets", query, args...)
}

// ListByState returns markets in the given state with pagination and optional
// time filtering.
func (s *MarketStore) ListByState(ctx context.Context, state domain.MarketState, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE state = $1`
	args := []any{string(state)}
	argIdx := 2

	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	return s.queryMarkets(ctx, "list markets by state", query, args...)
}

// SetState updates state, outcome, and confidence together. The resolved_at
// and disputed_at timestamps are maintained as a side effect of the target
// state.
func (s *MarketStore) SetState(ctx context.Context, id int64, state domain.MarketState, outcome domain.Outcome, confidence int) error {
	const query = `
		UPDATE markets SET
			state       = $2,
			outcome     = $3,
			confidence  = $4,
			resolved_at = CASE WHEN $2 = 'resolved' THEN NOW() ELSE resolved_at END,
			disputed_at = CASE WHEN $2 = 'disputed' THEN NOW() ELSE disputed_at END,
			updated_at  = NOW()
		WHERE id = $1`

	tag, err := s.pool.Exec(ctx, query, id, string(state), string(outcome), confidence)
	if err != nil {
		return fmt.Errorf("postgres: set market %d state: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// Count returns the total number of markets in the database.
func (s *MarketStore) Count(ctx context.Context) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM markets").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("postgres: count markets: %w", err)
	}
	return count, nil
}

func (s *MarketStore) queryMarkets(ctx context.Context, op, query string, args ...any) ([]domain.Market, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: %s: %w", op, err)
	}
	defer rows.Close()

	var markets []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: %s scan: %w", op, err)
		}
		markets = append(markets, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: %s rows: %w", op, err)
	}
	return markets, nil
}
