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

// ExpertiseStore implements domain.ExpertiseStore using PostgreSQL.
type ExpertiseStore struct {
	pool *pgxpool.Pool
}

var _ domain.ExpertiseStore = (*ExpertiseStore)(nil)

// NewExpertiseStore creates a new ExpertiseStore backed by the given
// connection pool.
func NewExpertiseStore(pool *pgxpool.Pool) *ExpertiseStore {
	return &ExpertiseStore{pool: pool}
}

// Register inserts a new expertise entry. A duplicate (owner, domain) pair is
// an error.
func (s *ExpertiseStore) Register(ctx context.Context, e domain.Expertise) error {
	attestersJSON, err := json.Marshal(e.Attesters)
	if err != nil {
		return fmt.Errorf("postgres: marshal attesters: %w", err)
	}

	createdAt := e.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO expertise (owner, domain, score, verified, verified_at, attesters, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err = s.pool.Exec(ctx, query,
		e.Owner, e.Domain, e.Score, e.Verified, e.VerifiedAt, attestersJSON, createdAt)
	if err != nil {
		return fmt.Errorf("postgres: register expertise %s/%s: %w", e.Owner, e.Domain, err)
	}
	return nil
}

func scanExpertise(row pgx.Row) (domain.Expertise, error) {
	var e domain.Expertise
	var attestersJSON []byte
	err := row.Scan(&e.Owner, &e.Domain, &e.Score, &e.Verified, &e.VerifiedAt, &attestersJSON, &e.CreatedAt)
	if err != nil {
		return domain.Expertise{}, err
	}
	if len(attestersJSON) > 0 {
		if err := json.Unmarshal(attestersJSON, &e.Attesters); err != nil {
			return domain.Expertise{}, fmt.Errorf("postgres: unmarshal attesters: %w", err)
		}
	}
	return e, nil
}

const expertiseCols = `owner, domain, score, verified, verified_at, attesters, created_at`

// Get retrieves one expertise entry by owner and domain.
func (s *ExpertiseStore) Get(ctx context.Context, owner, dom string) (domain.Expertise, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+expertiseCols+` FROM expertise WHERE owner = $1 AND domain = $2`,
		owner, dom)
	e, err := scanExpertise(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Expertise{}, domain.ErrNotFound
		}
		return domain.Expertise{}, fmt.Errorf("postgres: get expertise %s/%s: %w", owner, dom, err)
	}
	return e, nil
}

// Update rewrites score, verified, verifiedAt, and the attester set.
func (s *ExpertiseStore) Update(ctx context.Context, e domain.Expertise) error {
	attestersJSON, err := json.Marshal(e.Attesters)
	if err != nil {
		return fmt.Errorf("postgres: marshal attesters: %w", err)
	}

	const query = `
		UPDATE expertise SET
			score       = $3,
			verified    = $4,
			verified_at = $5,
			attesters   = $6
		WHERE owner = $1 AND domain = $2`

	tag, err := s.pool.Exec(ctx, query,
		e.Owner, e.Domain, e.Score, e.Verified, e.VerifiedAt, attestersJSON)
	if err != nil {
		return fmt.Errorf("postgres: update expertise %s/%s: %w", e.Owner, e.Domain, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByDomain returns expertise entries in a domain, highest score first.
func (s *ExpertiseStore) ListByDomain(ctx context.Context, dom string, opts domain.ListOpts) ([]domain.Expertise, error) {
	query := `SELECT ` + expertiseCols + ` FROM expertise WHERE domain = $1 ORDER BY score DESC`
	args := []any{dom}
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
		return nil, fmt.Errorf("postgres: list expertise for domain %s: %w", dom, err)
	}
	defer rows.Close()

	var entries []domain.Expertise
	for rows.Next() {
		e, err := scanExpertise(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan expertise: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list expertise rows: %w", err)
	}
	return entries, nil
}
