package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// StakeStore implements domain.StakeStore using PostgreSQL. Balances are
// written by an external settlement process; this store only reads them.
type StakeStore struct {
	pool *pgxpool.Pool
}

var _ domain.StakeStore = (*StakeStore)(nil)

// NewStakeStore creates a new StakeStore backed by the given connection pool.
func NewStakeStore(pool *pgxpool.Pool) *StakeStore {
	return &StakeStore{pool: pool}
}

// Balance returns the stake balance for an address. Unknown addresses have a
// zero balance.
func (s *StakeStore) Balance(ctx context.Context, addr string) (int64, error) {
	var balance int64
	err := s.pool.QueryRow(ctx,
		"SELECT balance FROM stakes WHERE addr = $1", addr).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: stake balance for %s: %w", addr, err)
	}
	return balance, nil
}
