package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// ProposalStore implements domain.ProposalStore using PostgreSQL.
type ProposalStore struct {
	pool *pgxpool.Pool
}

var _ domain.ProposalStore = (*ProposalStore)(nil)

// NewProposalStore creates a new ProposalStore backed by the given connection
// pool.
func NewProposalStore(pool *pgxpool.Pool) *ProposalStore {
	return &ProposalStore{pool: pool}
}

const proposalCols = `id, type, proposer, title, description, market_id, outcome,
	for_votes, against_votes, abstain_votes, status, executed, bond,
	voting_ends_at, created_at`

// Create inserts a new proposal and returns the assigned ID.
func (s *ProposalStore) Create(ctx context.Context, p domain.Proposal) (int64, error) {
	createdAt := p.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	const query = `
		INSERT INTO proposals (
			type, proposer, title, description, market_id, outcome,
			status, bond, voting_ends_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`

	var id int64
	err := s.pool.QueryRow(ctx, query,
		string(p.Type), p.Proposer, p.Title, p.Description,
		p.MarketID, string(p.Outcome),
		string(p.Status), p.Bond, p.VotingEndsAt, createdAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("postgres: create proposal: %w", err)
	}
	return id, nil
}

func scanProposal(row pgx.Row) (domain.Proposal, error) {
	var p domain.Proposal
	var typ, outcome, status string
	err := row.Scan(
		&p.ID, &typ, &p.Proposer, &p.Title, &p.Description,
		&p.MarketID, &outcome,
		&p.ForVotes, &p.AgainstVotes, &p.AbstainVotes,
		&status, &p.Executed, &p.Bond,
		&p.VotingEndsAt, &p.CreatedAt,
	)
	if err != nil {
		return domain.Proposal{}, err
	}
	p.Type = domain.ProposalType(typ)
	p.Outcome = domain.Outcome(outcome)
	p.Status = domain.ProposalStatus(status)
	return p, nil
}

// GetByID retrieves a proposal by its primary key.
func (s *ProposalStore) GetByID(ctx context.Context, id int64) (domain.Proposal, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+proposalCols+` FROM proposals WHERE id = $1`, id)
	p, err := scanProposal(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return domain.Proposal{}, domain.ErrNotFound
		}
		return domain.Proposal{}, fmt.Errorf("postgres: get proposal %d: %w", id, err)
	}
	return p, nil
}

// List returns proposals filtered by status. An empty status returns all
// proposals.
func (s *ProposalStore) List(ctx context.Context, status domain.ProposalStatus, opts domain.ListOpts) ([]domain.Proposal, error) {
	query := `SELECT ` + proposalCols + ` FROM proposals WHERE 1=1`
	args := []any{}
	argIdx := 1

	if status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
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

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list proposals: %w", err)
	}
	defer rows.Close()

	var proposals []domain.Proposal
	for rows.Next() {
		p, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan proposal: %w", err)
		}
		proposals = append(proposals, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list proposals rows: %w", err)
	}
	return proposals, nil
}

// UpdateStatus transitions a proposal's status and executed flag.
func (s *ProposalStore) UpdateStatus(ctx context.Context, id int64, status domain.ProposalStatus, executed bool) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE proposals SET status = $2, executed = $3 WHERE id = $1",
		id, string(status), executed)
	if err != nil {
		return fmt.Errorf("postgres: update proposal %d status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AddVote records a vote and increments the matching tally in one
// transaction. The votes primary key rejects a second vote from the same
// address.
func (s *ProposalStore) AddVote(ctx context.Context, v domain.Vote) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin vote tx: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	castAt := v.CastAt
	if castAt.IsZero() {
		castAt = time.Now().UTC()
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO votes (proposal_id, voter, support, power, domain, cast_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		v.ProposalID, v.Voter, string(v.Support), v.Power, v.Domain, castAt)
	if err != nil {
		return fmt.Errorf("postgres: insert vote: %w", err)
	}

	var tallyCol string
	switch v.Support {
	case domain.VoteFor:
		tallyCol = "for_votes"
	case domain.VoteAgainst:
		tallyCol = "against_votes"
	case domain.VoteAbstain:
		tallyCol = "abstain_votes"
	default:
		return fmt.Errorf("postgres: unknown vote support %q", v.Support)
	}

	tag, err := tx.Exec(ctx,
		fmt.Sprintf("UPDATE proposals SET %s = %s + $2 WHERE id = $1", tallyCol, tallyCol),
		v.ProposalID, v.Power)
	if err != nil {
		return fmt.Errorf("postgres: update proposal %d tally: %w", v.ProposalID, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit vote tx: %w", err)
	}
	return nil
}

// HasVoted reports whether voter has already cast a vote on the proposal.
func (s *ProposalStore) HasVoted(ctx context.Context, proposalID int64, voter string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM votes WHERE proposal_id = $1 AND voter = $2)",
		proposalID, voter).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("postgres: check vote on proposal %d: %w", proposalID, err)
	}
	return exists, nil
}
