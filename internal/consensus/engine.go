// Package consensus queries multiple AI providers and reconciles their
// answers into a single confidence-scored market outcome.
package consensus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/arbiter/internal/domain"
	"github.com/alanyoungcy/arbiter/internal/extract"
)

const (
	// defaultCallTimeout bounds a single provider call so one slow model
	// never blocks the whole consensus round.
	defaultCallTimeout = 45 * time.Second

	// resolutionPromptTemplate asks for a strict JSON verdict. Providers
	// routinely ignore the formatting instruction; the extractor copes.
	resolutionPromptTemplate = `You are resolving a prediction market. Answer the question below based on verifiable real-world facts.

Question: %s
%s
Respond with ONLY a JSON object in this exact format:
{"answer": "YES" | "NO" | "INVALID", "confidence": 0-100, "reasoning": "one or two sentences"}

Use INVALID when the question is ambiguous, unverifiable, or the outcome cannot be determined yet.`
)

// Config holds engine tuning parameters.
type Config struct {
	// CallTimeout bounds each provider call. Zero means the default.
	CallTimeout time.Duration
	// Generation carries the sampling parameters passed to every provider.
	Generation domain.GenerationConfig
}

// Engine fans a market question out to an ordered list of AI providers and
// aggregates their votes. The provider order is fixed at construction
// (cheapest first, most capable last); order matters only for the sequential
// assistance mode, never for multi-model consensus correctness.
type Engine struct {
	providers   []domain.AIProvider
	callTimeout time.Duration
	gen         domain.GenerationConfig
	logger      *slog.Logger
}

// New creates an Engine over the given immutable provider priority list.
func New(providers []domain.AIProvider, cfg Config, logger *slog.Logger) *Engine {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = defaultCallTimeout
	}
	return &Engine{
		providers:   providers,
		callTimeout: timeout,
		gen:         cfg.Generation,
		logger:      logger.With(slog.String("component", "consensus")),
	}
}

// ResolveMarket queries every configured provider concurrently and aggregates
// the usable votes. A provider that errors, times out, or returns
// unparseable output is an abstention, not a failure of the round; the round
// fails only when zero providers produce a usable vote.
func (e *Engine) ResolveMarket(ctx context.Context, marketID int64, question, marketContext string) (domain.ConsensusResult, error) {
	if len(e.providers) == 0 {
		return domain.ConsensusResult{}, fmt.Errorf("consensus: no providers configured: %w", domain.ErrAllProvidersUnavailable)
	}

	prompt := buildPrompt(question, marketContext)

	var mu sync.Mutex
	votes := make([]domain.ModelVote, 0, len(e.providers))

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range e.providers {
		g.Go(func() error {
			vote, ok := e.queryOne(gctx, p, prompt)
			if ok {
				mu.Lock()
				votes = append(votes, vote)
				mu.Unlock()
			}
			// Abstentions never fail the group.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.ConsensusResult{}, fmt.Errorf("consensus: fan-out: %w", err)
	}
	if ctx.Err() != nil {
		return domain.ConsensusResult{}, fmt.Errorf("consensus: %w", ctx.Err())
	}

	if len(votes) == 0 {
		return domain.ConsensusResult{}, fmt.Errorf("consensus: %w", domain.ErrAllProvidersUnavailable)
	}

	result := Aggregate(marketID, votes)
	e.logger.InfoContext(ctx, "consensus reached",
		slog.Int64("market_id", marketID),
		slog.String("outcome", string(result.Outcome)),
		slog.Int("confidence", result.Confidence),
		slog.Int("responded", result.Responded()),
		slog.Int("queried", len(e.providers)),
	)
	return result, nil
}

// Ask tries providers sequentially in priority order and returns the first
// successful raw completion. This is the single-call fallback mode used for
// non-resolution assistance; it fails only when every provider errors.
func (e *Engine) Ask(ctx context.Context, prompt string) (string, error) {
	var lastErr error
	for _, p := range e.providers {
		callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
		text, err := p.Generate(callCtx, prompt, e.gen)
		cancel()
		if err == nil {
			return text, nil
		}
		lastErr = err
		e.logger.WarnContext(ctx, "provider failed, falling back",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		if ctx.Err() != nil {
			return "", fmt.Errorf("consensus: ask: %w", ctx.Err())
		}
	}
	return "", fmt.Errorf("consensus: ask: %w (last: %v)", domain.ErrAllProvidersUnavailable, lastErr)
}

// queryOne calls a single provider with a bounded timeout and extracts its
// vote. The second return is false when the provider abstains (call failure
// or unextractable output).
func (e *Engine) queryOne(ctx context.Context, p domain.AIProvider, prompt string) (domain.ModelVote, bool) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()

	start := time.Now()
	raw, err := p.Generate(callCtx, prompt, e.gen)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		e.logger.WarnContext(ctx, "provider call failed",
			slog.String("provider", p.Name()),
			slog.Int64("latency_ms", latency),
			slog.String("error", err.Error()),
		)
		return domain.ModelVote{}, false
	}

	ex, err := extract.Extract(raw)
	if err != nil {
		e.logger.WarnContext(ctx, "provider output not extractable",
			slog.String("provider", p.Name()),
			slog.String("error", err.Error()),
		)
		return domain.ModelVote{}, false
	}

	return domain.ModelVote{
		Model:      p.Name(),
		Answer:     ex.Answer,
		Confidence: ex.Confidence,
		Reasoning:  ex.Reasoning,
		LatencyMs:  latency,
	}, true
}

// Aggregate reduces a set of votes to a single outcome.
//
// Majority among {yes, no, invalid} wins. Confidence is the mean confidence
// of the agreeing votes scaled by the agreement ratio (agreeing/responded):
// a unanimous 5/5 keeps the full mean while a 3/5 plurality keeps 60% of it,
// which makes confidence strictly monotonic in vote agreement. An exact tie
// yields invalid, with confidence derived the same way from the invalid-vote
// share so it lands well below any clear majority.
func Aggregate(marketID int64, votes []domain.ModelVote) domain.ConsensusResult {
	result := domain.ConsensusResult{
		MarketID:  marketID,
		Outcome:   domain.OutcomeInvalid,
		Votes:     votes,
		Timestamp: time.Now().UTC(),
	}

	confSum := map[domain.Outcome]int{}
	for _, v := range votes {
		switch v.Answer {
		case domain.OutcomeYes:
			result.YesVotes++
		case domain.OutcomeNo:
			result.NoVotes++
		default:
			result.InvalidVotes++
		}
		confSum[v.Answer] += v.Confidence
	}

	responded := result.Responded()
	winner, winnerCount := domain.OutcomeInvalid, result.InvalidVotes
	if result.NoVotes > winnerCount {
		winner, winnerCount = domain.OutcomeNo, result.NoVotes
	}
	if result.YesVotes > winnerCount {
		winner, winnerCount = domain.OutcomeYes, result.YesVotes
	}

	// Exact tie across the top outcomes: disagreement, not an answer.
	if tied(result, winnerCount) {
		winner = domain.OutcomeInvalid
		winnerCount = result.InvalidVotes
	}

	result.Outcome = winner
	if winnerCount > 0 {
		mean := confSum[winner] / winnerCount
		result.Confidence = mean * winnerCount / responded
	}
	return result
}

// tied reports whether more than one outcome holds the winning vote count.
func tied(r domain.ConsensusResult, winnerCount int) bool {
	n := 0
	for _, c := range []int{r.YesVotes, r.NoVotes, r.InvalidVotes} {
		if c == winnerCount && c > 0 {
			n++
		}
	}
	return n > 1
}

// buildPrompt renders the resolution prompt, folding in optional market
// context on its own line.
func buildPrompt(question, marketContext string) string {
	ctxLine := ""
	if s := strings.TrimSpace(marketContext); s != "" {
		ctxLine = "Context: " + s + "\n"
	}
	return fmt.Sprintf(resolutionPromptTemplate, question, ctxLine)
}
