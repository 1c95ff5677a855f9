package consensus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

// fakeProvider returns a canned response or error.
type fakeProvider struct {
	name  string
	text  string
	err   error
	calls int
}

func (f *fakeProvider) Generate(ctx context.Context, prompt string, cfg domain.GenerationConfig) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func (f *fakeProvider) Name() string { return f.name }

func voteJSON(answer string, confidence int) string {
	return fmt.Sprintf(`{"answer":%q,"confidence":%d,"reasoning":"test"}`, answer, confidence)
}

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestResolveMarketMajority(t *testing.T) {
	providers := []domain.AIProvider{
		&fakeProvider{name: "model-a", text: voteJSON("YES", 90)},
		&fakeProvider{name: "model-b", text: voteJSON("YES", 85)},
		&fakeProvider{name: "model-c", text: voteJSON("NO", 60)},
		&fakeProvider{name: "model-d", text: voteJSON("YES", 95)},
		&fakeProvider{name: "model-e", text: voteJSON("INVALID", 50)},
	}
	e := New(providers, Config{}, testLogger())

	got, err := e.ResolveMarket(context.Background(), 7, "Will BTC exceed $100,000 by 2025-12-31?", "")
	if err != nil {
		t.Fatalf("ResolveMarket() error = %v", err)
	}

	want := domain.ConsensusResult{
		MarketID:     7,
		Outcome:      domain.OutcomeYes,
		Confidence:   54, // mean(90,85,95)=90 scaled by 3/5
		YesVotes:     3,
		NoVotes:      1,
		InvalidVotes: 1,
	}
	opts := []cmp.Option{
		cmpopts.IgnoreFields(domain.ConsensusResult{}, "Votes", "Timestamp"),
	}
	if diff := cmp.Diff(want, got, opts...); diff != "" {
		t.Errorf("ResolveMarket() mismatch (-want +got):\n%s", diff)
	}
	if got.Responded() != 5 {
		t.Errorf("Responded() = %d, want 5", got.Responded())
	}
}

func TestResolveMarketAbstentions(t *testing.T) {
	// 2 of 5 fail outright, 1 returns garbage: k=2 usable votes, both YES.
	providers := []domain.AIProvider{
		&fakeProvider{name: "model-a", text: voteJSON("YES", 80)},
		&fakeProvider{name: "model-b", err: &domain.ProviderError{Provider: "model-b", Kind: domain.ProviderErrRateLimited, Message: "429"}},
		&fakeProvider{name: "model-c", text: "I cannot answer in JSON, sorry."},
		&fakeProvider{name: "model-d", text: voteJSON("YES", 90)},
		&fakeProvider{name: "model-e", err: &domain.ProviderError{Provider: "model-e", Kind: domain.ProviderErrTimeout, Message: "deadline"}},
	}
	e := New(providers, Config{}, testLogger())

	got, err := e.ResolveMarket(context.Background(), 1, "q", "")
	if err != nil {
		t.Fatalf("ResolveMarket() error = %v", err)
	}
	if got.Outcome != domain.OutcomeYes {
		t.Errorf("Outcome = %s, want yes", got.Outcome)
	}
	if got.Responded() != 2 {
		t.Errorf("Responded() = %d, want 2 (abstentions are not votes)", got.Responded())
	}
	// Unanimous among responders: full mean, no plurality scaling.
	if got.Confidence != 85 {
		t.Errorf("Confidence = %d, want 85", got.Confidence)
	}
}

func TestResolveMarketAllUnavailable(t *testing.T) {
	providers := []domain.AIProvider{
		&fakeProvider{name: "model-a", err: errors.New("boom")},
		&fakeProvider{name: "model-b", text: "no json here"},
	}
	e := New(providers, Config{}, testLogger())

	_, err := e.ResolveMarket(context.Background(), 1, "q", "")
	if !errors.Is(err, domain.ErrAllProvidersUnavailable) {
		t.Fatalf("ResolveMarket() error = %v, want ErrAllProvidersUnavailable", err)
	}
}

func TestResolveMarketExactTie(t *testing.T) {
	providers := []domain.AIProvider{
		&fakeProvider{name: "model-a", text: voteJSON("YES", 90)},
		&fakeProvider{name: "model-b", text: voteJSON("NO", 90)},
	}
	e := New(providers, Config{}, testLogger())

	got, err := e.ResolveMarket(context.Background(), 1, "q", "")
	if err != nil {
		t.Fatalf("ResolveMarket() error = %v", err)
	}
	if got.Outcome != domain.OutcomeInvalid {
		t.Errorf("Outcome = %s, want invalid on exact tie", got.Outcome)
	}
	if got.Confidence >= 54 {
		t.Errorf("Confidence = %d, want well below a clear majority", got.Confidence)
	}
}

func TestConfidenceMonotonicity(t *testing.T) {
	unanimous := []domain.ModelVote{
		{Model: "a", Answer: domain.OutcomeYes, Confidence: 90},
		{Model: "b", Answer: domain.OutcomeYes, Confidence: 90},
		{Model: "c", Answer: domain.OutcomeYes, Confidence: 90},
		{Model: "d", Answer: domain.OutcomeYes, Confidence: 90},
		{Model: "e", Answer: domain.OutcomeYes, Confidence: 90},
	}
	plurality := []domain.ModelVote{
		{Model: "a", Answer: domain.OutcomeYes, Confidence: 90},
		{Model: "b", Answer: domain.OutcomeYes, Confidence: 90},
		{Model: "c", Answer: domain.OutcomeYes, Confidence: 90},
		{Model: "d", Answer: domain.OutcomeNo, Confidence: 90},
		{Model: "e", Answer: domain.OutcomeInvalid, Confidence: 90},
	}

	full := Aggregate(1, unanimous)
	partial := Aggregate(1, plurality)
	if full.Confidence <= partial.Confidence {
		t.Errorf("unanimous confidence %d must exceed plurality confidence %d",
			full.Confidence, partial.Confidence)
	}
}

func TestAskSequentialFallback(t *testing.T) {
	first := &fakeProvider{name: "cheap", err: errors.New("down")}
	second := &fakeProvider{name: "mid", text: "plain text answer"}
	third := &fakeProvider{name: "expensive", text: "should not be reached"}
	e := New([]domain.AIProvider{first, second, third}, Config{}, testLogger())

	got, err := e.Ask(context.Background(), "explain this market")
	if err != nil {
		t.Fatalf("Ask() error = %v", err)
	}
	if got != "plain text answer" {
		t.Errorf("Ask() = %q, want first success", got)
	}
	if third.calls != 0 {
		t.Errorf("Ask() reached provider %q past the first success", third.name)
	}
}

func TestAskAllFail(t *testing.T) {
	e := New([]domain.AIProvider{
		&fakeProvider{name: "a", err: errors.New("down")},
		&fakeProvider{name: "b", err: errors.New("down too")},
	}, Config{}, testLogger())

	_, err := e.Ask(context.Background(), "p")
	if !errors.Is(err, domain.ErrAllProvidersUnavailable) {
		t.Fatalf("Ask() error = %v, want ErrAllProvidersUnavailable", err)
	}
}
