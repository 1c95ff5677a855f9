package extract

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Extraction
	}{
		{
			name: "plain json",
			raw:  `{"answer":"YES","confidence":90,"reasoning":"BTC closed above the strike"}`,
			want: Extraction{Answer: domain.OutcomeYes, Confidence: 90, Reasoning: "BTC closed above the strike"},
		},
		{
			name: "typed fence",
			raw:  "```json\n{\"answer\":\"NO\",\"confidence\":75,\"reasoning\":\"no\"}\n```",
			want: Extraction{Answer: domain.OutcomeNo, Confidence: 75, Reasoning: "no"},
		},
		{
			name: "generic fence",
			raw:  "```\n{\"answer\":\"INVALID\",\"confidence\":50,\"reasoning\":\"ambiguous question\"}\n```",
			want: Extraction{Answer: domain.OutcomeInvalid, Confidence: 50, Reasoning: "ambiguous question"},
		},
		{
			name: "json buried in prose",
			raw:  `Sure! Based on my analysis: {"answer":"YES","confidence":85,"reasoning":"strong evidence"} Hope that helps.`,
			want: Extraction{Answer: domain.OutcomeYes, Confidence: 85, Reasoning: "strong evidence"},
		},
		{
			name: "multiple json spans, first invalid",
			raw:  `{"note":"not an answer"} and then {"answer":"NO","confidence":60,"reasoning":"x"}`,
			want: Extraction{Answer: domain.OutcomeNo, Confidence: 60, Reasoning: "x"},
		},
		{
			name: "nested object in reasoning field survives greedy match",
			raw:  `{"answer":"YES","confidence":70,"reasoning":"see {source: chain}"}`,
			want: Extraction{Answer: domain.OutcomeYes, Confidence: 70, Reasoning: "see {source: chain}"},
		},
		{
			name: "lowercase answer and fractional confidence",
			raw:  `{"answer":"yes","confidence":0.9,"reasoning":"prob style"}`,
			want: Extraction{Answer: domain.OutcomeYes, Confidence: 90, Reasoning: "prob style"},
		},
		{
			name: "confidence above range is clamped",
			raw:  `{"answer":"NO","confidence":250,"reasoning":"overconfident"}`,
			want: Extraction{Answer: domain.OutcomeNo, Confidence: 100, Reasoning: "overconfident"},
		},
		{
			name: "unknown maps to invalid",
			raw:  `{"answer":"UNKNOWN","confidence":40,"reasoning":"cannot verify"}`,
			want: Extraction{Answer: domain.OutcomeInvalid, Confidence: 40, Reasoning: "cannot verify"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.raw)
			if err != nil {
				t.Fatalf("Extract() error = %v", err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Extract() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestExtractFailures(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "empty", raw: ""},
		{name: "whitespace only", raw: "   \n\t  "},
		{name: "no json at all", raw: "I think the answer is probably yes."},
		{name: "truncated json", raw: `{"answer":"YES","confidence":90,"reas`},
		{name: "json without answer field", raw: `{"verdict":"YES","confidence":90}`},
		{name: "unrecognized answer value", raw: `{"answer":"MAYBE","confidence":50,"reasoning":"hmm"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Extract(tt.raw)
			if !errors.Is(err, domain.ErrNoValidJSON) {
				t.Fatalf("Extract() error = %v, want ErrNoValidJSON", err)
			}
		})
	}
}

func TestExtractErrorPreviewIsBounded(t *testing.T) {
	long := strings.Repeat("x", 5000)
	_, err := Extract(long)
	if err == nil {
		t.Fatal("Extract() expected error for junk input")
	}
	if len(err.Error()) > 400 {
		t.Errorf("error message too long (%d chars): preview not bounded", len(err.Error()))
	}
}

func TestExtractIsDeterministic(t *testing.T) {
	raw := `junk {"a":1} more {"answer":"YES","confidence":88,"reasoning":"r"} tail`
	first, err := Extract(raw)
	if err != nil {
		t.Fatalf("Extract() error = %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := Extract(raw)
		if err != nil {
			t.Fatalf("Extract() error = %v on run %d", err, i)
		}
		if diff := cmp.Diff(first, again); diff != "" {
			t.Fatalf("Extract() not deterministic (-first +again):\n%s", diff)
		}
	}
}
