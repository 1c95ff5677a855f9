package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

func TestOpenAIGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer sk-test" {
			t.Errorf("auth header = %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"{\"answer\":\"yes\"}"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "sk-test", "gpt-4o")
	out, err := c.Generate(context.Background(), "resolve this", domain.GenerationConfig{Temperature: 0.1})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != `{"answer":"yes"}` {
		t.Errorf("out = %q", out)
	}
	if c.Name() != "gpt-4o" {
		t.Errorf("Name() = %q", c.Name())
	}
}

func TestOpenAIErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ProviderErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"slow down"}}`, domain.ProviderErrRateLimited},
		{"gateway timeout", http.StatusGatewayTimeout, ``, domain.ProviderErrTimeout},
		{"server error", http.StatusInternalServerError, `{"error":{"message":"boom"}}`, domain.ProviderErrTransport},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewOpenAIClient(srv.URL, "k", "gpt-4o")
			_, err := c.Generate(context.Background(), "p", domain.GenerationConfig{})
			var provErr *domain.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("err = %v, want *domain.ProviderError", err)
			}
			if provErr.Kind != tt.want {
				t.Errorf("kind = %s, want %s", provErr.Kind, tt.want)
			}
		})
	}
}

func TestOpenAIEmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := NewOpenAIClient(srv.URL, "k", "gpt-4o")
	_, err := c.Generate(context.Background(), "p", domain.GenerationConfig{})
	var provErr *domain.ProviderError
	if !errors.As(err, &provErr) || provErr.Kind != domain.ProviderErrBadResponse {
		t.Fatalf("err = %v, want bad_response", err)
	}
}

func TestGeminiGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1beta/models/gemini-pro:generateContent" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("x-goog-api-key"); got != "g-key" {
			t.Errorf("api key header = %q", got)
		}
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"The answer "},{"text":"is no."}]}}]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient(srv.URL, "g-key", "gemini-pro")
	out, err := c.Generate(context.Background(), "resolve this", domain.GenerationConfig{TopK: 40})
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if out != "The answer is no." {
		t.Errorf("out = %q", out)
	}
}

func TestGeminiErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.ProviderErrorKind
	}{
		{"rate limited", http.StatusTooManyRequests, `{"error":{"message":"quota"}}`, domain.ProviderErrRateLimited},
		{"deadline exceeded", http.StatusInternalServerError, `{"error":{"message":"late","status":"DEADLINE_EXCEEDED"}}`, domain.ProviderErrTimeout},
		{"no candidates", http.StatusOK, `{"candidates":[]}`, domain.ProviderErrBadResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewGeminiClient(srv.URL, "k", "gemini-pro")
			_, err := c.Generate(context.Background(), "p", domain.GenerationConfig{})
			var provErr *domain.ProviderError
			if !errors.As(err, &provErr) {
				t.Fatalf("err = %v, want *domain.ProviderError", err)
			}
			if provErr.Kind != tt.want {
				t.Errorf("kind = %s, want %s", provErr.Kind, tt.want)
			}
		})
	}
}
