package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

func TestRelayAccepted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/relays/v2/sponsored-call" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("auth header = %q", got)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"taskId":"task-abc"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key")
	task, err := c.Relay(context.Background(), 137, "0xresolution", []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("Relay: %v", err)
	}
	if task.TaskID != "task-abc" {
		t.Errorf("task id = %q, want task-abc", task.TaskID)
	}
}

func TestRelayErrorClassification(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   domain.RelayErrorKind
	}{
		{"unauthorized", http.StatusUnauthorized, `{"message":"invalid api key"}`, domain.RelayErrAuthFailed},
		{"forbidden", http.StatusForbidden, `{"message":"sponsor balance exhausted"}`, domain.RelayErrAuthFailed},
		{"unsupported chain code", http.StatusBadRequest, `{"code":"UNSUPPORTED_CHAIN","message":"chain 999 not available"}`, domain.RelayErrChainUnsupported},
		{"unsupported chain text", http.StatusBadRequest, `{"message":"unsupported chain: 999"}`, domain.RelayErrChainUnsupported},
		{"bad request", http.StatusBadRequest, `{"message":"malformed calldata"}`, domain.RelayErrInvalidRequest},
		{"server error", http.StatusInternalServerError, `boom`, domain.RelayErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewClient(srv.URL, "k")
			_, err := c.Relay(context.Background(), 999, "0xresolution", []byte{0x01})
			var relayErr *domain.RelayError
			if !errors.As(err, &relayErr) {
				t.Fatalf("err = %v, want *domain.RelayError", err)
			}
			if relayErr.Kind != tt.want {
				t.Errorf("kind = %s, want %s", relayErr.Kind, tt.want)
			}
		})
	}
}

func TestRelayRejectsEmptyCall(t *testing.T) {
	c := NewClient("http://unused", "k")
	_, err := c.Relay(context.Background(), 137, "", nil)
	var relayErr *domain.RelayError
	if !errors.As(err, &relayErr) || relayErr.Kind != domain.RelayErrInvalidRequest {
		t.Fatalf("err = %v, want invalid_request", err)
	}
}

func TestGetTaskStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/tasks/status/task-abc" {
			t.Errorf("path = %s", r.URL.Path)
		}
		w.Write([]byte(`{"taskId":"task-abc","state":"executed","transactionHash":"0xdeadbeef"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "k")
	status, err := c.GetTaskStatus(context.Background(), "task-abc")
	if err != nil {
		t.Fatalf("GetTaskStatus: %v", err)
	}
	if status.State != TaskExecuted || status.TxHash != "0xdeadbeef" {
		t.Errorf("status = %+v", status)
	}
}
