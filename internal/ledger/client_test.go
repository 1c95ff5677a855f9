package ledger

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

const testContract = "0x1111111111111111111111111111111111111111"

// rpcHandler routes JSON-RPC methods to canned results.
func rpcHandler(t *testing.T, results map[string]string) http.HandlerFunc {
	t.Helper()
	return func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode rpc request: %v", err)
			return
		}
		result, ok := results[req.Method]
		if !ok {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"error":{"code":-32601,"message":"unknown method %s"}}`, req.Method)
			return
		}
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":%s}`, result)
	}
}

func newTestClient(t *testing.T, results map[string]string) *Client {
	t.Helper()
	srv := httptest.NewServer(rpcHandler(t, results))
	t.Cleanup(srv.Close)

	c, err := NewClient(Config{
		RPCURL:          srv.URL,
		ContractAddress: testContract,
		ChainID:         137,
	}, slog.New(slog.DiscardHandler))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

// abiWords hex-encodes a sequence of uint64 values as 32-byte words.
func abiWords(vals ...uint64) string {
	var sb strings.Builder
	sb.WriteString(`"0x`)
	for _, v := range vals {
		sb.WriteString(fmt.Sprintf("%064x", v))
	}
	sb.WriteString(`"`)
	return sb.String()
}

func TestReadMarket(t *testing.T) {
	// state=resolved(3), outcome=yes(1), confidence=87, resolutionTime=1760000000
	c := newTestClient(t, map[string]string{
		"eth_call": abiWords(3, 1, 87, 1760000000),
	})

	m, err := c.ReadMarket(context.Background(), 42)
	if err != nil {
		t.Fatalf("ReadMarket: %v", err)
	}
	if m.State != domain.MarketStateResolved || m.Outcome != domain.OutcomeYes || m.Confidence != 87 {
		t.Errorf("market = %+v", m)
	}
	if m.ResolutionTime.Unix() != 1760000000 {
		t.Errorf("resolution time = %v", m.ResolutionTime)
	}
}

func TestIsFulfilled(t *testing.T) {
	tests := []struct {
		name string
		ret  string
		want bool
	}{
		{"fulfilled", abiWords(1), true},
		{"not fulfilled", abiWords(0), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, map[string]string{"eth_call": tt.ret})
			got, err := c.IsFulfilled(context.Background(), "req-1")
			if err != nil {
				t.Fatalf("IsFulfilled: %v", err)
			}
			if got != tt.want {
				t.Errorf("IsFulfilled = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestIsFulfilledRPCError(t *testing.T) {
	c := newTestClient(t, map[string]string{})
	if _, err := c.IsFulfilled(context.Background(), "req-1"); err == nil {
		t.Fatal("expected error from rpc failure")
	}
}

func TestQueryResolutionEvents(t *testing.T) {
	requestTopic := "0x" + hex.EncodeToString(resolutionRequestedTopic)
	logs := fmt.Sprintf(`[
		{"topics":[%q,"0x%064x","0x%064x"],"data":"0x%064x"},
		{"topics":[%q,"0x%064x","0x%064x"],"data":"0x%064x"}
	]`,
		requestTopic, 0xaaaa, 7, 1760000500,
		requestTopic, 0xbbbb, 8, 100, // ancient timestamp, outside the window
	)
	c := newTestClient(t, map[string]string{
		"eth_blockNumber": `"0x100000"`,
		"eth_getLogs":     logs,
	})

	since := time.Unix(1760000000, 0).UTC()
	events, err := c.QueryResolutionEvents(context.Background(), since)
	if err != nil {
		t.Fatalf("QueryResolutionEvents: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("events = %d, want 1 (old event filtered)", len(events))
	}
	if events[0].MarketID != 7 {
		t.Errorf("market id = %d, want 7", events[0].MarketID)
	}
	if events[0].CreatedAt.Unix() != 1760000500 {
		t.Errorf("created at = %v", events[0].CreatedAt)
	}
}

func TestNewClientValidation(t *testing.T) {
	logger := slog.New(slog.DiscardHandler)
	if _, err := NewClient(Config{ContractAddress: testContract}, logger); err == nil {
		t.Error("missing rpc url accepted")
	}
	if _, err := NewClient(Config{RPCURL: "http://x", ContractAddress: "nope"}, logger); err == nil {
		t.Error("invalid contract address accepted")
	}
	if _, err := NewClient(Config{RPCURL: "http://x", ContractAddress: testContract, PrivateKeyHex: "zz"}, logger); err == nil {
		t.Error("invalid private key accepted")
	}
}

func TestSubmitResolutionRequiresKey(t *testing.T) {
	c := newTestClient(t, nil)
	_, err := c.SubmitResolution(context.Background(), 1, domain.OutcomeYes, 90)
	if err == nil {
		t.Fatal("expected error without signing key")
	}
}
