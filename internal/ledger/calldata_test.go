package ledger

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/alanyoungcy/arbiter/internal/domain"
)

func TestResolutionCallData(t *testing.T) {
	b := NewCallDataBuilder()

	data, err := b.ResolutionCallData("req-1", 42, domain.OutcomeYes, 87)
	if err != nil {
		t.Fatalf("ResolutionCallData: %v", err)
	}
	if len(data) != 4+4*32 {
		t.Fatalf("calldata length = %d, want %d", len(data), 4+4*32)
	}
	if !bytes.Equal(data[:4], fulfillSelector) {
		t.Errorf("selector = %x", data[:4])
	}
	// marketID word
	if got := data[4+32+31]; got != 42 {
		t.Errorf("market id byte = %d, want 42", got)
	}
	// outcome word (yes = 1)
	if got := data[4+2*32+31]; got != 1 {
		t.Errorf("outcome byte = %d, want 1", got)
	}
	// confidence word
	if got := data[4+3*32+31]; got != 87 {
		t.Errorf("confidence byte = %d, want 87", got)
	}

	// Deterministic for the same inputs.
	again, _ := b.ResolutionCallData("req-1", 42, domain.OutcomeYes, 87)
	if !bytes.Equal(data, again) {
		t.Error("calldata not deterministic")
	}
}

func TestResolutionCallDataRejects(t *testing.T) {
	b := NewCallDataBuilder()
	if _, err := b.ResolutionCallData("req-1", 1, domain.OutcomePending, 50); err == nil {
		t.Error("pending outcome accepted")
	}
	if _, err := b.ResolutionCallData("req-1", 1, domain.OutcomeYes, 101); err == nil {
		t.Error("out-of-range confidence accepted")
	}
	if _, err := b.ResolutionCallData("", 1, domain.OutcomeYes, 50); err == nil {
		t.Error("empty request id accepted")
	}
}

func TestRequestKey(t *testing.T) {
	// A 32-byte hex ID (ledger-raised) is used verbatim.
	raw := "0xaabbccddaabbccddaabbccddaabbccddaabbccddaabbccddaabbccddaabbccdd"
	key, err := requestKey(raw)
	if err != nil {
		t.Fatalf("requestKey: %v", err)
	}
	if hex.EncodeToString(key) != raw[2:] {
		t.Errorf("hex id not used verbatim: %x", key)
	}

	// A UUID is hashed to 32 bytes, stably.
	k1, _ := requestKey("0d9f3e0a-6a2f-4a59-93a1-2f2dd7b0c111")
	k2, _ := requestKey("0d9f3e0a-6a2f-4a59-93a1-2f2dd7b0c111")
	if len(k1) != 32 || !bytes.Equal(k1, k2) {
		t.Errorf("uuid key unstable or wrong length: %x vs %x", k1, k2)
	}
}
