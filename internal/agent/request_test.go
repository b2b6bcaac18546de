package agent

import (
	"bytes"
	"encoding/hex"
	"testing"
)

func TestRequestIDKnownValue(t *testing.T) {
	fields := map[string]any{
		"request_type": "call",
		"canister_id":  []byte{0, 0, 0, 0, 0, 0, 0x04, 0xD2},
		"method_name":  "hello",
		"arg":          []byte("DIDL\x00\xFD*"),
	}
	id, err := requestID(fields)
	if err != nil {
		t.Fatalf("requestID: %v", err)
	}
	const want = "8781291c347db32a9d8c10eb62b710fce5a93be676474c42babc74c51858f94b"
	if got := hex.EncodeToString(id[:]); got != want {
		t.Errorf("requestID = %s, want %s", got, want)
	}
}

func TestRequestIDDecodedContentMatches(t *testing.T) {
	content := &readStateContent{
		RequestType:   requestTypeReadState,
		Sender:        []byte{0x04},
		Paths:         [][][]byte{{[]byte("request_status"), bytes.Repeat([]byte{7}, 32)}},
		IngressExpiry: 1_700_000_000_000_000_000,
	}
	want, err := requestID(content.fields())
	if err != nil {
		t.Fatalf("requestID: %v", err)
	}

	data, err := marshalTagged(content)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	got, err := requestID(decoded)
	if err != nil {
		t.Fatalf("requestID(decoded): %v", err)
	}
	if got != want {
		t.Errorf("decoded content hashes to %x, want %x", got, want)
	}
}

func TestRequestIDUnsupportedValue(t *testing.T) {
	if _, err := requestID(map[string]any{"x": 1.5}); err == nil {
		t.Error("expected error for float field")
	}
}

func TestSignable(t *testing.T) {
	var id RequestID
	id[0] = 0xAB
	msg := signable(id)
	if !bytes.HasPrefix(msg, []byte("\x0Aic-request")) {
		t.Errorf("missing domain separator: %x", msg)
	}
	if len(msg) != 11+32 || msg[11] != 0xAB {
		t.Errorf("unexpected message %x", msg)
	}
}
