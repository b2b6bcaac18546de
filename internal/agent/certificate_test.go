package agent

import (
	"bytes"
	"testing"
)

func tLeaf(v string) []any { return []any{uint64(nodeLeaf), []byte(v)} }
func tLabeled(l string, t any) []any { return []any{uint64(nodeLabeled), []byte(l), t} }
func tFork(l, r any) []any { return []any{uint64(nodeFork), l, r} }
func tPruned() []any { return []any{uint64(nodePruned), bytes.Repeat([]byte{0}, 32)} }

func encodeCert(t *testing.T, tree any) []byte {
	t.Helper()
	data, err := marshalTagged(map[string]any{
		"tree":      tree,
		"signature": bytes.Repeat([]byte{1}, 48),
	})
	if err != nil {
		t.Fatalf("encode certificate: %v", err)
	}
	return data
}

func TestCertificateLookup(t *testing.T) {
	tree := tFork(
		tLabeled("a", tFork(
			tLabeled("x", tLeaf("hello")),
			tLabeled("y", tLeaf("world")),
		)),
		tFork(
			tLabeled("b", tLeaf("good")),
			tLabeled("d", tPruned()),
		),
	)
	cert, err := parseCertificate(encodeCert(t, tree))
	if err != nil {
		t.Fatalf("parseCertificate: %v", err)
	}

	tests := []struct {
		path   []string
		want   string
		status lookupStatus
	}{
		{[]string{"a", "x"}, "hello", lookupFound},
		{[]string{"a", "y"}, "world", lookupFound},
		{[]string{"b"}, "good", lookupFound},
		{[]string{"c"}, "", lookupAbsent},
		{[]string{"a", "z"}, "", lookupAbsent},
		{[]string{"d"}, "", lookupUnknown},
		{[]string{"a"}, "", lookupAbsent},
	}
	for _, tt := range tests {
		path := make([][]byte, len(tt.path))
		for i, p := range tt.path {
			path[i] = []byte(p)
		}
		got, status, err := cert.lookup(path...)
		if err != nil {
			t.Fatalf("lookup %v: %v", tt.path, err)
		}
		if status != tt.status || string(got) != tt.want {
			t.Errorf("lookup %v = (%q, %d), want (%q, %d)", tt.path, got, status, tt.want, tt.status)
		}
	}
}

func TestCertificateLookupUnknownBehindPrunedFork(t *testing.T) {
	tree := tFork(tPruned(), tLabeled("b", tLeaf("v")))
	cert, err := parseCertificate(encodeCert(t, tree))
	if err != nil {
		t.Fatalf("parseCertificate: %v", err)
	}
	if _, status, _ := cert.lookup([]byte("a")); status != lookupUnknown {
		t.Errorf("status = %d, want unknown", status)
	}
}

func TestCertificateMalformed(t *testing.T) {
	cert, err := parseCertificate(encodeCert(t, []any{uint64(9)}))
	if err != nil {
		t.Fatalf("parseCertificate: %v", err)
	}
	if _, _, err := cert.lookup([]byte("a")); err == nil {
		t.Error("expected malformed tree error")
	}

	if _, err := parseCertificate([]byte{0xff}); err == nil {
		t.Error("expected decode error")
	}
}
