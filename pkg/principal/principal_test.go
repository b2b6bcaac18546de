package principal

import (
	"errors"
	"testing"
)

func TestAnonymous_Text(t *testing.T) {
	p := Anonymous()
	if got := p.Text(); got != "2vxsx-fae" {
		t.Errorf("Anonymous().Text() = %q, want %q", got, "2vxsx-fae")
	}
	if !p.IsAnonymous() {
		t.Error("IsAnonymous() = false")
	}
}

func TestManagementCanister_Text(t *testing.T) {
	p := MustNew(nil)
	if got := p.Text(); got != "aaaaa-aa" {
		t.Errorf("empty principal text = %q, want %q", got, "aaaaa-aa")
	}
}

func TestFromText_KnownCanisterID(t *testing.T) {
	// ryjl3-tyaaa-aaaaa-aaaba-cai is the ICP ledger: 00 00 00 00 00 00 00 02 01 01
	p, err := FromText("ryjl3-tyaaa-aaaaa-aaaba-cai")
	if err != nil {
		t.Fatalf("FromText: %v", err)
	}
	want := []byte{0, 0, 0, 0, 0, 0, 0, 2, 1, 1}
	if string(p.Bytes()) != string(want) {
		t.Errorf("bytes = %x, want %x", p.Bytes(), want)
	}
	if p.Text() != "ryjl3-tyaaa-aaaaa-aaaba-cai" {
		t.Errorf("Text() = %q", p.Text())
	}
}

func TestFromText_Roundtrip(t *testing.T) {
	p := SelfAuthenticating([]byte("some der encoded key"))
	if len(p.Bytes()) != MaxLength {
		t.Fatalf("self-authenticating length = %d, want %d", len(p.Bytes()), MaxLength)
	}
	parsed, err := FromText(p.Text())
	if err != nil {
		t.Fatalf("FromText: %v", err)
	}
	if !parsed.Equal(p) {
		t.Errorf("roundtrip mismatch: %s != %s", parsed, p)
	}
}

func TestFromText_BadChecksum(t *testing.T) {
	_, err := FromText("2vxsx-faf")
	if !errors.Is(err, ErrInvalidText) {
		t.Fatalf("err = %v, want ErrInvalidText", err)
	}
}

func TestFromText_Empty(t *testing.T) {
	if _, err := FromText("  "); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("err = %v, want ErrInvalidText", err)
	}
}

func TestNew_TooLong(t *testing.T) {
	if _, err := New(make([]byte, MaxLength+1)); err == nil {
		t.Fatal("expected error for 30-byte principal")
	}
}

func TestMarshalText(t *testing.T) {
	var p Principal
	if err := p.UnmarshalText([]byte("2vxsx-fae")); err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	b, _ := p.MarshalText()
	if string(b) != "2vxsx-fae" {
		t.Errorf("MarshalText = %q", b)
	}
}
