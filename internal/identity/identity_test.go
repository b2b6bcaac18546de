package identity

import (
	"bytes"
	"encoding/hex"
	"errors"
	"sync"
	"testing"
)

const testMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func TestSecp256k1_DERPublicKey(t *testing.T) {
	id, err := GenerateSecp256k1()
	if err != nil {
		t.Fatalf("GenerateSecp256k1() error: %v", err)
	}
	der := id.PublicKeyDER()
	prefix, _ := hex.DecodeString("3056301006072a8648ce3d020106052b8104000a034200")
	if !bytes.HasPrefix(der, prefix) {
		t.Fatalf("DER = %x, want prefix %x", der, prefix)
	}
	if len(der) != len(prefix)+65 {
		t.Errorf("DER length = %d, want %d", len(der), len(prefix)+65)
	}
	if !bytes.Equal(der[len(prefix):], id.PublicKey()) {
		t.Error("DER does not embed the uncompressed public key")
	}
}

func TestSecp256k1_Principal(t *testing.T) {
	id, err := GenerateSecp256k1()
	if err != nil {
		t.Fatalf("GenerateSecp256k1() error: %v", err)
	}
	raw := id.Principal().Bytes()
	if len(raw) != 29 || raw[28] != 0x02 {
		t.Errorf("principal bytes = %x, want 29 bytes ending in 02", raw)
	}
	if id.Principal().IsAnonymous() {
		t.Error("key identity should not be anonymous")
	}
}

func TestSecp256k1_SignVerify(t *testing.T) {
	id, err := GenerateSecp256k1()
	if err != nil {
		t.Fatalf("GenerateSecp256k1() error: %v", err)
	}
	msg := []byte("\x0Aic-request" + "0123456789abcdef0123456789abcdef")
	sig, err := id.Sign(msg)
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if len(sig) != 64 {
		t.Fatalf("signature length = %d, want 64", len(sig))
	}
	if !Verify(id.PublicKey(), msg, sig) {
		t.Error("signature does not verify")
	}
	if Verify(id.PublicKey(), []byte("other"), sig) {
		t.Error("signature verifies for a different message")
	}

	other, _ := GenerateSecp256k1()
	if Verify(other.PublicKey(), msg, sig) {
		t.Error("signature verifies under a different key")
	}
}

func TestSecp256k1_ZeroWhileSigning(t *testing.T) {
	id, err := GenerateSecp256k1()
	if err != nil {
		t.Fatalf("GenerateSecp256k1() error: %v", err)
	}
	pub := id.PublicKey()
	msg := []byte("concurrent")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				sig, err := id.Sign(msg)
				if errors.Is(err, ErrKeyWiped) {
					return
				}
				if err != nil {
					t.Errorf("Sign() error: %v", err)
					return
				}
				if !Verify(pub, msg, sig) {
					t.Error("signature made during Zero does not verify")
					return
				}
			}
		}()
	}
	id.Zero()
	wg.Wait()

	if _, err := id.Sign(msg); !errors.Is(err, ErrKeyWiped) {
		t.Fatalf("Sign() after Zero error = %v, want ErrKeyWiped", err)
	}
	id.Zero()
}

func TestNewSecp256k1_InvalidKey(t *testing.T) {
	if _, err := NewSecp256k1(make([]byte, 31)); err == nil {
		t.Error("expected error for short key")
	}
	if _, err := NewSecp256k1(make([]byte, 32)); err == nil {
		t.Error("expected error for zero key")
	}
}

func TestAnonymous(t *testing.T) {
	var id Identity = Anonymous{}
	if !id.Principal().IsAnonymous() {
		t.Error("Anonymous principal is not anonymous")
	}
	if id.PublicKeyDER() != nil {
		t.Error("Anonymous has a public key")
	}
	if _, err := id.Sign([]byte("x")); err == nil {
		t.Error("Anonymous should not sign")
	}
}

func TestFromMnemonic_Deterministic(t *testing.T) {
	a, err := FromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic() error: %v", err)
	}
	b, err := FromMnemonic(testMnemonic)
	if err != nil {
		t.Fatalf("FromMnemonic() error: %v", err)
	}
	if !a.Principal().Equal(b.Principal()) {
		t.Error("same mnemonic produced different principals")
	}

	other, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	c, err := FromMnemonic(other)
	if err != nil {
		t.Fatalf("FromMnemonic() error: %v", err)
	}
	if a.Principal().Equal(c.Principal()) {
		t.Error("different mnemonics produced the same principal")
	}
}

func TestFromMnemonic_Invalid(t *testing.T) {
	if _, err := FromMnemonic("abandon abandon abandon"); err != ErrInvalidMnemonic {
		t.Errorf("err = %v, want ErrInvalidMnemonic", err)
	}
}

func TestGenerateMnemonic_WordCount(t *testing.T) {
	m, err := GenerateMnemonic()
	if err != nil {
		t.Fatalf("GenerateMnemonic() error: %v", err)
	}
	if n := len(bytes.Fields([]byte(m))); n != 24 {
		t.Errorf("word count = %d, want 24", n)
	}
	if !ValidateMnemonic(m) {
		t.Error("generated mnemonic does not validate")
	}
}
