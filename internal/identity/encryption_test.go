package identity

import (
	"bytes"
	"errors"
	"testing"
)

// fastParams returns low-cost Argon2 params for fast tests.
func fastParams() KDFParams {
	return KDFParams{Memory: 64, Iterations: 1, Parallelism: 1}
}

func TestSealOpen_Roundtrip(t *testing.T) {
	secret := []byte("sixty-four bytes of seed material would normally go here")
	sealed, err := seal(secret, []byte("pw"), fastParams())
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	if bytes.Contains(sealed, secret) {
		t.Error("sealed output contains the plaintext")
	}
	got, err := open(sealed, []byte("pw"))
	if err != nil {
		t.Fatalf("open() error: %v", err)
	}
	if !bytes.Equal(got, secret) {
		t.Errorf("open() = %q, want %q", got, secret)
	}
}

func TestSealOpen_WrongPassword(t *testing.T) {
	sealed, err := seal([]byte("secret"), []byte("right"), fastParams())
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	if _, err := open(sealed, []byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("err = %v, want ErrWrongPassword", err)
	}
}

func TestSealOpen_Tampered(t *testing.T) {
	sealed, err := seal([]byte("secret"), []byte("pw"), fastParams())
	if err != nil {
		t.Fatalf("seal() error: %v", err)
	}
	sealed[len(sealed)-1] ^= 0xff
	if _, err := open(sealed, []byte("pw")); err == nil {
		t.Error("open() should fail on tampered ciphertext")
	}
}

func TestOpen_TooShort(t *testing.T) {
	if _, err := open(make([]byte, 10), []byte("pw")); err == nil {
		t.Error("open() should fail on short input")
	}
}

func TestSeal_UniqueSaltAndNonce(t *testing.T) {
	a, _ := seal([]byte("same"), []byte("pw"), fastParams())
	b, _ := seal([]byte("same"), []byte("pw"), fastParams())
	if bytes.Equal(a, b) {
		t.Error("two seals of the same secret should differ")
	}
}
