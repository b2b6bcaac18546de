package identity

import (
	"errors"
	"testing"

	"github.com/Klingon-tech/icwallet/internal/storage"
)

func testKeystore(t *testing.T) *Keystore {
	t.Helper()
	db := storage.NewPrefixDB(storage.NewMemory(), []byte("id/"))
	return NewKeystore(db, fastParams())
}

func TestKeystore_ImportAndLoad(t *testing.T) {
	ks := testKeystore(t)
	p, err := ks.Import("alice", testMnemonic, []byte("pw"))
	if err != nil {
		t.Fatalf("Import() error: %v", err)
	}

	want, _ := FromMnemonic(testMnemonic)
	if !p.Equal(want.Principal()) {
		t.Errorf("Import principal = %s, want %s", p, want.Principal())
	}

	id, err := ks.Load("alice", []byte("pw"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if !id.Principal().Equal(p) {
		t.Errorf("Load principal = %s, want %s", id.Principal(), p)
	}
}

func TestKeystore_Create(t *testing.T) {
	ks := testKeystore(t)
	mnemonic, p, err := ks.Create("bob", []byte("pw"))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}
	if !ValidateMnemonic(mnemonic) {
		t.Error("Create() returned an invalid mnemonic")
	}
	derived, _ := FromMnemonic(mnemonic)
	if !derived.Principal().Equal(p) {
		t.Error("returned mnemonic does not derive the stored principal")
	}
}

func TestKeystore_Duplicate(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Import("dup", testMnemonic, []byte("pw")); err != nil {
		t.Fatalf("Import() error: %v", err)
	}
	if _, err := ks.Import("dup", testMnemonic, []byte("pw")); !errors.Is(err, ErrIdentityExists) {
		t.Errorf("err = %v, want ErrIdentityExists", err)
	}
}

func TestKeystore_WrongPassword(t *testing.T) {
	ks := testKeystore(t)
	ks.Import("w", testMnemonic, []byte("right"))
	if _, err := ks.Load("w", []byte("wrong")); !errors.Is(err, ErrWrongPassword) {
		t.Errorf("err = %v, want ErrWrongPassword", err)
	}
}

func TestKeystore_NotFound(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Load("ghost", []byte("pw")); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Load err = %v, want ErrIdentityNotFound", err)
	}
	if _, err := ks.Principal("ghost"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Principal err = %v, want ErrIdentityNotFound", err)
	}
	if err := ks.Delete("ghost"); !errors.Is(err, ErrIdentityNotFound) {
		t.Errorf("Delete err = %v, want ErrIdentityNotFound", err)
	}
}

func TestKeystore_InvalidInput(t *testing.T) {
	ks := testKeystore(t)
	if _, err := ks.Import("bad name!", testMnemonic, []byte("pw")); !errors.Is(err, ErrInvalidName) {
		t.Errorf("err = %v, want ErrInvalidName", err)
	}
	if _, err := ks.Import("ok", "not a mnemonic", []byte("pw")); !errors.Is(err, ErrInvalidMnemonic) {
		t.Errorf("err = %v, want ErrInvalidMnemonic", err)
	}
}

func TestKeystore_ListPrincipalDelete(t *testing.T) {
	ks := testKeystore(t)
	pa, _ := ks.Import("a", testMnemonic, []byte("pw"))
	_, pb, err := ks.Create("b", []byte("pw"))
	if err != nil {
		t.Fatalf("Create() error: %v", err)
	}

	entries, err := ks.List()
	if err != nil {
		t.Fatalf("List() error: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "a" || entries[1].Name != "b" {
		t.Fatalf("List() = %+v", entries)
	}
	if !entries[0].Principal.Equal(pa) || !entries[1].Principal.Equal(pb) {
		t.Error("List() principals do not match")
	}

	got, err := ks.Principal("b")
	if err != nil {
		t.Fatalf("Principal() error: %v", err)
	}
	if !got.Equal(pb) {
		t.Errorf("Principal() = %s, want %s", got, pb)
	}

	if err := ks.Delete("a"); err != nil {
		t.Fatalf("Delete() error: %v", err)
	}
	entries, _ = ks.List()
	if len(entries) != 1 || entries[0].Name != "b" {
		t.Errorf("after Delete, List() = %+v", entries)
	}
}
