package identity

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/tyler-smith/go-bip39"

	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/storage"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Keystore errors.
var (
	ErrInvalidMnemonic  = errors.New("invalid mnemonic")
	ErrInvalidName      = errors.New("identity name must be 1-64 characters of letters, digits, '-' or '_'")
	ErrIdentityExists   = errors.New("identity already exists")
	ErrIdentityNotFound = errors.New("identity not found")
)

const recordVersion = 1

var validName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

// record is the stored form of an identity. The seed is sealed; the
// principal and public key are kept in clear so they can be listed
// without a password.
type record struct {
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	Principal  string    `json:"principal"`
	PublicKey  []byte    `json:"public_key_der"`
	SealedSeed []byte    `json:"sealed_seed"`
}

// Entry describes a stored identity.
type Entry struct {
	Name      string
	Principal principal.Principal
	CreatedAt time.Time
}

// Keystore stores password-protected identities in a key-value store.
type Keystore struct {
	db     storage.DB
	params KDFParams
}

// NewKeystore creates a keystore over db. Keys are identity names, so db is
// normally a storage.PrefixDB namespace.
func NewKeystore(db storage.DB, params KDFParams) *Keystore {
	return &Keystore{db: db, params: params}
}

// Create generates a fresh mnemonic, stores the identity derived from it
// and returns the mnemonic for the user to back up.
func (ks *Keystore) Create(name string, password []byte) (string, principal.Principal, error) {
	mnemonic, err := GenerateMnemonic()
	if err != nil {
		return "", principal.Principal{}, err
	}
	p, err := ks.Import(name, mnemonic, password)
	if err != nil {
		return "", principal.Principal{}, err
	}
	return mnemonic, p, nil
}

// Import stores the identity derived from an existing mnemonic.
func (ks *Keystore) Import(name, mnemonic string, password []byte) (principal.Principal, error) {
	if !validName.MatchString(name) {
		return principal.Principal{}, ErrInvalidName
	}
	if !ValidateMnemonic(mnemonic) {
		return principal.Principal{}, ErrInvalidMnemonic
	}
	exists, err := ks.db.Has([]byte(name))
	if err != nil {
		return principal.Principal{}, fmt.Errorf("check identity: %w", err)
	}
	if exists {
		return principal.Principal{}, fmt.Errorf("%w: %s", ErrIdentityExists, name)
	}

	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, "")
	if err != nil {
		return principal.Principal{}, fmt.Errorf("derive seed: %w", err)
	}
	defer zero(seed)

	id, err := fromSeed(seed)
	if err != nil {
		return principal.Principal{}, err
	}
	defer id.Zero()

	sealed, err := seal(seed, password, ks.params)
	if err != nil {
		return principal.Principal{}, fmt.Errorf("seal seed: %w", err)
	}
	rec := record{
		Version:    recordVersion,
		CreatedAt:  time.Now().UTC(),
		Principal:  id.Principal().Text(),
		PublicKey:  id.PublicKeyDER(),
		SealedSeed: sealed,
	}
	if err := ks.put(name, &rec); err != nil {
		return principal.Principal{}, err
	}

	klog.Identity.Info().Str("name", name).Str("principal", rec.Principal).Msg("Identity stored")
	return id.Principal(), nil
}

// Load unlocks an identity with its password.
func (ks *Keystore) Load(name string, password []byte) (*Secp256k1, error) {
	rec, err := ks.get(name)
	if err != nil {
		return nil, err
	}
	seed, err := open(rec.SealedSeed, password)
	if err != nil {
		return nil, err
	}
	defer zero(seed)

	id, err := fromSeed(seed)
	if err != nil {
		return nil, err
	}
	if id.Principal().Text() != rec.Principal {
		id.Zero()
		return nil, fmt.Errorf("identity %s: derived principal does not match stored principal", name)
	}
	return id, nil
}

// Principal returns an identity's principal without unlocking it.
func (ks *Keystore) Principal(name string) (principal.Principal, error) {
	rec, err := ks.get(name)
	if err != nil {
		return principal.Principal{}, err
	}
	return principal.FromText(rec.Principal)
}

// List returns all stored identities ordered by name.
func (ks *Keystore) List() ([]Entry, error) {
	var out []Entry
	err := ks.db.ForEach(nil, func(key, value []byte) error {
		var rec record
		if err := json.Unmarshal(value, &rec); err != nil {
			return fmt.Errorf("parse identity %s: %w", key, err)
		}
		p, err := principal.FromText(rec.Principal)
		if err != nil {
			return fmt.Errorf("identity %s: %w", key, err)
		}
		out = append(out, Entry{Name: string(key), Principal: p, CreatedAt: rec.CreatedAt})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Delete removes a stored identity.
func (ks *Keystore) Delete(name string) error {
	if _, err := ks.get(name); err != nil {
		return err
	}
	if err := ks.db.Delete([]byte(name)); err != nil {
		return fmt.Errorf("delete identity: %w", err)
	}
	klog.Identity.Info().Str("name", name).Msg("Identity deleted")
	return nil
}

func (ks *Keystore) get(name string) (*record, error) {
	if !validName.MatchString(name) {
		return nil, ErrInvalidName
	}
	data, err := ks.db.Get([]byte(name))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrIdentityNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("read identity: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("parse identity: %w", err)
	}
	if rec.Version != recordVersion {
		return nil, fmt.Errorf("unsupported identity version: %d", rec.Version)
	}
	return &rec, nil
}

func (ks *Keystore) put(name string, rec *record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal identity: %w", err)
	}
	if err := ks.db.Put([]byte(name), data); err != nil {
		return fmt.Errorf("write identity: %w", err)
	}
	return nil
}
