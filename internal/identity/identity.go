// Package identity manages the caller identities that sign canister calls.
package identity

import (
	"crypto/sha256"
	"encoding/asn1"
	"errors"
	"fmt"
	"sync"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"

	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Identity is a caller identity able to sign requests.
type Identity interface {
	Principal() principal.Principal
	// PublicKeyDER returns the DER SubjectPublicKeyInfo, or nil for the
	// anonymous identity.
	PublicKeyDER() []byte
	// Sign signs msg. Anonymous identities return an error.
	Sign(msg []byte) ([]byte, error)
}

var (
	oidECPublicKey = asn1.ObjectIdentifier{1, 2, 840, 10045, 2, 1}
	oidSecp256k1   = asn1.ObjectIdentifier{1, 3, 132, 0, 10}
)

type algorithmIdentifier struct {
	Algorithm  asn1.ObjectIdentifier
	Parameters asn1.ObjectIdentifier
}

type subjectPublicKeyInfo struct {
	Algorithm algorithmIdentifier
	PublicKey asn1.BitString
}

// ErrKeyWiped is returned by Sign after Zero.
var ErrKeyWiped = errors.New("identity key has been wiped")

// Secp256k1 is an identity backed by a secp256k1 key. Signatures are ECDSA
// over SHA-256 in 64-byte r||s form. It is safe for concurrent use.
type Secp256k1 struct {
	mu  sync.RWMutex
	key *secp256k1.PrivateKey // nil once wiped

	pub       []byte
	der       []byte
	principal principal.Principal
}

// NewSecp256k1 creates an identity from a 32-byte private key.
func NewSecp256k1(priv []byte) (*Secp256k1, error) {
	if len(priv) != 32 {
		return nil, fmt.Errorf("private key must be 32 bytes, got %d", len(priv))
	}
	key := secp256k1.PrivKeyFromBytes(priv)
	if key.Key.IsZero() {
		return nil, fmt.Errorf("private key is zero")
	}
	der, err := marshalSPKI(key.PubKey())
	if err != nil {
		return nil, err
	}
	return &Secp256k1{
		key:       key,
		pub:       key.PubKey().SerializeUncompressed(),
		der:       der,
		principal: principal.SelfAuthenticating(der),
	}, nil
}

// GenerateSecp256k1 creates an identity with a random key.
func GenerateSecp256k1() (*Secp256k1, error) {
	key, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	defer key.Zero()
	return NewSecp256k1(key.Serialize())
}

func marshalSPKI(pub *secp256k1.PublicKey) ([]byte, error) {
	point := pub.SerializeUncompressed()
	der, err := asn1.Marshal(subjectPublicKeyInfo{
		Algorithm: algorithmIdentifier{Algorithm: oidECPublicKey, Parameters: oidSecp256k1},
		PublicKey: asn1.BitString{Bytes: point, BitLength: len(point) * 8},
	})
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}
	return der, nil
}

func (id *Secp256k1) Principal() principal.Principal { return id.principal }

func (id *Secp256k1) PublicKeyDER() []byte { return id.der }

// PublicKey returns the uncompressed public key point.
func (id *Secp256k1) PublicKey() []byte {
	return id.pub
}

// Sign returns the 64-byte r||s ECDSA signature of SHA-256(msg).
func (id *Secp256k1) Sign(msg []byte) ([]byte, error) {
	hash := sha256.Sum256(msg)

	id.mu.RLock()
	defer id.mu.RUnlock()
	if id.key == nil {
		return nil, ErrKeyWiped
	}
	// Compact signatures carry a leading recovery byte.
	compact := ecdsa.SignCompact(id.key, hash[:], false)
	if len(compact) != 65 {
		return nil, fmt.Errorf("unexpected signature length %d", len(compact))
	}
	return compact[1:], nil
}

// Zero wipes the private key. It waits for signatures in progress; later
// calls to Sign return ErrKeyWiped.
func (id *Secp256k1) Zero() {
	id.mu.Lock()
	defer id.mu.Unlock()
	if id.key != nil {
		id.key.Zero()
		id.key = nil
	}
}

// Anonymous is the unauthenticated identity.
type Anonymous struct{}

func (Anonymous) Principal() principal.Principal { return principal.Anonymous() }

func (Anonymous) PublicKeyDER() []byte { return nil }

func (Anonymous) Sign([]byte) ([]byte, error) {
	return nil, fmt.Errorf("anonymous identity cannot sign")
}

// Verify checks a 64-byte r||s signature of SHA-256(msg) against an
// uncompressed or compressed public key.
func Verify(pubKey, msg, sig []byte) bool {
	if len(sig) != 64 {
		return false
	}
	pub, err := secp256k1.ParsePubKey(pubKey)
	if err != nil {
		return false
	}
	var r, s secp256k1.ModNScalar
	if r.SetByteSlice(sig[:32]) || s.SetByteSlice(sig[32:]) {
		return false
	}
	hash := sha256.Sum256(msg)
	return ecdsa.NewSignature(&r, &s).Verify(hash[:], pub)
}
