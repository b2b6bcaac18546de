package identity

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

const saltSize = 32

// Sealed layout: salt(32) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
const headerSize = saltSize + 4 + 4 + 1

// ErrWrongPassword is returned when a sealed secret fails authentication.
var ErrWrongPassword = errors.New("wrong password or corrupted keystore entry")

// KDFParams are the Argon2id cost parameters.
type KDFParams struct {
	Memory      uint32 // KiB
	Iterations  uint32
	Parallelism uint8
}

// DefaultKDFParams returns the production Argon2id parameters.
func DefaultKDFParams() KDFParams {
	return KDFParams{Memory: 64 * 1024, Iterations: 3, Parallelism: 4}
}

func deriveKey(password, salt []byte, p KDFParams) []byte {
	return argon2.IDKey(password, salt, p.Iterations, p.Memory, p.Parallelism, chacha20poly1305.KeySize)
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// seal encrypts secret under password with Argon2id + XChaCha20-Poly1305.
func seal(secret, password []byte, p KDFParams) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	key := deriveKey(password, salt, p)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	out := make([]byte, 0, headerSize+len(nonce)+len(secret)+aead.Overhead())
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, p.Memory)
	out = binary.LittleEndian.AppendUint32(out, p.Iterations)
	out = append(out, p.Parallelism)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, secret, nil), nil
}

// open reverses seal.
func open(sealed, password []byte) ([]byte, error) {
	nonceSize := chacha20poly1305.NonceSizeX
	if len(sealed) < headerSize+nonceSize+chacha20poly1305.Overhead {
		return nil, fmt.Errorf("sealed secret too short: %d bytes", len(sealed))
	}
	p := KDFParams{
		Memory:      binary.LittleEndian.Uint32(sealed[saltSize:]),
		Iterations:  binary.LittleEndian.Uint32(sealed[saltSize+4:]),
		Parallelism: sealed[saltSize+8],
	}
	if p.Iterations == 0 || p.Parallelism == 0 {
		return nil, fmt.Errorf("invalid kdf parameters")
	}
	key := deriveKey(password, sealed[:saltSize], p)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	nonce := sealed[headerSize : headerSize+nonceSize]
	plain, err := aead.Open(nil, nonce, sealed[headerSize+nonceSize:], nil)
	if err != nil {
		return nil, ErrWrongPassword
	}
	return plain, nil
}
