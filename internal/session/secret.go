package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"

	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/storage"
)

const (
	secretKey    = "secret"
	secretLength = 32
	minSecretLen = 16
)

// LoadSecret returns the token signing secret. A configured value wins (the
// config package folds config.EnvSessionSecret into it); otherwise a secret
// is read from db, generating and persisting one on first start.
func LoadSecret(db storage.DB, configured string) ([]byte, error) {
	if configured != "" {
		if len(configured) < minSecretLen {
			return nil, fmt.Errorf("session secret must be at least %d bytes", minSecretLen)
		}
		return []byte(configured), nil
	}

	data, err := db.Get([]byte(secretKey))
	if err == nil {
		secret, err := hex.DecodeString(string(data))
		if err != nil || len(secret) < minSecretLen {
			return nil, fmt.Errorf("stored session secret is corrupt")
		}
		return secret, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("read session secret: %w", err)
	}

	secret := make([]byte, secretLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate session secret: %w", err)
	}
	if err := db.Put([]byte(secretKey), []byte(hex.EncodeToString(secret))); err != nil {
		return nil, fmt.Errorf("store session secret: %w", err)
	}
	klog.Session.Info().Msg("Generated new session secret")
	return secret, nil
}
