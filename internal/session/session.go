// Package session is the server side of the authentication gate: it unlocks
// keystore identities on login and hands out signed session tokens.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/Klingon-tech/icwallet/internal/identity"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/metrics"
	"github.com/Klingon-tech/icwallet/internal/query"
	"github.com/Klingon-tech/icwallet/internal/storage"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Session errors.
var (
	ErrInvalidToken    = errors.New("invalid session token")
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrInvalidConfig   = errors.New("invalid session config")
)

// Status is the login status reported to clients.
type Status string

const (
	StatusIdle    Status = "idle"
	StatusSuccess Status = "success"
)

// DefaultTTL is the session lifetime when none is configured.
const DefaultTTL = 8 * time.Hour

const issuer = "icwallet"

// ClientFactory builds the query client a session uses to reach the
// canister as its identity.
type ClientFactory func(id identity.Identity) (*query.Client, error)

// Config configures a Manager.
type Config struct {
	Secret []byte
	TTL    time.Duration
}

// Session is a logged-in identity.
type Session struct {
	ID        string
	Name      string
	Principal principal.Principal
	CreatedAt time.Time
	ExpiresAt time.Time

	// Query reaches the canister signed as this session's identity.
	Query *query.Client

	id *identity.Secp256k1
}

type record struct {
	Name      string    `json:"name"`
	Principal string    `json:"principal"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type claims struct {
	SessionID string `json:"sid"`
	jwt.RegisteredClaims
}

// Manager tracks live sessions. Unlocked identities only live in memory;
// metadata is persisted so expired sessions can be swept after a restart.
type Manager struct {
	keystore  *identity.Keystore
	records   *storage.PrefixDB
	newClient ClientFactory
	secret    []byte
	ttl       time.Duration
	now       func() time.Time

	mu   sync.RWMutex
	live map[string]*Session
}

// NewManager creates a session manager persisting metadata to db.
func NewManager(ks *identity.Keystore, db storage.DB, newClient ClientFactory, cfg Config) (*Manager, error) {
	if len(cfg.Secret) < minSecretLen {
		return nil, fmt.Errorf("%w: secret too short", ErrInvalidConfig)
	}
	if ks == nil || db == nil || newClient == nil {
		return nil, fmt.Errorf("%w: keystore, storage and client factory are required", ErrInvalidConfig)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{
		keystore:  ks,
		records:   storage.NewPrefixDB(db, []byte("s/")),
		newClient: newClient,
		secret:    cfg.Secret,
		ttl:       ttl,
		now:       time.Now,
		live:      make(map[string]*Session),
	}, nil
}

// storageKey is the record key of sid inside the "s/" namespace.
func storageKey(sid string) []byte {
	sum := blake3.Sum256([]byte(sid))
	return sum[:]
}

// Login unlocks the named identity and opens a session for it.
func (m *Manager) Login(name string, password []byte) (string, *Session, error) {
	id, err := m.keystore.Load(name, password)
	if err != nil {
		return "", nil, err
	}
	client, err := m.newClient(id)
	if err != nil {
		id.Zero()
		return "", nil, fmt.Errorf("connect canister: %w", err)
	}

	now := m.now()
	s := &Session{
		ID:        uuid.NewString(),
		Name:      name,
		Principal: id.Principal(),
		CreatedAt: now,
		ExpiresAt: now.Add(m.ttl),
		Query:     client,
		id:        id,
	}

	token, err := m.sign(s)
	if err != nil {
		id.Zero()
		return "", nil, err
	}
	if err := m.persist(s); err != nil {
		id.Zero()
		return "", nil, err
	}

	m.mu.Lock()
	m.live[s.ID] = s
	n := len(m.live)
	m.mu.Unlock()
	metrics.SetActiveSessions(n)

	logger := klog.WithPrincipal(klog.Session, s.Principal.Text())
	logger.Info().
		Str("name", name).
		Time("expires", s.ExpiresAt).
		Msg("Session opened")
	return token, s, nil
}

func (m *Manager) sign(s *Session) (string, error) {
	c := claims{
		SessionID: s.ID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   s.Principal.Text(),
			IssuedAt:  jwt.NewNumericDate(s.CreatedAt),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return token, nil
}

func (m *Manager) persist(s *Session) error {
	data, err := json.Marshal(record{
		Name:      s.Name,
		Principal: s.Principal.Text(),
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
	})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := m.records.Put(storageKey(s.ID), data); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Authenticate verifies a session token and returns its live session.
func (m *Manager) Authenticate(token string) (*Session, error) {
	var c claims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	_, err := parser.ParseWithClaims(token, &c, func(*jwt.Token) (any, error) {
		return m.secret, nil
	})
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, ErrSessionExpired
	case err != nil:
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case c.SessionID == "":
		return nil, ErrInvalidToken
	}

	m.mu.RLock()
	s, ok := m.live[c.SessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if s.Principal.Text() != c.Subject {
		return nil, ErrInvalidToken
	}
	if !m.now().Before(s.ExpiresAt) {
		return nil, ErrSessionExpired
	}
	return s, nil
}

// Status reports whether token belongs to a live session.
func (m *Manager) Status(token string) Status {
	if token == "" {
		return StatusIdle
	}
	if _, err := m.Authenticate(token); err != nil {
		return StatusIdle
	}
	return StatusSuccess
}

// Logout closes a session and wipes its key.
func (m *Manager) Logout(sid string) error {
	m.mu.Lock()
	s, ok := m.live[sid]
	delete(m.live, sid)
	n := len(m.live)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	metrics.SetActiveSessions(n)
	m.close(s, "logout")
	return nil
}

// LogoutPrincipal closes every session of p. It backs the query layer's
// authentication-failure hook.
func (m *Manager) LogoutPrincipal(p principal.Principal, reason error) int {
	m.mu.Lock()
	var closed []*Session
	for sid, s := range m.live {
		if s.Principal.Equal(p) {
			closed = append(closed, s)
			delete(m.live, sid)
		}
	}
	n := len(m.live)
	m.mu.Unlock()

	if len(closed) == 0 {
		return 0
	}
	metrics.SetActiveSessions(n)
	logger := klog.WithPrincipal(klog.Session, p.Text())
	for _, s := range closed {
		logger.Warn().Err(reason).Str("session", s.ID).Msg("Session revoked")
		m.close(s, "revoked")
	}
	return len(closed)
}

func (m *Manager) close(s *Session, why string) {
	s.id.Zero()
	if err := m.records.Delete(storageKey(s.ID)); err != nil && !errors.Is(err, storage.ErrNotFound) {
		klog.Session.Warn().Err(err).Str("session", s.ID).Msg("Failed to delete session record")
	}
	logger := klog.WithPrincipal(klog.Session, s.Principal.Text())
	logger.Info().Str("session", s.ID).Str("reason", why).Msg("Session closed")
}

// Sweep drops sessions that expired before now, both live and persisted,
// and returns how many live sessions were closed.
func (m *Manager) Sweep(now time.Time) int {
	m.mu.Lock()
	var expired []*Session
	for sid, s := range m.live {
		if !now.Before(s.ExpiresAt) {
			expired = append(expired, s)
			delete(m.live, sid)
		}
	}
	n := len(m.live)
	m.mu.Unlock()

	for _, s := range expired {
		m.close(s, "expired")
	}
	if len(expired) > 0 {
		metrics.SetActiveSessions(n)
	}

	var stale [][]byte
	err := m.records.ForEach(nil, func(key, value []byte) error {
		var rec record
		if err := json.Unmarshal(value, &rec); err != nil || !now.Before(rec.ExpiresAt) {
			stale = append(stale, append([]byte(nil), key...))
		}
		return nil
	})
	if err != nil {
		klog.Session.Warn().Err(err).Msg("Session sweep failed")
	}
	for _, key := range stale {
		m.records.Delete(key)
	}
	return len(expired)
}

// Purge removes every persisted record that has no live session behind it.
// Records left by a previous process always qualify: unlocked identities
// do not survive a restart.
func (m *Manager) Purge() (int, error) {
	m.mu.RLock()
	live := make(map[string]bool, len(m.live))
	for sid := range m.live {
		live[string(storageKey(sid))] = true
	}
	m.mu.RUnlock()

	if len(live) == 0 {
		var n int
		if err := m.records.ForEach(nil, func(_, _ []byte) error {
			n++
			return nil
		}); err != nil {
			return 0, fmt.Errorf("purge sessions: %w", err)
		}
		if err := m.records.DeleteAll(); err != nil {
			return 0, fmt.Errorf("purge sessions: %w", err)
		}
		return n, nil
	}

	var orphans [][]byte
	if err := m.records.ForEach(nil, func(key, _ []byte) error {
		if !live[string(key)] {
			orphans = append(orphans, append([]byte(nil), key...))
		}
		return nil
	}); err != nil {
		return 0, fmt.Errorf("purge sessions: %w", err)
	}
	for _, key := range orphans {
		if err := m.records.Delete(key); err != nil {
			return 0, fmt.Errorf("purge sessions: %w", err)
		}
	}
	return len(orphans), nil
}

// Len returns the number of live sessions.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.live)
}

// Close ends every live session.
func (m *Manager) Close() {
	m.mu.Lock()
	live := m.live
	m.live = make(map[string]*Session)
	m.mu.Unlock()
	for _, s := range live {
		m.close(s, "shutdown")
	}
	metrics.SetActiveSessions(0)
}
