// Package node wires walletd together: storage, keystore, canister
// transport, query layer, sessions and the HTTP API.
package node

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/icwallet/config"
	"github.com/Klingon-tech/icwallet/internal/canister"
	"github.com/Klingon-tech/icwallet/internal/httpapi"
	"github.com/Klingon-tech/icwallet/internal/identity"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/metrics"
	"github.com/Klingon-tech/icwallet/internal/query"
	"github.com/Klingon-tech/icwallet/internal/session"
	"github.com/Klingon-tech/icwallet/internal/storage"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Storage namespaces.
var (
	identityPrefix = []byte("id/")
	sessionPrefix  = []byte("sess/")
)

// Node is a fully-initialized walletd instance.
type Node struct {
	cfg    *config.Config
	logger zerolog.Logger

	db       storage.DB
	keystore *identity.Keystore
	errors   *query.ErrorHandler
	sessions *session.Manager
	api      *httpapi.Server
	registry *prometheus.Registry

	// Lifecycle
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates and initializes a Node. It opens storage and builds every
// component but starts no listeners or goroutines; call Start for that.
func New(cfg *config.Config) (*Node, error) {
	cfg.DataDir = expandHome(cfg.DataDir)

	// ── 1. Init logger ──────────────────────────────────────────────
	logFile := expandHome(cfg.Log.File)
	if logFile == "" {
		if err := os.MkdirAll(cfg.LogsDir(), 0755); err != nil {
			return nil, fmt.Errorf("creating logs dir: %w", err)
		}
		logFile = filepath.Join(cfg.LogsDir(), "walletd.log")
	}
	if err := klog.Init(cfg.Log.Level, cfg.Log.JSON, logFile); err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	logger := klog.WithComponent("node")

	logger.Info().
		Str("network", string(cfg.Network)).
		Str("transport", cfg.Canister.Transport).
		Str("endpoint", cfg.Canister.Endpoint).
		Str("canister", cfg.Canister.ID).
		Msg("Starting walletd")

	// ── 2. Canister transport ───────────────────────────────────────
	ccfg := canister.Config{
		Transport:  cfg.Canister.Transport,
		Endpoint:   cfg.Canister.Endpoint,
		CanisterID: cfg.Canister.ID,
		Timeout:    cfg.Canister.Timeout,
	}
	// Fail on a bad transport config before touching storage.
	if _, err := canister.Dial(ccfg, nil); err != nil {
		return nil, fmt.Errorf("canister config: %w", err)
	}

	// ── 3. Open storage ─────────────────────────────────────────────
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		return nil, fmt.Errorf("open database at %s: %w", cfg.DBDir(), err)
	}
	logger.Info().Str("path", cfg.DBDir()).Msg("Database opened")

	n, err := build(cfg, db, ccfg)
	if err != nil {
		db.Close()
		return nil, err
	}
	return n, nil
}

func build(cfg *config.Config, db storage.DB, ccfg canister.Config) (*Node, error) {
	logger := klog.WithComponent("node")

	// ── 4. Keystore ─────────────────────────────────────────────────
	ks := identity.NewKeystore(storage.NewPrefixDB(db, identityPrefix), identity.DefaultKDFParams())

	// ── 5. Metrics ──────────────────────────────────────────────────
	registry := prometheus.NewRegistry()
	metrics.Register(registry)

	// ── 6. Sessions and query layer ─────────────────────────────────
	sessDB := storage.NewPrefixDB(db, sessionPrefix)
	secret, err := session.LoadSecret(sessDB, cfg.Session.Secret)
	if err != nil {
		return nil, err
	}

	errs := query.NewErrorHandler()
	qcfg := query.Config{BalanceStaleTime: cfg.Query.BalanceStaleTime}
	newClient := func(id identity.Identity) (*query.Client, error) {
		b, err := canister.Dial(ccfg, id)
		if err != nil {
			return nil, err
		}
		return query.New(b, errs, qcfg), nil
	}

	sessions, err := session.NewManager(ks, sessDB, newClient, session.Config{
		Secret: secret,
		TTL:    cfg.Session.TTL,
	})
	if err != nil {
		return nil, err
	}
	// A refused signature or delegation ends the principal's sessions.
	errs.OnAuthFailure(func(p principal.Principal, err error) {
		sessions.LogoutPrincipal(p, err)
	})

	// ── 7. HTTP API ─────────────────────────────────────────────────
	api := httpapi.New(httpapi.Config{
		Addr:            net.JoinHostPort(cfg.HTTP.Addr, strconv.Itoa(cfg.HTTP.Port)),
		Network:         cfg.Network,
		AllowedIPs:      cfg.HTTP.AllowedIPs,
		CORSOrigins:     cfg.HTTP.CORSOrigins,
		OverviewTimeout: cfg.Query.OverviewTimeout,
		Gatherer:        registry,
	}, sessions)

	ctx, cancel := context.WithCancel(context.Background())
	return &Node{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		keystore: ks,
		errors:   errs,
		sessions: sessions,
		api:      api,
		registry: registry,
		ctx:      ctx,
		cancel:   cancel,
	}, nil
}

// Start launches the HTTP API and the session sweeper.
func (n *Node) Start() error {
	// Records left by a previous run have no unlocked identity behind them.
	purged, err := n.sessions.Purge()
	if err != nil {
		return err
	}
	if purged > 0 {
		n.logger.Info().Int("count", purged).Msg("Dropped session records from a previous run")
	}

	if err := n.api.Start(); err != nil {
		return err
	}

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.runSweeper(n.cfg.Session.SweepInterval)
	}()

	n.logger.Info().
		Str("http", n.api.Addr()).
		Dur("session_ttl", n.cfg.Session.TTL).
		Msg("walletd started successfully")
	return nil
}

func (n *Node) runSweeper(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-n.ctx.Done():
			return
		case now := <-ticker.C:
			if closed := n.sessions.Sweep(now); closed > 0 {
				n.logger.Info().Int("closed", closed).Msg("Expired sessions swept")
			}
		}
	}
}

// Stop performs graceful shutdown in reverse order.
func (n *Node) Stop() {
	n.cancel()
	n.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := n.api.Stop(ctx); err != nil {
		n.logger.Warn().Err(err).Msg("HTTP shutdown")
	}
	n.sessions.Close()
	if n.db != nil {
		n.db.Close()
	}

	n.logger.Info().Msg("Goodbye!")
}

// HTTPAddr returns the address the API is listening on.
func (n *Node) HTTPAddr() string {
	return n.api.Addr()
}

// Keystore returns the node's identity store.
func (n *Node) Keystore() *identity.Keystore {
	return n.keystore
}
