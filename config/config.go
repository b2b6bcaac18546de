// Package config handles walletd configuration.
//
// Settings come from, in increasing precedence: per-network defaults, the
// <datadir>/icwallet.conf file, .env / environment variables and
// command-line flags.
package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/Klingon-tech/icwallet/pkg/btc"
)

// Config holds walletd runtime configuration.
type Config struct {
	// Core
	Network btc.Network `conf:"network"`
	DataDir string      `conf:"datadir"`

	// Remote wallet canister
	Canister CanisterConfig

	// Browser-facing HTTP API
	HTTP HTTPConfig

	// Login sessions
	Session SessionConfig

	// Data-fetch layer
	Query QueryConfig

	// Logging
	Log LogConfig
}

// CanisterConfig selects how the wallet canister is reached.
type CanisterConfig struct {
	Transport string        `conf:"canister.transport"` // ic or jsonrpc
	Endpoint  string        `conf:"canister.endpoint"`
	ID        string        `conf:"canister.id"` // Principal text; required for ic
	Timeout   time.Duration `conf:"canister.timeout"`
}

// HTTPConfig holds API server settings.
type HTTPConfig struct {
	Addr        string   `conf:"http.addr"`
	Port        int      `conf:"http.port"`
	AllowedIPs  []string `conf:"http.allowed"`
	CORSOrigins []string `conf:"http.cors"` // Allowed CORS origins ("*" = all).
}

// SessionConfig holds login session settings.
type SessionConfig struct {
	TTL           time.Duration `conf:"session.ttl"`
	SweepInterval time.Duration `conf:"session.sweep"`
	Secret        string        `conf:"session.secret"` // Empty: env, then generated.
}

// QueryConfig holds cache settings.
type QueryConfig struct {
	BalanceStaleTime time.Duration `conf:"query.balance_stale"`
	OverviewTimeout  time.Duration `conf:"query.overview_timeout"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `conf:"log.level"`
	File  string `conf:"log.file"`
	JSON  bool   `conf:"log.json"`
}

// DefaultDataDir returns the platform-specific default data directory.
//
//	Linux:   ~/.icwallet
//	macOS:   ~/Library/Application Support/ICWallet
//	Windows: %APPDATA%\ICWallet
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".icwallet"
	}
	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "ICWallet")
	case "windows":
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, "ICWallet")
		}
		return filepath.Join(home, "AppData", "Roaming", "ICWallet")
	default:
		return filepath.Join(home, ".icwallet")
	}
}

// NetworkDataDir returns the network-specific data directory.
func (c *Config) NetworkDataDir() string {
	return filepath.Join(c.DataDir, string(c.Network))
}

// DBDir returns the badger database directory holding identities and
// session records.
func (c *Config) DBDir() string {
	return filepath.Join(c.NetworkDataDir(), "db")
}

// LogsDir returns the logs directory.
func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

// ConfigFile returns the config file path.
func (c *Config) ConfigFile() string {
	return filepath.Join(c.DataDir, "icwallet.conf")
}

// EnvFile returns the .env file path inside the data directory.
func (c *Config) EnvFile() string {
	return filepath.Join(c.DataDir, ".env")
}
