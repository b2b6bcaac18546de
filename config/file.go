package config

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Klingon-tech/icwallet/pkg/btc"
)

// LoadFile loads configuration values from a .conf file.
// Format: key = value (one per line, # for comments)
func LoadFile(path string) (map[string]string, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return make(map[string]string), nil
		}
		return nil, err
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("line %d: invalid format (expected key = value)", lineNum)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// Remove quotes if present
		if len(value) >= 2 {
			if (value[0] == '"' && value[len(value)-1] == '"') ||
				(value[0] == '\'' && value[len(value)-1] == '\'') {
				value = value[1 : len(value)-1]
			}
		}

		values[key] = value
	}

	return values, scanner.Err()
}

// ApplyFileConfig applies file configuration to a Config struct.
func ApplyFileConfig(cfg *Config, values map[string]string) error {
	for key, value := range values {
		if err := setConfigValue(cfg, key, value); err != nil {
			return fmt.Errorf("config key %q: %w", key, err)
		}
	}
	return nil
}

// setConfigValue sets a config value by key.
func setConfigValue(cfg *Config, key, value string) error {
	switch key {
	// Core
	case "network":
		n, err := btc.ParseNetwork(value)
		if err != nil {
			return err
		}
		cfg.Network = n
	case "datadir":
		cfg.DataDir = value

	// Canister
	case "canister.transport":
		cfg.Canister.Transport = strings.ToLower(value)
	case "canister.endpoint":
		cfg.Canister.Endpoint = value
	case "canister.id":
		cfg.Canister.ID = value
	case "canister.timeout":
		return parseDuration(value, &cfg.Canister.Timeout)

	// HTTP
	case "http.addr":
		cfg.HTTP.Addr = value
	case "http.port":
		port, err := strconv.Atoi(value)
		if err != nil {
			return err
		}
		cfg.HTTP.Port = port
	case "http.allowed":
		cfg.HTTP.AllowedIPs = parseStringList(value)
	case "http.cors":
		cfg.HTTP.CORSOrigins = parseStringList(value)

	// Session
	case "session.ttl":
		return parseDuration(value, &cfg.Session.TTL)
	case "session.sweep":
		return parseDuration(value, &cfg.Session.SweepInterval)
	case "session.secret":
		cfg.Session.Secret = value

	// Query
	case "query.balance_stale":
		return parseDuration(value, &cfg.Query.BalanceStaleTime)
	case "query.overview_timeout":
		return parseDuration(value, &cfg.Query.OverviewTimeout)

	// Logging
	case "log.level":
		cfg.Log.Level = value
	case "log.file":
		cfg.Log.File = value
	case "log.json":
		cfg.Log.JSON = parseBool(value)

	default:
		// Unknown keys are ignored
	}
	return nil
}

func parseDuration(s string, dst *time.Duration) error {
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

// parseBool parses a boolean value.
func parseBool(s string) bool {
	s = strings.ToLower(s)
	return s == "true" || s == "1" || s == "yes" || s == "on"
}

// parseStringList parses a comma-separated list.
func parseStringList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// WriteDefaultConfig writes a default configuration file for cfg's network.
func WriteDefaultConfig(path string, cfg *Config) error {
	content := `# icwallet configuration
#
# The wallet's keys and UTXOs live in the remote wallet canister; this file
# only configures how walletd reaches it and serves the browser API.

# Bitcoin network: mainnet, testnet or regtest
network = ` + string(cfg.Network) + `

# Data directory (default: ~/.icwallet)
# datadir = ~/.icwallet

# ============================================================================
# Wallet canister
# ============================================================================

# Transport: ic (Internet Computer HTTP interface) or jsonrpc (devcanister).
# Defaults depend on the network; regtest uses a local devcanister.
# canister.transport = ` + cfg.Canister.Transport + `
# canister.endpoint = ` + cfg.Canister.Endpoint + `
# Principal of the wallet canister (required for the ic transport)
# canister.id =
# canister.timeout = ` + cfg.Canister.Timeout.String() + `

# ============================================================================
# HTTP API
# ============================================================================

http.addr = ` + cfg.HTTP.Addr + `
# http.port = ` + strconv.Itoa(cfg.HTTP.Port) + `
http.allowed = 127.0.0.1
# CORS allowed origins ("*" for all)
# http.cors = http://localhost:3000

# ============================================================================
# Sessions
# ============================================================================

session.ttl = ` + cfg.Session.TTL.String() + `
session.sweep = ` + cfg.Session.SweepInterval.String() + `
# Token signing secret. Prefer ICWALLET_SESSION_SECRET in <datadir>/.env;
# a random secret is generated on first start when neither is set.
# session.secret =

# ============================================================================
# Query cache
# ============================================================================

# How long a fetched balance is served from cache (0 = always refetch)
query.balance_stale = ` + cfg.Query.BalanceStaleTime.String() + `
query.overview_timeout = ` + cfg.Query.OverviewTimeout.String() + `

# ============================================================================
# Logging
# ============================================================================

# log.level = ` + cfg.Log.Level + `
# log.file =
log.json = false
`
	return os.WriteFile(path, []byte(content), 0644)
}
