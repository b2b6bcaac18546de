package config

import (
	"fmt"
	"net"
	"net/url"

	"github.com/Klingon-tech/icwallet/pkg/btc"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Validate checks runtime config for obvious operator mistakes.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	switch cfg.Network {
	case btc.Mainnet, btc.Testnet, btc.Regtest:
	default:
		return fmt.Errorf("network must be %q, %q or %q", btc.Mainnet, btc.Testnet, btc.Regtest)
	}
	if cfg.HTTP.Port < 0 || cfg.HTTP.Port > 65535 {
		return fmt.Errorf("http.port must be in range [0, 65535]")
	}
	for i, ip := range cfg.HTTP.AllowedIPs {
		if _, _, err := net.ParseCIDR(ip); err == nil {
			continue
		}
		if net.ParseIP(ip) == nil {
			return fmt.Errorf("http.allowed[%d] %q is not an IP or CIDR", i, ip)
		}
	}

	switch cfg.Canister.Transport {
	case "ic":
		if cfg.Canister.ID == "" {
			return fmt.Errorf("canister.id is required for the ic transport")
		}
		if _, err := principal.FromText(cfg.Canister.ID); err != nil {
			return fmt.Errorf("canister.id: %w", err)
		}
	case "jsonrpc":
	default:
		return fmt.Errorf("canister.transport must be ic or jsonrpc")
	}
	u, err := url.Parse(cfg.Canister.Endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("canister.endpoint must be an http(s) URL")
	}
	if cfg.Canister.Timeout < 0 {
		return fmt.Errorf("canister.timeout must not be negative")
	}

	if cfg.Session.TTL <= 0 {
		return fmt.Errorf("session.ttl must be positive")
	}
	if cfg.Session.SweepInterval <= 0 {
		return fmt.Errorf("session.sweep must be positive")
	}
	if cfg.Session.Secret != "" && len(cfg.Session.Secret) < 16 {
		return fmt.Errorf("session.secret must be at least 16 bytes")
	}
	if cfg.Query.BalanceStaleTime < 0 {
		return fmt.Errorf("query.balance_stale must not be negative")
	}
	if cfg.Query.OverviewTimeout <= 0 {
		return fmt.Errorf("query.overview_timeout must be positive")
	}
	return nil
}
