package config

import (
	"time"

	"github.com/Klingon-tech/icwallet/pkg/btc"
)

// Public boundary node serving the IC HTTP interface.
const icEndpoint = "https://icp-api.io"

// DevCanisterEndpoint is where the devcanister command listens by default.
const DevCanisterEndpoint = "http://127.0.0.1:8454"

// DefaultMainnet returns the default configuration for mainnet.
func DefaultMainnet() *Config {
	return &Config{
		Network: btc.Mainnet,
		DataDir: DefaultDataDir(),
		Canister: CanisterConfig{
			Transport: "ic",
			Endpoint:  icEndpoint,
			Timeout:   30 * time.Second,
		},
		HTTP: HTTPConfig{
			Addr:       "127.0.0.1",
			Port:       8080,
			AllowedIPs: []string{"127.0.0.1"},
		},
		Session: SessionConfig{
			TTL:           8 * time.Hour,
			SweepInterval: time.Minute,
		},
		Query: QueryConfig{
			BalanceStaleTime: 0,
			OverviewTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level: "info",
			JSON:  false,
		},
	}
}

// DefaultTestnet returns the default configuration for testnet.
func DefaultTestnet() *Config {
	cfg := DefaultMainnet()
	cfg.Network = btc.Testnet
	cfg.HTTP.Port = 8081
	return cfg
}

// DefaultRegtest returns the default configuration for regtest, which
// talks to a local devcanister.
func DefaultRegtest() *Config {
	cfg := DefaultMainnet()
	cfg.Network = btc.Regtest
	cfg.Canister.Transport = "jsonrpc"
	cfg.Canister.Endpoint = DevCanisterEndpoint
	cfg.Canister.Timeout = 10 * time.Second
	cfg.HTTP.Port = 8082
	cfg.Log.Level = "debug"
	return cfg
}

// Default returns the default configuration for the given network.
func Default(network btc.Network) *Config {
	switch network {
	case btc.Testnet:
		return DefaultTestnet()
	case btc.Regtest:
		return DefaultRegtest()
	default:
		return DefaultMainnet()
	}
}
