package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/Klingon-tech/icwallet/pkg/btc"
)

// Version is reported by --version.
const Version = "0.1.0"

// Environment overrides, also read from <datadir>/.env.
const (
	EnvCanisterID    = "ICWALLET_CANISTER_ID"
	EnvSessionSecret = "ICWALLET_SESSION_SECRET"
)

// Flags holds parsed command-line flags.
type Flags struct {
	// Commands
	Help    bool
	Version bool

	// Core
	Network string
	DataDir string
	Config  string

	// Canister
	Transport  string
	Endpoint   string
	CanisterID string
	Timeout    time.Duration

	// HTTP
	HTTPAddr    string
	HTTPPort    int
	HTTPAllowed string
	HTTPCORS    string

	// Session
	SessionTTL time.Duration

	// Query
	BalanceStale time.Duration

	// Logging
	LogLevel string
	LogFile  string
	LogJSON  bool

	// Remaining args
	Args []string

	// Explicitly-set flags whose zero value is meaningful.
	SetLogJSON      bool
	SetBalanceStale bool
}

// ParseFlags parses walletd command-line flags from args.
func ParseFlags(args []string) (*Flags, error) {
	f := &Flags{}
	fs := flag.NewFlagSet("walletd", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	// Commands
	fs.BoolVar(&f.Help, "help", false, "Show help message")
	fs.BoolVar(&f.Help, "h", false, "Show help message (shorthand)")
	fs.BoolVar(&f.Version, "version", false, "Show version information")
	fs.BoolVar(&f.Version, "v", false, "Show version (shorthand)")

	// Core
	fs.StringVar(&f.Network, "network", "", "Bitcoin network (mainnet, testnet or regtest)")
	fs.StringVar(&f.DataDir, "datadir", "", "Data directory path")
	fs.StringVar(&f.Config, "config", "", "Config file path")
	fs.StringVar(&f.Config, "c", "", "Config file path (shorthand)")

	// Canister
	fs.StringVar(&f.Transport, "transport", "", "Canister transport (ic or jsonrpc)")
	fs.StringVar(&f.Endpoint, "canister", "", "Canister endpoint URL")
	fs.StringVar(&f.CanisterID, "canister-id", "", "Wallet canister principal")
	fs.DurationVar(&f.Timeout, "canister-timeout", 0, "Canister call timeout")

	// HTTP
	fs.StringVar(&f.HTTPAddr, "http-addr", "", "HTTP listen address")
	fs.IntVar(&f.HTTPPort, "http-port", 0, "HTTP listen port")
	fs.StringVar(&f.HTTPAllowed, "http-allowed", "", "Allowed IPs for the HTTP API")
	fs.StringVar(&f.HTTPCORS, "http-cors", "", "Allowed CORS origins (comma-separated)")

	// Session
	fs.DurationVar(&f.SessionTTL, "session-ttl", 0, "Session lifetime")

	// Query
	fs.DurationVar(&f.BalanceStale, "balance-stale", 0, "How long a balance is served from cache")

	// Logging
	fs.StringVar(&f.LogLevel, "log-level", "", "Log level (debug, info, warn, error)")
	fs.StringVar(&f.LogFile, "log-file", "", "Log file path")
	fs.BoolVar(&f.LogJSON, "log-json", false, "Output logs as JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	f.SetLogJSON = isFlagSet(fs, "log-json")
	f.SetBalanceStale = isFlagSet(fs, "balance-stale")
	f.Args = fs.Args()

	// Detect unparsed flags caused by positional arguments stopping the parser.
	for _, arg := range f.Args {
		if strings.HasPrefix(arg, "-") {
			return nil, fmt.Errorf("flag %q was not parsed (positional argument stopped parsing)", arg)
		}
	}

	return f, nil
}

// ApplyFlags applies command-line flags to a Config struct.
func ApplyFlags(cfg *Config, f *Flags) {
	// Core
	if f.DataDir != "" {
		cfg.DataDir = f.DataDir
	}

	// Canister
	if f.Transport != "" {
		cfg.Canister.Transport = strings.ToLower(f.Transport)
	}
	if f.Endpoint != "" {
		cfg.Canister.Endpoint = f.Endpoint
	}
	if f.CanisterID != "" {
		cfg.Canister.ID = f.CanisterID
	}
	if f.Timeout != 0 {
		cfg.Canister.Timeout = f.Timeout
	}

	// HTTP
	if f.HTTPAddr != "" {
		cfg.HTTP.Addr = f.HTTPAddr
	}
	if f.HTTPPort != 0 {
		cfg.HTTP.Port = f.HTTPPort
	}
	if f.HTTPAllowed != "" {
		cfg.HTTP.AllowedIPs = parseStringList(f.HTTPAllowed)
	}
	if f.HTTPCORS != "" {
		cfg.HTTP.CORSOrigins = parseStringList(f.HTTPCORS)
	}

	// Session
	if f.SessionTTL != 0 {
		cfg.Session.TTL = f.SessionTTL
	}

	// Query
	if f.SetBalanceStale {
		cfg.Query.BalanceStaleTime = f.BalanceStale
	}

	// Logging
	if f.LogLevel != "" {
		cfg.Log.Level = f.LogLevel
	}
	if f.LogFile != "" {
		cfg.Log.File = f.LogFile
	}
	if f.SetLogJSON {
		cfg.Log.JSON = f.LogJSON
	}
}

// ApplyEnv loads <datadir>/.env and ./.env (existing variables win) and
// applies the recognised overrides.
func ApplyEnv(cfg *Config) error {
	for _, path := range []string{cfg.EnvFile(), ".env"} {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("loading %s: %w", path, err)
		}
	}
	if v := os.Getenv(EnvCanisterID); v != "" {
		cfg.Canister.ID = v
	}
	if v := os.Getenv(EnvSessionSecret); v != "" {
		cfg.Session.Secret = v
	}
	return nil
}

// isFlagSet checks if a flag was explicitly set.
func isFlagSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

// PrintUsage writes walletd's help text to w.
func PrintUsage(w io.Writer) {
	usage := `walletd - gateway to a canister-held Bitcoin wallet

Usage:
  walletd [options]
  walletd --help

Commands:
  --help, -h          Show this help message
  --version, -v       Show version information

Core Options:
  --network           Bitcoin network: mainnet (default), testnet or regtest
  --datadir           Data directory (default: ~/.icwallet)
  --config, -c        Config file path (default: <datadir>/icwallet.conf)

Canister Options:
  --transport         ic (default) or jsonrpc (regtest default)
  --canister          Canister endpoint URL
  --canister-id       Wallet canister principal (required for ic)
  --canister-timeout  Per-call timeout (default: 30s)

HTTP Options:
  --http-addr         Listen address (default: 127.0.0.1)
  --http-port         Listen port (mainnet: 8080, testnet: 8081, regtest: 8082)
  --http-allowed      Allowed client IPs or CIDRs (comma-separated)
  --http-cors         Allowed CORS origins (comma-separated)

Session Options:
  --session-ttl       Session lifetime (default: 8h)
  --balance-stale     Balance cache lifetime (default: 0, always refetch)

Logging Options:
  --log-level         Log level: debug, info, warn, error (default: info)
  --log-file          Log file path (default: stdout)
  --log-json          Output logs as JSON

Environment:
  ICWALLET_CANISTER_ID     Overrides canister.id
  ICWALLET_SESSION_SECRET  Session token signing secret

Examples:
  # Local development against devcanister
  devcanister --network=regtest &
  walletd --network=regtest

  # Mainnet
  walletd --canister-id=<principal>
`
	fmt.Fprint(w, usage)
}

// Load loads configuration with the following precedence:
// 1. Default values for the selected network
// 2. Config file
// 3. .env and environment
// 4. Command-line flags
//
// The network comes from --network, then the config file, then mainnet.
// Data directories and a default config file are created on first start.
func Load(args []string) (*Config, *Flags, error) {
	flags, err := ParseFlags(args)
	if err != nil {
		return nil, nil, err
	}
	if flags.Help || flags.Version {
		return nil, flags, nil
	}

	dataDir := flags.DataDir
	if dataDir == "" {
		dataDir = DefaultDataDir()
	}
	configPath := flags.Config
	if configPath == "" {
		configPath = (&Config{DataDir: dataDir}).ConfigFile()
	}
	fileValues, err := LoadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("loading config file: %w", err)
	}

	network := btc.Mainnet
	switch {
	case flags.Network != "":
		network, err = btc.ParseNetwork(flags.Network)
	case fileValues["network"] != "":
		network, err = btc.ParseNetwork(fileValues["network"])
	}
	if err != nil {
		return nil, nil, err
	}

	cfg := Default(network)
	cfg.DataDir = dataDir
	if err := ApplyFileConfig(cfg, fileValues); err != nil {
		return nil, nil, fmt.Errorf("applying config file: %w", err)
	}
	cfg.Network = network

	if err := ApplyEnv(cfg); err != nil {
		return nil, nil, err
	}
	ApplyFlags(cfg, flags)
	if err := Validate(cfg); err != nil {
		return nil, nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := EnsureDataDirs(cfg); err != nil {
		return nil, nil, fmt.Errorf("ensuring data dirs: %w", err)
	}

	return cfg, flags, nil
}

// EnsureDataDirs creates the data directory and a default config file if
// they don't already exist. Safe to call on every startup.
func EnsureDataDirs(cfg *Config) error {
	dirs := []string{
		cfg.DataDir,
		cfg.NetworkDataDir(),
		cfg.LogsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating directory %s: %w", dir, err)
		}
	}
	if err := os.MkdirAll(cfg.DBDir(), 0700); err != nil {
		return fmt.Errorf("creating directory %s: %w", cfg.DBDir(), err)
	}

	configPath := cfg.ConfigFile()
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		if err := WriteDefaultConfig(configPath, cfg); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}
	}
	return nil
}
