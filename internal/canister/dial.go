package canister

import (
	"fmt"
	"net/http"
	"time"

	"github.com/Klingon-tech/icwallet/internal/agent"
	"github.com/Klingon-tech/icwallet/internal/identity"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Transports.
const (
	TransportIC      = "ic"
	TransportJSONRPC = "jsonrpc"
)

// Config selects and configures a Backend.
type Config struct {
	Transport  string
	Endpoint   string
	CanisterID string
	Timeout    time.Duration
}

// Dial builds the instrumented Backend described by cfg, calling as id.
func Dial(cfg Config, id identity.Identity) (Backend, error) {
	if id == nil {
		id = identity.Anonymous{}
	}
	var b Backend
	switch cfg.Transport {
	case TransportIC, "":
		canisterID, err := principal.FromText(cfg.CanisterID)
		if err != nil {
			return nil, fmt.Errorf("canister id: %w", err)
		}
		acfg := agent.Config{Endpoint: cfg.Endpoint}
		if cfg.Timeout > 0 {
			acfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
		}
		a, err := agent.New(acfg, id)
		if err != nil {
			return nil, err
		}
		b = NewAgentClient(a, canisterID)
	case TransportJSONRPC:
		if cfg.Endpoint == "" {
			return nil, fmt.Errorf("canister endpoint is required")
		}
		b = NewRPCClient(cfg.Endpoint, id.Principal(), cfg.Timeout)
	default:
		return nil, fmt.Errorf("unknown canister transport %q", cfg.Transport)
	}

	klog.Canister.Debug().
		Str("transport", cfg.Transport).
		Str("endpoint", cfg.Endpoint).
		Str("caller", id.Principal().Text()).
		Msg("Canister backend ready")
	return WithMetrics(b), nil
}
