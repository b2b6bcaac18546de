// Package canister is the client for the wallet canister's three methods.
package canister

import (
	"context"
	"time"

	"github.com/Klingon-tech/icwallet/internal/metrics"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// Remote method names.
const (
	MethodGetAddress = "get_address"
	MethodGetBalance = "get_balance"
	MethodSendBTC    = "send_btc"
)

// Backend is the remote wallet interface. A non-nil error is a transport or
// authentication failure; an Err result is a failure reported by the
// canister itself.
type Backend interface {
	// GetAddress returns the BTC address owned by owner, or by the caller
	// when owner is nil.
	GetAddress(ctx context.Context, owner *principal.Principal) (Result[string], error)
	// GetBalance returns owner's balance in satoshi, or the caller's when
	// owner is nil.
	GetBalance(ctx context.Context, owner *principal.Principal) (Result[uint64], error)
	// SendBTC transfers satoshi from the caller to address and returns the
	// transaction id.
	SendBTC(ctx context.Context, address string, satoshi uint64) (Result[string], error)
}

// instrumented records call metrics around another Backend.
type instrumented struct {
	next Backend
}

// WithMetrics wraps b so every call is counted and timed.
func WithMetrics(b Backend) Backend {
	return &instrumented{next: b}
}

func outcome(ok bool, err error) string {
	switch {
	case err != nil:
		return metrics.OutcomeError
	case ok:
		return metrics.OutcomeOk
	}
	return metrics.OutcomeErr
}

func (m *instrumented) GetAddress(ctx context.Context, owner *principal.Principal) (Result[string], error) {
	start := time.Now()
	res, err := m.next.GetAddress(ctx, owner)
	metrics.RecordCanisterCall(MethodGetAddress, outcome(res.IsOk(), err), time.Since(start))
	return res, err
}

func (m *instrumented) GetBalance(ctx context.Context, owner *principal.Principal) (Result[uint64], error) {
	start := time.Now()
	res, err := m.next.GetBalance(ctx, owner)
	metrics.RecordCanisterCall(MethodGetBalance, outcome(res.IsOk(), err), time.Since(start))
	return res, err
}

func (m *instrumented) SendBTC(ctx context.Context, address string, satoshi uint64) (Result[string], error) {
	start := time.Now()
	res, err := m.next.SendBTC(ctx, address, satoshi)
	metrics.RecordCanisterCall(MethodSendBTC, outcome(res.IsOk(), err), time.Since(start))
	return res, err
}
