package query

import (
	"context"
	"errors"
	"sync"

	"github.com/Klingon-tech/icwallet/internal/agent"
	"github.com/Klingon-tech/icwallet/internal/canister"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/metrics"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// User-facing query errors.
var (
	ErrPrincipalRequired   = errors.New("Principal is required.")
	ErrInvalidBalance      = errors.New("Invalid balance returned.")
	ErrInvalidAddress      = errors.New("Invalid address returned.")
	ErrDestinationRequired = errors.New("Destination address is required.")
)

// Error classes counted by the ErrorHandler.
const (
	ClassAuth      = "auth"
	ClassReject    = "reject"
	ClassTransport = "transport"
	ClassCanceled  = "canceled"
)

// authFailer is implemented by transport errors that can tell a rejected
// credential apart from other failures.
type authFailer interface {
	AuthFailure() bool
}

// AuthFailureFunc is called when a call fails because the caller's
// credentials were refused.
type AuthFailureFunc func(caller principal.Principal, err error)

// ErrorHandler is the shared sink for transport failures: it logs and
// counts them and notifies listeners of authentication failures.
type ErrorHandler struct {
	mu    sync.RWMutex
	hooks []AuthFailureFunc
}

// NewErrorHandler creates an ErrorHandler with no hooks.
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{}
}

// OnAuthFailure registers fn to run on authentication failures.
func (h *ErrorHandler) OnAuthFailure(fn AuthFailureFunc) {
	h.mu.Lock()
	h.hooks = append(h.hooks, fn)
	h.mu.Unlock()
}

// Classify returns the error class of err.
func Classify(err error) string {
	var af authFailer
	var rej *agent.RejectError
	var rpcErr *canister.RPCError
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ClassCanceled
	case errors.As(err, &af) && af.AuthFailure():
		return ClassAuth
	case errors.As(err, &rej), errors.As(err, &rpcErr):
		return ClassReject
	}
	return ClassTransport
}

// Handle records a transport error from a call made as caller.
func (h *ErrorHandler) Handle(caller principal.Principal, err error) {
	if err == nil {
		return
	}
	class := Classify(err)
	metrics.RecordQueryError(class)

	logger := klog.WithPrincipal(klog.Query, caller.Text())
	switch class {
	case ClassCanceled:
		logger.Debug().Err(err).Msg("Canister call canceled")
		return
	case ClassAuth:
		logger.Warn().Err(err).Msg("Canister refused caller credentials")
	default:
		logger.Error().Err(err).Str("class", class).Msg("Canister call failed")
		return
	}

	h.mu.RLock()
	hooks := append([]AuthFailureFunc(nil), h.hooks...)
	h.mu.RUnlock()
	for _, fn := range hooks {
		fn(caller, err)
	}
}
