package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRequestDone is returned when a request's reply was already pruned.
var ErrRequestDone = errors.New("agent: request done, reply no longer available")

// RejectError is a canister or replica rejection of a call.
type RejectError struct {
	Code      uint64
	Message   string
	ErrorCode string
}

func (e *RejectError) Error() string {
	if e.ErrorCode != "" {
		return fmt.Sprintf("call rejected (code %d, %s): %s", e.Code, e.ErrorCode, e.Message)
	}
	return fmt.Sprintf("call rejected (code %d): %s", e.Code, e.Message)
}

// AuthFailure reports whether the rejection concerns the caller's
// credentials rather than the call itself.
func (e *RejectError) AuthFailure() bool {
	return authMessage(e.Message)
}

// HTTPError is a non-success HTTP status from the replica.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("replica returned HTTP %d: %s", e.StatusCode, e.Body)
}

// AuthFailure reports whether the replica refused the request's signature,
// delegation or expiry.
func (e *HTTPError) AuthFailure() bool {
	switch e.StatusCode {
	case 401, 403:
		return true
	case 400:
		return authMessage(e.Body)
	}
	return false
}

var authMarkers = []string{"signature", "delegation", "expired", "ingress_expiry"}

func authMessage(msg string) bool {
	m := strings.ToLower(msg)
	for _, marker := range authMarkers {
		if strings.Contains(m, marker) {
			return true
		}
	}
	return false
}
