// Package agent implements update calls against an Internet Computer
// replica over its HTTPS interface.
package agent

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

const (
	// DefaultIngressExpiry is how far ahead of now a request expires.
	DefaultIngressExpiry = 4 * time.Minute

	defaultPollInterval    = 500 * time.Millisecond
	defaultMaxPollInterval = 2 * time.Second
	defaultHTTPTimeout     = 30 * time.Second

	cborContentType = "application/cbor"
	maxResponseSize = 4 << 20
)

// Request status values found in certificates.
const (
	statusReceived   = "received"
	statusProcessing = "processing"
	statusReplied    = "replied"
	statusRejected   = "rejected"
	statusDone       = "done"
)

// Signer is the caller identity used to sign requests.
type Signer interface {
	Principal() principal.Principal
	// PublicKeyDER returns nil for the anonymous identity.
	PublicKeyDER() []byte
	Sign(msg []byte) ([]byte, error)
}

// Config holds agent settings. Zero values select defaults.
type Config struct {
	Endpoint        string
	HTTPClient      *http.Client
	IngressExpiry   time.Duration
	PollInterval    time.Duration
	MaxPollInterval time.Duration
}

// Agent sends signed update calls to a replica.
type Agent struct {
	endpoint string
	http     *http.Client
	signer   Signer
	expiry   time.Duration
	interval time.Duration
	maxWait  time.Duration
	now      func() time.Time
}

// New creates an agent for the replica at cfg.Endpoint.
func New(cfg Config, signer Signer) (*Agent, error) {
	if cfg.Endpoint == "" {
		return nil, errors.New("agent: endpoint is required")
	}
	if signer == nil {
		return nil, errors.New("agent: signer is required")
	}
	a := &Agent{
		endpoint: strings.TrimRight(cfg.Endpoint, "/"),
		http:     cfg.HTTPClient,
		signer:   signer,
		expiry:   cfg.IngressExpiry,
		interval: cfg.PollInterval,
		maxWait:  cfg.MaxPollInterval,
		now:      time.Now,
	}
	if a.http == nil {
		a.http = &http.Client{Timeout: defaultHTTPTimeout}
	}
	if a.expiry <= 0 {
		a.expiry = DefaultIngressExpiry
	}
	if a.interval <= 0 {
		a.interval = defaultPollInterval
	}
	if a.maxWait < a.interval {
		a.maxWait = max(defaultMaxPollInterval, a.interval)
	}
	return a, nil
}

// Sender returns the principal calls are made as.
func (a *Agent) Sender() principal.Principal {
	return a.signer.Principal()
}

// Call performs an update call and returns the candid-encoded reply.
// It blocks until the call is answered or ctx is done.
func (a *Agent) Call(ctx context.Context, canister principal.Principal, method string, arg []byte) ([]byte, error) {
	nonce := uuid.New()
	content := &callContent{
		RequestType:   requestTypeCall,
		CanisterID:    canister.Bytes(),
		MethodName:    method,
		Arg:           arg,
		Sender:        a.signer.Principal().Bytes(),
		IngressExpiry: a.ingressExpiry(),
		Nonce:         nonce[:],
	}
	id, err := requestID(content.fields())
	if err != nil {
		return nil, fmt.Errorf("request id: %w", err)
	}
	body, err := a.sign(content, id)
	if err != nil {
		return nil, err
	}

	logger := klog.Canister.With().Str("method", method).Hex("request_id", id[:]).Logger()
	logger.Debug().Str("canister", canister.Text()).Msg("Update call")

	status, data, err := a.post(ctx, "/api/v3/canister/"+canister.Text()+"/call", body)
	if err != nil {
		return nil, err
	}

	switch status {
	case http.StatusOK:
		var resp callResponse
		if err := unmarshal(data, &resp); err != nil {
			return nil, fmt.Errorf("decode call response: %w", err)
		}
		if resp.Status == "non_replicated_rejection" {
			return nil, &RejectError{Code: resp.RejectCode, Message: resp.RejectMessage, ErrorCode: resp.ErrorCode}
		}
		if len(resp.Certificate) > 0 {
			reply, done, err := a.readStatus(resp.Certificate, id)
			if err != nil || done {
				return reply, err
			}
		}
	case http.StatusAccepted:
	default:
		return nil, &HTTPError{StatusCode: status, Body: string(data)}
	}

	logger.Debug().Msg("Call accepted, polling status")
	return a.poll(ctx, canister, id)
}

type callResponse struct {
	Status        string `cbor:"status"`
	Certificate   []byte `cbor:"certificate"`
	RejectCode    uint64 `cbor:"reject_code"`
	RejectMessage string `cbor:"reject_message"`
	ErrorCode     string `cbor:"error_code"`
}

type readStateResponse struct {
	Certificate []byte `cbor:"certificate"`
}

// poll asks read_state for the request status with backoff until a final
// status appears.
func (a *Agent) poll(ctx context.Context, canister principal.Principal, id RequestID) ([]byte, error) {
	interval := a.interval
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}

		cert, err := a.readState(ctx, canister, id)
		if err != nil {
			return nil, err
		}
		reply, done, err := a.readStatus(cert, id)
		if err != nil || done {
			return reply, err
		}
		interval = min(interval*2, a.maxWait)
	}
}

func (a *Agent) readState(ctx context.Context, canister principal.Principal, id RequestID) ([]byte, error) {
	content := &readStateContent{
		RequestType:   requestTypeReadState,
		Sender:        a.signer.Principal().Bytes(),
		Paths:         [][][]byte{{[]byte("request_status"), id[:]}},
		IngressExpiry: a.ingressExpiry(),
	}
	rsID, err := requestID(content.fields())
	if err != nil {
		return nil, fmt.Errorf("read_state id: %w", err)
	}
	body, err := a.sign(content, rsID)
	if err != nil {
		return nil, err
	}
	status, data, err := a.post(ctx, "/api/v2/canister/"+canister.Text()+"/read_state", body)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, &HTTPError{StatusCode: status, Body: string(data)}
	}
	var resp readStateResponse
	if err := unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode read_state response: %w", err)
	}
	return resp.Certificate, nil
}

// readStatus interprets the request status in a certificate. done is false
// while the request is still in flight.
func (a *Agent) readStatus(certData []byte, id RequestID) (reply []byte, done bool, err error) {
	cert, err := parseCertificate(certData)
	if err != nil {
		return nil, false, err
	}
	base := [][]byte{[]byte("request_status"), id[:]}
	path := func(leaf string) [][]byte {
		return append(append([][]byte{}, base...), []byte(leaf))
	}

	status, st, err := cert.lookup(path("status")...)
	if err != nil {
		return nil, false, err
	}
	if st != lookupFound {
		return nil, false, nil
	}

	switch string(status) {
	case statusReceived, statusProcessing:
		return nil, false, nil
	case statusReplied:
		reply, st, err := cert.lookup(path("reply")...)
		if err != nil {
			return nil, false, err
		}
		if st != lookupFound {
			return nil, true, errors.New("agent: replied status without reply")
		}
		return reply, true, nil
	case statusRejected:
		rej := &RejectError{}
		if code, st, _ := cert.lookup(path("reject_code")...); st == lookupFound {
			rej.Code, _ = binary.Uvarint(code)
		}
		if msg, st, _ := cert.lookup(path("reject_message")...); st == lookupFound {
			rej.Message = string(msg)
		}
		if ec, st, _ := cert.lookup(path("error_code")...); st == lookupFound {
			rej.ErrorCode = string(ec)
		}
		return nil, true, rej
	case statusDone:
		return nil, true, ErrRequestDone
	}
	return nil, true, fmt.Errorf("agent: unknown request status %q", status)
}

func (a *Agent) sign(content interface{ fields() map[string]any }, id RequestID) ([]byte, error) {
	env := envelope{Content: content}
	if der := a.signer.PublicKeyDER(); der != nil {
		sig, err := a.signer.Sign(signable(id))
		if err != nil {
			return nil, fmt.Errorf("sign request: %w", err)
		}
		env.SenderPubKey = der
		env.SenderSig = sig
	}
	body, err := marshalTagged(env)
	if err != nil {
		return nil, fmt.Errorf("encode envelope: %w", err)
	}
	return body, nil
}

func (a *Agent) post(ctx context.Context, path string, body []byte) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint+path, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", cborContentType)

	resp, err := a.http.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, nil, fmt.Errorf("read response: %w", err)
	}
	return resp.StatusCode, data, nil
}

func (a *Agent) ingressExpiry() uint64 {
	return uint64(a.now().Add(a.expiry).UnixNano())
}
