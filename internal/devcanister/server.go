package devcanister

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/icwallet/internal/canister"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// maxBodySize is the maximum allowed request body size (1 MB).
const maxBodySize = 1 << 20

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// MethodFund credits an address. It exists only on the development canister.
const MethodFund = "dev_fund"

// FundParam is the parameter of dev_fund.
type FundParam struct {
	Address string `json:"address"`
	Amount  uint64 `json:"amount"`
}

// request is a JSON-RPC 2.0 request as received.
type request struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      any             `json:"id"`
}

// response is a JSON-RPC 2.0 response as sent.
type response struct {
	JSONRPC string             `json:"jsonrpc"`
	Result  any                `json:"result,omitempty"`
	Error   *canister.RPCError `json:"error,omitempty"`
	ID      any                `json:"id"`
}

// Server serves a Canister over JSON-RPC 2.0.
type Server struct {
	addr        string
	canister    *Canister
	server      *http.Server
	logger      zerolog.Logger
	ln          net.Listener
	allowedNets []*net.IPNet // Empty = allow all.
	corsOrigins []string     // Empty = no CORS headers.
}

// NewServer creates a server for c listening on addr. allowedIPs holds IPs
// or CIDRs; empty allows all.
func NewServer(addr string, c *Canister, allowedIPs, corsOrigins []string) *Server {
	s := &Server{
		addr:        addr,
		canister:    c,
		logger:      klog.WithComponent("devcanister"),
		allowedNets: ParseAllowedIPs(allowedIPs),
		corsOrigins: corsOrigins,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleRequest)
	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// ParseAllowedIPs converts IP or CIDR strings into networks. Invalid
// entries are skipped.
func ParseAllowedIPs(entries []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, entry := range entries {
		_, ipNet, err := net.ParseCIDR(entry)
		if err == nil {
			nets = append(nets, ipNet)
			continue
		}
		ip := net.ParseIP(entry)
		if ip == nil {
			continue
		}
		bits := 32
		if ip.To4() == nil {
			bits = 128
		}
		nets = append(nets, &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)})
	}
	return nets
}

// Start begins listening and serving in a background goroutine.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("devcanister listen: %w", err)
	}
	s.ln = ln

	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Dev canister server error")
		}
	}()
	s.logger.Info().Str("addr", ln.Addr().String()).Str("network", string(s.canister.Network())).Msg("Dev canister listening")
	return nil
}

// Addr returns the listener address (useful when bound to :0).
func (s *Server) Addr() string {
	if s.ln != nil {
		return s.ln.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the JSON-RPC handler for embedding in tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

func (s *Server) handleRequest(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedNets) > 0 {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		ip := net.ParseIP(host)
		if err != nil || ip == nil || !s.isIPAllowed(ip) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
	}

	s.setCORSHeaders(w, r)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, nil, CodeInvalidRequest, "only POST method is allowed")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize+1))
	if err != nil {
		writeError(w, nil, CodeParseError, "failed to read request body")
		return
	}
	if len(body) > maxBodySize {
		writeError(w, nil, CodeInvalidRequest, "request body too large")
		return
	}

	var req request
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, nil, CodeParseError, "invalid JSON")
		return
	}
	if req.JSONRPC != "2.0" {
		writeError(w, req.ID, CodeInvalidRequest, "jsonrpc must be \"2.0\"")
		return
	}

	caller := principal.Anonymous()
	if h := r.Header.Get(canister.PrincipalHeader); h != "" {
		caller, err = principal.FromText(h)
		if err != nil {
			writeError(w, req.ID, CodeInvalidRequest, "invalid caller principal: "+err.Error())
			return
		}
	}

	result, rpcErr := s.dispatch(caller, &req)
	if rpcErr != nil {
		writeJSON(w, response{JSONRPC: "2.0", Error: rpcErr, ID: req.ID})
		return
	}
	writeJSON(w, response{JSONRPC: "2.0", Result: result, ID: req.ID})
}

func (s *Server) dispatch(caller principal.Principal, req *request) (any, *canister.RPCError) {
	logger := s.logger.With().Str("method", req.Method).Str("caller", caller.Text()).Logger()

	switch req.Method {
	case canister.MethodGetAddress:
		var p canister.OwnerParam
		if err := parseParams(req, &p); err != nil {
			return nil, err
		}
		res := s.canister.GetAddress(caller, p.Principal)
		logger.Debug().Stringer("result", res).Msg("get_address")
		return res, nil
	case canister.MethodGetBalance:
		var p canister.OwnerParam
		if err := parseParams(req, &p); err != nil {
			return nil, err
		}
		res := s.canister.GetBalance(caller, p.Principal)
		logger.Debug().Stringer("result", res).Msg("get_balance")
		return res, nil
	case canister.MethodSendBTC:
		var p canister.SendParam
		if err := parseParams(req, &p); err != nil {
			return nil, err
		}
		res := s.canister.SendBTC(caller, p.Address, p.Amount)
		logger.Info().Str("to", p.Address).Uint64("amount", p.Amount).Stringer("result", res).Msg("send_btc")
		return res, nil
	case MethodFund:
		var p FundParam
		if err := parseParams(req, &p); err != nil {
			return nil, err
		}
		if err := s.canister.Fund(p.Address, p.Amount); err != nil {
			return nil, &canister.RPCError{Code: CodeInvalidParams, Message: err.Error()}
		}
		logger.Info().Str("address", p.Address).Uint64("amount", p.Amount).Msg("Funded address")
		return true, nil
	default:
		return nil, &canister.RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method %q not found", req.Method)}
	}
}

// parseParams decodes params into target. Missing params decode as {}.
func parseParams(req *request, target any) *canister.RPCError {
	if len(req.Params) == 0 || string(req.Params) == "null" {
		return nil
	}
	if err := json.Unmarshal(req.Params, target); err != nil {
		return &canister.RPCError{Code: CodeInvalidParams, Message: fmt.Sprintf("invalid params: %v", err)}
	}
	return nil
}

func (s *Server) isIPAllowed(ip net.IP) bool {
	for _, n := range s.allowedNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// setCORSHeaders adds CORS headers based on the configured origins.
func (s *Server) setCORSHeaders(w http.ResponseWriter, r *http.Request) {
	origin := r.Header.Get("Origin")
	if len(s.corsOrigins) == 0 || origin == "" {
		return
	}
	for _, o := range s.corsOrigins {
		if o == "*" || o == origin {
			w.Header().Set("Access-Control-Allow-Origin", o)
			w.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+canister.PrincipalHeader)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, resp response) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func writeError(w http.ResponseWriter, id any, code int, message string) {
	writeJSON(w, response{
		JSONRPC: "2.0",
		Error:   &canister.RPCError{Code: code, Message: message},
		ID:      id,
	})
}
