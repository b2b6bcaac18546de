package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/Klingon-tech/icwallet/internal/identity"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/query"
	"github.com/Klingon-tech/icwallet/internal/session"
	"github.com/Klingon-tech/icwallet/pkg/btc"
)

// User-facing texts.
const (
	msgNotAuthenticated  = "not authenticated"
	msgBadCredentials    = "invalid identity name or password"
	msgAddressPending    = "Deriving address..."
	msgAddressError      = "Couldn't get wallet address."
	msgBalancePending    = "Fetching balance..."
	msgBalanceError      = "Couldn't get wallet balance."
	msgSendFailed        = "Error, couldn't send."
	msgSendTransportFail = "There was an error sending BTC."
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "network": string(s.cfg.Network)})
}

type loginRequest struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

type sessionResponse struct {
	Status    session.Status `json:"status"`
	Principal string         `json:"principal,omitempty"`
	Token     string         `json:"token,omitempty"`
	ExpiresAt *time.Time     `json:"expires_at,omitempty"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	token, sess, err := s.sessions.Login(req.Name, []byte(req.Password))
	switch {
	case errors.Is(err, identity.ErrWrongPassword),
		errors.Is(err, identity.ErrIdentityNotFound),
		errors.Is(err, identity.ErrInvalidName):
		klog.HTTP.Info().Str("name", req.Name).Msg("Login refused")
		writeError(w, http.StatusUnauthorized, msgBadCredentials)
		return
	case err != nil:
		klog.HTTP.Error().Err(err).Str("name", req.Name).Msg("Login failed")
		writeError(w, http.StatusInternalServerError, "login failed")
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   r.TLS != nil,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{
		Status:    session.StatusSuccess,
		Principal: sess.Principal.Text(),
		Token:     token,
		ExpiresAt: &sess.ExpiresAt,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	token := tokenFrom(r)
	if token == "" {
		writeJSON(w, http.StatusOK, sessionResponse{Status: session.StatusIdle})
		return
	}
	sess, err := s.sessions.Authenticate(token)
	if err != nil {
		writeJSON(w, http.StatusOK, sessionResponse{Status: session.StatusIdle})
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{
		Status:    session.StatusSuccess,
		Principal: sess.Principal.Text(),
		ExpiresAt: &sess.ExpiresAt,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	if err := s.sessions.Logout(sess.ID); err != nil && !errors.Is(err, session.ErrSessionNotFound) {
		klog.HTTP.Warn().Err(err).Msg("Logout failed")
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	})
	writeJSON(w, http.StatusOK, sessionResponse{Status: session.StatusIdle})
}

type addressResponse struct {
	Address     string `json:"address"`
	Short       string `json:"short"`
	PaymentURI  string `json:"payment_uri"`
	ExplorerURL string `json:"explorer_url,omitempty"`
}

func (s *Server) address(addr string) addressResponse {
	return addressResponse{
		Address:     addr,
		Short:       btc.ShortAddress(addr),
		PaymentURI:  btc.PaymentURI(addr),
		ExplorerURL: s.cfg.Network.ExplorerAddressURL(addr),
	}
}

func (s *Server) handleAddress(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	addr, err := sess.Query.Address(r.Context(), &sess.Principal)
	if err != nil {
		s.logQueryError(r, err, "address")
		writeError(w, http.StatusBadGateway, msgAddressError)
		return
	}
	writeJSON(w, http.StatusOK, s.address(addr))
}

type balanceResponse struct {
	Satoshi uint64 `json:"satoshi"`
	BTC     string `json:"btc"`
	Text    string `json:"text"`
}

func balance(sats uint64) balanceResponse {
	return balanceResponse{
		Satoshi: sats,
		BTC:     btc.SatoshiToDecimal(sats),
		Text:    btc.FormatBTC(sats),
	}
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	sats, err := sess.Query.Balance(r.Context(), &sess.Principal)
	if err != nil {
		s.logQueryError(r, err, "balance")
		writeError(w, http.StatusBadGateway, msgBalanceError)
		return
	}
	writeJSON(w, http.StatusOK, balance(sats))
}

type walletAddress struct {
	Status query.Status `json:"status"`
	Text   string       `json:"text"`
	*addressResponse
}

type walletBalance struct {
	Status query.Status `json:"status"`
	Text   string       `json:"text"`
	*balanceResponse
}

type walletResponse struct {
	Principal string        `json:"principal"`
	Address   walletAddress `json:"address"`
	Balance   walletBalance `json:"balance"`
}

// handleWallet returns address and balance with per-part status. Parts
// still loading after the overview timeout are reported as pending.
func (s *Server) handleWallet(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.OverviewTimeout)
	defer cancel()

	ov, err := sess.Query.Overview(ctx, &sess.Principal)
	if err != nil {
		s.logQueryError(r, err, "wallet")
		writeError(w, http.StatusBadGateway, msgBalanceError)
		return
	}

	resp := walletResponse{Principal: ov.Principal.Text()}
	resp.Address.Status = ov.Address.Status
	switch ov.Address.Status {
	case query.StatusSuccess:
		a := s.address(ov.Address.Value)
		resp.Address.addressResponse = &a
		resp.Address.Text = a.Address
	case query.StatusPending:
		resp.Address.Text = msgAddressPending
	default:
		s.logQueryError(r, ov.Address.Err, "address")
		resp.Address.Text = msgAddressError
	}

	resp.Balance.Status = ov.Balance.Status
	switch ov.Balance.Status {
	case query.StatusSuccess:
		b := balance(ov.Balance.Value)
		resp.Balance.balanceResponse = &b
		resp.Balance.Text = b.Text
	case query.StatusPending:
		resp.Balance.Text = msgBalancePending
	default:
		s.logQueryError(r, ov.Balance.Err, "balance")
		resp.Balance.Text = msgBalanceError
	}
	writeJSON(w, http.StatusOK, resp)
}

type sendRequest struct {
	To     string      `json:"to"`
	Amount json.Number `json:"amount"`
}

type sendResponse struct {
	Status      string `json:"status"`
	TxID        string `json:"txid,omitempty"`
	ShortTxID   string `json:"short_txid,omitempty"`
	ExplorerURL string `json:"explorer_url,omitempty"`
	Error       string `json:"error,omitempty"`
	Reason      string `json:"reason,omitempty"`
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r.Context())
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}

	out, err := sess.Query.Send(r.Context(), &sess.Principal, req.To, req.Amount.String())
	switch {
	case errors.Is(err, query.ErrDestinationRequired),
		errors.Is(err, btc.ErrEmptyAmount),
		errors.Is(err, btc.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.logQueryError(r, err, "send")
		writeError(w, http.StatusBadGateway, msgSendTransportFail)
		return
	}

	if !out.Succeeded() {
		writeJSON(w, http.StatusOK, sendResponse{Status: "failed", Error: msgSendFailed, Reason: out.Reason})
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{
		Status:      "sent",
		TxID:        out.TxID,
		ShortTxID:   btc.ShortTxID(out.TxID),
		ExplorerURL: s.cfg.Network.ExplorerTxURL(out.TxID),
	})
}

func (s *Server) logQueryError(r *http.Request, err error, what string) {
	sess := sessionFrom(r.Context())
	l := klog.HTTP
	if sess != nil {
		l = klog.WithPrincipal(l, sess.Principal.Text())
	}
	l.Warn().Err(err).
		Str("query", what).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("Wallet query failed")
}
