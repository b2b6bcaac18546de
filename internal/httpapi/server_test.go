package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/Klingon-tech/icwallet/internal/canister"
	"github.com/Klingon-tech/icwallet/internal/devcanister"
	"github.com/Klingon-tech/icwallet/internal/identity"
	"github.com/Klingon-tech/icwallet/internal/query"
	"github.com/Klingon-tech/icwallet/internal/session"
	"github.com/Klingon-tech/icwallet/internal/storage"
	"github.com/Klingon-tech/icwallet/pkg/btc"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

type testEnv struct {
	api    *httptest.Server
	dev    *devcanister.Canister
	mgr    *session.Manager
	alice  principal.Principal
	client *http.Client
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()
	dev := devcanister.New(btc.Regtest, []byte("httpapi-test"), devcanister.DefaultFee)
	devSrv := httptest.NewServer(devcanister.NewServer("", dev, nil, nil).Handler())
	t.Cleanup(devSrv.Close)

	mem := storage.NewMemory()
	ks := identity.NewKeystore(storage.NewPrefixDB(mem, []byte("id/")), identity.KDFParams{Memory: 64, Iterations: 1, Parallelism: 1})
	_, alice, err := ks.Create("alice", []byte("pw"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	handler := query.NewErrorHandler()
	factory := func(id identity.Identity) (*query.Client, error) {
		b, err := canister.Dial(canister.Config{
			Transport: canister.TransportJSONRPC,
			Endpoint:  devSrv.URL,
			Timeout:   5 * time.Second,
		}, id)
		if err != nil {
			return nil, err
		}
		return query.New(b, handler, query.Config{}), nil
	}
	mgr, err := session.NewManager(ks, storage.NewPrefixDB(mem, []byte("sess/")), factory, session.Config{
		Secret: []byte("httpapi-test-secret-0123456789"),
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	t.Cleanup(mgr.Close)

	cfg.Network = btc.Regtest
	api := httptest.NewServer(New(cfg, mgr).Handler())
	t.Cleanup(api.Close)
	return &testEnv{api: api, dev: dev, mgr: mgr, alice: alice, client: api.Client()}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body)
	}
	req, err := http.NewRequest(method, e.api.URL+path, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func (e *testEnv) login(t *testing.T) string {
	t.Helper()
	resp, out := e.do(t, http.MethodPost, "/api/login", "", loginRequest{Name: "alice", Password: "pw"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d, body %v", resp.StatusCode, out)
	}
	token, _ := out["token"].(string)
	if token == "" {
		t.Fatal("login returned no token")
	}
	return token
}

func TestHealthAndMetrics(t *testing.T) {
	e := newTestEnv(t, Config{})
	resp, out := e.do(t, http.MethodGet, "/healthz", "", nil)
	if resp.StatusCode != http.StatusOK || out["status"] != "ok" {
		t.Fatalf("healthz = %d %v", resp.StatusCode, out)
	}

	r, err := e.client.Get(e.api.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Fatalf("metrics status = %d", r.StatusCode)
	}
}

func TestGatedRoutesRequireSession(t *testing.T) {
	e := newTestEnv(t, Config{})
	routes := []struct{ method, path string }{
		{http.MethodPost, "/api/logout"},
		{http.MethodGet, "/api/address"},
		{http.MethodGet, "/api/balance"},
		{http.MethodGet, "/api/wallet"},
		{http.MethodPost, "/api/send"},
	}
	for _, rt := range routes {
		for _, token := range []string{"", "garbage"} {
			resp, out := e.do(t, rt.method, rt.path, token, nil)
			if resp.StatusCode != http.StatusUnauthorized {
				t.Errorf("%s %s token=%q: status %d", rt.method, rt.path, token, resp.StatusCode)
			}
			if out["error"] != msgNotAuthenticated {
				t.Errorf("%s %s: body %v", rt.method, rt.path, out)
			}
		}
	}
}

func TestLoginAndSession(t *testing.T) {
	e := newTestEnv(t, Config{})

	resp, _ := e.do(t, http.MethodPost, "/api/login", "", loginRequest{Name: "alice", Password: "nope"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password status = %d", resp.StatusCode)
	}
	resp, _ = e.do(t, http.MethodPost, "/api/login", "", map[string]string{"user": "alice"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad body status = %d", resp.StatusCode)
	}

	_, out := e.do(t, http.MethodGet, "/api/session", "", nil)
	if out["status"] != string(session.StatusIdle) {
		t.Fatalf("anonymous session = %v", out)
	}

	token := e.login(t)
	_, out = e.do(t, http.MethodGet, "/api/session", token, nil)
	if out["status"] != string(session.StatusSuccess) || out["principal"] != e.alice.Text() {
		t.Fatalf("session = %v", out)
	}

	resp, out = e.do(t, http.MethodPost, "/api/logout", token, nil)
	if resp.StatusCode != http.StatusOK || out["status"] != string(session.StatusIdle) {
		t.Fatalf("logout = %d %v", resp.StatusCode, out)
	}
	resp, _ = e.do(t, http.MethodGet, "/api/balance", token, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("after logout status = %d", resp.StatusCode)
	}
}

func TestSessionCookie(t *testing.T) {
	e := newTestEnv(t, Config{})
	resp, _ := e.do(t, http.MethodPost, "/api/login", "", loginRequest{Name: "alice", Password: "pw"})
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == CookieName {
			cookie = c
		}
	}
	if cookie == nil || !cookie.HttpOnly {
		t.Fatalf("session cookie = %+v", cookie)
	}

	req, _ := http.NewRequest(http.MethodGet, e.api.URL+"/api/address", nil)
	req.AddCookie(cookie)
	r, err := e.client.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	r.Body.Close()
	if r.StatusCode != http.StatusOK {
		t.Fatalf("cookie auth status = %d", r.StatusCode)
	}
}

func TestWalletFlow(t *testing.T) {
	e := newTestEnv(t, Config{})
	token := e.login(t)

	resp, out := e.do(t, http.MethodGet, "/api/address", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("address status = %d %v", resp.StatusCode, out)
	}
	addr, _ := out["address"].(string)
	if !strings.HasPrefix(addr, "bcrt1p") {
		t.Fatalf("address = %q", addr)
	}
	if out["payment_uri"] != "bitcoin:"+addr {
		t.Fatalf("payment_uri = %v", out["payment_uri"])
	}

	_, out = e.do(t, http.MethodGet, "/api/balance", token, nil)
	if out["satoshi"] != float64(0) || out["btc"] != "0" {
		t.Fatalf("initial balance = %v", out)
	}

	if err := e.dev.Fund(addr, 150_000_000); err != nil {
		t.Fatalf("Fund: %v", err)
	}
	_, out = e.do(t, http.MethodGet, "/api/balance", token, nil)
	if out["satoshi"] != float64(150_000_000) || out["btc"] != "1.5" {
		t.Fatalf("funded balance = %v", out)
	}

	_, out = e.do(t, http.MethodGet, "/api/wallet", token, nil)
	a, _ := out["address"].(map[string]any)
	b, _ := out["balance"].(map[string]any)
	if a["status"] != string(query.StatusSuccess) || a["address"] != addr {
		t.Fatalf("wallet address = %v", a)
	}
	if b["status"] != string(query.StatusSuccess) || b["text"] != "1.5 BTC" {
		t.Fatalf("wallet balance = %v", b)
	}

	// Pay bob, a principal the canister has not seen yet.
	bob := principal.MustNew([]byte{0xb0, 0xb0})
	bobAddr, _ := e.dev.GetAddress(bob, nil).Value()

	resp, out = e.do(t, http.MethodPost, "/api/send", token, map[string]any{"to": bobAddr, "amount": 1000})
	if resp.StatusCode != http.StatusOK || out["status"] != "sent" {
		t.Fatalf("send = %d %v", resp.StatusCode, out)
	}
	if txid, _ := out["txid"].(string); len(txid) != 64 {
		t.Fatalf("txid = %v", out["txid"])
	}

	_, out = e.do(t, http.MethodGet, "/api/balance", token, nil)
	want := float64(150_000_000 - 1000 - devcanister.DefaultFee)
	if out["satoshi"] != want {
		t.Fatalf("balance after send = %v, want %v", out["satoshi"], want)
	}

	// A refusal by the canister is a 200 with the reason.
	resp, out = e.do(t, http.MethodPost, "/api/send", token, map[string]any{"to": "not-an-address", "amount": "10"})
	if resp.StatusCode != http.StatusOK || out["status"] != "failed" || out["error"] != msgSendFailed {
		t.Fatalf("refused send = %d %v", resp.StatusCode, out)
	}
	if reason, _ := out["reason"].(string); reason == "" {
		t.Fatal("refused send has no reason")
	}
	for _, field := range []string{"txid", "short_txid", "explorer_url"} {
		if v, ok := out[field]; ok {
			t.Errorf("refused send carries %s = %v", field, v)
		}
	}

	for _, body := range []map[string]any{
		{"to": bobAddr, "amount": 1.5},
		{"to": bobAddr, "amount": -3},
		{"to": "", "amount": 10},
		{"to": bobAddr},
	} {
		resp, _ = e.do(t, http.MethodPost, "/api/send", token, body)
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("send %v: status %d", body, resp.StatusCode)
		}
	}
}

func TestSendTransportFailure(t *testing.T) {
	e := newTestEnv(t, Config{})
	token := e.login(t)

	// Swap the session's backend for a canister that is down.
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer broken.Close()

	b, err := canister.Dial(canister.Config{Transport: canister.TransportJSONRPC, Endpoint: broken.URL}, identity.Anonymous{})
	if err != nil {
		t.Fatal(err)
	}
	sess, err := e.mgr.Authenticate(token)
	if err != nil {
		t.Fatal(err)
	}
	sess.Query = query.New(b, nil, query.Config{})

	resp, out := e.do(t, http.MethodPost, "/api/send", token, map[string]any{"to": "bcrt1qxyz", "amount": 5})
	if resp.StatusCode != http.StatusBadGateway || out["error"] != msgSendTransportFail {
		t.Fatalf("send = %d %v", resp.StatusCode, out)
	}
	resp, out = e.do(t, http.MethodGet, "/api/balance", token, nil)
	if resp.StatusCode != http.StatusBadGateway || out["error"] != msgBalanceError {
		t.Fatalf("balance = %d %v", resp.StatusCode, out)
	}
}

func TestIPFilter(t *testing.T) {
	srv := New(Config{AllowedIPs: []string{"10.0.0.0/8"}}, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("outside status = %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.RemoteAddr = "10.1.2.3:1234"
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("inside status = %d", rec.Code)
	}
}
