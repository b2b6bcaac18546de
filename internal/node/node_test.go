package node

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Klingon-tech/icwallet/config"
	"github.com/Klingon-tech/icwallet/internal/agent"
	"github.com/Klingon-tech/icwallet/internal/devcanister"
	"github.com/Klingon-tech/icwallet/pkg/btc"
)

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home dir")
	}
	tests := []struct {
		input, want string
	}{
		{"~/foo/bar", filepath.Join(home, "foo/bar")},
		{"~/.icwallet/walletd.log", filepath.Join(home, ".icwallet/walletd.log")},
		{"/absolute/path", "/absolute/path"},
		{"relative/path", "relative/path"},
		{"", ""},
	}
	for _, tt := range tests {
		got := expandHome(tt.input)
		if got != tt.want {
			t.Errorf("expandHome(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func testConfig(t *testing.T, endpoint string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultRegtest()
	cfg.DataDir = dir
	cfg.Canister.Endpoint = endpoint
	cfg.HTTP.Port = 0
	cfg.Log.File = filepath.Join(dir, "walletd.log")
	cfg.Log.Level = "error"
	if err := config.EnsureDataDirs(cfg); err != nil {
		t.Fatalf("EnsureDataDirs: %v", err)
	}
	return cfg
}

func TestNew_BadTransport(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.Canister.Transport = "carrier-pigeon"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown transport")
	}
}

func TestNodeLifecycle(t *testing.T) {
	dev := devcanister.New(btc.Regtest, []byte("node-test"), devcanister.DefaultFee)
	devSrv := httptest.NewServer(devcanister.NewServer("", dev, nil, nil).Handler())
	defer devSrv.Close()

	n, err := New(testConfig(t, devSrv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, alice, err := n.Keystore().Create("alice", []byte("pw"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	base := "http://" + n.HTTPAddr()
	resp, err := http.Get(base + "/healthz")
	if err != nil {
		t.Fatalf("healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status = %d", resp.StatusCode)
	}

	body, _ := json.Marshal(map[string]string{"name": "alice", "password": "pw"})
	resp, err = http.Post(base+"/api/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	var login struct {
		Token     string `json:"token"`
		Principal string `json:"principal"`
	}
	json.NewDecoder(resp.Body).Decode(&login)
	resp.Body.Close()
	if login.Principal != alice.Text() || login.Token == "" {
		t.Fatalf("login = %+v", login)
	}

	get := func(path string) int {
		req, _ := http.NewRequest(http.MethodGet, base+path, nil)
		req.Header.Set("Authorization", "Bearer "+login.Token)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}
	if code := get("/api/balance"); code != http.StatusOK {
		t.Fatalf("balance status = %d", code)
	}

	// An authentication failure reported by the transport revokes the session.
	n.errors.Handle(alice, &agent.HTTPError{StatusCode: http.StatusForbidden, Body: "invalid signature"})
	if code := get("/api/balance"); code != http.StatusUnauthorized {
		t.Fatalf("after auth failure status = %d", code)
	}
}

func TestSweeper(t *testing.T) {
	dev := devcanister.New(btc.Regtest, []byte("node-test"), devcanister.DefaultFee)
	devSrv := httptest.NewServer(devcanister.NewServer("", dev, nil, nil).Handler())
	defer devSrv.Close()

	cfg := testConfig(t, devSrv.URL)
	cfg.Session.TTL = 50 * time.Millisecond
	cfg.Session.SweepInterval = 10 * time.Millisecond
	n, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, _, err := n.Keystore().Create("alice", []byte("pw")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	if _, _, err := n.sessions.Login("alice", []byte("pw")); err != nil {
		t.Fatalf("Login: %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for n.sessions.Len() > 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	if n.sessions.Len() != 0 {
		t.Fatal("expired session was not swept")
	}
}

func TestStartDropsPreviousSessions(t *testing.T) {
	dev := devcanister.New(btc.Regtest, []byte("node-test"), devcanister.DefaultFee)
	devSrv := httptest.NewServer(devcanister.NewServer("", dev, nil, nil).Handler())
	defer devSrv.Close()

	n, err := New(testConfig(t, devSrv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	// An unexpired record written by an earlier process.
	key := append(append([]byte(nil), sessionPrefix...), "s/leftover"...)
	rec := []byte(`{"name":"old","principal":"2vxsx-fae","created_at":"2020-01-01T00:00:00Z","expires_at":"2999-01-01T00:00:00Z"}`)
	if err := n.db.Put(key, rec); err != nil {
		t.Fatalf("Put: %v", err)
	}

	if err := n.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer n.Stop()

	if ok, _ := n.db.Has(key); ok {
		t.Fatal("session record from a previous run survived Start")
	}
	if ok, _ := n.db.Has(append(append([]byte(nil), sessionPrefix...), "secret"...)); !ok {
		t.Fatal("session secret was removed")
	}
}
