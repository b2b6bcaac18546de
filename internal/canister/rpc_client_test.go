package canister_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Klingon-tech/icwallet/internal/canister"
	"github.com/Klingon-tech/icwallet/internal/devcanister"
	"github.com/Klingon-tech/icwallet/internal/identity"
	"github.com/Klingon-tech/icwallet/pkg/btc"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

func startDev(t *testing.T) (*devcanister.Canister, string) {
	t.Helper()
	dev := devcanister.New(btc.Regtest, []byte("seed"), devcanister.DefaultFee)
	srv := httptest.NewServer(devcanister.NewServer("", dev, nil, nil).Handler())
	t.Cleanup(srv.Close)
	return dev, srv.URL
}

func TestRPCClient_RoundTrip(t *testing.T) {
	dev, url := startDev(t)
	caller := principal.MustNew([]byte{1, 2, 3})
	other := principal.MustNew([]byte{4, 5, 6})
	c := canister.NewRPCClient(url, caller, 0)
	ctx := context.Background()

	addrRes, err := c.GetAddress(ctx, nil)
	if err != nil {
		t.Fatalf("GetAddress() error: %v", err)
	}
	addr, ok := addrRes.Value()
	if !ok {
		t.Fatalf("GetAddress() = %s", addrRes)
	}
	want, _ := dev.GetAddress(caller, nil).Value()
	if addr != want {
		t.Errorf("address = %s, want %s", addr, want)
	}

	if err := dev.Fund(addr, 50_000); err != nil {
		t.Fatalf("Fund() error: %v", err)
	}
	balRes, err := c.GetBalance(ctx, nil)
	if err != nil {
		t.Fatalf("GetBalance() error: %v", err)
	}
	if bal, _ := balRes.Value(); bal != 50_000 {
		t.Errorf("balance = %d, want 50000", bal)
	}

	otherBal, err := c.GetBalance(ctx, &other)
	if err != nil {
		t.Fatalf("GetBalance(other) error: %v", err)
	}
	if bal, _ := otherBal.Value(); bal != 0 {
		t.Errorf("other balance = %d, want 0", bal)
	}

	dest, _ := dev.GetAddress(other, nil).Value()
	sendRes, err := c.SendBTC(ctx, dest, 1_000)
	if err != nil {
		t.Fatalf("SendBTC() error: %v", err)
	}
	if txid, ok := sendRes.Value(); !ok || len(txid) != 64 {
		t.Errorf("SendBTC() = %s", sendRes)
	}

	failRes, err := c.SendBTC(ctx, dest, 0)
	if err != nil {
		t.Fatalf("SendBTC(0) transport error: %v", err)
	}
	if msg, isErr := failRes.ErrMessage(); !isErr || msg != "Amount must be greater than 0" {
		t.Errorf("SendBTC(0) = %s", failRes)
	}
}

func TestRPCClient_TransportErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","error":{"code":-32601,"message":"method not found"},"id":1}`))
	}))
	defer srv.Close()

	c := canister.NewRPCClient(srv.URL, principal.Anonymous(), 0)
	_, err := c.GetBalance(context.Background(), nil)
	var rpcErr *canister.RPCError
	if !errors.As(err, &rpcErr) || rpcErr.Code != -32601 {
		t.Errorf("err = %v, want RPCError -32601", err)
	}

	srv.Close()
	if _, err := c.GetAddress(context.Background(), nil); err == nil {
		t.Error("expected error from closed server")
	}
}

func TestDial(t *testing.T) {
	_, url := startDev(t)

	b, err := canister.Dial(canister.Config{Transport: canister.TransportJSONRPC, Endpoint: url}, identity.Anonymous{})
	if err != nil {
		t.Fatalf("Dial() error: %v", err)
	}
	res, err := b.GetAddress(context.Background(), nil)
	if err != nil || !res.IsOk() {
		t.Errorf("GetAddress() = %s, %v", res, err)
	}

	if _, err := canister.Dial(canister.Config{Transport: "carrier-pigeon"}, nil); err == nil {
		t.Error("expected error for unknown transport")
	}
	if _, err := canister.Dial(canister.Config{Transport: canister.TransportIC, Endpoint: url, CanisterID: "bad"}, nil); err == nil {
		t.Error("expected error for bad canister id")
	}
	if _, err := canister.Dial(canister.Config{Transport: canister.TransportIC, Endpoint: url, CanisterID: "ryjl3-tyaaa-aaaaa-aaaba-cai"}, nil); err != nil {
		t.Errorf("Dial(ic) error: %v", err)
	}
}
