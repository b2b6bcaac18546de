package devcanister

import (
	"strings"
	"testing"

	"github.com/Klingon-tech/icwallet/pkg/btc"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

var (
	alice = principal.MustNew([]byte{0xa1, 0x1c, 0xe0, 0x01})
	bob   = principal.MustNew([]byte{0xb0, 0xb0, 0x02})
)

func testCanister(t *testing.T) *Canister {
	t.Helper()
	return New(btc.Testnet, []byte("test-seed"), DefaultFee)
}

func mustAddress(t *testing.T, c *Canister, p principal.Principal) string {
	t.Helper()
	res := c.GetAddress(p, nil)
	addr, ok := res.Value()
	if !ok {
		t.Fatalf("GetAddress(%s) = %s", p, res)
	}
	return addr
}

func TestGetAddress_Taproot(t *testing.T) {
	for network, prefix := range map[btc.Network]string{
		btc.Mainnet: "bc1p",
		btc.Testnet: "tb1p",
		btc.Regtest: "bcrt1p",
	} {
		c := New(network, []byte("seed"), DefaultFee)
		addr := mustAddress(t, c, alice)
		if !strings.HasPrefix(addr, prefix) {
			t.Errorf("%s address %s, want prefix %s", network, addr, prefix)
		}
		if _, err := btc.ValidateAddress(addr, network); err != nil {
			t.Errorf("%s address invalid: %v", network, err)
		}
	}
}

func TestGetAddress_PerPrincipal(t *testing.T) {
	c := testCanister(t)
	a1 := mustAddress(t, c, alice)
	a2 := mustAddress(t, c, alice)
	b := mustAddress(t, c, bob)
	if a1 != a2 {
		t.Error("address is not stable for the same principal")
	}
	if a1 == b {
		t.Error("different principals share an address")
	}

	other := New(btc.Testnet, []byte("other-seed"), DefaultFee)
	if mustAddress(t, other, alice) == a1 {
		t.Error("different seeds produced the same address")
	}
}

func TestGetAddress_OwnerOverridesCaller(t *testing.T) {
	c := testCanister(t)
	res := c.GetAddress(alice, &bob)
	got, _ := res.Value()
	if got != mustAddress(t, c, bob) {
		t.Errorf("GetAddress(alice, &bob) = %s, want bob's address", got)
	}
}

func TestGetBalance_Fund(t *testing.T) {
	c := testCanister(t)
	addr := mustAddress(t, c, alice)
	if err := c.Fund(addr, 150_000_000); err != nil {
		t.Fatalf("Fund() error: %v", err)
	}
	bal, ok := c.GetBalance(alice, nil).Value()
	if !ok || bal != 150_000_000 {
		t.Errorf("balance = %d (ok=%v), want 150000000", bal, ok)
	}
	bal, _ = c.GetBalance(principal.Anonymous(), &alice).Value()
	if bal != 150_000_000 {
		t.Errorf("balance by owner = %d", bal)
	}
	if err := c.Fund("bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", 1); err == nil {
		t.Error("Fund() accepted a mainnet address on testnet")
	}
}

func TestSendBTC_Errors(t *testing.T) {
	c := testCanister(t)
	dest := mustAddress(t, c, bob)

	tests := []struct {
		name   string
		caller principal.Principal
		to     string
		amount uint64
		want   string
	}{
		{"anonymous", principal.Anonymous(), dest, 1000, "Calls with the anonymous principal are not allowed."},
		{"zero amount", alice, dest, 0, "Amount must be greater than 0"},
		{"invalid address", alice, "not-an-address", 1000, "Invalid destination address: "},
		{"wrong network", alice, "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4", 1000, "Address not valid for network: testnet"},
		{"no utxos", alice, dest, 1000, "No UTXOs available for spending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.SendBTC(tt.caller, tt.to, tt.amount)
			msg, isErr := res.ErrMessage()
			if !isErr {
				t.Fatalf("SendBTC() = %s, want Err", res)
			}
			if !strings.HasPrefix(msg, tt.want) {
				t.Errorf("Err = %q, want prefix %q", msg, tt.want)
			}
		})
	}
}

func TestSendBTC_InsufficientFunds(t *testing.T) {
	c := testCanister(t)
	c.Fund(mustAddress(t, c, alice), 1000)

	res := c.SendBTC(alice, mustAddress(t, c, bob), 600)
	msg, isErr := res.ErrMessage()
	if !isErr || !strings.HasPrefix(msg, "Insufficient balance: 1000") {
		t.Errorf("SendBTC() = %s", res)
	}
	if bal, _ := c.GetBalance(alice, nil).Value(); bal != 1000 {
		t.Errorf("balance changed after failed send: %d", bal)
	}
}

func TestSendBTC_Success(t *testing.T) {
	c := testCanister(t)
	c.Fund(mustAddress(t, c, alice), 100_000)
	dest := mustAddress(t, c, bob)

	res := c.SendBTC(alice, dest, 10_000)
	txid, ok := res.Value()
	if !ok {
		t.Fatalf("SendBTC() = %s", res)
	}
	if len(txid) != 64 {
		t.Errorf("txid %q is not 64 hex chars", txid)
	}

	if bal, _ := c.GetBalance(alice, nil).Value(); bal != 100_000-10_000-DefaultFee {
		t.Errorf("sender balance = %d", bal)
	}
	if bal, _ := c.GetBalance(bob, nil).Value(); bal != 10_000 {
		t.Errorf("receiver balance = %d", bal)
	}

	again, _ := c.SendBTC(alice, dest, 10_000).Value()
	if again == txid {
		t.Error("identical sends produced the same txid")
	}
}

func TestLedgerKeyedByCanonicalAddress(t *testing.T) {
	c := testCanister(t)
	aliceAddr := mustAddress(t, c, alice)
	bobAddr := mustAddress(t, c, bob)

	if err := c.Fund(strings.ToUpper(aliceAddr), 50_000); err != nil {
		t.Fatalf("Fund(upper) error: %v", err)
	}
	if bal, _ := c.GetBalance(alice, nil).Value(); bal != 50_000 {
		t.Fatalf("balance after upper-case fund = %d, want 50000", bal)
	}

	if _, ok := c.SendBTC(alice, strings.ToUpper(bobAddr), 10_000).Value(); !ok {
		t.Fatal("SendBTC to upper-case address failed")
	}
	if bal, _ := c.GetBalance(bob, nil).Value(); bal != 10_000 {
		t.Errorf("receiver balance = %d, want 10000", bal)
	}
}
