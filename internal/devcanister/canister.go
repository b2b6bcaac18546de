// Package devcanister is an in-memory stand-in for the wallet canister,
// served over JSON-RPC for local development and tests.
package devcanister

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"

	"github.com/Klingon-tech/icwallet/internal/canister"
	"github.com/Klingon-tech/icwallet/pkg/btc"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// DefaultFee is the flat fee in satoshi charged per transfer.
const DefaultFee = 500

// Canister error messages.
const (
	errAnonymous    = "Calls with the anonymous principal are not allowed."
	errZeroAmount   = "Amount must be greater than 0"
	errNoUTXOs      = "No UTXOs available for spending"
	errInvalidDest  = "Invalid destination address: %v"
	errWrongNetwork = "Address not valid for network: %s"
	errInsufficient = "Insufficient balance: %d, trying to transfer %d satoshi with fee %d"
)

// Canister holds the ledger of the development canister.
type Canister struct {
	network btc.Network
	seed    []byte
	fee     uint64

	mu       sync.Mutex
	balances map[string]uint64
	sent     uint64
}

// New creates a canister for network. Addresses are derived from seed, so
// the same seed always yields the same address per principal.
func New(network btc.Network, seed []byte, fee uint64) *Canister {
	return &Canister{
		network:  network,
		seed:     append([]byte{}, seed...),
		fee:      fee,
		balances: make(map[string]uint64),
	}
}

// Network returns the canister's Bitcoin network.
func (c *Canister) Network() btc.Network { return c.network }

// addressOf derives the key-path-only taproot address for p.
func (c *Canister) addressOf(p principal.Principal) (string, error) {
	h := sha256.New()
	h.Write(c.seed)
	h.Write(p.Bytes())
	priv, _ := btcec.PrivKeyFromBytes(h.Sum(nil))

	outputKey := txscript.ComputeTaprootKeyNoScript(priv.PubKey())
	addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), c.network.Params())
	if err != nil {
		return "", fmt.Errorf("taproot address: %w", err)
	}
	return addr.EncodeAddress(), nil
}

// GetAddress returns owner's address, or the caller's when owner is nil.
func (c *Canister) GetAddress(caller principal.Principal, owner *principal.Principal) canister.Result[string] {
	p := caller
	if owner != nil {
		p = *owner
	}
	addr, err := c.addressOf(p)
	if err != nil {
		return canister.Err[string](err.Error())
	}
	return canister.Ok(addr)
}

// GetBalance returns owner's balance, or the caller's when owner is nil.
func (c *Canister) GetBalance(caller principal.Principal, owner *principal.Principal) canister.Result[uint64] {
	p := caller
	if owner != nil {
		p = *owner
	}
	addr, err := c.addressOf(p)
	if err != nil {
		return canister.Err[uint64](err.Error())
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return canister.Ok(c.balances[addr])
}

// SendBTC moves amount plus the fee out of the caller's address.
func (c *Canister) SendBTC(caller principal.Principal, destination string, amount uint64) canister.Result[string] {
	if caller.IsAnonymous() {
		return canister.Err[string](errAnonymous)
	}
	if amount == 0 {
		return canister.Err[string](errZeroAmount)
	}
	dest, err := btc.ValidateAddress(destination, c.network)
	if err != nil {
		if errors.Is(err, btc.ErrWrongNetwork) {
			return canister.Err[string](fmt.Sprintf(errWrongNetwork, c.network))
		}
		cause := strings.TrimPrefix(err.Error(), btc.ErrInvalidAddress.Error()+": ")
		return canister.Err[string](fmt.Sprintf(errInvalidDest, cause))
	}
	own, err := c.addressOf(caller)
	if err != nil {
		return canister.Err[string](err.Error())
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	balance := c.balances[own]
	if balance == 0 {
		return canister.Err[string](errNoUTXOs)
	}
	if amount > balance || balance-amount < c.fee {
		return canister.Err[string](fmt.Sprintf(errInsufficient, balance, amount, c.fee))
	}

	c.balances[own] = balance - amount - c.fee
	c.balances[dest.EncodeAddress()] += amount
	c.sent++

	var buf []byte
	buf = append(buf, own...)
	buf = append(buf, dest.EncodeAddress()...)
	buf = binary.BigEndian.AppendUint64(buf, amount)
	buf = binary.BigEndian.AppendUint64(buf, c.fee)
	buf = binary.BigEndian.AppendUint64(buf, c.sent)
	return canister.Ok(chainhash.DoubleHashH(buf).String())
}

// Fund credits address with satoshi.
func (c *Canister) Fund(address string, satoshi uint64) error {
	addr, err := btc.ValidateAddress(address, c.network)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.balances[addr.EncodeAddress()] += satoshi
	c.mu.Unlock()
	return nil
}
