package btc

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Network is a Bitcoin network the canister operates on.
type Network string

const (
	Mainnet Network = "mainnet"
	Testnet Network = "testnet"
	Regtest Network = "regtest"
)

// ParseNetwork accepts the network names used in configuration.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "mainnet", "bitcoin", "main":
		return Mainnet, nil
	case "testnet", "test":
		return Testnet, nil
	case "regtest":
		return Regtest, nil
	default:
		return "", fmt.Errorf("unknown bitcoin network %q (want mainnet, testnet or regtest)", s)
	}
}

// Params returns the chain parameters for address encoding.
func (n Network) Params() *chaincfg.Params {
	switch n {
	case Testnet:
		return &chaincfg.TestNet3Params
	case Regtest:
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}

// explorerBase is the mempool.space root for the network, empty for regtest.
func (n Network) explorerBase() string {
	switch n {
	case Mainnet:
		return "https://mempool.space"
	case Testnet:
		return "https://mempool.space/testnet4"
	default:
		return ""
	}
}

// ExplorerAddressURL links to the address page, or "" when the network has no explorer.
func (n Network) ExplorerAddressURL(addr string) string {
	base := n.explorerBase()
	if base == "" || addr == "" {
		return ""
	}
	return base + "/address/" + addr
}

// ExplorerTxURL links to the transaction page, or "" when the network has no explorer.
func (n Network) ExplorerTxURL(txid string) string {
	base := n.explorerBase()
	if base == "" || txid == "" {
		return ""
	}
	return base + "/tx/" + txid
}

// PaymentURI is the BIP-21 URI encoded in receive QR codes.
func PaymentURI(addr string) string {
	return "bitcoin:" + addr
}

// Address validation errors.
var (
	ErrInvalidAddress = errors.New("invalid destination address")
	ErrWrongNetwork   = errors.New("address not valid for network")
)

var allNetworks = []Network{Mainnet, Testnet, Regtest}

// ValidateAddress decodes addr and checks it belongs to the network. The
// error wraps ErrWrongNetwork when addr is valid on another network and
// ErrInvalidAddress otherwise.
func ValidateAddress(addr string, n Network) (btcutil.Address, error) {
	addr = normalizeBech32(addr)
	params := n.Params()
	decoded, err := btcutil.DecodeAddress(addr, params)
	if err == nil && decoded.IsForNet(params) {
		return decoded, nil
	}
	for _, other := range allNetworks {
		if other == n {
			continue
		}
		op := other.Params()
		if d, oerr := btcutil.DecodeAddress(addr, op); oerr == nil && d.IsForNet(op) {
			return nil, fmt.Errorf("%w %s: address is for %s", ErrWrongNetwork, n, other)
		}
	}
	if err == nil {
		err = fmt.Errorf("unknown network prefix")
	}
	return nil, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
}

// normalizeBech32 lowercases an all-uppercase segwit address. btcutil keeps
// the case of the human-readable part, which breaks network checks.
func normalizeBech32(addr string) string {
	i := strings.LastIndexByte(addr, '1')
	if i <= 0 || addr != strings.ToUpper(addr) {
		return addr
	}
	if !chaincfg.IsBech32SegwitPrefix(addr[:i+1]) {
		return addr
	}
	return strings.ToLower(addr)
}
