// Package btc holds Bitcoin presentation helpers: satoshi formatting, amount
// parsing, network parameters and explorer links.
package btc

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// SatoshiPerBitcoin is the number of satoshis in one bitcoin.
const SatoshiPerBitcoin uint64 = 100_000_000

// DisplayDecimals is how many fractional digits SatoshiToDecimal keeps.
const DisplayDecimals = 6

// SatoshiToDecimal renders a satoshi amount as a decimal BTC string.
// The fraction is truncated (not rounded) to DisplayDecimals digits and
// trailing zeros are removed; a whole amount has no decimal point.
func SatoshiToDecimal(sats uint64) string {
	whole := sats / SatoshiPerBitcoin
	frac := sats % SatoshiPerBitcoin
	if frac == 0 {
		return strconv.FormatUint(whole, 10)
	}

	digits := fmt.Sprintf("%08d", frac)[:DisplayDecimals]
	digits = strings.TrimRight(digits, "0")
	if digits == "" {
		return strconv.FormatUint(whole, 10)
	}
	return strconv.FormatUint(whole, 10) + "." + digits
}

// FormatBTC is SatoshiToDecimal with the unit appended.
func FormatBTC(sats uint64) string {
	return SatoshiToDecimal(sats) + " BTC"
}

// Amount parsing errors.
var (
	ErrEmptyAmount   = errors.New("amount is empty")
	ErrInvalidAmount = errors.New("amount must be a whole number of satoshis")
)

// ParseSatoshi parses a user-entered satoshi amount. Only unsigned base-10
// integers that fit in 64 bits are accepted. Zero parses; rejecting it is
// the canister's call.
func ParseSatoshi(s string) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrEmptyAmount
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
		}
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrInvalidAmount, err)
	}
	return v, nil
}

// Shorten keeps the first and last n characters of s joined by "...".
// Strings of length 2n+3 or less are returned unchanged.
func Shorten(s string, n int) string {
	if n <= 0 || len(s) <= 2*n+3 {
		return s
	}
	return s[:n] + "..." + s[len(s)-n:]
}

// ShortAddress is how addresses are displayed.
func ShortAddress(addr string) string {
	return Shorten(addr, 5)
}

// ShortTxID is how transaction ids are displayed.
func ShortTxID(txid string) string {
	return Shorten(txid, 8)
}
