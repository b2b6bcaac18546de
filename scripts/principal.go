// principal.go prints the principal and DER public key of the identity a
// mnemonic file derives.
// Usage: go run scripts/principal.go <mnemonicfile>
package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/Klingon-tech/icwallet/internal/identity"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: principal <mnemonicfile>")
		os.Exit(1)
	}
	data, err := os.ReadFile(os.Args[1])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	mnemonic := strings.Join(strings.Fields(string(data)), " ")
	id, err := identity.FromMnemonic(mnemonic)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer id.Zero()
	fmt.Printf("principal=%s\n", id.Principal())
	fmt.Printf("pubkey_der=%s\n", hex.EncodeToString(id.PublicKeyDER()))
}
