// devcanister serves an in-memory wallet canister over JSON-RPC for local
// development against walletd --network=regtest.
//
// Usage:
//
//	devcanister [--listen=127.0.0.1:8454] [--network=regtest] [--fund=<addr>:<sats>,...]
package main

import (
	"crypto/rand"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/Klingon-tech/icwallet/internal/devcanister"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/pkg/btc"
)

func main() {
	fs := flag.NewFlagSet("devcanister", flag.ExitOnError)
	listen := fs.String("listen", "127.0.0.1:8454", "Listen address")
	network := fs.String("network", "regtest", "Bitcoin network (mainnet, testnet or regtest)")
	seed := fs.String("seed", "", "Key derivation seed (default: random per run)")
	fee := fs.Uint64("fee", devcanister.DefaultFee, "Flat fee in satoshi charged per send")
	fund := fs.String("fund", "", "Initial balances as comma-separated <address>:<satoshi>")
	allowed := fs.String("allowed", "", "Allowed client IPs or CIDRs (comma-separated, default: all)")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	fs.Parse(os.Args[1:])

	if err := klog.Init(*logLevel, false, ""); err != nil {
		fatal("init logger: %v", err)
	}

	n, err := btc.ParseNetwork(*network)
	if err != nil {
		fatal("%v", err)
	}

	seedBytes := []byte(*seed)
	if *seed == "" {
		seedBytes = make([]byte, 32)
		if _, err := rand.Read(seedBytes); err != nil {
			fatal("generate seed: %v", err)
		}
	}

	c := devcanister.New(n, seedBytes, *fee)
	for _, entry := range splitList(*fund) {
		addr, amount, ok := strings.Cut(entry, ":")
		if !ok {
			fatal("--fund entry %q: want <address>:<satoshi>", entry)
		}
		sats, err := strconv.ParseUint(amount, 10, 64)
		if err != nil {
			fatal("--fund entry %q: %v", entry, err)
		}
		if err := c.Fund(addr, sats); err != nil {
			fatal("--fund entry %q: %v", entry, err)
		}
	}

	srv := devcanister.NewServer(*listen, c, splitList(*allowed), nil)
	if err := srv.Start(); err != nil {
		fatal("%v", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	if err := srv.Stop(); err != nil {
		fatal("shutdown: %v", err)
	}
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
