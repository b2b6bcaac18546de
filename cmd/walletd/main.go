// walletd serves the browser API of a canister-held Bitcoin wallet.
//
// Usage:
//
//	walletd [--network=regtest --canister-id=...] Run the gateway
//	walletd --help                                Show help
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Klingon-tech/icwallet/config"
	"github.com/Klingon-tech/icwallet/internal/node"
)

func main() {
	cfg, flags, err := config.Load(os.Args[1:])
	if errors.Is(err, flag.ErrHelp) || (flags != nil && flags.Help) {
		config.PrintUsage(os.Stdout)
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if flags.Version {
		fmt.Printf("walletd version %s\n", config.Version)
		return
	}

	n, err := node.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	if err := n.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		n.Stop()
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	n.Stop()
}
