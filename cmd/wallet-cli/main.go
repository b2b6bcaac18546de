// wallet-cli manages icwallet identities and talks to the wallet canister
// directly, without walletd.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/Klingon-tech/icwallet/config"
	"github.com/Klingon-tech/icwallet/internal/canister"
	"github.com/Klingon-tech/icwallet/internal/identity"
	klog "github.com/Klingon-tech/icwallet/internal/log"
	"github.com/Klingon-tech/icwallet/internal/query"
	"github.com/Klingon-tech/icwallet/internal/storage"
	"github.com/Klingon-tech/icwallet/pkg/btc"
	"github.com/Klingon-tech/icwallet/pkg/principal"
)

// globals are the flags accepted before the subcommand.
type globals struct {
	dataDir    string
	network    btc.Network
	endpoint   string
	canisterID string
	transport  string
	timeout    time.Duration
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	g := globals{dataDir: config.DefaultDataDir(), timeout: 30 * time.Second}
	network := "mainnet"
	var endpoint, canisterID, transport string

	// Scan for global flags before the subcommand.
	args := os.Args[1:]
	for len(args) > 0 {
		name, value, consumed := globalFlag(args)
		if consumed == 0 {
			break
		}
		switch name {
		case "datadir":
			g.dataDir = value
		case "network":
			network = value
		case "canister":
			endpoint = value
		case "canister-id":
			canisterID = value
		case "transport":
			transport = value
		}
		args = args[consumed:]
	}

	n, err := btc.ParseNetwork(network)
	if err != nil {
		fatal("%v", err)
	}
	g.network = n
	defaults := config.Default(n)
	g.endpoint = firstNonEmpty(endpoint, defaults.Canister.Endpoint)
	g.transport = firstNonEmpty(transport, defaults.Canister.Transport)
	g.canisterID = firstNonEmpty(canisterID, os.Getenv(config.EnvCanisterID))

	if len(args) == 0 {
		usage()
		os.Exit(1)
	}

	// Keep the CLI quiet unless something goes wrong.
	klog.Init("warn", false, "")

	cmd, cmdArgs := args[0], args[1:]
	switch cmd {
	case "identity":
		cmdIdentity(g, cmdArgs)
	case "address":
		cmdAddress(g, cmdArgs)
	case "balance":
		cmdBalance(g, cmdArgs)
	case "send":
		cmdSend(g, cmdArgs)
	case "help", "--help", "-h":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		usage()
		os.Exit(1)
	}
}

var globalNames = []string{"datadir", "network", "canister", "canister-id", "transport"}

// globalFlag recognises --name value and --name=value forms. It returns the
// number of args consumed, zero when args[0] is not a global flag.
func globalFlag(args []string) (string, string, int) {
	for _, name := range globalNames {
		switch {
		case args[0] == "--"+name && len(args) > 1:
			return name, args[1], 2
		case strings.HasPrefix(args[0], "--"+name+"="):
			return name, args[0][len("--"+name+"="):], 1
		}
	}
	return "", "", 0
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: wallet-cli [global flags] <command> [flags]

Global flags:
  --datadir <path>       Data directory (default: ~/.icwallet)
  --network <net>        mainnet (default), testnet or regtest
  --canister <url>       Canister endpoint (default depends on network)
  --canister-id <id>     Wallet canister principal (ic transport)
  --transport <t>        ic or jsonrpc (regtest default: jsonrpc)

Commands:
  identity create  --name <name>                 Create an identity (prints its mnemonic)
  identity import  --name <name> [--mnemonic m]  Import an identity from a mnemonic
  identity list                                  List identities
  identity principal --name <name>               Show an identity's principal
  identity delete  --name <name>                 Delete an identity
  address  --name <name>                         Show the identity's BTC address
  balance  --name <name>                         Show the identity's balance
  send     --name <name> --to <addr> --amount <satoshi>

The keystore is shared with walletd; stop walletd before using wallet-cli
on the same data directory.
`)
}

// ── Keystore helpers ────────────────────────────────────────────────────

func openKeystore(g globals) (*identity.Keystore, func()) {
	cfg := &config.Config{DataDir: g.dataDir, Network: g.network}
	if err := os.MkdirAll(cfg.DBDir(), 0700); err != nil {
		fatal("create data dir: %v", err)
	}
	db, err := storage.NewBadger(cfg.DBDir())
	if err != nil {
		fatal("open %s: %v (is walletd running?)", filepath.Clean(cfg.DBDir()), err)
	}
	ks := identity.NewKeystore(storage.NewPrefixDB(db, []byte("id/")), identity.DefaultKDFParams())
	return ks, func() { db.Close() }
}

func requireName(name *string, usage string) {
	if *name == "" {
		fatal("Usage: wallet-cli %s", usage)
	}
}

// ── identity ────────────────────────────────────────────────────────────

func cmdIdentity(g globals, args []string) {
	if len(args) == 0 {
		fatal("Usage: wallet-cli identity <create|import|list|principal|delete> [flags]")
	}
	switch args[0] {
	case "create":
		cmdIdentityCreate(g, args[1:])
	case "import":
		cmdIdentityImport(g, args[1:])
	case "list":
		cmdIdentityList(g)
	case "principal":
		cmdIdentityPrincipal(g, args[1:])
	case "delete":
		cmdIdentityDelete(g, args[1:])
	default:
		fatal("Unknown identity command: %s\nUsage: wallet-cli identity <create|import|list|principal|delete> [flags]", args[0])
	}
}

func cmdIdentityCreate(g globals, args []string) {
	fs := flag.NewFlagSet("identity create", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	fs.Parse(args)
	requireName(name, "identity create --name <name>")

	password := newPassword()
	ks, closeDB := openKeystore(g)
	defer closeDB()

	mnemonic, p, err := ks.Create(*name, password)
	if err != nil {
		fatal("create identity: %v", err)
	}

	fmt.Println("Mnemonic (write this down!):")
	fmt.Printf("  %s\n\n", mnemonic)
	fmt.Printf("Identity created: %s\n", *name)
	fmt.Printf("Principal: %s\n", p)
}

func cmdIdentityImport(g globals, args []string) {
	fs := flag.NewFlagSet("identity import", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	mnemonic := fs.String("mnemonic", "", "BIP-39 mnemonic (prompted when empty)")
	fs.Parse(args)
	requireName(name, "identity import --name <name> [--mnemonic <words>]")

	words := *mnemonic
	if words == "" {
		b, err := readPassword("Enter mnemonic: ")
		if err != nil {
			fatal("read mnemonic: %v", err)
		}
		words = strings.Join(strings.Fields(string(b)), " ")
	}
	if !identity.ValidateMnemonic(words) {
		fatal("invalid mnemonic")
	}

	password := newPassword()
	ks, closeDB := openKeystore(g)
	defer closeDB()

	p, err := ks.Import(*name, words, password)
	if err != nil {
		fatal("import identity: %v", err)
	}
	fmt.Printf("Identity imported: %s\n", *name)
	fmt.Printf("Principal: %s\n", p)
}

func cmdIdentityList(g globals) {
	ks, closeDB := openKeystore(g)
	defer closeDB()

	entries, err := ks.List()
	if err != nil {
		fatal("list identities: %v", err)
	}
	if len(entries) == 0 {
		fmt.Println("No identities.")
		return
	}
	for _, e := range entries {
		fmt.Printf("%-20s %s  %s\n", e.Name, e.Principal, e.CreatedAt.Format(time.DateOnly))
	}
}

func cmdIdentityPrincipal(g globals, args []string) {
	fs := flag.NewFlagSet("identity principal", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	fs.Parse(args)
	requireName(name, "identity principal --name <name>")

	ks, closeDB := openKeystore(g)
	defer closeDB()
	p, err := ks.Principal(*name)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Println(p)
}

func cmdIdentityDelete(g globals, args []string) {
	fs := flag.NewFlagSet("identity delete", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	yes := fs.Bool("yes", false, "Do not ask for confirmation")
	fs.Parse(args)
	requireName(name, "identity delete --name <name> [--yes]")

	if !*yes {
		fmt.Fprintf(os.Stderr, "Delete identity %q? Funds are lost without its mnemonic. [y/N] ", *name)
		var answer string
		fmt.Scanln(&answer)
		if !strings.EqualFold(strings.TrimSpace(answer), "y") {
			fmt.Println("Aborted.")
			return
		}
	}

	ks, closeDB := openKeystore(g)
	defer closeDB()
	if err := ks.Delete(*name); err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Identity deleted: %s\n", *name)
}

// ── Canister commands ───────────────────────────────────────────────────

// unlock loads the named identity and returns a query client calling as it.
func unlock(g globals, name string) (*query.Client, principal.Principal) {
	password, err := readPassword("Password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	ks, closeDB := openKeystore(g)
	id, err := ks.Load(name, password)
	closeDB()
	if err != nil {
		fatal("unlock %s: %v", name, err)
	}

	b, err := canister.Dial(canister.Config{
		Transport:  g.transport,
		Endpoint:   g.endpoint,
		CanisterID: g.canisterID,
		Timeout:    g.timeout,
	}, id)
	if err != nil {
		fatal("%v", err)
	}
	return query.New(b, nil, query.Config{}), id.Principal()
}

func cmdAddress(g globals, args []string) {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	fs.Parse(args)
	requireName(name, "address --name <name>")

	client, p := unlock(g, *name)
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	addr, err := client.Address(ctx, &p)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Address:   %s\n", addr)
	fmt.Printf("Pay:       %s\n", btc.PaymentURI(addr))
	if u := g.network.ExplorerAddressURL(addr); u != "" {
		fmt.Printf("Explorer:  %s\n", u)
	}
}

func cmdBalance(g globals, args []string) {
	fs := flag.NewFlagSet("balance", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	fs.Parse(args)
	requireName(name, "balance --name <name>")

	client, p := unlock(g, *name)
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	sats, err := client.Balance(ctx, &p)
	if err != nil {
		fatal("%v", err)
	}
	fmt.Printf("Balance: %s (%d satoshi)\n", btc.FormatBTC(sats), sats)
}

func cmdSend(g globals, args []string) {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	name := fs.String("name", "", "Identity name")
	to := fs.String("to", "", "Destination BTC address")
	amount := fs.String("amount", "", "Amount in satoshi")
	fs.Parse(args)
	if *name == "" || *to == "" || *amount == "" {
		fatal("Usage: wallet-cli send --name <name> --to <address> --amount <satoshi>")
	}
	if _, err := btc.ValidateAddress(*to, g.network); err != nil {
		fatal("%v", err)
	}

	client, p := unlock(g, *name)
	ctx, cancel := context.WithTimeout(context.Background(), g.timeout)
	defer cancel()

	out, err := client.Send(ctx, &p, *to, *amount)
	if err != nil {
		fatal("There was an error sending BTC: %v", err)
	}
	if !out.Succeeded() {
		fatal("Error, couldn't send: %s", out.Reason)
	}
	fmt.Printf("Sent. Transaction: %s\n", out.TxID)
	if u := g.network.ExplorerTxURL(out.TxID); u != "" {
		fmt.Printf("Explorer: %s\n", u)
	}
}

// ── Helpers ─────────────────────────────────────────────────────────────

func newPassword() []byte {
	password, err := readPassword("Enter password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	confirm, err := readPassword("Confirm password: ")
	if err != nil {
		fatal("read password: %v", err)
	}
	if string(password) != string(confirm) {
		fatal("passwords do not match")
	}
	return password
}

func readPassword(prompt string) ([]byte, error) {
	fmt.Fprint(os.Stderr, prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Fprintln(os.Stderr) // newline after hidden input
	if err != nil {
		return nil, err
	}
	return password, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}
