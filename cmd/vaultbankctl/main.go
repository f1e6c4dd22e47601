// vaultbankctl is the operator and client command line: key generation,
// schema initialization, demo-user seeding, and one-shot register/login/
// transfer requests against a running server.
package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/vaultbank/vaultbank/internal/client"
	"github.com/vaultbank/vaultbank/internal/crypto"
	"github.com/vaultbank/vaultbank/internal/protocol"
	"github.com/vaultbank/vaultbank/internal/store"
)

const usage = `usage: vaultbankctl <command> [flags]

commands:
  keygen     generate a shared key file and print its base64 form
  initdb     create the database schema
  seed       register demo users directly into the database
  register   register a user against a running server
  login      log in against a running server
  transfer   submit a transfer against a running server
  history    list a user's transactions from the database
`

func main() {
	// .env is optional; real environment variables win.
	godotenv.Load()

	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "keygen":
		err = runKeygen(os.Args[2:])
	case "initdb":
		err = runInitDB(os.Args[2:])
	case "seed":
		err = runSeed(os.Args[2:])
	case "register":
		err = runRequest(os.Args[2:], "register")
	case "login":
		err = runRequest(os.Args[2:], "login")
	case "transfer":
		err = runRequest(os.Args[2:], "transfer")
	case "history":
		err = runHistory(os.Args[2:])
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "vaultbankctl: %v\n", err)
		os.Exit(1)
	}
}

func runKeygen(args []string) error {
	fs := flag.NewFlagSet("keygen", flag.ExitOnError)
	out := fs.String("out", "config/shared_key.key", "path for the raw key file")
	fs.Parse(args)

	key := make([]byte, crypto.KeySize)
	if _, err := rand.Read(key); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}

	if dir := filepath.Dir(*out); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("creating key directory: %w", err)
		}
	}
	if err := os.WriteFile(*out, key, 0o600); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}

	fmt.Printf("key written to %s\n", *out)
	fmt.Printf("SHARED_KEY=%s\n", base64.StdEncoding.EncodeToString(key))
	return nil
}

func runInitDB(args []string) error {
	fs := flag.NewFlagSet("initdb", flag.ExitOnError)
	dbPath := fs.String("db", envOr("DB_PATH", "./data/vaultbank.db"), "database path")
	fs.Parse(args)

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Printf("schema initialized at %s\n", *dbPath)
	return nil
}

// Demo accounts created by seed. Hashed through the normal Argon2id path
// so they verify against the running server.
var seedUsers = []struct{ username, password string }{
	{"alice", "Alice_pass123!"},
	{"bob", "Bob_pass4567!"},
	{"carol", "Carol_pass89?!"},
}

func runSeed(args []string) error {
	fs := flag.NewFlagSet("seed", flag.ExitOnError)
	dbPath := fs.String("db", envOr("DB_PATH", "./data/vaultbank.db"), "database path")
	fs.Parse(args)

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()
	for _, u := range seedUsers {
		hash, err := crypto.HashPassword(u.password)
		if err != nil {
			return fmt.Errorf("hashing password for %s: %w", u.username, err)
		}
		if err := st.CreateUser(ctx, u.username, hash); err != nil {
			fmt.Printf("skipped %s: %v\n", u.username, err)
			continue
		}
		fmt.Printf("seeded %s\n", u.username)
	}
	return nil
}

func runRequest(args []string, op string) error {
	fs := flag.NewFlagSet(op, flag.ExitOnError)
	addr := fs.String("addr", defaultAddr(), "server address")
	keyB64 := fs.String("key", os.Getenv("SHARED_KEY"), "base64 shared key")
	keyFile := fs.String("key-file", "config/shared_key.key", "raw shared key file, used when -key is empty")
	user := fs.String("user", "", "username")
	pass := fs.String("pass", "", "password")
	from := fs.String("from", "", "source account")
	to := fs.String("to", "", "destination account")
	amount := fs.Float64("amount", 0, "transfer amount")
	fs.Parse(args)

	key, err := resolveKey(*keyB64, *keyFile)
	if err != nil {
		return err
	}

	c := client.New(*addr, key)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var resp protocol.Response
	switch op {
	case "register":
		resp, err = c.Register(ctx, *user, *pass)
	case "login":
		resp, err = c.Login(ctx, *user, *pass)
	case "transfer":
		resp, err = c.Transfer(ctx, *user, *from, *to, *amount)
	}
	if err != nil {
		return err
	}

	fmt.Printf("%s: %s\n", resp.Status, resp.Mensaje)
	if id, ok := resp.Datos["id"]; ok {
		fmt.Printf("id: %v\n", id)
	}
	if resp.Status != protocol.StatusOK {
		os.Exit(1)
	}
	return nil
}

func runHistory(args []string) error {
	fs := flag.NewFlagSet("history", flag.ExitOnError)
	dbPath := fs.String("db", envOr("DB_PATH", "./data/vaultbank.db"), "database path")
	user := fs.String("user", "", "username")
	fs.Parse(args)

	if *user == "" {
		return fmt.Errorf("-user is required")
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		return err
	}
	defer st.Close()

	txs, err := st.Transactions(context.Background(), *user)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Println("no transactions")
		return nil
	}
	for _, tx := range txs {
		fmt.Printf("#%d  %s  %.2f  %s -> %s\n",
			tx.ID, tx.Timestamp.Format(time.RFC3339), tx.Cantidad, tx.CuentaOrigen, tx.CuentaDestino)
	}
	return nil
}

func resolveKey(b64, file string) ([]byte, error) {
	if b64 != "" {
		key, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return nil, fmt.Errorf("decoding shared key: %w", err)
		}
		if len(key) != crypto.KeySize {
			return nil, fmt.Errorf("shared key is %d bytes, want %d", len(key), crypto.KeySize)
		}
		return key, nil
	}
	key, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("no shared key available (set SHARED_KEY, -key, or -key-file): %w", err)
	}
	if len(key) != crypto.KeySize {
		return nil, fmt.Errorf("shared key file is %d bytes, want %d", len(key), crypto.KeySize)
	}
	return key, nil
}

func defaultAddr() string {
	host := envOr("SERVER_HOST", "127.0.0.1")
	port := envOr("SERVER_PORT", "5000")
	return host + ":" + port
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}
