package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/custody-ledger/backend/internal/auth"
	"github.com/custody-ledger/backend/internal/config"
	"github.com/custody-ledger/backend/internal/ton"
)

// tokengen issues an API token for a wallet address. Intended for operators
// and local testing; clients normally obtain tokens from the login service.
func main() {
	addr := flag.String("address", "", "wallet address (user-friendly or raw)")
	ttl := flag.Duration("ttl", 0, "token lifetime, defaults to JWT_EXPIRATION_HOURS")
	flag.Parse()

	cfg := config.Load()
	if *ttl <= 0 {
		*ttl = cfg.JWTExpiration
	}

	identity, err := ton.NormalizeAddress(*addr)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(2)
	}

	token, err := auth.GenerateJWT(cfg.JWTSecret, string(identity), *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "tokengen:", err)
		os.Exit(1)
	}
	fmt.Printf("address: %s\nexpires: %s\n%s\n", identity, time.Now().Add(*ttl).UTC().Format(time.RFC3339), token)
}
