// Command optoken mints an operator bearer token for the HTTP API.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"deposit-ledger/config"
	"deposit-ledger/internal/service"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	operator := flag.String("operator", "", "Operator name recorded in the token subject")
	ttl := flag.Duration("ttl", 0, "Token lifetime (default: jwt.expiry from config)")
	flag.Parse()

	if *operator == "" {
		fmt.Fprintln(os.Stderr, "usage: optoken -operator NAME [-ttl 24h] [-config path]")
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.JWT.Secret == "" {
		fmt.Fprintln(os.Stderr, "jwt.secret is not configured (DLG_JWT_SECRET)")
		os.Exit(1)
	}

	expiry := cfg.JWT.Expiry
	if *ttl > 0 {
		expiry = *ttl
	}

	token, expiresAt, err := service.NewJWTTokenService(cfg.JWT.Secret, expiry, cfg.JWT.Issuer).Generate(*operator)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to mint token: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "expires %s\n", expiresAt.UTC().Format(time.RFC3339))
}
