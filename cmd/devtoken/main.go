// Command devtoken mints a signed bearer token for local testing.
//
//	go run ./cmd/devtoken --user 42 --name alice
package main

import (
	"fmt"
	"os"

	"github.com/spf13/pflag"
	"github.com/suPer8Hu/chat-rooms/internal/auth"
	"github.com/suPer8Hu/chat-rooms/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	userID := pflag.Uint64P("user", "u", 0, "user id to put in the token (required)")
	name := pflag.StringP("name", "n", "", "display name")
	ttl := pflag.Duration("ttl", cfg.TokenTTL, "token lifetime")
	secret := pflag.String("secret", cfg.JWTSecret, "HS256 signing secret (defaults to JWT_SECRET)")
	issuer := pflag.String("issuer", cfg.JWTIssuer, "token issuer (defaults to JWT_ISSUER)")
	pflag.Parse()

	if *userID == 0 {
		fmt.Fprintln(os.Stderr, "--user is required")
		pflag.Usage()
		os.Exit(2)
	}

	tok, err := auth.SignJWT(*userID, *name, *secret, *issuer, *ttl)
	if err != nil {
		fmt.Fprintln(os.Stderr, "sign:", err)
		os.Exit(1)
	}
	fmt.Println(tok)
}
