package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/dd0wney/cluso-monitor/pkg/auth"
)

// tokenSecret resolves the signing secret the way the daemon does: an
// explicit secret wins over a passphrase
func tokenSecret(secret, passphrase, salt string) (string, error) {
	if secret != "" {
		return secret, nil
	}
	if passphrase == "" {
		return "", errors.New("-secret or -passphrase is required")
	}
	return auth.DeriveSecret(passphrase, salt)
}

func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	uuid := fs.String("uuid", "", "Device UUID the token is issued for")
	secret := fs.String("secret", os.Getenv("MONITOR_NODE_SECRET"), "Signing secret (at least 32 characters)")
	passphrase := fs.String("passphrase", os.Getenv("MONITOR_NODE_PASSPHRASE"), "Cluster passphrase to derive the secret from")
	salt := fs.String("salt", os.Getenv("MONITOR_NODE_SALT"), "Salt of the passphrase derivation")
	ttl := fs.Duration("ttl", 0, "Token lifetime (0: never expires)")
	verify := fs.Bool("verify", false, "Verify the issued token before printing it")
	if err := fs.Parse(args); err != nil {
		return err
	}

	key, err := tokenSecret(*secret, *passphrase, *salt)
	if err != nil {
		return err
	}
	tokens, err := auth.NewTokenManager(key, *ttl)
	if err != nil {
		return err
	}

	token, err := tokens.GenerateToken(*uuid)
	if err != nil {
		return err
	}

	if *verify {
		claims, err := tokens.ValidateToken(context.Background(), token)
		if err != nil {
			return fmt.Errorf("issued token does not verify: %w", err)
		}
		if !claims.ExpiresAt.IsZero() {
			fmt.Fprintf(os.Stderr, "expires %s\n", claims.ExpiresAt.Format(time.RFC3339))
		}
	}

	_, err = fmt.Fprintln(out, token)
	return err
}
