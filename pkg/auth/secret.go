package auth

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// DerivationIterations is the PBKDF2 work factor for token secrets
	DerivationIterations = 100000
	// derivedKeySize yields a 64 character hex secret
	derivedKeySize = 32
)

// ErrEmptyPassphrase is returned when deriving from an empty passphrase
var ErrEmptyPassphrase = errors.New("passphrase cannot be empty")

// DeriveSecret turns a cluster passphrase into a token signing secret. Every
// node and monitorctl derive the same secret from the same passphrase and
// salt, so the passphrase is all an operator has to distribute.
func DeriveSecret(passphrase, salt string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassphrase
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), DerivationIterations, derivedKeySize, sha256.New)
	return hex.EncodeToString(key), nil
}
