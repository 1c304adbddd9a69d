package domain

import (
	"fmt"
	"time"
)

// Keypair is a receiving address together with its signing secret (base58).
type Keypair struct {
	AccountID  int64
	PublicKey  string
	PrivateKey string
}

// String never prints the secret half.
func (k Keypair) String() string {
	return fmt.Sprintf("Keypair{account=%d public=%s private=[redacted]}", k.AccountID, k.PublicKey)
}

// KeystoreRecord is the durable form of a Keypair with the secret encrypted at rest.
type KeystoreRecord struct {
	AccountID           int64
	PublicKey           string
	EncryptedPrivateKey string
	CreatedAt           time.Time
}
