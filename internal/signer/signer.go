// Package signer defines the signing capability consumed by the chain client.
// The settlement engine never sees key material; it is handed an opaque Signer
// scoped to a single identity and asks it for signatures over raw payloads.
package signer

import (
	"errors"

	"github.com/gagliardetto/solana-go"
)

var ErrNoKey = errors.New("signer: no key material for address")

type Signer interface {
	PublicKey() solana.PublicKey
	Sign(payload []byte) (solana.Signature, error)
}

// Vault hands out signers by chain address. Implementations decide where keys
// actually live (local keystore, KMS, HSM); callers only ever hold the capability.
type Vault interface {
	SignerFor(address string) (Signer, error)
	Close() error
}
