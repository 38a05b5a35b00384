package chain

import (
	"github.com/chukwuka-eze/stablepay/internal/validator"

	"github.com/gagliardetto/solana-go"
)

// IsValidAddress reports whether addr is a well-formed chain address: base58,
// 32 bytes, and on the ed25519 curve. Off-curve values are program-derived
// addresses, which cannot belong to a user wallet, so they are rejected here.
func IsValidAddress(addr string) bool {
	pk, err := solana.PublicKeyFromBase58(addr)
	if err != nil {
		return false
	}

	return pk.IsOnCurve()
}

// IsValidSecondaryAddress validates the secp256k1-derived (EVM style) address slot
// a login provider may hand us alongside the primary key.
func IsValidSecondaryAddress(addr string) bool {
	return validator.Matches(addr, validator.RgxEVMAddress)
}
