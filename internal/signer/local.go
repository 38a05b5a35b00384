package signer

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/gagliardetto/solana-go"
)

// LocalVault keeps custodial keys in memory, loaded once from a JSON keystore
// file mapping base58 address → base58 private key. It exists for development
// and tests; production deployments substitute a Vault backed by an HSM or KMS.
type LocalVault struct {
	mu   sync.Mutex
	keys map[string]solana.PrivateKey
}

var _ Vault = (*LocalVault)(nil)

func NewLocalVault(keystoreFile string) (*LocalVault, error) {
	raw, err := os.ReadFile(keystoreFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read keystore: %w", err)
	}

	var entries map[string]string
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse keystore: %w", err)
	}

	keys := make(map[string]solana.PrivateKey, len(entries))
	for address, encoded := range entries {
		key, err := solana.PrivateKeyFromBase58(encoded)
		if err != nil {
			return nil, fmt.Errorf("invalid key for %s: %w", address, err)
		}

		if key.PublicKey().String() != address {
			return nil, fmt.Errorf("keystore entry %s does not match its key", address)
		}

		keys[address] = key
	}

	return &LocalVault{keys: keys}, nil
}

// NewLocalVaultFromKeys builds a vault directly from key material. Test helper.
func NewLocalVaultFromKeys(keys ...solana.PrivateKey) *LocalVault {
	vault := &LocalVault{keys: make(map[string]solana.PrivateKey, len(keys))}
	for _, key := range keys {
		vault.keys[key.PublicKey().String()] = key
	}
	return vault
}

func (v *LocalVault) SignerFor(address string) (Signer, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	key, ok := v.keys[address]
	if !ok {
		return nil, ErrNoKey
	}

	return &localSigner{key: key}, nil
}

// Close zeroes every private key held by the vault. The vault is unusable
// afterwards; signers handed out earlier will start returning garbage, so this
// is strictly a shutdown operation.
func (v *LocalVault) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()

	for address, key := range v.keys {
		for i := range key {
			key[i] = 0
		}
		delete(v.keys, address)
	}

	return nil
}

type localSigner struct {
	key solana.PrivateKey
}

func (s *localSigner) PublicKey() solana.PublicKey {
	return s.key.PublicKey()
}

func (s *localSigner) Sign(payload []byte) (solana.Signature, error) {
	return s.key.Sign(payload)
}
