// Package wallet loads the Solana keypair used to sign swap and
// payment transactions.
package wallet

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
)

// Wallet holds a Solana signing key. The key is only touched while a
// transaction is being signed.
type Wallet struct {
	key solana.PrivateKey
}

// walletFile is the MoltyDEX wallet format: {"secret_key": "<base58>"}.
type walletFile struct {
	SecretKey string `json:"secret_key"`
}

// Load reads a wallet from disk. Two formats are accepted: the
// MoltyDEX JSON object with a base58 secret key, and the solana-keygen
// JSON array of 64 bytes.
func Load(path string) (*Wallet, error) {
	if path == "" {
		return nil, fmt.Errorf("wallet path is empty")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read wallet file: %w", err)
	}

	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "[") {
		var arr []byte
		var ints []int
		if err := json.Unmarshal(raw, &ints); err != nil {
			return nil, fmt.Errorf("invalid keygen wallet file: %w", err)
		}
		for _, v := range ints {
			if v < 0 || v > 255 {
				return nil, fmt.Errorf("invalid keygen wallet file: byte out of range")
			}
			arr = append(arr, byte(v))
		}
		return FromBytes(arr)
	}

	var f walletFile
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("invalid wallet file: %w", err)
	}
	if f.SecretKey == "" {
		return nil, fmt.Errorf("wallet file carries no secret_key")
	}

	return FromBase58(f.SecretKey)
}

// FromBase58 builds a wallet from a base58-encoded secret key.
func FromBase58(secret string) (*Wallet, error) {
	key, err := solana.PrivateKeyFromBase58(secret)
	if err != nil {
		return nil, fmt.Errorf("invalid secret key: %w", err)
	}
	return FromPrivateKey(key)
}

// FromBytes builds a wallet from a raw 64-byte secret key.
func FromBytes(secret []byte) (*Wallet, error) {
	if len(secret) != 64 {
		return nil, fmt.Errorf("secret key must be 64 bytes, got %d", len(secret))
	}
	return FromPrivateKey(solana.PrivateKey(secret))
}

// FromPrivateKey wraps an existing key.
func FromPrivateKey(key solana.PrivateKey) (*Wallet, error) {
	if len(key) == 0 {
		return nil, fmt.Errorf("private key is empty")
	}
	return &Wallet{key: key}, nil
}

// Address returns the wallet's public key.
func (w *Wallet) Address() solana.PublicKey {
	return w.key.PublicKey()
}

// SignTransaction signs every slot of the transaction this wallet is a
// required signer for. Partial signing keeps aggregator-built
// transactions intact when they expect additional signers.
func (w *Wallet) SignTransaction(tx *solana.Transaction) error {
	_, err := tx.PartialSign(func(key solana.PublicKey) *solana.PrivateKey {
		if key.Equals(w.key.PublicKey()) {
			k := w.key
			return &k
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to sign transaction: %w", err)
	}
	return nil
}
