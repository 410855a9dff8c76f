package utils

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Djtrixuk/moltydex-x402-example/types"
)

// ValidateAddressForNetwork checks the shape of an address for the
// given network family. Unknown families are not judged here; the
// network client rejects them when it tries to pay.
func ValidateAddressForNetwork(address string, network types.Network) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	switch {
	case network.IsEVM():
		if !strings.HasPrefix(address, "0x") {
			return fmt.Errorf("EVM address must start with 0x")
		}
		if len(address) != 42 {
			return fmt.Errorf("EVM address must be 42 characters long")
		}
		if !isHexString(address[2:]) {
			return fmt.Errorf("EVM address must be valid hex")
		}

	case network.IsSolana():
		if len(address) < 32 || len(address) > 44 {
			return fmt.Errorf("Solana address has invalid length")
		}
		if !isBase58String(address) {
			return fmt.Errorf("Solana address must be valid base58")
		}
	}

	return nil
}

// FormatAmount renders an atomic amount in whole units for logs and
// display, e.g. FormatAmount(1500000, 6) == "1.5".
func FormatAmount(amount uint64, decimals int32) string {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(amount), -decimals).String()
}

func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return len(s) > 0
}

func isBase58String(s string) bool {
	// Base58 excludes 0, O, I and l.
	for _, c := range s {
		if !((c >= '1' && c <= '9') ||
			(c >= 'A' && c <= 'H') || (c >= 'J' && c <= 'N') || (c >= 'P' && c <= 'Z') ||
			(c >= 'a' && c <= 'k') || (c >= 'm' && c <= 'z')) {
			return false
		}
	}
	return len(s) > 0
}
