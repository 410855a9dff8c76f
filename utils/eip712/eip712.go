// Package eip712 implements the typed-data hashing needed to sign
// EIP-3009 TransferWithAuthorization payloads, the transfer primitive
// the x402 exact scheme uses on EVM networks.
package eip712

import (
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	// TRANSFER_WITH_AUTH_TYPE = "TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"
	transferAuthTypeHash = crypto.Keccak256Hash([]byte("TransferWithAuthorization(address from,address to,uint256 value,uint256 validAfter,uint256 validBefore,bytes32 nonce)"))

	// EIP712Domain type string - note ordering matters
	domainTypeHash = crypto.Keccak256Hash([]byte("EIP712Domain(string name,string version,uint256 chainId,address verifyingContract)"))
)

// Domain is the EIP-712 domain of the token contract being paid with.
type Domain struct {
	Name              string
	Version           string
	ChainID           *big.Int
	VerifyingContract common.Address
}

// TransferAuthorization carries the fields of an EIP-3009 authorization
// in their ABI types.
type TransferAuthorization struct {
	From        common.Address
	To          common.Address
	Value       *big.Int
	ValidAfter  *big.Int
	ValidBefore *big.Int
	Nonce       [32]byte
}

// DomainSeparator builds the domainSeparator hash per EIP-712:
// keccak256(abi.encode(domainTypeHash, keccak256(name), keccak256(version), chainId, verifyingContract))
func DomainSeparator(d Domain) (common.Hash, error) {
	if d.Name == "" || d.Version == "" || d.ChainID == nil {
		return common.Hash{}, errors.New("incomplete domain")
	}

	nameHash := crypto.Keccak256Hash([]byte(d.Name))
	versionHash := crypto.Keccak256Hash([]byte(d.Version))

	parts := [][]byte{
		domainTypeHash.Bytes(),
		nameHash.Bytes(),
		versionHash.Bytes(),
		padLeft32(d.ChainID),
		addressTo32(d.VerifyingContract),
	}
	return keccak256ABI(parts...), nil
}

// StructHash computes keccak256(abi.encode(TRANSFER_WITH_AUTH_TYPEHASH,
// from, to, value, validAfter, validBefore, nonce)).
func (a TransferAuthorization) StructHash() common.Hash {
	parts := [][]byte{
		transferAuthTypeHash.Bytes(),
		addressTo32(a.From),
		addressTo32(a.To),
		padLeft32(a.Value),
		padLeft32(a.ValidAfter),
		padLeft32(a.ValidBefore),
		a.Nonce[:], // already 32 bytes
	}
	return keccak256ABI(parts...)
}

// Digest returns the final EIP-712 hash to be signed:
//
//	keccak256("\x19\x01" || domainSeparator || structHash)
func Digest(d Domain, a TransferAuthorization) (common.Hash, error) {
	domainSep, err := DomainSeparator(d)
	if err != nil {
		return common.Hash{}, err
	}

	structHash := a.StructHash()

	prefix := []byte{0x19, 0x01}
	return crypto.Keccak256Hash(append(append(prefix, domainSep.Bytes()...), structHash.Bytes()...)), nil
}

// keccak256ABI hashes concatenated 32-byte words, matching abi.encode
// for the already-hashed or padded parts used in EIP-712 encodings.
func keccak256ABI(parts ...[]byte) common.Hash {
	joined := []byte{}
	for _, p := range parts {
		joined = append(joined, p...)
	}
	return crypto.Keccak256Hash(joined)
}

// padLeft32 returns a 32-byte right-aligned representation of the given big.Int
func padLeft32(i *big.Int) []byte {
	b := i.Bytes()
	if len(b) > 32 {
		b = b[len(b)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(b):], b)
	return out
}

// addressTo32 left-pads an address into 32 bytes
func addressTo32(a common.Address) []byte {
	out := make([]byte, 32)
	copy(out[12:], a.Bytes())
	return out
}
