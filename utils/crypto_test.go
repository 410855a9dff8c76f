package utils

import (
	"encoding/hex"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestPrivateKeyFromHex(t *testing.T) {
	key, err := PrivateKeyFromHex(testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, "0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266", AddressFromPrivateKey(key).Hex())

	prefixed, err := PrivateKeyFromHex("0x" + testKeyHex)
	require.NoError(t, err)
	assert.Equal(t, AddressFromPrivateKey(key), AddressFromPrivateKey(prefixed))

	_, err = PrivateKeyFromHex("not-a-key")
	require.Error(t, err)
}

func TestSignDigest_RoundTrip(t *testing.T) {
	key, err := PrivateKeyFromHex(testKeyHex)
	require.NoError(t, err)

	digest := crypto.Keccak256([]byte("payment authorization"))
	sig, err := SignDigest(digest, key)
	require.NoError(t, err)
	require.Len(t, sig, 65)
	assert.True(t, sig[64] == 27 || sig[64] == 28)

	recovered, err := RecoverAddress(digest, "0x"+hex.EncodeToString(sig))
	require.NoError(t, err)
	assert.Equal(t, AddressFromPrivateKey(key), recovered)
}

func TestSignDigest_RejectsBadDigest(t *testing.T) {
	key, err := PrivateKeyFromHex(testKeyHex)
	require.NoError(t, err)

	_, err = SignDigest([]byte("short"), key)
	require.Error(t, err)
}

func TestRecoverAddress_RejectsBadSignature(t *testing.T) {
	digest := crypto.Keccak256([]byte("payment authorization"))

	_, err := RecoverAddress(digest, "0x1234")
	require.Error(t, err)

	_, err = RecoverAddress(digest, "zz")
	require.Error(t, err)
}
