package types

// PaymentPayload is the envelope carried in the X-Payment header for
// x402 exact-scheme payments, JSON-encoded then base64-encoded. On EVM
// networks the payload is a signed EIP-3009 authorization which the
// resource server's facilitator settles on-chain; the buyer submits
// nothing itself.
type PaymentPayload struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	Scheme string `json:"scheme"`

	Network string `json:"network"`

	Payload *EIP3009Payload `json:"payload"`
}

type EIP3009Payload struct {
	// The 65-byte ECDSA signature (r,s,v) over the EIP-712 digest, hex encoded.
	Signature string `json:"signature"`

	Authorization EIP3009Authorization `json:"authorization"`
}

type EIP3009Authorization struct {
	From        string `json:"from"`
	To          string `json:"to"`
	Value       string `json:"value"`       // uint256
	ValidAfter  string `json:"validAfter"`  // uint256 timestamp
	ValidBefore string `json:"validBefore"` // uint256 timestamp
	Nonce       string `json:"nonce"`       // bytes32, hex encoded
}
