package types

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// Payment schemes seen in 402 responses. MoltyDEX deployments use the
// chain name as the scheme, the x402 spec uses "exact".
const (
	SchemeExact  = "exact"
	SchemeSolana = "solana"
)

// Proof-of-payment headers attached to the replayed request.
const (
	HeaderPayment       = "X-Payment"
	HeaderPaymentAmount = "X-Payment-Amount"
	HeaderPaymentToken  = "X-Payment-Token"
)

var atomicAmountPattern = regexp.MustCompile(`^[0-9]+$`)

// AtomicAmount is an integer amount in the asset's smallest unit.
// Servers encode it either as a JSON number or as a decimal string,
// so both are accepted; negative and fractional values are rejected.
type AtomicAmount uint64

func (a *AtomicAmount) UnmarshalJSON(data []byte) error {
	s := strings.TrimSpace(string(data))
	if s == "null" {
		return nil
	}
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	if s == "" {
		return nil
	}
	if !atomicAmountPattern.MatchString(s) {
		return fmt.Errorf("amount %q is not a non-negative integer", s)
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid amount %q: %w", s, err)
	}
	*a = AtomicAmount(v)
	return nil
}

// MarshalJSON encodes the amount as a string, matching the x402
// convention for maxAmountRequired.
func (a AtomicAmount) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(a), 10))
}

func (a AtomicAmount) Uint64() uint64 { return uint64(a) }

func (a AtomicAmount) String() string { return strconv.FormatUint(uint64(a), 10) }

// PaymentOption is one entry of a 402 response's accepts list, kept
// close to the wire. Field names differ between MoltyDEX deployments
// (token/amount/destination) and the x402 spec
// (asset/maxAmountRequired/payTo); both sets are mapped here and
// reconciled during normalization.
type PaymentOption struct {
	Scheme  string `json:"scheme,omitempty"`
	Network string `json:"network,omitempty"`

	Asset string `json:"asset,omitempty"`
	Token string `json:"token,omitempty"`

	Amount            *AtomicAmount `json:"amount,omitempty"`
	MaxAmountRequired *AtomicAmount `json:"maxAmountRequired,omitempty"`

	PayTo       string `json:"payTo,omitempty"`
	Destination string `json:"destination,omitempty"`

	Resource          string                 `json:"resource,omitempty"`
	Description       string                 `json:"description,omitempty"`
	MimeType          string                 `json:"mimeType,omitempty"`
	MaxTimeoutSeconds int                    `json:"maxTimeoutSeconds,omitempty"`
	Extra             map[string]interface{} `json:"extra,omitempty"`
}

// PaymentRequiredResponse is the body of a 402 response.
type PaymentRequiredResponse struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version,omitempty"`

	// List of payment options the resource server accepts.
	Accepts []PaymentOption `json:"accepts,omitempty"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error,omitempty"`
}

// PaymentRequirement is the normalized form of a payment option.
// Immutable once parsed; the orchestration passes it through the
// sequential steps unchanged.
type PaymentRequirement struct {
	// Scheme of the payment protocol (e.g. "exact", "solana").
	Scheme string `json:"scheme" validate:"required"`

	// Network of the blockchain to send payment on.
	Network Network `json:"network" validate:"required"`

	// Asset to pay with: SPL token mint or ERC-20 contract address.
	Asset string `json:"asset" validate:"required"`

	// Amount required in atomic units of the asset.
	Amount uint64 `json:"amount" validate:"gt=0"`

	// Address the payment must be sent to.
	PayTo string `json:"payTo" validate:"required"`

	// Maximum time in seconds the server allows for payment.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds,omitempty"`

	// URL of the resource being paid for.
	Resource string `json:"resource,omitempty"`

	// Scheme-specific metadata. For the exact scheme on EVM this
	// carries the EIP-712 domain name and version of the token.
	Extra map[string]string `json:"extra,omitempty"`
}

// Validate checks that the requirement carries every field a payment needs.
func (r *PaymentRequirement) Validate() error {
	if r.Scheme == "" {
		return fmt.Errorf("paymentRequirement.scheme is required")
	}

	if r.Network == "" {
		return fmt.Errorf("paymentRequirement.network is required")
	}

	if r.Asset == "" {
		return fmt.Errorf("paymentRequirement.asset is required")
	}

	if r.Amount == 0 {
		return fmt.Errorf("paymentRequirement.amount must be greater than 0")
	}

	if r.PayTo == "" {
		return fmt.Errorf("paymentRequirement.payTo is required")
	}

	return nil
}

// ExtraString returns a string value from Extra, or fallback when absent.
func (r *PaymentRequirement) ExtraString(key, fallback string) string {
	if v, ok := r.Extra[key]; ok && v != "" {
		return v
	}
	return fallback
}

// BalanceSnapshot is a point-in-time view of the wallet's holdings of
// one asset. Queried fresh on every payment attempt, never cached.
type BalanceSnapshot struct {
	Wallet    string    `json:"wallet"`
	Asset     string    `json:"asset"`
	Amount    uint64    `json:"amount"`
	Network   Network   `json:"network,omitempty"`
	QueriedAt time.Time `json:"queriedAt"`
}

// Covers reports whether the snapshot satisfies the required amount.
func (b *BalanceSnapshot) Covers(amount uint64) bool {
	return b.Amount >= amount
}

// Deficit returns how much is missing against the required amount.
func (b *BalanceSnapshot) Deficit(amount uint64) uint64 {
	if b.Amount >= amount {
		return 0
	}
	return amount - b.Amount
}

// SwapRequest asks the aggregator to convert funds into the required
// asset. Amount is denominated in the output asset: the deficit the
// wallet must cover before it can pay.
type SwapRequest struct {
	InputAsset  string `json:"inputAsset" validate:"required"`
	OutputAsset string `json:"outputAsset" validate:"required"`
	Amount      uint64 `json:"amount" validate:"gt=0"`
	Wallet      string `json:"wallet" validate:"required"`
	SlippageBps int    `json:"slippageBps,omitempty" validate:"min=0,max=10000"`
}

// SwapResult reports a confirmed swap.
type SwapResult struct {
	Signature    string `json:"signature"`
	InputAmount  uint64 `json:"inputAmount,omitempty"`
	OutputAmount uint64 `json:"outputAmount,omitempty"`
}

// SignedTransaction is an opaque signed transaction blob, held only for
// the duration of submission.
type SignedTransaction []byte

// Base64 returns the standard-base64 encoding used on the wire.
func (t SignedTransaction) Base64() string {
	return base64.StdEncoding.EncodeToString(t)
}

// PaymentProof is the artifact proving a required payment completed.
// Headers holds exactly what the replayed request must carry.
type PaymentProof struct {
	Network   Network           `json:"network"`
	Reference string            `json:"reference"`
	Headers   map[string]string `json:"headers"`
}

// ClientConfig contains configuration for one network client.
type ClientConfig struct {
	Network Network `json:"network" validate:"required"`

	// RPCUrl is the chain RPC endpoint payments are submitted to.
	RPCUrl string `json:"rpcUrl" validate:"required"`

	// AggregatorURL is the MoltyDEX API base used for balance queries
	// and swaps on Solana networks.
	AggregatorURL string `json:"aggregatorUrl,omitempty" default:"https://api.moltydex.com"`

	// WalletPath points at the Solana wallet file.
	WalletPath string `json:"walletPath,omitempty"`

	// PrivateKeyHex is the EVM signing key.
	PrivateKeyHex string `json:"privateKeyHex,omitempty"`

	// ChainID overrides the RPC-reported chain id on EVM networks.
	ChainID int64 `json:"chainId,omitempty"`

	// FundingMint is the asset sold when a swap is needed.
	FundingMint string `json:"fundingMint,omitempty" default:"So11111111111111111111111111111111111111112"`

	SlippageBps int `json:"slippageBps,omitempty" default:"50" validate:"min=0,max=10000"`

	Timeout    time.Duration `json:"timeout,omitempty" default:"30s"`
	RetryCount int           `json:"retryCount,omitempty" default:"2" validate:"min=0,max=10"`
	RetryWait  time.Duration `json:"retryWait,omitempty" default:"500ms"`

	// Confirmation polling after submitting a transaction.
	ConfirmRetries int           `json:"confirmRetries,omitempty" default:"20" validate:"min=1,max=120"`
	ConfirmWait    time.Duration `json:"confirmWait,omitempty" default:"3s"`
}

// Config contains global configuration for the payment handler.
type Config struct {
	// DefaultTimeout bounds each network-bound step of the
	// orchestration unless the caller's context is tighter.
	DefaultTimeout time.Duration `json:"defaultTimeout,omitempty" default:"30s"`

	// PaymentRetries is how many extra wait-and-retry cycles are
	// allowed when the replayed request still returns 402.
	PaymentRetries   int           `json:"paymentRetries,omitempty" default:"1" validate:"min=0,max=5"`
	PaymentRetryWait time.Duration `json:"paymentRetryWait,omitempty" default:"2s"`

	// LogLevel turns on zap logging at the given level (debug, info,
	// warn, error). Empty keeps the handler silent unless a logger is
	// injected.
	LogLevel      string `json:"logLevel,omitempty"`
	EnableMetrics bool   `json:"enableMetrics,omitempty"`
}

// Error is the error type surfaced by every step of the orchestration.
// Code identifies the step that failed so callers can decide whether
// re-invoking the whole orchestration makes sense.
type Error struct {
	Code    string  `json:"code"`
	Message string  `json:"message"`
	Network Network `json:"network,omitempty"`
	Err     error   `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// NewError creates a typed error for the given step code.
func NewError(code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError creates a typed error around a lower-level cause.
func WrapError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// ErrorCode extracts the step code from err, or "" when err is not typed.
func ErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsCode reports whether err carries the given step code.
func IsCode(err error, code string) bool {
	return ErrorCode(err) == code
}

// EnsureCode returns err unchanged when it already carries a step code,
// otherwise wraps it with the given one. No step surfaces an untyped
// failure.
func EnsureCode(err error, code, message string) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return WrapError(code, message, err)
}

// Step error codes, one per orchestration step.
const (
	ErrMalformedRequirement = "MALFORMED_PAYMENT_REQUIREMENT"
	ErrUnsupportedNetwork   = "UNSUPPORTED_NETWORK"
	ErrBalanceQuery         = "BALANCE_QUERY_FAILED"
	ErrSwap                 = "SWAP_FAILED"
	ErrTransactionBuild     = "TRANSACTION_BUILD_FAILED"
	ErrSigning              = "SIGNING_FAILED"
	ErrPaymentSubmission    = "PAYMENT_SUBMISSION_FAILED"
	ErrRetryExhausted       = "RETRY_EXHAUSTED"
	ErrConfig               = "CONFIG_ERROR"
)
