package clients

// Stable failure reasons embedded in step errors. Kept machine-readable
// so callers and tests can match on them without parsing prose.
const (
	// -----------------------------
	// BALANCE
	// -----------------------------
	ReasonBalanceUnavailable = "balance_unavailable"

	// -----------------------------
	// SWAP
	// -----------------------------
	ReasonQuoteFailed         = "swap_quote_failed"
	ReasonSwapBuildFailed     = "swap_build_failed"
	ReasonSwapDecodeFailed    = "swap_transaction_decode_failed"
	ReasonSwapSigningFailed   = "swap_signing_failed"
	ReasonSwapBroadcastFailed = "swap_broadcast_failed"
	ReasonSwapUnconfirmed     = "swap_confirmation_timed_out"
	ReasonSwapSameAsset       = "swap_funding_asset_equals_output"
	ReasonSwapAmountZero      = "swap_amount_zero"

	// -----------------------------
	// PAYMENT BUILD
	// -----------------------------
	ReasonInvalidDestination = "invalid_destination_address"
	ReasonInvalidAsset       = "invalid_asset_address"
	ReasonBlockhashFailed    = "recent_blockhash_unavailable"
	ReasonATADeriveFailed    = "associated_token_account_derive_failed"
	ReasonATALookupFailed    = "associated_token_account_lookup_failed"
	ReasonInstructionFailed  = "instruction_build_failed"
	ReasonNonceFailed        = "authorization_nonce_failed"
	ReasonDigestFailed       = "authorization_digest_failed"

	// -----------------------------
	// SUBMISSION
	// -----------------------------
	ReasonBroadcastFailed      = "payment_broadcast_failed"
	ReasonConfirmationTimedOut = "payment_confirmation_timed_out"
	ReasonTransactionReverted  = "payment_transaction_reverted"
)
