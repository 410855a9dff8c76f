package clients

import (
	"context"

	x402types "github.com/Djtrixuk/moltydex-x402-example/types"
)

// Client executes payments on one network family. Implementations own
// the wallet handle and the chain endpoint; the orchestration only
// sequences the calls.
type Client interface {
	// Network this client pays on.
	Network() x402types.Network

	// WalletAddress is the paying wallet in the network's native encoding.
	WalletAddress() string

	// Supports reports whether this client can settle the requirement.
	Supports(req *x402types.PaymentRequirement) bool

	// Balance queries a fresh snapshot of the wallet's holdings of asset.
	Balance(ctx context.Context, asset string) (*x402types.BalanceSnapshot, error)

	// Pay builds, signs and submits the payment, returning proof the
	// replayed request can carry. Errors are typed per failing step:
	// build, signing or submission.
	Pay(ctx context.Context, req *x402types.PaymentRequirement) (*x402types.PaymentProof, error)

	// Close releases chain connections.
	Close()
}

// Swapper is implemented by clients that can convert the wallet's
// funding asset into the required one through an aggregator.
type Swapper interface {
	// FundingAsset is the asset sold to cover deficits.
	FundingAsset() string

	// Swap executes the request and waits for on-chain confirmation.
	Swap(ctx context.Context, req *x402types.SwapRequest) (*x402types.SwapResult, error)
}
