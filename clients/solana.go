package clients

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	ata "github.com/gagliardetto/solana-go/programs/associated-token-account"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/Djtrixuk/moltydex-x402-example/logger"
	"github.com/Djtrixuk/moltydex-x402-example/moltydex"
	x402types "github.com/Djtrixuk/moltydex-x402-example/types"
	"github.com/Djtrixuk/moltydex-x402-example/utils"
	"github.com/Djtrixuk/moltydex-x402-example/wallet"
)

// solDecimals is the decimal count of native SOL.
const solDecimals = 9

// errReverted marks a transaction the cluster executed but rejected, as
// opposed to one that never confirmed.
var errReverted = errors.New("transaction reverted on chain")

// SolanaClient settles payment requirements on a Solana cluster. Payments
// are native SOL or SPL token transfers signed by the local wallet, and the
// funding asset can be swapped into the required asset through the MoltyDEX
// aggregator, so the client doubles as the Swapper for Solana networks.
type SolanaClient struct {
	network        x402types.Network
	client         *rpc.Client
	wallet         *wallet.Wallet
	agg            *moltydex.Client
	fundingMint    string
	slippageBps    int
	confirmRetries int
	confirmWait    time.Duration
	log            logger.Logger
}

var _ Client = (*SolanaClient)(nil)
var _ Swapper = (*SolanaClient)(nil)

// NewSolanaClient connects to the configured RPC endpoint. The wallet signs
// every transaction and the aggregator client serves balance queries, quotes
// and swap transaction building.
func NewSolanaClient(cfg x402types.ClientConfig, w *wallet.Wallet, agg *moltydex.Client, log logger.Logger) (*SolanaClient, error) {
	if !cfg.Network.IsSolana() {
		return nil, fmt.Errorf("network %s is not a solana network", cfg.Network)
	}
	if w == nil {
		return nil, fmt.Errorf("solana client requires a wallet")
	}
	if agg == nil {
		return nil, fmt.Errorf("solana client requires an aggregator client")
	}
	if log == nil {
		log = logger.NoopLogger{}
	}

	fundingMint := cfg.FundingMint
	if fundingMint == "" {
		fundingMint = x402types.SolMint
	}
	if _, err := solana.PublicKeyFromBase58(fundingMint); err != nil {
		return nil, fmt.Errorf("invalid funding mint %q: %w", fundingMint, err)
	}

	return &SolanaClient{
		network:        cfg.Network,
		client:         rpc.New(cfg.RPCUrl),
		wallet:         w,
		agg:            agg,
		fundingMint:    fundingMint,
		slippageBps:    cfg.SlippageBps,
		confirmRetries: cfg.ConfirmRetries,
		confirmWait:    cfg.ConfirmWait,
		log:            log,
	}, nil
}

func (c *SolanaClient) Network() x402types.Network {
	return c.network
}

func (c *SolanaClient) WalletAddress() string {
	return c.wallet.Address().String()
}

// Supports accepts requirements for this client's network under the exact
// scheme or the legacy flat-body solana scheme.
func (c *SolanaClient) Supports(req *x402types.PaymentRequirement) bool {
	if req == nil || req.Network != c.network {
		return false
	}
	return req.Scheme == x402types.SchemeExact || req.Scheme == x402types.SchemeSolana
}

// Balance reads the wallet's balance for the given mint from the aggregator.
func (c *SolanaClient) Balance(ctx context.Context, asset string) (*x402types.BalanceSnapshot, error) {
	amount, err := c.agg.TokenBalance(ctx, c.WalletAddress(), asset)
	if err != nil {
		return nil, c.stepError(x402types.ErrBalanceQuery, ReasonBalanceUnavailable, err)
	}

	return &x402types.BalanceSnapshot{
		Wallet:    c.WalletAddress(),
		Asset:     asset,
		Amount:    amount,
		Network:   c.network,
		QueriedAt: time.Now().UTC(),
	}, nil
}

// FundingAsset returns the mint that swaps draw from.
func (c *SolanaClient) FundingAsset() string {
	return c.fundingMint
}

// Swap converts the funding asset into the required asset through the
// aggregator. The aggregator builds the transaction, the local wallet signs
// it and the client broadcasts it and waits for confirmation.
func (c *SolanaClient) Swap(ctx context.Context, req *x402types.SwapRequest) (*x402types.SwapResult, error) {
	if req.Amount == 0 {
		return nil, c.stepError(x402types.ErrSwap, ReasonSwapAmountZero, nil)
	}
	if req.InputAsset == req.OutputAsset {
		return nil, c.stepError(x402types.ErrSwap, ReasonSwapSameAsset, nil)
	}

	slippage := req.SlippageBps
	if slippage == 0 {
		slippage = c.slippageBps
	}

	quote, err := c.agg.Quote(ctx, req.InputAsset, req.OutputAsset, req.Amount, slippage)
	if err != nil {
		return nil, c.stepError(x402types.ErrSwap, ReasonQuoteFailed, err)
	}

	buildReq := *req
	buildReq.SlippageBps = slippage
	raw, err := c.agg.BuildSwap(ctx, &buildReq)
	if err != nil {
		return nil, c.stepError(x402types.ErrSwap, ReasonSwapBuildFailed, err)
	}

	tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(raw))
	if err != nil {
		return nil, c.stepError(x402types.ErrSwap, ReasonSwapDecodeFailed, err)
	}

	if err := c.wallet.SignTransaction(tx); err != nil {
		return nil, c.stepError(x402types.ErrSwap, ReasonSwapSigningFailed, err)
	}

	sig, err := c.broadcast(ctx, tx)
	if err != nil {
		return nil, c.stepError(x402types.ErrSwap, ReasonSwapBroadcastFailed, err)
	}

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		reason := ReasonSwapUnconfirmed
		if errors.Is(err, errReverted) {
			reason = ReasonTransactionReverted
		}
		return nil, c.stepError(x402types.ErrSwap, reason, err)
	}

	result := &x402types.SwapResult{
		Signature:    sig.String(),
		InputAmount:  quote.InputAmount.Uint64(),
		OutputAmount: quote.OutputAmount.Uint64(),
	}

	c.log.Info("swap confirmed", map[string]any{
		"network":       c.network.String(),
		"signature":     result.Signature,
		"input_mint":    req.InputAsset,
		"output_mint":   req.OutputAsset,
		"input_amount":  result.InputAmount,
		"output_amount": result.OutputAmount,
	})
	return result, nil
}

// Pay builds a transfer for the requirement, signs it with the local wallet,
// broadcasts it and waits for confirmation. The returned proof carries the
// transaction signature in the payment headers.
func (c *SolanaClient) Pay(ctx context.Context, req *x402types.PaymentRequirement) (*x402types.PaymentProof, error) {
	tx, err := c.buildPayment(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := c.wallet.SignTransaction(tx); err != nil {
		return nil, c.stepError(x402types.ErrSigning, "failed to sign payment transaction", err)
	}

	sig, err := c.broadcast(ctx, tx)
	if err != nil {
		return nil, c.stepError(x402types.ErrPaymentSubmission, ReasonBroadcastFailed, err)
	}

	if err := c.awaitConfirmation(ctx, sig); err != nil {
		reason := ReasonConfirmationTimedOut
		if errors.Is(err, errReverted) {
			reason = ReasonTransactionReverted
		}
		return nil, c.stepError(x402types.ErrPaymentSubmission, reason, err)
	}

	c.log.Info("payment confirmed", map[string]any{
		"network":   c.network.String(),
		"signature": sig.String(),
		"asset":     req.Asset,
		"amount":    req.Amount,
		"pay_to":    req.PayTo,
	})

	return &x402types.PaymentProof{
		Network:   c.network,
		Reference: sig.String(),
		Headers: map[string]string{
			x402types.HeaderPayment:       sig.String(),
			x402types.HeaderPaymentAmount: strconv.FormatUint(req.Amount, 10),
			x402types.HeaderPaymentToken:  req.Asset,
		},
	}, nil
}

func (c *SolanaClient) Close() {
	_ = c.client.Close()
}

// broadcast serializes the signed transaction and submits the base64
// blob the RPC node expects.
func (c *SolanaClient) broadcast(ctx context.Context, tx *solana.Transaction) (solana.Signature, error) {
	raw, err := tx.MarshalBinary()
	if err != nil {
		return solana.Signature{}, err
	}
	signed := x402types.SignedTransaction(raw)
	return c.client.SendEncodedTransaction(ctx, signed.Base64())
}

// buildPayment assembles the unsigned transfer. Native SOL uses a system
// transfer. SPL tokens move between associated token accounts and the
// recipient's account is created first when it does not exist yet.
func (c *SolanaClient) buildPayment(ctx context.Context, req *x402types.PaymentRequirement) (*solana.Transaction, error) {
	payTo, err := solana.PublicKeyFromBase58(req.PayTo)
	if err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, ReasonInvalidDestination, err)
	}

	owner := c.wallet.Address()

	blockhash, err := c.client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, ReasonBlockhashFailed, err)
	}

	var instrs []solana.Instruction
	if req.Asset == x402types.SolMint {
		c.log.Debug("building native transfer", map[string]any{
			"amount":     req.Amount,
			"amount_sol": utils.FormatAmount(req.Amount, solDecimals),
			"pay_to":     req.PayTo,
		})
		instrs = append(instrs, system.NewTransferInstruction(req.Amount, owner, payTo).Build())
	} else {
		mint, err := solana.PublicKeyFromBase58(req.Asset)
		if err != nil {
			return nil, c.stepError(x402types.ErrTransactionBuild, ReasonInvalidAsset, err)
		}

		srcAccount, _, err := solana.FindAssociatedTokenAddress(owner, mint)
		if err != nil {
			return nil, c.stepError(x402types.ErrTransactionBuild, ReasonATADeriveFailed, err)
		}
		dstAccount, _, err := solana.FindAssociatedTokenAddress(payTo, mint)
		if err != nil {
			return nil, c.stepError(x402types.ErrTransactionBuild, ReasonATADeriveFailed, err)
		}

		exists, err := c.accountExists(ctx, dstAccount)
		if err != nil {
			return nil, c.stepError(x402types.ErrTransactionBuild, ReasonATALookupFailed, err)
		}
		if !exists {
			instrs = append(instrs, ata.NewCreateInstruction(owner, payTo, mint).Build())
		}

		instrs = append(instrs, token.NewTransferInstruction(req.Amount, srcAccount, dstAccount, owner, nil).Build())
	}

	tx, err := solana.NewTransaction(instrs, blockhash.Value.Blockhash, solana.TransactionPayer(owner))
	if err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, ReasonInstructionFailed, err)
	}
	return tx, nil
}

func (c *SolanaClient) accountExists(ctx context.Context, account solana.PublicKey) (bool, error) {
	out, err := c.client.GetAccountInfo(ctx, account)
	if err != nil {
		if errors.Is(err, rpc.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return out != nil && out.Value != nil, nil
}

// awaitConfirmation polls signature statuses until the transaction reaches
// confirmed or finalized commitment, the retry allowance runs out, or the
// context is cancelled.
func (c *SolanaClient) awaitConfirmation(ctx context.Context, sig solana.Signature) error {
	for i := 0; i < c.confirmRetries; i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(c.confirmWait):
		}

		status, err := c.client.GetSignatureStatuses(ctx, false, sig)
		if err != nil || len(status.Value) == 0 || status.Value[0] == nil {
			continue
		}

		st := status.Value[0]
		if st.Err != nil {
			return fmt.Errorf("%w: %v", errReverted, st.Err)
		}
		if st.ConfirmationStatus == rpc.ConfirmationStatusConfirmed ||
			st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
			return nil
		}
	}
	return fmt.Errorf("transaction %s not confirmed after %d attempts", sig, c.confirmRetries)
}

func (c *SolanaClient) stepError(code, message string, err error) *x402types.Error {
	e := x402types.WrapError(code, message, err)
	e.Network = c.network
	return e
}
