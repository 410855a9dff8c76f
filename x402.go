// Package x402 turns HTTP 402 Payment Required responses into settled
// payments. It parses the payment requirements from the 402 body, checks the
// wallet's balance for the required asset, swaps the funding asset through
// the MoltyDEX aggregator when the balance falls short, pays, and replays
// the original request with the proof of payment attached.
package x402

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/Djtrixuk/moltydex-x402-example/clients"
	"github.com/Djtrixuk/moltydex-x402-example/logger"
	"github.com/Djtrixuk/moltydex-x402-example/metrics"
	"github.com/Djtrixuk/moltydex-x402-example/moltydex"
	"github.com/Djtrixuk/moltydex-x402-example/types"
	"github.com/Djtrixuk/moltydex-x402-example/utils"
	"github.com/Djtrixuk/moltydex-x402-example/wallet"
)

// Handler orchestrates the pay-and-retry flow. Register one client per
// network, then hand 402 responses to HandlePaymentRequired or wrap an
// http.Client with HTTPClient for automatic handling.
//
// A single call runs one sequential flow with no internal parallelism and
// no persistence. Concurrent calls drawing on the same wallet are not
// coordinated.
type Handler struct {
	clients    map[types.Network]clients.Client
	order      []types.Network
	httpClient *http.Client
	config     *types.Config
	log        logger.Logger
	metrics    metrics.Recorder
	timeout    time.Duration
}

// New creates a Handler with the given configuration. A nil config uses
// the documented defaults.
func New(config *types.Config, opts ...Option) (*Handler, error) {
	if config == nil {
		config = &types.Config{}
	}
	if err := utils.ApplyDefaults(config); err != nil {
		return nil, err
	}
	if err := utils.ValidateStruct(config); err != nil {
		return nil, types.WrapError(types.ErrConfig, "invalid handler config", err)
	}

	h := &Handler{
		clients:    make(map[types.Network]clients.Client),
		httpClient: &http.Client{},
		config:     config,
		log:        logger.NoopLogger{},
		metrics:    metrics.NoopRecorder{},
		timeout:    config.DefaultTimeout,
	}
	if config.LogLevel != "" {
		h.log = logger.NewZapLogger(config.LogLevel)
	}
	if config.EnableMetrics {
		h.metrics = metrics.NewPrometheusRecorder()
	}

	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// NewWithDefaults creates a Handler with default configuration.
func NewWithDefaults() *Handler {
	h, _ := New(nil)
	return h
}

// AddNetwork creates and registers the payment client for a network.
// Solana networks need a wallet file and use the MoltyDEX aggregator for
// balances and swaps; EVM networks need a hex private key.
func (h *Handler) AddNetwork(network types.Network, cfg types.ClientConfig) error {
	cfg.Network = network
	if err := utils.ApplyDefaults(&cfg); err != nil {
		return err
	}
	if err := utils.ValidateStruct(&cfg); err != nil {
		return types.WrapError(types.ErrConfig, fmt.Sprintf("invalid client config for %s", network), err)
	}

	switch {
	case network.IsSolana():
		w, err := wallet.Load(cfg.WalletPath)
		if err != nil {
			return types.WrapError(types.ErrConfig, fmt.Sprintf("failed to load wallet for %s", network), err)
		}
		agg := moltydex.New(cfg.AggregatorURL,
			moltydex.WithTimeout(cfg.Timeout),
			moltydex.WithRetry(cfg.RetryCount, cfg.RetryWait),
			moltydex.WithLogger(h.log),
		)
		client, err := clients.NewSolanaClient(cfg, w, agg, h.log)
		if err != nil {
			return types.WrapError(types.ErrConfig, fmt.Sprintf("failed to create solana client for %s", network), err)
		}
		h.RegisterClient(client)
		return nil

	case network.IsEVM():
		client, err := clients.NewEVMClient(cfg, h.log)
		if err != nil {
			return types.WrapError(types.ErrConfig, fmt.Sprintf("failed to create evm client for %s", network), err)
		}
		h.RegisterClient(client)
		return nil

	default:
		return types.NewError(types.ErrUnsupportedNetwork, fmt.Sprintf("unsupported network: %s", network))
	}
}

// RegisterClient registers a payment client directly. Requirement selection
// follows registration order. Registering a second client for the same
// network replaces the first.
func (h *Handler) RegisterClient(c clients.Client) {
	n := c.Network()
	if _, ok := h.clients[n]; !ok {
		h.order = append(h.order, n)
	}
	h.clients[n] = c
}

// SupportedNetworks returns the registered networks in registration order.
func (h *Handler) SupportedNetworks() []types.Network {
	out := make([]types.Network, len(h.order))
	copy(out, h.order)
	return out
}

// IsNetworkSupported checks if a network has a registered client.
func (h *Handler) IsNetworkSupported(network types.Network) bool {
	_, ok := h.clients[network]
	return ok
}

// Close closes all client connections.
func (h *Handler) Close() {
	for _, c := range h.clients {
		c.Close()
	}
}

// HandlePaymentRequired reacts to a 402 response: parse the requirements,
// pick the first option a registered client supports, make the wallet
// sufficient (at most one swap), pay, and replay the original request with
// the proof headers attached.
//
// The returned response is the replayed request's response. When the replay
// still returns 402 after the configured extra retry, both the final
// response and a RETRY_EXHAUSTED error are returned so the caller can
// inspect either. Every network-bound step is bounded by the handler
// timeout and the caller's context; a timeout surfaces under the failing
// step's error code.
func (h *Handler) HandlePaymentRequired(ctx context.Context, resp *http.Response, spec *RequestSpec) (*http.Response, error) {
	if resp == nil || spec == nil {
		return nil, types.NewError(types.ErrMalformedRequirement, "nil response or request spec")
	}
	if resp.StatusCode != http.StatusPaymentRequired {
		return nil, types.NewError(types.ErrMalformedRequirement,
			fmt.Sprintf("expected status 402, got %d", resp.StatusCode))
	}

	body, err := drainBody(resp)
	if err != nil {
		return nil, types.WrapError(types.ErrMalformedRequirement, "failed to read 402 response body", err)
	}

	requirement, client, err := h.selectRequirement(body)
	if err != nil {
		h.count("payment_failed", "")
		return nil, err
	}
	network := client.Network()

	start := time.Now()
	defer func() {
		h.metrics.ObserveLatency("handle_payment_required", time.Since(start),
			map[string]string{"network": network.String()})
	}()

	h.log.Info("handling payment required", map[string]any{
		"network": network.String(),
		"asset":   requirement.Asset,
		"amount":  requirement.Amount,
		"pay_to":  requirement.PayTo,
		"url":     spec.URL,
	})

	if err := h.ensureFunds(ctx, client, requirement); err != nil {
		h.count("payment_failed", network.String())
		return nil, err
	}

	proof, err := h.pay(ctx, client, requirement)
	if err != nil {
		h.count("payment_failed", network.String())
		return nil, err
	}

	return h.replay(ctx, spec, proof)
}

// selectRequirement normalizes the offered options and picks the first one
// a registered client supports. Options that fail normalization are skipped
// unless none survive, in which case the first normalization error wins.
func (h *Handler) selectRequirement(body []byte) (*types.PaymentRequirement, clients.Client, error) {
	parsed, err := utils.ParsePaymentRequired(body)
	if err != nil {
		return nil, nil, err
	}

	var firstErr error
	sawValid := false
	for i := range parsed.Accepts {
		req, err := utils.NormalizeOption(&parsed.Accepts[i])
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		sawValid = true
		for _, n := range h.order {
			if c := h.clients[n]; c.Supports(req) {
				return req, c, nil
			}
		}
	}

	if !sawValid {
		if firstErr != nil {
			return nil, nil, firstErr
		}
		return nil, nil, types.NewError(types.ErrMalformedRequirement, "no payment options in 402 response")
	}
	return nil, nil, types.NewError(types.ErrUnsupportedNetwork,
		"no registered client supports any offered payment option")
}

// ensureFunds makes the wallet sufficient for the requirement. The balance
// is always queried fresh. On deficit exactly one swap runs, sized to the
// deficit, and the balance is re-checked once afterwards; a wallet still
// short after the swap fails the attempt rather than swapping again.
func (h *Handler) ensureFunds(ctx context.Context, client clients.Client, req *types.PaymentRequirement) error {
	snap, err := h.balance(ctx, client, req.Asset)
	if err != nil {
		return err
	}
	if snap.Covers(req.Amount) {
		h.log.Debug("balance sufficient", map[string]any{
			"asset":    req.Asset,
			"balance":  snap.Amount,
			"required": req.Amount,
		})
		return nil
	}

	swapper, ok := client.(clients.Swapper)
	if !ok {
		return types.NewError(types.ErrSwap,
			fmt.Sprintf("balance %d below required %d and the %s client cannot swap",
				snap.Amount, req.Amount, client.Network()))
	}
	funding := swapper.FundingAsset()
	if funding == req.Asset {
		return types.NewError(types.ErrSwap,
			fmt.Sprintf("balance %d below required %d and the funding asset is the required asset",
				snap.Amount, req.Amount))
	}

	deficit := snap.Deficit(req.Amount)
	h.log.Info("balance short, swapping", map[string]any{
		"asset":    req.Asset,
		"balance":  snap.Amount,
		"required": req.Amount,
		"deficit":  deficit,
		"funding":  funding,
	})

	sctx, cancel := h.stepCtx(ctx)
	defer cancel()
	result, err := swapper.Swap(sctx, &types.SwapRequest{
		InputAsset:  funding,
		OutputAsset: req.Asset,
		Amount:      deficit,
		Wallet:      client.WalletAddress(),
	})
	if err != nil {
		return types.EnsureCode(err, types.ErrSwap, "swap failed")
	}
	h.count("swap_executed", client.Network().String())

	snap, err = h.balance(ctx, client, req.Asset)
	if err != nil {
		return err
	}
	if !snap.Covers(req.Amount) {
		return types.NewError(types.ErrSwap,
			fmt.Sprintf("balance %d still below required %d after swap %s",
				snap.Amount, req.Amount, result.Signature))
	}
	return nil
}

func (h *Handler) balance(ctx context.Context, client clients.Client, asset string) (*types.BalanceSnapshot, error) {
	sctx, cancel := h.stepCtx(ctx)
	defer cancel()
	snap, err := client.Balance(sctx, asset)
	if err != nil {
		return nil, types.EnsureCode(err, types.ErrBalanceQuery, "balance query failed")
	}
	return snap, nil
}

func (h *Handler) pay(ctx context.Context, client clients.Client, req *types.PaymentRequirement) (*types.PaymentProof, error) {
	sctx, cancel := h.stepCtx(ctx)
	defer cancel()
	proof, err := client.Pay(sctx, req)
	if err != nil {
		return nil, types.EnsureCode(err, types.ErrPaymentSubmission, "payment failed")
	}
	h.count("payment_settled", client.Network().String())
	return proof, nil
}

// replay re-sends the original request with the proof headers attached.
// A replay that still returns 402 is retried after a delay at most
// config.PaymentRetries times; the superseded 402 is drained first and
// the final response is returned either way.
func (h *Handler) replay(ctx context.Context, spec *RequestSpec, proof *types.PaymentProof) (*http.Response, error) {
	attempts := h.config.PaymentRetries + 1
	var resp *http.Response
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			h.log.Warn("replayed request still requires payment, retrying", map[string]any{
				"url":     spec.URL,
				"attempt": attempt,
				"wait":    h.config.PaymentRetryWait.String(),
			})
			select {
			case <-ctx.Done():
				return resp, types.WrapError(types.ErrRetryExhausted, "cancelled while waiting to retry", ctx.Err())
			case <-time.After(h.config.PaymentRetryWait):
			}
		}

		req, err := spec.Request(ctx)
		if err != nil {
			return resp, types.WrapError(types.ErrRetryExhausted, "failed to rebuild original request", err)
		}
		for k, v := range proof.Headers {
			req.Header.Set(k, v)
		}

		discardBody(resp)
		resp, err = h.httpClient.Do(req)
		if err != nil {
			return nil, types.WrapError(types.ErrRetryExhausted, "replay request failed", err)
		}
		if resp.StatusCode != http.StatusPaymentRequired {
			return resp, nil
		}
	}
	return resp, types.NewError(types.ErrRetryExhausted,
		fmt.Sprintf("request still returned 402 after %d paid attempts", attempts))
}

func (h *Handler) stepCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, h.timeout)
}

func (h *Handler) count(event, network string) {
	h.metrics.IncCounter(event, map[string]string{"network": network})
}

// drainBody reads the full response body and replaces it so the caller can
// still read the original response.
func drainBody(resp *http.Response) ([]byte, error) {
	if resp.Body == nil {
		return nil, nil
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	return body, nil
}

// discardBody drains and closes a response body so the underlying
// connection can be reused.
func discardBody(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
