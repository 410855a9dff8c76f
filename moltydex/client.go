// Package moltydex is a client for the MoltyDEX aggregator REST API:
// wallet balances, swap quotes and executable swap transactions.
package moltydex

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/Djtrixuk/moltydex-x402-example/logger"
	"github.com/Djtrixuk/moltydex-x402-example/types"
)

// DefaultBaseURL is the production MoltyDEX API.
const DefaultBaseURL = "https://api.moltydex.com"

// Client talks to the aggregator. Transient failures (transport errors
// and 5xx responses) are retried at the client level with a short
// backoff; callers see only the final outcome.
type Client struct {
	rc  *resty.Client
	log logger.Logger
}

type Option func(*Client)

func WithTimeout(t time.Duration) Option {
	return func(c *Client) {
		c.rc.SetTimeout(t)
	}
}

// WithRetry bounds how often a failed call is reattempted.
func WithRetry(count int, wait time.Duration) Option {
	return func(c *Client) {
		c.rc.SetRetryCount(count)
		c.rc.SetRetryWaitTime(wait)
		c.rc.SetRetryMaxWaitTime(4 * wait)
	}
}

func WithLogger(l logger.Logger) Option {
	return func(c *Client) {
		c.log = l
	}
}

// New creates an aggregator client for the given API base URL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Accept", "application/json").
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		})

	c := &Client{
		rc:  rc,
		log: logger.NoopLogger{},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// BaseURL returns the configured API base.
func (c *Client) BaseURL() string {
	return c.rc.BaseURL
}

type balanceResponse struct {
	Balance types.AtomicAmount `json:"balance"`
}

// TokenBalance returns the wallet's balance of the given mint in atomic
// units.
func (c *Client) TokenBalance(ctx context.Context, wallet, mint string) (uint64, error) {
	var out balanceResponse

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"wallet_address": wallet,
			"token_mint":     mint,
		}).
		SetResult(&out).
		Get("/api/balance")
	if err != nil {
		return 0, fmt.Errorf("balance request failed: %w", err)
	}

	if !resp.IsSuccess() {
		return 0, fmt.Errorf("balance request returned %s: %s", resp.Status(), trimBody(resp.Body()))
	}

	c.log.Debug("fetched token balance", map[string]any{
		"wallet":  wallet,
		"mint":    mint,
		"balance": out.Balance.Uint64(),
	})

	return out.Balance.Uint64(), nil
}

// Quote is the aggregator's answer for a prospective swap.
type Quote struct {
	InputMint    string              `json:"input_mint"`
	OutputMint   string              `json:"output_mint"`
	InputAmount  types.AtomicAmount  `json:"input_amount"`
	OutputAmount *types.AtomicAmount `json:"output_amount"`
	Route        string              `json:"route,omitempty"`
}

// Quote asks the aggregator how a swap into amount units of outputMint
// would execute. A response without an output amount means no route has
// liquidity.
func (c *Client) Quote(ctx context.Context, inputMint, outputMint string, amount uint64, slippageBps int) (*Quote, error) {
	var out Quote

	resp, err := c.rc.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"input_mint":   inputMint,
			"output_mint":  outputMint,
			"amount":       strconv.FormatUint(amount, 10),
			"slippage_bps": strconv.Itoa(slippageBps),
		}).
		SetResult(&out).
		Get("/api/quote")
	if err != nil {
		return nil, fmt.Errorf("quote request failed: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("quote request returned %s: %s", resp.Status(), trimBody(resp.Body()))
	}

	if out.OutputAmount == nil {
		return nil, fmt.Errorf("quote carries no output amount; no route with liquidity for %s -> %s", inputMint, outputMint)
	}

	c.log.Debug("fetched swap quote", map[string]any{
		"input_mint":    inputMint,
		"output_mint":   outputMint,
		"amount":        amount,
		"output_amount": out.OutputAmount.Uint64(),
	})

	return &out, nil
}

type buildSwapRequest struct {
	WalletAddress string `json:"wallet_address"`
	InputMint     string `json:"input_mint"`
	OutputMint    string `json:"output_mint"`
	Amount        uint64 `json:"amount"`
	SlippageBps   int    `json:"slippage_bps"`
}

type buildSwapResponse struct {
	Transaction string `json:"transaction"`
	Error       string `json:"error,omitempty"`
}

// BuildSwap asks the aggregator for an executable swap transaction. The
// returned bytes are an unsigned Solana transaction the wallet must
// sign before submission.
func (c *Client) BuildSwap(ctx context.Context, req *types.SwapRequest) ([]byte, error) {
	var out buildSwapResponse

	resp, err := c.rc.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(buildSwapRequest{
			WalletAddress: req.Wallet,
			InputMint:     req.InputAsset,
			OutputMint:    req.OutputAsset,
			Amount:        req.Amount,
			SlippageBps:   req.SlippageBps,
		}).
		SetResult(&out).
		Post("/api/swap/build")
	if err != nil {
		return nil, fmt.Errorf("swap build request failed: %w", err)
	}

	if !resp.IsSuccess() {
		return nil, fmt.Errorf("swap build returned %s: %s", resp.Status(), trimBody(resp.Body()))
	}

	if out.Transaction == "" {
		if out.Error != "" {
			return nil, fmt.Errorf("swap build rejected: %s", out.Error)
		}
		return nil, fmt.Errorf("swap build response carries no transaction")
	}

	raw, err := base64.StdEncoding.DecodeString(out.Transaction)
	if err != nil {
		return nil, fmt.Errorf("swap transaction is not valid base64: %w", err)
	}

	return raw, nil
}

func trimBody(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 256 {
		s = s[:256] + "..."
	}
	return s
}
