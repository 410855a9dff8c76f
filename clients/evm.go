package clients

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"strconv"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/Djtrixuk/moltydex-x402-example/logger"
	x402types "github.com/Djtrixuk/moltydex-x402-example/types"
	"github.com/Djtrixuk/moltydex-x402-example/utils"
	"github.com/Djtrixuk/moltydex-x402-example/utils/eip712"
)

const erc20ABI = `[{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]}]`

// defaultAuthWindow bounds authorization validity when the requirement does
// not carry a timeout.
const defaultAuthWindow = 600 * time.Second

// EVMClient settles payment requirements on EVM networks with EIP-3009
// transfer authorizations. It never broadcasts a transaction itself: Pay
// produces a signed authorization the resource server's facilitator settles
// on chain.
type EVMClient struct {
	network    x402types.Network
	client     *ethclient.Client
	chainID    *big.Int
	key        *ecdsa.PrivateKey
	address    common.Address
	tokenABI   abi.ABI
	retryCount int
	retryWait  time.Duration
	log        logger.Logger
}

var _ Client = (*EVMClient)(nil)

// NewEVMClient connects to the configured RPC endpoint and resolves the
// chain id from the config, the known network table, or the node itself.
func NewEVMClient(cfg x402types.ClientConfig, log logger.Logger) (*EVMClient, error) {
	if !cfg.Network.IsEVM() {
		return nil, fmt.Errorf("network %s is not an evm network", cfg.Network)
	}
	if cfg.PrivateKeyHex == "" {
		return nil, fmt.Errorf("evm client requires a private key")
	}
	if log == nil {
		log = logger.NoopLogger{}
	}

	key, err := utils.PrivateKeyFromHex(cfg.PrivateKeyHex)
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}

	client, err := ethclient.Dial(cfg.RPCUrl)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s RPC: %w", cfg.Network, err)
	}

	chainID := big.NewInt(cfg.ChainID)
	if cfg.ChainID == 0 {
		if known, ok := x402types.KnownChainID(cfg.Network); ok {
			chainID = big.NewInt(known)
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
			defer cancel()
			chainID, err = client.ChainID(ctx)
			if err != nil {
				client.Close()
				return nil, fmt.Errorf("failed to resolve chain id: %w", err)
			}
		}
	}

	tokenABI, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to parse erc20 abi: %w", err)
	}

	return &EVMClient{
		network:    cfg.Network,
		client:     client,
		chainID:    chainID,
		key:        key,
		address:    utils.AddressFromPrivateKey(key),
		tokenABI:   tokenABI,
		retryCount: cfg.RetryCount,
		retryWait:  cfg.RetryWait,
		log:        log,
	}, nil
}

func (c *EVMClient) Network() x402types.Network {
	return c.network
}

func (c *EVMClient) WalletAddress() string {
	return c.address.Hex()
}

func (c *EVMClient) Supports(req *x402types.PaymentRequirement) bool {
	return req != nil && req.Network == c.network && req.Scheme == x402types.SchemeExact
}

// Balance reads the wallet's ERC-20 balance with a balanceOf eth_call,
// retrying transient RPC failures.
func (c *EVMClient) Balance(ctx context.Context, asset string) (*x402types.BalanceSnapshot, error) {
	if err := utils.ValidateAddressForNetwork(asset, c.network); err != nil {
		return nil, c.stepError(x402types.ErrBalanceQuery, ReasonBalanceUnavailable, err)
	}

	token := common.HexToAddress(asset)
	callData, err := c.tokenABI.Pack("balanceOf", c.address)
	if err != nil {
		return nil, c.stepError(x402types.ErrBalanceQuery, ReasonBalanceUnavailable, err)
	}
	msg := ethereum.CallMsg{To: &token, Data: callData}

	var raw []byte
	for attempt := 0; ; attempt++ {
		raw, err = c.client.CallContract(ctx, msg, nil)
		if err == nil {
			break
		}
		if attempt >= c.retryCount {
			return nil, c.stepError(x402types.ErrBalanceQuery, ReasonBalanceUnavailable, err)
		}
		select {
		case <-ctx.Done():
			return nil, c.stepError(x402types.ErrBalanceQuery, ReasonBalanceUnavailable, ctx.Err())
		case <-time.After(c.retryWait):
		}
	}

	out, err := c.tokenABI.Unpack("balanceOf", raw)
	if err != nil || len(out) == 0 {
		return nil, c.stepError(x402types.ErrBalanceQuery, ReasonBalanceUnavailable,
			fmt.Errorf("failed to decode balanceOf result: %v", err))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, c.stepError(x402types.ErrBalanceQuery, ReasonBalanceUnavailable,
			fmt.Errorf("unexpected balanceOf result type %T", out[0]))
	}

	// Atomic amounts are uint64 on the wire. Anything beyond that covers
	// every representable requirement, so clamp instead of failing.
	amount := uint64(math.MaxUint64)
	if balance.IsUint64() {
		amount = balance.Uint64()
	}

	return &x402types.BalanceSnapshot{
		Wallet:    c.WalletAddress(),
		Asset:     asset,
		Amount:    amount,
		Network:   c.network,
		QueriedAt: time.Now().UTC(),
	}, nil
}

// Pay signs an EIP-3009 TransferWithAuthorization for the requirement and
// packs it into the payment header. Settlement happens server side, so no
// transaction is broadcast here.
func (c *EVMClient) Pay(ctx context.Context, req *x402types.PaymentRequirement) (*x402types.PaymentProof, error) {
	if err := utils.ValidateAddressForNetwork(req.Asset, c.network); err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, ReasonInvalidAsset, err)
	}
	if err := utils.ValidateAddressForNetwork(req.PayTo, c.network); err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, ReasonInvalidDestination, err)
	}

	var nonce [32]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, ReasonNonceFailed, err)
	}

	window := defaultAuthWindow
	if req.MaxTimeoutSeconds > 0 {
		window = time.Duration(req.MaxTimeoutSeconds) * time.Second
	}
	validBefore := time.Now().Add(window).Unix()

	domain := eip712.Domain{
		Name:              req.ExtraString("name", "USD Coin"),
		Version:           req.ExtraString("version", "2"),
		ChainID:           c.chainID,
		VerifyingContract: common.HexToAddress(req.Asset),
	}
	auth := eip712.TransferAuthorization{
		From:        c.address,
		To:          common.HexToAddress(req.PayTo),
		Value:       new(big.Int).SetUint64(req.Amount),
		ValidAfter:  big.NewInt(0),
		ValidBefore: big.NewInt(validBefore),
		Nonce:       nonce,
	}

	digest, err := eip712.Digest(domain, auth)
	if err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, ReasonDigestFailed, err)
	}

	sig, err := utils.SignDigest(digest.Bytes(), c.key)
	if err != nil {
		return nil, c.stepError(x402types.ErrSigning, "failed to sign transfer authorization", err)
	}

	nonceHex := "0x" + hex.EncodeToString(nonce[:])
	payload := x402types.PaymentPayload{
		X402Version: int(x402types.X402Version1),
		Scheme:      x402types.SchemeExact,
		Network:     c.network.String(),
		Payload: &x402types.EIP3009Payload{
			Signature: "0x" + hex.EncodeToString(sig),
			Authorization: x402types.EIP3009Authorization{
				From:        c.address.Hex(),
				To:          common.HexToAddress(req.PayTo).Hex(),
				Value:       strconv.FormatUint(req.Amount, 10),
				ValidAfter:  "0",
				ValidBefore: strconv.FormatInt(validBefore, 10),
				Nonce:       nonceHex,
			},
		},
	}

	encoded, err := json.Marshal(payload)
	if err != nil {
		return nil, c.stepError(x402types.ErrTransactionBuild, "failed to encode payment payload", err)
	}

	c.log.Info("authorization signed", map[string]any{
		"network":      c.network.String(),
		"asset":        req.Asset,
		"amount":       req.Amount,
		"pay_to":       req.PayTo,
		"nonce":        nonceHex,
		"valid_before": validBefore,
	})

	return &x402types.PaymentProof{
		Network:   c.network,
		Reference: nonceHex,
		Headers: map[string]string{
			x402types.HeaderPayment: base64.StdEncoding.EncodeToString(encoded),
		},
	}, nil
}

func (c *EVMClient) Close() {
	c.client.Close()
}

func (c *EVMClient) stepError(code, message string, err error) *x402types.Error {
	e := x402types.WrapError(code, message, err)
	e.Network = c.network
	return e
}
