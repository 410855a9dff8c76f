package clients

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	binary "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Djtrixuk/moltydex-x402-example/moltydex"
	x402types "github.com/Djtrixuk/moltydex-x402-example/types"
	"github.com/Djtrixuk/moltydex-x402-example/wallet"
)

const usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"

// deadEndURL is never dialed; tests that must not touch a server use it.
const deadEndURL = "http://127.0.0.1:0"

var testBlockhash = solana.Hash(solana.PublicKeyFromBytes(bytes.Repeat([]byte{9}, 32)))

// fakeCluster answers the JSON-RPC methods the client issues and records
// every transaction submitted to it.
type fakeCluster struct {
	t *testing.T

	ataExists    bool
	failSend     bool
	execErr      bool
	neverConfirm bool

	mu      sync.Mutex
	methods []string
	sent    []*solana.Transaction
}

func (f *fakeCluster) server() *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(f.handle))
	f.t.Cleanup(srv.Close)
	return srv
}

func (f *fakeCluster) handle(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID     json.RawMessage   `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.methods = append(f.methods, req.Method)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")

	var result string
	switch req.Method {
	case "getLatestBlockhash":
		result = fmt.Sprintf(`{"context":{"slot":1},"value":{"blockhash":"%s","lastValidBlockHeight":100}}`, testBlockhash)

	case "getAccountInfo":
		if f.ataExists {
			result = fmt.Sprintf(`{"context":{"slot":1},"value":{"data":["","base64"],"executable":false,"lamports":2039280,"owner":"%s","rentEpoch":0}}`, solana.TokenProgramID)
		} else {
			result = `{"context":{"slot":1},"value":null}`
		}

	case "sendTransaction":
		if f.failSend {
			fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"error":{"code":-32002,"message":"transaction simulation failed"}}`, req.ID)
			return
		}
		if !assert.NotEmpty(f.t, req.Params) {
			return
		}
		var encoded string
		if !assert.NoError(f.t, json.Unmarshal(req.Params[0], &encoded)) {
			return
		}
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if !assert.NoError(f.t, err) {
			return
		}
		tx, err := solana.TransactionFromDecoder(binary.NewBinDecoder(raw))
		if !assert.NoError(f.t, err) {
			return
		}
		f.mu.Lock()
		f.sent = append(f.sent, tx)
		f.mu.Unlock()
		result = fmt.Sprintf("%q", tx.Signatures[0].String())

	case "getSignatureStatuses":
		switch {
		case f.execErr:
			result = `{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":{"InstructionError":[0,{"Custom":1}]},"confirmationStatus":"finalized"}]}`
		case f.neverConfirm:
			result = `{"context":{"slot":1},"value":[null]}`
		default:
			result = `{"context":{"slot":1},"value":[{"slot":1,"confirmations":null,"err":null,"confirmationStatus":"finalized"}]}`
		}

	default:
		http.Error(w, "unexpected method "+req.Method, http.StatusBadRequest)
		return
	}

	fmt.Fprintf(w, `{"jsonrpc":"2.0","id":%s,"result":%s}`, req.ID, result)
}

func (f *fakeCluster) calls(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.methods {
		if m == method {
			n++
		}
	}
	return n
}

func (f *fakeCluster) lastSent() *solana.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return nil
	}
	return f.sent[len(f.sent)-1]
}

func newTestSolanaWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.FromPrivateKey(solana.NewWallet().PrivateKey)
	require.NoError(t, err)
	return w
}

func newTestSolanaClient(t *testing.T, w *wallet.Wallet, rpcURL, aggURL string) *SolanaClient {
	t.Helper()
	agg := moltydex.New(aggURL, moltydex.WithRetry(0, time.Millisecond))
	client, err := NewSolanaClient(x402types.ClientConfig{
		Network:        x402types.NetworkSolanaMainnet,
		RPCUrl:         rpcURL,
		SlippageBps:    50,
		ConfirmRetries: 3,
		ConfirmWait:    5 * time.Millisecond,
	}, w, agg, nil)
	require.NoError(t, err)
	t.Cleanup(client.Close)
	return client
}

func TestNewSolanaClient_Validation(t *testing.T) {
	w := newTestSolanaWallet(t)
	agg := moltydex.New(deadEndURL)

	_, err := NewSolanaClient(x402types.ClientConfig{
		Network: x402types.NetworkBase, RPCUrl: deadEndURL,
	}, w, agg, nil)
	require.Error(t, err)

	_, err = NewSolanaClient(x402types.ClientConfig{
		Network: x402types.NetworkSolanaMainnet, RPCUrl: deadEndURL,
	}, nil, agg, nil)
	require.Error(t, err)

	_, err = NewSolanaClient(x402types.ClientConfig{
		Network: x402types.NetworkSolanaMainnet, RPCUrl: deadEndURL,
	}, w, nil, nil)
	require.Error(t, err)

	_, err = NewSolanaClient(x402types.ClientConfig{
		Network: x402types.NetworkSolanaMainnet, RPCUrl: deadEndURL,
		FundingMint: "not-a-mint",
	}, w, agg, nil)
	require.Error(t, err)
}

func TestSolanaClient_Supports(t *testing.T) {
	w := newTestSolanaWallet(t)
	client := newTestSolanaClient(t, w, deadEndURL, deadEndURL)

	assert.True(t, client.Supports(&x402types.PaymentRequirement{
		Network: x402types.NetworkSolanaMainnet, Scheme: x402types.SchemeExact,
	}))
	assert.True(t, client.Supports(&x402types.PaymentRequirement{
		Network: x402types.NetworkSolanaMainnet, Scheme: x402types.SchemeSolana,
	}))
	assert.False(t, client.Supports(&x402types.PaymentRequirement{
		Network: x402types.NetworkSolanaDevnet, Scheme: x402types.SchemeExact,
	}))
	assert.False(t, client.Supports(&x402types.PaymentRequirement{
		Network: x402types.NetworkSolanaMainnet, Scheme: "unknown",
	}))
	assert.False(t, client.Supports(nil))
}

func TestSolanaClient_FundingAsset(t *testing.T) {
	w := newTestSolanaWallet(t)
	client := newTestSolanaClient(t, w, deadEndURL, deadEndURL)
	assert.Equal(t, x402types.SolMint, client.FundingAsset())
}

func TestSolanaClient_Balance(t *testing.T) {
	w := newTestSolanaWallet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/balance", r.URL.Path)
		assert.Equal(t, w.Address().String(), r.URL.Query().Get("wallet_address"))
		assert.Equal(t, usdcMint, r.URL.Query().Get("token_mint"))
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprint(rw, `{"balance":750000}`)
	}))
	defer srv.Close()

	client := newTestSolanaClient(t, w, deadEndURL, srv.URL)
	snap, err := client.Balance(context.Background(), usdcMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(750000), snap.Amount)
	assert.Equal(t, usdcMint, snap.Asset)
	assert.Equal(t, w.Address().String(), snap.Wallet)
	assert.Equal(t, x402types.NetworkSolanaMainnet, snap.Network)
	assert.False(t, snap.QueriedAt.IsZero())
}

func TestSolanaClient_Balance_AggregatorDown(t *testing.T) {
	w := newTestSolanaWallet(t)
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		http.Error(rw, "not found", http.StatusNotFound)
	}))
	defer srv.Close()

	client := newTestSolanaClient(t, w, deadEndURL, srv.URL)
	_, err := client.Balance(context.Background(), usdcMint)
	require.Error(t, err)
	assert.Equal(t, x402types.ErrBalanceQuery, x402types.ErrorCode(err))
}

func TestSolanaClient_Pay_NativeSOL(t *testing.T) {
	w := newTestSolanaWallet(t)
	cluster := &fakeCluster{t: t}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, deadEndURL)
	proof, err := client.Pay(context.Background(), &x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: x402types.NetworkSolanaMainnet,
		Asset:   x402types.SolMint,
		Amount:  5000,
		PayTo:   solana.NewWallet().PrivateKey.PublicKey().String(),
	})
	require.NoError(t, err)
	require.NotNil(t, proof)

	tx := cluster.lastSent()
	require.NotNil(t, tx)
	require.Len(t, tx.Message.Instructions, 1)
	prog := tx.Message.AccountKeys[tx.Message.Instructions[0].ProgramIDIndex]
	assert.True(t, prog.Equals(solana.SystemProgramID))
	assert.True(t, tx.Message.AccountKeys[0].Equals(w.Address()))
	assert.Equal(t, testBlockhash, tx.Message.RecentBlockhash)
	require.NoError(t, tx.VerifySignatures())

	sig := tx.Signatures[0].String()
	assert.Equal(t, x402types.NetworkSolanaMainnet, proof.Network)
	assert.Equal(t, sig, proof.Reference)
	assert.Equal(t, sig, proof.Headers[x402types.HeaderPayment])
	assert.Equal(t, "5000", proof.Headers[x402types.HeaderPaymentAmount])
	assert.Equal(t, x402types.SolMint, proof.Headers[x402types.HeaderPaymentToken])

	// Native transfers never look up token accounts.
	assert.Equal(t, 0, cluster.calls("getAccountInfo"))
}

func TestSolanaClient_Pay_CreatesMissingTokenAccount(t *testing.T) {
	w := newTestSolanaWallet(t)
	cluster := &fakeCluster{t: t, ataExists: false}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, deadEndURL)
	proof, err := client.Pay(context.Background(), &x402types.PaymentRequirement{
		Scheme:  x402types.SchemeSolana,
		Network: x402types.NetworkSolanaMainnet,
		Asset:   usdcMint,
		Amount:  1000000,
		PayTo:   solana.NewWallet().PrivateKey.PublicKey().String(),
	})
	require.NoError(t, err)

	tx := cluster.lastSent()
	require.NotNil(t, tx)
	require.Len(t, tx.Message.Instructions, 2)
	first := tx.Message.AccountKeys[tx.Message.Instructions[0].ProgramIDIndex]
	second := tx.Message.AccountKeys[tx.Message.Instructions[1].ProgramIDIndex]
	assert.True(t, first.Equals(solana.SPLAssociatedTokenAccountProgramID))
	assert.True(t, second.Equals(solana.TokenProgramID))
	require.NoError(t, tx.VerifySignatures())

	assert.Equal(t, 1, cluster.calls("getAccountInfo"))
	assert.Equal(t, usdcMint, proof.Headers[x402types.HeaderPaymentToken])
	assert.Equal(t, "1000000", proof.Headers[x402types.HeaderPaymentAmount])
}

func TestSolanaClient_Pay_ExistingTokenAccount(t *testing.T) {
	w := newTestSolanaWallet(t)
	cluster := &fakeCluster{t: t, ataExists: true}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, deadEndURL)
	_, err := client.Pay(context.Background(), &x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: x402types.NetworkSolanaMainnet,
		Asset:   usdcMint,
		Amount:  1000000,
		PayTo:   solana.NewWallet().PrivateKey.PublicKey().String(),
	})
	require.NoError(t, err)

	tx := cluster.lastSent()
	require.NotNil(t, tx)
	require.Len(t, tx.Message.Instructions, 1)
	prog := tx.Message.AccountKeys[tx.Message.Instructions[0].ProgramIDIndex]
	assert.True(t, prog.Equals(solana.TokenProgramID))
}

func TestSolanaClient_Pay_InvalidDestination(t *testing.T) {
	w := newTestSolanaWallet(t)
	client := newTestSolanaClient(t, w, deadEndURL, deadEndURL)

	_, err := client.Pay(context.Background(), &x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: x402types.NetworkSolanaMainnet,
		Asset:   x402types.SolMint,
		Amount:  5000,
		PayTo:   "WALLET_X",
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrTransactionBuild, x402types.ErrorCode(err))
}

func TestSolanaClient_Pay_BroadcastFailure(t *testing.T) {
	w := newTestSolanaWallet(t)
	cluster := &fakeCluster{t: t, failSend: true}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, deadEndURL)
	_, err := client.Pay(context.Background(), &x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: x402types.NetworkSolanaMainnet,
		Asset:   x402types.SolMint,
		Amount:  5000,
		PayTo:   solana.NewWallet().PrivateKey.PublicKey().String(),
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrPaymentSubmission, x402types.ErrorCode(err))
	assert.Contains(t, err.Error(), ReasonBroadcastFailed)
}

func TestSolanaClient_Pay_RevertedOnChain(t *testing.T) {
	w := newTestSolanaWallet(t)
	cluster := &fakeCluster{t: t, execErr: true}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, deadEndURL)
	_, err := client.Pay(context.Background(), &x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: x402types.NetworkSolanaMainnet,
		Asset:   x402types.SolMint,
		Amount:  5000,
		PayTo:   solana.NewWallet().PrivateKey.PublicKey().String(),
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrPaymentSubmission, x402types.ErrorCode(err))
	assert.Contains(t, err.Error(), "reverted")
}

func TestSolanaClient_Pay_ConfirmationTimeout(t *testing.T) {
	w := newTestSolanaWallet(t)
	cluster := &fakeCluster{t: t, neverConfirm: true}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, deadEndURL)
	_, err := client.Pay(context.Background(), &x402types.PaymentRequirement{
		Scheme:  x402types.SchemeExact,
		Network: x402types.NetworkSolanaMainnet,
		Asset:   x402types.SolMint,
		Amount:  5000,
		PayTo:   solana.NewWallet().PrivateKey.PublicKey().String(),
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrPaymentSubmission, x402types.ErrorCode(err))
	assert.Contains(t, err.Error(), ReasonConfirmationTimedOut)
	assert.Equal(t, 3, cluster.calls("getSignatureStatuses"))
}

func TestSolanaClient_Swap(t *testing.T) {
	w := newTestSolanaWallet(t)
	dest := solana.NewWallet().PrivateKey.PublicKey()

	unsigned, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(600000, w.Address(), dest).Build()},
		testBlockhash,
		solana.TransactionPayer(w.Address()),
	)
	require.NoError(t, err)
	rawTx, err := unsigned.MarshalBinary()
	require.NoError(t, err)

	agg := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/quote":
			assert.Equal(t, x402types.SolMint, r.URL.Query().Get("input_mint"))
			assert.Equal(t, usdcMint, r.URL.Query().Get("output_mint"))
			assert.Equal(t, "600000", r.URL.Query().Get("amount"))
			assert.Equal(t, "50", r.URL.Query().Get("slippage_bps"))
			fmt.Fprintf(rw, `{"input_mint":"%s","output_mint":"%s","input_amount":600000,"output_amount":"740000"}`,
				x402types.SolMint, usdcMint)
		case "/api/swap/build":
			var body map[string]any
			if assert.NoError(t, json.NewDecoder(r.Body).Decode(&body)) {
				assert.Equal(t, w.Address().String(), body["wallet_address"])
				assert.Equal(t, x402types.SolMint, body["input_mint"])
				assert.Equal(t, usdcMint, body["output_mint"])
				assert.Equal(t, float64(600000), body["amount"])
				assert.Equal(t, float64(50), body["slippage_bps"])
			}
			fmt.Fprintf(rw, `{"transaction":"%s"}`, base64.StdEncoding.EncodeToString(rawTx))
		default:
			http.NotFound(rw, r)
		}
	}))
	defer agg.Close()

	cluster := &fakeCluster{t: t}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, agg.URL)
	result, err := client.Swap(context.Background(), &x402types.SwapRequest{
		InputAsset:  x402types.SolMint,
		OutputAsset: usdcMint,
		Amount:      600000,
		Wallet:      client.WalletAddress(),
	})
	require.NoError(t, err)
	require.NotNil(t, result)

	tx := cluster.lastSent()
	require.NotNil(t, tx)
	require.NoError(t, tx.VerifySignatures())

	assert.Equal(t, tx.Signatures[0].String(), result.Signature)
	assert.Equal(t, uint64(600000), result.InputAmount)
	assert.Equal(t, uint64(740000), result.OutputAmount)
}

func TestSolanaClient_Swap_NoLiquidity(t *testing.T) {
	w := newTestSolanaWallet(t)
	var buildCalls int32

	agg := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/quote":
			fmt.Fprintf(rw, `{"input_mint":"%s","output_mint":"%s","input_amount":600000}`,
				x402types.SolMint, usdcMint)
		case "/api/swap/build":
			atomic.AddInt32(&buildCalls, 1)
			http.Error(rw, "should not be called", http.StatusInternalServerError)
		default:
			http.NotFound(rw, r)
		}
	}))
	defer agg.Close()

	client := newTestSolanaClient(t, w, deadEndURL, agg.URL)
	_, err := client.Swap(context.Background(), &x402types.SwapRequest{
		InputAsset:  x402types.SolMint,
		OutputAsset: usdcMint,
		Amount:      600000,
		Wallet:      client.WalletAddress(),
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrSwap, x402types.ErrorCode(err))
	assert.Contains(t, err.Error(), "liquidity")
	assert.Equal(t, int32(0), atomic.LoadInt32(&buildCalls))
}

func TestSolanaClient_Swap_Validation(t *testing.T) {
	w := newTestSolanaWallet(t)
	client := newTestSolanaClient(t, w, deadEndURL, deadEndURL)

	_, err := client.Swap(context.Background(), &x402types.SwapRequest{
		InputAsset:  x402types.SolMint,
		OutputAsset: usdcMint,
		Amount:      0,
		Wallet:      client.WalletAddress(),
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrSwap, x402types.ErrorCode(err))
	assert.Contains(t, err.Error(), ReasonSwapAmountZero)

	_, err = client.Swap(context.Background(), &x402types.SwapRequest{
		InputAsset:  usdcMint,
		OutputAsset: usdcMint,
		Amount:      100,
		Wallet:      client.WalletAddress(),
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrSwap, x402types.ErrorCode(err))
	assert.Contains(t, err.Error(), ReasonSwapSameAsset)
}

func TestSolanaClient_Swap_RevertedOnChain(t *testing.T) {
	w := newTestSolanaWallet(t)
	dest := solana.NewWallet().PrivateKey.PublicKey()

	unsigned, err := solana.NewTransaction(
		[]solana.Instruction{system.NewTransferInstruction(1000, w.Address(), dest).Build()},
		testBlockhash,
		solana.TransactionPayer(w.Address()),
	)
	require.NoError(t, err)
	rawTx, err := unsigned.MarshalBinary()
	require.NoError(t, err)

	agg := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/api/quote":
			fmt.Fprintf(rw, `{"input_mint":"%s","output_mint":"%s","input_amount":1000,"output_amount":900}`,
				x402types.SolMint, usdcMint)
		case "/api/swap/build":
			fmt.Fprintf(rw, `{"transaction":"%s"}`, base64.StdEncoding.EncodeToString(rawTx))
		default:
			http.NotFound(rw, r)
		}
	}))
	defer agg.Close()

	cluster := &fakeCluster{t: t, execErr: true}
	srv := cluster.server()

	client := newTestSolanaClient(t, w, srv.URL, agg.URL)
	_, err = client.Swap(context.Background(), &x402types.SwapRequest{
		InputAsset:  x402types.SolMint,
		OutputAsset: usdcMint,
		Amount:      1000,
		Wallet:      client.WalletAddress(),
	})
	require.Error(t, err)
	assert.Equal(t, x402types.ErrSwap, x402types.ErrorCode(err))
	assert.Contains(t, err.Error(), "reverted")
}
