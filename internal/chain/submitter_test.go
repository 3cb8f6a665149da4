package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	logx "rewardsd/pkg/logx"
)

// fakeBackend scripts every RPC the submitter touches.
type fakeBackend struct {
	mu sync.Mutex

	code        []byte
	callResult  []byte
	callErr     error
	estimate    uint64
	estimateErr error
	suggested   *big.Int
	suggestErr  error
	nonce       uint64
	nonceErr    error
	sendErr     error
	sends       []*types.Transaction
	receipts    map[common.Hash]*types.Receipt
	receiptErr  error
	balance     *big.Int
	chainID     *big.Int
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		code:      []byte{0x60},
		estimate:  100_000,
		suggested: new(big.Int).Mul(big.NewInt(10), gwei),
		nonce:     7,
		receipts:  map[common.Hash]*types.Receipt{},
		balance:   big.NewInt(1),
		chainID:   big.NewInt(1),
	}
}

func (f *fakeBackend) CodeAt(ctx context.Context, account common.Address, blockNumber *big.Int) ([]byte, error) {
	return f.code, nil
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callResult, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	if f.nonceErr != nil {
		return 0, f.nonceErr
	}
	return f.nonce, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	if f.suggestErr != nil {
		return nil, f.suggestErr
	}
	return new(big.Int).Set(f.suggested), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return f.estimate, nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.mu.Lock()
	f.sends = append(f.sends, tx)
	f.mu.Unlock()
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receipts[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeBackend) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) {
	return f.chainID, nil
}

func (f *fakeBackend) setReceipt(h common.Hash, status uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[h] = &types.Receipt{Status: status, TxHash: h, BlockNumber: big.NewInt(42)}
}

func (f *fakeBackend) sendCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sends)
}

func (f *fakeBackend) lastSend() *types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		return nil
	}
	return f.sends[len(f.sends)-1]
}

func newTestSubmitter(t *testing.T, backend Backend, cfg SubmitterConfig) *Submitter {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	contract, err := NewContract(common.HexToAddress("0x00000000000000000000000000000000000000aa"))
	if err != nil {
		t.Fatalf("new contract: %v", err)
	}
	if cfg.ChainID == 0 {
		cfg.ChainID = 1
	}
	if cfg.ConfirmTimeout == 0 {
		cfg.ConfirmTimeout = 200 * time.Millisecond
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return NewSubmitter(backend, contract, key, cfg, logx.Nop())
}

func TestSubmitConfirmed(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	sub := newTestSubmitter(t, backend, SubmitterConfig{Preflight: true, GasLimit: 500_000})

	done := make(chan Outcome, 1)
	go func() { done <- sub.Submit(context.Background()) }()

	// Mine the transaction as soon as it shows up.
	deadline := time.After(time.Second)
	for backend.sendCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("transaction never broadcast")
		case <-time.After(time.Millisecond):
		}
	}
	backend.setReceipt(backend.lastSend().Hash(), types.ReceiptStatusSuccessful)

	out := <-done
	if out.Status != StatusConfirmed {
		t.Fatalf("status = %v (%v), want confirmed", out.Status, out.Err)
	}
	if out.TxHash == "" {
		t.Fatal("confirmed outcome must carry a tx hash")
	}
	if backend.sendCount() != 1 {
		t.Fatalf("sends = %d, want 1", backend.sendCount())
	}

	tx := backend.lastSend()
	if tx.Gas() != 120_000 {
		t.Fatalf("gas limit = %d, want estimate with 20%% headroom", tx.Gas())
	}
	wantPrice := new(big.Int).Mul(big.NewInt(11), gwei)
	if tx.GasPrice().Cmp(wantPrice) != 0 {
		t.Fatalf("gas price = %s, want %s", tx.GasPrice(), wantPrice)
	}
	if tx.Nonce() != 7 {
		t.Fatalf("nonce = %d, want 7", tx.Nonce())
	}
}

func TestSubmitPreflightRevert(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.callErr = errors.New("execution reverted: Too early")
	sub := newTestSubmitter(t, backend, SubmitterConfig{Preflight: true})

	out := sub.Submit(context.Background())
	if out.Status != StatusReverted {
		t.Fatalf("status = %v, want reverted", out.Status)
	}
	if backend.sendCount() != 0 {
		t.Fatal("preflight revert must not broadcast (and spend gas)")
	}
}

func TestSubmitOnChainRevert(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	sub := newTestSubmitter(t, backend, SubmitterConfig{Preflight: false})

	done := make(chan Outcome, 1)
	go func() { done <- sub.Submit(context.Background()) }()

	deadline := time.After(time.Second)
	for backend.sendCount() == 0 {
		select {
		case <-deadline:
			t.Fatal("transaction never broadcast")
		case <-time.After(time.Millisecond):
		}
	}
	backend.setReceipt(backend.lastSend().Hash(), types.ReceiptStatusFailed)

	out := <-done
	if out.Status != StatusReverted {
		t.Fatalf("status = %v, want reverted", out.Status)
	}
	if out.TxHash == "" {
		t.Fatal("included revert must carry the tx hash")
	}
}

func TestSubmitTimeoutThenResolvesPrior(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	sub := newTestSubmitter(t, backend, SubmitterConfig{
		Preflight:      false,
		ConfirmTimeout: 30 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})

	out := sub.Submit(context.Background())
	if out.Status != StatusTimeout {
		t.Fatalf("status = %v, want timeout", out.Status)
	}
	if out.TxHash == "" {
		t.Fatal("timeout after broadcast must carry the tx hash")
	}
	if !errors.Is(out.Err, ErrConfirmTimeout) {
		t.Fatalf("err = %v, want ErrConfirmTimeout", out.Err)
	}

	// The original lands while we were backing off; the retry must pick it
	// up instead of broadcasting a second transaction.
	backend.setReceipt(backend.lastSend().Hash(), types.ReceiptStatusSuccessful)

	out = sub.Submit(context.Background())
	if out.Status != StatusConfirmed {
		t.Fatalf("status = %v, want confirmed via prior hash", out.Status)
	}
	if backend.sendCount() != 1 {
		t.Fatalf("sends = %d, re-submission must not double-broadcast", backend.sendCount())
	}
}

func TestSubmitNonceFailure(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.nonceErr = errors.New("connection refused")
	sub := newTestSubmitter(t, backend, SubmitterConfig{Preflight: false})

	out := sub.Submit(context.Background())
	if out.Status != StatusNetworkError {
		t.Fatalf("status = %v, want network_error", out.Status)
	}
	if out.TxHash != "" {
		t.Fatalf("nothing was broadcast, tx hash must be empty, got %q", out.TxHash)
	}
}

func TestSubmitBroadcastFailure(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.sendErr = errors.New("connection reset by peer")
	sub := newTestSubmitter(t, backend, SubmitterConfig{Preflight: false})

	out := sub.Submit(context.Background())
	if out.Status != StatusNetworkError {
		t.Fatalf("status = %v, want network_error", out.Status)
	}
}

func TestGasPriceConfiguredWins(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	fixed := new(big.Int).Mul(big.NewInt(55), gwei)
	sub := newTestSubmitter(t, backend, SubmitterConfig{GasPriceWei: fixed})

	got := sub.gasPrice(context.Background())
	if got.Cmp(fixed) != 0 {
		t.Fatalf("gas price = %s, want configured %s", got, fixed)
	}
}

func TestGasPriceLocalDevCap(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.suggested = new(big.Int).Mul(big.NewInt(100), gwei)
	sub := newTestSubmitter(t, backend, SubmitterConfig{ChainID: 31337})

	got := sub.gasPrice(context.Background())
	if got.Cmp(localDevPrice) != 0 {
		t.Fatalf("gas price = %s, want local dev cap %s", got, localDevPrice)
	}
}

func TestGasPriceSuggestionFallback(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.suggestErr = errors.New("rpc down")
	sub := newTestSubmitter(t, backend, SubmitterConfig{ChainID: 1})

	got := sub.gasPrice(context.Background())
	if got.Cmp(fallbackPrice) != 0 {
		t.Fatalf("gas price = %s, want fallback %s", got, fallbackPrice)
	}
}

func TestGasLimitFallbackOnEstimateFailure(t *testing.T) {
	t.Parallel()
	backend := newFakeBackend()
	backend.estimateErr = errors.New("rpc down")
	sub := newTestSubmitter(t, backend, SubmitterConfig{GasLimit: 321_000})

	limit, _, ok := sub.gasLimit(context.Background(), ethereum.CallMsg{})
	if !ok {
		t.Fatal("estimate failure should fall back, not abort")
	}
	if limit != 321_000 {
		t.Fatalf("gas limit = %d, want configured fallback", limit)
	}
}

func TestStatusClassification(t *testing.T) {
	t.Parallel()
	if StatusConfirmed.Retryable() || StatusReverted.Retryable() {
		t.Fatal("terminal semantic states must not be retryable")
	}
	if !StatusNetworkError.Retryable() || !StatusTimeout.Retryable() {
		t.Fatal("infrastructure failures must be retryable")
	}
}

type fakeDataError struct {
	msg  string
	data any
}

func (e *fakeDataError) Error() string { return e.msg }

func (e *fakeDataError) ErrorData() interface{} { return e.data }

func TestRevertReason(t *testing.T) {
	t.Parallel()
	// Error("Too early"): selector + abi-encoded string.
	data := "0x08c379a0" +
		"0000000000000000000000000000000000000000000000000000000000000020" +
		"0000000000000000000000000000000000000000000000000000000000000009" +
		"546f6f206561726c790000000000000000000000000000000000000000000000"
	err := &fakeDataError{msg: "execution reverted", data: data}

	if !isRevert(err) {
		t.Fatal("data error must classify as revert")
	}
	if got := revertReason(err); got != "Too early" {
		t.Fatalf("revert reason = %q, want %q", got, "Too early")
	}
}

func TestRevertReasonMalformedData(t *testing.T) {
	t.Parallel()
	const selector = "0x08c379a0"
	word := func(hex string) string {
		return strings.Repeat("0", 64-len(hex)) + hex
	}
	tests := []struct {
		name string
		data string
	}{
		{"offset wraps uint64", selector + word("ffffffffffffffef") + word("9")},
		{"offset past end", selector + word("200") + word("9")},
		{"offset not a uint64", selector +
			word("10000000000000000000000000000000") +
			word("9")},
		{"length wraps uint64", selector + word("20") + word("ffffffffffffffd0")},
		{"length past end", selector + word("20") + word("ffff") +
			word("546f6f206561726c79")},
		{"truncated", selector + word("20")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			err := &fakeDataError{msg: "execution reverted", data: tt.data}
			if got := revertReason(err); got != "" {
				t.Fatalf("reason = %q, want empty for malformed data", got)
			}
		})
	}
}

func TestIsRevertPlainErrors(t *testing.T) {
	t.Parallel()
	if isRevert(errors.New("connection refused")) {
		t.Fatal("connectivity error misclassified as revert")
	}
	if !isRevert(errors.New("execution reverted")) {
		t.Fatal("revert string not recognized")
	}
	if isRevert(nil) {
		t.Fatal("nil error is not a revert")
	}
}
