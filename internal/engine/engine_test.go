package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/gateway-fm/stakefarm/internal/contracts"
	"github.com/gateway-fm/stakefarm/internal/rpc"
	"github.com/gateway-fm/stakefarm/internal/wallet"
	ptypes "github.com/gateway-fm/stakefarm/pkg/types"
)

const testChainID = 11155111

// Well-known Anvil/Hardhat development key, never funded on a live network.
const testKey = "ac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func testWallet(t *testing.T) *wallet.Wallet {
	t.Helper()
	w, err := wallet.NewWallet(0, testKey)
	if err != nil {
		t.Fatalf("NewWallet: %v", err)
	}
	return w
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEngine(halted func() bool) *Engine {
	return New(Config{
		ChainID:         testChainID,
		Logger:          discardLogger(),
		Halted:          halted,
		ConfirmTimeout:  200 * time.Millisecond,
		ReceiptInterval: 2 * time.Millisecond,
	})
}

// sentTx is one decoded broadcast recorded by the stub.
type sentTx struct {
	to    common.Address
	value *big.Int
	data  []byte
	nonce uint64
	gas   uint64
}

// stubClient is a scriptable rpc.Client. Zero values behave like a healthy
// legacy-fee chain with an empty state.
type stubClient struct {
	mu sync.Mutex

	pending    uint64
	pendingErr error

	native *big.Int

	tokenBalances map[common.Address]*big.Int
	allowances    map[common.Address]*big.Int

	outstanding *big.Int
	reqAmount   *big.Int
	reqCreated  *big.Int
	coolDown    *big.Int

	baseFee     *big.Int
	tip         *big.Int
	tipErr      error
	gasPrice    *big.Int
	gasPriceErr error
	blockTime   int64
	blockErr    error

	sendErr error
	sent    []sentTx

	receiptStatus uint64
	receiptNever  bool
}

func newStubClient() *stubClient {
	return &stubClient{
		native:        big.NewInt(1e18),
		tokenBalances: make(map[common.Address]*big.Int),
		allowances:    make(map[common.Address]*big.Int),
		outstanding:   big.NewInt(0),
		reqAmount:     big.NewInt(0),
		reqCreated:    big.NewInt(0),
		coolDown:      big.NewInt(0),
		gasPrice:      big.NewInt(1e9),
		blockTime:     1700000000,
		receiptStatus: 1,
	}
}

func (s *stubClient) sentTxs() []sentTx {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentTx(nil), s.sent...)
}

func (s *stubClient) Call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	return nil, fmt.Errorf("not implemented: %s", method)
}

func (s *stubClient) SendRawTransaction(ctx context.Context, txRLP []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(txRLP); err != nil {
		return fmt.Errorf("decode raw tx: %w", err)
	}
	s.sent = append(s.sent, sentTx{
		to:    *tx.To(),
		value: tx.Value(),
		data:  tx.Data(),
		nonce: tx.Nonce(),
		gas:   tx.Gas(),
	})
	return nil
}

func (s *stubClient) GetPendingNonce(ctx context.Context, address string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, s.pendingErr
}

func (s *stubClient) GetConfirmedNonce(ctx context.Context, address string) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending, nil
}

func (s *stubClient) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return new(big.Int).Set(s.native), nil
}

func (s *stubClient) GetGasPrice(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gasPriceErr != nil {
		return nil, s.gasPriceErr
	}
	return new(big.Int).Set(s.gasPrice), nil
}

func (s *stubClient) GetMaxPriorityFee(ctx context.Context) (*big.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tipErr != nil {
		return nil, s.tipErr
	}
	if s.tip == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(s.tip), nil
}

func (s *stubClient) GetLatestBlock(ctx context.Context) (*rpc.BlockHeader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.blockErr != nil {
		return nil, s.blockErr
	}
	return &rpc.BlockHeader{
		Number:    100,
		Timestamp: time.Unix(s.blockTime, 0),
		BaseFee:   s.baseFee,
	}, nil
}

func (s *stubClient) GetTransactionReceipt(ctx context.Context, txHash string) (*rpc.TransactionReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.receiptNever {
		return nil, nil
	}
	return &rpc.TransactionReceipt{
		Status:      s.receiptStatus,
		GasUsed:     50000,
		BlockNumber: 101,
	}, nil
}

func (s *stubClient) CallContract(ctx context.Context, to string, data []byte) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(data) < 4 {
		return nil, fmt.Errorf("short calldata")
	}

	token := common.HexToAddress(to)
	switch {
	case bytes.Equal(data[:4], contracts.SelectorBalanceOf):
		return word(s.tokenBalances[token]), nil
	case bytes.Equal(data[:4], contracts.SelectorAllowance):
		return word(s.allowances[token]), nil
	case bytes.Equal(data[:4], contracts.SelectorOutstandingRequests):
		return word(s.outstanding), nil
	case bytes.Equal(data[:4], contracts.SelectorWithdrawRequests):
		return append(word(s.reqAmount), word(s.reqCreated)...), nil
	case bytes.Equal(data[:4], contracts.SelectorCoolDownPeriod):
		return word(s.coolDown), nil
	}
	return nil, fmt.Errorf("unexpected call selector %x", data[:4])
}

func word(v *big.Int) []byte {
	w := make([]byte, 32)
	if v != nil {
		v.FillBytes(w)
	}
	return w
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ptypes.OperationStatus
	}{
		{"nil", nil, ptypes.OpStatusConfirmed},
		{"reverted", fmt.Errorf("op: %w", ErrTransactionReverted), ptypes.OpStatusReverted},
		{"approval reverted", ErrApprovalReverted, ptypes.OpStatusReverted},
		{"timeout", fmt.Errorf("op: %w", ErrConfirmationTimeout), ptypes.OpStatusTimedOut},
		{"insufficient", ErrInsufficientFunds, ptypes.OpStatusFailed},
		{"network", errors.New("connection refused"), ptypes.OpStatusFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusFor(tt.err); got != tt.want {
				t.Errorf("StatusFor(%v) = %s, want %s", tt.err, got, tt.want)
			}
		})
	}
}

func TestRunRejectsMissingAmount(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)
	stub := newStubClient()

	for _, kind := range []ptypes.OperationKind{ptypes.OpStake, ptypes.OpUnstake, ptypes.OpWrap, ptypes.OpUnwrap} {
		_, err := e.Run(context.Background(), Request{Kind: kind, Wallet: w, Client: stub, Repetition: 1})
		if !errors.Is(err, ErrAmountInvalid) {
			t.Errorf("%s without amount: err = %v, want ErrAmountInvalid", kind, err)
		}
	}
	if got := len(stub.sentTxs()); got != 0 {
		t.Errorf("transactions sent = %d, want 0", got)
	}
}

func TestRunRejectsNegativeAmount(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)

	_, err := e.Run(context.Background(), Request{
		Kind:   ptypes.OpStake,
		Wallet: w,
		Client: newStubClient(),
		Amount: big.NewInt(-1),
	})
	if !errors.Is(err, ErrAmountInvalid) {
		t.Errorf("err = %v, want ErrAmountInvalid", err)
	}
}

func TestRunUnknownKind(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)

	_, err := e.Run(context.Background(), Request{
		Kind:   ptypes.OperationKind("teleport"),
		Wallet: w,
		Client: newStubClient(),
		Amount: big.NewInt(1),
	})
	if err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
