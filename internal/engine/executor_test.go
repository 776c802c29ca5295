package engine

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var testRecipient = common.HexToAddress("0x000000000000000000000000000000000000dEaD")

func legacyFees() FeeParams {
	return FeeParams{GasPrice: big.NewInt(1e9)}
}

func TestSubmitConfirmed(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)
	stub := newStubClient()
	stub.pending = 7

	hash, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(1), nil, 21000, legacyFees())
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if hash == "" {
		t.Fatal("expected a transaction hash")
	}

	sent := stub.sentTxs()
	if len(sent) != 1 {
		t.Fatalf("sent = %d txs, want 1", len(sent))
	}
	if sent[0].nonce != 7 {
		t.Errorf("nonce = %d, want 7", sent[0].nonce)
	}
	if sent[0].to != testRecipient {
		t.Errorf("to = %s, want %s", sent[0].to.Hex(), testRecipient.Hex())
	}
	if sent[0].gas != 21000 {
		t.Errorf("gas = %d, want 21000", sent[0].gas)
	}
}

func TestSubmitDynamicFees(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)
	stub := newStubClient()

	fees := FeeParams{Dynamic: true, GasTipCap: big.NewInt(1e9), GasFeeCap: big.NewInt(20e9)}
	if _, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(0), nil, 21000, fees); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(stub.sentTxs()) != 1 {
		t.Fatal("expected 1 broadcast")
	}
}

func TestSubmitReverted(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)
	stub := newStubClient()
	stub.receiptStatus = 0

	hash, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(0), nil, 21000, legacyFees())
	if !errors.Is(err, ErrTransactionReverted) {
		t.Fatalf("err = %v, want ErrTransactionReverted", err)
	}
	if hash == "" {
		t.Error("revert must still report the broadcast hash")
	}
}

func TestSubmitConfirmationTimeout(t *testing.T) {
	e := New(Config{
		ChainID:         testChainID,
		Logger:          discardLogger(),
		ConfirmTimeout:  30 * time.Millisecond,
		ReceiptInterval: 2 * time.Millisecond,
	})
	w := testWallet(t)
	stub := newStubClient()
	stub.receiptNever = true

	start := time.Now()
	hash, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(0), nil, 21000, legacyFees())
	if !errors.Is(err, ErrConfirmationTimeout) {
		t.Fatalf("err = %v, want ErrConfirmationTimeout", err)
	}
	if hash == "" {
		t.Error("timeout must still report the broadcast hash")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("submit took %s, polling must stop at the deadline", elapsed)
	}
}

func TestSubmitNonceConflictEvicts(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)
	stub := newStubClient()
	stub.pending = 4

	// Seed the tracker with a local reservation.
	if _, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(0), nil, 21000, legacyFees()); err != nil {
		t.Fatalf("seed submit: %v", err)
	}

	stub.sendErr = errors.New("nonce too low: next expected 9")
	_, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(0), nil, 21000, legacyFees())
	if !errors.Is(err, ErrNonceConflict) {
		t.Fatalf("err = %v, want ErrNonceConflict", err)
	}

	// The entry was evicted, so the next reservation starts from the chain.
	stub.sendErr = nil
	stub.pending = 9
	nonce, err := e.Nonces().Reserve(context.Background(), stub, testChainID, w.Address.Hex())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if nonce != 9 {
		t.Errorf("nonce = %d, want re-derived chain value 9", nonce)
	}
}

func TestSubmitOtherBroadcastErrorKeepsEntry(t *testing.T) {
	e := testEngine(nil)
	w := testWallet(t)
	stub := newStubClient()
	stub.pending = 4
	stub.sendErr = errors.New("txpool is full")

	_, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(0), nil, 21000, legacyFees())
	if err == nil || errors.Is(err, ErrNonceConflict) {
		t.Fatalf("err = %v, want plain broadcast error", err)
	}

	// Not a nonce conflict: the reservation stays burned until reset.
	stub.sendErr = nil
	nonce, err := e.Nonces().Reserve(context.Background(), stub, testChainID, w.Address.Hex())
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if nonce != 5 {
		t.Errorf("nonce = %d, want 5 (entry kept after non-nonce failure)", nonce)
	}
}

func TestSubmitCancelledByStop(t *testing.T) {
	stopped := false
	e := testEngine(func() bool { return stopped })
	w := testWallet(t)
	stub := newStubClient()

	stopped = true
	_, err := e.submit(context.Background(), discardLogger(), w, stub, testRecipient, big.NewInt(0), nil, 21000, legacyFees())
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("err = %v, want ErrCancelled", err)
	}
	if got := len(stub.sentTxs()); got != 0 {
		t.Errorf("transactions sent = %d, want 0 under cancellation", got)
	}
}
