package engine

import (
	"context"
	"errors"
	"testing"
)

func TestNonceTrackerSequentialReserves(t *testing.T) {
	tracker := NewNonceTracker(nil)
	stub := newStubClient()
	stub.pending = 5
	addr := testWallet(t).Address.Hex()

	prev, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if prev != 5 {
		t.Fatalf("first nonce = %d, want 5", prev)
	}

	for i := 0; i < 5; i++ {
		next, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
		if err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
		if next != prev+1 {
			t.Fatalf("nonce = %d after %d, want consecutive", next, prev)
		}
		prev = next
	}
}

func TestNonceTrackerFollowsChainAhead(t *testing.T) {
	tracker := NewNonceTracker(nil)
	stub := newStubClient()
	stub.pending = 5
	addr := testWallet(t).Address.Hex()

	if _, err := tracker.Reserve(context.Background(), stub, testChainID, addr); err != nil {
		t.Fatalf("Reserve: %v", err)
	}

	// Another tool moved the chain forward past our local reservation.
	stub.pending = 9
	nonce, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if nonce != 9 {
		t.Errorf("nonce = %d, want chain pending 9", nonce)
	}
}

func TestNonceTrackerIgnoresStaleChain(t *testing.T) {
	tracker := NewNonceTracker(nil)
	stub := newStubClient()
	stub.pending = 5
	addr := testWallet(t).Address.Hex()

	for i := 0; i < 3; i++ {
		if _, err := tracker.Reserve(context.Background(), stub, testChainID, addr); err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
	}

	// Chain still reports 5 because our transactions are unconfirmed; local
	// reservations must win.
	nonce, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if nonce != 8 {
		t.Errorf("nonce = %d, want 8", nonce)
	}
}

func TestNonceTrackerEvict(t *testing.T) {
	tracker := NewNonceTracker(nil)
	stub := newStubClient()
	stub.pending = 5
	addr := testWallet(t).Address.Hex()

	for i := 0; i < 4; i++ {
		if _, err := tracker.Reserve(context.Background(), stub, testChainID, addr); err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
	}

	tracker.Evict(testChainID, addr)

	stub.pending = 6
	nonce, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
	if err != nil {
		t.Fatalf("Reserve after evict: %v", err)
	}
	if nonce < stub.pending {
		t.Errorf("nonce = %d, want at least chain pending %d", nonce, stub.pending)
	}
	if nonce != 6 {
		t.Errorf("nonce = %d, want fresh chain value 6", nonce)
	}
}

func TestNonceTrackerReset(t *testing.T) {
	tracker := NewNonceTracker(nil)
	stub := newStubClient()
	stub.pending = 5
	addr := testWallet(t).Address.Hex()

	for i := 0; i < 4; i++ {
		if _, err := tracker.Reserve(context.Background(), stub, testChainID, addr); err != nil {
			t.Fatalf("Reserve %d: %v", i, err)
		}
	}

	tracker.Reset()

	nonce, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
	if err != nil {
		t.Fatalf("Reserve after reset: %v", err)
	}
	if nonce != 5 {
		t.Errorf("nonce = %d, want chain value 5 after reset", nonce)
	}
}

func TestNonceTrackerSeparateKeys(t *testing.T) {
	tracker := NewNonceTracker(nil)
	stub := newStubClient()
	stub.pending = 5

	a := "0x70997970C51812dc3A010C7d01b50e0d17dc79C8"
	b := "0x3C44CdDdB6a900fa2b585dd299e03d12FA4293BC"

	if _, err := tracker.Reserve(context.Background(), stub, testChainID, a); err != nil {
		t.Fatalf("Reserve a: %v", err)
	}
	nonce, err := tracker.Reserve(context.Background(), stub, testChainID, b)
	if err != nil {
		t.Fatalf("Reserve b: %v", err)
	}
	if nonce != 5 {
		t.Errorf("first nonce for b = %d, want 5 (keys must not share state)", nonce)
	}
}

func TestNonceTrackerInvalidAddress(t *testing.T) {
	tracker := NewNonceTracker(nil)

	_, err := tracker.Reserve(context.Background(), newStubClient(), testChainID, "not-an-address")
	if !errors.Is(err, ErrAddressInvalid) {
		t.Errorf("err = %v, want ErrAddressInvalid", err)
	}
}

func TestNonceTrackerCancelledOnStop(t *testing.T) {
	tracker := NewNonceTracker(func() bool { return true })
	stub := newStubClient()
	addr := testWallet(t).Address.Hex()

	_, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
	if !errors.Is(err, ErrCancelled) {
		t.Errorf("err = %v, want ErrCancelled", err)
	}
}

func TestNonceTrackerChainErrorNotRecorded(t *testing.T) {
	tracker := NewNonceTracker(nil)
	stub := newStubClient()
	stub.pendingErr = errors.New("connection refused")
	addr := testWallet(t).Address.Hex()

	if _, err := tracker.Reserve(context.Background(), stub, testChainID, addr); err == nil {
		t.Fatal("expected error from failed pending fetch")
	}

	stub.pendingErr = nil
	stub.pending = 3
	nonce, err := tracker.Reserve(context.Background(), stub, testChainID, addr)
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	if nonce != 3 {
		t.Errorf("nonce = %d, want 3 (failed reserve must not leave state)", nonce)
	}
}
