package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/gateway-fm/stakefarm/internal/rpc"
)

// NonceTracker hands out transaction nonces per (chain, address) pair.
//
// Every reservation consults the chain's pending count and takes the larger
// of that and the last locally reserved value plus one, so a nonce consumed
// by another tool is never reused and a nonce reserved here is never handed
// out twice. The reserved value is recorded before it is returned.
type NonceTracker struct {
	mu       sync.Mutex
	reserved map[nonceKey]uint64
	halted   func() bool
}

type nonceKey struct {
	chainID uint64
	address common.Address
}

// NewNonceTracker creates a tracker. halted is optional; when it reports
// true, reservations fail with ErrCancelled so a nonce obtained during
// shutdown is never used.
func NewNonceTracker(halted func() bool) *NonceTracker {
	return &NonceTracker{
		reserved: make(map[nonceKey]uint64),
		halted:   halted,
	}
}

// Reserve returns the next nonce for address on chainID, fetching the
// pending count through client. The returned nonce is recorded immediately;
// a failed submission must Evict the entry or the value stays burned until
// the next Reset.
func (t *NonceTracker) Reserve(ctx context.Context, client rpc.Client, chainID uint64, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, fmt.Errorf("%w: %q", ErrAddressInvalid, address)
	}

	pending, err := client.GetPendingNonce(ctx, address)
	if err != nil {
		return 0, fmt.Errorf("fetch pending nonce: %w", err)
	}

	// A stop requested while the fetch was in flight invalidates the
	// reservation: the caller must not submit with it.
	if t.halted != nil && t.halted() {
		return 0, fmt.Errorf("%w: stop requested during nonce reservation", ErrCancelled)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	key := nonceKey{chainID: chainID, address: common.HexToAddress(address)}

	t.mu.Lock()
	defer t.mu.Unlock()

	next := pending
	if last, ok := t.reserved[key]; ok && last+1 > pending {
		next = last + 1
	}
	t.reserved[key] = next
	return next, nil
}

// Evict drops the entry for address on chainID. The next Reserve for that
// key starts fresh from the chain's reported count.
func (t *NonceTracker) Evict(chainID uint64, address string) {
	key := nonceKey{chainID: chainID, address: common.HexToAddress(address)}

	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.reserved, key)
}

// Reset clears all entries. Called when a cycle halts.
func (t *NonceTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.reserved = make(map[nonceKey]uint64)
}
