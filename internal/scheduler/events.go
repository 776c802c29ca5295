package scheduler

import (
	"sync"
	"time"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

// eventBuffer is the per-subscriber channel depth.
const eventBuffer = 64

// Broadcaster fans scheduler events out to subscribers.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[chan types.Event]struct{}
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[chan types.Event]struct{})}
}

// Subscribe registers a listener. The returned cancel func releases the
// channel; reading from it after cancel yields closed-channel zero values.
func (b *Broadcaster) Subscribe() (<-chan types.Event, func()) {
	ch := make(chan types.Event, eventBuffer)

	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if _, ok := b.subs[ch]; ok {
			delete(b.subs, ch)
			close(ch)
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber. A subscriber whose buffer is full
// misses the event; the cycle never blocks on a slow reader.
func (b *Broadcaster) Publish(ev types.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
