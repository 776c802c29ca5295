package scheduler

import (
	"testing"
	"time"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

func TestBroadcasterDeliversToAllSubscribers(t *testing.T) {
	b := NewBroadcaster()
	ch1, cancel1 := b.Subscribe()
	defer cancel1()
	ch2, cancel2 := b.Subscribe()
	defer cancel2()

	b.Publish(types.Event{
		Level:       types.EventInfo,
		WalletIndex: 2,
		Kind:        types.OpStake,
		Repetition:  3,
		Status:      types.OpStatusConfirmed,
		TxHash:      "0xabc",
		Message:     "stake confirmed",
	})

	for i, ch := range []<-chan types.Event{ch1, ch2} {
		select {
		case ev := <-ch:
			if ev.WalletIndex != 2 || ev.Kind != types.OpStake || ev.TxHash != "0xabc" {
				t.Errorf("subscriber %d got %+v", i, ev)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d received nothing", i)
		}
	}
}

func TestBroadcasterStampsTimestamp(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish(types.Event{Message: "unstamped"})
	ev := <-ch
	if ev.Timestamp.IsZero() {
		t.Error("zero timestamp was not stamped")
	}

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.Publish(types.Event{Timestamp: at, Message: "stamped"})
	ev = <-ch
	if !ev.Timestamp.Equal(at) {
		t.Errorf("preset timestamp rewritten to %s", ev.Timestamp)
	}
}

func TestBroadcasterCancelIsIdempotent(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()

	cancel()
	cancel()

	if _, ok := <-ch; ok {
		t.Error("channel still open after cancel")
	}

	// A publish after cancel must not reach the closed channel.
	b.Publish(types.Event{Message: "late"})
}

func TestBroadcasterDropsWhenSubscriberLags(t *testing.T) {
	b := NewBroadcaster()
	ch, cancel := b.Subscribe()
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < eventBuffer+10; i++ {
			b.Publish(types.Event{Message: "tick"})
		}
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber buffer")
	}

	received := 0
	for {
		var drained bool
		select {
		case <-ch:
			received++
		default:
			drained = true
		}
		if drained {
			break
		}
	}
	if received != eventBuffer {
		t.Errorf("lagging subscriber buffered %d events, want %d", received, eventBuffer)
	}
}
