package transport

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/gateway-fm/stakefarm/pkg/types"
)

func wsURL(httpURL string) string {
	return "ws" + strings.TrimPrefix(httpURL, "http") + "/v1/ws"
}

func TestWebSocketStreamsEvents(t *testing.T) {
	api := newFakeAPI()
	srv, ts := newTestServer(t, api, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForCondition(t, time.Second, "client registration", func() bool {
		return srv.wsServer.ClientCount() == 1
	})

	sent := types.Event{
		Timestamp:   time.Now().UTC(),
		Level:       types.EventInfo,
		WalletIndex: 1,
		Kind:        types.OpStake,
		Repetition:  2,
		Status:      types.OpStatusConfirmed,
		TxHash:      "0xdeadbeef",
		Message:     "stake confirmed",
	}
	api.events <- sent

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var got types.Event
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("unmarshal event: %v", err)
	}
	if got.WalletIndex != 1 || got.Kind != types.OpStake || got.TxHash != "0xdeadbeef" {
		t.Errorf("received event = %+v", got)
	}
	if got.Status != types.OpStatusConfirmed || got.Repetition != 2 {
		t.Errorf("received event = %+v", got)
	}
}

func TestWebSocketDisconnectCancelsSubscription(t *testing.T) {
	api := newFakeAPI()
	srv, ts := newTestServer(t, api, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	waitForCondition(t, time.Second, "client registration", func() bool {
		return srv.wsServer.ClientCount() == 1
	})

	conn.Close()

	waitForCondition(t, time.Second, "subscription cancel", func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.cancelled
	})
	waitForCondition(t, time.Second, "client deregistration", func() bool {
		return srv.wsServer.ClientCount() == 0
	})
}

func TestWebSocketServerStopDisconnectsClients(t *testing.T) {
	api := newFakeAPI()
	srv, ts := newTestServer(t, api, "")

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(ts.URL), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitForCondition(t, time.Second, "client registration", func() bool {
		return srv.wsServer.ClientCount() == 1
	})

	srv.wsServer.Stop()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Error("read succeeded after server stop, want a closed connection")
	}
}
