package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return rdb
}

func TestHubSendToUser(t *testing.T) {
	hub := NewHub()
	c := &Client{userID: 7, send: make(chan []byte, 1)}
	hub.register(c)

	if !hub.SendToUser(7, []byte(`{"type":"x"}`)) {
		t.Fatalf("expected delivery to connected user")
	}
	if hub.SendToUser(8, []byte(`{}`)) {
		t.Errorf("delivery to unknown user should report false")
	}
	if hub.SendToUser(7, []byte(`{}`)) {
		t.Errorf("full buffer should report false")
	}
	if got := string(<-c.send); got != `{"type":"x"}` {
		t.Errorf("payload = %s", got)
	}
}

func TestHubReconnectReplacesClient(t *testing.T) {
	hub := NewHub()
	old := &Client{userID: 1, send: make(chan []byte, 1)}
	hub.register(old)
	fresh := &Client{userID: 1, send: make(chan []byte, 1)}
	hub.register(fresh)

	if _, ok := <-old.send; ok {
		t.Errorf("old client send channel should be closed")
	}

	// A late unregister from the replaced connection must not drop the new one.
	hub.unregister(old)
	if hub.Connected() != 1 {
		t.Fatalf("connected = %d, want 1", hub.Connected())
	}
	hub.unregister(fresh)
	if hub.Connected() != 0 {
		t.Errorf("connected = %d, want 0", hub.Connected())
	}
}

func TestPublishReachesHub(t *testing.T) {
	rdb := newTestRedis(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub()
	c := &Client{userID: 42, send: make(chan []byte, 4)}
	hub.register(c)

	if err := Subscribe(ctx, rdb, hub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	pub := NewPublisher(rdb)
	ev := Event{Type: EventVictory, Data: map[string]interface{}{"challengeId": 9}}
	if err := pub.Notify(ctx, 42, ev); err != nil {
		t.Fatalf("notify: %v", err)
	}

	select {
	case raw := <-c.send:
		var got Event
		if err := json.Unmarshal(raw, &got); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if got.Type != EventVictory {
			t.Errorf("type = %s, want %s", got.Type, EventVictory)
		}
		if got.Data["challengeId"] != float64(9) {
			t.Errorf("challengeId = %v", got.Data["challengeId"])
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event not delivered")
	}
}
