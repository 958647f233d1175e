package hub

import (
	"context"
	"testing"
	"time"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func startHub(t *testing.T) (*Hub, context.CancelFunc) {
	t.Helper()
	h := New("test")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-h.Done()
	})
	return h, cancel
}

func TestHub_BroadcastFanOut(t *testing.T) {
	h, _ := startHub(t)

	a := &Client{hub: h, send: make(chan Message, 4)}
	b := &Client{hub: h, send: make(chan Message, 4)}
	h.register <- a
	h.register <- b
	waitFor(t, func() bool { return h.ClientCount() == 2 })

	if err := h.BroadcastJSON(map[string]int{"sessions": 1}); err != nil {
		t.Fatalf("BroadcastJSON: %v", err)
	}

	for name, c := range map[string]*Client{"a": a, "b": b} {
		select {
		case msg := <-c.send:
			if string(msg.Data) != `{"sessions":1}` {
				t.Errorf("client %s: got %s", name, msg.Data)
			}
		case <-time.After(time.Second):
			t.Errorf("client %s: no message", name)
		}
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h, _ := startHub(t)

	slow := &Client{hub: h, send: make(chan Message)}
	h.register <- slow
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.Broadcast(NewJSONMessage([]byte(`{}`)))
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	if _, ok := <-slow.send; ok {
		t.Error("slow client's channel should be closed")
	}
}

func TestHub_Unregister(t *testing.T) {
	h, _ := startHub(t)

	c := &Client{hub: h, send: make(chan Message, 1)}
	h.register <- c
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	h.unregister <- c
	waitFor(t, func() bool { return h.ClientCount() == 0 })

	// A second unregister must not close the channel twice.
	h.unregister <- c
}

func TestHub_StopClosesClients(t *testing.T) {
	h := New("stop")
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)

	c := &Client{hub: h, send: make(chan Message, 1)}
	h.register <- c
	waitFor(t, func() bool { return h.ClientCount() == 1 })

	cancel()
	<-h.Done()

	if _, ok := <-c.send; ok {
		t.Error("client channel should be closed on stop")
	}
	if got := NewClient(h, nil); got != nil {
		t.Error("NewClient on a stopped hub should return nil")
	}
}
