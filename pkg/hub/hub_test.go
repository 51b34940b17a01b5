package hub

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/teslashibe/go-livevoice/internal/log"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	t.Cleanup(cancel)
	return h
}

func addClient(t *testing.T, h *Hub, buffer int) *Client {
	t.Helper()
	c := &Client{hub: h, send: make(chan Message, buffer)}
	h.register <- c
	return c
}

func receive(t *testing.T, c *Client) Message {
	t.Helper()
	select {
	case msg, ok := <-c.send:
		if !ok {
			t.Fatal("send channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message")
	}
	return Message{}
}

func TestNewMessage(t *testing.T) {
	msg, err := NewMessage("transcript", map[string]string{"text": "hi"})
	if err != nil {
		t.Fatal(err)
	}
	if msg.Type != "transcript" || msg.Time.IsZero() {
		t.Errorf("unexpected message: %+v", msg)
	}

	var data map[string]string
	if err := json.Unmarshal(msg.Data, &data); err != nil {
		t.Fatal(err)
	}
	if data["text"] != "hi" {
		t.Errorf("data = %v", data)
	}

	if _, err := NewMessage("bad", make(chan int)); err == nil {
		t.Error("expected encode error")
	}
}

func TestHubBroadcast(t *testing.T) {
	h := startHub(t)
	a := addClient(t, h, 4)
	b := addClient(t, h, 4)

	if err := h.Publish("status", "ready"); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{a, b} {
		msg := receive(t, c)
		if msg.Type != "status" || string(msg.Data) != `"ready"` {
			t.Errorf("unexpected message: %+v", msg)
		}
	}
	if h.ClientCount() != 2 {
		t.Errorf("expected 2 clients, got %d", h.ClientCount())
	}
}

func TestHubPreservesOrder(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, 16)

	for i := 0; i < 10; i++ {
		h.Publish("level", i)
	}
	for i := 0; i < 10; i++ {
		var got int
		if err := json.Unmarshal(receive(t, c).Data, &got); err != nil {
			t.Fatal(err)
		}
		if got != i {
			t.Fatalf("message %d out of order: %d", i, got)
		}
	}
}

func TestHubDropsSlowClient(t *testing.T) {
	h := startHub(t)
	slow := addClient(t, h, 1)

	h.Publish("level", 1)
	h.Publish("level", 2)

	deadline := time.Now().Add(time.Second)
	for h.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow client was not dropped")
		}
		time.Sleep(time.Millisecond)
	}

	<-slow.send
	if _, ok := <-slow.send; ok {
		t.Error("send channel should be closed")
	}
}

func TestHubUnregister(t *testing.T) {
	h := startHub(t)
	c := addClient(t, h, 1)
	h.unregister <- c
	h.unregister <- c

	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if h.ClientCount() != 0 {
		t.Errorf("expected 0 clients, got %d", h.ClientCount())
	}
}

func TestHubShutdown(t *testing.T) {
	h := New("test", log.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go h.Run(ctx)
	c := addClient(t, h, 1)

	cancel()
	select {
	case <-h.done:
	case <-time.After(time.Second):
		t.Fatal("hub did not stop")
	}
	if _, ok := <-c.send; ok {
		t.Error("send channel should be closed")
	}
	if NewClient(context.Background(), h, nil) != nil {
		t.Error("registration after shutdown should fail")
	}
}

func TestClientSend(t *testing.T) {
	c := &Client{send: make(chan Message, 1)}
	if !c.Send(Message{Type: "status"}) {
		t.Error("first send should succeed")
	}
	if c.Send(Message{Type: "status"}) {
		t.Error("second send should report a full buffer")
	}
}
