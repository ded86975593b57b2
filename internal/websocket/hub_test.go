package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"testing"
	"time"

	fws "github.com/fasthttp/websocket"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"

	"github.com/bookvision/visualization/internal/logger"
	"github.com/bookvision/visualization/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	h := NewHub(logger.Nop())
	go h.Run(ctx)
	return h
}

func receive(t *testing.T, c *Client) model.WSEventMessage {
	t.Helper()
	select {
	case data, ok := <-c.Send:
		if !ok {
			t.Fatal("client channel closed")
		}
		var msg model.WSEventMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("invalid message: %v", err)
		}
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
	return model.WSEventMessage{}
}

func event(jobID, eventType string) model.Event {
	return model.Event{ID: eventType, Type: eventType, JobID: jobID, BookID: "book-1", UserID: "user-1"}
}

func TestHub_DeliversToEveryGroup(t *testing.T) {
	h := startHub(t)
	jobSub := h.Subscribe(model.JobGroup("job-1"))
	bookSub := h.Subscribe(model.BookGroup("book-1"))
	userSub := h.Subscribe(model.UserGroup("user-1"))
	other := h.Subscribe(model.JobGroup("job-2"))

	if err := h.Publish(context.Background(), event("job-1", model.EventJobQueued)); err != nil {
		t.Fatal(err)
	}

	for _, c := range []*Client{jobSub, bookSub, userSub} {
		msg := receive(t, c)
		if msg.Type != model.WSMessageTypeEvent || msg.Event.Type != model.EventJobQueued || msg.Group != c.Group {
			t.Errorf("unexpected message %+v for %s", msg, c.Group)
		}
	}

	select {
	case data := <-other.Send:
		t.Errorf("unrelated subscriber received %s", data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_PreservesPerJobOrder(t *testing.T) {
	h := startHub(t)
	sub := h.Subscribe(model.JobGroup("job-1"))

	const n = 100
	for i := 0; i < n; i++ {
		_ = h.Publish(context.Background(), event("job-1", fmt.Sprintf("e%03d", i)))
	}

	for i := 0; i < n; i++ {
		if got := receive(t, sub).Event.Type; got != fmt.Sprintf("e%03d", i) {
			t.Fatalf("event %d out of order: %s", i, got)
		}
	}
}

func TestHub_PublishDoesNotBlockOnSlowSubscriber(t *testing.T) {
	h := startHub(t)
	slow := h.Subscribe(model.JobGroup("job-1"))

	done := make(chan struct{})
	go func() {
		for i := 0; i < sendBuffer*4; i++ {
			_ = h.Publish(context.Background(), event("job-1", model.EventJobQueued))
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked")
	}

	deadline := time.Now().Add(2 * time.Second)
	for h.SubscriberCount(slow.Group) != 0 {
		if time.Now().After(deadline) {
			t.Fatal("slow subscriber was not dropped")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHub_Unsubscribe(t *testing.T) {
	h := startHub(t)
	c := h.Subscribe(model.UserGroup("user-1"))
	if n := h.SubscriberCount(c.Group); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	h.Unsubscribe(c)
	if _, ok := <-c.Send; ok {
		t.Error("expected closed channel after unsubscribe")
	}
	if n := h.SubscriberCount(c.Group); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}

	// Publishing to an empty group is a no-op.
	_ = h.Publish(context.Background(), event("job-1", model.EventJobCancelled))
}

func TestHub_UnsubscribeAfterStop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	h := NewHub(logger.Nop())
	stopped := make(chan struct{})
	go func() {
		h.Run(ctx)
		close(stopped)
	}()

	c := h.Subscribe(model.JobGroup("job-1"))
	cancel()
	<-stopped

	returned := make(chan struct{})
	go func() {
		h.Unsubscribe(c)
		late := h.Subscribe(model.JobGroup("job-2"))
		if _, ok := <-late.Send; ok {
			t.Error("expected a closed client from a stopped hub")
		}
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Unsubscribe blocked after the hub stopped")
	}
	if _, ok := <-c.Send; ok {
		t.Error("expected closed channel after shutdown")
	}
}

func TestHub_HandleConnection(t *testing.T) {
	h := startHub(t)

	app := fiber.New()
	app.Get("/ws", websocket.New(func(c *websocket.Conn) {
		h.HandleConnection(c, model.JobGroup("job-1"))
	}))
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = app.Listener(ln) }()
	t.Cleanup(func() { _ = app.Shutdown() })

	conn, _, err := fws.DefaultDialer.Dial("ws://"+ln.Addr().String()+"/ws", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	readType := func() map[string]interface{} {
		t.Helper()
		var msg map[string]interface{}
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("read: %v", err)
		}
		return msg
	}

	if msg := readType(); msg["type"] != model.WSMessageTypeSubscribed || msg["group"] != "job:job-1" {
		t.Fatalf("expected subscription ack, got %v", msg)
	}

	_ = conn.WriteJSON(model.WSMessage{Type: model.WSMessageTypePing})
	if msg := readType(); msg["type"] != model.WSMessageTypePong {
		t.Errorf("expected pong, got %v", msg)
	}

	_ = conn.WriteMessage(fws.TextMessage, []byte("not json"))
	if msg := readType(); msg["type"] != model.WSMessageTypeError {
		t.Errorf("expected error reply, got %v", msg)
	}

	_ = h.Publish(context.Background(), event("job-1", model.EventJobCompleted))
	msg := readType()
	if msg["type"] != model.WSMessageTypeEvent {
		t.Fatalf("expected event, got %v", msg)
	}
	if e, _ := msg["event"].(map[string]interface{}); e["type"] != model.EventJobCompleted {
		t.Errorf("expected completed event, got %v", msg["event"])
	}
}
