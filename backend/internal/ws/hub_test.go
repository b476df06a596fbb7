package ws

import (
	"testing"
	"time"

	"formcollab/backend/internal/collab"
)

func testEnvelope(userID uint64) collab.EventEnvelope {
	return collab.EventEnvelope{
		Type:      "realtime_update",
		Entity:    "form_collaboration",
		EntityID:  "f1",
		UserID:    userID,
		Timestamp: time.Now(),
	}
}

func recv(t *testing.T, c *Conn) OutboundMessage {
	t.Helper()
	select {
	case msg := <-c.send:
		return msg
	case <-time.After(time.Second):
		t.Fatal("no message enqueued")
		return nil
	}
}

func TestHub_NotifyRoutesByUserID(t *testing.T) {
	h := NewHub()
	c1 := NewConn(nil, h, 1, "u1@example.com", nil, nil)
	c2 := NewConn(nil, h, 2, "u2@example.com", nil, nil)
	h.Register(1, c1)
	h.Register(2, c2)

	h.Notify(1, testEnvelope(1))

	msg := recv(t, c1)
	if msg.MessageType() != "realtime_update" {
		t.Fatalf("MessageType() = %q, want realtime_update", msg.MessageType())
	}
	select {
	case got := <-c2.send:
		t.Fatalf("user 2 received %+v, want nothing", got)
	default:
	}
}

func TestHub_NotifyFansOutToAllUserConnections(t *testing.T) {
	h := NewHub()
	// 同一用户两个标签页
	c1 := NewConn(nil, h, 1, "u1@example.com", nil, nil)
	c2 := NewConn(nil, h, 1, "u1@example.com", nil, nil)
	h.Register(1, c1)
	h.Register(1, c2)

	h.Notify(1, testEnvelope(1))
	recv(t, c1)
	recv(t, c2)
}

func TestHub_NotifyUnknownUserIsNoop(t *testing.T) {
	h := NewHub()
	h.Notify(42, testEnvelope(42)) // 不 panic 即可
}

func TestHub_UnregisterStopsDelivery(t *testing.T) {
	h := NewHub()
	c := NewConn(nil, h, 1, "u1@example.com", nil, nil)
	h.Register(1, c)
	h.Unregister(1, c)

	h.Notify(1, testEnvelope(1))
	select {
	case got := <-c.send:
		t.Fatalf("received %+v after unregister, want nothing", got)
	default:
	}
}

func TestHub_NotifyAfterConnCloseDoesNotPanic(t *testing.T) {
	h := NewHub()
	c := NewConn(nil, h, 1, "u1@example.com", nil, nil)
	h.Register(1, c)

	// 断开时读循环先关出站队列，Hub 摘除随后才发生；
	// 这个窗口里广播方可能还拿着旧的接收者列表
	c.Close()
	h.Notify(1, testEnvelope(1))

	select {
	case got, ok := <-c.send:
		if ok {
			t.Fatalf("received %+v after close, want nothing", got)
		}
	default:
	}
	h.Unregister(1, c)
}

func TestConn_CloseIsIdempotent(t *testing.T) {
	c := NewConn(nil, NewHub(), 1, "", nil, nil)
	c.Close()
	c.Close() // 二次关闭不 panic
	c.SendMessage_Enqueue(ServerMessage{Type: "feedback"})
}

func TestConn_EnqueueDropsWhenFull(t *testing.T) {
	h := NewHub()
	c := NewConn(nil, h, 1, "", nil, nil)
	for i := 0; i < cap(c.send)+10; i++ {
		c.SendMessage_Enqueue(ServerMessage{Type: "feedback"})
	}
	if got := len(c.send); got != cap(c.send) {
		t.Fatalf("len(send) = %d, want capped at %d", got, cap(c.send))
	}
}
