package ws

import (
	"context"
	"log"
	"sync"
	"time"

	"formcollab/backend/internal/collab"

	"github.com/gorilla/websocket"
)

type Conn struct {
	ws      *websocket.Conn
	hub     *Hub
	formID  string
	userID  uint64
	contact string
	send    chan OutboundMessage
	coord   *collab.Coordinator
	// 信号量控制：限制同时进入 Coordinator 的提交数
	sem *collab.SemaphoreControl

	sendMu     sync.Mutex
	sendClosed bool
}

func NewConn(ws *websocket.Conn, hub *Hub, userID uint64, contact string, coord *collab.Coordinator, sem *collab.SemaphoreControl) *Conn {
	return &Conn{ws: ws, hub: hub, userID: userID, contact: contact, send: make(chan OutboundMessage, 32), coord: coord, sem: sem}
}

func (c *Conn) SendMessage_Enqueue(msg OutboundMessage) {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		// 断开路径上 readLoop 退出和 Hub 摘除没有固定先后，
		// 晚到的广播直接丢弃，不能打在已关闭的通道上
		return
	}
	select {
	case c.send <- msg:
	default:
		// 队列满了则丢弃；掉队的客户端靠重连后的会话快照追平
	}
}

// Close：停掉出站队列，writeLoop 随通道关闭退出。可重复调用。
func (c *Conn) Close() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return
	}
	c.sendClosed = true
	close(c.send)
}

// handleChange：提交方永远拿到一个确定的同步结论
// （accepted / rejected / conflicted），其他协作者走广播。
func (c *Conn) handleChange(ctx context.Context, msg ClientMessage) {
	// 200ms 只约束排队等信号量；落库超时由 Coordinator 自己控制，
	// 不能让剩余的排队预算把持久化提前掐掉
	acquireCtx, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()

	if err := c.sem.Acquire(acquireCtx); err != nil {
		c.SendMessage_Enqueue(ServerMessage{Type: "error", FormID: msg.FormID, Content: err.Error()})
		return
	}
	defer c.sem.Release()

	result := c.coord.ApplyFieldChange(context.WithoutCancel(ctx), msg.FormID, collab.ChangeRequest{
		FieldID:    msg.FieldID,
		FieldKey:   msg.FieldKey,
		ChangeType: msg.ChangeType,
		OldValue:   msg.OldValue,
		NewValue:   msg.NewValue,
		UserID:     c.userID,
	})
	c.SendMessage_Enqueue(ChangeResultMessage{Type: "change_result", FormID: msg.FormID, Result: result})
}

func (c *Conn) readLoop(ctx context.Context) {
	defer c.Close()
	// 连接断开即隐式 leave：用户最后所在的表单会话随之清理
	defer func() {
		if c.formID != "" {
			c.coord.LeaveSession(context.Background(), c.formID, c.userID)
		}
	}()
	for {
		var msg ClientMessage
		if err := c.ws.ReadJSON(&msg); err != nil {
			log.Printf("read json error (user=%d, form=%s): %v", c.userID, c.formID, err)
			return
		}
		switch msg.Type {
		case "join":
			if msg.FormID == "" {
				c.SendMessage_Enqueue(ServerMessage{Type: "error", Content: "MISSING_FORM_ID"})
				continue
			}
			// 换表单时先离开旧会话，保证一个连接同一时刻只挂在一个表单上
			if c.formID != "" && c.formID != msg.FormID {
				c.coord.LeaveSession(ctx, c.formID, c.userID)
			}
			c.formID = msg.FormID
			session, members := c.coord.JoinSession(ctx, msg.FormID, collab.UserInfo{
				UserID:         c.userID,
				DisplayContact: c.contact,
			})
			c.SendMessage_Enqueue(SessionMessage{Type: "session", FormID: msg.FormID, Session: session, Collaborators: members})

		case "leave":
			if c.formID == "" {
				continue
			}
			c.coord.LeaveSession(ctx, c.formID, c.userID)
			c.SendMessage_Enqueue(ServerMessage{Type: "left", FormID: c.formID})
			c.formID = ""

		case "change":
			if msg.FormID == "" {
				msg.FormID = c.formID
			}
			c.handleChange(ctx, msg)

		case "cursor":
			formID := msg.FormID
			if formID == "" {
				formID = c.formID
			}
			c.coord.UpdateCursor(formID, c.userID, collab.CursorPosition{
				FieldID:  msg.FieldID,
				Position: msg.Position,
			})

		case "heartbeat":
			if c.formID != "" {
				c.coord.Touch(c.formID, c.userID)
			}
			c.SendMessage_Enqueue(ServerMessage{Type: "feedback", Content: "Heartbeat received"})

		default:
			// 忽略未知类型，回一条提示
			c.SendMessage_Enqueue(ServerMessage{Type: "ignored", Content: "Unknown message type"})
		}
	}
}

func (c *Conn) writeLoop() {
	// 持续消费通道中的出站消息
	for msg := range c.send {
		_ = c.ws.WriteJSON(msg)
	}
}
