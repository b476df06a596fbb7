package ws

import (
	"log"
	"net/http"
	"strings"

	"formcollab/backend/internal/collab"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

// 全局的WebSocket upgrader（允许本地开发环境的来源）
var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || origin == "null" { // 一些环境可能不发送 Origin，或为 "null"
		return true
	}
	allowedPrefixes := []string{
		"http://localhost",
		"http://127.0.0.1",
		"https://localhost",
		"https://127.0.0.1",
	}
	for _, p := range allowedPrefixes {
		if strings.HasPrefix(origin, p) {
			return true
		}
	}
	return false
}}

type Manager struct {
	h     *Hub
	coord *collab.Coordinator
	sem   *collab.SemaphoreControl
}

func NewManager(h *Hub, coord *collab.Coordinator, sem *collab.SemaphoreControl) *Manager {
	return &Manager{h: h, coord: coord, sem: sem}
}

// WebSocketConnect：升级连接并进入读写循环。
// 身份（userId / displayContact）由鉴权中间件解析后写入 gin context，
// 这里只消费结果，不做任何鉴权决策。
func (m *Manager) WebSocketConnect(c *gin.Context) {
	userID := c.GetUint64("userId")
	contact := c.GetString("displayContact")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("websocket upgrade error: %v (origin=%s)", err, c.Request.Header.Get("Origin"))
		return
	}
	defer conn.Close()

	wsConn := NewConn(conn, m.h, userID, contact, m.coord, m.sem)
	m.h.Register(userID, wsConn)
	defer m.h.Unregister(userID, wsConn)

	// 先启动写循环，确保后续写入 send 通道的消息可以被及时发送
	go wsConn.writeLoop()
	wsConn.send <- ServerMessage{Type: "welcome", Content: "connected"}

	// 读循环阻塞至连接关闭
	wsConn.readLoop(c.Request.Context())
}
