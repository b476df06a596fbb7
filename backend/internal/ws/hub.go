package ws

import (
	"sync"

	"formcollab/backend/internal/collab"
)

// Hub：Broadcast Gateway 的进程内实现，按 userId 寻址。
// 为什么存的是 map[*Conn] 而不是单个连接：
// 一个用户可开多个标签页/设备（多连接），投递要逐连接发。
type Hub struct {
	mu sync.RWMutex
	// userID -> set of connections
	conns map[uint64]map[*Conn]struct{}
}

func NewHub() *Hub {
	return &Hub{conns: make(map[uint64]map[*Conn]struct{})}
}

func (h *Hub) Register(userID uint64, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.conns[userID] == nil {
		h.conns[userID] = make(map[*Conn]struct{})
	}
	h.conns[userID][c] = struct{}{}
}

func (h *Hub) Unregister(userID uint64, c *Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.conns[userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.conns, userID)
		}
	}
}

// Notify：尽力而为的投递。收件人不在线或发送队列已满就丢，
// 不阻塞、不向发起方报错（掉线客户端靠重连后的会话快照追平）。
func (h *Hub) Notify(userID uint64, env collab.EventEnvelope) {
	h.mu.RLock()
	targets := make([]*Conn, 0, len(h.conns[userID]))
	for c := range h.conns[userID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()
	for _, c := range targets {
		c.SendMessage_Enqueue(UpdateMessage{EventEnvelope: env})
	}
}
