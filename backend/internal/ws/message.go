package ws

import (
	"formcollab/backend/internal/collab"
)

// 客户端入站消息。type ∈ join / leave / change / cursor / heartbeat。
// 连接断开等价于当前表单上的一次隐式 leave，不需要显式消息。
type ClientMessage struct {
	Type       string            `json:"type"`
	FormID     string            `json:"formId"`
	FieldID    string            `json:"fieldId,omitempty"`
	FieldKey   string            `json:"fieldKey,omitempty"`
	ChangeType collab.ChangeType `json:"changeType,omitempty"`
	OldValue   interface{}       `json:"oldValue,omitempty"`
	NewValue   interface{}       `json:"newValue,omitempty"`
	Position   int               `json:"position,omitempty"`
}

// 出站消息接口
type OutboundMessage interface {
	MessageType() string
}

// 隐式实现 OutboundMessage 接口
func (m ServerMessage) MessageType() string       { return m.Type }
func (m SessionMessage) MessageType() string      { return m.Type }
func (m ChangeResultMessage) MessageType() string { return m.Type }
func (m UpdateMessage) MessageType() string       { return m.Type }

// 通用应答 / 错误
type ServerMessage struct {
	Type    string `json:"type"`
	FormID  string `json:"formId,omitempty"`
	Content string `json:"content,omitempty"`
}

// join 的应答：整份会话视图 + 协作者列表，重连客户端据此一次性对齐状态
type SessionMessage struct {
	Type          string                `json:"type"` // 固定 "session"
	FormID        string                `json:"formId"`
	Session       *collab.EditSession   `json:"session"`
	Collaborators []collab.Collaborator `json:"collaborators"`
}

// change 的同步回执（只发给提交者本人；其他协作者走 realtime_update 广播）
type ChangeResultMessage struct {
	Type   string              `json:"type"` // 固定 "change_result"
	FormID string              `json:"formId"`
	Result collab.ChangeResult `json:"result"`
}

// 经 Broadcast Gateway 投递的事件信封（Type 固定 "realtime_update"）
type UpdateMessage struct {
	collab.EventEnvelope
}
