package collab

import (
	"time"
)

// 冲突解决策略。三种策略集中在一个 Resolve 决策函数里分发（而不是子类化），
// 方便测试时把决策表放在一处看全。
type ConflictPolicy string

const (
	PolicyLastWriterWins ConflictPolicy = "last-writer-wins"
	PolicyMerge          ConflictPolicy = "merge"
	PolicyManual         ConflictPolicy = "manual"
)

// 变更类型
type ChangeType string

const (
	ChangeValue   ChangeType = "value"
	ChangeConfig  ChangeType = "config"
	ChangeAdd     ChangeType = "add"
	ChangeRemove  ChangeType = "remove"
	ChangeReorder ChangeType = "reorder"
)

// 光标状态（瞬态数据，不落 Session Store）
type CursorPosition struct {
	FieldID  string `json:"fieldId"`
	Position int    `json:"position"`
}

// 会话内的一个协作者。以 userId 唯一标识（重复 join 是覆盖，不是新增）。
type Collaborator struct {
	UserID         uint64          `json:"userId"`
	DisplayContact string          `json:"displayContact"`
	JoinedAt       time.Time       `json:"joinedAt"`
	LastActivityAt time.Time       `json:"lastActivityAt"`
	Cursor         *CursorPosition `json:"cursor,omitempty"`
	Active         bool            `json:"active"`
}

// join 入参：身份已在上游（auth middleware）解析完毕，这里只接收结果
type UserInfo struct {
	UserID         uint64 `json:"userId"`
	DisplayContact string `json:"displayContact"`
}

// 一次字段变更。创建后不可变：同字段的后续变更是“取代”，不是原地修改。
type FieldChange struct {
	ChangeID   string      `json:"changeId"`
	FieldID    string      `json:"fieldId"`
	FieldKey   string      `json:"fieldKey"`
	ChangeType ChangeType  `json:"changeType"`
	OldValue   interface{} `json:"oldValue,omitempty"`
	NewValue   interface{} `json:"newValue"`
	UserID     uint64      `json:"userId"`
	AppliedAt  time.Time   `json:"appliedAt"`
}

// applyFieldChange 的入参：changeId / appliedAt 由服务端盖章，客户端不传
type ChangeRequest struct {
	FieldID    string      `json:"fieldId"`
	FieldKey   string      `json:"fieldKey"`
	ChangeType ChangeType  `json:"changeType"`
	OldValue   interface{} `json:"oldValue,omitempty"`
	NewValue   interface{} `json:"newValue"`
	UserID     uint64      `json:"userId"`
}

// applyFieldChange 的同步返回结果。
// 会话不存在 / 用户不在会话中属于“正常失败”，走 Accepted=false + Reason，
// 不作为 error 抛出（提交方永远能拿到一个确定结论）。
type ChangeResult struct {
	Accepted       bool          `json:"accepted"`
	Reason         string        `json:"reason,omitempty"`
	Conflicts      []FieldChange `json:"conflicts,omitempty"`
	ResolvedChange *FieldChange  `json:"resolvedChange,omitempty"`
	VersionNumber  uint64        `json:"versionNumber,omitempty"`
}

// 内存态会话视图（getSession / join 返回用）。
// Collaborators / ActiveChanges 是拷贝，调用方可以任意持有。
type EditSession struct {
	FormID         string                  `json:"formId"`
	Collaborators  map[uint64]Collaborator `json:"collaborators"`
	ActiveChanges  map[string]FieldChange  `json:"activeChanges"`
	VersionNumber  uint64                  `json:"versionNumber"`
	LastSavedAt    time.Time               `json:"lastSavedAt"`
	ConflictPolicy ConflictPolicy          `json:"conflictPolicy"`
}

// Session Store 镜像用的可移植快照：map 转成有序列表，
// 避免不同运行时对 map 序列化顺序的差异。
type SessionSnapshot struct {
	FormID         string         `json:"formId"`
	Collaborators  []Collaborator `json:"collaborators"`
	ActiveChanges  []FieldChange  `json:"activeChanges"`
	VersionNumber  uint64         `json:"versionNumber"`
	LastSavedAt    time.Time      `json:"lastSavedAt"`
	ConflictPolicy ConflictPolicy `json:"conflictPolicy"`
}

// 推送给客户端的事件信封（经 Broadcast Gateway 投递，按 userId 寻址）
type EventEnvelope struct {
	Type      string    `json:"type"`   // 固定 "realtime_update"
	Entity    string    `json:"entity"` // 固定 "form_collaboration"
	EntityID  string    `json:"entityId"`
	UserID    uint64    `json:"userId"`
	Data      EventData `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

type EventData struct {
	EventType string      `json:"eventType"` // user:joined / user:left / field:changed / cursor:moved
	FormID    string      `json:"formId"`
	Timestamp time.Time   `json:"timestamp"`
	Payload   interface{} `json:"payload"`
}

const (
	EventUserJoined   = "user:joined"
	EventUserLeft     = "user:left"
	EventFieldChanged = "field:changed"
	EventCursorMoved  = "cursor:moved"
)

// field:changed 的 payload：带上 versionNumber，客户端据此丢弃乱序到达的消息
type FieldChangedPayload struct {
	Change        FieldChange   `json:"change"`
	Conflicts     []FieldChange `json:"conflicts,omitempty"`
	VersionNumber uint64        `json:"versionNumber"`
}

type CursorMovedPayload struct {
	UserID uint64         `json:"userId"`
	Cursor CursorPosition `json:"cursor"`
}

type PresencePayload struct {
	UserID         uint64 `json:"userId"`
	DisplayContact string `json:"displayContact,omitempty"`
	Collaborators  int    `json:"collaborators"`
}
