package collab

import "time"

// FormEvent：发往 kafka 的协作事件（跨实例中继 / 离线消费者用）。
// 与推给客户端的 EventEnvelope 区分：这是服务端之间的镜像流，
// 以 formId 做分区 key，同一表单的事件天然有序。
type FormEvent struct {
	EventType string      `json:"eventType"` // user:joined / user:left / field:changed / session:evicted
	FormID    string      `json:"formId"`
	UserID    uint64      `json:"userId,omitempty"`
	Payload   interface{} `json:"payload,omitempty"`
	EmittedAt time.Time   `json:"emittedAt"`
}
