package cache

import "fmt"

// 键语义：
// - sessionKey(formID): 表单会话镜像（String，值为 JSON 快照，带 TTL）
// TTL 由调用方（Coordinator）给定，每次变更写入都会刷新。

const keySessionFmt = "form_session:%s" // String<SessionSnapshot JSON>

func sessionKey(formID string) string { return fmt.Sprintf(keySessionFmt, formID) }
