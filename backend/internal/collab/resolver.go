package collab

// Resolve：给定策略和同一字段上的两个不同作者的变更，决定最终落账的那一个。
// 纯函数，不碰任何共享状态；是否构成冲突（existing.UserID != incoming.UserID）
// 由调用方判定，这里只负责“冲突了怎么办”。
func Resolve(policy ConflictPolicy, existing, incoming FieldChange) FieldChange {
	switch policy {
	case PolicyMerge:
		return resolveMerge(existing, incoming)
	case PolicyManual:
		return resolveManual(existing, incoming)
	default:
		// last-writer-wins：无条件采用 incoming，existing 的作者和时间戳直接丢弃
		return incoming
	}
}

// merge：仅当双方都是 value 变更、且双方 newValue 都是对象（map）时，
// 做浅合并（incoming 的键覆盖 existing）；其余情况退化为 last-writer-wins。
// 标量值的并发编辑在这里会静默退化——败方只能从对方响应里的 conflicts 看到，
// 这是有意保留的不对称行为。
func resolveMerge(existing, incoming FieldChange) FieldChange {
	if existing.ChangeType != ChangeValue || incoming.ChangeType != ChangeValue {
		return incoming
	}
	oldMap, ok1 := asObject(existing.NewValue)
	newMap, ok2 := asObject(incoming.NewValue)
	if !ok1 || !ok2 {
		return incoming
	}
	merged := make(map[string]interface{}, len(oldMap)+len(newMap))
	for k, v := range oldMap {
		merged[k] = v
	}
	for k, v := range newMap {
		merged[k] = v
	}
	out := incoming
	out.NewValue = merged
	return out
}

// manual：不替任何一方做决定，合成一个带双方候选值的 value 变更，
// 交给人来挑（客户端看到 newValue.conflicted == true 时弹出选择 UI）
func resolveManual(existing, incoming FieldChange) FieldChange {
	out := incoming
	out.ChangeType = ChangeValue
	out.NewValue = map[string]interface{}{
		"conflicted": true,
		"options":    []interface{}{existing.NewValue, incoming.NewValue},
		"timestamp":  incoming.AppliedAt,
	}
	return out
}

// asObject：JSON 解码后的对象一律是 map[string]interface{}
func asObject(v interface{}) (map[string]interface{}, bool) {
	m, ok := v.(map[string]interface{})
	return m, ok
}
