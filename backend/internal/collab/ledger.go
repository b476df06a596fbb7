package collab

import (
	"sort"
	"sync"
)

// Ledger：每个字段“最近一次被接受的变更”。
// 冲突检测的唯一依据：同一字段是否已有别人提交的在途变更。
// 注意存的是“解决后”的变更——并发提交的败方不会覆盖这里（LWW 除外）。
type Ledger struct {
	mu sync.RWMutex
	// formID -> fieldID -> 最近一次被接受的变更
	fields map[string]map[string]FieldChange
}

func NewLedger() *Ledger {
	return &Ledger{fields: make(map[string]map[string]FieldChange)}
}

// RecordAccepted：登记为该字段的当前状态，直接取代旧条目
func (l *Ledger) RecordAccepted(formID string, ch FieldChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	form := l.fields[formID]
	if form == nil {
		form = make(map[string]FieldChange)
		l.fields[formID] = form
	}
	form[ch.FieldID] = ch
}

// CurrentFor：没有在途变更时返回 nil
func (l *Ledger) CurrentFor(formID, fieldID string) *FieldChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	form, ok := l.fields[formID]
	if !ok {
		return nil
	}
	ch, ok := form[fieldID]
	if !ok {
		return nil
	}
	return &ch
}

// Changes：按 fieldID 排序返回拷贝（快照序列化用）
func (l *Ledger) Changes(formID string) []FieldChange {
	l.mu.RLock()
	defer l.mu.RUnlock()
	form := l.fields[formID]
	if len(form) == 0 {
		return nil
	}
	out := make([]FieldChange, 0, len(form))
	for _, ch := range form {
		out = append(out, ch)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FieldID < out[j].FieldID })
	return out
}

func (l *Ledger) Count(formID string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.fields[formID])
}

// Restore：从持久化快照恢复（进程重启后续命用）
func (l *Ledger) Restore(formID string, changes []FieldChange) {
	l.mu.Lock()
	defer l.mu.Unlock()
	form := make(map[string]FieldChange, len(changes))
	for _, ch := range changes {
		form[ch.FieldID] = ch
	}
	l.fields[formID] = form
}

func (l *Ledger) DropForm(formID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.fields, formID)
}
