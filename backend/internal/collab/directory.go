package collab

import (
	"sort"
	"sync"
	"time"
)

// Directory：记录“哪些用户正在编辑哪个表单”以及各自的光标。
// 只做内存 map 的维护，持久化/广播是 Coordinator 的事。
// 复合操作（读 ledger + 写 directory）的原子性由 Coordinator 的会话锁保证，
// 这里的锁只保护 map 本身不被并发读写打坏。
type Directory struct {
	mu sync.RWMutex
	// formID -> userID -> collaborator
	rooms map[string]map[uint64]*Collaborator
}

func NewDirectory() *Directory {
	return &Directory{rooms: make(map[string]map[uint64]*Collaborator)}
}

// Join：幂等 upsert。同一 (formID, userID) 重复加入是覆盖，
// joinedAt / lastActivityAt 一并刷新。
func (d *Directory) Join(formID string, user UserInfo) Collaborator {
	d.mu.Lock()
	defer d.mu.Unlock()
	room := d.rooms[formID]
	if room == nil {
		room = make(map[uint64]*Collaborator)
		d.rooms[formID] = room
	}
	now := time.Now()
	c := &Collaborator{
		UserID:         user.UserID,
		DisplayContact: user.DisplayContact,
		JoinedAt:       now,
		LastActivityAt: now,
		Active:         true,
	}
	room[user.UserID] = c
	return *c
}

// Leave：移除成员。返回 (是否真的移除了, 移除后房间是否已空)。
// 房间空了由调用方决定是否销毁会话，这里只把空 map 清掉。
func (d *Directory) Leave(formID string, userID uint64) (removed bool, empty bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	room, ok := d.rooms[formID]
	if !ok {
		return false, false
	}
	if _, ok := room[userID]; !ok {
		return false, len(room) == 0
	}
	delete(room, userID)
	if len(room) == 0 {
		delete(d.rooms, formID)
		return true, true
	}
	return true, false
}

// Touch：刷新活跃时间。用户不在房间时静默失败（false）。
func (d *Directory) Touch(formID string, userID uint64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.lookup(formID, userID)
	if c == nil {
		return false
	}
	c.LastActivityAt = time.Now()
	return true
}

func (d *Directory) SetCursor(formID string, userID uint64, cursor CursorPosition) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := d.lookup(formID, userID)
	if c == nil {
		return false
	}
	cur := cursor
	c.Cursor = &cur
	c.LastActivityAt = time.Now()
	return true
}

func (d *Directory) Has(formID string, userID uint64) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.lookup(formID, userID) != nil
}

// Members：按 userID 排序返回拷贝，保证快照序列化顺序稳定
func (d *Directory) Members(formID string) []Collaborator {
	d.mu.RLock()
	defer d.mu.RUnlock()
	room := d.rooms[formID]
	if len(room) == 0 {
		return nil
	}
	out := make([]Collaborator, 0, len(room))
	for _, c := range room {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out
}

func (d *Directory) Count(formID string) int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.rooms[formID])
}

// FormsOf：某个用户当前在哪些表单的会话里（getUserActiveSessions 用）
func (d *Directory) FormsOf(userID uint64) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	var forms []string
	for formID, room := range d.rooms {
		if _, ok := room[userID]; ok {
			forms = append(forms, formID)
		}
	}
	sort.Strings(forms)
	return forms
}

// DropForm：会话销毁时整房间清理（最后一人离开 / reaper 回收）
func (d *Directory) DropForm(formID string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.rooms, formID)
}

func (d *Directory) lookup(formID string, userID uint64) *Collaborator {
	room, ok := d.rooms[formID]
	if !ok {
		return nil
	}
	return room[userID]
}
