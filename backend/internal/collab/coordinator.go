package collab

import (
	"context"
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// 会话镜像存储接口（只声明，redis 实现在 cache 包）
type SessionStore interface {
	PutSession(ctx context.Context, formID string, snap *SessionSnapshot, ttl time.Duration) error
	// 不存在时返回 (nil, nil)
	GetSession(ctx context.Context, formID string) (*SessionSnapshot, error)
	DeleteSession(ctx context.Context, formID string) error
}

// 广播网关接口：按 userId 投递，尽力而为（实现在 ws 包）
type Notifier interface {
	Notify(userID uint64, env EventEnvelope)
}

// 变更审计存档接口（mysql 实现在 store 包）
type ChangeArchive interface {
	ArchiveChange(ctx context.Context, formID string, version uint64, ch FieldChange) error
}

var (
	ErrSessionNotFound = errors.New("SESSION_NOT_FOUND")
	ErrNotInSession    = errors.New("USER_NOT_IN_SESSION")
)

// 每张表单一个会话控制块。
// 复合操作（读 ledger -> 决策 -> 写回 -> 版本 +1）必须在 mu 内完成：
// 同一表单互斥，不同表单完全并行。
type session struct {
	mu          sync.Mutex
	formID      string
	policy      ConflictPolicy
	version     uint64
	lastSavedAt time.Time
	// 会话被销毁（最后一人离开 / reaper 回收）后置位。
	// 拿到旧指针再加锁的并发方以此识别“僵尸会话”。
	closed bool
}

type CoordinatorOptions struct {
	// Session Store 镜像的 TTL，每次变更写入都会刷新
	SessionTTL time.Duration
	// Session Store / 存档调用的超时上限
	IOTimeout time.Duration
	// 新会话的默认冲突策略
	DefaultPolicy ConflictPolicy
}

// Coordinator：会话编排核心。
// registry 锁只管会话的创建/删除/遍历，会话内的变更走各自的 session.mu，
// 避免不相关表单的编辑互相串行。
type Coordinator struct {
	mu       sync.RWMutex
	sessions map[string]*session

	directory *Directory
	ledger    *Ledger

	// 依赖注入，均允许为 nil（测试 / 降级场景）
	store      SessionStore
	notifier   Notifier
	archive    ChangeArchive
	dispatcher *EventDispatcher

	sessionTTL    time.Duration
	ioTimeout     time.Duration
	defaultPolicy ConflictPolicy
}

func NewCoordinator(store SessionStore, notifier Notifier, archive ChangeArchive, dispatcher *EventDispatcher, opt CoordinatorOptions) *Coordinator {
	if opt.SessionTTL <= 0 {
		opt.SessionTTL = time.Hour
	}
	if opt.IOTimeout <= 0 {
		opt.IOTimeout = 2 * time.Second
	}
	if opt.DefaultPolicy == "" {
		opt.DefaultPolicy = PolicyLastWriterWins
	}
	return &Coordinator{
		sessions:      make(map[string]*session),
		directory:     NewDirectory(),
		ledger:        NewLedger(),
		store:         store,
		notifier:      notifier,
		archive:       archive,
		dispatcher:    dispatcher,
		sessionTTL:    opt.SessionTTL,
		ioTimeout:     opt.IOTimeout,
		defaultPolicy: opt.DefaultPolicy,
	}
}

// getOrCreateSession：双重检查创建。
// 首次创建时若 redis 里还留着上一个进程的镜像，则从镜像恢复
// version / activeChanges / policy（协作者不恢复——他们的连接已随旧进程一起没了）。
func (co *Coordinator) getOrCreateSession(ctx context.Context, formID string) *session {
	co.mu.RLock()
	s := co.sessions[formID]
	co.mu.RUnlock()
	if s != nil {
		return s
	}
	// 镜像预取放在拿写锁之前：注册表锁内不做 IO，
	// 一次慢查询不能把所有表单的读路径都卡住
	var snap *SessionSnapshot
	if co.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, co.ioTimeout)
		var err error
		snap, err = co.store.GetSession(storeCtx, formID)
		cancel()
		if err != nil {
			log.Printf("load session mirror error (form=%s): %v", formID, err)
			snap = nil
		}
	}
	co.mu.Lock()
	defer co.mu.Unlock()
	if s = co.sessions[formID]; s != nil {
		// 并发创建者抢先了，预取的镜像作废
		return s
	}
	s = &session{formID: formID, policy: co.defaultPolicy, version: 1}
	if snap != nil {
		s.version = snap.VersionNumber
		if snap.ConflictPolicy != "" {
			s.policy = snap.ConflictPolicy
		}
		co.ledger.Restore(formID, snap.ActiveChanges)
		log.Printf("session rehydrated (form=%s, version=%d, changes=%d)", formID, s.version, len(snap.ActiveChanges))
	}
	co.sessions[formID] = s
	return s
}

func (co *Coordinator) lookupSession(formID string) *session {
	co.mu.RLock()
	defer co.mu.RUnlock()
	return co.sessions[formID]
}

// JoinSession：不存在则懒创建会话（version=1，默认策略），登记协作者，
// 持久化快照，并把 user:joined 广播给“其他”协作者（加入者自己不收）。
// 返回加入后的会话视图 + 协作者列表，供重连客户端一次性对齐状态。
func (co *Coordinator) JoinSession(ctx context.Context, formID string, user UserInfo) (*EditSession, []Collaborator) {
	for {
		s := co.getOrCreateSession(ctx, formID)
		s.mu.Lock()
		if s.closed {
			// 拿到指针后会话恰好被销毁：重走创建路径
			s.mu.Unlock()
			continue
		}
		co.directory.Join(formID, user)
		members := co.directory.Members(formID)
		view := co.sessionViewLocked(s)
		co.persistLocked(ctx, s)
		s.mu.Unlock()

		co.broadcast(formID, user.UserID, EventUserJoined, PresencePayload{
			UserID:         user.UserID,
			DisplayContact: user.DisplayContact,
			Collaborators:  len(members),
		}, members)
		co.publish(formID, user.UserID, EventUserJoined, nil)
		return view, members
	}
}

// LeaveSession：会话或协作者不存在时为 no-op。
// 最后一人离开时同时从内存注册表和 Session Store 删除会话。
func (co *Coordinator) LeaveSession(ctx context.Context, formID string, userID uint64) {
	s := co.lookupSession(formID)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	removed, empty := co.directory.Leave(formID, userID)
	if !removed {
		s.mu.Unlock()
		return
	}
	if empty {
		co.teardownLocked(ctx, s)
		s.mu.Unlock()
		co.publish(formID, userID, EventUserLeft, nil)
		return
	}
	members := co.directory.Members(formID)
	co.persistLocked(ctx, s)
	s.mu.Unlock()

	co.broadcast(formID, userID, EventUserLeft, PresencePayload{
		UserID:        userID,
		Collaborators: len(members),
	}, members)
	co.publish(formID, userID, EventUserLeft, nil)
}

// ApplyFieldChange：变更提交主链路。
// 整个 读账本 -> 决策 -> 写回 -> version+1 在会话锁内完成，
// 后一个并发提交看到的一定是前一个已更新过的账本（即使前者的持久化还在路上）。
func (co *Coordinator) ApplyFieldChange(ctx context.Context, formID string, req ChangeRequest) ChangeResult {
	s := co.lookupSession(formID)
	if s == nil {
		return ChangeResult{Accepted: false, Reason: ErrSessionNotFound.Error()}
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ChangeResult{Accepted: false, Reason: ErrSessionNotFound.Error()}
	}
	if !co.directory.Has(formID, req.UserID) {
		s.mu.Unlock()
		return ChangeResult{Accepted: false, Reason: ErrNotInSession.Error()}
	}

	incoming := FieldChange{
		ChangeID:   "c-" + uuid.NewString(),
		FieldID:    req.FieldID,
		FieldKey:   req.FieldKey,
		ChangeType: req.ChangeType,
		OldValue:   req.OldValue,
		NewValue:   req.NewValue,
		UserID:     req.UserID,
		AppliedAt:  time.Now(),
	}

	resolved := incoming
	var conflicts []FieldChange
	// 冲突判定：同字段已有“别人”提交的在途变更。
	// 同作者覆盖自己的变更不算冲突，原样接受。
	if existing := co.ledger.CurrentFor(formID, req.FieldID); existing != nil && existing.UserID != incoming.UserID {
		conflicts = []FieldChange{*existing}
		resolved = Resolve(s.policy, *existing, incoming)
	}

	co.ledger.RecordAccepted(formID, resolved)
	s.version++
	version := s.version
	co.directory.Touch(formID, req.UserID)
	members := co.directory.Members(formID)
	co.persistLocked(ctx, s)
	s.mu.Unlock()

	// 广播排除的是“被接受变更”的作者（三种策略下都等于 incoming 的作者）
	co.broadcast(formID, resolved.UserID, EventFieldChanged, FieldChangedPayload{
		Change:        resolved,
		Conflicts:     conflicts,
		VersionNumber: version,
	}, members)
	co.publish(formID, resolved.UserID, EventFieldChanged, FieldChangedPayload{
		Change:        resolved,
		Conflicts:     conflicts,
		VersionNumber: version,
	})
	co.archiveChange(formID, version, resolved)

	return ChangeResult{
		Accepted:       true,
		Conflicts:      conflicts,
		ResolvedChange: &resolved,
		VersionNumber:  version,
	}
}

// UpdateCursor：光标是高频瞬态数据——不落 Session Store、不动 versionNumber，
// 只广播给其他协作者。会话或协作者不存在时 no-op。
func (co *Coordinator) UpdateCursor(formID string, userID uint64, cursor CursorPosition) {
	s := co.lookupSession(formID)
	if s == nil {
		return
	}
	s.mu.Lock()
	if s.closed || !co.directory.SetCursor(formID, userID, cursor) {
		s.mu.Unlock()
		return
	}
	members := co.directory.Members(formID)
	s.mu.Unlock()

	co.broadcast(formID, userID, EventCursorMoved, CursorMovedPayload{
		UserID: userID,
		Cursor: cursor,
	}, members)
}

// Touch：心跳续活（ws 层 heartbeat 消息用）
func (co *Coordinator) Touch(formID string, userID uint64) bool {
	s := co.lookupSession(formID)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	return co.directory.Touch(formID, userID)
}

// GetSession：纯内存读。不存在返回 nil。
func (co *Coordinator) GetSession(formID string) *EditSession {
	s := co.lookupSession(formID)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	return co.sessionViewLocked(s)
}

func (co *Coordinator) GetUserActiveSessions(userID uint64) []string {
	return co.directory.FormsOf(userID)
}

type FormStat struct {
	FormID        string `json:"formId"`
	Collaborators int    `json:"collaborators"`
}

type Stats struct {
	ActiveSessions     int        `json:"activeSessions"`
	TotalCollaborators int        `json:"totalCollaborators"`
	ActiveChanges      int        `json:"activeChanges"`
	TopForms           []FormStat `json:"topFormsByCollaboratorCount"`
}

// GetStats：观测用只读快照。top 榜取协作者数前 5 的表单。
func (co *Coordinator) GetStats() Stats {
	co.mu.RLock()
	formIDs := make([]string, 0, len(co.sessions))
	for formID := range co.sessions {
		formIDs = append(formIDs, formID)
	}
	co.mu.RUnlock()

	st := Stats{ActiveSessions: len(formIDs)}
	for _, formID := range formIDs {
		n := co.directory.Count(formID)
		st.TotalCollaborators += n
		st.ActiveChanges += co.ledger.Count(formID)
		st.TopForms = append(st.TopForms, FormStat{FormID: formID, Collaborators: n})
	}
	sort.Slice(st.TopForms, func(i, j int) bool {
		if st.TopForms[i].Collaborators != st.TopForms[j].Collaborators {
			return st.TopForms[i].Collaborators > st.TopForms[j].Collaborators
		}
		return st.TopForms[i].FormID < st.TopForms[j].FormID
	})
	if len(st.TopForms) > 5 {
		st.TopForms = st.TopForms[:5]
	}
	return st
}

// sessionViewLocked：调用方需持有 s.mu
func (co *Coordinator) sessionViewLocked(s *session) *EditSession {
	view := &EditSession{
		FormID:         s.formID,
		Collaborators:  make(map[uint64]Collaborator),
		ActiveChanges:  make(map[string]FieldChange),
		VersionNumber:  s.version,
		LastSavedAt:    s.lastSavedAt,
		ConflictPolicy: s.policy,
	}
	for _, c := range co.directory.Members(s.formID) {
		view.Collaborators[c.UserID] = c
	}
	for _, ch := range co.ledger.Changes(s.formID) {
		view.ActiveChanges[ch.FieldID] = ch
	}
	return view
}

func (co *Coordinator) snapshotLocked(s *session) *SessionSnapshot {
	return &SessionSnapshot{
		FormID:         s.formID,
		Collaborators:  co.directory.Members(s.formID),
		ActiveChanges:  co.ledger.Changes(s.formID),
		VersionNumber:  s.version,
		LastSavedAt:    s.lastSavedAt,
		ConflictPolicy: s.policy,
	}
}

// persistLocked：把快照写进 Session Store（刷新 TTL）。
// 写失败只打日志，不回滚已生效的内存变更——会话在内存里仍然正确，
// 只是进程重启前的这段窗口可能丢最新状态。
// 在会话锁内同步写，保证镜像不会被并发操作用旧快照覆盖新快照。
func (co *Coordinator) persistLocked(ctx context.Context, s *session) {
	if co.store == nil {
		return
	}
	s.lastSavedAt = time.Now()
	snap := co.snapshotLocked(s)
	storeCtx, cancel := context.WithTimeout(ctx, co.ioTimeout)
	defer cancel()
	if err := co.store.PutSession(storeCtx, s.formID, snap, co.sessionTTL); err != nil {
		log.Printf("put session error (form=%s): %v", s.formID, err)
	}
}

// teardownLocked：会话销毁（调用方持有 s.mu）。
// 注册表 / directory / ledger / redis 镜像一并清理，并置 closed 位。
func (co *Coordinator) teardownLocked(ctx context.Context, s *session) {
	s.closed = true
	co.mu.Lock()
	delete(co.sessions, s.formID)
	co.mu.Unlock()
	co.directory.DropForm(s.formID)
	co.ledger.DropForm(s.formID)
	if co.store != nil {
		storeCtx, cancel := context.WithTimeout(ctx, co.ioTimeout)
		defer cancel()
		if err := co.store.DeleteSession(storeCtx, s.formID); err != nil {
			log.Printf("delete session error (form=%s): %v", s.formID, err)
		}
	}
}

// broadcast：按排除语义逐人投递（exclude 不收自己触发的事件）。
// 每个收件人独立尽力而为，失败互不影响，也不影响发起方的操作结果。
func (co *Coordinator) broadcast(formID string, exclude uint64, eventType string, payload interface{}, members []Collaborator) {
	if co.notifier == nil {
		return
	}
	now := time.Now()
	for _, m := range members {
		if m.UserID == exclude {
			continue
		}
		co.notifier.Notify(m.UserID, EventEnvelope{
			Type:     "realtime_update",
			Entity:   "form_collaboration",
			EntityID: formID,
			UserID:   m.UserID,
			Data: EventData{
				EventType: eventType,
				FormID:    formID,
				Timestamp: now,
				Payload:   payload,
			},
			Timestamp: now,
		})
	}
}

// publish：镜像一份事件到 kafka（跨实例中继），失败不影响主链路
func (co *Coordinator) publish(formID string, userID uint64, eventType string, payload interface{}) {
	if co.dispatcher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := co.dispatcher.Enqueue(ctx, FormEvent{
		EventType: eventType,
		FormID:    formID,
		UserID:    userID,
		Payload:   payload,
		EmittedAt: time.Now(),
	}); err != nil {
		log.Printf("enqueue form event error (form=%s, type=%s): %v", formID, eventType, err)
	}
}

// archiveChange：审计存档走异步，不在提交链路上等 mysql
func (co *Coordinator) archiveChange(formID string, version uint64, ch FieldChange) {
	if co.archive == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), co.ioTimeout)
		defer cancel()
		if err := co.archive.ArchiveChange(ctx, formID, version, ch); err != nil {
			log.Printf("archive change error (form=%s, change=%s): %v", formID, ch.ChangeID, err)
		}
	}()
}
