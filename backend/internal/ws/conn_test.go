package ws

import (
	"context"
	"sync"
	"testing"
	"time"

	"formcollab/backend/internal/collab"
)

// 落库耗时超过提交排队预算（200ms）的存储桩：
// 记录携带变更的那次写入是被取消还是正常完成
type laggedStore struct {
	mu               sync.Mutex
	changePutErr     error
	changePutArrived bool
}

func (s *laggedStore) PutSession(ctx context.Context, formID string, snap *collab.SessionSnapshot, ttl time.Duration) error {
	if len(snap.ActiveChanges) == 0 {
		// join 触发的快照写入不参与计时
		return nil
	}
	select {
	case <-ctx.Done():
		s.mu.Lock()
		s.changePutArrived = true
		s.changePutErr = ctx.Err()
		s.mu.Unlock()
		return ctx.Err()
	case <-time.After(500 * time.Millisecond):
		s.mu.Lock()
		s.changePutArrived = true
		s.mu.Unlock()
		return nil
	}
}

func (s *laggedStore) GetSession(ctx context.Context, formID string) (*collab.SessionSnapshot, error) {
	return nil, nil
}

func (s *laggedStore) DeleteSession(ctx context.Context, formID string) error {
	return nil
}

func TestHandleChange_PersistenceOutlivesSubmitWindow(t *testing.T) {
	st := &laggedStore{}
	co := collab.NewCoordinator(st, nil, nil, nil, collab.CoordinatorOptions{})
	co.JoinSession(context.Background(), "f1", collab.UserInfo{UserID: 1, DisplayContact: "u1@example.com"})

	c := NewConn(nil, NewHub(), 1, "u1@example.com", co, collab.NewSemaphoreControl(1))
	c.formID = "f1"
	c.handleChange(context.Background(), ClientMessage{
		Type:       "change",
		FormID:     "f1",
		FieldID:    "fld-1",
		ChangeType: collab.ChangeValue,
		NewValue:   "hello",
	})

	msg := recv(t, c)
	res, ok := msg.(ChangeResultMessage)
	if !ok {
		t.Fatalf("enqueued %T, want ChangeResultMessage", msg)
	}
	if !res.Result.Accepted {
		t.Fatalf("Accepted = false (%s), want true", res.Result.Reason)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if !st.changePutArrived {
		t.Fatal("change snapshot never reached the store")
	}
	if st.changePutErr != nil {
		t.Fatalf("change snapshot write cancelled: %v", st.changePutErr)
	}
}
