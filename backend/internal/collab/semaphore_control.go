package collab

import (
	"context"
	"errors"
)

const DefaultSemaphoreLimit = 100

// SemaphoreControl：基于带缓冲 channel 的并发上限。
// ws 层用它限制同时进入 Coordinator 的提交数，kafka worker 用它限制并发发送。
type SemaphoreControl struct {
	ch chan struct{}
}

func NewSemaphoreControl(limit int) *SemaphoreControl {
	if limit <= 0 {
		limit = DefaultSemaphoreLimit
	}
	return &SemaphoreControl{ch: make(chan struct{}, limit)}
}

func (s *SemaphoreControl) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return errors.New("Acquire Reach time limit")
	}
}

func (s *SemaphoreControl) Release() error {
	select {
	case <-s.ch:
		return nil
	default:
		return errors.New("Release Failed, semaphore is not acquired")
	}
}
