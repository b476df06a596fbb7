package collab

import (
	"context"
	"log"
	"time"
)

// Reaper：后台定期清扫长期无人活动的会话。
// 判定标准是“所有协作者的 lastActivityAt 都超过阈值”——
// 只要还有一个人活跃，整个会话就续命。
// 回收走与 applyFieldChange 相同的会话锁，不做无锁的后台扫描，
// 避免和在途提交赛跑。
type Reaper struct {
	coord     *Coordinator
	interval  time.Duration
	threshold time.Duration
	stop      chan struct{}
	done      chan struct{}
}

func NewReaper(coord *Coordinator, interval, threshold time.Duration) *Reaper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	if threshold <= 0 {
		threshold = 30 * time.Minute
	}
	return &Reaper{
		coord:     coord,
		interval:  interval,
		threshold: threshold,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

func (r *Reaper) Start() {
	go r.loop()
}

func (r *Reaper) Stop() {
	close(r.stop)
	<-r.done
}

func (r *Reaper) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := r.coord.EvictInactive(r.threshold); n > 0 {
				log.Printf("reaper evicted %d inactive session(s)", n)
			}
		case <-r.stop:
			return
		}
	}
}

// EvictInactive：单轮清扫，返回回收的会话数。
// 先在注册表读锁下拷出指针再逐个加会话锁，避免持注册表锁做 IO。
func (co *Coordinator) EvictInactive(threshold time.Duration) int {
	co.mu.RLock()
	candidates := make([]*session, 0, len(co.sessions))
	for _, s := range co.sessions {
		candidates = append(candidates, s)
	}
	co.mu.RUnlock()

	cutoff := time.Now().Add(-threshold)
	evicted := 0
	for _, s := range candidates {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			continue
		}
		members := co.directory.Members(s.formID)
		if len(members) == 0 || anyActiveSince(members, cutoff) {
			s.mu.Unlock()
			continue
		}
		formID := s.formID
		co.teardownLocked(context.Background(), s)
		s.mu.Unlock()
		evicted++
		log.Printf("session evicted for inactivity (form=%s, collaborators=%d)", formID, len(members))
		co.publish(formID, 0, "session:evicted", PresencePayload{Collaborators: len(members)})
	}
	return evicted
}

func anyActiveSince(members []Collaborator, cutoff time.Time) bool {
	for _, m := range members {
		if m.LastActivityAt.After(cutoff) {
			return true
		}
	}
	return false
}
