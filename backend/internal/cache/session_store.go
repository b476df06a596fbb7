package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"formcollab/backend/internal/collab"
)

// 具体实现：基于 redis 的 Session Store 镜像。
// 作用是水平扩展 / 进程重启后的恢复，不是权威状态——
// 权威状态始终在 Coordinator 的内存里。
type redisSessionStore struct {
	rdb redis.UniversalClient
}

func NewRedisSessionStore(rdb redis.UniversalClient) collab.SessionStore {
	return &redisSessionStore{rdb: rdb}
}

// PutSession：整份快照覆盖写，顺带刷新 TTL。
// 快照里 collaborators / activeChanges 已经是有序列表（collab 包保证），
// 这里只管序列化。
func (s *redisSessionStore) PutSession(ctx context.Context, formID string, snap *collab.SessionSnapshot, ttl time.Duration) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.rdb.Set(ctx, sessionKey(formID), b, ttl).Err()
}

// GetSession：不存在返回 (nil, nil)，redis.Nil 不当成错误往上抛
func (s *redisSessionStore) GetSession(ctx context.Context, formID string) (*collab.SessionSnapshot, error) {
	b, err := s.rdb.Get(ctx, sessionKey(formID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	var snap collab.SessionSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (s *redisSessionStore) DeleteSession(ctx context.Context, formID string) error {
	return s.rdb.Del(ctx, sessionKey(formID)).Err()
}
