package auth

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"
)

// RevokedStore 是进程级的吊销集合。加入与查询都可能被大量请求
// 并发调用，实现必须自身线程安全。作为依赖显式注入，不做包级单例。
type RevokedStore interface {
	Revoke(token string, expiresAt time.Time)
	IsRevoked(token string) bool
}

// MemoryRevokedStore 基于 sync.Map 的内存实现。条目带上 token 自身的
// 过期时间，后台定期清理已经自然失效的条目，集合不会无限增长。
type MemoryRevokedStore struct {
	m    sync.Map // token -> expiresAt
	stop chan struct{}
	once sync.Once
}

func NewMemoryRevokedStore() *MemoryRevokedStore {
	s := &MemoryRevokedStore{stop: make(chan struct{})}
	go s.gc()
	return s
}

func (s *MemoryRevokedStore) Revoke(token string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		// 解析不出有效期时保守保留 24h。
		expiresAt = time.Now().Add(24 * time.Hour)
	}
	s.m.Store(token, expiresAt)
}

func (s *MemoryRevokedStore) IsRevoked(token string) bool {
	_, ok := s.m.Load(token)
	return ok
}

func (s *MemoryRevokedStore) gc() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			now := time.Now()
			s.m.Range(func(k, v interface{}) bool {
				if exp, ok := v.(time.Time); ok && now.After(exp) {
					s.m.Delete(k)
				}
				return true
			})
		}
	}
}

// Stop 停止清理 goroutine，用于优雅停服。
func (s *MemoryRevokedStore) Stop() {
	s.once.Do(func() { close(s.stop) })
}

// RedisRevokedStore 把吊销集合放到 redis，多实例共享，重启后仍然生效。
// 键的 TTL 跟随 token 的剩余有效期。
type RedisRevokedStore struct {
	client *redis.Client
}

func NewRedisRevokedStore(addr string) *RedisRevokedStore {
	return &RedisRevokedStore{client: redis.NewClient(&redis.Options{Addr: addr})}
}

func (s *RedisRevokedStore) Revoke(token string, expiresAt time.Time) {
	ttl := time.Until(expiresAt)
	if expiresAt.IsZero() || ttl <= 0 {
		ttl = 24 * time.Hour
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.client.Set(ctx, revokedKey(token), "1", ttl).Err(); err != nil {
		log.Error().Err(err).Msg("revoke token in redis")
	}
}

func (s *RedisRevokedStore) IsRevoked(token string) bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	n, err := s.client.Exists(ctx, revokedKey(token)).Result()
	if err != nil {
		// redis 不可用时宁可拒绝，避免放行已吊销的 token。
		log.Error().Err(err).Msg("revocation check in redis")
		return true
	}
	return n > 0
}

func revokedKey(token string) string { return "revoked:" + token }

// NewRevokedStore 按配置选择实现：设置了 REDIS_ADDR 用 redis，否则内存。
func NewRevokedStore(redisAddr string) RevokedStore {
	if redisAddr != "" {
		return NewRedisRevokedStore(redisAddr)
	}
	return NewMemoryRevokedStore()
}
