/*
 * @module service/scheduler/lock
 * @description 定时分析互斥锁：多实例时使用 Redis SET NX，未配置 Redis 时退化为进程内锁
 * @architecture 工具层 - 调度器在执行分析前获取锁
 * @documentReference DESIGN.md
 * @stateFlow 获取锁 -> 执行分析 -> 释放锁/自动过期
 * @rules 只有锁的持有者可以释放锁；锁带过期时间，实例崩溃后自动失效
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/scheduler/scheduler_service.go
 */

package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Lock 互斥锁
type Lock interface {
	// TryLock 尝试获取锁，已被持有时返回 false
	TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Unlock 释放锁
	Unlock(ctx context.Context, key string) error
}

// 只删除自己持有的锁
const unlockScript = `
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`

// RedisLock Redis 分布式锁
type RedisLock struct {
	client     *redis.Client
	instanceID string
}

// NewRedisLock 创建 Redis 分布式锁，实例ID为主机名+进程ID
func NewRedisLock(client *redis.Client) *RedisLock {
	hostname, _ := os.Hostname()
	return &RedisLock{
		client:     client,
		instanceID: fmt.Sprintf("%s:%d", hostname, os.Getpid()),
	}
}

// TryLock 使用 SET NX 获取锁
func (r *RedisLock) TryLock(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := r.client.SetNX(ctx, key, r.instanceID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("获取锁失败: %w", err)
	}
	if ok {
		slog.Debug("分布式锁: 成功获取锁", "key", key, "ttl", ttl, "instance", r.instanceID)
	}
	return ok, nil
}

// Unlock 释放锁
func (r *RedisLock) Unlock(ctx context.Context, key string) error {
	n, err := r.client.Eval(ctx, unlockScript, []string{key}, r.instanceID).Int64()
	if err != nil {
		return fmt.Errorf("释放锁失败: %w", err)
	}
	if n == 0 {
		slog.Warn("分布式锁: 锁不存在或已被其他实例持有", "key", key, "instance", r.instanceID)
	}
	return nil
}

// LocalLock 进程内锁，过期语义与 RedisLock 一致
type LocalLock struct {
	mu   sync.Mutex
	held map[string]time.Time
	now  func() time.Time
}

func NewLocalLock() *LocalLock {
	return &LocalLock{held: make(map[string]time.Time), now: time.Now}
}

func (l *LocalLock) TryLock(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	if exp, ok := l.held[key]; ok && now.Before(exp) {
		return false, nil
	}
	l.held[key] = now.Add(ttl)
	return true, nil
}

func (l *LocalLock) Unlock(_ context.Context, key string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.held, key)
	return nil
}

// NewLock Redis 可用时返回 RedisLock，否则返回进程内锁
func NewLock(ctx context.Context, client *redis.Client) Lock {
	if client == nil {
		return NewLocalLock()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis不可用，定时分析使用进程内锁", "error", err)
		return NewLocalLock()
	}
	return NewRedisLock(client)
}
