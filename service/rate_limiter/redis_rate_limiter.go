/*
 * @module service/rate_limiter/redis_rate_limiter
 * @description 分析提交限流，支持全局和按客户端两层固定窗口计数
 * @architecture 工具层 - 提供分布式限流能力，Redis不可用时退化为进程内计数
 * @documentReference DESIGN.md
 * @stateFlow 检查限流规则 -> 计数 -> 判断是否超限
 * @rules 使用Redis INCR和EXPIRE实现固定窗口限流，Lua脚本保证原子性
 * @dependencies github.com/go-redis/redis/v8
 * @refs api/middleware/rate_limit.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// 限流范围
const (
	ScopeGlobal = "global"
	ScopeClient = "client"
)

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	Allowed   bool   `json:"allowed"`    // 是否允许请求
	Limit     int    `json:"limit"`      // 限制数量
	Remaining int    `json:"remaining"`  // 剩余数量
	ResetAt   int64  `json:"reset_at"`   // 重置时间（Unix时间戳）
	Scope     string `json:"limit_type"` // 限流范围：global/client
	Message   string `json:"message"`    // 提示信息
}

// RateLimitRule 限流规则
type RateLimitRule struct {
	Scope       string // global/client
	TargetID    string // 客户端标识，全局时为空
	TimeWindow  int    // 时间窗口（秒）
	MaxRequests int    // 最大请求数
}

// Limiter 限流器
type Limiter interface {
	CheckRateLimit(ctx context.Context, rules []RateLimitRule) (*RateLimitResult, error)
}

// RedisRateLimiter Redis限流器，多实例共享计数
type RedisRateLimiter struct {
	client *redis.Client
}

// NewRedisRateLimiter 创建Redis限流器
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{client: client}
}

var checkScript = redis.NewScript(`
	local key = KEYS[1]
	local max_requests = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	if current >= max_requests then
		local ttl = redis.call('TTL', key)
		if ttl == -1 then
			ttl = window
		end
		return {0, current, ttl}
	end

	local new_count = redis.call('INCR', key)
	if new_count == 1 then
		redis.call('EXPIRE', key, window)
	end

	local ttl = redis.call('TTL', key)
	if ttl == -1 then
		ttl = window
	end
	return {1, new_count, ttl}
`)

// CheckRateLimit 检查是否超过限流（按优先级检查：客户端 -> 全局）
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, rules []RateLimitRule) (*RateLimitResult, error) {
	return checkRules(rules, func(rule RateLimitRule) (*RateLimitResult, error) {
		return r.checkSingleRule(ctx, rule)
	})
}

// checkSingleRule 检查单个限流规则
func (r *RedisRateLimiter) checkSingleRule(ctx context.Context, rule RateLimitRule) (*RateLimitResult, error) {
	key := buildRateLimitKey(rule, time.Now())
	result, err := checkScript.Run(ctx, r.client, []string{key}, rule.MaxRequests, rule.TimeWindow).Result()
	if err != nil {
		return nil, fmt.Errorf("限流检查失败: %w", err)
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("限流脚本返回值异常: %v", result)
	}
	allowed := values[0].(int64) == 1
	count := int(values[1].(int64))
	ttl := time.Duration(values[2].(int64)) * time.Second
	return newResult(rule, allowed, count, time.Now().Add(ttl)), nil
}

// LocalRateLimiter 进程内限流器，单实例部署或Redis不可用时使用
type LocalRateLimiter struct {
	mu     sync.Mutex
	counts map[string]int
	resets map[string]time.Time
	now    func() time.Time
}

// NewLocalRateLimiter 创建进程内限流器
func NewLocalRateLimiter() *LocalRateLimiter {
	return &LocalRateLimiter{
		counts: make(map[string]int),
		resets: make(map[string]time.Time),
		now:    time.Now,
	}
}

// CheckRateLimit 检查是否超过限流
func (l *LocalRateLimiter) CheckRateLimit(_ context.Context, rules []RateLimitRule) (*RateLimitResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return checkRules(rules, func(rule RateLimitRule) (*RateLimitResult, error) {
		now := l.now()
		key := ruleKey(rule)
		reset, ok := l.resets[key]
		if !ok || !now.Before(reset) {
			l.expire(now)
			reset = now.Add(time.Duration(rule.TimeWindow) * time.Second)
			l.resets[key] = reset
			l.counts[key] = 0
		}
		if l.counts[key] >= rule.MaxRequests {
			return newResult(rule, false, l.counts[key], reset), nil
		}
		l.counts[key]++
		return newResult(rule, true, l.counts[key], reset), nil
	})
}

func (l *LocalRateLimiter) expire(now time.Time) {
	for key, reset := range l.resets {
		if !now.Before(reset) {
			delete(l.resets, key)
			delete(l.counts, key)
		}
	}
}

// NewRateLimiter Redis 可用时返回 RedisRateLimiter，否则返回进程内限流器
func NewRateLimiter(ctx context.Context, client *redis.Client) Limiter {
	if client == nil {
		return NewLocalRateLimiter()
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		slog.Warn("Redis不可用，分析提交使用进程内限流", "error", err)
		return NewLocalRateLimiter()
	}
	return NewRedisRateLimiter(client)
}

// checkRules 按优先级依次检查，任何一层超限即返回
func checkRules(rules []RateLimitRule, check func(RateLimitRule) (*RateLimitResult, error)) (*RateLimitResult, error) {
	if len(rules) == 0 {
		return &RateLimitResult{Allowed: true, Limit: -1, Remaining: -1, Scope: "none", Message: "无限流规则"}, nil
	}

	var tightest *RateLimitResult
	for _, rule := range sortRulesByPriority(rules) {
		result, err := check(rule)
		if err != nil {
			return nil, err
		}
		if !result.Allowed {
			return result, nil
		}
		if tightest == nil || result.Remaining < tightest.Remaining {
			tightest = result
		}
	}
	return tightest, nil
}

func newResult(rule RateLimitRule, allowed bool, count int, resetAt time.Time) *RateLimitResult {
	remaining := rule.MaxRequests - count
	if remaining < 0 {
		remaining = 0
	}
	message := "允许请求"
	if !allowed {
		message = fmt.Sprintf("超过%s限流限制", scopeName(rule.Scope))
	}
	return &RateLimitResult{
		Allowed:   allowed,
		Limit:     rule.MaxRequests,
		Remaining: remaining,
		ResetAt:   resetAt.Unix(),
		Scope:     rule.Scope,
		Message:   message,
	}
}

// buildRateLimitKey 构造限流Key，同一窗口内的请求共用一个Key
func buildRateLimitKey(rule RateLimitRule, now time.Time) string {
	window := rule.TimeWindow
	if window <= 0 {
		window = 1
	}
	return fmt.Sprintf("%s:%d", ruleKey(rule), now.Unix()/int64(window))
}

// ruleKey 不含窗口序号的规则Key，进程内限流自行记录窗口重置时间
func ruleKey(rule RateLimitRule) string {
	if rule.Scope == ScopeGlobal {
		return "reecal:rate_limit:" + rule.Scope
	}
	return "reecal:rate_limit:" + rule.Scope + ":" + rule.TargetID
}

// sortRulesByPriority 按优先级排序规则：client > global
func sortRulesByPriority(rules []RateLimitRule) []RateLimitRule {
	priority := map[string]int{ScopeClient: 2, ScopeGlobal: 1}
	sorted := append([]RateLimitRule(nil), rules...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priority[sorted[i].Scope] > priority[sorted[j].Scope]
	})
	return sorted
}

func scopeName(scope string) string {
	switch scope {
	case ScopeGlobal:
		return "全局"
	case ScopeClient:
		return "客户端"
	default:
		return "未知"
	}
}
