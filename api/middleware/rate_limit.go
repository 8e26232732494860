/*
 * @module api/middleware/rate_limit
 * @description 分析提交限流中间件，超过全局或单客户端限额时返回 429
 * @architecture 中间件模式 - HTTP请求拦截
 * @documentReference DESIGN.md
 * @stateFlow 提取客户端标识 -> 限流检查 -> 写入限流头 -> 下一个处理器
 * @rules 限流器出错时放行请求并记录日志
 * @dependencies github.com/go-chi/render, service/rate_limiter
 * @refs service/rate_limiter/redis_rate_limiter.go, api/routes.go
 */

package middleware

import (
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/render"

	"reecal-service/service/rate_limiter"
)

// RateLimitOptions 限流参数
type RateLimitOptions struct {
	WindowSeconds int // 时间窗口（秒）
	MaxRequests   int // 全局限额，0 表示不限
	PerClient     int // 单客户端限额，0 表示不限
}

// rules 构造本次请求需要检查的规则
func (o RateLimitOptions) rules(clientID string) []rate_limiter.RateLimitRule {
	var rules []rate_limiter.RateLimitRule
	if o.MaxRequests > 0 {
		rules = append(rules, rate_limiter.RateLimitRule{
			Scope:       rate_limiter.ScopeGlobal,
			TimeWindow:  o.WindowSeconds,
			MaxRequests: o.MaxRequests,
		})
	}
	if o.PerClient > 0 {
		rules = append(rules, rate_limiter.RateLimitRule{
			Scope:       rate_limiter.ScopeClient,
			TargetID:    clientID,
			TimeWindow:  o.WindowSeconds,
			MaxRequests: o.PerClient,
		})
	}
	return rules
}

// RateLimit 返回限流中间件
func RateLimit(limiter rate_limiter.Limiter, opts RateLimitOptions) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rules := opts.rules(clientID(r))
			if limiter == nil || len(rules) == 0 {
				next.ServeHTTP(w, r)
				return
			}

			result, err := limiter.CheckRateLimit(r.Context(), rules)
			if err != nil {
				slog.Warn("限流检查失败，放行请求", "path", r.URL.Path, "error", err)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))
			if !result.Allowed {
				respondTooManyRequests(w, r, result)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientID 取客户端地址，配合 chi 的 RealIP 中间件使用
func clientID(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func respondTooManyRequests(w http.ResponseWriter, r *http.Request, result *rate_limiter.RateLimitResult) {
	w.Header().Set("Retry-After", strconv.FormatInt(retryAfter(result.ResetAt), 10))
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, map[string]interface{}{
		"status": http.StatusTooManyRequests,
		"msg":    result.Message,
		"data":   result,
	})
}

func retryAfter(resetAt int64) int64 {
	if d := resetAt - time.Now().Unix(); d > 0 {
		return d
	}
	return 1
}
