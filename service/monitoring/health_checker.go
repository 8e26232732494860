/*
 * @module service/monitoring/health_checker
 * @description 就绪检查：结果库连接和已注册数据源的健康状态
 * @architecture 分层架构 - 业务服务层，供 /ready 接口调用
 * @documentReference DESIGN.md
 * @stateFlow 检查结果库 -> 检查数据源 -> 汇总整体状态
 * @rules 任一组件 critical 时整体为 critical；数据源离线为 warning
 * @dependencies gorm.io/gorm, service/datasource
 * @refs api/controllers/health_controller.go
 */

package monitoring

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"reecal-service/service/datasource"
)

// 健康状态
const (
	StatusHealthy  = "healthy"
	StatusWarning  = "warning"
	StatusCritical = "critical"
)

// ComponentHealth 组件健康状态
type ComponentHealth struct {
	Name         string        `json:"name"`
	Type         string        `json:"type"` // database, data_source
	Status       string        `json:"status"`
	ResponseTime time.Duration `json:"response_time"`
	LastChecked  time.Time     `json:"last_checked"`
	ErrorMessage string        `json:"error_message,omitempty"`
}

// HealthStatus 整体健康状态
type HealthStatus struct {
	Overall    string                      `json:"overall"`
	Timestamp  time.Time                   `json:"timestamp"`
	Components map[string]*ComponentHealth `json:"components"`
}

// Ready 是否可以接收分析请求
func (h *HealthStatus) Ready() bool {
	return h.Overall != StatusCritical
}

// HealthChecker 健康检查器
type HealthChecker struct {
	db      *gorm.DB
	sources *datasource.Manager
	timeout time.Duration

	mutex sync.RWMutex
	last  *HealthStatus
}

// NewHealthChecker 创建健康检查器，db 和 sources 均可为空
func NewHealthChecker(db *gorm.DB, sources *datasource.Manager) *HealthChecker {
	return &HealthChecker{db: db, sources: sources, timeout: 5 * time.Second}
}

// Check 执行一次检查
func (h *HealthChecker) Check(ctx context.Context) *HealthStatus {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	status := &HealthStatus{
		Overall:    StatusHealthy,
		Timestamp:  time.Now(),
		Components: make(map[string]*ComponentHealth),
	}
	if h.db != nil {
		status.Components["database"] = h.checkDatabase(ctx)
	}
	if h.sources != nil {
		for id, ds := range h.sources.HealthCheckAll(ctx) {
			c := &ComponentHealth{
				Name:         id,
				Type:         "data_source",
				Status:       dataSourceStatus(ds.Status),
				ResponseTime: ds.ResponseTime,
				LastChecked:  ds.LastCheck,
			}
			if c.Status != StatusHealthy {
				c.ErrorMessage = ds.Message
			}
			status.Components["data_source:"+id] = c
		}
	}
	for _, c := range status.Components {
		status.Overall = worse(status.Overall, c.Status)
	}

	h.mutex.Lock()
	h.last = status
	h.mutex.Unlock()
	return status
}

// Last 最近一次检查结果
func (h *HealthChecker) Last() *HealthStatus {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.last
}

func (h *HealthChecker) checkDatabase(ctx context.Context) *ComponentHealth {
	start := time.Now()
	c := &ComponentHealth{Name: "database", Type: "database", Status: StatusHealthy}
	sqlDB, err := h.db.DB()
	if err == nil {
		err = sqlDB.PingContext(ctx)
	}
	c.ResponseTime = time.Since(start)
	c.LastChecked = time.Now()
	if err != nil {
		c.Status = StatusCritical
		c.ErrorMessage = err.Error()
	}
	return c
}

func dataSourceStatus(s string) string {
	switch s {
	case "online":
		return StatusHealthy
	case "offline":
		return StatusWarning
	default:
		return StatusCritical
	}
}

func worse(a, b string) string {
	rank := map[string]int{StatusHealthy: 0, StatusWarning: 1, StatusCritical: 2}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
