/*
 * @module api/controllers/health_controller
 * @description 健康检查控制器，提供存活和就绪检查
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow HTTP请求处理流程
 * @rules 存活检查不访问外部依赖；就绪检查在结果库不可用时返回 503
 * @dependencies github.com/go-chi/render, service/monitoring
 * @refs service/monitoring/health_checker.go
 */

package controllers

import (
	"net/http"
	"time"

	"github.com/go-chi/render"

	"reecal-service/service/monitoring"
)

// Version 服务版本，构建时可通过 -ldflags 覆盖
var Version = "1.0.0"

// HealthController 健康检查控制器
type HealthController struct {
	checker *monitoring.HealthChecker
}

// NewHealthController 创建健康检查控制器实例，checker 为空时就绪检查总是通过
func NewHealthController(checker *monitoring.HealthChecker) *HealthController {
	return &HealthController{checker: checker}
}

// HealthResponse 健康检查响应结构
type HealthResponse struct {
	Status    string                   `json:"status" example:"ok"`
	Timestamp time.Time                `json:"timestamp" example:"2024-01-01T00:00:00Z"`
	Version   string                   `json:"version" example:"1.0.0"`
	Service   string                   `json:"service" example:"reecal-service"`
	Details   *monitoring.HealthStatus `json:"details,omitempty"`
}

// Health 健康检查
// @Summary 健康检查
// @Description 检查服务存活状态
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Router /health [get]
func (c *HealthController) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, HealthResponse{
		Status:    "ok",
		Timestamp: time.Now(),
		Version:   Version,
		Service:   "reecal-service",
	})
}

// Ready 就绪检查
// @Summary 就绪检查
// @Description 检查结果库和数据源状态，结果库不可用时返回 503
// @Tags 系统
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /ready [get]
func (c *HealthController) Ready(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:    "ready",
		Timestamp: time.Now(),
		Version:   Version,
		Service:   "reecal-service",
	}
	if c.checker != nil {
		status := c.checker.Check(r.Context())
		resp.Details = status
		if !status.Ready() {
			resp.Status = "not_ready"
			render.Status(r, http.StatusServiceUnavailable)
		}
	}
	render.JSON(w, r, resp)
}
