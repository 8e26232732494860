/*
 * @module api/controllers/datasource_controller
 * @description 数据源控制器，注册、查询和移除能谱数据集来源
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow 请求 -> 元数据校验 -> 数据源管理器 -> 响应
 * @rules 注册前按类型定义校验连接配置
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render, service/datasource
 * @refs service/meta/datasource.go
 */

package controllers

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"reecal-service/service/datasource"
	"reecal-service/service/meta"
)

// DataSourceController 数据源控制器
type DataSourceController struct {
	manager *datasource.Manager
}

// NewDataSourceController 创建数据源控制器
func NewDataSourceController(manager *datasource.Manager) *DataSourceController {
	return &DataSourceController{manager: manager}
}

// RegisterDataSourceRequest 注册数据源请求
type RegisterDataSourceRequest struct {
	ID         string                 `json:"id" example:"eu152-csv"`
	Type       string                 `json:"type" example:"file_csv"`
	Connection map[string]interface{} `json:"connection"`
}

// ListDataSources 列出数据源
// @Summary 列出已注册数据源
// @Tags 数据源
// @Produce json
// @Success 200 {object} APIResponse{data=[]datasource.DataSourceStatus}
// @Router /data-sources [get]
func (c *DataSourceController) ListDataSources(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("获取数据源列表成功", c.manager.List()))
}

// RegisterDataSource 注册数据源
// @Summary 注册数据源
// @Description 按类型定义校验连接配置后注册，常驻数据源立即启动
// @Tags 数据源
// @Accept json
// @Produce json
// @Param request body RegisterDataSourceRequest true "数据源配置"
// @Success 200 {object} APIResponse
// @Failure 400 {object} APIResponse
// @Router /data-sources [post]
func (c *DataSourceController) RegisterDataSource(w http.ResponseWriter, r *http.Request) {
	var req RegisterDataSourceRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}
	definition, err := meta.GetDataSourceTypeDefinition(req.Type)
	if err != nil {
		render.Render(w, r, BadRequestResponse("数据源类型无效", err))
		return
	}
	if result := definition.ValidateConfig(req.Connection); !result.IsValid {
		render.Render(w, r, BadRequestResponse("连接配置无效", fmt.Errorf("%v", result.Errors)))
		return
	}

	cfg := &datasource.Config{ID: req.ID, Type: req.Type, Connection: req.Connection}
	if err := c.manager.Register(r.Context(), cfg); err != nil {
		render.Render(w, r, BadRequestResponse("注册数据源失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("注册数据源成功", map[string]string{"id": req.ID}))
}

// ListDatasets 列出数据源中的数据集
// @Summary 列出数据集
// @Tags 数据源
// @Produce json
// @Param id path string true "数据源ID"
// @Success 200 {object} APIResponse{data=[]string}
// @Failure 404 {object} APIResponse
// @Router /data-sources/{id}/datasets [get]
func (c *DataSourceController) ListDatasets(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	source, err := c.manager.Source(id)
	if err != nil {
		render.Render(w, r, NotFoundResponse("数据源不存在", err))
		return
	}
	lister, ok := source.(datasource.Lister)
	if !ok {
		render.Render(w, r, BadRequestResponse("数据源不支持列举数据集", nil))
		return
	}
	ids, err := lister.ListDatasets(r.Context())
	if err != nil {
		render.Render(w, r, InternalErrorResponse("列举数据集失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("获取数据集列表成功", ids))
}

// CheckHealth 检查全部数据源
// @Summary 数据源健康检查
// @Tags 数据源
// @Produce json
// @Success 200 {object} APIResponse{data=map[string]datasource.HealthStatus}
// @Router /data-sources/health [get]
func (c *DataSourceController) CheckHealth(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, SuccessResponse("数据源健康检查完成", c.manager.HealthCheckAll(r.Context())))
}

// RemoveDataSource 移除数据源
// @Summary 移除数据源
// @Tags 数据源
// @Produce json
// @Param id path string true "数据源ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /data-sources/{id} [delete]
func (c *DataSourceController) RemoveDataSource(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := c.manager.Remove(r.Context(), id); err != nil {
		if errors.Is(err, datasource.ErrDataSourceNotRegistered) {
			render.Render(w, r, NotFoundResponse("数据源不存在", err))
			return
		}
		render.Render(w, r, InternalErrorResponse("移除数据源失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("移除数据源成功", nil))
}
