/*
 * @module api/controllers/analysis_controller
 * @description 分析控制器，提交标定分析、查询分析记录、导出结果表和统计量外推
 * @architecture MVC架构 - 控制器层
 * @documentReference DESIGN.md
 * @stateFlow 请求 -> 分析服务 -> 分析记录 -> 响应
 * @rules 默认异步执行并返回 202；wait=true 时同步执行；参数错误返回 400，记录不存在返回 404
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/render, service/analysis
 * @refs service/analysis/analysis_service.go, service/report/report.go
 */

package controllers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"reecal-service/service/analysis"
	"reecal-service/service/detectability"
	"reecal-service/service/models"
	"reecal-service/service/report"
	"reecal-service/service/storage"
)

// AnalysisController 分析控制器
type AnalysisController struct {
	svc        *analysis.Service
	thresholds detectability.Thresholds
}

// NewAnalysisController 创建分析控制器，thresholds 用于外推判定
func NewAnalysisController(svc *analysis.Service, thresholds detectability.Thresholds) *AnalysisController {
	return &AnalysisController{svc: svc, thresholds: thresholds}
}

// CreateAnalysis 提交分析
// @Summary 提交标定分析
// @Description 按数据源中的样品执行双能标定和检出能力评估。默认后台执行并返回 pending 记录，wait=true 时同步返回完整结果
// @Tags 分析
// @Accept json
// @Produce json
// @Param wait query bool false "是否同步等待结果"
// @Param request body analysis.Request true "分析请求"
// @Success 200 {object} APIResponse{data=models.AnalysisRun} "同步执行完成"
// @Success 202 {object} APIResponse{data=models.AnalysisRun} "已提交"
// @Failure 400 {object} APIResponse "请求参数错误"
// @Failure 429 {object} APIResponse "提交过于频繁"
// @Failure 500 {object} APIResponse "分析失败"
// @Router /analyses [post]
func (c *AnalysisController) CreateAnalysis(w http.ResponseWriter, r *http.Request) {
	var req analysis.Request
	if r.ContentLength != 0 {
		if err := render.DecodeJSON(r.Body, &req); err != nil {
			render.Render(w, r, BadRequestResponse("请求参数格式错误", err))
			return
		}
	}

	wait, _ := strconv.ParseBool(r.URL.Query().Get("wait"))
	if !wait {
		run, err := c.svc.Submit(r.Context(), req, models.TriggerAPI)
		if err != nil {
			c.renderError(w, r, "提交分析失败", err)
			return
		}
		render.Status(r, http.StatusAccepted)
		render.JSON(w, r, SuccessResponse("分析已提交", run))
		return
	}

	run, _, err := c.svc.Run(r.Context(), req, models.TriggerAPI)
	if err != nil {
		if run != nil {
			// 记录已保存为 failed
			resp := InternalErrorResponse("分析失败", err)
			resp.Data = run
			render.Render(w, r, resp)
			return
		}
		c.renderError(w, r, "分析失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("分析完成", run))
}

// ListAnalyses 分页查询分析记录
// @Summary 分页查询分析记录
// @Tags 分析
// @Produce json
// @Param page query int false "页码" default(1)
// @Param size query int false "每页数量" default(10)
// @Param status query string false "状态" Enums(pending, running, success, failed)
// @Param data_source_id query string false "数据源ID"
// @Success 200 {object} PaginatedResponse{data=[]models.AnalysisRun}
// @Failure 500 {object} APIResponse
// @Router /analyses [get]
func (c *AnalysisController) ListAnalyses(w http.ResponseWriter, r *http.Request) {
	page, size := pageParams(r)
	runs, total, err := c.svc.List(r.Context(), storage.ListOptions{
		Status:       r.URL.Query().Get("status"),
		DataSourceID: r.URL.Query().Get("data_source_id"),
		Page:         page,
		Size:         size,
	})
	if err != nil {
		render.Render(w, r, InternalErrorResponse("获取分析记录失败", err))
		return
	}
	render.JSON(w, r, &PaginatedResponse{
		Status: 0,
		Msg:    "获取分析记录成功",
		Data:   runs,
		Total:  total,
		Page:   page,
		Size:   size,
	})
}

// GetAnalysis 获取分析记录
// @Summary 获取分析记录详情
// @Description 包含每个样品的结果
// @Tags 分析
// @Produce json
// @Param id path string true "分析ID"
// @Success 200 {object} APIResponse{data=models.AnalysisRun}
// @Failure 404 {object} APIResponse
// @Router /analyses/{id} [get]
func (c *AnalysisController) GetAnalysis(w http.ResponseWriter, r *http.Request) {
	run, err := c.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.renderError(w, r, "获取分析记录失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("获取分析记录成功", run))
}

// ExportCSV 导出结果表
// @Summary 导出结果表
// @Description 按命令行输出相同的列导出 CSV，encoding 可选 utf-8、gbk、gb18030
// @Tags 分析
// @Produce text/csv
// @Param id path string true "分析ID"
// @Param encoding query string false "文件编码" default(utf-8)
// @Success 200 {file} file
// @Failure 400 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /analyses/{id}/results.csv [get]
func (c *AnalysisController) ExportCSV(w http.ResponseWriter, r *http.Request) {
	run, err := c.svc.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		c.renderError(w, r, "获取分析记录失败", err)
		return
	}
	if run.Status != models.RunStatusSuccess {
		render.Render(w, r, BadRequestResponse("分析未成功完成，没有结果表", nil))
		return
	}
	res, err := storage.RestoreResult(run)
	if err != nil {
		render.Render(w, r, InternalErrorResponse("还原分析结果失败", err))
		return
	}

	encoding := r.URL.Query().Get("encoding")
	charset := "utf-8"
	if encoding != "" {
		charset = encoding
	}
	w.Header().Set("Content-Type", "text/csv; charset="+charset)
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s_%s"`, run.ID, report.FileCSV))
	if err := report.WriteCSV(w, res, encoding); err != nil {
		// 编码不支持时尚未写出任何内容
		w.Header().Del("Content-Disposition")
		w.Header().Set("Content-Type", "application/json")
		render.Render(w, r, BadRequestResponse("导出结果表失败", err))
	}
}

// DeleteAnalysis 删除分析记录
// @Summary 删除分析记录
// @Tags 分析
// @Produce json
// @Param id path string true "分析ID"
// @Success 200 {object} APIResponse
// @Failure 404 {object} APIResponse
// @Router /analyses/{id} [delete]
func (c *AnalysisController) DeleteAnalysis(w http.ResponseWriter, r *http.Request) {
	if err := c.svc.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		c.renderError(w, r, "删除分析记录失败", err)
		return
	}
	render.JSON(w, r, SuccessResponse("删除分析记录成功", nil))
}

// Project 统计量外推
// @Summary 统计量外推
// @Description 按 Z ∝ sqrt(N) 估算达到目标显著性所需的事件倍数，或给定倍数后的预期 Z 和检出限
// @Tags 分析
// @Accept json
// @Produce json
// @Param request body analysis.ProjectionRequest true "外推请求"
// @Success 200 {object} APIResponse{data=analysis.ProjectionResult}
// @Failure 400 {object} APIResponse
// @Router /detectability/projection [post]
func (c *AnalysisController) Project(w http.ResponseWriter, r *http.Request) {
	var req analysis.ProjectionRequest
	if err := render.DecodeJSON(r.Body, &req); err != nil {
		render.Render(w, r, BadRequestResponse("请求参数格式错误", err))
		return
	}
	result, err := analysis.Project(req, c.thresholds)
	if err != nil {
		render.Render(w, r, BadRequestResponse("外推失败", err))
		return
	}
	render.JSON(w, r, SuccessResponse("外推完成", result))
}

func (c *AnalysisController) renderError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, analysis.ErrInvalidRequest):
		render.Render(w, r, BadRequestResponse(msg, err))
	case errors.Is(err, storage.ErrRunNotFound):
		render.Render(w, r, NotFoundResponse(msg, err))
	default:
		render.Render(w, r, InternalErrorResponse(msg, err))
	}
}
