/*
 * @module api/routes
 * @description API路由配置模块，负责初始化和配置所有HTTP路由
 * @architecture RESTful API架构
 * @documentReference DESIGN.md
 * @stateFlow 无状态HTTP请求处理
 * @rules 遵循RESTful API设计规范，统一错误处理和响应格式
 * @dependencies github.com/go-chi/chi/v5, github.com/go-chi/cors, github.com/go-chi/render
 * @refs api/controllers, api/middleware
 */

package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/render"

	"reecal-service/api/controllers"
	apimiddleware "reecal-service/api/middleware"
	"reecal-service/service"
	"reecal-service/service/analysis"
	"reecal-service/service/datasource"
	"reecal-service/service/detectability"
	"reecal-service/service/monitoring"
	"reecal-service/service/rate_limiter"
)

// Dependencies 路由依赖的服务
type Dependencies struct {
	Analysis       *analysis.Service
	DataSources    *datasource.Manager
	Health         *monitoring.HealthChecker
	Thresholds     detectability.Thresholds
	AllowedOrigins []string
	SubmitLimiter  rate_limiter.Limiter
	SubmitLimit    apimiddleware.RateLimitOptions
}

// InitRoute 使用全局服务初始化所有API路由，需先调用 service.Init
func InitRoute(r chi.Router) {
	deps := Dependencies{
		Analysis:      service.GlobalAnalysisService,
		DataSources:   service.GlobalDataSources,
		Health:        service.GlobalHealthChecker,
		Thresholds:    detectability.DefaultThresholds(),
		SubmitLimiter: service.GlobalRateLimiter,
	}
	if service.Config != nil {
		deps.AllowedOrigins = service.Config.Server.AllowedOrigins
		limit := service.Config.Server.SubmitLimit
		deps.SubmitLimit = apimiddleware.RateLimitOptions{
			WindowSeconds: limit.WindowSeconds,
			MaxRequests:   limit.MaxRequests,
			PerClient:     limit.PerClient,
		}
		if cfg, err := service.Config.Analysis.PipelineConfig(); err == nil {
			deps.Thresholds = cfg.Thresholds
		}
	}
	Register(r, deps)
}

// Register 按依赖注册路由
func Register(r chi.Router, deps Dependencies) {
	// 基础中间件
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(render.SetContentType(render.ContentTypeJSON))

	origins := deps.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	// CORS配置
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link", "Content-Disposition"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// 健康检查
	healthController := controllers.NewHealthController(deps.Health)
	r.Get("/health", healthController.Health)
	r.Get("/ready", healthController.Ready)

	// 元数据
	r.Route("/meta", func(r chi.Router) {
		metaController := controllers.NewMetaController()
		r.Get("/lines", metaController.GetGammaLines)
		r.Get("/data-source-types", metaController.GetDataSourceTypes)
		r.Get("/analysis-options", metaController.GetAnalysisOptions)
	})

	// 数据源管理
	if deps.DataSources != nil {
		r.Route("/data-sources", func(r chi.Router) {
			dsController := controllers.NewDataSourceController(deps.DataSources)
			r.Get("/", dsController.ListDataSources)
			r.Post("/", dsController.RegisterDataSource)
			r.Get("/health", dsController.CheckHealth)
			r.Get("/{id}/datasets", dsController.ListDatasets)
			r.Delete("/{id}", dsController.RemoveDataSource)
		})
	}

	// 分析
	analysisController := controllers.NewAnalysisController(deps.Analysis, deps.Thresholds)
	r.Post("/detectability/projection", analysisController.Project)
	if deps.Analysis != nil {
		r.Route("/analyses", func(r chi.Router) {
			r.With(apimiddleware.RateLimit(deps.SubmitLimiter, deps.SubmitLimit)).Post("/", analysisController.CreateAnalysis)
			r.Get("/", analysisController.ListAnalyses)
			r.Get("/{id}", analysisController.GetAnalysis)
			r.Get("/{id}/results.csv", analysisController.ExportCSV)
			r.Delete("/{id}", analysisController.DeleteAnalysis)
		})
	}
}
