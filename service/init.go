/*
 * @module service/init
 * @description 服务初始化模块，负责结果库连接、数据源注册、事件通道、指标、提交限流和定时分析的装配
 * @architecture 分层架构 - 服务层
 * @documentReference DESIGN.md
 * @stateFlow 加载配置 -> Init -> 提供API服务 -> Shutdown
 * @rules 所有依赖服务正常启动后才提供API服务；命令行批处理模式不调用 Init
 * @dependencies gorm.io/gorm, github.com/go-redis/redis/v8, github.com/prometheus/client_golang
 * @refs service/analysis, service/scheduler, service/event, service/cleanup
 */

package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"

	"reecal-service/service/analysis"
	"reecal-service/service/cleanup"
	"reecal-service/service/config"
	"reecal-service/service/datasource"
	"reecal-service/service/event"
	"reecal-service/service/monitoring"
	"reecal-service/service/rate_limiter"
	"reecal-service/service/scheduler"
	"reecal-service/service/storage"
)

var (
	Config                 *config.Config
	DB                     *gorm.DB
	GlobalDataSources      *datasource.Manager
	GlobalRunRepository    *storage.RunRepository
	GlobalEventService     *event.EventService
	GlobalMetrics          *monitoring.Metrics
	GlobalHealthChecker    *monitoring.HealthChecker
	GlobalAnalysisService  *analysis.Service
	GlobalSchedulerService *scheduler.SchedulerService
	GlobalRateLimiter      rate_limiter.Limiter
	GlobalRunCleanup       *cleanup.RunCleanupService

	redisClient *redis.Client
)

// Init 初始化全部服务
func Init(cfg *config.Config) error {
	Config = cfg

	if err := initDatabase(cfg.Database); err != nil {
		return err
	}
	if err := initDataSources(cfg); err != nil {
		return err
	}

	GlobalRunRepository = storage.NewRunRepository(DB)
	GlobalEventService = event.NewFromConfig(cfg, log.Default())
	GlobalMetrics = monitoring.NewMetrics(prometheus.DefaultRegisterer)
	GlobalHealthChecker = monitoring.NewHealthChecker(DB, GlobalDataSources)
	GlobalAnalysisService = analysis.NewService(
		GlobalRunRepository, GlobalDataSources, GlobalEventService, GlobalMetrics, cfg.Analysis,
	)

	if cfg.Redis.Address != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.Database,
		})
	}
	if cfg.Server.SubmitLimit.Enabled() {
		GlobalRateLimiter = rate_limiter.NewRateLimiter(context.Background(), redisClient)
	}
	if err := initScheduler(cfg); err != nil {
		return err
	}
	if cfg.Retention.Enabled() {
		GlobalRunCleanup = cleanup.NewRunCleanupService(GlobalRunRepository, cfg.Retention)
		if err := GlobalRunCleanup.Start(); err != nil {
			return err
		}
	}

	slog.Info("服务初始化完成",
		"database", cfg.Database.Driver,
		"data_sources", len(cfg.DataSources),
		"publishers", GlobalEventService.Publishers(),
		"schedule", cfg.Schedule.Cron,
		"submit_limit", cfg.Server.SubmitLimit.Enabled(),
		"retention_days", cfg.Retention.Days)
	return nil
}

// initDatabase 连接结果库并迁移表结构
func initDatabase(cfg config.DatabaseConfig) error {
	db, err := storage.OpenDatabase(cfg)
	if err != nil {
		return err
	}
	if err := storage.AutoMigrate(db); err != nil {
		return fmt.Errorf("数据库迁移失败: %v", err)
	}
	DB = db
	slog.Info("数据库连接成功", "driver", cfg.Driver)
	return nil
}

// initDataSources 注册配置中的数据源
func initDataSources(cfg *config.Config) error {
	GlobalDataSources = datasource.GetGlobalRegistry().GetManager()
	ctx := context.Background()
	for _, dsCfg := range cfg.DataSources {
		if err := GlobalDataSources.Register(ctx, dsCfg.ToDataSource()); err != nil {
			return fmt.Errorf("注册数据源 %s 失败: %v", dsCfg.ID, err)
		}
	}
	if _, err := GlobalDataSources.Get(cfg.Analysis.DataSourceID); err != nil {
		return fmt.Errorf("默认数据源不可用: %w", err)
	}
	return nil
}

// initScheduler 配置了 cron 时启动定时分析
func initScheduler(cfg *config.Config) error {
	if !cfg.Schedule.Enabled() {
		return nil
	}

	lock := scheduler.NewLock(context.Background(), redisClient)

	svc, err := scheduler.NewSchedulerService(cfg.Schedule, lock, GlobalAnalysisService.RunScheduled)
	if err != nil {
		return err
	}
	if err := svc.Start(); err != nil {
		return err
	}
	GlobalSchedulerService = svc
	slog.Info("定时分析已启动", "cron", cfg.Schedule.Cron, "next", svc.Next())
	return nil
}

// Shutdown 停止调度器，等待后台分析结束后释放连接
func Shutdown(ctx context.Context) error {
	var errs []error

	if GlobalSchedulerService != nil {
		GlobalSchedulerService.Stop()
	}
	if GlobalRunCleanup != nil {
		GlobalRunCleanup.Stop()
	}

	if GlobalAnalysisService != nil {
		done := make(chan struct{})
		go func() {
			GlobalAnalysisService.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			errs = append(errs, fmt.Errorf("等待后台分析结束超时: %w", ctx.Err()))
		}
	}

	if GlobalEventService != nil {
		errs = append(errs, GlobalEventService.Close())
	}
	if GlobalDataSources != nil {
		errs = append(errs, GlobalDataSources.StopAll(ctx))
	}
	if redisClient != nil {
		errs = append(errs, redisClient.Close())
	}
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			errs = append(errs, sqlDB.Close())
		}
	}
	return errors.Join(errs...)
}
