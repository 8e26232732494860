/*
 * @module service/cleanup/run_cleanup_service
 * @description 分析记录清理服务，定期删除超过保留天数的分析记录及样品结果
 * @architecture 分层架构 - 业务服务层
 * @documentReference DESIGN.md
 * @stateFlow 定时触发 -> 计算截止时间 -> 删除已结束的过期记录 -> 记录结果
 * @rules 只删除 success/failed 状态的记录，执行中的分析不受影响
 * @dependencies github.com/robfig/cron/v3
 * @refs service/storage/run_repository.go, service/config
 */

package cleanup

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"reecal-service/service/config"
)

// RunStore 可按时间清理的分析记录存储
type RunStore interface {
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// RunCleanupService 分析记录清理服务
type RunCleanupService struct {
	store         RunStore
	retentionDays int
	spec          string
	cron          *cron.Cron
	ctx           context.Context
	cancel        context.CancelFunc
	started       bool
	now           func() time.Time
}

// NewRunCleanupService 创建分析记录清理服务
func NewRunCleanupService(store RunStore, cfg config.RetentionConfig) *RunCleanupService {
	ctx, cancel := context.WithCancel(context.Background())

	return &RunCleanupService{
		store:         store,
		retentionDays: cfg.Days,
		spec:          cfg.Cron,
		cron:          cron.New(cron.WithSeconds()),
		ctx:           ctx,
		cancel:        cancel,
		now:           time.Now,
	}
}

// CleanupExpiredRuns 清理过期分析记录
func (s *RunCleanupService) CleanupExpiredRuns(ctx context.Context) (int64, error) {
	if s.retentionDays <= 0 {
		return 0, nil
	}
	startTime := time.Now()
	cutoff := s.now().AddDate(0, 0, -s.retentionDays)

	slog.Debug("清理过期分析记录", "cutoff_date", cutoff.Format("2006-01-02 15:04:05"), "retention_days", s.retentionDays)

	deleted, err := s.store.DeleteFinishedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	slog.Info("分析记录清理完成",
		"deleted_count", deleted,
		"retention_days", s.retentionDays,
		"duration_ms", time.Since(startTime).Milliseconds())
	return deleted, nil
}

// Start 启动定时清理，启动时先执行一次
func (s *RunCleanupService) Start() error {
	if s.started {
		return fmt.Errorf("分析记录清理调度器已经启动")
	}

	_, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.CleanupExpiredRuns(s.ctx); err != nil {
			slog.Error("定时清理分析记录失败", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("清理周期无效 %q: %w", s.spec, err)
	}

	s.cron.Start()
	s.started = true
	slog.Info("分析记录清理调度器启动成功", "cron", s.spec, "retention_days", s.retentionDays)

	go func() {
		if _, err := s.CleanupExpiredRuns(s.ctx); err != nil {
			slog.Error("首次清理分析记录失败", "error", err)
		}
	}()
	return nil
}

// Stop 停止定时清理，等待进行中的清理结束
func (s *RunCleanupService) Stop() {
	if !s.started {
		return
	}
	s.cancel()
	<-s.cron.Stop().Done()
	s.started = false
	slog.Info("分析记录清理调度器已停止")
}
