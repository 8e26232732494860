/*
 * @module service/storage/run_repository
 * @description 分析记录仓储，保存流水线结果并按ID/状态查询
 * @architecture 仓储模式 - 隔离 gorm 与业务层
 * @documentReference DESIGN.md
 * @stateFlow Create(pending) -> MarkRunning -> Complete/Fail -> Get/List
 * @rules 样品结果与分析记录在同一事务内写入；重复保存时先删除旧的样品结果
 * @dependencies gorm.io/gorm, gorm.io/driver/postgres, gorm.io/driver/sqlite
 * @refs service/models/analysis.go, service/pipeline
 */

package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"reecal-service/service/config"
	"reecal-service/service/models"
	"reecal-service/service/pipeline"
)

// ErrRunNotFound 分析记录不存在
var ErrRunNotFound = errors.New("分析记录不存在")

// OpenDatabase 按配置打开结果库
func OpenDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN())
	case "sqlite":
		dialector = sqlite.Open(cfg.SQLitePath)
	default:
		return nil, fmt.Errorf("不支持的数据库驱动: %s", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)})
	if err != nil {
		return nil, fmt.Errorf("数据库连接失败: %v", err)
	}
	return db, nil
}

// AutoMigrate 迁移分析相关表
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&models.AnalysisRun{}, &models.SampleResult{})
}

// ListOptions 列表查询条件
type ListOptions struct {
	Status       string
	DataSourceID string
	Page         int
	Size         int
}

// RunRepository 分析记录仓储
type RunRepository struct {
	db *gorm.DB
}

// NewRunRepository 创建仓储
func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

// Create 创建待执行的分析记录
func (r *RunRepository) Create(ctx context.Context, run *models.AnalysisRun) error {
	if err := r.db.WithContext(ctx).Omit("Samples").Create(run).Error; err != nil {
		return fmt.Errorf("创建分析记录失败: %v", err)
	}
	return nil
}

// MarkRunning 标记为执行中
func (r *RunRepository) MarkRunning(ctx context.Context, id string) error {
	now := time.Now()
	res := r.db.WithContext(ctx).Model(&models.AnalysisRun{}).Where("id = ?", id).
		Updates(map[string]interface{}{"status": models.RunStatusRunning, "started_at": &now})
	if res.Error != nil {
		return fmt.Errorf("更新分析状态失败: %v", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// Complete 写入流水线结果并标记为成功
func (r *RunRepository) Complete(ctx context.Context, run *models.AnalysisRun, res *pipeline.Result) error {
	if err := ApplyResult(run, res); err != nil {
		return err
	}
	run.Status = models.RunStatusSuccess
	return r.Save(ctx, run)
}

// Fail 标记为失败
func (r *RunRepository) Fail(ctx context.Context, run *models.AnalysisRun, cause error) error {
	now := time.Now()
	run.Status = models.RunStatusFailed
	run.ErrorMessage = cause.Error()
	run.FinishedAt = &now
	if run.StartedAt != nil {
		run.DurationMs = now.Sub(*run.StartedAt).Milliseconds()
	}
	return r.Save(ctx, run)
}

// Save 保存分析记录及样品结果，样品结果整体替换
func (r *RunRepository) Save(ctx context.Context, run *models.AnalysisRun) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Samples").Save(run).Error; err != nil {
			return fmt.Errorf("保存分析记录失败: %v", err)
		}
		if err := tx.Where("run_id = ?", run.ID).Delete(&models.SampleResult{}).Error; err != nil {
			return fmt.Errorf("清理样品结果失败: %v", err)
		}
		if len(run.Samples) == 0 {
			return nil
		}
		for i := range run.Samples {
			run.Samples[i].ID = ""
			run.Samples[i].RunID = run.ID
		}
		if err := tx.CreateInBatches(&run.Samples, 100).Error; err != nil {
			return fmt.Errorf("保存样品结果失败: %v", err)
		}
		return nil
	})
}

// Get 按ID获取分析记录，样品结果按浓度排序
func (r *RunRepository) Get(ctx context.Context, id string) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	err := r.db.WithContext(ctx).
		Preload("Samples", func(db *gorm.DB) *gorm.DB { return db.Order("concentration ASC") }).
		First(&run, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询分析记录失败: %v", err)
	}
	return &run, nil
}

// List 分页查询分析记录，不加载样品结果
func (r *RunRepository) List(ctx context.Context, opts ListOptions) ([]models.AnalysisRun, int64, error) {
	if opts.Page <= 0 {
		opts.Page = 1
	}
	if opts.Size <= 0 || opts.Size > 100 {
		opts.Size = 20
	}

	query := r.db.WithContext(ctx).Model(&models.AnalysisRun{})
	if opts.Status != "" {
		query = query.Where("status = ?", opts.Status)
	}
	if opts.DataSourceID != "" {
		query = query.Where("data_source_id = ?", opts.DataSourceID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("统计分析记录失败: %v", err)
	}

	var runs []models.AnalysisRun
	err := query.Order("created_at DESC").
		Offset((opts.Page - 1) * opts.Size).
		Limit(opts.Size).
		Find(&runs).Error
	if err != nil {
		return nil, 0, fmt.Errorf("查询分析记录失败: %v", err)
	}
	return runs, total, nil
}

// Latest 最近一次成功的分析
func (r *RunRepository) Latest(ctx context.Context, dataSourceID string) (*models.AnalysisRun, error) {
	var run models.AnalysisRun
	query := r.db.WithContext(ctx).Where("status = ?", models.RunStatusSuccess)
	if dataSourceID != "" {
		query = query.Where("data_source_id = ?", dataSourceID)
	}
	err := query.Order("created_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询分析记录失败: %v", err)
	}
	return &run, nil
}

// Delete 删除分析记录及其样品结果
func (r *RunRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("run_id = ?", id).Delete(&models.SampleResult{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.AnalysisRun{}, "id = ?", id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrRunNotFound
		}
		slog.Info("分析记录已删除", "run_id", id)
		return nil
	})
}

// DeleteFinishedBefore 删除 cutoff 之前创建且已结束的分析记录，返回删除的分析数
func (r *RunRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		expired := tx.Model(&models.AnalysisRun{}).Select("id").
			Where("created_at < ? AND status IN ?", cutoff, []string{models.RunStatusSuccess, models.RunStatusFailed})
		if err := tx.Where("run_id IN (?)", expired).Delete(&models.SampleResult{}).Error; err != nil {
			return fmt.Errorf("删除过期样品结果失败: %w", err)
		}
		res := tx.Where("created_at < ? AND status IN ?", cutoff, []string{models.RunStatusSuccess, models.RunStatusFailed}).
			Delete(&models.AnalysisRun{})
		if res.Error != nil {
			return fmt.Errorf("删除过期分析记录失败: %w", res.Error)
		}
		deleted = res.RowsAffected
		return nil
	})
	return deleted, err
}
