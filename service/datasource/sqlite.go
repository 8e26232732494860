/*
 * @module service/datasource/sqlite
 * @description SQLite数据集来源，读取本地打分表
 * @architecture ORM适配器 - 通过 gorm 访问单文件数据库
 * @documentReference DESIGN.md
 * @stateFlow 打开数据库文件 -> Open 校验样品 -> ReadValues 检查列并 Pluck -> 关闭
 * @rules 列不存在返回 ErrColumnNotFound；NULL 值跳过
 * @dependencies gorm.io/gorm, gorm.io/driver/sqlite
 * @refs interface.go, base.go
 */

package datasource

import (
	"context"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// SQLiteDataSource SQLite数据源
type SQLiteDataSource struct {
	*BaseDataSource
	db *gorm.DB
}

// NewSQLiteDataSource 创建SQLite数据源
func NewSQLiteDataSource() DataSourceInterface {
	return &SQLiteDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeDBSQLite, true),
	}
}

// Start 打开数据库文件
func (s *SQLiteDataSource) Start(ctx context.Context) error {
	db, err := gorm.Open(sqlite.Open(s.StringParam("path", "")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return fmt.Errorf("打开SQLite数据库失败: %v", err)
	}
	if !db.Migrator().HasTable(s.table()) {
		if sqlDB, e := db.DB(); e == nil {
			sqlDB.Close()
		}
		return fmt.Errorf("数据表不存在: %s", s.table())
	}
	if err := s.BaseDataSource.Start(ctx); err != nil {
		return err
	}
	s.db = db
	return nil
}

// Open 校验样品存在
func (s *SQLiteDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := s.ensureStarted(); err != nil {
		return nil, err
	}
	var count int64
	err := s.db.WithContext(ctx).Table(s.table()).
		Where(clause.Eq{Column: clause.Column{Name: s.sampleColumn()}, Value: identifier}).
		Limit(1).Count(&count).Error
	if err != nil {
		return nil, fmt.Errorf("查询样品失败: %v", err)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, identifier)
	}
	return s.WrapHandle(&sqliteHandle{s: s, identifier: identifier}), nil
}

// ListDatasets 列出全部样品
func (s *SQLiteDataSource) ListDatasets(ctx context.Context) ([]string, error) {
	if err := s.ensureStarted(); err != nil {
		return nil, err
	}
	var ids []string
	err := s.db.WithContext(ctx).Table(s.table()).Distinct().
		Order(clause.OrderByColumn{Column: clause.Column{Name: s.sampleColumn()}}).
		Pluck(s.sampleColumn(), &ids).Error
	if err != nil {
		return nil, fmt.Errorf("查询样品列表失败: %v", err)
	}
	return ids, nil
}

// Stop 关闭数据库
func (s *SQLiteDataSource) Stop(ctx context.Context) error {
	if s.db != nil {
		if sqlDB, err := s.db.DB(); err == nil {
			sqlDB.Close()
		}
		s.db = nil
	}
	return s.BaseDataSource.Stop(ctx)
}

func (s *SQLiteDataSource) table() string {
	return s.StringParam("table", "scoring")
}

func (s *SQLiteDataSource) sampleColumn() string {
	return s.StringParam("sample_column", "sample")
}

type sqliteHandle struct {
	s          *SQLiteDataSource
	identifier string
}

func (h *sqliteHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	db := h.s.db.WithContext(ctx)
	if !db.Migrator().HasColumn(h.s.table(), column) {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}
	var values []float64
	err := db.Table(h.s.table()).
		Where(clause.Eq{Column: clause.Column{Name: h.s.sampleColumn()}, Value: h.identifier}).
		Where(clause.Neq{Column: clause.Column{Name: column}, Value: nil}).
		Pluck(column, &values).Error
	if err != nil {
		return nil, fmt.Errorf("查询能量列失败: %v", err)
	}
	return values, nil
}

func (h *sqliteHandle) Close() error { return nil }
