/*
 * @module testutil/test_helper
 * @description 测试工具和辅助函数
 * @architecture 测试基础设施 - 提供测试通用工具和数据工厂
 * @documentReference DESIGN.md
 * @stateFlow 测试环境初始化 -> 测试数据创建 -> 测试执行 -> 清理资源
 * @rules 提供可重用的测试工具，确保测试环境的一致性
 * @dependencies gorm, sqlite, testify
 * @refs service/models
 */

package testutil

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"reecal-service/service/models"
)

// TestDB 测试数据库配置
type TestDB struct {
	DB *gorm.DB
}

// NewTestDB 创建测试数据库，每次调用使用独立的内存库
func NewTestDB() *TestDB {
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.New().String())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		panic(fmt.Sprintf("failed to connect test database: %v", err))
	}

	err = db.AutoMigrate(
		&models.AnalysisRun{},
		&models.SampleResult{},
	)
	if err != nil {
		panic(fmt.Sprintf("failed to migrate test database: %v", err))
	}

	return &TestDB{DB: db}
}

// CleanDB 清理数据库
func (tdb *TestDB) CleanDB() {
	for _, table := range []string{"sample_results", "analysis_runs"} {
		tdb.DB.Exec(fmt.Sprintf("DELETE FROM %s", table))
	}
}

// Close 关闭数据库连接
func (tdb *TestDB) Close() {
	if db, err := tdb.DB.DB(); err == nil {
		db.Close()
	}
}

// TestDataFactory 测试数据工厂
type TestDataFactory struct {
	DB *gorm.DB
}

// NewTestDataFactory 创建测试数据工厂
func NewTestDataFactory(db *gorm.DB) *TestDataFactory {
	return &TestDataFactory{DB: db}
}

// AnalysisRunOption 分析记录选项函数类型
type AnalysisRunOption func(*models.AnalysisRun)

// WithStatus 设置状态
func WithStatus(status string) AnalysisRunOption {
	return func(r *models.AnalysisRun) { r.Status = status }
}

// WithDataSource 设置数据源
func WithDataSource(id string) AnalysisRunOption {
	return func(r *models.AnalysisRun) { r.DataSourceID = id }
}

// CreateAnalysisRun 创建测试分析记录
func (f *TestDataFactory) CreateAnalysisRun(opts ...AnalysisRunOption) *models.AnalysisRun {
	now := time.Now()
	run := &models.AnalysisRun{
		Name:         "测试分析_" + generateSuffix(),
		Trigger:      models.TriggerAPI,
		DataSourceID: "test",
		Status:       models.RunStatusSuccess,
		Observable:   "Q",
		FitModel:     "linear",
		LOD:          0.9,
		LOQ:          3.0,
		StartedAt:    &now,
	}
	for _, opt := range opts {
		opt(run)
	}
	if err := f.DB.Create(run).Error; err != nil {
		panic(fmt.Sprintf("failed to create analysis run: %v", err))
	}
	return run
}

// DoJSON 向处理器发送 JSON 请求并返回响应
func DoJSON(t *testing.T, h http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

// DecodeJSON 解码响应体
func DecodeJSON(t *testing.T, rec *httptest.ResponseRecorder, out interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), out), rec.Body.String())
}

func generateSuffix() string {
	return uuid.New().String()[:8]
}
