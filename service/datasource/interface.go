/*
 * @module service/datasource/interface
 * @description 数据集来源统一接口定义，提供 Init, Start, Open, Stop 等标准方法
 * @architecture 接口隔离原则 - 定义数据集来源操作的标准接口
 * @documentReference DESIGN.md
 * @stateFlow 数据源生命周期：Init -> Start -> Open/ReadValues/Close -> Stop
 * @rules 所有数据源实现必须遵循统一接口；Open 返回的句柄满足 spectrum.DatasetHandle
 * @dependencies context
 * @refs service/spectrum/loader.go, service/meta/datasource.go
 */

package datasource

import (
	"context"
	"errors"
	"time"

	"reecal-service/service/spectrum"
)

var (
	// ErrDatasetNotFound 数据集不存在
	ErrDatasetNotFound = errors.New("数据集不存在")
	// ErrColumnNotFound 数据集中没有请求的能量列
	ErrColumnNotFound = errors.New("能量列不存在")
	// ErrNotStarted 数据源未启动
	ErrNotStarted = errors.New("数据源未启动")
)

// Config 数据源配置
type Config struct {
	ID         string                 `json:"id" yaml:"id"`
	Type       string                 `json:"type" yaml:"type"`
	Connection map[string]interface{} `json:"connection" yaml:"connection"`
}

// DataSourceInterface 数据源统一接口
type DataSourceInterface interface {
	// Init 初始化数据源，校验连接配置
	Init(ctx context.Context, cfg *Config) error

	// Start 启动数据源，建立连接
	Start(ctx context.Context) error

	// Open 打开一个数据集
	Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error)

	// Stop 停止数据源，关闭连接，清理资源
	Stop(ctx context.Context) error

	// HealthCheck 健康检查，返回数据源当前状态
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// GetType 获取数据源类型
	GetType() string

	// GetID 获取数据源ID
	GetID() string

	// Unit 数据集声明的能量单位
	Unit() string

	// IsResident 是否为常驻数据源（需要保持连接）
	IsResident() bool

	// IsInitialized 检查是否已初始化
	IsInitialized() bool

	// IsStarted 检查是否已启动
	IsStarted() bool
}

// Lister 可列举数据集的数据源
type Lister interface {
	ListDatasets(ctx context.Context) ([]string, error)
}

// HealthStatus 健康状态
type HealthStatus struct {
	Status       string                 `json:"status"` // online, offline, error
	Message      string                 `json:"message,omitempty"`
	LastCheck    time.Time              `json:"last_check"`
	ResponseTime time.Duration          `json:"response_time"`
	Details      map[string]interface{} `json:"details,omitempty"`
}

// DataSourceFactory 数据源工厂接口
type DataSourceFactory interface {
	// Create 创建数据源实例
	Create(dsType string) (DataSourceInterface, error)

	// GetSupportedTypes 获取支持的数据源类型列表
	GetSupportedTypes() []string

	// RegisterType 注册新的数据源类型
	RegisterType(dsType string, creator DataSourceCreator) error
}

// DataSourceCreator 数据源创建器函数类型
type DataSourceCreator func() DataSourceInterface

// ScriptExecutor 能量变换脚本执行器接口
type ScriptExecutor interface {
	// Compile 编译脚本为逐值变换函数
	Compile(script string) (func(float64) float64, error)

	// Validate 验证脚本语法
	Validate(script string) error
}
