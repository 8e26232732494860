/*
 * @module service/datasource/registry
 * @description 数据源注册中心，负责数据源类型的注册和全局管理
 * @architecture 注册中心模式 + 单例模式 - 统一管理所有数据源类型
 * @documentReference DESIGN.md
 * @stateFlow 注册中心生命周期：初始化 -> 注册内置类型 -> 提供工厂服务 -> 管理实例
 * @rules 提供全局唯一的数据源工厂和管理器实例
 * @dependencies sync, log/slog
 * @refs interface.go, base.go, manager.go
 */

package datasource

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"reecal-service/service/meta"
)

// DefaultDataSourceFactory 默认数据源工厂
type DefaultDataSourceFactory struct {
	mu       sync.RWMutex
	creators map[string]DataSourceCreator
}

// NewDefaultDataSourceFactory 创建空工厂
func NewDefaultDataSourceFactory() *DefaultDataSourceFactory {
	return &DefaultDataSourceFactory{creators: make(map[string]DataSourceCreator)}
}

// Create 创建数据源实例
func (f *DefaultDataSourceFactory) Create(dsType string) (DataSourceInterface, error) {
	f.mu.RLock()
	creator, ok := f.creators[dsType]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("不支持的数据源类型: %s", dsType)
	}
	return creator(), nil
}

// GetSupportedTypes 已注册的类型，按名称排序
func (f *DefaultDataSourceFactory) GetSupportedTypes() []string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	types := make([]string, 0, len(f.creators))
	for t := range f.creators {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// RegisterType 注册数据源类型
func (f *DefaultDataSourceFactory) RegisterType(dsType string, creator DataSourceCreator) error {
	if dsType == "" {
		return fmt.Errorf("数据源类型不能为空")
	}
	if creator == nil {
		return fmt.Errorf("数据源创建器不能为空")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.creators[dsType] = creator
	return nil
}

// DataSourceRegistry 数据源注册中心
type DataSourceRegistry struct {
	mu      sync.RWMutex
	factory DataSourceFactory
	manager *Manager
}

// 全局注册中心实例
var (
	globalRegistry *DataSourceRegistry
	registryOnce   sync.Once
)

// GetGlobalRegistry 获取全局数据源注册中心实例
func GetGlobalRegistry() *DataSourceRegistry {
	registryOnce.Do(func() {
		globalRegistry = NewDataSourceRegistry()
	})
	return globalRegistry
}

// NewDataSourceRegistry 创建数据源注册中心
func NewDataSourceRegistry() *DataSourceRegistry {
	factory := NewDefaultDataSourceFactory()
	registry := &DataSourceRegistry{
		factory: factory,
		manager: NewManager(factory),
	}
	registry.registerBuiltinTypes()
	return registry
}

// GetFactory 获取数据源工厂
func (r *DataSourceRegistry) GetFactory() DataSourceFactory {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factory
}

// GetManager 获取数据源管理器
func (r *DataSourceRegistry) GetManager() *Manager {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.manager
}

// RegisterType 注册数据源类型
func (r *DataSourceRegistry) RegisterType(dsType string, creator DataSourceCreator) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.factory.RegisterType(dsType, creator); err != nil {
		return fmt.Errorf("注册数据源类型失败: %v", err)
	}
	slog.Info("数据源类型注册成功", "type", dsType)
	return nil
}

// GetSupportedTypes 获取支持的数据源类型
func (r *DataSourceRegistry) GetSupportedTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factory.GetSupportedTypes()
}

// CreateDataSource 创建数据源实例
func (r *DataSourceRegistry) CreateDataSource(dsType string) (DataSourceInterface, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factory.Create(dsType)
}

// registerBuiltinTypes 注册内置数据源类型
func (r *DataSourceRegistry) registerBuiltinTypes() {
	builtins := map[string]DataSourceCreator{
		meta.DataSourceTypeMemory:         NewMemoryDataSource,
		meta.DataSourceTypeFileCSV:        NewCSVFileDataSource,
		meta.DataSourceTypeDBSQLite:       NewSQLiteDataSource,
		meta.DataSourceTypeDBPostgreSQL:   NewPostgreSQLDataSource,
		meta.DataSourceTypeCacheRedis:     NewRedisDataSource,
		meta.DataSourceTypeMessagingKafka: NewKafkaDataSource,
		meta.DataSourceTypeMessagingMQTT:  NewMQTTDataSource,
		meta.DataSourceTypeApiHTTP:        NewHTTPDataSource,
	}
	for dsType, creator := range builtins {
		if err := r.factory.RegisterType(dsType, creator); err != nil {
			slog.Error("注册内置数据源失败", "type", dsType, "error", err)
		}
	}
	slog.Debug("内置数据源类型注册完成", "types", r.factory.GetSupportedTypes())
}
