/*
 * @module service/datasource/base
 * @description 数据源基础实现，提供状态管理、配置读取和变换脚本包装
 * @architecture 模板方法模式 - 定义数据源操作的通用流程
 * @documentReference DESIGN.md
 * @stateFlow 数据源状态管理：初始化 -> 启动 -> 运行 -> 停止
 * @rules 所有具体数据源嵌入基础实现，重写 Start/Open/Stop；配置按类型定义校验后才能初始化
 * @dependencies github.com/spf13/cast, sync, context
 * @refs interface.go, script.go, service/meta/datasource.go
 */

package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/spf13/cast"

	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// DefaultColumn 默认能量列名
const DefaultColumn = "Energy"

// BaseDataSource 基础数据源实现
type BaseDataSource struct {
	mu             sync.RWMutex
	id             string
	dsType         string
	config         *Config
	isInitialized  bool
	isStarted      bool
	isResident     bool
	lastHealthTime time.Time
	scriptExecutor ScriptExecutor
	transform      func(float64) float64
}

// NewBaseDataSource 创建基础数据源实例
func NewBaseDataSource(dsType string, isResident bool) *BaseDataSource {
	return &BaseDataSource{
		dsType:         dsType,
		isResident:     isResident,
		scriptExecutor: NewYaegiScriptExecutor(),
	}
}

// Init 初始化数据源
func (b *BaseDataSource) Init(ctx context.Context, cfg *Config) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if cfg == nil {
		return fmt.Errorf("数据源配置不能为空")
	}
	if b.isInitialized {
		return fmt.Errorf("数据源 %s 已经初始化", cfg.ID)
	}
	if cfg.Connection == nil {
		cfg.Connection = make(map[string]interface{})
	}

	if definition, ok := meta.DataSourceTypes[b.dsType]; ok {
		result := definition.ValidateConfig(cfg.Connection)
		if !result.IsValid {
			return fmt.Errorf("数据源 %s 配置无效: %s", cfg.ID, strings.Join(result.Errors, "; "))
		}
		for _, w := range result.Warnings {
			slog.Warn("数据源配置告警", "datasource_id", cfg.ID, "warning", w)
		}
	}

	if script := cast.ToString(cfg.Connection["transform_script"]); script != "" {
		fn, err := b.scriptExecutor.Compile(script)
		if err != nil {
			return fmt.Errorf("数据源 %s 变换脚本无效: %v", cfg.ID, err)
		}
		b.transform = fn
	}

	b.id = cfg.ID
	b.config = cfg
	b.isInitialized = true
	return nil
}

// Start 启动数据源（基础实现只切换状态，子类重写后需调用）
func (b *BaseDataSource) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.isInitialized {
		return fmt.Errorf("数据源 %s 未初始化", b.id)
	}
	if b.isStarted {
		return fmt.Errorf("数据源 %s 已经启动", b.id)
	}
	b.isStarted = true
	return nil
}

// Stop 停止数据源
func (b *BaseDataSource) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.isStarted = false
	return nil
}

// HealthCheck 健康检查
func (b *BaseDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	startTime := time.Now()
	status := &HealthStatus{
		LastCheck: startTime,
		Details:   make(map[string]interface{}),
	}

	switch {
	case !b.isInitialized:
		status.Status = "offline"
		status.Message = "数据源未初始化"
	case !b.isStarted:
		status.Status = "offline"
		status.Message = "数据源未启动"
	default:
		status.Status = "online"
		status.Message = "数据源正常"
	}
	status.Details["type"] = b.dsType
	status.Details["resident"] = b.isResident
	status.Details["initialized"] = b.isInitialized
	status.Details["started"] = b.isStarted
	status.ResponseTime = time.Since(startTime)

	b.lastHealthTime = startTime
	return status, nil
}

// GetType 获取数据源类型
func (b *BaseDataSource) GetType() string {
	return b.dsType
}

// GetID 获取数据源ID
func (b *BaseDataSource) GetID() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.id
}

// Unit 数据集声明的能量单位
func (b *BaseDataSource) Unit() string {
	return b.StringParam("unit", "")
}

// IsResident 是否为常驻数据源
func (b *BaseDataSource) IsResident() bool {
	return b.isResident
}

// IsInitialized 检查是否已初始化
func (b *BaseDataSource) IsInitialized() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isInitialized
}

// IsStarted 检查是否已启动
func (b *BaseDataSource) IsStarted() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.isStarted
}

// ensureStarted Open 之前检查状态
func (b *BaseDataSource) ensureStarted() error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.isStarted {
		return fmt.Errorf("%w: %s", ErrNotStarted, b.id)
	}
	return nil
}

// param 读取连接配置项
func (b *BaseDataSource) param(key string) (interface{}, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.config == nil {
		return nil, false
	}
	v, ok := b.config.Connection[key]
	if ok && v != nil {
		return v, true
	}
	if definition, exists := meta.DataSourceTypes[b.dsType]; exists {
		for _, f := range definition.Fields {
			if f.Name == key && f.DefaultValue != nil {
				return f.DefaultValue, true
			}
		}
	}
	return nil, false
}

// StringParam 读取字符串配置，缺省时依次取类型定义默认值和 def
func (b *BaseDataSource) StringParam(key, def string) string {
	if v, ok := b.param(key); ok {
		if s := cast.ToString(v); s != "" {
			return s
		}
	}
	return def
}

// IntParam 读取整数配置
func (b *BaseDataSource) IntParam(key string, def int) int {
	if v, ok := b.param(key); ok {
		if n, err := cast.ToIntE(v); err == nil {
			return n
		}
	}
	return def
}

// DurationParam 读取以秒为单位的时长配置
func (b *BaseDataSource) DurationParam(key string, def time.Duration) time.Duration {
	if v, ok := b.param(key); ok {
		if secs, err := cast.ToFloat64E(v); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}
	return def
}

// StringSliceParam 读取字符串数组配置，也接受逗号分隔的字符串
func (b *BaseDataSource) StringSliceParam(key string) []string {
	v, ok := b.param(key)
	if !ok {
		return nil
	}
	if s, isString := v.(string); isString {
		parts := strings.Split(s, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}
	return cast.ToStringSlice(v)
}

// resolveColumn 请求未指定列名时使用配置的默认列
func (b *BaseDataSource) resolveColumn(column string) string {
	if column != "" {
		return column
	}
	return b.StringParam("column", DefaultColumn)
}

// WrapHandle 为具体数据源的句柄加上默认列解析和变换脚本
func (b *BaseDataSource) WrapHandle(h spectrum.DatasetHandle) spectrum.DatasetHandle {
	b.mu.RLock()
	fn := b.transform
	b.mu.RUnlock()
	return &wrappedHandle{inner: h, base: b, transform: fn}
}

type wrappedHandle struct {
	inner     spectrum.DatasetHandle
	base      *BaseDataSource
	transform func(float64) float64
}

func (w *wrappedHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	values, err := w.inner.ReadValues(ctx, w.base.resolveColumn(column))
	if err != nil || w.transform == nil {
		return values, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = w.transform(v)
	}
	return out, nil
}

func (w *wrappedHandle) Close() error {
	return w.inner.Close()
}
