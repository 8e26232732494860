/*
 * @module service/datasource/manager
 * @description 数据源管理器，负责实例的注册、启动、查找和停止
 * @architecture 管理器模式 - 按ID持有数据源实例
 * @documentReference DESIGN.md
 * @stateFlow Register(创建->Init->常驻则Start) -> Source(非常驻按需Start) -> Remove/StopAll
 * @rules 常驻数据源注册时立即启动，启动失败保留实例以便重试；非常驻数据源首次使用时启动
 * @dependencies sync, log/slog
 * @refs interface.go, registry.go
 */

package datasource

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"reecal-service/service/spectrum"
)

// ErrDataSourceNotRegistered 数据源未注册
var ErrDataSourceNotRegistered = errors.New("数据源未注册")

// DataSourceStatus 数据源运行状态
type DataSourceStatus struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	IsResident   bool      `json:"is_resident"`
	IsStarted    bool      `json:"is_started"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	UsageCount   int64     `json:"usage_count"`
	HealthStatus string    `json:"health_status"`
	ErrorMessage string    `json:"error_message,omitempty"`
}

// Manager 数据源管理器
type Manager struct {
	mu          sync.RWMutex
	factory     DataSourceFactory
	dataSources map[string]DataSourceInterface
	stats       map[string]*DataSourceStatus
}

// NewManager 创建数据源管理器
func NewManager(factory DataSourceFactory) *Manager {
	return &Manager{
		factory:     factory,
		dataSources: make(map[string]DataSourceInterface),
		stats:       make(map[string]*DataSourceStatus),
	}
}

// Register 注册数据源实例
func (m *Manager) Register(ctx context.Context, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("数据源配置不能为空")
	}
	if cfg.ID == "" {
		return fmt.Errorf("数据源ID不能为空")
	}
	if cfg.Type == "" {
		return fmt.Errorf("数据源类型不能为空")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.dataSources[cfg.ID]; exists {
		return fmt.Errorf("数据源 %s 已存在", cfg.ID)
	}
	instance, err := m.factory.Create(cfg.Type)
	if err != nil {
		return fmt.Errorf("创建数据源实例失败: %v", err)
	}
	if err := instance.Init(ctx, cfg); err != nil {
		return fmt.Errorf("初始化数据源失败: %v", err)
	}

	status := &DataSourceStatus{
		ID:           cfg.ID,
		Type:         cfg.Type,
		IsResident:   instance.IsResident(),
		HealthStatus: "ready",
	}
	if instance.IsResident() {
		if err := instance.Start(ctx); err != nil {
			status.HealthStatus = "error"
			status.ErrorMessage = fmt.Sprintf("启动失败: %v", err)
			slog.Error("常驻数据源启动失败", "datasource_id", cfg.ID, "type", cfg.Type, "error", err)
		} else {
			status.IsStarted = true
			status.StartedAt = time.Now()
			status.HealthStatus = "online"
		}
	}

	m.dataSources[cfg.ID] = instance
	m.stats[cfg.ID] = status
	slog.Info("数据源注册成功", "datasource_id", cfg.ID, "type", cfg.Type, "resident", instance.IsResident())
	return nil
}

// Get 获取数据源实例
func (m *Manager) Get(dsID string) (DataSourceInterface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.dataSources[dsID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDataSourceNotRegistered, dsID)
	}
	return ds, nil
}

// Source 返回可供能谱加载器使用的数据集来源，非常驻数据源在首次打开时启动
func (m *Manager) Source(dsID string) (spectrum.DatasetSource, error) {
	ds, err := m.Get(dsID)
	if err != nil {
		return nil, err
	}
	return &managedSource{m: m, ds: ds}, nil
}

// Remove 停止并移除数据源
func (m *Manager) Remove(ctx context.Context, dsID string) error {
	m.mu.Lock()
	ds, ok := m.dataSources[dsID]
	delete(m.dataSources, dsID)
	delete(m.stats, dsID)
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrDataSourceNotRegistered, dsID)
	}
	if ds.IsStarted() {
		return ds.Stop(ctx)
	}
	return nil
}

// List 按ID排序返回全部数据源状态
func (m *Manager) List() []*DataSourceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*DataSourceStatus, 0, len(m.stats))
	for _, s := range m.stats {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HealthCheckAll 检查全部数据源
func (m *Manager) HealthCheckAll(ctx context.Context) map[string]*HealthStatus {
	m.mu.RLock()
	snapshot := make(map[string]DataSourceInterface, len(m.dataSources))
	for id, ds := range m.dataSources {
		snapshot[id] = ds
	}
	m.mu.RUnlock()

	results := make(map[string]*HealthStatus, len(snapshot))
	for id, ds := range snapshot {
		status, err := ds.HealthCheck(ctx)
		if err != nil {
			status = &HealthStatus{Status: "error", Message: err.Error(), LastCheck: time.Now()}
		}
		results[id] = status
		m.mu.Lock()
		if s, ok := m.stats[id]; ok {
			s.HealthStatus = status.Status
		}
		m.mu.Unlock()
	}
	return results
}

// StopAll 停止全部已启动的数据源
func (m *Manager) StopAll(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var errs []error
	for id, ds := range m.dataSources {
		if !ds.IsStarted() {
			continue
		}
		if err := ds.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("停止数据源 %s 失败: %v", id, err))
		}
		if s, ok := m.stats[id]; ok {
			s.IsStarted = false
			s.HealthStatus = "offline"
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) ensureStarted(ctx context.Context, ds DataSourceInterface) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.stats[ds.GetID()]
	if s != nil {
		s.UsageCount++
	}
	if ds.IsStarted() {
		return nil
	}
	if err := ds.Start(ctx); err != nil {
		if s != nil {
			s.HealthStatus = "error"
			s.ErrorMessage = err.Error()
		}
		return err
	}
	if s != nil {
		s.IsStarted = true
		s.StartedAt = time.Now()
		s.HealthStatus = "online"
		s.ErrorMessage = ""
	}
	return nil
}

type managedSource struct {
	m  *Manager
	ds DataSourceInterface
}

func (s *managedSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := s.m.ensureStarted(ctx, s.ds); err != nil {
		return nil, err
	}
	return s.ds.Open(ctx, identifier)
}

// ListDatasets 数据源不支持列举时返回错误
func (s *managedSource) ListDatasets(ctx context.Context) ([]string, error) {
	lister, ok := s.ds.(Lister)
	if !ok {
		return nil, fmt.Errorf("数据源 %s (%s) 不支持列举数据集", s.ds.GetID(), s.ds.GetType())
	}
	if err := s.m.ensureStarted(ctx, s.ds); err != nil {
		return nil, err
	}
	return lister.ListDatasets(ctx)
}
