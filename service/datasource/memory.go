/*
 * @module service/datasource/memory
 * @description 内存数据源，数据集直接保存在进程内，用于测试和接口上传的数据
 * @architecture 键值存储
 * @documentReference DESIGN.md
 * @stateFlow Put 写入 -> Open -> ReadValues 返回副本
 * @rules 读取返回副本，调用方修改不影响已存数据
 * @dependencies sync
 * @refs interface.go, base.go
 */

package datasource

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// MemoryDataSource 内存数据源
type MemoryDataSource struct {
	*BaseDataSource
	dataMu   sync.RWMutex
	datasets map[string]map[string][]float64
}

// NewMemoryDataSource 创建内存数据源
func NewMemoryDataSource() DataSourceInterface {
	return &MemoryDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeMemory, true),
		datasets:       make(map[string]map[string][]float64),
	}
}

// Put 写入一个数据集的一列
func (m *MemoryDataSource) Put(identifier, column string, values []float64) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	cols, ok := m.datasets[identifier]
	if !ok {
		cols = make(map[string][]float64)
		m.datasets[identifier] = cols
	}
	cols[column] = append([]float64(nil), values...)
}

// Delete 删除数据集
func (m *MemoryDataSource) Delete(identifier string) {
	m.dataMu.Lock()
	defer m.dataMu.Unlock()
	delete(m.datasets, identifier)
}

// Open 打开数据集
func (m *MemoryDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, err
	}
	m.dataMu.RLock()
	_, ok := m.datasets[identifier]
	m.dataMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, identifier)
	}
	return m.WrapHandle(&memoryHandle{m: m, identifier: identifier}), nil
}

// ListDatasets 列出全部数据集
func (m *MemoryDataSource) ListDatasets(ctx context.Context) ([]string, error) {
	m.dataMu.RLock()
	defer m.dataMu.RUnlock()
	ids := make([]string, 0, len(m.datasets))
	for id := range m.datasets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

type memoryHandle struct {
	m          *MemoryDataSource
	identifier string
}

func (h *memoryHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	h.m.dataMu.RLock()
	defer h.m.dataMu.RUnlock()
	cols, ok := h.m.datasets[h.identifier]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, h.identifier)
	}
	values, ok := cols[column]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}
	return append([]float64(nil), values...), nil
}

func (h *memoryHandle) Close() error { return nil }
