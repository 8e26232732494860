/*
 * @module service/datasource/redis
 * @description Redis列表数据源，每个样品每列一个列表键 <key_prefix>:<样品>:<列名>
 * @architecture 缓存适配器 - 复用 RedisConnector
 * @documentReference DESIGN.md
 * @stateFlow Ping -> Open 扫描样品键 -> ReadValues LRange -> 关闭连接
 * @rules 列表元素必须可转换为数值
 * @dependencies client/connectors, github.com/go-redis/redis/v8
 * @refs interface.go, base.go, client/connectors/redis_connector.go
 */

package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"reecal-service/client/connectors"
	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// RedisDataSource Redis数据源
type RedisDataSource struct {
	*BaseDataSource
	connector *connectors.RedisConnector
	prefix    string
}

// NewRedisDataSource 创建Redis数据源
func NewRedisDataSource() DataSourceInterface {
	return &RedisDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeCacheRedis, true),
	}
}

// Start 建立连接
func (r *RedisDataSource) Start(ctx context.Context) error {
	r.prefix = strings.TrimSuffix(r.StringParam("key_prefix", "reecal:dataset"), ":")
	conn := connectors.NewRedisConnector(&connectors.RedisConfig{
		Address:  r.StringParam("address", "localhost:6379"),
		Password: r.StringParam("password", ""),
		Database: r.IntParam("database", 0),
	}, nil)
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return err
	}
	if err := r.BaseDataSource.Start(ctx); err != nil {
		conn.Close()
		return err
	}
	r.connector = conn
	return nil
}

// Open 样品至少有一个列表键才算存在
func (r *RedisDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := r.ensureStarted(); err != nil {
		return nil, err
	}
	keys, err := r.connector.ScanKeys(ctx, r.prefix+":"+identifier+":*")
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, identifier)
	}
	return r.WrapHandle(&redisHandle{r: r, identifier: identifier}), nil
}

// ListDatasets 从键名中提取样品
func (r *RedisDataSource) ListDatasets(ctx context.Context) ([]string, error) {
	if err := r.ensureStarted(); err != nil {
		return nil, err
	}
	keys, err := r.connector.ScanKeys(ctx, r.prefix+":*")
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{})
	for _, k := range keys {
		rest := strings.TrimPrefix(k, r.prefix+":")
		if i := strings.LastIndex(rest, ":"); i > 0 {
			seen[rest[:i]] = struct{}{}
		}
	}
	ids := make([]string, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Stop 关闭连接
func (r *RedisDataSource) Stop(ctx context.Context) error {
	if r.connector != nil {
		r.connector.Close()
		r.connector = nil
	}
	return r.BaseDataSource.Stop(ctx)
}

// HealthCheck Redis健康检查
func (r *RedisDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status, err := r.BaseDataSource.HealthCheck(ctx)
	if err != nil || status.Status != "online" {
		return status, err
	}
	if err := r.connector.Ping(ctx); err != nil {
		status.Status = "error"
		status.Message = err.Error()
	}
	return status, nil
}

type redisHandle struct {
	r          *RedisDataSource
	identifier string
}

func (h *redisHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	key := h.r.prefix + ":" + h.identifier + ":" + column
	exists, err := h.r.connector.Exists(ctx, key)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrColumnNotFound, column)
	}
	return h.r.connector.ReadFloatList(ctx, key)
}

func (h *redisHandle) Close() error { return nil }
