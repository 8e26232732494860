/*
 * @module RedisConnector
 * @description Redis连接器，封装列表读取、键扫描和频道发布
 * @architecture 适配器模式 - 封装第三方Redis客户端，提供统一的接口
 * @documentReference DESIGN.md
 * @stateFlow 连接建立 -> 数据读取/发布 -> 连接断开
 * @rules 列表元素按宽松规则转换为数值，无法转换的元素返回错误
 * @dependencies github.com/go-redis/redis/v8, github.com/spf13/cast
 * @refs service/datasource/cache_redis.go, service/event/publisher.go, service/scheduler/redis_lock.go
 */
package connectors

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cast"
)

// RedisConfig Redis配置信息
type RedisConfig struct {
	Address     string        `json:"address"`
	Password    string        `json:"password"`
	Database    int           `json:"database"`
	PoolSize    int           `json:"pool_size"`
	DialTimeout time.Duration `json:"dial_timeout"`
	ReadTimeout time.Duration `json:"read_timeout"`
}

// RedisConnector Redis连接器结构体
type RedisConnector struct {
	config *RedisConfig
	client *redis.Client
	logger *log.Logger
}

// NewRedisConnector 创建新的Redis连接器
func NewRedisConnector(config *RedisConfig, logger *log.Logger) *RedisConnector {
	if logger == nil {
		logger = log.Default()
	}
	opts := &redis.Options{
		Addr:     config.Address,
		Password: config.Password,
		DB:       config.Database,
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.DialTimeout > 0 {
		opts.DialTimeout = config.DialTimeout
	}
	if config.ReadTimeout > 0 {
		opts.ReadTimeout = config.ReadTimeout
	}
	return &RedisConnector{
		config: config,
		client: redis.NewClient(opts),
		logger: logger,
	}
}

// Client 底层客户端
func (rc *RedisConnector) Client() *redis.Client {
	return rc.client
}

// Ping 测试连接
func (rc *RedisConnector) Ping(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("Redis连接失败 address=%s: %v", rc.config.Address, err)
	}
	return nil
}

// Exists 键是否存在
func (rc *RedisConnector) Exists(ctx context.Context, key string) (bool, error) {
	n, err := rc.client.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("检查键失败 key=%s: %v", key, err)
	}
	return n > 0, nil
}

// ReadFloatList 读取整个列表并转换为数值
func (rc *RedisConnector) ReadFloatList(ctx context.Context, key string) ([]float64, error) {
	items, err := rc.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("读取列表失败 key=%s: %v", key, err)
	}
	values := make([]float64, 0, len(items))
	for i, item := range items {
		v, err := cast.ToFloat64E(item)
		if err != nil {
			return nil, fmt.Errorf("列表元素不是数值 key=%s index=%d: %v", key, i, err)
		}
		values = append(values, v)
	}
	return values, nil
}

// PushFloats 追加数值到列表
func (rc *RedisConnector) PushFloats(ctx context.Context, key string, values []float64) error {
	if len(values) == 0 {
		return nil
	}
	items := make([]interface{}, len(values))
	for i, v := range values {
		items[i] = v
	}
	if err := rc.client.RPush(ctx, key, items...).Err(); err != nil {
		return fmt.Errorf("写入列表失败 key=%s: %v", key, err)
	}
	return nil
}

// ScanKeys 按模式扫描键
func (rc *RedisConnector) ScanKeys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	iter := rc.client.Scan(ctx, 0, pattern, 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("扫描键失败 pattern=%s: %v", pattern, err)
	}
	return keys, nil
}

// Publish 发布消息到频道
func (rc *RedisConnector) Publish(ctx context.Context, channel string, value interface{}) error {
	payload, err := serializeValue(value)
	if err != nil {
		return fmt.Errorf("序列化消息失败: %v", err)
	}
	if err := rc.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("发布消息失败 channel=%s: %v", channel, err)
	}
	return nil
}

// Close 关闭连接
func (rc *RedisConnector) Close() error {
	return rc.client.Close()
}
