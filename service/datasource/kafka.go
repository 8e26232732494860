/*
 * @module service/datasource/kafka
 * @description Kafka数据集来源，每个样品一个主题，回放主题全部消息作为能量值
 * @architecture 消息回放适配器 - 复用 KafkaConnector
 * @documentReference DESIGN.md
 * @stateFlow Open 校验主题存在 -> ReadValues 从最早偏移量回放到末尾 -> 逐条解析消息
 * @rules 回放受 read_timeout 限制；结束标记消息忽略
 * @dependencies client/connectors, github.com/segmentio/kafka-go
 * @refs interface.go, payload.go, client/connectors/kafka_connector.go
 */

package datasource

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"reecal-service/client/connectors"
	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// KafkaDataSource Kafka数据源
type KafkaDataSource struct {
	*BaseDataSource
	connector   *connectors.KafkaConnector
	topicPrefix string
	readTimeout time.Duration
}

// NewKafkaDataSource 创建Kafka数据源
func NewKafkaDataSource() DataSourceInterface {
	return &KafkaDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeMessagingKafka, false),
		readTimeout:    30 * time.Second,
	}
}

// Start 创建连接器
func (k *KafkaDataSource) Start(ctx context.Context) error {
	brokers := k.StringSliceParam("brokers")
	if len(brokers) == 0 {
		return fmt.Errorf("未配置Kafka brokers")
	}
	k.topicPrefix = k.StringParam("topic_prefix", "reecal.")
	k.readTimeout = k.DurationParam("read_timeout", k.readTimeout)
	k.connector = connectors.NewKafkaConnector(&connectors.KafkaConfig{
		Brokers: brokers,
		MaxWait: time.Second,
	}, nil)
	return k.BaseDataSource.Start(ctx)
}

// Open 校验主题存在
func (k *KafkaDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := k.ensureStarted(); err != nil {
		return nil, err
	}
	topic := k.topicPrefix + identifier
	topics, err := k.connector.ListTopics(topic)
	if err != nil {
		return nil, err
	}
	for _, t := range topics {
		if t == topic {
			return k.WrapHandle(&kafkaHandle{k: k, topic: topic}), nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrDatasetNotFound, identifier)
}

// ListDatasets 列出以前缀开头的主题
func (k *KafkaDataSource) ListDatasets(ctx context.Context) ([]string, error) {
	if err := k.ensureStarted(); err != nil {
		return nil, err
	}
	topics, err := k.connector.ListTopics(k.topicPrefix)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(topics))
	for _, t := range topics {
		ids = append(ids, strings.TrimPrefix(t, k.topicPrefix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Stop 关闭连接器
func (k *KafkaDataSource) Stop(ctx context.Context) error {
	if k.connector != nil {
		k.connector.Close()
		k.connector = nil
	}
	return k.BaseDataSource.Stop(ctx)
}

type kafkaHandle struct {
	k     *KafkaDataSource
	topic string
}

func (h *kafkaHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	readCtx, cancel := context.WithTimeout(ctx, h.k.readTimeout)
	defer cancel()

	messages, err := h.k.connector.ReadTopic(readCtx, h.topic)
	if err != nil {
		return nil, err
	}
	var values []float64
	for i, msg := range messages {
		if isEndOfStream(msg) {
			continue
		}
		vs, err := decodePayload(msg, column)
		if err != nil {
			return nil, fmt.Errorf("主题 %s 第 %d 条消息: %w", h.topic, i, err)
		}
		values = append(values, vs...)
	}
	return values, nil
}

func (h *kafkaHandle) Close() error { return nil }
