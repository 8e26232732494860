/*
 * @module KafkaConnector
 * @description Kafka连接器，封装生产者和按主题回放的消费者，供数据集读取和事件发布共用
 * @architecture 适配器模式 - 封装第三方Kafka客户端，提供统一的接口
 * @documentReference DESIGN.md
 * @stateFlow 连接建立 -> 消息发送/主题回放 -> 连接断开
 * @rules 生产者按主题缓存；回放从最早偏移量读到当前末尾后结束
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/datasource/messaging_kafka.go, service/event/publisher.go
 */
package connectors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers      []string      `json:"brokers"`
	WriteTimeout time.Duration `json:"write_timeout"`
	MaxWait      time.Duration `json:"max_wait"`
}

// KafkaConnector Kafka连接器结构体
type KafkaConnector struct {
	config  *KafkaConfig
	writers map[string]*kafka.Writer // 按topic分组的生产者
	mutex   sync.RWMutex
	logger  *log.Logger
}

// NewKafkaConnector 创建新的Kafka连接器
func NewKafkaConnector(config *KafkaConfig, logger *log.Logger) *KafkaConnector {
	if logger == nil {
		logger = log.Default()
	}
	if config.WriteTimeout <= 0 {
		config.WriteTimeout = 10 * time.Second
	}
	if config.MaxWait <= 0 {
		config.MaxWait = 500 * time.Millisecond
	}
	return &KafkaConnector{
		config:  config,
		writers: make(map[string]*kafka.Writer),
		logger:  logger,
	}
}

// writer 获取或创建topic的生产者
func (kc *KafkaConnector) writer(topic string) *kafka.Writer {
	kc.mutex.RLock()
	w, ok := kc.writers[topic]
	kc.mutex.RUnlock()
	if ok {
		return w
	}

	kc.mutex.Lock()
	defer kc.mutex.Unlock()
	if w, ok = kc.writers[topic]; ok {
		return w
	}
	w = &kafka.Writer{
		Addr:                   kafka.TCP(kc.config.Brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
	kc.writers[topic] = w
	return w
}

// Produce 发送消息，value 为 []byte、string 或可JSON序列化的值
func (kc *KafkaConnector) Produce(ctx context.Context, topic, key string, value interface{}) error {
	if len(kc.config.Brokers) == 0 {
		return fmt.Errorf("未配置Kafka brokers")
	}
	valueBytes, err := serializeValue(value)
	if err != nil {
		return fmt.Errorf("序列化消息值失败: %v", err)
	}

	ctx, cancel := context.WithTimeout(ctx, kc.config.WriteTimeout)
	defer cancel()

	msg := kafka.Message{Key: []byte(key), Value: valueBytes, Time: time.Now()}
	if err := kc.writer(topic).WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("发送消息失败 topic=%s: %v", topic, err)
	}
	return nil
}

// ReadTopic 从最早偏移量回放主题的全部消息，读到回放开始时的末尾偏移量即返回
func (kc *KafkaConnector) ReadTopic(ctx context.Context, topic string) ([][]byte, error) {
	if len(kc.config.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka brokers")
	}

	conn, err := kafka.DialLeader(ctx, "tcp", kc.config.Brokers[0], topic, 0)
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败 topic=%s: %v", topic, err)
	}
	first, last, err := conn.ReadOffsets()
	conn.Close()
	if err != nil {
		return nil, fmt.Errorf("读取偏移量失败 topic=%s: %v", topic, err)
	}
	if last <= first {
		return nil, nil
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   kc.config.Brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
		MaxWait:   kc.config.MaxWait,
	})
	defer reader.Close()
	if err := reader.SetOffset(first); err != nil {
		return nil, fmt.Errorf("设置偏移量失败 topic=%s: %v", topic, err)
	}

	values := make([][]byte, 0, last-first)
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
				return values, fmt.Errorf("回放主题超时 topic=%s 已读 %d/%d: %w", topic, len(values), last-first, err)
			}
			return values, fmt.Errorf("读取消息失败 topic=%s: %v", topic, err)
		}
		values = append(values, msg.Value)
		if msg.Offset >= last-1 {
			break
		}
	}
	kc.logger.Printf("主题回放完成 topic=%s 消息数=%d", topic, len(values))
	return values, nil
}

// ListTopics 列出以 prefix 开头的主题
func (kc *KafkaConnector) ListTopics(prefix string) ([]string, error) {
	if len(kc.config.Brokers) == 0 {
		return nil, fmt.Errorf("未配置Kafka brokers")
	}
	conn, err := kafka.Dial("tcp", kc.config.Brokers[0])
	if err != nil {
		return nil, fmt.Errorf("连接Kafka失败: %v", err)
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return nil, fmt.Errorf("读取分区信息失败: %v", err)
	}
	seen := make(map[string]bool)
	topics := make([]string, 0)
	for _, p := range partitions {
		if len(p.Topic) >= len(prefix) && p.Topic[:len(prefix)] == prefix && !seen[p.Topic] {
			seen[p.Topic] = true
			topics = append(topics, p.Topic)
		}
	}
	return topics, nil
}

// Close 关闭全部生产者
func (kc *KafkaConnector) Close() error {
	kc.mutex.Lock()
	defer kc.mutex.Unlock()

	for topic, writer := range kc.writers {
		if err := writer.Close(); err != nil {
			kc.logger.Printf("关闭生产者失败 topic=%s: %v", topic, err)
		}
	}
	kc.writers = make(map[string]*kafka.Writer)
	return nil
}

// serializeValue 序列化消息值
func serializeValue(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return json.Marshal(v)
	}
}
