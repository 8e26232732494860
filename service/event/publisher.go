package event

import (
	"context"
	"log"
	"time"

	"reecal-service/client/connectors"
	"reecal-service/service/config"
)

// KafkaPublisher 写入 Kafka 主题，以分析ID为消息键
type KafkaPublisher struct {
	conn  *connectors.KafkaConnector
	topic string
}

func NewKafkaPublisher(conn *connectors.KafkaConnector, topic string) *KafkaPublisher {
	return &KafkaPublisher{conn: conn, topic: topic}
}

func (p *KafkaPublisher) Name() string { return "kafka:" + p.topic }

func (p *KafkaPublisher) Publish(ctx context.Context, key string, payload []byte) error {
	return p.conn.Produce(ctx, p.topic, key, payload)
}

func (p *KafkaPublisher) Close() error { return p.conn.Close() }

// MQTTPublisher 以 QoS 1 发布到 MQTT 主题，首次发布时建立连接
type MQTTPublisher struct {
	conn  *connectors.MQTTConnector
	topic string
}

func NewMQTTPublisher(conn *connectors.MQTTConnector, topic string) *MQTTPublisher {
	return &MQTTPublisher{conn: conn, topic: topic}
}

func (p *MQTTPublisher) Name() string { return "mqtt:" + p.topic }

func (p *MQTTPublisher) Publish(_ context.Context, _ string, payload []byte) error {
	if !p.conn.IsConnected() {
		if err := p.conn.Connect(); err != nil {
			return err
		}
	}
	return p.conn.Publish(p.topic, 1, false, payload)
}

func (p *MQTTPublisher) Close() error { return p.conn.Disconnect() }

// RedisPublisher 发布到 Redis 频道
type RedisPublisher struct {
	conn    *connectors.RedisConnector
	channel string
}

func NewRedisPublisher(conn *connectors.RedisConnector, channel string) *RedisPublisher {
	return &RedisPublisher{conn: conn, channel: channel}
}

func (p *RedisPublisher) Name() string { return "redis:" + p.channel }

func (p *RedisPublisher) Publish(ctx context.Context, _ string, payload []byte) error {
	return p.conn.Publish(ctx, p.channel, payload)
}

func (p *RedisPublisher) Close() error { return p.conn.Close() }

// NewFromConfig 按配置创建事件服务，未配置地址的通道不启用
func NewFromConfig(cfg *config.Config, logger *log.Logger) *EventService {
	svc := NewEventService()
	if len(cfg.Kafka.Brokers) > 0 && cfg.Kafka.Topic != "" {
		conn := connectors.NewKafkaConnector(&connectors.KafkaConfig{Brokers: cfg.Kafka.Brokers}, logger)
		svc.AddPublisher(NewKafkaPublisher(conn, cfg.Kafka.Topic))
	}
	if cfg.MQTT.Broker != "" && cfg.MQTT.Topic != "" {
		conn := connectors.NewMQTTConnector(&connectors.MQTTConfig{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			ConnectTimeout: 10 * time.Second,
		}, logger)
		svc.AddPublisher(NewMQTTPublisher(conn, cfg.MQTT.Topic))
	}
	if cfg.Redis.Address != "" && cfg.Redis.Channel != "" {
		conn := connectors.NewRedisConnector(&connectors.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password,
			Database: cfg.Redis.Database,
		}, logger)
		svc.AddPublisher(NewRedisPublisher(conn, cfg.Redis.Channel))
	}
	return svc
}
