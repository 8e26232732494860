/*
 * @module service/datasource/mqtt
 * @description MQTT数据集来源，订阅样品主题收集能量值
 * @architecture 发布订阅模式 - 连接MQTT broker并订阅主题
 * @documentReference DESIGN.md
 * @stateFlow MQTT客户端生命周期：连接 -> ReadValues 订阅主题 -> 接收消息直到结束标记或超时 -> 取消订阅 -> 断开连接
 * @rules 收到结束标记、空闲超过 idle_timeout 或总时长超过 read_timeout 时结束读取
 * @dependencies client/connectors, github.com/eclipse/paho.mqtt.golang
 * @refs interface.go, payload.go, client/connectors/mqtt_connector.go
 */

package datasource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"reecal-service/client/connectors"
	"reecal-service/service/meta"
	"reecal-service/service/spectrum"
)

// MQTTDataSource MQTT数据源实现
type MQTTDataSource struct {
	*BaseDataSource
	connector   *connectors.MQTTConnector
	topicPrefix string
	qos         byte
	idleTimeout time.Duration
	readTimeout time.Duration
}

// NewMQTTDataSource 创建MQTT数据源
func NewMQTTDataSource() DataSourceInterface {
	return &MQTTDataSource{
		BaseDataSource: NewBaseDataSource(meta.DataSourceTypeMessagingMQTT, true),
		qos:            1,
		idleTimeout:    5 * time.Second,
		readTimeout:    30 * time.Second,
	}
}

// Start 连接broker
func (m *MQTTDataSource) Start(ctx context.Context) error {
	m.topicPrefix = strings.TrimSuffix(m.StringParam("topic_prefix", "reecal/datasets"), "/")
	m.idleTimeout = m.DurationParam("idle_timeout", m.idleTimeout)
	m.readTimeout = m.DurationParam("read_timeout", m.readTimeout)

	clientID := m.StringParam("client_id", "")
	if clientID == "" {
		clientID = "reecal-" + uuid.NewString()[:8]
	}
	conn := connectors.NewMQTTConnector(&connectors.MQTTConfig{
		Broker:         m.StringParam("broker", ""),
		ClientID:       clientID,
		Username:       m.StringParam("username", ""),
		Password:       m.StringParam("password", ""),
		KeepAlive:      60 * time.Second,
		ConnectTimeout: m.readTimeout,
	}, nil)
	if err := conn.Connect(); err != nil {
		return err
	}
	if err := m.BaseDataSource.Start(ctx); err != nil {
		conn.Disconnect()
		return err
	}
	m.connector = conn
	return nil
}

// Open MQTT 无法预先判断主题是否有数据，读取为空时由上层报告空数据集
func (m *MQTTDataSource) Open(ctx context.Context, identifier string) (spectrum.DatasetHandle, error) {
	if err := m.ensureStarted(); err != nil {
		return nil, err
	}
	if identifier == "" || strings.ContainsAny(identifier, "+#") {
		return nil, fmt.Errorf("%w: 非法标识符 %q", ErrDatasetNotFound, identifier)
	}
	return m.WrapHandle(&mqttHandle{m: m, topic: m.topicPrefix + "/" + identifier}), nil
}

// Stop 断开连接
func (m *MQTTDataSource) Stop(ctx context.Context) error {
	if m.connector != nil {
		m.connector.Disconnect()
		m.connector = nil
	}
	return m.BaseDataSource.Stop(ctx)
}

// HealthCheck MQTT健康检查
func (m *MQTTDataSource) HealthCheck(ctx context.Context) (*HealthStatus, error) {
	status, err := m.BaseDataSource.HealthCheck(ctx)
	if err != nil || status.Status != "online" {
		return status, err
	}
	if !m.connector.IsConnected() {
		status.Status = "error"
		status.Message = "MQTT连接已断开"
	}
	status.Details["topic_prefix"] = m.topicPrefix
	return status, nil
}

type mqttHandle struct {
	m     *MQTTDataSource
	topic string
}

func (h *mqttHandle) ReadValues(ctx context.Context, column string) ([]float64, error) {
	payloads := make(chan []byte, 1024)
	handler := func(_ string, payload []byte) {
		select {
		case payloads <- payload:
		case <-ctx.Done():
		}
	}
	if err := h.m.connector.Subscribe(h.topic, h.m.qos, handler); err != nil {
		return nil, err
	}
	defer func() {
		if err := h.m.connector.Unsubscribe(h.topic); err != nil {
			slog.Warn("取消订阅失败", "topic", h.topic, "error", err)
		}
	}()

	deadline := time.NewTimer(h.m.readTimeout)
	defer deadline.Stop()
	idle := time.NewTimer(h.m.idleTimeout)
	defer idle.Stop()

	var values []float64
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			slog.Warn("MQTT读取达到总时长上限", "topic", h.topic, "values", len(values))
			return values, nil
		case <-idle.C:
			return values, nil
		case payload := <-payloads:
			if isEndOfStream(payload) {
				return values, nil
			}
			vs, err := decodePayload(payload, column)
			if err != nil {
				return nil, fmt.Errorf("主题 %s 消息解析失败: %w", h.topic, err)
			}
			values = append(values, vs...)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(h.m.idleTimeout)
		}
	}
}

func (h *mqttHandle) Close() error { return nil }
