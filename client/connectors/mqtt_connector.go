/*
 * @module MQTTConnector
 * @description MQTT连接器，封装客户端连接、主题订阅和发布
 * @architecture 适配器模式 - 封装第三方MQTT客户端，提供统一的接口
 * @documentReference DESIGN.md
 * @stateFlow 连接建立 -> 主题订阅/发布 -> 消息处理 -> 连接断开
 * @rules 所有 token 必须等待完成并检查错误；断开时取消全部订阅
 * @dependencies github.com/eclipse/paho.mqtt.golang
 * @refs service/datasource/messaging_mqtt.go, service/event/publisher.go
 */
package connectors

import (
	"fmt"
	"log"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker         string        `json:"broker"`
	ClientID       string        `json:"client_id"`
	Username       string        `json:"username"`
	Password       string        `json:"password"`
	KeepAlive      time.Duration `json:"keep_alive"`
	ConnectTimeout time.Duration `json:"connect_timeout"`
}

// MQTTMessageHandler MQTT消息处理函数类型
type MQTTMessageHandler func(topic string, payload []byte)

// MQTTConnector MQTT连接器结构体
type MQTTConnector struct {
	config      *MQTTConfig
	client      mqtt.Client
	logger      *log.Logger
	subscribers map[string]MQTTMessageHandler
	mutex       sync.RWMutex
	isConnected bool
}

// NewMQTTConnector 创建新的MQTT连接器
func NewMQTTConnector(config *MQTTConfig, logger *log.Logger) *MQTTConnector {
	if logger == nil {
		logger = log.Default()
	}
	connector := &MQTTConnector{
		config:      config,
		logger:      logger,
		subscribers: make(map[string]MQTTMessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(config.Broker)
	opts.SetClientID(config.ClientID)
	if config.Username != "" {
		opts.SetUsername(config.Username)
		opts.SetPassword(config.Password)
	}
	opts.SetCleanSession(true)
	if config.KeepAlive > 0 {
		opts.SetKeepAlive(config.KeepAlive)
	}
	if config.ConnectTimeout > 0 {
		opts.SetConnectTimeout(config.ConnectTimeout)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		connector.logger.Printf("MQTT连接丢失 broker=%s: %v", config.Broker, err)
	})

	connector.client = mqtt.NewClient(opts)
	return connector
}

// Connect 建立MQTT连接
func (mc *MQTTConnector) Connect() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if mc.isConnected {
		return nil
	}
	if token := mc.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT连接失败: %v", token.Error())
	}
	mc.isConnected = true
	mc.logger.Printf("MQTT连接器已连接到broker: %s", mc.config.Broker)
	return nil
}

// IsConnected 检查连接状态
func (mc *MQTTConnector) IsConnected() bool {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	return mc.isConnected && mc.client.IsConnectionOpen()
}

// Subscribe 订阅主题
func (mc *MQTTConnector) Subscribe(topic string, qos byte, handler MQTTMessageHandler) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isConnected {
		return fmt.Errorf("MQTT客户端未连接")
	}
	token := mc.client.Subscribe(topic, qos, func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	})
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("订阅主题失败 topic=%s: %v", topic, token.Error())
	}
	mc.subscribers[topic] = handler
	return nil
}

// Unsubscribe 取消订阅主题
func (mc *MQTTConnector) Unsubscribe(topic string) error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isConnected {
		return fmt.Errorf("MQTT客户端未连接")
	}
	if token := mc.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
		return fmt.Errorf("取消订阅失败 topic=%s: %v", topic, token.Error())
	}
	delete(mc.subscribers, topic)
	return nil
}

// Publish 发布消息
func (mc *MQTTConnector) Publish(topic string, qos byte, retained bool, value interface{}) error {
	mc.mutex.RLock()
	isConnected := mc.isConnected
	mc.mutex.RUnlock()

	if !isConnected {
		return fmt.Errorf("MQTT客户端未连接")
	}
	payload, err := serializeValue(value)
	if err != nil {
		return fmt.Errorf("序列化消息载荷失败: %v", err)
	}
	token := mc.client.Publish(topic, qos, retained, payload)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("发布消息失败: %v", token.Error())
	}
	return nil
}

// Disconnect 断开MQTT连接
func (mc *MQTTConnector) Disconnect() error {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()

	if !mc.isConnected {
		return nil
	}
	for topic := range mc.subscribers {
		if token := mc.client.Unsubscribe(topic); token.Wait() && token.Error() != nil {
			mc.logger.Printf("取消订阅失败 topic=%s: %v", topic, token.Error())
		}
	}
	mc.client.Disconnect(250) // 等待250ms让消息发送完成

	mc.isConnected = false
	mc.subscribers = make(map[string]MQTTMessageHandler)
	return nil
}
