package telemetry

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ErrTimeout broker 在超时时间内没有确认
var ErrTimeout = errors.New("mqtt operation timed out")

// Publisher 发布遥测消息的最小接口，测试里可以替换
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Options MQTT 连接参数
type Options struct {
	Broker   string
	ClientID string
	QoS      byte
	Timeout  time.Duration
}

// subscriber 重新订阅用到的 paho 客户端方法
type subscriber interface {
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
}

// Client 对 paho 客户端的薄封装：自动重连，所有操作带超时
// clean session 下 broker 不保留订阅，重连成功后由 OnConnect 恢复
type Client struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	logger  *slog.Logger

	mu   sync.Mutex
	subs map[string]mqtt.MessageHandler
}

// NewClient 创建客户端，此时尚未连接
func NewClient(o Options, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "mqtt", "client_id", o.ClientID)
	if o.Timeout <= 0 {
		o.Timeout = 5 * time.Second
	}

	c := &Client{
		qos:     o.QoS,
		timeout: o.Timeout,
		logger:  logger,
		subs:    make(map[string]mqtt.MessageHandler),
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(o.Broker)
	opts.SetClientID(o.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(o.Timeout)
	opts.SetOnConnectHandler(func(cl mqtt.Client) {
		logger.Info("已连接 MQTT broker", "broker", o.Broker)
		// paho 在独立协程里调用 OnConnect，可以在这里等待订阅确认
		c.resubscribe(cl)
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("MQTT 连接断开", "error", err)
	})

	c.client = mqtt.NewClient(opts)
	return c
}

// Connect 连接 broker
func (c *Client) Connect() error {
	return c.wait(c.client.Connect(), "connect")
}

// Publish 实现 Publisher
func (c *Client) Publish(topic string, payload []byte) error {
	return c.wait(c.client.Publish(topic, c.qos, false, payload), "publish "+topic)
}

// Subscribe 订阅主题，handler 在 paho 的回调协程中执行
// 订阅成功后会被记住，断线重连时自动恢复
func (c *Client) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	cb := func(_ mqtt.Client, m mqtt.Message) {
		handler(m.Topic(), m.Payload())
	}
	if err := c.wait(c.client.Subscribe(topic, c.qos, cb), "subscribe "+topic); err != nil {
		return err
	}
	c.mu.Lock()
	c.subs[topic] = cb
	c.mu.Unlock()
	c.logger.Info("MQTT 已订阅", "topic", topic)
	return nil
}

// resubscribe 恢复之前成功的订阅，单个主题失败只记录日志
func (c *Client) resubscribe(s subscriber) {
	c.mu.Lock()
	subs := make(map[string]mqtt.MessageHandler, len(c.subs))
	for topic, cb := range c.subs {
		subs[topic] = cb
	}
	c.mu.Unlock()

	for topic, cb := range subs {
		if err := c.wait(s.Subscribe(topic, c.qos, cb), "resubscribe "+topic); err != nil {
			c.logger.Error("MQTT 重新订阅失败", "topic", topic, "error", err)
			continue
		}
		c.logger.Info("MQTT 已重新订阅", "topic", topic)
	}
}

// Close 断开连接，最多等待 250ms 让在途消息发完
func (c *Client) Close() {
	c.client.Disconnect(250)
}

func (c *Client) wait(token mqtt.Token, op string) error {
	if !token.WaitTimeout(c.timeout) {
		return fmt.Errorf("%s: %w", op, ErrTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}
