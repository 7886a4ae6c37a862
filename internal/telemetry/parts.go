package telemetry

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"assembly-line-sim/internal/metrics"
	"assembly-line-sim/internal/types"
)

// PartsSetter 接收零部件信号的一方
type PartsSetter interface {
	SetPartsAvailable(id types.StationID, available bool) error
}

// partsMessage {prefix}/supply_chain/{station}/parts 的消息体
type partsMessage struct {
	PartsAvailable *bool `json:"parts_available"`
}

// PartsListener 把 MQTT 上的零部件信号转交给产线
type PartsListener struct {
	topics Topics
	setter PartsSetter
	logger *slog.Logger
}

// NewPartsListener 创建零部件信号监听器
func NewPartsListener(topics Topics, setter PartsSetter, logger *slog.Logger) *PartsListener {
	if logger == nil {
		logger = slog.Default()
	}
	return &PartsListener{topics: topics, setter: setter, logger: logger.With("component", "parts_listener")}
}

// Handle 处理一条消息；格式错误或未知工站返回错误
func (p *PartsListener) Handle(topic string, payload []byte) error {
	id, ok := p.topics.ParseParts(topic)
	if !ok {
		return fmt.Errorf("unexpected parts topic %q", topic)
	}
	var msg partsMessage
	if err := json.Unmarshal(payload, &msg); err != nil {
		return fmt.Errorf("decode parts message for %s: %w", id, err)
	}
	if msg.PartsAvailable == nil {
		return fmt.Errorf("parts message for %s: missing parts_available", id)
	}
	if err := p.setter.SetPartsAvailable(id, *msg.PartsAvailable); err != nil {
		return fmt.Errorf("set parts for %s: %w", id, err)
	}
	return nil
}

// Callback 供 Client.Subscribe 使用，错误只记录日志
func (p *PartsListener) Callback(topic string, payload []byte) {
	if err := p.Handle(topic, payload); err != nil {
		metrics.TelemetryMessagesTotal.WithLabelValues("in", "failed").Inc()
		p.logger.Warn("忽略零部件消息", "topic", topic, "error", err)
		return
	}
	metrics.TelemetryMessagesTotal.WithLabelValues("in", "success").Inc()
}
