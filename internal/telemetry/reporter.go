package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"assembly-line-sim/internal/metrics"
	"assembly-line-sim/internal/types"
)

// stationMessage 工站状态消息
type stationMessage struct {
	Tick int64 `json:"tick"`
	types.StationStatistics
}

// lineMessage 产线汇总消息，不含工站明细
type lineMessage struct {
	Tick              int64   `json:"tick"`
	SimSeconds        float64 `json:"sim_seconds"`
	ShiftProgress     float64 `json:"shift_progress"`
	CurrentProduction int     `json:"current_production"`
	DailyTarget       int     `json:"daily_target"`
	AchievementRate   float64 `json:"achievement_rate"`
	LineEfficiency    float64 `json:"line_efficiency"`
	TotalWIP          int     `json:"total_wip"`
	Scrapped          int     `json:"scrapped"`
	FirstTimeYield    float64 `json:"fty"`
	ThroughputPerHour float64 `json:"throughput_per_hour"`
	OEE               float64 `json:"oee"`
}

// QualityMessage 质检结果消息
type QualityMessage struct {
	Tick      int64               `json:"tick"`
	StationID types.StationID     `json:"station_id"`
	WIPID     string              `json:"wip_id,omitempty"`
	VehicleID string              `json:"vehicle_id,omitempty"`
	Status    types.QualityStatus `json:"status"`
	Score     float64             `json:"score"`
}

// Reporter 把产线快照转换成遥测消息
type Reporter struct {
	pub    Publisher
	topics Topics
	logger *slog.Logger
}

// NewReporter 创建遥测上报器
func NewReporter(pub Publisher, topics Topics, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{pub: pub, topics: topics, logger: logger.With("component", "telemetry")}
}

// PublishTick 发布产线汇总和每个工站的状态，单条失败不影响其余消息
func (r *Reporter) PublishTick(s *types.LineStatistics) error {
	var errs []error
	errs = append(errs, r.send(r.topics.LineStatus(), lineMessage{
		Tick:              s.Tick,
		SimSeconds:        s.SimSeconds,
		ShiftProgress:     s.ShiftProgress,
		CurrentProduction: s.CurrentProduction,
		DailyTarget:       s.DailyTarget,
		AchievementRate:   s.AchievementRate,
		LineEfficiency:    s.LineEfficiency,
		TotalWIP:          s.TotalWIP,
		Scrapped:          s.Scrapped,
		FirstTimeYield:    s.FirstTimeYield,
		ThroughputPerHour: s.ThroughputPerHour,
		OEE:               s.OEE,
	}))
	for _, st := range s.Stations {
		errs = append(errs, r.send(r.topics.StationStatus(st.ID), stationMessage{Tick: s.Tick, StationStatistics: st}))
	}
	return errors.Join(errs...)
}

// PublishQuality 发布一次质检结果
func (r *Reporter) PublishQuality(m QualityMessage) error {
	return r.send(r.topics.Quality(m.StationID), m)
}

func (r *Reporter) send(topic string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	if err := r.pub.Publish(topic, payload); err != nil {
		metrics.TelemetryMessagesTotal.WithLabelValues("out", "failed").Inc()
		return err
	}
	metrics.TelemetryMessagesTotal.WithLabelValues("out", "success").Inc()
	return nil
}
