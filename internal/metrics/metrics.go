package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"assembly-line-sim/internal/types"
)

// 定义 Prometheus 监控指标
var (
	// LineTick 仪表盘：当前仿真 tick
	LineTick = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_tick",
		Help: "The current simulation tick",
	})

	// ProductionTotal 仪表盘：终检下线的整车数量 (随 tick 快照更新)
	ProductionTotal = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_production_total",
		Help: "Vehicles completed at the terminal station",
	})

	// AchievementRate 仪表盘：日产目标达成率 (百分比)
	AchievementRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_achievement_rate_percent",
		Help: "Current production over the daily target",
	})

	// LineEfficiency 仪表盘：产线平均效率 (百分比)
	LineEfficiency = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_efficiency_percent",
		Help: "Mean efficiency over working and idle stations",
	})

	// LineFirstTimeYield 仪表盘：全线首次质检合格率 (百分比)
	LineFirstTimeYield = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_first_time_yield_percent",
		Help: "Units passing their first inspection over units inspected",
	})

	// LineThroughput 仪表盘：每仿真小时下线的整车数
	LineThroughput = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_throughput_per_hour",
		Help: "Vehicles completed per simulated hour",
	})

	// LineOEE 仪表盘：各工站 OEE 均值 (百分比)
	LineOEE = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_oee_percent",
		Help: "Mean overall equipment effectiveness over all stations",
	})

	// WIPInFlight 仪表盘：当前在制品数量
	WIPInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "line_wip_in_flight",
		Help: "Work in progress currently on the line",
	})

	// UnitsScrappedTotal 计数器：按工站统计的报废数量
	UnitsScrappedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "line_units_scrapped_total",
		Help: "Units scrapped after exceeding the rework limit",
	}, []string{"station_id"})

	// UnitsReworkedTotal 计数器：按工站统计的返工次数
	UnitsReworkedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "line_units_reworked_total",
		Help: "Rework cycles started",
	}, []string{"station_id"})

	// StationStatus 仪表盘：工站当前状态，当前状态为 1，其余为 0
	StationStatus = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_status",
		Help: "1 for the station's current status, 0 otherwise",
	}, []string{"station_id", "status"})

	// StationEfficiency 仪表盘：工站效率 (百分比)
	StationEfficiency = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_efficiency_percent",
		Help: "Current station efficiency",
	}, []string{"station_id"})

	// StationOEE 仪表盘：工站 OEE = 利用率 × 性能 × 首检合格率
	StationOEE = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_oee_percent",
		Help: "Utilization times performance times first time yield",
	}, []string{"station_id"})

	// StationFirstTimeYield 仪表盘
	StationFirstTimeYield = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_first_time_yield_percent",
		Help: "Units passing their first inspection at the station",
	}, []string{"station_id"})

	// StationCycleSeconds 仪表盘：平均作业周期 (仿真秒)
	StationCycleSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_avg_cycle_seconds",
		Help: "Mean duration of completed work cycles",
	}, []string{"station_id"})

	// BufferOccupancy 仪表盘：工站出口缓冲区占用
	BufferOccupancy = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "station_buffer_occupancy",
		Help: "Units waiting in the station's output buffer",
	}, []string{"station_id"})

	// StationTransitionsTotal 计数器：工站状态转移次数，按结果分类
	StationTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "station_transitions_total",
		Help: "Station status transitions",
	}, []string{"station_id", "outcome"})

	// QualityOutcomesTotal 计数器：质检结果
	QualityOutcomesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quality_outcomes_total",
		Help: "Quality inspection results",
	}, []string{"station_id", "outcome"})

	// QualityScore 直方图：质检得分分布
	QualityScore = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "quality_score",
		Help:    "Quality score drawn at inspection",
		Buckets: prometheus.LinearBuckets(0.5, 0.05, 10),
	}, []string{"station_id"})

	// ForwardRequestsTotal 计数器：向 MES 推送产线状态的结果 (success/failed)
	ForwardRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forward_requests_total",
		Help: "Line status reports sent to the remote receiver",
	}, []string{"status"})

	// ForwardDuration 直方图：推送耗时，含重试
	ForwardDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forward_request_duration_seconds",
		Help:    "Time spent forwarding a line status report",
		Buckets: prometheus.DefBuckets,
	})

	// TelemetryMessagesTotal 计数器：MQTT 遥测消息，按方向和结果分类
	TelemetryMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "telemetry_messages_total",
		Help: "MQTT telemetry messages published or received",
	}, []string{"direction", "status"})
)

// ObserveStats 用一个 tick 的统计快照刷新所有仪表盘
func ObserveStats(s *types.LineStatistics) {
	LineTick.Set(float64(s.Tick))
	ProductionTotal.Set(float64(s.CurrentProduction))
	AchievementRate.Set(s.AchievementRate)
	LineEfficiency.Set(s.LineEfficiency)
	WIPInFlight.Set(float64(s.TotalWIP))
	LineFirstTimeYield.Set(s.FirstTimeYield)
	LineThroughput.Set(s.ThroughputPerHour)
	LineOEE.Set(s.OEE)
	for _, st := range s.Stations {
		id := string(st.ID)
		for _, status := range types.AllStatuses {
			v := 0.0
			if status == st.Status {
				v = 1
			}
			StationStatus.WithLabelValues(id, string(status)).Set(v)
		}
		StationEfficiency.WithLabelValues(id).Set(st.Efficiency)
		StationOEE.WithLabelValues(id).Set(st.OEE)
		StationFirstTimeYield.WithLabelValues(id).Set(st.FirstTimeYield)
		StationCycleSeconds.WithLabelValues(id).Set(st.AvgCycleSeconds)
		BufferOccupancy.WithLabelValues(id).Set(float64(st.BufferCount))
	}
}
