package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"assembly-line-sim/internal/event"
	"assembly-line-sim/internal/forward"
	"assembly-line-sim/internal/journal"
	"assembly-line-sim/internal/metrics"
	"assembly-line-sim/internal/telemetry"
	"assembly-line-sim/internal/types"
	"assembly-line-sim/internal/web"
)

// LineStatusSender 向远端推送产线快照，由 forward.Client 实现
type LineStatusSender interface {
	SendLineStatus(ctx context.Context, report forward.LineStatusReport) error
}

// JournalWriter 生产日志，由 journal.Journal 实现
type JournalWriter interface {
	Append(e journal.Entry) error
}

// Deps 事件处理器依赖的协作者，为 nil 的协作者不注册对应处理器
type Deps struct {
	RunID        string
	Tracker      *web.StateTracker
	Reporter     *telemetry.Reporter
	PublishEvery int64 // 每隔多少个 tick 发布一次遥测
	Forwarder    LineStatusSender
	ForwardEvery int64 // 每隔多少个 tick 推送一次产线状态
	ForwardTTL   time.Duration
	Journal      JournalWriter
	Logger       *slog.Logger
}

// every 是否在本 tick 触发周期性任务
func every(tick, n int64) bool {
	if n <= 1 {
		return true
	}
	return tick%n == 0
}

// RegisterEventHandlers 将所有事件处理器注册到事件总线
// 这是事件驱动架构的核心，将不同的业务关注点（监控、UI、遥测、推送、日志）解耦
func RegisterEventHandlers(bus *event.Bus, d Deps) {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "handlers")

	// --- 指标处理器 (Metrics Handler) ---
	bus.Subscribe(event.TickCompleted, func(e event.Event) {
		metrics.ObserveStats(e.Stats)
	})
	bus.Subscribe(event.StationTransition, func(e event.Event) {
		metrics.StationTransitionsTotal.WithLabelValues(string(e.StationID), e.Outcome).Inc()
	})
	bus.Subscribe(event.QualityInspected, func(e event.Event) {
		metrics.QualityOutcomesTotal.WithLabelValues(string(e.StationID), string(e.Quality)).Inc()
		metrics.QualityScore.WithLabelValues(string(e.StationID)).Observe(e.Score)
	})
	bus.Subscribe(event.UnitReworked, func(e event.Event) {
		metrics.UnitsReworkedTotal.WithLabelValues(string(e.StationID)).Inc()
	})
	bus.Subscribe(event.UnitScrapped, func(e event.Event) {
		metrics.UnitsScrappedTotal.WithLabelValues(string(e.StationID)).Inc()
	})

	// --- Web UI 处理器 (Web UI Handler) ---
	if st := d.Tracker; st != nil {
		bus.Subscribe(event.TickCompleted, func(e event.Event) {
			st.UpdateLine(*e.Stats)
		})
		bus.Subscribe(event.DisruptionApplied, func(e event.Event) {
			st.RecordEvent(web.EventView{Tick: e.Tick, StationID: e.StationID, Kind: "disruption",
				Detail: fmt.Sprintf("%s for %d ticks", e.Disruption, e.Duration)})
		})
		bus.Subscribe(event.PartsChanged, func(e event.Event) {
			st.RecordEvent(web.EventView{Tick: e.Tick, StationID: e.StationID, Kind: "parts",
				Detail: fmt.Sprintf("parts_available=%t", e.PartsAvailable)})
		})
		bus.Subscribe(event.UnitScrapped, func(e event.Event) {
			st.RecordEvent(web.EventView{Tick: e.Tick, StationID: e.StationID, Kind: "scrap", Detail: e.WIP.ID})
		})
		bus.Subscribe(event.InvariantViolated, func(e event.Event) {
			st.RecordEvent(web.EventView{Tick: e.Tick, Kind: "halted", Detail: e.Error.Error()})
		})
	}

	// --- 遥测处理器 (MQTT Telemetry Handler) ---
	if r := d.Reporter; r != nil {
		bus.Subscribe(event.TickCompleted, func(e event.Event) {
			if !every(e.Tick, d.PublishEvery) {
				return
			}
			if err := r.PublishTick(e.Stats); err != nil {
				logger.Warn("发布遥测失败", "tick", e.Tick, "error", err)
			}
		})
		bus.Subscribe(event.QualityInspected, func(e event.Event) {
			m := telemetry.QualityMessage{Tick: e.Tick, StationID: e.StationID, Status: e.Quality, Score: e.Score}
			if e.WIP != nil {
				m.WIPID = e.WIP.ID
				m.VehicleID = e.WIP.Vehicle.ID
			}
			if err := r.PublishQuality(m); err != nil {
				logger.Warn("发布质检结果失败", "station_id", e.StationID, "error", err)
			}
		})
	}

	// --- 推送处理器 (MES Forwarding Handler) ---
	if f := d.Forwarder; f != nil {
		ttl := d.ForwardTTL
		if ttl <= 0 {
			ttl = 30 * time.Second
		}
		bus.Subscribe(event.TickCompleted, func(e event.Event) {
			if !every(e.Tick, d.ForwardEvery) {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), ttl)
			defer cancel()
			// 失败已由 forward 记录日志和指标，这里不再重复
			_ = f.SendLineStatus(ctx, forward.LineStatusReport{RunID: d.RunID, Stats: *e.Stats})
		})
	}

	// --- 生产日志处理器 (Journal Handler) ---
	if j := d.Journal; j != nil {
		write := func(entry journal.Entry) {
			entry.RunID = d.RunID
			if err := j.Append(entry); err != nil {
				logger.Error("写入生产日志失败", "type", entry.Type, "error", err)
			}
		}
		bus.Subscribe(event.UnitCompleted, func(e event.Event) {
			write(journal.Entry{Type: journal.EntryCompleted, Tick: e.Tick, StationID: e.StationID, WIPID: e.WIP.ID,
				Vehicle: vehicleOf(e.WIP), Order: e.WIP.Order, ReworkCount: e.WIP.ReworkCount})
		})
		bus.Subscribe(event.UnitScrapped, func(e event.Event) {
			write(journal.Entry{Type: journal.EntryScrapped, Tick: e.Tick, StationID: e.StationID, WIPID: e.WIP.ID,
				Vehicle: vehicleOf(e.WIP), Order: e.WIP.Order, ReworkCount: e.WIP.ReworkCount})
		})
		bus.Subscribe(event.DisruptionApplied, func(e event.Event) {
			write(journal.Entry{Type: journal.EntryDisruption, Tick: e.Tick, StationID: e.StationID,
				Disruption: e.Disruption, Duration: e.Duration})
		})
	}

	// --- 日志处理器 (Logging Handler) ---
	// 订阅关键业务事件，记录审计日志
	bus.Subscribe(event.UnitCompleted, func(e event.Event) {
		logger.Info("整车下线", "tick", e.Tick, "wip_id", e.WIP.ID, "vehicle_id", e.WIP.Vehicle.ID, "model", e.WIP.Vehicle.Model)
	})
	bus.Subscribe(event.UnitScrapped, func(e event.Event) {
		logger.Warn("工件报废", "tick", e.Tick, "station_id", e.StationID, "wip_id", e.WIP.ID, "rework_count", e.WIP.ReworkCount)
	})
	bus.Subscribe(event.DisruptionApplied, func(e event.Event) {
		logger.Warn("扰动生效", "tick", e.Tick, "station_id", e.StationID, "kind", e.Disruption, "duration", e.Duration)
	})
	bus.Subscribe(event.InvariantViolated, func(e event.Event) {
		logger.Error("产线不变量被破坏，停止仿真", "tick", e.Tick, "error", e.Error)
	})
}

func vehicleOf(w *types.WorkInProgress) *types.Vehicle {
	v := w.Vehicle
	return &v
}
