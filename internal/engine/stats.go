package engine

import (
	"math"

	"assembly-line-sim/internal/types"
)

// computeStats 从工站、缓冲区和登记簿重新推导统计，不保存任何独立状态
func (l *Line) computeStats() types.LineStatistics {
	p := l.opts.Production
	counts := l.registry.Counts()
	elapsed := float64(l.tick) * p.SecondsPerTick

	stats := types.LineStatistics{
		Tick:              l.tick,
		SimSeconds:        elapsed,
		ShiftProgress:     round1(shiftProgress(elapsed, p.ShiftSeconds)),
		CurrentProduction: l.production,
		DailyTarget:       p.DailyTarget,
		AchievementRate:   round1(achievementRate(l.production, elapsed, p)),
		TotalWIP:          counts.InFlight,
		Created:           counts.Created,
		Completed:         counts.Completed,
		Merged:            counts.Merged,
		Scrapped:          counts.Scrapped,
		Stations:          make([]types.StationStatistics, 0, len(l.order)),
	}

	if elapsed > 0 {
		stats.ThroughputPerHour = round1(float64(l.production) / (elapsed / 3600))
	}

	var effSum, oeeSum float64
	var effN, inspected, firstPass int
	for _, rt := range l.order {
		st := &rt.state
		ss := types.StationStatistics{
			ID:             rt.id(),
			Status:         st.Status,
			Efficiency:     round1(st.Efficiency * 100),
			BufferCapacity: rt.spec.BufferCapacity,
			PartsAvailable: st.PartsAvailable,
			Completed:      rt.completed,
			Reworked:       rt.reworked,
			Scrapped:       rt.scrapped,
		}
		if rt.buffer != nil {
			ss.BufferCount = rt.buffer.Len()
		}
		if st.WIP != nil {
			ss.CurrentWIP = st.WIP.ID
		}
		utilization := 0.0
		if l.tick > 0 {
			utilization = float64(rt.workingTicks) / float64(l.tick) * 100
		}
		ss.Utilization = round1(utilization)
		l.stationKPIs(rt, &ss, utilization, elapsed)
		oeeSum += ss.OEE
		inspected += rt.inspected
		firstPass += rt.firstPass
		if st.Status == types.StatusWorking || st.Status == types.StatusIdle {
			effSum += st.Efficiency
			effN++
		}
		stats.Stations = append(stats.Stations, ss)
	}
	if effN > 0 {
		stats.LineEfficiency = round1(effSum / float64(effN) * 100)
	}
	stats.FirstTimeYield = round1(yield(firstPass, inspected))
	if len(l.order) > 0 {
		stats.OEE = round1(oeeSum / float64(len(l.order)))
	}
	return stats
}

// stationKPIs 首检合格率、性能、OEE、节拍和小时产出
// OEE = 利用率 × 性能 × 首检合格率，三项均为百分比
func (l *Line) stationKPIs(rt *stationRuntime, ss *types.StationStatistics, utilization, elapsed float64) {
	fty := yield(rt.firstPass, rt.inspected)
	ss.FirstTimeYield = round1(fty)

	var performance float64
	if rt.cycles > 0 {
		avg := float64(rt.cycleTickSum) / float64(rt.cycles)
		ss.AvgCycleTicks = round1(avg)
		ss.AvgCycleSeconds = round1(avg * l.opts.Production.SecondsPerTick)
		nominal := (rt.spec.MinCycleTicks + rt.spec.MaxCycleTicks) / 2
		if avg > 0 {
			performance = math.Min(100, nominal/avg*100)
		}
	}
	ss.Performance = round1(performance)
	ss.OEE = round1(utilization / 100 * performance / 100 * fty)

	if elapsed > 0 {
		ss.ThroughputPerHour = round1(float64(rt.completed) / (elapsed / 3600))
	}
}

// yield 没有质检记录时按 100% 计
func yield(passed, total int) float64 {
	if total == 0 {
		return 100
	}
	return float64(passed) / float64(total) * 100
}

// shiftProgress 当前班次进度 (百分比，封顶 100)
func shiftProgress(elapsed, shiftSeconds float64) float64 {
	if shiftSeconds <= 0 {
		return 0
	}
	return math.Min(100, elapsed/shiftSeconds*100)
}

// achievementRate 实际产量 / 截至目前的应有产量，应有产量至少按 1 台计
func achievementRate(production int, elapsed float64, p Production) float64 {
	if p.ShiftSeconds <= 0 || p.ShiftsPerDay <= 0 {
		return 0
	}
	target := elapsed / p.ShiftSeconds * (float64(p.DailyTarget) / float64(p.ShiftsPerDay))
	return float64(production) / math.Max(target, 1) * 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
