package engine

import (
	"fmt"
	"math"

	"assembly-line-sim/internal/event"
	"assembly-line-sim/internal/station"
	"assembly-line-sim/internal/types"
)

// commit 提交阶段
// 第一轮按拓扑序为所有开工决策取料，第二轮放入出口缓冲区并应用其余状态变化
// 同一 tick 放入的工件不可能被同一 tick 的开工取走
func (l *Line) commit(decisions []station.Decision, t int64) error {
	pulled := make(map[types.StationID][]*types.WorkInProgress)

	for i := range decisions {
		start := decisions[i].StartDecision()
		if start == nil || len(start.Pulls) == 0 {
			continue
		}
		units, ok := l.pull(start.Pulls)
		if !ok {
			// 同 tick 的兄弟工站先取走了队首
			start.Outcome = station.OutcomeStarved
			start.To = types.StatusIdle
			start.Pulls = nil
			continue
		}
		pulled[start.Station] = units
	}

	for i := range decisions {
		d := &decisions[i]
		rt := l.stations[d.Station]
		if !d.Transitioned() {
			continue
		}
		if err := l.apply(rt, d, pulled[d.Station], t); err != nil {
			return err
		}
		to := rt.state.Status
		l.logger.Debug("工站状态转移", "station_id", rt.id(), "tick", t, "from", d.From, "to", to, "outcome", d.Outcome)
		l.publish(event.Event{
			Type:      event.StationTransition,
			Tick:      t,
			StationID: rt.id(),
			From:      d.From,
			To:        to,
			Outcome:   string(d.Outcome),
		})
	}
	return nil
}

// pull 从所有前置缓冲区各取一个合格工件；任一缓冲区不满足时一个都不取
func (l *Line) pull(from []types.StationID) ([]*types.WorkInProgress, bool) {
	for _, id := range from {
		b := l.stations[id].buffer
		if b == nil || !b.HeadEligible() {
			return nil, false
		}
	}
	units := make([]*types.WorkInProgress, 0, len(from))
	for _, id := range from {
		w, _ := l.stations[id].buffer.TryPop()
		units = append(units, w)
	}
	return units, true
}

// apply 把一个决策 (及其链式的空闲评估) 落到工站上
func (l *Line) apply(rt *stationRuntime, d *station.Decision, pulled []*types.WorkInProgress, t int64) error {
	st := &rt.state

	switch d.Outcome {
	case station.OutcomeNone:
	case station.OutcomeRepaired, station.OutcomeMaintained:
		st.Efficiency = d.Efficiency
		if d.Outcome == station.OutcomeMaintained {
			st.LastMaintenance = t
		}
		st.Status = d.To
		if d.To == types.StatusWorking {
			l.restartCycle(rt, d.Cycle, t)
		}
	case station.OutcomePartsRestored, station.OutcomeUnblocked, station.OutcomeStarved:
		st.Status = types.StatusIdle
	case station.OutcomeFailure:
		st.Status = types.StatusError
		st.TimerUntil = t + d.Duration
		l.logger.Warn("设备故障", "station_id", rt.id(), "tick", t, "repair_ticks", d.Duration)
	case station.OutcomeMaintenance:
		st.Status = types.StatusMaintenance
		st.TimerUntil = t + d.Duration
		l.logger.Info("开始计划保养", "station_id", rt.id(), "tick", t, "duration_ticks", d.Duration)
	case station.OutcomePartsShortage:
		st.Status = types.StatusWaitingParts
	case station.OutcomeBlocked:
		st.Status = types.StatusBlocked
	case station.OutcomeStart:
		return l.start(rt, d, pulled, t)
	case station.OutcomeComplete:
		if err := l.inspect(rt, d, t); err != nil {
			return err
		}
		if d.To == types.StatusBlocked {
			st.Status = types.StatusBlocked
			st.Delivering = true
			return nil
		}
		return l.release(rt, d, pulled, t)
	case station.OutcomeDeliver:
		return l.release(rt, d, pulled, t)
	case station.OutcomeRework:
		if err := l.inspect(rt, d, t); err != nil {
			return err
		}
		w := st.WIP
		if err := l.registry.Rework(w); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}
		rt.reworked++
		l.restartCycle(rt, d.Cycle, t)
		l.publish(event.Event{Type: event.UnitReworked, Tick: t, StationID: rt.id(), WIP: w.Clone()})
	case station.OutcomeScrap:
		w := st.WIP
		if err := l.inspect(rt, &station.Decision{Quality: types.QualityFail, Score: d.Score}, t); err != nil {
			return err
		}
		if err := l.registry.Scrap(w); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}
		rt.scrapped++
		l.logger.Warn("工件报废", "station_id", rt.id(), "wip_id", w.ID, "rework_count", w.ReworkCount, "tick", t)
		l.publish(event.Event{Type: event.UnitScrapped, Tick: t, StationID: rt.id(), WIP: w.Clone(), Quality: types.QualityScrap})
		l.clear(rt)
		return l.chain(rt, d, pulled, t)
	default:
		return fmt.Errorf("%w: station %s: unknown outcome %q", ErrInvariant, rt.id(), d.Outcome)
	}
	return nil
}

// inspect 记录质检结果
func (l *Line) inspect(rt *stationRuntime, d *station.Decision, t int64) error {
	w := rt.state.WIP
	if w == nil {
		return fmt.Errorf("%w: station %s completed without a unit", ErrInvariant, rt.id())
	}
	if err := l.registry.Inspect(w, d.Quality); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	if rt.attempts == 0 {
		rt.inspected++
		if d.Quality.Eligible() {
			rt.firstPass++
		}
	}
	rt.attempts++
	rt.cycles++
	rt.cycleTickSum += t - rt.state.CycleStart
	l.publish(event.Event{
		Type:      event.QualityInspected,
		Tick:      t,
		StationID: rt.id(),
		WIP:       w.Clone(),
		Quality:   d.Quality,
		Score:     d.Score,
	})
	return nil
}

// release 合格工件离站：终检工站计入产量，其余放入出口缓冲区
func (l *Line) release(rt *stationRuntime, d *station.Decision, pulled []*types.WorkInProgress, t int64) error {
	st := &rt.state
	w := st.WIP
	if w == nil {
		return fmt.Errorf("%w: station %s released without a unit", ErrInvariant, rt.id())
	}

	if rt.buffer == nil {
		if err := l.registry.Complete(w); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}
		l.production++
		rt.completed++
		l.logger.Info("整车下线", "wip_id", w.ID, "vehicle_id", w.Vehicle.ID, "model", w.Vehicle.Model,
			"quality", w.Quality, "production", l.production, "tick", t)
		l.publish(event.Event{Type: event.UnitCompleted, Tick: t, StationID: rt.id(), WIP: w.Clone(), Quality: w.Quality})
	} else {
		if !rt.buffer.TryPush(w) {
			if len(pulled) > 0 {
				return fmt.Errorf("%w: station %s pulled units while its own unit could not be pushed", ErrInvariant, rt.id())
			}
			// 工件不丢弃，留在工站上下个 tick 重试
			st.Status = types.StatusBlocked
			st.Delivering = true
			return nil
		}
		rt.completed++
	}
	l.clear(rt)
	return l.chain(rt, d, pulled, t)
}

func (l *Line) chain(rt *stationRuntime, d *station.Decision, pulled []*types.WorkInProgress, t int64) error {
	if d.Then == nil {
		return nil
	}
	return l.apply(rt, d.Then, pulled, t)
}

func (l *Line) clear(rt *stationRuntime) {
	rt.state.WIP = nil
	rt.state.Delivering = false
	rt.state.Status = types.StatusIdle
}

// start 开工：入口工站创建新在制品，其余工站接手前置工件，多个前置时合流
func (l *Line) start(rt *stationRuntime, d *station.Decision, pulled []*types.WorkInProgress, t int64) error {
	st := &rt.state
	if st.WIP != nil {
		return fmt.Errorf("%w: station %s started while holding %s", ErrInvariant, rt.id(), st.WIP.ID)
	}

	var w *types.WorkInProgress
	switch {
	case rt.spec.Entry():
		v := l.opts.Identity.Next()
		w = l.registry.Create(v, rt.id(), l.router.Kind(v, t), t)
	case len(pulled) != len(rt.spec.Prerequisites):
		return fmt.Errorf("%w: station %s pulled %d of %d prerequisites", ErrInvariant, rt.id(), len(pulled), len(rt.spec.Prerequisites))
	default:
		w = pulled[0]
		for _, child := range pulled[1:] {
			if err := l.registry.Merge(child, w); err != nil {
				return fmt.Errorf("%w: %v", ErrInvariant, err)
			}
		}
		if err := l.registry.Advance(w, rt.id()); err != nil {
			return fmt.Errorf("%w: %v", ErrInvariant, err)
		}
	}

	w.History = append(w.History, rt.id())
	st.WIP = w
	rt.attempts = 0
	st.Status = types.StatusWorking
	l.restartCycle(rt, d.Cycle, t)
	return nil
}

// restartCycle 重新计时；被阻塞或停机期间累计的时间作废
func (l *Line) restartCycle(rt *stationRuntime, cycle float64, t int64) {
	st := &rt.state
	st.CycleStart = t
	st.CycleTicks = cycle
	if st.WIP != nil {
		st.WIP.CycleStart = t
		st.WIP.ExpectedCompletion = t + int64(math.Ceil(cycle))
	}
}
