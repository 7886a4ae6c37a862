package station

import (
	"math"

	"assembly-line-sim/internal/rng"
	"assembly-line-sim/internal/types"
)

// Policy 所有工站共享的随机事件策略 (故障、保养、效率)
type Policy struct {
	MaintenanceInterval   int64       // 距上次保养超过该 tick 数即到期
	MaintenanceChance     float64     // 到期后每个 tick 进入保养的概率
	MaintenanceDuration   types.Range // 保养时长 (tick)
	RepairDuration        types.Range // 故障修复时长 (tick)
	InitialEfficiency     types.Range
	RepairEfficiency      types.Range // 修复后重新抽取
	MaintenanceEfficiency types.Range // 保养后重新抽取
	ConditionalPassRate   float64     // 关键工站合格品中划为条件合格的比例
}

// State 工站运行期状态，由产线聚合器持有
type State struct {
	Status              types.StationStatus
	WIP                 *types.WorkInProgress // 仅在 WORKING (或完工待入缓冲) 时非空
	CycleStart          int64
	CycleTicks          float64
	Efficiency          float64
	PartsAvailable      bool
	PartsRestoreAt      int64 // 注入缺料的恢复 tick，0 表示等待外部信号
	LastMaintenance     int64
	DowntimeProbability float64
	TimerUntil          int64 // ERROR / MAINTENANCE 结束 tick
	Delivering          bool  // 已完工但出口缓冲区满，工件仍由工站持有
}

// Resume 故障/保养结束后应回到的状态
func (s *State) Resume() types.StationStatus {
	switch {
	case s.WIP != nil && s.Delivering:
		return types.StatusBlocked
	case s.WIP != nil:
		return types.StatusWorking
	}
	return types.StatusIdle
}

// View 本 tick 开始时的缓冲区快照
// 所有工站的决策都基于同一个快照，看不到同一 tick 内其他工站的修改
type View interface {
	BufferLen(id types.StationID) int
	HeadEligible(id types.StationID) bool
}

// Outcome 一次评估选中的转移
type Outcome string

const (
	OutcomeNone          Outcome = "none"
	OutcomeRepaired      Outcome = "repaired"
	OutcomeMaintained    Outcome = "maintained"
	OutcomePartsRestored Outcome = "parts_restored"
	OutcomeFailure       Outcome = "failure"
	OutcomeMaintenance   Outcome = "maintenance"
	OutcomePartsShortage Outcome = "parts_shortage"
	OutcomeBlocked       Outcome = "blocked"
	OutcomeUnblocked     Outcome = "unblocked"
	OutcomeStart         Outcome = "start"
	OutcomeStarved       Outcome = "starved" // 提交时前置缓冲区已被同 tick 的其他工站取空
	OutcomeComplete      Outcome = "complete"
	OutcomeRework        Outcome = "rework"
	OutcomeScrap         Outcome = "scrap"
	OutcomeDeliver       Outcome = "deliver"
)

// Decision 评估阶段的纯结果，提交阶段据此修改状态
type Decision struct {
	Station    types.StationID
	From       types.StationStatus
	To         types.StationStatus
	Outcome    Outcome
	Efficiency float64             // 修复/保养后的新效率
	Duration   int64               // ERROR / MAINTENANCE 持续 tick 数
	Cycle      float64             // 新的作业周期 (开工、返工、恢复)
	Quality    types.QualityStatus // 质检结果
	Score      float64
	Pulls      []types.StationID // 开工时要取料的前置缓冲区
	Then       *Decision         // 工件离站后同一 tick 的空闲规则评估
}

// Transitioned 是否发生了状态变化或工件流转
func (d *Decision) Transitioned() bool {
	return d.Outcome != OutcomeNone
}

// Final 返回链式决策最终落到的状态
func (d *Decision) Final() types.StationStatus {
	if d.Then != nil {
		return d.Then.Final()
	}
	return d.To
}

// StartDecision 返回本决策中需要取料开工的部分
func (d *Decision) StartDecision() *Decision {
	switch {
	case d.Outcome == OutcomeStart:
		return d
	case d.Then != nil:
		return d.Then.StartDecision()
	}
	return nil
}

// Evaluate 纯函数：根据快照计算工站本 tick 的唯一转移
// 规则按优先级依次判断，命中第一条即返回
func Evaluate(spec *types.StationSpec, st *State, view View, src rng.Source, p *Policy, tick int64) Decision {
	d := Decision{Station: spec.ID, From: st.Status, To: st.Status, Outcome: OutcomeNone}

	switch st.Status {
	case types.StatusError:
		if tick >= st.TimerUntil {
			d.Outcome = OutcomeRepaired
			d.Efficiency = drawEfficiency(src, p.RepairEfficiency)
			d.To = st.Resume()
			if d.To == types.StatusWorking {
				d.Cycle = DrawCycle(spec, d.Efficiency, src)
			}
		}
	case types.StatusMaintenance:
		if tick >= st.TimerUntil {
			d.Outcome = OutcomeMaintained
			d.Efficiency = drawEfficiency(src, p.MaintenanceEfficiency)
			d.To = st.Resume()
			if d.To == types.StatusWorking {
				d.Cycle = DrawCycle(spec, d.Efficiency, src)
			}
		}
	case types.StatusWaitingParts:
		if st.PartsAvailable {
			d.Outcome = OutcomePartsRestored
			d.To = types.StatusIdle
		}
	case types.StatusWorking:
		if float64(tick-st.CycleStart) >= st.CycleTicks {
			return complete(spec, st, view, src, p, tick)
		}
	case types.StatusBlocked:
		if st.Delivering {
			return deliver(spec, st, view, src, p, tick)
		}
		return evaluateIdle(spec, st, view, src, p, tick, 0)
	case types.StatusIdle:
		return evaluateIdle(spec, st, view, src, p, tick, 0)
	}
	return d
}

// complete 作业周期结束：质检后放行、返工或报废
func complete(spec *types.StationSpec, st *State, view View, src rng.Source, p *Policy, tick int64) Decision {
	d := Decision{Station: spec.ID, From: st.Status, To: st.Status}
	d.Quality, d.Score = Inspect(spec, st.Efficiency, p.ConditionalPassRate, src)

	switch {
	case d.Quality.Eligible():
		d.Outcome = OutcomeComplete
		extra := 1
		if spec.Terminal() {
			extra = 0
		}
		if !spec.Terminal() && view.BufferLen(spec.ID) >= spec.BufferCapacity {
			// 出口缓冲区满，工件留在工站，转为 BLOCKED 等待下游取走
			d.To = types.StatusBlocked
			return d
		}
		d.To = types.StatusIdle
		next := evaluateIdle(spec, idleCopy(st), view, src, p, tick, extra)
		d.Then = &next
	case st.WIP != nil && st.WIP.ReworkCount < types.MaxRework:
		d.Outcome = OutcomeRework
		d.To = types.StatusWorking
		d.Cycle = DrawCycle(spec, st.Efficiency, src)
	default:
		d.Outcome = OutcomeScrap
		d.Quality = types.QualityScrap
		d.To = types.StatusIdle
		next := evaluateIdle(spec, idleCopy(st), view, src, p, tick, 0)
		d.Then = &next
	}
	return d
}

// deliver 完工工件等待入缓冲区，缓冲区腾出空间后放入
func deliver(spec *types.StationSpec, st *State, view View, src rng.Source, p *Policy, tick int64) Decision {
	d := Decision{Station: spec.ID, From: st.Status, To: st.Status, Outcome: OutcomeNone}
	if view.BufferLen(spec.ID) >= spec.BufferCapacity {
		return d
	}
	d.Outcome = OutcomeDeliver
	d.To = types.StatusIdle
	next := evaluateIdle(spec, idleCopy(st), view, src, p, tick, 1)
	d.Then = &next
	return d
}

// evaluateIdle 空闲 (或 BLOCKED 重新评估) 时的规则 4-8
// pending 表示本 tick 即将放入自身出口缓冲区的工件数
func evaluateIdle(spec *types.StationSpec, st *State, view View, src rng.Source, p *Policy, tick int64, pending int) Decision {
	d := Decision{Station: spec.ID, From: st.Status, To: st.Status, Outcome: OutcomeNone}

	// 规则 4: 随机故障
	if rng.Bernoulli(src, st.DowntimeProbability) {
		d.Outcome = OutcomeFailure
		d.To = types.StatusError
		d.Duration = drawDuration(src, p.RepairDuration)
		return d
	}
	// 规则 5: 计划保养到期后按概率进入保养
	if tick-st.LastMaintenance > p.MaintenanceInterval && rng.Bernoulli(src, p.MaintenanceChance) {
		d.Outcome = OutcomeMaintenance
		d.To = types.StatusMaintenance
		d.Duration = drawDuration(src, p.MaintenanceDuration)
		return d
	}
	// 规则 6: 缺料
	if !st.PartsAvailable {
		d.Outcome = OutcomePartsShortage
		d.To = types.StatusWaitingParts
		return d
	}
	// 规则 7: 出口缓冲区已满
	if !spec.Terminal() && view.BufferLen(spec.ID)+pending >= spec.BufferCapacity {
		if st.Status != types.StatusBlocked {
			d.Outcome = OutcomeBlocked
			d.To = types.StatusBlocked
		}
		return d
	}
	// 规则 8: 所有前置缓冲区都有可取的工件 (入口工站无前置)
	for _, pre := range spec.Prerequisites {
		if !view.HeadEligible(pre) {
			if st.Status == types.StatusBlocked {
				d.Outcome = OutcomeUnblocked
				d.To = types.StatusIdle
			}
			return d
		}
	}
	d.Outcome = OutcomeStart
	d.To = types.StatusWorking
	d.Pulls = append([]types.StationID(nil), spec.Prerequisites...)
	d.Cycle = DrawCycle(spec, st.Efficiency, src)
	return d
}

// idleCopy 工件离站后的状态副本，用于同 tick 的空闲规则评估
func idleCopy(st *State) *State {
	c := *st
	c.Status = types.StatusIdle
	c.WIP = nil
	c.Delivering = false
	return &c
}

// DrawCycle 抽取作业周期，效率越低周期越长
func DrawCycle(spec *types.StationSpec, efficiency float64, src rng.Source) float64 {
	base := rng.Uniform(src, types.Range{Min: spec.MinCycleTicks, Max: spec.MaxCycleTicks})
	if efficiency <= 0 {
		efficiency = 1
	}
	return base / efficiency
}

// DrawEfficiency 抽取效率并限制在 (0,1]
func DrawEfficiency(src rng.Source, r types.Range) float64 {
	return drawEfficiency(src, r)
}

func drawEfficiency(src rng.Source, r types.Range) float64 {
	e := rng.Uniform(src, r)
	switch {
	case e > 1:
		return 1
	case e <= 0:
		return math.SmallestNonzeroFloat64
	}
	return e
}

// drawDuration 时长至少 1 个 tick
func drawDuration(src rng.Source, r types.Range) int64 {
	d := int64(math.Round(rng.Uniform(src, r)))
	if d < 1 {
		return 1
	}
	return d
}
