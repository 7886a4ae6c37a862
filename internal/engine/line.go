package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"assembly-line-sim/internal/buffer"
	"assembly-line-sim/internal/event"
	"assembly-line-sim/internal/graph"
	"assembly-line-sim/internal/rng"
	"assembly-line-sim/internal/station"
	"assembly-line-sim/internal/types"
	"assembly-line-sim/internal/wip"
)

var (
	// ErrUnknownStation 注入目标不在产线上
	ErrUnknownStation = errors.New("unknown station")
	// ErrInvalidDisruption 扰动类型或时长不合法
	ErrInvalidDisruption = errors.New("invalid disruption")
	// ErrInvariant 提交阶段发现不变量被破坏，产线随即停止
	ErrInvariant = errors.New("line invariant violated")
)

// IdentitySource 车辆身份来源 (追踪系统)，入口工站创建在制品时调用
type IdentitySource interface {
	Next() types.Vehicle
}

// Production 产量目标与仿真时间换算
type Production struct {
	DailyTarget    int
	ShiftSeconds   float64
	ShiftsPerDay   int
	SecondsPerTick float64
}

// Options 产线构造参数
type Options struct {
	Policy     station.Policy
	Production Production
	Seed       int64
	Randomness rng.Provider // 为空时按 Seed 派生分区随机源
	Identity   IdentitySource
	OrderRules []types.OrderRule
	Parallel   bool // 评估阶段每个工站一个 goroutine
	Bus        *event.Bus
	Logger     *slog.Logger
}

// stationRuntime 工站的静态配置、运行状态和出口缓冲区
type stationRuntime struct {
	spec   *types.StationSpec
	state  station.State
	buffer *buffer.Buffer // 终检工站没有出口缓冲区
	src    rng.Source

	completed    int
	reworked     int
	scrapped     int
	workingTicks int64

	// 质检 KPI：attempts 为当前工件在本站的质检次数，开工时清零
	attempts     int
	inspected    int   // 首次质检的工件数
	firstPass    int   // 首次质检即合格的工件数
	cycles       int   // 完成的作业周期数 (每次质检结束一个周期)
	cycleTickSum int64 // 完成周期的累计耗时
}

func (rt *stationRuntime) id() types.StationID { return rt.spec.ID }

// input 外部注入，排队到下一个 tick 开始时统一生效
type input struct {
	station  types.StationID
	kind     types.DisruptionKind // 为空表示零部件可用状态更新
	duration int64
	parts    bool
}

// Line 产线聚合器
// 独占所有工站、缓冲区和在制品登记簿；外部协作者只能通过注入接口和统计快照与之交互
type Line struct {
	graph    *graph.Graph
	opts     Options
	stations map[types.StationID]*stationRuntime
	order    []*stationRuntime // 拓扑序
	registry *wip.Registry
	router   *orderRouter
	bus      *event.Bus
	logger   *slog.Logger

	tickMu     sync.Mutex
	tick       int64
	production int
	halted     error

	inputMu sync.Mutex
	inputs  []input

	statsMu sync.RWMutex
	stats   types.LineStatistics
}

// NewLine 根据依赖图创建产线，所有工站初始为 IDLE
func NewLine(g *graph.Graph, opts Options) (*Line, error) {
	if g == nil {
		return nil, fmt.Errorf("nil station graph")
	}
	if opts.Identity == nil {
		return nil, fmt.Errorf("identity source is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Randomness == nil {
		opts.Randomness = rng.NewPartitioned(opts.Seed)
	}
	router, err := compileOrderRules(opts.OrderRules, opts.Logger)
	if err != nil {
		return nil, err
	}

	l := &Line{
		graph:    g,
		opts:     opts,
		stations: make(map[types.StationID]*stationRuntime, g.Len()),
		registry: wip.NewRegistry(),
		router:   router,
		bus:      opts.Bus,
		logger:   opts.Logger.With("component", "line"),
	}

	for _, id := range g.Order() {
		spec, _ := g.Spec(id)
		src := opts.Randomness.ForStation(id)
		rt := &stationRuntime{
			spec: spec,
			src:  src,
			state: station.State{
				Status:              types.StatusIdle,
				Efficiency:          station.DrawEfficiency(src, opts.Policy.InitialEfficiency),
				PartsAvailable:      true,
				LastMaintenance:     -int64(rng.Uniform(src, types.Range{Min: 0, Max: float64(opts.Policy.MaintenanceInterval)})),
				DowntimeProbability: spec.FailureProbability,
			},
		}
		if !spec.Terminal() {
			b, err := buffer.New(id, spec.BufferCapacity)
			if err != nil {
				return nil, fmt.Errorf("station %s: %w", id, err)
			}
			rt.buffer = b
		}
		l.stations[id] = rt
		l.order = append(l.order, rt)
	}
	l.stats = l.computeStats()
	l.logger.Info("产线初始化完成", "stations", g.Len(), "entries", g.Entries(), "parallel", opts.Parallel)
	return l, nil
}

// InjectDisruption 强制工站进入 ERROR / WAITING_PARTS / MAINTENANCE
// 注入在下一个 tick 开始时生效；WAITING_PARTS 的 duration 为 0 表示等待外部恢复信号
func (l *Line) InjectDisruption(id types.StationID, kind types.DisruptionKind, duration int64) error {
	if _, ok := l.stations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStation, id)
	}
	switch kind {
	case types.DisruptionError, types.DisruptionMaintenance:
		if duration < 1 {
			return fmt.Errorf("%w: %s needs a duration of at least 1 tick", ErrInvalidDisruption, kind)
		}
	case types.DisruptionWaitingParts:
		if duration < 0 {
			return fmt.Errorf("%w: negative duration", ErrInvalidDisruption)
		}
	default:
		return fmt.Errorf("%w: kind %q", ErrInvalidDisruption, kind)
	}
	l.enqueue(input{station: id, kind: kind, duration: duration})
	return nil
}

// SetPartsAvailable 零部件可用信号，下一个 tick 开始时生效
func (l *Line) SetPartsAvailable(id types.StationID, available bool) error {
	if _, ok := l.stations[id]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownStation, id)
	}
	l.enqueue(input{station: id, parts: available})
	return nil
}

func (l *Line) enqueue(in input) {
	l.inputMu.Lock()
	l.inputs = append(l.inputs, in)
	l.inputMu.Unlock()
}

func (l *Line) drainInputs() []input {
	l.inputMu.Lock()
	defer l.inputMu.Unlock()
	in := l.inputs
	l.inputs = nil
	return in
}

// Snapshot 返回最近一次提交后的统计快照
func (l *Line) Snapshot() types.LineStatistics {
	l.statsMu.RLock()
	defer l.statsMu.RUnlock()
	return l.stats.Clone()
}

// CurrentTick 已完成的 tick 数
func (l *Line) CurrentTick() int64 {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	return l.tick
}

// Err 产线因不变量被破坏而停止时返回对应错误
func (l *Line) Err() error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()
	return l.halted
}

// Graph 返回产线的依赖图
func (l *Line) Graph() *graph.Graph { return l.graph }

// Tick 推进一个仿真步
// 1. 应用排队的外部注入  2. 基于同一快照评估所有工站  3. 统一提交  4. 校验不变量并发布统计
// 一个 tick 一旦开始必定完整结束，取消只能发生在 tick 之间
func (l *Line) Tick() error {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	if l.halted != nil {
		return l.halted
	}
	l.tick++
	t := l.tick

	l.applyInputs(t, l.drainInputs())

	view := l.snapshotView()
	decisions := l.evaluate(view, t)

	if err := l.commit(decisions, t); err != nil {
		return l.halt(t, err)
	}
	if err := l.checkInvariants(); err != nil {
		return l.halt(t, err)
	}

	for _, rt := range l.order {
		if rt.state.Status.Producing() {
			rt.workingTicks++
		}
	}

	stats := l.computeStats()
	l.statsMu.Lock()
	l.stats = stats
	l.statsMu.Unlock()

	snapshot := stats.Clone()
	l.publish(event.Event{Type: event.TickCompleted, Tick: t, Stats: &snapshot})
	return nil
}

// Advance 连续推进 n 个 tick，遇到错误立即返回
func (l *Line) Advance(n int) error {
	for i := 0; i < n; i++ {
		if err := l.Tick(); err != nil {
			return err
		}
	}
	return nil
}

func (l *Line) halt(t int64, err error) error {
	if !errors.Is(err, ErrInvariant) {
		err = fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	l.halted = fmt.Errorf("tick %d: %w", t, err)
	l.logger.Error("产线不变量被破坏，停止仿真", "tick", t, "error", err)
	l.publish(event.Event{Type: event.InvariantViolated, Tick: t, Error: l.halted})
	return l.halted
}

func (l *Line) applyInputs(t int64, inputs []input) {
	// 定时缺料到期自动恢复
	for _, rt := range l.order {
		if rt.state.PartsRestoreAt > 0 && t >= rt.state.PartsRestoreAt {
			rt.state.PartsRestoreAt = 0
			l.setParts(rt, true, t)
		}
	}

	for _, in := range inputs {
		rt := l.stations[in.station]
		if in.kind == "" {
			rt.state.PartsRestoreAt = 0
			l.setParts(rt, in.parts, t)
			continue
		}
		l.applyDisruption(rt, in, t)
	}
}

func (l *Line) setParts(rt *stationRuntime, available bool, t int64) {
	if rt.state.PartsAvailable == available {
		return
	}
	rt.state.PartsAvailable = available
	l.logger.Info("零部件状态变化", "station_id", rt.id(), "parts_available", available, "tick", t)
	l.publish(event.Event{Type: event.PartsChanged, Tick: t, StationID: rt.id(), PartsAvailable: available})
}

// applyDisruption 工站持有的在制品保留在工站上，恢复后继续作业
func (l *Line) applyDisruption(rt *stationRuntime, in input, t int64) {
	st := &rt.state
	from := st.Status

	switch in.kind {
	case types.DisruptionError, types.DisruptionMaintenance:
		target := types.StatusError
		if in.kind == types.DisruptionMaintenance {
			target = types.StatusMaintenance
		}
		until := t + in.duration
		if st.Status == target && st.TimerUntil > until {
			until = st.TimerUntil
		}
		st.Status = target
		st.TimerUntil = until
	case types.DisruptionWaitingParts:
		st.PartsAvailable = false
		st.PartsRestoreAt = 0
		if in.duration > 0 {
			st.PartsRestoreAt = t + in.duration
		}
		if st.Status == types.StatusIdle || (st.Status == types.StatusBlocked && !st.Delivering) {
			st.Status = types.StatusWaitingParts
		}
	}

	l.logger.Warn("注入扰动", "station_id", rt.id(), "kind", in.kind, "duration", in.duration, "tick", t, "from", from, "to", st.Status)
	l.publish(event.Event{
		Type:       event.DisruptionApplied,
		Tick:       t,
		StationID:  rt.id(),
		From:       from,
		To:         st.Status,
		Disruption: in.kind,
		Duration:   in.duration,
	})
}

// snapshotView 本 tick 的只读缓冲区快照
type snapshotView struct {
	lens     map[types.StationID]int
	eligible map[types.StationID]bool
}

func (v *snapshotView) BufferLen(id types.StationID) int     { return v.lens[id] }
func (v *snapshotView) HeadEligible(id types.StationID) bool { return v.eligible[id] }

func (l *Line) snapshotView() *snapshotView {
	v := &snapshotView{
		lens:     make(map[types.StationID]int, len(l.order)),
		eligible: make(map[types.StationID]bool, len(l.order)),
	}
	for _, rt := range l.order {
		if rt.buffer == nil {
			continue
		}
		v.lens[rt.id()] = rt.buffer.Len()
		v.eligible[rt.id()] = rt.buffer.HeadEligible()
	}
	return v
}

// evaluate 评估阶段：只读，不修改任何工站或缓冲区
// 并行模式下所有 goroutine 在 WaitGroup 处汇合后才进入提交阶段
func (l *Line) evaluate(view station.View, t int64) []station.Decision {
	decisions := make([]station.Decision, len(l.order))
	policy := &l.opts.Policy

	if !l.opts.Parallel {
		for i, rt := range l.order {
			decisions[i] = station.Evaluate(rt.spec, &rt.state, view, rt.src, policy, t)
		}
		return decisions
	}

	var wg sync.WaitGroup
	for i, rt := range l.order {
		wg.Add(1)
		go func(i int, rt *stationRuntime) {
			defer wg.Done()
			decisions[i] = station.Evaluate(rt.spec, &rt.state, view, rt.src, policy, t)
		}(i, rt)
	}
	wg.Wait()
	return decisions
}

func (l *Line) publish(e event.Event) {
	if l.bus != nil {
		l.bus.Publish(e)
	}
}
