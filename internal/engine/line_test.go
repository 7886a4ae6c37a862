package engine

import (
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assembly-line-sim/internal/event"
	"assembly-line-sim/internal/graph"
	"assembly-line-sim/internal/station"
	"assembly-line-sim/internal/types"
)

type seqIdentity struct{ n int }

func (s *seqIdentity) Next() types.Vehicle {
	s.n++
	return types.Vehicle{ID: fmt.Sprintf("VIN%05d", s.n), Model: "KONA", Variant: "Standard", Color: "Atlas White"}
}

func quietPolicy() station.Policy {
	return station.Policy{
		MaintenanceInterval:   1 << 40,
		MaintenanceDuration:   types.Range{Min: 10, Max: 10},
		RepairDuration:        types.Range{Min: 5, Max: 5},
		InitialEfficiency:     types.Range{Min: 1, Max: 1},
		RepairEfficiency:      types.Range{Min: 0.8, Max: 0.8},
		MaintenanceEfficiency: types.Range{Min: 0.9, Max: 0.9},
		ConditionalPassRate:   0.05,
	}
}

func testProduction() Production {
	return Production{DailyTarget: 480, ShiftSeconds: 28800, ShiftsPerDay: 3, SecondsPerTick: 1}
}

func spec(id string, prereqs, succs []string, capacity int, cycle, pass float64) types.StationSpec {
	s := types.StationSpec{
		ID:             types.StationID(id),
		BufferCapacity: capacity,
		MinCycleTicks:  cycle,
		MaxCycleTicks:  cycle,
		PassRate:       pass,
	}
	for _, p := range prereqs {
		s.Prerequisites = append(s.Prerequisites, types.StationID(p))
	}
	for _, n := range succs {
		s.Successors = append(s.Successors, types.StationID(n))
	}
	return s
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func newTestLine(t *testing.T, specs []types.StationSpec, mutate ...func(*Options)) *Line {
	t.Helper()
	g, err := graph.New(specs)
	require.NoError(t, err)
	opts := Options{
		Policy:     quietPolicy(),
		Production: testProduction(),
		Seed:       1,
		Identity:   &seqIdentity{},
		Logger:     discardLogger(),
	}
	for _, m := range mutate {
		m(&opts)
	}
	l, err := NewLine(g, opts)
	require.NoError(t, err)
	return l
}

func (l *Line) stateOf(id string) station.State {
	return l.stations[types.StationID(id)].state
}

func (l *Line) bufferLen(id string) int {
	return l.stations[types.StationID(id)].buffer.Len()
}

// Scenario E: 单工站、合格率 100%、周期 1 tick，N 个 tick 后产量为 N-1
func TestLine_SingleStationThroughput(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 1)})

	const n = 50
	require.NoError(t, l.Advance(n))

	snap := l.Snapshot()
	assert.Equal(t, int64(n), snap.Tick)
	assert.Equal(t, n-1, snap.CurrentProduction)
	assert.Equal(t, n, snap.Created)
	assert.Equal(t, 1, snap.TotalWIP)
}

// Scenario A: 入口缓冲区容量 2，下游不取料时入口工站阻塞，缓冲区降到 2 以下才重新开工
func TestLine_BackpressureBlocksEntry(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{
		spec("A", nil, []string{"B"}, 2, 1, 1),
		spec("B", []string{"A"}, nil, 1, 1, 1),
	})
	require.NoError(t, l.SetPartsAvailable("B", false))

	require.NoError(t, l.Advance(10))
	assert.Equal(t, types.StatusBlocked, l.stateOf("A").Status)
	assert.Equal(t, types.StatusWaitingParts, l.stateOf("B").Status)
	assert.Equal(t, 2, l.bufferLen("A"))
	assert.Equal(t, 2, l.Snapshot().Created, "third unit must not start while the buffer is full")

	require.NoError(t, l.SetPartsAvailable("B", true))
	require.NoError(t, l.Tick()) // B: WAITING_PARTS -> IDLE
	assert.Equal(t, types.StatusIdle, l.stateOf("B").Status)

	require.NoError(t, l.Tick()) // B pulls; A cannot see the same-tick pop
	assert.Equal(t, types.StatusWorking, l.stateOf("B").Status)
	assert.Equal(t, types.StatusBlocked, l.stateOf("A").Status)
	assert.Equal(t, 1, l.bufferLen("A"))

	require.NoError(t, l.Tick()) // A sees 1 < 2 and starts the third unit
	assert.Equal(t, types.StatusWorking, l.stateOf("A").Status)
	assert.Equal(t, 3, l.Snapshot().Created)
}

// Scenario B: 连续两次返工后第三次不合格直接报废
func TestLine_ReworkLimitScraps(t *testing.T) {
	bus := event.NewBus()
	scrapped := make(chan event.Event, 4)
	bus.Subscribe(event.UnitScrapped, func(e event.Event) { scrapped <- e })

	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 0)}, func(o *Options) { o.Bus = bus })

	require.NoError(t, l.Advance(3))
	first := l.stateOf("S").WIP
	require.NotNil(t, first)
	assert.Equal(t, types.MaxRework, first.ReworkCount)
	assert.Equal(t, types.OrderRework, first.Order)

	require.NoError(t, l.Tick())
	bus.Wait()

	_, ok := l.registry.Get(first.ID)
	assert.False(t, ok, "scrapped unit must leave the registry")
	counts := l.registry.Counts()
	assert.Equal(t, 1, counts.Scrapped)
	assert.Equal(t, 2, counts.Reworks)
	assert.Equal(t, 0, l.Snapshot().CurrentProduction)

	e := <-scrapped
	assert.Equal(t, first.ID, e.WIP.ID)
	assert.Equal(t, types.QualityScrap, e.WIP.Quality)
	assert.Equal(t, types.MaxRework, e.WIP.ReworkCount)

	// the station chains straight into the next unit
	next := l.stateOf("S").WIP
	require.NotNil(t, next)
	assert.NotEqual(t, first.ID, next.ID)
	assert.Equal(t, 0, next.ReworkCount)
}

// Scenario C: 缺料信号在下一个 tick 生效，恢复信号到达后才回到 IDLE
func TestLine_PartsShortageWaitsForFlag(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 5, 1)})

	require.NoError(t, l.SetPartsAvailable("S", false))
	require.NoError(t, l.Tick())
	assert.Equal(t, types.StatusWaitingParts, l.stateOf("S").Status)

	require.NoError(t, l.Advance(5))
	assert.Equal(t, types.StatusWaitingParts, l.stateOf("S").Status)
	assert.Equal(t, 0, l.Snapshot().Created)

	require.NoError(t, l.SetPartsAvailable("S", true))
	require.NoError(t, l.Tick())
	assert.Equal(t, types.StatusIdle, l.stateOf("S").Status)

	require.NoError(t, l.Tick())
	assert.Equal(t, types.StatusWorking, l.stateOf("S").Status)
}

// Scenario D: 注入 3 个 tick 的故障，恰好保持 3 个 tick 后回到 IDLE 并重新抽取效率
func TestLine_InjectedErrorLastsDuration(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{
		spec("A", nil, []string{"B"}, 2, 1000, 1),
		spec("B", []string{"A"}, nil, 1, 1, 1),
	})
	require.NoError(t, l.Advance(2))
	require.Equal(t, types.StatusIdle, l.stateOf("B").Status)

	require.NoError(t, l.InjectDisruption("B", types.DisruptionError, 3))
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Tick())
		assert.Equal(t, types.StatusError, l.stateOf("B").Status, "tick %d", l.CurrentTick())
	}
	require.NoError(t, l.Tick())
	assert.Equal(t, types.StatusIdle, l.stateOf("B").Status)
	assert.Equal(t, 0.8, l.stateOf("B").Efficiency)
}

func TestLine_DisruptionKeepsHeldUnit(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 10, 1)})
	require.NoError(t, l.Tick())
	held := l.stateOf("S").WIP
	require.NotNil(t, held)

	require.NoError(t, l.InjectDisruption("S", types.DisruptionMaintenance, 2))
	require.NoError(t, l.Advance(2))
	assert.Equal(t, types.StatusMaintenance, l.stateOf("S").Status)
	assert.Same(t, held, l.stateOf("S").WIP)

	require.NoError(t, l.Tick())
	st := l.stateOf("S")
	assert.Equal(t, types.StatusWorking, st.Status)
	assert.Same(t, held, st.WIP)
	assert.Equal(t, int64(4), st.CycleStart, "cycle restarts after recovery")
	assert.Equal(t, int64(4), st.LastMaintenance)
	assert.Equal(t, 0.9, st.Efficiency)
}

func TestLine_TimedPartsShortage(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{
		spec("A", nil, []string{"B"}, 2, 1000, 1),
		spec("B", []string{"A"}, nil, 1, 1, 1),
	})
	require.NoError(t, l.Tick())
	require.NoError(t, l.InjectDisruption("B", types.DisruptionWaitingParts, 2))

	require.NoError(t, l.Tick()) // tick 2: restore scheduled for tick 4
	assert.Equal(t, types.StatusWaitingParts, l.stateOf("B").Status)
	assert.False(t, l.stateOf("B").PartsAvailable)
	require.NoError(t, l.Tick())
	assert.Equal(t, types.StatusWaitingParts, l.stateOf("B").Status)

	require.NoError(t, l.Tick())
	assert.Equal(t, types.StatusIdle, l.stateOf("B").Status)
	assert.True(t, l.stateOf("B").PartsAvailable)
}

func TestLine_InjectionErrors(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 1)})

	assert.ErrorIs(t, l.InjectDisruption("NOPE", types.DisruptionError, 3), ErrUnknownStation)
	assert.ErrorIs(t, l.InjectDisruption("S", types.DisruptionKind("meteor"), 3), ErrInvalidDisruption)
	assert.ErrorIs(t, l.InjectDisruption("S", types.DisruptionError, 0), ErrInvalidDisruption)
	assert.ErrorIs(t, l.InjectDisruption("S", types.DisruptionWaitingParts, -1), ErrInvalidDisruption)
	assert.ErrorIs(t, l.SetPartsAvailable("NOPE", true), ErrUnknownStation)
	assert.NoError(t, l.InjectDisruption("S", types.DisruptionWaitingParts, 0))
}

func TestLine_MergeStationCombinesUnits(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{
		spec("BODY", nil, []string{"MARRIAGE"}, 2, 1, 1),
		spec("FRAME", nil, []string{"MARRIAGE"}, 2, 1, 1),
		spec("MARRIAGE", []string{"BODY", "FRAME"}, nil, 1, 2, 1),
	})

	for i := 0; i < 60; i++ {
		require.NoError(t, l.Tick())
		snap := l.Snapshot()
		assert.GreaterOrEqual(t, snap.Merged, snap.CurrentProduction)
		assert.LessOrEqual(t, snap.Merged-snap.CurrentProduction, 1)
		assert.Equal(t, snap.Created, snap.Completed+snap.Scrapped+snap.TotalWIP)
	}
	snap := l.Snapshot()
	assert.Positive(t, snap.CurrentProduction)
	assert.Equal(t, snap.CurrentProduction+snap.Merged, snap.Completed)
}

func TestLine_FanOutSharesBuffer(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{
		spec("S", nil, []string{"P", "Q"}, 3, 1, 1),
		spec("P", []string{"S"}, nil, 1, 3, 1),
		spec("Q", []string{"S"}, nil, 1, 3, 1),
	})
	require.NoError(t, l.Advance(100))

	snap := l.Snapshot()
	p, _ := snap.Station("P")
	q, _ := snap.Station("Q")
	assert.Positive(t, p.Completed)
	assert.Positive(t, q.Completed)
	assert.Equal(t, snap.CurrentProduction, p.Completed+q.Completed)
}

func TestLine_WorkOrderRules(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 5, 1)}, func(o *Options) {
		o.OrderRules = []types.OrderRule{
			{Kind: "hold", Rule: `vehicle.Model == "PALISADE"`},
			{Kind: "priority", Rule: `vehicle.Model == "KONA" && tick < 10`},
		}
	})
	require.NoError(t, l.Tick())
	assert.Equal(t, types.OrderPriority, l.stateOf("S").WIP.Order)

	g, err := graph.New([]types.StationSpec{spec("S", nil, nil, 1, 1, 1)})
	require.NoError(t, err)
	_, err = NewLine(g, Options{Identity: &seqIdentity{}, OrderRules: []types.OrderRule{{Kind: "priority", Rule: "vehicle.Model +"}}})
	assert.Error(t, err)
	_, err = NewLine(g, Options{Identity: &seqIdentity{}, OrderRules: []types.OrderRule{{Kind: "urgent", Rule: "true"}}})
	assert.Error(t, err)
	_, err = NewLine(g, Options{})
	assert.Error(t, err, "identity source is required")
}

func TestLine_InvariantViolationHaltsLine(t *testing.T) {
	bus := event.NewBus()
	violations := make(chan event.Event, 1)
	bus.Subscribe(event.InvariantViolated, func(e event.Event) { violations <- e })

	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 1)}, func(o *Options) { o.Bus = bus })
	// a WORKING station without a unit can only come from a broken commit
	l.stations["S"].state.Status = types.StatusWorking

	err := l.Tick()
	require.ErrorIs(t, err, ErrInvariant)
	assert.ErrorIs(t, l.Tick(), ErrInvariant, "halted line refuses to tick")
	assert.ErrorIs(t, l.Err(), ErrInvariant)

	bus.Wait()
	e := <-violations
	assert.ErrorIs(t, e.Error, ErrInvariant)
}

func TestLine_InvariantUnitHeldTwice(t *testing.T) {
	// GIVEN A's finished unit waiting in its buffer
	l := newTestLine(t, []types.StationSpec{
		spec("A", nil, []string{"B"}, 1, 1, 1),
		spec("B", []string{"A"}, nil, 1, 1000, 1),
	})
	require.NoError(t, l.Advance(2))
	require.Equal(t, 1, l.bufferLen("A"))
	w := l.stations["A"].buffer.Peek()

	// WHEN B is made to work on the same unit without pulling it
	b := &l.stations["B"].state
	b.WIP = w
	b.Status = types.StatusWorking
	b.CycleStart = 2
	b.CycleTicks = 1000

	// THEN the next tick halts on the duplicate location
	err := l.Tick()
	require.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), fmt.Sprintf("unit %s held in 2 places", w.ID))
	assert.ErrorIs(t, l.Err(), ErrInvariant)
}

func TestLine_InvariantStartWhileHolding(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 5, 1)})
	require.NoError(t, l.Advance(1))
	held := l.stateOf("S").WIP
	require.NotNil(t, held)

	// an IDLE station still holding its unit decides to start the next one
	l.stations["S"].state.Status = types.StatusIdle

	err := l.Tick()
	require.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), fmt.Sprintf("station S started while holding %s", held.ID))
	assert.Equal(t, 1, l.registry.Counts().Created, "no new unit is created")
	assert.Same(t, held, l.stateOf("S").WIP)
}

func TestLine_InvariantRegisteredUnitOffLine(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 5, 1)})
	require.NoError(t, l.Advance(1))

	stray := l.registry.Create(types.Vehicle{ID: "STRAY"}, "S", types.OrderNormal, 1)

	err := l.Tick()
	require.ErrorIs(t, err, ErrInvariant)
	assert.Contains(t, err.Error(), fmt.Sprintf("missing [%s]", stray.ID))
}

func TestLine_StatsFormulas(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 1)}, func(o *Options) {
		o.Production = Production{DailyTarget: 480, ShiftSeconds: 100, ShiftsPerDay: 3, SecondsPerTick: 10}
	})
	require.NoError(t, l.Advance(5))

	snap := l.Snapshot()
	assert.Equal(t, 50.0, snap.SimSeconds)
	assert.Equal(t, 50.0, snap.ShiftProgress)
	// target so far = 50/100 * 480/3 = 80 units, produced 4
	assert.Equal(t, 5.0, snap.AchievementRate)
	assert.Equal(t, 100.0, snap.LineEfficiency)

	s, ok := snap.Station("S")
	require.True(t, ok)
	assert.Equal(t, 100.0, s.Efficiency)
	assert.Equal(t, 100.0, s.Utilization)
	assert.Equal(t, 4, s.Completed)

	// four one-tick cycles, all passing on the first inspection
	assert.Equal(t, 100.0, s.FirstTimeYield)
	assert.Equal(t, 1.0, s.AvgCycleTicks)
	assert.Equal(t, 10.0, s.AvgCycleSeconds)
	assert.Equal(t, 100.0, s.Performance)
	assert.Equal(t, 100.0, s.OEE)
	// 4 units in 50 simulated seconds
	assert.Equal(t, 288.0, s.ThroughputPerHour)
	assert.Equal(t, 288.0, snap.ThroughputPerHour)
	assert.Equal(t, 100.0, snap.FirstTimeYield)
	assert.Equal(t, 100.0, snap.OEE)

	require.NoError(t, l.Advance(10))
	assert.Equal(t, 100.0, l.Snapshot().ShiftProgress, "shift progress is capped")
}

func TestLine_StatsFirstTimeYieldCountsOnlyFirstInspection(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 0)}, func(o *Options) {
		o.Production = Production{DailyTarget: 480, ShiftSeconds: 100, ShiftsPerDay: 3, SecondsPerTick: 10}
	})
	require.NoError(t, l.Advance(20))

	snap := l.Snapshot()
	s, ok := snap.Station("S")
	require.True(t, ok)
	require.Positive(t, s.Reworked)
	require.Positive(t, s.Scrapped)

	assert.Equal(t, 0.0, s.FirstTimeYield)
	assert.Equal(t, 0.0, s.OEE)
	assert.Equal(t, 0.0, s.ThroughputPerHour)
	// reworks restart the cycle, so every inspection still ends a one-tick cycle
	assert.Equal(t, 1.0, s.AvgCycleTicks)
	assert.Equal(t, 100.0, s.Performance)
	assert.Equal(t, 0.0, snap.FirstTimeYield)
	assert.Equal(t, 0.0, snap.OEE)
}

func TestLine_StatsKPIsBeforeAnyInspection(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 5, 1)})
	require.NoError(t, l.Advance(2))

	s, ok := l.Snapshot().Station("S")
	require.True(t, ok)
	assert.Equal(t, 100.0, s.FirstTimeYield, "no inspections yet")
	assert.Zero(t, s.AvgCycleTicks)
	assert.Zero(t, s.Performance)
	assert.Zero(t, s.OEE)
}
