package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"assembly-line-sim/internal/config"
	"assembly-line-sim/internal/graph"
	"assembly-line-sim/internal/types"
)

func defaultLine(t *testing.T, seed int64, parallel bool) *Line {
	t.Helper()
	cfg := config.Default()
	g, err := graph.New(config.DefaultStations())
	require.NoError(t, err)
	l, err := NewLine(g, Options{
		Policy: cfg.StationPolicy(),
		Production: Production{
			DailyTarget:    cfg.Production.DailyTarget,
			ShiftSeconds:   cfg.Production.ShiftSeconds,
			ShiftsPerDay:   cfg.Production.ShiftsPerDay,
			SecondsPerTick: cfg.Production.SecondsPerTick,
		},
		Seed:     seed,
		Identity: &seqIdentity{},
		Parallel: parallel,
		Logger:   discardLogger(),
	})
	require.NoError(t, err)
	return l
}

type preTick struct {
	wip      string
	parts    bool
	inputs   bool // 所有前置缓冲区队首可取
	hasSpace bool // 出口缓冲区未满
}

func capture(l *Line) map[types.StationID]preTick {
	out := make(map[types.StationID]preTick, len(l.order))
	for _, rt := range l.order {
		p := preTick{parts: rt.state.PartsAvailable, inputs: true, hasSpace: true}
		if rt.state.WIP != nil {
			p.wip = rt.state.WIP.ID
		}
		for _, pre := range rt.spec.Prerequisites {
			if !l.stations[pre].buffer.HeadEligible() {
				p.inputs = false
			}
		}
		if rt.buffer != nil && rt.buffer.Full() {
			p.hasSpace = false
		}
		out[rt.id()] = p
	}
	return out
}

// GIVEN the default 15-station line with stochastic failures and maintenance
// WHEN it runs for a full shift
// THEN buffer capacity, conservation, rework bound, start precondition and production monotonicity hold every tick
func TestLine_PropertiesHoldOverLongRun(t *testing.T) {
	if testing.Short() {
		t.Skip("long run")
	}
	l := defaultLine(t, 2024, false)
	lastProduction := 0

	for i := 0; i < 28800; i++ {
		before := capture(l)
		require.NoError(t, l.Tick())
		snap := l.Snapshot()

		require.GreaterOrEqual(t, snap.CurrentProduction, lastProduction)
		require.LessOrEqual(t, snap.CurrentProduction-lastProduction, 1, "single terminal completes at most one unit per tick")
		lastProduction = snap.CurrentProduction
		require.Equal(t, snap.Created, snap.Completed+snap.Scrapped+snap.TotalWIP)

		for _, ss := range snap.Stations {
			if rt := l.stations[ss.ID]; rt.buffer != nil {
				require.LessOrEqual(t, ss.BufferCount, ss.BufferCapacity)
			}
		}
		for _, rt := range l.order {
			if rt.buffer != nil {
				for _, w := range rt.buffer.Units() {
					require.LessOrEqual(t, w.ReworkCount, types.MaxRework)
				}
			}
			st := rt.state
			if st.WIP == nil || st.WIP.ID == before[rt.id()].wip {
				continue
			}
			// 新接手的工件：开工条件必须在上一个 tick 结束时成立
			pre := before[rt.id()]
			require.True(t, pre.parts, "station %s started without parts", rt.id())
			require.True(t, pre.inputs, "station %s started without eligible inputs", rt.id())
			if pre.wip == "" {
				require.True(t, pre.hasSpace, "station %s started with a full buffer", rt.id())
			}
		}
	}

	snap := l.Snapshot()
	assert.Positive(t, snap.CurrentProduction)
	assert.Positive(t, snap.AchievementRate)
	t.Logf("shift done: production=%d scrapped=%d wip=%d achievement=%.1f%%",
		snap.CurrentProduction, snap.Scrapped, snap.TotalWIP, snap.AchievementRate)
}

func TestLine_ParallelEvaluationMatchesSequential(t *testing.T) {
	seq := defaultLine(t, 99, false)
	par := defaultLine(t, 99, true)

	for i := 0; i < 3000; i++ {
		require.NoError(t, seq.Tick())
		require.NoError(t, par.Tick())
	}
	assert.Equal(t, seq.Snapshot(), par.Snapshot())
}

func TestLine_SameSeedReplays(t *testing.T) {
	a := defaultLine(t, 5, false)
	b := defaultLine(t, 5, false)
	require.NoError(t, a.Advance(2000))
	require.NoError(t, b.Advance(2000))
	assert.Equal(t, a.Snapshot(), b.Snapshot())
}

func TestRunner_StopsAtMaxTicks(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 1)})
	r := NewRunner(l, 0, 25, discardLogger())

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, int64(25), l.CurrentTick())
}

func TestRunner_CooperativeStop(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 1)})
	r := NewRunner(l, time.Millisecond, 0, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	assert.Eventually(t, func() bool { return l.CurrentTick() >= 5 }, 2*time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
	stopped := l.CurrentTick()
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, stopped, l.CurrentTick())
	assert.Equal(t, l.Snapshot().Created, l.Snapshot().Completed+l.Snapshot().TotalWIP)
}

func TestRunner_ReturnsInvariantError(t *testing.T) {
	l := newTestLine(t, []types.StationSpec{spec("S", nil, nil, 1, 1, 1)})
	l.stations["S"].state.Status = types.StatusWorking
	r := NewRunner(l, 0, 10, discardLogger())
	assert.ErrorIs(t, r.Run(context.Background()), ErrInvariant)
}
