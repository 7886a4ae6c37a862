package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"assembly-line-sim/internal/types"
)

func TestObserveStats(t *testing.T) {
	ObserveStats(&types.LineStatistics{
		Tick:              120,
		CurrentProduction: 7,
		TotalWIP:          11,
		FirstTimeYield:    96.4,
		ThroughputPerHour: 19.5,
		OEE:               78.3,
		Stations: []types.StationStatistics{
			{ID: "M_TEST_A", Status: types.StatusBlocked, Efficiency: 91.5, BufferCount: 2, OEE: 70.2, FirstTimeYield: 95, AvgCycleSeconds: 182.5},
		},
	})

	assert.Equal(t, 120.0, testutil.ToFloat64(LineTick))
	assert.Equal(t, 7.0, testutil.ToFloat64(ProductionTotal))
	assert.Equal(t, 11.0, testutil.ToFloat64(WIPInFlight))
	assert.Equal(t, 1.0, testutil.ToFloat64(StationStatus.WithLabelValues("M_TEST_A", "blocked")))
	assert.Equal(t, 0.0, testutil.ToFloat64(StationStatus.WithLabelValues("M_TEST_A", "working")))
	assert.Equal(t, 91.5, testutil.ToFloat64(StationEfficiency.WithLabelValues("M_TEST_A")))
	assert.Equal(t, 2.0, testutil.ToFloat64(BufferOccupancy.WithLabelValues("M_TEST_A")))

	assert.Equal(t, 96.4, testutil.ToFloat64(LineFirstTimeYield))
	assert.Equal(t, 19.5, testutil.ToFloat64(LineThroughput))
	assert.Equal(t, 78.3, testutil.ToFloat64(LineOEE))
	assert.Equal(t, 70.2, testutil.ToFloat64(StationOEE.WithLabelValues("M_TEST_A")))
	assert.Equal(t, 95.0, testutil.ToFloat64(StationFirstTimeYield.WithLabelValues("M_TEST_A")))
	assert.Equal(t, 182.5, testutil.ToFloat64(StationCycleSeconds.WithLabelValues("M_TEST_A")))
}

func TestObserveStats_ExportsEveryStatus(t *testing.T) {
	ObserveStats(&types.LineStatistics{
		Stations: []types.StationStatistics{{ID: "M_TEST_B", Status: types.StatusWaitingParts}},
	})

	for _, status := range types.AllStatuses {
		want := 0.0
		if status == types.StatusWaitingParts {
			want = 1
		}
		assert.Equal(t, want, testutil.ToFloat64(StationStatus.WithLabelValues("M_TEST_B", string(status))), status)
	}
}
