package config

import "assembly-line-sim/internal/types"

// 默认总装线的工站 ID
// A: 内饰线  B: 底盘线  C: 外装线  D: 检测线
const (
	StationDoor           types.StationID = "A01_DOOR"
	StationWiring         types.StationID = "A02_WIRING"
	StationHeadliner      types.StationID = "A03_HEADLINER"
	StationCrashPad       types.StationID = "A04_CRASH_PAD"
	StationFuelTank       types.StationID = "B01_FUEL_TANK"
	StationChassisMerge   types.StationID = "B02_CHASSIS_MERGE"
	StationMuffler        types.StationID = "B03_MUFFLER"
	StationFEM            types.StationID = "C01_FEM"
	StationGlass          types.StationID = "C02_GLASS"
	StationSeat           types.StationID = "C03_SEAT"
	StationBumper         types.StationID = "C04_BUMPER"
	StationTire           types.StationID = "C05_TIRE"
	StationWheelAlignment types.StationID = "D01_WHEEL_ALIGNMENT"
	StationHeadlamp       types.StationID = "D02_HEADLAMP"
	StationWaterLeakTest  types.StationID = "D03_WATER_LEAK_TEST"
)

// defaultFailureProbability 空闲时每个 tick 的故障概率 (0.1%)
const defaultFailureProbability = 0.001

type stationRow struct {
	id       types.StationID
	capacity int
	min, max float64
	passRate float64
	critical bool
}

// defaultRows 按工艺顺序排列，单线串联；周期单位为 tick (默认 1 tick = 1 秒)
var defaultRows = []stationRow{
	{StationDoor, 2, 45, 75, 0.98, false},
	{StationWiring, 3, 60, 90, 0.95, true},
	{StationHeadliner, 2, 50, 80, 0.97, false},
	{StationCrashPad, 4, 70, 110, 0.96, false}, // A→B 换线点，缓冲区加大
	{StationFuelTank, 2, 90, 150, 0.98, true},
	{StationChassisMerge, 1, 120, 180, 0.94, true}, // 关键工序，缓冲区小
	{StationMuffler, 3, 80, 120, 0.97, false},
	{StationFEM, 2, 100, 160, 0.96, true},
	{StationGlass, 2, 90, 140, 0.99, false},
	{StationSeat, 3, 85, 125, 0.98, false},
	{StationBumper, 2, 75, 115, 0.97, false},
	{StationTire, 4, 70, 100, 0.98, false}, // C→D 换线点
	{StationWheelAlignment, 2, 120, 180, 0.92, true},
	{StationHeadlamp, 2, 60, 90, 0.96, false},
	{StationWaterLeakTest, 1, 180, 300, 0.94, true},
}

// DefaultStations 默认的 15 工站总装线
func DefaultStations() []types.StationSpec {
	specs := make([]types.StationSpec, len(defaultRows))
	for i, row := range defaultRows {
		spec := types.StationSpec{
			ID:                 row.id,
			BufferCapacity:     row.capacity,
			MinCycleTicks:      row.min,
			MaxCycleTicks:      row.max,
			PassRate:           row.passRate,
			Critical:           row.critical,
			FailureProbability: defaultFailureProbability,
		}
		if i > 0 {
			spec.Prerequisites = []types.StationID{defaultRows[i-1].id}
		}
		if i < len(defaultRows)-1 {
			spec.Successors = []types.StationID{defaultRows[i+1].id}
		}
		specs[i] = spec
	}
	return specs
}
