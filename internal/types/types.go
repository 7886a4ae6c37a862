package types

import (
	"fmt"
	"strings"
)

// StationID 定义工站 ID
// 使用字符串类型，方便在日志、配置和 MQTT 主题中直接使用
type StationID string

// StationStatus 工站状态
// 除 WORKING 以外的状态都视为"未生产"
type StationStatus string

const (
	StatusIdle         StationStatus = "idle"          // 空闲，等待开工条件
	StatusWorking      StationStatus = "working"       // 作业中
	StatusWaitingParts StationStatus = "waiting_parts" // 等待零部件
	StatusBlocked      StationStatus = "blocked"       // 下游缓冲区已满
	StatusMaintenance  StationStatus = "maintenance"   // 计划保养
	StatusError        StationStatus = "error"         // 设备故障
)

// AllStatuses 按固定顺序列出全部状态，用于指标导出
var AllStatuses = []StationStatus{
	StatusIdle, StatusWorking, StatusWaitingParts, StatusBlocked, StatusMaintenance, StatusError,
}

// Producing 只有 WORKING 算作生产状态
func (s StationStatus) Producing() bool { return s == StatusWorking }

// WorkOrder 作业指令类型
type WorkOrder string

const (
	OrderNormal   WorkOrder = "normal"
	OrderPriority WorkOrder = "priority"
	OrderRework   WorkOrder = "rework"
	OrderHold     WorkOrder = "hold"
)

// ParseWorkOrder 解析配置中的作业指令类型
func ParseWorkOrder(s string) (WorkOrder, error) {
	switch o := WorkOrder(strings.ToLower(strings.TrimSpace(s))); o {
	case OrderNormal, OrderPriority, OrderRework, OrderHold:
		return o, nil
	}
	return "", fmt.Errorf("unknown work order kind %q", s)
}

// QualityStatus 质检状态
type QualityStatus string

const (
	QualityPending         QualityStatus = "pending"
	QualityPass            QualityStatus = "pass"
	QualityConditionalPass QualityStatus = "conditional_pass"
	QualityFail            QualityStatus = "fail"
	QualityScrap           QualityStatus = "scrap"
)

// Eligible 只有合格或条件合格的工件可以从缓冲区取出
func (q QualityStatus) Eligible() bool {
	return q == QualityPass || q == QualityConditionalPass
}

// MaxRework 单个工件允许的最大返工次数，超过后报废
const MaxRework = 2

// DisruptionKind 外部可注入的扰动类型
type DisruptionKind string

const (
	DisruptionError        DisruptionKind = "error"
	DisruptionWaitingParts DisruptionKind = "waiting_parts"
	DisruptionMaintenance  DisruptionKind = "maintenance"
)

// ParseDisruptionKind 解析 API / MQTT 传入的扰动类型
func ParseDisruptionKind(s string) (DisruptionKind, error) {
	switch k := DisruptionKind(strings.ToLower(strings.TrimSpace(s))); k {
	case DisruptionError, DisruptionWaitingParts, DisruptionMaintenance:
		return k, nil
	}
	return "", fmt.Errorf("unknown disruption kind %q", s)
}

// Range 闭区间 [Min, Max]，用于周期、时长和效率的随机抽取
type Range struct {
	Min float64 `mapstructure:"min" json:"min" yaml:"min"`
	Max float64 `mapstructure:"max" json:"max" yaml:"max"`
}

// Valid 检查区间是否合法
func (r Range) Valid() bool { return r.Min <= r.Max }

// StationSpec 工站的静态配置 (依赖关系、缓冲区、节拍、质检参数)
// 所有工站共享同一套状态转移逻辑，差异只体现在这些数据上
type StationSpec struct {
	ID                 StationID   `mapstructure:"id" json:"id" yaml:"id"`
	Prerequisites      []StationID `mapstructure:"prerequisites" json:"prerequisites" yaml:"prerequisites"`
	Successors         []StationID `mapstructure:"successors" json:"successors" yaml:"successors"`
	BufferCapacity     int         `mapstructure:"buffer_capacity" json:"buffer_capacity" yaml:"buffer_capacity"`
	MinCycleTicks      float64     `mapstructure:"min_cycle_ticks" json:"min_cycle_ticks" yaml:"min_cycle_ticks"`
	MaxCycleTicks      float64     `mapstructure:"max_cycle_ticks" json:"max_cycle_ticks" yaml:"max_cycle_ticks"`
	PassRate           float64     `mapstructure:"pass_rate" json:"pass_rate" yaml:"pass_rate"`
	Critical           bool        `mapstructure:"critical" json:"critical" yaml:"critical"`
	FailureProbability float64     `mapstructure:"failure_probability" json:"failure_probability" yaml:"failure_probability"`
}

// Terminal 没有后续工站的即为终检工站
func (s *StationSpec) Terminal() bool { return len(s.Successors) == 0 }

// Entry 没有前置工站的即为入口工站
func (s *StationSpec) Entry() bool { return len(s.Prerequisites) == 0 }

// OrderRule 作业指令规则：Rule 为 expr 表达式，命中后新工件使用 Kind
type OrderRule struct {
	Kind string `mapstructure:"kind" json:"kind" yaml:"kind"`
	Rule string `mapstructure:"rule" json:"rule" yaml:"rule"`
}

// Vehicle 由追踪系统提供的车辆身份信息
type Vehicle struct {
	ID      string `json:"vehicle_id"`
	Model   string `json:"model"`
	Variant string `json:"variant"`
	Color   string `json:"color"`
}

// WorkInProgress 表示生产线上的一个在制品
type WorkInProgress struct {
	ID                 string        `json:"wip_id"`
	Vehicle            Vehicle       `json:"vehicle"`
	StationID          StationID     `json:"current_station"`
	CycleStart         int64         `json:"cycle_start_tick"`
	ExpectedCompletion int64         `json:"expected_completion_tick"`
	Order              WorkOrder     `json:"work_order"`
	Quality            QualityStatus `json:"quality_status"`
	ReworkCount        int           `json:"rework_count"`
	Flagged            bool          `json:"flagged,omitempty"` // 曾获条件合格，供下游复核
	CreatedTick        int64         `json:"created_tick"`
	History            []StationID   `json:"history,omitempty"`    // 已经过的工站
	Components         []string      `json:"components,omitempty"` // 合流时并入的其他在制品
}

// Clone 返回可以安全交给异步处理器的副本
func (w *WorkInProgress) Clone() *WorkInProgress {
	if w == nil {
		return nil
	}
	c := *w
	c.History = append([]StationID(nil), w.History...)
	c.Components = append([]string(nil), w.Components...)
	return &c
}

// StationStatistics 单个工站在某个 tick 的状态快照
type StationStatistics struct {
	ID             StationID     `json:"station_id" yaml:"station_id"`
	Status         StationStatus `json:"status" yaml:"status"`
	Efficiency     float64       `json:"efficiency" yaml:"efficiency"` // 百分比，保留一位小数
	BufferCount    int           `json:"buffer_count" yaml:"buffer_count"`
	BufferCapacity int           `json:"buffer_capacity" yaml:"buffer_capacity"`
	CurrentWIP     string        `json:"current_wip,omitempty" yaml:"current_wip,omitempty"`
	PartsAvailable bool          `json:"parts_available" yaml:"parts_available"`
	Completed      int           `json:"completed" yaml:"completed"`
	Reworked       int           `json:"reworked" yaml:"reworked"`
	Scrapped       int           `json:"scrapped" yaml:"scrapped"`
	Utilization    float64       `json:"utilization" yaml:"utilization"` // WORKING tick 占比 (百分比)

	FirstTimeYield    float64 `json:"fty" yaml:"fty"`                                 // 首次质检合格率 (百分比)
	Performance       float64 `json:"performance" yaml:"performance"`                 // 标称周期 / 实际周期 (百分比，封顶 100)
	OEE               float64 `json:"oee" yaml:"oee"`                                 // 利用率 × 性能 × 首检合格率
	ThroughputPerHour float64 `json:"throughput_per_hour" yaml:"throughput_per_hour"` // 按仿真时间折算
	AvgCycleTicks     float64 `json:"avg_cycle_ticks" yaml:"avg_cycle_ticks"`
	AvgCycleSeconds   float64 `json:"avg_cycle_seconds" yaml:"avg_cycle_seconds"`
}

// LineStatistics 整条产线的派生统计，每个 tick 重新计算
type LineStatistics struct {
	Tick              int64               `json:"tick" yaml:"tick"`
	SimSeconds        float64             `json:"sim_seconds" yaml:"sim_seconds"`
	ShiftProgress     float64             `json:"shift_progress" yaml:"shift_progress"`
	CurrentProduction int                 `json:"current_production" yaml:"current_production"`
	DailyTarget       int                 `json:"daily_target" yaml:"daily_target"`
	AchievementRate   float64             `json:"achievement_rate" yaml:"achievement_rate"`
	LineEfficiency    float64             `json:"line_efficiency" yaml:"line_efficiency"`
	TotalWIP          int                 `json:"total_wip" yaml:"total_wip"`
	Created           int                 `json:"created" yaml:"created"`
	Completed         int                 `json:"completed" yaml:"completed"` // 含合流并入的在制品
	Merged            int                 `json:"merged" yaml:"merged"`
	Scrapped          int                 `json:"scrapped" yaml:"scrapped"`
	FirstTimeYield    float64             `json:"fty" yaml:"fty"`                                 // 全线首次质检合格率
	ThroughputPerHour float64             `json:"throughput_per_hour" yaml:"throughput_per_hour"` // 下线整车 / 仿真小时
	OEE               float64             `json:"oee" yaml:"oee"`                                 // 各工站 OEE 均值
	Stations          []StationStatistics `json:"stations" yaml:"stations"`
}

// Station 按 ID 查找工站快照
func (s *LineStatistics) Station(id StationID) (StationStatistics, bool) {
	for _, st := range s.Stations {
		if st.ID == id {
			return st, true
		}
	}
	return StationStatistics{}, false
}

// Clone 深拷贝，避免并发读写 Stations 切片
func (s LineStatistics) Clone() LineStatistics {
	s.Stations = append([]StationStatistics(nil), s.Stations...)
	return s
}
