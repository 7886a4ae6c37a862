package rng

import (
	"hash/fnv"
	"math/rand"

	"assembly-line-sim/internal/types"
)

// Source 引擎唯一的随机数入口，返回 [0,1) 的均匀分布
// 测试可以注入脚本化实现，让状态机的每一次抽取都可控
type Source interface {
	Float64() float64
}

// Provider 为每个工站提供独立的随机流
// 工站之间互不影响，并行评估时结果与串行一致
type Provider interface {
	ForStation(id types.StationID) Source
}

const (
	// SubsystemTracking 车辆身份生成
	SubsystemTracking = "tracking"
	// SubsystemSupply 供应链缺料模拟
	SubsystemSupply = "supply"
)

// SubsystemStation 返回工站对应的子系统名
func SubsystemStation(id types.StationID) string {
	return "station_" + string(id)
}

// Partitioned 按子系统派生确定性的随机源: seed XOR fnv1a64(name)
// 同一个 seed 和配置必然得到完全相同的仿真结果
// 非并发安全：所有子系统应在启动阶段取好
type Partitioned struct {
	seed       int64
	subsystems map[string]*rand.Rand
}

// NewPartitioned 创建分区随机源
func NewPartitioned(seed int64) *Partitioned {
	return &Partitioned{seed: seed, subsystems: make(map[string]*rand.Rand)}
}

// ForSubsystem 同名子系统总是返回同一个 *rand.Rand
func (p *Partitioned) ForSubsystem(name string) *rand.Rand {
	if r, ok := p.subsystems[name]; ok {
		return r
	}
	r := rand.New(rand.NewSource(p.seed ^ fnv1a64(name)))
	p.subsystems[name] = r
	return r
}

// ForStation 实现 Provider
func (p *Partitioned) ForStation(id types.StationID) Source {
	return p.ForSubsystem(SubsystemStation(id))
}

// Seed 返回主种子
func (p *Partitioned) Seed() int64 { return p.seed }

func fnv1a64(s string) int64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return int64(h.Sum64())
}

// Uniform 在区间内均匀抽取，退化区间直接返回 Min 且不消耗随机数
func Uniform(src Source, r types.Range) float64 {
	if r.Max <= r.Min {
		return r.Min
	}
	return r.Min + src.Float64()*(r.Max-r.Min)
}

// Bernoulli 以概率 p 返回 true；p<=0 不消耗随机数
func Bernoulli(src Source, p float64) bool {
	if p <= 0 {
		return false
	}
	return src.Float64() < p
}

// Fixed 总是返回同一个值的随机源，测试用
type Fixed float64

func (f Fixed) Float64() float64 { return float64(f) }

// Script 按顺序返回预设值，用尽后重复最后一个
type Script struct {
	Values []float64
	pos    int
}

func (s *Script) Float64() float64 {
	if len(s.Values) == 0 {
		return 0
	}
	if s.pos >= len(s.Values) {
		return s.Values[len(s.Values)-1]
	}
	v := s.Values[s.pos]
	s.pos++
	return v
}
