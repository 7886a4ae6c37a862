package tracking

import (
	"fmt"
	"sync"

	"assembly-line-sim/internal/rng"
	"assembly-line-sim/internal/types"
)

// Model 车型目录中的一项
type Model struct {
	Name     string
	Weight   float64 // 产量占比
	Variants []string
	Colors   []string
}

// Catalog 默认车型目录，权重合计为 1
var Catalog = []Model{
	{Name: "TUCSON", Weight: 0.30, Variants: []string{"2.0_MPI_2WD", "2.0_TURBO_AWD", "1.6_HYBRID_AWD"}, Colors: []string{"PHANTOM_BLACK", "SHIMMERING_SILVER", "AMAZON_GRAY", "CRIMSON_RED"}},
	{Name: "AVANTE", Weight: 0.25, Variants: []string{"1.6_MPI", "1.6_TURBO", "1.6_HYBRID"}, Colors: []string{"POLAR_WHITE", "PHANTOM_BLACK", "SHIMMERING_SILVER", "ELECTRIC_SHADOW"}},
	{Name: "PALISADE", Weight: 0.20, Variants: []string{"3.8_V6_AWD", "2.2_DIESEL_AWD"}, Colors: []string{"PHANTOM_BLACK", "STEEL_GRAPHITE", "RAINFOREST", "MOON_DUST"}},
	{Name: "GRANDEUR", Weight: 0.15, Variants: []string{"2.5_GDI", "3.3_TURBO", "2.0_HYBRID"}, Colors: []string{"PHANTOM_BLACK", "MOONLIGHT_SILVER", "MARBLE_WHITE", "STORMY_SEA"}},
	{Name: "KONA", Weight: 0.10, Variants: []string{"1.6_TURBO", "1.6_HYBRID", "ELECTRIC"}, Colors: []string{"PULSE_RED", "PHANTOM_BLACK", "CHALK_WHITE", "SONIC_SILVER"}},
}

// Feed 车辆身份来源：入口工站每投入一个新工件就取一次
// 车架号按顺序分配，车型按目录权重抽取
type Feed struct {
	mu      sync.Mutex
	prefix  string
	counter int
	catalog []Model
	src     rng.Source
}

// NewFeed 创建身份来源，prefix 为车架号前缀 (例如 "HMC")
func NewFeed(prefix string, src rng.Source) *Feed {
	return &Feed{prefix: prefix, catalog: Catalog, src: src}
}

// Next 实现 engine.IdentitySource
func (f *Feed) Next() types.Vehicle {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.counter++
	m := f.pickModel()
	return types.Vehicle{
		ID:      fmt.Sprintf("%s%06d", f.prefix, f.counter),
		Model:   m.Name,
		Variant: pick(f.src, m.Variants),
		Color:   pick(f.src, m.Colors),
	}
}

func (f *Feed) pickModel() Model {
	var total float64
	for _, m := range f.catalog {
		total += m.Weight
	}
	x := f.src.Float64() * total
	for _, m := range f.catalog {
		if x < m.Weight {
			return m
		}
		x -= m.Weight
	}
	return f.catalog[len(f.catalog)-1]
}

func pick(src rng.Source, options []string) string {
	if len(options) == 0 {
		return ""
	}
	i := int(src.Float64() * float64(len(options)))
	if i >= len(options) {
		i = len(options) - 1
	}
	return options[i]
}
