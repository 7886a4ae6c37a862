package supply

import (
	"container/heap"
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"assembly-line-sim/internal/rng"
	"assembly-line-sim/internal/types"
)

// PartsSetter 零部件可用信号的接收方 (产线聚合器)
type PartsSetter interface {
	SetPartsAvailable(id types.StationID, available bool) error
}

// Config 缺料模拟参数
type Config struct {
	ShortageChance float64     // 每轮每个工站发生缺料的概率
	ResupplyRounds types.Range // 补货到达所需轮数
	MaxShortages   int         // 同时缺料的工站上限，0 表示不限
}

// Simulator 供应链协作者：随机制造缺料，并在补货到达后恢复
// 只通过 PartsSetter 与产线交互，不直接修改工站
type Simulator struct {
	stations []types.StationID
	setter   PartsSetter
	cfg      Config
	src      rng.Source
	logger   *slog.Logger

	mu      sync.Mutex
	round   int64
	seq     int64
	pending deliveryQueue
	short   map[types.StationID]bool
}

// NewSimulator 创建供应链模拟器
func NewSimulator(stations []types.StationID, setter PartsSetter, cfg Config, src rng.Source, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		stations: append([]types.StationID(nil), stations...),
		setter:   setter,
		cfg:      cfg,
		src:      src,
		logger:   logger.With("component", "supply"),
		short:    make(map[types.StationID]bool),
	}
}

// Step 推进一轮：先处理到期的补货，再按概率制造新的缺料
func (s *Simulator) Step() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.round++
	for d := s.pending.peek(); d != nil && d.due <= s.round; d = s.pending.peek() {
		heap.Pop(&s.pending)
		if err := s.setter.SetPartsAvailable(d.station, true); err != nil {
			return fmt.Errorf("resupply %s: %w", d.station, err)
		}
		delete(s.short, d.station)
		s.logger.Info("补货到达", "station_id", d.station, "round", s.round)
	}

	for _, id := range s.stations {
		if s.short[id] {
			continue
		}
		if s.cfg.MaxShortages > 0 && len(s.short) >= s.cfg.MaxShortages {
			break
		}
		if !rng.Bernoulli(s.src, s.cfg.ShortageChance) {
			continue
		}
		if err := s.setter.SetPartsAvailable(id, false); err != nil {
			return fmt.Errorf("shortage %s: %w", id, err)
		}
		rounds := int64(math.Round(rng.Uniform(s.src, s.cfg.ResupplyRounds)))
		if rounds < 1 {
			rounds = 1
		}
		s.seq++
		heap.Push(&s.pending, &delivery{station: id, due: s.round + rounds, seq: s.seq})
		s.short[id] = true
		s.logger.Warn("零部件缺料", "station_id", id, "round", s.round, "resupply_rounds", rounds)
	}
	return nil
}

// Shortages 当前缺料的工站，按 ID 排序
func (s *Simulator) Shortages() []types.StationID {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.StationID, 0, len(s.short))
	for id := range s.short {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Run 按固定间隔推进，直到 ctx 取消
func (s *Simulator) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	s.logger.Info("供应链模拟启动", "interval", interval, "stations", len(s.stations))
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.Step(); err != nil {
				s.logger.Error("供应链模拟失败", "error", err)
			}
		}
	}
}
