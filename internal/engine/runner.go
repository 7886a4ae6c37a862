package engine

import (
	"context"
	"log/slog"
	"time"
)

// Runner 驱动产线时钟
// 按固定间隔推进 tick，可选的最大 tick 数；取消信号只在 tick 之间检查
type Runner struct {
	line     *Line
	interval time.Duration // 0 表示不限速，尽快推进
	maxTicks int64         // 0 表示不限
	logger   *slog.Logger
}

// NewRunner 创建一个新的 Runner 实例
func NewRunner(line *Line, interval time.Duration, maxTicks int64, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		line:     line,
		interval: interval,
		maxTicks: maxTicks,
		logger:   logger.With("component", "runner"),
	}
}

// Run 阻塞运行直到 ctx 取消、达到最大 tick 数或产线因不变量被破坏而停止
// 正常停止返回 nil
func (r *Runner) Run(ctx context.Context) error {
	var pace <-chan time.Time
	if r.interval > 0 {
		ticker := time.NewTicker(r.interval)
		defer ticker.Stop()
		pace = ticker.C
	}

	r.logger.Info("仿真时钟启动", "interval", r.interval, "max_ticks", r.maxTicks)
	for {
		if ctx.Err() != nil {
			r.logger.Info("收到停止信号，仿真时钟停止", "tick", r.line.CurrentTick())
			return nil
		}
		if r.maxTicks > 0 && r.line.CurrentTick() >= r.maxTicks {
			r.logger.Info("达到最大 tick 数", "tick", r.line.CurrentTick())
			return nil
		}
		if err := r.line.Tick(); err != nil {
			return err
		}
		if pace == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-pace:
		}
	}
}
