package buffer

import (
	"fmt"

	"assembly-line-sim/internal/types"
)

// Buffer 工站出口处的有界 FIFO 缓冲区
// 由产线聚合器独占，单写 (所属工站) 单读 (后续工站)，不做并发保护
// 背压只通过 TryPush 返回 false 表达，不阻塞也不 panic
type Buffer struct {
	capacity int
	items    []*types.WorkInProgress
}

// New 创建缓冲区，容量必须为正
func New(owner types.StationID, capacity int) (*Buffer, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("buffer %s: capacity %d must be positive", owner, capacity)
	}
	return &Buffer{
		capacity: capacity,
		items:    make([]*types.WorkInProgress, 0, capacity),
	}, nil
}

// TryPush 放入一个已完成的工件，满时返回 false
// 返回 false 时调用方保留工件所有权，下个 tick 重试
func (b *Buffer) TryPush(w *types.WorkInProgress) bool {
	if w == nil || len(b.items) >= b.capacity {
		return false
	}
	b.items = append(b.items, w)
	return true
}

// TryPop 取出最早放入的工件
// 缓冲区为空或队首尚未质检放行时返回 false
func (b *Buffer) TryPop() (*types.WorkInProgress, bool) {
	w := b.Peek()
	if w == nil || !w.Quality.Eligible() {
		return nil, false
	}
	b.items[0] = nil // 避免内存泄漏
	b.items = b.items[1:]
	return w, true
}

// HeadEligible 队首工件是否可被下游取走
func (b *Buffer) HeadEligible() bool {
	w := b.Peek()
	return w != nil && w.Quality.Eligible()
}

// Peek 查看队首工件但不取出
func (b *Buffer) Peek() *types.WorkInProgress {
	if len(b.items) == 0 {
		return nil
	}
	return b.items[0]
}

func (b *Buffer) Len() int   { return len(b.items) }
func (b *Buffer) Cap() int   { return b.capacity }
func (b *Buffer) Full() bool { return len(b.items) >= b.capacity }

// Units 按 FIFO 顺序返回缓冲区内的工件引用 (只读用途)
func (b *Buffer) Units() []*types.WorkInProgress {
	return append([]*types.WorkInProgress(nil), b.items...)
}
