package event

import (
	"sync"

	"assembly-line-sim/internal/types"
)

// EventType 定义事件的类型
type EventType string

// 定义所有产线事件类型
const (
	TickCompleted     EventType = "TickCompleted"     // 一个 tick 提交完毕，附带统计快照
	StationTransition EventType = "StationTransition" // 工站状态变化
	QualityInspected  EventType = "QualityInspected"  // 工站完成质检
	UnitCompleted     EventType = "UnitCompleted"     // 整车终检下线
	UnitReworked      EventType = "UnitReworked"      // 工件在原工站返工
	UnitScrapped      EventType = "UnitScrapped"      // 工件超出返工上限被报废
	DisruptionApplied EventType = "DisruptionApplied" // 外部注入的扰动生效
	PartsChanged      EventType = "PartsChanged"      // 工站零部件可用状态变化
	InvariantViolated EventType = "InvariantViolated" // 不变量被破坏，产线停止
)

// Event 结构体定义了事件的数据负载
// WIP 和 Stats 都是副本，处理器可以随意读取
type Event struct {
	Type           EventType
	Tick           int64
	StationID      types.StationID
	From           types.StationStatus
	To             types.StationStatus
	Outcome        string
	WIP            *types.WorkInProgress
	Quality        types.QualityStatus
	Score          float64
	Disruption     types.DisruptionKind
	Duration       int64
	PartsAvailable bool
	Stats          *types.LineStatistics
	Error          error
}

// Handler 是事件处理函数的签名
type Handler func(e Event)

// Bus 是一个简单的内存事件总线
type Bus struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
	inflight sync.WaitGroup
}

// NewBus 创建一个新的事件总线实例
func NewBus() *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
	}
}

// Subscribe 订阅一个特定类型的事件
func (b *Bus) Subscribe(eventType EventType, handler Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)
}

// Publish 发布一个事件，所有订阅了该事件类型的处理器都将被异步调用
// 处理器再慢也不会拖住仿真时钟
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, handler := range b.handlers[e.Type] {
		b.inflight.Add(1)
		go func(h Handler) {
			defer b.inflight.Done()
			h(e)
		}(handler)
	}
}

// Wait 等待所有已发布事件的处理器执行完毕，用于停机前刷新
func (b *Bus) Wait() {
	b.inflight.Wait()
}
