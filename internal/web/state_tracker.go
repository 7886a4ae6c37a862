package web

import (
	"sync"

	"assembly-line-sim/internal/types"
)

// maxRecent 保留的最近事件条数
const maxRecent = 50

// EventView 用于 UI 展示的事件摘要
type EventView struct {
	Tick      int64           `json:"tick"`
	StationID types.StationID `json:"station_id,omitempty"`
	Kind      string          `json:"kind"`
	Detail    string          `json:"detail,omitempty"`
}

// GlobalState 代表整条产线的实时状态快照
type GlobalState struct {
	Line   types.LineStatistics `json:"line"`
	Recent []EventView          `json:"recent"`
}

// StateTracker 负责追踪产线的最新状态，并通知前端更新
type StateTracker struct {
	mu    sync.RWMutex
	state GlobalState
	hub   *Hub
}

// NewStateTracker 创建一个新的 StateTracker 实例
func NewStateTracker(hub *Hub) *StateTracker {
	return &StateTracker{hub: hub}
}

// UpdateLine 用新的 tick 快照替换当前状态并广播
// 事件处理器是异步的，较旧的快照可能晚到，直接丢弃
func (st *StateTracker) UpdateLine(stats types.LineStatistics) {
	st.mu.Lock()
	if stats.Tick < st.state.Line.Tick {
		st.mu.Unlock()
		return
	}
	st.state.Line = stats.Clone()
	snapshot := st.snapshotLocked()
	st.mu.Unlock()

	if st.hub != nil {
		st.hub.BroadcastState(snapshot)
	}
}

// RecordEvent 记录一条事件摘要，只保留最近 maxRecent 条
func (st *StateTracker) RecordEvent(ev EventView) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.Recent = append(st.state.Recent, ev)
	if n := len(st.state.Recent); n > maxRecent {
		st.state.Recent = append([]EventView(nil), st.state.Recent[n-maxRecent:]...)
	}
}

// GetStateSnapshot 返回当前全局状态的一个深拷贝副本
// 用于新客户端连接时获取一次全量数据
func (st *StateTracker) GetStateSnapshot() GlobalState {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.snapshotLocked()
}

func (st *StateTracker) snapshotLocked() GlobalState {
	return GlobalState{
		Line:   st.state.Line.Clone(),
		Recent: append([]EventView(nil), st.state.Recent...),
	}
}
