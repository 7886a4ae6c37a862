package fsm

import (
	"fmt"

	"assembly-line-sim/internal/types"
)

// State 在制品的质检生命周期状态，与 types.QualityStatus 一一对应
type State = types.QualityStatus

// Event 定义事件类型
type Event string

const (
	EventPass            Event = "PASS"             // 质检合格
	EventConditionalPass Event = "CONDITIONAL_PASS" // 关键工站条件合格
	EventFail            Event = "FAIL"             // 质检不合格
	EventRework          Event = "REWORK"           // 原工站返工，重新待检
	EventScrap           Event = "SCRAP"            // 超出返工上限，报废
	EventAdvance         Event = "ADVANCE"          // 被下游工站取走，进入新工序待检
)

// transitions 状态转移表: CurrentState -> Event -> NextState
// 所有在制品共享同一张表，构造后只读
var transitions = map[State]map[Event]State{
	types.QualityPending: {
		EventPass:            types.QualityPass,
		EventConditionalPass: types.QualityConditionalPass,
		EventFail:            types.QualityFail,
	},
	types.QualityFail: {
		EventRework: types.QualityPending,
		EventScrap:  types.QualityScrap,
	},
	types.QualityPass: {
		EventAdvance: types.QualityPending,
	},
	types.QualityConditionalPass: {
		EventAdvance: types.QualityPending,
	},
}

// FSM 单个在制品的有限状态机
// 非法转移说明调用方违反了产线不变量，由调用方当作致命错误处理
type FSM struct {
	Current  State
	TargetID string // 关联的在制品 ID
}

// NewFSM 创建处于 pending 状态的状态机
func NewFSM(targetID string) *FSM {
	return &FSM{Current: types.QualityPending, TargetID: targetID}
}

// can 判断当前状态下事件是否合法
func (f *FSM) can(event Event) bool {
	_, ok := transitions[f.Current][event]
	return ok
}

// Fire 触发事件并返回新状态
func (f *FSM) Fire(event Event) (State, error) {
	if !f.can(event) {
		return f.Current, fmt.Errorf("invalid transition: cannot fire event %s from state %s (wip %s)", event, f.Current, f.TargetID)
	}
	f.Current = transitions[f.Current][event]
	return f.Current, nil
}

// InspectionEvent 把质检结果映射为事件
func InspectionEvent(q types.QualityStatus) (Event, error) {
	switch q {
	case types.QualityPass:
		return EventPass, nil
	case types.QualityConditionalPass:
		return EventConditionalPass, nil
	case types.QualityFail:
		return EventFail, nil
	}
	return "", fmt.Errorf("%s is not an inspection outcome", q)
}
