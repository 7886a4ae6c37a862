package wip

import (
	"fmt"
	"sort"

	"assembly-line-sim/internal/fsm"
	"assembly-line-sim/internal/types"
)

type entry struct {
	unit    *types.WorkInProgress
	machine *fsm.FSM
}

// Counts 在制品生命周期计数
// 守恒关系: Created == Completed + Scrapped + InFlight，Completed 包含合流并入的 Merged
type Counts struct {
	Created   int `json:"created"`
	Completed int `json:"completed"`
	Merged    int `json:"merged"`
	Scrapped  int `json:"scrapped"`
	Reworks   int `json:"reworks"`
	InFlight  int `json:"in_flight"`
}

// Registry 在制品登记簿，记录每个工件从创建到完工/报废的全过程
// 由产线聚合器独占，只在 commit 阶段修改
type Registry struct {
	units  map[string]*entry
	seq    int64
	counts Counts
}

// NewRegistry 创建空的登记簿
func NewRegistry() *Registry {
	return &Registry{units: make(map[string]*entry)}
}

// Create 为进入入口工站的车辆创建在制品
func (r *Registry) Create(v types.Vehicle, station types.StationID, order types.WorkOrder, tick int64) *types.WorkInProgress {
	r.seq++
	id := fmt.Sprintf("WIP_%06d", r.seq)
	w := &types.WorkInProgress{
		ID:          id,
		Vehicle:     v,
		StationID:   station,
		Order:       order,
		Quality:     types.QualityPending,
		CreatedTick: tick,
	}
	r.units[id] = &entry{unit: w, machine: fsm.NewFSM(id)}
	r.counts.Created++
	return w
}

// Get 查找在制品
func (r *Registry) Get(id string) (*types.WorkInProgress, bool) {
	e, ok := r.units[id]
	if !ok {
		return nil, false
	}
	return e.unit, true
}

// Len 当前在制品数量
func (r *Registry) Len() int { return len(r.units) }

// Counts 返回计数快照
func (r *Registry) Counts() Counts {
	c := r.counts
	c.InFlight = len(r.units)
	return c
}

// Inspect 记录质检结果 (pass / conditional_pass / fail)
func (r *Registry) Inspect(w *types.WorkInProgress, q types.QualityStatus) error {
	ev, err := fsm.InspectionEvent(q)
	if err != nil {
		return err
	}
	if err := r.fire(w, ev); err != nil {
		return err
	}
	if q == types.QualityConditionalPass {
		w.Flagged = true
	}
	return nil
}

// Rework 不合格工件在原工站返工，返工次数不得超过 MaxRework
func (r *Registry) Rework(w *types.WorkInProgress) error {
	if w.ReworkCount >= types.MaxRework {
		return fmt.Errorf("wip %s: rework %d would exceed limit %d", w.ID, w.ReworkCount+1, types.MaxRework)
	}
	if err := r.fire(w, fsm.EventRework); err != nil {
		return err
	}
	w.ReworkCount++
	w.Order = types.OrderRework
	r.counts.Reworks++
	return nil
}

// Scrap 报废并从登记簿移除
func (r *Registry) Scrap(w *types.WorkInProgress) error {
	if err := r.fire(w, fsm.EventScrap); err != nil {
		return err
	}
	delete(r.units, w.ID)
	r.counts.Scrapped++
	return nil
}

// Advance 工件被下游工站取走，进入新工序
func (r *Registry) Advance(w *types.WorkInProgress, station types.StationID) error {
	if err := r.fire(w, fsm.EventAdvance); err != nil {
		return err
	}
	w.StationID = station
	return nil
}

// Complete 终检合格下线，从登记簿移除
func (r *Registry) Complete(w *types.WorkInProgress) error {
	e, err := r.lookup(w)
	if err != nil {
		return err
	}
	if !e.machine.Current.Eligible() {
		return fmt.Errorf("wip %s: cannot complete in state %s", w.ID, e.machine.Current)
	}
	delete(r.units, w.ID)
	r.counts.Completed++
	return nil
}

// Merge 合流工站把 child 装配进 parent，child 视为完成并移出登记簿
func (r *Registry) Merge(child, parent *types.WorkInProgress) error {
	e, err := r.lookup(child)
	if err != nil {
		return err
	}
	if _, err := r.lookup(parent); err != nil {
		return err
	}
	if !e.machine.Current.Eligible() {
		return fmt.Errorf("wip %s: cannot merge in state %s", child.ID, e.machine.Current)
	}
	parent.Components = append(parent.Components, child.ID)
	delete(r.units, child.ID)
	r.counts.Completed++
	r.counts.Merged++
	return nil
}

// CheckConservation 校验守恒关系
func (r *Registry) CheckConservation() error {
	c := r.Counts()
	if c.Created != c.Completed+c.Scrapped+c.InFlight {
		return fmt.Errorf("wip conservation broken: created=%d completed=%d scrapped=%d in_flight=%d",
			c.Created, c.Completed, c.Scrapped, c.InFlight)
	}
	return nil
}

// IDs 按 ID 排序返回所有在制品
func (r *Registry) IDs() []string {
	ids := make([]string, 0, len(r.units))
	for id := range r.units {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (r *Registry) lookup(w *types.WorkInProgress) (*entry, error) {
	if w == nil {
		return nil, fmt.Errorf("nil wip")
	}
	e, ok := r.units[w.ID]
	if !ok || e.unit != w {
		return nil, fmt.Errorf("wip %s is not registered", w.ID)
	}
	return e, nil
}

func (r *Registry) fire(w *types.WorkInProgress, ev fsm.Event) error {
	e, err := r.lookup(w)
	if err != nil {
		return err
	}
	next, err := e.machine.Fire(ev)
	if err != nil {
		return err
	}
	w.Quality = next
	return nil
}
