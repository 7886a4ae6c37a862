package graph

import (
	"errors"
	"fmt"

	"assembly-line-sim/internal/types"
)

var (
	// ErrCycle 依赖图中存在环
	ErrCycle = errors.New("station dependency cycle")
	// ErrUnknownStation 引用了未定义的工站
	ErrUnknownStation = errors.New("unknown station")
	// ErrInvalidStation 工站参数不合法 (缓冲区容量、节拍、概率等)
	ErrInvalidStation = errors.New("invalid station definition")
)

// Graph 工站依赖图，构造后只读
// 运行期只查询直接前驱/后继，CanReach 仅用于构造时校验
type Graph struct {
	specs     map[types.StationID]*types.StationSpec
	declared  []types.StationID
	order     []types.StationID
	entries   []types.StationID
	terminals []types.StationID
}

// New 校验工站定义并构建依赖图
// 任何配置错误都在这里返回，保证引擎不会带着错误配置启动
func New(specs []types.StationSpec) (*Graph, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no stations defined", ErrInvalidStation)
	}

	g := &Graph{specs: make(map[types.StationID]*types.StationSpec, len(specs))}
	for i := range specs {
		s := specs[i]
		if s.ID == "" {
			return nil, fmt.Errorf("%w: station #%d has empty id", ErrInvalidStation, i)
		}
		if _, dup := g.specs[s.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate station %s", ErrInvalidStation, s.ID)
		}
		if err := validateSpec(&s); err != nil {
			return nil, err
		}
		s.Prerequisites = append([]types.StationID(nil), s.Prerequisites...)
		s.Successors = append([]types.StationID(nil), s.Successors...)
		g.specs[s.ID] = &s
		g.declared = append(g.declared, s.ID)
	}

	if err := g.checkEdges(); err != nil {
		return nil, err
	}
	if err := g.checkAcyclic(); err != nil {
		return nil, err
	}
	order, err := g.topoOrder()
	if err != nil {
		return nil, err
	}
	g.order = order

	for _, id := range g.order {
		spec := g.specs[id]
		if spec.Entry() {
			g.entries = append(g.entries, id)
		}
		if spec.Terminal() {
			g.terminals = append(g.terminals, id)
		}
	}
	if len(g.entries) == 0 {
		return nil, fmt.Errorf("%w: no entry station (every station has prerequisites)", ErrInvalidStation)
	}
	return g, nil
}

func validateSpec(s *types.StationSpec) error {
	switch {
	case s.BufferCapacity <= 0:
		return fmt.Errorf("%w: %s buffer capacity %d must be positive", ErrInvalidStation, s.ID, s.BufferCapacity)
	case s.MinCycleTicks <= 0 || s.MaxCycleTicks < s.MinCycleTicks:
		return fmt.Errorf("%w: %s cycle bounds [%v, %v]", ErrInvalidStation, s.ID, s.MinCycleTicks, s.MaxCycleTicks)
	case s.PassRate < 0 || s.PassRate > 1:
		return fmt.Errorf("%w: %s pass rate %v outside [0,1]", ErrInvalidStation, s.ID, s.PassRate)
	case s.FailureProbability < 0 || s.FailureProbability > 1:
		return fmt.Errorf("%w: %s failure probability %v outside [0,1]", ErrInvalidStation, s.ID, s.FailureProbability)
	}
	if dup, ok := firstDuplicate(s.Prerequisites); ok {
		return fmt.Errorf("%w: %s lists prerequisite %s more than once", ErrInvalidStation, s.ID, dup)
	}
	if dup, ok := firstDuplicate(s.Successors); ok {
		return fmt.Errorf("%w: %s lists successor %s more than once", ErrInvalidStation, s.ID, dup)
	}
	return nil
}

func firstDuplicate(ids []types.StationID) (types.StationID, bool) {
	seen := make(map[types.StationID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			return id, true
		}
		seen[id] = true
	}
	return "", false
}

// checkEdges 检查前驱/后继引用都存在且双向一致
func (g *Graph) checkEdges() error {
	for _, id := range g.declared {
		spec := g.specs[id]
		for _, succ := range spec.Successors {
			target, ok := g.specs[succ]
			if !ok {
				return fmt.Errorf("%w: %s references successor %s", ErrUnknownStation, id, succ)
			}
			if succ == id {
				return fmt.Errorf("%w: %s lists itself as successor", ErrCycle, id)
			}
			if !contains(target.Prerequisites, id) {
				return fmt.Errorf("%w: %s lists successor %s, but %s does not list it as prerequisite", ErrInvalidStation, id, succ, succ)
			}
		}
		for _, pre := range spec.Prerequisites {
			source, ok := g.specs[pre]
			if !ok {
				return fmt.Errorf("%w: %s references prerequisite %s", ErrUnknownStation, id, pre)
			}
			if !contains(source.Successors, id) {
				return fmt.Errorf("%w: %s lists prerequisite %s, but %s does not list it as successor", ErrInvalidStation, id, pre, pre)
			}
		}
	}
	return nil
}

// checkAcyclic 对每条边 a->b，若 b 能到达 a 则存在环
func (g *Graph) checkAcyclic() error {
	for _, a := range g.declared {
		for _, b := range g.specs[a].Successors {
			if g.CanReach(b, a) {
				return fmt.Errorf("%w: %s -> %s closes a loop", ErrCycle, a, b)
			}
		}
	}
	return nil
}

// CanReach 判断 a 是否为 b 的 (直接或间接) 前置工站
func (g *Graph) CanReach(a, b types.StationID) bool {
	if _, ok := g.specs[a]; !ok {
		return false
	}
	visited := make(map[types.StationID]bool)
	stack := append([]types.StationID(nil), g.specs[a].Successors...)
	for len(stack) > 0 {
		n := len(stack) - 1
		cur := stack[n]
		stack = stack[:n]
		if cur == b {
			return true
		}
		if visited[cur] {
			continue
		}
		visited[cur] = true
		if spec, ok := g.specs[cur]; ok {
			stack = append(stack, spec.Successors...)
		}
	}
	return false
}

// topoOrder Kahn 算法，同层按声明顺序，保证结果稳定
// 未能排入所有工站时返回错误，不允许静默丢弃工站
func (g *Graph) topoOrder() ([]types.StationID, error) {
	indegree := make(map[types.StationID]int, len(g.specs))
	for _, id := range g.declared {
		indegree[id] = len(g.specs[id].Prerequisites)
	}
	order := make([]types.StationID, 0, len(g.declared))
	done := make(map[types.StationID]bool, len(g.declared))
	for len(order) < len(g.declared) {
		progressed := false
		for _, id := range g.declared {
			if done[id] || indegree[id] > 0 {
				continue
			}
			done[id] = true
			order = append(order, id)
			for _, succ := range g.specs[id].Successors {
				indegree[succ]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	if len(order) != len(g.declared) {
		var missing []types.StationID
		for _, id := range g.declared {
			if !done[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("%w: stations %v cannot be ordered", ErrInvalidStation, missing)
	}
	return order, nil
}

// Spec 返回工站配置
func (g *Graph) Spec(id types.StationID) (*types.StationSpec, bool) {
	s, ok := g.specs[id]
	return s, ok
}

// Order 拓扑顺序 (前驱在前)
func (g *Graph) Order() []types.StationID {
	return append([]types.StationID(nil), g.order...)
}

// Entries 入口工站
func (g *Graph) Entries() []types.StationID {
	return append([]types.StationID(nil), g.entries...)
}

// Terminals 终检工站
func (g *Graph) Terminals() []types.StationID {
	return append([]types.StationID(nil), g.terminals...)
}

// Len 工站数量
func (g *Graph) Len() int { return len(g.specs) }

func contains(ids []types.StationID, id types.StationID) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
