package engine

import (
	"fmt"

	"assembly-line-sim/internal/types"
)

// checkInvariants 每次提交后校验，任何一条不成立都说明评估/提交的阶段隔离被破坏
func (l *Line) checkInvariants() error {
	locations := make(map[string]int, l.registry.Len())

	for _, rt := range l.order {
		st := &rt.state
		switch {
		case st.Status == types.StatusWorking && st.WIP == nil:
			return fmt.Errorf("%w: station %s is working without a unit", ErrInvariant, rt.id())
		case (st.Status == types.StatusIdle || st.Status == types.StatusWaitingParts) && st.WIP != nil:
			return fmt.Errorf("%w: station %s is %s while holding %s", ErrInvariant, rt.id(), st.Status, st.WIP.ID)
		case st.Status == types.StatusBlocked && st.WIP != nil && !st.Delivering:
			return fmt.Errorf("%w: station %s is blocked holding %s", ErrInvariant, rt.id(), st.WIP.ID)
		}
		if st.WIP != nil {
			locations[st.WIP.ID]++
			if err := checkUnit(st.WIP); err != nil {
				return err
			}
		}

		if rt.buffer == nil {
			continue
		}
		if rt.buffer.Len() > rt.buffer.Cap() {
			return fmt.Errorf("%w: buffer %s holds %d over capacity %d", ErrInvariant, rt.id(), rt.buffer.Len(), rt.buffer.Cap())
		}
		for _, w := range rt.buffer.Units() {
			locations[w.ID]++
			if !w.Quality.Eligible() {
				return fmt.Errorf("%w: buffer %s holds unresolved unit %s (%s)", ErrInvariant, rt.id(), w.ID, w.Quality)
			}
			if err := checkUnit(w); err != nil {
				return err
			}
		}
	}

	for id, n := range locations {
		if n != 1 {
			return fmt.Errorf("%w: unit %s held in %d places", ErrInvariant, id, n)
		}
		if _, ok := l.registry.Get(id); !ok {
			return fmt.Errorf("%w: unit %s is on the line but not registered", ErrInvariant, id)
		}
	}
	if len(locations) != l.registry.Len() {
		var lost []string
		for _, id := range l.registry.IDs() {
			if locations[id] == 0 {
				lost = append(lost, id)
			}
		}
		return fmt.Errorf("%w: %d units registered, %d on the line, missing %v", ErrInvariant, l.registry.Len(), len(locations), lost)
	}
	if err := l.registry.CheckConservation(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvariant, err)
	}
	return nil
}

func checkUnit(w *types.WorkInProgress) error {
	if w.ReworkCount < 0 || w.ReworkCount > types.MaxRework {
		return fmt.Errorf("%w: unit %s rework count %d", ErrInvariant, w.ID, w.ReworkCount)
	}
	return nil
}
