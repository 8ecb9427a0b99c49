package mesh

import (
	"fmt"

	"github.com/notargets/gamr/celltype"
	"github.com/notargets/gamr/embedding"
)

type elemSide struct {
	elem ElemID
	side int
}

// sideKeyOf builds the canonical corner key for side s of an element.
func (m *Mesh) sideKeyOf(id ElemID, side int) (faceKey, error) {
	e := &m.elems[id]
	local, err := celltype.SideNodes(e.Type, side)
	if err != nil {
		return faceKey{}, err
	}
	ids := make([]NodeID, len(local))
	for i, li := range local {
		ids[i] = e.Nodes[li]
	}
	return makeFaceKey(ids), nil
}

// activeSideIndex maps canonical side keys to the active elements exposing
// them. Rebuilt lazily after mutations.
func (m *Mesh) activeSideIndex() map[faceKey][]elemSide {
	if !m.sideIndexDirty && m.sideIndex != nil {
		return m.sideIndex
	}
	idx := make(map[faceKey][]elemSide)
	for i := range m.elems {
		if !m.elemAlive[i] || !m.elems[i].Active() {
			continue
		}
		id := ElemID(i)
		nsides := len(m.elems[i].BoundaryIDs)
		for s := 0; s < nsides; s++ {
			key, err := m.sideKeyOf(id, s)
			if err != nil {
				continue // 1D vertex sides carry no side cells
			}
			idx[key] = append(idx[key], elemSide{elem: id, side: s})
		}
	}
	m.sideIndex = idx
	m.sideIndexDirty = false
	return idx
}

// NeighborAcross returns the active element sharing side s of element id,
// ascending the refinement tree when the neighbor is less refined: if no
// active element exposes the exact side, the query retries on the parent
// side that covers it. Returns InvalidElem for true boundaries and for
// sides whose neighbors are more refined than id. A match on a partition
// that is neither local nor ghosted fails with ErrInconsistentPartition.
func (m *Mesh) NeighborAcross(id ElemID, side int) (ElemID, error) {
	if _, err := m.Elem(id); err != nil {
		return InvalidElem, err
	}
	idx := m.activeSideIndex()

	cur, curSide := id, side
	for {
		key, err := m.sideKeyOf(cur, curSide)
		if err != nil {
			return InvalidElem, err
		}
		for _, es := range idx[key] {
			if es.elem == cur || es.elem == id {
				continue
			}
			p := m.elems[es.elem].Partition
			if !m.visible(p) {
				return InvalidElem, fmt.Errorf("%w: element %d on partition %d",
					ErrInconsistentPartition, es.elem, p)
			}
			return es.elem, nil
		}
		parent := m.elems[cur].Parent
		if parent == InvalidElem {
			return InvalidElem, nil
		}
		ps, ok := m.parentSideOf(parent, cur, curSide)
		if !ok {
			return InvalidElem, nil // side is interior to the parent
		}
		cur, curSide = parent, ps
	}
}

// parentSideOf finds the parent side covered by (child, childSide), using
// the embedding side-children tables.
func (m *Mesh) parentSideOf(parent, child ElemID, childSide int) (int, bool) {
	p := &m.elems[parent]
	ci := -1
	for i, cid := range p.Children {
		if cid == child {
			ci = i
			break
		}
	}
	if ci < 0 {
		return 0, false
	}
	nsides := len(p.BoundaryIDs)
	for s := 0; s < nsides; s++ {
		pairs, err := embedding.SideChildren(p.Type, s)
		if err != nil {
			return 0, false
		}
		for _, cs := range pairs {
			if cs.Child == ci && cs.Side == childSide {
				return s, true
			}
		}
	}
	return 0, false
}
