package mesh

import (
	"fmt"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gamr/celltype"
	"github.com/notargets/gamr/embedding"
)

// Refine splits an active element into its catalog-defined children.
// Child coordinates are the embedding matrices applied to the parent
// coordinates; embedding-derived nodes are shared with earlier refinements
// through the dedup maps. The parent is deactivated but retained for later
// coarsening and constraint bookkeeping. Children inherit the parent's
// partition id; rebalancing is external.
func (m *Mesh) Refine(id ElemID) error {
	e, err := m.checkMutable(id)
	if err != nil {
		return err
	}
	if !e.Active() {
		return fmt.Errorf("refine: element %d is not active", id)
	}
	if e.Level >= m.cfg.MaxLevel {
		return fmt.Errorf("%w: element %d at level %d, max %d",
			ErrRefinementDepthExceeded, id, e.Level, m.cfg.MaxLevel)
	}
	info, err := celltype.Lookup(e.Type)
	if err != nil {
		return err
	}

	// Copy what we need before touching the arena; allocation may move it.
	ctype := e.Type
	level := e.Level
	partition := e.Partition
	parentNodes := make([]NodeID, len(e.Nodes))
	copy(parentNodes, e.Nodes)
	parentBIDs := make([]int, len(e.BoundaryIDs))
	copy(parentBIDs, e.BoundaryIDs)

	coords := mat.NewDense(info.NumNodes, 3, nil)
	for i, nid := range parentNodes {
		n := m.nodes[nid]
		coords.Set(i, 0, n.X)
		coords.Set(i, 1, n.Y)
		coords.Set(i, 2, n.Z)
	}

	children := make([]ElemID, info.NumChildren)
	for c := range children {
		em, err := embedding.Matrix(ctype, c)
		if err != nil {
			return err
		}
		var childCoords mat.Dense
		childCoords.Mul(em, coords)

		conn := make([]NodeID, info.NumNodes)
		for j := range conn {
			support, err := embedding.NodeSupport(ctype, c, j)
			if err != nil {
				return err
			}
			if len(support) == 1 {
				conn[j] = parentNodes[support[0]]
			} else {
				defining := make([]NodeID, len(support))
				for k, v := range support {
					defining[k] = parentNodes[v]
				}
				nid, ok := m.lookupDerived(defining)
				if !ok {
					nid = m.addDerivedNode(
						childCoords.At(j, 0), childCoords.At(j, 1), childCoords.At(j, 2),
						defining)
				}
				conn[j] = nid
			}
			m.retainNode(conn[j])
		}

		bids := make([]int, len(info.SideNodes))
		for i := range bids {
			bids[i] = -1
		}
		children[c] = m.allocElement(Element{
			Type:        ctype,
			Nodes:       conn,
			Parent:      id,
			Level:       level + 1,
			Partition:   partition,
			BoundaryIDs: bids,
		})
	}

	// Boundary tags follow the side-children tables so traction and other
	// side operations stay attached to the covering child sides.
	for s, bid := range parentBIDs {
		if bid < 0 {
			continue
		}
		pairs, err := embedding.SideChildren(ctype, s)
		if err != nil {
			return err
		}
		for _, cs := range pairs {
			m.elems[children[cs.Child]].BoundaryIDs[cs.Side] = bid
		}
	}

	m.elems[id].Children = children
	m.sideIndexDirty = true
	m.log.Debug("refined element",
		zap.Int32("elem", int32(id)),
		zap.Stringer("type", ctype),
		zap.Int("level", level),
		zap.Int("children", len(children)))
	return nil
}

// Coarsen removes an element's children, legal only when every child is
// itself an active leaf. Embedding-derived nodes no longer referenced by
// any element are released. The caller is the external coarsening
// criterion; the mesh only checks legality.
func (m *Mesh) Coarsen(id ElemID) error {
	e, err := m.checkMutable(id)
	if err != nil {
		return err
	}
	if e.Active() {
		return fmt.Errorf("%w: element %d has no children", ErrIllegalCoarsen, id)
	}
	for _, cid := range e.Children {
		if !m.Alive(cid) || !m.elems[cid].Active() {
			return fmt.Errorf("%w: child %d of element %d is not an active leaf",
				ErrIllegalCoarsen, cid, id)
		}
	}

	children := e.Children
	for _, cid := range children {
		for _, nid := range m.elems[cid].Nodes {
			m.releaseNode(nid)
		}
		m.freeElement(cid)
	}
	m.elems[id].Children = nil
	m.sideIndexDirty = true
	m.log.Debug("coarsened element",
		zap.Int32("elem", int32(id)),
		zap.Int("released", len(children)))
	return nil
}

// TransferField projects a nodal field through a just-refined element:
// for each child, the embedding matrix applied to the parent's values
// fills the child node entries. The field slice is indexed by NodeID and
// must cover the node arena.
func (m *Mesh) TransferField(id ElemID, field []float64) error {
	e, err := m.Elem(id)
	if err != nil {
		return err
	}
	if e.Active() {
		return fmt.Errorf("transfer: element %d has no children", id)
	}
	if len(field) < len(m.nodes) {
		return fmt.Errorf("transfer: field length %d < node count %d", len(field), len(m.nodes))
	}
	parentVals := make([]float64, len(e.Nodes))
	for i, nid := range e.Nodes {
		parentVals[i] = field[nid]
	}
	for c, cid := range e.Children {
		vals, err := embedding.Transfer(e.Type, c, parentVals)
		if err != nil {
			return err
		}
		for j, nid := range m.elems[cid].Nodes {
			field[nid] = vals[j]
		}
	}
	return nil
}

// checkMutable validates that id is a live element whose partition is not
// locked by an in-progress pass.
func (m *Mesh) checkMutable(id ElemID) (*Element, error) {
	e, err := m.Elem(id)
	if err != nil {
		return nil, err
	}
	if m.locked[e.Partition] {
		return nil, fmt.Errorf("%w: element %d, partition %d", ErrElementLocked, id, e.Partition)
	}
	return e, nil
}
