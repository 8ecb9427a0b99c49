// Package dof assigns globally consistent indices to the unknowns of the
// active element set. Free unknowns get contiguous per-partition blocks
// ordered by rank; constrained unknowns resolve to coefficient-weighted
// master contributions so callers address every dof uniformly. Numbering
// is always a full recompute and never changes between recomputes.
package dof

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/notargets/gamr/constraint"
	"github.com/notargets/gamr/mesh"
)

// VarLayout declares how many scalar unknowns live on each node and on
// each active element.
type VarLayout struct {
	NodeVars int
	ElemVars int
}

// Contribution is one (dof index, coefficient) term of a resolved unknown.
type Contribution struct {
	Index int
	Coeff float64
}

// Numbering is one immutable dof assignment.
type Numbering struct {
	layout VarLayout
	tbl    *constraint.Table

	ranks   []int // sorted partition ids
	offsets []int // len(ranks)+1; block bounds per partition
	numFree int

	nodeDof []int               // first index per node, -1 unassigned/constrained
	elemDof map[mesh.ElemID]int // first index per active element
	rowOf   map[mesh.NodeID]*constraint.Row
}

// Indexer computes numberings over a mesh.
type Indexer struct {
	Mesh *mesh.Mesh
	Log  *zap.Logger
}

// NewIndexer returns an Indexer over m.
func NewIndexer(m *mesh.Mesh) *Indexer {
	return &Indexer{Mesh: m, Log: zap.NewNop()}
}

// Build computes a numbering for the current active/constraint state.
// The mesh's partitions are locked for the duration of the pass: any
// refine or coarsen attempted meanwhile fails with ErrElementLocked.
// tbl may be nil when no constraints exist.
func (ix *Indexer) Build(layout VarLayout, tbl *constraint.Table) (*Numbering, error) {
	if layout.NodeVars < 0 || layout.ElemVars < 0 {
		return nil, fmt.Errorf("invalid variable layout %+v", layout)
	}
	m := ix.Mesh

	parts := m.Partitions()
	locked := make([]int, 0, len(parts))
	defer func() {
		for _, p := range locked {
			m.EndPass(p)
		}
	}()
	for _, p := range parts {
		if err := m.BeginPass(p); err != nil {
			return nil, err
		}
		locked = append(locked, p)
	}

	active := m.ActiveElements()

	// Node ownership: lowest partition id among active elements sharing
	// the node. Deterministic, and matches the block the node's dofs land
	// in.
	owner := make(map[mesh.NodeID]int)
	for _, id := range active {
		e, err := m.Elem(id)
		if err != nil {
			return nil, err
		}
		for _, nid := range e.Nodes {
			if cur, ok := owner[nid]; !ok || e.Partition < cur {
				owner[nid] = e.Partition
			}
		}
	}

	num := &Numbering{
		layout:  layout,
		tbl:     tbl,
		ranks:   parts,
		nodeDof: make([]int, m.NumNodes()),
		elemDof: make(map[mesh.ElemID]int, len(active)),
		rowOf:   make(map[mesh.NodeID]*constraint.Row),
	}
	for i := range num.nodeDof {
		num.nodeDof[i] = -1
	}
	if tbl != nil {
		for _, t := range tbl.Targets() {
			r, _ := tbl.Row(t)
			num.rowOf[t] = r
		}
	}

	// Per-partition blocks in rank order; inside a block, active elements
	// in arena order and nodes in element order. Arena order is the
	// caller-visible local enumeration, so reruns on an unchanged state
	// reproduce the numbering exactly.
	next := 0
	num.offsets = make([]int, len(parts)+1)
	for pi, p := range parts {
		num.offsets[pi] = next
		for _, id := range active {
			e, err := m.Elem(id)
			if err != nil {
				return nil, err
			}
			if e.Partition != p {
				continue
			}
			for _, nid := range e.Nodes {
				if owner[nid] != p || num.nodeDof[nid] != -1 {
					continue
				}
				if _, hanging := num.rowOf[nid]; hanging {
					continue // resolves through its masters
				}
				num.nodeDof[nid] = next
				next += layout.NodeVars
			}
			if layout.ElemVars > 0 {
				num.elemDof[id] = next
				next += layout.ElemVars
			}
		}
	}
	num.offsets[len(parts)] = next
	num.numFree = next

	ix.Log.Info("dof numbering rebuilt",
		zap.Int("free_dofs", next),
		zap.Int("partitions", len(parts)),
		zap.Int("active_elements", len(active)))
	return num, nil
}

// NumFree returns the total count of free unknowns.
func (n *Numbering) NumFree() int { return n.numFree }

// Offsets returns the partition ids in rank order and the block offsets;
// partition ranks[i] owns indices [offsets[i], offsets[i+1]).
func (n *Numbering) Offsets() (ranks, offsets []int) {
	return append([]int(nil), n.ranks...), append([]int(nil), n.offsets...)
}

// NodeIndex returns the global index of (node, variable), or ok=false when
// the unknown is constrained or the node carries no dofs.
func (n *Numbering) NodeIndex(nid mesh.NodeID, v int) (int, bool) {
	if v < 0 || v >= n.layout.NodeVars || int(nid) >= len(n.nodeDof) {
		return -1, false
	}
	base := n.nodeDof[nid]
	if base < 0 {
		return -1, false
	}
	return base + v, true
}

// ElemIndex returns the global index of (element, variable) for elemental
// unknowns.
func (n *Numbering) ElemIndex(id mesh.ElemID, v int) (int, bool) {
	if v < 0 || v >= n.layout.ElemVars {
		return -1, false
	}
	base, ok := n.elemDof[id]
	if !ok {
		return -1, false
	}
	return base + v, true
}

// Resolve returns the contributions of unknown (node, variable): a free
// unknown yields its own index with coefficient 1, a constrained unknown
// yields its masters' indices weighted by the constraint coefficients.
func (n *Numbering) Resolve(nid mesh.NodeID, v int) ([]Contribution, error) {
	if idx, ok := n.NodeIndex(nid, v); ok {
		return []Contribution{{Index: idx, Coeff: 1}}, nil
	}
	r, ok := n.rowOf[nid]
	if !ok {
		return nil, fmt.Errorf("node %d variable %d carries no dof", nid, v)
	}
	out := make([]Contribution, 0, len(r.Masters))
	for j, mst := range r.Masters {
		idx, ok := n.NodeIndex(mst, v)
		if !ok {
			return nil, fmt.Errorf("constraint master %d of node %d is not free", mst, nid)
		}
		out = append(out, Contribution{Index: idx, Coeff: r.Coeffs[j]})
	}
	return out, nil
}

// ElementDofs returns the element's global dof indices in scatter order:
// node unknowns in catalog node order, then elemental unknowns.
// Constrained node unknowns appear as -1; resolve them with Resolve.
func (n *Numbering) ElementDofs(m *mesh.Mesh, id mesh.ElemID) ([]int, error) {
	e, err := m.Elem(id)
	if err != nil {
		return nil, err
	}
	if !e.Active() {
		return nil, fmt.Errorf("element %d is not active", id)
	}
	out := make([]int, 0, len(e.Nodes)*n.layout.NodeVars+n.layout.ElemVars)
	for _, nid := range e.Nodes {
		for v := 0; v < n.layout.NodeVars; v++ {
			if idx, ok := n.NodeIndex(nid, v); ok {
				out = append(out, idx)
			} else {
				out = append(out, -1)
			}
		}
	}
	for v := 0; v < n.layout.ElemVars; v++ {
		idx, ok := n.ElemIndex(id, v)
		if !ok {
			return nil, fmt.Errorf("element %d has no elemental dofs", id)
		}
		out = append(out, idx)
	}
	return out, nil
}

// OwnerOf reports which partition block contains dof d.
func (n *Numbering) OwnerOf(d int) (int, error) {
	if d < 0 || d >= n.numFree {
		return -1, fmt.Errorf("dof %d out of range [0,%d)", d, n.numFree)
	}
	i := sort.SearchInts(n.offsets, d+1) - 1
	return n.ranks[i], nil
}
