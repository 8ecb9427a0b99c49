// Package constraint derives hanging-node constraint rows from the active
// refinement frontier. A node introduced by refining an element whose
// neighbor across that side is less refined is not independent: it is
// expressed as an affine combination of the coarse side's nodal unknowns.
package constraint

import (
	"errors"
	"fmt"

	"github.com/james-bowman/sparse"
	"go.uber.org/zap"

	"github.com/notargets/gamr/celltype"
	"github.com/notargets/gamr/embedding"
	"github.com/notargets/gamr/mesh"
)

// ErrUnsupportedConstraintDepth reports a hanging configuration that did
// not reach a fixed point within the configured pass limit.
var ErrUnsupportedConstraintDepth = errors.New("unsupported constraint depth")

// Row constrains Target to the coefficient-weighted sum of Masters.
// Coefficients sum to 1.
type Row struct {
	Target  mesh.NodeID
	Masters []mesh.NodeID
	Coeffs  []float64
}

// Table is the set of constraint rows for one refinement state, ordered by
// emission for reproducibility.
type Table struct {
	rows  map[mesh.NodeID]*Row
	order []mesh.NodeID
}

// Len returns the number of constrained nodes.
func (t *Table) Len() int { return len(t.order) }

// Row returns the constraint row targeting n, if any.
func (t *Table) Row(n mesh.NodeID) (*Row, bool) {
	r, ok := t.rows[n]
	return r, ok
}

// Targets returns the constrained node ids in emission order.
func (t *Table) Targets() []mesh.NodeID {
	out := make([]mesh.NodeID, len(t.order))
	copy(out, t.order)
	return out
}

// Matrix assembles the table as a sparse CSR matrix of shape
// [len(rows) × numNodes]: row i holds -1 at the target column and the
// master coefficients elsewhere, so C·u = 0 states every constraint.
func (t *Table) Matrix(numNodes int) *sparse.CSR {
	dok := sparse.NewDOK(len(t.order), numNodes)
	for i, target := range t.order {
		r := t.rows[target]
		dok.Set(i, int(target), -1)
		for j, mst := range r.Masters {
			dok.Set(i, int(mst), r.Coeffs[j])
		}
	}
	return dok.ToCSR()
}

// Builder runs constraint passes over a mesh.
type Builder struct {
	Mesh      *mesh.Mesh
	MaxPasses int // Pass limit before ErrUnsupportedConstraintDepth
	Log       *zap.Logger
}

// NewBuilder returns a Builder with the default pass limit.
func NewBuilder(m *mesh.Mesh) *Builder {
	return &Builder{Mesh: m, MaxPasses: 8, Log: zap.NewNop()}
}

// Build scans the refinement frontier, emits one row per hanging node,
// and iterates until a pass produces zero new rows, then flattens chains
// so no master is itself constrained. The finished rows are written back
// onto the mesh nodes and returned as a table.
func (b *Builder) Build() (*Table, error) {
	t := &Table{rows: make(map[mesh.NodeID]*Row)}

	for pass := 0; ; pass++ {
		if pass >= b.MaxPasses {
			return nil, fmt.Errorf("%w: no fixed point after %d passes",
				ErrUnsupportedConstraintDepth, b.MaxPasses)
		}
		added, err := b.emitRows(t)
		if err != nil {
			return nil, err
		}
		b.Log.Debug("constraint pass", zap.Int("pass", pass), zap.Int("new_rows", added))
		if added == 0 {
			break
		}
	}

	if err := b.flatten(t); err != nil {
		return nil, err
	}

	for _, target := range t.order {
		r := t.rows[target]
		n, err := b.Mesh.Node(target)
		if err != nil {
			return nil, err
		}
		n.Constraint = &mesh.NodeConstraint{Masters: r.Masters, Coeffs: r.Coeffs}
	}
	return t, nil
}

// emitRows walks every refined element and targets the side-interior nodes
// of sides whose active neighbor is less refined. Masters are the element's
// own side corners with the node's defining-subset averaging weights; the
// covering property of the side-children tables guarantees those corners
// span the coarse neighbor's side after flattening.
func (b *Builder) emitRows(t *Table) (int, error) {
	m := b.Mesh
	added := 0
	for i := 0; i < m.NumElements(); i++ {
		id := mesh.ElemID(i)
		if !m.Alive(id) {
			continue
		}
		e, err := m.Elem(id)
		if err != nil {
			return added, err
		}
		if e.Active() {
			continue
		}
		nsides := len(e.BoundaryIDs)
		for s := 0; s < nsides; s++ {
			neighbor, err := m.NeighborAcross(id, s)
			if err != nil {
				return added, err
			}
			if neighbor == mesh.InvalidElem {
				continue
			}
			n, err := b.emitSideRows(t, id, s)
			if err != nil {
				return added, err
			}
			added += n
		}
	}
	return added, nil
}

func (b *Builder) emitSideRows(t *Table, id mesh.ElemID, side int) (int, error) {
	m := b.Mesh
	e, err := m.Elem(id)
	if err != nil {
		return 0, err
	}
	sideLocal, err := celltype.SideNodes(e.Type, side)
	if err != nil {
		return 0, err
	}
	corners := make(map[mesh.NodeID]bool, len(sideLocal))
	for _, li := range sideLocal {
		corners[e.Nodes[li]] = true
	}
	pairs, err := embedding.SideChildren(e.Type, side)
	if err != nil {
		return 0, err
	}

	added := 0
	for _, cs := range pairs {
		child, err := m.Elem(e.Children[cs.Child])
		if err != nil {
			return added, err
		}
		childSideLocal, err := celltype.SideNodes(child.Type, cs.Side)
		if err != nil {
			return added, err
		}
		for _, li := range childSideLocal {
			target := child.Nodes[li]
			if corners[target] {
				continue // shared parent corner, not a new node
			}
			if _, done := t.rows[target]; done {
				continue // already targeted; rows are identical by construction
			}
			support, err := embedding.NodeSupport(e.Type, cs.Child, li)
			if err != nil {
				return added, err
			}
			w := 1.0 / float64(len(support))
			masters := make([]mesh.NodeID, len(support))
			coeffs := make([]float64, len(support))
			for k, v := range support {
				masters[k] = e.Nodes[v]
				coeffs[k] = w
			}
			t.rows[target] = &Row{Target: target, Masters: masters, Coeffs: coeffs}
			t.order = append(t.order, target)
			added++
		}
	}
	return added, nil
}

// flatten substitutes constrained masters until every row references only
// free nodes. Chains shorten geometrically, so the pass limit bounds the
// supported level difference rather than looping forever on a cycle.
func (b *Builder) flatten(t *Table) error {
	for pass := 0; ; pass++ {
		if pass >= b.MaxPasses {
			return fmt.Errorf("%w: chains unresolved after %d passes",
				ErrUnsupportedConstraintDepth, b.MaxPasses)
		}
		changed := 0
		for _, target := range t.order {
			r := t.rows[target]
			dirty := false
			for _, mst := range r.Masters {
				if _, ok := t.rows[mst]; ok {
					dirty = true
					break
				}
			}
			if !dirty {
				continue
			}
			acc := make(map[mesh.NodeID]float64, len(r.Masters))
			var order []mesh.NodeID
			add := func(n mesh.NodeID, c float64) {
				if _, seen := acc[n]; !seen {
					order = append(order, n)
				}
				acc[n] += c
			}
			for j, mst := range r.Masters {
				if sub, ok := t.rows[mst]; ok {
					for k, mm := range sub.Masters {
						add(mm, r.Coeffs[j]*sub.Coeffs[k])
					}
				} else {
					add(mst, r.Coeffs[j])
				}
			}
			r.Masters = order
			r.Coeffs = make([]float64, len(order))
			for j, n := range order {
				r.Coeffs[j] = acc[n]
			}
			changed++
		}
		if changed == 0 {
			return nil
		}
	}
}
