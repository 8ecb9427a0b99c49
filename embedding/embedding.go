// Package embedding provides the per-type constant tables that drive
// refinement: for every (cell type, child index) a matrix mapping parent
// nodal values to child nodal values, and for every parent side the
// ordered set of child sides that reconstructs it. The tables are derived
// once at load time from the child node definitions and never mutate.
package embedding

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"github.com/notargets/gamr/celltype"
)

// ChildSide identifies one child side lying on a parent side.
type ChildSide struct {
	Child int // Child index within the parent's refinement
	Side  int // Side index local to that child
}

// childNodes[child][node] lists the parent-local vertices whose average
// defines the child node: a single entry is a shared parent vertex, a pair
// an edge midpoint, four a face center, eight a body center. Averaging
// subsets is exactly the linear embedding: every matrix row holds 1/len
// at each listed vertex and therefore sums to 1.
var childNodes = [...][][][]int{
	celltype.Edge2: {
		{{0}, {0, 1}},
		{{0, 1}, {1}},
	},
	celltype.Tri3: {
		{{0}, {0, 1}, {0, 2}},
		{{0, 1}, {1}, {1, 2}},
		{{0, 2}, {1, 2}, {2}},
		{{0, 1}, {1, 2}, {0, 2}},
	},
	celltype.Quad4: {
		{{0}, {0, 1}, {0, 1, 2, 3}, {0, 3}},
		{{0, 1}, {1}, {1, 2}, {0, 1, 2, 3}},
		{{0, 1, 2, 3}, {1, 2}, {2}, {2, 3}},
		{{0, 3}, {0, 1, 2, 3}, {2, 3}, {3}},
	},
	celltype.Tet4: {
		// Corner children.
		{{0}, {0, 1}, {0, 2}, {0, 3}},
		{{0, 1}, {1}, {1, 2}, {1, 3}},
		{{0, 2}, {1, 2}, {2}, {2, 3}},
		{{0, 3}, {1, 3}, {2, 3}, {3}},
		// Interior octahedron split along the (01)-(23) diagonal.
		{{0, 1}, {2, 3}, {0, 3}, {0, 2}},
		{{0, 1}, {2, 3}, {1, 3}, {0, 3}},
		{{0, 1}, {2, 3}, {1, 2}, {1, 3}},
		{{0, 1}, {2, 3}, {0, 2}, {1, 2}},
	},
	celltype.Prism6: {
		// Lower layer.
		{{0}, {0, 1}, {0, 2}, {0, 3}, {0, 1, 4, 3}, {0, 2, 5, 3}},
		{{0, 1}, {1}, {1, 2}, {0, 1, 4, 3}, {1, 4}, {1, 2, 5, 4}},
		{{0, 2}, {1, 2}, {2}, {0, 2, 5, 3}, {1, 2, 5, 4}, {2, 5}},
		{{0, 1}, {1, 2}, {0, 2}, {0, 1, 4, 3}, {1, 2, 5, 4}, {0, 2, 5, 3}},
		// Upper layer.
		{{0, 3}, {0, 1, 4, 3}, {0, 2, 5, 3}, {3}, {3, 4}, {3, 5}},
		{{0, 1, 4, 3}, {1, 4}, {1, 2, 5, 4}, {3, 4}, {4}, {4, 5}},
		{{0, 2, 5, 3}, {1, 2, 5, 4}, {2, 5}, {3, 5}, {4, 5}, {5}},
		{{0, 1, 4, 3}, {1, 2, 5, 4}, {0, 2, 5, 3}, {3, 4}, {4, 5}, {3, 5}},
	},
	celltype.Hex8: {
		{{0}, {0, 1}, {0, 1, 2, 3}, {0, 3}, {0, 4}, {0, 1, 5, 4}, {0, 1, 2, 3, 4, 5, 6, 7}, {0, 3, 7, 4}},
		{{0, 1}, {1}, {1, 2}, {0, 1, 2, 3}, {0, 1, 5, 4}, {1, 5}, {1, 2, 6, 5}, {0, 1, 2, 3, 4, 5, 6, 7}},
		{{0, 1, 2, 3}, {1, 2}, {2}, {2, 3}, {0, 1, 2, 3, 4, 5, 6, 7}, {1, 2, 6, 5}, {2, 6}, {2, 3, 7, 6}},
		{{0, 3}, {0, 1, 2, 3}, {2, 3}, {3}, {0, 3, 7, 4}, {0, 1, 2, 3, 4, 5, 6, 7}, {2, 3, 7, 6}, {3, 7}},
		{{0, 4}, {0, 1, 5, 4}, {0, 1, 2, 3, 4, 5, 6, 7}, {0, 3, 7, 4}, {4}, {4, 5}, {4, 5, 6, 7}, {7, 4}},
		{{0, 1, 5, 4}, {1, 5}, {1, 2, 6, 5}, {0, 1, 2, 3, 4, 5, 6, 7}, {4, 5}, {5}, {5, 6}, {4, 5, 6, 7}},
		{{0, 1, 2, 3, 4, 5, 6, 7}, {1, 2, 6, 5}, {2, 6}, {2, 3, 7, 6}, {4, 5, 6, 7}, {5, 6}, {6}, {6, 7}},
		{{0, 3, 7, 4}, {0, 1, 2, 3, 4, 5, 6, 7}, {2, 3, 7, 6}, {3, 7}, {7, 4}, {4, 5, 6, 7}, {6, 7}, {7}},
	},
}

var (
	matrices     [len(childNodes)][]*mat.Dense
	sideChildren [len(childNodes)][][]ChildSide
)

func init() {
	for _, ct := range celltype.Types() {
		info, err := celltype.Lookup(ct)
		if err != nil {
			panic(err)
		}
		children := childNodes[ct]
		if len(children) != info.NumChildren {
			panic(fmt.Sprintf("embedding: %s defines %d children, catalog says %d",
				ct, len(children), info.NumChildren))
		}
		matrices[ct] = buildMatrices(info, children)
		sideChildren[ct] = buildSideChildren(info, children)
	}
}

func buildMatrices(info *celltype.TypeInfo, children [][][]int) []*mat.Dense {
	out := make([]*mat.Dense, len(children))
	for c, nodes := range children {
		e := mat.NewDense(info.NumNodes, info.NumNodes, nil)
		for i, support := range nodes {
			w := 1.0 / float64(len(support))
			for _, v := range support {
				e.Set(i, v, w)
			}
		}
		out[c] = e
	}
	return out
}

// buildSideChildren derives the side coverage tables: child side f lies on
// parent side s iff every parent vertex defining every node of that child
// side belongs to s. Pairs are ordered by child, then by child-local side.
func buildSideChildren(info *celltype.TypeInfo, children [][][]int) [][]ChildSide {
	out := make([][]ChildSide, len(info.SideNodes))
	for s, sideLocal := range info.SideNodes {
		if info.SideTypes == nil {
			continue // 1D vertex sides have no covering faces
		}
		onSide := make(map[int]bool, len(sideLocal))
		for _, v := range sideLocal {
			onSide[v] = true
		}
		for c, nodes := range children {
			// Children share the parent's cell type, so the child's side
			// decomposition is the parent's own catalog table.
			for f, childSideLocal := range info.SideNodes {
				covered := true
				for _, li := range childSideLocal {
					for _, v := range nodes[li] {
						if !onSide[v] {
							covered = false
							break
						}
					}
					if !covered {
						break
					}
				}
				if covered {
					out[s] = append(out[s], ChildSide{Child: c, Side: f})
				}
			}
		}
	}
	return out
}

// NumChildren returns the uniform refinement child count for ct.
func NumChildren(ct celltype.CellType) (int, error) {
	info, err := celltype.Lookup(ct)
	if err != nil {
		return 0, err
	}
	return info.NumChildren, nil
}

// Matrix returns the embedding matrix for the given child: row i holds the
// parent-node weights producing child node i. Rows sum to 1, so affine
// fields transfer exactly. The returned matrix is shared and must not be
// modified.
func Matrix(ct celltype.CellType, child int) (*mat.Dense, error) {
	if _, err := celltype.Lookup(ct); err != nil {
		return nil, err
	}
	ms := matrices[ct]
	if child < 0 || child >= len(ms) {
		return nil, fmt.Errorf("cell type %s has no child %d", ct, child)
	}
	return ms[child], nil
}

// NodeSupport returns the parent-local vertices defining node of child.
// A single-entry support means the child node coincides with a parent
// vertex; longer supports are embedding-derived new nodes.
func NodeSupport(ct celltype.CellType, child, node int) ([]int, error) {
	info, err := celltype.Lookup(ct)
	if err != nil {
		return nil, err
	}
	if child < 0 || child >= info.NumChildren {
		return nil, fmt.Errorf("cell type %s has no child %d", ct, child)
	}
	if node < 0 || node >= info.NumNodes {
		return nil, fmt.Errorf("cell type %s has no node %d", ct, node)
	}
	return childNodes[ct][child][node], nil
}

// SideChildren returns the ordered (child, child-local side) pairs whose
// union reconstructs parent side s. Boundary operations applied to a
// parent side are forwarded through this table so they remain consistent
// across a refinement boundary.
func SideChildren(ct celltype.CellType, side int) ([]ChildSide, error) {
	info, err := celltype.Lookup(ct)
	if err != nil {
		return nil, err
	}
	if side < 0 || side >= len(info.SideNodes) {
		return nil, fmt.Errorf("cell type %s has no side %d", ct, side)
	}
	return sideChildren[ct][side], nil
}

// Transfer applies the child embedding to per-parent-node field values,
// returning the per-child-node values. Used for solution projection when
// an element is refined.
func Transfer(ct celltype.CellType, child int, parentVals []float64) ([]float64, error) {
	e, err := Matrix(ct, child)
	if err != nil {
		return nil, err
	}
	n, _ := e.Dims()
	if len(parentVals) != n {
		return nil, fmt.Errorf("cell type %s expects %d parent values, got %d", ct, n, len(parentVals))
	}
	var out mat.VecDense
	out.MulVec(e, mat.NewVecDense(n, parentVals))
	return out.RawVector().Data, nil
}
