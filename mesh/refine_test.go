package mesh

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gamr/celltype"
	"github.com/notargets/gamr/embedding"
)

const tol = 1e-12

// newPrismMesh builds a single unit triangular prism root element.
func newPrismMesh(t *testing.T, maxLevel int) (*Mesh, ElemID) {
	t.Helper()
	m := NewMesh(Config{MaxLevel: maxLevel})
	coords := [][3]float64{
		{0, 0, 0}, {1, 0, 0}, {0, 1, 0},
		{0, 0, 1}, {1, 0, 1}, {0, 1, 1},
	}
	conn := make([]NodeID, len(coords))
	for i, c := range coords {
		conn[i] = m.AddNode(c[0], c[1], c[2])
	}
	id, err := m.AddElement(celltype.Prism6, conn, 0)
	require.NoError(t, err)
	return m, id
}

func TestPrism6RefineCoarsen(t *testing.T) {
	m, root := newPrismMesh(t, 3)
	require.NoError(t, m.Refine(root))

	parent, err := m.Elem(root)
	require.NoError(t, err)
	require.False(t, parent.Active())
	require.Len(t, parent.Children, 8)

	// 6 corners plus 9 edge midpoints plus 3 quad face centers.
	assert.Equal(t, 18, m.NumNodes())
	assert.Len(t, m.ActiveElements(), 8)

	for c, cid := range parent.Children {
		child, err := m.Elem(cid)
		require.NoError(t, err)
		assert.Equal(t, celltype.Prism6, child.Type)
		assert.Equal(t, 1, child.Level)
		assert.Equal(t, root, child.Parent)
		assert.Equal(t, 0, child.Partition)
		require.Len(t, child.Nodes, 6)

		// Each child node sits at the average of its defining parent
		// vertices.
		for j, nid := range child.Nodes {
			support, err := embedding.NodeSupport(celltype.Prism6, c, j)
			require.NoError(t, err)
			var ex, ey, ez float64
			for _, v := range support {
				pn, err := m.Node(parent.Nodes[v])
				require.NoError(t, err)
				ex += pn.X
				ey += pn.Y
				ez += pn.Z
			}
			w := float64(len(support))
			n, err := m.Node(nid)
			require.NoError(t, err)
			assert.InDelta(t, ex/w, n.X, tol)
			assert.InDelta(t, ey/w, n.Y, tol)
			assert.InDelta(t, ez/w, n.Z, tol)
		}
	}

	require.NoError(t, m.Coarsen(root))
	parent, err = m.Elem(root)
	require.NoError(t, err)
	assert.True(t, parent.Active())
	assert.Equal(t, []NodeID{0, 1, 2, 3, 4, 5}, parent.Nodes)
	assert.Equal(t, []ElemID{root}, m.ActiveElements())

	// Refining again reuses the freed node and element slots.
	require.NoError(t, m.Refine(root))
	assert.Equal(t, 18, m.NumNodes())
	assert.Len(t, m.ActiveElements(), 8)
}

func TestRefineDepthLimit(t *testing.T) {
	m, root := newPrismMesh(t, 1)
	require.NoError(t, m.Refine(root))

	parent, err := m.Elem(root)
	require.NoError(t, err)
	err = m.Refine(parent.Children[0])
	require.ErrorIs(t, err, ErrRefinementDepthExceeded)

	err = m.Refine(root)
	assert.Error(t, err) // already refined
}

func TestIllegalCoarsen(t *testing.T) {
	m, root := newPrismMesh(t, 3)
	require.ErrorIs(t, m.Coarsen(root), ErrIllegalCoarsen)

	require.NoError(t, m.Refine(root))
	parent, err := m.Elem(root)
	require.NoError(t, err)
	c0 := parent.Children[0]
	require.NoError(t, m.Refine(c0))

	// A grandchild layer blocks coarsening of the root.
	require.ErrorIs(t, m.Coarsen(root), ErrIllegalCoarsen)

	require.NoError(t, m.Coarsen(c0))
	require.NoError(t, m.Coarsen(root))
}

func TestPassLocking(t *testing.T) {
	m, root := newPrismMesh(t, 3)
	require.NoError(t, m.BeginPass(0))
	require.ErrorIs(t, m.BeginPass(0), ErrElementLocked)

	require.ErrorIs(t, m.Refine(root), ErrElementLocked)
	require.ErrorIs(t, m.Coarsen(root), ErrElementLocked)

	m.EndPass(0)
	require.NoError(t, m.Refine(root))
	require.NoError(t, m.Coarsen(root))
}

func TestTransferFieldAffine(t *testing.T) {
	m, root := newPrismMesh(t, 3)
	f := func(x, y, z float64) float64 { return 1 + 2*x - y + 0.5*z }

	field := make([]float64, m.NumNodes())
	for i := range field {
		n, err := m.Node(NodeID(i))
		require.NoError(t, err)
		field[i] = f(n.X, n.Y, n.Z)
	}

	require.NoError(t, m.Refine(root))
	field = append(field, make([]float64, m.NumNodes()-len(field))...)
	require.NoError(t, m.TransferField(root, field))

	parent, err := m.Elem(root)
	require.NoError(t, err)
	for _, cid := range parent.Children {
		child, err := m.Elem(cid)
		require.NoError(t, err)
		for _, nid := range child.Nodes {
			n, err := m.Node(nid)
			require.NoError(t, err)
			assert.InDelta(t, f(n.X, n.Y, n.Z), field[nid], tol)
		}
	}

	require.NoError(t, m.Coarsen(root))
	require.Error(t, m.TransferField(root, field))
}

// newTwoQuadMesh builds two unit quads sharing the edge x=1.
func newTwoQuadMesh(t *testing.T, p0, p1 int, rank int) (*Mesh, ElemID, ElemID) {
	t.Helper()
	m := NewMesh(Config{MaxLevel: 4, Rank: rank})
	coords := [][2]float64{
		{0, 0}, {1, 0}, {1, 1}, {0, 1}, {2, 0}, {2, 1},
	}
	for _, c := range coords {
		m.AddNode(c[0], c[1], 0)
	}
	q0, err := m.AddElement(celltype.Quad4, []NodeID{0, 1, 2, 3}, p0)
	require.NoError(t, err)
	q1, err := m.AddElement(celltype.Quad4, []NodeID{1, 4, 5, 2}, p1)
	require.NoError(t, err)
	return m, q0, q1
}

func TestDerivedNodeDedup(t *testing.T) {
	m, q0, q1 := newTwoQuadMesh(t, 0, 0, 0)
	require.NoError(t, m.Refine(q0))
	assert.Equal(t, 11, m.NumNodes()) // 4 edge midpoints + 1 center

	// The shared edge midpoint (1, 0.5) already exists and must be reused.
	require.NoError(t, m.Refine(q1))
	assert.Equal(t, 15, m.NumNodes())

	count := 0
	for i := 0; i < m.NumNodes(); i++ {
		n, err := m.Node(NodeID(i))
		require.NoError(t, err)
		if n.X == 1 && n.Y == 0.5 {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestBoundaryPropagation(t *testing.T) {
	m, q0, _ := newTwoQuadMesh(t, 0, 0, 0)
	require.NoError(t, m.SetBoundaryID(q0, 0, 7))
	require.NoError(t, m.Refine(q0))

	parent, err := m.Elem(q0)
	require.NoError(t, err)
	tagged := 0
	for _, cid := range parent.Children {
		child, err := m.Elem(cid)
		require.NoError(t, err)
		for s, bid := range child.BoundaryIDs {
			if bid == 7 {
				tagged++
				assert.Equal(t, 0, s)
			}
		}
	}
	assert.Equal(t, 2, tagged)
}
