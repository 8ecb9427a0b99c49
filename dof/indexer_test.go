package dof

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notargets/gamr/celltype"
	"github.com/notargets/gamr/constraint"
	"github.com/notargets/gamr/mesh"
)

const tol = 1e-12

// hangingQuads builds two unit quads sharing the edge x=1, refines the
// left one, and builds the constraint table. The result has 5 active
// elements, 11 nodes and 1 hanging node.
func hangingQuads(t *testing.T, p0, p1 int) (*mesh.Mesh, *constraint.Table, mesh.ElemID, mesh.ElemID) {
	t.Helper()
	m := mesh.NewMesh(mesh.Config{MaxLevel: 4})
	coords := [][2]float64{
		{0, 0}, {1, 0}, {1, 1}, {0, 1}, {2, 0}, {2, 1},
	}
	for _, c := range coords {
		m.AddNode(c[0], c[1], 0)
	}
	q0, err := m.AddElement(celltype.Quad4, []mesh.NodeID{0, 1, 2, 3}, p0)
	require.NoError(t, err)
	q1, err := m.AddElement(celltype.Quad4, []mesh.NodeID{1, 4, 5, 2}, p1)
	require.NoError(t, err)
	if p1 != 0 {
		m.SetGhosted([]int{p1})
	}
	require.NoError(t, m.Refine(q0))

	tbl, err := constraint.NewBuilder(m).Build()
	require.NoError(t, err)
	require.Equal(t, 1, tbl.Len())
	return m, tbl, q0, q1
}

func TestNumberingDeterminism(t *testing.T) {
	m, tbl, _, _ := hangingQuads(t, 0, 0)
	ix := NewIndexer(m)
	layout := VarLayout{NodeVars: 1, ElemVars: 1}

	a, err := ix.Build(layout, tbl)
	require.NoError(t, err)
	b, err := ix.Build(layout, tbl)
	require.NoError(t, err)

	assert.Equal(t, a.NumFree(), b.NumFree())
	ra, oa := a.Offsets()
	rb, ob := b.Offsets()
	assert.Equal(t, ra, rb)
	assert.Equal(t, oa, ob)
	for i := 0; i < m.NumNodes(); i++ {
		ia, oka := a.NodeIndex(mesh.NodeID(i), 0)
		ib, okb := b.NodeIndex(mesh.NodeID(i), 0)
		assert.Equal(t, oka, okb, "node %d", i)
		assert.Equal(t, ia, ib, "node %d", i)
	}
}

// Free dof count is (unique active nodes - hanging nodes) * NodeVars +
// active elements * ElemVars.
func TestFreeCount(t *testing.T) {
	m, tbl, _, _ := hangingQuads(t, 0, 0)
	num, err := NewIndexer(m).Build(VarLayout{NodeVars: 2, ElemVars: 1}, tbl)
	require.NoError(t, err)
	assert.Equal(t, (11-1)*2+5*1, num.NumFree())

	// With no elemental unknowns the count drops by the element term.
	num, err = NewIndexer(m).Build(VarLayout{NodeVars: 2}, tbl)
	require.NoError(t, err)
	assert.Equal(t, (11-1)*2, num.NumFree())
}

func TestPartitionBlocks(t *testing.T) {
	m, tbl, _, q1 := hangingQuads(t, 0, 1)
	num, err := NewIndexer(m).Build(VarLayout{NodeVars: 1}, tbl)
	require.NoError(t, err)

	ranks, offsets := num.Offsets()
	assert.Equal(t, []int{0, 1}, ranks)
	// Partition 0 owns the four refined children's nodes minus the hanging
	// one; partition 1 owns only its two exclusive corners.
	assert.Equal(t, []int{0, 8, 10}, offsets)
	assert.Equal(t, 10, num.NumFree())

	e, err := m.Elem(q1)
	require.NoError(t, err)
	for _, nid := range e.Nodes {
		idx, ok := num.NodeIndex(nid, 0)
		require.True(t, ok)
		owner, err := num.OwnerOf(idx)
		require.NoError(t, err)
		if nid == 4 || nid == 5 {
			assert.Equal(t, 1, owner, "node %d", nid)
			assert.GreaterOrEqual(t, idx, offsets[1])
		} else {
			// Shared corners are owned by the lower partition.
			assert.Equal(t, 0, owner, "node %d", nid)
			assert.Less(t, idx, offsets[1])
		}
	}

	_, err = num.OwnerOf(num.NumFree())
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	m, tbl, _, _ := hangingQuads(t, 0, 0)
	num, err := NewIndexer(m).Build(VarLayout{NodeVars: 1}, tbl)
	require.NoError(t, err)

	// Free unknowns resolve to themselves.
	idx, ok := num.NodeIndex(0, 0)
	require.True(t, ok)
	contribs, err := num.Resolve(0, 0)
	require.NoError(t, err)
	require.Len(t, contribs, 1)
	assert.Equal(t, idx, contribs[0].Index)
	assert.InDelta(t, 1.0, contribs[0].Coeff, tol)

	// The hanging node resolves through its masters.
	hanging := tbl.Targets()[0]
	_, ok = num.NodeIndex(hanging, 0)
	assert.False(t, ok)
	contribs, err = num.Resolve(hanging, 0)
	require.NoError(t, err)
	require.Len(t, contribs, 2)
	i1, _ := num.NodeIndex(1, 0)
	i2, _ := num.NodeIndex(2, 0)
	got := map[int]float64{}
	for _, c := range contribs {
		got[c.Index] += c.Coeff
	}
	assert.InDelta(t, 0.5, got[i1], tol)
	assert.InDelta(t, 0.5, got[i2], tol)
}

func TestElementDofs(t *testing.T) {
	m, tbl, q0, q1 := hangingQuads(t, 0, 0)
	num, err := NewIndexer(m).Build(VarLayout{NodeVars: 1, ElemVars: 2}, tbl)
	require.NoError(t, err)

	dofs, err := num.ElementDofs(m, q1)
	require.NoError(t, err)
	require.Len(t, dofs, 4+2)
	for _, d := range dofs {
		assert.GreaterOrEqual(t, d, 0)
	}

	// A child touching the hanging node carries a -1 placeholder there.
	parent, err := m.Elem(q0)
	require.NoError(t, err)
	dofs, err = num.ElementDofs(m, parent.Children[1])
	require.NoError(t, err)
	count := 0
	for _, d := range dofs[:4] {
		if d == -1 {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// Inactive elements carry no dofs.
	_, err = num.ElementDofs(m, q0)
	assert.Error(t, err)
}

// Build runs as a locked pass: it must fail if a pass is already open and
// must leave the mesh mutable afterwards.
func TestBuildPassLocking(t *testing.T) {
	m, tbl, q0, _ := hangingQuads(t, 0, 0)
	ix := NewIndexer(m)

	require.NoError(t, m.BeginPass(0))
	_, err := ix.Build(VarLayout{NodeVars: 1}, tbl)
	require.ErrorIs(t, err, mesh.ErrElementLocked)
	m.EndPass(0)

	_, err = ix.Build(VarLayout{NodeVars: 1}, tbl)
	require.NoError(t, err)

	parent, err := m.Elem(q0)
	require.NoError(t, err)
	require.NoError(t, m.Refine(parent.Children[0]))
}

func TestInvalidLayout(t *testing.T) {
	m, tbl, _, _ := hangingQuads(t, 0, 0)
	_, err := NewIndexer(m).Build(VarLayout{NodeVars: -1}, tbl)
	assert.Error(t, err)
}
