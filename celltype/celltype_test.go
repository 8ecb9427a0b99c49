package celltype

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogLookup(t *testing.T) {
	cases := []struct {
		ct       CellType
		nodes    int
		dim      int
		sides    int
		children int
	}{
		{Edge2, 2, 1, 2, 2},
		{Tri3, 3, 2, 3, 4},
		{Quad4, 4, 2, 4, 4},
		{Tet4, 4, 3, 4, 8},
		{Prism6, 6, 3, 5, 8},
		{Hex8, 8, 3, 6, 8},
	}
	for _, tc := range cases {
		t.Run(tc.ct.String(), func(t *testing.T) {
			info, err := Lookup(tc.ct)
			require.NoError(t, err)
			assert.Equal(t, tc.nodes, info.NumNodes)
			assert.Equal(t, tc.dim, info.Dim)
			assert.Equal(t, tc.sides, len(info.SideNodes))
			assert.Equal(t, tc.children, info.NumChildren)
			assert.Equal(t, First, info.DefaultOrder)
			assert.Equal(t, info.NumNodes, len(info.ExportConn))
		})
	}
}

func TestInvalidCellType(t *testing.T) {
	_, err := Lookup(CellType(200))
	require.ErrorIs(t, err, ErrInvalidCellType)

	_, err = Parse("Hex27")
	require.ErrorIs(t, err, ErrInvalidCellType)
}

func TestParseRoundTrip(t *testing.T) {
	for _, ct := range Types() {
		got, err := Parse(ct.String())
		require.NoError(t, err)
		assert.Equal(t, ct, got)
	}
}

// Every side's node list must match its sub-type's node count and index
// into the parent's node range.
func TestSideTablesConsistent(t *testing.T) {
	for _, ct := range Types() {
		info, err := Lookup(ct)
		require.NoError(t, err)
		for s, local := range info.SideNodes {
			for _, li := range local {
				assert.Less(t, li, info.NumNodes, "%s side %d", ct, s)
			}
			if info.Dim == 1 {
				_, err := SideType(ct, s)
				assert.ErrorIs(t, err, ErrInvalidCellType)
				continue
			}
			st, err := SideType(ct, s)
			require.NoError(t, err)
			sub, err := Lookup(st)
			require.NoError(t, err)
			assert.Equal(t, sub.NumNodes, len(local), "%s side %d", ct, s)
			assert.Equal(t, info.Dim-1, sub.Dim, "%s side %d", ct, s)
		}
	}
}

func TestBuildSide(t *testing.T) {
	hex := []int{10, 11, 12, 13, 14, 15, 16, 17}
	top, err := BuildSide(Hex8, hex, 5)
	require.NoError(t, err)
	assert.Equal(t, []int{14, 15, 16, 17}, top)

	prism := []int{0, 1, 2, 3, 4, 5}
	quad, err := BuildSide(Prism6, prism, 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 4, 3}, quad)
	st, err := SideType(Prism6, 1)
	require.NoError(t, err)
	assert.Equal(t, Quad4, st)

	// Side elements are caller-owned copies.
	quad[0] = 99
	assert.Equal(t, 0, prism[0])

	_, err = BuildSide(Hex8, hex[:4], 0)
	assert.Error(t, err)
	_, err = BuildSide(Edge2, []int{0, 1}, 0)
	assert.ErrorIs(t, err, ErrInvalidCellType)
}
