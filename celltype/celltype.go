// Package celltype holds the static geometric and topological facts for
// every supported cell type: node counts, side decompositions, default
// interpolation orders, refinement child counts and export connectivity.
// All tables are load-time constants; nothing in this package carries
// per-instance state.
package celltype

import (
	"errors"
	"fmt"
)

// CellType identifies the topological/geometric classification of a mesh
// element. The set is closed: adding a type means adding its catalog entry.
type CellType uint8

const (
	// 1D
	Edge2 CellType = iota // Line segment, 2 nodes

	// 2D
	Tri3  // Triangle, 3 nodes
	Quad4 // Quadrilateral, 4 nodes

	// 3D
	Tet4   // Tetrahedron, 4 nodes
	Prism6 // Triangular prism (wedge), 6 nodes
	Hex8   // Hexahedron, 8 nodes

	numCellTypes
)

// ErrInvalidCellType is returned for any tag outside the supported set.
var ErrInvalidCellType = errors.New("invalid cell type")

// Order is the polynomial interpolation order of an element's field
// representation.
type Order int

const (
	First  Order = 1
	Second Order = 2
)

// TypeInfo is the catalog record for one cell type.
type TypeInfo struct {
	Name         string
	Dim          int // Spatial dimension (1, 2 or 3)
	NumNodes     int
	DefaultOrder Order
	NumChildren  int // Children produced by one uniform refinement

	// Side decomposition. SideTypes[s] is the lower-dimensional cell type
	// of side s; SideNodes[s] lists the parent-local node indices of side
	// s in that type's catalog order. 1D types have vertex sides with no
	// side cell type.
	SideTypes []CellType
	SideNodes [][]int

	// Export connectivity for visualization consumers.
	VTKType    int   // VTK cell id
	ExportConn []int // Node permutation from catalog order to VTK order
}

var catalog = [numCellTypes]TypeInfo{
	Edge2: {
		Name:         "Edge2",
		Dim:          1,
		NumNodes:     2,
		DefaultOrder: First,
		NumChildren:  2,
		SideTypes:    nil, // vertex sides carry no cell type
		SideNodes:    [][]int{{0}, {1}},
		VTKType:      3,
		ExportConn:   []int{0, 1},
	},
	Tri3: {
		Name:         "Tri3",
		Dim:          2,
		NumNodes:     3,
		DefaultOrder: First,
		NumChildren:  4,
		SideTypes:    []CellType{Edge2, Edge2, Edge2},
		SideNodes:    [][]int{{0, 1}, {1, 2}, {2, 0}},
		VTKType:      5,
		ExportConn:   []int{0, 1, 2},
	},
	Quad4: {
		Name:         "Quad4",
		Dim:          2,
		NumNodes:     4,
		DefaultOrder: First,
		NumChildren:  4,
		SideTypes:    []CellType{Edge2, Edge2, Edge2, Edge2},
		SideNodes:    [][]int{{0, 1}, {1, 2}, {2, 3}, {3, 0}},
		VTKType:      9,
		ExportConn:   []int{0, 1, 2, 3},
	},
	Tet4: {
		Name:         "Tet4",
		Dim:          3,
		NumNodes:     4,
		DefaultOrder: First,
		NumChildren:  8,
		SideTypes:    []CellType{Tri3, Tri3, Tri3, Tri3},
		SideNodes:    [][]int{{0, 2, 1}, {0, 1, 3}, {1, 2, 3}, {2, 0, 3}},
		VTKType:      10,
		ExportConn:   []int{0, 1, 2, 3},
	},
	Prism6: {
		Name:         "Prism6",
		Dim:          3,
		NumNodes:     6,
		DefaultOrder: First,
		NumChildren:  8,
		SideTypes:    []CellType{Tri3, Quad4, Quad4, Quad4, Tri3},
		SideNodes: [][]int{
			{0, 2, 1},
			{0, 1, 4, 3},
			{1, 2, 5, 4},
			{2, 0, 3, 5},
			{3, 4, 5},
		},
		VTKType:    13,
		ExportConn: []int{0, 2, 1, 3, 5, 4},
	},
	Hex8: {
		Name:         "Hex8",
		Dim:          3,
		NumNodes:     8,
		DefaultOrder: First,
		NumChildren:  8,
		SideTypes:    []CellType{Quad4, Quad4, Quad4, Quad4, Quad4, Quad4},
		SideNodes: [][]int{
			{0, 3, 2, 1},
			{0, 1, 5, 4},
			{1, 2, 6, 5},
			{2, 3, 7, 6},
			{3, 0, 4, 7},
			{4, 5, 6, 7},
		},
		VTKType:    12,
		ExportConn: []int{0, 1, 2, 3, 4, 5, 6, 7},
	},
}

// Lookup returns the catalog record for ct.
func Lookup(ct CellType) (*TypeInfo, error) {
	if ct >= numCellTypes {
		return nil, fmt.Errorf("%w: tag %d", ErrInvalidCellType, ct)
	}
	return &catalog[ct], nil
}

// Parse maps a catalog name ("Hex8", "Tri3", ...) back to its tag.
func Parse(name string) (CellType, error) {
	for ct := CellType(0); ct < numCellTypes; ct++ {
		if catalog[ct].Name == name {
			return ct, nil
		}
	}
	return numCellTypes, fmt.Errorf("%w: name %q", ErrInvalidCellType, name)
}

func (ct CellType) String() string {
	if ct >= numCellTypes {
		return fmt.Sprintf("CellType(%d)", uint8(ct))
	}
	return catalog[ct].Name
}

// NumSides returns the number of sides of ct. For 1D types the sides are
// the two end vertices.
func NumSides(ct CellType) (int, error) {
	info, err := Lookup(ct)
	if err != nil {
		return 0, err
	}
	return len(info.SideNodes), nil
}

// SideType returns the cell type of side s of ct. 1D types have no side
// cell type and fail with ErrInvalidCellType.
func SideType(ct CellType, side int) (CellType, error) {
	info, err := Lookup(ct)
	if err != nil {
		return numCellTypes, err
	}
	if side < 0 || side >= len(info.SideNodes) {
		return numCellTypes, fmt.Errorf("cell type %s has no side %d", ct, side)
	}
	if info.SideTypes == nil {
		return numCellTypes, fmt.Errorf("%w: %s sides are vertices", ErrInvalidCellType, ct)
	}
	return info.SideTypes[side], nil
}

// SideNodes returns the parent-local node indices of side s, in the side
// type's catalog order.
func SideNodes(ct CellType, side int) ([]int, error) {
	info, err := Lookup(ct)
	if err != nil {
		return nil, err
	}
	if side < 0 || side >= len(info.SideNodes) {
		return nil, fmt.Errorf("cell type %s has no side %d", ct, side)
	}
	return info.SideNodes[side], nil
}

// BuildSide constructs the connectivity of the lower-dimensional element
// coincident with side s of a cell of type ct, given the cell's node
// sequence. The returned slice is newly allocated and owned by the caller.
func BuildSide[T any](ct CellType, conn []T, side int) ([]T, error) {
	info, err := Lookup(ct)
	if err != nil {
		return nil, err
	}
	if len(conn) != info.NumNodes {
		return nil, fmt.Errorf("cell type %s expects %d nodes, got %d", ct, info.NumNodes, len(conn))
	}
	if _, err := SideType(ct, side); err != nil {
		return nil, err
	}
	local := info.SideNodes[side]
	out := make([]T, len(local))
	for i, li := range local {
		out[i] = conn[li]
	}
	return out, nil
}

// Types returns all supported cell types in tag order.
func Types() []CellType {
	out := make([]CellType, numCellTypes)
	for i := range out {
		out[i] = CellType(i)
	}
	return out
}
