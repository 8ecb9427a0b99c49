// Package mesh implements the adaptive element hierarchy: an arena of
// elements linked parent-to-child by refinement, a reference-counted node
// store, and the neighbor queries the constraint builder runs against the
// active frontier. Refinement geometry comes from the embedding package;
// static type facts come from the celltype catalog.
package mesh

import (
	"errors"
	"fmt"
	"sort"

	"github.com/notargets/gocfd/types"
	"go.uber.org/zap"

	"github.com/notargets/gamr/celltype"
)

// ElemID addresses an element in the mesh arena. Slots freed by
// coarsening are reused; holders of an ElemID across a coarsen must
// revalidate it.
type ElemID int32

// NodeID addresses a node in the mesh node store.
type NodeID int32

const (
	InvalidElem ElemID = -1
	InvalidNode NodeID = -1
)

var (
	// ErrRefinementDepthExceeded reports a refine past the configured
	// maximum level.
	ErrRefinementDepthExceeded = errors.New("refinement depth exceeded")

	// ErrIllegalCoarsen reports a coarsen whose children are not all
	// active leaves.
	ErrIllegalCoarsen = errors.New("illegal coarsen")

	// ErrElementLocked reports a mutation attempted while the element's
	// partition is inside an indexing pass.
	ErrElementLocked = errors.New("element locked by in-progress pass")

	// ErrInconsistentPartition reports a neighbor reference crossing into
	// a partition that has not been ghosted. The ghost exchange must run
	// before cross-partition queries; the mesh fails closed rather than
	// guess at missing data.
	ErrInconsistentPartition = errors.New("inconsistent partition: neighbor not ghosted")
)

// NodeConstraint expresses a hanging node as an affine combination of
// master nodes. Coefficients sum to 1.
type NodeConstraint struct {
	Masters []NodeID
	Coeffs  []float64
}

// Node is a mesh vertex with a physical coordinate and an optional
// constraint record set by the constraint builder.
type Node struct {
	X, Y, Z    float64
	Constraint *NodeConstraint

	refs   int32
	origin nodeOrigin
}

// Element is one cell in the refinement tree. Children is empty iff the
// element is active (a leaf carrying unknowns); Parent is -1 for roots.
type Element struct {
	Type        celltype.CellType
	Nodes       []NodeID
	Parent      ElemID
	Children    []ElemID
	Level       int
	Partition   int
	BoundaryIDs []int // per side; -1 means interior/untagged
}

// Active reports whether the element is a leaf of the refinement tree.
func (e *Element) Active() bool { return len(e.Children) == 0 }

// Config carries mesh construction parameters.
type Config struct {
	MaxLevel int         // Maximum refinement level (root = 0)
	Rank     int         // Locally owned partition id
	Log      *zap.Logger // Optional; defaults to a nop logger
}

// Mesh owns the element arena and node store for one process. Elements of
// remote partitions may be present as ghosts; which partitions are visible
// is driven by the external ghost exchange via SetGhosted.
type Mesh struct {
	cfg Config
	log *zap.Logger

	elems     []Element
	elemAlive []bool
	freeElems []ElemID

	nodes     []Node
	freeNodes []NodeID

	// Dedup of embedding-derived nodes, keyed by the global node set that
	// defines them. Edge midpoints are the common case and pack into a
	// gocfd EdgeKey; larger supports use a sorted array key.
	edgeNodes map[types.EdgeKey]NodeID
	faceNodes map[faceKey]NodeID

	ghosted map[int]struct{}
	locked  map[int]bool

	sideIndex      map[faceKey][]elemSide
	sideIndexDirty bool
}

type originKind uint8

const (
	originCorner originKind = iota
	originEdge
	originFace
)

type nodeOrigin struct {
	kind originKind
	edge types.EdgeKey
	face faceKey
}

// faceKey is a canonical key over up to eight node ids.
type faceKey struct {
	n int32
	v [8]int32
}

func makeFaceKey(ids []NodeID) faceKey {
	var k faceKey
	k.n = int32(len(ids))
	for i, id := range ids {
		k.v[i] = int32(id)
	}
	s := k.v[:len(ids)]
	sort.Slice(s, func(i, j int) bool { return s[i] < s[j] })
	return k
}

// NewMesh creates an empty mesh.
func NewMesh(cfg Config) *Mesh {
	if cfg.Log == nil {
		cfg.Log = zap.NewNop()
	}
	if cfg.MaxLevel <= 0 {
		cfg.MaxLevel = 10
	}
	return &Mesh{
		cfg:       cfg,
		log:       cfg.Log,
		edgeNodes: make(map[types.EdgeKey]NodeID),
		faceNodes: make(map[faceKey]NodeID),
		ghosted:   make(map[int]struct{}),
		locked:    make(map[int]bool),
	}
}

// Rank returns the locally owned partition id.
func (m *Mesh) Rank() int { return m.cfg.Rank }

// MaxLevel returns the configured refinement depth limit.
func (m *Mesh) MaxLevel() int { return m.cfg.MaxLevel }

// AddNode appends a node at the given coordinate and returns its id.
func (m *Mesh) AddNode(x, y, z float64) NodeID {
	return m.allocNode(Node{X: x, Y: y, Z: z, origin: nodeOrigin{kind: originCorner}})
}

// AddElement appends a root element. The node sequence must match the
// catalog node count for the type.
func (m *Mesh) AddElement(ct celltype.CellType, conn []NodeID, partition int) (ElemID, error) {
	info, err := celltype.Lookup(ct)
	if err != nil {
		return InvalidElem, err
	}
	if len(conn) != info.NumNodes {
		return InvalidElem, fmt.Errorf("cell type %s expects %d nodes, got %d", ct, info.NumNodes, len(conn))
	}
	for _, nid := range conn {
		if int(nid) < 0 || int(nid) >= len(m.nodes) {
			return InvalidElem, fmt.Errorf("node %d out of range", nid)
		}
	}
	bids := make([]int, len(info.SideNodes))
	for i := range bids {
		bids[i] = -1
	}
	nodes := make([]NodeID, len(conn))
	copy(nodes, conn)
	id := m.allocElement(Element{
		Type:        ct,
		Nodes:       nodes,
		Parent:      InvalidElem,
		Level:       0,
		Partition:   partition,
		BoundaryIDs: bids,
	})
	for _, nid := range nodes {
		m.retainNode(nid)
	}
	m.sideIndexDirty = true
	return id, nil
}

// Elem returns the element record for id. The pointer is invalidated by
// the next Refine or Coarsen.
func (m *Mesh) Elem(id ElemID) (*Element, error) {
	if int(id) < 0 || int(id) >= len(m.elems) || !m.elemAlive[id] {
		return nil, fmt.Errorf("element %d does not exist", id)
	}
	return &m.elems[id], nil
}

// Node returns the node record for id.
func (m *Mesh) Node(id NodeID) (*Node, error) {
	if int(id) < 0 || int(id) >= len(m.nodes) {
		return nil, fmt.Errorf("node %d does not exist", id)
	}
	return &m.nodes[id], nil
}

// NumNodes returns the node arena length, including freed slots. Field
// storage indexed by NodeID must be at least this long.
func (m *Mesh) NumNodes() int { return len(m.nodes) }

// NumElements returns the element arena length, including freed slots.
func (m *Mesh) NumElements() int { return len(m.elems) }

// Alive reports whether id addresses a live element slot.
func (m *Mesh) Alive(id ElemID) bool {
	return int(id) >= 0 && int(id) < len(m.elems) && m.elemAlive[id]
}

// ActiveElements returns ids of all leaves in arena order. Arena order is
// stable between mutations, which keeps downstream numbering reproducible.
func (m *Mesh) ActiveElements() []ElemID {
	var out []ElemID
	for i := range m.elems {
		if m.elemAlive[i] && m.elems[i].Active() {
			out = append(out, ElemID(i))
		}
	}
	return out
}

// Partitions returns the sorted set of partition ids present on active
// elements.
func (m *Mesh) Partitions() []int {
	seen := make(map[int]bool)
	for i := range m.elems {
		if m.elemAlive[i] && m.elems[i].Active() {
			seen[m.elems[i].Partition] = true
		}
	}
	out := make([]int, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Ints(out)
	return out
}

// SetGhosted records which remote partitions are visible locally. Fed by
// the external ghost exchange after each barrier.
func (m *Mesh) SetGhosted(partitions []int) {
	m.ghosted = make(map[int]struct{}, len(partitions))
	for _, p := range partitions {
		m.ghosted[p] = struct{}{}
	}
}

func (m *Mesh) visible(partition int) bool {
	if partition == m.cfg.Rank {
		return true
	}
	_, ok := m.ghosted[partition]
	return ok
}

// BeginPass marks a partition as inside a single-writer indexing pass.
// Mutations of elements on a locked partition fail with ErrElementLocked
// until EndPass.
func (m *Mesh) BeginPass(partition int) error {
	if m.locked[partition] {
		return fmt.Errorf("%w: partition %d pass already in progress", ErrElementLocked, partition)
	}
	m.locked[partition] = true
	return nil
}

// EndPass releases the pass lock for a partition.
func (m *Mesh) EndPass(partition int) {
	delete(m.locked, partition)
}

// SetBoundaryID tags side s of an element with a boundary id. Tags
// propagate to covering child sides on refinement.
func (m *Mesh) SetBoundaryID(id ElemID, side, boundary int) error {
	e, err := m.Elem(id)
	if err != nil {
		return err
	}
	if side < 0 || side >= len(e.BoundaryIDs) {
		return fmt.Errorf("element %d has no side %d", id, side)
	}
	e.BoundaryIDs[side] = boundary
	return nil
}

// Coordinates returns the element's node coordinates as parallel slices,
// one entry per node in catalog order.
func (m *Mesh) Coordinates(id ElemID) (x, y, z []float64, err error) {
	e, err := m.Elem(id)
	if err != nil {
		return nil, nil, nil, err
	}
	x = make([]float64, len(e.Nodes))
	y = make([]float64, len(e.Nodes))
	z = make([]float64, len(e.Nodes))
	for i, nid := range e.Nodes {
		n := m.nodes[nid]
		x[i], y[i], z[i] = n.X, n.Y, n.Z
	}
	return x, y, z, nil
}

// internal allocation helpers

func (m *Mesh) allocElement(e Element) ElemID {
	if n := len(m.freeElems); n > 0 {
		id := m.freeElems[n-1]
		m.freeElems = m.freeElems[:n-1]
		m.elems[id] = e
		m.elemAlive[id] = true
		return id
	}
	m.elems = append(m.elems, e)
	m.elemAlive = append(m.elemAlive, true)
	return ElemID(len(m.elems) - 1)
}

func (m *Mesh) freeElement(id ElemID) {
	m.elems[id] = Element{Parent: InvalidElem}
	m.elemAlive[id] = false
	m.freeElems = append(m.freeElems, id)
}

func (m *Mesh) allocNode(n Node) NodeID {
	if k := len(m.freeNodes); k > 0 {
		id := m.freeNodes[k-1]
		m.freeNodes = m.freeNodes[:k-1]
		m.nodes[id] = n
		return id
	}
	m.nodes = append(m.nodes, n)
	return NodeID(len(m.nodes) - 1)
}

func (m *Mesh) retainNode(id NodeID) {
	m.nodes[id].refs++
}

// releaseNode drops one reference; a derived node with no remaining
// references is removed from the dedup maps and its slot recycled.
func (m *Mesh) releaseNode(id NodeID) {
	n := &m.nodes[id]
	n.refs--
	if n.refs > 0 || n.origin.kind == originCorner {
		return
	}
	switch n.origin.kind {
	case originEdge:
		delete(m.edgeNodes, n.origin.edge)
	case originFace:
		delete(m.faceNodes, n.origin.face)
	}
	m.nodes[id] = Node{}
	m.freeNodes = append(m.freeNodes, id)
}

// lookupDerived finds an existing embedding-derived node for the given
// defining global node set.
func (m *Mesh) lookupDerived(ids []NodeID) (NodeID, bool) {
	if len(ids) == 2 {
		nid, ok := m.edgeNodes[types.NewEdgeKey([2]int{int(ids[0]), int(ids[1])})]
		return nid, ok
	}
	nid, ok := m.faceNodes[makeFaceKey(ids)]
	return nid, ok
}

// addDerivedNode creates a new embedding-derived node and registers it in
// the dedup maps.
func (m *Mesh) addDerivedNode(x, y, z float64, ids []NodeID) NodeID {
	var origin nodeOrigin
	if len(ids) == 2 {
		origin = nodeOrigin{kind: originEdge, edge: types.NewEdgeKey([2]int{int(ids[0]), int(ids[1])})}
	} else {
		origin = nodeOrigin{kind: originFace, face: makeFaceKey(ids)}
	}
	nid := m.allocNode(Node{X: x, Y: y, Z: z, origin: origin})
	switch origin.kind {
	case originEdge:
		m.edgeNodes[origin.edge] = nid
	case originFace:
		m.faceNodes[origin.face] = nid
	}
	return nid
}
