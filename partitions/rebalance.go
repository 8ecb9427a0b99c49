package partitions

import (
	"fmt"
	"sort"

	metis "github.com/notargets/go-metis"

	"github.com/notargets/gamr/celltype"
	"github.com/notargets/gamr/mesh"
)

// RebalanceConfig holds configuration for graph-based repartitioning of
// the active element set.
type RebalanceConfig struct {
	NumPartitions    int32
	ImbalanceFactor  float32 // e.g. 1.05 for 5% imbalance
	UseEdgeWeights   bool
	UseVertexWeights bool
	Objective        string // "cut" or "vol"
}

// DefaultRebalanceConfig returns the default repartitioning configuration.
func DefaultRebalanceConfig(nparts int32) *RebalanceConfig {
	return &RebalanceConfig{
		NumPartitions:    nparts,
		ImbalanceFactor:  1.05,
		UseEdgeWeights:   true,
		UseVertexWeights: true,
		Objective:        "vol",
	}
}

// Rebalance partitions the dual graph of the active element set with
// METIS and returns the proposed layout. It does not touch the mesh;
// migration policy and Apply are the caller's. All partitions must be
// visible (ghosted) when the active set spans more than the local rank,
// since adjacency is discovered through neighbor queries.
func Rebalance(m *mesh.Mesh, cfg *RebalanceConfig) (*Layout, error) {
	if cfg == nil || cfg.NumPartitions < 1 {
		return nil, fmt.Errorf("rebalance: need at least one partition")
	}
	active := m.ActiveElements()
	l := &Layout{
		Active:        active,
		EToP:          make([]int32, len(active)),
		NumPartitions: int(cfg.NumPartitions),
	}
	if cfg.NumPartitions == 1 || len(active) <= 1 {
		return l, nil
	}

	xadj, adjncy, vwgt, adjwgt, err := buildDualGraph(m, active, cfg)
	if err != nil {
		return nil, err
	}

	opts := make([]int32, metis.NoOptions)
	if err := metis.SetDefaultOptions(opts); err != nil {
		return nil, fmt.Errorf("failed to set METIS options: %w", err)
	}
	if cfg.Objective == "vol" {
		opts[metis.OptionObjType] = metis.ObjTypeVol
	} else {
		opts[metis.OptionObjType] = metis.ObjTypeCut
	}
	ubvec := []float32{cfg.ImbalanceFactor}

	var vwgtPtr, adjwgtPtr []int32
	if cfg.UseVertexWeights {
		vwgtPtr = vwgt
	}
	if cfg.UseEdgeWeights {
		adjwgtPtr = adjwgt
	}

	part, _, err := metis.PartGraphKwayWeighted(
		xadj, adjncy, vwgtPtr, adjwgtPtr,
		cfg.NumPartitions, nil, ubvec, opts,
	)
	if err != nil {
		return nil, fmt.Errorf("METIS partitioning failed: %w", err)
	}
	copy(l.EToP, part)
	return l, nil
}

// buildDualGraph converts the active element adjacency to METIS CSR form.
// Vertex weights model per-element cost by node count; edge weights model
// communication by shared-side node count. Neighbor relations across a
// refinement boundary are discovered from the finer side and mirrored so
// the graph stays symmetric.
func buildDualGraph(m *mesh.Mesh, active []mesh.ElemID, cfg *RebalanceConfig) (xadj, adjncy, vwgt, adjwgt []int32, err error) {
	pos := make(map[mesh.ElemID]int, len(active))
	for i, id := range active {
		pos[id] = i
	}

	type edge struct{ a, b int }
	weights := make(map[edge]int32)
	for i, id := range active {
		e, err := m.Elem(id)
		if err != nil {
			return nil, nil, nil, nil, err
		}
		for s := 0; s < len(e.BoundaryIDs); s++ {
			nb, err := m.NeighborAcross(id, s)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			if nb == mesh.InvalidElem {
				continue
			}
			j, ok := pos[nb]
			if !ok || j == i {
				continue
			}
			sideNodes, err := celltype.SideNodes(e.Type, s)
			if err != nil {
				continue
			}
			a, b := i, j
			if a > b {
				a, b = b, a
			}
			w := int32(len(sideNodes))
			if cur, ok := weights[edge{a, b}]; !ok || w > cur {
				weights[edge{a, b}] = w
			}
		}
	}

	adj := make([][]int, len(active))
	adjW := make(map[edge]int32, len(weights))
	for ed, w := range weights {
		adj[ed.a] = append(adj[ed.a], ed.b)
		adj[ed.b] = append(adj[ed.b], ed.a)
		adjW[ed] = w
	}
	for _, neighbors := range adj {
		sort.Ints(neighbors)
	}

	if cfg.UseVertexWeights {
		vwgt = make([]int32, len(active))
		for i, id := range active {
			e, _ := m.Elem(id)
			info, err := celltype.Lookup(e.Type)
			if err != nil {
				return nil, nil, nil, nil, err
			}
			vwgt[i] = int32(info.NumNodes)
		}
	}

	xadj = make([]int32, len(active)+1)
	for i, neighbors := range adj {
		for _, j := range neighbors {
			adjncy = append(adjncy, int32(j))
			if cfg.UseEdgeWeights {
				a, b := i, j
				if a > b {
					a, b = b, a
				}
				adjwgt = append(adjwgt, adjW[edge{a, b}])
			}
		}
		xadj[i+1] = int32(len(adjncy))
	}
	return xadj, adjncy, vwgt, adjwgt, nil
}
