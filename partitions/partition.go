// Package partitions maps active elements to distributed partitions and
// coordinates refine/coarsen batches across them. Partition ids live on
// the mesh elements; this package builds layouts from them, proposes
// rebalanced layouts via METIS, and runs the per-pass barrier against the
// external ghost exchange.
package partitions

import (
	"fmt"
	"math"

	"github.com/notargets/gamr/mesh"
)

// Layout is one assignment of active elements to partitions. Active and
// EToP are parallel slices in arena order.
type Layout struct {
	Active        []mesh.ElemID
	EToP          []int32
	NumPartitions int
}

// BuildLayout snapshots the partition assignment currently on the mesh.
func BuildLayout(m *mesh.Mesh) (*Layout, error) {
	active := m.ActiveElements()
	l := &Layout{
		Active: active,
		EToP:   make([]int32, len(active)),
	}
	maxPart := -1
	for i, id := range active {
		e, err := m.Elem(id)
		if err != nil {
			return nil, err
		}
		l.EToP[i] = int32(e.Partition)
		if e.Partition > maxPart {
			maxPart = e.Partition
		}
	}
	l.NumPartitions = maxPart + 1
	return l, nil
}

// Apply writes the layout's partition ids back onto the mesh elements.
// The partitioner runs between batches, never during one.
func (l *Layout) Apply(m *mesh.Mesh) error {
	if len(l.Active) != len(l.EToP) {
		return fmt.Errorf("layout: %d elements but %d assignments", len(l.Active), len(l.EToP))
	}
	for i, id := range l.Active {
		e, err := m.Elem(id)
		if err != nil {
			return fmt.Errorf("layout references stale element %d: %w", id, err)
		}
		e.Partition = int(l.EToP[i])
	}
	return nil
}

// Counts returns the number of active elements per partition.
func (l *Layout) Counts() []int {
	counts := make([]int, l.NumPartitions)
	for _, p := range l.EToP {
		counts[p]++
	}
	return counts
}

// Stats summarizes load balance across partitions.
type Stats struct {
	NumPartitions int
	MinElements   int
	MaxElements   int
	AvgElements   float64
	Imbalance     float64 // MaxElements / AvgElements
}

// Statistics computes load balance metrics for the layout.
func (l *Layout) Statistics() Stats {
	stats := Stats{
		NumPartitions: l.NumPartitions,
		MinElements:   math.MaxInt32,
		AvgElements:   float64(len(l.Active)) / float64(l.NumPartitions),
	}
	for _, c := range l.Counts() {
		if c < stats.MinElements {
			stats.MinElements = c
		}
		if c > stats.MaxElements {
			stats.MaxElements = c
		}
	}
	if stats.AvgElements > 0 {
		stats.Imbalance = float64(stats.MaxElements) / stats.AvgElements
	}
	return stats
}

// Validate checks that every assignment is a legal partition id.
func (l *Layout) Validate() error {
	if len(l.Active) != len(l.EToP) {
		return fmt.Errorf("layout: %d elements but %d assignments", len(l.Active), len(l.EToP))
	}
	for i, p := range l.EToP {
		if p < 0 || int(p) >= l.NumPartitions {
			return fmt.Errorf("element %d assigned to partition %d of %d",
				l.Active[i], p, l.NumPartitions)
		}
	}
	return nil
}
