package partitions

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/notargets/gamr/mesh"
)

// ChangeKind identifies one kind of batched mutation.
type ChangeKind uint8

const (
	ChangeRefine ChangeKind = iota
	ChangeCoarsen
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeRefine:
		return "refine"
	case ChangeCoarsen:
		return "coarsen"
	default:
		return fmt.Sprintf("ChangeKind(%d)", uint8(k))
	}
}

// Change is one element of a partition's emitted change set.
type Change struct {
	Elem mesh.ElemID
	Kind ChangeKind
}

// GhostExchanger is the external collaborator that publishes a partition's
// change set at the collective barrier and returns the remote partitions
// now visible (ghosted) locally. Liveness of the barrier is the
// transport's concern; no timeout is imposed here.
type GhostExchanger interface {
	Exchange(ctx context.Context, rank int, changes []Change) (ghosted []int, err error)
}

// Batch accumulates refine/coarsen requests for the locally owned
// partition. Nothing touches the mesh until Commit; an aborted batch has
// no persisted effect. Once Commit starts applying, the change set is
// final for the pass.
type Batch struct {
	m       *mesh.Mesh
	log     *zap.Logger
	changes []Change
	done    bool
}

// NewBatch starts an empty batch against m.
func NewBatch(m *mesh.Mesh) *Batch {
	return &Batch{m: m, log: zap.NewNop()}
}

// WithLogger attaches a logger for batch lifecycle events.
func (b *Batch) WithLogger(log *zap.Logger) *Batch {
	b.log = log
	return b
}

// Refine queues a refinement. Preconditions that can be checked without
// mutating (element exists, is active, below max level) fail now; the
// rest fail at Commit.
func (b *Batch) Refine(id mesh.ElemID) error {
	if b.done {
		return fmt.Errorf("batch already committed or aborted")
	}
	e, err := b.m.Elem(id)
	if err != nil {
		return err
	}
	if !e.Active() {
		return fmt.Errorf("refine: element %d is not active", id)
	}
	if e.Level >= b.m.MaxLevel() {
		return fmt.Errorf("%w: element %d at level %d",
			mesh.ErrRefinementDepthExceeded, id, e.Level)
	}
	b.changes = append(b.changes, Change{Elem: id, Kind: ChangeRefine})
	return nil
}

// Coarsen queues a coarsen of a refined element flagged by the external
// criterion.
func (b *Batch) Coarsen(id mesh.ElemID) error {
	if b.done {
		return fmt.Errorf("batch already committed or aborted")
	}
	e, err := b.m.Elem(id)
	if err != nil {
		return err
	}
	if e.Active() {
		return fmt.Errorf("%w: element %d has no children", mesh.ErrIllegalCoarsen, id)
	}
	b.changes = append(b.changes, Change{Elem: id, Kind: ChangeCoarsen})
	return nil
}

// Changes returns the queued change set.
func (b *Batch) Changes() []Change {
	out := make([]Change, len(b.changes))
	copy(out, b.changes)
	return out
}

// Abort discards the batch before its barrier; the mesh is untouched.
func (b *Batch) Abort() {
	b.done = true
	b.changes = nil
}

// Commit applies the queued changes in order and then runs the collective
// barrier through the ghost exchanger, updating the mesh's ghost set from
// the result. A nil exchanger skips the barrier for single-partition runs.
// The context covers only the barrier; application itself is local.
func (b *Batch) Commit(ctx context.Context, ex GhostExchanger) error {
	if b.done {
		return fmt.Errorf("batch already committed or aborted")
	}
	b.done = true

	for _, ch := range b.changes {
		var err error
		switch ch.Kind {
		case ChangeRefine:
			err = b.m.Refine(ch.Elem)
		case ChangeCoarsen:
			err = b.m.Coarsen(ch.Elem)
		}
		if err != nil {
			return fmt.Errorf("batch %s of element %d: %w", ch.Kind, ch.Elem, err)
		}
	}
	b.log.Debug("batch applied",
		zap.Int("rank", b.m.Rank()),
		zap.Int("changes", len(b.changes)))

	if ex == nil {
		return nil
	}
	ghosted, err := ex.Exchange(ctx, b.m.Rank(), b.changes)
	if err != nil {
		return fmt.Errorf("ghost exchange barrier: %w", err)
	}
	b.m.SetGhosted(ghosted)
	return nil
}
