package partition

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	lferrors "github.com/logflow/tracemine/pkg/errors"
	"github.com/logflow/tracemine/pkg/tracegraph"
)

// Operation is an atomic structural change to a partition graph. Applying an
// operation returns its exact inverse.
type Operation interface {
	apply(g *Graph) (Operation, error)
	String() string
}

// Split subdivides one partition. Parts must be non-empty, disjoint and
// together hold exactly the partition's members. The first part keeps the
// partition's id; the others get fresh ids, or IDs when given.
type Split struct {
	Partition ID
	Parts     [][]tracegraph.NodeID
	IDs       []ID
}

// Merge unions Others into Target. All partitions must share one label.
type Merge struct {
	Target ID
	Others []ID
}

// Apply performs op and returns the operation that undoes it.
func (g *Graph) Apply(op Operation) (Operation, error) {
	inv, err := op.apply(g)
	if err != nil {
		return nil, err
	}
	g.logger.Debug("Applied partition operation",
		zap.Stringer("op", op),
		zap.Int("partitions", len(g.ids)))
	return inv, nil
}

func (s *Split) String() string {
	sizes := make([]int, len(s.Parts))
	for i, p := range s.Parts {
		sizes[i] = len(p)
	}
	return fmt.Sprintf("split(%d -> %v)", s.Partition, sizes)
}

func (s *Split) apply(g *Graph) (Operation, error) {
	p := g.parts[s.Partition]
	if p == nil {
		return nil, invalidOp("split of unknown partition", s.Partition)
	}
	if len(s.Parts) < 2 {
		return nil, invalidOp("split needs at least two parts", s.Partition)
	}
	if s.IDs != nil && (len(s.IDs) != len(s.Parts) || s.IDs[0] != s.Partition) {
		return nil, invalidOp("split ids do not match parts", s.Partition)
	}

	total := 0
	for i, part := range s.Parts {
		if len(part) == 0 {
			return nil, invalidOp("split part is empty", s.Partition).WithContext("part", i)
		}
		for _, n := range part {
			if n < 0 || n >= len(g.owner) || g.owner[n] != s.Partition {
				return nil, invalidOp("split part holds a foreign node", s.Partition).WithContext("node", n)
			}
		}
		total += len(part)
	}
	seen := make(map[tracegraph.NodeID]bool, total)
	for _, part := range s.Parts {
		for _, n := range part {
			if seen[n] {
				return nil, invalidOp("split parts overlap", s.Partition).WithContext("node", n)
			}
			seen[n] = true
		}
	}
	if total != len(p.members) {
		return nil, invalidOp("split parts do not cover the partition", s.Partition)
	}
	for i := 1; s.IDs != nil && i < len(s.IDs); i++ {
		if _, ok := g.parts[s.IDs[i]]; ok {
			return nil, invalidOp("split id already in use", s.IDs[i])
		}
	}

	ids := make([]ID, len(s.Parts))
	ids[0] = s.Partition
	for i := 1; i < len(s.Parts); i++ {
		if s.IDs != nil {
			ids[i] = s.IDs[i]
		} else {
			ids[i] = g.allocate()
		}
	}

	label := p.label
	g.remove(s.Partition)
	for i, part := range s.Parts {
		g.add(ids[i], label, sortedCopy(part))
	}
	g.invalidate(ids, p.members)

	return &Merge{Target: ids[0], Others: ids[1:]}, nil
}

func (m *Merge) String() string {
	return fmt.Sprintf("merge(%d <- %v)", m.Target, m.Others)
}

func (m *Merge) apply(g *Graph) (Operation, error) {
	target := g.parts[m.Target]
	if target == nil {
		return nil, invalidOp("merge into unknown partition", m.Target)
	}
	if len(m.Others) == 0 {
		return nil, invalidOp("merge needs another partition", m.Target)
	}
	seen := map[ID]bool{m.Target: true}
	for _, o := range m.Others {
		other := g.parts[o]
		if other == nil {
			return nil, invalidOp("merge of unknown partition", o)
		}
		if seen[o] {
			return nil, invalidOp("merge of a partition with itself", o)
		}
		seen[o] = true
		if other.label != target.label {
			return nil, invalidOp("merge of partitions with different labels", o).
				WithContext("target", m.Target)
		}
	}

	parts := [][]tracegraph.NodeID{target.members}
	ids := []ID{m.Target}
	union := append([]tracegraph.NodeID(nil), target.members...)
	for _, o := range m.Others {
		other := g.parts[o]
		parts = append(parts, other.members)
		ids = append(ids, o)
		union = append(union, other.members...)
	}

	label := target.label
	for _, id := range ids {
		g.remove(id)
	}
	sort.Ints(union)
	g.add(m.Target, label, union)
	g.invalidate(ids, union)

	return &Split{Partition: m.Target, Parts: parts, IDs: ids}, nil
}

func invalidOp(msg string, partition ID) *lferrors.Error {
	return lferrors.New(lferrors.CodeInvalidOperation, msg).WithContext("partition", partition)
}

func sortedCopy(ns []tracegraph.NodeID) []tracegraph.NodeID {
	out := append([]tracegraph.NodeID(nil), ns...)
	sort.Ints(out)
	return out
}
