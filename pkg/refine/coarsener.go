package refine

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"

	"github.com/logflow/tracemine/pkg/hooks"
	"github.com/logflow/tracemine/pkg/invariant"
	"github.com/logflow/tracemine/pkg/partition"
)

// Coarsener merges partitions with identical one-step transition signatures
// as long as every invariant keeps holding.
type Coarsener struct {
	settings
	g         *partition.Graph
	invs      []invariant.Binary
	blacklist map[[2]partition.ID]bool
	merges    int
	rollbacks int
}

// NewCoarsener prepares coarsening of a converged graph.
func NewCoarsener(g *partition.Graph, invs *invariant.Set, opts ...Option) *Coarsener {
	return &Coarsener{
		settings:  newSettings(opts),
		g:         g,
		invs:      checkable(g, invs),
		blacklist: make(map[[2]partition.ID]bool),
	}
}

// Merges returns the number of committed merges.
func (c *Coarsener) Merges() int { return c.merges }

// Rollbacks returns the number of merges undone because they broke an
// invariant.
func (c *Coarsener) Rollbacks() int { return c.rollbacks }

// Signature is the one-step structural fingerprint of a partition: its label
// and the sorted (target label, relation set) pairs of its transitions.
func Signature(g *partition.Graph, id partition.ID) string {
	edges := g.Edges(id)
	entries := make([]string, len(edges))
	for i, e := range edges {
		entries[i] = g.Label(e.Target).String() + "|" + string(e.Relations)
	}
	sort.Strings(entries)
	var sb strings.Builder
	sb.WriteString(g.Label(id).String())
	sb.WriteString("#")
	sb.WriteString(strconv.Itoa(len(entries)))
	for _, e := range entries {
		sb.WriteString("\x00")
		sb.WriteString(e)
	}
	return sb.String()
}

// Candidates returns mergeable pairs in ascending (first, second) id order:
// non-sentinel partitions with equal signatures that were not rolled back
// before.
func (c *Coarsener) Candidates() [][2]partition.ID {
	type entry struct {
		id  partition.ID
		sig string
	}
	buckets := map[uint64][]entry{}
	var order []uint64
	for _, id := range c.g.IDs() {
		if c.g.Label(id).IsSentinel() {
			continue
		}
		sig := Signature(c.g, id)
		h := xxhash.Sum64String(sig)
		if _, ok := buckets[h]; !ok {
			order = append(order, h)
		}
		buckets[h] = append(buckets[h], entry{id, sig})
	}

	var pairs [][2]partition.ID
	for _, h := range order {
		b := buckets[h]
		for i := 0; i < len(b); i++ {
			for j := i + 1; j < len(b); j++ {
				pair := [2]partition.ID{b[i].id, b[j].id}
				if b[i].sig == b[j].sig && !c.blacklist[pair] {
					pairs = append(pairs, pair)
				}
			}
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i][0] != pairs[j][0] {
			return pairs[i][0] < pairs[j][0]
		}
		return pairs[i][1] < pairs[j][1]
	})
	return pairs
}

// Run merges until no candidate pair merges cleanly.
func (c *Coarsener) Run(ctx context.Context) error {
	start := time.Now()
	for {
		merged, err := c.pass(ctx)
		if err != nil {
			return err
		}
		if !merged {
			break
		}
	}
	c.logger.Info("Coarsening finished",
		zap.Int("merges", c.merges),
		zap.Int("rollbacks", c.rollbacks),
		zap.Int("partitions", c.g.Len()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

// pass tries candidates in order and stops at the first committed merge,
// since a merge changes the signatures of its neighbours.
func (c *Coarsener) pass(ctx context.Context) (bool, error) {
	for _, pair := range c.Candidates() {
		if err := c.between(ctx, "coarsen"); err != nil {
			return false, err
		}
		undo, err := c.g.Apply(&partition.Merge{Target: pair[0], Others: []partition.ID{pair[1]}})
		if err != nil {
			return false, err
		}
		violated, err := c.firstViolated()
		if err != nil {
			return false, err
		}
		label := c.g.Label(pair[0]).String()

		if violated != nil {
			if _, err := c.g.Apply(undo); err != nil {
				return false, err
			}
			c.blacklist[pair] = true
			c.rollbacks++
			c.logger.Debug("Merge rolled back",
				zap.Int("target", pair[0]),
				zap.Int("other", pair[1]),
				zap.String("violated", violated.String()))
			if err := c.hooks.RunRollback(ctx, &hooks.MergeInfo{
				Target:     pair[0],
				Other:      pair[1],
				Label:      label,
				Partitions: c.g.Len(),
				Violated:   violated.String(),
				Count:      c.rollbacks,
			}); err != nil {
				return false, err
			}
			continue
		}

		c.merges++
		if c.sanity {
			if err := c.g.CheckSanity(); err != nil {
				return false, err
			}
		}
		c.logger.Debug("Merged partitions",
			zap.Int("target", pair[0]),
			zap.Int("other", pair[1]),
			zap.String("label", label))
		if err := c.hooks.RunMerge(ctx, &hooks.MergeInfo{
			Target:     pair[0],
			Other:      pair[1],
			Label:      label,
			Partitions: c.g.Len(),
			Count:      c.merges,
		}); err != nil {
			return false, err
		}
		return true, nil
	}
	return false, nil
}

func (c *Coarsener) firstViolated() (*invariant.Binary, error) {
	for i := range c.invs {
		p, err := c.check(c.invs[i], c.g)
		if err != nil {
			return nil, err
		}
		if p != nil {
			return &c.invs[i], nil
		}
	}
	return nil, nil
}
