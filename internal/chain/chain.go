package chain

import (
	"context"

	"github.com/flowguard/flowguard/internal/flowtype"
)

// Chain is an ordered, stat-tracked sequence of Nodes built from a matched
// rule (spec §4.I). Chain is immutable after construction and safe for
// concurrent use across many Execute calls; only the atomic counters
// mutate.
type Chain struct {
	name       string
	nodes      []Node
	nodeStats  []*NodeStats
	chainStats *ChainStats
}

// New builds a Chain named name from nodes, executed in the given order.
func New(name string, nodes []Node) *Chain {
	nodeStats := make([]*NodeStats, len(nodes))
	for i := range nodeStats {
		nodeStats[i] = &NodeStats{}
	}
	return &Chain{
		name:       name,
		nodes:      nodes,
		nodeStats:  nodeStats,
		chainStats: &ChainStats{},
	}
}

// Name returns the chain's name (typically the matched rule's name).
func (c *Chain) Name() string { return c.name }

// Len reports how many nodes the chain holds.
func (c *Chain) Len() int { return len(c.nodes) }

// Stats returns the aggregate chain-level counters.
func (c *Chain) Stats() ChainCounters { return c.chainStats.Snapshot() }

// NodeStats returns the per-node counters in declared order.
func (c *Chain) NodeStats() []NodeCounters {
	out := make([]NodeCounters, len(c.nodeStats))
	for i, s := range c.nodeStats {
		out[i] = s.Snapshot()
	}
	return out
}

// Execute runs every node in declared order, short-circuiting on the first
// Rejected or Banned verdict (spec §4.I). Any Concurrency node's acquired
// permit is released unconditionally on return, including when a later
// node panics, so permits never leak on any exit path (spec §9).
func (c *Chain) Execute(ctx context.Context, req *flowtype.RequestContext) (Result, error) {
	var releases []func()
	defer func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}()

	c.chainStats.total.Add(1)

	for i, node := range c.nodes {
		st := c.nodeStats[i]
		st.attempts.Add(1)

		result, release, err := node.Execute(ctx, req)
		if release != nil {
			releases = append(releases, release)
		}
		if err != nil {
			st.errored.Add(1)
			return Result{}, err
		}

		switch result.Outcome {
		case Rejected:
			st.rejected.Add(1)
			c.chainStats.rejected.Add(1)
			return result, nil
		case Banned:
			st.rejected.Add(1)
			c.chainStats.banned.Add(1)
			return result, nil
		default:
			st.allowed.Add(1)
		}
	}

	c.chainStats.allowed.Add(1)
	return Result{Outcome: Allowed}, nil
}
