package graph

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Closure fills the Subtree and Supertree sets of every node. Implementations
// must agree on the result: subtree(Y) holds every X that reaches Y through
// parent edges, supertree(X) every Y reached from X, neither holding the
// node itself.
type Closure interface {
	Compute(ctx context.Context, g *ArtifactGraph) error
}

// BFSClosure runs one breadth-first traversal per node in each direction.
// It is quadratic in the worst case and serves as the reference algorithm.
type BFSClosure struct{}

func (BFSClosure) Compute(ctx context.Context, g *ArtifactGraph) error {
	for _, id := range g.ids {
		if err := ctx.Err(); err != nil {
			return err
		}
		item := g.nodes[id]

		g.walk(item, func(n *ArtifactNode) set { return n.Parents }, func(n *ArtifactNode) {
			n.Subtree.add(item.ID)
		})
		delete(item.Subtree, item.ID)

		g.walk(item, func(n *ArtifactNode) set { return n.Children }, func(n *ArtifactNode) {
			n.Supertree.add(item.ID)
		})
		delete(item.Supertree, item.ID)
	}
	return nil
}

// walk visits every node reachable from start along next, start included.
func (g *ArtifactGraph) walk(start *ArtifactNode, next func(*ArtifactNode) set, visit func(*ArtifactNode)) {
	seen := set{start.ID: {}}
	queue := []*ArtifactNode{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		visit(n)
		for id := range next(n) {
			if seen.has(id) {
				continue
			}
			seen.add(id)
			queue = append(queue, g.nodes[id])
		}
	}
}

// ParallelClosure computes every node's ancestors concurrently and derives
// the subtrees from them. Workers <= 0 means one worker per CPU.
type ParallelClosure struct {
	Workers int
}

func (p ParallelClosure) Compute(ctx context.Context, g *ArtifactGraph) error {
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	ancestors := make([]set, len(g.ids))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for i, id := range g.ids {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := g.nodes[id]
			up := make(set)
			g.walk(item, func(n *ArtifactNode) set { return n.Parents }, func(n *ArtifactNode) {
				up.add(n.ID)
			})
			delete(up, id)
			ancestors[i] = up
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	for i, id := range g.ids {
		node := g.nodes[id]
		node.Supertree = ancestors[i]
		for a := range ancestors[i] {
			g.nodes[a].Subtree.add(id)
		}
	}
	return nil
}
