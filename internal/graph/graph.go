// Package graph builds the transient artifact graph of one project version
// and answers ancestor, descendant and neighborhood queries over it.
//
// A trace link points from a child (its source) up to a parent (its target).
// The graph is rebuilt for every query and never persisted.
package graph

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

var tracer = otel.Tracer("trace-store.graph")

// ErrNodeNotFound is returned for artifact ids that are not in the graph.
var ErrNodeNotFound = errors.New("artifact not in graph")

type set map[string]struct{}

func (s set) add(id string) { s[id] = struct{}{} }

func (s set) has(id string) bool {
	_, ok := s[id]
	return ok
}

func (s set) sorted() []string {
	out := make([]string, 0, len(s))
	for id := range s {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// ArtifactNode is one artifact with its direct and transitive relations.
type ArtifactNode struct {
	ID   string
	Name string
	Type string

	Parents   set
	Children  set
	Subtree   set // transitive descendants
	Supertree set // transitive ancestors
}

func newNode(a models.Artifact) *ArtifactNode {
	return &ArtifactNode{
		ID:        a.ID,
		Name:      a.Name,
		Type:      a.Type,
		Parents:   make(set),
		Children:  make(set),
		Subtree:   make(set),
		Supertree: make(set),
	}
}

// ArtifactGraph is the closure-indexed graph of one project version.
type ArtifactGraph struct {
	nodes map[string]*ArtifactNode
	ids   []string // sorted
}

// Visible reports whether a trace link forms a graph edge: it must be
// visible, and generated links must not have been declined.
func Visible(t models.TraceLink) bool {
	return t.Visible && (t.TraceType == models.TraceManual || t.ApprovalStatus != models.ApprovalDeclined)
}

type buildConfig struct {
	closure Closure
}

// BuildOption configures Build.
type BuildOption func(*buildConfig)

// WithClosure selects the closure algorithm. The default is BFSClosure.
func WithClosure(c Closure) BuildOption {
	return func(cfg *buildConfig) { cfg.closure = c }
}

// Build creates the graph of artifacts connected by their visible trace
// links and computes every node's subtree and supertree. Links whose
// endpoints are not among artifacts are skipped.
func Build(ctx context.Context, artifacts []models.Artifact, traces []models.TraceLink, opts ...BuildOption) (*ArtifactGraph, error) {
	cfg := buildConfig{closure: BFSClosure{}}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := tracer.Start(ctx, "graph.Build",
		trace.WithAttributes(
			attribute.Int("graph.artifacts", len(artifacts)),
			attribute.Int("graph.traces", len(traces)),
		),
	)
	defer span.End()

	g := &ArtifactGraph{nodes: make(map[string]*ArtifactNode, len(artifacts))}
	for _, a := range artifacts {
		if _, dup := g.nodes[a.ID]; dup {
			continue
		}
		g.nodes[a.ID] = newNode(a)
		g.ids = append(g.ids, a.ID)
	}
	sort.Strings(g.ids)

	edges := 0
	for _, t := range traces {
		if !Visible(t) {
			continue
		}
		child, parent := g.nodes[t.SourceID], g.nodes[t.TargetID]
		if child == nil || parent == nil {
			continue
		}
		parent.Children.add(child.ID)
		child.Parents.add(parent.ID)
		edges++
	}
	span.SetAttributes(attribute.Int("graph.edges", edges))

	if err := cfg.closure.Compute(ctx, g); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, errors.Wrap(err, "compute closure")
	}
	span.SetStatus(codes.Ok, "")
	return g, nil
}

// SnapshotReader reads the resolved entities of a project version.
type SnapshotReader interface {
	Snapshot(ctx context.Context, pv models.ProjectVersion) (*storage.Snapshot, error)
}

// Load builds the graph of pv from one consistent snapshot.
func Load(ctx context.Context, r SnapshotReader, pv models.ProjectVersion, opts ...BuildOption) (*ArtifactGraph, error) {
	snap, err := r.Snapshot(ctx, pv)
	if err != nil {
		return nil, err
	}
	return Build(ctx, snap.Artifacts, snap.Traces, opts...)
}

// Len returns the number of nodes.
func (g *ArtifactGraph) Len() int {
	return len(g.ids)
}

// Node returns the node of an artifact.
func (g *ArtifactGraph) Node(id string) (*ArtifactNode, error) {
	n, ok := g.nodes[id]
	if !ok {
		return nil, errors.Wrapf(ErrNodeNotFound, "artifact %s", id)
	}
	return n, nil
}

// NeighborhoodWithTypes flood-fills from id over direct parent and child
// edges. Only nodes whose type is in allowedTypes are collected and
// expanded; the start node is always expanded and never collected.
func (g *ArtifactGraph) NeighborhoodWithTypes(id string, allowedTypes []string) ([]string, error) {
	start, err := g.Node(id)
	if err != nil {
		return nil, err
	}
	allowed := make(set, len(allowedTypes))
	for _, t := range allowedTypes {
		allowed.add(t)
	}

	visited := set{id: {}}
	found := make(set)
	queue := []*ArtifactNode{start}
	for len(queue) > 0 {
		n := queue[0]
		queue = queue[1:]
		for _, next := range adjacent(n) {
			if visited.has(next) {
				continue
			}
			visited.add(next)
			node := g.nodes[next]
			if !allowed.has(node.Type) {
				continue
			}
			found.add(next)
			queue = append(queue, node)
		}
	}
	return found.sorted(), nil
}

func adjacent(n *ArtifactNode) []string {
	out := make([]string, 0, len(n.Parents)+len(n.Children))
	out = append(out, n.Parents.sorted()...)
	return append(out, n.Children.sorted()...)
}

// NodeView is the serializable form of a node.
type NodeView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Type      string   `json:"type"`
	Parents   []string `json:"parents"`
	Children  []string `json:"children"`
	Subtree   []string `json:"subtree"`
	Supertree []string `json:"supertree"`
	Neighbors []string `json:"neighbors"`
}

// View returns the view of one node.
func (g *ArtifactGraph) View(id string) (NodeView, error) {
	n, err := g.Node(id)
	if err != nil {
		return NodeView{}, err
	}
	neighbors := make(set, len(n.Subtree)+len(n.Supertree))
	for id := range n.Subtree {
		neighbors.add(id)
	}
	for id := range n.Supertree {
		neighbors.add(id)
	}
	return NodeView{
		ID:        n.ID,
		Name:      n.Name,
		Type:      n.Type,
		Parents:   n.Parents.sorted(),
		Children:  n.Children.sorted(),
		Subtree:   n.Subtree.sorted(),
		Supertree: n.Supertree.sorted(),
		Neighbors: neighbors.sorted(),
	}, nil
}

// Views returns the view of every node keyed by artifact id.
func (g *ArtifactGraph) Views() map[string]NodeView {
	views := make(map[string]NodeView, len(g.ids))
	for _, id := range g.ids {
		views[id], _ = g.View(id)
	}
	return views
}
