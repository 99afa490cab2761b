package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/graph"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/session"
)

// GraphTools holds references needed by artifact graph tool handlers.
type GraphTools struct {
	Session *session.Session
	Closure graph.Closure
}

// --- Input types ---

type ArtifactGraphInput struct {
	Version    string `json:"version,omitempty" jsonschema:"Version major.minor.revision (default: latest)"`
	ArtifactID string `json:"artifact_id,omitempty" jsonschema:"Return only this artifact's node instead of the whole graph"`
}

type ArtifactNeighborhoodInput struct {
	Version    string   `json:"version,omitempty" jsonschema:"Version major.minor.revision (default: latest)"`
	ArtifactID string   `json:"artifact_id" jsonschema:"Artifact to start from"`
	Types      []string `json:"types,omitempty" jsonschema:"Artifact types the search may visit"`
}

// --- Handlers ---

func (t *GraphTools) ArtifactGraph(ctx context.Context, _ *mcp.CallToolRequest, input ArtifactGraphInput) (*mcp.CallToolResult, any, error) {
	g, errResult := t.load(ctx, input.Version)
	if errResult != nil {
		return errResult, nil, nil
	}

	if input.ArtifactID != "" {
		view, err := g.View(input.ArtifactID)
		if err != nil {
			return toolError("Failed to read node: %v", err), nil, nil
		}
		return toolJSON(view)
	}
	return toolJSON(g.Views())
}

func (t *GraphTools) ArtifactNeighborhood(ctx context.Context, _ *mcp.CallToolRequest, input ArtifactNeighborhoodInput) (*mcp.CallToolResult, any, error) {
	if input.ArtifactID == "" {
		return toolError("Artifact id is required"), nil, nil
	}
	g, errResult := t.load(ctx, input.Version)
	if errResult != nil {
		return errResult, nil, nil
	}

	ids, err := g.NeighborhoodWithTypes(input.ArtifactID, input.Types)
	if err != nil {
		return toolError("Failed to compute neighborhood: %v", err), nil, nil
	}
	return toolJSON(ids)
}

func (t *GraphTools) load(ctx context.Context, version string) (*graph.ArtifactGraph, *mcp.CallToolResult) {
	ps, pv, errResult := projectVersion(ctx, t.Session, version)
	if errResult != nil {
		return nil, errResult
	}
	var opts []graph.BuildOption
	if t.Closure != nil {
		opts = append(opts, graph.WithClosure(t.Closure))
	}
	g, err := graph.Load(ctx, ps, pv, opts...)
	if err != nil {
		return nil, toolError("Failed to build artifact graph: %v", err)
	}
	return g, nil
}
