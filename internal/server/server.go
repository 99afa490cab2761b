package server

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/commit"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/graph"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/session"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/tools"
)

// Deps are the collaborators shared by every tool handler.
type Deps struct {
	Meta        *storage.MetaStore
	Coordinator *commit.Coordinator
	Closure     graph.Closure
	Logger      logrus.FieldLogger
}

// New creates a fully configured MCP server with all tools registered.
// Missing collaborators fall back to a logging coordinator and BFS closures.
func New(deps Deps) *mcp.Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.Coordinator == nil {
		deps.Coordinator = commit.New(deps.Logger)
	}
	if deps.Closure == nil {
		deps.Closure = graph.BFSClosure{}
	}
	sess := session.New()

	pt := &tools.ProjectTools{Meta: deps.Meta, Session: sess}
	vt := &tools.VersionTools{Session: sess}
	et := &tools.EntityTools{Session: sess, Coordinator: deps.Coordinator}
	gt := &tools.GraphTools{Session: sess, Closure: deps.Closure}

	srv := mcp.NewServer(&mcp.Implementation{
		Name:    "trace-store",
		Version: "0.1.0",
	}, nil)

	// Project management tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_projects",
		Description: "List all projects with optional status filter (active, archived, all)",
	}, pt.ListProjects)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_project",
		Description: "Create a new project with its own isolated database",
	}, pt.CreateProject)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "switch_project",
		Description: "Switch the active project context for the current session",
	}, pt.SwitchProject)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_current_project",
		Description: "Get information about the currently active project",
	}, pt.GetCurrentProject)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "archive_project",
		Description: "Archive a project (preserves data, makes it inactive)",
	}, pt.ArchiveProject)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "delete_project",
		Description: "Permanently delete a project and every version of its data (irreversible)",
	}, pt.DeleteProject)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "restore_project",
		Description: "Restore an archived project back to active status",
	}, pt.RestoreProject)

	// Version tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "create_version",
		Description: "Create a new project version after the latest one (requires active project)",
	}, vt.CreateVersion)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_versions",
		Description: "List the versions of the current project in order (requires active project)",
	}, vt.ListVersions)

	// Versioned entity tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "commit_changes",
		Description: "Commit added, modified and removed artifacts and trace links to a version in one transaction (requires active project)",
	}, et.CommitChanges)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "set_complete_set",
		Description: "Replace the whole content of a version: entities not listed are removed (requires active project)",
	}, et.SetCompleteSet)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_entities",
		Description: "List the artifacts or trace links that exist at a version (requires active project)",
	}, et.GetEntities)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_entity",
		Description: "Get the record that defines an entity at a version (requires active project)",
	}, et.GetEntity)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "entity_history",
		Description: "List every version record of an entity in version order (requires active project)",
	}, et.EntityHistory)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "get_delta",
		Description: "Compare two versions: added, modified and removed artifacts and trace links (requires active project)",
	}, et.GetDelta)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "count_entities",
		Description: "Count the artifacts and trace links that exist at a version (requires active project)",
	}, et.CountEntities)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_commit_errors",
		Description: "List the entities rejected by commits to a version (requires active project)",
	}, et.ListCommitErrors)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "search_artifacts",
		Description: "Search artifacts as they exist at a version using FTS5 full-text search (requires active project)",
	}, et.SearchArtifacts)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "list_trace_matrices",
		Description: "List artifact types and the type pairs connected by trace links (requires active project)",
	}, et.ListTraceMatrices)

	// Graph tools
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "artifact_graph",
		Description: "Build the artifact graph of a version with parents, children, subtree and supertree per artifact (requires active project)",
	}, gt.ArtifactGraph)

	mcp.AddTool(srv, &mcp.Tool{
		Name:        "artifact_neighborhood",
		Description: "Find artifacts reachable from one artifact through artifacts of the given types (requires active project)",
	}, gt.ArtifactNeighborhood)

	deps.Logger.Debug("mcp server ready")
	return srv
}
