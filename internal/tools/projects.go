package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/pkg/errors"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/session"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

// ProjectTools holds references needed by project lifecycle tool handlers.
// Every created project starts with version 1.1.1, so commits can follow
// without a create_version call.
type ProjectTools struct {
	Meta    *storage.MetaStore
	Session *session.Session
}

// ProjectState is a project together with its frontier version and the
// number of entities present there. Version is nil for a project that has
// no version yet.
type ProjectState struct {
	Project   *models.Project        `json:"project"`
	Version   *models.ProjectVersion `json:"latest_version"`
	Artifacts int                    `json:"artifacts"`
	Traces    int                    `json:"traces"`
}

// --- Input types ---

type ListProjectsInput struct {
	Status string `json:"status,omitempty" jsonschema:"Filter projects by status: active, archived, or all (default: active)"`
}

type CreateProjectInput struct {
	Name        string `json:"name" jsonschema:"Unique project name (slug-friendly)"`
	Description string `json:"description,omitempty" jsonschema:"Optional project description"`
	Actor       string `json:"actor,omitempty" jsonschema:"Who creates the project and its first version"`
}

// ProjectNameInput names the project a lifecycle tool acts on.
type ProjectNameInput struct {
	Name string `json:"name" jsonschema:"Project name"`
}

// --- Handlers ---

func (t *ProjectTools) ListProjects(ctx context.Context, _ *mcp.CallToolRequest, input ListProjectsInput) (*mcp.CallToolResult, any, error) {
	status := input.Status
	if status == "" {
		status = "active"
	}
	projects, err := t.Meta.ListProjects(ctx, status)
	if err != nil {
		return toolError("Failed to list projects: %v", err), nil, nil
	}
	return toolJSON(nonNil(projects))
}

// CreateProject creates the project, makes it current and mints its first
// version.
func (t *ProjectTools) CreateProject(ctx context.Context, _ *mcp.CallToolRequest, input CreateProjectInput) (*mcp.CallToolResult, any, error) {
	if input.Name == "" {
		return toolError("Project name is required"), nil, nil
	}
	proj, err := t.Meta.CreateProject(ctx, input.Name, input.Description)
	if err != nil {
		return toolError("Failed to create project: %v", err), nil, nil
	}
	if _, err := t.Session.SwitchProject(ctx, t.Meta, proj.Name); err != nil {
		return toolError("Project created but failed to switch: %v", err), nil, nil
	}
	ps, err := t.Session.Require()
	if err != nil {
		return toolError("Project created but not open: %v", err), nil, nil
	}
	pv, err := ps.NextVersion(ctx, models.BumpRevision, actorOr(input.Actor))
	if err != nil {
		return toolError("Project created but its first version failed: %v", err), nil, nil
	}
	return toolJSON(ProjectState{Project: proj, Version: &pv})
}

func (t *ProjectTools) SwitchProject(ctx context.Context, _ *mcp.CallToolRequest, input ProjectNameInput) (*mcp.CallToolResult, any, error) {
	if input.Name == "" {
		return toolError("Project name is required"), nil, nil
	}
	proj, err := t.Session.SwitchProject(ctx, t.Meta, input.Name)
	if err != nil {
		return toolError("Failed to switch project: %v", err), nil, nil
	}
	return t.state(ctx, proj)
}

// GetCurrentProject reports the active project, its latest version and the
// entity counts at that version.
func (t *ProjectTools) GetCurrentProject(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	id, name, ok := t.Session.GetCurrent()
	if !ok {
		return toolText("No project is currently active. Use switch_project to select one."), nil, nil
	}
	proj, err := t.Meta.GetProjectByID(ctx, id)
	if err != nil {
		return toolError("Active project %s is unavailable: %v", name, err), nil, nil
	}
	return t.state(ctx, proj)
}

func (t *ProjectTools) ArchiveProject(ctx context.Context, _ *mcp.CallToolRequest, input ProjectNameInput) (*mcp.CallToolResult, any, error) {
	if input.Name == "" {
		return toolError("Project name is required"), nil, nil
	}
	// The project db is moved, so the session must let go of it first.
	t.Session.ClearIf(input.Name)

	proj, err := t.Meta.ArchiveProject(ctx, input.Name)
	if err != nil {
		return toolError("Failed to archive project: %v", err), nil, nil
	}
	return toolJSON(proj)
}

func (t *ProjectTools) DeleteProject(ctx context.Context, _ *mcp.CallToolRequest, input ProjectNameInput) (*mcp.CallToolResult, any, error) {
	if input.Name == "" {
		return toolError("Project name is required"), nil, nil
	}
	t.Session.ClearIf(input.Name)

	if err := t.Meta.DeleteProject(ctx, input.Name); err != nil {
		return toolError("Failed to delete project: %v", err), nil, nil
	}
	return toolText("Project " + input.Name + " and all its versions deleted."), nil, nil
}

func (t *ProjectTools) RestoreProject(ctx context.Context, _ *mcp.CallToolRequest, input ProjectNameInput) (*mcp.CallToolResult, any, error) {
	if input.Name == "" {
		return toolError("Project name is required"), nil, nil
	}
	proj, err := t.Meta.RestoreProject(ctx, input.Name)
	if err != nil {
		return toolError("Failed to restore project: %v", err), nil, nil
	}
	return toolJSON(proj)
}

// state describes proj as the session's current project.
func (t *ProjectTools) state(ctx context.Context, proj *models.Project) (*mcp.CallToolResult, any, error) {
	ps, errResult := requireProject(t.Session)
	if errResult != nil {
		return errResult, nil, nil
	}
	out, err := projectState(ctx, ps, proj)
	if err != nil {
		return toolError("Failed to read project state: %v", err), nil, nil
	}
	return toolJSON(out)
}

func projectState(ctx context.Context, ps *storage.ProjectStore, proj *models.Project) (ProjectState, error) {
	out := ProjectState{Project: proj}
	pv, err := ps.LatestVersion(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return out, nil
	}
	if err != nil {
		return out, err
	}
	out.Version = &pv
	if out.Artifacts, err = ps.Artifacts.CountInVersion(ctx, pv); err != nil {
		return out, err
	}
	out.Traces, err = ps.Traces.CountInVersion(ctx, pv)
	return out, err
}
