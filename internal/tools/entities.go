package tools

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/commit"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/session"
	"github.com/wagnerlima/memory-cloud/trace-store/internal/storage"
)

// EntityTools holds references needed by artifact and trace-link tool handlers.
type EntityTools struct {
	Session     *session.Session
	Coordinator *commit.Coordinator
}

// --- Input types ---

type ArtifactInput struct {
	ID         string            `json:"id,omitempty" jsonschema:"Artifact id; identifies an existing artifact regardless of its name"`
	Name       string            `json:"name,omitempty" jsonschema:"Unique artifact name"`
	Type       string            `json:"type,omitempty" jsonschema:"Artifact type (e.g., requirement, design, code, test)"`
	Summary    string            `json:"summary,omitempty" jsonschema:"Short summary"`
	Body       string            `json:"body,omitempty" jsonschema:"Full artifact content"`
	Attributes map[string]string `json:"attributes,omitempty" jsonschema:"Free-form custom attributes"`
}

func (in ArtifactInput) model() models.Artifact {
	return models.Artifact{
		ID:         in.ID,
		Name:       in.Name,
		Type:       in.Type,
		Summary:    in.Summary,
		Body:       in.Body,
		Attributes: in.Attributes,
	}
}

type TraceInput struct {
	ID             string   `json:"id,omitempty" jsonschema:"Trace link id"`
	SourceID       string   `json:"source_id,omitempty" jsonschema:"Id of the child artifact"`
	SourceName     string   `json:"source_name,omitempty" jsonschema:"Name of the child artifact, used when source_id is empty"`
	TargetID       string   `json:"target_id,omitempty" jsonschema:"Id of the parent artifact"`
	TargetName     string   `json:"target_name,omitempty" jsonschema:"Name of the parent artifact, used when target_id is empty"`
	TraceType      string   `json:"trace_type,omitempty" jsonschema:"manual (default) or generated"`
	ApprovalStatus string   `json:"approval_status,omitempty" jsonschema:"unreviewed, approved or declined; defaults to approved for manual links and unreviewed for generated ones"`
	Score          *float64 `json:"score,omitempty" jsonschema:"Confidence between 0 and 1; defaults to 1 for manual links"`
	Explanation    string   `json:"explanation,omitempty" jsonschema:"Why the link exists"`
	Visible        *bool    `json:"visible,omitempty" jsonschema:"Whether the link is shown; defaults to true"`
}

func (in TraceInput) model() models.TraceLink {
	t := models.TraceLink{
		ID:             in.ID,
		SourceID:       in.SourceID,
		TargetID:       in.TargetID,
		SourceName:     in.SourceName,
		TargetName:     in.TargetName,
		TraceType:      models.TraceType(in.TraceType),
		ApprovalStatus: models.ApprovalStatus(in.ApprovalStatus),
		Explanation:    in.Explanation,
		Visible:        true,
	}
	if t.TraceType == "" {
		t.TraceType = models.TraceManual
	}
	if t.ApprovalStatus == "" {
		t.ApprovalStatus = models.ApprovalUnreviewed
		if t.TraceType == models.TraceManual {
			t.ApprovalStatus = models.ApprovalApproved
		}
	}
	switch {
	case in.Score != nil:
		t.Score = *in.Score
	case t.TraceType == models.TraceManual:
		t.Score = 1
	}
	if in.Visible != nil {
		t.Visible = *in.Visible
	}
	return t
}

type CommitChangesInput struct {
	Version             string          `json:"version,omitempty" jsonschema:"Target version major.minor.revision (default: latest)"`
	Actor               string          `json:"actor,omitempty" jsonschema:"Who makes the change"`
	RequireLatest       bool            `json:"require_latest,omitempty" jsonschema:"Fail unless the target is the latest version"`
	UpdateDefaultLayout bool            `json:"update_default_layout,omitempty" jsonschema:"Refresh the default view layout after committing"`
	AddedArtifacts      []ArtifactInput `json:"added_artifacts,omitempty" jsonschema:"Artifacts to add"`
	ModifiedArtifacts   []ArtifactInput `json:"modified_artifacts,omitempty" jsonschema:"Artifacts to modify (matched by id, else by name)"`
	RemovedArtifacts    []ArtifactInput `json:"removed_artifacts,omitempty" jsonschema:"Artifacts to remove (id or name)"`
	AddedTraces         []TraceInput    `json:"added_traces,omitempty" jsonschema:"Trace links to add"`
	ModifiedTraces      []TraceInput    `json:"modified_traces,omitempty" jsonschema:"Trace links to modify"`
	RemovedTraces       []TraceInput    `json:"removed_traces,omitempty" jsonschema:"Trace links to remove (id or endpoints)"`
}

type SetCompleteSetInput struct {
	Version   string          `json:"version,omitempty" jsonschema:"Target version major.minor.revision (default: latest)"`
	Actor     string          `json:"actor,omitempty" jsonschema:"Who makes the change"`
	Artifacts []ArtifactInput `json:"artifacts,omitempty" jsonschema:"Every artifact of the version; all others are removed"`
	Traces    []TraceInput    `json:"traces,omitempty" jsonschema:"Every trace link of the version; all others are removed"`
}

type GetEntitiesInput struct {
	Kind       string `json:"kind,omitempty" jsonschema:"artifact (default) or trace_link"`
	Version    string `json:"version,omitempty" jsonschema:"Version major.minor.revision (default: latest)"`
	AllRecords bool   `json:"all_records,omitempty" jsonschema:"Return every version record of the kind across all versions instead of the state at one version"`
}

type GetEntityInput struct {
	Kind    string `json:"kind,omitempty" jsonschema:"artifact (default) or trace_link"`
	ID      string `json:"id" jsonschema:"Base entity id"`
	Version string `json:"version,omitempty" jsonschema:"Version major.minor.revision (default: latest)"`
}

type EntityHistoryInput struct {
	Kind string `json:"kind,omitempty" jsonschema:"artifact (default) or trace_link"`
	ID   string `json:"id" jsonschema:"Base entity id"`
}

type GetDeltaInput struct {
	Baseline string `json:"baseline,omitempty" jsonschema:"Baseline version major.minor.revision (default: the version before target)"`
	Target   string `json:"target,omitempty" jsonschema:"Target version major.minor.revision (default: latest)"`
}

type VersionInput struct {
	Version string `json:"version,omitempty" jsonschema:"Version major.minor.revision (default: latest)"`
}

type SearchArtifactsInput struct {
	Query   string `json:"query" jsonschema:"Search query (supports FTS5 syntax: AND, OR, NOT, prefix*)"`
	Version string `json:"version,omitempty" jsonschema:"Version major.minor.revision (default: latest)"`
}

// --- Handlers ---

func (t *EntityTools) CommitChanges(ctx context.Context, _ *mcp.CallToolRequest, input CommitChangesInput) (*mcp.CallToolResult, any, error) {
	ps, errResult := requireProject(t.Session)
	if errResult != nil {
		return errResult, nil, nil
	}
	pv, err := resolveVersion(ctx, ps, input.Version)
	if err != nil {
		return toolError("Failed to resolve version: %v", err), nil, nil
	}

	changes := models.ProjectChanges{
		AddedArtifacts:      artifactModels(input.AddedArtifacts),
		ModifiedArtifacts:   artifactModels(input.ModifiedArtifacts),
		RemovedArtifacts:    artifactModels(input.RemovedArtifacts),
		AddedTraces:         traceModels(input.AddedTraces),
		ModifiedTraces:      traceModels(input.ModifiedTraces),
		RemovedTraces:       traceModels(input.RemovedTraces),
		UpdateDefaultLayout: input.UpdateDefaultLayout,
	}
	out, err := t.Coordinator.Commit(ctx, ps, pv, changes, actorOr(input.Actor), commit.Options{RequireLatest: input.RequireLatest})
	if err != nil {
		return toolError("Failed to commit changes: %v", err), nil, nil
	}
	return toolJSON(out)
}

func (t *EntityTools) SetCompleteSet(ctx context.Context, _ *mcp.CallToolRequest, input SetCompleteSetInput) (*mcp.CallToolResult, any, error) {
	ps, errResult := requireProject(t.Session)
	if errResult != nil {
		return errResult, nil, nil
	}
	pv, err := resolveVersion(ctx, ps, input.Version)
	if err != nil {
		return toolError("Failed to resolve version: %v", err), nil, nil
	}

	out, err := t.Coordinator.SetEntitiesAsCompleteSet(ctx, ps, pv,
		artifactModels(input.Artifacts), traceModels(input.Traces), actorOr(input.Actor))
	if err != nil {
		return toolError("Failed to set complete set: %v", err), nil, nil
	}
	return toolJSON(out)
}

func (t *EntityTools) GetEntities(ctx context.Context, _ *mcp.CallToolRequest, input GetEntitiesInput) (*mcp.CallToolResult, any, error) {
	ps, pv, errResult := t.projectVersion(ctx, input.Version)
	if errResult != nil {
		return errResult, nil, nil
	}

	if input.AllRecords {
		return t.allRecords(ctx, ps, input.Kind)
	}

	switch models.EntityKind(input.Kind) {
	case models.KindArtifact, "":
		arts, err := ps.Artifacts.EntitiesAtVersion(ctx, pv)
		if err != nil {
			return toolError("Failed to read artifacts: %v", err), nil, nil
		}
		return toolJSON(nonNil(arts))
	case models.KindTraceLink:
		traces, err := ps.Traces.EntitiesAtVersion(ctx, pv)
		if err != nil {
			return toolError("Failed to read trace links: %v", err), nil, nil
		}
		return toolJSON(nonNil(traces))
	}
	return unknownKind(input.Kind), nil, nil
}

func (t *EntityTools) GetEntity(ctx context.Context, _ *mcp.CallToolRequest, input GetEntityInput) (*mcp.CallToolResult, any, error) {
	if input.ID == "" {
		return toolError("Entity id is required"), nil, nil
	}
	ps, pv, errResult := t.projectVersion(ctx, input.Version)
	if errResult != nil {
		return errResult, nil, nil
	}

	var (
		rec     any
		present bool
		err     error
	)
	switch models.EntityKind(input.Kind) {
	case models.KindArtifact, "":
		var r *models.VersionRecord[models.Artifact]
		r, err = ps.Artifacts.EntityAtVersion(ctx, pv, input.ID)
		rec, present = r, r != nil
	case models.KindTraceLink:
		var r *models.VersionRecord[models.TraceLink]
		r, err = ps.Traces.EntityAtVersion(ctx, pv, input.ID)
		rec, present = r, r != nil
	default:
		return unknownKind(input.Kind), nil, nil
	}
	if err != nil {
		return toolError("Failed to read entity: %v", err), nil, nil
	}
	if !present {
		return toolText("Entity " + input.ID + " does not exist at version " + pv.String() + "."), nil, nil
	}
	return toolJSON(rec)
}

func (t *EntityTools) EntityHistory(ctx context.Context, _ *mcp.CallToolRequest, input EntityHistoryInput) (*mcp.CallToolResult, any, error) {
	if input.ID == "" {
		return toolError("Entity id is required"), nil, nil
	}
	ps, errResult := requireProject(t.Session)
	if errResult != nil {
		return errResult, nil, nil
	}

	switch models.EntityKind(input.Kind) {
	case models.KindArtifact, "":
		history, err := ps.Artifacts.History(ctx, input.ID)
		if err != nil {
			return toolError("Failed to read history: %v", err), nil, nil
		}
		return toolJSON(history)
	case models.KindTraceLink:
		history, err := ps.Traces.History(ctx, input.ID)
		if err != nil {
			return toolError("Failed to read history: %v", err), nil, nil
		}
		return toolJSON(history)
	}
	return unknownKind(input.Kind), nil, nil
}

func (t *EntityTools) GetDelta(ctx context.Context, _ *mcp.CallToolRequest, input GetDeltaInput) (*mcp.CallToolResult, any, error) {
	ps, target, errResult := t.projectVersion(ctx, input.Target)
	if errResult != nil {
		return errResult, nil, nil
	}
	var (
		baseline models.ProjectVersion
		err      error
	)
	if input.Baseline == "" {
		baseline, err = ps.PreviousVersion(ctx, target)
	} else {
		baseline, err = resolveVersion(ctx, ps, input.Baseline)
	}
	if err != nil {
		return toolError("Failed to resolve baseline: %v", err), nil, nil
	}

	delta, err := ps.Delta(ctx, baseline, target)
	if err != nil {
		return toolError("Failed to compute delta: %v", err), nil, nil
	}
	return toolJSON(delta)
}

func (t *EntityTools) CountEntities(ctx context.Context, _ *mcp.CallToolRequest, input VersionInput) (*mcp.CallToolResult, any, error) {
	ps, pv, errResult := t.projectVersion(ctx, input.Version)
	if errResult != nil {
		return errResult, nil, nil
	}
	artifacts, err := ps.Artifacts.CountInVersion(ctx, pv)
	if err != nil {
		return toolError("Failed to count artifacts: %v", err), nil, nil
	}
	traces, err := ps.Traces.CountInVersion(ctx, pv)
	if err != nil {
		return toolError("Failed to count trace links: %v", err), nil, nil
	}
	return toolJSON(map[string]any{
		"version":     pv.String(),
		"artifacts":   artifacts,
		"trace_links": traces,
	})
}

func (t *EntityTools) ListCommitErrors(ctx context.Context, _ *mcp.CallToolRequest, input VersionInput) (*mcp.CallToolResult, any, error) {
	ps, pv, errResult := t.projectVersion(ctx, input.Version)
	if errResult != nil {
		return errResult, nil, nil
	}
	errs, err := ps.ListCommitErrors(ctx, pv)
	if err != nil {
		return toolError("Failed to list commit errors: %v", err), nil, nil
	}
	return toolJSON(nonNil(errs))
}

func (t *EntityTools) SearchArtifacts(ctx context.Context, _ *mcp.CallToolRequest, input SearchArtifactsInput) (*mcp.CallToolResult, any, error) {
	if input.Query == "" {
		return toolError("Search query is required"), nil, nil
	}
	ps, pv, errResult := t.projectVersion(ctx, input.Version)
	if errResult != nil {
		return errResult, nil, nil
	}
	arts, err := ps.SearchArtifacts(ctx, pv, input.Query)
	if err != nil {
		return toolError("Search failed: %v", err), nil, nil
	}
	return toolJSON(nonNil(arts))
}

func (t *EntityTools) ListTraceMatrices(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, any, error) {
	ps, errResult := requireProject(t.Session)
	if errResult != nil {
		return errResult, nil, nil
	}
	types, err := ps.ListArtifactTypes(ctx)
	if err != nil {
		return toolError("Failed to list artifact types: %v", err), nil, nil
	}
	matrices, err := ps.ListTraceMatrices(ctx)
	if err != nil {
		return toolError("Failed to list trace matrices: %v", err), nil, nil
	}
	return toolJSON(map[string]any{
		"artifact_types": nonNil(types),
		"trace_matrices": nonNil(matrices),
	})
}

// --- Helpers ---

func (t *EntityTools) allRecords(ctx context.Context, ps *storage.ProjectStore, kind string) (*mcp.CallToolResult, any, error) {
	switch models.EntityKind(kind) {
	case models.KindArtifact, "":
		records, err := ps.Artifacts.EntitiesAtProject(ctx)
		if err != nil {
			return toolError("Failed to read artifact records: %v", err), nil, nil
		}
		return toolJSON(nonNil(records))
	case models.KindTraceLink:
		records, err := ps.Traces.EntitiesAtProject(ctx)
		if err != nil {
			return toolError("Failed to read trace link records: %v", err), nil, nil
		}
		return toolJSON(nonNil(records))
	}
	return unknownKind(kind), nil, nil
}

func (t *EntityTools) projectVersion(ctx context.Context, version string) (*storage.ProjectStore, models.ProjectVersion, *mcp.CallToolResult) {
	return projectVersion(ctx, t.Session, version)
}

func projectVersion(ctx context.Context, sess *session.Session, version string) (*storage.ProjectStore, models.ProjectVersion, *mcp.CallToolResult) {
	ps, errResult := requireProject(sess)
	if errResult != nil {
		return nil, models.ProjectVersion{}, errResult
	}
	pv, err := resolveVersion(ctx, ps, version)
	if err != nil {
		return nil, models.ProjectVersion{}, toolError("Failed to resolve version: %v", err)
	}
	return ps, pv, nil
}

func artifactModels(in []ArtifactInput) []models.Artifact {
	out := make([]models.Artifact, len(in))
	for i, a := range in {
		out[i] = a.model()
	}
	return out
}

func traceModels(in []TraceInput) []models.TraceLink {
	out := make([]models.TraceLink, len(in))
	for i, t := range in {
		out[i] = t.model()
	}
	return out
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func unknownKind(kind string) *mcp.CallToolResult {
	return toolError("Unknown entity kind %q (use artifact or trace_link)", kind)
}
