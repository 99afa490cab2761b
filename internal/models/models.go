package models

// Project represents a project entry in the meta database.
type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	DBPath      string `json:"db_path"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	UpdatedAt   string `json:"updated_at"`
}

// EntityKind names the kind of versioned entity a record belongs to.
type EntityKind string

const (
	KindArtifact  EntityKind = "artifact"
	KindTraceLink EntityKind = "trace_link"
)

// ModificationType tags a version record with the change it records.
type ModificationType string

const (
	Added    ModificationType = "added"
	Modified ModificationType = "modified"
	Removed  ModificationType = "removed"
)

// TraceType distinguishes hand-made links from generated candidates.
type TraceType string

const (
	TraceManual    TraceType = "manual"
	TraceGenerated TraceType = "generated"
)

// ApprovalStatus is the review state of a generated trace link.
type ApprovalStatus string

const (
	ApprovalUnreviewed ApprovalStatus = "unreviewed"
	ApprovalApproved   ApprovalStatus = "approved"
	ApprovalDeclined   ApprovalStatus = "declined"
)

// Artifact is the application-level payload of an artifact. ID is the
// base entity id; it is empty for artifacts that were never committed.
type Artifact struct {
	ID         string            `json:"id,omitempty" msgpack:"-"`
	Name       string            `json:"name" msgpack:"name" validate:"required,max=512"`
	Type       string            `json:"type" msgpack:"type" validate:"required,max=128"`
	Summary    string            `json:"summary,omitempty" msgpack:"summary"`
	Body       string            `json:"body,omitempty" msgpack:"body"`
	Attributes map[string]string `json:"attributes,omitempty" msgpack:"attributes"`
}

// TraceLink is the application-level payload of a directed trace link.
// The source traces up to the target: the target is the parent.
// Endpoints may be given by artifact id or by artifact name; names are
// resolved to ids when the link is committed.
type TraceLink struct {
	ID             string         `json:"id,omitempty" msgpack:"-"`
	SourceID       string         `json:"source_id,omitempty" msgpack:"source_id"`
	TargetID       string         `json:"target_id,omitempty" msgpack:"target_id"`
	SourceName     string         `json:"source_name,omitempty" msgpack:"source_name"`
	TargetName     string         `json:"target_name,omitempty" msgpack:"target_name"`
	TraceType      TraceType      `json:"trace_type" msgpack:"trace_type" validate:"required,oneof=manual generated"`
	ApprovalStatus ApprovalStatus `json:"approval_status" msgpack:"approval_status" validate:"required,oneof=unreviewed approved declined"`
	Score          float64        `json:"score" msgpack:"score" validate:"gte=0,lte=1"`
	Explanation    string         `json:"explanation,omitempty" msgpack:"explanation"`
	Visible        bool           `json:"visible" msgpack:"visible"`
}

// VersionRecord is an immutable snapshot of one base entity at one project
// version. Removed records carry the zero entity apart from its id.
type VersionRecord[T any] struct {
	ID               string           `json:"id"`
	BaseID           string           `json:"base_id"`
	Kind             EntityKind       `json:"kind"`
	Version          ProjectVersion   `json:"version"`
	ModificationType ModificationType `json:"modification_type"`
	Entity           T                `json:"entity"`
	CreatedBy        string           `json:"created_by"`
	CreatedAt        string           `json:"created_at"`
}

// Present reports whether the record leaves its entity in existence.
func (r *VersionRecord[T]) Present() bool {
	return r != nil && r.ModificationType != Removed
}

// CommitError records why one entity could not be committed.
type CommitError struct {
	ID         string     `json:"id"`
	VersionID  string     `json:"version_id"`
	Kind       EntityKind `json:"kind"`
	EntityID   string     `json:"entity_id,omitempty"`
	EntityName string     `json:"entity_name"`
	Message    string     `json:"message"`
	CreatedAt  string     `json:"created_at,omitempty"`
}

func (e *CommitError) Error() string {
	return string(e.Kind) + " " + e.EntityName + ": " + e.Message
}

// CommitResult is the outcome of committing one entity. Both fields are nil
// when the commit was a no-op.
type CommitResult[T any] struct {
	Record *VersionRecord[T] `json:"record,omitempty"`
	Err    *CommitError      `json:"error,omitempty"`
}

// EntityDelta is the difference between the resolved states of two versions.
// Added and Modified hold target states, Removed holds baseline states.
type EntityDelta[T any] struct {
	Added    []T `json:"added"`
	Modified []T `json:"modified"`
	Removed  []T `json:"removed"`
}

// Empty reports whether the delta holds no change.
func (d EntityDelta[T]) Empty() bool {
	return len(d.Added) == 0 && len(d.Modified) == 0 && len(d.Removed) == 0
}

// ProjectDelta groups the artifact and trace deltas between two versions.
type ProjectDelta struct {
	Baseline  ProjectVersion         `json:"baseline"`
	Target    ProjectVersion         `json:"target"`
	Artifacts EntityDelta[Artifact]  `json:"artifacts"`
	Traces    EntityDelta[TraceLink] `json:"traces"`
}

// ProjectChanges is a batch of desired entity states handed to a commit.
// Removals need only carry the id (or, for artifacts, the name).
type ProjectChanges struct {
	AddedArtifacts    []Artifact  `json:"added_artifacts,omitempty"`
	ModifiedArtifacts []Artifact  `json:"modified_artifacts,omitempty"`
	RemovedArtifacts  []Artifact  `json:"removed_artifacts,omitempty"`
	AddedTraces       []TraceLink `json:"added_traces,omitempty"`
	ModifiedTraces    []TraceLink `json:"modified_traces,omitempty"`
	RemovedTraces     []TraceLink `json:"removed_traces,omitempty"`

	// UpdateDefaultLayout asks the coordinator to refresh the default view
	// layout once the commit has succeeded.
	UpdateDefaultLayout bool `json:"update_default_layout,omitempty"`
}

// CommittedChanges holds everything a commit actually recorded.
type CommittedChanges struct {
	Version   ProjectVersion             `json:"version"`
	Artifacts []VersionRecord[Artifact]  `json:"artifacts"`
	Traces    []VersionRecord[TraceLink] `json:"traces"`
	Errors    []CommitError              `json:"errors"`
}

// Empty reports whether the commit recorded nothing.
func (c *CommittedChanges) Empty() bool {
	return len(c.Artifacts) == 0 && len(c.Traces) == 0
}

// ChangeSummary lists committed base ids per kind and change type.
type ChangeSummary struct {
	ProjectID string                                       `json:"project_id"`
	Version   ProjectVersion                               `json:"version"`
	Changes   map[EntityKind]map[ModificationType][]string `json:"changes"`
}

// Summarize reduces committed changes to ids per kind and modification type.
func (c *CommittedChanges) Summarize() ChangeSummary {
	s := ChangeSummary{
		ProjectID: c.Version.ProjectID,
		Version:   c.Version,
		Changes:   make(map[EntityKind]map[ModificationType][]string),
	}
	add := func(kind EntityKind, mod ModificationType, id string) {
		if s.Changes[kind] == nil {
			s.Changes[kind] = make(map[ModificationType][]string)
		}
		s.Changes[kind][mod] = append(s.Changes[kind][mod], id)
	}
	for _, r := range c.Artifacts {
		add(KindArtifact, r.ModificationType, r.BaseID)
	}
	for _, r := range c.Traces {
		add(KindTraceLink, r.ModificationType, r.BaseID)
	}
	return s
}
