package storage

import (
	"context"
	"fmt"
	"maps"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/pkg/errors"

	"github.com/wagnerlima/memory-cloud/trace-store/internal/models"
)

// EntityKind is what VersionedStore needs to know about one kind of entity:
// how it is identified, when two states are the same content, and which
// checks and bookkeeping go with a commit.
type EntityKind[T any] interface {
	Kind() models.EntityKind

	// ID returns the base entity id carried by e, if any.
	ID(e T) string
	WithID(e T, id string) T

	// Label names e in commit errors and logs.
	Label(e T) string

	// Identify returns the natural key of e as of pv, used to find its base
	// entity when e carries no id. Returns a rejection when e cannot be
	// identified.
	Identify(ctx context.Context, q querier, pv models.ProjectVersion, e T) (string, error)

	// Key returns the natural key of a prepared or stored entity. It is
	// stored with every present record so keys resolve per version.
	Key(e T) string

	// Prepare validates and normalizes e before it is committed at pv.
	// Rejections become commit errors; any other error aborts the commit.
	Prepare(ctx context.Context, q querier, pv models.ProjectVersion, e T) (T, error)

	// Equal reports whether a and b hold the same content. Ids are ignored.
	Equal(a, b T) bool

	// AfterCommit maintains kind-specific bookkeeping for a written record.
	AfterCommit(ctx context.Context, q querier, rec *models.VersionRecord[T]) error

	// SearchText returns the text indexed for full-text search next to Key.
	SearchText(e T) string
}

// rejection marks an entity-level failure: the entity is skipped and a
// commit error recorded, the rest of the batch proceeds.
type rejection struct {
	msg string
}

func (r *rejection) Error() string { return r.msg }

func rejectf(format string, args ...any) error {
	return &rejection{msg: fmt.Sprintf(format, args...)}
}

func isRejection(err error) (*rejection, bool) {
	var r *rejection
	ok := errors.As(err, &r)
	return r, ok
}

func validationRejection(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Field(), fe.Tag()))
	}
	return rejectf("invalid: %s", strings.Join(msgs, ", "))
}

// --- artifacts ---

type artifactKind struct {
	validate *validator.Validate
}

func (artifactKind) Kind() models.EntityKind { return models.KindArtifact }

func (artifactKind) ID(a models.Artifact) string { return a.ID }

func (artifactKind) WithID(a models.Artifact, id string) models.Artifact {
	a.ID = id
	return a
}

func (artifactKind) Label(a models.Artifact) string {
	if a.Name != "" {
		return a.Name
	}
	return a.ID
}

func (artifactKind) Identify(_ context.Context, _ querier, _ models.ProjectVersion, a models.Artifact) (string, error) {
	name := strings.TrimSpace(a.Name)
	if name == "" {
		return "", rejectf("artifact has no name")
	}
	return name, nil
}

func (k artifactKind) Prepare(_ context.Context, _ querier, _ models.ProjectVersion, a models.Artifact) (models.Artifact, error) {
	a.Name = strings.TrimSpace(a.Name)
	a.Type = strings.TrimSpace(a.Type)
	if len(a.Attributes) == 0 {
		a.Attributes = nil
	}
	if err := k.validate.Struct(a); err != nil {
		return a, validationRejection(err)
	}
	return a, nil
}

func (artifactKind) Equal(a, b models.Artifact) bool {
	return a.Name == b.Name &&
		a.Type == b.Type &&
		a.Summary == b.Summary &&
		a.Body == b.Body &&
		maps.Equal(a.Attributes, b.Attributes)
}

// AfterCommit registers the artifact's type with the project.
func (artifactKind) AfterCommit(ctx context.Context, q querier, rec *models.VersionRecord[models.Artifact]) error {
	if !rec.Present() {
		return nil
	}
	_, err := q.ExecContext(ctx, `INSERT OR IGNORE INTO artifact_types (name) VALUES (?)`, rec.Entity.Type)
	return errors.Wrap(err, "register artifact type")
}

func (artifactKind) Key(a models.Artifact) string { return a.Name }

func (artifactKind) SearchText(a models.Artifact) string {
	return strings.Join([]string{a.Type, a.Summary, a.Body}, " ")
}

// --- trace links ---

type traceKind struct {
	validate  *validator.Validate
	artifacts *VersionedStore[models.Artifact]
}

func (traceKind) Kind() models.EntityKind { return models.KindTraceLink }

func (traceKind) ID(t models.TraceLink) string { return t.ID }

func (traceKind) WithID(t models.TraceLink, id string) models.TraceLink {
	t.ID = id
	return t
}

func (traceKind) Label(t models.TraceLink) string {
	src, tgt := t.SourceName, t.TargetName
	if src == "" {
		src = t.SourceID
	}
	if tgt == "" {
		tgt = t.TargetID
	}
	if src == "" && tgt == "" {
		return t.ID
	}
	return src + " -> " + tgt
}

func traceKey(sourceID, targetID string) string {
	return sourceID + "->" + targetID
}

// endpoint resolves one trace endpoint to an artifact base id. Names
// resolve against the artifacts of pv.
func (k traceKind) endpoint(ctx context.Context, q querier, pv models.ProjectVersion, id, name, role string) (string, error) {
	artifacts := k.artifacts.withQuerier(q)
	if id != "" {
		ok, err := artifacts.baseExists(ctx, id)
		if err != nil {
			return "", err
		}
		if !ok {
			return "", rejectf("%s artifact %s does not exist", role, id)
		}
		return id, nil
	}
	if name == "" {
		return "", rejectf("%s artifact not given", role)
	}
	found, err := artifacts.baseAt(ctx, pv, strings.TrimSpace(name))
	if err != nil {
		return "", err
	}
	if found == "" {
		return "", rejectf("%s artifact %q does not exist", role, name)
	}
	return found, nil
}

func (k traceKind) resolveEndpoints(ctx context.Context, q querier, pv models.ProjectVersion, t models.TraceLink) (models.TraceLink, error) {
	var err error
	if t.SourceID, err = k.endpoint(ctx, q, pv, t.SourceID, t.SourceName, "source"); err != nil {
		return t, err
	}
	if t.TargetID, err = k.endpoint(ctx, q, pv, t.TargetID, t.TargetName, "target"); err != nil {
		return t, err
	}
	return t, nil
}

func (k traceKind) Identify(ctx context.Context, q querier, pv models.ProjectVersion, t models.TraceLink) (string, error) {
	t, err := k.resolveEndpoints(ctx, q, pv, t)
	if err != nil {
		return "", err
	}
	return traceKey(t.SourceID, t.TargetID), nil
}

// Prepare resolves endpoint names to ids and requires both endpoints to be
// present at pv. Stored links reference artifacts by id only.
func (k traceKind) Prepare(ctx context.Context, q querier, pv models.ProjectVersion, t models.TraceLink) (models.TraceLink, error) {
	t, err := k.resolveEndpoints(ctx, q, pv, t)
	if err != nil {
		return t, err
	}
	if t.SourceID == t.TargetID {
		return t, rejectf("trace link cannot connect artifact %s to itself", t.SourceID)
	}
	t.SourceName, t.TargetName = "", ""
	if err := k.validate.Struct(t); err != nil {
		return t, validationRejection(err)
	}

	artifacts := k.artifacts.withQuerier(q)
	for _, end := range [][2]string{{"source", t.SourceID}, {"target", t.TargetID}} {
		rec, err := artifacts.entityAt(ctx, pv, end[1])
		if err != nil {
			return t, err
		}
		if !rec.Present() {
			return t, rejectf("%s artifact %s is not present at version %s", end[0], end[1], pv)
		}
	}
	return t, nil
}

func (traceKind) Equal(a, b models.TraceLink) bool {
	return a.SourceID == b.SourceID &&
		a.TargetID == b.TargetID &&
		a.TraceType == b.TraceType &&
		a.ApprovalStatus == b.ApprovalStatus &&
		a.Score == b.Score &&
		a.Explanation == b.Explanation &&
		a.Visible == b.Visible
}

// AfterCommit records the (source type, target type) pair in the trace matrix.
func (k traceKind) AfterCommit(ctx context.Context, q querier, rec *models.VersionRecord[models.TraceLink]) error {
	if !rec.Present() {
		return nil
	}
	artifacts := k.artifacts.withQuerier(q)
	src, err := artifacts.entityAt(ctx, rec.Version, rec.Entity.SourceID)
	if err != nil {
		return err
	}
	tgt, err := artifacts.entityAt(ctx, rec.Version, rec.Entity.TargetID)
	if err != nil {
		return err
	}
	if !src.Present() || !tgt.Present() {
		return nil
	}
	_, err = q.ExecContext(ctx,
		`INSERT OR IGNORE INTO trace_matrices (source_type, target_type) VALUES (?, ?)`,
		src.Entity.Type, tgt.Entity.Type,
	)
	return errors.Wrap(err, "register trace matrix")
}

func (traceKind) Key(t models.TraceLink) string { return traceKey(t.SourceID, t.TargetID) }

func (traceKind) SearchText(t models.TraceLink) string { return t.Explanation }
